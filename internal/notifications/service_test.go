package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/xsentiment/sentiment-bot/internal/config"
	"github.com/xsentiment/sentiment-bot/internal/models"
)

type fakeMailer struct {
	sent []*gomail.Message
	err  error
}

func (f *fakeMailer) DialAndSend(m ...*gomail.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m...)
	return nil
}

func testReport() *models.DailyReport {
	day := time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)
	return &models.DailyReport{
		GeneratedAt:    day.Add(26 * time.Hour),
		Date:           day,
		BatchJobID:     "job-1",
		PostsCollected: 120,
		PostsAnalyzed:  110,
		FallbackCount:  3,
		Aggregates: []models.DailyAggregate{
			{Topic: models.TopicMSTR, AlgorithmID: "keyword", TotalPosts: 40, DominantSentiment: models.Bearish, WeightedScore: -0.25},
			{Topic: models.TopicBitcoin, AlgorithmID: "keyword", TotalPosts: 70, DominantSentiment: models.Bullish, WeightedScore: 0.4, BullishPercentage: 55.5},
		},
		EmptyCohorts:    []string{"BitcoinTreasuries/keyword"},
		WeightingConfig: "v1.0",
		WeightingFormulas: map[string]string{
			"version":    "v1.0",
			"influence":  "ln(1 + followers)",
			"visibility": "ln(1 + likes + 2*reposts + replies + quotes)",
		},
	}
}

func TestSendReport_Teams(t *testing.T) {
	var received TeamsMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	svc := NewService(&config.Config{TeamsWebhookURL: server.URL})
	require.NoError(t, svc.SendReport(context.Background(), testReport()))

	assert.Equal(t, "MessageCard", received.Type)
	assert.Equal(t, "Daily Sentiment Report - 2024-03-14", received.Title)
	require.Len(t, received.Sections, 4)
	assert.Equal(t, "Summary", received.Sections[0].ActivityTitle)
	// aggregates are listed by topic
	assert.Equal(t, "Bitcoin (keyword)", received.Sections[1].ActivityTitle)
	assert.Equal(t, "MSTR (keyword)", received.Sections[2].ActivityTitle)
	assert.Equal(t, "No Data", received.Sections[3].ActivityTitle)

	// formulas follow the version fact, sorted by name
	facts := received.Sections[0].Facts
	require.Len(t, facts, 7)
	assert.Equal(t, TeamsFact{Name: "Weighting Config", Value: "v1.0"}, facts[3])
	assert.Equal(t, TeamsFact{Name: "Weighting influence", Value: "ln(1 + followers)"}, facts[4])
	assert.Equal(t, TeamsFact{Name: "Weighting visibility", Value: "ln(1 + likes + 2*reposts + replies + quotes)"}, facts[5])
	assert.Equal(t, "Generated", facts[6].Name)
}

func TestSendReport_TeamsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	svc := NewService(&config.Config{TeamsWebhookURL: server.URL})
	err := svc.SendReport(context.Background(), testReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Teams")
}

func TestSendReport_Email(t *testing.T) {
	mailer := &fakeMailer{}
	svc := NewService(&config.Config{NotificationEmail: "ops@example.com", SMTPUsername: "bot@example.com"})
	svc.mailer = mailer

	require.NoError(t, svc.SendReport(context.Background(), testReport()))
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, []string{"ops@example.com"}, mailer.sent[0].GetHeader("To"))
	assert.Equal(t, []string{"Daily Sentiment Report - 2024-03-14 (2 aggregates)"}, mailer.sent[0].GetHeader("Subject"))
}

func TestSendReport_EmailError(t *testing.T) {
	svc := NewService(&config.Config{NotificationEmail: "ops@example.com"})
	svc.mailer = &fakeMailer{err: errors.New("smtp down")}

	err := svc.SendReport(context.Background(), testReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")
}

func TestBuildEmailBodies(t *testing.T) {
	svc := NewService(&config.Config{})
	report := testReport()

	html, err := svc.buildEmailHTML(report)
	require.NoError(t, err)
	assert.Contains(t, html, "Posts Collected:</strong> 120")
	assert.Contains(t, html, "0.400")
	assert.Contains(t, html, "55.5%")
	assert.Less(t, strings.Index(html, "<td>Bitcoin</td>"), strings.Index(html, "<td>MSTR</td>"))
	assert.Contains(t, html, "Weighting influence:</strong> ln(1 &#43; followers)")
	assert.NotContains(t, html, "Weighting version")

	text := svc.buildEmailText(report)
	assert.Contains(t, text, "Bitcoin (keyword): Bullish +0.400")
	assert.Contains(t, text, "MSTR (keyword): Bearish -0.250")
	assert.Contains(t, text, "No data: BitcoinTreasuries/keyword")
	assert.Contains(t, text, "Weighting visibility: ln(1 + likes + 2*reposts + replies + quotes)\n")
}

func TestSendAlert(t *testing.T) {
	var received TeamsMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	mailer := &fakeMailer{}
	svc := NewService(&config.Config{TeamsWebhookURL: server.URL, NotificationEmail: "ops@example.com"})
	svc.mailer = mailer

	alert := &models.Alert{ID: "a1", Type: "urgent", Title: "High classifier fallback rate", Message: "60% of posts used the keyword analyzer", CreatedAt: time.Now()}
	require.NoError(t, svc.SendAlert(context.Background(), alert))

	assert.Equal(t, "[URGENT] High classifier fallback rate", received.Title)
	assert.Equal(t, "ff8c00", received.ThemeColor)
	require.Len(t, mailer.sent, 1)
}

func TestEnabled(t *testing.T) {
	assert.False(t, NewService(&config.Config{}).Enabled())
	assert.True(t, NewService(&config.Config{TeamsWebhookURL: "http://example.com"}).Enabled())
}
