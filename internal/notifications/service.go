package notifications

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"github.com/xsentiment/sentiment-bot/internal/config"
	"github.com/xsentiment/sentiment-bot/internal/models"
)

// mailSender is satisfied by *gomail.Dialer
type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Service handles sending notifications via various channels
type Service struct {
	config *config.Config
	client *resty.Client
	mailer mailSender
}

// Ensure Service implements NotificationInterface
var _ NotificationInterface = (*Service)(nil)

// TeamsMessage represents a Microsoft Teams message
type TeamsMessage struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	ThemeColor string         `json:"themeColor,omitempty"`
	Title      string         `json:"title"`
	Text       string         `json:"text"`
	Sections   []TeamsSection `json:"sections,omitempty"`
}

type TeamsSection struct {
	ActivityTitle    string      `json:"activityTitle,omitempty"`
	ActivitySubtitle string      `json:"activitySubtitle,omitempty"`
	ActivityText     string      `json:"activityText,omitempty"`
	Facts            []TeamsFact `json:"facts,omitempty"`
	Markdown         bool        `json:"markdown,omitempty"`
}

type TeamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// NewService creates a new notification service
func NewService(cfg *config.Config) *Service {
	return &Service{
		config: cfg,
		client: resty.New().SetTimeout(30 * time.Second),
		mailer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword),
	}
}

// Enabled reports whether any channel is configured
func (s *Service) Enabled() bool {
	return s.config.TeamsWebhookURL != "" || s.config.NotificationEmail != ""
}

// SendReport sends a report via configured notification channels
func (s *Service) SendReport(ctx context.Context, report *models.DailyReport) error {
	var errors []string

	// Send to Teams if configured
	if s.config.TeamsWebhookURL != "" {
		if err := s.postToTeams(ctx, s.buildTeamsMessage(report)); err != nil {
			logrus.Errorf("Failed to send Teams notification: %v", err)
			errors = append(errors, fmt.Sprintf("Teams: %v", err))
		} else {
			logrus.Info("Successfully sent report to Teams")
		}
	}

	// Send via email if configured
	if s.config.NotificationEmail != "" {
		if err := s.sendReportEmail(report); err != nil {
			logrus.Errorf("Failed to send email notification: %v", err)
			errors = append(errors, fmt.Sprintf("Email: %v", err))
		} else {
			logrus.Info("Successfully sent report via email")
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

// SendAlert sends an urgent alert notification
func (s *Service) SendAlert(ctx context.Context, alert *models.Alert) error {
	var errors []string

	if s.config.TeamsWebhookURL != "" {
		message := &TeamsMessage{
			Type:       "MessageCard",
			Context:    "https://schema.org/extensions",
			ThemeColor: alertColor(alert.Type),
			Title:      fmt.Sprintf("[%s] %s", strings.ToUpper(alert.Type), alert.Title),
			Text:       alert.Message,
		}
		if err := s.postToTeams(ctx, message); err != nil {
			logrus.Errorf("Failed to send Teams alert: %v", err)
			errors = append(errors, fmt.Sprintf("Teams: %v", err))
		}
	}

	if s.config.NotificationEmail != "" {
		m := s.newMessage(fmt.Sprintf("[%s] %s", strings.ToUpper(alert.Type), alert.Title))
		m.SetBody("text/plain", fmt.Sprintf("%s\n\nRaised: %s\n", alert.Message, alert.CreatedAt.Format("2006-01-02 15:04:05 UTC")))
		if err := s.mailer.DialAndSend(m); err != nil {
			logrus.Errorf("Failed to send alert email: %v", err)
			errors = append(errors, fmt.Sprintf("Email: %v", err))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("alert errors: %s", strings.Join(errors, "; "))
	}

	logrus.WithField("alert_type", alert.Type).Infof("Alert sent: %s", alert.Title)
	return nil
}

func (s *Service) postToTeams(ctx context.Context, message *TeamsMessage) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(message).
		Post(s.config.TeamsWebhookURL)

	if err != nil {
		return fmt.Errorf("failed to send Teams message: %w", err)
	}

	if resp.StatusCode() != 200 {
		return fmt.Errorf("Teams webhook returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	return nil
}

// sortedAggregates orders rows by topic then algorithm for display
func sortedAggregates(report *models.DailyReport) []models.DailyAggregate {
	aggs := append([]models.DailyAggregate(nil), report.Aggregates...)
	sort.SliceStable(aggs, func(i, j int) bool {
		if aggs[i].Topic != aggs[j].Topic {
			return aggs[i].Topic < aggs[j].Topic
		}
		return aggs[i].AlgorithmID < aggs[j].AlgorithmID
	})
	return aggs
}

func (s *Service) buildTeamsMessage(report *models.DailyReport) *TeamsMessage {
	message := &TeamsMessage{
		Type:    "MessageCard",
		Context: "https://schema.org/extensions",
		Title:   fmt.Sprintf("Daily Sentiment Report - %s", report.Date.Format("2006-01-02")),
		Text: fmt.Sprintf("Collected %d posts, analyzed %d, produced %d aggregates",
			report.PostsCollected, report.PostsAnalyzed, len(report.Aggregates)),
	}

	// Add summary section
	summary := []TeamsFact{
		{Name: "Posts Collected", Value: fmt.Sprintf("%d", report.PostsCollected)},
		{Name: "Posts Analyzed", Value: fmt.Sprintf("%d", report.PostsAnalyzed)},
		{Name: "Classifier Fallbacks", Value: fmt.Sprintf("%d", report.FallbackCount)},
		{Name: "Weighting Config", Value: report.WeightingConfig},
	}
	summary = append(summary, formulaFacts(report.WeightingFormulas)...)
	summary = append(summary, TeamsFact{Name: "Generated", Value: report.GeneratedAt.Format("2006-01-02 15:04:05 UTC")})
	message.Sections = append(message.Sections, TeamsSection{
		ActivityTitle: "Summary",
		Facts:         summary,
		Markdown:      true,
	})

	for _, agg := range sortedAggregates(report) {
		message.Sections = append(message.Sections, TeamsSection{
			ActivityTitle:    fmt.Sprintf("%s (%s)", agg.Topic, agg.AlgorithmID),
			ActivitySubtitle: fmt.Sprintf("**%s** %+.3f", agg.DominantSentiment, agg.WeightedScore),
			Facts: []TeamsFact{
				{Name: "Posts", Value: fmt.Sprintf("%d (%d authors)", agg.TotalPosts, agg.UniqueAuthors)},
				{Name: "Bullish / Bearish / Neutral", Value: fmt.Sprintf("%.1f%% / %.1f%% / %.1f%%",
					agg.BullishPercentage, agg.BearishPercentage, agg.NeutralPercentage)},
				{Name: "Bot Detection Rate", Value: fmt.Sprintf("%.1f%%", agg.BotDetectionRate)},
				{Name: "High Confidence", Value: fmt.Sprintf("%.1f%%", agg.HighConfidencePercentage)},
			},
			Markdown: true,
		})
	}

	if len(report.EmptyCohorts) > 0 {
		message.Sections = append(message.Sections, TeamsSection{
			ActivityTitle: "No Data",
			ActivityText:  strings.Join(report.EmptyCohorts, ", "),
		})
	}

	return message
}

// formulaFacts lists the weighting formulas by name, the version is already a fact of its own
func formulaFacts(formulas map[string]string) []TeamsFact {
	names := make([]string, 0, len(formulas))
	for name := range formulas {
		if name != "version" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	facts := make([]TeamsFact, 0, len(names))
	for _, name := range names {
		facts = append(facts, TeamsFact{Name: "Weighting " + name, Value: formulas[name]})
	}
	return facts
}

func (s *Service) newMessage(subject string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", s.config.SMTPUsername)
	m.SetHeader("To", s.config.NotificationEmail)
	m.SetHeader("Subject", subject)
	return m
}

func (s *Service) sendReportEmail(report *models.DailyReport) error {
	subject := fmt.Sprintf("Daily Sentiment Report - %s (%d aggregates)",
		report.Date.Format("2006-01-02"), len(report.Aggregates))

	htmlBody, err := s.buildEmailHTML(report)
	if err != nil {
		return fmt.Errorf("failed to build email HTML: %w", err)
	}

	// Create message
	m := s.newMessage(subject)
	m.SetBody("text/plain", s.buildEmailText(report))
	m.AddAlternative("text/html", htmlBody)

	if err := s.mailer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

const emailTemplate = `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Daily Sentiment Report</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        .header { background-color: #0078d4; color: white; padding: 20px; border-radius: 5px; }
        .summary { background-color: #f5f5f5; padding: 15px; margin: 20px 0; border-radius: 5px; }
        table { border-collapse: collapse; width: 100%; }
        th, td { border-bottom: 1px solid #ddd; padding: 8px; text-align: left; }
        .Bullish { color: #107c10; }
        .Bearish { color: #d13438; }
        .Neutral { color: #605e5c; }
    </style>
</head>
<body>
    <div class="header">
        <h1>Daily Sentiment Report</h1>
        <p>{{.Report.Date.Format "January 2, 2006"}} - generated {{.Report.GeneratedAt.Format "January 2, 2006 at 3:04 PM UTC"}}</p>
    </div>

    <div class="summary">
        <p><strong>Posts Collected:</strong> {{.Report.PostsCollected}}</p>
        <p><strong>Posts Analyzed:</strong> {{.Report.PostsAnalyzed}}</p>
        <p><strong>Classifier Fallbacks:</strong> {{.Report.FallbackCount}}</p>
        <p><strong>Weighting Config:</strong> {{.Report.WeightingConfig}}</p>
        {{range $name, $formula := .Report.WeightingFormulas}}{{if ne $name "version"}}
        <p><strong>Weighting {{$name}}:</strong> {{$formula}}</p>
        {{end}}{{end}}
    </div>

    {{if .Aggregates}}
    <table>
        <tr><th>Topic</th><th>Algorithm</th><th>Sentiment</th><th>Score</th><th>Posts</th><th>Bullish</th><th>Bearish</th><th>Neutral</th><th>Bots</th></tr>
        {{range .Aggregates}}
        <tr>
            <td>{{.Topic}}</td>
            <td>{{.AlgorithmID}}</td>
            <td class="{{.DominantSentiment}}">{{.DominantSentiment}}</td>
            <td>{{printf "%+.3f" .WeightedScore}}</td>
            <td>{{.TotalPosts}}</td>
            <td>{{printf "%.1f%%" .BullishPercentage}}</td>
            <td>{{printf "%.1f%%" .BearishPercentage}}</td>
            <td>{{printf "%.1f%%" .NeutralPercentage}}</td>
            <td>{{printf "%.1f%%" .BotDetectionRate}}</td>
        </tr>
        {{end}}
    </table>
    {{end}}

    {{if .Report.EmptyCohorts}}
    <p><strong>No data:</strong> {{range $i, $k := .Report.EmptyCohorts}}{{if $i}}, {{end}}{{$k}}{{end}}</p>
    {{end}}

    <hr>
    <p><small>This report was generated automatically by the Sentiment Bot.</small></p>
</body>
</html>
`

func (s *Service) buildEmailHTML(report *models.DailyReport) (string, error) {
	t, err := template.New("email").Parse(emailTemplate)
	if err != nil {
		return "", err
	}

	data := struct {
		Report     *models.DailyReport
		Aggregates []models.DailyAggregate
	}{report, sortedAggregates(report)}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

func (s *Service) buildEmailText(report *models.DailyReport) string {
	var text strings.Builder

	text.WriteString(fmt.Sprintf("Daily Sentiment Report - %s\n", report.Date.Format("2006-01-02")))
	text.WriteString(fmt.Sprintf("Generated: %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05 UTC")))

	text.WriteString("SUMMARY\n")
	text.WriteString("=======\n")
	text.WriteString(fmt.Sprintf("Posts Collected: %d\n", report.PostsCollected))
	text.WriteString(fmt.Sprintf("Posts Analyzed: %d\n", report.PostsAnalyzed))
	text.WriteString(fmt.Sprintf("Classifier Fallbacks: %d\n", report.FallbackCount))
	text.WriteString(fmt.Sprintf("Weighting Config: %s\n", report.WeightingConfig))
	for _, fact := range formulaFacts(report.WeightingFormulas) {
		text.WriteString(fmt.Sprintf("%s: %s\n", fact.Name, fact.Value))
	}

	if aggs := sortedAggregates(report); len(aggs) > 0 {
		text.WriteString("\nAGGREGATES\n")
		text.WriteString("==========\n")
		for _, agg := range aggs {
			text.WriteString(fmt.Sprintf("\n%s (%s): %s %+.3f\n", agg.Topic, agg.AlgorithmID, agg.DominantSentiment, agg.WeightedScore))
			text.WriteString(fmt.Sprintf("   Posts: %d | Authors: %d | Bots: %.1f%%\n", agg.TotalPosts, agg.UniqueAuthors, agg.BotDetectionRate))
			text.WriteString(fmt.Sprintf("   Bullish %.1f%% | Bearish %.1f%% | Neutral %.1f%%\n",
				agg.BullishPercentage, agg.BearishPercentage, agg.NeutralPercentage))
		}
	}

	if len(report.EmptyCohorts) > 0 {
		text.WriteString(fmt.Sprintf("\nNo data: %s\n", strings.Join(report.EmptyCohorts, ", ")))
	}

	text.WriteString("\n---\nThis report was generated automatically by the Sentiment Bot.\n")

	return text.String()
}

func alertColor(alertType string) string {
	switch alertType {
	case "critical":
		return "d13438"
	case "urgent":
		return "ff8c00"
	default:
		return "0078d4"
	}
}
