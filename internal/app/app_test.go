package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xsentiment/sentiment-bot/internal/config"
	"github.com/xsentiment/sentiment-bot/internal/models"
	"github.com/xsentiment/sentiment-bot/internal/storage"
)

var runAt = time.Date(2024, 4, 2, 6, 0, 0, 0, time.UTC)

const searchPage = `{
  "data": [
    {"id": "201", "text": "Bitcoin to the moon, time to buy", "author_id": "u1", "created_at": "2024-04-01T10:00:00Z",
     "public_metrics": {"retweet_count": 5, "like_count": 40, "reply_count": 1, "quote_count": 0}},
    {"id": "202", "text": "Bitcoin looks ready to crash", "author_id": "u2", "created_at": "2024-04-01T15:30:00Z",
     "public_metrics": {"retweet_count": 0, "like_count": 2, "reply_count": 0, "quote_count": 0}}
  ],
  "includes": {"users": [
    {"id": "u1", "username": "hodler", "name": "Hodler", "verified": true, "created_at": "2018-05-01T00:00:00Z",
     "public_metrics": {"followers_count": 25000, "following_count": 400}},
    {"id": "u2", "username": "bear", "name": "Bear", "created_at": "2020-05-01T00:00:00Z",
     "public_metrics": {"followers_count": 120, "following_count": 150}}
  ]},
  "meta": {"result_count": 2}
}`

// configEnv lists every variable config.Load reads
var configEnv = []string{
	"CONFIG_FILE", "PORT", "DEBUG", "LOG_FORMAT",
	"BATCH_SCHEDULE_HOUR", "BATCH_SCHEDULE_MINUTE", "TIMEZONE", "LOOKBACK_HOURS",
	"TOPICS", "AGGREGATE_ALGORITHMS",
	"DATA_DIR", "AZURE_STORAGE_ACCOUNT", "AZURE_STORAGE_CONTAINER",
	"TEAMS_WEBHOOK_URL", "NOTIFICATION_EMAIL", "SMTP_HOST", "SMTP_PORT", "SMTP_USERNAME", "SMTP_PASSWORD",
	"FALLBACK_ALERT_RATIO",
	"X_BEARER_TOKEN", "X_API_BASE_URL", "COLLECT_MAX_RESULTS", "COLLECT_MAX_PAGES", "COLLECT_TOPIC_DELAY_SECONDS",
	"MAX_API_CALLS_PER_RUN", "ANALYSIS_WORKERS",
	"SENTIMENT_ALGORITHM",
	"LLM_PROVIDER", "LLM_MODEL", "LLM_BASE_URL", "OPENROUTER_API_KEY", "ANTHROPIC_API_KEY",
	"LLM_TIMEOUT_SECONDS", "LLM_MAX_RETRIES", "LLM_RETRY_BASE_DELAY_MS", "LLM_TEMPERATURE",
	"LLM_SYSTEM_PROMPT", "LLM_REQUESTS_PER_SECOND",
	"WEIGHTING_VERSION",
}

// setEnv isolates config.Load from the host environment
func setEnv(t *testing.T, values map[string]string) {
	t.Helper()
	for _, key := range configEnv {
		t.Setenv(key, "")
	}
	t.Setenv("DATA_DIR", t.TempDir())
	for k, v := range values {
		t.Setenv(k, v)
	}
}

func loadApp(t *testing.T, clock clockwork.Clock) *App {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)

	a, err := New(context.Background(), cfg, clock)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })
	return a
}

func TestNew_KeywordOnly(t *testing.T) {
	setEnv(t, map[string]string{"SENTIMENT_ALGORITHM": "keyword"})

	a := loadApp(t, nil)
	assert.Equal(t, []string{"keyword"}, a.Sentiment.Algorithms())
	assert.Equal(t, models.AllTopics, a.Topics)
	assert.IsType(t, &storage.LocalStorage{}, a.Blobs)
	assert.False(t, a.Collector.IsEnabled())
	assert.False(t, a.Notifier.Enabled())
}

func TestNew_RegistersLLMAnalyzer(t *testing.T) {
	setEnv(t, map[string]string{
		"SENTIMENT_ALGORITHM": "llm",
		"OPENROUTER_API_KEY":  "key",
	})

	a := loadApp(t, nil)
	assert.ElementsMatch(t, []string{"keyword", "llm"}, a.Sentiment.Algorithms())
	assert.Equal(t, []string{"llm", "keyword"}, a.Config.AggregateAlgorithms)
}

func TestNewCompleter(t *testing.T) {
	tests := []struct {
		provider string
		want     string
	}{
		{provider: config.ProviderOpenRouter, want: "openrouter"},
		{provider: config.ProviderAnthropic, want: "anthropic"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			cfg := &config.Config{}
			cfg.Sentiment.LLM = config.LLMConfig{Provider: tt.provider, Model: "m", OpenRouterAPIKey: "k", AnthropicAPIKey: "k"}
			assert.Equal(t, tt.want, NewCompleter(cfg).Name())
		})
	}
}

func TestNew_RejectsUnpublishedWeightingVersion(t *testing.T) {
	setEnv(t, map[string]string{"SENTIMENT_ALGORITHM": "keyword"})
	cfg, err := config.Load()
	require.NoError(t, err)

	cfg.Weighting.Version = "v9.9"
	_, err = New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "v9.9")
}

func TestDailyRun_EndToEnd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "#Bitcoin", r.URL.Query().Get("query"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(searchPage))
	}))
	defer server.Close()

	setEnv(t, map[string]string{
		"SENTIMENT_ALGORITHM":         "keyword",
		"TOPICS":                      "Bitcoin",
		"X_BEARER_TOKEN":              "token",
		"X_API_BASE_URL":              server.URL,
		"COLLECT_TOPIC_DELAY_SECONDS": "0",
	})

	a := loadApp(t, clockwork.NewFakeClockAt(runAt))

	report, err := a.Pipeline.RunDaily(context.Background())
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), report.Date)
	assert.Equal(t, 2, report.PostsCollected)
	assert.Equal(t, 2, report.PostsAnalyzed)
	assert.Empty(t, report.EmptyCohorts)
	require.Len(t, report.Aggregates, 1)

	agg := report.Aggregates[0]
	assert.Equal(t, models.TopicBitcoin, agg.Topic)
	assert.Equal(t, "keyword", agg.AlgorithmID)
	assert.Equal(t, 2, agg.TotalPosts)
	assert.Equal(t, 1, agg.BullishCount)
	assert.Equal(t, 1, agg.BearishCount)
	// the verified, well-followed, engaged author outweighs the bearish post
	assert.Equal(t, models.Bullish, agg.DominantSentiment)
	assert.Equal(t, "v1.0", agg.WeightingConfigVersion)

	stored, err := a.Repo.ListDailyAggregates(storage.AggregateQuery{Topic: models.TopicBitcoin})
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	exported, err := a.Blobs.List(context.Background(), "aggregates/2024-04-01/")
	require.NoError(t, err)
	assert.Len(t, exported, 1)

	job, err := a.Repo.LatestBatchJob()
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, job.Status)
	assert.Empty(t, job.Errors)
}
