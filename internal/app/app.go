package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/xsentiment/sentiment-bot/internal/aggregation"
	"github.com/xsentiment/sentiment-bot/internal/analysis"
	"github.com/xsentiment/sentiment-bot/internal/botdetect"
	"github.com/xsentiment/sentiment-bot/internal/collector"
	"github.com/xsentiment/sentiment-bot/internal/config"
	"github.com/xsentiment/sentiment-bot/internal/models"
	"github.com/xsentiment/sentiment-bot/internal/notifications"
	"github.com/xsentiment/sentiment-bot/internal/pipeline"
	"github.com/xsentiment/sentiment-bot/internal/sentiment"
	"github.com/xsentiment/sentiment-bot/internal/storage"
	"github.com/xsentiment/sentiment-bot/internal/weighting"
)

// App holds the wired services shared by the bot and the CLI
type App struct {
	Config    *config.Config
	Topics    []models.Topic
	Repo      storage.Repository
	Blobs     storage.BlobStore
	Sentiment *sentiment.Service
	Analysis  *analysis.Service
	Collector *collector.Collector
	Engine    *aggregation.Engine
	Weighting *weighting.Calculator
	Notifier  *notifications.Service
	Pipeline  *pipeline.Service
}

// New opens storage and wires every service from cfg
func New(ctx context.Context, cfg *config.Config, clock clockwork.Clock) (*App, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	topics, err := cfg.TopicList()
	if err != nil {
		return nil, err
	}

	calc, err := cfg.Calculator()
	if err != nil {
		return nil, err
	}

	repo, err := storage.NewBadgerRepository(filepath.Join(cfg.DataDir, "db"))
	if err != nil {
		return nil, err
	}

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		repo.Close()
		return nil, err
	}

	a := &App{
		Config:    cfg,
		Topics:    topics,
		Repo:      repo,
		Blobs:     blobs,
		Weighting: calc,
		Sentiment: NewSentimentService(cfg, clock),
		Notifier:  notifications.NewService(cfg),
	}

	a.Analysis = analysis.NewService(repo, a.Sentiment, botdetect.NewEstimator(), clock, analysis.Config{
		Algorithm:   cfg.Sentiment.Algorithm,
		MaxAPICalls: cfg.MaxAPICallsPerRun,
		Workers:     cfg.AnalysisWorkers,
	})

	a.Collector = collector.New(repo, collector.Config{
		BaseURL:     cfg.XAPIBaseURL,
		BearerToken: cfg.XBearerToken,
		MaxResults:  cfg.CollectMaxResults,
		MaxPages:    cfg.CollectMaxPages,
		TopicDelay:  time.Duration(cfg.TopicDelaySeconds) * time.Second,
	}, clock)
	if !a.Collector.IsEnabled() {
		logrus.Warn("X_BEARER_TOKEN not set, collection will be skipped")
	}

	a.Engine = aggregation.NewEngine(repo, calc, a.Sentiment, clock)

	var notifier notifications.NotificationInterface
	if a.Notifier.Enabled() {
		notifier = a.Notifier
	} else {
		logrus.Info("No notification channel configured")
	}

	a.Pipeline = pipeline.NewService(repo, blobs, a.Collector, a.Analysis, a.Engine, notifier, clock, pipeline.Options{
		Topics:             topics,
		Algorithms:         cfg.AggregateAlgorithms,
		LookbackHours:      cfg.LookbackHours,
		FallbackAlertRatio: cfg.FallbackAlertRatio,
		WeightingVersion:   calc.Version(),
		WeightingFormulas:  calc.Describe(),
	})

	logrus.WithFields(logrus.Fields{
		"algorithm":  cfg.Sentiment.Algorithm,
		"aggregate":  cfg.AggregateAlgorithms,
		"weighting":  calc.Version(),
		"topics":     topics,
		"analyzers":  a.Sentiment.Algorithms(),
		"data_dir":   cfg.DataDir,
		"azure_blob": cfg.StorageAccount != "",
	}).Info("Services initialized")

	return a, nil
}

// Close releases storage
func (a *App) Close() error {
	return a.Repo.Close()
}

// NewSentimentService registers the keyword analyzer and, when configured, the LLM analyzer
func NewSentimentService(cfg *config.Config, clock clockwork.Clock) *sentiment.Service {
	keyword := sentiment.NewKeywordAnalyzer(cfg.Sentiment.BullishKeywords, cfg.Sentiment.BearishKeywords)
	if !cfg.UsesLLM() {
		return sentiment.NewService(keyword, clock)
	}

	llm := cfg.Sentiment.LLM
	completer := NewCompleter(cfg)
	analyzer := sentiment.NewLLMAnalyzer(completer, sentiment.LLMConfig{
		Model:          llm.Model,
		SystemPrompt:   llm.SystemPrompt,
		Timeout:        time.Duration(llm.TimeoutSeconds) * time.Second,
		MaxRetries:     llm.MaxRetries,
		RetryBaseDelay: time.Duration(llm.RetryBaseDelayMS) * time.Millisecond,
	}, clock)

	logrus.Infof("LLM analyzer enabled via %s (model %s)", completer.Name(), llm.Model)
	return sentiment.NewService(keyword, clock, analyzer)
}

// NewCompleter returns the chat completion client of the configured provider
func NewCompleter(cfg *config.Config) sentiment.Completer {
	llm := cfg.Sentiment.LLM
	if llm.Provider == config.ProviderAnthropic {
		return sentiment.NewAnthropicCompleter(sentiment.AnthropicConfig{
			BaseURL:           llm.BaseURL,
			APIKey:            llm.AnthropicAPIKey,
			Model:             llm.Model,
			Temperature:       llm.Temperature,
			RequestsPerSecond: llm.RequestsPerSecond,
		})
	}
	return sentiment.NewOpenRouterCompleter(sentiment.OpenRouterConfig{
		BaseURL:           llm.BaseURL,
		APIKey:            llm.OpenRouterAPIKey,
		Model:             llm.Model,
		Temperature:       llm.Temperature,
		RequestsPerSecond: llm.RequestsPerSecond,
	})
}

func newBlobStore(ctx context.Context, cfg *config.Config) (storage.BlobStore, error) {
	if cfg.StorageAccount != "" {
		blobs, err := storage.NewAzureStorage(ctx, cfg.StorageAccount, cfg.StorageContainer)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Azure storage: %w", err)
		}
		return blobs, nil
	}
	return storage.NewLocalStorage(filepath.Join(cfg.DataDir, "export"))
}
