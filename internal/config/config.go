package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/xsentiment/sentiment-bot/internal/models"
	"github.com/xsentiment/sentiment-bot/internal/weighting"
)

// LLM providers
const (
	ProviderOpenRouter = "openrouter"
	ProviderAnthropic  = "anthropic"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port      string `yaml:"port" validate:"required"`
	Debug     bool   `yaml:"debug"`
	LogFormat string `yaml:"log_format" validate:"oneof=json text"`

	// Schedule configuration
	ScheduleHour   int    `yaml:"schedule_hour" validate:"gte=0,lte=23"`
	ScheduleMinute int    `yaml:"schedule_minute" validate:"gte=0,lte=59"`
	TimeZone       string `yaml:"timezone" validate:"required"`
	LookbackHours  int    `yaml:"lookback_hours" validate:"gt=0"`

	// What to aggregate
	Topics              []string `yaml:"topics" validate:"required,min=1"`
	AggregateAlgorithms []string `yaml:"aggregate_algorithms" validate:"dive,required"`

	// Storage configuration
	DataDir          string `yaml:"data_dir" validate:"required"`
	StorageAccount   string `yaml:"storage_account"`
	StorageContainer string `yaml:"storage_container"`

	// Notification configuration
	TeamsWebhookURL    string  `yaml:"teams_webhook_url" validate:"omitempty,url"`
	NotificationEmail  string  `yaml:"notification_email" validate:"omitempty,email"`
	SMTPHost           string  `yaml:"smtp_host"`
	SMTPPort           int     `yaml:"smtp_port" validate:"gt=0"`
	SMTPUsername       string  `yaml:"smtp_username"`
	SMTPPassword       string  `yaml:"-"`
	FallbackAlertRatio float64 `yaml:"fallback_alert_ratio" validate:"gte=0,lte=1"`

	// X API collection
	XBearerToken      string `yaml:"-"`
	XAPIBaseURL       string `yaml:"x_api_base_url" validate:"required,url"`
	CollectMaxResults int    `yaml:"collect_max_results" validate:"gte=10,lte=100"`
	CollectMaxPages   int    `yaml:"collect_max_pages" validate:"gte=1"`
	TopicDelaySeconds int    `yaml:"topic_delay_seconds" validate:"gte=0"`

	// Scoring
	MaxAPICallsPerRun int `yaml:"max_api_calls_per_run" validate:"gte=0"`
	AnalysisWorkers   int `yaml:"analysis_workers" validate:"gte=1"`

	Sentiment SentimentConfig `yaml:"sentiment"`
	Weighting WeightingConfig `yaml:"weighting"`

	// Path of the YAML file the configuration was overlaid with, if any
	ConfigFile string `yaml:"-"`
}

// SentimentConfig selects and tunes the sentiment classifiers
type SentimentConfig struct {
	Algorithm       string    `yaml:"algorithm" validate:"required"`
	BullishKeywords []string  `yaml:"bullish_keywords"`
	BearishKeywords []string  `yaml:"bearish_keywords"`
	LLM             LLMConfig `yaml:"llm"`
}

// LLMConfig configures the remote language model classifier
type LLMConfig struct {
	Provider          string  `yaml:"provider" validate:"oneof=openrouter anthropic"`
	Model             string  `yaml:"model" validate:"required"`
	BaseURL           string  `yaml:"base_url" validate:"omitempty,url"`
	OpenRouterAPIKey  string  `yaml:"-"`
	AnthropicAPIKey   string  `yaml:"-"`
	TimeoutSeconds    int     `yaml:"timeout_seconds" validate:"gt=0"`
	MaxRetries        int     `yaml:"max_retries" validate:"gte=0"`
	RetryBaseDelayMS  int     `yaml:"retry_base_delay_ms" validate:"gte=0"`
	Temperature       float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	SystemPrompt      string  `yaml:"system_prompt"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
}

// WeightingConfig lists published weighting configs and the active version
type WeightingConfig struct {
	Version string                   `yaml:"version" validate:"required"`
	Configs []models.WeightingConfig `yaml:"configs"`
}

// Load loads configuration from the optional CONFIG_FILE and environment variables.
// Environment variables win over the file.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
		cfg.ConfigFile = path
	}

	cfg.overlayEnv()

	// Validate required configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Port:      "8080",
		LogFormat: "json",

		ScheduleHour:   2,
		ScheduleMinute: 0,
		TimeZone:       "UTC",
		LookbackHours:  24,

		Topics: []string{string(models.TopicBitcoin), string(models.TopicMSTR), string(models.TopicBitcoinTreasuries)},

		DataDir:          "data",
		StorageContainer: "sentiment",

		SMTPPort:           587,
		FallbackAlertRatio: 0.5,

		XAPIBaseURL:       "https://api.twitter.com/2",
		CollectMaxResults: 100,
		CollectMaxPages:   1,
		TopicDelaySeconds: 3,

		MaxAPICallsPerRun: 1000,
		AnalysisWorkers:   4,

		Sentiment: SentimentConfig{
			LLM: LLMConfig{
				Provider:          ProviderOpenRouter,
				Model:             "openai/gpt-4o-mini",
				TimeoutSeconds:    30,
				MaxRetries:        3,
				RetryBaseDelayMS:  1000,
				Temperature:       0.3,
				RequestsPerSecond: 5,
			},
		},

		Weighting: WeightingConfig{
			Version: weighting.DefaultVersion,
		},
	}
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) overlayEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.Debug = getBoolEnv("DEBUG", c.Debug)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)

	c.ScheduleHour = getIntEnv("BATCH_SCHEDULE_HOUR", c.ScheduleHour)
	c.ScheduleMinute = getIntEnv("BATCH_SCHEDULE_MINUTE", c.ScheduleMinute)
	c.TimeZone = getEnv("TIMEZONE", c.TimeZone)
	c.LookbackHours = getIntEnv("LOOKBACK_HOURS", c.LookbackHours)

	c.Topics = getSliceEnv("TOPICS", c.Topics)
	c.AggregateAlgorithms = getSliceEnv("AGGREGATE_ALGORITHMS", c.AggregateAlgorithms)

	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.StorageAccount = getEnv("AZURE_STORAGE_ACCOUNT", c.StorageAccount)
	c.StorageContainer = getEnv("AZURE_STORAGE_CONTAINER", c.StorageContainer)

	c.TeamsWebhookURL = getEnv("TEAMS_WEBHOOK_URL", c.TeamsWebhookURL)
	c.NotificationEmail = getEnv("NOTIFICATION_EMAIL", c.NotificationEmail)
	c.SMTPHost = getEnv("SMTP_HOST", c.SMTPHost)
	c.SMTPPort = getIntEnv("SMTP_PORT", c.SMTPPort)
	c.SMTPUsername = getEnv("SMTP_USERNAME", c.SMTPUsername)
	c.SMTPPassword = getEnv("SMTP_PASSWORD", c.SMTPPassword)
	c.FallbackAlertRatio = getFloatEnv("FALLBACK_ALERT_RATIO", c.FallbackAlertRatio)

	c.XBearerToken = getEnv("X_BEARER_TOKEN", c.XBearerToken)
	c.XAPIBaseURL = getEnv("X_API_BASE_URL", c.XAPIBaseURL)
	c.CollectMaxResults = getIntEnv("COLLECT_MAX_RESULTS", c.CollectMaxResults)
	c.CollectMaxPages = getIntEnv("COLLECT_MAX_PAGES", c.CollectMaxPages)
	c.TopicDelaySeconds = getIntEnv("COLLECT_TOPIC_DELAY_SECONDS", c.TopicDelaySeconds)

	c.MaxAPICallsPerRun = getIntEnv("MAX_API_CALLS_PER_RUN", c.MaxAPICallsPerRun)
	c.AnalysisWorkers = getIntEnv("ANALYSIS_WORKERS", c.AnalysisWorkers)

	s := &c.Sentiment
	s.Algorithm = getEnv("SENTIMENT_ALGORITHM", s.Algorithm)

	llm := &c.Sentiment.LLM
	llm.Provider = getEnv("LLM_PROVIDER", llm.Provider)
	llm.Model = getEnv("LLM_MODEL", llm.Model)
	llm.BaseURL = getEnv("LLM_BASE_URL", llm.BaseURL)
	llm.OpenRouterAPIKey = getEnv("OPENROUTER_API_KEY", llm.OpenRouterAPIKey)
	llm.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", llm.AnthropicAPIKey)
	llm.TimeoutSeconds = getIntEnv("LLM_TIMEOUT_SECONDS", llm.TimeoutSeconds)
	llm.MaxRetries = getIntEnv("LLM_MAX_RETRIES", llm.MaxRetries)
	llm.RetryBaseDelayMS = getIntEnv("LLM_RETRY_BASE_DELAY_MS", llm.RetryBaseDelayMS)
	llm.Temperature = getFloatEnv("LLM_TEMPERATURE", llm.Temperature)
	llm.SystemPrompt = getEnv("LLM_SYSTEM_PROMPT", llm.SystemPrompt)
	llm.RequestsPerSecond = getFloatEnv("LLM_REQUESTS_PER_SECOND", llm.RequestsPerSecond)

	c.Weighting.Version = getEnv("WEIGHTING_VERSION", c.Weighting.Version)

	if len(c.AggregateAlgorithms) == 0 && s.Algorithm != "" {
		// Fallback scores carry the keyword id, so keyword is always aggregated too
		c.AggregateAlgorithms = []string{s.Algorithm}
		if s.Algorithm != "keyword" {
			c.AggregateAlgorithms = append(c.AggregateAlgorithms, "keyword")
		}
	}
}

func (c *Config) validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				if fe.Namespace() == "Config.Sentiment.Algorithm" {
					return fmt.Errorf("SENTIMENT_ALGORITHM must be set")
				}
			}
		}
		return err
	}

	if _, err := c.TopicList(); err != nil {
		return err
	}

	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return fmt.Errorf("TIMEZONE %q is not a valid location: %w", c.TimeZone, err)
	}

	if c.UsesLLM() && c.LLMAPIKey() == "" {
		return fmt.Errorf("an API key for LLM_PROVIDER %q is required when the llm algorithm is used", c.Sentiment.LLM.Provider)
	}

	if c.NotificationEmail != "" {
		if c.SMTPHost == "" || c.SMTPUsername == "" || c.SMTPPassword == "" {
			return fmt.Errorf("SMTP configuration is required when NOTIFICATION_EMAIL is set")
		}
	}

	if _, err := c.WeightingRegistry(); err != nil {
		return err
	}

	return nil
}

// TopicList parses the configured topics
func (c *Config) TopicList() ([]models.Topic, error) {
	topics := make([]models.Topic, 0, len(c.Topics))
	for _, name := range c.Topics {
		topic, err := models.ParseTopic(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		topics = append(topics, topic)
	}
	return topics, nil
}

// Location returns the schedule time zone
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// UsesLLM reports whether the llm algorithm is requested for scoring or aggregation
func (c *Config) UsesLLM() bool {
	if c.Sentiment.Algorithm == "llm" {
		return true
	}
	for _, alg := range c.AggregateAlgorithms {
		if alg == "llm" {
			return true
		}
	}
	return false
}

// LLMAPIKey returns the key of the configured provider
func (c *Config) LLMAPIKey() string {
	if c.Sentiment.LLM.Provider == ProviderAnthropic {
		return c.Sentiment.LLM.AnthropicAPIKey
	}
	return c.Sentiment.LLM.OpenRouterAPIKey
}

// WeightingRegistry publishes the default config plus every config from the file and
// checks that the active version exists.
func (c *Config) WeightingRegistry() (*weighting.Registry, error) {
	registry := weighting.NewRegistry()
	for _, wc := range c.Weighting.Configs {
		if err := registry.Publish(wc); err != nil {
			return nil, fmt.Errorf("weighting config %q: %w", wc.Version, err)
		}
	}
	if _, ok := registry.Get(c.Weighting.Version); !ok {
		return nil, fmt.Errorf("WEIGHTING_VERSION %q has no published config (have %v)", c.Weighting.Version, registry.Versions())
	}
	return registry, nil
}

// Calculator returns the calculator of the active weighting version
func (c *Config) Calculator() (*weighting.Calculator, error) {
	registry, err := c.WeightingRegistry()
	if err != nil {
		return nil, err
	}
	return registry.Calculator(c.Weighting.Version)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
