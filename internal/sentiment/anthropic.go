package sentiment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"

	"github.com/xsentiment/sentiment-bot/internal/metrics"
)

var errNoText = errors.New("no text content in response")

// AnthropicConfig configures the Messages API completer
type AnthropicConfig struct {
	BaseURL           string
	APIKey            string
	Model             string
	Temperature       float64
	MaxTokens         int64
	RequestsPerSecond float64
}

// AnthropicCompleter sends classification prompts through the Anthropic Messages API
type AnthropicCompleter struct {
	client      anthropic.Client
	model       string
	temperature float64
	maxTokens   int64
	limiter     *rate.Limiter
}

// NewAnthropicCompleter creates a completer. SDK retries are disabled since LLMAnalyzer owns the retry policy.
func NewAnthropicCompleter(cfg AnthropicConfig) *AnthropicCompleter {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 256
	}

	return &AnthropicCompleter{
		client:      anthropic.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
		limiter:     newLimiter(cfg.RequestsPerSecond),
	}
}

func (a *AnthropicCompleter) Name() string {
	return "anthropic"
}

func (a *AnthropicCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Temperature: anthropic.Float(a.temperature),
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			metrics.CompletionRequestsTotal.WithLabelValues(a.Name(), strconv.Itoa(apiErr.StatusCode)).Inc()
			return "", &StatusError{Provider: a.Name(), StatusCode: apiErr.StatusCode, Body: truncate(apiErr.Error(), 500)}
		}
		metrics.CompletionRequestsTotal.WithLabelValues(a.Name(), "transport_error").Inc()
		return "", fmt.Errorf("anthropic request failed: %w", err)
	}

	metrics.CompletionRequestsTotal.WithLabelValues(a.Name(), "200").Inc()

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("%w: anthropic: %w", ErrMalformedReply, errNoText)
	}

	return text.String(), nil
}
