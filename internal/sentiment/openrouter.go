package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/xsentiment/sentiment-bot/internal/metrics"
)

// DefaultOpenRouterURL is the OpenAI-compatible endpoint used when no base URL is configured
const DefaultOpenRouterURL = "https://openrouter.ai/api/v1"

// OpenRouterConfig configures an OpenAI-compatible chat completion client
type OpenRouterConfig struct {
	BaseURL           string
	APIKey            string
	Model             string
	Temperature       float64
	RequestsPerSecond float64
}

// OpenRouterCompleter calls /chat/completions on an OpenAI-compatible API
type OpenRouterCompleter struct {
	client      *resty.Client
	model       string
	temperature float64
	limiter     *rate.Limiter
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// NewOpenRouterCompleter creates a completer; the per-request timeout comes from the caller's context
func NewOpenRouterCompleter(cfg OpenRouterConfig) *OpenRouterCompleter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultOpenRouterURL
	}

	return &OpenRouterCompleter{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(2*time.Minute).
			SetAuthToken(cfg.APIKey).
			SetHeader("Content-Type", "application/json").
			SetHeader("User-Agent", "X-Sentiment-Bot/1.0"),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		limiter:     newLimiter(cfg.RequestsPerSecond),
	}
}

func (o *OpenRouterCompleter) Name() string {
	return "openrouter"
}

func (o *OpenRouterCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	resp, err := o.client.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model: o.model,
			Messages: []chatMessage{
				{Role: "system", Content: system},
				{Role: "user", Content: user},
			},
			Temperature: o.temperature,
		}).
		Post("/chat/completions")
	if err != nil {
		metrics.CompletionRequestsTotal.WithLabelValues(o.Name(), "transport_error").Inc()
		return "", fmt.Errorf("openrouter request failed: %w", err)
	}

	metrics.CompletionRequestsTotal.WithLabelValues(o.Name(), strconv.Itoa(resp.StatusCode())).Inc()

	if resp.IsError() {
		return "", &StatusError{Provider: o.Name(), StatusCode: resp.StatusCode(), Body: truncate(string(resp.Body()), 500)}
	}

	var chatResp chatResponse
	if err := json.Unmarshal(resp.Body(), &chatResp); err != nil {
		return "", fmt.Errorf("%w: failed to parse openrouter response: %v", ErrMalformedReply, err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("%w: openrouter response has no choices", ErrMalformedReply)
	}

	return chatResp.Choices[0].Message.Content, nil
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}
