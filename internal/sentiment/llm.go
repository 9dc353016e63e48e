package sentiment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/xsentiment/sentiment-bot/internal/models"
	"github.com/xsentiment/sentiment-bot/internal/retry"
)

// DefaultSystemPrompt asks the model for a 0-100 bullishness score as JSON
const DefaultSystemPrompt = `You are a financial sentiment classifier for social media posts about Bitcoin and bitcoin treasury companies.
Rate how bullish the post is on a scale from 0 (extremely bearish) to 100 (extremely bullish), where 50 is neutral.
Respond with JSON only, in the form {"score": <number 0-100>, "reasoning": "<one short sentence>"}.`

var (
	// ErrMalformedReply is returned when the reply does not contain a JSON object. It is retried.
	ErrMalformedReply = errors.New("model reply is not valid JSON")
	// ErrInvalidScore is returned when the reply parses but carries no usable score. It is not retried.
	ErrInvalidScore = errors.New("model reply has no score in [0,100]")
)

// Completer sends one system+user exchange to a remote language model and returns the reply text
type Completer interface {
	Name() string
	Complete(ctx context.Context, system, user string) (string, error)
}

// StatusError is a non-2xx answer from a completion endpoint
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// LLMConfig holds the per-algorithm settings of the external-service variant
type LLMConfig struct {
	Model          string
	SystemPrompt   string
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// LLMAnalyzer delegates classification to a remote model. It returns failures to the
// caller instead of substituting a result.
type LLMAnalyzer struct {
	completer Completer
	config    LLMConfig
	clock     clockwork.Clock
}

// NewLLMAnalyzer creates an analyzer backed by completer
func NewLLMAnalyzer(completer Completer, cfg LLMConfig, clock clockwork.Clock) *LLMAnalyzer {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &LLMAnalyzer{completer: completer, config: cfg, clock: clock}
}

func (l *LLMAnalyzer) ID() string {
	return AlgorithmLLM
}

// Version is the configured model identifier
func (l *LLMAnalyzer) Version() string {
	return l.config.Model
}

// Analyze scores text through the completer, retrying transient failures with backoff
func (l *LLMAnalyzer) Analyze(ctx context.Context, text string) (Result, error) {
	policy := retry.Policy{
		MaxRetries:     l.config.MaxRetries,
		InitialBackoff: l.config.RetryBaseDelay,
		Clock:          l.clock,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			logrus.WithFields(logrus.Fields{
				"provider": l.completer.Name(),
				"attempt":  attempt,
				"backoff":  backoff.String(),
			}).Warnf("Sentiment request failed, retrying: %v", err)
		},
	}

	reply, err := retry.Do(ctx, policy, l.classifyError, func(ctx context.Context, _ int) (llmReply, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, l.config.Timeout)
		defer cancel()

		raw, err := l.completer.Complete(attemptCtx, l.config.SystemPrompt, text)
		if err != nil {
			return llmReply{}, err
		}
		return parseReply(raw)
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %w", ErrClassifierFailed, l.completer.Name(), err)
	}

	classification, confidence := ScoreToClassification(reply.score)
	score := reply.score

	return Result{
		Classification:   classification,
		Confidence:       confidence,
		RawScore:         &score,
		Reasoning:        reply.reasoning,
		AlgorithmID:      AlgorithmLLM,
		AlgorithmVersion: l.config.Model,
	}, nil
}

// classifyError separates transient failures from permanent ones
func (l *LLMAnalyzer) classifyError(err error) retry.Action {
	if errors.Is(err, context.Canceled) {
		return retry.Stop
	}
	if errors.Is(err, ErrInvalidScore) {
		return retry.Stop
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500 {
			return retry.Retry
		}
		return retry.Stop
	}

	// Per-attempt timeouts, transport errors and malformed replies
	return retry.Retry
}

// ScoreToClassification maps a 0-100 score to a label and confidence
func ScoreToClassification(score float64) (models.Classification, float64) {
	confidence := math.Max(0.5, math.Abs(score-50)/50)

	switch {
	case score < 40:
		return models.Bearish, confidence
	case score < 60:
		return models.Neutral, confidence
	default:
		return models.Bullish, confidence
	}
}

type llmReply struct {
	score     float64
	reasoning string
}

// parseReply extracts {"score", "reasoning"} from the model output, tolerating code fences
// and prose around the object
func parseReply(raw string) (llmReply, error) {
	content := strings.TrimSpace(raw)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return llmReply{}, fmt.Errorf("%w: %q", ErrMalformedReply, truncate(raw, 200))
	}

	var body struct {
		Score     *float64 `json:"score"`
		Reasoning string   `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &body); err != nil {
		return llmReply{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}

	if body.Score == nil {
		return llmReply{}, fmt.Errorf("%w: score missing", ErrInvalidScore)
	}
	if *body.Score < 0 || *body.Score > 100 {
		return llmReply{}, fmt.Errorf("%w: got %v", ErrInvalidScore, *body.Score)
	}

	return llmReply{score: *body.Score, reasoning: body.Reasoning}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
