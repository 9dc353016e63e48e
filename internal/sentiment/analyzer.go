package sentiment

import (
	"context"
	"errors"

	"github.com/xsentiment/sentiment-bot/internal/models"
)

// Algorithm identifiers
const (
	AlgorithmKeyword = "keyword"
	AlgorithmLLM     = "llm"
)

// Fallback reasons recorded on scores produced by the fallback variant
const (
	ReasonUnknownAlgorithm = "unknown_algorithm"
	ReasonClassifierFailed = "classifier_failed"
)

var (
	// ErrMissingAlgorithm is a configuration error: no algorithm was requested
	ErrMissingAlgorithm = errors.New("sentiment algorithm is not configured")
	// ErrClassifierFailed is returned when an analyzer could not produce a result
	ErrClassifierFailed = errors.New("sentiment classifier failed")
)

// Result is the output of a single analyzer
type Result struct {
	Classification   models.Classification
	Confidence       float64
	RawScore         *float64
	Reasoning        string
	AlgorithmID      string
	AlgorithmVersion string
}

// Analyzer classifies post text. Implementations must be safe for concurrent use.
type Analyzer interface {
	ID() string
	Version() string
	Analyze(ctx context.Context, text string) (Result, error)
}
