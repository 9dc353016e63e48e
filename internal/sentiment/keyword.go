package sentiment

import (
	"context"
	"math"
	"strings"

	"github.com/xsentiment/sentiment-bot/internal/models"
)

const keywordVersion = "v1.0"

var (
	// DefaultBullishKeywords are matched by presence in lower-cased text
	DefaultBullishKeywords = []string{"moon", "bullish", "buy", "pump", "rocket", "🚀", "up", "gain", "accumulate"}
	// DefaultBearishKeywords are matched by presence in lower-cased text
	DefaultBearishKeywords = []string{"dump", "bearish", "sell", "crash", "down", "loss", "exit"}
)

// KeywordAnalyzer is the always-available heuristic classifier. It never fails.
type KeywordAnalyzer struct {
	bullish []string
	bearish []string
}

// NewKeywordAnalyzer creates a keyword analyzer; empty lists fall back to the defaults
func NewKeywordAnalyzer(bullish, bearish []string) *KeywordAnalyzer {
	if len(bullish) == 0 {
		bullish = DefaultBullishKeywords
	}
	if len(bearish) == 0 {
		bearish = DefaultBearishKeywords
	}
	return &KeywordAnalyzer{
		bullish: lowerAll(bullish),
		bearish: lowerAll(bearish),
	}
}

func (k *KeywordAnalyzer) ID() string {
	return AlgorithmKeyword
}

func (k *KeywordAnalyzer) Version() string {
	return keywordVersion
}

// Analyze counts keyword hits; the majority side wins
func (k *KeywordAnalyzer) Analyze(_ context.Context, text string) (Result, error) {
	content := strings.ToLower(text)

	bullishCount := countPresent(content, k.bullish)
	bearishCount := countPresent(content, k.bearish)

	result := Result{
		Classification:   models.Neutral,
		Confidence:       0.5,
		AlgorithmID:      AlgorithmKeyword,
		AlgorithmVersion: keywordVersion,
	}

	switch {
	case bullishCount > bearishCount:
		result.Classification = models.Bullish
		result.Confidence = keywordConfidence(bullishCount)
	case bearishCount > bullishCount:
		result.Classification = models.Bearish
		result.Confidence = keywordConfidence(bearishCount)
	}

	return result, nil
}

func keywordConfidence(count int) float64 {
	return math.Min(0.6+0.1*float64(count), 0.95)
}

func countPresent(content string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(content, kw) {
			n++
		}
	}
	return n
}

func lowerAll(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}
