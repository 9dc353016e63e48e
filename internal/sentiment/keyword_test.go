package sentiment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xsentiment/sentiment-bot/internal/models"
)

func TestKeywordAnalyzer_Analyze(t *testing.T) {
	k := NewKeywordAnalyzer(nil, nil)

	tests := []struct {
		name               string
		text               string
		expectedClass      models.Classification
		expectedConfidence float64
	}{
		{
			name:               "Bullish post",
			text:               "Bitcoin to the moon! 🚀 buy now",
			expectedClass:      models.Bullish,
			expectedConfidence: 0.9,
		},
		{
			name:               "Bearish post",
			text:               "Bitcoin crashing, sell everything",
			expectedClass:      models.Bearish,
			expectedConfidence: 0.8,
		},
		{
			name:               "No keywords",
			text:               "Bitcoin conference starts tomorrow",
			expectedClass:      models.Neutral,
			expectedConfidence: 0.5,
		},
		{
			name:               "Tie is neutral",
			text:               "buy the dip or sell the rip",
			expectedClass:      models.Neutral,
			expectedConfidence: 0.5,
		},
		{
			name:               "Case insensitive",
			text:               "BULLISH",
			expectedClass:      models.Bullish,
			expectedConfidence: 0.7,
		},
		{
			name:               "Repeated keyword counts once",
			text:               "dump dump dump",
			expectedClass:      models.Bearish,
			expectedConfidence: 0.7,
		},
		{
			name:               "Confidence capped",
			text:               "moon bullish buy pump rocket gain accumulate",
			expectedClass:      models.Bullish,
			expectedConfidence: 0.95,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := k.Analyze(context.Background(), tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedClass, result.Classification)
			assert.InDelta(t, tt.expectedConfidence, result.Confidence, 1e-9)
			assert.Equal(t, AlgorithmKeyword, result.AlgorithmID)
			assert.Equal(t, "v1.0", result.AlgorithmVersion)
			assert.Nil(t, result.RawScore)
		})
	}
}

func TestKeywordAnalyzer_CustomKeywords(t *testing.T) {
	k := NewKeywordAnalyzer([]string{" HODL "}, []string{"rekt"})

	result, err := k.Analyze(context.Background(), "just hodl")
	require.NoError(t, err)
	assert.Equal(t, models.Bullish, result.Classification)

	result, err = k.Analyze(context.Background(), "got rekt")
	require.NoError(t, err)
	assert.Equal(t, models.Bearish, result.Classification)

	// Defaults no longer apply
	result, err = k.Analyze(context.Background(), "to the moon")
	require.NoError(t, err)
	assert.Equal(t, models.Neutral, result.Classification)
}
