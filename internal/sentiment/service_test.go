package sentiment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xsentiment/sentiment-bot/internal/models"
)

// MockAnalyzer is a mock implementation of Analyzer
type MockAnalyzer struct {
	mock.Mock
	id string
}

func (m *MockAnalyzer) ID() string      { return m.id }
func (m *MockAnalyzer) Version() string { return "mock-v1" }

func (m *MockAnalyzer) Analyze(ctx context.Context, text string) (Result, error) {
	args := m.Called(ctx, text)
	return args.Get(0).(Result), args.Error(1)
}

func TestService_ClassifyRequestedAlgorithm(t *testing.T) {
	llm := &MockAnalyzer{id: AlgorithmLLM}
	raw := 72.0
	llm.On("Analyze", mock.Anything, "number go up").Return(Result{
		Classification:   models.Bullish,
		Confidence:       0.5,
		RawScore:         &raw,
		AlgorithmID:      AlgorithmLLM,
		AlgorithmVersion: "mock-v1",
	}, nil)

	s := NewService(NewKeywordAnalyzer(nil, nil), nil, llm)
	score, err := s.Classify(context.Background(), "post-1", "number go up", AlgorithmLLM)
	require.NoError(t, err)

	assert.Equal(t, "post-1", score.PostID)
	assert.Equal(t, AlgorithmLLM, score.AlgorithmID)
	assert.Equal(t, AlgorithmLLM, score.RequestedAlgorithm)
	assert.Equal(t, models.Bullish, score.Classification)
	assert.False(t, score.Fallback)
	assert.Empty(t, score.FallbackReason)
	assert.Equal(t, &raw, score.RawScore)
}

func TestService_FallsBackWhenClassifierFails(t *testing.T) {
	llm := &MockAnalyzer{id: AlgorithmLLM}
	llm.On("Analyze", mock.Anything, mock.Anything).
		Return(Result{}, errors.Join(ErrClassifierFailed, errors.New("503 after 3 retries")))

	s := NewService(NewKeywordAnalyzer(nil, nil), nil, llm)
	score, err := s.Classify(context.Background(), "post-7", "Bitcoin crashing, sell everything", AlgorithmLLM)
	require.NoError(t, err)

	assert.Equal(t, "post-7", score.PostID)
	assert.Equal(t, AlgorithmKeyword, score.AlgorithmID)
	assert.Equal(t, AlgorithmLLM, score.RequestedAlgorithm)
	assert.True(t, score.Fallback)
	assert.Equal(t, ReasonClassifierFailed, score.FallbackReason)
	assert.Equal(t, models.Bearish, score.Classification)
	assert.Nil(t, score.RawScore)
	llm.AssertNumberOfCalls(t, "Analyze", 1)
}

func TestService_UnknownAlgorithmUsesKeyword(t *testing.T) {
	s := NewService(NewKeywordAnalyzer(nil, nil), nil)

	score, err := s.Classify(context.Background(), "post-2", "Bitcoin to the moon! 🚀 buy now", "finbert")
	require.NoError(t, err)

	assert.Equal(t, AlgorithmKeyword, score.AlgorithmID)
	assert.Equal(t, "finbert", score.RequestedAlgorithm)
	assert.True(t, score.Fallback)
	assert.Equal(t, ReasonUnknownAlgorithm, score.FallbackReason)
	assert.Equal(t, models.Bullish, score.Classification)
}

func TestService_KeywordRequestedIsNotFallback(t *testing.T) {
	s := NewService(NewKeywordAnalyzer(nil, nil), nil)

	score, err := s.Classify(context.Background(), "post-3", "gm", AlgorithmKeyword)
	require.NoError(t, err)
	assert.False(t, score.Fallback)
	assert.Equal(t, AlgorithmKeyword, score.AlgorithmID)
}

func TestService_MissingAlgorithmIsConfigurationError(t *testing.T) {
	s := NewService(NewKeywordAnalyzer(nil, nil), nil)

	score, err := s.Classify(context.Background(), "post-4", "text", "")
	assert.ErrorIs(t, err, ErrMissingAlgorithm)
	assert.Nil(t, score)
}

func TestService_CancelledContextDoesNotFallBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	llm := &MockAnalyzer{id: AlgorithmLLM}
	llm.On("Analyze", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(Result{}, context.Canceled)

	s := NewService(NewKeywordAnalyzer(nil, nil), nil, llm)
	score, err := s.Classify(ctx, "post-5", "text", AlgorithmLLM)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, score)
}

func TestService_Known(t *testing.T) {
	s := NewService(NewKeywordAnalyzer(nil, nil), nil, &MockAnalyzer{id: AlgorithmLLM})

	assert.True(t, s.Known(AlgorithmKeyword))
	assert.True(t, s.Known(AlgorithmLLM))
	assert.False(t, s.Known("vader"))
	assert.Equal(t, []string{AlgorithmKeyword, AlgorithmLLM}, s.Algorithms())
}
