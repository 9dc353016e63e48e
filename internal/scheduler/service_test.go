package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xsentiment/sentiment-bot/internal/models"
	"github.com/xsentiment/sentiment-bot/internal/pipeline"
)

// MockRunner is a mock implementation of Runner
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) RunDaily(ctx context.Context) (*models.DailyReport, error) {
	args := m.Called(ctx)
	if r, ok := args.Get(0).(*models.DailyReport); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func TestExpression(t *testing.T) {
	tests := []struct {
		hour, minute int
		expected     string
	}{
		{2, 0, "0 0 2 * * *"},
		{23, 45, "0 45 23 * * *"},
	}

	for _, tt := range tests {
		s := NewService(new(MockRunner), tt.hour, tt.minute, nil)
		assert.Equal(t, tt.expected, s.Expression())
	}
}

func TestStartAndStop(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	s := NewService(new(MockRunner), 6, 30, loc)
	require.NoError(t, s.Start())
	assert.Equal(t, loc, s.cron.Location())

	entries := s.cron.Entries()
	require.Len(t, entries, 1)
	next := entries[0].Schedule.Next(time.Date(2024, 1, 1, 0, 0, 0, 0, loc))
	assert.Equal(t, time.Date(2024, 1, 1, 6, 30, 0, 0, loc), next)

	s.Stop()
	assert.Error(t, s.ctx.Err())
}

func TestRunOnce(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"success", nil},
		{"overlap is skipped", pipeline.ErrRunInProgress},
		{"failure is logged", errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := new(MockRunner)
			runner.On("RunDaily", mock.Anything).Return(nil, tt.err).Once()

			s := NewService(runner, 2, 0, nil)
			s.runOnce()
			runner.AssertExpectations(t)
		})
	}
}
