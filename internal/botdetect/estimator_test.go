package botdetect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xsentiment/sentiment-bot/internal/models"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(d int) time.Time {
	return now.Add(-time.Duration(d) * 24 * time.Hour)
}

func humanAuthor() AuthorSignals {
	return AuthorSignals{
		Username:         "satoshi_fan",
		FollowersCount:   1000,
		FollowingCount:   200,
		AccountCreatedAt: daysAgo(1000),
		Description:      "Long-term bitcoin holder and occasional writer",
	}
}

func TestEstimator_Estimate(t *testing.T) {
	e := NewEstimator()

	tests := []struct {
		name     string
		modify   func(a *AuthorSignals)
		expected float64
	}{
		{
			name:     "Established human account",
			modify:   func(a *AuthorSignals) {},
			expected: 0.0,
		},
		{
			name:     "New account",
			modify:   func(a *AuthorSignals) { a.AccountCreatedAt = daysAgo(10) },
			expected: 0.30,
		},
		{
			name:     "Young account",
			modify:   func(a *AuthorSignals) { a.AccountCreatedAt = daysAgo(45) },
			expected: 0.15,
		},
		{
			name:     "Account exactly 90 days old",
			modify:   func(a *AuthorSignals) { a.AccountCreatedAt = daysAgo(90) },
			expected: 0.0,
		},
		{
			name:     "Very low follower ratio",
			modify:   func(a *AuthorSignals) { a.FollowersCount = 5; a.FollowingCount = 100 },
			expected: 0.25,
		},
		{
			name:     "Low follower ratio",
			modify:   func(a *AuthorSignals) { a.FollowersCount = 30; a.FollowingCount = 100 },
			expected: 0.10,
		},
		{
			name:     "No following skips ratio",
			modify:   func(a *AuthorSignals) { a.FollowersCount = 0; a.FollowingCount = 0 },
			expected: 0.0,
		},
		{
			name:     "Short description",
			modify:   func(a *AuthorSignals) { a.Description = "gm" },
			expected: 0.15,
		},
		{
			name:     "Digit-heavy username",
			modify:   func(a *AuthorSignals) { a.Username = "user84736251" },
			expected: 0.10,
		},
		{
			name:     "Four digits do not count",
			modify:   func(a *AuthorSignals) { a.Username = "user2024" },
			expected: 0.0,
		},
		{
			name:     "Verified floors at zero",
			modify:   func(a *AuthorSignals) { a.Verified = true },
			expected: 0.0,
		},
		{
			name: "Every bot signal fires",
			modify: func(a *AuthorSignals) {
				a.AccountCreatedAt = daysAgo(3)
				a.FollowersCount = 1
				a.FollowingCount = 5000
				a.Description = ""
				a.Username = "crypto123456789"
			},
			expected: 0.80,
		},
		{
			name: "Verified bot-like account",
			modify: func(a *AuthorSignals) {
				a.AccountCreatedAt = daysAgo(3)
				a.FollowersCount = 1
				a.FollowingCount = 5000
				a.Description = ""
				a.Verified = true
			},
			expected: 0.50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := humanAuthor()
			tt.modify(&in)
			result := e.Estimate(in, now)
			assert.InDelta(t, tt.expected, result.Score, 1e-9)
		})
	}
}

func TestEstimator_ScoreStaysInRange(t *testing.T) {
	e := NewEstimator()

	for _, verified := range []bool{true, false} {
		for _, age := range []int{0, 29, 30, 89, 90, 5000} {
			for _, following := range []int{0, 1, 10, 100000} {
				for _, desc := range []string{"", "short", "a description that is clearly long enough"} {
					in := AuthorSignals{
						Username:         "bot0000000000",
						FollowersCount:   1,
						FollowingCount:   following,
						Verified:         verified,
						AccountCreatedAt: daysAgo(age),
						Description:      desc,
					}
					score := e.Estimate(in, now).Score
					assert.GreaterOrEqual(t, score, 0.0)
					assert.LessOrEqual(t, score, 1.0)
				}
			}
		}
	}
}

func TestEstimator_VerifiedLowersScore(t *testing.T) {
	e := NewEstimator()

	in := humanAuthor()
	in.AccountCreatedAt = daysAgo(5)
	in.Description = ""

	unverified := e.Estimate(in, now).Score
	in.Verified = true
	verified := e.Estimate(in, now).Score

	assert.Less(t, verified, unverified)
}

func TestEstimator_NewAccountScoresHigherThanOldAccount(t *testing.T) {
	e := NewEstimator()

	young := humanAuthor()
	young.AccountCreatedAt = daysAgo(10)
	old := humanAuthor()
	old.AccountCreatedAt = daysAgo(400)

	assert.Greater(t, e.Estimate(young, now).Score, e.Estimate(old, now).Score)
}

func TestEstimator_Signals(t *testing.T) {
	e := NewEstimator()

	in := AuthorSignals{
		Username:         "trader98765",
		FollowersCount:   10,
		FollowingCount:   1000,
		Verified:         true,
		AccountCreatedAt: daysAgo(12),
	}
	result := e.Estimate(in, now)

	require.NotNil(t, result.Signals.AccountAgeDays)
	assert.Equal(t, 12, *result.Signals.AccountAgeDays)
	require.NotNil(t, result.Signals.FollowerRatio)
	assert.InDelta(t, 0.01, *result.Signals.FollowerRatio, 1e-9)
	assert.True(t, result.Signals.EmptyProfile)
	assert.Equal(t, 5, result.Signals.UsernameDigits)
	assert.True(t, result.Signals.Verified)
	// 0.30 + 0.25 + 0.15 + 0.10 - 0.20
	assert.InDelta(t, 0.60, result.Score, 1e-9)
}

func TestEstimator_UnknownCreationTime(t *testing.T) {
	e := NewEstimator()

	in := humanAuthor()
	in.AccountCreatedAt = time.Time{}
	result := e.Estimate(in, now)

	assert.Nil(t, result.Signals.AccountAgeDays)
	assert.Equal(t, 0.0, result.Score)
}

func TestFromAuthor(t *testing.T) {
	a := &models.Author{
		ID:               "1",
		Username:         "alice",
		Description:      "hello",
		FollowersCount:   3,
		FollowingCount:   4,
		Verified:         true,
		AccountCreatedAt: daysAgo(1),
	}
	in := FromAuthor(a)
	assert.Equal(t, "alice", in.Username)
	assert.Equal(t, 3, in.FollowersCount)
	assert.Equal(t, 4, in.FollowingCount)
	assert.True(t, in.Verified)
	assert.Equal(t, "hello", in.Description)
}

func TestThresholds(t *testing.T) {
	assert.True(t, IsLikelyBot(0.71))
	assert.False(t, IsLikelyBot(0.7))
	assert.True(t, IsLikelyHuman(0.29))
	assert.False(t, IsLikelyHuman(0.3))
}
