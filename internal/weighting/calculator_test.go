package weighting

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xsentiment/sentiment-bot/internal/models"
)

func allVariants(t *testing.T) []*Calculator {
	t.Helper()

	var calcs []*Calculator
	for _, vis := range []string{VisibilityLogEngagement, VisibilityLogLikesReposts} {
		for _, inf := range []string{InfluenceLogFollowers, InfluenceSqrtFollowers} {
			for _, pen := range []string{BotPenaltyLinear, BotPenaltyCutoff} {
				cfg := DefaultConfig()
				cfg.Version = vis + "/" + inf + "/" + pen
				cfg.VisibilityFormula = vis
				cfg.InfluenceFormula = inf
				cfg.BotPenaltyFormula = pen
				c, err := NewCalculator(cfg)
				require.NoError(t, err)
				calcs = append(calcs, c)
			}
		}
	}
	return calcs
}

func baseSignals() Signals {
	return Signals{
		Likes:          100,
		Reposts:        50,
		Replies:        10,
		Quotes:         5,
		FollowersCount: 1000,
		BotScore:       0.1,
	}
}

func TestCalculator_DefaultFormula(t *testing.T) {
	c := MustDefault()

	s := baseSignals()
	visibility := math.Log(1 + 100 + 2*50 + 10 + 5)
	influence := math.Log(1 + 1000)
	expected := visibility * influence * 1.0 * (1 - 2*0.1)

	assert.InDelta(t, expected, c.Weight(s), 1e-12)

	s.Verified = true
	assert.InDelta(t, expected*1.5, c.Weight(s), 1e-12)
	assert.Equal(t, "v1.0", c.Version())
}

func TestCalculator_BotPenaltyZeroesWeight(t *testing.T) {
	for _, c := range allVariants(t) {
		for _, bot := range []float64{0.5, 0.51, 0.7, 1.0} {
			s := Signals{
				Likes:          1_000_000,
				Reposts:        500_000,
				Replies:        10_000,
				Quotes:         10_000,
				FollowersCount: 50_000_000,
				Verified:       true,
				BotScore:       bot,
			}
			assert.Equal(t, 0.0, c.Weight(s), "version %s bot %v", c.Version(), bot)
		}
	}
}

func TestCalculator_Monotonic(t *testing.T) {
	bumps := map[string]func(s *Signals, n int){
		"likes":     func(s *Signals, n int) { s.Likes = n },
		"reposts":   func(s *Signals, n int) { s.Reposts = n },
		"replies":   func(s *Signals, n int) { s.Replies = n },
		"quotes":    func(s *Signals, n int) { s.Quotes = n },
		"followers": func(s *Signals, n int) { s.FollowersCount = n },
	}

	for _, c := range allVariants(t) {
		for field, set := range bumps {
			prev := -1.0
			for _, n := range []int{0, 1, 2, 10, 100, 10_000, 1_000_000} {
				s := baseSignals()
				set(&s, n)
				w := c.Weight(s)
				assert.GreaterOrEqual(t, w, 0.0)
				assert.GreaterOrEqual(t, w, prev, "version %s field %s at %d", c.Version(), field, n)
				prev = w
			}
		}
	}
}

func TestCalculator_NonIncreasingInBotScore(t *testing.T) {
	for _, c := range allVariants(t) {
		prev := math.Inf(1)
		for bot := 0.0; bot <= 1.0; bot += 0.05 {
			s := baseSignals()
			s.BotScore = bot
			w := c.Weight(s)
			assert.LessOrEqual(t, w, prev, "version %s bot %v", c.Version(), bot)
			prev = w
		}
	}
}

func TestCalculator_NegativeCountsTreatedAsZero(t *testing.T) {
	c := MustDefault()

	negative := Signals{Likes: -5, Reposts: -1, Replies: -3, Quotes: -2, FollowersCount: -10}
	assert.Equal(t, 0.0, c.Weight(negative))

	s := baseSignals()
	s.Likes = -100
	withZero := baseSignals()
	withZero.Likes = 0
	assert.Equal(t, c.Weight(withZero), c.Weight(s))
}

func TestCalculator_VerificationMultiplierOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Version = "v1.1"
	cfg.VerificationMultiplier = 3
	c, err := NewCalculator(cfg)
	require.NoError(t, err)

	s := baseSignals()
	unverified := c.Weight(s)
	s.Verified = true
	assert.InDelta(t, unverified*3, c.Weight(s), 1e-9)
}

func TestNewCalculator_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		modify func(cfg *models.WeightingConfig)
	}{
		{name: "Missing version", modify: func(cfg *models.WeightingConfig) { cfg.Version = "" }},
		{name: "Unknown visibility", modify: func(cfg *models.WeightingConfig) { cfg.VisibilityFormula = "likes * 2" }},
		{name: "Unknown influence", modify: func(cfg *models.WeightingConfig) { cfg.InfluenceFormula = "followers" }},
		{name: "Unknown bot penalty", modify: func(cfg *models.WeightingConfig) { cfg.BotPenaltyFormula = "none" }},
		{name: "Shallow linear slope", modify: func(cfg *models.WeightingConfig) { cfg.BotPenaltySlope = 1.5 }},
		{name: "Zero verification multiplier", modify: func(cfg *models.WeightingConfig) { cfg.VerificationMultiplier = 0 }},
		{name: "Negative verification multiplier", modify: func(cfg *models.WeightingConfig) { cfg.VerificationMultiplier = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			_, err := NewCalculator(cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestCalculator_Describe(t *testing.T) {
	desc := MustDefault().Describe()

	assert.Equal(t, "v1.0", desc["version"])
	assert.Equal(t, "ln(1 + likes + 2*reposts + replies + quotes)", desc["visibility"])
	assert.Equal(t, "ln(1 + followers)", desc["influence"])
	assert.Equal(t, "max(0, 1 - 2*bot_score)", desc["bot_penalty"])
	assert.Equal(t, "1.5", desc["verification_multiplier"])
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	_, ok := r.Get(DefaultVersion)
	assert.True(t, ok)

	// Republishing the identical config is a no-op
	assert.NoError(t, r.Publish(DefaultConfig()))

	changed := DefaultConfig()
	changed.VerificationMultiplier = 2
	assert.ErrorIs(t, r.Publish(changed), ErrInvalidConfig)

	v2 := DefaultConfig()
	v2.Version = "v2.0"
	v2.InfluenceFormula = InfluenceSqrtFollowers
	require.NoError(t, r.Publish(v2))
	assert.Equal(t, []string{"v1.0", "v2.0"}, r.Versions())

	calc, err := r.Calculator("v2.0")
	require.NoError(t, err)
	assert.Equal(t, "v2.0", calc.Version())

	_, err = r.Calculator("v9.9")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	bad := DefaultConfig()
	bad.Version = "v3.0"
	bad.BotPenaltyFormula = "eval(x)"
	assert.ErrorIs(t, r.Publish(bad), ErrInvalidConfig)
}
