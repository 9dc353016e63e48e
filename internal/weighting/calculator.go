package weighting

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/xsentiment/sentiment-bot/internal/models"
)

// Formula identifiers accepted in a WeightingConfig
const (
	VisibilityLogEngagement   = "log_engagement"
	VisibilityLogLikesReposts = "log_likes_reposts"

	InfluenceLogFollowers  = "log_followers"
	InfluenceSqrtFollowers = "sqrt_followers"

	BotPenaltyLinear = "linear"
	BotPenaltyCutoff = "cutoff"

	// DefaultVersion is the weighting version used when nothing else is published
	DefaultVersion = "v1.0"
)

// botCutoff is the bot-likelihood at which every accepted penalty reaches zero
const botCutoff = 0.5

// ErrInvalidConfig is returned for weighting configs that cannot be resolved
var ErrInvalidConfig = errors.New("invalid weighting config")

// Signals are the per-post inputs to the weight
type Signals struct {
	Likes          int
	Reposts        int
	Replies        int
	Quotes         int
	FollowersCount int
	Verified       bool
	BotScore       float64
}

// DefaultConfig returns the reference weighting configuration
func DefaultConfig() models.WeightingConfig {
	return models.WeightingConfig{
		Version:                DefaultVersion,
		VisibilityFormula:      VisibilityLogEngagement,
		InfluenceFormula:       InfluenceLogFollowers,
		BotPenaltyFormula:      BotPenaltyLinear,
		BotPenaltySlope:        2,
		VerificationMultiplier: 1.5,
		EffectiveDate:          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Description:            "Default weighting configuration",
	}
}

// Calculator turns per-post signals into a non-negative contribution weight
type Calculator struct {
	config     models.WeightingConfig
	visibility func(Signals) float64
	influence  func(followers float64) float64
	botPenalty func(score float64) float64
}

// NewCalculator resolves the formula descriptors of cfg
func NewCalculator(cfg models.WeightingConfig) (*Calculator, error) {
	if cfg.Version == "" {
		return nil, fmt.Errorf("%w: version is required", ErrInvalidConfig)
	}
	if cfg.VerificationMultiplier <= 0 || math.IsNaN(cfg.VerificationMultiplier) || math.IsInf(cfg.VerificationMultiplier, 0) {
		return nil, fmt.Errorf("%w: %s: verification multiplier must be positive, got %v", ErrInvalidConfig, cfg.Version, cfg.VerificationMultiplier)
	}

	c := &Calculator{config: cfg}

	switch cfg.VisibilityFormula {
	case VisibilityLogEngagement:
		c.visibility = func(s Signals) float64 {
			return math.Log1p(nonNegative(s.Likes) + 2*nonNegative(s.Reposts) + nonNegative(s.Replies) + nonNegative(s.Quotes))
		}
	case VisibilityLogLikesReposts:
		c.visibility = func(s Signals) float64 {
			return math.Log1p(nonNegative(s.Likes) + 2*nonNegative(s.Reposts))
		}
	default:
		return nil, fmt.Errorf("%w: %s: unknown visibility formula %q", ErrInvalidConfig, cfg.Version, cfg.VisibilityFormula)
	}

	switch cfg.InfluenceFormula {
	case InfluenceLogFollowers:
		c.influence = math.Log1p
	case InfluenceSqrtFollowers:
		c.influence = math.Sqrt
	default:
		return nil, fmt.Errorf("%w: %s: unknown influence formula %q", ErrInvalidConfig, cfg.Version, cfg.InfluenceFormula)
	}

	switch cfg.BotPenaltyFormula {
	case BotPenaltyLinear:
		// a slope below 2 would leave weight on posts at the bot cutoff
		if cfg.BotPenaltySlope < 1/botCutoff {
			return nil, fmt.Errorf("%w: %s: linear bot penalty slope must be >= 2, got %v", ErrInvalidConfig, cfg.Version, cfg.BotPenaltySlope)
		}
		slope := cfg.BotPenaltySlope
		c.botPenalty = func(score float64) float64 {
			return math.Max(0, 1-slope*score)
		}
	case BotPenaltyCutoff:
		c.botPenalty = func(score float64) float64 {
			if score >= botCutoff {
				return 0
			}
			return 1 - math.Max(0, score)
		}
	default:
		return nil, fmt.Errorf("%w: %s: unknown bot penalty formula %q", ErrInvalidConfig, cfg.Version, cfg.BotPenaltyFormula)
	}

	return c, nil
}

// MustDefault returns a calculator for DefaultConfig
func MustDefault() *Calculator {
	c, err := NewCalculator(DefaultConfig())
	if err != nil {
		panic(err)
	}
	return c
}

// Version returns the weighting config version the calculator was built from
func (c *Calculator) Version() string {
	return c.config.Version
}

// Config returns the resolved configuration
func (c *Calculator) Config() models.WeightingConfig {
	return c.config
}

// Weight combines visibility, influence, verification and bot penalty
func (c *Calculator) Weight(s Signals) float64 {
	// Zero penalty short-circuits so engagement magnitude cannot matter
	penalty := c.botPenalty(s.BotScore)
	if penalty == 0 {
		return 0
	}

	visibility := c.visibility(s)
	influence := c.influence(nonNegative(s.FollowersCount))

	verification := 1.0
	if s.Verified {
		verification = c.config.VerificationMultiplier
	}

	return visibility * influence * verification * penalty
}

// Describe returns the human-readable formula set for audit output
func (c *Calculator) Describe() map[string]string {
	desc := map[string]string{
		"version":                 c.config.Version,
		"verification_multiplier": fmt.Sprintf("%g", c.config.VerificationMultiplier),
	}

	switch c.config.VisibilityFormula {
	case VisibilityLogEngagement:
		desc["visibility"] = "ln(1 + likes + 2*reposts + replies + quotes)"
	case VisibilityLogLikesReposts:
		desc["visibility"] = "ln(1 + likes + 2*reposts)"
	}

	switch c.config.InfluenceFormula {
	case InfluenceLogFollowers:
		desc["influence"] = "ln(1 + followers)"
	case InfluenceSqrtFollowers:
		desc["influence"] = "sqrt(followers)"
	}

	switch c.config.BotPenaltyFormula {
	case BotPenaltyLinear:
		desc["bot_penalty"] = fmt.Sprintf("max(0, 1 - %g*bot_score)", c.config.BotPenaltySlope)
	case BotPenaltyCutoff:
		desc["bot_penalty"] = "bot_score >= 0.5 ? 0 : 1 - bot_score"
	}

	return desc
}

func nonNegative(n int) float64 {
	if n < 0 {
		return 0
	}
	return float64(n)
}
