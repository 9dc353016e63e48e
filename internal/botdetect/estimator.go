package botdetect

import (
	"math"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/xsentiment/sentiment-bot/internal/models"
)

// Version identifies the heuristic set used to produce a score
const Version = "heuristic-v1.0"

const (
	// LikelyBotThreshold is exceeded by scores considered automated
	LikelyBotThreshold = 0.7
	// LikelyHumanThreshold bounds scores considered human-operated
	LikelyHumanThreshold = 0.3

	minDescriptionLength = 20
	maxUsernameDigits    = 4
)

// AuthorSignals are the account attributes the estimator looks at
type AuthorSignals struct {
	Username         string
	FollowersCount   int
	FollowingCount   int
	Verified         bool
	AccountCreatedAt time.Time // zero when unknown
	Description      string
}

// FromAuthor extracts estimator inputs from a stored author
func FromAuthor(a *models.Author) AuthorSignals {
	return AuthorSignals{
		Username:         a.Username,
		FollowersCount:   a.FollowersCount,
		FollowingCount:   a.FollowingCount,
		Verified:         a.Verified,
		AccountCreatedAt: a.AccountCreatedAt,
		Description:      a.Description,
	}
}

// Result is a bot-likelihood score with the signals that produced it
type Result struct {
	Score   float64
	Signals models.BotSignals
}

// Estimator scores how likely an account is automated. It is pure and never fails.
type Estimator struct{}

// NewEstimator creates a new heuristic estimator
func NewEstimator() *Estimator {
	return &Estimator{}
}

// Version returns the estimator version stored alongside each score
func (e *Estimator) Version() string {
	return Version
}

// Estimate returns a score in [0,1]; now is the reference time for account age
func (e *Estimator) Estimate(in AuthorSignals, now time.Time) Result {
	var score float64
	var signals models.BotSignals

	// Account age: newer accounts are more likely automated
	if !in.AccountCreatedAt.IsZero() {
		ageDays := int(math.Floor(now.Sub(in.AccountCreatedAt).Hours() / 24))
		switch {
		case ageDays < 30:
			score += 0.30
			signals.AccountAgeDays = &ageDays
		case ageDays < 90:
			score += 0.15
			signals.AccountAgeDays = &ageDays
		}
	}

	// Follower/following ratio: following far more accounts than follow back
	if in.FollowingCount > 0 {
		ratio := float64(in.FollowersCount) / float64(in.FollowingCount)
		switch {
		case ratio < 0.1:
			score += 0.25
			signals.FollowerRatio = &ratio
		case ratio < 0.5:
			score += 0.10
			signals.FollowerRatio = &ratio
		}
	}

	if utf8.RuneCountInString(in.Description) < minDescriptionLength {
		score += 0.15
		signals.EmptyProfile = true
	}

	if digits := countDigits(in.Username); digits > maxUsernameDigits {
		score += 0.10
		signals.UsernameDigits = digits
	}

	// Verification is the only negative contributor and applies after the additive signals
	if in.Verified {
		score -= 0.20
		signals.Verified = true
	}

	return Result{
		Score:   clamp(score, 0, 1),
		Signals: signals,
	}
}

// IsLikelyBot reports whether a score crosses the bot threshold
func IsLikelyBot(score float64) bool {
	return score > LikelyBotThreshold
}

// IsLikelyHuman reports whether a score is below the human threshold
func IsLikelyHuman(score float64) bool {
	return score < LikelyHumanThreshold
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
