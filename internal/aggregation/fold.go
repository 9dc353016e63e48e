package aggregation

import (
	"github.com/xsentiment/sentiment-bot/internal/botdetect"
	"github.com/xsentiment/sentiment-bot/internal/models"
	"github.com/xsentiment/sentiment-bot/internal/weighting"
)

// DeadZone is the half-width around zero in which the weighted score resolves to Neutral
const DeadZone = 0.1

// HighConfidence is the lowest classifier confidence counted as high confidence
const HighConfidence = 0.8

// Member is one qualifying post of a cohort with everything the reduction needs
type Member struct {
	PostID         string
	AuthorID       string
	Verified       bool
	FollowersCount int
	Engagement     models.Engagement
	BotScore       float64 // 0 when the post has no bot signal
	Classification models.Classification
	Confidence     float64
}

// Contribution is a member resolved against one weighting config
type Contribution struct {
	Member
	Weight float64
}

// Contribute computes the weight of a single member
func Contribute(m Member, calc *weighting.Calculator) Contribution {
	return Contribution{
		Member: m,
		Weight: calc.Weight(weighting.Signals{
			Likes:          m.Engagement.Likes,
			Reposts:        m.Engagement.Reposts,
			Replies:        m.Engagement.Replies,
			Quotes:         m.Engagement.Quotes,
			FollowersCount: m.FollowersCount,
			Verified:       m.Verified,
			BotScore:       m.BotScore,
		}),
	}
}

// Tally accumulates contributions. Add and Merge are commutative and associative
// for the counts; float sums are reproducible when members are added in a fixed order.
type Tally struct {
	Total          int
	Bullish        int
	Bearish        int
	Neutral        int
	Likes          int
	Reposts        int
	BotFlagged     int
	HighConfidence int

	TotalWeight   float64
	BullishWeight float64
	BearishWeight float64

	authors  map[string]struct{}
	verified map[string]struct{}
}

// NewTally returns an empty tally
func NewTally() *Tally {
	return &Tally{
		authors:  make(map[string]struct{}),
		verified: make(map[string]struct{}),
	}
}

// Add folds one contribution into the tally
func (t *Tally) Add(c Contribution) {
	t.Total++
	switch c.Classification {
	case models.Bullish:
		t.Bullish++
		t.BullishWeight += c.Weight
	case models.Bearish:
		t.Bearish++
		t.BearishWeight += c.Weight
	default:
		t.Neutral++
	}
	t.TotalWeight += c.Weight

	t.Likes += c.Engagement.Likes
	t.Reposts += c.Engagement.Reposts

	t.authors[c.AuthorID] = struct{}{}
	if c.Verified {
		t.verified[c.AuthorID] = struct{}{}
	}

	if botdetect.IsLikelyBot(c.BotScore) {
		t.BotFlagged++
	}
	if c.Confidence >= HighConfidence {
		t.HighConfidence++
	}
}

// Merge combines two partial tallies into a new one
func Merge(a, b *Tally) *Tally {
	out := NewTally()
	for _, t := range []*Tally{a, b} {
		out.Total += t.Total
		out.Bullish += t.Bullish
		out.Bearish += t.Bearish
		out.Neutral += t.Neutral
		out.Likes += t.Likes
		out.Reposts += t.Reposts
		out.BotFlagged += t.BotFlagged
		out.HighConfidence += t.HighConfidence
		out.TotalWeight += t.TotalWeight
		out.BullishWeight += t.BullishWeight
		out.BearishWeight += t.BearishWeight
		for id := range t.authors {
			out.authors[id] = struct{}{}
		}
		for id := range t.verified {
			out.verified[id] = struct{}{}
		}
	}
	return out
}

// UniqueAuthors is the number of distinct authors seen
func (t *Tally) UniqueAuthors() int {
	return len(t.authors)
}

// VerifiedAuthors is the number of distinct verified authors seen
func (t *Tally) VerifiedAuthors() int {
	return len(t.verified)
}

// Fold reduces contributions in slice order
func Fold(contributions []Contribution) *Tally {
	t := NewTally()
	for _, c := range contributions {
		t.Add(c)
	}
	return t
}

// WeightedScore returns (bullish - bearish) / total weight, or 0 when nothing carries weight
func (t *Tally) WeightedScore() float64 {
	if t.TotalWeight == 0 {
		return 0
	}
	return (t.BullishWeight - t.BearishWeight) / t.TotalWeight
}

// Dominant applies the dead zone to a weighted score
func Dominant(score float64) models.Classification {
	switch {
	case score > DeadZone:
		return models.Bullish
	case score < -DeadZone:
		return models.Bearish
	default:
		return models.Neutral
	}
}

// Summarize fills the derived fields of an aggregate. It returns nil for an empty tally.
func (t *Tally) Summarize() *models.DailyAggregate {
	if t.Total == 0 {
		return nil
	}

	total := float64(t.Total)
	score := t.WeightedScore()

	return &models.DailyAggregate{
		TotalPosts:               t.Total,
		TotalPostsAfterBotFilter: t.Total - t.BotFlagged,
		UniqueAuthors:            t.UniqueAuthors(),
		VerifiedAuthors:          t.VerifiedAuthors(),

		BullishCount:      t.Bullish,
		BearishCount:      t.Bearish,
		NeutralCount:      t.Neutral,
		BullishPercentage: float64(t.Bullish) / total * 100,
		BearishPercentage: float64(t.Bearish) / total * 100,
		NeutralPercentage: float64(t.Neutral) / total * 100,

		WeightedScore:        score,
		WeightedBullishScore: t.BullishWeight,
		WeightedBearishScore: t.BearishWeight,
		TotalWeight:          t.TotalWeight,
		DominantSentiment:    Dominant(score),

		TotalLikes:           t.Likes,
		TotalReposts:         t.Reposts,
		AvgEngagementPerPost: float64(t.Likes+t.Reposts) / total,

		BotDetectionRate:         float64(t.BotFlagged) / total * 100,
		HighConfidencePercentage: float64(t.HighConfidence) / total * 100,
	}
}
