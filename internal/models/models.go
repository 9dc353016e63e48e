package models

import (
	"fmt"
	"time"
)

// Topic is one of the tracked subjects posts are aggregated against
type Topic string

const (
	TopicBitcoin           Topic = "Bitcoin"
	TopicMSTR              Topic = "MSTR"
	TopicBitcoinTreasuries Topic = "BitcoinTreasuries"
)

// AllTopics lists every tracked topic in a stable order
var AllTopics = []Topic{TopicBitcoin, TopicMSTR, TopicBitcoinTreasuries}

// SearchQuery returns the X search query used to collect posts for the topic
func (t Topic) SearchQuery() string {
	return "#" + string(t)
}

// ParseTopic validates a topic name
func ParseTopic(name string) (Topic, error) {
	for _, t := range AllTopics {
		if string(t) == name {
			return t, nil
		}
	}
	return "", fmt.Errorf("invalid topic %q: must be one of %v", name, AllTopics)
}

// Classification is the sentiment label assigned to a single post
type Classification string

const (
	Bullish Classification = "Bullish"
	Bearish Classification = "Bearish"
	Neutral Classification = "Neutral"
)

// Post represents a single X post collected for analysis
type Post struct {
	ID          string    `json:"id"`
	AuthorID    string    `json:"author_id"`
	Text        string    `json:"text"`
	Language    string    `json:"language,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	CollectedAt time.Time `json:"collected_at"`
	BatchJobID  string    `json:"batch_job_id,omitempty"`
}

// PostTopic links a post to the topic whose search query returned it
type PostTopic struct {
	PostID string `json:"post_id"`
	Topic  Topic  `json:"topic"`
}

// Author represents the X account that created a post
type Author struct {
	ID               string    `json:"id"`
	Username         string    `json:"username"`
	DisplayName      string    `json:"display_name"`
	Description      string    `json:"description"`
	FollowersCount   int       `json:"followers_count"`
	FollowingCount   int       `json:"following_count"`
	Verified         bool      `json:"verified"`
	AccountCreatedAt time.Time `json:"account_created_at"`
	FirstSeen        time.Time `json:"first_seen"`
	LastUpdated      time.Time `json:"last_updated"`
}

// Engagement holds the public counters of a post
type Engagement struct {
	PostID  string `json:"post_id"`
	Likes   int    `json:"likes"`
	Reposts int    `json:"reposts"`
	Replies int    `json:"replies"`
	Quotes  int    `json:"quotes"`
}

// Total returns the engagement score with reposts counted twice
func (e Engagement) Total() int {
	return e.Likes + e.Reposts*2 + e.Replies + e.Quotes
}

// BotSignals records which heuristics fired for a bot-likelihood estimate
type BotSignals struct {
	AccountAgeDays *int     `json:"account_age_days,omitempty"`
	FollowerRatio  *float64 `json:"follower_ratio,omitempty"`
	EmptyProfile   bool     `json:"empty_profile,omitempty"`
	UsernameDigits int      `json:"username_digits,omitempty"`
	Verified       bool     `json:"verified,omitempty"`
}

// BotSignal is the bot-likelihood score of a post's author at classification time
type BotSignal struct {
	ID              string     `json:"id"`
	PostID          string     `json:"post_id"`
	Score           float64    `json:"score"`
	Signals         BotSignals `json:"signals"`
	DetectorVersion string     `json:"detector_version"`
	CreatedAt       time.Time  `json:"created_at"`
}

// SentimentScore is the result of one algorithm classifying one post
type SentimentScore struct {
	PostID             string         `json:"post_id"`
	AlgorithmID        string         `json:"algorithm_id"`
	AlgorithmVersion   string         `json:"algorithm_version"`
	Classification     Classification `json:"classification"`
	Confidence         float64        `json:"confidence"`
	RawScore           *float64       `json:"raw_score,omitempty"` // 0-100 when the algorithm produces one
	Reasoning          string         `json:"reasoning,omitempty"`
	RequestedAlgorithm string         `json:"requested_algorithm"`
	Fallback           bool           `json:"fallback"`
	FallbackReason     string         `json:"fallback_reason,omitempty"`
	ProcessingTimeMS   int64          `json:"processing_time_ms"`
	CreatedAt          time.Time      `json:"created_at"`
}

// WeightingConfig is a published, immutable set of weighting formula descriptors
type WeightingConfig struct {
	Version                string    `json:"version" yaml:"version"`
	VisibilityFormula      string    `json:"visibility_formula" yaml:"visibility_formula"`
	InfluenceFormula       string    `json:"influence_formula" yaml:"influence_formula"`
	BotPenaltyFormula      string    `json:"bot_penalty_formula" yaml:"bot_penalty_formula"`
	BotPenaltySlope        float64   `json:"bot_penalty_slope,omitempty" yaml:"bot_penalty_slope"`
	VerificationMultiplier float64   `json:"verification_multiplier" yaml:"verification_multiplier"`
	EffectiveDate          time.Time `json:"effective_date" yaml:"effective_date"`
	Description            string    `json:"description,omitempty" yaml:"description"`
}

// JobStatus is the lifecycle state of a batch job
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// BatchJob records one execution of the daily pipeline
type BatchJob struct {
	ID                string    `json:"id"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at,omitempty"`
	Status            JobStatus `json:"status"`
	PostsCollected    int       `json:"posts_collected"`
	PostsStored       int       `json:"posts_stored"`
	PostsAnalyzed     int       `json:"posts_analyzed"`
	AggregatesCreated int       `json:"aggregates_created"`
	ErrorsCount       int       `json:"errors_count"`
	Errors            []string  `json:"errors,omitempty"`
	SearchQueries     []string  `json:"search_queries"`
}

// Duration returns how long the job ran, or zero while it is still running
func (j BatchJob) Duration() time.Duration {
	if j.FinishedAt.IsZero() {
		return 0
	}
	return j.FinishedAt.Sub(j.StartedAt)
}
