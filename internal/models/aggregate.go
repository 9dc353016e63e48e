package models

import "time"

// DailyAggregate is the weighted sentiment of one topic on one day for one algorithm.
// Rows are append-only: re-running an aggregation produces a new row.
type DailyAggregate struct {
	ID          string    `json:"id"`
	Date        time.Time `json:"date"`
	Topic       Topic     `json:"topic"`
	AlgorithmID string    `json:"algorithm_id"`

	// Volume
	TotalPosts               int `json:"total_posts"`
	TotalPostsAfterBotFilter int `json:"total_posts_after_bot_filter"`
	UniqueAuthors            int `json:"unique_authors"`
	VerifiedAuthors          int `json:"verified_authors"`

	// Distribution
	BullishCount      int     `json:"bullish_count"`
	BearishCount      int     `json:"bearish_count"`
	NeutralCount      int     `json:"neutral_count"`
	BullishPercentage float64 `json:"bullish_percentage"`
	BearishPercentage float64 `json:"bearish_percentage"`
	NeutralPercentage float64 `json:"neutral_percentage"`

	// Weighted scores
	WeightedScore        float64        `json:"weighted_score"`
	WeightedBullishScore float64        `json:"weighted_bullish_score"`
	WeightedBearishScore float64        `json:"weighted_bearish_score"`
	TotalWeight          float64        `json:"total_weight"`
	DominantSentiment    Classification `json:"dominant_sentiment"`

	// Engagement
	TotalLikes           int     `json:"total_likes"`
	TotalReposts         int     `json:"total_reposts"`
	AvgEngagementPerPost float64 `json:"avg_engagement_per_post"`

	// Quality
	BotDetectionRate         float64 `json:"bot_detection_rate"`
	HighConfidencePercentage float64 `json:"high_confidence_percentage"`

	WeightingConfigVersion string    `json:"weighting_config_version"`
	CreatedAt              time.Time `json:"created_at"`
}

// DateString formats the aggregate date as YYYY-MM-DD
func (a DailyAggregate) DateString() string {
	return a.Date.Format("2006-01-02")
}
