package models

import "time"

// DailyReport summarises one pipeline run for notification channels
type DailyReport struct {
	GeneratedAt       time.Time         `json:"generated_at"`
	Date              time.Time         `json:"date"`
	BatchJobID        string            `json:"batch_job_id"`
	PostsCollected    int               `json:"posts_collected"`
	PostsAnalyzed     int               `json:"posts_analyzed"`
	FallbackCount     int               `json:"fallback_count"`
	Aggregates        []DailyAggregate  `json:"aggregates"`
	EmptyCohorts      []string          `json:"empty_cohorts,omitempty"` // "topic/algorithm" keys with no data
	WeightingConfig   string            `json:"weighting_config"`
	WeightingFormulas map[string]string `json:"weighting_formulas,omitempty"`
}

// Alert represents an urgent notification
type Alert struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // "critical", "urgent", "info"
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
