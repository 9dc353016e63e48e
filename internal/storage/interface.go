package storage

import (
	"context"
	"errors"
	"time"

	"github.com/xsentiment/sentiment-bot/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when inserting a record whose key already exists
	ErrDuplicate = errors.New("record already exists")
)

// BlobStore defines the contract for exported document storage
type BlobStore interface {
	Store(ctx context.Context, name string, data []byte) error
	Retrieve(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// PostQuery selects posts created in [Start, End). An empty Topic matches every post.
type PostQuery struct {
	Topic models.Topic
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the query window
func (q PostQuery) Contains(t time.Time) bool {
	if !q.Start.IsZero() && t.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && !t.Before(q.End) {
		return false
	}
	return true
}

// AggregateQuery filters daily aggregates. Zero values match everything; From and To are
// inclusive calendar dates.
type AggregateQuery struct {
	Topic     models.Topic
	Algorithm string
	From      time.Time
	To        time.Time
}

// Matches reports whether a satisfies the query
func (q AggregateQuery) Matches(a *models.DailyAggregate) bool {
	if q.Topic != "" && a.Topic != q.Topic {
		return false
	}
	if q.Algorithm != "" && a.AlgorithmID != q.Algorithm {
		return false
	}
	date := a.DateString()
	if !q.From.IsZero() && date < q.From.Format("2006-01-02") {
		return false
	}
	if !q.To.IsZero() && date > q.To.Format("2006-01-02") {
		return false
	}
	return true
}

// Repository persists the collected and derived records. Posts, engagement, bot signals
// and sentiment scores are insert-only; authors are upserted on re-collection.
type Repository interface {
	UpsertAuthor(author *models.Author) error
	GetAuthor(id string) (*models.Author, error)

	InsertPost(post *models.Post) error
	GetPost(id string) (*models.Post, error)
	// ListPosts returns matching posts ordered by ID
	ListPosts(q PostQuery) ([]models.Post, error)
	TagPost(postID string, topic models.Topic) error

	InsertEngagement(e *models.Engagement) error
	GetEngagement(postID string) (*models.Engagement, error)

	InsertBotSignal(s *models.BotSignal) error
	GetBotSignal(postID string) (*models.BotSignal, error)

	// InsertSentimentScore enforces at most one score per (post, algorithm)
	InsertSentimentScore(s *models.SentimentScore) error
	GetSentimentScore(postID, algorithm string) (*models.SentimentScore, error)
	ListSentimentScores(postID string) ([]models.SentimentScore, error)

	InsertDailyAggregate(a *models.DailyAggregate) error
	// ListDailyAggregates returns matching rows ordered by date, then creation time
	ListDailyAggregates(q AggregateQuery) ([]models.DailyAggregate, error)

	SaveBatchJob(job *models.BatchJob) error
	GetBatchJob(id string) (*models.BatchJob, error)
	// LatestBatchJob returns the most recently started job
	LatestBatchJob() (*models.BatchJob, error)

	Close() error
}

func scoreKey(postID, algorithm string) string {
	return postID + "|" + algorithm
}

func postTopicKey(topic models.Topic, postID string) string {
	return string(topic) + "|" + postID
}
