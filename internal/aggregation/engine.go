package aggregation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/xsentiment/sentiment-bot/internal/metrics"
	"github.com/xsentiment/sentiment-bot/internal/models"
	"github.com/xsentiment/sentiment-bot/internal/storage"
	"github.com/xsentiment/sentiment-bot/internal/weighting"
)

var (
	// ErrUnknownAlgorithm is returned for an empty or unregistered algorithm id
	ErrUnknownAlgorithm = errors.New("unknown sentiment algorithm")
	// ErrUnknownTopic is returned for a topic outside the tracked set
	ErrUnknownTopic = errors.New("unknown topic")
)

// AlgorithmRegistry reports which algorithm ids can have scores
type AlgorithmRegistry interface {
	Known(id string) bool
}

// Engine reduces one (date, topic, algorithm) cohort into a DailyAggregate. Callers must
// not run two aggregations for the same key at once.
type Engine struct {
	repo       storage.Repository
	calc       *weighting.Calculator
	algorithms AlgorithmRegistry
	clock      clockwork.Clock
}

// NewEngine creates an aggregation engine
func NewEngine(repo storage.Repository, calc *weighting.Calculator, algorithms AlgorithmRegistry, clock clockwork.Clock) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{
		repo:       repo,
		calc:       calc,
		algorithms: algorithms,
		clock:      clock,
	}
}

// DayWindow returns the UTC calendar day containing date as [start, end)
func DayWindow(date time.Time) (time.Time, time.Time) {
	d := date.UTC()
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// Aggregate builds and stores a new aggregate row. It returns nil, nil when no post qualifies.
func (e *Engine) Aggregate(ctx context.Context, date time.Time, topic models.Topic, algorithm string) (*models.DailyAggregate, error) {
	if err := e.validate(topic, algorithm); err != nil {
		return nil, err
	}

	logger := logrus.WithFields(logrus.Fields{
		"date":      date.Format("2006-01-02"),
		"topic":     topic,
		"algorithm": algorithm,
	})

	members, err := e.Cohort(ctx, date, topic, algorithm)
	if err != nil {
		metrics.AggregatesTotal.WithLabelValues(string(topic), algorithm, "error").Inc()
		return nil, err
	}

	agg := e.Compute(members)
	if agg == nil {
		metrics.AggregatesTotal.WithLabelValues(string(topic), algorithm, "empty").Inc()
		logger.Info("No qualifying posts, no aggregate produced")
		return nil, nil
	}

	start, _ := DayWindow(date)
	agg.ID = uuid.NewString()
	agg.Date = start
	agg.Topic = topic
	agg.AlgorithmID = algorithm
	agg.CreatedAt = e.clock.Now().UTC()

	if err := e.repo.InsertDailyAggregate(agg); err != nil {
		metrics.AggregatesTotal.WithLabelValues(string(topic), algorithm, "error").Inc()
		return nil, fmt.Errorf("failed to store aggregate: %w", err)
	}

	metrics.AggregatesTotal.WithLabelValues(string(topic), algorithm, "created").Inc()
	logger.WithFields(logrus.Fields{
		"posts":          agg.TotalPosts,
		"weighted_score": agg.WeightedScore,
		"dominant":       agg.DominantSentiment,
	}).Info("Daily aggregate created")

	return agg, nil
}

// Compute reduces members in post-ID order. It performs no I/O and leaves identity fields empty.
func (e *Engine) Compute(members []Member) *models.DailyAggregate {
	ordered := make([]Member, len(members))
	copy(ordered, members)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].PostID < ordered[j].PostID })

	contributions := make([]Contribution, len(ordered))
	for i, m := range ordered {
		contributions[i] = Contribute(m, e.calc)
	}

	agg := Fold(contributions).Summarize()
	if agg != nil {
		agg.WeightingConfigVersion = e.calc.Version()
	}
	return agg
}

// Cohort loads the qualifying members of a day. Posts without a score for algorithm,
// without engagement or without a known author are left out.
func (e *Engine) Cohort(ctx context.Context, date time.Time, topic models.Topic, algorithm string) ([]Member, error) {
	start, end := DayWindow(date)

	posts, err := e.repo.ListPosts(storage.PostQuery{Topic: topic, Start: start, End: end})
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}

	members := make([]Member, 0, len(posts))
	excluded := 0

	for _, post := range posts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		member, ok, err := e.member(post, algorithm)
		if err != nil {
			return nil, err
		}
		if !ok {
			excluded++
			continue
		}
		members = append(members, member)
	}

	if excluded > 0 {
		logrus.WithFields(logrus.Fields{
			"topic":     topic,
			"algorithm": algorithm,
			"excluded":  excluded,
		}).Debug("Posts excluded from cohort for missing data")
	}

	return members, nil
}

func (e *Engine) member(post models.Post, algorithm string) (Member, bool, error) {
	score, err := e.repo.GetSentimentScore(post.ID, algorithm)
	if errors.Is(err, storage.ErrNotFound) {
		return Member{}, false, nil
	}
	if err != nil {
		return Member{}, false, fmt.Errorf("failed to load sentiment score: %w", err)
	}

	engagement, err := e.repo.GetEngagement(post.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return Member{}, false, nil
	}
	if err != nil {
		return Member{}, false, fmt.Errorf("failed to load engagement: %w", err)
	}

	author, err := e.repo.GetAuthor(post.AuthorID)
	if errors.Is(err, storage.ErrNotFound) {
		return Member{}, false, nil
	}
	if err != nil {
		return Member{}, false, fmt.Errorf("failed to load author: %w", err)
	}

	botScore := 0.0
	signal, err := e.repo.GetBotSignal(post.ID)
	switch {
	case err == nil:
		botScore = signal.Score
	case !errors.Is(err, storage.ErrNotFound):
		return Member{}, false, fmt.Errorf("failed to load bot signal: %w", err)
	}

	return Member{
		PostID:         post.ID,
		AuthorID:       author.ID,
		Verified:       author.Verified,
		FollowersCount: author.FollowersCount,
		Engagement:     *engagement,
		BotScore:       botScore,
		Classification: score.Classification,
		Confidence:     score.Confidence,
	}, true, nil
}

func (e *Engine) validate(topic models.Topic, algorithm string) error {
	if algorithm == "" || !e.algorithms.Known(algorithm) {
		return fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}
	if _, err := models.ParseTopic(string(topic)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownTopic, err)
	}
	return nil
}

// RangeResult summarises a bulk aggregation
type RangeResult struct {
	Created []models.DailyAggregate `json:"created"`
	Empty   []string                `json:"empty"` // "date/topic/algorithm" keys with no qualifying posts
	Failed  map[string]error        `json:"-"`
}

// AggregateRange aggregates every day in [from, to] for each topic and algorithm. Unknown
// topics or algorithms abort before any row is written; other failures are collected per key.
func (e *Engine) AggregateRange(ctx context.Context, from, to time.Time, topics []models.Topic, algorithms []string) (*RangeResult, error) {
	for _, alg := range algorithms {
		for _, topic := range topics {
			if err := e.validate(topic, alg); err != nil {
				return nil, err
			}
		}
	}

	first, _ := DayWindow(from)
	last, _ := DayWindow(to)
	if last.Before(first) {
		return nil, fmt.Errorf("invalid range: %s is after %s", first.Format("2006-01-02"), last.Format("2006-01-02"))
	}

	result := &RangeResult{Failed: make(map[string]error)}
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		for _, topic := range topics {
			for _, alg := range algorithms {
				if err := ctx.Err(); err != nil {
					return result, err
				}

				key := fmt.Sprintf("%s/%s/%s", day.Format("2006-01-02"), topic, alg)
				agg, err := e.Aggregate(ctx, day, topic, alg)
				switch {
				case err != nil:
					logrus.WithField("key", key).Errorf("Aggregation failed: %v", err)
					result.Failed[key] = err
				case agg == nil:
					result.Empty = append(result.Empty, key)
				default:
					result.Created = append(result.Created, *agg)
				}
			}
		}
	}

	logrus.Infof("Bulk aggregation finished: %d created, %d empty, %d failed",
		len(result.Created), len(result.Empty), len(result.Failed))
	return result, nil
}
