package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/xsentiment/sentiment-bot/internal/botdetect"
	"github.com/xsentiment/sentiment-bot/internal/models"
	"github.com/xsentiment/sentiment-bot/internal/storage"
)

// Classifier produces the sentiment score of a post for an algorithm
type Classifier interface {
	Classify(ctx context.Context, postID, text, algorithm string) (*models.SentimentScore, error)
}

// Config controls a scoring run
type Config struct {
	Algorithm   string
	MaxAPICalls int // classifications per run, 0 for no limit
	Workers     int
}

// Stats summarises a scoring run
type Stats struct {
	Considered int `json:"considered"`
	Classified int `json:"classified"`
	Fallbacks  int `json:"fallbacks"`
	BotScored  int `json:"bot_scored"`
	Skipped    int `json:"skipped"`
	Deferred   int `json:"deferred"`
	Errors     int `json:"errors"`
}

// FallbackRatio is the share of classified posts that used a fallback analyzer
func (s Stats) FallbackRatio() float64 {
	if s.Classified == 0 {
		return 0
	}
	return float64(s.Fallbacks) / float64(s.Classified)
}

// Service scores stored posts: one sentiment score per algorithm and one bot signal per post
type Service struct {
	repo       storage.Repository
	classifier Classifier
	estimator  *botdetect.Estimator
	clock      clockwork.Clock
	config     Config
}

// NewService creates a scoring service
func NewService(repo storage.Repository, classifier Classifier, estimator *botdetect.Estimator, clock clockwork.Clock, cfg Config) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if estimator == nil {
		estimator = botdetect.NewEstimator()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Service{
		repo:       repo,
		classifier: classifier,
		estimator:  estimator,
		clock:      clock,
		config:     cfg,
	}
}

// Processed reports whether a post already has a score for algorithm, either produced by
// it or requested for it and served by a fallback.
func Processed(scores []models.SentimentScore, algorithm string) bool {
	for _, s := range scores {
		if s.AlgorithmID == algorithm || s.RequestedAlgorithm == algorithm {
			return true
		}
	}
	return false
}

// AnalyzePending classifies every post in q that has no score for the configured algorithm
// and estimates bot likelihood for posts without a bot signal.
func (s *Service) AnalyzePending(ctx context.Context, q storage.PostQuery) (*Stats, error) {
	if s.config.Algorithm == "" {
		return nil, errors.New("analysis: no sentiment algorithm configured")
	}

	posts, err := s.repo.ListPosts(q)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}

	stats := &Stats{Considered: len(posts)}
	pending := make([]models.Post, 0, len(posts))

	for _, post := range posts {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		if s.scoreBot(post, stats) {
			stats.BotScored++
		}

		scores, err := s.repo.ListSentimentScores(post.ID)
		if err != nil {
			logrus.WithField("post_id", post.ID).Errorf("Failed to load sentiment scores: %v", err)
			stats.Errors++
			continue
		}
		if Processed(scores, s.config.Algorithm) {
			stats.Skipped++
			continue
		}
		pending = append(pending, post)
	}

	if limit := s.config.MaxAPICalls; limit > 0 && len(pending) > limit {
		stats.Deferred = len(pending) - limit
		logrus.Warnf("Classification limit reached: %d posts deferred to the next run", stats.Deferred)
		pending = pending[:limit]
	}

	if err := s.classifyAll(ctx, pending, stats); err != nil {
		return stats, err
	}

	logrus.WithFields(logrus.Fields{
		"algorithm":  s.config.Algorithm,
		"considered": stats.Considered,
		"classified": stats.Classified,
		"fallbacks":  stats.Fallbacks,
		"bot_scored": stats.BotScored,
		"skipped":    stats.Skipped,
		"deferred":   stats.Deferred,
		"errors":     stats.Errors,
	}).Info("Scoring run finished")

	return stats, nil
}

// scoreBot stores a bot signal for post when none exists. Existing signals are never replaced.
func (s *Service) scoreBot(post models.Post, stats *Stats) bool {
	logger := logrus.WithField("post_id", post.ID)

	_, err := s.repo.GetBotSignal(post.ID)
	if err == nil {
		return false
	}
	if !errors.Is(err, storage.ErrNotFound) {
		logger.Errorf("Failed to load bot signal: %v", err)
		stats.Errors++
		return false
	}

	author, err := s.repo.GetAuthor(post.AuthorID)
	if err != nil {
		logger.Debugf("No author for bot estimation: %v", err)
		return false
	}

	now := s.clock.Now().UTC()
	result := s.estimator.Estimate(botdetect.FromAuthor(author), now)

	signal := &models.BotSignal{
		ID:              uuid.NewString(),
		PostID:          post.ID,
		Score:           result.Score,
		Signals:         result.Signals,
		DetectorVersion: s.estimator.Version(),
		CreatedAt:       now,
	}
	if err := s.repo.InsertBotSignal(signal); err != nil {
		if !errors.Is(err, storage.ErrDuplicate) {
			logger.Errorf("Failed to store bot signal: %v", err)
			stats.Errors++
		}
		return false
	}
	return true
}

func (s *Service) classifyAll(ctx context.Context, posts []models.Post, stats *Stats) error {
	jobs := make(chan models.Post)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for post := range jobs {
				outcome := s.classify(ctx, post)

				mu.Lock()
				switch outcome {
				case outcomeClassified:
					stats.Classified++
				case outcomeFallback:
					stats.Classified++
					stats.Fallbacks++
				case outcomeSkipped:
					stats.Skipped++
				case outcomeError:
					stats.Errors++
				}
				mu.Unlock()
			}
		}()
	}

dispatch:
	for _, post := range posts {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- post:
		}
	}
	close(jobs)
	wg.Wait()

	return ctx.Err()
}

type outcome int

const (
	outcomeClassified outcome = iota
	outcomeFallback
	outcomeSkipped
	outcomeError
)

func (s *Service) classify(ctx context.Context, post models.Post) outcome {
	logger := logrus.WithFields(logrus.Fields{
		"post_id":   post.ID,
		"algorithm": s.config.Algorithm,
	})

	score, err := s.classifier.Classify(ctx, post.ID, post.Text, s.config.Algorithm)
	if err != nil {
		if ctx.Err() == nil {
			logger.Errorf("Classification failed: %v", err)
		}
		return outcomeError
	}

	if err := s.repo.InsertSentimentScore(score); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			logger.Debug("Post already has a score for the produced algorithm")
			return outcomeSkipped
		}
		logger.Errorf("Failed to store sentiment score: %v", err)
		return outcomeError
	}

	if score.Fallback {
		return outcomeFallback
	}
	return outcomeClassified
}
