package sentiment

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/xsentiment/sentiment-bot/internal/metrics"
	"github.com/xsentiment/sentiment-bot/internal/models"
)

// Service routes classification requests to registered analyzers and falls back to the
// keyword analyzer when the requested one is unknown or fails
type Service struct {
	mu        sync.RWMutex
	analyzers map[string]Analyzer
	fallback  Analyzer
	clock     clockwork.Clock
}

// step is one entry of the ordered fallback chain
type step struct {
	analyzer Analyzer
	reason   string // empty for the requested analyzer itself
}

// NewService creates a service whose fallback is a keyword analyzer; extra analyzers are registered by ID
func NewService(fallback *KeywordAnalyzer, clock clockwork.Clock, analyzers ...Analyzer) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Service{
		analyzers: make(map[string]Analyzer),
		fallback:  fallback,
		clock:     clock,
	}
	s.Register(fallback)
	for _, a := range analyzers {
		s.Register(a)
	}
	return s
}

// Register adds or replaces an analyzer under its ID
func (s *Service) Register(a Analyzer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyzers[a.ID()] = a
}

// Known reports whether an analyzer is registered for id
func (s *Service) Known(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.analyzers[id]
	return ok
}

// Algorithms lists registered analyzer IDs
func (s *Service) Algorithms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.analyzers))
	for id := range s.analyzers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// chain builds the ordered list of analyzers to try for algorithm
func (s *Service) chain(algorithm string) []step {
	s.mu.RLock()
	requested, ok := s.analyzers[algorithm]
	s.mu.RUnlock()

	if !ok {
		return []step{{analyzer: s.fallback, reason: ReasonUnknownAlgorithm}}
	}
	if requested.ID() == s.fallback.ID() {
		return []step{{analyzer: requested}}
	}
	return []step{
		{analyzer: requested},
		{analyzer: s.fallback, reason: ReasonClassifierFailed},
	}
}

// Classify produces the sentiment score of one post for the requested algorithm. An empty
// algorithm is a configuration error and is never substituted.
func (s *Service) Classify(ctx context.Context, postID, text, algorithm string) (*models.SentimentScore, error) {
	if algorithm == "" {
		return nil, ErrMissingAlgorithm
	}

	logger := logrus.WithFields(logrus.Fields{
		"post_id":   postID,
		"algorithm": algorithm,
	})

	steps := s.chain(algorithm)
	if steps[0].reason == ReasonUnknownAlgorithm {
		logger.Warn("Unknown sentiment algorithm, using keyword analyzer")
	}

	var lastErr error
	for _, st := range steps {
		start := s.clock.Now()
		result, err := st.analyzer.Analyze(ctx, text)
		elapsed := s.clock.Since(start)
		metrics.ClassifierDuration.WithLabelValues(st.analyzer.ID()).Observe(elapsed.Seconds())

		if err != nil {
			lastErr = err
			metrics.ClassificationsTotal.WithLabelValues(st.analyzer.ID(), "error").Inc()
			logger.WithField("analyzer", st.analyzer.ID()).Errorf("Sentiment analysis failed: %v", err)

			// A cancelled run must not be recorded as a fallback
			if ctx.Err() != nil {
				return nil, fmt.Errorf("classify post %s: %w", postID, ctx.Err())
			}
			continue
		}

		reason := st.reason
		score := &models.SentimentScore{
			PostID:             postID,
			AlgorithmID:        result.AlgorithmID,
			AlgorithmVersion:   result.AlgorithmVersion,
			Classification:     result.Classification,
			Confidence:         result.Confidence,
			RawScore:           result.RawScore,
			Reasoning:          result.Reasoning,
			RequestedAlgorithm: algorithm,
			Fallback:           reason != "",
			FallbackReason:     reason,
			ProcessingTimeMS:   elapsed.Milliseconds(),
			CreatedAt:          s.clock.Now().UTC(),
		}

		if score.Fallback {
			metrics.FallbacksTotal.WithLabelValues(algorithm, reason).Inc()
			metrics.ClassificationsTotal.WithLabelValues(result.AlgorithmID, "fallback").Inc()
			logger.WithField("reason", reason).Infof("Classified with fallback analyzer %s", result.AlgorithmID)
		} else {
			metrics.ClassificationsTotal.WithLabelValues(result.AlgorithmID, "ok").Inc()
		}

		return score, nil
	}

	return nil, fmt.Errorf("classify post %s: %w", postID, lastErr)
}
