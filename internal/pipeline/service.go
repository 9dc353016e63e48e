package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/xsentiment/sentiment-bot/internal/aggregation"
	"github.com/xsentiment/sentiment-bot/internal/analysis"
	"github.com/xsentiment/sentiment-bot/internal/collector"
	"github.com/xsentiment/sentiment-bot/internal/metrics"
	"github.com/xsentiment/sentiment-bot/internal/models"
	"github.com/xsentiment/sentiment-bot/internal/notifications"
	"github.com/xsentiment/sentiment-bot/internal/storage"
)

// ErrRunInProgress is returned when a run is requested while another one is active
var ErrRunInProgress = errors.New("a pipeline run is already in progress")

// Collector fetches posts for topics
type Collector interface {
	Collect(ctx context.Context, topics []models.Topic, since time.Time, batchJobID string) (*collector.Summary, error)
}

// Analyzer scores stored posts
type Analyzer interface {
	AnalyzePending(ctx context.Context, q storage.PostQuery) (*analysis.Stats, error)
}

// Aggregator produces one daily aggregate
type Aggregator interface {
	Aggregate(ctx context.Context, date time.Time, topic models.Topic, algorithm string) (*models.DailyAggregate, error)
}

// Options controls what a daily run covers
type Options struct {
	Topics             []models.Topic
	Algorithms         []string
	LookbackHours      int
	FallbackAlertRatio float64
	WeightingVersion   string
	WeightingFormulas  map[string]string
	RunTimeout         time.Duration
}

// Service runs the daily collect, analyze, aggregate, export and notify chain
type Service struct {
	repo       storage.Repository
	blobs      storage.BlobStore
	collector  Collector
	analyzer   Analyzer
	aggregator Aggregator
	notifier   notifications.NotificationInterface
	clock      clockwork.Clock
	opts       Options

	running sync.Mutex
	active  atomic.Bool
	mu      sync.RWMutex
	metrics *Metrics
}

// Metrics holds the outcome of the last run
type Metrics struct {
	LastRun           time.Time `json:"last_run"`
	LastRunDuration   string    `json:"last_run_duration"`
	LastStatus        string    `json:"last_status"`
	LastBatchJobID    string    `json:"last_batch_job_id"`
	PostsCollected    int       `json:"posts_collected"`
	PostsAnalyzed     int       `json:"posts_analyzed"`
	Fallbacks         int       `json:"fallbacks"`
	AggregatesCreated int       `json:"aggregates_created"`
	ErrorCount        int       `json:"error_count"`
}

// NewService creates a pipeline. blobs and notifier may be nil.
func NewService(
	repo storage.Repository,
	blobs storage.BlobStore,
	c Collector,
	a Analyzer,
	agg Aggregator,
	notifier notifications.NotificationInterface,
	clock clockwork.Clock,
	opts Options,
) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if opts.LookbackHours <= 0 {
		opts.LookbackHours = 24
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 2 * time.Hour
	}
	return &Service{
		repo:       repo,
		blobs:      blobs,
		collector:  c,
		analyzer:   a,
		aggregator: agg,
		notifier:   notifier,
		clock:      clock,
		opts:       opts,
		metrics:    &Metrics{},
	}
}

// TargetDate is the day a run started at now aggregates: the previous UTC day
func TargetDate(now time.Time) time.Time {
	start, _ := aggregation.DayWindow(now.UTC().AddDate(0, 0, -1))
	return start
}

// RunDaily performs one full run for the previous UTC day
func (s *Service) RunDaily(ctx context.Context) (*models.DailyReport, error) {
	return s.Run(ctx, TargetDate(s.clock.Now()))
}

// Run collects recent posts, scores them and aggregates date for every topic and algorithm
func (s *Service) Run(ctx context.Context, date time.Time) (*models.DailyReport, error) {
	if !s.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer s.running.Unlock()
	s.active.Store(true)
	defer s.active.Store(false)

	ctx, cancel := context.WithTimeout(ctx, s.opts.RunTimeout)
	defer cancel()

	start := s.clock.Now()
	dayStart, _ := aggregation.DayWindow(date)

	job := &models.BatchJob{
		ID:        uuid.NewString(),
		StartedAt: start.UTC(),
		Status:    models.JobRunning,
	}
	for _, topic := range s.opts.Topics {
		job.SearchQueries = append(job.SearchQueries, topic.SearchQuery())
	}
	if err := s.repo.SaveBatchJob(job); err != nil {
		return nil, fmt.Errorf("failed to create batch job: %w", err)
	}

	logger := logrus.WithFields(logrus.Fields{
		"batch_job_id": job.ID,
		"date":         dayStart.Format("2006-01-02"),
	})
	logger.Info("Starting pipeline run")

	report, runErr := s.run(ctx, job, dayStart)

	job.FinishedAt = s.clock.Now().UTC()
	job.ErrorsCount = len(job.Errors)
	job.Status = models.JobCompleted
	if runErr != nil {
		job.Status = models.JobFailed
		job.Errors = append(job.Errors, runErr.Error())
		job.ErrorsCount = len(job.Errors)
	}
	if err := s.repo.SaveBatchJob(job); err != nil {
		logger.Errorf("Failed to update batch job: %v", err)
	}

	duration := s.clock.Since(start)
	s.updateMetrics(job, report, duration)
	metrics.PipelineRunDuration.WithLabelValues(string(job.Status)).Observe(duration.Seconds())

	if runErr != nil {
		logger.Errorf("Pipeline run failed: %v", runErr)
		return report, runErr
	}

	metrics.LastSuccessfulRun.Set(float64(job.FinishedAt.Unix()))
	logger.Infof("Pipeline run completed in %v", duration)
	return report, nil
}

func (s *Service) run(ctx context.Context, job *models.BatchJob, dayStart time.Time) (*models.DailyReport, error) {
	now := s.clock.Now().UTC()

	// Collect
	since := now.Add(-time.Duration(s.opts.LookbackHours) * time.Hour)
	summary, err := s.collector.Collect(ctx, s.opts.Topics, since, job.ID)
	if err != nil {
		return nil, fmt.Errorf("collect: %w", err)
	}
	job.PostsCollected = summary.Fetched
	job.PostsStored = summary.Stored
	job.Errors = append(job.Errors, summary.Errors...)

	// Score everything the target day and the collection window can contain
	analyzeFrom := dayStart
	if since.Before(analyzeFrom) {
		analyzeFrom = since
	}
	stats, err := s.analyzer.AnalyzePending(ctx, storage.PostQuery{Start: analyzeFrom, End: now.Add(time.Nanosecond)})
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}
	job.PostsAnalyzed = stats.Classified
	if stats.Errors > 0 {
		job.Errors = append(job.Errors, fmt.Sprintf("analyze: %d posts failed", stats.Errors))
	}

	// Aggregate every (topic, algorithm) key concurrently
	aggregates, empty, aggErrs := s.aggregateAll(ctx, dayStart)
	job.AggregatesCreated = len(aggregates)
	job.Errors = append(job.Errors, aggErrs...)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}

	report := &models.DailyReport{
		GeneratedAt:       s.clock.Now().UTC(),
		Date:              dayStart,
		BatchJobID:        job.ID,
		PostsCollected:    summary.Stored,
		PostsAnalyzed:     stats.Classified,
		FallbackCount:     stats.Fallbacks,
		Aggregates:        aggregates,
		EmptyCohorts:      empty,
		WeightingConfig:   s.opts.WeightingVersion,
		WeightingFormulas: s.opts.WeightingFormulas,
	}

	// Export
	if s.blobs != nil {
		if _, err := storage.ExportAggregates(ctx, s.blobs, aggregates); err != nil {
			logrus.Errorf("Failed to export aggregates: %v", err)
			job.Errors = append(job.Errors, fmt.Sprintf("export: %v", err))
		}
		if _, err := storage.ExportReport(ctx, s.blobs, report); err != nil {
			logrus.Errorf("Failed to export report: %v", err)
			job.Errors = append(job.Errors, fmt.Sprintf("export: %v", err))
		}
	}

	// Notify
	if s.notifier != nil {
		if err := s.notifier.SendReport(ctx, report); err != nil {
			logrus.Errorf("Failed to send report: %v", err)
			job.Errors = append(job.Errors, fmt.Sprintf("notify: %v", err))
		}

		if s.shouldAlert(stats) {
			if err := s.notifier.SendAlert(ctx, s.fallbackAlert(stats)); err != nil {
				logrus.Errorf("Failed to send alert: %v", err)
				job.Errors = append(job.Errors, fmt.Sprintf("alert: %v", err))
			}
		}
	}

	return report, nil
}

type aggregateOutcome struct {
	key   string
	agg   *models.DailyAggregate
	err   error
	topic models.Topic
	alg   string
}

func (s *Service) aggregateAll(ctx context.Context, date time.Time) ([]models.DailyAggregate, []string, []string) {
	var wg sync.WaitGroup
	outcomes := make(chan aggregateOutcome, len(s.opts.Topics)*len(s.opts.Algorithms))

	for _, topic := range s.opts.Topics {
		for _, alg := range s.opts.Algorithms {
			wg.Add(1)
			go func(topic models.Topic, alg string) {
				defer wg.Done()
				agg, err := s.aggregator.Aggregate(ctx, date, topic, alg)
				outcomes <- aggregateOutcome{
					key:   fmt.Sprintf("%s/%s", topic, alg),
					agg:   agg,
					err:   err,
					topic: topic,
					alg:   alg,
				}
			}(topic, alg)
		}
	}

	wg.Wait()
	close(outcomes)

	var collected []aggregateOutcome
	for o := range outcomes {
		collected = append(collected, o)
	}
	sort.Slice(collected, func(i, j int) bool {
		return collected[i].key < collected[j].key
	})

	var aggregates []models.DailyAggregate
	var empty, errs []string
	for _, o := range collected {
		switch {
		case o.err != nil:
			logrus.WithFields(logrus.Fields{"topic": o.topic, "algorithm": o.alg}).Errorf("Aggregation failed: %v", o.err)
			errs = append(errs, fmt.Sprintf("aggregate %s: %v", o.key, o.err))
		case o.agg == nil:
			empty = append(empty, o.key)
		default:
			aggregates = append(aggregates, *o.agg)
		}
	}
	return aggregates, empty, errs
}

func (s *Service) shouldAlert(stats *analysis.Stats) bool {
	return s.opts.FallbackAlertRatio > 0 && stats.Classified > 0 && stats.FallbackRatio() >= s.opts.FallbackAlertRatio
}

func (s *Service) fallbackAlert(stats *analysis.Stats) *models.Alert {
	return &models.Alert{
		ID:    uuid.NewString(),
		Type:  "urgent",
		Title: "High classifier fallback rate",
		Message: fmt.Sprintf("%d of %d posts (%.0f%%) were classified by the fallback analyzer",
			stats.Fallbacks, stats.Classified, stats.FallbackRatio()*100),
		CreatedAt: s.clock.Now().UTC(),
	}
}

func (s *Service) updateMetrics(job *models.BatchJob, report *models.DailyReport, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.LastRun = job.StartedAt
	s.metrics.LastRunDuration = duration.String()
	s.metrics.LastStatus = string(job.Status)
	s.metrics.LastBatchJobID = job.ID
	s.metrics.PostsCollected = job.PostsStored
	s.metrics.PostsAnalyzed = job.PostsAnalyzed
	s.metrics.AggregatesCreated = job.AggregatesCreated
	s.metrics.ErrorCount = job.ErrorsCount
	s.metrics.Fallbacks = 0
	if report != nil {
		s.metrics.Fallbacks = report.FallbackCount
	}
}

// Busy reports whether a run is in progress
func (s *Service) Busy() bool {
	return s.active.Load()
}

// Snapshot returns a copy of the last run metrics
func (s *Service) Snapshot() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.metrics
}

// GetMetrics returns current metrics as JSON
func (s *Service) GetMetrics() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, _ := json.MarshalIndent(s.metrics, "", "  ")
	return string(data)
}
