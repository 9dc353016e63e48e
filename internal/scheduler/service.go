package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/xsentiment/sentiment-bot/internal/models"
	"github.com/xsentiment/sentiment-bot/internal/pipeline"
)

// Runner performs one daily pipeline run
type Runner interface {
	RunDaily(ctx context.Context) (*models.DailyReport, error)
}

// Service handles scheduling of the daily batch
type Service struct {
	runner Runner
	hour   int
	minute int
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// NewService creates a new scheduler service running at hour:minute in loc
func NewService(runner Runner, hour, minute int, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		runner: runner,
		hour:   hour,
		minute: minute,
		cron:   cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Expression returns the cron expression of the daily batch
func (s *Service) Expression() string {
	return fmt.Sprintf("0 %d %d * * *", s.minute, s.hour)
}

// Start begins the scheduled daily batch
func (s *Service) Start() error {
	_, err := s.cron.AddFunc(s.Expression(), s.runOnce)
	if err != nil {
		return err
	}

	s.cron.Start()
	logrus.Infof("Scheduler started: daily batch at %02d:%02d (%s)", s.hour, s.minute, s.cron.Location())
	return nil
}

func (s *Service) runOnce() {
	logrus.Info("Starting scheduled daily batch")
	_, err := s.runner.RunDaily(s.ctx)
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		logrus.Warn("Skipping scheduled batch: previous run still in progress")
	case err != nil:
		logrus.Errorf("Scheduled daily batch failed: %v", err)
	}
}

// Stop stops the scheduler and cancels a running batch
func (s *Service) Stop() {
	if s.cron != nil {
		stopped := s.cron.Stop()
		s.cancel()
		<-stopped.Done()
		logrus.Info("Scheduler stopped")
	}
}
