package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/xsentiment/sentiment-bot/internal/models"
	"github.com/xsentiment/sentiment-bot/internal/pipeline"
	"github.com/xsentiment/sentiment-bot/internal/storage"
)

const (
	defaultTrendDays = 30
	maxTrendDays     = 365
)

// Pipeline is the part of the daily pipeline exposed over HTTP
type Pipeline interface {
	RunDaily(ctx context.Context) (*models.DailyReport, error)
	Busy() bool
	GetMetrics() string
}

// Server serves the health, ops and sentiment read endpoints
type Server struct {
	router   *mux.Router
	pipeline Pipeline
	repo     storage.Repository
	clock    clockwork.Clock

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// aggregateResponse is a DailyAggregate with its date rendered as YYYY-MM-DD
type aggregateResponse struct {
	models.DailyAggregate
	Date string `json:"date"`
}

// NewServer creates the HTTP handler set
func NewServer(p Pipeline, repo storage.Repository, clock clockwork.Clock) *Server {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		router:   mux.NewRouter(),
		pipeline: p,
		repo:     repo,
		clock:    clock,
		ctx:      ctx,
		cancel:   cancel,
	}

	s.router.HandleFunc("/health", s.healthCheckHandler).Methods("GET")
	s.router.HandleFunc("/status", s.statusHandler).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/trigger", s.triggerHandler).Methods("POST")

	sentiment := s.router.PathPrefix("/sentiment").Subrouter()
	sentiment.HandleFunc("/trends", s.trendsHandler).Methods("GET")
	sentiment.HandleFunc("/daily", s.dailyHandler).Methods("GET")

	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close cancels runs started through /trigger and waits for them to return
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": s.clock.Now().Format(time.RFC3339),
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(s.pipeline.GetMetrics()))
}

func (s *Server) triggerHandler(w http.ResponseWriter, r *http.Request) {
	if s.pipeline.Busy() {
		writeJSON(w, http.StatusConflict, map[string]string{"message": "A pipeline run is already in progress"})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, err := s.pipeline.RunDaily(s.ctx)
		switch {
		case errors.Is(err, pipeline.ErrRunInProgress):
			logrus.Warn("Manual trigger skipped: run already in progress")
		case err != nil:
			logrus.Errorf("Manual pipeline trigger failed: %v", err)
		}
	}()

	writeJSON(w, http.StatusOK, map[string]string{"message": "Daily run triggered successfully"})
}

func (s *Server) trendsHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	topic, err := models.ParseTopic(query.Get("topic"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	days := defaultTrendDays
	if raw := query.Get("days"); raw != "" {
		days, err = strconv.Atoi(raw)
		if err != nil || days < 1 || days > maxTrendDays {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("days must be an integer between 1 and %d", maxTrendDays))
			return
		}
	}

	end := s.clock.Now().UTC()
	rows, err := s.repo.ListDailyAggregates(storage.AggregateQuery{
		Topic:     topic,
		Algorithm: query.Get("algorithm"),
		From:      end.AddDate(0, 0, -days),
		To:        end,
	})
	if err != nil {
		logrus.Errorf("Failed to list aggregates for %s: %v", topic, err)
		writeError(w, http.StatusInternalServerError, "failed to load aggregates")
		return
	}

	writeJSON(w, http.StatusOK, latestPerDay(rows))
}

func (s *Server) dailyHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	topic, err := models.ParseTopic(query.Get("topic"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	date, err := time.Parse("2006-01-02", query.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date format, use YYYY-MM-DD")
		return
	}

	rows, err := s.repo.ListDailyAggregates(storage.AggregateQuery{
		Topic:     topic,
		Algorithm: query.Get("algorithm"),
		From:      date,
		To:        date,
	})
	if err != nil {
		logrus.Errorf("Failed to load aggregate for %s on %s: %v", topic, date.Format("2006-01-02"), err)
		writeError(w, http.StatusInternalServerError, "failed to load aggregate")
		return
	}
	if len(rows) == 0 {
		writeError(w, http.StatusNotFound, "no data found for this date and topic")
		return
	}

	writeJSON(w, http.StatusOK, toResponse(rows[len(rows)-1]))
}

// latestPerDay keeps the newest row of every (date, algorithm) pair. rows must be
// ordered by date, then creation time.
func latestPerDay(rows []models.DailyAggregate) []aggregateResponse {
	latest := make(map[string]models.DailyAggregate)
	for _, row := range rows {
		latest[row.DateString()+"/"+row.AlgorithmID] = row
	}

	keys := make([]string, 0, len(latest))
	for k := range latest {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]aggregateResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, toResponse(latest[k]))
	}
	return out
}

func toResponse(a models.DailyAggregate) aggregateResponse {
	return aggregateResponse{DailyAggregate: a, Date: a.DateString()}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
