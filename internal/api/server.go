package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/azure/discussion-pulse/internal/models"
	"github.com/azure/discussion-pulse/internal/monitoring"
	"github.com/azure/discussion-pulse/internal/scheduler"
	"github.com/azure/discussion-pulse/internal/storage"
)

const (
	trendingWindow = 24 * time.Hour
	maxBodyBytes   = 1 << 20
)

// Pipeline runs keyword cycles and reports their metrics
type Pipeline interface {
	RunCycle(ctx context.Context, req models.FetchRequest) (*models.FetchResult, error)
	GetMetrics() string
}

// KeywordScheduler exposes the scheduler's admin operations
type KeywordScheduler interface {
	Status() scheduler.Status
	Schedule(ctx context.Context, keyword string, intervalHours int, autoFetch bool) (*models.Keyword, error)
	Unschedule(ctx context.Context, keyword string) error
	Get(ctx context.Context, keyword string) (*models.Keyword, error)
	List(ctx context.Context) ([]models.Keyword, error)
}

// ItemReader is the read side of the store
type ItemReader interface {
	GetKeyword(ctx context.Context, keyword string) (*models.Keyword, error)
	QueryItems(ctx context.Context, q models.ItemQuery) (*models.ItemPage, error)
	TrendingKeywords(ctx context.Context, limit int, since time.Time) ([]models.TrendingKeyword, error)
}

// Server is the HTTP front of the pipeline
type Server struct {
	pipeline  Pipeline
	scheduler KeywordScheduler
	items     ItemReader
	now       func() time.Time
}

// NewServer creates a new API server
func NewServer(pipeline Pipeline, sched KeywordScheduler, items ItemReader) *Server {
	return &Server{
		pipeline:  pipeline,
		scheduler: sched,
		items:     items,
		now:       time.Now,
	}
}

// Router returns the route table
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(logRequests)

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/fetch", s.handleFetch).Methods(http.MethodPost)
	api.HandleFunc("/data", s.handleData).Methods(http.MethodGet)
	api.HandleFunc("/trending", s.handleTrending).Methods(http.MethodGet)
	api.HandleFunc("/keywords/{keyword}", s.handleKeyword).Methods(http.MethodGet)

	api.HandleFunc("/scheduler/status", s.handleSchedulerStatus).Methods(http.MethodGet)
	api.HandleFunc("/scheduler/keywords", s.handleScheduledKeywords).Methods(http.MethodGet)
	api.HandleFunc("/scheduler/keywords/{keyword}", s.handleScheduledKeyword).Methods(http.MethodGet)
	api.HandleFunc("/scheduler/keywords/{keyword}", s.handleSchedule).Methods(http.MethodPut)
	api.HandleFunc("/scheduler/keywords/{keyword}", s.handleUnschedule).Methods(http.MethodDelete)

	return router
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logrus.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		}).Debug("Handled request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(s.pipeline.GetMetrics()))
}

// fetchBody mirrors FetchRequest; includeComments defaults to true when omitted
type fetchBody struct {
	Keyword            string   `json:"keyword"`
	Subreddits         []string `json:"subreddits"`
	MaxPosts           int      `json:"maxPosts"`
	IncludeComments    *bool    `json:"includeComments"`
	MaxCommentsPerPost int      `json:"maxCommentsPerPost"`
	ForceRefresh       bool     `json:"forceRefresh"`
	CallerRole         string   `json:"callerRole"`
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	var body fetchBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	req := models.FetchRequest{
		Keyword:            body.Keyword,
		Subreddits:         body.Subreddits,
		MaxPosts:           body.MaxPosts,
		IncludeComments:    body.IncludeComments == nil || *body.IncludeComments,
		MaxCommentsPerPost: body.MaxCommentsPerPost,
		ForceRefresh:       body.ForceRefresh,
		CallerRole:         body.CallerRole,
	}

	result, err := s.pipeline.RunCycle(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, result)
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := intParam(q.Get("page"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "page must be an integer")
		return
	}
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}

	result, err := s.items.QueryItems(r.Context(), models.ItemQuery{
		Keyword:   q.Get("keyword"),
		Type:      q.Get("type"),
		Sentiment: q.Get("sentiment"),
		Subreddit: q.Get("subreddit"),
		SortBy:    q.Get("sortBy"),
		SortOrder: q.Get("sortOrder"),
		Page:      page,
		Limit:     limit,
	})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}

	trending, err := s.items.TrendingKeywords(r.Context(), limit, s.now().Add(-trendingWindow))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keywords": trending})
}

func (s *Server) handleKeyword(w http.ResponseWriter, r *http.Request) {
	kw, err := s.items.GetKeyword(r.Context(), models.NormalizeKeyword(mux.Vars(r)["keyword"]))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, kw)
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.scheduler.Status())
}

func (s *Server) handleScheduledKeywords(w http.ResponseWriter, r *http.Request) {
	keywords, err := s.scheduler.List(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if keywords == nil {
		keywords = []models.Keyword{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"keywords": keywords})
}

func (s *Server) handleScheduledKeyword(w http.ResponseWriter, r *http.Request) {
	kw, err := s.scheduler.Get(r.Context(), mux.Vars(r)["keyword"])
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, kw)
}

type scheduleBody struct {
	FetchInterval int   `json:"fetchInterval"`
	AutoFetch     *bool `json:"autoFetch"`
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var body scheduleBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	autoFetch := body.AutoFetch == nil || *body.AutoFetch
	kw, err := s.scheduler.Schedule(r.Context(), mux.Vars(r)["keyword"], body.FetchInterval, autoFetch)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, kw)
}

func (s *Server) handleUnschedule(w http.ResponseWriter, r *http.Request) {
	keyword := mux.Vars(r)["keyword"]
	if err := s.scheduler.Unschedule(r.Context(), keyword); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "keyword removed from scheduling",
		"keyword": models.NormalizeKeyword(keyword),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, monitoring.ErrInvalidKeyword), errors.Is(err, scheduler.ErrInvalidInterval):
		return http.StatusBadRequest
	case errors.Is(err, monitoring.ErrAlreadyProcessing):
		return http.StatusConflict
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
