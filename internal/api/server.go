package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/kjannette/pvpc-backend/internal/models"
	"github.com/kjannette/pvpc-backend/internal/prices"
	"github.com/kjannette/pvpc-backend/internal/scheduler"
	"github.com/kjannette/pvpc-backend/internal/views"
)

const maxHistoryDays = 365

// PriceReader is the read side of the price service.
type PriceReader interface {
	TodayPrices(ctx context.Context) ([]models.PriceRecord, error)
	TomorrowPrices(ctx context.Context) ([]models.PriceRecord, error)
	History(ctx context.Context, days int) ([]models.PriceRecord, error)
	Stats(ctx context.Context, days int) ([]models.DailyStats, error)
	DashboardStats(ctx context.Context) (views.DashboardStats, error)
	HourlyPrices(ctx context.Context, period models.Period) (views.HourlyPrices, error)
	Recommendations(ctx context.Context) (views.Recommendations, error)
	LatestPriceLevel(ctx context.Context) (prices.PriceLevel, error)
}

// Ingestion is the scheduler surface the API exposes.
type Ingestion interface {
	RunNow(ctx context.Context) (int, error)
	Status() scheduler.Status
}

// Pinger checks the database; *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type Deps struct {
	Prices    PriceReader
	Ingestion Ingestion
	DB        Pinger
	Metrics   http.Handler
}

type Server struct {
	prices     PriceReader
	ingestion  Ingestion
	db         Pinger
	log        zerolog.Logger
	started    time.Time
	version    string
	httpServer *http.Server
}

func NewServer(deps Deps, port int, corsOrigin, version string, log zerolog.Logger) *Server {
	s := &Server{
		prices:    deps.Prices,
		ingestion: deps.Ingestion,
		db:        deps.DB,
		log:       log,
		started:   time.Now(),
		version:   version,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.routes(deps.Metrics, corsOrigin),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}
	return s
}

func (s *Server) routes(metrics http.Handler, corsOrigin string) http.Handler {
	mux := http.NewServeMux()

	// Price routes
	mux.HandleFunc("GET /v1/prices/today", s.handleToday)
	mux.HandleFunc("GET /v1/prices/tomorrow", s.handleTomorrow)
	mux.HandleFunc("GET /v1/prices/history", s.handleHistory)
	mux.HandleFunc("GET /v1/prices/stats", s.handleStats)
	mux.HandleFunc("GET /v1/prices/dashboard-stats", s.handleDashboardStats)
	mux.HandleFunc("GET /v1/prices/hourly", s.handleHourly)
	mux.HandleFunc("GET /v1/prices/recommendations", s.handleRecommendations)
	mux.HandleFunc("GET /v1/prices/latest-level", s.handleLatestLevel)
	mux.HandleFunc("POST /v1/prices/fetch", s.handleFetch)

	// Scheduler
	mux.HandleFunc("GET /v1/scheduler/status", s.handleSchedulerStatus)

	// Health
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/live", s.handleLive)
	mux.HandleFunc("GET /health/ready", s.handleReady)

	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	return hlog.NewHandler(s.log)(accessLog(corsMiddleware(mux, corsOrigin)))
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("REST API server started")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- middleware ---

func accessLog(next http.Handler) http.Handler {
	return hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", d).
			Msg("request")
	})(next)
}

func corsMiddleware(next http.Handler, allowOrigin string) http.Handler {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- validation helpers ---

// parseDays reads ?days=, defaulting when absent. ok is false for values outside 1..365.
func parseDays(r *http.Request, defaultDays int) (int, bool) {
	v := r.URL.Query().Get("days")
	if v == "" {
		return defaultDays, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > maxHistoryDays {
		return 0, false
	}
	return n, true
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
