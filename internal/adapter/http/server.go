package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/tinglebot/weather-service/internal/domain"
	"github.com/tinglebot/weather-service/internal/weather"
)

// WeatherAPI is the subset of weather.Service exposed over HTTP.
type WeatherAPI interface {
	CurrentPeriodBounds() (domain.Period, error)
	NextPeriodBounds() (domain.Period, error)
	GetCurrentWeather(ctx context.Context, village domain.Village) (domain.Record, error)
	GetWeatherWithoutGeneration(ctx context.Context, village domain.Village, opts weather.Options) (domain.Record, error)
	ScheduleSpecialWeather(ctx context.Context, village domain.Village, label string) (weather.ScheduleResult, error)
}

// Server exposes health, readiness, metrics and the weather API.
type Server struct {
	httpServer *http.Server
	api        WeatherAPI
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and the
// /api/v1 routes. API routes share limiter; a nil limiter disables limiting.
func NewServer(addr string, api WeatherAPI, ready sharedobs.ReadinessChecker, limiter *rate.Limiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		api:    api,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	limit := rateLimit(limiter)
	mux.Handle("GET /api/v1/periods", limit(http.HandlerFunc(s.handlePeriods)))
	mux.Handle("GET /api/v1/weather/{village}", limit(http.HandlerFunc(s.handleCurrent)))
	mux.Handle("GET /api/v1/weather/{village}/posted", limit(http.HandlerFunc(s.handlePosted)))
	mux.Handle("POST /api/v1/weather/{village}/special", limit(http.HandlerFunc(s.handleSchedule)))

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handlePeriods(w http.ResponseWriter, _ *http.Request) {
	current, err := s.api.CurrentPeriodBounds()
	if err != nil {
		s.writeError(w, err)
		return
	}
	next, err := s.api.NextPeriodBounds()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]domain.Period{"current": current, "next": next})
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	rec, err := s.api.GetCurrentWeather(r.Context(), domain.Village(r.PathValue("village")))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handlePosted(w http.ResponseWriter, r *http.Request) {
	rec, err := s.api.GetWeatherWithoutGeneration(r.Context(), domain.Village(r.PathValue("village")), weather.Options{OnlyPosted: true})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type scheduleRequest struct {
	Label string `json:"label"`
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}
	res, err := s.api.ScheduleSpecialWeather(r.Context(), domain.Village(r.PathValue("village")), req.Label)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// writeError maps domain errors to status codes. Anything unrecognised is
// reported as the weather being unavailable.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusServiceUnavailable
	switch {
	case errors.Is(err, domain.ErrUnknownVillage), errors.Is(err, domain.ErrUnknownSpecial):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyScheduled):
		status = http.StatusConflict
	default:
		s.logger.Error("weather request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func rateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
