package httpadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/sensor-heatmap-etl/internal/domain"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// dayLayout is the format of the day query parameter.
const dayLayout = time.DateOnly

// HeatMapReader reads back stored heat map records for one day.
type HeatMapReader interface {
	ListByDay(ctx context.Context, day time.Time) ([]domain.HeatMapRecord, error)
}

// Server exposes health, readiness, metrics, and stored heat map endpoints.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// Option customizes a Server.
type Option func(*serverOptions)

type serverOptions struct {
	heatMaps HeatMapReader
	location *time.Location
}

// WithHeatMapReader serves GET /heatmap from r. Days are interpreted in loc.
func WithHeatMapReader(r HeatMapReader, loc *time.Location) Option {
	return func(o *serverOptions) {
		o.heatMaps = r
		o.location = loc
	}
}

// NewServer creates an HTTP server with /healthz, /readyz, and /metrics
// routes, plus /heatmap when a HeatMapReader is configured.
func NewServer(addr string, ready sharedobs.ReadinessChecker, logger *slog.Logger, opts ...Option) *Server {
	o := serverOptions{location: time.UTC}
	for _, opt := range opts {
		opt(&o)
	}
	if o.location == nil {
		o.location = time.UTC
	}

	mux := http.NewServeMux()
	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	if o.heatMaps != nil {
		mux.HandleFunc("GET /heatmap", s.handleHeatMap(o.heatMaps, o.location))
	}

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

func (s *Server) handleHeatMap(reader HeatMapReader, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		day, err := time.ParseInLocation(dayLayout, r.URL.Query().Get("day"), loc)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "day must be YYYY-MM-DD"})
			return
		}

		records, err := reader.ListByDay(r.Context(), day)
		if err != nil {
			s.logger.Error("list heat map records", "day", day, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read heat map"})
			return
		}
		if records == nil {
			records = []domain.HeatMapRecord{}
		}
		writeJSON(w, http.StatusOK, records)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
