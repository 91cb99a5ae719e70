package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jjjenkim/fis-results-scraper/internal/cache"
	"github.com/jjjenkim/fis-results-scraper/internal/hash/sha256"
	"github.com/jjjenkim/fis-results-scraper/internal/metrics"
	"github.com/jjjenkim/fis-results-scraper/internal/orchestrator"
	"github.com/jjjenkim/fis-results-scraper/internal/scrape"
	"github.com/jjjenkim/fis-results-scraper/internal/storage"
)

// DefaultRequestTimeout bounds a single request, including on-demand scrapes
// that sit through the retry backoff.
const DefaultRequestTimeout = 2 * time.Minute

// Scraper runs the pipeline for a single athlete.
type Scraper interface {
	RunOne(ctx context.Context, roster []scrape.AthleteDescriptor, id string) (scrape.AthleteResults, scrape.RunSummary, error)
	Forget(athlete scrape.AthleteDescriptor) bool
	Stats() orchestrator.Stats
}

// SnapshotReader returns the most recent full run.
type SnapshotReader interface {
	ReadSnapshot(ctx context.Context) (scrape.Snapshot, error)
}

// HistoryReader returns stored result rows for one athlete, newest first.
type HistoryReader interface {
	History(ctx context.Context, fisCode string) ([]storage.ResultRow, error)
}

// Options carries the server's collaborators. Roster and Scraper are required.
type Options struct {
	Roster    []scrape.AthleteDescriptor
	Scraper   Scraper
	Snapshots SnapshotReader
	History   HistoryReader
	// Dashboard caches on-demand scrape results in front of the snapshot.
	Dashboard      *cache.Cache[scrape.AthleteResults]
	CORSOrigins    []string
	Metrics        bool
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// Server wires HTTP handlers to the scraping pipeline and its stores.
type Server struct {
	router    chi.Router
	roster    []scrape.AthleteDescriptor
	scraper   Scraper
	snapshots SnapshotReader
	history   HistoryReader
	dashboard *cache.Cache[scrape.AthleteResults]
	hasher    *sha256.Hasher
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) (*Server, error) {
	if opts.Scraper == nil {
		return nil, errors.New("api: scraper is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Snapshots == nil {
		opts.Snapshots = NewLatest()
	}
	if opts.Dashboard == nil {
		opts.Dashboard = cache.New[scrape.AthleteResults](cache.Config{})
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}

	s := &Server{
		roster:    opts.Roster,
		scraper:   opts.Scraper,
		snapshots: opts.Snapshots,
		history:   opts.History,
		dashboard: opts.Dashboard,
		hasher:    sha256.New(),
		logger:    opts.Logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "If-None-Match", "X-Request-ID"},
		ExposedHeaders: []string{"ETag", "X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(opts.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	if opts.Metrics {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/athletes", s.listAthletes)
		r.Post("/athletes/{fisCode}/scrape", s.scrapeAthlete)
		r.Get("/results", s.listResults)
		r.Get("/results/{fisCode}", s.getResults)
		r.Get("/results/{fisCode}/history", s.getHistory)
		r.Get("/stats", s.stats)
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports ready once there is a roster to scrape.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if len(s.roster) == 0 {
		writeError(w, http.StatusServiceUnavailable, "roster is empty")
		return
	}
	_, err := s.snapshots.ReadSnapshot(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ready",
		"athletes": len(s.roster),
		"snapshot": err == nil,
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", requestID(r.Context())),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
