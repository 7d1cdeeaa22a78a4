package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/statuswatch/internal/hash/sha256"
	"github.com/JakeFAU/statuswatch/internal/metrics"
	"github.com/JakeFAU/statuswatch/internal/policy/ratelimit"
	"github.com/JakeFAU/statuswatch/internal/publisher"
)

// ReportSource exposes the latest published report.
type ReportSource interface {
	Latest() ([]byte, time.Time, error)
	Report() (publisher.Report, bool)
}

// Trigger requests an out-of-schedule poll cycle. It reports false when a
// cycle is already running.
type Trigger interface {
	Trigger() bool
}

// Config controls what the server exposes.
type Config struct {
	FrontendDir    string
	RequestTimeout time.Duration
	// TriggerRPS bounds POST /api/poll per client address. Zero disables it.
	TriggerRPS   float64
	TriggerBurst int
}

// Server wires HTTP handlers to the report store.
type Server struct {
	router  chi.Router
	reports ReportSource
	trigger Trigger
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. trigger may be
// nil, in which case POST /api/poll is not routed.
func NewServer(reports ReportSource, trigger Trigger, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	s := &Server{
		reports: reports,
		trigger: trigger,
		limiter: ratelimit.New(ratelimit.Config{RPS: cfg.TriggerRPS, Burst: cfg.TriggerBurst}),
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(cors.AllowAll().Handler)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		r.Get("/status.json", s.statusJSON)
		r.Route("/api", func(r chi.Router) {
			r.Get("/sources", s.listSources)
			r.Get("/sources/{name}", s.getSource)
			if trigger != nil {
				r.Post("/poll", s.triggerPoll)
			}
		})
	})

	if cfg.FrontendDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(cfg.FrontendDir)))
	}

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports ready once the first cycle has been published.
func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if _, _, err := s.reports.Latest(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "waiting for first poll"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) statusJSON(w http.ResponseWriter, r *http.Request) {
	body, updatedAt, err := s.reports.Latest()
	if err != nil {
		if errors.Is(err, publisher.ErrNoReport) {
			http.NotFound(w, r)
			return
		}
		s.logger.Error("load latest report failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load report")
		return
	}
	etag := sha256.ETag(body)
	h := w.Header()
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	h.Set("ETag", etag)
	if !updatedAt.IsZero() {
		h.Set("Last-Modified", updatedAt.UTC().Format(http.TimeFormat))
	}
	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	h.Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.logger.Warn("status write failed", zap.Error(err))
	}
}

func (s *Server) triggerPoll(w http.ResponseWriter, r *http.Request) {
	client := clientAddr(r)
	if !s.limiter.Allow(client) {
		s.logger.Warn("poll trigger throttled", zap.String("client", client))
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "too many poll requests")
		return
	}
	if !s.trigger.Trigger() {
		writeError(w, http.StatusConflict, "poll cycle already running")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "poll scheduled"})
}

// etagMatches implements the weak comparison If-None-Match calls for.
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
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
			logger.Debug("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
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
					logger.Error("panic recovered",
						zap.Any("error", rec),
						zap.String("path", r.URL.Path),
					)
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
