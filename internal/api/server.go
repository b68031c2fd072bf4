package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/progressive-loader/internal/config"
	"github.com/JakeFAU/progressive-loader/internal/dispatcher"
	"github.com/JakeFAU/progressive-loader/internal/loader"
	"github.com/JakeFAU/progressive-loader/internal/metrics"
	"github.com/JakeFAU/progressive-loader/internal/queue"
	"github.com/JakeFAU/progressive-loader/internal/queue/memory"
	"github.com/JakeFAU/progressive-loader/internal/store"
)

const defaultQueueDepth = 64

// Loader runs one load under a caller-chosen ID.
type Loader interface {
	LoadWithID(ctx context.Context, id uuid.UUID, url string) (loader.Result, error)
}

// Pinger is implemented by repositories that can report readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires HTTP handlers to the loader and progress repository.
type Server struct {
	router   chi.Router
	repo     store.ProgressRepository
	ids      loader.IDGenerator
	cfg      config.Config
	logger   *zap.Logger
	progress *ProgressHandler

	queue    *memory.Queue
	dispatch *dispatcher.Dispatcher
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewServer constructs a Server with middleware and routes. Loads started
// through the API are queued for a worker pool that runs on a context owned
// by the server; Shutdown cancels it.
func NewServer(
	loads Loader,
	repo store.ProgressRepository,
	ids loader.IDGenerator,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	depth := cfg.Server.QueueDepth
	if depth <= 0 {
		depth = defaultQueueDepth
	}
	q := memory.NewQueue(depth)
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		repo:     repo,
		ids:      ids,
		cfg:      cfg,
		logger:   logger,
		progress: NewProgressHandler(repo, logger.Named("progress")),
		queue:    q,
		dispatch: dispatcher.New(q, loads, cfg.Server.Workers, logger.Named("dispatcher")),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		s.dispatch.Run(baseCtx)
	}()
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/loads", func(r chi.Router) {
			r.Post("/", s.startLoad)
			r.Get("/", s.progress.ListLoads)
			r.Get("/{load_id}", s.progress.GetLoad)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Shutdown stops accepting loads, cancels in-flight ones and waits for the
// workers to return. Queued loads that never started are dropped.
func (s *Server) Shutdown(ctx context.Context) error {
	s.queue.Close()
	s.cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for loads: %w", ctx.Err())
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.repo.(Pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type startLoadRequest struct {
	URL string `json:"url"`
}

func (s *Server) startLoad(w http.ResponseWriter, r *http.Request) {
	var req startLoadRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	target, err := s.cfg.AssetURL(req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateLoadURL(target); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	loadID, err := s.ids.NewID()
	if err != nil {
		s.logger.Error("generate load id failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to generate load id")
		return
	}

	if err := s.dispatch.Submit(loadID, target); err != nil {
		if errors.Is(err, queue.ErrFull) {
			metrics.ObserveQueueRejected()
		}
		s.logger.Warn("load not queued", zap.String("load_id", loadID.String()), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "load queue unavailable")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"load_id": loadID.String(),
		"url":     target,
	})
}

func validateLoadURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errors.New("invalid url")
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return errors.New("url must be absolute http or https")
	}
	if u.Host == "" {
		return errors.New("url host is required")
	}
	return nil
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
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
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

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (rw *statusWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
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
