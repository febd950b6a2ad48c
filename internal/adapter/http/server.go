// Package http exposes the serving boundary: operational endpoints plus the
// read-only V16 event API backed by store snapshots.
package http

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Joboufra/v16-tracker-ingestor/internal/domain"
)

// EventSource is the read surface of the event store.
type EventSource interface {
	Snapshot() []domain.Event
	Get(id string) (domain.Event, bool)
	Len() int
}

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// ReadyFunc adapts a function to the ReadinessChecker interface.
type ReadyFunc func(ctx context.Context) error

// CheckReadiness calls f.
func (f ReadyFunc) CheckReadiness(ctx context.Context) error { return f(ctx) }

// AlwaysReady reports ready unconditionally, for deployments where no
// background worker gates readiness.
func AlwaysReady() ReadinessChecker {
	return ReadyFunc(func(context.Context) error { return nil })
}

// Options configures the API surface.
type Options struct {
	Addr           string
	Endpoint       string // upstream source, reported by /health
	APIKey         string
	APIKeyHeader   string
	APIKeyRequired bool
	IncludeRaw     bool
}

// Server wraps the HTTP listener and routes.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds the router: /healthz, /readyz and /metrics are open
// operational endpoints; /health and /v16 sit behind the API-key middleware.
func NewServer(opts Options, events EventSource, ready ReadinessChecker, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		httpServer: &http.Server{
			Addr:         opts.Addr,
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	router.GET("/readyz", handleReady(ready))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/", apiKeyMiddleware(opts))
	api.GET("/health", handleHealth(opts, events))
	api.GET("/v16", handleListEvents(opts, events))
	api.GET("/v16/:id", handleGetEvent(opts, events))

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

// apiKeyMiddleware rejects requests without the configured key header.
// Disabled when the key is not required.
func apiKeyMiddleware(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !opts.APIKeyRequired {
			c.Next()
			return
		}
		provided := c.GetHeader(opts.APIKeyHeader)
		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(opts.APIKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "invalid API key"})
			return
		}
		c.Next()
	}
}

func handleReady(ready ReadinessChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := ready.CheckReadiness(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

func handleHealth(opts Options, events EventSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":        "ok",
			"events_cached": events.Len(),
			"source":        opts.Endpoint,
		})
	}
}

// handleListEvents serves all tracked events ordered by last_seen descending.
func handleListEvents(opts Options, events EventSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		snapshot := events.Snapshot()
		sort.Slice(snapshot, func(i, j int) bool {
			return snapshot[i].LastSeen.After(snapshot[j].LastSeen)
		})
		c.JSON(http.StatusOK, maybeStripRaw(snapshot, opts.IncludeRaw))
	}
}

func handleGetEvent(opts Options, events EventSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		event, ok := events.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"detail": "event not found"})
			return
		}
		if !opts.IncludeRaw {
			event = event.WithoutRaw()
		}
		c.JSON(http.StatusOK, event)
	}
}

func maybeStripRaw(events []domain.Event, includeRaw bool) []domain.Event {
	if includeRaw {
		return events
	}
	stripped := make([]domain.Event, len(events))
	for i, event := range events {
		stripped[i] = event.WithoutRaw()
	}
	return stripped
}
