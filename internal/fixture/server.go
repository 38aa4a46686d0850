// Package fixture is an in-process shipment server that streams scripted
// responses. It backs the client tests and `shipment serve-fixture`.
package fixture

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"shipment/internal/async"
	"shipment/internal/logging"
	"shipment/internal/observability"
)

const (
	verifyKeyHeader = "X-Shipment-Verify-Key"
	defaultAppName  = "fixture"
)

// Handler runs one action, writing its stream through w. A returned error
// is reported as a lifecycle error line.
type Handler func(ctx context.Context, w *StreamWriter, args map[string]any) error

// ActionSpec declares an action and how it is served.
type ActionSpec struct {
	Description string
	Handler     Handler
}

// Config configures a Server.
type Config struct {
	AppName string
	// EnableCORS allows browser clients from any origin.
	EnableCORS bool
	// AccessLog writes gin's request log.
	AccessLog bool
	// Debug keeps gin in debug mode.
	Debug bool
}

// RecordedRequest is a request received by the server.
type RecordedRequest struct {
	Action  string
	Header  http.Header
	Body    []byte
	TraceID string // from a W3C traceparent header, if any
}

// Server is a gin engine serving a manifest at GET / and actions at POST /:action.
type Server struct {
	appName string
	engine  *gin.Engine
	logger  logging.Logger

	mu       sync.RWMutex
	actions  map[string]ActionSpec
	requests []RecordedRequest
}

// New creates a server without actions.
func New(cfg Config) *Server {
	if cfg.AppName == "" {
		cfg.AppName = defaultAppName
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	if cfg.AccessLog {
		engine.Use(gin.Logger())
	}
	if cfg.EnableCORS {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-Shipment-Client", verifyKeyHeader, "X-Request-ID"}
		engine.Use(cors.New(corsConfig))
	}

	s := &Server{
		appName: cfg.AppName,
		engine:  engine,
		logger:  logging.NewComponentLogger("fixture"),
		actions: make(map[string]ActionSpec),
	}
	engine.GET("/", s.handleManifest)
	engine.POST("/:action", s.handleAction)
	return s
}

// NewDefault creates a server with the built-in demo actions.
func NewDefault(cfg Config) *Server {
	s := New(cfg)
	for name, spec := range DefaultActions() {
		s.Register(name, spec)
	}
	return s
}

// Register adds or replaces an action.
func (s *Server) Register(name string, spec ActionSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[name] = spec
}

// Handler exposes the gin engine.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Requests returns the action requests received so far.
func (s *Server) Requests() []RecordedRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]RecordedRequest(nil), s.requests...)
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	async.Go(s.logger, "fixture-server", func() {
		errCh <- srv.ListenAndServe()
	}, func(perr *async.PanicError) {
		errCh <- perr
	})

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown fixture server: %w", err)
		}
		return nil
	}
}

func (s *Server) handleManifest(c *gin.Context) {
	s.mu.RLock()
	names := make([]string, 0, len(s.actions))
	for name := range s.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	actions := make(map[string]gin.H, len(names))
	for _, name := range names {
		actions[name] = gin.H{"description": s.actions[name].Description}
	}
	s.mu.RUnlock()

	c.JSON(http.StatusOK, gin.H{
		"app": gin.H{
			"name":    s.appName,
			"actions": actions,
		},
	})
}

func (s *Server) handleAction(c *gin.Context) {
	name := c.Param("action")
	ctx := observability.Extract(c.Request.Context(), c.Request.Header)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusBadRequest, "read body: %v", err)
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, RecordedRequest{
		Action:  name,
		Header:  c.Request.Header.Clone(),
		Body:    body,
		TraceID: observability.TraceIDFromContext(ctx),
	})
	spec, ok := s.actions[name]
	s.mu.Unlock()

	if !ok {
		c.String(http.StatusNotFound, "unknown action %q", name)
		return
	}

	args := map[string]any{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &args); err != nil {
			c.String(http.StatusBadRequest, "args must be a JSON object: %v", err)
			return
		}
	}

	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)

	w := newStreamWriter(c.Writer, c.GetHeader(verifyKeyHeader))
	if err := spec.Handler(ctx, w, args); err != nil {
		s.logger.Debug("Action %s failed: %v", name, err)
		_ = w.Fail(err)
	}
}
