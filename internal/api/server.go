// Package api is the HTTP shell over the dispatcher: a route table, the
// live event feed and the operational endpoints.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/foldwatch/internal/audit"
	"grimm.is/foldwatch/internal/brand"
	"grimm.is/foldwatch/internal/clock"
	"grimm.is/foldwatch/internal/dispatch"
	"grimm.is/foldwatch/internal/events"
	"grimm.is/foldwatch/internal/health"
	"grimm.is/foldwatch/internal/logging"
	"grimm.is/foldwatch/internal/ratelimit"
	"grimm.is/foldwatch/internal/router"
	"grimm.is/foldwatch/internal/scheduler"
)

// ServerConfig holds HTTP server limits.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration // Slowloris prevention
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodyBytes      int64
	ShutdownTimeout   time.Duration
}

// DefaultServerConfig returns the default server limits.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
		MaxBodyBytes:      4 << 20,
		ShutdownTimeout:   10 * time.Second,
	}
}

// Broker is the part of the dispatcher the HTTP shell uses.
type Broker interface {
	Dispatch(ctx context.Context, id string, req router.Request) dispatch.Result
	DispatchAll(ctx context.Context, req router.Request) []dispatch.Result
	Status(id string) (dispatch.Status, error)
	Statuses() []dispatch.Status
}

// AuditLog is the read side of the audit store.
type AuditLog interface {
	Query(ctx context.Context, f audit.Filter) ([]audit.Event, error)
}

// TaskList reports background task state.
type TaskList interface {
	GetStatus() []scheduler.TaskStatus
}

// ServerOptions holds dependencies for the API server
type ServerOptions struct {
	Broker   Broker
	Health   *health.Checker       // nil disables /healthz and /readyz
	Hub      *events.Hub           // nil disables /api/ws
	Gatherer prometheus.Gatherer   // nil means the default gatherer
	Logs     *logging.RingBuffer   // nil means the global app log buffer
	Audit    AuditLog              // nil disables /api/audit
	Limiter  *ratelimit.Limiter    // per-client write limit; nil means unlimited
	Tasks    TaskList              // nil disables /api/system/tasks
	Config   *ServerConfig         // nil means DefaultServerConfig
	Clock    clock.Clock
	Logger   *logging.Logger
}

// Server handles API requests.
type Server struct {
	broker    Broker
	health    *health.Checker
	wsManager *WSManager
	gatherer  prometheus.Gatherer
	logs      *logging.RingBuffer
	audit     AuditLog
	limiter   *ratelimit.Limiter
	tasks     TaskList
	cfg       *ServerConfig
	clock     clock.Clock
	logger    *logging.Logger
	startTime time.Time

	mux *http.ServeMux
}

// NewServer creates the API server and its route table.
func NewServer(opts ServerOptions) *Server {
	s := &Server{
		broker:   opts.Broker,
		health:   opts.Health,
		gatherer: opts.Gatherer,
		logs:     opts.Logs,
		audit:    opts.Audit,
		limiter:  opts.Limiter,
		tasks:    opts.Tasks,
		cfg:      opts.Config,
		clock:    opts.Clock,
		logger:   logging.OrDefault(opts.Logger, "api"),
		mux:      http.NewServeMux(),
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	if s.logs == nil {
		s.logs = logging.GetAppLogBuffer()
	}
	if s.cfg == nil {
		s.cfg = DefaultServerConfig()
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if opts.Hub != nil {
		s.wsManager = NewWSManager(opts.Hub, s.logger)
	}
	s.startTime = s.clock.Now()
	s.initRoutes()
	return s
}

func (s *Server) initRoutes() {
	mux := s.mux

	mux.HandleFunc("GET /api/brand", s.handleBrand)
	mux.HandleFunc("GET /api/targets", s.handleTargets)
	mux.HandleFunc("GET /api/targets/{id}", s.handleTarget)
	mux.HandleFunc("GET /api/targets/{id}/queue/{slot}", s.handleQueue)
	mux.HandleFunc("GET /api/targets/{id}/{op}", s.handleRead)
	mux.HandleFunc("POST /api/targets/{id}/config", s.limitWrites(s.handlePushConfig))
	mux.HandleFunc("POST /api/targets/{id}/{op}", s.limitWrites(s.handleWrite))
	mux.HandleFunc("GET /api/all/{op}", s.handleReadAll)
	mux.HandleFunc("POST /api/all/{op}", s.limitWrites(s.handleWriteAll))
	mux.HandleFunc("GET /api/system/logs", s.handleSystemLogs)

	if s.audit != nil {
		mux.HandleFunc("GET /api/audit", s.handleAudit)
	}
	if s.tasks != nil {
		mux.HandleFunc("GET /api/system/tasks", s.handleTasks)
	}

	if s.wsManager != nil {
		mux.HandleFunc("GET /api/ws", s.handleWS)
	}

	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /livez", health.LivenessHandler())
	if s.health != nil {
		mux.HandleFunc("GET /healthz", s.health.Handler())
		mux.HandleFunc("GET /readyz", s.health.ReadinessHandler())
	}
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.accessLog(s.mux)
}

// Serve runs the server on ln until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		MaxHeaderBytes:    s.cfg.MaxHeaderBytes,
	}

	if s.wsManager != nil {
		go s.wsManager.Run(ctx)
	}
	if s.limiter != nil {
		go s.limiter.RunCleanup(ctx, s.limiter.Window(), s.limiter.Window())
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", "addr", ln.Addr().String())
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info("API server shutting down")
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Start listens on addr and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) handleBrand(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"name":        brand.Name,
		"description": brand.Description,
		"version":     brand.Version,
		"commit":      brand.GitCommit,
		"uptime":      s.clock.Since(s.startTime).Round(time.Second).String(),
	})
}
