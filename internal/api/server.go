package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/terminail/autodroid-sub001/internal/bus"
	"github.com/terminail/autodroid-sub001/internal/device"
	"github.com/terminail/autodroid-sub001/internal/infrastructure/config"
	"github.com/terminail/autodroid-sub001/internal/infrastructure/logging"
	"github.com/terminail/autodroid-sub001/internal/orchestrator"
	"github.com/terminail/autodroid-sub001/internal/scheduler"
	"github.com/terminail/autodroid-sub001/internal/script"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Registry is the read side of the device registry.
// *device.Registry satisfies it.
type Registry interface {
	ListDevices() ([]device.Device, error)
	GetAvailableDevices() ([]device.Device, error)
	GetDevice(id string) (device.Device, error)
	Stats() (device.Stats, error)
}

// ResultStore is the query side of the result store.
// *results.SQLiteStore satisfies it.
type ResultStore interface {
	Get(ctx context.Context, taskID string) (*script.Result, error)
	Recent(ctx context.Context, deviceID string, limit int) ([]script.Result, error)
	StatusCounts(ctx context.Context) (map[script.Status]int, error)
}

// Orchestrator is the part of *orchestrator.Orchestrator the server uses.
type Orchestrator interface {
	Stats() orchestrator.Stats
	InjectEvent(eventType string, data map[string]any) int
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config       config.APIConfig
	WS           config.WebSocketConfig
	Logger       *logging.Logger
	Registry     Registry
	Scheduler    *scheduler.Scheduler
	Engine       *script.Engine
	Results      ResultStore  // optional
	Orchestrator Orchestrator // optional
	Bus          bus.Bus      // optional; enables command broadcast
	ExternalHub  *Hub         // If set, the server uses this hub instead of creating its own
	Version      string
}

// Server is the HTTP API server for fleetd.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	registry  Registry
	sched     *scheduler.Scheduler
	engine    *script.Engine
	results   ResultStore
	orch      Orchestrator
	bus       bus.Bus
	version   string
	startTime time.Time
	server    *http.Server
	hub       *Hub
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, registry, scheduler, engine)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("script engine is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		registry:  deps.Registry,
		sched:     deps.Scheduler,
		engine:    deps.Engine,
		results:   deps.Results,
		orch:      deps.Orchestrator,
		bus:       deps.Bus,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       deps.ExternalHub,
	}, nil
}

// Hub returns the server's WebSocket hub, creating it if needed.
// The hub only starts delivering once Start has run.
func (s *Server) Hub() *Hub {
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and launches the HTTP listener in a
// background goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Parent context for the hub's lifetime
//
// Returns:
//   - error: Reserved for listener setup failures
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.Hub().Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
