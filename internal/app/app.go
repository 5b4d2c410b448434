// Package app bootstraps the gateway: resolving configuration, wiring the
// Observation Store, transport adapters, Health Prober, Load Balancer,
// Backpressure Controller, Adapter Pool, Dispatcher, and HTTP control
// surface together, then running until signalled to stop — grounded on
// the teacher's two-phase internal/app bootstrap (Config/NewApplication/
// Run) and internal/app/modes.go's signal-driven shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/giantswarm/mcp-gatekeeper/internal/auth"
	"github.com/giantswarm/mcp-gatekeeper/internal/backpressure"
	"github.com/giantswarm/mcp-gatekeeper/internal/balancer"
	"github.com/giantswarm/mcp-gatekeeper/internal/config"
	"github.com/giantswarm/mcp-gatekeeper/internal/dispatcher"
	"github.com/giantswarm/mcp-gatekeeper/internal/eventbus"
	"github.com/giantswarm/mcp-gatekeeper/internal/health"
	"github.com/giantswarm/mcp-gatekeeper/internal/httpapi"
	"github.com/giantswarm/mcp-gatekeeper/internal/pool"
	"github.com/giantswarm/mcp-gatekeeper/internal/store"
	"github.com/giantswarm/mcp-gatekeeper/internal/transport"
	"github.com/giantswarm/mcp-gatekeeper/internal/watch"
	"github.com/giantswarm/mcp-gatekeeper/pkg/logging"
)

// shutdownTimeout bounds how long Run waits for the HTTP server and
// background loops to wind down after a shutdown signal.
const shutdownTimeout = 5 * time.Second

// Services holds every long-lived component the gateway wires together,
// mirroring the teacher's own Services registry (internal/app/services.go)
// scaled to this gateway's component set.
type Services struct {
	Store        *store.Store
	Bus          *eventbus.Bus
	Balancer     *balancer.Balancer
	Backpressure *backpressure.Controller
	Pool         *pool.Pool
	Prober       *health.Prober
	Dispatcher   *dispatcher.Dispatcher
	HTTP         *httpapi.Server
	Watcher      *watch.Watcher // nil if no templates directory is configured or it cannot be watched
}

// Application is the fully bootstrapped gateway process.
type Application struct {
	cfg      config.Config
	services *Services
	server   *http.Server
}

// NewApplication performs the complete bootstrap sequence: initialize
// logging, resolve configuration, then wire every component (spec §5).
func NewApplication(appCfg *Config) (*Application, error) {
	logLevel := logging.LevelInfo
	if appCfg.Debug {
		logLevel = logging.LevelDebug
	}
	var logOutput io.Writer = os.Stderr
	if appCfg.Silent {
		logOutput = io.Discard
	}
	logging.Init(logLevel, logOutput)

	cfg, err := config.Load(appCfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load gateway configuration: %w", err)
	}
	logging.Info("bootstrap", "resolved configuration: host=%s port=%d authMode=%s", cfg.Host, cfg.Port, cfg.AuthMode)

	services, err := initializeServices(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		cfg:      cfg,
		services: services,
		server: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler: services.HTTP,
		},
	}, nil
}

func initializeServices(cfg config.Config) (*Services, error) {
	bus := eventbus.New(eventbus.Config{})
	st := store.New(bus)
	bal := balancer.New(0)
	bp := backpressure.New(backpressure.Config{
		Capacity:   cfg.Backpressure.Capacity,
		RefillRate: cfg.Backpressure.RefillRate,
		QueueDepth: cfg.Backpressure.QueueDepth,
	})

	p := pool.New(adapterFactory(st, bus, nil), pool.DefaultIdleTimeout)

	prober := health.New(st, func(ctx context.Context, inst store.Instance) (transport.Adapter, error) {
		return p.Get(ctx, inst.ID)
	}, health.Config{})

	disp := dispatcher.New(st, bal, bp, p, startInstance(st, p), dispatcher.Config{})

	authn := auth.New(cfg.AuthMode, auth.NewStaticCredentialStore())
	rateLimiter := auth.NewRateLimiter(auth.NewMemoryStore(), auth.Config{
		Limit:  cfg.RateLimit.Limit,
		Window: time.Duration(cfg.RateLimit.WindowMs) * time.Millisecond,
	})

	httpServer := httpapi.New(st, disp, authn, rateLimiter, bus, bp, startInstance(st, p), httpapi.TemplateDefaults{
		TimeoutMs: cfg.DefaultTimeout,
		Retries:   cfg.DefaultRetries,
	})

	var watcher *watch.Watcher
	if cfg.TemplatesDir != "" {
		w, err := watch.New(cfg.TemplatesDir, st)
		if err != nil {
			logging.Warn("bootstrap", "templates directory watch disabled: %v", err)
		} else {
			watcher = w
		}
	}

	return &Services{
		Store:        st,
		Bus:          bus,
		Balancer:     bal,
		Backpressure: bp,
		Pool:         p,
		Prober:       prober,
		Dispatcher:   disp,
		HTTP:         httpServer,
		Watcher:      watcher,
	}, nil
}

// Run starts every background loop and the HTTP listener, then blocks
// until ctx is cancelled or a SIGINT/SIGTERM arrives, at which point it
// runs a bounded graceful shutdown (spec §5, teacher's modes.go).
func (a *Application) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.services.Prober.Run(runCtx)
	if a.services.Watcher != nil {
		go a.services.Watcher.Run(runCtx)
	}

	serveErrCh := make(chan error, 1)
	go func() {
		logging.Info("bootstrap", "gateway listening on %s", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
			return
		}
		serveErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case serveErr = <-serveErrCh:
	case <-runCtx.Done():
	case <-sigCh:
		logging.Info("bootstrap", "shutdown signal received")
	}

	cancel()
	if err := a.shutdown(); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}

func (a *Application) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error
	if shutdownErr := a.server.Shutdown(shutdownCtx); shutdownErr != nil {
		logging.Error("bootstrap", shutdownErr, "error shutting down HTTP server")
		err = shutdownErr
	}

	a.services.Prober.Stop()
	if a.services.Watcher != nil {
		a.services.Watcher.Stop()
	}
	a.services.Pool.Close()
	a.services.Backpressure.Close()
	a.services.Bus.Close()

	return err
}
