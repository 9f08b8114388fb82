// Package minions runs flake processes as persistent, managed units. It
// exposes the building blocks used by the minions daemon so they can be
// embedded in another program: the lifecycle Manager, the HTTP router and a
// Daemon that wires store, supervisor, history and metrics from a Config.
package minions

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fordtom/minions/internal/config"
	"github.com/fordtom/minions/internal/history"
	hfactory "github.com/fordtom/minions/internal/history/factory"
	"github.com/fordtom/minions/internal/manager"
	"github.com/fordtom/minions/internal/metrics"
	"github.com/fordtom/minions/internal/process"
	"github.com/fordtom/minions/internal/server"
	"github.com/fordtom/minions/internal/store"
	sfactory "github.com/fordtom/minions/internal/store/factory"
	mtls "github.com/fordtom/minions/internal/tls"
)

// Re-export core types for external consumers.
type (
	Config  = config.Config
	Manager = manager.Manager
	Input   = manager.Input
	Process = store.ProcessWithState
	Status  = store.Status
	Event   = history.Event
	Kind    = manager.Kind
)

const (
	StatusStopped = store.StatusStopped
	StatusRunning = store.StatusRunning
)

var (
	ErrValidation     = manager.ErrValidation
	ErrNotFound       = manager.ErrNotFound
	ErrInvalidState   = manager.ErrInvalidState
	ErrAlreadyRunning = manager.ErrAlreadyRunning
	ErrAlreadyStopped = manager.ErrAlreadyStopped
	ErrSupervisor     = manager.ErrSupervisor
	// ErrLocked is returned by Open when another daemon holds the database lock.
	ErrLocked = errors.New("database is locked by another minions daemon")
)

// KindOf classifies an error returned by the Manager.
func KindOf(err error) Kind { return manager.KindOf(err) }

// LoadConfig reads a TOML file (optional) and MINIONS_* overrides.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// DefaultConfig is LoadConfig without a file.
func DefaultConfig() (*Config, error) { return config.Default() }

// NewHandler mounts the REST API for mgr under basePath.
func NewHandler(mgr *Manager, basePath string, log *slog.Logger) http.Handler {
	return server.NewRouter(mgr, basePath, server.WithLogger(log)).Handler()
}

// Daemon owns every long-lived component of a minions server.
type Daemon struct {
	Manager *Manager

	cfg       *Config
	log       *slog.Logger
	lock      *flock.Flock
	store     store.Store
	sup       *process.Supervisor
	sink      history.Multi
	resources *metrics.ResourceCollector
	tls       *tls.Config
	cancel    context.CancelFunc
}

// Open takes the database lock, opens the store and builds the supervisor,
// history sinks, metrics and manager described by cfg.
func Open(ctx context.Context, cfg *Config, log *slog.Logger) (_ *Daemon, err error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	d := &Daemon{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			_ = d.Close(context.Background(), false)
		}
	}()

	if path := LockPath(cfg); path != "" {
		d.lock = flock.New(path)
		locked, lerr := d.lock.TryLock()
		if lerr != nil {
			return nil, fmt.Errorf("lock %s: %w", path, lerr)
		}
		if !locked {
			d.lock = nil
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
	}

	if d.tls, err = mtls.Setup(cfg.Server.TLS); err != nil {
		return nil, fmt.Errorf("tls: %w", err)
	}

	if d.store, err = sfactory.Open(ctx, cfg.Store.DSN); err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	pc := cfg.ProcessConfig()
	pc.Logger = log
	d.sup = process.New(pc)

	opts := []manager.Option{manager.WithLogger(log)}
	if d.sink, err = hfactory.NewSinkFromConfig(cfg.History); err != nil {
		return nil, err
	}
	if d.sink != nil {
		opts = append(opts, manager.WithHistory(d.sink))
	}
	d.Manager = manager.New(d.store, d.sup, opts...)

	d.resources = metrics.NewResourceCollector(cfg.Metrics.Resources)
	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		if err := d.resources.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("register resource metrics: %w", err)
		}
	}
	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel
	d.resources.Start(rctx, d.Manager.ResourceTargets)

	log.Info("daemon ready",
		"store", redactDSN(cfg.Store.DSN),
		"run_command", cfg.Supervisor.RunCommand,
		"history", d.sink != nil,
		"metrics", cfg.Metrics.Enabled,
	)
	return d, nil
}

// LockPath is the file guarding cfg's database: the configured lock file, or
// "<sqlite file>.lock". Empty means no lock is taken.
func LockPath(cfg *Config) string {
	if cfg.Server.LockFile != "" {
		return cfg.Server.LockFile
	}
	if p := sfactory.SQLitePath(cfg.Store.DSN); p != "" {
		return p + ".lock"
	}
	return ""
}

// Handler returns the REST API, plus /metrics when metrics are enabled
// without a separate listener.
func (d *Daemon) Handler() http.Handler {
	opts := []server.RouterOption{server.WithLogger(d.log)}
	if d.resources.Enabled() {
		opts = append(opts, server.WithResources(d.resources))
	}
	if d.cfg.Metrics.Enabled && d.cfg.Metrics.Listen == "" {
		opts = append(opts, server.WithMetricsHandler(metrics.Handler()))
	}
	return server.NewRouter(d.Manager, d.cfg.Server.BasePath, opts...).Handler()
}

// Listen opens the API listener on the configured address.
func (d *Daemon) Listen() (net.Listener, error) {
	return net.Listen("tcp", d.cfg.Server.Listen)
}

// Serve serves the API on ln until ctx is done, then shuts the HTTP servers
// down gracefully. Managed processes are not touched; see Close.
func (d *Daemon) Serve(ctx context.Context, ln net.Listener) error {
	api := server.NewServer(ln.Addr().String(), d.Handler())
	api.TLSConfig = d.tls
	servers := []*http.Server{api}
	listeners := []net.Listener{ln}
	if d.cfg.Metrics.Enabled && d.cfg.Metrics.Listen != "" {
		mln, err := net.Listen("tcp", d.cfg.Metrics.Listen)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("metrics listen: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		servers = append(servers, server.NewServer(mln.Addr().String(), mux))
		listeners = append(listeners, mln)
		d.log.Info("metrics listening", "addr", mln.Addr().String())
	}

	errCh := make(chan error, len(servers))
	for i, srv := range servers {
		go func(srv *http.Server, ln net.Listener) {
			var err error
			if srv.TLSConfig != nil {
				err = srv.ServeTLS(ln, "", "")
			} else {
				err = srv.Serve(ln)
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}(srv, listeners[i])
	}
	d.log.Info("api listening", "addr", ln.Addr().String(), "base_path", d.cfg.Server.BasePath, "tls", d.tls != nil)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	var errs []error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	if serveErr != nil {
		return serveErr
	}
	return errors.Join(errs...)
}

// Close releases every resource. With stopProcesses set, RUNNING processes
// spawned by this daemon are stopped first; otherwise they keep running.
func (d *Daemon) Close(ctx context.Context, stopProcesses bool) error {
	var errs []error
	if stopProcesses && d.Manager != nil {
		if err := d.Manager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop processes: %w", err))
		}
	}
	if d.cancel != nil {
		d.cancel()
	}
	if d.resources != nil {
		d.resources.Stop()
	}
	if d.sink != nil {
		if err := d.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close history: %w", err))
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if d.lock != nil {
		if err := d.lock.Unlock(); err != nil {
			errs = append(errs, fmt.Errorf("unlock: %w", err))
		}
	}
	return errors.Join(errs...)
}

func redactDSN(dsn string) string {
	if sfactory.IsPostgres(dsn) {
		return "postgres://***"
	}
	return dsn
}
