// Package app is the composition root. It wires one profile's store,
// registry, package manager and boundaries together.
package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/dshills/deplug/internal/config"
	"github.com/dshills/deplug/internal/host"
	"github.com/dshills/deplug/internal/keybind"
	"github.com/dshills/deplug/internal/menu"
	"github.com/dshills/deplug/internal/metrics"
	"github.com/dshills/deplug/internal/pkgmgr"
	"github.com/dshills/deplug/internal/profile"
	"github.com/dshills/deplug/internal/registry"
)

// ShutdownTimeout bounds package deactivation in Close.
const ShutdownTimeout = 10 * time.Second

// Options configures New.
type Options struct {
	// Config holds process settings. Required.
	Config *config.Config

	// Args are the remaining command-line arguments, kept for packages.
	Args []string

	// Logger overrides the logger built from Config.
	Logger *zap.Logger

	// Registerer receives metrics. Nil uses a private registry.
	Registerer prometheus.Registerer

	// Builtins are Go-implemented packages served for "builtin:<name>".
	Builtins map[string]host.Factory

	// NoWatch disables the installed-directory watcher.
	NoWatch bool
}

// App is one running profile.
type App struct {
	cfg     *config.Config
	args    []string
	logger  *zap.Logger
	metrics *metrics.Metrics

	store  *profile.Store
	unlock func() error

	config   *profile.Namespace
	layout   *profile.Namespace
	keybinds *profile.Namespace
	packages *profile.Namespace
	keybind  *keybind.Table

	registry    *registry.Registry
	manager     *pkgmgr.Manager
	menu        *menu.Menu
	unsubscribe func()

	startErr error

	mu     sync.Mutex
	closed bool
}

// New builds the App and starts the profile's enabled packages.
//
// Package activation failures do not fail New; they are reported by
// StartErr and by the manager's records.
func New(ctx context.Context, opts Options) (*App, error) {
	if opts.Config == nil {
		return nil, &InitError{Component: "config", Err: errors.New("no configuration")}
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, &InitError{Component: "config", Err: err}
	}

	a := &App{cfg: opts.Config, args: append([]string(nil), opts.Args...)}
	b := newBootstrapper(a, opts)
	if err := b.bootstrap(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// Settings returns the process configuration.
func (a *App) Settings() *config.Config { return a.cfg }

// Profile returns the profile name.
func (a *App) Profile() string { return a.cfg.Profile }

// Args returns the command-line arguments passed through Options.
func (a *App) Args() []string { return append([]string(nil), a.args...) }

// Store returns the profile store.
func (a *App) Store() *profile.Store { return a.store }

// Config returns the profile's config namespace.
func (a *App) Config() *profile.Namespace { return a.config }

// Layout returns the profile's layout namespace.
func (a *App) Layout() *profile.Namespace { return a.layout }

// Keybind returns the key-binding table.
func (a *App) Keybind() *keybind.Table { return a.keybind }

// Packages returns the package manager.
func (a *App) Packages() *pkgmgr.Manager { return a.manager }

// Registry returns the package registry.
func (a *App) Registry() *registry.Registry { return a.registry }

// Menu returns the capability menu.
func (a *App) Menu() *menu.Menu { return a.menu }

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Metrics returns the metric set.
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// StartErr returns the joined package failures from startup, or nil.
func (a *App) StartErr() error { return a.startErr }

// Close deactivates packages, flushes namespaces and releases the
// profile lock. It is safe to call more than once.
func (a *App) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	var errs []error
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	if a.manager != nil {
		if err := a.manager.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.registry != nil {
		if err := a.registry.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, ns := range []*profile.Namespace{a.config, a.layout, a.keybinds, a.packages} {
		if ns == nil {
			continue
		}
		if err := ns.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.unlock != nil {
		if err := a.unlock(); err != nil {
			errs = append(errs, err)
		}
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
