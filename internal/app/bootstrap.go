package app

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dshills/deplug/internal/host"
	"github.com/dshills/deplug/internal/host/lua"
	"github.com/dshills/deplug/internal/keybind"
	"github.com/dshills/deplug/internal/logging"
	"github.com/dshills/deplug/internal/menu"
	"github.com/dshills/deplug/internal/metrics"
	"github.com/dshills/deplug/internal/pkgmgr"
	"github.com/dshills/deplug/internal/profile"
	"github.com/dshills/deplug/internal/registry"
)

// bootstrapper initializes components in dependency order and tears
// down what it built if a later step fails.
type bootstrapper struct {
	app  *App
	opts Options
}

func newBootstrapper(a *App, opts Options) *bootstrapper {
	return &bootstrapper{app: a, opts: opts}
}

func (b *bootstrapper) bootstrap(ctx context.Context) error {
	steps := []func(context.Context) error{
		b.initLogger,
		b.initProfile,
		b.initNamespaces,
		b.initRegistry,
		b.initPackages,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			b.cleanup()
			return err
		}
	}
	return nil
}

func (b *bootstrapper) initLogger(context.Context) error {
	logger := b.opts.Logger
	if logger == nil {
		l, err := logging.New(b.app.cfg.Logging())
		if err != nil {
			return &InitError{Component: "logger", Err: err}
		}
		logger = l
	}
	b.app.logger = logger.With(zap.String("profile", b.app.cfg.Profile))
	b.app.metrics = metrics.New(b.opts.Registerer)
	return nil
}

func (b *bootstrapper) initProfile(context.Context) error {
	b.app.store = profile.New(b.app.cfg.Home)
	unlock, err := b.app.store.Lock(b.app.cfg.Profile)
	if err != nil {
		return &InitError{Component: "profile", Err: err}
	}
	b.app.unlock = unlock
	return nil
}

func (b *bootstrapper) initNamespaces(context.Context) error {
	var err error
	if b.app.config, err = b.open(profile.NamespaceConfig, zap.WarnLevel); err != nil {
		return err
	}
	if b.app.layout, err = b.open(profile.NamespaceLayout, zap.WarnLevel); err != nil {
		return err
	}
	if b.app.keybinds, err = b.open(profile.NamespaceKeybind, zap.WarnLevel); err != nil {
		return err
	}
	b.app.keybind = keybind.New(b.app.keybinds)
	if n := b.app.keybind.Skipped(); n > 0 {
		b.app.logger.Warn("skipped malformed key bindings", zap.Int("count", n))
	}

	// A corrupt packages file means the EnabledSet is lost; start empty.
	if b.app.packages, err = b.open(profile.NamespacePackages, zap.ErrorLevel); err != nil {
		return err
	}
	return nil
}

// open opens a namespace, quarantining a corrupt file and logging at
// level before starting it empty.
func (b *bootstrapper) open(name string, level zapcore.Level) (*profile.Namespace, error) {
	store, prof := b.app.store, b.app.cfg.Profile

	ns, err := store.Open(prof, name)
	if err == nil {
		return ns, nil
	}
	if !errors.Is(err, profile.ErrCorruptStore) {
		return nil, &InitError{Component: name + " namespace", Err: err}
	}

	dest, qerr := store.Quarantine(prof, name)
	if qerr != nil {
		return nil, &InitError{Component: name + " namespace", Err: errors.Join(err, qerr)}
	}
	if ce := b.app.logger.Check(level, "quarantined corrupt namespace"); ce != nil {
		ce.Write(zap.String("namespace", name), zap.String("moved_to", dest), zap.Error(err))
	}

	ns, err = store.Open(prof, name)
	if err != nil {
		return nil, &InitError{Component: name + " namespace", Err: err}
	}
	return ns, nil
}

func (b *bootstrapper) initRegistry(context.Context) error {
	opts := []registry.Option{
		registry.WithLogger(b.app.logger.Named("registry")),
		registry.WithMetrics(b.app.metrics),
		registry.WithWatch(!b.opts.NoWatch),
	}
	if b.app.cfg.Catalog != "" {
		opts = append(opts, registry.WithCatalog(registry.NewDirCatalog(b.app.cfg.Catalog)))
	}

	reg, err := registry.New(b.app.cfg.PackagesDir(), opts...)
	if err != nil {
		return &InitError{Component: "registry", Err: err}
	}
	b.app.registry = reg
	return nil
}

func (b *bootstrapper) initPackages(ctx context.Context) error {
	mux := host.NewMux()
	mux.Handle(".lua", lua.NewLoader(b.app.logger.Named("lua")))
	for name, f := range b.opts.Builtins {
		mux.Register(name, f)
	}

	mgr, err := pkgmgr.New(pkgmgr.Options{
		Registry:    b.app.registry,
		Store:       b.app.packages,
		Loader:      mux,
		HookTimeout: b.app.cfg.HookTimeout,
		Logger:      b.app.logger.Named("packages"),
		Metrics:     b.app.metrics,
	})
	if err != nil {
		return &InitError{Component: "package manager", Err: err}
	}
	b.app.manager = mgr

	b.app.menu = menu.New()
	b.app.unsubscribe = mgr.Subscribe(func(pkgmgr.Event) {
		b.app.menu.Update(mgr.ListActiveCapabilities())
	})

	if err := mgr.Start(ctx); err != nil {
		b.app.startErr = err
		b.app.logger.Warn("some packages failed to start", zap.Error(err))
	}
	b.app.menu.Update(mgr.ListActiveCapabilities())
	return nil
}

// cleanup releases what was built, in reverse order.
func (b *bootstrapper) cleanup() {
	a := b.app
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	if a.registry != nil {
		_ = a.registry.Close()
	}
	for _, ns := range []*profile.Namespace{a.packages, a.keybinds, a.layout, a.config} {
		if ns != nil {
			_ = ns.Close()
		}
	}
	if a.unlock != nil {
		_ = a.unlock()
	}
}
