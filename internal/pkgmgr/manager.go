// Package pkgmgr orchestrates package install, uninstall, enable and
// disable for one profile.
//
// The Manager owns the EnabledSet, persisted in the profile's packages
// namespace, and the running package instances. Every mutating operation
// holds one mutation lock across resolve, persist and activate. Readers
// are served from an immutable snapshot published at the end of each
// mutation, so they never block on one and never observe one halfway.
package pkgmgr

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/deplug/internal/host"
	"github.com/dshills/deplug/internal/manifest"
	"github.com/dshills/deplug/internal/metrics"
	"github.com/dshills/deplug/internal/profile"
	"github.com/dshills/deplug/internal/registry"
	"github.com/dshills/deplug/internal/resolver"
)

// Keys in the packages namespace.
const (
	keyEnabled  = "enabled"
	keyPackages = "packages"
	keyVersion  = "installedVersion"
)

// Options configures a Manager.
type Options struct {
	// Registry provides installed and remote manifests. Required.
	Registry *registry.Registry

	// Store is the profile's packages namespace. Required.
	Store *profile.Namespace

	// Loader materializes package entry points. Required.
	Loader host.Loader

	// HookTimeout bounds each load, init, activate and deactivate call.
	// Zero means no timeout.
	HookTimeout time.Duration

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

type instance struct {
	manifest *manifest.Manifest
	inst     host.Instance
}

// Manager manages package lifecycle within one profile.
type Manager struct {
	registry    *registry.Registry
	store       *profile.Namespace
	loader      host.Loader
	hookTimeout time.Duration
	logger      *zap.Logger
	metrics     *metrics.Metrics

	// opMu serializes mutations. Fields below it are guarded by it.
	opMu     sync.Mutex
	started  bool
	enabled  []string
	live     map[string]*instance
	order    []string
	lastErr  map[string]error
	inactive map[string]bool
	resolved map[string]bool
	queued   []Event

	snap atomic.Pointer[snapshot]

	subMu    sync.RWMutex
	handlers []EventHandler
}

// New creates a Manager. Nothing is read or activated until Start.
func New(opts Options) (*Manager, error) {
	if opts.Registry == nil || opts.Store == nil || opts.Loader == nil {
		return nil, errors.New("pkgmgr: registry, store and loader are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		registry:    opts.Registry,
		store:       opts.Store,
		loader:      opts.Loader,
		hookTimeout: opts.HookTimeout,
		logger:      logger,
		metrics:     opts.Metrics,
		live:        make(map[string]*instance),
		lastErr:     make(map[string]error),
		inactive:    make(map[string]bool),
		resolved:    make(map[string]bool),
	}
	m.snap.Store(emptySnapshot)
	return m, nil
}

// Start loads the EnabledSet and activates every member in dependency
// order. A member that cannot be resolved or activated is marked
// Inactive with its error recorded; the rest still start. The returned
// error joins those per-package failures and is informational only.
func (m *Manager) Start(ctx context.Context) (err error) {
	defer func() { m.metrics.Operation("start", err) }()

	m.opMu.Lock()
	defer m.unlock()

	if m.started {
		return nil
	}

	installed, err := m.installed(ctx)
	if err != nil {
		return err
	}

	m.enabled = m.loadEnabled()
	m.reconcileVersions(installed)
	m.started = true

	failures := m.startAll(ctx, installed)
	m.publish(installed)

	m.logger.Info("packages started",
		zap.Int("enabled", len(m.enabled)),
		zap.Int("active", len(m.order)),
		zap.Int("failed", len(failures)))

	return joinFailures(failures)
}

// Enable adds name to the EnabledSet and activates it together with its
// dependencies. Enabled members that failed earlier and are not running
// are left out of the plan. Resolution failures abort with nothing
// changed. If a package fails to come up, the packages this call newly
// activated are rolled back and an *ActivationError is returned; active
// packages restarted at a changed version keep running unless their own
// restart failed.
func (m *Manager) Enable(ctx context.Context, name string) (err error) {
	defer func() { m.metrics.Operation("enable", err) }()

	m.opMu.Lock()
	defer m.unlock()

	if !m.started {
		return ErrNotStarted
	}

	installed, err := m.installed(ctx)
	if err != nil {
		return err
	}
	if _, ok := installed[name]; !ok {
		return fmt.Errorf("enabling %s: %w", name, ErrNotInstalled)
	}

	plan, err := resolver.Resolve(resolver.Request{
		Requested: []string{name},
		Enabled:   m.healthyEnabled(name),
		Lookup:    lookupIn(installed),
		Previous:  m.liveVersions(),
	})
	if err != nil {
		return err
	}

	// Restarts run as their own phase so a failure further down the plan
	// rolls back only what this call added.
	restarted := m.stopStale(ctx, plan.Stale)
	restartOrder, freshOrder := splitRestart(plan.Order, restarted, installed)

	reactivated, err := m.activatePlan(ctx, restartOrder, installed)
	if err != nil {
		m.rollback(ctx, reactivated)
		for _, n := range restarted {
			if m.live[n] == nil {
				m.inactive[n] = true
			}
		}
		m.publish(installed)
		return err
	}

	activated, err := m.activatePlan(ctx, freshOrder, installed)
	if err != nil {
		m.rollback(ctx, activated)
		m.publish(installed)
		return err
	}

	enabled := insertName(m.enabled, name)
	if err := m.persist(enabled, nil, nil); err != nil {
		m.rollback(ctx, activated)
		m.publish(installed)
		return fmt.Errorf("persisting enabled set: %w", err)
	}
	m.enabled = enabled
	delete(m.lastErr, name)

	m.publish(installed)
	return nil
}

// Disable removes name from the EnabledSet and tears it down. It fails
// with *DependentsActiveError while another active package depends on
// it. The new EnabledSet is persisted before teardown; teardown failures
// are recorded on the package and do not fail the call. Active packages
// no longer needed by anything enabled are torn down too.
func (m *Manager) Disable(ctx context.Context, name string) (err error) {
	defer func() { m.metrics.Operation("disable", err) }()

	m.opMu.Lock()
	defer m.unlock()

	if !m.started {
		return ErrNotStarted
	}

	isEnabled := containsName(m.enabled, name)
	if m.live[name] == nil && !isEnabled {
		return fmt.Errorf("disabling %s: %w", name, ErrNotActive)
	}

	if dependents := resolver.Dependents(name, m.order, m.lookupLive); len(dependents) > 0 {
		return &DependentsActiveError{Package: name, Dependents: dependents}
	}

	enabled := removeName(m.enabled, name)
	if isEnabled {
		if err := m.persist(enabled, nil, nil); err != nil {
			return fmt.Errorf("persisting enabled set: %w", err)
		}
	}
	m.enabled = enabled

	if m.live[name] != nil {
		m.stop(ctx, name)
	}
	m.pruneOrphans(ctx)

	installed, err := m.installed(ctx)
	if err != nil {
		// The change is durable; the snapshot keeps the last scan.
		m.logger.Warn("rescanning after disable", zap.Error(err))
		installed = m.snapshotManifests()
	}
	m.publish(installed)
	return nil
}

// Shutdown tears down every active package in reverse activation order.
// The EnabledSet is not changed.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.opMu.Lock()
	defer m.unlock()

	var failures []error
	for i := len(m.order) - 1; i >= 0; i-- {
		name := m.order[i]
		if err := m.stop(ctx, name); err != nil {
			failures = append(failures, err)
		}
	}
	m.publish(m.snapshotManifests())
	return joinFailures(failures)
}

// installed rescans the registry. Must be called with opMu held.
func (m *Manager) installed(ctx context.Context) (map[string]*manifest.Manifest, error) {
	list, err := m.registry.ListInstalled(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing installed packages: %w", err)
	}
	out := make(map[string]*manifest.Manifest, len(list))
	for _, man := range list {
		out[man.Name()] = man
	}
	return out, nil
}

func (m *Manager) snapshotManifests() map[string]*manifest.Manifest {
	s := m.snap.Load()
	out := make(map[string]*manifest.Manifest, len(s.records))
	for name, r := range s.records {
		if r.InstalledVersion != "" {
			out[name] = r.Manifest
		}
	}
	return out
}

// healthyEnabled returns the EnabledSet without members that failed and
// are not running, except requested. Those stay persisted so a restart
// retries them, but they do not take part in unrelated plans.
func (m *Manager) healthyEnabled(requested string) []string {
	out := make([]string, 0, len(m.enabled))
	for _, n := range m.enabled {
		if n != requested && m.live[n] == nil && m.inactive[n] && m.lastErr[n] != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

func (m *Manager) lookupLive(name string) (*manifest.Manifest, bool) {
	l, ok := m.live[name]
	if !ok {
		return nil, false
	}
	return l.manifest, true
}

func (m *Manager) liveVersions() map[string]string {
	out := make(map[string]string, len(m.live))
	for name, l := range m.live {
		out[name] = l.manifest.Version()
	}
	return out
}

func lookupIn(installed map[string]*manifest.Manifest) resolver.Lookup {
	return func(name string) (*manifest.Manifest, bool) {
		man, ok := installed[name]
		return man, ok
	}
}

func insertName(names []string, name string) []string {
	if containsName(names, name) {
		return append([]string(nil), names...)
	}
	out := append(append([]string(nil), names...), name)
	sort.Strings(out)
	return out
}

func removeName(names []string, name string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
