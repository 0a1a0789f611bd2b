package pkgmgr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/deplug/internal/host"
	"github.com/dshills/deplug/internal/manifest"
	"github.com/dshills/deplug/internal/resolver"
)

// activatePlan activates, in order, every package not already active.
// It returns the packages it activated. On failure the failing package's
// error is recorded and returned; the caller decides whether to roll back.
// Must be called with opMu held.
func (m *Manager) activatePlan(ctx context.Context, order []string, installed map[string]*manifest.Manifest) ([]string, error) {
	var activated []string
	for _, name := range order {
		if m.live[name] != nil {
			continue
		}
		if err := m.start(ctx, installed[name]); err != nil {
			return activated, err
		}
		activated = append(activated, name)
	}
	return activated, nil
}

// start loads and activates one package.
// Must be called with opMu held.
func (m *Manager) start(ctx context.Context, man *manifest.Manifest) error {
	name := man.Name()
	began := time.Now()

	inst, err := callHook(ctx, m.hookTimeout, func(ctx context.Context) (host.Instance, error) {
		return m.loader.Load(ctx, man)
	}, func(late host.Instance) {
		if late == nil {
			return
		}
		if cerr := late.Close(); cerr != nil {
			m.logger.Warn("closing abandoned package instance", zap.String("package", name), zap.Error(cerr))
		}
	})
	if err == nil {
		err = runHook(ctx, m.hookTimeout, inst.Init)
		if err == nil {
			err = runHook(ctx, m.hookTimeout, inst.Activate)
		}
		if err != nil {
			if cerr := inst.Close(); cerr != nil {
				m.logger.Warn("closing failed package", zap.String("package", name), zap.Error(cerr))
			}
		}
	}

	if err != nil {
		aerr := &ActivationError{Package: name, Err: err}
		m.lastErr[name] = aerr
		m.queue(Event{Type: EventError, Package: name, Version: man.Version(), Err: aerr})
		m.logger.Error("package failed to activate", zap.String("package", name), zap.Error(err))
		return aerr
	}

	m.metrics.ObserveActivation(time.Since(began))
	m.live[name] = &instance{manifest: man, inst: inst}
	m.order = append(m.order, name)
	delete(m.lastErr, name)
	delete(m.inactive, name)
	delete(m.resolved, name)
	m.queue(Event{Type: EventActivated, Package: name, Version: man.Version()})
	m.logger.Info("package activated", zap.String("package", name), zap.String("version", man.Version()))
	return nil
}

// stop deactivates and closes one active package. The package leaves the
// live set even when its hooks fail; the failure is recorded and returned.
// Must be called with opMu held.
func (m *Manager) stop(ctx context.Context, name string) error {
	l := m.live[name]
	if l == nil {
		return nil
	}
	delete(m.live, name)
	m.order = removeName(m.order, name)
	m.inactive[name] = true

	err := runHook(ctx, m.hookTimeout, l.inst.Deactivate)
	if cerr := l.inst.Close(); err == nil {
		err = cerr
	}

	ev := Event{Type: EventDeactivated, Package: name, Version: l.manifest.Version()}
	if err != nil {
		aerr := &ActivationError{Package: name, Err: fmt.Errorf("teardown: %w", err)}
		m.lastErr[name] = aerr
		ev.Err = aerr
		m.logger.Warn("package teardown failed", zap.String("package", name), zap.Error(err))
		err = aerr
	} else {
		m.logger.Info("package deactivated", zap.String("package", name))
	}
	m.queue(ev)
	return err
}

// rollback tears down the packages activated by the current call, in
// reverse order. They end up Resolved, not Inactive.
// Must be called with opMu held.
func (m *Manager) rollback(ctx context.Context, activated []string) {
	for i := len(activated) - 1; i >= 0; i-- {
		name := activated[i]
		_ = m.stop(ctx, name)
		delete(m.inactive, name)
		m.resolved[name] = true
	}
}

// stopStale tears down stale active packages dependents first, so the
// following activation pass brings them back at their new version.
// Must be called with opMu held.
func (m *Manager) stopStale(ctx context.Context, stale []string) []string {
	var stopped []string
	for i := len(stale) - 1; i >= 0; i-- {
		name := stale[i]
		if m.live[name] == nil {
			continue
		}
		m.logger.Info("restarting changed package", zap.String("package", name))
		_ = m.stop(ctx, name)
		stopped = append(stopped, name)
	}
	return stopped
}

// splitRestart partitions order into the restarted packages plus every
// plan member they depend on, and the rest. Both keep order's sequence.
func splitRestart(order, restarted []string, installed map[string]*manifest.Manifest) (restart, fresh []string) {
	if len(restarted) == 0 {
		return nil, order
	}
	needed := make(map[string]bool)
	var mark func(name string)
	mark = func(name string) {
		man := installed[name]
		if man == nil || needed[name] {
			return
		}
		needed[name] = true
		for _, dep := range man.DependencyNames() {
			mark(dep)
		}
	}
	for _, name := range restarted {
		mark(name)
	}
	for _, name := range order {
		if needed[name] {
			restart = append(restart, name)
		} else {
			fresh = append(fresh, name)
		}
	}
	return restart, fresh
}

// pruneOrphans tears down active packages that are neither enabled nor
// needed, directly or transitively, by an enabled active package.
// Must be called with opMu held.
func (m *Manager) pruneOrphans(ctx context.Context) {
	needed := make(map[string]bool, len(m.live))
	var mark func(name string)
	mark = func(name string) {
		l := m.live[name]
		if l == nil || needed[name] {
			return
		}
		needed[name] = true
		for _, dep := range l.manifest.DependencyNames() {
			mark(dep)
		}
	}
	for _, name := range m.enabled {
		mark(name)
	}

	for i := len(m.order) - 1; i >= 0; i-- {
		if name := m.order[i]; !needed[name] {
			_ = m.stop(ctx, name)
		}
	}
}

// startAll activates the EnabledSet at startup. Roots that cannot be
// resolved, and packages whose dependency failed, are marked Inactive.
// Must be called with opMu held.
func (m *Manager) startAll(ctx context.Context, installed map[string]*manifest.Manifest) []error {
	lookup := lookupIn(installed)
	var failures []error

	var roots []string
	for _, name := range m.enabled {
		if _, err := resolver.Resolve(resolver.Request{Requested: []string{name}, Lookup: lookup}); err != nil {
			m.markFailed(name, err)
			failures = append(failures, err)
			continue
		}
		roots = append(roots, name)
	}

	plan, err := resolver.Resolve(resolver.Request{Enabled: roots, Lookup: lookup})
	if err != nil {
		// Each root resolved alone, so the union must too.
		failures = append(failures, err)
		return failures
	}

	failed := make(map[string]bool)
	for _, name := range plan.Order {
		if dep := firstFailed(installed[name], failed); dep != "" {
			failed[name] = true
			err := &ActivationError{Package: name, Err: fmt.Errorf("dependency %s failed to activate", dep)}
			m.markFailed(name, err)
			failures = append(failures, err)
			continue
		}
		if err := m.start(ctx, installed[name]); err != nil {
			failed[name] = true
			m.inactive[name] = true
			failures = append(failures, err)
		}
	}

	// Dependencies of a root that failed are not left running on their own.
	m.pruneOrphans(ctx)
	return failures
}

func (m *Manager) markFailed(name string, err error) {
	m.lastErr[name] = err
	m.inactive[name] = true
	m.queue(Event{Type: EventError, Package: name, Err: err})
	m.logger.Error("package failed to start", zap.String("package", name), zap.Error(err))
}

func firstFailed(man *manifest.Manifest, failed map[string]bool) string {
	for _, dep := range man.DependencyNames() {
		if failed[dep] {
			return dep
		}
	}
	return ""
}

func joinFailures(failures []error) error {
	if len(failures) == 0 {
		return nil
	}
	return fmt.Errorf("%d package(s) failed: %w", len(failures), errors.Join(failures...))
}
