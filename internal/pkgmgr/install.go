package pkgmgr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/deplug/internal/manifest"
	"github.com/dshills/deplug/internal/registry"
)

// staged is a verified, extracted package waiting to be moved into place.
type staged struct {
	dir      string
	root     string
	manifest *manifest.Manifest
}

func (s *staged) cleanup() {
	os.RemoveAll(s.dir)
}

// Install fetches name from the remote catalog, verifies and extracts it
// and moves it into the packages directory. An installed package at a
// different version is replaced unless it is active. Download and
// extraction happen before the mutation lock is taken. Every failure is
// an *InstallError and leaves the previous state in place.
func (m *Manager) Install(ctx context.Context, name string) (err error) {
	defer func() { m.metrics.Operation("install", err) }()

	if rec, ok := m.Get(name); ok && rec.Status == StatusActive {
		return fmt.Errorf("installing %s: %w", name, ErrPackageActive)
	}

	entry, err := m.registry.Entry(ctx, name)
	if err != nil {
		return &InstallError{Package: name, Err: err}
	}
	version := entry.Manifest.Version()
	if rec, ok := m.Get(name); ok && rec.InstalledVersion == version {
		return fmt.Errorf("installing %s@%s: %w", name, version, ErrAlreadyInstalled)
	}

	st, err := m.stage(ctx, entry)
	if err != nil {
		return &InstallError{Package: name, Err: err}
	}
	defer st.cleanup()

	m.opMu.Lock()
	defer m.unlock()

	if !m.started {
		return ErrNotStarted
	}
	if m.live[name] != nil {
		return fmt.Errorf("installing %s: %w", name, ErrPackageActive)
	}

	installed, err := m.rescan(ctx)
	if err != nil {
		return &InstallError{Package: name, Err: err}
	}
	if cur, ok := installed[name]; ok && cur.Version() == version {
		return fmt.Errorf("installing %s@%s: %w", name, version, ErrAlreadyInstalled)
	}

	if err := m.commit(st, name, version); err != nil {
		return &InstallError{Package: name, Err: err}
	}

	delete(m.lastErr, name)
	delete(m.inactive, name)
	delete(m.resolved, name)

	if installed, err = m.rescan(ctx); err != nil {
		m.logger.Warn("rescanning after install", zap.Error(err))
		installed = m.snapshotManifests()
	}
	m.publish(installed)

	m.queue(Event{Type: EventInstalled, Package: name, Version: version})
	m.logger.Info("package installed", zap.String("package", name), zap.String("version", version))
	return nil
}

// stage downloads, verifies and extracts an entry into a hidden
// directory under the packages directory.
func (m *Manager) stage(ctx context.Context, e registry.Entry) (*staged, error) {
	base := filepath.Join(m.registry.Dir(), ".staging-"+uuid.NewString())
	archive := base + ".archive"
	defer os.Remove(archive)

	rc, err := m.registry.Open(ctx, e)
	if err != nil {
		return nil, err
	}
	err = download(ctx, rc, archive, e.Checksum)
	rc.Close()
	if err != nil {
		return nil, err
	}

	st := &staged{dir: base}
	if err := os.Mkdir(base, 0o755); err != nil {
		return nil, err
	}
	if err := extractArchive(ctx, archive, e.Archive, base); err != nil {
		st.cleanup()
		return nil, err
	}

	root, err := packageRoot(base)
	if err != nil {
		st.cleanup()
		return nil, err
	}
	man, err := manifest.LoadDir(root)
	if err != nil {
		st.cleanup()
		return nil, err
	}
	if man.Name() != e.Manifest.Name() || man.Version() != e.Manifest.Version() {
		st.cleanup()
		return nil, fmt.Errorf("archive contains %s, catalog lists %s", man, e.Manifest)
	}

	st.root = root
	st.manifest = man
	return st, nil
}

// packageRoot finds the manifest in an extracted archive: at the top
// level, or inside a single top-level directory.
func packageRoot(dir string) (string, error) {
	if _, err := os.Stat(filepath.Join(dir, manifest.FileName)); err == nil {
		return dir, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var only string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if !e.IsDir() || only != "" {
			return "", fmt.Errorf("archive has no %s", manifest.FileName)
		}
		only = e.Name()
	}
	if only == "" {
		return "", fmt.Errorf("archive has no %s", manifest.FileName)
	}
	root := filepath.Join(dir, only)
	if _, err := os.Stat(filepath.Join(root, manifest.FileName)); err != nil {
		return "", fmt.Errorf("archive has no %s", manifest.FileName)
	}
	return root, nil
}

// commit moves a staged package into place and records its version. A
// replaced version is kept aside until the record is durable.
// Must be called with opMu held.
func (m *Manager) commit(st *staged, name, version string) error {
	dir := m.registry.Dir()
	target := filepath.Join(dir, name)

	var backup string
	if _, err := os.Stat(target); err == nil {
		backup = filepath.Join(dir, ".old-"+uuid.NewString())
		if err := os.Rename(target, backup); err != nil {
			return fmt.Errorf("moving previous version aside: %w", err)
		}
	}

	restore := func() {
		if backup != "" {
			if err := os.Rename(backup, target); err != nil {
				m.logger.Error("restoring previous version", zap.String("package", name), zap.Error(err))
			}
		}
	}

	if err := os.Rename(st.root, target); err != nil {
		restore()
		return fmt.Errorf("moving package into place: %w", err)
	}

	if err := m.persist(nil, map[string]string{name: version}, nil); err != nil {
		os.RemoveAll(target)
		restore()
		return fmt.Errorf("recording installed version: %w", err)
	}

	if backup != "" {
		if err := os.RemoveAll(backup); err != nil {
			m.logger.Warn("removing previous version", zap.String("path", backup), zap.Error(err))
		}
	}
	return nil
}

// Uninstall removes an inactive package's files, its record and its
// persisted state, including EnabledSet membership.
func (m *Manager) Uninstall(ctx context.Context, name string) (err error) {
	defer func() { m.metrics.Operation("uninstall", err) }()

	m.opMu.Lock()
	defer m.unlock()

	if !m.started {
		return ErrNotStarted
	}
	if m.live[name] != nil {
		return fmt.Errorf("uninstalling %s: %w", name, ErrPackageActive)
	}

	installed, err := m.rescan(ctx)
	if err != nil {
		return err
	}
	man, ok := installed[name]
	if !ok {
		return fmt.Errorf("uninstalling %s: %w", name, ErrNotInstalled)
	}

	dir := m.registry.Dir()
	target := filepath.Join(dir, name)
	trash := filepath.Join(dir, ".removing-"+uuid.NewString())
	if err := os.Rename(target, trash); err != nil {
		return fmt.Errorf("uninstalling %s: %w", name, err)
	}

	var enabled []string
	if containsName(m.enabled, name) {
		enabled = removeName(m.enabled, name)
	}
	if err := m.persist(enabled, nil, []string{name}); err != nil {
		if rerr := os.Rename(trash, target); rerr != nil {
			m.logger.Error("restoring package after failed uninstall", zap.String("package", name), zap.Error(rerr))
		}
		return fmt.Errorf("uninstalling %s: %w", name, err)
	}
	if enabled != nil {
		m.enabled = enabled
	}

	if err := os.RemoveAll(trash); err != nil {
		m.logger.Warn("removing package files", zap.String("path", trash), zap.Error(err))
	}

	delete(m.lastErr, name)
	delete(m.inactive, name)
	delete(m.resolved, name)

	prev := installed
	if installed, err = m.rescan(ctx); err != nil {
		m.logger.Warn("rescanning after uninstall", zap.Error(err))
		installed = prev
		delete(installed, name)
	}
	m.publish(installed)

	m.queue(Event{Type: EventUninstalled, Package: name, Version: man.Version()})
	m.logger.Info("package uninstalled", zap.String("package", name))
	return nil
}

// rescan forces a registry rescan and returns the installed manifests.
// Must be called with opMu held.
func (m *Manager) rescan(ctx context.Context) (map[string]*manifest.Manifest, error) {
	if err := m.registry.Rescan(ctx); err != nil {
		return nil, fmt.Errorf("rescanning packages: %w", err)
	}
	return m.installed(ctx)
}
