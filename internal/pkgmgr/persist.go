package pkgmgr

import (
	"sort"

	"go.uber.org/zap"

	"github.com/dshills/deplug/internal/manifest"
)

// The packages namespace looks like
//
//	{"enabled": ["a", "b"], "packages": {"a": {"installedVersion": "1.0.0"}}}
//
// Keys this package does not know are left untouched on rewrite.

func versionKey(name string) string {
	return keyPackages + "." + name + "." + keyVersion
}

// loadEnabled reads the persisted EnabledSet, dropping entries that are
// not valid package names.
func (m *Manager) loadEnabled() []string {
	raw, _ := m.store.Get(keyEnabled, nil).([]any)
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		name, ok := v.(string)
		if !ok || !manifest.ValidName(name) {
			m.logger.Warn("ignoring invalid enabled entry", zap.Any("entry", v))
			continue
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// reconcileVersions records the on-disk version of every installed
// package whose persisted installedVersion differs.
func (m *Manager) reconcileVersions(installed map[string]*manifest.Manifest) {
	versions := make(map[string]string)
	for name, man := range installed {
		if v, _ := m.store.Get(versionKey(name), "").(string); v != man.Version() {
			versions[name] = man.Version()
		}
	}
	if len(versions) == 0 {
		return
	}
	if err := m.persist(nil, versions, nil); err != nil {
		m.logger.Warn("recording installed versions", zap.Error(err))
	}
}

// persist writes the given changes and flushes them. A nil enabled
// leaves the EnabledSet as stored. On failure the queued changes are
// discarded so memory matches disk again.
func (m *Manager) persist(enabled []string, versions map[string]string, removed []string) error {
	if enabled != nil {
		list := make([]any, len(enabled))
		for i, name := range enabled {
			list[i] = name
		}
		m.store.Set(keyEnabled, list)
	}
	for name, v := range versions {
		m.store.Set(versionKey(name), v)
	}
	for _, name := range removed {
		m.store.Delete(keyPackages + "." + name)
	}

	if err := m.store.Flush(); err != nil {
		if derr := m.store.Discard(); derr != nil {
			m.logger.Error("discarding unsaved package state", zap.Error(derr))
		}
		return err
	}
	return nil
}
