package pkgmgr

import (
	"sort"

	"github.com/dshills/deplug/internal/manifest"
)

// Record is the runtime state of one package within the profile.
type Record struct {
	Manifest         *manifest.Manifest
	Status           Status
	InstalledVersion string
	LastError        error
	Enabled          bool
}

// Name returns the package name.
func (r Record) Name() string {
	if r.Manifest == nil {
		return ""
	}
	return r.Manifest.Name()
}

// snapshot is an immutable view published after every mutation.
type snapshot struct {
	records      map[string]Record
	names        []string
	enabled      []string
	active       []string
	capabilities []string
}

var emptySnapshot = &snapshot{records: map[string]Record{}}

// Get returns the record for name.
func (m *Manager) Get(name string) (Record, bool) {
	r, ok := m.snap.Load().records[name]
	return r, ok
}

// List returns every tracked package sorted by name.
func (m *Manager) List() []Record {
	s := m.snap.Load()
	out := make([]Record, 0, len(s.names))
	for _, name := range s.names {
		out = append(out, s.records[name])
	}
	return out
}

// Enabled returns the EnabledSet, sorted.
func (m *Manager) Enabled() []string {
	return append([]string(nil), m.snap.Load().enabled...)
}

// Active returns the active packages in activation order.
func (m *Manager) Active() []string {
	return append([]string(nil), m.snap.Load().active...)
}

// Errors returns the last error of every package that has one.
func (m *Manager) Errors() map[string]error {
	s := m.snap.Load()
	errs := make(map[string]error)
	for name, r := range s.records {
		if r.LastError != nil {
			errs[name] = r.LastError
		}
	}
	return errs
}

// ListActiveCapabilities returns the sorted union of the capabilities
// declared by active packages.
func (m *Manager) ListActiveCapabilities() []string {
	return append([]string(nil), m.snap.Load().capabilities...)
}

// publish rebuilds the snapshot from the mutable state.
// Must be called with opMu held.
func (m *Manager) publish(installed map[string]*manifest.Manifest) {
	s := &snapshot{
		records: make(map[string]Record, len(installed)+len(m.live)),
		enabled: append([]string(nil), m.enabled...),
		active:  append([]string(nil), m.order...),
	}

	enabled := make(map[string]bool, len(m.enabled))
	for _, name := range m.enabled {
		enabled[name] = true
	}

	for name, man := range installed {
		s.records[name] = Record{
			Manifest:         man,
			Status:           m.statusOf(name),
			InstalledVersion: man.Version(),
			LastError:        m.lastErr[name],
			Enabled:          enabled[name],
		}
	}

	caps := make(map[string]bool)
	for name, l := range m.live {
		rec, ok := s.records[name]
		if !ok {
			// Files removed behind the manager's back; the instance still runs.
			rec = Record{Manifest: l.manifest, LastError: m.lastErr[name], Enabled: enabled[name]}
		}
		rec.Status = StatusActive
		s.records[name] = rec
		for _, c := range l.manifest.Capabilities() {
			caps[c] = true
		}
	}

	for name := range s.records {
		s.names = append(s.names, name)
	}
	sort.Strings(s.names)
	for c := range caps {
		s.capabilities = append(s.capabilities, c)
	}
	sort.Strings(s.capabilities)

	m.snap.Store(s)
	m.metrics.SetActive(len(m.live))
}

// statusOf returns the status of an installed package.
// Must be called with opMu held.
func (m *Manager) statusOf(name string) Status {
	switch {
	case m.live[name] != nil:
		return StatusActive
	case m.inactive[name]:
		return StatusInactive
	case m.resolved[name]:
		return StatusResolved
	default:
		return StatusInstalled
	}
}
