// Package menu holds the capabilities contributed by active packages.
// Menu construction itself lives outside this module; it reads Items.
package menu

import (
	"sort"
	"strings"
	"sync"
)

// Menu is safe for concurrent use.
type Menu struct {
	mu   sync.RWMutex
	caps map[string]bool
	rev  uint64
}

// New creates an empty menu.
func New() *Menu {
	return &Menu{caps: make(map[string]bool)}
}

// Update replaces the capability set. It reports whether the set changed.
func (m *Menu) Update(caps []string) bool {
	next := make(map[string]bool, len(caps))
	for _, c := range caps {
		next[c] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(next) == len(m.caps) {
		same := true
		for c := range next {
			if !m.caps[c] {
				same = false
				break
			}
		}
		if same {
			return false
		}
	}
	m.caps = next
	m.rev++
	return true
}

// Capabilities returns the sorted capability set.
func (m *Menu) Capabilities() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.caps))
	for c := range m.caps {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Has reports whether a capability is present.
func (m *Menu) Has(c string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.caps[c]
}

// Items returns the capabilities under a dotted prefix, with the prefix
// removed. Items("menu") of {"menu.file.open"} is {"file.open"}.
func (m *Menu) Items(prefix string) []string {
	p := strings.TrimSuffix(prefix, ".") + "."
	var out []string
	for _, c := range m.Capabilities() {
		if rest, ok := strings.CutPrefix(c, p); ok && rest != "" {
			out = append(out, rest)
		}
	}
	return out
}

// Revision increments on every change.
func (m *Menu) Revision() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rev
}
