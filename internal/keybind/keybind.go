// Package keybind is the profile's key-binding table, persisted in the
// keybind namespace as an array of tables:
//
//	[[bindings]]
//	keys = "ctrl+k ctrl+c"
//	command = "editor.comment"
package keybind

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dshills/deplug/internal/profile"
)

const keyBindings = "bindings"

// Keybind errors.
var (
	// ErrInvalidKeys is returned for an empty or malformed key sequence.
	ErrInvalidKeys = errors.New("invalid key sequence")

	// ErrNoCommand is returned when binding keys to an empty command.
	ErrNoCommand = errors.New("binding has no command")
)

// Binding maps a key sequence to a command.
type Binding struct {
	// Keys is the normalized key sequence: chords separated by spaces,
	// modifiers first in the order ctrl, alt, shift, meta.
	Keys string

	// Command is the command to run.
	Command string

	// When is an optional condition expression, opaque here.
	When string

	// Description documents the binding.
	Description string
}

// NewBinding creates a binding with the given keys and command.
func NewBinding(keys, command string) Binding {
	return Binding{Keys: keys, Command: command}
}

// WithWhen sets the condition for this binding.
func (b Binding) WithWhen(when string) Binding {
	b.When = when
	return b
}

// WithDescription sets the description for this binding.
func (b Binding) WithDescription(desc string) Binding {
	b.Description = desc
	return b
}

// Table is a key-binding table backed by a profile namespace.
type Table struct {
	mu       sync.RWMutex
	ns       *profile.Namespace
	bindings map[string]Binding
	skipped  int
}

// New loads the table from ns. Malformed entries are skipped and
// counted; they are dropped on the next write.
func New(ns *profile.Namespace) *Table {
	t := &Table{ns: ns, bindings: make(map[string]Binding)}

	raw, _ := ns.Get(keyBindings, nil).([]any)
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			t.skipped++
			continue
		}
		b := Binding{
			Keys:        str(m["keys"]),
			Command:     str(m["command"]),
			When:        str(m["when"]),
			Description: str(m["description"]),
		}
		keys, err := NormalizeKeys(b.Keys)
		if err != nil || b.Command == "" {
			t.skipped++
			continue
		}
		b.Keys = keys
		t.bindings[keys] = b
	}
	return t
}

// Skipped returns how many stored entries could not be loaded.
func (t *Table) Skipped() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.skipped
}

// Bind adds or replaces the binding for b.Keys. The change is queued;
// Save writes it.
func (t *Table) Bind(b Binding) error {
	keys, err := NormalizeKeys(b.Keys)
	if err != nil {
		return err
	}
	if strings.TrimSpace(b.Command) == "" {
		return fmt.Errorf("%w: %s", ErrNoCommand, keys)
	}
	b.Keys = keys

	t.mu.Lock()
	defer t.mu.Unlock()
	t.bindings[keys] = b
	t.store()
	return nil
}

// Unbind removes the binding for keys. It reports whether one existed.
func (t *Table) Unbind(keys string) bool {
	norm, err := NormalizeKeys(keys)
	if err != nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.bindings[norm]; !ok {
		return false
	}
	delete(t.bindings, norm)
	t.store()
	return true
}

// Lookup returns the binding for keys.
func (t *Table) Lookup(keys string) (Binding, bool) {
	norm, err := NormalizeKeys(keys)
	if err != nil {
		return Binding{}, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.bindings[norm]
	return b, ok
}

// Bindings returns every binding sorted by keys.
func (t *Table) Bindings() []Binding {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sorted()
}

// Save writes queued changes.
func (t *Table) Save() error {
	return t.ns.Flush()
}

func (t *Table) sorted() []Binding {
	out := make([]Binding, 0, len(t.bindings))
	for _, b := range t.bindings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Keys < out[j].Keys })
	return out
}

// store queues the whole table. Must be called with mu held.
func (t *Table) store() {
	list := make([]any, 0, len(t.bindings))
	for _, b := range t.sorted() {
		item := map[string]any{"keys": b.Keys, "command": b.Command}
		if b.When != "" {
			item["when"] = b.When
		}
		if b.Description != "" {
			item["description"] = b.Description
		}
		list = append(list, item)
	}
	t.ns.Set(keyBindings, list)
	t.skipped = 0
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
