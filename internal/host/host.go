// Package host materializes package code and drives its lifecycle hooks.
//
// A Loader turns a manifest's entry point into an Instance. The manager
// calls Init and Activate when a package goes live and Deactivate when it
// is torn down; Close releases whatever the loader allocated.
package host

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dshills/deplug/internal/manifest"
)

// BuiltinPrefix marks entry points served by registered Go factories.
const BuiltinPrefix = "builtin:"

// Loader errors.
var (
	// ErrNoLoader is returned when no loader handles an entry point.
	ErrNoLoader = errors.New("no loader for entry point")

	// ErrUnknownBuiltin is returned for a builtin entry point with no factory.
	ErrUnknownBuiltin = errors.New("unknown builtin package")
)

// Instance is a loaded package.
type Instance interface {
	Init(ctx context.Context) error
	Activate(ctx context.Context) error
	Deactivate(ctx context.Context) error
	Close() error
}

// Loader materializes package code.
type Loader interface {
	Load(ctx context.Context, m *manifest.Manifest) (Instance, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, m *manifest.Manifest) (Instance, error)

// Load implements Loader.
func (f LoaderFunc) Load(ctx context.Context, m *manifest.Manifest) (Instance, error) {
	return f(ctx, m)
}

// Factory creates a builtin instance.
type Factory func(m *manifest.Manifest) (Instance, error)

// Mux routes entry points to loaders: "builtin:<name>" to registered
// factories and everything else by file extension.
type Mux struct {
	mu       sync.RWMutex
	builtins map[string]Factory
	byExt    map[string]Loader
}

// NewMux creates an empty Mux.
func NewMux() *Mux {
	return &Mux{
		builtins: make(map[string]Factory),
		byExt:    make(map[string]Loader),
	}
}

// Handle routes entry points ending in ext (e.g. ".lua") to l.
func (m *Mux) Handle(ext string, l Loader) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byExt[strings.ToLower(ext)] = l
}

// Register adds a builtin factory under name.
func (m *Mux) Register(name string, f Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.builtins[name] = f
}

// Builtins returns the registered builtin names.
func (m *Mux) Builtins() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.builtins))
	for name := range m.builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load implements Loader.
func (m *Mux) Load(ctx context.Context, man *manifest.Manifest) (Instance, error) {
	entry := man.Main()

	m.mu.RLock()
	if name, ok := strings.CutPrefix(entry, BuiltinPrefix); ok {
		f, found := m.builtins[name]
		m.mu.RUnlock()
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrUnknownBuiltin, name)
		}
		return f(man)
	}
	l, ok := m.byExt[strings.ToLower(filepath.Ext(entry))]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s (%s)", ErrNoLoader, entry, man.Name())
	}
	return l.Load(ctx, man)
}

// Hooks is an Instance built from optional functions. Nil hooks succeed.
type Hooks struct {
	OnInit       func(ctx context.Context) error
	OnActivate   func(ctx context.Context) error
	OnDeactivate func(ctx context.Context) error
	OnClose      func() error
}

// Init implements Instance.
func (h *Hooks) Init(ctx context.Context) error { return call(ctx, h.OnInit) }

// Activate implements Instance.
func (h *Hooks) Activate(ctx context.Context) error { return call(ctx, h.OnActivate) }

// Deactivate implements Instance.
func (h *Hooks) Deactivate(ctx context.Context) error { return call(ctx, h.OnDeactivate) }

// Close implements Instance.
func (h *Hooks) Close() error {
	if h.OnClose == nil {
		return nil
	}
	return h.OnClose()
}

func call(ctx context.Context, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}
	return fn(ctx)
}
