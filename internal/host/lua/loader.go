package lua

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/dshills/deplug/internal/host"
	"github.com/dshills/deplug/internal/manifest"
)

// Lifecycle function names looked up in the entry file.
const (
	FuncInit       = "init"
	FuncActivate   = "activate"
	FuncDeactivate = "deactivate"
)

// Loader loads Lua entry points.
type Loader struct {
	logger *zap.Logger
}

// NewLoader creates a Lua loader. A nil logger discards package logs.
func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger}
}

// Load implements host.Loader. The entry file is resolved relative to
// the manifest's directory and executed once.
func (l *Loader) Load(ctx context.Context, m *manifest.Manifest) (host.Instance, error) {
	if m.Dir() == "" {
		return nil, fmt.Errorf("lua package %s has no directory", m)
	}

	entry := filepath.Join(m.Dir(), filepath.FromSlash(m.Main()))
	rel, err := filepath.Rel(m.Dir(), entry)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("lua entry point %q escapes package directory", m.Main())
	}

	state := NewState()
	log := l.logger.With(zap.String("package", m.Name()))
	state.RegisterModule("deplug", map[string]lua.LGFunction{
		"log": func(L *lua.LState) int {
			parts := make([]string, 0, L.GetTop())
			for i := 1; i <= L.GetTop(); i++ {
				parts = append(parts, L.ToStringMeta(L.Get(i)).String())
			}
			log.Info(strings.Join(parts, " "))
			return 0
		},
	}, map[string]lua.LValue{
		"name":    lua.LString(m.Name()),
		"version": lua.LString(m.Version()),
	})

	if err := state.DoFile(ctx, entry); err != nil {
		state.Close()
		return nil, fmt.Errorf("loading %s: %w", entry, err)
	}

	return &instance{state: state}, nil
}

type instance struct {
	state *State
}

func (i *instance) Init(ctx context.Context) error {
	return i.state.CallOptional(ctx, FuncInit)
}

func (i *instance) Activate(ctx context.Context) error {
	return i.state.CallOptional(ctx, FuncActivate)
}

func (i *instance) Deactivate(ctx context.Context) error {
	return i.state.CallOptional(ctx, FuncDeactivate)
}

func (i *instance) Close() error {
	return i.state.Close()
}
