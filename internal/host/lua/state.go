// Package lua loads packages whose entry point is a Lua file.
//
// The entry file runs once at load time and may define the global
// functions init, activate and deactivate; each is optional. Only the
// base, table, string and math libraries are opened.
package lua

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// ErrStateClosed is returned when operating on a closed state.
var ErrStateClosed = errors.New("lua state is closed")

// State wraps a gopher-lua state. gopher-lua's LState is not
// goroutine-safe; the mutex serializes every call into it.
type State struct {
	mu     sync.Mutex
	L      *lua.LState
	closed bool
}

// NewState creates a state with only the safe standard libraries.
func NewState() *State {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	// io, os, debug and package are deliberately left closed.
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// OpenBase installs dofile and loadfile, which read arbitrary paths.
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)

	return &State{L: L}
}

// DoFile executes a Lua file. Cancelling ctx interrupts execution.
func (s *State) DoFile(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}
	return s.withContext(ctx, func() error {
		return s.L.DoFile(path)
	})
}

// DoString executes a Lua chunk. Cancelling ctx interrupts execution.
func (s *State) DoString(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}
	return s.withContext(ctx, func() error {
		return s.L.DoString(code)
	})
}

// HasFunction reports whether a global function is defined.
func (s *State) HasFunction(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	return s.L.GetGlobal(name).Type() == lua.LTFunction
}

// CallOptional calls a global function if it is defined and is a
// function; otherwise it does nothing.
func (s *State) CallOptional(ctx context.Context, fn string, args ...lua.LValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}

	fnVal := s.L.GetGlobal(fn)
	if fnVal.Type() != lua.LTFunction {
		return nil
	}

	return s.withContext(ctx, func() error {
		return s.L.CallByParam(lua.P{Fn: fnVal, NRet: 0, Protect: true}, args...)
	})
}

// RegisterModule installs a global table of Go functions and values.
func (s *State) RegisterModule(name string, funcs map[string]lua.LGFunction, fields map[string]lua.LValue) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	mod := s.L.SetFuncs(s.L.NewTable(), funcs)
	for k, v := range fields {
		s.L.SetField(mod, k, v)
	}
	s.L.SetGlobal(name, mod)
}

// Close releases the state. Further calls return ErrStateClosed.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.L.Close()
	s.closed = true
	return nil
}

// withContext runs fn with ctx installed on the state and converts Lua
// panics into errors. Must be called with mu held.
func (s *State) withContext(ctx context.Context, fn func() error) (err error) {
	if ctx != nil {
		s.L.SetContext(ctx)
		defer s.L.RemoveContext()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()

	err = fn()
	if err != nil && ctx != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	return err
}
