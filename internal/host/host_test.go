package host

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/deplug/internal/manifest"
)

func mustManifest(t *testing.T, name, main string) *manifest.Manifest {
	t.Helper()
	m, err := manifest.New(manifest.Document{Name: name, Version: "1.0.0", Main: main})
	require.NoError(t, err)
	return m
}

func TestMuxBuiltin(t *testing.T) {
	mux := NewMux()
	var inits int
	mux.Register("echo", func(m *manifest.Manifest) (Instance, error) {
		return &Hooks{OnInit: func(context.Context) error { inits++; return nil }}, nil
	})

	inst, err := mux.Load(context.Background(), mustManifest(t, "echo", "builtin:echo"))
	require.NoError(t, err)
	require.NoError(t, inst.Init(context.Background()))
	assert.Equal(t, 1, inits)
	assert.Equal(t, []string{"echo"}, mux.Builtins())

	_, err = mux.Load(context.Background(), mustManifest(t, "ghost", "builtin:ghost"))
	assert.ErrorIs(t, err, ErrUnknownBuiltin)
}

func TestMuxByExtension(t *testing.T) {
	mux := NewMux()
	var loaded string
	mux.Handle(".LUA", LoaderFunc(func(_ context.Context, m *manifest.Manifest) (Instance, error) {
		loaded = m.Name()
		return &Hooks{}, nil
	}))

	_, err := mux.Load(context.Background(), mustManifest(t, "script", "init.lua"))
	require.NoError(t, err)
	assert.Equal(t, "script", loaded)

	_, err = mux.Load(context.Background(), mustManifest(t, "native", "lib.so"))
	assert.True(t, errors.Is(err, ErrNoLoader))
}

func TestHooksNilAreNoops(t *testing.T) {
	h := &Hooks{}
	ctx := context.Background()
	assert.NoError(t, h.Init(ctx))
	assert.NoError(t, h.Activate(ctx))
	assert.NoError(t, h.Deactivate(ctx))
	assert.NoError(t, h.Close())
}
