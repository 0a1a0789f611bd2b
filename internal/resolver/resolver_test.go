package resolver

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/deplug/internal/manifest"
)

// catalog builds a Lookup from name -> (version, deps).
type catalog map[string]*manifest.Manifest

func (c catalog) add(t *testing.T, name, version string, deps map[string]string) catalog {
	t.Helper()
	m, err := manifest.New(manifest.Document{Name: name, Version: version, Dependencies: deps})
	require.NoError(t, err)
	c[name] = m
	return c
}

func (c catalog) lookup(name string) (*manifest.Manifest, bool) {
	m, ok := c[name]
	return m, ok
}

func indexOf(order []string) map[string]int {
	idx := make(map[string]int, len(order))
	for i, n := range order {
		idx[n] = i
	}
	return idx
}

func TestResolveSharedDependency(t *testing.T) {
	c := catalog{}
	c.add(t, "a", "1.0.0", nil)
	c.add(t, "b", "1.0.0", map[string]string{"a": "*"})
	c.add(t, "c", "1.0.0", map[string]string{"a": "^1.0"})

	plan, err := Resolve(Request{Requested: []string{"c"}, Enabled: []string{"b"}, Lookup: c.lookup})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, plan.Order)
	assert.Equal(t, map[string]string{"a": "1.0.0", "b": "1.0.0", "c": "1.0.0"}, plan.Versions)
	assert.Empty(t, plan.Stale)
}

func TestResolvePrereleaseWithoutRange(t *testing.T) {
	c := catalog{}
	c.add(t, "core", "2.0.0-rc.1", nil)
	c.add(t, "ui", "1.0.0", map[string]string{"core": ""})

	plan, err := Resolve(Request{Requested: []string{"ui"}, Lookup: c.lookup})
	require.NoError(t, err)
	assert.Equal(t, []string{"core", "ui"}, plan.Order)
}

func TestResolveLexicalTieBreak(t *testing.T) {
	c := catalog{}
	c.add(t, "zeta", "1.0.0", nil)
	c.add(t, "alpha", "1.0.0", map[string]string{"zeta": "*"})
	c.add(t, "mid", "1.0.0", nil)
	c.add(t, "beta", "1.0.0", nil)

	plan, err := Resolve(Request{Requested: []string{"mid", "alpha", "beta"}, Lookup: c.lookup})
	require.NoError(t, err)
	// beta and mid and zeta are all free at the start; alpha waits on zeta.
	assert.Equal(t, []string{"beta", "mid", "zeta", "alpha"}, plan.Order)
}

func TestResolveDiamond(t *testing.T) {
	c := catalog{}
	c.add(t, "base", "1.0.0", nil)
	c.add(t, "left", "1.0.0", map[string]string{"base": "*"})
	c.add(t, "right", "1.0.0", map[string]string{"base": "*"})
	c.add(t, "top", "1.0.0", map[string]string{"left": "*", "right": "*"})

	plan, err := Resolve(Request{Requested: []string{"top"}, Lookup: c.lookup})
	require.NoError(t, err)
	assert.Equal(t, []string{"base", "left", "right", "top"}, plan.Order)
}

func TestResolveEmpty(t *testing.T) {
	plan, err := Resolve(Request{Lookup: catalog{}.lookup})
	require.NoError(t, err)
	assert.Empty(t, plan.Order)
}

func TestResolveMissing(t *testing.T) {
	c := catalog{}
	c.add(t, "p", "1.0.0", map[string]string{"d": "*"})

	_, err := Resolve(Request{Requested: []string{"p"}, Lookup: c.lookup})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingDependency)

	var missing *MissingDependencyError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "p", missing.Package)
	assert.Equal(t, "d", missing.Dependency)
	assert.True(t, IsResolutionError(err))
}

func TestResolveMissingRoot(t *testing.T) {
	_, err := Resolve(Request{Requested: []string{"ghost"}, Lookup: catalog{}.lookup})

	var missing *MissingDependencyError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "", missing.Package)
	assert.Equal(t, "ghost", missing.Dependency)
	assert.Contains(t, err.Error(), `"ghost" not found`)
}

func TestResolveUnsatisfied(t *testing.T) {
	c := catalog{}
	c.add(t, "a", "1.4.0", nil)
	c.add(t, "b", "1.0.0", map[string]string{"a": "^2.0"})

	_, err := Resolve(Request{Requested: []string{"b"}, Lookup: c.lookup})

	var unsat *UnsatisfiedDependencyError
	require.True(t, errors.As(err, &unsat))
	assert.Equal(t, UnsatisfiedDependencyError{Package: "b", Dependency: "a", Required: "^2.0", Found: "1.4.0"}, *unsat)
	assert.ErrorIs(t, err, ErrUnsatisfiedDependency)
	assert.NotErrorIs(t, err, ErrMissingDependency)
}

func TestResolveCycle(t *testing.T) {
	tests := []struct {
		name      string
		build     func(c catalog)
		requested []string
		want      []string
	}{
		{
			name: "two nodes",
			build: func(c catalog) {
				c.add(t, "a", "1.0.0", map[string]string{"b": "*"})
				c.add(t, "b", "1.0.0", map[string]string{"a": "*"})
			},
			requested: []string{"a"},
			want:      []string{"a", "b", "a"},
		},
		{
			name: "three nodes behind a prefix",
			build: func(c catalog) {
				c.add(t, "entry", "1.0.0", map[string]string{"x": "*"})
				c.add(t, "x", "1.0.0", map[string]string{"y": "*"})
				c.add(t, "y", "1.0.0", map[string]string{"z": "*"})
				c.add(t, "z", "1.0.0", map[string]string{"x": "*"})
			},
			requested: []string{"entry"},
			want:      []string{"x", "y", "z", "x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := catalog{}
			tt.build(c)

			_, err := Resolve(Request{Requested: tt.requested, Lookup: c.lookup})

			var cyc *CyclicDependencyError
			require.True(t, errors.As(err, &cyc), "error = %v", err)
			assert.Equal(t, tt.want, cyc.Cycle)
			assert.ErrorIs(t, err, ErrCyclicDependency)
		})
	}
}

func TestResolveStale(t *testing.T) {
	c := catalog{}
	c.add(t, "a", "1.1.0", nil)
	c.add(t, "b", "1.0.0", map[string]string{"a": "^1.0"})
	c.add(t, "c", "1.0.0", map[string]string{"b": "*"})
	c.add(t, "other", "1.0.0", nil)

	previous := map[string]string{"a": "1.0.0", "b": "1.0.0", "c": "1.0.0", "other": "1.0.0"}
	plan, err := Resolve(Request{Enabled: []string{"c", "other"}, Lookup: c.lookup, Previous: previous})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, plan.Stale)

	// Unchanged versions: resolution is a no-op with the same order.
	previous["a"] = "1.1.0"
	again, err := Resolve(Request{Enabled: []string{"c", "other"}, Lookup: c.lookup, Previous: previous})
	require.NoError(t, err)
	assert.Equal(t, plan.Order, again.Order)
	assert.Empty(t, again.Stale)
}

func TestDependents(t *testing.T) {
	c := catalog{}
	c.add(t, "a", "1.0.0", nil)
	c.add(t, "b", "1.0.0", map[string]string{"a": "*"})
	c.add(t, "c", "1.0.0", map[string]string{"a": "*"})
	c.add(t, "d", "1.0.0", map[string]string{"b": "*"})

	assert.Equal(t, []string{"b", "c"}, Dependents("a", []string{"d", "c", "b", "a"}, c.lookup))
	assert.Empty(t, Dependents("d", []string{"a", "b", "c", "d"}, c.lookup))
}

// randomDAG builds n packages where each may depend only on packages with
// a lower index, so the graph is acyclic by construction.
func randomDAG(t *testing.T, rng *rand.Rand, n int) catalog {
	c := catalog{}
	for i := 0; i < n; i++ {
		deps := map[string]string{}
		for j := 0; j < i; j++ {
			if rng.Intn(4) == 0 {
				deps[fmt.Sprintf("p%03d", j)] = "*"
			}
		}
		c.add(t, fmt.Sprintf("p%03d", i), "1.0.0", deps)
	}
	return c
}

func TestResolveRandomDAGsOrderAndDeterminism(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		n := 1 + rng.Intn(30)
		c := randomDAG(t, rng, n)

		var requested []string
		for name := range c {
			if rng.Intn(3) == 0 {
				requested = append(requested, name)
			}
		}

		plan, err := Resolve(Request{Requested: requested, Lookup: c.lookup})
		require.NoError(t, err)

		idx := indexOf(plan.Order)
		for _, name := range plan.Order {
			for _, dep := range c[name].DependencyNames() {
				depIdx, ok := idx[dep]
				require.True(t, ok, "dependency %s of %s missing from order", dep, name)
				assert.Less(t, depIdx, idx[name], "%s must come after %s", name, dep)
			}
		}
		for _, r := range requested {
			assert.Contains(t, idx, r)
		}

		again, err := Resolve(Request{Requested: requested, Lookup: c.lookup})
		require.NoError(t, err)
		assert.Equal(t, plan.Order, again.Order)
	}
}

func TestResolveRandomCyclesTerminate(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 30; round++ {
		n := 2 + rng.Intn(20)
		c := randomDAG(t, rng, n)

		// Close a loop from the first package back to the last.
		first := fmt.Sprintf("p%03d", 0)
		last := fmt.Sprintf("p%03d", n-1)
		c.add(t, first, "1.0.0", map[string]string{last: "*"})
		deps := map[string]string{first: "*"}
		for _, d := range c[last].DependencyNames() {
			deps[d] = "*"
		}
		c.add(t, last, "1.0.0", deps)

		_, err := Resolve(Request{Requested: []string{last}, Lookup: c.lookup})

		var cyc *CyclicDependencyError
		require.True(t, errors.As(err, &cyc), "round %d: error = %v", round, err)
		assert.Contains(t, cyc.Cycle, first)
		assert.Contains(t, cyc.Cycle, last)
		assert.Equal(t, cyc.Cycle[0], cyc.Cycle[len(cyc.Cycle)-1])
	}
}
