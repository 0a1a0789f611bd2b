// Package resolver computes package activation order.
//
// Resolution is a pure computation: it reads manifests through a lookup
// function and never touches disk, the network or shared state, so it can
// be tested exhaustively.
package resolver

import (
	"sort"

	"github.com/dshills/deplug/internal/manifest"
)

// Lookup returns the manifest for a package name.
type Lookup func(name string) (*manifest.Manifest, bool)

// Request describes one resolution.
type Request struct {
	// Requested are the packages being asked for in this call.
	Requested []string

	// Enabled are packages already enabled; they are resolved together
	// with Requested so the result is a plan for the whole set.
	Enabled []string

	// Lookup finds manifests.
	Lookup Lookup

	// Previous maps package name to the version used by the last
	// successful plan. Used to compute Plan.Stale.
	Previous map[string]string
}

// Plan is a successful resolution.
type Plan struct {
	// Order lists every package (roots plus transitive dependencies) so
	// that each package appears after all of its dependencies.
	Order []string

	// Versions maps each package in Order to the version resolved.
	Versions map[string]string

	// Stale lists, in Order order, packages whose version differs from
	// Request.Previous and every package that transitively depends on one.
	Stale []string
}

type mark int

const (
	unvisited mark = iota
	visiting
	done
)

type graph struct {
	lookup Lookup
	nodes  map[string]*manifest.Manifest
	marks  map[string]mark
	stack  []string
}

// Resolve builds the dependency graph for the request and orders it.
//
// It fails with *MissingDependencyError, *UnsatisfiedDependencyError or
// *CyclicDependencyError. A cycle is reported with its full path as soon
// as the depth-first walk finds a back edge.
func Resolve(req Request) (*Plan, error) {
	g := &graph{
		lookup: req.Lookup,
		nodes:  make(map[string]*manifest.Manifest),
		marks:  make(map[string]mark),
	}

	for _, root := range roots(req.Requested, req.Enabled) {
		if err := g.visit(root, ""); err != nil {
			return nil, err
		}
	}

	order := g.order()
	versions := make(map[string]string, len(order))
	for _, name := range order {
		versions[name] = g.nodes[name].Version()
	}

	return &Plan{
		Order:    order,
		Versions: versions,
		Stale:    g.stale(order, req.Previous),
	}, nil
}

func (g *graph) visit(name, parent string) error {
	switch g.marks[name] {
	case done:
		return nil
	case visiting:
		return g.cycle(name)
	}

	m, ok := g.lookup(name)
	if !ok || m == nil {
		return &MissingDependencyError{Package: parent, Dependency: name}
	}

	g.marks[name] = visiting
	g.stack = append(g.stack, name)

	for _, dep := range m.DependencyNames() {
		depManifest, ok := g.lookup(dep)
		if !ok || depManifest == nil {
			return &MissingDependencyError{Package: name, Dependency: dep}
		}
		if !m.Allows(dep, depManifest.SemVer()) {
			required, _ := m.Range(dep)
			return &UnsatisfiedDependencyError{
				Package:    name,
				Dependency: dep,
				Required:   required,
				Found:      depManifest.Version(),
			}
		}
		if err := g.visit(dep, name); err != nil {
			return err
		}
	}

	g.stack = g.stack[:len(g.stack)-1]
	g.marks[name] = done
	g.nodes[name] = m
	return nil
}

// cycle builds the closed path from the first occurrence of name on the
// stack back to name.
func (g *graph) cycle(name string) error {
	start := 0
	for i, n := range g.stack {
		if n == name {
			start = i
			break
		}
	}
	path := append([]string(nil), g.stack[start:]...)
	path = append(path, name)
	return &CyclicDependencyError{Cycle: path}
}

// order is Kahn's algorithm with the ready set kept sorted, so among
// packages that are free to go next the lexically smallest goes first.
func (g *graph) order() []string {
	pending := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string, len(g.nodes))
	for name, m := range g.nodes {
		deps := m.DependencyNames()
		pending[name] = len(deps)
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for name, n := range pending {
		if n == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		for _, d := range dependents[name] {
			pending[d]--
			if pending[d] == 0 {
				ready = insertSorted(ready, d)
			}
		}
	}
	return order
}

func (g *graph) stale(order []string, previous map[string]string) []string {
	if len(previous) == 0 {
		return nil
	}

	isStale := make(map[string]bool)
	// Order has dependencies first, so one forward pass propagates
	// staleness to every transitive dependent.
	for _, name := range order {
		m := g.nodes[name]
		if v, ok := previous[name]; ok && v != m.Version() {
			isStale[name] = true
			continue
		}
		for _, dep := range m.DependencyNames() {
			if isStale[dep] {
				isStale[name] = true
				break
			}
		}
	}

	var out []string
	for _, name := range order {
		if isStale[name] {
			out = append(out, name)
		}
	}
	return out
}

// Dependents returns, sorted, the members of names whose manifest
// declares a direct dependency on target.
func Dependents(target string, names []string, lookup Lookup) []string {
	var out []string
	for _, name := range names {
		if name == target {
			continue
		}
		if m, ok := lookup(name); ok && m != nil && m.DependsOn(target) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func roots(requested, enabled []string) []string {
	seen := make(map[string]bool, len(requested)+len(enabled))
	var out []string
	for _, list := range [][]string{requested, enabled} {
		for _, name := range list {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	sort.Strings(out)
	return out
}

func insertSorted(s []string, v string) []string {
	i := sort.SearchStrings(s, v)
	s = append(s, "")
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}
