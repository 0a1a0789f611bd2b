package registry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/deplug/internal/manifest"
	"github.com/dshills/deplug/internal/metrics"
)

func writeInstalled(t *testing.T, root string, doc manifest.Document) {
	t.Helper()
	dir := filepath.Join(root, doc.Name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifest.FileName), data, 0o644))
}

func mustManifest(t *testing.T, doc manifest.Document) *manifest.Manifest {
	t.Helper()
	m, err := manifest.New(doc)
	require.NoError(t, err)
	return m
}

type fakeCatalog struct {
	mu      sync.Mutex
	entries []Entry
	err     error
	block   chan struct{}
	calls   int
}

func (c *fakeCatalog) Fetch(ctx context.Context) ([]Entry, error) {
	c.mu.Lock()
	c.calls++
	block, entries, err := c.block, c.entries, c.err
	c.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return entries, err
}

func (c *fakeCatalog) Open(context.Context, Entry) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

func (c *fakeCatalog) set(entries []Entry, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries, c.err = entries, err
}

func names(ms []*manifest.Manifest) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Name()
	}
	return out
}

func TestListInstalledReflectsDisk(t *testing.T) {
	root := t.TempDir()
	writeInstalled(t, root, manifest.Document{Name: "beta", Version: "1.0.0"})

	r, err := New(root, WithWatch(false))
	require.NoError(t, err)
	defer r.Close()

	got, err := r.ListInstalled(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"beta"}, names(got))

	writeInstalled(t, root, manifest.Document{Name: "alpha", Version: "2.0.0"})
	got, err = r.ListInstalled(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, names(got))

	require.NoError(t, os.RemoveAll(filepath.Join(root, "beta")))
	got, err = r.ListInstalled(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, names(got))
}

func TestWatcherMarksDirty(t *testing.T) {
	root := t.TempDir()
	r, err := New(root)
	require.NoError(t, err)
	defer r.Close()

	got, err := r.ListInstalled(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)

	writeInstalled(t, root, manifest.Document{Name: "late", Version: "1.0.0"})

	require.Eventually(t, func() bool {
		got, err := r.ListInstalled(context.Background())
		return err == nil && len(got) == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestInvalidPackagesAreProblems(t *testing.T) {
	root := t.TempDir()
	writeInstalled(t, root, manifest.Document{Name: "good", Version: "1.0.0"})

	bad := filepath.Join(root, "bad")
	require.NoError(t, os.MkdirAll(bad, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bad, manifest.FileName), []byte(`{"name":"bad"}`), 0o644))

	renamed := filepath.Join(root, "renamed")
	require.NoError(t, os.MkdirAll(renamed, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(renamed, manifest.FileName),
		[]byte(`{"name":"other","version":"1.0.0"}`), 0o644))

	require.NoError(t, os.MkdirAll(filepath.Join(root, ".staging-123"), 0o755))

	r, err := New(root, WithWatch(false))
	require.NoError(t, err)
	defer r.Close()

	got, err := r.ListInstalled(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, names(got))

	problems := r.Problems()
	require.Len(t, problems, 2)
	assert.Equal(t, bad, problems[0].Dir)
	assert.ErrorIs(t, problems[0].Err, manifest.ErrInvalidManifest)
	assert.Equal(t, renamed, problems[1].Dir)
}

func TestFindPrefersInstalled(t *testing.T) {
	root := t.TempDir()
	writeInstalled(t, root, manifest.Document{Name: "core", Version: "1.0.0"})

	cat := &fakeCatalog{entries: []Entry{
		{Manifest: mustManifest(t, manifest.Document{Name: "core", Version: "2.0.0"}), Archive: "core.tar"},
		{Manifest: mustManifest(t, manifest.Document{Name: "extra", Version: "0.1.0"}), Archive: "extra.tar"},
	}}

	r, err := New(root, WithWatch(false), WithCatalog(cat))
	require.NoError(t, err)
	defer r.Close()

	ctx := context.Background()
	m, err := r.Find(ctx, "core")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", m.Version())

	m, err = r.Find(ctx, "extra")
	require.NoError(t, err)
	assert.Equal(t, "0.1.0", m.Version())

	_, err = r.Find(ctx, "ghost")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "ghost", nf.Name)
	assert.ErrorIs(t, err, ErrNotFound)

	e, err := r.Entry(ctx, "core")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", e.Manifest.Version())

	avail, err := r.ListAvailable(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"core", "extra"}, names(avail))
}

func TestListAvailableDegradesOnNetworkError(t *testing.T) {
	root := t.TempDir()
	writeInstalled(t, root, manifest.Document{Name: "local", Version: "1.0.0"})

	cat := &fakeCatalog{err: errors.New("connection refused")}
	m := metrics.New(nil)
	r, err := New(root, WithWatch(false), WithCatalog(cat), WithMetrics(m))
	require.NoError(t, err)
	defer r.Close()

	avail, err := r.ListAvailable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"local"}, names(avail))

	err = r.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNetwork)
	var ne *NetworkError
	assert.ErrorAs(t, err, &ne)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Refreshes.WithLabelValues(metrics.ResultError)))

	_, err = r.Entry(context.Background(), "local")
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestRefreshFailureKeepsPreviousCatalog(t *testing.T) {
	cat := &fakeCatalog{entries: []Entry{
		{Manifest: mustManifest(t, manifest.Document{Name: "remote", Version: "1.0.0"}), Archive: "remote.tar"},
	}}
	r, err := New(t.TempDir(), WithWatch(false), WithCatalog(cat))
	require.NoError(t, err)
	defer r.Close()

	ctx := context.Background()
	require.NoError(t, r.Refresh(ctx))
	first := r.RefreshedAt()
	assert.False(t, first.IsZero())

	cat.set(nil, errors.New("timeout"))
	require.Error(t, r.Refresh(ctx))

	avail, err := r.ListAvailable(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"remote"}, names(avail))
	assert.Equal(t, first, r.RefreshedAt())
}

func TestRefreshCancelled(t *testing.T) {
	cat := &fakeCatalog{block: make(chan struct{})}
	r, err := New(t.TempDir(), WithWatch(false), WithCatalog(cat))
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err = r.Refresh(ctx)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, r.RefreshedAt().IsZero())
}

func TestRefreshSharedFetchSurvivesCallerCancel(t *testing.T) {
	block := make(chan struct{})
	cat := &fakeCatalog{
		block: block,
		entries: []Entry{
			{Manifest: mustManifest(t, manifest.Document{Name: "remote", Version: "1.0.0"}), Archive: "remote.tar"},
		},
	}
	r, err := New(t.TempDir(), WithWatch(false), WithCatalog(cat))
	require.NoError(t, err)
	defer r.Close()

	calls := func() int {
		cat.mu.Lock()
		defer cat.mu.Unlock()
		return cat.calls
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := make(chan error, 1)
	go func() { first <- r.Refresh(ctx) }()
	require.Eventually(t, func() bool { return calls() == 1 }, time.Second, 5*time.Millisecond)

	second := make(chan error, 1)
	go func() { second <- r.Refresh(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	cancel()
	err = <-first
	assert.ErrorIs(t, err, ErrNetwork)
	assert.ErrorIs(t, err, context.Canceled)

	close(block)
	require.NoError(t, <-second)
	assert.False(t, r.RefreshedAt().IsZero())
	assert.Equal(t, 1, calls())

	avail, err := r.ListAvailable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"remote"}, names(avail))
}

func TestCloseStopsSharedFetch(t *testing.T) {
	cat := &fakeCatalog{block: make(chan struct{})}
	r, err := New(t.TempDir(), WithWatch(false), WithCatalog(cat))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- r.Refresh(context.Background()) }()
	require.Eventually(t, func() bool {
		cat.mu.Lock()
		defer cat.mu.Unlock()
		return cat.calls == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, r.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrNetwork)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("refresh still blocked after Close")
	}
	assert.True(t, r.RefreshedAt().IsZero())
}

func TestNoCatalog(t *testing.T) {
	r, err := New(t.TempDir(), WithWatch(false))
	require.NoError(t, err)
	defer r.Close()

	assert.False(t, r.HasCatalog())
	assert.ErrorIs(t, r.Refresh(context.Background()), ErrNoCatalog)
	_, err = r.Entry(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoCatalog)
}

func TestSearch(t *testing.T) {
	root := t.TempDir()
	writeInstalled(t, root, manifest.Document{Name: "git-tools", Version: "1.0.0", Description: "Version control helpers"})
	writeInstalled(t, root, manifest.Document{Name: "theme-dark", Version: "1.0.0", Capabilities: []string{"theme"}})
	writeInstalled(t, root, manifest.Document{Name: "lint", Version: "1.0.0", DisplayName: "Linter"})

	r, err := New(root, WithWatch(false))
	require.NoError(t, err)
	defer r.Close()

	ctx := context.Background()
	tests := []struct {
		query string
		want  []string
	}{
		{"git", []string{"git-tools"}},
		{"CONTROL", []string{"git-tools"}},
		{"theme", []string{"theme-dark"}},
		{"linter", []string{"lint"}},
		{"", []string{"git-tools", "lint", "theme-dark"}},
		{"nothing", []string{}},
	}
	for _, tt := range tests {
		got, err := r.Search(ctx, tt.query)
		require.NoError(t, err)
		assert.Equal(t, tt.want, names(got), "query %q", tt.query)
	}
}

func TestClosed(t *testing.T) {
	r, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, err = r.ListInstalled(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
