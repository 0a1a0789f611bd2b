// Package registry keeps the catalog of known packages: the ones
// installed in the packages directory and the ones a remote catalog
// offers.
//
// The installed view always reflects the disk. With a watcher it is
// rescanned after any change under the packages directory; without one
// every listing rescans. The remote view is a cached copy of the last
// successful Refresh that is swapped in whole, so readers never see a
// partial catalog.
package registry

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dshills/deplug/internal/manifest"
	"github.com/dshills/deplug/internal/metrics"
)

// Registry is safe for concurrent use.
type Registry struct {
	dir     string
	catalog Catalog
	logger  *zap.Logger
	metrics *metrics.Metrics
	watch   bool

	mu        sync.Mutex
	installed map[string]*manifest.Manifest
	problems  []Problem
	scanned   bool
	dirty     atomic.Bool
	watcher   *dirWatcher

	remote       atomic.Pointer[remoteCatalog]
	fetchStarted atomic.Bool
	group        singleflight.Group

	// base is cancelled by Close and bounds shared fetches.
	base     context.Context
	stopBase context.CancelFunc

	closed atomic.Bool
}

type remoteCatalog struct {
	entries   map[string]Entry
	fetchedAt time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithCatalog sets the remote catalog.
func WithCatalog(c Catalog) Option {
	return func(r *Registry) { r.catalog = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithWatch enables or disables the filesystem watcher. Enabled by default.
func WithWatch(enabled bool) Option {
	return func(r *Registry) { r.watch = enabled }
}

// New creates a registry over the packages directory dir, creating it
// if needed. A watcher that cannot be started is logged and the
// registry falls back to rescanning on every call.
func New(dir string, opts ...Option) (*Registry, error) {
	r := &Registry{
		dir:    dir,
		logger: zap.NewNop(),
		watch:  true,
	}
	r.base, r.stopBase = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(r)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.stopBase()
		return nil, fmt.Errorf("creating packages directory: %w", err)
	}

	if r.watch {
		w, err := newDirWatcher(dir, func() { r.dirty.Store(true) }, r.logger)
		if err != nil {
			r.logger.Warn("package directory watcher unavailable; rescanning on every call",
				zap.String("dir", dir), zap.Error(err))
		} else {
			r.watcher = w
		}
	}

	return r, nil
}

// Dir returns the packages directory.
func (r *Registry) Dir() string { return r.dir }

// HasCatalog reports whether a remote catalog is configured.
func (r *Registry) HasCatalog() bool { return r.catalog != nil }

func (r *Registry) installedView(ctx context.Context, force bool) (map[string]*manifest.Manifest, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !force && r.scanned && r.watcher != nil && !r.dirty.Load() {
		return r.installed, nil
	}

	// Cleared before scanning so changes made during the scan dirty it again.
	r.dirty.Store(false)
	found, problems, err := scanDir(ctx, r.dir)
	if err != nil {
		r.dirty.Store(true)
		return nil, fmt.Errorf("scanning %s: %w", r.dir, err)
	}
	for _, p := range problems {
		r.logger.Warn("skipping invalid package", zap.String("dir", p.Dir), zap.Error(p.Err))
	}

	r.installed = found
	r.problems = problems
	r.scanned = true
	return found, nil
}

// Rescan reloads the installed catalog from disk now.
func (r *Registry) Rescan(ctx context.Context) error {
	_, err := r.installedView(ctx, true)
	return err
}

// ListInstalled returns the installed manifests sorted by name.
func (r *Registry) ListInstalled(ctx context.Context) ([]*manifest.Manifest, error) {
	view, err := r.installedView(ctx, false)
	if err != nil {
		return nil, err
	}
	return sortedManifests(view), nil
}

// Installed returns the installed manifest for name.
func (r *Registry) Installed(ctx context.Context, name string) (*manifest.Manifest, error) {
	view, err := r.installedView(ctx, false)
	if err != nil {
		return nil, err
	}
	m, ok := view[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return m, nil
}

// Problems returns the package directories skipped by the last scan.
func (r *Registry) Problems() []Problem {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Problem, len(r.problems))
	copy(out, r.problems)
	return out
}

// ListAvailable returns every known package sorted by name: installed
// manifests, plus remote entries not installed. The remote catalog is
// fetched lazily on first use; a failed fetch degrades to the installed
// packages.
func (r *Registry) ListAvailable(ctx context.Context) ([]*manifest.Manifest, error) {
	view, err := r.installedView(ctx, false)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]*manifest.Manifest, len(view))
	for name, m := range view {
		merged[name] = m
	}
	if rc := r.remoteView(ctx); rc != nil {
		for name, e := range rc.entries {
			if _, ok := merged[name]; !ok {
				merged[name] = e.Manifest
			}
		}
	}
	return sortedManifests(merged), nil
}

// Find returns the manifest for name, preferring the installed one.
func (r *Registry) Find(ctx context.Context, name string) (*manifest.Manifest, error) {
	view, err := r.installedView(ctx, false)
	if err != nil {
		return nil, err
	}
	if m, ok := view[name]; ok {
		return m, nil
	}
	if rc := r.remoteView(ctx); rc != nil {
		if e, ok := rc.entries[name]; ok {
			return e.Manifest, nil
		}
	}
	return nil, &NotFoundError{Name: name}
}

// Entry returns the remote catalog entry for name. Unlike Find it
// reports a failed lazy fetch instead of degrading.
func (r *Registry) Entry(ctx context.Context, name string) (Entry, error) {
	if r.catalog == nil {
		return Entry{}, ErrNoCatalog
	}

	rc := r.remote.Load()
	if rc == nil {
		if err := r.Refresh(ctx); err != nil {
			return Entry{}, err
		}
		rc = r.remote.Load()
	}
	e, ok := rc.entries[name]
	if !ok {
		return Entry{}, &NotFoundError{Name: name}
	}
	return e, nil
}

// Open returns the archive for a catalog entry.
func (r *Registry) Open(ctx context.Context, e Entry) (io.ReadCloser, error) {
	if r.catalog == nil {
		return nil, ErrNoCatalog
	}
	rc, err := r.catalog.Open(ctx, e)
	if err != nil {
		return nil, &NetworkError{Op: "open " + e.Archive, Err: err}
	}
	return rc, nil
}

// Search returns available packages whose name, display name,
// description or capabilities contain query, case-insensitively.
func (r *Registry) Search(ctx context.Context, query string) ([]*manifest.Manifest, error) {
	all, err := r.ListAvailable(ctx)
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return all, nil
	}

	var out []*manifest.Manifest
	for _, m := range all {
		if matches(m, q) {
			out = append(out, m)
		}
	}
	return out, nil
}

func matches(m *manifest.Manifest, q string) bool {
	if strings.Contains(m.Name(), q) ||
		strings.Contains(strings.ToLower(m.DisplayName()), q) ||
		strings.Contains(strings.ToLower(m.Description()), q) {
		return true
	}
	for _, c := range m.Capabilities() {
		if strings.Contains(c, q) {
			return true
		}
	}
	return false
}

// Refresh re-fetches the remote catalog. Concurrent calls share one
// fetch, which outlives any single caller and stops only when the
// Registry is closed. A caller whose ctx ends first gets a
// *NetworkError while the others keep waiting. The cached catalog is
// replaced only when the fetch succeeds; otherwise the previous catalog
// stays visible.
func (r *Registry) Refresh(ctx context.Context) error {
	if r.catalog == nil {
		return ErrNoCatalog
	}
	if r.closed.Load() {
		return ErrClosed
	}
	r.fetchStarted.Store(true)

	ch := r.group.DoChan("refresh", func() (any, error) {
		fetchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		stop := context.AfterFunc(r.base, cancel)
		defer stop()

		entries, err := r.catalog.Fetch(fetchCtx)
		r.metrics.Refresh(err)
		if err != nil {
			return nil, &NetworkError{Op: "refresh", Err: err}
		}

		rc := &remoteCatalog{
			entries:   make(map[string]Entry, len(entries)),
			fetchedAt: time.Now(),
		}
		for _, e := range entries {
			rc.entries[e.Manifest.Name()] = e
		}
		r.remote.Store(rc)
		r.logger.Info("remote catalog refreshed", zap.Int("packages", len(rc.entries)))
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return &NetworkError{Op: "refresh", Err: ctx.Err()}
	}
}

// RefreshedAt returns when the cached remote catalog was fetched, or the
// zero time if it never was.
func (r *Registry) RefreshedAt() time.Time {
	if rc := r.remote.Load(); rc != nil {
		return rc.fetchedAt
	}
	return time.Time{}
}

// remoteView returns the cached remote catalog, fetching it once if it
// was never attempted. Failures are logged and yield nil.
func (r *Registry) remoteView(ctx context.Context) *remoteCatalog {
	if r.catalog == nil {
		return nil
	}
	if rc := r.remote.Load(); rc != nil {
		return rc
	}
	if r.fetchStarted.Load() {
		return nil
	}
	if err := r.Refresh(ctx); err != nil {
		r.logger.Warn("remote catalog unavailable; listing installed packages only", zap.Error(err))
	}
	return r.remote.Load()
}

// Close stops the watcher and any shared catalog fetch.
func (r *Registry) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.stopBase()
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

func sortedManifests(m map[string]*manifest.Manifest) []*manifest.Manifest {
	out := make([]*manifest.Manifest, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
