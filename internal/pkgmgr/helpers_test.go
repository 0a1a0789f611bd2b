package pkgmgr

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/dshills/deplug/internal/host"
	"github.com/dshills/deplug/internal/manifest"
	"github.com/dshills/deplug/internal/metrics"
	"github.com/dshills/deplug/internal/profile"
	"github.com/dshills/deplug/internal/registry"
)

const testEntry = host.BuiltinPrefix + "test"

// recorder is a builtin package implementation that logs every hook call
// and can be told to fail or hang in any hook.
type recorder struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
	hang  map[string]bool
}

func newRecorder() *recorder {
	return &recorder{fail: map[string]bool{}, hang: map[string]bool{}}
}

func (r *recorder) hook(name, phase string) func(context.Context) error {
	key := name + "." + phase
	return func(ctx context.Context) error {
		r.mu.Lock()
		r.calls = append(r.calls, key)
		fail, hang := r.fail[key], r.hang[key]
		r.mu.Unlock()

		if hang {
			<-ctx.Done()
			return ctx.Err()
		}
		if fail {
			return errors.New(key + " failed")
		}
		return nil
	}
}

func (r *recorder) factory(m *manifest.Manifest) (host.Instance, error) {
	name := m.Name()
	return &host.Hooks{
		OnInit:       r.hook(name, "init"),
		OnActivate:   r.hook(name, "activate"),
		OnDeactivate: r.hook(name, "deactivate"),
	}, nil
}

func (r *recorder) setFail(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[key] = true
}

func (r *recorder) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == key {
			n++
		}
	}
	return n
}

func (r *recorder) log() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type catalogItem struct {
	manifest.Document `yaml:",inline"`
	Archive           string `yaml:"archive"`
	Checksum          string `yaml:"checksum"`
}

type env struct {
	t       *testing.T
	pkgDir  string
	catDir  string
	store   *profile.Store
	rec     *recorder
	catalog []catalogItem
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	e := &env{
		t:      t,
		pkgDir: filepath.Join(root, "packages"),
		catDir: filepath.Join(root, "catalog"),
		store:  profile.New(filepath.Join(root, "home")),
		rec:    newRecorder(),
	}
	require.NoError(t, os.MkdirAll(e.pkgDir, 0o755))
	require.NoError(t, os.MkdirAll(e.catDir, 0o755))
	return e
}

func pkg(name, version string, deps ...string) manifest.Document {
	doc := manifest.Document{Name: name, Version: version, Main: testEntry}
	if len(deps) > 0 {
		doc.Dependencies = make(map[string]string, len(deps))
		for _, d := range deps {
			doc.Dependencies[d] = ""
		}
	}
	return doc
}

// install writes a package straight into the packages directory.
func (e *env) install(docs ...manifest.Document) {
	e.t.Helper()
	for _, doc := range docs {
		dir := filepath.Join(e.pkgDir, doc.Name)
		require.NoError(e.t, os.MkdirAll(dir, 0o755))
		data, err := json.Marshal(doc)
		require.NoError(e.t, err)
		require.NoError(e.t, os.WriteFile(filepath.Join(dir, manifest.FileName), data, 0o644))
	}
}

// publish adds a tar.gz archive of doc to the catalog. An empty checksum
// means the correct one.
func (e *env) publish(doc manifest.Document, checksum string) {
	e.t.Helper()

	data, err := json.Marshal(doc)
	require.NoError(e.t, err)
	archive := tarGz(e.t, map[string]string{
		doc.Name + "-" + doc.Version + "/" + manifest.FileName: string(data),
		doc.Name + "-" + doc.Version + "/README":               "docs",
	})

	file := doc.Name + "-" + doc.Version + ".tar.gz"
	require.NoError(e.t, os.WriteFile(filepath.Join(e.catDir, file), archive, 0o644))

	if checksum == "" {
		sum := sha256.Sum256(archive)
		checksum = ChecksumPrefix + hex.EncodeToString(sum[:])
	}
	e.catalog = append(e.catalog, catalogItem{Document: doc, Archive: file, Checksum: checksum})

	index, err := yaml.Marshal(map[string]any{"packages": e.catalog})
	require.NoError(e.t, err)
	require.NoError(e.t, os.WriteFile(filepath.Join(e.catDir, registry.IndexFile), index, 0o644))
}

func (e *env) persisted() map[string]any {
	e.t.Helper()
	m, err := e.store.Load(profile.DefaultProfile, profile.NamespacePackages)
	require.NoError(e.t, err)
	return m
}

// manager builds and starts a Manager over the env. Each call is a fresh
// process as far as the Manager is concerned.
func (e *env) manager(opts ...func(*Options)) (*Manager, error) {
	e.t.Helper()

	reg, err := registry.New(e.pkgDir,
		registry.WithWatch(false),
		registry.WithCatalog(registry.NewDirCatalog(e.catDir)))
	require.NoError(e.t, err)

	ns, err := e.store.Open(profile.DefaultProfile, profile.NamespacePackages)
	require.NoError(e.t, err)

	mux := host.NewMux()
	mux.Register("test", e.rec.factory)

	o := Options{
		Registry: reg,
		Store:    ns,
		Loader:   mux,
		Metrics:  metrics.New(nil),
	}
	for _, opt := range opts {
		opt(&o)
	}

	m, err := New(o)
	require.NoError(e.t, err)
	e.t.Cleanup(func() {
		_ = m.Shutdown(context.Background())
		_ = ns.Close()
		_ = reg.Close()
	})

	return m, m.Start(context.Background())
}

func (e *env) mustManager(opts ...func(*Options)) *Manager {
	e.t.Helper()
	m, err := e.manager(opts...)
	require.NoError(e.t, err)
	return m
}

func tarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	writeTar(t, gz, files)
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func writeTar(t *testing.T, w io.Writer, files map[string]string) {
	t.Helper()
	tw := tar.NewWriter(w)
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(body)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
}

func statuses(m *Manager) map[string]Status {
	out := make(map[string]Status)
	for _, r := range m.List() {
		out[r.Name()] = r.Status
	}
	return out
}
