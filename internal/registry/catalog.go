package registry

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dshills/deplug/internal/manifest"
)

// IndexFile is the catalog index inside a DirCatalog mirror.
const IndexFile = "index.yaml"

// Entry is one installable package offered by a remote catalog.
type Entry struct {
	Manifest *manifest.Manifest

	// Archive names the package archive within the catalog.
	Archive string

	// Checksum is "sha256:<hex>" of the archive bytes.
	Checksum string
}

// Catalog is a remote source of packages. Implementations perform the
// transport; the registry only caches what Fetch returns.
type Catalog interface {
	// Fetch returns every entry the catalog offers.
	Fetch(ctx context.Context) ([]Entry, error)

	// Open returns the archive bytes for e.
	Open(ctx context.Context, e Entry) (io.ReadCloser, error)
}

// DirCatalog serves a catalog from a mirror directory holding an
// index.yaml and the archives it names.
type DirCatalog struct {
	dir string
}

// NewDirCatalog creates a catalog over dir.
func NewDirCatalog(dir string) *DirCatalog {
	return &DirCatalog{dir: dir}
}

// Dir returns the mirror directory.
func (c *DirCatalog) Dir() string { return c.dir }

type index struct {
	Packages []indexEntry `yaml:"packages"`
}

type indexEntry struct {
	manifest.Document `yaml:",inline"`
	Archive           string `yaml:"archive"`
	Checksum          string `yaml:"checksum"`
}

// Fetch implements Catalog. When the index lists several versions of a
// package, the highest wins.
func (c *DirCatalog) Fetch(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(c.dir, IndexFile))
	if err != nil {
		return nil, err
	}

	var idx index
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", IndexFile, err)
	}

	latest := make(map[string]Entry, len(idx.Packages))
	for i, ie := range idx.Packages {
		m, err := manifest.New(ie.Document)
		if err != nil {
			return nil, fmt.Errorf("%s entry %d: %w", IndexFile, i, err)
		}
		if ie.Archive == "" {
			return nil, fmt.Errorf("%s entry %s: archive is required", IndexFile, m)
		}
		if prev, ok := latest[m.Name()]; ok && !m.SemVer().GreaterThan(prev.Manifest.SemVer()) {
			continue
		}
		latest[m.Name()] = Entry{Manifest: m, Archive: ie.Archive, Checksum: ie.Checksum}
	}

	entries := make([]Entry, 0, len(latest))
	for _, e := range latest {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Manifest.Name() < entries[j].Manifest.Name()
	})
	return entries, nil
}

// Open implements Catalog.
func (c *DirCatalog) Open(ctx context.Context, e Entry) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(c.dir, filepath.FromSlash(e.Archive))
	rel, err := filepath.Rel(c.dir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("archive %q escapes catalog directory", e.Archive)
	}
	return os.Open(path)
}
