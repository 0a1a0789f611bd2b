// Package manifest defines the immutable package descriptor and its
// load-time validation.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// FileName is the manifest file inside a package directory.
const FileName = "package.json"

// DefaultMain is the entry point used when a manifest names none.
const DefaultMain = "init.lua"

// Validation errors.
var (
	ErrInvalidManifest = errors.New("invalid manifest")
	ErrMissingName     = fmt.Errorf("%w: name is required", ErrInvalidManifest)
	ErrInvalidName     = fmt.Errorf("%w: name must be lowercase alphanumeric with hyphens", ErrInvalidManifest)
	ErrMissingVersion  = fmt.Errorf("%w: version is required", ErrInvalidManifest)
	ErrInvalidVersion  = fmt.Errorf("%w: version must be valid semver", ErrInvalidManifest)
	ErrInvalidRange    = fmt.Errorf("%w: invalid dependency range", ErrInvalidManifest)
	ErrSelfDependency  = fmt.Errorf("%w: package depends on itself", ErrInvalidManifest)
	ErrInvalidCap      = fmt.Errorf("%w: invalid capability", ErrInvalidManifest)
)

var (
	namePattern       = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
	capabilityPattern = regexp.MustCompile(`^[a-z][a-z0-9._-]*$`)
)

// Manifest describes a package: identity, version, what it needs and
// what it provides. A Manifest is never mutated after it is loaded.
type Manifest struct {
	name         string
	version      *semver.Version
	dependencies map[string]*semver.Constraints
	rawRanges    map[string]string
	capabilities []string
	main         string

	displayName string
	description string
	author      string
	license     string
	homepage    string

	dir string
}

// Document is the on-disk form of a manifest.
type Document struct {
	Name         string            `json:"name" yaml:"name"`
	Version      string            `json:"version" yaml:"version"`
	Dependencies map[string]string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	Main         string            `json:"main,omitempty" yaml:"main,omitempty"`
	DisplayName  string            `json:"displayName,omitempty" yaml:"displayName,omitempty"`
	Description  string            `json:"description,omitempty" yaml:"description,omitempty"`
	Author       string            `json:"author,omitempty" yaml:"author,omitempty"`
	License      string            `json:"license,omitempty" yaml:"license,omitempty"`
	Homepage     string            `json:"homepage,omitempty" yaml:"homepage,omitempty"`
}

// New validates a document and builds a Manifest from it.
func New(doc Document) (*Manifest, error) {
	if doc.Name == "" {
		return nil, ErrMissingName
	}
	if !namePattern.MatchString(doc.Name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, doc.Name)
	}
	if doc.Version == "" {
		return nil, fmt.Errorf("%w (%s)", ErrMissingVersion, doc.Name)
	}
	v, err := semver.StrictNewVersion(doc.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q", ErrInvalidVersion, doc.Name, doc.Version)
	}

	m := &Manifest{
		name:         doc.Name,
		version:      v,
		dependencies: make(map[string]*semver.Constraints, len(doc.Dependencies)),
		rawRanges:    make(map[string]string, len(doc.Dependencies)),
		main:         doc.Main,
		displayName:  doc.DisplayName,
		description:  doc.Description,
		author:       doc.Author,
		license:      doc.License,
		homepage:     doc.Homepage,
	}
	if m.main == "" {
		m.main = DefaultMain
	}

	for dep, rng := range doc.Dependencies {
		if dep == doc.Name {
			return nil, fmt.Errorf("%w: %s", ErrSelfDependency, doc.Name)
		}
		if !namePattern.MatchString(dep) {
			return nil, fmt.Errorf("%w: dependency %q of %s", ErrInvalidName, dep, doc.Name)
		}
		c, err := parseRange(rng)
		if err != nil {
			return nil, fmt.Errorf("%w: %s requires %s %q: %v", ErrInvalidRange, doc.Name, dep, rng, err)
		}
		m.dependencies[dep] = c
		m.rawRanges[dep] = normalizeRange(rng)
	}

	seen := make(map[string]bool, len(doc.Capabilities))
	for _, c := range doc.Capabilities {
		if !capabilityPattern.MatchString(c) {
			return nil, fmt.Errorf("%w: %s declares %q", ErrInvalidCap, doc.Name, c)
		}
		if !seen[c] {
			seen[c] = true
			m.capabilities = append(m.capabilities, c)
		}
	}
	sort.Strings(m.capabilities)

	return m, nil
}

// Parse decodes and validates manifest JSON.
func Parse(data []byte) (*Manifest, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	return New(doc)
}

// Load reads and validates a manifest file. The manifest's directory is
// the directory containing the file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.dir = filepath.Dir(path)
	return m, nil
}

// LoadDir loads the manifest of a package directory.
func LoadDir(dir string) (*Manifest, error) {
	return Load(filepath.Join(dir, FileName))
}

// ValidName reports whether name is a well-formed package name.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// Name returns the unique package name.
func (m *Manifest) Name() string { return m.name }

// Version returns the package version.
func (m *Manifest) Version() string { return m.version.String() }

// SemVer returns the parsed version.
func (m *Manifest) SemVer() *semver.Version { return m.version }

// Main returns the entry-point reference.
func (m *Manifest) Main() string { return m.main }

// Dir returns the package directory, or "" for catalog-only manifests.
func (m *Manifest) Dir() string { return m.dir }

// DisplayName returns the human-readable name, falling back to Name.
func (m *Manifest) DisplayName() string {
	if m.displayName != "" {
		return m.displayName
	}
	return m.name
}

// Description returns the short description.
func (m *Manifest) Description() string { return m.description }

// Capabilities returns the sorted capability tags.
func (m *Manifest) Capabilities() []string {
	return append([]string(nil), m.capabilities...)
}

// HasCapability reports whether the package provides tag.
func (m *Manifest) HasCapability(tag string) bool {
	i := sort.SearchStrings(m.capabilities, tag)
	return i < len(m.capabilities) && m.capabilities[i] == tag
}

// DependencyNames returns the sorted names of direct dependencies.
func (m *Manifest) DependencyNames() []string {
	names := make([]string, 0, len(m.dependencies))
	for name := range m.dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DependsOn reports whether name is a direct dependency.
func (m *Manifest) DependsOn(name string) bool {
	_, ok := m.dependencies[name]
	return ok
}

// Range returns the version range required for a dependency.
func (m *Manifest) Range(dep string) (string, bool) {
	r, ok := m.rawRanges[dep]
	return r, ok
}

// Allows reports whether version satisfies the range this manifest
// requires for dep. Unknown dependencies are never allowed.
func (m *Manifest) Allows(dep string, version *semver.Version) bool {
	c, ok := m.dependencies[dep]
	if !ok {
		return false
	}
	return c == nil || c.Check(version)
}

// Satisfies reports whether this manifest's version is inside rng.
func (m *Manifest) Satisfies(rng string) (bool, error) {
	c, err := parseRange(rng)
	if err != nil {
		return false, err
	}
	return c == nil || c.Check(m.version), nil
}

// Document converts back to the serializable form.
func (m *Manifest) Document() Document {
	doc := Document{
		Name:         m.name,
		Version:      m.version.String(),
		Capabilities: m.Capabilities(),
		Main:         m.main,
		DisplayName:  m.displayName,
		Description:  m.description,
		Author:       m.author,
		License:      m.license,
		Homepage:     m.homepage,
	}
	if len(m.rawRanges) > 0 {
		doc.Dependencies = make(map[string]string, len(m.rawRanges))
		for k, v := range m.rawRanges {
			doc.Dependencies[k] = v
		}
	}
	return doc
}

// WithDir returns a copy bound to a package directory.
func (m *Manifest) WithDir(dir string) *Manifest {
	clone := *m
	clone.dir = dir
	return &clone
}

// MarshalJSON implements json.Marshaler.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Document())
}

// String returns "name@version".
func (m *Manifest) String() string {
	return m.name + "@" + m.version.String()
}

// parseRange accepts the Masterminds constraint syntax. An empty range
// yields nil: any version, prereleases included, which "*" excludes.
func parseRange(rng string) (*semver.Constraints, error) {
	if strings.TrimSpace(rng) == "" {
		return nil, nil
	}
	return semver.NewConstraint(rng)
}

func normalizeRange(rng string) string {
	rng = strings.TrimSpace(rng)
	if rng == "" {
		return "*"
	}
	return rng
}
