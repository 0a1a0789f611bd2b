package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// DefaultProfile is used when no profile name is given.
const DefaultProfile = "default"

// Well-known namespaces.
const (
	NamespaceConfig   = "config"
	NamespaceLayout   = "layout"
	NamespaceKeybind  = "keybind"
	NamespacePackages = "packages"
)

const lockFileName = ".lock"

// namePattern restricts profile and namespace names to safe file names.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)

// Store reads and writes profile namespaces below a root directory.
// It is safe for concurrent use.
type Store struct {
	root         string
	codecs       map[string]Codec
	defaultCodec Codec

	// mu serializes file replacement so concurrent Flush calls on
	// different handles of the same file cannot interleave.
	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithCodec sets the codec for a namespace.
func WithCodec(namespace string, c Codec) Option {
	return func(s *Store) {
		s.codecs[namespace] = c
	}
}

// WithDefaultCodec sets the codec for namespaces without an explicit one.
func WithDefaultCodec(c Codec) Option {
	return func(s *Store) {
		s.defaultCodec = c
	}
}

// New creates a Store rooted at root. The packages namespace uses JSON and
// everything else TOML unless overridden.
func New(root string, opts ...Option) *Store {
	s := &Store{
		root: root,
		codecs: map[string]Codec{
			NamespacePackages: JSONCodec{},
		},
		defaultCodec: TOMLCodec{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the store root directory.
func (s *Store) Root() string {
	return s.root
}

// ProfileDir returns the directory holding a profile's namespaces.
func (s *Store) ProfileDir(profile string) (string, error) {
	profile = normalizeProfile(profile)
	if !validName(profile) {
		return "", fmt.Errorf("%w: profile %q", ErrInvalidName, profile)
	}
	return filepath.Join(s.root, "profiles", profile), nil
}

// Path returns the file backing a namespace.
func (s *Store) Path(profile, namespace string) (string, error) {
	dir, err := s.ProfileDir(profile)
	if err != nil {
		return "", err
	}
	if !validName(namespace) {
		return "", fmt.Errorf("%w: namespace %q", ErrInvalidName, namespace)
	}
	return filepath.Join(dir, namespace+"."+s.codec(namespace).Ext()), nil
}

// Load reads a namespace. A missing file yields an empty mapping.
// A file that cannot be decoded yields a *CorruptStoreError.
func (s *Store) Load(profile, namespace string) (map[string]any, error) {
	m, _, err := s.load(profile, namespace)
	return m, err
}

func (s *Store) load(profile, namespace string) (map[string]any, []byte, error) {
	path, err := s.Path(profile, namespace)
	if err != nil {
		return nil, nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string]any), nil, nil
		}
		return nil, nil, fmt.Errorf("reading %s: %w", path, err)
	}

	m, err := s.codec(namespace).Decode(data)
	if err != nil {
		return nil, nil, &CorruptStoreError{
			Profile:   normalizeProfile(profile),
			Namespace: namespace,
			Path:      path,
			Err:       err,
		}
	}
	return m, data, nil
}

// Save replaces a namespace with m.
func (s *Store) Save(profile, namespace string, m map[string]any) error {
	path, err := s.Path(profile, namespace)
	if err != nil {
		return err
	}
	data, err := s.codec(namespace).Encode(m)
	if err != nil {
		return fmt.Errorf("encoding %s/%s: %w", normalizeProfile(profile), namespace, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(path, data, 0o644)
}

// Open returns a handle for incremental reads and queued writes.
func (s *Store) Open(profile, namespace string) (*Namespace, error) {
	profile = normalizeProfile(profile)
	m, _, err := s.load(profile, namespace)
	if err != nil {
		return nil, err
	}
	return &Namespace{
		store:   s,
		profile: profile,
		name:    namespace,
		codec:   s.codec(namespace),
		data:    m,
	}, nil
}

// Quarantine moves a namespace file aside so the namespace reads as empty.
// It returns the new location, or "" if there was no file.
func (s *Store) Quarantine(profile, namespace string) (string, error) {
	path, err := s.Path(profile, namespace)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	dest := fmt.Sprintf("%s.corrupt-%d", path, time.Now().UnixNano())
	if err := os.Rename(path, dest); err != nil {
		return "", fmt.Errorf("quarantining %s: %w", path, err)
	}
	return dest, nil
}

// Lock takes an exclusive advisory lock on a profile for the life of the
// process. It fails with ErrProfileLocked if another process holds it.
func (s *Store) Lock(profile string) (unlock func() error, err error) {
	dir, err := s.ProfileDir(profile)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}

	fl := flock.New(filepath.Join(dir, lockFileName))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking profile %q: %w", normalizeProfile(profile), err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProfileLocked, normalizeProfile(profile))
	}
	return fl.Unlock, nil
}

// Profiles lists profiles that have a directory under the root.
func (s *Store) Profiles() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "profiles"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() && validName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// write replaces a namespace file with data under the store lock.
func (s *Store) write(path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(path, data, 0o644)
}

func (s *Store) codec(namespace string) Codec {
	if c, ok := s.codecs[namespace]; ok {
		return c
	}
	return s.defaultCodec
}

func normalizeProfile(profile string) string {
	if profile == "" {
		return DefaultProfile
	}
	return profile
}

func validName(name string) bool {
	return name != "." && name != ".." && namePattern.MatchString(name)
}
