package profile

import (
	"errors"
	"fmt"
)

// Store errors.
var (
	// ErrCorruptStore is matched by every CorruptStoreError.
	ErrCorruptStore = errors.New("corrupt profile store")

	// ErrProfileLocked is returned when another process holds the profile lock.
	ErrProfileLocked = errors.New("profile is locked by another process")

	// ErrInvalidName is returned for profile or namespace names that are
	// not safe to use as file names.
	ErrInvalidName = errors.New("invalid profile or namespace name")

	// ErrClosed is returned when using a namespace after Close.
	ErrClosed = errors.New("namespace is closed")
)

// CorruptStoreError reports a namespace file that exists but cannot be decoded.
// Callers may treat it as an empty mapping (see Store.Quarantine) or as fatal.
type CorruptStoreError struct {
	Profile   string
	Namespace string
	Path      string
	Err       error
}

func (e *CorruptStoreError) Error() string {
	return fmt.Sprintf("profile %q namespace %q: corrupt file %s: %v", e.Profile, e.Namespace, e.Path, e.Err)
}

func (e *CorruptStoreError) Unwrap() error {
	return e.Err
}

// Is matches ErrCorruptStore as well as the wrapped decode error.
func (e *CorruptStoreError) Is(target error) bool {
	return target == ErrCorruptStore
}
