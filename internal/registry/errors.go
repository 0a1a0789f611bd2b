package registry

import (
	"errors"
	"fmt"
)

// Registry errors.
var (
	// ErrNotFound is returned when no manifest exists for a name.
	ErrNotFound = errors.New("package not found")

	// ErrNetwork is returned when the remote catalog cannot be fetched.
	ErrNetwork = errors.New("remote catalog unavailable")

	// ErrNoCatalog is returned by remote operations when no catalog is configured.
	ErrNoCatalog = errors.New("no remote catalog configured")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("registry is closed")
)

// NotFoundError names the package that could not be found.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("package %q not found", e.Name)
}

// Is implements errors.Is.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NetworkError wraps a failed remote catalog operation.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("catalog %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Is implements errors.Is.
func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}
