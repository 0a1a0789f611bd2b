package pkgmgr

import (
	"errors"
	"fmt"
	"strings"
)

// Package manager errors.
var (
	// ErrNotInstalled is returned when a package is not installed.
	ErrNotInstalled = errors.New("package is not installed")

	// ErrNotActive is returned when disabling a package that is neither
	// active nor enabled.
	ErrNotActive = errors.New("package is not active")

	// ErrPackageActive is returned when an operation requires an inactive package.
	ErrPackageActive = errors.New("package is active")

	// ErrAlreadyInstalled is returned when the same version is already installed.
	ErrAlreadyInstalled = errors.New("package is already installed")

	// ErrInstall matches every *InstallError.
	ErrInstall = errors.New("install failed")

	// ErrActivation matches every *ActivationError.
	ErrActivation = errors.New("activation failed")

	// ErrDependentsActive matches every *DependentsActiveError.
	ErrDependentsActive = errors.New("dependents are active")

	// ErrChecksumMismatch is wrapped by an InstallError when archive bytes
	// do not match the catalog checksum.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrNotStarted is returned by mutating operations before Start.
	ErrNotStarted = errors.New("package manager not started")
)

// InstallError reports a failed install. Nothing of the failed install
// is left visible.
type InstallError struct {
	Package string
	Err     error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("installing %s: %v", e.Package, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }

// Is implements errors.Is.
func (e *InstallError) Is(target error) bool { return target == ErrInstall }

// ActivationError reports a package whose load, init, activate or
// deactivate hook failed.
type ActivationError struct {
	Package string
	Err     error
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("activating %s: %v", e.Package, e.Err)
}

func (e *ActivationError) Unwrap() error { return e.Err }

// Is implements errors.Is.
func (e *ActivationError) Is(target error) bool { return target == ErrActivation }

// DependentsActiveError reports active packages that depend on a package
// being disabled.
type DependentsActiveError struct {
	Package    string
	Dependents []string
}

func (e *DependentsActiveError) Error() string {
	return fmt.Sprintf("cannot disable %s: required by active %s", e.Package, strings.Join(e.Dependents, ", "))
}

// Is implements errors.Is.
func (e *DependentsActiveError) Is(target error) bool { return target == ErrDependentsActive }
