package resolver

import (
	"errors"
	"fmt"
	"strings"
)

// Resolution errors. Every typed error below matches its sentinel with
// errors.Is.
var (
	ErrMissingDependency     = errors.New("missing dependency")
	ErrUnsatisfiedDependency = errors.New("unsatisfied dependency")
	ErrCyclicDependency      = errors.New("cyclic dependency")
)

// MissingDependencyError reports a dependency with no manifest at all.
// Package is empty when a requested root itself is unknown.
type MissingDependencyError struct {
	Package    string
	Dependency string
}

func (e *MissingDependencyError) Error() string {
	if e.Package == "" {
		return fmt.Sprintf("package %q not found", e.Dependency)
	}
	return fmt.Sprintf("%s requires %q, which is not available", e.Package, e.Dependency)
}

// Is implements errors.Is.
func (e *MissingDependencyError) Is(target error) bool {
	return target == ErrMissingDependency
}

// UnsatisfiedDependencyError reports a dependency present at a version
// outside the required range.
type UnsatisfiedDependencyError struct {
	Package    string
	Dependency string
	Required   string
	Found      string
}

func (e *UnsatisfiedDependencyError) Error() string {
	return fmt.Sprintf("%s requires %s %s, found %s", e.Package, e.Dependency, e.Required, e.Found)
}

// Is implements errors.Is.
func (e *UnsatisfiedDependencyError) Is(target error) bool {
	return target == ErrUnsatisfiedDependency
}

// CyclicDependencyError reports a dependency cycle. Cycle is a closed
// path: the first and last elements are the same package.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return "dependency cycle: " + strings.Join(e.Cycle, " -> ")
}

// Is implements errors.Is.
func (e *CyclicDependencyError) Is(target error) bool {
	return target == ErrCyclicDependency
}

// IsResolutionError reports whether err is any of the resolution errors.
func IsResolutionError(err error) bool {
	return errors.Is(err, ErrMissingDependency) ||
		errors.Is(err, ErrUnsatisfiedDependency) ||
		errors.Is(err, ErrCyclicDependency)
}
