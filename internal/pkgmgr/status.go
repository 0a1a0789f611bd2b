package pkgmgr

// Status is the lifecycle status of a package within a profile.
type Status int

// Package statuses.
const (
	// StatusUninstalled - Package is not present in the packages directory.
	StatusUninstalled Status = iota

	// StatusInstalled - Package files are present; it has never been resolved.
	StatusInstalled

	// StatusResolved - Dependencies resolved but the package is not running.
	StatusResolved

	// StatusActive - Package is loaded, initialized and activated.
	StatusActive

	// StatusInactive - Package was deactivated or failed to activate.
	StatusInactive
)

// String returns a string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusUninstalled:
		return "uninstalled"
	case StatusInstalled:
		return "installed"
	case StatusResolved:
		return "resolved"
	case StatusActive:
		return "active"
	case StatusInactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// IsInstalled returns true if package files are present.
func (s Status) IsInstalled() bool {
	return s != StatusUninstalled
}
