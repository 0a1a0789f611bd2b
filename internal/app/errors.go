package app

import "errors"

// Application errors.
var (
	// ErrClosed is returned when using an App after Close.
	ErrClosed = errors.New("app is closed")
)

// InitError reports which component failed during New.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return "init " + e.Component + ": " + e.Err.Error()
}

func (e *InitError) Unwrap() error {
	return e.Err
}
