package daemon

import "errors"

var (
	// ErrManagerAlreadyStarted is returned by Start when called twice.
	ErrManagerAlreadyStarted = errors.New("daemon: manager already started")

	// ErrManagerNotStarted is returned by Shutdown on a manager that never started.
	ErrManagerNotStarted = errors.New("daemon: manager not started")
)
