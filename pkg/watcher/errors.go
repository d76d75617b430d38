package watcher

import (
	"errors"
	"fmt"
)

// ErrAlreadyRunning is returned by Run when another Run is active on the
// same Watcher.
var ErrAlreadyRunning = errors.New("watcher is already running")

// SetupError reports a failure that prevents capture from starting: the
// interface does not exist or the capture socket cannot be opened.
type SetupError struct {
	Interface string
	Op        string // "resolve" or "open"
	Err       error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("%s interface %s: %v", e.Op, e.Interface, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}
