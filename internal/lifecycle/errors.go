package lifecycle

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrDuplicateSession is returned when the id already occupies a slot.
	ErrDuplicateSession = errors.New("session already running or starting")
	// ErrStoppedWhileStarting is returned when Stop removed the session
	// before its engine became ready.
	ErrStoppedWhileStarting = errors.New("session stopped while starting")
	// ErrManagerClosed is returned by Start after Close.
	ErrManagerClosed = errors.New("manager is closed")
)

// InvalidConfigError reports a missing or malformed start field.
type InvalidConfigError struct {
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return e.Reason
}

func invalidf(format string, args ...any) error {
	return &InvalidConfigError{Reason: fmt.Sprintf(format, args...)}
}

// EngineStartError wraps the reason an engine failed to construct or become
// ready. Its message is the engine's reason unchanged.
type EngineStartError struct {
	Err error
}

func (e *EngineStartError) Error() string {
	return e.Err.Error()
}

func (e *EngineStartError) Unwrap() error {
	return e.Err
}
