// Package workflow runs named sequences of steps as background jobs with
// per-step retry, a durable run ledger and an optional streaming output
// channel.
package workflow

import (
	"errors"
	"fmt"
)

// ErrUnknownWorkflow is returned by Start when no workflow is registered
// under the requested name.
var ErrUnknownWorkflow = errors.New("unknown workflow")

// ErrInvalidArgs is returned by Start when the arguments do not match the
// workflow's state type.
var ErrInvalidArgs = errors.New("invalid workflow arguments")

// ErrEngineClosed is returned by Start after Shutdown was called.
var ErrEngineClosed = errors.New("engine is shutting down")

// ErrNotStreaming is returned by StepContext.Write for workflows that were
// registered without an output channel.
var ErrNotStreaming = errors.New("workflow has no output channel")

// ErrInvalidRetryPolicy indicates a RetryPolicy with a negative retry count
// or a MaxDelay below BaseDelay.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// EngineError represents a configuration error reported by the engine.
type EngineError struct {
	Message string
	Code    string
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// FatalError fails the run immediately, skipping any remaining retries.
//
// Steps raise it when retrying cannot help, for example when a prerequisite
// lookup such as resolving a repository's default branch fails.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return "fatal: " + e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal wraps err so the engine does not retry it. Fatal(nil) returns nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// Fatalf formats an error and marks it fatal.
func Fatalf(format string, args ...any) error {
	return &FatalError{Err: fmt.Errorf(format, args...)}
}

// IsFatal reports whether err, or any error it wraps, is a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// PanicError is produced when a step panics. It is retried like any other
// non-fatal error.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("step panicked: %v", e.Value)
}
