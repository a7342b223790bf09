package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRun is returned when Run is called on an engine that has
	// already been started. Engines are single-use.
	ErrAlreadyRun = errors.New("crawler: engine already run")
	// ErrEngineStopped is recorded on jobs enqueued after the run finished.
	ErrEngineStopped = errors.New("crawler: engine stopped")
	// ErrBodyTooLarge is returned by fetchers when a response body exceeds
	// Config.MaxBodyBytes.
	ErrBodyTooLarge = errors.New("crawler: response body too large")
)

// FetchError reports a request that failed before a page could be built.
type FetchError struct {
	Job Job
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s %s (kind %q): %v", e.Job.Request().Method, e.Job.URL, e.Job.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// UnimplementedHandlerError is returned when no handler is registered for a
// job's kind.
type UnimplementedHandlerError struct {
	Job Job
}

func (e *UnimplementedHandlerError) Error() string {
	return fmt.Sprintf("handler not implemented for job kind %q (url %s)", e.Job.Kind, e.Job.URL)
}

// HandlerError wraps a failure raised by a user handler.
type HandlerError struct {
	Job Job
	Err error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handle %q job %s: %v", e.Job.Kind, e.Job.URL, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
