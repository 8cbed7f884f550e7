package extract

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrExtractionFailed  = errors.New("extraction failed")
	ErrTimeout           = errors.New("extraction timed out")

	// ErrNoContent accompanies ErrExtractionFailed when the source was
	// read but held no text.
	ErrNoContent = errors.New("no content")
)

// Error is returned by every extractor. Kind is one of the Err* sentinels.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Retryable reports whether running the same extraction again may succeed.
// Timeouts and failed reads are retryable; unsupported input and empty
// content are not.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrNoContent), errors.Is(err, ErrUnsupportedFormat):
		return false
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrExtractionFailed):
		return true
	}
	return false
}

func newError(op string, kind, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// classify wraps a lower-level failure, mapping deadlines to ErrTimeout.
func classify(op string, err error) error {
	var ee *Error
	if errors.As(err, &ee) {
		return err
	}
	if isTimeout(err) {
		return newError(op, ErrTimeout, err)
	}
	return newError(op, ErrExtractionFailed, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
