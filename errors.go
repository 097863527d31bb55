package asyncq

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a queue does not exist.
	ErrNotFound = errors.New("asyncq: queue not found")

	// ErrAccessDenied is returned when the transport refuses the requested
	// access mode.
	ErrAccessDenied = errors.New("asyncq: access denied")

	// ErrUnsupportedQueueKind is returned by Create when the identity names
	// a kind of queue that cannot be created, such as a remote private
	// queue or a format-name (direct or multicast) address.
	ErrUnsupportedQueueKind = errors.New("asyncq: queue kind cannot be created")

	// ErrAborted is returned by Handle.Receive when the handle is closed
	// while the receive is blocked, or was closed before it started.
	ErrAborted = errors.New("asyncq: receive aborted")

	// ErrCancelled is the caller-visible outcome of a receive whose context
	// was done before a message arrived.
	ErrCancelled = errors.New("asyncq: receive cancelled")

	// ErrHandleClosed is returned by Send and Peek on a closed Handle.
	ErrHandleClosed = errors.New("asyncq: handle closed")

	ErrDecode          = errors.New("asyncq: decode failed")
	ErrInvalidIdentity = errors.New("asyncq: invalid queue identity")
	ErrInvalidTTL      = errors.New("asyncq: invalid time-to-live")
	ErrNilLogger       = errors.New("asyncq: logger must not be nil")
	ErrOptionsApplied  = errors.New("asyncq: options already applied")
)

// FaultError describes a failed operation that was neither a success nor a
// cancellation.
type FaultError struct {
	Op    string
	Queue string
	Err   error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("asyncq: %s %q: %s", e.Op, e.Queue, e.Err)
}

func (e *FaultError) Unwrap() error {
	return e.Err
}

func fault(op, queue string, err error) error {
	return &FaultError{Op: op, Queue: queue, Err: err}
}
