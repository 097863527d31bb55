package asyncq

// AccessMode is the purpose a Handle is opened for.
type AccessMode int8

const (
	AccessSend AccessMode = iota + 1
	AccessReceive
	AccessPeek
)

func (m AccessMode) String() string {
	switch m {
	case AccessSend:
		return "send"
	case AccessReceive:
		return "receive"
	case AccessPeek:
		return "peek"
	default:
		return "unknown"
	}
}

// Transport is the durable queue store. Identities are parsed with
// ParseIdentity; implementations must be goroutine-safe.
type Transport interface {
	// Open returns a new Handle. It fails with ErrNotFound when the queue
	// does not exist and ErrAccessDenied when mode is not permitted.
	Open(identity string, mode AccessMode) (Handle, error)

	// Create creates the queue if it does not exist. It fails with
	// ErrUnsupportedQueueKind for identities that cannot be created.
	Create(identity string) error

	Exists(identity string) (bool, error)

	// Delete removes the queue and its messages. It fails with ErrNotFound
	// when the queue does not exist.
	Delete(identity string) error
}

// Handle is one open reference to a queue. A Handle is owned by a single
// operation; at most one blocking call is outstanding on it at a time, but
// Close may be called from any goroutine.
type Handle interface {
	// Send stores msg at the tail of the queue.
	Send(msg Message) error

	// Receive removes and returns the message at the head of the queue,
	// blocking until one is available. When the handle is closed, Receive
	// returns ErrAborted. A message whose removal committed before Close
	// took effect is still returned; the caller owns it.
	Receive() (Message, error)

	// TryReceive is Receive without blocking. ok is false when the queue
	// is empty.
	TryReceive() (msg Message, ok bool, err error)

	// Peek returns the head message without removing it.
	Peek() (msg Message, ok bool, err error)

	// Close releases the handle and aborts a blocked Receive. It is safe
	// to call more than once.
	Close() error
}
