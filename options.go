package asyncq

import (
	"errors"
	"time"
)

// Option can be passed to NewService.
type Option func(s *Service) error

// WithCodec sets the codec used by SendTyped, ReceiveTyped and
// Envelope.Decode. By default, JSON is used.
func WithCodec(c Codec) Option {
	return func(s *Service) error {
		if s.optsApplied {
			return ErrOptionsApplied
		}
		if c == nil {
			return errors.New("nil codec")
		}
		s.codec = c
		return nil
	}
}

// WithMetrics makes the Service record operation outcomes in m.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) error {
		if s.optsApplied {
			return ErrOptionsApplied
		}
		s.metrics = m
		return nil
	}
}

// WithPeekProbe makes HasMessages peek at the queue instead of receiving
// from it. The probe then leaves the message in place and reports false on
// an empty queue instead of blocking.
//
// Without this option HasMessages consumes the message it finds.
func WithPeekProbe() Option {
	return func(s *Service) error {
		if s.optsApplied {
			return ErrOptionsApplied
		}
		s.peekProbe = true
		return nil
	}
}

// WithStrictDecode makes ReceiveTyped fail with a *FaultError wrapping
// ErrDecode when the payload cannot be decoded. By default, a zero value is
// delivered instead.
func WithStrictDecode() Option {
	return func(s *Service) error {
		if s.optsApplied {
			return ErrOptionsApplied
		}
		s.strictDecode = true
		return nil
	}
}

// BoltOption can be passed to NewBoltTransport.
type BoltOption func(t *BoltTransport) error

// WithRootBucket sets the name of the bucket holding all queues. By
// default, it is "asyncq".
func WithRootBucket(name string) BoltOption {
	return func(t *BoltTransport) error {
		if t.optsApplied {
			return ErrOptionsApplied
		}
		if name == "" {
			return errors.New("empty root bucket name")
		}
		t.root = []byte(name)
		return nil
	}
}

// WithClock sets the clock used to stamp and expire messages.
func WithClock(now func() time.Time) BoltOption {
	return func(t *BoltTransport) error {
		if t.optsApplied {
			return ErrOptionsApplied
		}
		t.now = now
		return nil
	}
}
