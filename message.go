package asyncq

import (
	"math"
	"time"
)

// InfiniteTTL marks a message that never expires.
const InfiniteTTL = time.Duration(math.MaxInt64)

// maxExpiry is the last instant a nanosecond Unix timestamp can hold.
var maxExpiry = time.Unix(0, math.MaxInt64)

// Message is what a Transport stores and a Handle returns from Receive.
//
// Seq, SentAt and ExpiresAt are assigned by the transport on Send; callers
// only set Body and TTL. A zero ExpiresAt means the message never expires.
type Message struct {
	Body      []byte
	TTL       time.Duration
	Seq       uint64
	SentAt    time.Time
	ExpiresAt time.Time
}

// Expired reports whether m had expired at now.
func (m Message) Expired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && !now.Before(m.ExpiresAt)
}

// Stamp assigns SentAt and ExpiresAt from now and m.TTL. Transports call it
// when accepting a message. A TTL reaching past maxExpiry is treated as
// InfiniteTTL.
func (m Message) Stamp(now time.Time) (Message, error) {
	if m.TTL <= 0 {
		return m, ErrInvalidTTL
	}
	m.SentAt = now
	m.ExpiresAt = time.Time{}
	if m.TTL < maxExpiry.Sub(now) {
		m.ExpiresAt = now.Add(m.TTL)
	}
	return m, nil
}

// Remaining returns the TTL left at now, for re-sending a message that was
// received but never handed to a caller.
func (m Message) Remaining(now time.Time) time.Duration {
	if m.ExpiresAt.IsZero() {
		return InfiniteTTL
	}
	return m.ExpiresAt.Sub(now)
}

func cloneBytes(b []byte) []byte {
	r := make([]byte, len(b))
	copy(r, b)
	return r
}
