package asyncq

import (
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Envelope is one message received from a queue. It is never modified
// after Receive returns it.
type Envelope struct {
	queue string
	msg   Message
	codec Codec
}

func newEnvelope(queue string, msg Message, codec Codec) *Envelope {
	if codec == nil {
		codec = JSON
	}
	return &Envelope{queue: queue, msg: msg, codec: codec}
}

// Queue is the identity the envelope was received from.
func (e *Envelope) Queue() string {
	return e.queue
}

// Seq is the arrival sequence number assigned by the transport.
func (e *Envelope) Seq() uint64 {
	return e.msg.Seq
}

func (e *Envelope) SentAt() time.Time {
	return e.msg.SentAt
}

// ExpiresAt is the zero time for messages sent with InfiniteTTL.
func (e *Envelope) ExpiresAt() time.Time {
	return e.msg.ExpiresAt
}

// Body returns a copy of the raw payload.
func (e *Envelope) Body() []byte {
	return cloneBytes(e.msg.Body)
}

// Text renders the payload as a text document. The payload is decoded as
// UTF-8 unless it starts with a UTF-8 or UTF-16 byte order mark; invalid
// sequences become U+FFFD. Every line, including the last, is terminated
// with "\n", whatever terminator ("\n", "\r\n" or "\r") it had.
func (e *Envelope) Text() string {
	decoded, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), e.msg.Body)
	if err != nil {
		decoded = []byte(strings.ToValidUTF8(string(e.msg.Body), "\uFFFD"))
	}
	return joinLines(string(decoded))
}

func (e *Envelope) String() string {
	return e.Text()
}

// Decode decodes the payload into v with the receiving Service's codec.
func (e *Envelope) Decode(v any) error {
	return e.codec.Decode(e.msg.Body, v)
}

// DecodeAs decodes the payload of e into a new T.
func DecodeAs[T any](e *Envelope) (T, error) {
	var v T
	err := e.Decode(&v)
	return v, err
}

func joinLines(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 1)
	for len(s) > 0 {
		i := strings.IndexAny(s, "\r\n")
		if i < 0 {
			sb.WriteString(s)
			sb.WriteByte('\n')
			break
		}
		sb.WriteString(s[:i])
		sb.WriteByte('\n')
		if s[i] == '\r' && i+1 < len(s) && s[i+1] == '\n' {
			i++
		}
		s = s[i+1:]
	}
	return sb.String()
}
