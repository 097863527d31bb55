package asyncq

import (
	"context"
	"fmt"
	"time"
)

// ReceiveTyped receives one message from s and decodes it into a T with the
// Service codec.
//
// A payload that cannot be decoded is logged and delivered as the zero T,
// unless s was created with WithStrictDecode, in which case the result is a
// *FaultError wrapping ErrDecode.
func ReceiveTyped[T any](ctx context.Context, s *Service) *Pending[T] {
	p := newPending[T]()
	done := s.metrics.start("receive_typed")
	go func() {
		var zero T
		msg, err := s.recv.receive(ctx)
		if err != nil {
			done(OutcomeOf(err))
			p.resolve(zero, err)
			return
		}
		v, err := DecodeAs[T](newEnvelope(s.identity, msg, s.codec))
		if err != nil {
			if s.strictDecode {
				err = fault("decode", s.identity, err)
				done(OutcomeFaulted)
				p.resolve(zero, err)
				return
			}
			s.log.Errorw("couldn't decode message", "queue", s.identity, "seq", msg.Seq, "error", err)
			v = zero
		}
		done(OutcomeSucceeded)
		p.resolve(v, nil)
	}()
	return p
}

// SendTyped encodes v with the Service codec and sends it with InfiniteTTL.
func SendTyped[T any](s *Service, v T) *Pending[bool] {
	return SendTypedTTL(s, v, InfiniteTTL)
}

// SendTypedTTL encodes v with the Service codec and sends it. The message is
// discarded by the transport if nobody receives it within ttl.
func SendTypedTTL[T any](s *Service, v T, ttl time.Duration) *Pending[bool] {
	return s.send("send_typed", func() (Message, error) {
		if ttl <= 0 {
			return Message{}, ErrInvalidTTL
		}
		body, err := s.codec.Encode(v)
		if err != nil {
			return Message{}, fmt.Errorf("asyncq: encode failed: %w", err)
		}
		return Message{Body: body, TTL: ttl}, nil
	})
}
