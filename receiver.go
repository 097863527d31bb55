package asyncq

import (
	"context"
	"fmt"
	"sync/atomic"
)

const (
	racePending int32 = iota
	raceReceived
	raceCancelled
)

type receiveResult struct {
	msg Message
	err error
}

// receiver runs one blocking receive per call, racing it against the
// caller's context.
type receiver struct {
	transport Transport
	queue     string

	// orphan takes messages whose removal committed after cancellation had
	// already won the race. May be nil.
	orphan func(Message)
}

// receive returns a message, an error wrapping ErrCancelled, or a
// *FaultError. The handle it opens is closed before receive returns.
func (r *receiver) receive(ctx context.Context) (Message, error) {
	if ctx.Err() != nil {
		return Message{}, cancelled(ctx)
	}
	h, err := r.transport.Open(r.queue, AccessReceive)
	if err != nil {
		return Message{}, fault("open", r.queue, err)
	}

	// A message that is already there is delivered whatever ctx does next.
	msg, ok, err := h.TryReceive()
	if err != nil || ok {
		_ = h.Close()
		if err != nil {
			return Message{}, fault("receive", r.queue, err)
		}
		return msg, nil
	}

	var state atomic.Int32
	results := make(chan receiveResult, 1)
	go func() {
		msg, err := h.Receive()
		if state.CompareAndSwap(racePending, raceReceived) {
			results <- receiveResult{msg: msg, err: err}
			return
		}
		// Cancellation won; err is normally ErrAborted and is dropped.
		if err == nil && r.orphan != nil {
			r.orphan(msg)
		}
	}()

	var res receiveResult
	select {
	case res = <-results:
	case <-ctx.Done():
		if state.CompareAndSwap(racePending, raceCancelled) {
			_ = h.Close()
			return Message{}, cancelled(ctx)
		}
		// The receive finished first and its result is on its way.
		res = <-results
	}
	_ = h.Close()
	if res.err != nil {
		return Message{}, fault("receive", r.queue, res.err)
	}
	return res.msg, nil
}

func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
}
