package asyncq

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
)

// Handler processes one received message. An error is logged; the message
// has already been removed from the queue either way.
type Handler func(ctx context.Context, e *Envelope) error

const (
	minListenBackoff = 50 * time.Millisecond
	maxListenBackoff = 5 * time.Second
)

// Listen receives from s on workers goroutines and hands every message to h
// until ctx is done. Each worker issues a new Receive as soon as the
// previous message was handled.
//
// Listen returns nil once ctx is done. Receive faults are logged and retried
// with backoff, except ErrNotFound: a queue that was deleted ends Listen
// with that error.
func Listen(ctx context.Context, s *Service, workers int, h Handler) error {
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			return listen(gctx, s, h)
		})
	}
	return g.Wait()
}

func listen(ctx context.Context, s *Service, h Handler) error {
	backoff := minListenBackoff
	for {
		e, err := s.Receive(ctx).Wait()
		switch {
		case err == nil:
			backoff = minListenBackoff
			if err := h(ctx, e); err != nil {
				s.log.Errorw("message handler failed", "queue", s.identity, "seq", e.Seq(), "error", err)
			}
			continue
		case errors.Is(err, ErrCancelled):
			return nil
		case errors.Is(err, ErrNotFound):
			return err
		}
		s.log.Errorw("couldn't receive message", "queue", s.identity, "error", err, "backoff", backoff)
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		backoff *= 2
		if backoff > maxListenBackoff {
			backoff = maxListenBackoff
		}
	}
}
