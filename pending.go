package asyncq

import (
	"errors"
	"fmt"
)

// Outcome classifies how an operation finished.
type Outcome int8

const (
	OutcomeSucceeded Outcome = iota + 1
	OutcomeCancelled
	OutcomeFaulted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("Outcome(%d)", int8(o))
	}
}

// OutcomeOf classifies an error returned by Pending.Wait.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSucceeded
	case errors.Is(err, ErrCancelled):
		return OutcomeCancelled
	default:
		return OutcomeFaulted
	}
}

// Pending is the eventual result of an operation started by a Service.
// It is resolved exactly once.
type Pending[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func newPending[T any]() *Pending[T] {
	return &Pending[T]{done: make(chan struct{})}
}

func (p *Pending[T]) resolve(v T, err error) {
	p.val, p.err = v, err
	close(p.done)
}

// Done is closed once the result is available.
func (p *Pending[T]) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the operation finishes and returns its result.
func (p *Pending[T]) Wait() (T, error) {
	<-p.done
	return p.val, p.err
}

// Outcome blocks until the operation finishes and classifies it.
func (p *Pending[T]) Outcome() Outcome {
	<-p.done
	return OutcomeOf(p.err)
}
