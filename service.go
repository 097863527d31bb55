package asyncq

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Logger receives failures that a Service converts into false or zero
// results. *zap.SugaredLogger satisfies it.
type Logger interface {
	Errorw(msg string, keysAndValues ...interface{})
}

// Service sends to and receives from one named queue. Every operation runs
// on its own goroutine and returns a Pending immediately. Service is safe
// for concurrent use.
type Service struct {
	transport    Transport
	identity     string
	log          Logger
	codec        Codec
	metrics      *Metrics
	recv         *receiver
	peekProbe    bool
	strictDecode bool
	optsApplied  bool
}

// NewService creates a Service for the queue named identity.
//
// When createIfNotExists is true and the queue does not exist, NewService
// creates it. An identity that names a queue kind that cannot be created
// makes NewService fail with an error wrapping ErrUnsupportedQueueKind;
// any other creation failure is logged and NewService succeeds.
func NewService(t Transport, identity string, createIfNotExists bool, log Logger, options ...Option) (*Service, error) {
	if log == nil {
		return nil, ErrNilLogger
	}
	if t == nil {
		return nil, errors.New("asyncq: transport must not be nil")
	}
	if _, err := ParseIdentity(identity); err != nil {
		return nil, err
	}
	s := &Service{
		transport: t,
		identity:  identity,
		log:       log,
		codec:     JSON,
	}
	for _, o := range options {
		if err := o(s); err != nil {
			return nil, fmt.Errorf("asyncq: couldn't create Service: %s", err)
		}
	}
	s.optsApplied = true
	s.recv = &receiver{
		transport: t,
		queue:     identity,
		orphan:    s.requeue,
	}
	if createIfNotExists {
		if err := s.createIfNotExists(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Service) createIfNotExists() error {
	exists, err := s.transport.Exists(s.identity)
	if err != nil {
		s.log.Errorw("couldn't check queue existence", "queue", s.identity, "error", err)
		return nil
	}
	if exists {
		return nil
	}
	if err := s.transport.Create(s.identity); err != nil {
		if errors.Is(err, ErrUnsupportedQueueKind) {
			return fmt.Errorf("asyncq: createIfNotExists cannot be used on %q: %w", s.identity, err)
		}
		s.log.Errorw("couldn't create queue", "queue", s.identity, "error", err)
	}
	return nil
}

func (s *Service) String() string {
	return fmt.Sprintf("Service{Queue: %q}", s.identity)
}

// Identity is the queue identity the Service was created with.
func (s *Service) Identity() string {
	return s.identity
}

// Receive receives one message. The result is an *Envelope, an error
// wrapping ErrCancelled if ctx is done first, or a *FaultError.
func (s *Service) Receive(ctx context.Context) *Pending[*Envelope] {
	p := newPending[*Envelope]()
	done := s.metrics.start("receive")
	go func() {
		msg, err := s.recv.receive(ctx)
		done(OutcomeOf(err))
		if err != nil {
			p.resolve(nil, err)
			return
		}
		p.resolve(newEnvelope(s.identity, msg, s.codec), nil)
	}()
	return p
}

// HasMessages reports whether the queue holds a message.
//
// The probe receives from the queue: it blocks until a message arrives or
// ctx is done, and the message it finds is consumed. Use WithPeekProbe for
// a probe that leaves the queue untouched. Failures are logged and reported
// as false.
func (s *Service) HasMessages(ctx context.Context) *Pending[bool] {
	p := newPending[bool]()
	done := s.metrics.start("probe")
	go func() {
		var (
			found bool
			err   error
		)
		if s.peekProbe {
			found, err = s.peek()
		} else {
			_, err = s.recv.receive(ctx)
			found = err == nil
		}
		done(OutcomeOf(err))
		if err != nil && !errors.Is(err, ErrCancelled) {
			s.log.Errorw("couldn't probe queue", "queue", s.identity, "error", err)
		}
		p.resolve(found, nil)
	}()
	return p
}

func (s *Service) peek() (bool, error) {
	h, err := s.transport.Open(s.identity, AccessPeek)
	if err != nil {
		return false, err
	}
	defer h.Close()
	_, ok, err := h.Peek()
	return ok, err
}

// Send sends body with InfiniteTTL. The result is false if the message
// could not be sent; the reason is logged.
func (s *Service) Send(body []byte) *Pending[bool] {
	body = cloneBytes(body)
	return s.send("send", func() (Message, error) {
		return Message{Body: body, TTL: InfiniteTTL}, nil
	})
}

// SendText sends text as a UTF-8 body with InfiniteTTL.
func (s *Service) SendText(text string) *Pending[bool] {
	return s.send("send", func() (Message, error) {
		return Message{Body: []byte(text), TTL: InfiniteTTL}, nil
	})
}

func (s *Service) send(op string, build func() (Message, error)) *Pending[bool] {
	p := newPending[bool]()
	done := s.metrics.start(op)
	go func() {
		msg, err := build()
		if err == nil {
			err = s.sendMessage(msg)
		}
		if err != nil {
			done(OutcomeFaulted)
			s.log.Errorw("couldn't send message", "queue", s.identity, "op", op, "error", err)
			p.resolve(false, nil)
			return
		}
		done(OutcomeSucceeded)
		p.resolve(true, nil)
	}()
	return p
}

func (s *Service) sendMessage(msg Message) error {
	h, err := s.transport.Open(s.identity, AccessSend)
	if err != nil {
		return err
	}
	defer h.Close()
	return h.Send(msg)
}

// DeleteQueue deletes the queue. The result is false if the queue did not
// exist or could not be deleted; both are logged.
func (s *Service) DeleteQueue() *Pending[bool] {
	p := newPending[bool]()
	done := s.metrics.start("delete")
	go func() {
		err := s.deleteQueue()
		if err != nil {
			done(OutcomeFaulted)
			s.log.Errorw("couldn't delete queue", "queue", s.identity, "error", err)
			p.resolve(false, nil)
			return
		}
		done(OutcomeSucceeded)
		p.resolve(true, nil)
	}()
	return p
}

func (s *Service) deleteQueue() error {
	exists, err := s.transport.Exists(s.identity)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %q", ErrNotFound, s.identity)
	}
	return s.transport.Delete(s.identity)
}

// requeue sends back a message that a cancelled receive removed from the
// queue. The message goes to the tail with whatever TTL it had left.
func (s *Service) requeue(msg Message) {
	ttl := msg.Remaining(time.Now())
	if ttl <= 0 {
		s.metrics.orphan(false)
		s.log.Errorw("dropping expired message taken by a cancelled receive", "queue", s.identity, "seq", msg.Seq)
		return
	}
	if err := s.sendMessage(Message{Body: msg.Body, TTL: ttl}); err != nil {
		s.metrics.orphan(false)
		s.log.Errorw("couldn't requeue message taken by a cancelled receive", "queue", s.identity, "seq", msg.Seq, "error", err)
		return
	}
	s.metrics.orphan(true)
}
