package asyncq

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/boltdb/bolt"
)

// BoltTransport is a persistent Transport backed by BoltDB. All queues live
// under one root bucket; each queue is a nested bucket keyed by its
// canonical identity. Its methods are goroutine-safe.
//
// BoltDB holds an exclusive file lock, so a BoltTransport only serves
// producers and consumers living in the same process.
type BoltTransport struct {
	db          *bolt.DB
	root        []byte
	keys        bucketKeys
	now         func() time.Time
	mu          sync.Mutex
	wakers      map[string]*waker
	optsApplied bool
}

type bucketKeys struct {
	ready []byte
}

// NewBoltTransport creates a BoltTransport over db. When db was opened
// read-only, queues can be inspected and peeked but not sent to, received
// from, created or deleted.
func NewBoltTransport(db *bolt.DB, options ...BoltOption) (*BoltTransport, error) {
	t := &BoltTransport{
		db:   db,
		root: []byte("asyncq"),
		keys: bucketKeys{
			ready: []byte("ready"),
		},
		now:    time.Now,
		wakers: make(map[string]*waker),
	}
	for _, o := range options {
		if err := o(t); err != nil {
			return nil, fmt.Errorf("asyncq: couldn't create transport: %s", err)
		}
	}
	t.optsApplied = true
	if db.IsReadOnly() {
		return t, nil
	}
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(t.root)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (t *BoltTransport) String() string {
	return fmt.Sprintf("BoltTransport{Path: %q}", t.db.Path())
}

// Create implements Transport.
func (t *BoltTransport) Create(identity string) error {
	id, err := ParseIdentity(identity)
	if err != nil {
		return err
	}
	if !id.Creatable() {
		return fmt.Errorf("%w: %s queue %q", ErrUnsupportedQueueKind, id.Kind(), identity)
	}
	if t.db.IsReadOnly() {
		return fmt.Errorf("%w: create %q on read-only database", ErrAccessDenied, identity)
	}
	return t.db.Update(func(tx *bolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists(t.root)
		if err != nil {
			return err
		}
		queue, err := root.CreateBucketIfNotExists([]byte(id.Key()))
		if err != nil {
			return err
		}
		_, err = queue.CreateBucketIfNotExists(t.keys.ready)
		return err
	})
}

// Exists implements Transport.
func (t *BoltTransport) Exists(identity string) (bool, error) {
	id, err := ParseIdentity(identity)
	if err != nil {
		return false, err
	}
	var exists bool
	err = t.db.View(func(tx *bolt.Tx) error {
		exists = t.queueBucket(tx, id) != nil
		return nil
	})
	return exists, err
}

// Delete implements Transport. Receivers blocked on the queue are woken and
// fail with ErrNotFound.
func (t *BoltTransport) Delete(identity string) error {
	id, err := ParseIdentity(identity)
	if err != nil {
		return err
	}
	if t.db.IsReadOnly() {
		return fmt.Errorf("%w: delete %q on read-only database", ErrAccessDenied, identity)
	}
	err = t.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(t.root)
		if root == nil {
			return bolt.ErrBucketNotFound
		}
		return root.DeleteBucket([]byte(id.Key()))
	})
	if err == bolt.ErrBucketNotFound {
		return fmt.Errorf("%w: %q", ErrNotFound, identity)
	}
	if err != nil {
		return err
	}
	t.dropWaker(id.Key())
	return nil
}

// Open implements Transport.
func (t *BoltTransport) Open(identity string, mode AccessMode) (Handle, error) {
	id, err := ParseIdentity(identity)
	if err != nil {
		return nil, err
	}
	if t.db.IsReadOnly() && mode != AccessPeek {
		return nil, fmt.Errorf("%w: %s access to %q on read-only database", ErrAccessDenied, mode, identity)
	}
	exists, err := t.Exists(identity)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, identity)
	}
	return &boltHandle{
		t:      t,
		id:     id,
		mode:   mode,
		closed: make(chan struct{}),
	}, nil
}

func (t *BoltTransport) queueBucket(tx *bolt.Tx, id Identity) *bolt.Bucket {
	root := tx.Bucket(t.root)
	if root == nil {
		return nil
	}
	return root.Bucket([]byte(id.Key()))
}

func (t *BoltTransport) readyBucket(tx *bolt.Tx, id Identity) (*bolt.Bucket, error) {
	queue := t.queueBucket(tx, id)
	if queue == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id.String())
	}
	ready := queue.Bucket(t.keys.ready)
	if ready == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id.String())
	}
	return ready, nil
}

func (t *BoltTransport) waker(key string) *waker {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.wakers[key]
	if !ok {
		w = newWaker()
		t.wakers[key] = w
	}
	return w
}

// forgetWaker drops w if it is still the waker for key. Receive calls it
// when the queue turned out to be gone, so that the entry its lookup made
// does not outlive the queue.
func (t *BoltTransport) forgetWaker(key string, w *waker) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.wakers[key] == w {
		w.close()
		delete(t.wakers, key)
	}
}

func (t *BoltTransport) dropWaker(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if w, ok := t.wakers[key]; ok {
		w.close()
		delete(t.wakers, key)
	}
}

// boltHandle is one open reference to a bolt queue.
type boltHandle struct {
	t    *BoltTransport
	id   Identity
	mode AccessMode

	// mu serializes destructive reads with Close, so that once Close
	// returns no removal can commit.
	mu     sync.Mutex
	closed chan struct{}
	once   sync.Once
}

func (h *boltHandle) isClosed() bool {
	select {
	case <-h.closed:
		return true
	default:
		return false
	}
}

func (h *boltHandle) allow(modes ...AccessMode) error {
	for _, m := range modes {
		if h.mode == m {
			return nil
		}
	}
	return fmt.Errorf("%w: handle for %q opened for %s", ErrAccessDenied, h.id.String(), h.mode)
}

func (h *boltHandle) Send(msg Message) error {
	if err := h.allow(AccessSend); err != nil {
		return err
	}
	if h.isClosed() {
		return ErrHandleClosed
	}
	msg, err := msg.Stamp(h.t.now())
	if err != nil {
		return err
	}
	err = h.t.db.Update(func(tx *bolt.Tx) error {
		ready, err := h.t.readyBucket(tx, h.id)
		if err != nil {
			return err
		}
		seq, err := h.t.queueBucket(tx, h.id).NextSequence()
		if err != nil {
			return err
		}
		msg.Seq = seq
		return ready.Put(seqKey(seq), encodeRecord(msg))
	})
	if err == nil {
		h.t.waker(h.id.Key()).Wake()
	}
	return err
}

func (h *boltHandle) Receive() (Message, error) {
	if err := h.allow(AccessReceive); err != nil {
		return Message{}, err
	}
	key := h.id.Key()
	for {
		w := h.t.waker(key)
		msg, ok, err := h.take()
		if errors.Is(err, ErrNotFound) {
			h.t.forgetWaker(key, w)
		}
		if err != nil || ok {
			return msg, err
		}
		select {
		case <-w.C:
		case <-w.gone:
		case <-h.closed:
			return Message{}, ErrAborted
		}
	}
}

func (h *boltHandle) TryReceive() (Message, bool, error) {
	if err := h.allow(AccessReceive); err != nil {
		return Message{}, false, err
	}
	return h.take()
}

// take removes the first unexpired message, discarding expired ones on the
// way.
func (h *boltHandle) take() (Message, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.isClosed() {
		return Message{}, false, ErrAborted
	}
	var (
		msg  Message
		ok   bool
		more bool
	)
	err := h.t.db.Update(func(tx *bolt.Tx) error {
		ready, err := h.t.readyBucket(tx, h.id)
		if err != nil {
			return err
		}
		now := h.t.now()
		cur := ready.Cursor()
		// Every visited key is deleted, so First always yields the next one.
		for k, v := cur.First(); k != nil; k, v = cur.First() {
			m, err := decodeRecord(k, v)
			if err != nil {
				return err
			}
			if err := cur.Delete(); err != nil {
				return err
			}
			if m.Expired(now) {
				continue
			}
			msg, ok = m, true
			break
		}
		if ok {
			k, _ := cur.First()
			more = k != nil
		}
		return nil
	})
	if err != nil {
		return Message{}, false, err
	}
	if more {
		// More work could be available for other receivers.
		h.t.waker(h.id.Key()).Wake()
	}
	return msg, ok, nil
}

func (h *boltHandle) Peek() (Message, bool, error) {
	if err := h.allow(AccessPeek, AccessReceive); err != nil {
		return Message{}, false, err
	}
	if h.isClosed() {
		return Message{}, false, ErrHandleClosed
	}
	var (
		msg Message
		ok  bool
	)
	err := h.t.db.View(func(tx *bolt.Tx) error {
		ready, err := h.t.readyBucket(tx, h.id)
		if err != nil {
			return err
		}
		now := h.t.now()
		cur := ready.Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			m, err := decodeRecord(k, v)
			if err != nil {
				return err
			}
			if !m.Expired(now) {
				msg, ok = m, true
				return nil
			}
		}
		return nil
	})
	return msg, ok, err
}

func (h *boltHandle) Close() error {
	h.once.Do(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		close(h.closed)
	})
	return nil
}

const recordHeaderLen = 16

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

func encodeRecord(m Message) []byte {
	b := make([]byte, recordHeaderLen+len(m.Body))
	binary.LittleEndian.PutUint64(b[0:8], uint64(m.SentAt.UnixNano()))
	var expires int64
	if !m.ExpiresAt.IsZero() {
		expires = m.ExpiresAt.UnixNano()
	}
	binary.LittleEndian.PutUint64(b[8:16], uint64(expires))
	copy(b[recordHeaderLen:], m.Body)
	return b
}

// decodeRecord copies out of k and v, which are only valid for the life of
// the transaction.
func decodeRecord(k, v []byte) (Message, error) {
	if len(k) != 8 || len(v) < recordHeaderLen {
		return Message{}, fmt.Errorf("asyncq: corrupt record (key %d bytes, value %d bytes)", len(k), len(v))
	}
	m := Message{
		Seq:    binary.BigEndian.Uint64(k),
		SentAt: time.Unix(0, int64(binary.LittleEndian.Uint64(v[0:8]))),
		Body:   cloneBytes(v[recordHeaderLen:]),
		TTL:    InfiniteTTL,
	}
	if expires := int64(binary.LittleEndian.Uint64(v[8:16])); expires != 0 {
		m.ExpiresAt = time.Unix(0, expires)
		m.TTL = m.ExpiresAt.Sub(m.SentAt)
	}
	return m, nil
}
