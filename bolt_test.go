package asyncq

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/boltdb/bolt"
)

type fataler interface {
	Fatal(...interface{})
}

func newTransport(t *testing.T, options ...BoltOption) *BoltTransport {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "asyncq.db"), 0600, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Error(err)
		}
	})
	tr, err := NewBoltTransport(db, options...)
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

func mustOpen(t fataler, tr Transport, identity string, mode AccessMode) Handle {
	h, err := tr.Open(identity, mode)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func mustSend(t fataler, tr Transport, identity string, bodies ...string) {
	h := mustOpen(t, tr, identity, AccessSend)
	defer h.Close()
	for _, b := range bodies {
		if err := h.Send(Message{Body: []byte(b), TTL: InfiniteTTL}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestNewBoltTransport(t *testing.T) {
	tr := newTransport(t, WithRootBucket("queues"))

	if got, want := string(tr.root), "queues"; got != want {
		t.Errorf("bad root bucket: got %q, want %q", got, want)
	}
	err := tr.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte("queues")) == nil {
			return errors.New("root bucket not created")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestBoltOptionsApplied(t *testing.T) {
	tr := newTransport(t)
	if got, want := WithClock(time.Now)(tr), ErrOptionsApplied; got != want {
		t.Errorf("bad error: got %v, want %v", got, want)
	}
	if err := WithRootBucket("")(&BoltTransport{}); err == nil {
		t.Error("expected error for empty root bucket")
	}
}

func TestBoltCreateExistsDelete(t *testing.T) {
	tr := newTransport(t)

	if err := tr.Create(`.\Private$\Orders`); err != nil {
		t.Fatal(err)
	}
	// Creating twice is not an error.
	if err := tr.Create("private$/orders"); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{`.\Private$\Orders`, "PRIVATE$/ORDERS", `localhost\private$\orders`} {
		ok, err := tr.Exists(id)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Errorf("%q: queue should exist", id)
		}
	}
	if err := tr.Delete("private$/orders"); err != nil {
		t.Fatal(err)
	}
	ok, err := tr.Exists("private$/orders")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("queue should not exist")
	}
	if err := tr.Delete("private$/orders"); !errors.Is(err, ErrNotFound) {
		t.Errorf("bad error: got %v, want %v", err, ErrNotFound)
	}
}

func TestBoltCreateUnsupportedKind(t *testing.T) {
	tr := newTransport(t)
	for _, id := range []string{`server\private$\orders`, `FormatName:DIRECT=TCP:10.0.0.1\private$\orders`} {
		if err := tr.Create(id); !errors.Is(err, ErrUnsupportedQueueKind) {
			t.Errorf("%q: bad error: got %v, want %v", id, err, ErrUnsupportedQueueKind)
		}
	}
}

func TestBoltOpenMissing(t *testing.T) {
	tr := newTransport(t)
	if _, err := tr.Open("missing", AccessReceive); !errors.Is(err, ErrNotFound) {
		t.Errorf("bad error: got %v, want %v", err, ErrNotFound)
	}
	if _, err := tr.Open("", AccessReceive); !errors.Is(err, ErrInvalidIdentity) {
		t.Errorf("bad error: got %v, want %v", err, ErrInvalidIdentity)
	}
}

func TestBoltSendReceiveOrder(t *testing.T) {
	tr := newTransport(t)
	if err := tr.Create("orders"); err != nil {
		t.Fatal(err)
	}
	mustSend(t, tr, "orders", "a", "b", "c")

	h := mustOpen(t, tr, "orders", AccessReceive)
	defer h.Close()
	var last uint64
	for _, want := range []string{"a", "b", "c"} {
		msg, ok, err := h.TryReceive()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatalf("expected %q, queue was empty", want)
		}
		if got := string(msg.Body); got != want {
			t.Errorf("bad body: got %q, want %q", got, want)
		}
		if msg.Seq <= last {
			t.Errorf("sequence not increasing: %d after %d", msg.Seq, last)
		}
		last = msg.Seq
	}
	if _, ok, err := h.TryReceive(); err != nil || ok {
		t.Errorf("expected empty queue, got ok=%v err=%v", ok, err)
	}
}

func TestBoltReceiveBlocksUntilSend(t *testing.T) {
	tr := newTransport(t)
	if err := tr.Create("orders"); err != nil {
		t.Fatal(err)
	}
	h := mustOpen(t, tr, "orders", AccessReceive)
	defer h.Close()

	got := make(chan Message, 1)
	go func() {
		msg, err := h.Receive()
		if err != nil {
			t.Error(err)
			return
		}
		got <- msg
	}()

	time.Sleep(20 * time.Millisecond)
	mustSend(t, tr, "orders", "late")

	select {
	case msg := <-got:
		if string(msg.Body) != "late" {
			t.Errorf("bad body: %q", msg.Body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("receive did not wake")
	}
}

func TestBoltConcurrentReceivers(t *testing.T) {
	tr := newTransport(t)
	if err := tr.Create("orders"); err != nil {
		t.Fatal(err)
	}
	const n = 20
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]int)
	)
	for i := 0; i < n; i++ {
		h := mustOpen(t, tr, "orders", AccessReceive)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer h.Close()
			msg, err := h.Receive()
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			seen[string(msg.Body)]++
			mu.Unlock()
		}()
	}
	for i := 0; i < n; i++ {
		mustSend(t, tr, "orders", string(rune('a'+i)))
	}
	wg.Wait()
	if got, want := len(seen), n; got != want {
		t.Errorf("bad number of distinct messages: got %d, want %d", got, want)
	}
	for body, count := range seen {
		if count != 1 {
			t.Errorf("%q delivered %d times", body, count)
		}
	}
}

func TestBoltCloseAbortsReceive(t *testing.T) {
	tr := newTransport(t)
	if err := tr.Create("orders"); err != nil {
		t.Fatal(err)
	}
	h := mustOpen(t, tr, "orders", AccessReceive)

	errs := make(chan error, 1)
	go func() {
		_, err := h.Receive()
		errs <- err
	}()
	time.Sleep(20 * time.Millisecond)
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	select {
	case err := <-errs:
		if !errors.Is(err, ErrAborted) {
			t.Errorf("bad error: got %v, want %v", err, ErrAborted)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("receive not aborted")
	}

	// A message sent after Close stays in the queue.
	mustSend(t, tr, "orders", "kept")
	if _, _, err := h.TryReceive(); !errors.Is(err, ErrAborted) {
		t.Errorf("bad error: got %v, want %v", err, ErrAborted)
	}
	peek := mustOpen(t, tr, "orders", AccessPeek)
	msg, ok, err := peek.Peek()
	if err != nil {
		t.Fatal(err)
	}
	if !ok || string(msg.Body) != "kept" {
		t.Errorf("message lost after close: ok=%v body=%q", ok, msg.Body)
	}
}

func TestBoltDeleteWakesReceivers(t *testing.T) {
	tr := newTransport(t)
	if err := tr.Create("orders"); err != nil {
		t.Fatal(err)
	}
	h := mustOpen(t, tr, "orders", AccessReceive)
	defer h.Close()

	errs := make(chan error, 1)
	go func() {
		_, err := h.Receive()
		errs <- err
	}()
	time.Sleep(20 * time.Millisecond)
	if err := tr.Delete("orders"); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-errs:
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("bad error: got %v, want %v", err, ErrNotFound)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("receive not woken by delete")
	}
}

func TestBoltExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := newTransport(t, WithClock(func() time.Time { return now }))
	if err := tr.Create("orders"); err != nil {
		t.Fatal(err)
	}
	send := mustOpen(t, tr, "orders", AccessSend)
	if err := send.Send(Message{Body: []byte("short"), TTL: time.Minute}); err != nil {
		t.Fatal(err)
	}
	if err := send.Send(Message{Body: []byte("long"), TTL: time.Hour}); err != nil {
		t.Fatal(err)
	}
	if err := send.Send(Message{Body: []byte("x"), TTL: 0}); !errors.Is(err, ErrInvalidTTL) {
		t.Errorf("bad error: got %v, want %v", err, ErrInvalidTTL)
	}

	now = now.Add(2 * time.Minute)

	peek := mustOpen(t, tr, "orders", AccessPeek)
	msg, ok, err := peek.Peek()
	if err != nil {
		t.Fatal(err)
	}
	if !ok || string(msg.Body) != "long" {
		t.Errorf("peek returned expired message: ok=%v body=%q", ok, msg.Body)
	}

	recv := mustOpen(t, tr, "orders", AccessReceive)
	msg, ok, err = recv.TryReceive()
	if err != nil {
		t.Fatal(err)
	}
	if !ok || string(msg.Body) != "long" {
		t.Fatalf("bad message: ok=%v body=%q", ok, msg.Body)
	}
	if got, want := msg.ExpiresAt, now.Add(-2*time.Minute).Add(time.Hour); !got.Equal(want) {
		t.Errorf("bad expiry: got %v, want %v", got, want)
	}
	if _, ok, _ := recv.TryReceive(); ok {
		t.Error("expired message was delivered")
	}
}

func TestBoltFarFutureTTL(t *testing.T) {
	tr := newTransport(t)
	if err := tr.Create("orders"); err != nil {
		t.Fatal(err)
	}
	send := mustOpen(t, tr, "orders", AccessSend)
	defer send.Close()
	if err := send.Send(Message{Body: []byte("patient"), TTL: 280 * 365 * 24 * time.Hour}); err != nil {
		t.Fatal(err)
	}

	recv := mustOpen(t, tr, "orders", AccessReceive)
	defer recv.Close()
	msg, ok, err := recv.TryReceive()
	if err != nil {
		t.Fatal(err)
	}
	if !ok || string(msg.Body) != "patient" {
		t.Fatalf("message was dropped: ok=%v body=%q", ok, msg.Body)
	}
	if got, want := msg.TTL, InfiniteTTL; got != want {
		t.Errorf("bad ttl: got %v, want %v", got, want)
	}
}

func TestBoltDeleteForgetsWaker(t *testing.T) {
	tr := newTransport(t)
	if err := tr.Create("orders"); err != nil {
		t.Fatal(err)
	}
	h := mustOpen(t, tr, "orders", AccessReceive)
	defer h.Close()
	if err := tr.Delete("orders"); err != nil {
		t.Fatal(err)
	}

	if _, err := h.Receive(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("bad error: got %v, want %v", err, ErrNotFound)
	}
	tr.mu.Lock()
	n := len(tr.wakers)
	tr.mu.Unlock()
	if n != 0 {
		t.Errorf("waker left behind for deleted queue: %d entries", n)
	}
}

func TestBoltAccessModes(t *testing.T) {
	tr := newTransport(t)
	if err := tr.Create("orders"); err != nil {
		t.Fatal(err)
	}
	peek := mustOpen(t, tr, "orders", AccessPeek)
	if _, err := peek.Receive(); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("bad error: got %v, want %v", err, ErrAccessDenied)
	}
	if err := peek.Send(Message{TTL: InfiniteTTL}); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("bad error: got %v, want %v", err, ErrAccessDenied)
	}
	send := mustOpen(t, tr, "orders", AccessSend)
	if _, _, err := send.TryReceive(); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("bad error: got %v, want %v", err, ErrAccessDenied)
	}
}

func TestBoltReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "asyncq.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		t.Fatal(err)
	}
	tr, err := NewBoltTransport(db)
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Create("orders"); err != nil {
		t.Fatal(err)
	}
	mustSend(t, tr, "orders", "hello")
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db, err = bolt.Open(path, 0600, &bolt.Options{ReadOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	tr, err = NewBoltTransport(db)
	if err != nil {
		t.Fatal(err)
	}
	for _, mode := range []AccessMode{AccessSend, AccessReceive} {
		if _, err := tr.Open("orders", mode); !errors.Is(err, ErrAccessDenied) {
			t.Errorf("%s: bad error: got %v, want %v", mode, err, ErrAccessDenied)
		}
	}
	if err := tr.Delete("orders"); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("bad error: got %v, want %v", err, ErrAccessDenied)
	}
	msg, ok, err := mustOpen(t, tr, "orders", AccessPeek).Peek()
	if err != nil {
		t.Fatal(err)
	}
	if !ok || string(msg.Body) != "hello" {
		t.Errorf("bad peek: ok=%v body=%q", ok, msg.Body)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	sent := time.Unix(0, 1700000000123456789)
	want := Message{
		Body:      []byte("payload"),
		Seq:       42,
		SentAt:    sent,
		ExpiresAt: sent.Add(time.Minute),
		TTL:       time.Minute,
	}
	got, err := decodeRecord(seqKey(want.Seq), encodeRecord(want))
	if err != nil {
		t.Fatal(err)
	}
	if got.Seq != want.Seq || !got.SentAt.Equal(want.SentAt) || !got.ExpiresAt.Equal(want.ExpiresAt) || got.TTL != want.TTL || string(got.Body) != "payload" {
		t.Errorf("bad record: got %+v, want %+v", got, want)
	}
	if _, err := decodeRecord([]byte{1}, nil); err == nil {
		t.Error("expected error for corrupt record")
	}
}
