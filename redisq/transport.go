package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/echlebek/asyncq"
)

const peekBatch = 64

// Transport implements asyncq.Transport on top of a Redis client. It is
// goroutine-safe.
type Transport struct {
	cmd redis.Cmdable
	opt Options
}

var _ asyncq.Transport = (*Transport)(nil)

func New(cmd redis.Cmdable, opts ...Option) (*Transport, error) {
	if cmd == nil {
		return nil, errors.New("redisq: nil redis client")
	}
	opt := Options{
		Prefix:       "asyncq",
		BlockTimeout: time.Second,
		Clock:        time.Now,
	}
	for _, fn := range opts {
		if fn != nil {
			fn(&opt)
		}
	}
	if opt.Prefix == "" {
		opt.Prefix = "asyncq"
	}
	if opt.BlockTimeout < time.Second {
		opt.BlockTimeout = time.Second
	}
	if opt.Clock == nil {
		opt.Clock = time.Now
	}
	return &Transport{cmd: cmd, opt: opt}, nil
}

func (t *Transport) String() string {
	return fmt.Sprintf("redisq.Transport{Prefix: %q}", t.opt.Prefix)
}

func (t *Transport) queuesKey() string { return t.opt.Prefix + ":queues" }
func (t *Transport) readyKey(id asyncq.Identity) string {
	return t.opt.Prefix + ":" + id.Key() + ":ready"
}
func (t *Transport) seqKey(id asyncq.Identity) string {
	return t.opt.Prefix + ":" + id.Key() + ":seq"
}

// Create implements asyncq.Transport.
func (t *Transport) Create(identity string) error {
	id, err := asyncq.ParseIdentity(identity)
	if err != nil {
		return err
	}
	if !id.Creatable() {
		return fmt.Errorf("%w: %s queue %q", asyncq.ErrUnsupportedQueueKind, id.Kind(), identity)
	}
	return mapErr(t.cmd.SAdd(context.Background(), t.queuesKey(), id.Key()).Err())
}

// Exists implements asyncq.Transport.
func (t *Transport) Exists(identity string) (bool, error) {
	id, err := asyncq.ParseIdentity(identity)
	if err != nil {
		return false, err
	}
	return t.exists(context.Background(), id)
}

func (t *Transport) exists(ctx context.Context, id asyncq.Identity) (bool, error) {
	ok, err := t.cmd.SIsMember(ctx, t.queuesKey(), id.Key()).Result()
	return ok, mapErr(err)
}

// Delete implements asyncq.Transport. Pending messages are discarded and
// blocked receivers fail with asyncq.ErrNotFound on their next round.
func (t *Transport) Delete(identity string) error {
	id, err := asyncq.ParseIdentity(identity)
	if err != nil {
		return err
	}
	ctx := context.Background()
	pipe := t.cmd.TxPipeline()
	removed := pipe.SRem(ctx, t.queuesKey(), id.Key())
	pipe.Del(ctx, t.readyKey(id), t.seqKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return mapErr(err)
	}
	if removed.Val() == 0 {
		return fmt.Errorf("%w: %q", asyncq.ErrNotFound, identity)
	}
	return nil
}

// Open implements asyncq.Transport.
func (t *Transport) Open(identity string, mode asyncq.AccessMode) (asyncq.Handle, error) {
	id, err := asyncq.ParseIdentity(identity)
	if err != nil {
		return nil, err
	}
	ok, err := t.exists(context.Background(), id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", asyncq.ErrNotFound, identity)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &handle{
		t:      t,
		id:     id,
		mode:   mode,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// sendScript checks membership, assigns the next sequence number and
// appends the record atomically with respect to Delete. The record arrives
// without a seq field; the script splices it in front of the first field.
var sendScript = redis.NewScript(`
if redis.call("SISMEMBER", KEYS[1], ARGV[1]) == 0 then
	return 0
end
local seq = redis.call("INCR", KEYS[2])
redis.call("RPUSH", KEYS[3], '{"seq":' .. seq .. ',' .. string.sub(ARGV[2], 2))
return seq
`)

// record is the JSON stored in a ready list.
type record struct {
	ID          string `json:"id"`
	Seq         uint64 `json:"seq,omitempty"`
	Body        []byte `json:"body"`
	SentAtMs    int64  `json:"sent_at_ms"`
	ExpiresAtMs int64  `json:"expires_at_ms,omitempty"`
}

func encodeRecord(m asyncq.Message) ([]byte, error) {
	r := record{
		ID:       uuid.NewString(),
		Seq:      m.Seq,
		Body:     m.Body,
		SentAtMs: m.SentAt.UnixMilli(),
	}
	if !m.ExpiresAt.IsZero() {
		r.ExpiresAtMs = m.ExpiresAt.UnixMilli()
	}
	return json.Marshal(r)
}

func decodeRecord(s string) (asyncq.Message, error) {
	var r record
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return asyncq.Message{}, fmt.Errorf("redisq: bad record: %w", err)
	}
	m := asyncq.Message{
		Body:   r.Body,
		Seq:    r.Seq,
		TTL:    asyncq.InfiniteTTL,
		SentAt: time.UnixMilli(r.SentAtMs),
	}
	if r.ExpiresAtMs != 0 {
		m.ExpiresAt = time.UnixMilli(r.ExpiresAtMs)
		m.TTL = m.ExpiresAt.Sub(m.SentAt)
	}
	return m, nil
}

// mapErr translates Redis ACL refusals into asyncq.ErrAccessDenied.
func mapErr(err error) error {
	if err == nil || err == redis.Nil {
		return err
	}
	if strings.HasPrefix(err.Error(), "NOPERM") {
		return fmt.Errorf("%w: %s", asyncq.ErrAccessDenied, err)
	}
	return err
}

type handle struct {
	t    *Transport
	id   asyncq.Identity
	mode asyncq.AccessMode

	// ctx is cancelled by Close, interrupting a BLPOP in flight.
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func (h *handle) closed() bool {
	return h.ctx.Err() != nil
}

func (h *handle) allow(modes ...asyncq.AccessMode) error {
	for _, m := range modes {
		if h.mode == m {
			return nil
		}
	}
	return fmt.Errorf("%w: handle for %q opened for %s", asyncq.ErrAccessDenied, h.id.String(), h.mode)
}

func (h *handle) Send(msg asyncq.Message) error {
	if err := h.allow(asyncq.AccessSend); err != nil {
		return err
	}
	if h.closed() {
		return asyncq.ErrHandleClosed
	}
	msg, err := msg.Stamp(h.t.opt.Clock())
	if err != nil {
		return err
	}
	msg.Seq = 0
	b, err := encodeRecord(msg)
	if err != nil {
		return err
	}
	keys := []string{h.t.queuesKey(), h.t.seqKey(h.id), h.t.readyKey(h.id)}
	seq, err := sendScript.Run(h.ctx, h.t.cmd, keys, h.id.Key(), b).Int64()
	if err != nil {
		return mapErr(err)
	}
	if seq == 0 {
		return fmt.Errorf("%w: %q", asyncq.ErrNotFound, h.id.String())
	}
	return nil
}

// Receive blocks in rounds of BLPOP until a message arrives, the queue is
// deleted, or the handle is closed. A record popped by a BLPOP that was
// already in flight when Close ran is still returned.
func (h *handle) Receive() (asyncq.Message, error) {
	if err := h.allow(asyncq.AccessReceive); err != nil {
		return asyncq.Message{}, err
	}
	for {
		if h.closed() {
			return asyncq.Message{}, asyncq.ErrAborted
		}
		res, err := h.t.cmd.BLPop(h.ctx, h.t.opt.BlockTimeout, h.t.readyKey(h.id)).Result()
		if err == redis.Nil {
			ok, err := h.t.exists(h.ctx, h.id)
			if h.closed() {
				return asyncq.Message{}, asyncq.ErrAborted
			}
			if err != nil {
				return asyncq.Message{}, err
			}
			if !ok {
				return asyncq.Message{}, fmt.Errorf("%w: %q", asyncq.ErrNotFound, h.id.String())
			}
			continue
		}
		if err != nil {
			if h.closed() {
				return asyncq.Message{}, asyncq.ErrAborted
			}
			return asyncq.Message{}, mapErr(err)
		}
		if len(res) != 2 {
			continue
		}
		msg, err := decodeRecord(res[1])
		if err != nil {
			return asyncq.Message{}, err
		}
		if msg.Expired(h.t.opt.Clock()) {
			continue
		}
		return msg, nil
	}
}

func (h *handle) TryReceive() (asyncq.Message, bool, error) {
	if err := h.allow(asyncq.AccessReceive); err != nil {
		return asyncq.Message{}, false, err
	}
	for {
		if h.closed() {
			return asyncq.Message{}, false, asyncq.ErrAborted
		}
		s, err := h.t.cmd.LPop(h.ctx, h.t.readyKey(h.id)).Result()
		if err == redis.Nil {
			return asyncq.Message{}, false, nil
		}
		if err != nil {
			return asyncq.Message{}, false, mapErr(err)
		}
		msg, err := decodeRecord(s)
		if err != nil {
			return asyncq.Message{}, false, err
		}
		if msg.Expired(h.t.opt.Clock()) {
			continue
		}
		return msg, true, nil
	}
}

func (h *handle) Peek() (asyncq.Message, bool, error) {
	if err := h.allow(asyncq.AccessPeek, asyncq.AccessReceive); err != nil {
		return asyncq.Message{}, false, err
	}
	if h.closed() {
		return asyncq.Message{}, false, asyncq.ErrHandleClosed
	}
	now := h.t.opt.Clock()
	for start := int64(0); ; start += peekBatch {
		vals, err := h.t.cmd.LRange(h.ctx, h.t.readyKey(h.id), start, start+peekBatch-1).Result()
		if err != nil {
			return asyncq.Message{}, false, mapErr(err)
		}
		for _, s := range vals {
			msg, err := decodeRecord(s)
			if err != nil {
				return asyncq.Message{}, false, err
			}
			if !msg.Expired(now) {
				return msg, true, nil
			}
		}
		if len(vals) < peekBatch {
			return asyncq.Message{}, false, nil
		}
	}
}

func (h *handle) Close() error {
	h.once.Do(h.cancel)
	return nil
}
