// Package digest is the session and request layer of the user-space
// digest/HMAC accelerator driver.
//
// A [Session] is created on an opened [dqueue.Queue] and multiplexes
// its in-flight requests over the queue's single hardware transport,
// alongside every other session bound to the same queue. Submission is
// either synchronous (the calling goroutine spins for the matching
// reply) or tagged, in which case the completion is delivered later by
// [Poll] through the session's callback.
package digest

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/chikey/uadk/dmem"
	"github.com/chikey/uadk/dmsg"
	"github.com/chikey/uadk/dqueue"
	"github.com/chikey/uadk/internal/dslot"
)

const (
	// PoolSize is the number of request slots per session,
	// bounding its in-flight operations.
	PoolSize = 64

	// MaxSessions is the maximum number of sessions per queue.
	MaxSessions = 256

	// MaxKeySize is the fixed capacity of a session's key buffer.
	MaxKeySize = 128

	// DefaultRecvRetries bounds the synchronous receive spin.
	// The transport has no blocking wait, so this is a coarse
	// livelock guard rather than a latency bound.
	DefaultRecvRetries = 20_000_000

	// The capability prefix a queue must advertise for digest work.
	capabilityPrefix = "digest"
)

// KeyTooLongError is returned by [Session.SetKey] when the key exceeds
// the session key buffer's fixed capacity.
type KeyTooLongError struct {
	Len int
}

func (e KeyTooLongError) Error() string {
	return fmt.Sprintf("key length %d exceeds maximum %d", e.Len, MaxKeySize)
}

// Callback delivers one completed tagged request:
// the reply record and the opaque tag supplied at submission.
//
// Callbacks run on the goroutine driving [Poll]; they must not block,
// and must not re-enter the driver for the same session's slots.
type Callback func(reply *dmsg.Message, tag any)

// Config carries the immutable parameters of a [Session].
type Config struct {
	Alg    dmsg.Algorithm
	Mode   dmsg.Mode
	Format dmsg.DataFormat

	// Required when tagged (asynchronous) submission is used.
	Callback Callback

	// Allocator callbacks for the key buffer.
	// All four must be present in keyed mode.
	Mem dmem.Config

	// Bound on the synchronous receive spin.
	// If zero, DefaultRecvRetries is used.
	RecvRetries uint64

	// If nil, logging is discarded.
	Log *slog.Logger
}

// Session is a configured digest handle bound to one hardware queue.
//
// Multiple goroutines may submit on one Session concurrently; each
// submission claims its own slot. Submissions belonging to one
// streaming sequence must be serialized by the caller, since the
// terminal segment snapshots and resets the shared running total.
type Session struct {
	log *slog.Logger

	q  *dqueue.Queue
	id uint32

	cfg Config

	pool *dslot.Pool[cookie]

	// Key buffer, allocated at MaxKeySize in keyed mode.
	// Set the key before the first submission that uses it.
	key    []byte
	keyLen int

	// Running total of input bytes across a streaming sequence.
	ioBytes atomic.Uint64

	recvRetries uint64
}

// cookie tracks one in-flight request. Its message's Ref field points
// back at the cookie, which is how a reply is routed to its slot.
type cookie struct {
	msg dmsg.Message
	tag any

	sess *Session
	idx  int

	// True while the slot belongs to a synchronous submission.
	// The poller must not release such a slot; it hands the reply
	// back through done instead.
	sync atomic.Bool

	// Set by the poller after it dequeued this slot's reply on
	// behalf of the waiting synchronous submitter. Observing it
	// publishes the reply fields stored in msg.
	done atomic.Bool
}

// New creates a session on q.
//
// The queue must advertise the digest capability, and in keyed mode the
// allocator config must be complete. A failed creation leaves the
// queue's session accounting unchanged.
func New(q *dqueue.Queue, cfg Config) (*Session, error) {
	if q == nil {
		return nil, errors.New("nil queue")
	}
	if cfg.Mode == dmsg.ModeHMAC && !cfg.Mem.Complete() {
		return nil, errors.New("keyed mode requires a complete allocator config")
	}
	if !strings.HasPrefix(q.Capability(), capabilityPrefix) {
		return nil, fmt.Errorf(
			"queue capability %q does not support digest sessions",
			q.Capability(),
		)
	}

	if cfg.Log == nil {
		cfg.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.RecvRetries == 0 {
		cfg.RecvRetries = DefaultRecvRetries
	}

	id, err := q.BindSession(cfg.Mem, MaxSessions)
	if err != nil {
		return nil, fmt.Errorf("failed to bind session to queue: %w", err)
	}

	s := &Session{
		log: cfg.Log.With("sid", id),

		q:  q,
		id: uint32(id),

		cfg: cfg,

		pool: dslot.New[cookie](PoolSize),

		recvRetries: cfg.RecvRetries,
	}

	if cfg.Mode == dmsg.ModeHMAC {
		// Allocation happens outside the queue lock:
		// the callback may be arbitrarily slow.
		s.key = cfg.Mem.Alloc(cfg.Mem.Owner, MaxKeySize)
		if s.key == nil {
			// Roll the bind back so the failed creation
			// leaves no trace on the queue.
			if uerr := q.UnbindSession(); uerr != nil {
				return nil, fmt.Errorf(
					"failed to roll back session bind: %w", uerr,
				)
			}
			return nil, errors.New("failed to allocate session key buffer")
		}
	}

	for i := 0; i < PoolSize; i++ {
		c := s.pool.Get(i)
		c.sess = s
		c.idx = i
		c.msg.SessionID = s.id
		c.msg.Alg = cfg.Alg
		c.msg.Mode = cfg.Mode
		c.msg.Format = cfg.Format
		c.msg.Ref = c
	}

	s.log.Debug("created digest session",
		"alg", cfg.Alg, "mode", cfg.Mode)

	return s, nil
}

// SetKey copies key into the session-owned key buffer.
// Only keyed-mode sessions accept a key.
//
// SetKey is not synchronized against in-flight submissions;
// set the key before submitting work that depends on it.
func (s *Session) SetKey(key []byte) error {
	if s.cfg.Mode != dmsg.ModeHMAC {
		return errors.New("session is not in keyed mode")
	}
	if key == nil {
		return errors.New("nil key")
	}
	if len(key) > MaxKeySize {
		return KeyTooLongError{Len: len(key)}
	}

	s.keyLen = copy(s.key, key)
	return nil
}

// InFlight returns the number of currently leased request slots.
// The count is a diagnostic snapshot, not a synchronization point.
func (s *Session) InFlight() int {
	return int(s.pool.Occupancy(nil).Count())
}

// Close unbinds the session from its queue and releases the key buffer.
//
// Closing with operations still in flight is a contract violation:
// the caller must drain or complete them first. Closing twice is
// reported via [dqueue.ErrNoActiveSessions].
func (s *Session) Close() error {
	if err := s.q.UnbindSession(); err != nil {
		return fmt.Errorf("failed to unbind session: %w", err)
	}

	// Outside the queue lock, same as the allocation at creation.
	if s.key != nil {
		s.cfg.Mem.Free(s.cfg.Mem.Owner, s.key)
		s.key = nil
		s.keyLen = 0
	}

	return nil
}
