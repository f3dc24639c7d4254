// Package dqueue models one opened hardware queue:
// the non-blocking [Transport] that moves request records to and from
// the accelerator, and the shared [Queue] resource that accounts for
// the sessions multiplexed onto it.
package dqueue

import (
	"errors"
	"fmt"
	"sync"

	"github.com/chikey/uadk/dmem"
	"github.com/chikey/uadk/dmsg"
)

// ErrTooManySessions is returned by [Queue.BindSession] when the queue
// already carries the maximum number of sessions.
var ErrTooManySessions = errors.New("too many sessions bound to queue")

// ErrNoActiveSessions is returned by [Queue.UnbindSession] when the
// queue has no bound sessions, meaning the caller destroyed a session
// twice.
var ErrNoActiveSessions = errors.New("no active sessions on queue")

// AllocatorConflictError is returned by [Queue.BindSession] when the
// caller's allocator config does not belong to the owner already
// registered on the queue.
type AllocatorConflictError struct {
	Registered any
	Requested  any
}

func (e AllocatorConflictError) Error() string {
	return fmt.Sprintf(
		"allocator owner %v conflicts with owner %v already registered on queue",
		e.Requested, e.Registered,
	)
}

// HardwareError wraps a reply the hardware completed with a fault.
// [Transport.Recv] returns it alongside the faulted reply,
// so the caller can keep dispatching the reply while recording the fault.
type HardwareError struct {
	Msg *dmsg.Message
}

func (e *HardwareError) Error() string {
	return "hardware reported a fault on a reply"
}

// Transport is the non-blocking send/receive surface of one physical
// hardware queue. Implementations must be safe for concurrent use.
type Transport interface {
	// Send enqueues one request. It never blocks;
	// a full hardware queue is reported as an error.
	Send(m *dmsg.Message) error

	// Recv dequeues one ready reply, or (nil, nil) when nothing is
	// ready yet. A nil ref dequeues any ready reply; a non-nil ref
	// dequeues only the reply whose Message.Ref matches, so a
	// synchronous submitter never steals another caller's completion.
	//
	// A reply the hardware faulted is still returned,
	// together with a *HardwareError describing the fault.
	Recv(ref any) (*dmsg.Message, error)
}

// Queue couples a [Transport] with the session bookkeeping shared by
// every session created on it.
type Queue struct {
	t Transport

	// Capability string advertised for the queue, e.g. "digest".
	capability string

	mu       sync.Mutex
	sessions int
	mem      dmem.Config
	memSet   bool
}

// New wraps t as a queue advertising the given capability.
func New(t Transport, capability string) *Queue {
	if t == nil {
		panic(errors.New("BUG: nil Transport passed to dqueue.New"))
	}
	return &Queue{t: t, capability: capability}
}

// Capability returns the algorithm family the queue was opened for.
func (q *Queue) Capability() string {
	return q.capability
}

// Send submits one request record to the transport.
func (q *Queue) Send(m *dmsg.Message) error {
	return q.t.Send(m)
}

// Recv attempts to dequeue one reply. See [Transport.Recv].
func (q *Queue) Recv(ref any) (*dmsg.Message, error) {
	return q.t.Recv(ref)
}

// BindSession registers a new session on the queue and returns its id.
//
// The first session to bind registers its allocator config; every later
// bind must present the same owner or fail with [AllocatorConflictError].
// Ids count up from 1; exceeding max rolls the count back and returns
// [ErrTooManySessions]. A failed bind leaves the queue state unchanged.
func (q *Queue) BindSession(mem dmem.Config, max int) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.memSet {
		q.mem = mem
		q.memSet = true
	} else if q.mem.Owner != mem.Owner {
		return 0, AllocatorConflictError{
			Registered: q.mem.Owner,
			Requested:  mem.Owner,
		}
	}

	q.sessions++
	id := q.sessions
	if id > max {
		q.sessions--
		return 0, ErrTooManySessions
	}

	return id, nil
}

// UnbindSession removes one session from the queue's accounting.
// When the last session unbinds, the registered allocator config is
// cleared so the next session may register a different one.
func (q *Queue) UnbindSession() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.sessions == 0 {
		return ErrNoActiveSessions
	}
	q.sessions--
	if q.sessions == 0 {
		q.mem = dmem.Config{}
		q.memSet = false
	}
	return nil
}

// ActiveSessions returns the number of sessions currently bound.
func (q *Queue) ActiveSessions() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sessions
}
