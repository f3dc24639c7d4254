package digest

import (
	"context"
	"errors"
	"fmt"

	"github.com/chikey/uadk/dmsg"
	"github.com/chikey/uadk/dqueue"
	"github.com/chikey/uadk/internal/dslot"
)

// ErrBusy is returned by [Session.Do] when every request slot is in
// flight. The submission had no effect; retry after completions drain.
var ErrBusy = errors.New("all request slots in flight")

// ErrTimeout is returned by a synchronous [Session.Do] when the reply
// did not arrive within the configured retry ceiling.
var ErrTimeout = errors.New("timed out waiting for digest reply")

// ErrNoCallback is returned by [Session.Do] for a tagged submission on
// a session created without a callback.
var ErrNoCallback = errors.New("tagged submission requires a session callback")

// How often the synchronous receive spin checks ctx for cancellation.
const ctxCheckInterval = 1 << 10

// Op describes one digest operation: a segment of input and the buffer
// the digest is written into. On synchronous completion, Out and Status
// are overwritten from the reply.
type Op struct {
	In  []byte
	Out []byte

	// True when more segments of the same streaming sequence follow.
	HasNext bool

	// Result status, populated on synchronous completion.
	Status dmsg.Status
}

// Do submits one digest operation.
//
// With a nil tag the call is synchronous: it spins on the transport for
// this request's reply, then writes the output descriptor and status
// back into op. With a non-nil tag it returns as soon as the request is
// submitted, and the completion is later delivered to the session
// callback by [Poll]; the slot stays leased until then.
//
// Every error path releases the claimed slot before returning.
func (s *Session) Do(ctx context.Context, op *Op, tag any) error {
	if op == nil {
		return errors.New("nil op")
	}

	if tag != nil && s.cfg.Callback == nil {
		return ErrNoCallback
	}

	c, idx, err := s.pool.Acquire()
	if err != nil {
		if errors.Is(err, dslot.ErrNoneFree) {
			return ErrBusy
		}
		return fmt.Errorf("failed to acquire request slot: %w", err)
	}

	c.tag = tag
	c.sync.Store(tag == nil)
	c.done.Store(false)

	m := &c.msg
	m.HasNext = op.HasNext
	m.Key = s.key[:s.keyLen]
	m.In = op.In
	m.Out = op.Out
	m.Result = dmsg.StatusOK
	m.TotalBytes = 0

	s.ioBytes.Add(uint64(len(op.In)))
	if !op.HasNext {
		// Terminal segment: this is the only record of the full
		// streamed length, so it must be taken before any later
		// submission on this session can touch the accumulator.
		m.TotalBytes = s.ioBytes.Swap(0)
	}

	if err := s.q.Send(m); err != nil {
		s.mustRelease(idx)
		return fmt.Errorf("failed to submit digest request: %w", err)
	}

	if tag != nil {
		return nil
	}

	return s.recvSync(ctx, c, op)
}

// recvSync spins on the transport until this cookie's reply arrives,
// the retry ceiling is exceeded, or ctx is canceled. A concurrent
// [Poll] may dequeue the reply first; it then hands the completion
// back through the cookie instead of releasing our slot.
func (s *Session) recvSync(ctx context.Context, c *cookie, op *Op) error {
	var tries uint64
	for {
		if c.done.Load() {
			op.Out = c.msg.Out
			op.Status = c.msg.Result
			s.mustRelease(c.idx)
			return nil
		}

		reply, err := s.q.Recv(c.msg.Ref)
		if err != nil {
			var hwErr *dqueue.HardwareError
			if errors.As(err, &hwErr) && reply != nil {
				// A fault on our own reply is data, not a
				// transport failure: hand it to the caller
				// through the status field.
				reply.Result = dmsg.StatusHardwareFault
			} else {
				s.mustRelease(c.idx)
				return fmt.Errorf("failed to receive digest reply: %w", err)
			}
		}

		if reply == nil {
			tries++
			if tries > s.recvRetries {
				s.mustRelease(c.idx)
				return ErrTimeout
			}
			if tries%ctxCheckInterval == 0 {
				if cerr := ctx.Err(); cerr != nil {
					s.mustRelease(c.idx)
					return cerr
				}
			}
			continue
		}

		op.Out = reply.Out
		op.Status = reply.Result
		s.mustRelease(c.idx)
		return nil
	}
}

// mustRelease frees the slot at idx. The pool only rejects a release
// for an index we never leased, which would be driver corruption.
func (s *Session) mustRelease(idx int) {
	if err := s.pool.Release(idx); err != nil {
		panic(fmt.Errorf("BUG: failed to release slot %d: %w", idx, err))
	}
}
