package digest

import (
	"errors"
	"fmt"

	"github.com/chikey/uadk/dmsg"
	"github.com/chikey/uadk/dqueue"
)

// Poll drains up to max ready replies from q, routing each back to its
// owning session: the session callback is invoked with the reply and
// the tag stored at submission, then the slot is released.
//
// A dequeued reply may belong to a synchronous submission racing the
// poller on the same queue. Such a reply is handed back to the waiting
// submitter through its slot; the submitter, not the poller, releases
// the slot. Handed-back replies still count as processed.
//
// It returns the number of replies processed. An empty transport is not
// an error; zero is a valid count. A hardware fault attached to a
// specific reply is recorded into that reply's status and the reply is
// still dispatched. Any other transport error stops the pass; replies
// already dispatched before the error stay dispatched.
func Poll(q *dqueue.Queue, max int) (int, error) {
	if q == nil {
		return 0, errors.New("nil queue")
	}

	count := 0
	for count < max {
		reply, err := q.Recv(nil)
		if err != nil {
			var hwErr *dqueue.HardwareError
			if !errors.As(err, &hwErr) {
				return count, fmt.Errorf("failed to receive reply: %w", err)
			}
			if reply == nil {
				return count, fmt.Errorf("hardware fault with no reply attached: %w", err)
			}
			reply.Result = dmsg.StatusHardwareFault
		}
		if reply == nil {
			break
		}

		c, ok := reply.Ref.(*cookie)
		if !ok {
			return count, fmt.Errorf(
				"reply for session %d carries no routing reference",
				reply.SessionID,
			)
		}
		count++

		s := c.sess
		if reply.Result == dmsg.StatusHardwareFault {
			s.log.Warn("hardware fault on completed request")
		}
		if c.sync.Load() {
			// The submitter still owns this slot and may yet spin,
			// time out, or have reclaimed it already; releasing it
			// here would free a lease that is not ours. Hand the
			// reply back instead.
			c.done.Store(true)
			continue
		}
		// A tagged submission cannot exist without a callback;
		// Do rejects that combination before claiming a slot.
		s.cfg.Callback(reply, c.tag)
		s.mustRelease(c.idx)
	}

	return count, nil
}
