// Package dremote tunnels the hardware-queue protocol over a QUIC
// stream, so a host without a local accelerator can submit digest work
// to one that has it (or to a [dsoft] engine standing in for it).
//
// The [Client] side satisfies [dqueue.Transport], which means the
// session layer cannot tell a remote accelerator from a local one.
// The [Server] side serves any inner transport to remote callers.
package dremote

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/chikey/uadk/dmsg"
	"github.com/chikey/uadk/dqueue"
	"github.com/chikey/uadk/dquic"
)

// Client is a [dqueue.Transport] whose hardware queue lives on the far
// end of a QUIC stream. Create one with [NewClient].
type Client struct {
	log *slog.Logger

	stream dquic.Stream

	// Serializes frame writes so concurrent Sends cannot interleave.
	wmu    sync.Mutex
	encBuf []byte

	nextID atomic.Uint64

	mu       sync.Mutex
	inflight map[uint64]*dmsg.Message
	ready    []*dmsg.Message

	// Sticky read-side failure, reported once the ready list drains.
	readErr error

	readerDone chan struct{}
}

var _ dqueue.Transport = (*Client)(nil)

// NewClient wraps stream as a remote transport and starts the reply
// reader. The caller owns the stream's lifetime; close the client to
// stop the reader.
func NewClient(log *slog.Logger, stream dquic.Stream) *Client {
	c := &Client{
		log:        log,
		stream:     stream,
		inflight:   make(map[uint64]*dmsg.Message),
		readerDone: make(chan struct{}),
	}
	go c.readReplies()
	return c
}

// Send assigns m a request id, registers it for reply correlation,
// and writes its frame to the stream.
func (c *Client) Send(m *dmsg.Message) error {
	m.ID = c.nextID.Add(1)

	c.mu.Lock()
	if c.readErr != nil {
		err := c.readErr
		c.mu.Unlock()
		return fmt.Errorf("remote transport is down: %w", err)
	}
	c.inflight[m.ID] = m
	c.mu.Unlock()

	c.wmu.Lock()
	c.encBuf = dmsg.AppendMessage(c.encBuf[:0], m)
	_, err := c.stream.Write(c.encBuf)
	c.wmu.Unlock()

	if err != nil {
		c.mu.Lock()
		delete(c.inflight, m.ID)
		c.mu.Unlock()
		return fmt.Errorf("failed to write request frame: %w", err)
	}
	return nil
}

// Recv pops one ready reply, honoring the ref-matching contract of
// [dqueue.Transport]. Remote hardware faults surface exactly like
// local ones, via [*dqueue.HardwareError].
func (c *Client) Recv(ref any) (*dmsg.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, m := range c.ready {
		if ref != nil && m.Ref != ref {
			continue
		}
		c.ready = append(c.ready[:i], c.ready[i+1:]...)
		if m.Result == dmsg.StatusHardwareFault {
			return m, &dqueue.HardwareError{Msg: m}
		}
		return m, nil
	}

	// With the reader gone, nothing still in flight can ever
	// complete; fail rather than let the caller spin. Replies that
	// arrived before the failure were handed out by the scan above.
	if c.readErr != nil {
		return nil, fmt.Errorf("remote transport is down: %w", c.readErr)
	}

	return nil, nil
}

// Close cancels the read side and closes the write side of the stream,
// then waits for the reply reader to exit. Requests still in flight
// never complete.
func (c *Client) Close() error {
	c.stream.CancelRead(0)
	err := c.stream.Close()
	<-c.readerDone
	return err
}

func (c *Client) readReplies() {
	defer close(c.readerDone)

	for {
		reply, err := dmsg.DecodeMessage(c.stream)
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			if !errors.Is(err, io.EOF) {
				c.log.Warn("reply reader stopped", "err", err)
			}
			return
		}

		c.mu.Lock()
		orig, ok := c.inflight[reply.ID]
		if !ok {
			c.mu.Unlock()
			// Either the peer invented an id, or the request
			// timed out and its slot was already reclaimed.
			c.log.Warn("discarding reply with unknown request id",
				"id", reply.ID)
			continue
		}
		delete(c.inflight, reply.ID)

		// The reply frame only carries the result side of the
		// record; graft it onto the original request so its Ref
		// still routes to the owning slot.
		orig.Out = reply.Out
		orig.Result = reply.Result
		orig.TotalBytes = reply.TotalBytes

		c.ready = append(c.ready, orig)
		c.mu.Unlock()
	}
}
