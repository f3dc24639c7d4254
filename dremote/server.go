package dremote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"

	"github.com/chikey/uadk/dmsg"
	"github.com/chikey/uadk/dqueue"
	"github.com/chikey/uadk/dquic"
)

// Server exposes an inner [dqueue.Transport] to remote clients.
type Server struct {
	log *slog.Logger

	inner dqueue.Transport
}

// NewServer returns a server executing requests against inner,
// which is typically a [dsoft.Engine] or a locally opened hardware
// queue's transport.
func NewServer(log *slog.Logger, inner dqueue.Transport) *Server {
	return &Server{log: log, inner: inner}
}

// ServeConn accepts request streams on conn until ctx is canceled or
// the connection fails, serving each stream on its own goroutine.
func (s *Server) ServeConn(ctx context.Context, conn dquic.Conn) error {
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to accept request stream: %w", err)
		}

		go func() {
			if serr := s.ServeStream(ctx, stream); serr != nil {
				s.log.Warn("request stream failed", "err", serr)
			}
		}()
	}
}

// ServeStream reads request frames from stream, executes each against
// the inner transport, and writes the reply frame back. It returns nil
// on an orderly end of stream.
func (s *Server) ServeStream(ctx context.Context, stream dquic.Stream) error {
	var encBuf []byte

	for {
		m, err := dmsg.DecodeMessage(stream)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to decode request frame: %w", err)
		}

		// The message is its own back-reference on this side;
		// the client's id does the routing across the wire.
		m.Ref = m

		if err := s.execute(ctx, m); err != nil {
			return err
		}

		// The request side of the record is dead weight on the
		// way back; the client grafts the reply onto its own copy.
		m.In = nil
		m.Key = nil

		encBuf = dmsg.AppendMessage(encBuf[:0], m)
		if _, err := stream.Write(encBuf); err != nil {
			return fmt.Errorf("failed to write reply frame: %w", err)
		}
	}
}

// execute runs one request to completion on the inner transport.
// A fault on the reply, and a submit rejection, both fold into the
// reply's status: failing the stream here would strand the client's
// slot with no completion to reclaim it.
func (s *Server) execute(ctx context.Context, m *dmsg.Message) error {
	if err := s.inner.Send(m); err != nil {
		s.log.Warn("inner transport rejected request",
			"sid", m.SessionID, "err", err)
		m.Result = dmsg.StatusHardwareFault
		return nil
	}

	for {
		reply, err := s.inner.Recv(m)
		if err != nil {
			var hwErr *dqueue.HardwareError
			if errors.As(err, &hwErr) && reply != nil {
				reply.Result = dmsg.StatusHardwareFault
				return nil
			}
			return fmt.Errorf("inner transport receive failed: %w", err)
		}
		if reply != nil {
			return nil
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		runtime.Gosched()
	}
}
