// Package dquictest provides in-memory [dquic.Stream] implementations,
// so stream-level protocols can be tested without a network.
package dquictest

import (
	"fmt"
	"io"
	"time"

	"github.com/chikey/uadk/dquic"
)

// PipeStream is one end of an in-memory, full-duplex stream pair.
// Create a pair with [NewStreamPipe].
//
// Deadlines are not implemented; both setters are no-ops.
type PipeStream struct {
	r *io.PipeReader
	w *io.PipeWriter
}

var _ dquic.Stream = (*PipeStream)(nil)

// NewStreamPipe returns two connected stream ends:
// writes on one are reads on the other, in both directions.
func NewStreamPipe() (*PipeStream, *PipeStream) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	return &PipeStream{r: ar, w: aw}, &PipeStream{r: br, w: bw}
}

func (s *PipeStream) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

func (s *PipeStream) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

// Close closes the write direction; the peer's reads observe io.EOF
// after draining, matching QUIC stream FIN behavior.
func (s *PipeStream) Close() error {
	return s.w.Close()
}

func (s *PipeStream) CancelRead(code dquic.StreamErrorCode) {
	_ = s.r.CloseWithError(fmt.Errorf("read canceled with code 0x%x", code))
}

func (s *PipeStream) CancelWrite(code dquic.StreamErrorCode) {
	_ = s.w.CloseWithError(fmt.Errorf("write canceled with code 0x%x", code))
}

func (s *PipeStream) SetReadDeadline(time.Time) error { return nil }

func (s *PipeStream) SetWriteDeadline(time.Time) error { return nil }
