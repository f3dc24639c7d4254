// Package dsoft implements the hardware-queue transport in software.
//
// An [Engine] computes digests and HMACs on the submitting goroutine,
// which makes it both the reference backend for integration tests and
// a usable fallback when no accelerator is present. Streaming state is
// tracked per session id, matching how the hardware accumulates a
// multi-segment digest.
package dsoft

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"sync"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"

	"github.com/chikey/uadk/dmsg"
	"github.com/chikey/uadk/dqueue"
)

// Engine is a software [dqueue.Transport]. The zero value is not
// usable; create one with [NewEngine].
type Engine struct {
	mu sync.Mutex

	// In-progress streaming digests, keyed by session id.
	streams map[uint32]hash.Hash

	// Completed replies awaiting Recv.
	ready []*dmsg.Message
}

var _ dqueue.Transport = (*Engine)(nil)

func NewEngine() *Engine {
	return &Engine{
		streams: make(map[uint32]hash.Hash),
	}
}

// Send processes one request immediately and readies its reply.
// An unsupported algorithm completes the request with
// [dmsg.StatusUnsupported] rather than failing the transport.
func (e *Engine) Send(m *dmsg.Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, streaming := e.streams[m.SessionID]
	if !streaming {
		var err error
		h, err = newHash(m.Alg, m.Mode, m.Key)
		if err != nil {
			m.Result = dmsg.StatusUnsupported
			e.ready = append(e.ready, m)
			return nil
		}
	}

	// Write on these hashes never fails.
	_, _ = h.Write(m.In)

	if m.HasNext {
		e.streams[m.SessionID] = h
		m.Result = dmsg.StatusOK
		e.ready = append(e.ready, m)
		return nil
	}

	delete(e.streams, m.SessionID)
	sum := h.Sum(nil)
	if len(m.Out) >= len(sum) {
		n := copy(m.Out, sum)
		m.Out = m.Out[:n]
	} else {
		// The caller's output descriptor is too small;
		// reply with a fresh descriptor, as the hardware does
		// when it hands back its own completion buffer.
		m.Out = sum
	}
	m.Result = dmsg.StatusOK
	e.ready = append(e.ready, m)
	return nil
}

// Recv pops one ready reply, honoring the ref-matching contract of
// [dqueue.Transport].
func (e *Engine) Recv(ref any) (*dmsg.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, m := range e.ready {
		if ref != nil && m.Ref != ref {
			continue
		}
		e.ready = append(e.ready[:i], e.ready[i+1:]...)
		return m, nil
	}
	return nil, nil
}

// Pending returns the number of replies not yet received.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.ready)
}

func newHash(alg dmsg.Algorithm, mode dmsg.Mode, key []byte) (hash.Hash, error) {
	// BLAKE2b is natively keyed; it does not go through HMAC.
	if alg == dmsg.AlgBLAKE2b256 {
		if mode == dmsg.ModeHMAC {
			return blake2b.New256(key)
		}
		return blake2b.New256(nil)
	}

	var f func() hash.Hash
	switch alg {
	case dmsg.AlgMD5:
		f = md5.New
	case dmsg.AlgSHA1:
		f = sha1.New
	case dmsg.AlgSHA224:
		f = sha256.New224
	case dmsg.AlgSHA256:
		f = sha256.New
	case dmsg.AlgSHA384:
		f = sha512.New384
	case dmsg.AlgSHA512:
		f = sha512.New
	case dmsg.AlgSHA512_224:
		f = sha512.New512_224
	case dmsg.AlgSHA512_256:
		f = sha512.New512_256
	case dmsg.AlgSHA3_256:
		f = func() hash.Hash { return sha3.New256() }
	default:
		return nil, fmt.Errorf("unsupported algorithm %v", alg)
	}

	if mode == dmsg.ModeHMAC {
		return hmac.New(f, key), nil
	}
	return f(), nil
}
