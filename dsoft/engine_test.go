package dsoft_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"testing"

	"github.com/chikey/uadk/dmsg"
	"github.com/chikey/uadk/dsoft"
	"github.com/chikey/uadk/internal/dtest"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
)

func runOneShot(t *testing.T, e *dsoft.Engine, m *dmsg.Message) *dmsg.Message {
	t.Helper()

	m.Ref = m
	require.NoError(t, e.Send(m))

	reply, err := e.Recv(m)
	require.NoError(t, err)
	require.NotNil(t, reply)
	return reply
}

func TestEngine_oneShotDigest(t *testing.T) {
	t.Parallel()

	e := dsoft.NewEngine()
	in := dtest.RandomDataForTest(t, 1024)

	t.Run("sha256", func(t *testing.T) {
		reply := runOneShot(t, e, &dmsg.Message{
			SessionID: 1,
			Alg:       dmsg.AlgSHA256,
			In:        in,
			Out:       make([]byte, 32),
		})
		require.Equal(t, dmsg.StatusOK, reply.Result)

		want := sha256.Sum256(in)
		require.Equal(t, want[:], reply.Out)
	})

	t.Run("sha512", func(t *testing.T) {
		reply := runOneShot(t, e, &dmsg.Message{
			SessionID: 2,
			Alg:       dmsg.AlgSHA512,
			In:        in,
			Out:       make([]byte, 64),
		})
		require.Equal(t, dmsg.StatusOK, reply.Result)

		want := sha512.Sum512(in)
		require.Equal(t, want[:], reply.Out)
	})

	t.Run("blake2b-256", func(t *testing.T) {
		reply := runOneShot(t, e, &dmsg.Message{
			SessionID: 3,
			Alg:       dmsg.AlgBLAKE2b256,
			In:        in,
			Out:       make([]byte, 32),
		})
		require.Equal(t, dmsg.StatusOK, reply.Result)

		want := blake2b.Sum256(in)
		require.Equal(t, want[:], reply.Out)
	})
}

func TestEngine_hmac(t *testing.T) {
	t.Parallel()

	e := dsoft.NewEngine()
	in := dtest.RandomDataForTest(t, 256)
	key := dtest.RandomKeyForTest(t, 32)

	reply := runOneShot(t, e, &dmsg.Message{
		SessionID: 1,
		Alg:       dmsg.AlgSHA256,
		Mode:      dmsg.ModeHMAC,
		Key:       key,
		In:        in,
		Out:       make([]byte, 32),
	})
	require.Equal(t, dmsg.StatusOK, reply.Result)

	ref := hmac.New(sha256.New, key)
	ref.Write(in)
	require.Equal(t, ref.Sum(nil), reply.Out)
}

func TestEngine_streamingMatchesOneShot(t *testing.T) {
	t.Parallel()

	e := dsoft.NewEngine()
	payload := dtest.RandomDataForTest(t, 1000)
	segs := [][]byte{payload[:100], payload[100:700], payload[700:]}

	for i, seg := range segs {
		m := &dmsg.Message{
			SessionID: 9,
			Alg:       dmsg.AlgSHA256,
			In:        seg,
			Out:       make([]byte, 32),
			HasNext:   i < len(segs)-1,
		}
		m.Ref = m
		require.NoError(t, e.Send(m))

		reply, err := e.Recv(m)
		require.NoError(t, err)
		require.NotNil(t, reply)
		require.Equal(t, dmsg.StatusOK, reply.Result)

		if i == len(segs)-1 {
			want := sha256.Sum256(payload)
			require.Equal(t, want[:], reply.Out)
		}
	}

	// The streaming state was discarded at the terminal segment,
	// so the next request on the same session starts fresh.
	reply := runOneShot(t, e, &dmsg.Message{
		SessionID: 9,
		Alg:       dmsg.AlgSHA256,
		In:        payload[:100],
		Out:       make([]byte, 32),
	})
	want := sha256.Sum256(payload[:100])
	require.Equal(t, want[:], reply.Out)
}

func TestEngine_unsupportedAlgorithm(t *testing.T) {
	t.Parallel()

	e := dsoft.NewEngine()

	reply := runOneShot(t, e, &dmsg.Message{
		SessionID: 1,
		Alg:       dmsg.AlgSM3,
		In:        []byte("data"),
		Out:       make([]byte, 32),
	})
	require.Equal(t, dmsg.StatusUnsupported, reply.Result)
}

func TestEngine_recvMatchesRef(t *testing.T) {
	t.Parallel()

	e := dsoft.NewEngine()

	a := &dmsg.Message{SessionID: 1, Alg: dmsg.AlgSHA256, In: []byte("a"), Out: make([]byte, 32)}
	b := &dmsg.Message{SessionID: 2, Alg: dmsg.AlgSHA256, In: []byte("b"), Out: make([]byte, 32)}
	a.Ref = a
	b.Ref = b

	require.NoError(t, e.Send(a))
	require.NoError(t, e.Send(b))

	// Asking for b skips over a's earlier completion.
	reply, err := e.Recv(b)
	require.NoError(t, err)
	require.Same(t, b, reply)

	reply, err = e.Recv(nil)
	require.NoError(t, err)
	require.Same(t, a, reply)

	reply, err = e.Recv(nil)
	require.NoError(t, err)
	require.Nil(t, reply)
}
