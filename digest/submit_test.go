package digest_test

import (
	"context"
	"crypto/sha256"
	"sync"
	"testing"

	"github.com/chikey/uadk/digest"
	"github.com/chikey/uadk/dmsg"
	"github.com/chikey/uadk/dqueue"
	"github.com/chikey/uadk/dqueue/dqueuetest"
	"github.com/chikey/uadk/dsoft"
	"github.com/chikey/uadk/internal/dtest"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"
)

func newPlainSession(t *testing.T, tr dqueue.Transport, cfg digest.Config) (*digest.Session, *dqueue.Queue) {
	t.Helper()

	q := dqueue.New(tr, "digest")
	if cfg.Log == nil {
		cfg.Log = slogt.New(t)
	}
	s, err := digest.New(q, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s, q
}

func TestDo_syncRoundTrip(t *testing.T) {
	t.Parallel()

	tr := &dqueuetest.StubTransport{AutoComplete: true}
	s, _ := newPlainSession(t, tr, digest.Config{Alg: dmsg.AlgSHA256})

	in := dtest.RandomDataForTest(t, 512)
	op := &digest.Op{In: in, Out: make([]byte, 32)}

	require.NoError(t, s.Do(context.Background(), op, nil))
	require.Equal(t, dmsg.StatusOK, op.Status)
	require.Zero(t, s.InFlight())

	sent := tr.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, in, sent[0].In)
	require.Equal(t, uint64(len(in)), sent[0].TotalBytes)
}

func TestDo_syncAgainstSoftEngine(t *testing.T) {
	t.Parallel()

	s, _ := newPlainSession(t, dsoft.NewEngine(), digest.Config{
		Alg: dmsg.AlgSHA256,
	})

	in := dtest.RandomDataForTest(t, 4096)
	op := &digest.Op{In: in, Out: make([]byte, 32)}

	require.NoError(t, s.Do(context.Background(), op, nil))
	require.Equal(t, dmsg.StatusOK, op.Status)

	want := sha256.Sum256(in)
	require.Equal(t, want[:], op.Out)
}

func TestDo_rejectsNilOp(t *testing.T) {
	t.Parallel()

	s, _ := newPlainSession(t, new(dqueuetest.StubTransport), digest.Config{
		Alg: dmsg.AlgSHA256,
	})

	require.Error(t, s.Do(context.Background(), nil, nil))
}

func TestDo_busyWhenPoolExhausted(t *testing.T) {
	t.Parallel()

	tr := new(dqueuetest.StubTransport)
	s, q := newPlainSession(t, tr, digest.Config{
		Alg:      dmsg.AlgSHA256,
		Callback: func(*dmsg.Message, any) {},
	})

	// Tagged submissions with no completions hold all slots leased.
	for i := 0; i < digest.PoolSize; i++ {
		op := &digest.Op{In: []byte("x"), Out: make([]byte, 32)}
		require.NoError(t, s.Do(context.Background(), op, i))
	}
	require.Equal(t, digest.PoolSize, s.InFlight())

	op := &digest.Op{In: []byte("x"), Out: make([]byte, 32)}
	require.ErrorIs(t, s.Do(context.Background(), op, 99), digest.ErrBusy)

	// Drain so Close doesn't see leased slots.
	for _, m := range tr.Sent() {
		tr.Complete(m)
	}
	n, err := digest.Poll(q, digest.PoolSize)
	require.NoError(t, err)
	require.Equal(t, digest.PoolSize, n)
	require.Zero(t, s.InFlight())
}

func TestDo_taggedRequiresCallback(t *testing.T) {
	t.Parallel()

	s, _ := newPlainSession(t, new(dqueuetest.StubTransport), digest.Config{
		Alg: dmsg.AlgSHA256,
	})

	op := &digest.Op{In: []byte("x"), Out: make([]byte, 32)}
	require.ErrorIs(t, s.Do(context.Background(), op, "tag"), digest.ErrNoCallback)

	// The failed submission must not leak its slot.
	require.Zero(t, s.InFlight())
}

func TestDo_streamingAccumulation(t *testing.T) {
	t.Parallel()

	tr := &dqueuetest.StubTransport{AutoComplete: true}
	s, _ := newPlainSession(t, tr, digest.Config{Alg: dmsg.AlgSHA256})

	payload := dtest.RandomDataForTest(t, 100)
	segs := [][]byte{payload[:33], payload[33:90], payload[90:]}

	ctx := context.Background()
	for i, seg := range segs {
		op := &digest.Op{
			In:      seg,
			Out:     make([]byte, 32),
			HasNext: i < len(segs)-1,
		}
		require.NoError(t, s.Do(ctx, op, nil))
	}

	sent := tr.Sent()
	require.Len(t, sent, 3)
	require.True(t, sent[0].HasNext)
	require.True(t, sent[1].HasNext)
	require.False(t, sent[2].HasNext)

	// Only the terminal segment records the streamed total.
	require.Zero(t, sent[0].TotalBytes)
	require.Zero(t, sent[1].TotalBytes)
	require.Equal(t, uint64(100), sent[2].TotalBytes)

	// The accumulator reset with the terminal segment, so a following
	// one-shot records only its own length.
	op := &digest.Op{In: dtest.RandomDataForTest(t, 7), Out: make([]byte, 32)}
	require.NoError(t, s.Do(ctx, op, nil))
	require.Equal(t, uint64(7), tr.Sent()[3].TotalBytes)
}

func TestDo_syncTimeoutFreesSlot(t *testing.T) {
	t.Parallel()

	tr := new(dqueuetest.StubTransport)
	s, _ := newPlainSession(t, tr, digest.Config{
		Alg:         dmsg.AlgSHA256,
		RecvRetries: 1000,
	})

	op := &digest.Op{In: []byte("x"), Out: make([]byte, 32)}
	require.ErrorIs(t, s.Do(context.Background(), op, nil), digest.ErrTimeout)
	require.Zero(t, s.InFlight())

	// A slot is immediately acquirable after the timeout.
	tr.AutoComplete = true
	op = &digest.Op{In: []byte("y"), Out: make([]byte, 32)}
	require.NoError(t, s.Do(context.Background(), op, nil))
}

func TestDo_syncHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	s, _ := newPlainSession(t, new(dqueuetest.StubTransport), digest.Config{
		Alg: dmsg.AlgSHA256,
		// Large enough that cancellation must end the spin,
		// small enough to bound the test if it doesn't.
		RecvRetries: digest.DefaultRecvRetries,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	op := &digest.Op{In: []byte("x"), Out: make([]byte, 32)}
	require.ErrorIs(t, s.Do(ctx, op, nil), context.Canceled)
	require.Zero(t, s.InFlight())
}

func TestDo_sendFailureReleasesSlot(t *testing.T) {
	t.Parallel()

	tr := &dqueuetest.StubTransport{SendErr: context.DeadlineExceeded}
	s, _ := newPlainSession(t, tr, digest.Config{Alg: dmsg.AlgSHA256})

	op := &digest.Op{In: []byte("x"), Out: make([]byte, 32)}
	err := s.Do(context.Background(), op, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Zero(t, s.InFlight())
}

func TestDo_concurrentSyncSubmitters(t *testing.T) {
	t.Parallel()

	s, _ := newPlainSession(t, dsoft.NewEngine(), digest.Config{
		Alg: dmsg.AlgSHA256,
	})

	// Each goroutine one-shots its own payload; the ref-matching
	// receive must hand every submitter its own digest back.
	const n = 16
	payload := dtest.RandomDataForTest(t, n*64)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(seg []byte) {
			defer wg.Done()

			op := &digest.Op{In: seg, Out: make([]byte, 32)}
			require.NoError(t, s.Do(context.Background(), op, nil))

			want := sha256.Sum256(seg)
			require.Equal(t, want[:], op.Out)
		}(payload[i*64 : (i+1)*64])
	}
	wg.Wait()

	require.Zero(t, s.InFlight())
}
