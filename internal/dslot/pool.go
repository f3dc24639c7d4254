// Package dslot provides a fixed-capacity, lock-free pool of
// interchangeable slots.
//
// Acquisition scans from a rotating hint and claims a slot with an
// atomic test-and-set, so it never blocks and never allocates.
// Fairness is best effort only: the hint races with other acquirers,
// which can skew the scan start but never claims a slot twice.
package dslot

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/bits-and-blooms/bitset"
)

// ErrNoneFree is returned by [Pool.Acquire] when every slot is occupied
// after a full scan. Callers should back off and retry.
var ErrNoneFree = errors.New("no free slot in pool")

// ErrNotLeased is returned by [Pool.Release] when the slot at the given
// index is already free. Releasing twice is a caller bug,
// and silently accepting it would mask a double completion.
var ErrNotLeased = errors.New("slot is not leased")

// RangeError is returned by [Pool.Release] for an index outside the pool.
type RangeError struct {
	Index, Size int
}

func (e RangeError) Error() string {
	return fmt.Sprintf("slot index %d out of range (pool size %d)", e.Index, e.Size)
}

// Pool is a fixed set of slots, each holding one value of type T.
//
// The zero value is not usable; create a Pool with [New].
type Pool[T any] struct {
	vals     []T
	occupied []atomic.Bool

	// Scan start for the next Acquire. Updated best-effort on success.
	hint atomic.Uint32
}

// New returns a pool of size slots. It panics if size is not positive.
func New[T any](size int) *Pool[T] {
	if size <= 0 {
		panic(fmt.Errorf("BUG: pool size must be positive (got %d)", size))
	}
	return &Pool[T]{
		vals:     make([]T, size),
		occupied: make([]atomic.Bool, size),
	}
}

// Size returns the fixed number of slots in the pool.
func (p *Pool[T]) Size() int {
	return len(p.vals)
}

// Get returns the value stored at index i,
// regardless of whether the slot is currently leased.
// The pointer stays valid for the life of the pool.
func (p *Pool[T]) Get(i int) *T {
	return &p.vals[i]
}

// Acquire claims a free slot and returns its value and index.
//
// The claiming compare-and-swap gives acquire ordering,
// so every write made under the previous lease is visible
// to the new holder. Returns [ErrNoneFree] after one full scan
// with no free slot; it never blocks.
func (p *Pool[T]) Acquire() (*T, int, error) {
	n := len(p.vals)
	idx := int(p.hint.Load()) % n

	for cnt := 0; cnt < n; cnt++ {
		if p.occupied[idx].CompareAndSwap(false, true) {
			// Losing a race here only affects where the next
			// scan starts, so a plain store is fine.
			p.hint.Store(uint32(idx))
			return &p.vals[idx], idx, nil
		}
		idx++
		if idx == n {
			idx = 0
		}
	}

	return nil, 0, ErrNoneFree
}

// Release frees the slot at index i, making it visible to subsequent
// acquirers. The slot's value must not be touched after Release returns.
func (p *Pool[T]) Release(i int) error {
	if i < 0 || i >= len(p.vals) {
		return RangeError{Index: i, Size: len(p.vals)}
	}
	if !p.occupied[i].CompareAndSwap(true, false) {
		return ErrNotLeased
	}
	return nil
}

// Occupancy fills dst with the current lease state, one bit per slot,
// and returns it. A nil dst allocates a new bitset.
//
// The snapshot is not linearizable against concurrent acquire/release;
// it is intended for diagnostics and tests.
func (p *Pool[T]) Occupancy(dst *bitset.BitSet) *bitset.BitSet {
	if dst == nil {
		dst = bitset.New(uint(len(p.vals)))
	} else {
		dst.ClearAll()
	}
	for i := range p.occupied {
		if p.occupied[i].Load() {
			dst.Set(uint(i))
		}
	}
	return dst
}
