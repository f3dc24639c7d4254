// Package dmemtest provides an instrumented allocator config
// for exercising the driver's key-buffer lifecycle in tests.
package dmemtest

import (
	"sync"

	"github.com/chikey/uadk/dmem"
)

// Allocator counts alloc/free/map/unmap traffic and can be told to
// fail allocation, to drive creation-rollback paths.
//
// The zero value is ready to use.
type Allocator struct {
	mu sync.Mutex

	allocs      int
	frees       int
	maps        int
	unmaps      int
	outstanding int

	// If true, Alloc returns nil.
	FailAlloc bool
}

// Config returns a complete [dmem.Config] owned by a.
func (a *Allocator) Config() dmem.Config {
	return dmem.Config{
		Owner: a,
		Alloc: func(owner any, size int) []byte {
			al := owner.(*Allocator)
			al.mu.Lock()
			defer al.mu.Unlock()
			if al.FailAlloc {
				return nil
			}
			al.allocs++
			al.outstanding++
			return make([]byte, size)
		},
		Free: func(owner any, buf []byte) {
			al := owner.(*Allocator)
			al.mu.Lock()
			defer al.mu.Unlock()
			al.frees++
			al.outstanding--
		},
		Map: func(owner any, buf []byte) uintptr {
			al := owner.(*Allocator)
			al.mu.Lock()
			defer al.mu.Unlock()
			al.maps++
			return 0
		},
		Unmap: func(owner any, buf []byte, addr uintptr) {
			al := owner.(*Allocator)
			al.mu.Lock()
			defer al.mu.Unlock()
			al.unmaps++
		},
	}
}

// Allocs returns the number of successful allocations.
func (a *Allocator) Allocs() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocs
}

// Outstanding returns allocations minus frees.
func (a *Allocator) Outstanding() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.outstanding
}
