// Package dmem defines the caller-supplied memory callbacks
// used for DMA-capable buffers.
//
// The driver never allocates DMA-visible memory itself;
// sessions carry a [Config] whose callbacks delegate to whatever
// pool the embedding application manages.
package dmem

// Config is the allocator configuration a session supplies at creation.
//
// Every session bound to one physical queue must supply callbacks
// belonging to the same Owner; the queue rejects mismatches.
type Config struct {
	// Owner identifies the pool the callbacks draw from.
	// Two configs are considered identical exactly when
	// their Owner values compare equal.
	Owner any

	Alloc func(owner any, size int) []byte
	Free  func(owner any, buf []byte)

	// Map and Unmap translate a buffer to and from a device-visible
	// address. The session layer requires their presence in keyed mode
	// but never invokes them itself; the transport does.
	Map   func(owner any, buf []byte) uintptr
	Unmap func(owner any, buf []byte, addr uintptr)
}

// Complete reports whether all four callbacks are present.
// Keyed-mode sessions require a complete config.
func (c Config) Complete() bool {
	return c.Alloc != nil && c.Free != nil && c.Map != nil && c.Unmap != nil
}
