// Package uadk is a user-space driver for hardware digest/HMAC
// accelerators.
//
// The module is organized around one idea: many sessions multiplex
// their in-flight requests over a single non-blocking hardware queue,
// and completions are routed back by identity rather than order.
//
//   - [github.com/chikey/uadk/digest] is the session and request layer.
//   - [github.com/chikey/uadk/dqueue] models the opened queue and its
//     transport.
//   - [github.com/chikey/uadk/dmem] carries the caller's DMA allocator
//     callbacks.
//   - [github.com/chikey/uadk/dsoft] computes digests in software behind
//     the same transport interface.
//   - [github.com/chikey/uadk/dremote] tunnels the transport over QUIC
//     to a remote accelerator host.
package uadk
