package dmsg

// Algorithm selects the digest algorithm for a session.
//
// The values match the order the accelerator firmware advertises them,
// so they are stable across releases; do not reorder.
type Algorithm uint8

const (
	AlgSM3 Algorithm = iota
	AlgMD5
	AlgSHA1
	AlgSHA224
	AlgSHA256
	AlgSHA384
	AlgSHA512
	AlgSHA512_224
	AlgSHA512_256
	AlgSHA3_256
	AlgBLAKE2b256
)

func (a Algorithm) String() string {
	switch a {
	case AlgSM3:
		return "sm3"
	case AlgMD5:
		return "md5"
	case AlgSHA1:
		return "sha1"
	case AlgSHA224:
		return "sha224"
	case AlgSHA256:
		return "sha256"
	case AlgSHA384:
		return "sha384"
	case AlgSHA512:
		return "sha512"
	case AlgSHA512_224:
		return "sha512-224"
	case AlgSHA512_256:
		return "sha512-256"
	case AlgSHA3_256:
		return "sha3-256"
	case AlgBLAKE2b256:
		return "blake2b-256"
	default:
		return "unknown"
	}
}

// Mode distinguishes a plain digest session from a keyed (HMAC) session.
type Mode uint8

const (
	ModeDigest Mode = iota
	ModeHMAC
)

func (m Mode) String() string {
	switch m {
	case ModeDigest:
		return "digest"
	case ModeHMAC:
		return "hmac"
	default:
		return "unknown"
	}
}

// DataFormat tags how the input and output buffers are laid out
// for the DMA engine.
type DataFormat uint8

const (
	FormatFlat DataFormat = iota
	FormatSGList
)

// Status is the per-request result reported on a reply.
type Status uint8

const (
	StatusOK Status = iota

	// The engine does not implement the requested algorithm.
	StatusUnsupported

	// The hardware reported a fault while processing this request.
	// The reply is still delivered; the fault travels in this field.
	StatusHardwareFault
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusUnsupported:
		return "unsupported"
	case StatusHardwareFault:
		return "hardware fault"
	default:
		return "unknown"
	}
}

// Message is one hardware request/reply record.
//
// The driver populates a Message from session and per-call state,
// submits it to the transport, and the transport hands the same record
// back (or a decoded copy of it, for remote transports) as the reply.
type Message struct {
	// Request id, assigned by transports that need to correlate
	// replies across a wire. Local transports may leave it zero.
	ID uint64

	// Session id assigned by the shared queue at session creation.
	SessionID uint32

	Alg    Algorithm
	Mode   Mode
	Format DataFormat

	// True for every non-terminal segment of a streaming digest.
	HasNext bool

	// Key references the session-owned key buffer in keyed mode.
	Key []byte

	In  []byte
	Out []byte

	// Total bytes streamed across the whole sequence,
	// recorded when the terminal segment is submitted.
	TotalBytes uint64

	Result Status

	// Ref is the routing back-reference set by the driver at session
	// creation. It identifies the in-flight slot owning this record.
	// Transports must preserve it and must never encode it.
	Ref any
}
