package dmsg

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Wire layout for one encoded message:
// a fixed 25-byte header followed by three length-prefixed buffers.
//
//	u64 ID
//	u32 SessionID
//	u8  Alg, u8 Mode, u8 Format, u8 flags (bit 0 = HasNext)
//	u8  Result
//	u64 TotalBytes
//	u16 len(Key) + Key
//	u32 len(In)  + In
//	u32 len(Out) + Out
//
// Ref is deliberately absent: it only has meaning inside the process
// that created the record.

const fixedHeaderSize = 8 + 4 + 1 + 1 + 1 + 1 + 1 + 8

const (
	flagHasNext byte = 1 << 0
)

// Buffer sizes on the wire are bounded so a corrupt or hostile length
// prefix cannot force an enormous allocation during decode.
const (
	maxWireKeySize = 1 << 10
	maxWireBufSize = 1 << 26
)

// AppendMessage appends the wire encoding of m to dst,
// returning the extended slice.
func AppendMessage(dst []byte, m *Message) []byte {
	sz := fixedHeaderSize + 2 + len(m.Key) + 4 + len(m.In) + 4 + len(m.Out)
	if cap(dst)-len(dst) < sz {
		grown := make([]byte, len(dst), len(dst)+sz)
		copy(grown, dst)
		dst = grown
	}

	dst = binary.BigEndian.AppendUint64(dst, m.ID)
	dst = binary.BigEndian.AppendUint32(dst, m.SessionID)
	dst = append(dst, byte(m.Alg), byte(m.Mode), byte(m.Format))

	var flags byte
	if m.HasNext {
		flags |= flagHasNext
	}
	dst = append(dst, flags, byte(m.Result))

	dst = binary.BigEndian.AppendUint64(dst, m.TotalBytes)

	dst = binary.BigEndian.AppendUint16(dst, uint16(len(m.Key)))
	dst = append(dst, m.Key...)

	dst = binary.BigEndian.AppendUint32(dst, uint32(len(m.In)))
	dst = append(dst, m.In...)

	dst = binary.BigEndian.AppendUint32(dst, uint32(len(m.Out)))
	dst = append(dst, m.Out...)

	return dst
}

// DecodeMessage reads one encoded message from r.
//
// The returned message's buffers are freshly allocated;
// they never alias any internal decoder state.
func DecodeMessage(r io.Reader) (*Message, error) {
	var h [fixedHeaderSize]byte
	if _, err := io.ReadFull(r, h[:]); err != nil {
		// Don't wrap io.EOF at a message boundary:
		// the caller needs it to detect an orderly end of stream.
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read message header: %w", err)
	}

	m := &Message{
		ID:        binary.BigEndian.Uint64(h[:8]),
		SessionID: binary.BigEndian.Uint32(h[8:12]),
		Alg:       Algorithm(h[12]),
		Mode:      Mode(h[13]),
		Format:    DataFormat(h[14]),
		HasNext:   h[15]&flagHasNext != 0,
		Result:    Status(h[16]),

		TotalBytes: binary.BigEndian.Uint64(h[17:25]),
	}

	var err error
	if m.Key, err = readBuf(r, 2, maxWireKeySize, "key"); err != nil {
		return nil, err
	}
	if m.In, err = readBuf(r, 4, maxWireBufSize, "input"); err != nil {
		return nil, err
	}
	if m.Out, err = readBuf(r, 4, maxWireBufSize, "output"); err != nil {
		return nil, err
	}

	return m, nil
}

func readBuf(r io.Reader, prefixSize, limit int, name string) ([]byte, error) {
	var p [4]byte
	if _, err := io.ReadFull(r, p[:prefixSize]); err != nil {
		return nil, fmt.Errorf("failed to read %s length: %w", name, err)
	}

	var n int
	if prefixSize == 2 {
		n = int(binary.BigEndian.Uint16(p[:2]))
	} else {
		n = int(binary.BigEndian.Uint32(p[:4]))
	}

	if n == 0 {
		return nil, nil
	}
	if n > limit {
		return nil, fmt.Errorf(
			"%s buffer length %d exceeds limit %d", name, n, limit,
		)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("failed to read %s buffer: %w", name, err)
	}
	return buf, nil
}
