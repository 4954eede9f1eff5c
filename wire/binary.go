package wire

import "encoding/binary"

// Binary frame layout, big-endian throughout:
//
//	0        4         5        13?       +2        +opLen
//	┌────────┬─────────┬─────────┬─────────┬─────────┬─────────────┐
//	│ kind   │ id flag │ id      │ opLen   │ op      │ payload ... │
//	│ uint32 │ uint8   │ uint64  │ uint16  │ n bytes │ remainder   │
//	└────────┴─────────┴─────────┴─────────┴─────────┴─────────────┘
//
// The id field is present only when the flag is 1, which must agree with
// the kind (notifications never carry an id). Every header field is
// fixed-width or length-prefixed, so the header end is determinable
// byte-by-byte; the payload is the remainder of the frame with no length
// prefix of its own.
const (
	kindSize      = 4
	idFlagSize    = 1
	idSize        = 8
	opLenSize     = 2
	minHeaderSize = kindSize + idFlagSize + opLenSize
)

type binaryCodec struct{}

func (binaryCodec) EncodeFrame(f Frame) ([]byte, error) {
	if f.Kind > Response {
		return nil, Errorf(CodeMalformedHeader, "invalid kind tag %d", uint32(f.Kind))
	}
	if len(f.Op) > 0xffff {
		return nil, Errorf(CodeMalformedHeader, "operation name exceeds %d bytes", 0xffff)
	}

	size := minHeaderSize + len(f.Op) + len(f.Payload)
	if f.HasID() {
		size += idSize
	}
	buf := make([]byte, 0, size)

	buf = binary.BigEndian.AppendUint32(buf, uint32(f.Kind))
	if f.HasID() {
		buf = append(buf, 1)
		buf = binary.BigEndian.AppendUint64(buf, uint64(f.ID))
	} else {
		buf = append(buf, 0)
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(f.Op)))
	buf = append(buf, f.Op...)
	buf = append(buf, f.Payload...)
	return buf, nil
}

func (binaryCodec) DecodeFrame(data []byte) (Frame, error) {
	if len(data) < minHeaderSize {
		return Frame{}, Errorf(CodeHeaderTooShort, "%d bytes", len(data))
	}

	var f Frame
	f.Kind = Kind(binary.BigEndian.Uint32(data[:kindSize]))
	if f.Kind > Response {
		return Frame{}, Errorf(CodeMalformedHeader, "invalid kind tag %d", uint32(f.Kind))
	}
	offset := kindSize

	switch flag := data[offset]; flag {
	case 0, 1:
		if (flag == 1) != f.HasID() {
			return Frame{}, Errorf(CodeMalformedHeader, "id presence flag %d contradicts kind %s", flag, f.Kind)
		}
	default:
		return Frame{}, Errorf(CodeMalformedHeader, "invalid id presence flag %d", flag)
	}
	offset += idFlagSize

	if f.HasID() {
		if len(data) < offset+idSize+opLenSize {
			return Frame{}, Errorf(CodeHeaderTooShort, "%d bytes", len(data))
		}
		f.ID = CallID(binary.BigEndian.Uint64(data[offset : offset+idSize]))
		offset += idSize
	}

	opLen := int(binary.BigEndian.Uint16(data[offset : offset+opLenSize]))
	offset += opLenSize
	if len(data) < offset+opLen {
		return Frame{}, Errorf(CodeHeaderTooShort, "operation name truncated")
	}
	f.Op = Operation(data[offset : offset+opLen])
	offset += opLen

	// The payload is copied so the frame does not alias the read buffer.
	if rest := data[offset:]; len(rest) > 0 {
		f.Payload = make([]byte, len(rest))
		copy(f.Payload, rest)
	}
	return f, nil
}
