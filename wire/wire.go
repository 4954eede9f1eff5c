package wire

import (
	"fmt"
	"strings"
)

// Operation identifies which method or notification a frame targets.
// The set of valid operations is declared by the application.
type Operation string

// Kind is the frame kind tag. It determines the header shape: a
// Notification never carries a call id, a Request and a Response always do.
type Kind uint32

const (
	Notification Kind = 0
	Request      Kind = 1
	Response     Kind = 2
)

func (k Kind) String() string {
	switch k {
	case Notification:
		return "notification"
	case Request:
		return "request"
	case Response:
		return "response"
	}
	return fmt.Sprintf("kind(%d)", uint32(k))
}

// CallID correlates a Request to its Response. It is opaque to the wire
// layer beyond being a comparable 64-bit value.
type CallID uint64

// Header describes one frame. ID is meaningful only when Kind is not
// Notification; on the wire its presence flag must agree with Kind.
type Header struct {
	Kind Kind
	ID   CallID
	Op   Operation
}

// HasID reports whether this header kind carries a call id.
func (h Header) HasID() bool {
	return h.Kind != Notification
}

// Frame is one header + payload unit on the wire. The payload is opaque to
// the binary encoding; the JSON encoding requires it to be a JSON value.
type Frame struct {
	Header
	Payload []byte
}

// NewRequest builds a Request frame.
func NewRequest(id CallID, op Operation, payload []byte) Frame {
	return Frame{Header: Header{Kind: Request, ID: id, Op: op}, Payload: payload}
}

// NewResponse builds a Response frame answering the given call id.
func NewResponse(id CallID, op Operation, payload []byte) Frame {
	return Frame{Header: Header{Kind: Response, ID: id, Op: op}, Payload: payload}
}

// NewNotification builds a Notification frame.
func NewNotification(op Operation, payload []byte) Frame {
	return Frame{Header: Header{Kind: Notification, Op: op}, Payload: payload}
}

// Encoding selects one of the two interchangeable frame encodings.
type Encoding byte

const (
	Binary Encoding = 0
	JSON   Encoding = 1
)

func (e Encoding) String() string {
	switch e {
	case Binary:
		return "binary"
	case JSON:
		return "json"
	}
	return fmt.Sprintf("encoding(%d)", byte(e))
}

// ParseEncoding parses "binary" or "json".
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(s) {
	case "binary":
		return Binary, nil
	case "json":
		return JSON, nil
	}
	return Binary, fmt.Errorf("invalid encoding: %q (must be \"binary\" or \"json\")", s)
}

// Codec encodes and decodes frames for one Encoding.
type Codec interface {
	EncodeFrame(Frame) ([]byte, error)
	DecodeFrame([]byte) (Frame, error)
}

// NewCodec returns the codec for the given encoding. The known set is
// consulted by the JSON codec to reject undeclared operations at decode
// time; the binary codec ignores it and defers operation validity to
// dispatch. A nil known set accepts every operation.
func NewCodec(enc Encoding, known func(Operation) bool) Codec {
	if enc == JSON {
		return jsonCodec{known: known}
	}
	return binaryCodec{}
}
