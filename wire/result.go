package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
)

// Result is the response payload envelope. A Response frame's payload
// carries either the handler's result bytes or a transportable Error;
// the frame kind stays Response either way.
type Result struct {
	OK  []byte
	Err *Error
}

const (
	resultStatusOK  byte = 0
	resultStatusErr byte = 1
)

type jsonWireError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

type jsonResult struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *jsonWireError  `json:"error,omitempty"`
}

// EncodeResult serializes a Result for inclusion as a Response payload.
//
// Binary: a 1-byte status followed by either the raw result bytes or a
// big-endian u32 error code plus the error text.
// JSON: {"result": <value>} or {"error": {"code": N, "message": S}}.
func EncodeResult(enc Encoding, res Result) ([]byte, error) {
	if enc == JSON {
		env := jsonResult{}
		if res.Err != nil {
			env.Error = &jsonWireError{Code: res.Err.Code, Message: res.Err.Text}
		} else if len(res.OK) > 0 {
			if !json.Valid(res.OK) {
				return nil, Errorf(CodeMalformedMessage, "result payload is not valid JSON")
			}
			env.Result = json.RawMessage(res.OK)
		} else {
			env.Result = json.RawMessage("null")
		}
		return json.Marshal(env)
	}

	if res.Err != nil {
		buf := make([]byte, 0, 1+4+len(res.Err.Text))
		buf = append(buf, resultStatusErr)
		buf = binary.BigEndian.AppendUint32(buf, uint32(res.Err.Code))
		return append(buf, res.Err.Text...), nil
	}
	buf := make([]byte, 0, 1+len(res.OK))
	buf = append(buf, resultStatusOK)
	return append(buf, res.OK...), nil
}

// DecodeResult parses a Response payload produced by EncodeResult.
func DecodeResult(enc Encoding, payload []byte) (Result, error) {
	if enc == JSON {
		var env jsonResult
		if err := json.Unmarshal(payload, &env); err != nil {
			return Result{}, Errorf(CodeMalformedMessage, "response envelope: %v", err)
		}
		if env.Error != nil {
			return Result{Err: &Error{Code: env.Error.Code, Text: env.Error.Message}}, nil
		}
		if bytes.Equal(env.Result, []byte("null")) {
			return Result{}, nil
		}
		return Result{OK: []byte(env.Result)}, nil
	}

	if len(payload) < 1 {
		return Result{}, Errorf(CodeMalformedMessage, "empty response envelope")
	}
	switch payload[0] {
	case resultStatusOK:
		return Result{OK: payload[1:]}, nil
	case resultStatusErr:
		if len(payload) < 5 {
			return Result{}, Errorf(CodeMalformedMessage, "truncated error envelope")
		}
		code := Code(binary.BigEndian.Uint32(payload[1:5]))
		return Result{Err: &Error{Code: code, Text: string(payload[5:])}}, nil
	}
	return Result{}, Errorf(CodeMalformedMessage, "invalid response status %d", payload[0])
}
