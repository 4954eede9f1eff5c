package wire

import "encoding/json"

// jsonFrame is the single-object wire form shared by all three kinds.
// Requests and notifications carry params; responses carry result/error
// with explicit nulls, matching the envelope produced by EncodeResult.
type jsonFrame struct {
	ID     *uint64         `json:"id"`
	Method Operation       `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *jsonWireError  `json:"error,omitempty"`
}

type jsonCodec struct {
	known func(Operation) bool
}

func (c jsonCodec) EncodeFrame(f Frame) ([]byte, error) {
	if f.Kind > Response {
		return nil, Errorf(CodeMalformedHeader, "invalid kind tag %d", uint32(f.Kind))
	}
	out := jsonFrame{Method: f.Op}
	if f.HasID() {
		id := uint64(f.ID)
		out.ID = &id
	}

	if f.Kind == Response {
		res, err := DecodeResult(JSON, f.Payload)
		if err != nil {
			return nil, err
		}
		if res.Err != nil {
			out.Error = &jsonWireError{Code: res.Err.Code, Message: res.Err.Text}
			out.Result = json.RawMessage("null")
		} else if len(res.OK) > 0 {
			out.Result = json.RawMessage(res.OK)
		} else {
			out.Result = json.RawMessage("null")
		}
		return json.Marshal(out)
	}

	// The JSON encoding cannot carry opaque binary payloads: params must
	// already be a self-describing JSON value.
	if len(f.Payload) == 0 {
		out.Params = json.RawMessage("null")
	} else if !json.Valid(f.Payload) {
		return nil, Errorf(CodeMalformedMessage, "payload is not valid JSON")
	} else {
		out.Params = json.RawMessage(f.Payload)
	}
	return json.Marshal(out)
}

func (c jsonCodec) DecodeFrame(data []byte) (Frame, error) {
	if len(data) == 0 {
		return Frame{}, Errorf(CodeHeaderTooShort, "empty frame")
	}
	var in jsonFrame
	if err := json.Unmarshal(data, &in); err != nil {
		return Frame{}, Errorf(CodeMalformedHeader, "%v", err)
	}
	if in.Method == "" {
		return Frame{}, Errorf(CodeMalformedHeader, "missing method")
	}
	if c.known != nil && !c.known(in.Method) {
		return Frame{}, Errorf(CodeUnknownOperation, "%s", in.Method)
	}

	var f Frame
	f.Op = in.Method
	switch {
	case in.ID == nil:
		f.Kind = Notification
		f.Payload = payloadFromParams(in.Params)
	case in.Result != nil || in.Error != nil:
		f.Kind = Response
		f.ID = CallID(*in.ID)
		var res Result
		if in.Error != nil {
			res.Err = &Error{Code: in.Error.Code, Text: in.Error.Message}
		} else {
			res.OK = payloadFromParams(in.Result)
		}
		payload, err := EncodeResult(JSON, res)
		if err != nil {
			return Frame{}, err
		}
		f.Payload = payload
	default:
		f.Kind = Request
		f.ID = CallID(*in.ID)
		f.Payload = payloadFromParams(in.Params)
	}
	return f, nil
}

func payloadFromParams(raw json.RawMessage) []byte {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out
}
