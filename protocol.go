package mcplink

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// EncodeRequest marshals one request envelope as a single newline-delimited
// frame ready to be written to a server's standard input.
func EncodeRequest(id int64, method string, params any) ([]byte, error) {
	var raw json.RawMessage
	if params != nil {
		bs, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params for %s: %w", method, err)
		}
		raw = bs
	}
	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      &id,
		Method:  method,
		Params:  raw,
	}
	bs, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request %s: %w", method, err)
	}
	// Newline terminates the frame.
	return append(bs, '\n'), nil
}

// EncodeNotification marshals a notification frame: a request without an id,
// for which no response is expected.
func EncodeNotification(method string, params any) ([]byte, error) {
	var raw json.RawMessage
	if params != nil {
		bs, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params for %s: %w", method, err)
		}
		raw = bs
	}
	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  raw,
	}
	bs, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notification %s: %w", method, err)
	}
	return append(bs, '\n'), nil
}

// DecodeMessage strictly decodes one frame received from a server. Syntactically
// invalid payloads and payloads that are not JSON objects are reported as
// distinct conditions (ErrMalformedResponse and ErrNonObjectResponse) so callers
// can log precisely what the server produced. Whether a response envelope
// carries a result or error is the caller's concern, since notifications
// legitimately carry neither.
func DecodeMessage(frame []byte) (JSONRPCMessage, error) {
	var probe any
	if err := json.Unmarshal(frame, &probe); err != nil {
		return JSONRPCMessage{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if _, ok := probe.(map[string]any); !ok {
		return JSONRPCMessage{}, fmt.Errorf("%w: got %T", ErrNonObjectResponse, probe)
	}
	var msg JSONRPCMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return JSONRPCMessage{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return msg, nil
}

// errorMessage extracts a human-readable message from an error payload. Servers
// are expected to send the object form {code, message}, but a bare string is
// tolerated and used as-is.
func errorMessage(raw json.RawMessage) string {
	if m := gjson.GetBytes(raw, "message"); m.Exists() {
		return m.String()
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
