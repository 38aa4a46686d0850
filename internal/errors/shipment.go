package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrStreamEnded is returned when a line arrives after the stream has ended.
var ErrStreamEnded = errors.New("line received after end of stream")

// ErrUnknownAction is returned when an action is not in the discovered table.
var ErrUnknownAction = errors.New("unknown action")

// TransportError reports that the request could not be sent or that the
// response stream broke before the invocation finished.
type TransportError struct {
	Op  string // "dial", "read"
	URL string
	Err error
}

func (e *TransportError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusError reports a non-success HTTP status from the server. It is
// raised before any line is read and is distinct from RemoteError.
type StatusError struct {
	StatusCode int
	Status     string
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("HTTP status %d from %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("HTTP status %d from %s: %s", e.StatusCode, e.URL, body)
}

// RemoteError is the structured error carried by a lifecycle error line.
type RemoteError struct {
	Message string
	Name    string
	Code    string
	// Details holds the full decoded payload.
	Details json.RawMessage
}

func (e *RemoteError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("remote %s: %s", e.Name, e.Message)
	}
	return "remote error: " + e.Message
}

// ProtocolDecodeError reports a load-bearing record that is not valid JSON.
type ProtocolDecodeError struct {
	Payload string
	Err     error
}

func (e *ProtocolDecodeError) Error() string {
	return fmt.Sprintf("decode protocol payload %q: %v", truncate(e.Payload, 120), e.Err)
}

func (e *ProtocolDecodeError) Unwrap() error {
	return e.Err
}

// IncompleteRunError reports a stream that ended without a terminal
// lifecycle signal, typically after cancellation or a dropped connection.
type IncompleteRunError struct {
	Action string
	Err    error
}

func (e *IncompleteRunError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("action %q ended without a result: %v", e.Action, e.Err)
	}
	return fmt.Sprintf("action %q ended without a result", e.Action)
}

func (e *IncompleteRunError) Unwrap() error {
	return e.Err
}

// DecodeRemoteError builds a RemoteError from a lifecycle error payload.
// Objects contribute message/name/code fields; a bare JSON string becomes
// the message. Any other JSON value is kept verbatim as the message.
func DecodeRemoteError(payload []byte) (*RemoteError, error) {
	trimmed := strings.TrimSpace(string(payload))
	if !json.Valid([]byte(trimmed)) {
		var probe any
		err := json.Unmarshal([]byte(trimmed), &probe)
		if err == nil {
			err = errors.New("invalid JSON")
		}
		return nil, &ProtocolDecodeError{Payload: trimmed, Err: err}
	}

	remote := &RemoteError{Details: json.RawMessage(trimmed)}
	switch trimmed[0] {
	case '{':
		var fields struct {
			Message string          `json:"message"`
			Name    string          `json:"name"`
			Code    json.RawMessage `json:"code"`
		}
		if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
			return nil, &ProtocolDecodeError{Payload: trimmed, Err: err}
		}
		remote.Message = fields.Message
		remote.Name = fields.Name
		remote.Code = strings.Trim(string(fields.Code), `"`)
	case '"':
		if err := json.Unmarshal([]byte(trimmed), &remote.Message); err != nil {
			return nil, &ProtocolDecodeError{Payload: trimmed, Err: err}
		}
	default:
		remote.Message = trimmed
	}
	return remote, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
