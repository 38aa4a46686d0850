package fixture

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"shipment/internal/protocol"
)

// StreamWriter writes protocol lines and flushes each one.
type StreamWriter struct {
	mu     sync.Mutex
	w      io.Writer
	prefix string
}

func newStreamWriter(w io.Writer, verifyKey string) *StreamWriter {
	return &StreamWriter{w: w, prefix: protocol.Prefix(verifyKey)}
}

// NewStreamWriter writes to w using the lifecycle prefix for verifyKey.
func NewStreamWriter(w io.Writer, verifyKey string) *StreamWriter {
	return newStreamWriter(w, verifyKey)
}

// Line writes line verbatim.
func (s *StreamWriter) Line(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.w, line+"\n"); err != nil {
		return err
	}
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// Log writes a plain log line.
func (s *StreamWriter) Log(format string, args ...any) error {
	return s.Line(fmt.Sprintf(format, args...))
}

// Start writes the start lifecycle line.
func (s *StreamWriter) Start(payload string) error {
	return s.Line(s.prefix + "start: " + payload)
}

// Success writes the success lifecycle line.
func (s *StreamWriter) Success() error {
	return s.Line(s.prefix + "ok")
}

// Fail writes an error lifecycle line for err.
func (s *StreamWriter) Fail(err error) error {
	payload := map[string]any{"message": err.Error()}
	var coded *CodedError
	if errors.As(err, &coded) {
		payload["name"] = coded.Name
		payload["code"] = coded.Code
	}
	raw, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return marshalErr
	}
	return s.Line(s.prefix + "error: " + string(raw))
}

// Emit writes a data record in context ctxID.
func (s *StreamWriter) Emit(ctxID string, fields map[string]any) error {
	record := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		record[k] = v
	}
	record[protocol.ContextField] = ctxID
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.Line(string(raw))
}

// Result writes a root record carrying result.
func (s *StreamWriter) Result(result any) error {
	return s.Emit(protocol.RootContext, map[string]any{protocol.ResultField: result})
}

// CodedError is an action failure with a name and code.
type CodedError struct {
	Name    string
	Code    string
	Message string
}

func (e *CodedError) Error() string {
	return e.Message
}
