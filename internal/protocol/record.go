package protocol

import (
	"bytes"
	"encoding/json"
)

// RecordKind tags the outcome of classifying a non-lifecycle line.
type RecordKind int

const (
	RecordLog RecordKind = iota
	RecordData
)

func (k RecordKind) String() string {
	if k == RecordData {
		return "data"
	}
	return "log"
}

// Record is a classified non-lifecycle line. Raw always holds the line
// exactly as received.
type Record struct {
	Kind RecordKind
	Raw  string
	// Context is the record's context identifier (data records only).
	Context string
	// Fields holds the top-level members of a data record.
	Fields map[string]json.RawMessage
}

// ClassifyRecord decides whether line is a data record or a log line.
// A line must parse as a JSON object and carry a truthy context field to be
// a data record; JSON-shaped output without it is treated as a log line.
func ClassifyRecord(line string) Record {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &fields); err != nil || fields == nil {
		return Record{Kind: RecordLog, Raw: line}
	}

	context, ok := contextOf(fields[ContextField])
	if !ok {
		return Record{Kind: RecordLog, Raw: line}
	}
	return Record{Kind: RecordData, Raw: line, Context: context, Fields: fields}
}

// IsRoot reports whether the record belongs to the top-level invocation.
func (r Record) IsRoot() bool {
	return r.Kind == RecordData && r.Context == RootContext
}

// Result returns the record's result field. Any present value counts,
// including null, false and 0.
func (r Record) Result() (json.RawMessage, bool) {
	raw, ok := r.Fields[ResultField]
	if !ok {
		return nil, false
	}
	return raw, true
}

// Field returns a top-level member of a data record.
func (r Record) Field(name string) (json.RawMessage, bool) {
	raw, ok := r.Fields[name]
	return raw, ok
}

// Decode unmarshals the full record into v.
func (r Record) Decode(v any) error {
	return json.Unmarshal([]byte(r.Raw), v)
}

// contextOf follows the protocol's truthiness rule: null, false, "" and 0
// do not identify a context.
func contextOf(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false
	}
	switch v := value.(type) {
	case nil:
		return "", false
	case bool:
		return "true", v
	case string:
		return v, v != ""
	case float64:
		return string(raw), v != 0
	default:
		return string(raw), true
	}
}
