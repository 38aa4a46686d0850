// Package protocol classifies the lines of a shipment response stream.
//
// A line is either a lifecycle signal (prefixed with the sentinel), a data
// record (a JSON object carrying a context field) or an opaque log line.
package protocol

import "strings"

const (
	// Sentinel marks transport-internal lifecycle lines.
	Sentinel = "SHIPMENT"
	// ContextField names the context identifier of a data record.
	ContextField = "c"
	// RootContext is the context identifier of the top-level invocation.
	RootContext = "0"
	// ResultField carries the invocation's return value on a root record.
	ResultField = "result"
)

// IsLifecycleLine reports whether line must be handled by the lifecycle parser.
func IsLifecycleLine(line string) bool {
	return strings.HasPrefix(line, Sentinel)
}

// Prefix returns the lifecycle prefix template. Without a verify key it is
// "SHIPMENT: "; with one it is "SHIPMENT-<key>: ".
func Prefix(verifyKey string) string {
	if verifyKey == "" {
		return Sentinel + ": "
	}
	return Sentinel + "-" + verifyKey + ": "
}
