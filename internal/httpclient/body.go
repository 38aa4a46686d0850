package httpclient

import (
	"errors"
	"fmt"
	"io"
)

// ErrBodyTooLarge is returned by ReadBody when a body exceeds its limit.
var ErrBodyTooLarge = errors.New("response body too large")

// ReadBody reads r to the end, failing with ErrBodyTooLarge once more than
// limit bytes arrive. A non-positive limit reads everything.
func ReadBody(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	switch {
	case err != nil:
		return nil, err
	case int64(len(data)) > limit:
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrBodyTooLarge, limit)
	}
	return data, nil
}

// ReadSnippet returns at most limit bytes of r for error reporting. Read
// errors are ignored; whatever arrived is returned.
func ReadSnippet(r io.Reader, limit int64) string {
	if r == nil || limit <= 0 {
		return ""
	}
	data, _ := io.ReadAll(io.LimitReader(r, limit))
	return string(data)
}
