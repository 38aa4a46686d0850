// Package lines splits a response body into newline-delimited records.
package lines

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultMaxLineBytes bounds a single record; the number of lines is unbounded.
const DefaultMaxLineBytes = 16 * 1024 * 1024

// ErrLineTooLong is returned when a record exceeds the configured maximum.
var ErrLineTooLong = errors.New("line exceeds maximum length")

// Source yields lines in arrival order. Next returns io.EOF once the
// underlying stream has ended cleanly.
type Source interface {
	Next() (string, error)
}

// Options configures a Reader.
type Options struct {
	// MaxLineBytes caps the length of one line. Zero selects DefaultMaxLineBytes.
	MaxLineBytes int
}

// Reader splits an io.Reader on "\n", stripping a trailing "\r". A final
// unterminated segment is returned as a line; a trailing newline does not
// produce an empty line.
type Reader struct {
	r       *bufio.Reader
	maxLine int
	err     error
}

// NewReader wraps r.
func NewReader(r io.Reader, opts Options) *Reader {
	maxLine := opts.MaxLineBytes
	if maxLine <= 0 {
		maxLine = DefaultMaxLineBytes
	}
	return &Reader{
		r:       bufio.NewReaderSize(r, 64*1024),
		maxLine: maxLine,
	}
}

// Next returns the next line. Once it returns an error every later call
// returns the same error.
func (r *Reader) Next() (string, error) {
	if r.err != nil {
		return "", r.err
	}

	var buf []byte
	for {
		chunk, err := r.r.ReadSlice('\n')
		limit := r.maxLine
		if bytes.HasSuffix(chunk, []byte{'\n'}) {
			limit++
		}
		if len(buf)+len(chunk) > limit {
			r.err = fmt.Errorf("%w (%d bytes)", ErrLineTooLong, r.maxLine)
			return "", r.err
		}
		buf = append(buf, chunk...)

		switch {
		case err == nil:
			return trimEOL(buf), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			r.err = io.EOF
			if len(buf) == 0 {
				return "", io.EOF
			}
			return trimEOL(buf), nil
		default:
			r.err = err
			return "", err
		}
	}
}

func trimEOL(b []byte) string {
	s := strings.TrimSuffix(string(b), "\n")
	return strings.TrimSuffix(s, "\r")
}

// Slice is an in-memory Source, mostly useful for replaying captured streams.
type Slice struct {
	lines []string
	pos   int
}

// FromStrings returns a Source over the given lines.
func FromStrings(lines ...string) *Slice {
	return &Slice{lines: lines}
}

// Next implements Source.
func (s *Slice) Next() (string, error) {
	if s.pos >= len(s.lines) {
		return "", io.EOF
	}
	line := s.lines[s.pos]
	s.pos++
	return line, nil
}
