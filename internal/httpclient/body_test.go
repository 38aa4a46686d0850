package httpclient

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestReadBody(t *testing.T) {
	cases := []struct {
		name   string
		limit  int64
		want   string
		tooBig bool
	}{
		{name: "within limit", limit: 5, want: "hello"},
		{name: "unlimited", limit: 0, want: "hello"},
		{name: "over limit", limit: 2, tooBig: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ReadBody(strings.NewReader("hello"), tc.limit)
			if tc.tooBig {
				if !errors.Is(err, ErrBodyTooLarge) {
					t.Fatalf("expected ErrBodyTooLarge, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestReadSnippetTruncates(t *testing.T) {
	if got := ReadSnippet(bytes.NewReader([]byte("hello world")), 5); got != "hello" {
		t.Fatalf("expected truncated snippet, got %q", got)
	}
	if got := ReadSnippet(nil, 5); got != "" {
		t.Fatalf("expected empty snippet for nil reader, got %q", got)
	}
}
