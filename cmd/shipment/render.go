package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"golang.org/x/term"

	shiperrors "shipment/internal/errors"
	"shipment/internal/protocol"
)

var (
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
	bold  = color.New(color.Bold).SprintFunc()
)

// isTTY reports whether w is a terminal.
func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// renderer prints the stream of one or more invocations. Lines from
// concurrent invocations are serialized.
type renderer struct {
	mu    sync.Mutex
	out   io.Writer
	label string

	start   *color.Color
	success *color.Color
	failure *color.Color
	data    *color.Color
	log     *color.Color
}

func newRenderer(out io.Writer, colored bool) *renderer {
	r := &renderer{
		out:     out,
		start:   color.New(color.FgCyan),
		success: color.New(color.FgGreen, color.Bold),
		failure: color.New(color.FgRed, color.Bold),
		data:    color.New(color.FgBlue),
		log:     color.New(color.FgHiBlack),
	}
	if !colored {
		for _, c := range []*color.Color{r.start, r.success, r.failure, r.data, r.log} {
			c.DisableColor()
		}
	}
	return r
}

func (r *renderer) withLabel(label string) *renderer {
	return &renderer{
		out:     r.out,
		label:   label,
		start:   r.start,
		success: r.success,
		failure: r.failure,
		data:    r.data,
		log:     r.log,
	}
}

func (r *renderer) printf(c *color.Color, format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prefix := ""
	if r.label != "" {
		prefix = "[" + r.label + "] "
	}
	fmt.Fprintln(r.out, c.Sprint(prefix+fmt.Sprintf(format, args...)))
}

func (r *renderer) Lifecycle(sig protocol.Signal) {
	switch sig.Kind {
	case protocol.SignalStart:
		r.printf(r.start, "> start %s", sig.Payload)
	case protocol.SignalSuccess:
		r.printf(r.success, "+ success")
	case protocol.SignalError:
		r.printf(r.failure, "x error: %s", shiperrors.FormatForUser(sig.Err))
	case protocol.SignalEnd:
		if sig.Err != nil {
			r.printf(r.failure, "x stream ended: %v", sig.Err)
		}
	}
}

func (r *renderer) Data(rec protocol.Record) {
	r.printf(r.data, "  [%s] %s", rec.Context, rec.Raw)
}

func (r *renderer) Log(line string) {
	r.printf(r.log, "  %s", line)
}

// prettyJSON indents raw, falling back to the raw text.
func prettyJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
