// Package tracker demultiplexes the line stream of one action invocation
// into lifecycle signals, data records and log lines.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	shiperrors "shipment/internal/errors"
	"shipment/internal/lines"
	"shipment/internal/logging"
	"shipment/internal/observability"
	"shipment/internal/protocol"
)

// Status summarizes how an invocation finished.
type Status int

const (
	StatusRunning Status = iota
	StatusSucceeded
	StatusFailed
	// StatusIncomplete means the stream ended without success or error.
	StatusIncomplete
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "success"
	case StatusFailed:
		return "error"
	case StatusIncomplete:
		return "incomplete"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome is the final state of an invocation.
type Outcome struct {
	Status Status
	// Result is the last captured root result, nil when none arrived.
	Result json.RawMessage
	// Err is the remote error for StatusFailed and an IncompleteRunError
	// for StatusIncomplete.
	Err error
}

// Options configures a Tracker. Nil callbacks are no-ops.
type Options struct {
	// Action names the invocation in logs, metrics and errors.
	Action string
	// URL of the stream, used in transport errors.
	URL string

	VerifyKey      string
	CaptureResult  bool
	RepairPayloads bool

	OnLifecycle func(protocol.Signal)
	OnData      func(protocol.Record)
	OnLog       func(line string)

	Logger  logging.Logger
	Metrics *observability.MetricsCollector

	// Abort closes the underlying transport. Cancel and context
	// cancellation call it to unblock a pending read.
	Abort func()
}

// DefaultOptions enables result capture.
func DefaultOptions() Options {
	return Options{CaptureResult: true}
}

// Tracker consumes the lines of one invocation in arrival order. Receivers
// run synchronously on the goroutine delivering lines.
type Tracker struct {
	opts   Options
	parser *protocol.Parser
	logger logging.Logger

	mu        sync.Mutex
	result    json.RawMessage
	started   bool
	terminal  protocol.SignalKind
	remoteErr error
	ended     bool
	cancelled bool
	running   bool
	outcome   Outcome
	abortOnce sync.Once
	done      chan struct{}
	runDone   chan struct{}
	lineCtx   context.Context
}

// New creates an active tracker.
func New(opts Options) *Tracker {
	return &Tracker{
		opts: opts,
		parser: protocol.NewParser(protocol.ParserOptions{
			VerifyKey:      opts.VerifyKey,
			RepairPayloads: opts.RepairPayloads,
		}),
		logger:  logging.OrNop(opts.Logger),
		done:    make(chan struct{}),
		runDone: make(chan struct{}),
		lineCtx: context.Background(),
	}
}

// ReceiveLine classifies and dispatches one line. It returns
// ErrStreamEnded, without invoking any receiver, once the stream has ended.
func (t *Tracker) ReceiveLine(line string) error {
	t.mu.Lock()
	if t.ended || t.cancelled {
		t.mu.Unlock()
		return shiperrors.ErrStreamEnded
	}
	ctx := t.lineCtx
	t.mu.Unlock()

	if protocol.IsLifecycleLine(line) {
		sig, ok := t.parser.Parse(line)
		if !ok {
			t.opts.Metrics.RecordLine(ctx, observability.LineKindDropped)
			t.logger.Debug("Dropping unrecognized lifecycle line for %s: %q", t.opts.Action, line)
			return nil
		}
		t.opts.Metrics.RecordLine(ctx, observability.LineKindLifecycle)
		t.emit(sig)
		return nil
	}

	rec := protocol.ClassifyRecord(line)
	if rec.Kind == protocol.RecordLog {
		t.opts.Metrics.RecordLine(ctx, observability.LineKindLog)
		if t.opts.OnLog != nil {
			t.opts.OnLog(rec.Raw)
		}
		return nil
	}

	t.opts.Metrics.RecordLine(ctx, observability.LineKindData)
	if t.opts.CaptureResult && rec.IsRoot() {
		if result, ok := rec.Result(); ok {
			t.mu.Lock()
			t.result = result
			t.mu.Unlock()
		}
	}
	if t.opts.OnData != nil {
		t.opts.OnData(rec)
	}
	return nil
}

// emit forwards a parsed signal unless it would break the
// Start -> (Success | Error) order.
func (t *Tracker) emit(sig protocol.Signal) {
	t.mu.Lock()
	switch {
	case t.terminal != 0:
		t.mu.Unlock()
		t.logger.Warn("Dropping %s signal for %s after %s", sig.Kind, t.opts.Action, t.terminal)
		return
	case sig.Kind == protocol.SignalStart && t.started:
		t.mu.Unlock()
		t.logger.Warn("Dropping duplicate start signal for %s", t.opts.Action)
		return
	case sig.Kind == protocol.SignalStart:
		t.started = true
	case sig.Kind.Terminal():
		t.terminal = sig.Kind
		if sig.Kind == protocol.SignalError {
			t.remoteErr = sig.Err
		}
	}
	t.mu.Unlock()

	if t.opts.OnLifecycle != nil {
		t.opts.OnLifecycle(sig)
	}
}

// EndStream marks the stream finished and emits the end signal once.
// err is the transport error that terminated the stream, nil on a clean
// end. Later calls are ignored.
func (t *Tracker) EndStream(err error) {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	t.outcome = t.outcomeLocked(err)
	t.mu.Unlock()

	defer close(t.done)

	if t.outcome.Status == StatusIncomplete {
		t.logger.Debug("Stream for %s ended without a terminal signal: %v", t.opts.Action, err)
	}
	if t.opts.OnLifecycle != nil {
		t.opts.OnLifecycle(protocol.Signal{Kind: protocol.SignalEnd, Err: err})
	}
}

func (t *Tracker) outcomeLocked(err error) Outcome {
	out := Outcome{Result: t.result}
	switch t.terminal {
	case protocol.SignalSuccess:
		out.Status = StatusSucceeded
	case protocol.SignalError:
		out.Status = StatusFailed
		out.Err = t.remoteErr
	default:
		out.Status = StatusIncomplete
		out.Err = &shiperrors.IncompleteRunError{Action: t.opts.Action, Err: err}
	}
	return out
}

// Run reads lines from src until it is exhausted, fails or ctx is done,
// then ends the stream. A read failure is reported as a TransportError.
// Run must be called at most once.
func (t *Tracker) Run(ctx context.Context, src lines.Source) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return errors.New("tracker: Run called twice")
	}
	t.running = true
	t.lineCtx = ctx
	t.mu.Unlock()
	defer close(t.runDone)

	stop := context.AfterFunc(ctx, t.abort)
	defer stop()

	for {
		line, err := src.Next()
		if err != nil {
			endErr := t.readError(ctx, err)
			t.EndStream(endErr)
			return endErr
		}
		if err := t.ReceiveLine(line); err != nil {
			if errors.Is(err, shiperrors.ErrStreamEnded) {
				endErr := t.readError(ctx, context.Canceled)
				t.EndStream(endErr)
				return endErr
			}
			return err
		}
	}
}

func (t *Tracker) readError(ctx context.Context, err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	if ctxErr := context.Cause(ctx); ctxErr != nil {
		return ctxErr
	}
	if t.isCancelled() {
		return context.Canceled
	}
	return &shiperrors.TransportError{Op: "read", URL: t.opts.URL, Err: err}
}

func (t *Tracker) isCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

func (t *Tracker) abort() {
	t.abortOnce.Do(func() {
		if t.opts.Abort != nil {
			t.opts.Abort()
		}
	})
}

// Cancel aborts the transport and waits until no receiver can fire again.
// When Run is not in use the stream is ended directly. Cancel must not be
// called from a receiver.
func (t *Tracker) Cancel() {
	t.mu.Lock()
	t.cancelled = true
	running := t.running
	t.mu.Unlock()

	t.abort()
	if running {
		<-t.runDone
		return
	}
	t.EndStream(context.Canceled)
}

// Result returns the last captured root result, or nil. The value may
// still change until the stream ends.
func (t *Tracker) Result() json.RawMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// Ended reports whether the end signal has been emitted.
func (t *Tracker) Ended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended
}

// Done is closed after the end signal has been delivered.
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the stream ends or ctx is done.
func (t *Tracker) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.outcome, nil
	case <-ctx.Done():
		return Outcome{Status: StatusRunning}, ctx.Err()
	}
}
