package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"sync"
	"testing"
	"time"

	shiperrors "shipment/internal/errors"
	"shipment/internal/lines"
	"shipment/internal/protocol"
)

type recorder struct {
	mu      sync.Mutex
	signals []protocol.Signal
	data    []protocol.Record
	logs    []string
}

func (r *recorder) options() Options {
	opts := DefaultOptions()
	opts.Action = "test"
	opts.OnLifecycle = func(sig protocol.Signal) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.signals = append(r.signals, sig)
	}
	opts.OnData = func(rec protocol.Record) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.data = append(r.data, rec)
	}
	opts.OnLog = func(line string) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.logs = append(r.logs, line)
	}
	return opts
}

func (r *recorder) kinds() []protocol.SignalKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]protocol.SignalKind, 0, len(r.signals))
	for _, sig := range r.signals {
		kinds = append(kinds, sig.Kind)
	}
	return kinds
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.signals) + len(r.data) + len(r.logs)
}

func receiveAll(t *testing.T, tr *Tracker, lines ...string) {
	t.Helper()
	for _, line := range lines {
		if err := tr.ReceiveLine(line); err != nil {
			t.Fatalf("ReceiveLine(%q): %v", line, err)
		}
	}
}

func TestNonJSONLineGoesToLogReceiverOnly(t *testing.T) {
	rec := &recorder{}
	tr := New(rec.options())

	receiveAll(t, tr, "hello world")

	if !reflect.DeepEqual(rec.logs, []string{"hello world"}) {
		t.Fatalf("logs = %v", rec.logs)
	}
	if len(rec.data) != 0 || len(rec.signals) != 0 {
		t.Fatalf("unexpected callbacks: data=%v signals=%v", rec.data, rec.signals)
	}
}

func TestJSONWithoutContextIsLoggedRaw(t *testing.T) {
	rec := &recorder{}
	tr := New(rec.options())

	line := `{ "message": "no context" }`
	receiveAll(t, tr, line)

	if !reflect.DeepEqual(rec.logs, []string{line}) {
		t.Fatalf("logs = %v", rec.logs)
	}
	if len(rec.data) != 0 {
		t.Fatalf("unexpected data: %v", rec.data)
	}
}

func TestDataRecordDeliveredOnce(t *testing.T) {
	rec := &recorder{}
	tr := New(rec.options())

	receiveAll(t, tr, `{"c":"1","event":"tick"}`)

	if len(rec.data) != 1 {
		t.Fatalf("data callbacks = %d, want 1", len(rec.data))
	}
	if rec.data[0].Context != "1" {
		t.Fatalf("context = %q", rec.data[0].Context)
	}
	if len(rec.logs) != 0 || len(rec.signals) != 0 {
		t.Fatal("data line must not reach other receivers")
	}
	if tr.Result() != nil {
		t.Fatalf("non-root record must not set the result, got %s", tr.Result())
	}
}

func TestResultIsLastWriteWins(t *testing.T) {
	tr := New(DefaultOptions())

	receiveAll(t, tr,
		`{"c":"0","result":1}`,
		`{"c":"1","result":"child"}`,
		`{"c":"0","result":2}`,
		`{"c":"0","progress":0.5}`,
		`{"c":"0","result":{"final":true}}`,
	)
	tr.EndStream(nil)

	if got := string(tr.Result()); got != `{"final":true}` {
		t.Fatalf("result = %s", got)
	}
}

func TestResultNullOverwritesEarlierResult(t *testing.T) {
	tr := New(DefaultOptions())

	receiveAll(t, tr,
		`{"c":"0","result":1}`,
		`{"c":"0","result":null}`,
	)
	tr.EndStream(nil)

	if got := string(tr.Result()); got != "null" {
		t.Fatalf("result = %s, want null", got)
	}
}

func TestResultCaptureDisabled(t *testing.T) {
	rec := &recorder{}
	opts := rec.options()
	opts.CaptureResult = false
	tr := New(opts)

	receiveAll(t, tr, `{"c":"0","result":{"data":"HI!"}}`)

	if tr.Result() != nil {
		t.Fatalf("result = %s, want nil", tr.Result())
	}
	if len(rec.data) != 1 {
		t.Fatal("data receiver must still run")
	}
}

func TestScenarioSuccess(t *testing.T) {
	rec := &recorder{}
	tr := New(rec.options())

	receiveAll(t, tr, "SHIPMENT: ok")

	if !reflect.DeepEqual(rec.kinds(), []protocol.SignalKind{protocol.SignalSuccess}) {
		t.Fatalf("signals = %v", rec.kinds())
	}
	if len(rec.data) != 0 || len(rec.logs) != 0 {
		t.Fatal("lifecycle line must not reach data or log receivers")
	}
}

func TestScenarioStart(t *testing.T) {
	rec := &recorder{}
	tr := New(rec.options())

	receiveAll(t, tr, "SHIPMENT: start: build-123")

	if len(rec.signals) != 1 || rec.signals[0].Kind != protocol.SignalStart {
		t.Fatalf("signals = %v", rec.signals)
	}
	if rec.signals[0].Payload != "build-123" {
		t.Fatalf("payload = %q", rec.signals[0].Payload)
	}
}

func TestScenarioRootResult(t *testing.T) {
	rec := &recorder{}
	tr := New(rec.options())

	receiveAll(t, tr, `{"c":"0","result":{"data":"HI!"}}`)

	if len(rec.data) != 1 {
		t.Fatalf("data callbacks = %d", len(rec.data))
	}
	var result struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(tr.Result(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Data != "HI!" {
		t.Fatalf("result data = %q", result.Data)
	}
}

func TestScenarioRemoteError(t *testing.T) {
	rec := &recorder{}
	tr := New(rec.options())

	receiveAll(t, tr, `SHIPMENT: error: {"message":"something went wrong!"}`)
	tr.EndStream(nil)

	if !reflect.DeepEqual(rec.kinds(), []protocol.SignalKind{protocol.SignalError, protocol.SignalEnd}) {
		t.Fatalf("signals = %v", rec.kinds())
	}
	var remote *shiperrors.RemoteError
	if !errors.As(rec.signals[0].Err, &remote) || remote.Message != "something went wrong!" {
		t.Fatalf("error signal = %+v", rec.signals[0])
	}

	out, err := tr.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if out.Status != StatusFailed {
		t.Fatalf("status = %v", out.Status)
	}
	if !errors.As(out.Err, &remote) {
		t.Fatalf("outcome error = %v", out.Err)
	}
}

func TestLifecycleSignalsAreMonotonic(t *testing.T) {
	rec := &recorder{}
	tr := New(rec.options())

	receiveAll(t, tr,
		"SHIPMENT: start: one",
		"SHIPMENT: start: two",
		"SHIPMENT: ok",
		`SHIPMENT: error: {"message":"late"}`,
		"SHIPMENT: ok",
		"SHIPMENT: start: three",
	)
	tr.EndStream(nil)

	want := []protocol.SignalKind{protocol.SignalStart, protocol.SignalSuccess, protocol.SignalEnd}
	if !reflect.DeepEqual(rec.kinds(), want) {
		t.Fatalf("signals = %v, want %v", rec.kinds(), want)
	}
	if rec.signals[0].Payload != "one" {
		t.Fatalf("start payload = %q", rec.signals[0].Payload)
	}
	if len(rec.logs) != 0 || len(rec.data) != 0 {
		t.Fatal("dropped lifecycle lines must not fall through to other receivers")
	}
}

func TestUnrecognizedSentinelLineIsDropped(t *testing.T) {
	rec := &recorder{}
	tr := New(rec.options())

	receiveAll(t, tr, "SHIPMENT: progress: 40%", "SHIPMENTS are late")

	if rec.total() != 0 {
		t.Fatalf("expected no callbacks, got signals=%v data=%v logs=%v", rec.signals, rec.data, rec.logs)
	}
}

func TestEndStreamEmitsEndOnceAndRejectsLines(t *testing.T) {
	rec := &recorder{}
	tr := New(rec.options())

	tr.EndStream(nil)
	tr.EndStream(errors.New("second"))

	if !reflect.DeepEqual(rec.kinds(), []protocol.SignalKind{protocol.SignalEnd}) {
		t.Fatalf("signals = %v", rec.kinds())
	}
	if rec.signals[0].Err != nil {
		t.Fatalf("end error = %v, want nil", rec.signals[0].Err)
	}
	if err := tr.ReceiveLine("hello"); !errors.Is(err, shiperrors.ErrStreamEnded) {
		t.Fatalf("ReceiveLine after end = %v, want ErrStreamEnded", err)
	}
	if len(rec.logs) != 0 {
		t.Fatal("no receiver may run after end")
	}
	if !tr.Ended() {
		t.Fatal("tracker should report ended")
	}
}

func TestIncompleteRunOutcome(t *testing.T) {
	tr := New(Options{Action: "build"})
	receiveAll(t, tr, "SHIPMENT: start: x")
	tr.EndStream(nil)

	out, err := tr.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if out.Status != StatusIncomplete {
		t.Fatalf("status = %v", out.Status)
	}
	var incomplete *shiperrors.IncompleteRunError
	if !errors.As(out.Err, &incomplete) || incomplete.Action != "build" {
		t.Fatalf("outcome error = %v", out.Err)
	}
}

func TestReplayIsDeterministic(t *testing.T) {
	script := []string{
		"boot",
		"SHIPMENT: start: job",
		`{"c":"0","result":"a"}`,
		`{"c":"2","step":1}`,
		"SHIPMENT: weird",
		`{"c":"0","result":"b"}`,
		"SHIPMENT: ok",
	}

	run := func() (*recorder, *Tracker) {
		rec := &recorder{}
		tr := New(rec.options())
		if err := tr.Run(context.Background(), lines.FromStrings(script...)); err != nil {
			t.Fatalf("Run: %v", err)
		}
		return rec, tr
	}

	recA, trA := run()
	recB, trB := run()

	if string(trA.Result()) != string(trB.Result()) || string(trA.Result()) != `"b"` {
		t.Fatalf("results differ: %s vs %s", trA.Result(), trB.Result())
	}
	if !reflect.DeepEqual(recA.kinds(), recB.kinds()) {
		t.Fatalf("signals differ: %v vs %v", recA.kinds(), recB.kinds())
	}
}

func TestRunSucceeds(t *testing.T) {
	rec := &recorder{}
	tr := New(rec.options())

	err := tr.Run(context.Background(), lines.FromStrings(
		"SHIPMENT: start: build-123",
		"compiling",
		`{"c":"0","result":{"data":"HI!"}}`,
		"SHIPMENT: ok",
	))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	out, err := tr.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if out.Status != StatusSucceeded || out.Err != nil {
		t.Fatalf("outcome = %+v", out)
	}
	if string(out.Result) != `{"data":"HI!"}` {
		t.Fatalf("result = %s", out.Result)
	}
	want := []protocol.SignalKind{protocol.SignalStart, protocol.SignalSuccess, protocol.SignalEnd}
	if !reflect.DeepEqual(rec.kinds(), want) {
		t.Fatalf("signals = %v", rec.kinds())
	}
	if err := tr.Run(context.Background(), lines.FromStrings()); err == nil {
		t.Fatal("second Run should fail")
	}
}

type failingSource struct {
	lines []string
	err   error
}

func (s *failingSource) Next() (string, error) {
	if len(s.lines) == 0 {
		return "", s.err
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func TestRunReportsTransportError(t *testing.T) {
	rec := &recorder{}
	opts := rec.options()
	opts.URL = "http://example.test/build"
	tr := New(opts)

	boom := errors.New("connection reset")
	err := tr.Run(context.Background(), &failingSource{lines: []string{"SHIPMENT: start: x"}, err: boom})

	var transport *shiperrors.TransportError
	if !errors.As(err, &transport) || transport.Op != "read" || !errors.Is(err, boom) {
		t.Fatalf("Run error = %v", err)
	}

	out, _ := tr.Wait(context.Background())
	if out.Status != StatusIncomplete || !errors.Is(out.Err, boom) {
		t.Fatalf("outcome = %+v", out)
	}
	last := rec.signals[len(rec.signals)-1]
	if last.Kind != protocol.SignalEnd || !errors.As(last.Err, &transport) {
		t.Fatalf("end signal = %+v", last)
	}
}

func TestCancelStopsCallbacks(t *testing.T) {
	pr, pw := io.Pipe()
	started := make(chan struct{})

	rec := &recorder{}
	opts := rec.options()
	userStart := opts.OnLifecycle
	opts.OnLifecycle = func(sig protocol.Signal) {
		userStart(sig)
		if sig.Kind == protocol.SignalStart {
			close(started)
		}
	}
	opts.Abort = func() { _ = pr.CloseWithError(errors.New("aborted")) }
	tr := New(opts)

	runErr := make(chan error, 1)
	go func() {
		runErr <- tr.Run(context.Background(), lines.NewReader(pr, lines.Options{}))
	}()

	if _, err := io.WriteString(pw, "SHIPMENT: start: long\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	<-started

	tr.Cancel()
	seen := rec.total()

	if err := <-runErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if _, err := io.WriteString(pw, "SHIPMENT: ok\n"); err == nil {
		t.Fatal("write after cancel should fail")
	}
	if rec.total() != seen {
		t.Fatal("callbacks fired after Cancel returned")
	}

	out, err := tr.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if out.Status != StatusIncomplete || !errors.Is(out.Err, context.Canceled) {
		t.Fatalf("outcome = %+v", out)
	}
	kinds := rec.kinds()
	if kinds[len(kinds)-1] != protocol.SignalEnd {
		t.Fatalf("signals = %v", kinds)
	}
}

func TestCancelWithoutRunEndsStream(t *testing.T) {
	tr := New(DefaultOptions())
	tr.Cancel()

	select {
	case <-tr.Done():
	default:
		t.Fatal("Done should be closed after Cancel")
	}
	if err := tr.ReceiveLine("x"); !errors.Is(err, shiperrors.ErrStreamEnded) {
		t.Fatalf("ReceiveLine after Cancel = %v", err)
	}
}

func TestContextCancellationAbortsRun(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	opts := DefaultOptions()
	opts.Abort = func() { _ = pr.Close() }
	tr := New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() {
		runErr <- tr.Run(ctx, lines.NewReader(pr, lines.Options{}))
	}()
	cancel()

	select {
	case err := <-runErr:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestWaitHonorsContext(t *testing.T) {
	tr := New(DefaultOptions())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	out, err := tr.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait error = %v", err)
	}
	if out.Status != StatusRunning {
		t.Fatalf("status = %v", out.Status)
	}
}

func TestVerifyKeyFiltersForeignLifecycleLines(t *testing.T) {
	rec := &recorder{}
	opts := rec.options()
	opts.VerifyKey = "k1"
	tr := New(opts)

	receiveAll(t, tr, "SHIPMENT: ok", "SHIPMENT-k2: ok", "SHIPMENT-k1: ok")

	if !reflect.DeepEqual(rec.kinds(), []protocol.SignalKind{protocol.SignalSuccess}) {
		t.Fatalf("signals = %v", rec.kinds())
	}
}
