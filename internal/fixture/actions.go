package fixture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultActions returns the demo actions served by NewDefault.
//
//	to-upper  {message}  -> result {"data": MESSAGE}
//	echo      any        -> result args
//	fail      {message?} -> lifecycle error
//	progress  {steps}    -> child-context records, then a result
//	slow      {}         -> ticks until the client disconnects
//	noisy     {}         -> unknown lifecycle verbs and JSON without context
func DefaultActions() map[string]ActionSpec {
	return map[string]ActionSpec{
		"to-upper": {Description: "Upper-case args.message", Handler: toUpper},
		"echo":     {Description: "Return the arguments", Handler: echo},
		"fail":     {Description: "Always fail", Handler: fail},
		"progress": {Description: "Report progress in a child context", Handler: progress},
		"slow":     {Description: "Stream until cancelled", Handler: slow},
		"noisy":    {Description: "Emit lines the client must ignore or log", Handler: noisy},
	}
}

func toUpper(_ context.Context, w *StreamWriter, args map[string]any) error {
	message, _ := args["message"].(string)
	if err := w.Start("to-upper"); err != nil {
		return err
	}
	if err := w.Log("upper-casing %d bytes", len(message)); err != nil {
		return err
	}
	if err := w.Result(map[string]any{"data": strings.ToUpper(message)}); err != nil {
		return err
	}
	return w.Success()
}

func echo(_ context.Context, w *StreamWriter, args map[string]any) error {
	if err := w.Result(args); err != nil {
		return err
	}
	return w.Success()
}

func fail(_ context.Context, w *StreamWriter, args map[string]any) error {
	message, _ := args["message"].(string)
	if message == "" {
		message = "something went wrong!"
	}
	if err := w.Start("fail"); err != nil {
		return err
	}
	return errors.New(message)
}

func progress(_ context.Context, w *StreamWriter, args map[string]any) error {
	steps := 3
	if n, ok := args["steps"].(float64); ok && n > 0 {
		steps = int(n)
	}
	if err := w.Start(fmt.Sprintf("progress:%d", steps)); err != nil {
		return err
	}
	for i := 1; i <= steps; i++ {
		if err := w.Emit("1", map[string]any{"step": i, "of": steps}); err != nil {
			return err
		}
		if err := w.Result(i); err != nil {
			return err
		}
	}
	return w.Success()
}

func slow(ctx context.Context, w *StreamWriter, _ map[string]any) error {
	if err := w.Start("slow"); err != nil {
		return err
	}
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.Log("tick %d", i); err != nil {
				return nil
			}
		}
	}
}

func noisy(_ context.Context, w *StreamWriter, _ map[string]any) error {
	lines := []string{
		w.prefix + "progress: 50%",
		`{"level":"info","msg":"json without context"}`,
		"",
		"plain text",
	}
	for _, line := range lines {
		if err := w.Line(line); err != nil {
			return err
		}
	}
	if err := w.Result("quiet"); err != nil {
		return err
	}
	return w.Success()
}
