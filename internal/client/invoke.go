package client

import (
	"context"
	"encoding/json"
	"fmt"

	"shipment/internal/tracker"
)

// Invoke calls action and waits for it to finish. It returns the captured
// root result (nil when the action produced none) on success, the
// *errors.RemoteError on a remote failure, and an *errors.IncompleteRunError
// when the stream ended without either. If ctx is done first the call is
// cancelled.
func (c *Client) Invoke(ctx context.Context, action string, args any, opts ...CallOption) (json.RawMessage, error) {
	tr, err := c.Call(ctx, action, args, opts...)
	if err != nil {
		return nil, err
	}
	return awaitResult(ctx, tr)
}

// InvokeInto calls action and decodes its result into out.
func (c *Client) InvokeInto(ctx context.Context, action string, args any, out any, opts ...CallOption) error {
	result, err := c.Invoke(ctx, action, args, opts...)
	if err != nil {
		return err
	}
	if result == nil {
		return fmt.Errorf("action %q returned no result", action)
	}
	if err := json.Unmarshal(result, out); err != nil {
		return fmt.Errorf("decode result of %s: %w", action, err)
	}
	return nil
}

func awaitResult(ctx context.Context, tr *tracker.Tracker) (json.RawMessage, error) {
	out, err := tr.Wait(ctx)
	if err != nil {
		tr.Cancel()
		return nil, err
	}
	if out.Status != tracker.StatusSucceeded {
		return nil, out.Err
	}
	return out.Result, nil
}
