package client

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/errgroup"

	"shipment/internal/id"
)

const defaultBatchConcurrency = 4

// Request is one invocation of a batch.
type Request struct {
	Action string
	Args   any
}

// Response is the outcome of one batch request, in request order.
type Response struct {
	Action       string
	BatchID      string
	InvocationID string
	Result       json.RawMessage
	Err          error
	Duration     time.Duration
}

// BatchOptions configures InvokeAll.
type BatchOptions struct {
	// Concurrency bounds the number of open streams. Zero selects a default.
	Concurrency int
	// FailFast cancels outstanding invocations after the first failure.
	FailFast bool
}

// InvokeAll runs requests concurrently, each on its own stream and tracker.
// All requests share one batch id, taken from ctx or generated.
// Per-request failures are reported in the responses; the returned error is
// the first failure when FailFast is set, or the context error.
func (c *Client) InvokeAll(ctx context.Context, requests []Request, opts BatchOptions, callOpts ...CallOption) ([]Response, error) {
	limit := opts.Concurrency
	if limit <= 0 {
		limit = defaultBatchConcurrency
	}

	batchID := id.BatchIDFromContext(ctx)
	if batchID == "" {
		batchID = id.NewBatchID()
	}
	g, gctx := errgroup.WithContext(id.WithBatchID(ctx, batchID))
	g.SetLimit(limit)

	responses := make([]Response, len(requests))
	for i, req := range requests {
		g.Go(func() error {
			invocationID := id.NewInvocationID()
			callCtx := id.WithInvocationID(gctx, invocationID)

			started := time.Now()
			result, err := c.Invoke(callCtx, req.Action, req.Args, callOpts...)
			responses[i] = Response{
				Action:       req.Action,
				BatchID:      batchID,
				InvocationID: invocationID,
				Result:       result,
				Err:          err,
				Duration:     time.Since(started),
			}
			if err != nil && opts.FailFast {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return responses, err
	}
	return responses, ctx.Err()
}
