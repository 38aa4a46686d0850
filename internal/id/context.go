package id

import "context"

type contextKey string

const (
	invocationKey contextKey = "shipment_invocation_id"
	batchKey      contextKey = "shipment_batch_id"
)

// WithInvocationID stores the invocation identifier on the context.
func WithInvocationID(ctx context.Context, invocationID string) context.Context {
	return withValue(ctx, invocationKey, invocationID)
}

// InvocationIDFromContext extracts the invocation identifier from context.
func InvocationIDFromContext(ctx context.Context) string {
	return valueOf(ctx, invocationKey)
}

// WithBatchID marks ctx as belonging to a batch of invocations.
func WithBatchID(ctx context.Context, batchID string) context.Context {
	return withValue(ctx, batchKey, batchID)
}

func BatchIDFromContext(ctx context.Context) string {
	return valueOf(ctx, batchKey)
}

// EnsureInvocationID returns ctx carrying an invocation id, generating one
// with gen when none is present.
func EnsureInvocationID(ctx context.Context, gen func() string) (context.Context, string) {
	if existing := InvocationIDFromContext(ctx); existing != "" {
		return ctx, existing
	}
	if gen == nil {
		gen = NewInvocationID
	}
	generated := gen()
	return WithInvocationID(ctx, generated), generated
}

func withValue(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func valueOf(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(key).(string)
	return value
}
