package id

import (
	"context"
	"strings"
	"testing"
)

func TestWithIDsAndFromContext(t *testing.T) {
	ctx := WithInvocationID(context.Background(), "inv-test")
	ctx = WithBatchID(ctx, "batch-test")

	if got := InvocationIDFromContext(ctx); got != "inv-test" {
		t.Fatalf("expected invocation inv-test, got %s", got)
	}
	if got := BatchIDFromContext(ctx); got != "batch-test" {
		t.Fatalf("expected batch batch-test, got %s", got)
	}
	if got := BatchIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected no batch id, got %s", got)
	}

	// empty values are ignored
	ctx = WithInvocationID(ctx, "")
	if got := InvocationIDFromContext(ctx); got != "inv-test" {
		t.Fatalf("expected stored invocation to remain, got %s", got)
	}
}

func TestEnsureInvocationID(t *testing.T) {
	ctx, generated := EnsureInvocationID(context.Background(), func() string { return "inv-123" })
	if generated != "inv-123" {
		t.Fatalf("expected generated id inv-123, got %s", generated)
	}

	ctx, reused := EnsureInvocationID(ctx, func() string { return "inv-new" })
	if reused != "inv-123" {
		t.Fatalf("expected existing id to be reused, got %s", reused)
	}
	if InvocationIDFromContext(ctx) != "inv-123" {
		t.Fatalf("context lost invocation id")
	}
}

func TestNewInvocationIDIsPrefixedAndUnique(t *testing.T) {
	a, b := NewInvocationID(), NewInvocationID()
	if !strings.HasPrefix(a, "inv-") {
		t.Fatalf("expected inv- prefix, got %s", a)
	}
	if a == b {
		t.Fatalf("expected unique ids, got %s twice", a)
	}
	if !strings.HasPrefix(NewBatchID(), "batch-") {
		t.Fatalf("expected batch- prefix")
	}
	if NewVerifyKey() == NewVerifyKey() {
		t.Fatalf("expected unique verify keys")
	}
}
