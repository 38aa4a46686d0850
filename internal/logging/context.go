package logging

import (
	"context"

	"shipment/internal/id"
)

// WithInvocationID returns a logger that tags log lines with an invocation id.
func WithInvocationID(logger Logger, invocationID string) Logger {
	if IsNil(logger) {
		return Nop()
	}
	if invocationID == "" {
		return logger
	}
	return &invocationLogger{logger: logger, invocationID: invocationID}
}

// FromContext returns a logger tagged with the invocation id found in ctx,
// qualified by the batch id when the invocation is part of a batch.
func FromContext(ctx context.Context, logger Logger) Logger {
	invocationID := id.InvocationIDFromContext(ctx)
	if batchID := id.BatchIDFromContext(ctx); batchID != "" && invocationID != "" {
		invocationID = batchID + " " + invocationID
	}
	return WithInvocationID(logger, invocationID)
}

type invocationLogger struct {
	logger       Logger
	invocationID string
}

func (l *invocationLogger) Debug(format string, args ...any) {
	l.logger.Debug(l.prefix(format), args...)
}

func (l *invocationLogger) Info(format string, args ...any) {
	l.logger.Info(l.prefix(format), args...)
}

func (l *invocationLogger) Warn(format string, args ...any) {
	l.logger.Warn(l.prefix(format), args...)
}

func (l *invocationLogger) Error(format string, args ...any) {
	l.logger.Error(l.prefix(format), args...)
}

func (l *invocationLogger) prefix(format string) string {
	return "[" + l.invocationID + "] " + format
}
