package logger

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey struct{}

// ContextWithLogger returns ctx carrying l.
func ContextWithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored by ContextWithLogger, or a no-op
// logger so callers never nil-check.
func FromContext(ctx context.Context) *zap.Logger {
	l, _ := ctx.Value(ctxKey{}).(*zap.Logger)
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// WithTask returns a child logger carrying the task fields the worker logs
// on every line.
func WithTask(l *zap.Logger, id int64, collection, kind string) *zap.Logger {
	return l.With(
		zap.Int64("task_id", id),
		zap.String("collection", collection),
		zap.String("kind", kind),
	)
}
