package logging

import (
	"context"

	"go.uber.org/zap"
)

var contextKey = &struct{}{}

func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, contextKey, logger)
}

// FromContext falls back to the global logger so callers never get nil.
func FromContext(ctx context.Context, fields ...zap.Field) *zap.Logger {
	var res *zap.Logger
	if logger, ok := ctx.Value(contextKey).(*zap.Logger); ok {
		res = logger
	} else {
		res = zap.L()
	}
	if len(fields) == 0 {
		return res
	}
	return res.With(fields...)
}

func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	return WithLogger(ctx, FromContext(ctx, fields...))
}
