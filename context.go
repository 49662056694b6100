package xloop

import (
	"context"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// handlerCtxKey identifies a bus dependency carried by the dispatch context.
type handlerCtxKey uint8

const (
	codecKey handlerCtxKey = iota + 1
	loggerKey
	clockKey
)

func valueFrom[T comparable](ctx context.Context, key handlerCtxKey) (T, bool) {
	var zero T
	v, ok := ctx.Value(key).(T)
	if !ok || v == zero {
		return zero, false
	}
	return v, true
}

// CodecFromContext returns the bus Codec inside a handler.
func CodecFromContext(ctx context.Context) (Codec, bool) {
	return valueFrom[Codec](ctx, codecKey)
}

// LoggerFromContext returns the bus logger inside a handler.
func LoggerFromContext(ctx context.Context) (*xlog.Logger, bool) {
	return valueFrom[*xlog.Logger](ctx, loggerKey)
}

// ClockFromContext returns the bus clock inside a handler.
func ClockFromContext(ctx context.Context) (xclock.Clock, bool) {
	return valueFrom[xclock.Clock](ctx, clockKey)
}

// InjectAll builds the context every handler of a bus receives. Nil
// dependencies are left out.
func InjectAll(ctx context.Context, codec Codec, logger *xlog.Logger, clock xclock.Clock) context.Context {
	if codec != nil {
		ctx = context.WithValue(ctx, codecKey, codec)
	}
	if logger != nil {
		ctx = context.WithValue(ctx, loggerKey, logger)
	}
	if clock != nil {
		ctx = context.WithValue(ctx, clockKey, clock)
	}
	return ctx
}
