package xloop

import (
	"context"
	"fmt"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// RecoveryMiddleware prevents panics from killing the dispatch worker and converts them into errors.
func RecoveryMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, ev *Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
				}
			}()
			return next(ctx, ev)
		}
	}
}

// SlowHandlerMiddleware warns when a handler holds the dispatch worker longer
// than threshold. Handlers share one worker, so a slow one delays every other
// delivery and eventually throttles producers posting with Forever.
func SlowHandlerMiddleware(threshold time.Duration, logger *xlog.Logger) Middleware {
	if threshold <= 0 {
		return func(next Handler) Handler { return next }
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, ev *Event) error {
			clk, ok := ClockFromContext(ctx)
			if !ok {
				clk = xclock.Default()
			}
			start := clk.Now()
			err := next(ctx, ev)
			if d := clk.Since(start); d > threshold {
				lg := logger
				if lg == nil {
					lg, _ = LoggerFromContext(ctx)
				}
				if lg != nil {
					lg.Warn().
						Str("category", string(ev.Category)).
						Str("id", ev.ID.String()).
						Dur("took", d).
						Dur("threshold", threshold).
						Msg("xloop: slow event handler")
				}
			}
			return err
		}
	}
}

// Chain composes middlewares around a handler in order.
func Chain(h Handler, mws ...Middleware) Handler {
	if len(mws) == 0 {
		return h
	}
	wrapped := h
	// Apply in reverse so that first middleware wraps last.
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		wrapped = mws[i](wrapped)
	}
	return wrapped
}
