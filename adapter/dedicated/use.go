package dedicated

import (
	"fmt"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xloop"
)

// Use builds a Bus on a dedicated loop and sets it as the default.
// The loop is not created yet; call Create on the returned bus before posting.
//
// Example:
//
//	bus := dedicated.Use(dedicated.Config{
//	    QueueSize:  64,
//	    WorkerName: "re_events",
//	},
//	    dedicated.WithLogger(logger),
//	    dedicated.WithObserver(observer),
//	)
//	if err := bus.Create(ctx); err != nil { ... }
func Use(cfg Config, opts ...Option) *xloop.Bus {
	bb := xloop.NewBusBuilder()
	for _, o := range opts {
		if o != nil {
			o(bb)
		}
	}
	bb.WithLoopInstance(New(cfg, bb.Logger()))

	bus, err := bb.Build()
	if err != nil {
		panic(fmt.Errorf("dedicated.Use: %w", err))
	}

	xloop.SetDefault(bus)
	return bus
}

// Option configures the xloop.Bus when calling Use.
type Option func(*xloop.BusBuilder)

// WithLogger injects a custom xlog logger, shared by the bus and the loop.
func WithLogger(l *xlog.Logger) Option {
	return func(b *xloop.BusBuilder) { b.WithLogger(l) }
}

// WithClock injects a custom xclock clock.
func WithClock(c xclock.Clock) Option {
	return func(b *xloop.BusBuilder) { b.WithClock(c) }
}

// WithCodec selects a codec by name (default: "json").
func WithCodec(name string) Option {
	return func(b *xloop.BusBuilder) { b.WithCodec(name) }
}

// WithMiddleware adds handler middlewares.
func WithMiddleware(mw ...xloop.Middleware) Option {
	return func(b *xloop.BusBuilder) { b.WithMiddleware(mw...) }
}

// WithObserver attaches observers for lifecycle events.
func WithObserver(obs ...xloop.Observer) Option {
	return func(b *xloop.BusBuilder) { b.WithObserver(obs...) }
}

// WithObserverPool configures async observer pool for non-blocking notifications.
func WithObserverPool(workers, bufferSize int) Option {
	return func(b *xloop.BusBuilder) { b.WithObserverPool(workers, bufferSize) }
}

// WithRetry tunes the Forever policy: each attempt waits up to slice, then pauses.
func WithRetry(slice, pause time.Duration) Option {
	return func(b *xloop.BusBuilder) { b.WithRetrySlice(slice).WithRetryPause(pause) }
}
