package shared

import (
	"fmt"

	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xloop"
)

// Use builds a Bus on the shared loop and sets it as the default.
// Call Create on the returned bus before posting.
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
		panic(fmt.Errorf("shared.Use: %w", err))
	}
	xloop.SetDefault(bus)
	return bus
}

// Option configures the xloop.Bus when calling Use.
type Option func(*xloop.BusBuilder)

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(b *xloop.BusBuilder) { b.WithLogger(l) }
}

// WithMiddleware adds handler middlewares.
func WithMiddleware(mw ...xloop.Middleware) Option {
	return func(b *xloop.BusBuilder) { b.WithMiddleware(mw...) }
}

// WithObserver attaches observers for lifecycle events.
func WithObserver(obs ...xloop.Observer) Option {
	return func(b *xloop.BusBuilder) { b.WithObserver(obs...) }
}
