package xloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
	"go.uber.org/multierr"
)

var _ HealthChecker = (*Bus)(nil)

// Bus is the central Facade posting and dispatching events through a Loop strategy.
type Bus struct {
	loop         Loop
	codec        Codec
	clock        xclock.Clock
	logger       *xlog.Logger
	middlewares  []Middleware
	retrySlice   time.Duration
	retryPause   time.Duration
	observerPool *ObserverPool
	observersMu  sync.RWMutex
	observers    []Observer
	baseCtx      context.Context
	metrics      *busMetrics
	closed       atomic.Bool
	closeOnce    sync.Once
	done         chan struct{}
}

// busMetrics uses lock-free atomics for telemetry.
type busMetrics struct {
	postCount     atomic.Uint64
	postFailures  atomic.Uint64
	postRetries   atomic.Uint64
	dispatchCount atomic.Uint64
	handlerErrors atomic.Uint64
	dispatchNs    atomic.Int64
}

// Codec returns the configured codec (Strategy).
func (b *Bus) Codec() Codec { return b.codec }

// Loop returns the configured loop (Strategy).
func (b *Bus) Loop() Loop { return b.loop }

// Create allocates the dedicated loop or obtains the shared one. Idempotent.
func (b *Bus) Create(ctx context.Context) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	if err := b.loop.Create(ctx); err != nil {
		b.logger.Error().Err(err).Str("loop", b.loop.Name()).Msg("xloop: failed to create event loop")
		b.notifyAsync(BusEvent{Type: Error, Loop: b.loop.Name(), Err: err})
		return err
	}
	b.notifyAsync(BusEvent{Type: LoopCreated, Loop: b.loop.Name()})
	return nil
}

// Destroy releases the loop if the bus owns it. Pending events are delivered first.
func (b *Bus) Destroy(ctx context.Context) error {
	if err := b.loop.Destroy(ctx); err != nil {
		b.logger.Error().Err(err).Str("loop", b.loop.Name()).Msg("xloop: failed to destroy event loop")
		return err
	}
	b.notifyAsync(BusEvent{Type: LoopDestroyed, Loop: b.loop.Name()})
	return nil
}

// Register binds handler to (cat, id). AnyCategory and AnyID act as wildcards.
// Handlers registered for the same key run in registration order.
func (b *Bus) Register(cat Category, id EventID, handler Handler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrBusClosed
	}
	if handler == nil {
		return nil, ErrInvalidHandler
	}
	if err := ValidKey(cat, id); err != nil {
		b.logger.Error().Err(err).Str("category", string(cat)).Str("id", id.String()).Msg("xloop: failed to register event handler")
		return nil, err
	}

	// Always enable panic recovery first for dependability
	base := RecoveryMiddleware()(handler)
	wh := Chain(base, b.middlewares...)

	sub, err := b.loop.Register(cat, id, func(ev *Event) { b.dispatch(wh, ev) })
	if err != nil {
		b.logger.Error().Err(err).Str("category", string(cat)).Str("id", id.String()).Msg("xloop: failed to register event handler")
		return nil, err
	}
	return sub, nil
}

// Unregister removes a registration. Unknown or already removed registrations are a no-op.
func (b *Bus) Unregister(sub Subscription) error {
	if sub == nil {
		return nil
	}
	if err := sub.Close(); err != nil {
		b.logger.Error().Err(err).Msg("xloop: failed to unregister event handler")
		return err
	}
	return nil
}

func (b *Bus) dispatch(h Handler, ev *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.handlerErrors.Add(1)
			b.logger.Warn().Str("category", string(ev.Category)).Str("id", ev.ID.String()).Msg("xloop: handler panic (recovered)")
		}
	}()

	b.metrics.dispatchCount.Add(1)
	b.notifyAsync(BusEvent{Type: DispatchStart, Loop: b.loop.Name(), Category: ev.Category, ID: ev.ID})

	start := b.clock.Now()
	err := h(b.baseCtx, ev)
	duration := b.clock.Since(start)
	b.recordDispatchTime(duration.Nanoseconds())

	if err != nil {
		b.metrics.handlerErrors.Add(1)
		b.logger.Warn().Err(err).Str("category", string(ev.Category)).Str("id", ev.ID.String()).Msg("xloop: event handler failed")
	}
	b.notifyAsync(BusEvent{
		Type:     DispatchDone,
		Loop:     b.loop.Name(),
		Category: ev.Category,
		ID:       ev.ID,
		Duration: duration,
		Err:      err,
	})
}

// GetMetrics returns current bus metrics.
func (b *Bus) GetMetrics() Metrics {
	m := Metrics{
		Posted:            b.metrics.postCount.Load(),
		PostFailures:      b.metrics.postFailures.Load(),
		PostRetries:       b.metrics.postRetries.Load(),
		Dispatched:        b.metrics.dispatchCount.Load(),
		HandlerErrors:     b.metrics.handlerErrors.Load(),
		AvgDispatchTimeMs: float64(b.metrics.dispatchNs.Load()) / 1e6,
	}
	if b.observerPool != nil {
		m.EventsDropped = b.observerPool.Stats().Dropped
	}
	return m
}

// Health reports bus health.
func (b *Bus) Health(_ context.Context) HealthStatus {
	if b.closed.Load() {
		return HealthStatus{
			Status:    "unhealthy",
			Loop:      b.loop.Name(),
			Timestamp: b.clock.Now(),
			Message:   "bus is closed",
		}
	}

	metrics := b.GetMetrics()
	status := "healthy"

	// Degraded if more than 5% of posts fail
	if metrics.PostFailures > 0 {
		total := metrics.Posted + metrics.PostFailures
		if float64(metrics.PostFailures)/float64(total) > 0.05 {
			status = "degraded"
		}
	}

	return HealthStatus{
		Status:    status,
		Loop:      b.loop.Name(),
		Metrics:   metrics,
		Timestamp: b.clock.Now(),
	}
}

// Close destroys the loop, stops the observer pool and fails every later call.
// Producers blocked in a Forever post are released with ErrBusClosed.
func (b *Bus) Close(ctx context.Context) error {
	var closeErr error

	b.closeOnce.Do(func() {
		b.closed.Store(true)
		close(b.done)

		if err := b.loop.Destroy(ctx); err != nil && !errors.Is(err, ErrLoopNotCreated) {
			b.logger.Error().Err(err).Str("loop", b.loop.Name()).Msg("xloop: loop destroy failed")
			closeErr = multierr.Append(closeErr, err)
		}

		if b.observerPool != nil {
			if err := b.observerPool.Close(5 * time.Second); err != nil {
				b.logger.Warn().Err(err).Msg("xloop: observer pool shutdown timeout")
				closeErr = multierr.Append(closeErr, err)
			}
		}
	})

	return closeErr
}

// AddObserver registers an observer (thread-safe).
func (b *Bus) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	b.observersMu.Lock()
	b.observers = append(b.observers, obs)
	b.observersMu.Unlock()
}

// RemoveObserver removes an observer. obs must be comparable; an ObserverFunc
// cannot be removed.
func (b *Bus) RemoveObserver(obs Observer) {
	if obs == nil {
		return
	}
	if _, isFunc := obs.(ObserverFunc); isFunc {
		return
	}
	b.observersMu.Lock()
	defer b.observersMu.Unlock()

	for i, o := range b.observers {
		if _, isFunc := o.(ObserverFunc); isFunc {
			continue
		}
		if o == obs {
			b.observers = append(b.observers[:i:i], b.observers[i+1:]...)
			break
		}
	}
}

// notifyAsync dispatches events asynchronously (non-blocking).
func (b *Bus) notifyAsync(e BusEvent) {
	if b.observerPool == nil || b.closed.Load() {
		return
	}

	b.observersMu.RLock()
	if len(b.observers) == 0 {
		b.observersMu.RUnlock()
		return
	}
	observers := make([]Observer, len(b.observers))
	copy(observers, b.observers)
	b.observersMu.RUnlock()

	b.observerPool.Notify(e, observers)
}

// recordDispatchTime keeps an exponential moving average of handler time.
func (b *Bus) recordDispatchTime(ns int64) {
	const alpha = 0.2 // 20% weight to new sample
	current := b.metrics.dispatchNs.Load()
	if current == 0 {
		b.metrics.dispatchNs.Store(ns)
		return
	}
	newAvg := int64(float64(ns)*alpha + float64(current)*(1-alpha))
	b.metrics.dispatchNs.Store(newAvg)
}
