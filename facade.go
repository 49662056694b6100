package xloop

import (
	"context"
	"sync"
)

var (
	defaultBus   *Bus
	defaultBusMu sync.RWMutex
)

// Default returns the process-wide Bus installed by SetDefault or an adapter's Use.
func Default() (*Bus, error) {
	defaultBusMu.RLock()
	defer defaultBusMu.RUnlock()
	if defaultBus == nil {
		return nil, ErrDefaultBusNotInitialized
	}
	return defaultBus, nil
}

// SetDefault replaces the process-wide default Bus.
func SetDefault(b *Bus) {
	if b == nil {
		panic("xloop: SetDefault called with nil Bus")
	}
	defaultBusMu.Lock()
	defaultBus = b
	defaultBusMu.Unlock()
}

// Post is the Facade using the default bus.
func Post(ctx context.Context, cat Category, id EventID, payload []byte, wait WaitPolicy) error {
	b, err := Default()
	if err != nil {
		return err
	}
	return b.Post(ctx, cat, id, payload, wait)
}

// PostValue is the Facade using the default bus.
func PostValue(ctx context.Context, cat Category, id EventID, v any, wait WaitPolicy) error {
	b, err := Default()
	if err != nil {
		return err
	}
	return b.PostValue(ctx, cat, id, v, wait)
}

// Register is the Facade using the default bus.
func Register(cat Category, id EventID, handler Handler) (Subscription, error) {
	b, err := Default()
	if err != nil {
		return nil, err
	}
	return b.Register(cat, id, handler)
}
