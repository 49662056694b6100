package xloop

import (
	"context"
	"time"
)

// Handler processes a single event on the loop's dispatch goroutine.
// A returned error is logged and counted; it never stops delivery.
type Handler func(ctx context.Context, ev *Event) error

// Middleware composes processing concerns around a Handler.
type Middleware func(next Handler) Handler

// Subscription represents an active handler registration that can be closed.
type Subscription interface {
	Close() error
}

// Loop is the Strategy interface for the two loop modes (dedicated and shared).
type Loop interface {
	// Name identifies the loop mode in logs and metrics.
	Name() string
	// Create allocates or obtains the loop. Calling it on a created loop is a no-op.
	Create(ctx context.Context) error
	// Destroy drains and releases the loop, if the loop owns it.
	Destroy(ctx context.Context) error
	// Register binds fn to (cat, id); wildcards are allowed.
	Register(cat Category, id EventID, fn func(*Event)) (Subscription, error)
	// Enqueue makes one attempt waiting at most wait; wait == 0 never blocks.
	Enqueue(ctx context.Context, ev Event, wait time.Duration) error
	// EnqueueFromISR never blocks or allocates. woken reports whether the
	// dispatch worker was idle and got unblocked by this event.
	EnqueueFromISR(ev Event) (woken bool, err error)
}

// Codec is the Strategy for encoding/decoding typed payloads.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// Observer receives bus lifecycle events. Implementations should be non-blocking.
type Observer interface {
	OnEvent(e BusEvent)
}

// HealthChecker provides health status for monitoring.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

// API represents the complete xloop surface for extensibility.
type API interface {
	Create(ctx context.Context) error
	Destroy(ctx context.Context) error
	Register(cat Category, id EventID, handler Handler) (Subscription, error)
	Unregister(sub Subscription) error
	Post(ctx context.Context, cat Category, id EventID, payload []byte, wait WaitPolicy) error
	PostValue(ctx context.Context, cat Category, id EventID, v any, wait WaitPolicy) error
	PostFromISR(cat Category, id EventID, payload []byte) (bool, error)
	PostSystem(ctx context.Context, id EventID, typ SystemEventType, forced bool, data uint32) error
	PostError(ctx context.Context, id EventID, code int32) error
	Close(ctx context.Context) error
	GetMetrics() Metrics
	Health(ctx context.Context) HealthStatus
	AddObserver(obs Observer)
	RemoveObserver(obs Observer)
}

var _ API = (*Bus)(nil)
