package xloop

import (
	"time"
)

// WaitPolicy controls how long Post waits for room in the loop queue.
type WaitPolicy struct {
	forever bool
	timeout time.Duration
}

var (
	// Forever never gives up: the enqueue is retried in bounded slices until it succeeds.
	Forever = WaitPolicy{forever: true}
	// NoWait makes a single immediate attempt and fails fast on a full queue.
	NoWait = WaitPolicy{}
)

// Within makes a single attempt waiting at most d.
func Within(d time.Duration) WaitPolicy {
	if d < 0 {
		d = 0
	}
	return WaitPolicy{timeout: d}
}

// IsForever reports whether the policy retries until success.
func (p WaitPolicy) IsForever() bool { return p.forever }

// Timeout is the single-attempt wait. Meaningless for Forever.
func (p WaitPolicy) Timeout() time.Duration { return p.timeout }

func (p WaitPolicy) String() string {
	switch {
	case p.forever:
		return "forever"
	case p.timeout == 0:
		return "nowait"
	default:
		return p.timeout.String()
	}
}

// BusEventType enumerates internal lifecycle events for the Observer pattern.
type BusEventType string

const (
	LoopCreated   BusEventType = "loop_created"
	LoopDestroyed BusEventType = "loop_destroyed"
	Posted        BusEventType = "posted"
	PostFailed    BusEventType = "post_failed"
	PostRetry     BusEventType = "post_retry"
	DispatchStart BusEventType = "dispatch_start"
	DispatchDone  BusEventType = "dispatch_done"
	Error         BusEventType = "error"
)

// BusEvent carries telemetry for observers.
type BusEvent struct {
	Type     BusEventType
	Loop     string
	Category Category
	ID       EventID
	Attempt  int
	Duration time.Duration
	Err      error

	// Internal: attached for async dispatch
	observers []Observer
}

// PoolStats returns telemetry about the observer pool.
type PoolStats struct {
	Dropped      uint64 // Events dropped due to full buffer
	Processed    uint64 // Events successfully processed
	ActiveEvents int    // Current queue depth
	Workers      int    // Number of dispatch goroutines
	BufferSize   int    // Channel capacity
}

// Metrics defines observable telemetry for the bus.
type Metrics struct {
	Posted            uint64
	PostFailures      uint64
	PostRetries       uint64
	Dispatched        uint64
	HandlerErrors     uint64
	EventsDropped     uint64
	AvgDispatchTimeMs float64
}

// HealthStatus indicates bus health.
type HealthStatus struct {
	Status    string // "healthy", "degraded", "unhealthy"
	Loop      string
	Metrics   Metrics
	Timestamp time.Time
	Message   string
}
