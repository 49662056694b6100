// Package engine is the queue and worker shared by the dedicated and shared loops.
package engine

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xloop"
)

// Config sizes an Engine.
type Config struct {
	// QueueSize is the FIFO depth (>= 1).
	QueueSize int
	// WorkerName labels the dispatch goroutine in logs.
	WorkerName string
	// LockOSThread pins the dispatch goroutine to one OS thread.
	LockOSThread bool
	// MaxHandlers caps registrations; 0 means unlimited.
	MaxHandlers int
}

// Engine owns a bounded FIFO and the single goroutine dispatching from it.
// Handlers run sequentially, one event at a time.
type Engine struct {
	cfg    Config
	logger *xlog.Logger
	router *Router

	// mu is held shared by every enqueue attempt and exclusively by Close,
	// so Close waits for in-flight sends before closing the queue.
	mu     sync.RWMutex
	queue  chan xloop.Event
	closed bool

	idle       atomic.Bool
	dispatched atomic.Uint64
	done       chan struct{}
}

// New validates cfg and starts the dispatch worker.
func New(cfg Config, logger *xlog.Logger) (*Engine, error) {
	if cfg.QueueSize < 1 {
		return nil, fmt.Errorf("%w: queue size must be >= 1, got %d", xloop.ErrInvalidConfig, cfg.QueueSize)
	}
	if cfg.MaxHandlers < 0 {
		return nil, fmt.Errorf("%w: max handlers must be >= 0, got %d", xloop.ErrInvalidConfig, cfg.MaxHandlers)
	}
	if logger == nil {
		logger = xlog.Default()
	}

	e := &Engine{
		cfg:    cfg,
		logger: logger,
		router: NewRouter(cfg.MaxHandlers),
		queue:  make(chan xloop.Event, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	e.idle.Store(true)
	go e.run()
	return e, nil
}

func (e *Engine) run() {
	defer close(e.done)
	if e.cfg.LockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	e.logger.Debug().Str("worker", e.cfg.WorkerName).Str("queue_size", strconv.Itoa(e.cfg.QueueSize)).Msg("xloop: dispatch worker started")
	for {
		e.idle.Store(true)
		ev, ok := <-e.queue
		e.idle.Store(false)
		if !ok {
			break
		}
		e.router.Dispatch(&ev)
		e.dispatched.Add(1)
	}
	e.logger.Debug().Str("worker", e.cfg.WorkerName).Msg("xloop: dispatch worker stopped")
}

// Register binds fn to (cat, id).
func (e *Engine) Register(cat xloop.Category, id xloop.EventID, fn func(*xloop.Event)) (xloop.Subscription, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, xloop.ErrLoopNotCreated
	}
	return e.router.Add(cat, id, fn)
}

// Enqueue makes one attempt to queue ev, waiting at most wait for room.
func (e *Engine) Enqueue(ctx context.Context, ev xloop.Event, wait time.Duration) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return xloop.ErrLoopNotCreated
	}

	select {
	case e.queue <- ev:
		return nil
	default:
	}
	if wait <= 0 {
		return xloop.ErrQueueFull
	}

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case e.queue <- ev:
		return nil
	case <-t.C:
		return xloop.ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueue never blocks: it fails when the queue is full or the engine is closing.
func (e *Engine) TryEnqueue(ev xloop.Event) (woken bool, err error) {
	if !e.mu.TryRLock() {
		return false, xloop.ErrLoopNotCreated
	}
	defer e.mu.RUnlock()
	if e.closed {
		return false, xloop.ErrLoopNotCreated
	}

	wasIdle := e.idle.Load()
	select {
	case e.queue <- ev:
		return wasIdle, nil
	default:
		return false, xloop.ErrQueueFull
	}
}

// Close stops accepting events, lets the worker deliver what is queued and
// waits for it to exit or for ctx to expire. It must not be called from a handler.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("xloop: drain %s: %w", e.cfg.WorkerName, ctx.Err())
	}
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	Depth      int
	Capacity   int
	Handlers   int
	Dispatched uint64
}

func (e *Engine) Stats() Stats {
	return Stats{
		Depth:      len(e.queue),
		Capacity:   cap(e.queue),
		Handlers:   e.router.Len(),
		Dispatched: e.dispatched.Load(),
	}
}

// Done is closed once the worker has exited.
func (e *Engine) Done() <-chan struct{} { return e.done }
