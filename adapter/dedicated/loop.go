package dedicated

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xloop"
	"github.com/trickstertwo/xloop/internal/engine"
)

const LoopName = "dedicated"

func init() {
	if err := xloop.RegisterLoop(LoopName, func(cfg map[string]any) (xloop.Loop, error) {
		return New(ConfigFromMap(cfg), nil), nil
	}); err != nil {
		panic(fmt.Errorf("xloop/dedicated: failed to register loop: %w", err))
	}
}

// Config controls the dedicated loop.
type Config struct {
	// QueueSize is the FIFO depth (default: 32).
	QueueSize int
	// WorkerName labels the dispatch goroutine (default: "re_events").
	WorkerName string
	// LockOSThread pins the dispatch goroutine to an OS thread (default: false).
	LockOSThread bool
	// MaxHandlers caps registrations; 0 means unlimited (default: 0).
	MaxHandlers int
	// DrainTimeout bounds Destroy when the caller's ctx has no deadline (default: 5s).
	DrainTimeout time.Duration
}

// Defaults returns the dedicated loop defaults.
func Defaults() Config {
	return Config{
		QueueSize:    32,
		WorkerName:   "re_events",
		DrainTimeout: 5 * time.Second,
	}
}

func ConfigFromMap(cfg map[string]any) Config {
	getInt := func(k string, d int) int {
		switch v := cfg[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		default:
			return d
		}
	}
	getString := func(k, d string) string {
		if v, ok := cfg[k].(string); ok && v != "" {
			return v
		}
		return d
	}
	getBool := func(k string, d bool) bool {
		if v, ok := cfg[k].(bool); ok {
			return v
		}
		return d
	}
	getDur := func(k string, d time.Duration) time.Duration {
		switch v := cfg[k].(type) {
		case time.Duration:
			return v
		case string:
			if p, err := time.ParseDuration(v); err == nil {
				return p
			}
		case float64:
			return time.Duration(v)
		}
		return d
	}

	def := Defaults()
	return Config{
		QueueSize:    getInt("queue_size", def.QueueSize),
		WorkerName:   getString("worker_name", def.WorkerName),
		LockOSThread: getBool("lock_os_thread", def.LockOSThread),
		MaxHandlers:  getInt("max_handlers", def.MaxHandlers),
		DrainTimeout: getDur("drain_timeout", def.DrainTimeout),
	}
}

// Loop owns a private queue and dispatch goroutine, created lazily by Create.
// Lifecycle: uninitialized -> created -> destroyed; a Create after Destroy
// allocates a fresh engine.
type Loop struct {
	cfg    Config
	logger *xlog.Logger

	mu  sync.RWMutex
	eng *engine.Engine
}

var _ xloop.Loop = (*Loop)(nil)

// New returns an uninitialized dedicated loop.
func New(cfg Config, logger *xlog.Logger) *Loop {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = Defaults().DrainTimeout
	}
	if logger == nil {
		logger = xlog.Default()
	}
	return &Loop{cfg: cfg, logger: logger}
}

func (l *Loop) Name() string { return LoopName }

// Create allocates the queue and worker. A second call while created is a no-op.
func (l *Loop) Create(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.eng != nil {
		return nil
	}

	eng, err := engine.New(engine.Config{
		QueueSize:    l.cfg.QueueSize,
		WorkerName:   l.cfg.WorkerName,
		LockOSThread: l.cfg.LockOSThread,
		MaxHandlers:  l.cfg.MaxHandlers,
	}, l.logger)
	if err != nil {
		l.logger.Error().Err(err).Str("worker", l.cfg.WorkerName).Msg("Failed to create event loop")
		return err
	}
	l.eng = eng
	l.logger.Info().Str("worker", l.cfg.WorkerName).Str("queue_size", strconv.Itoa(l.cfg.QueueSize)).Msg("Dedicated event loop created successfully")
	return nil
}

// Destroy drains pending events and releases the worker. No-op when not created.
func (l *Loop) Destroy(ctx context.Context) error {
	l.mu.Lock()
	eng := l.eng
	l.eng = nil
	l.mu.Unlock()
	if eng == nil {
		return nil
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.DrainTimeout)
		defer cancel()
	}
	if err := eng.Close(ctx); err != nil {
		return err
	}
	l.logger.Info().Str("worker", l.cfg.WorkerName).Msg("Dedicated event loop deleted")
	return nil
}

func (l *Loop) Register(cat xloop.Category, id xloop.EventID, fn func(*xloop.Event)) (xloop.Subscription, error) {
	eng := l.engine()
	if eng == nil {
		return nil, xloop.ErrLoopNotCreated
	}
	return eng.Register(cat, id, fn)
}

func (l *Loop) Enqueue(ctx context.Context, ev xloop.Event, wait time.Duration) error {
	eng := l.engine()
	if eng == nil {
		return xloop.ErrLoopNotCreated
	}
	return eng.Enqueue(ctx, ev, wait)
}

func (l *Loop) EnqueueFromISR(ev xloop.Event) (bool, error) {
	if !l.mu.TryRLock() {
		return false, xloop.ErrLoopNotCreated
	}
	eng := l.eng
	l.mu.RUnlock()
	if eng == nil {
		return false, xloop.ErrLoopNotCreated
	}
	return eng.TryEnqueue(ev)
}

// Stats returns the engine view, or false when the loop is not created.
func (l *Loop) Stats() (engine.Stats, bool) {
	eng := l.engine()
	if eng == nil {
		return engine.Stats{}, false
	}
	return eng.Stats(), true
}

func (l *Loop) engine() *engine.Engine {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.eng
}
