// Package shared implements the shared-loop mode: every bus built on it posts
// to one process-wide queue and dispatch goroutine. Buses never destroy the
// shared loop; the process owner calls Shutdown on exit.
package shared

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

const LoopName = "shared"

func init() {
	if err := xloop.RegisterLoop(LoopName, func(cfg map[string]any) (xloop.Loop, error) {
		return New(ConfigFromMap(cfg), nil), nil
	}); err != nil {
		panic(fmt.Errorf("xloop/shared: failed to register loop: %w", err))
	}
}

// Config sizes the shared loop. Only the first successful Create applies it.
type Config struct {
	// QueueSize is the FIFO depth (default: 32).
	QueueSize int
	// WorkerName labels the dispatch goroutine (default: "sys_evt").
	WorkerName string
	// MaxHandlers caps registrations across all users; 0 means unlimited.
	MaxHandlers int
}

func Defaults() Config {
	return Config{QueueSize: 32, WorkerName: "sys_evt"}
}

func ConfigFromMap(cfg map[string]any) Config {
	getInt := func(k string, d int) int {
		switch v := cfg[k].(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		default:
			return d
		}
	}
	def := Defaults()
	name := def.WorkerName
	if v, ok := cfg["worker_name"].(string); ok && v != "" {
		name = v
	}
	return Config{
		QueueSize:   getInt("queue_size", def.QueueSize),
		WorkerName:  name,
		MaxHandlers: getInt("max_handlers", def.MaxHandlers),
	}
}

var (
	instanceMu sync.RWMutex
	instance   *engine.Engine
)

// Ensure returns the process-wide engine, starting it with cfg on first use.
// created is false when the engine already existed.
func Ensure(cfg Config, logger *xlog.Logger) (eng *engine.Engine, created bool, err error) {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance != nil {
		return instance, false, nil
	}
	eng, err = engine.New(engine.Config{
		QueueSize:   cfg.QueueSize,
		WorkerName:  cfg.WorkerName,
		MaxHandlers: cfg.MaxHandlers,
	}, logger)
	if err != nil {
		return nil, false, err
	}
	instance = eng
	return eng, true, nil
}

// Instance returns the shared engine, or nil before the first Create.
func Instance() *engine.Engine {
	instanceMu.RLock()
	defer instanceMu.RUnlock()
	return instance
}

// Shutdown drains and stops the shared engine. A later Create starts a new one.
func Shutdown(ctx context.Context) error {
	instanceMu.Lock()
	eng := instance
	instance = nil
	instanceMu.Unlock()
	if eng == nil {
		return nil
	}
	return eng.Close(ctx)
}

// Loop binds a bus to the shared engine.
type Loop struct {
	cfg    Config
	logger *xlog.Logger
}

var _ xloop.Loop = (*Loop)(nil)

func New(cfg Config, logger *xlog.Logger) *Loop {
	if logger == nil {
		logger = xlog.Default()
	}
	return &Loop{cfg: cfg, logger: logger}
}

func (l *Loop) Name() string { return LoopName }

// Create obtains the shared engine. An engine that already exists counts as success.
func (l *Loop) Create(_ context.Context) error {
	_, created, err := Ensure(l.cfg, l.logger)
	if err != nil {
		l.logger.Error().Err(err).Msg("Failed to create default event loop")
		return err
	}
	if created {
		l.logger.Info().Str("worker", l.cfg.WorkerName).Str("queue_size", strconv.Itoa(l.cfg.QueueSize)).Msg("Default event loop created successfully")
	} else {
		l.logger.Info().Msg("Default event loop has already been created")
	}
	return nil
}

// Destroy is a no-op: the shared loop outlives every bus using it.
func (l *Loop) Destroy(_ context.Context) error { return nil }

func (l *Loop) Register(cat xloop.Category, id xloop.EventID, fn func(*xloop.Event)) (xloop.Subscription, error) {
	eng := Instance()
	if eng == nil {
		return nil, xloop.ErrLoopNotCreated
	}
	return eng.Register(cat, id, fn)
}

func (l *Loop) Enqueue(ctx context.Context, ev xloop.Event, wait time.Duration) error {
	eng := Instance()
	if eng == nil {
		return xloop.ErrLoopNotCreated
	}
	return eng.Enqueue(ctx, ev, wait)
}

func (l *Loop) EnqueueFromISR(ev xloop.Event) (bool, error) {
	if !instanceMu.TryRLock() {
		return false, xloop.ErrLoopNotCreated
	}
	eng := instance
	instanceMu.RUnlock()
	if eng == nil {
		return false, xloop.ErrLoopNotCreated
	}
	return eng.TryEnqueue(ev)
}
