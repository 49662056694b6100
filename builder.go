package xloop

import (
	"context"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

const (
	// DefaultRetrySlice bounds each enqueue attempt of a Forever post.
	DefaultRetrySlice = 100 * time.Millisecond
	// DefaultRetryPause is the sleep between two Forever attempts.
	DefaultRetryPause = 10 * time.Millisecond
)

// BusBuilder constructs Bus instances (Builder pattern).
type BusBuilder struct {
	loopName string
	loopCfg  map[string]any
	loopInst Loop

	codecName string
	codecInst Codec

	middlewares []Middleware
	observers   []Observer
	logger      *xlog.Logger
	clock       xclock.Clock

	retrySlice time.Duration
	retryPause time.Duration

	poolWorkers int
	poolBuffer  int
}

// NewBusBuilder returns a new builder with sensible defaults.
func NewBusBuilder() *BusBuilder {
	return &BusBuilder{
		codecName:   "json",
		retrySlice:  DefaultRetrySlice,
		retryPause:  DefaultRetryPause,
		poolWorkers: 2,
		poolBuffer:  256,
	}
}

// WithLoop selects a registered loop mode by name ("dedicated", "shared").
func (bb *BusBuilder) WithLoop(name string, cfg map[string]any) *BusBuilder {
	bb.loopName = name
	bb.loopCfg = cfg
	return bb
}

// WithLoopInstance accepts a ready Loop instance (e.g., from adapter New()).
func (bb *BusBuilder) WithLoopInstance(l Loop) *BusBuilder {
	bb.loopInst = l
	return bb
}

func (bb *BusBuilder) WithCodec(name string) *BusBuilder {
	bb.codecName = name
	return bb
}

// WithCodecInstance accepts a ready Codec instance.
func (bb *BusBuilder) WithCodecInstance(c Codec) *BusBuilder {
	bb.codecInst = c
	return bb
}

func (bb *BusBuilder) WithMiddleware(mw ...Middleware) *BusBuilder {
	if len(mw) == 0 {
		return bb
	}
	bb.middlewares = append(bb.middlewares, mw...)
	return bb
}

func (bb *BusBuilder) WithObserver(obs ...Observer) *BusBuilder {
	for _, o := range obs {
		if o != nil {
			bb.observers = append(bb.observers, o)
		}
	}
	return bb
}

// WithObserverPool sizes the asynchronous observer pool.
func (bb *BusBuilder) WithObserverPool(workers, bufferSize int) *BusBuilder {
	if workers > 0 {
		bb.poolWorkers = workers
	}
	if bufferSize > 0 {
		bb.poolBuffer = bufferSize
	}
	return bb
}

func (bb *BusBuilder) WithLogger(l *xlog.Logger) *BusBuilder {
	bb.logger = l
	return bb
}

// Logger returns the logger configured so far, or the xlog default.
func (bb *BusBuilder) Logger() *xlog.Logger {
	if bb.logger == nil {
		return xlog.Default()
	}
	return bb.logger
}

func (bb *BusBuilder) WithClock(c xclock.Clock) *BusBuilder {
	bb.clock = c
	return bb
}

// WithRetrySlice sets the bounded wait of each Forever attempt.
func (bb *BusBuilder) WithRetrySlice(d time.Duration) *BusBuilder {
	if d > 0 {
		bb.retrySlice = d
	}
	return bb
}

// WithRetryPause sets the sleep between Forever attempts. Zero disables it.
func (bb *BusBuilder) WithRetryPause(d time.Duration) *BusBuilder {
	if d >= 0 {
		bb.retryPause = d
	}
	return bb
}

func (bb *BusBuilder) Build() (*Bus, error) {
	var lp Loop
	var err error

	switch {
	case bb.loopInst != nil:
		lp = bb.loopInst
	case bb.loopName != "":
		lp, err = NewLoop(bb.loopName, bb.loopCfg)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrNoLoopConfigured
	}

	var cd Codec
	if bb.codecInst != nil {
		cd = bb.codecInst
	} else {
		cd, err = NewCodec(bb.codecName)
		if err != nil {
			return nil, err
		}
	}

	clk := bb.clock
	if clk == nil {
		clk = xclock.Default()
	}
	lg := bb.logger
	if lg == nil {
		lg = xlog.Default()
	}

	b := &Bus{
		loop:         lp,
		codec:        cd,
		clock:        clk,
		logger:       lg,
		middlewares:  bb.middlewares,
		retrySlice:   bb.retrySlice,
		retryPause:   bb.retryPause,
		observerPool: NewObserverPool(context.Background(), bb.poolWorkers, bb.poolBuffer),
		baseCtx:      InjectAll(context.Background(), cd, lg, clk),
		metrics:      &busMetrics{},
		done:         make(chan struct{}),
	}

	// Attach logging observer first unless already supplied externally.
	hasLoggingObserver := false
	for _, o := range bb.observers {
		if _, ok := o.(LoggingObserver); ok {
			hasLoggingObserver = true
			break
		}
	}
	if !hasLoggingObserver {
		b.AddObserver(LoggingObserver{Logger: lg})
	}

	for _, o := range bb.observers {
		b.AddObserver(o)
	}

	return b, nil
}

// New constructs a Bus via Builder and returns a close func for convenience.
func New(init func(b *BusBuilder)) (*Bus, func() error, error) {
	b := NewBusBuilder()
	if init != nil {
		init(b)
	}
	bus, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() error { return bus.Close(context.Background()) }
	return bus, closeFn, nil
}
