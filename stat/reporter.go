package stat

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/trickstertwo/xlog"
)

// Reporter publishes the collector's table every interval and right after
// each connection.
type Reporter struct {
	c        *Collector
	clock    clock.Clock
	interval time.Duration
	logger   *xlog.Logger
}

type ReporterOption func(*Reporter)

// WithTicker replaces the real clock driving the period.
func WithTicker(clk clock.Clock) ReporterOption {
	return func(r *Reporter) {
		if clk != nil {
			r.clock = clk
		}
	}
}

func WithReporterLogger(l *xlog.Logger) ReporterOption {
	return func(r *Reporter) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewReporter uses the collector's configured Interval.
func NewReporter(c *Collector, opts ...ReporterOption) *Reporter {
	r := &Reporter{
		c:        c,
		clock:    clock.New(),
		interval: c.cfg.Interval,
		logger:   c.logger,
	}
	for _, o := range opts {
		if o != nil {
			o(r)
		}
	}
	return r
}

// Run blocks until ctx is done.
func (r *Reporter) Run(ctx context.Context) error {
	t := r.clock.Ticker(r.interval)
	defer t.Stop()

	r.logger.Debug().Dur("interval", r.interval).Msg("stat: reporter started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Debug().Msg("stat: reporter stopped")
			return nil
		case <-t.C:
		case <-r.c.Kicks():
		}
		// Errors are logged by Publish; the next tick retries with fresh data.
		_ = r.c.Publish(ctx)
	}
}
