package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/trickstertwo/xlog"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/trickstertwo/xloop"
	"github.com/trickstertwo/xloop/adapter/redispub"
	"github.com/trickstertwo/xloop/adapter/shared"
	"github.com/trickstertwo/xloop/events"
	"github.com/trickstertwo/xloop/internal/config"
	"github.com/trickstertwo/xloop/metrics"
	"github.com/trickstertwo/xloop/stat"

	// Loop modes register themselves by name.
	_ "github.com/trickstertwo/xloop/adapter/dedicated"
)

// Module wires the daemon. Hooks start in the order listed and stop in reverse.
var Module = fx.Module("xloopd",
	fx.Provide(
		provideRegistry,
		provideBackground,
		provideBus,
		providePublisher,
		provideCollector,
	),
	fx.Invoke(
		registerBus,
		registerCollector,
		registerPublisher,
		announceStarted,
		registerMetricsServer,
		registerHeartbeat,
		registerBackground,
	),
)

// background runs the daemon's long-lived goroutines.
type background struct {
	ctx    context.Context
	cancel context.CancelFunc
	g      *errgroup.Group
}

func provideBackground() *background {
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	return &background{ctx: gctx, cancel: cancel, g: g}
}

func (b *background) Go(fn func(ctx context.Context) error) {
	b.g.Go(func() error { return fn(b.ctx) })
}

// registerBackground is invoked last so its OnStop runs first.
func registerBackground(lc fx.Lifecycle, bg *background) {
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			bg.cancel()
			return bg.g.Wait()
		},
	})
}

func provideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

func provideBus(cfg config.Config, logger *xlog.Logger, reg *prometheus.Registry) (*xloop.Bus, error) {
	obs, err := metrics.NewObserver(reg)
	if err != nil {
		return nil, err
	}
	bb := xloop.NewBusBuilder().
		WithLoop(cfg.Bus.Mode, cfg.LoopConfig()).
		WithLogger(logger).
		WithObserver(obs).
		WithRetrySlice(cfg.RetrySlice()).
		WithRetryPause(cfg.RetryPause())
	if d := cfg.SlowHandler(); d > 0 {
		bb.WithMiddleware(xloop.SlowHandlerMiddleware(d, logger))
	}
	bus, err := bb.Build()
	if err != nil {
		return nil, err
	}
	xloop.SetDefault(bus)
	return bus, nil
}

func registerBus(lc fx.Lifecycle, cfg config.Config, bus *xloop.Bus) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return bus.Create(ctx)
		},
		OnStop: func(ctx context.Context) error {
			err := bus.Close(ctx)
			if cfg.Bus.Mode == shared.LoopName {
				err = multierr.Append(err, shared.Shutdown(ctx))
			}
			return err
		},
	})
}

// announceStarted posts SYSTEM STARTED once every subscriber is registered.
func announceStarted(lc fx.Lifecycle, bus *xloop.Bus) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return bus.PostSystem(ctx, xloop.SysStarted, xloop.SysSet, false, 0)
		},
	})
}

// providePublisher returns nil when Redis is disabled.
func providePublisher(cfg config.Config, logger *xlog.Logger, bus *xloop.Bus) (*redispub.Publisher, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	return redispub.New(cfg.RedisConfig(), bus, redispub.WithLogger(logger))
}

func registerPublisher(lc fx.Lifecycle, logger *xlog.Logger, pub *redispub.Publisher, bg *background) {
	if pub == nil {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// An unreachable broker is not fatal; Run keeps retrying.
			if err := pub.Connect(ctx); err != nil {
				logger.Warn().Err(err).Msg("xloopd: redis unavailable at startup")
			}
			bg.Go(pub.Run)
			return nil
		},
		OnStop: pub.Close,
	})
}

func provideCollector(cfg config.Config, logger *xlog.Logger, bus *xloop.Bus, pub *redispub.Publisher, reg *prometheus.Registry) *stat.Collector {
	if !cfg.Stat.Enabled {
		return nil
	}
	var p stat.Publisher
	if pub != nil {
		p = pub
	}
	return stat.NewCollector(cfg.StatConfig(), bus, p, stat.WithLogger(logger), stat.WithRegisterer(reg))
}

func registerCollector(lc fx.Lifecycle, logger *xlog.Logger, c *stat.Collector, bg *background) {
	if c == nil {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := c.Start(ctx); err != nil {
				return err
			}
			r := stat.NewReporter(c, stat.WithReporterLogger(logger))
			bg.Go(r.Run)
			return nil
		},
		OnStop: func(context.Context) error {
			c.Stop()
			return nil
		},
	})
}

func registerMetricsServer(lc fx.Lifecycle, cfg config.Config, logger *xlog.Logger, reg *prometheus.Registry, bus *xloop.Bus, bg *background) {
	if cfg.Metrics.Addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		h := bus.Health(r.Context())
		if h.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_, _ = w.Write([]byte(h.Status))
	})
	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			logger.Info().Str("addr", ln.Addr().String()).Msg("xloopd: serving metrics")
			bg.Go(func(ctx context.Context) error {
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			return nil
		},
	})
}

// registerHeartbeat posts REVT_TIME EVERY_MINUTE on each period.
func registerHeartbeat(lc fx.Lifecycle, cfg config.Config, logger *xlog.Logger, bus *xloop.Bus, bg *background) {
	every := cfg.HeartbeatEvery()
	if every <= 0 {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			bg.Go(func(ctx context.Context) error {
				return heartbeat(ctx, clock.New(), every, bus, logger)
			})
			return nil
		},
	})
}

func heartbeat(ctx context.Context, clk clock.Clock, every time.Duration, bus *xloop.Bus, logger *xlog.Logger) error {
	t := clk.Ticker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := bus.Post(ctx, events.Time, events.TimeEveryMinute, nil, xloop.Within(time.Second)); err != nil && ctx.Err() == nil {
				logger.Warn().Err(err).Msg("xloopd: heartbeat post failed")
			}
		}
	}
}
