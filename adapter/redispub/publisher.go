package redispub

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
	"go.uber.org/multierr"

	"github.com/trickstertwo/xloop"
	"github.com/trickstertwo/xloop/events"
	"github.com/trickstertwo/xloop/stat"
)

// ErrNotConnected is returned by Publish while no endpoint is reachable.
var ErrNotConnected = errors.New("redispub: not connected")

// Poster is the part of the bus the publisher reports connectivity through.
type Poster interface {
	PostValue(ctx context.Context, cat xloop.Category, id xloop.EventID, v any, wait xloop.WaitPolicy) error
}

// Publisher appends bodies to Redis streams named after the topic and
// reports its connectivity as REVT_MQTT events.
type Publisher struct {
	cfg    Config
	poster Poster
	logger *xlog.Logger
	clock  xclock.Clock
	ticker clock.Clock

	mu        sync.RWMutex
	client    *redis.Client
	primary   bool
	connected bool
	failed    bool // CONN_FAILED already reported for the current outage
	everUp    bool

	closeOnce sync.Once
}

var _ stat.Publisher = (*Publisher)(nil)

type Option func(*Publisher)

func WithLogger(l *xlog.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithClock(c xclock.Clock) Option {
	return func(p *Publisher) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithTicker replaces the real clock driving the ping monitor.
func WithTicker(clk clock.Clock) Option {
	return func(p *Publisher) {
		if clk != nil {
			p.ticker = clk
		}
	}
}

// New returns a disconnected publisher. poster may be nil.
func New(cfg Config, poster Poster, opts ...Option) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Publisher{
		cfg:    cfg,
		poster: poster,
		logger: xlog.Default(),
		clock:  xclock.Default(),
		ticker: clock.New(),
	}
	for _, o := range opts {
		if o != nil {
			o(p)
		}
	}
	return p, nil
}

// IsConnected reports whether the last connect or ping succeeded.
func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

// Primary reports whether the active endpoint is the primary one.
func (p *Publisher) Primary() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.primary
}

// Connect tries the primary endpoint, then the reserved one.
func (p *Publisher) Connect(ctx context.Context) error {
	var errs error
	for _, primary := range []bool{true, false} {
		ep := p.endpoint(primary)
		if !ep.enabled() {
			continue
		}
		client, err := p.dial(ctx, ep)
		if err != nil {
			p.logger.Warn().Err(err).Str("addr", ep.Addr).Msg("redispub: failed to connect")
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", ep.Addr, err))
			continue
		}
		p.attach(ctx, client, primary, ep)
		return nil
	}

	p.mu.Lock()
	report := !p.failed
	p.failed = true
	p.mu.Unlock()
	if report {
		p.post(ctx, events.MQTTConnFailed, nil)
	}
	return errs
}

func (p *Publisher) attach(ctx context.Context, client *redis.Client, primary bool, ep Endpoint) {
	p.mu.Lock()
	old := p.client
	switched := !p.everUp || p.primary != primary
	p.client = client
	p.primary = primary
	p.connected = true
	p.failed = false
	p.everUp = true
	p.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	data := endpointData(ep, primary)
	p.logger.Info().Str("addr", ep.Addr).Str("server", serverName(primary)).Msg("redispub: connected")
	if switched {
		id := events.MQTTServerReserved
		if primary {
			id = events.MQTTServerPrimary
		}
		p.post(ctx, id, data)
	}
	p.post(ctx, events.MQTTConnected, data)
}

// Run pings the active endpoint every PingInterval. A failed ping reports
// CONN_LOST and triggers a reconnect through Connect. It returns when ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	t := p.ticker.Ticker(p.cfg.PingInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		p.check(ctx)
	}
}

func (p *Publisher) check(ctx context.Context) {
	p.mu.RLock()
	client, connected := p.client, p.connected
	p.mu.RUnlock()

	if connected && client != nil {
		err := ping(ctx, client, p.cfg.DialTimeout)
		if err == nil {
			// Failback: prefer the primary as soon as it answers again.
			if !p.Primary() && p.cfg.Reserved.enabled() {
				p.tryFailback(ctx)
			}
			return
		}
		p.logger.Warn().Err(err).Msg("redispub: connection lost")
		p.mu.Lock()
		p.connected = false
		p.mu.Unlock()
		p.post(ctx, events.MQTTConnLost, nil)
	}

	_ = p.Connect(ctx)
}

func (p *Publisher) tryFailback(ctx context.Context) {
	client, err := p.dial(ctx, p.cfg.Primary)
	if err != nil {
		return
	}
	p.attach(ctx, client, true, p.cfg.Primary)
}

// Publish appends body to the stream named topic. Retained bodies are also
// stored under "<topic>:retained".
func (p *Publisher) Publish(ctx context.Context, topic string, body []byte, opts stat.PublishOptions) error {
	p.mu.RLock()
	client, connected := p.client, p.connected
	p.mu.RUnlock()
	if !connected || client == nil {
		return ErrNotConnected
	}

	args := &redis.XAddArgs{
		Stream: topic,
		ID:     "*",
		Values: map[string]any{
			fieldID:         uuid.NewString(),
			fieldBody:       body,
			fieldQoS:        int(opts.QoS),
			fieldProducedAt: p.clock.Now().UnixNano(),
		},
	}
	if p.cfg.MaxLenApprox > 0 {
		args.MaxLen = p.cfg.MaxLenApprox
		args.Approx = true
	}

	pipe := client.Pipeline()
	pipe.XAdd(ctx, args)
	if opts.Retained {
		pipe.Set(ctx, topic+retainedSuffix, body, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redispub: publish %s: %w", topic, err)
	}
	return nil
}

// BuildTopicName joins the endpoint prefix (or LocalPrefix when local) with template.
func (p *Publisher) BuildTopicName(primary, local bool, template string) string {
	prefix := p.endpoint(primary).Prefix
	if local {
		prefix = p.cfg.LocalPrefix
	}
	parts := make([]string, 0, 2)
	for _, s := range []string{prefix, template} {
		if s = strings.Trim(s, "/"); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

// Close releases the active client.
func (p *Publisher) Close(_ context.Context) error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		client := p.client
		p.client = nil
		p.connected = false
		p.mu.Unlock()
		if client != nil {
			err = multierr.Append(err, client.Close())
		}
	})
	return err
}

func (p *Publisher) endpoint(primary bool) Endpoint {
	if primary {
		return p.cfg.Primary
	}
	return p.cfg.Reserved
}

func (p *Publisher) dial(ctx context.Context, ep Endpoint) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:         ep.Addr,
		Username:     ep.Username,
		Password:     ep.Password,
		DB:           ep.DB,
		DialTimeout:  p.cfg.DialTimeout,
		MaxRetries:   3,
		PoolSize:     4,
		MinIdleConns: 1,
	}
	if ep.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion:    tls.VersionTLS12,
			ServerName:    ep.TLSServerName,
			Renegotiation: tls.RenegotiateNever,
		}
	}

	client := redis.NewClient(opts)
	if err := ping(ctx, client, p.cfg.DialTimeout); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (p *Publisher) post(ctx context.Context, id xloop.EventID, data *events.MQTTEventData) {
	if p.poster == nil {
		return
	}
	var v any = struct{}{}
	if data != nil {
		v = data
	}
	if err := p.poster.PostValue(ctx, events.MQTT, id, v, xloop.Within(time.Second)); err != nil {
		p.logger.Warn().Err(err).Str("id", events.IDName(events.MQTT, id)).Msg("redispub: failed to post connectivity event")
	}
}

func endpointData(ep Endpoint, primary bool) *events.MQTTEventData {
	d := &events.MQTTEventData{Primary: primary, Local: ep.Local, Host: ep.Addr}
	if host, port, err := net.SplitHostPort(ep.Addr); err == nil {
		d.Host = host
		if n, err := strconv.ParseUint(port, 10, 32); err == nil {
			d.Port = uint32(n)
		}
	}
	return d
}

func serverName(primary bool) string {
	if primary {
		return "primary"
	}
	return "reserved"
}

func ping(ctx context.Context, c *redis.Client, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := c.Ping(ctx).Result()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("redis ping timeout: %w", err)
		}
		return err
	}
	if strings.ToUpper(res) != "PONG" {
		return fmt.Errorf("unexpected redis ping result: %s", res)
	}
	return nil
}
