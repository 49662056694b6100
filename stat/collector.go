// Package stat counts every event delivered on an xloop bus and periodically
// publishes the table through an external Publisher.
package stat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tidwall/sjson"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xloop"
	"github.com/trickstertwo/xloop/events"
)

// Registrar is the part of the bus the collector subscribes through.
type Registrar interface {
	Register(cat xloop.Category, id xloop.EventID, handler xloop.Handler) (xloop.Subscription, error)
}

// Clock stamps occurrences.
type Clock interface {
	Now() time.Time
}

// Entry is one row of the statistics table.
type Entry struct {
	Category xloop.Category
	ID       xloop.EventID
	Count    uint64
	Last     time.Time
}

type entryKey struct {
	cat string
	id  xloop.EventID
}

// Collector owns the statistics table and the publication topic.
// Record runs on the dispatch worker while Publish runs on the caller's
// goroutine; mu serializes them.
type Collector struct {
	cfg    Config
	bus    Registrar
	pub    Publisher
	clock  Clock
	logger *xlog.Logger

	occurrences *prometheus.CounterVec

	mu      sync.Mutex
	entries []*Entry
	index   map[entryKey]int
	topic   string
	subs    []xloop.Subscription

	kick chan struct{}
}

// Option configures a Collector.
type Option func(*Collector)

func WithLogger(l *xlog.Logger) Option {
	return func(c *Collector) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the occurrence clock (default: xclock.Default()).
func WithClock(clk Clock) Option {
	return func(c *Collector) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithRegisterer mirrors every occurrence into the
// xloop_event_occurrences_total{category,id} counter.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Collector) {
		if reg == nil {
			return
		}
		cv := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xloop",
			Name:      "event_occurrences_total",
			Help:      "Events observed by the statistics collector.",
		}, []string{"category", "id"})
		if err := reg.Register(cv); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				c.logger.Warn().Err(err).Msg("stat: failed to register occurrence counter")
				return
			}
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				cv = existing
			}
		}
		c.occurrences = cv
	}
}

// NewCollector returns a stopped collector. Call Start to begin counting.
func NewCollector(cfg Config, bus Registrar, pub Publisher, opts ...Option) *Collector {
	def := Defaults()
	if cfg.Topic == "" {
		cfg.Topic = def.Topic
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = def.TimeFormat
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	c := &Collector{
		cfg:    cfg,
		bus:    bus,
		pub:    pub,
		clock:  xclock.Default(),
		logger: xlog.Default(),
		kick:   make(chan struct{}, 1),
	}
	for _, o := range opts {
		if o != nil {
			o(c)
		}
	}
	return c
}

// Start creates the table and subscribes to every event and to the MQTT
// connectivity events. Subscriptions are made once and survive Stop.
func (c *Collector) Start(_ context.Context) error {
	c.mu.Lock()
	if c.entries == nil {
		c.entries = make([]*Entry, 0, 32)
		c.index = make(map[entryKey]int, 32)
	}
	subscribed := len(c.subs) > 0
	c.mu.Unlock()
	if subscribed {
		return nil
	}

	all, err := c.bus.Register(xloop.AnyCategory, xloop.AnyID, func(_ context.Context, ev *xloop.Event) error {
		c.Record(ev.Category, ev.ID)
		return nil
	})
	if err != nil {
		c.logger.Error().Err(err).Msg("stat: failed to register statistics handler")
		return fmt.Errorf("stat: register wildcard handler: %w", err)
	}
	conn, err := c.bus.Register(events.MQTT, xloop.AnyID, c.onMQTT)
	if err != nil {
		_ = all.Close()
		c.logger.Error().Err(err).Msg("stat: failed to register connectivity handler")
		return fmt.Errorf("stat: register %s handler: %w", events.MQTT, err)
	}

	c.mu.Lock()
	c.subs = append(c.subs, all, conn)
	c.mu.Unlock()
	return nil
}

// Stop releases the table and the topic. Later occurrences are ignored until
// the next Start.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	c.index = nil
	c.topic = ""
}

// Record counts one occurrence of (cat, id). Categories compare case-insensitively.
func (c *Collector) Record(cat xloop.Category, id xloop.EventID) {
	now := c.clock.Now()

	c.mu.Lock()
	if c.entries == nil {
		c.mu.Unlock()
		return
	}
	key := entryKey{cat: strings.ToLower(string(cat)), id: id}
	e, ok := c.entryLocked(key)
	if ok {
		e.Count++
		e.Last = now
	} else {
		e = &Entry{Category: cat, ID: id, Count: 1, Last: now}
		c.index[key] = len(c.entries)
		c.entries = append(c.entries, e)
	}
	label := string(e.Category)
	c.mu.Unlock()

	// Labelled by the first-seen spelling, like the table row.
	if c.occurrences != nil {
		c.occurrences.WithLabelValues(label, id.String()).Inc()
	}
}

func (c *Collector) entryLocked(key entryKey) (*Entry, bool) {
	i, ok := c.index[key]
	if !ok {
		return nil, false
	}
	return c.entries[i], true
}

// Snapshot copies the table in first-seen order.
func (c *Collector) Snapshot() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	for i, e := range c.entries {
		out[i] = *e
	}
	return out
}

// Render serializes the table. ok is false when the table is empty.
func (c *Collector) Render() (body []byte, ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.renderLocked()
}

func (c *Collector) renderLocked() ([]byte, bool, error) {
	if len(c.entries) == 0 {
		return nil, false, nil
	}

	body := []byte("{}")
	for i, e := range c.entries {
		part, err := renderEntry(e, c.cfg.TimeFormat)
		if err != nil {
			return nil, false, err
		}
		body, err = sjson.SetRawBytes(body, fmt.Sprintf("event_%02d", i+1), part)
		if err != nil {
			return nil, false, fmt.Errorf("stat: render entry %d: %w", i+1, err)
		}
	}
	return body, true, nil
}

func renderEntry(e *Entry, layout string) ([]byte, error) {
	part := []byte("{}")
	var err error
	if part, err = sjson.SetBytes(part, "base", string(e.Category)); err != nil {
		return nil, err
	}
	if part, err = sjson.SetBytes(part, "id", int32(e.ID)); err != nil {
		return nil, err
	}
	if part, err = sjson.SetBytes(part, "count", e.Count); err != nil {
		return nil, err
	}
	return sjson.SetBytes(part, "last", e.Last.Local().Format(layout))
}

// Publish renders the table and hands it to the Publisher. Nothing is sent
// while the topic is unset, the publisher is offline or the table is empty.
// A failed publish is logged and not retried.
func (c *Collector) Publish(ctx context.Context) error {
	// Never call into the publisher with mu held: Record takes mu on the dispatch worker.
	if c.pub == nil || !c.pub.IsConnected() {
		return nil
	}
	c.mu.Lock()
	topic := c.topic
	if topic == "" {
		c.mu.Unlock()
		return nil
	}
	body, ok, err := c.renderLocked()
	c.mu.Unlock()
	if err != nil {
		c.logger.Error().Err(err).Msg("stat: failed to render event statistics")
		return err
	}
	if !ok {
		return nil
	}

	if err := c.pub.Publish(ctx, topic, body, PublishOptions{QoS: c.cfg.QoS, Retained: c.cfg.Retained}); err != nil {
		c.logger.Warn().Err(err).Str("topic", topic).Msg("stat: failed to publish event statistics")
		return err
	}
	return nil
}

// Topic returns the current destination, empty while disconnected.
func (c *Collector) Topic() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topic
}

// Kicks fires after each connection so a Reporter can publish right away.
func (c *Collector) Kicks() <-chan struct{} { return c.kick }

func (c *Collector) onMQTT(ctx context.Context, ev *xloop.Event) error {
	switch ev.ID {
	case events.MQTTConnected:
		data, err := xloop.Decode[events.MQTTEventData](ctx, ev)
		if err != nil {
			return fmt.Errorf("stat: decode connection data: %w", err)
		}
		if c.pub == nil {
			return nil
		}
		topic := c.pub.BuildTopicName(data.Primary, c.cfg.Local, c.cfg.Topic)
		c.mu.Lock()
		c.topic = topic
		c.mu.Unlock()
		c.logger.Info().Str("topic", topic).Msg("Generated topic for publishing event statistic")

		select {
		case c.kick <- struct{}{}:
		default:
		}
	case events.MQTTConnLost, events.MQTTConnFailed:
		c.mu.Lock()
		c.topic = ""
		c.mu.Unlock()
		c.logger.Debug().Msg("Topic for publishing event statistic has been scrapped")
	}
	return nil
}
