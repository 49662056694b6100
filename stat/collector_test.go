package stat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/trickstertwo/xloop"
	"github.com/trickstertwo/xloop/adapter/dedicated"
	"github.com/trickstertwo/xloop/events"
)

type published struct {
	topic string
	body  []byte
	opts  PublishOptions
}

type fakePublisher struct {
	mu        sync.Mutex
	connected bool
	err       error
	calls     []published
}

func (p *fakePublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *fakePublisher) Publish(_ context.Context, topic string, body []byte, opts PublishOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, published{topic: topic, body: body, opts: opts})
	return p.err
}

func (p *fakePublisher) BuildTopicName(primary, local bool, template string) string {
	prefix := "reserved"
	if primary {
		prefix = "primary"
	}
	if local {
		prefix += "/local"
	}
	return prefix + "/" + template
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *fakePublisher) last() published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[len(p.calls)-1]
}

type fakeRegistrar struct {
	handlers map[xloop.Category]xloop.Handler
	failOn   xloop.Category
}

type nopSub struct{}

func (nopSub) Close() error { return nil }

func (r *fakeRegistrar) Register(cat xloop.Category, _ xloop.EventID, h xloop.Handler) (xloop.Subscription, error) {
	if cat == r.failOn {
		return nil, xloop.ErrHandlerTableFull
	}
	if r.handlers == nil {
		r.handlers = make(map[xloop.Category]xloop.Handler)
	}
	r.handlers[cat] = h
	return nopSub{}, nil
}

func mqttEvent(t *testing.T, id xloop.EventID, data events.MQTTEventData) *xloop.Event {
	t.Helper()
	b, err := json.Marshal(data)
	require.NoError(t, err)
	return &xloop.Event{Category: events.MQTT, ID: id, Payload: b}
}

func newTestCollector(t *testing.T, pub Publisher, opts ...Option) (*Collector, *clock.Mock, *fakeRegistrar) {
	t.Helper()
	mock := clock.NewMock()
	reg := &fakeRegistrar{}
	opts = append([]Option{WithClock(mock)}, opts...)
	c := NewCollector(Defaults(), reg, pub, opts...)
	require.NoError(t, c.Start(context.Background()))
	return c, mock, reg
}

func connect(t *testing.T, c *Collector, primary bool) {
	t.Helper()
	require.NoError(t, c.onMQTT(context.Background(), mqttEvent(t, events.MQTTConnected, events.MQTTEventData{Primary: primary, Host: "broker", Port: 1883})))
}

func TestCollector_RecordCountsPerKey(t *testing.T) {
	c, mock, _ := newTestCollector(t, &fakePublisher{})

	c.Record(events.WiFi, events.WiFiSTAGotIP)
	mock.Add(time.Second)
	c.Record("revt_wifi", events.WiFiSTAGotIP)
	mock.Add(time.Second)
	c.Record(events.WiFi, events.WiFiSTAGotIP)
	c.Record(events.WiFi, events.WiFiSTADisconnected)

	snap := c.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, events.WiFi, snap[0].Category)
	assert.Equal(t, events.WiFiSTAGotIP, snap[0].ID)
	assert.Equal(t, uint64(3), snap[0].Count)
	assert.Equal(t, mock.Now(), snap[0].Last)
	assert.Equal(t, uint64(1), snap[1].Count)
}

func TestCollector_RenderFormat(t *testing.T) {
	c, mock, _ := newTestCollector(t, &fakePublisher{})

	_, ok, err := c.Render()
	require.NoError(t, err)
	assert.False(t, ok)

	c.Record(events.WiFi, events.WiFiSTAGotIP)
	c.Record(events.MQTT, events.MQTTConnected)
	c.Record(events.WiFi, events.WiFiSTAGotIP)

	body, ok, err := c.Render()
	require.NoError(t, err)
	require.True(t, ok)

	doc := gjson.ParseBytes(body)
	require.True(t, doc.IsObject())
	assert.Len(t, doc.Map(), 2)
	assert.Equal(t, "REVT_WIFI", doc.Get("event_01.base").String())
	assert.Equal(t, int64(4), doc.Get("event_01.id").Int())
	assert.Equal(t, int64(2), doc.Get("event_01.count").Int())
	assert.Equal(t, mock.Now().Local().Format("02.01.2006 15:04:05"), doc.Get("event_01.last").String())
	assert.Equal(t, "REVT_MQTT", doc.Get("event_02.base").String())
	assert.Equal(t, int64(1), doc.Get("event_02.count").Int())

	var keys []string
	doc.ForEach(func(k, _ gjson.Result) bool {
		keys = append(keys, k.String())
		return true
	})
	assert.Equal(t, []string{"event_01", "event_02"}, keys)
}

func TestCollector_RenderManyEntries(t *testing.T) {
	c, _, _ := newTestCollector(t, &fakePublisher{})
	for i := 0; i < 150; i++ {
		c.Record(events.Time, xloop.EventID(i))
	}
	body, ok, err := c.Render()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(149), gjson.GetBytes(body, "event_150.id").Int())
}

func TestCollector_PublishPreconditions(t *testing.T) {
	pub := &fakePublisher{connected: true}
	c, _, _ := newTestCollector(t, pub)
	ctx := context.Background()

	// Topic unset.
	c.Record(events.WiFi, events.WiFiSTAGotIP)
	require.NoError(t, c.Publish(ctx))
	assert.Equal(t, 0, pub.count())

	// Publisher offline.
	connect(t, c, true)
	pub.mu.Lock()
	pub.connected = false
	pub.mu.Unlock()
	require.NoError(t, c.Publish(ctx))
	assert.Equal(t, 0, pub.count())

	pub.mu.Lock()
	pub.connected = true
	pub.mu.Unlock()
	require.NoError(t, c.Publish(ctx))
	require.Equal(t, 1, pub.count())
	assert.Equal(t, "primary/system/events", pub.last().topic)
	assert.Equal(t, PublishOptions{}, pub.last().opts)
}

func TestCollector_EmptyTableNoPublish(t *testing.T) {
	pub := &fakePublisher{connected: true}
	c, _, _ := newTestCollector(t, pub)
	connect(t, c, true)
	require.NoError(t, c.Publish(context.Background()))
	assert.Equal(t, 0, pub.count())
}

func TestCollector_PublishErrorNotRetried(t *testing.T) {
	pub := &fakePublisher{connected: true, err: errors.New("broker gone")}
	c, _, _ := newTestCollector(t, pub)
	connect(t, c, false)
	c.Record(events.GPIO, events.GPIOButton)

	err := c.Publish(context.Background())
	assert.EqualError(t, err, "broker gone")
	assert.Equal(t, 1, pub.count())
}

func TestCollector_ConnectivityTopic(t *testing.T) {
	pub := &fakePublisher{connected: true}
	c, _, _ := newTestCollector(t, pub)
	ctx := context.Background()

	connect(t, c, true)
	assert.Equal(t, "primary/system/events", c.Topic())
	select {
	case <-c.Kicks():
	default:
		t.Fatal("expected a kick after connect")
	}

	require.NoError(t, c.onMQTT(ctx, &xloop.Event{Category: events.MQTT, ID: events.MQTTConnLost}))
	assert.Empty(t, c.Topic())

	connect(t, c, false)
	assert.Equal(t, "reserved/system/events", c.Topic())

	require.NoError(t, c.onMQTT(ctx, &xloop.Event{Category: events.MQTT, ID: events.MQTTConnFailed}))
	assert.Empty(t, c.Topic())

	err := c.onMQTT(ctx, &xloop.Event{Category: events.MQTT, ID: events.MQTTConnected, Payload: []byte("{")})
	assert.Error(t, err)
	assert.Empty(t, c.Topic())
}

func TestCollector_StopReleasesTable(t *testing.T) {
	c, _, reg := newTestCollector(t, &fakePublisher{connected: true})
	connect(t, c, true)
	c.Record(events.Params, events.ParamsChanged)

	c.Stop()
	assert.Empty(t, c.Snapshot())
	assert.Empty(t, c.Topic())

	c.Record(events.Params, events.ParamsChanged)
	assert.Empty(t, c.Snapshot())

	require.NoError(t, c.Start(context.Background()))
	c.Record(events.Params, events.ParamsChanged)
	require.Len(t, c.Snapshot(), 1)
	assert.Equal(t, uint64(1), c.Snapshot()[0].Count)
	assert.Len(t, reg.handlers, 2)
}

func TestCollector_StartFailure(t *testing.T) {
	reg := &fakeRegistrar{failOn: events.MQTT}
	c := NewCollector(Defaults(), reg, &fakePublisher{})
	err := c.Start(context.Background())
	assert.ErrorIs(t, err, xloop.ErrHandlerTableFull)

	reg = &fakeRegistrar{failOn: xloop.AnyCategory}
	c = NewCollector(Defaults(), reg, &fakePublisher{})
	assert.ErrorIs(t, c.Start(context.Background()), xloop.ErrHandlerTableFull)
}

func TestCollector_PrometheusMirror(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, _, _ := newTestCollector(t, &fakePublisher{}, WithRegisterer(reg))
	c.Record(events.WiFi, events.WiFiSTAGotIP)
	c.Record(events.WiFi, events.WiFiSTAGotIP)

	require.NotNil(t, c.occurrences)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.occurrences.WithLabelValues("REVT_WIFI", "4")))

	// A second collector on the same registry reuses the counter.
	c2, _, _ := newTestCollector(t, &fakePublisher{}, WithRegisterer(reg))
	assert.Same(t, c.occurrences, c2.occurrences)
}

func newBus(t *testing.T) *xloop.Bus {
	t.Helper()
	bus, closeFn, err := xloop.New(func(b *xloop.BusBuilder) {
		b.WithLoopInstance(dedicated.New(dedicated.Defaults(), nil))
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeFn() })
	require.NoError(t, bus.Create(context.Background()))
	return bus
}

func TestCollector_EndToEndCountsGotIP(t *testing.T) {
	bus := newBus(t)
	c := NewCollector(Defaults(), bus, &fakePublisher{})
	require.NoError(t, c.Start(context.Background()))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Post(ctx, events.WiFi, events.WiFiSTAGotIP, nil, xloop.Forever))
	}

	require.Eventually(t, func() bool {
		s := c.Snapshot()
		return len(s) == 1 && s[0].Count == 3
	}, 2*time.Second, 5*time.Millisecond)

	body, ok, err := c.Render()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, gjson.ParseBytes(body).Map(), 1)
	assert.Equal(t, int64(3), gjson.GetBytes(body, "event_01.count").Int())
}

func TestCollector_EndToEndFirstSeenOrder(t *testing.T) {
	bus := newBus(t)
	c := NewCollector(Defaults(), bus, &fakePublisher{})
	require.NoError(t, c.Start(context.Background()))

	ctx := context.Background()
	require.NoError(t, bus.Post(ctx, events.GPIO, events.GPIOButton, nil, xloop.Forever))
	require.NoError(t, bus.Post(ctx, events.Time, events.TimeEveryMinute, nil, xloop.Forever))

	require.Eventually(t, func() bool { return len(c.Snapshot()) == 2 }, 2*time.Second, 5*time.Millisecond)
	body, _, err := c.Render()
	require.NoError(t, err)
	assert.Equal(t, "REVT_GPIO", gjson.GetBytes(body, "event_01.base").String())
	assert.Equal(t, "REVT_TIME", gjson.GetBytes(body, "event_02.base").String())
}

func TestCollector_EndToEndReconnect(t *testing.T) {
	bus := newBus(t)
	pub := &fakePublisher{connected: true}
	c := NewCollector(Defaults(), bus, pub)
	require.NoError(t, c.Start(context.Background()))
	ctx := context.Background()

	require.NoError(t, bus.PostValue(ctx, events.MQTT, events.MQTTConnected, events.MQTTEventData{Primary: true}, xloop.Forever))
	require.Eventually(t, func() bool { return c.Topic() != "" }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Post(ctx, events.MQTT, events.MQTTConnLost, nil, xloop.Forever))
	require.Eventually(t, func() bool { return c.Topic() == "" }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, bus.PostValue(ctx, events.MQTT, events.MQTTConnected, events.MQTTEventData{Primary: false}, xloop.Forever))
	require.Eventually(t, func() bool { return c.Topic() == "reserved/system/events" }, 2*time.Second, 5*time.Millisecond)
}

func TestCollector_ConcurrentRecordAndPublish(t *testing.T) {
	bus := newBus(t)
	pub := &fakePublisher{connected: true}
	c := NewCollector(Defaults(), bus, pub)
	require.NoError(t, c.Start(context.Background()))
	connect(t, c, true)

	const (
		producers = 8
		perProd   = 200
		keys      = 5
	)
	ctx := context.Background()

	stop := make(chan struct{})
	readerDone := make(chan error, 1)
	go func() {
		for {
			select {
			case <-stop:
				readerDone <- nil
				return
			default:
			}
			if err := c.Publish(ctx); err != nil {
				readerDone <- err
				return
			}
			body, ok, err := c.Render()
			if err != nil {
				readerDone <- err
				return
			}
			if ok && !gjson.ValidBytes(body) {
				readerDone <- errors.New("rendered body is not valid JSON: " + string(body))
				return
			}
			_ = c.Snapshot()
		}
	}()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProd; i++ {
				id := xloop.EventID(i % keys)
				if p%2 == 0 {
					// Direct calls race the dispatch worker recording posted events.
					c.Record(events.Sensors, id)
					continue
				}
				if err := bus.Post(ctx, events.Sensors, id, nil, xloop.Forever); err != nil {
					t.Errorf("post: %v", err)
					return
				}
			}
		}(p)
	}
	wg.Wait()

	total := uint64(producers * perProd)
	require.Eventually(t, func() bool {
		var sum uint64
		for _, e := range c.Snapshot() {
			sum += e.Count
		}
		return sum == total
	}, 5*time.Second, 5*time.Millisecond)
	close(stop)
	require.NoError(t, <-readerDone)

	snap := c.Snapshot()
	require.Len(t, snap, keys)
	for _, e := range snap {
		assert.Equal(t, total/keys, e.Count, "id %d", e.ID)
	}

	for _, call := range pub.calls {
		assert.True(t, gjson.ValidBytes(call.body))
	}
	require.NoError(t, c.Publish(ctx))
	doc := gjson.ParseBytes(pub.last().body)
	var sum int64
	doc.ForEach(func(_, v gjson.Result) bool {
		sum += v.Get("count").Int()
		return true
	})
	assert.Equal(t, int64(total), sum)
}

// blockingPublisher holds IsConnected until released.
type blockingPublisher struct {
	fakePublisher
	entered chan struct{}
	release chan struct{}
}

func (p *blockingPublisher) IsConnected() bool {
	close(p.entered)
	<-p.release
	return true
}

func TestCollector_PublishDoesNotBlockRecord(t *testing.T) {
	pub := &blockingPublisher{entered: make(chan struct{}), release: make(chan struct{})}
	c, _, _ := newTestCollector(t, pub)
	connect(t, c, true)
	c.Record(events.GPIO, events.GPIOButton)

	done := make(chan error, 1)
	go func() { done <- c.Publish(context.Background()) }()
	<-pub.entered

	recorded := make(chan struct{})
	go func() {
		c.Record(events.GPIO, events.GPIOButton)
		close(recorded)
	}()
	select {
	case <-recorded:
	case <-time.After(time.Second):
		t.Fatal("Record blocked while the publisher was being queried")
	}

	close(pub.release)
	require.NoError(t, <-done)
	require.Equal(t, 1, pub.count())
	assert.Equal(t, int64(2), gjson.GetBytes(pub.last().body, "event_01.count").Int())
}

func TestCollector_PrometheusLabelFollowsTableRow(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, _, _ := newTestCollector(t, &fakePublisher{}, WithRegisterer(reg))
	c.Record("REVT_WIFI", events.WiFiSTAGotIP)
	c.Record("revt_wifi", events.WiFiSTAGotIP)
	c.Record("Revt_Wifi", events.WiFiSTAGotIP)

	assert.Equal(t, 1, testutil.CollectAndCount(c.occurrences))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.occurrences.WithLabelValues("REVT_WIFI", "4")))
}

func TestCollector_ZeroConfigUsesDefaults(t *testing.T) {
	pub := &fakePublisher{connected: true}
	c := NewCollector(Config{}, &fakeRegistrar{}, pub, WithClock(clock.NewMock()))
	require.NoError(t, c.Start(context.Background()))
	connect(t, c, true)
	assert.Equal(t, "primary/system/events", c.Topic())

	c.Record(events.Time, events.TimeEveryMinute)
	require.NoError(t, c.Publish(context.Background()))
	assert.Equal(t, 1, pub.count())
}
