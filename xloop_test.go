package xloop_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/xloop"
	"github.com/trickstertwo/xloop/adapter/dedicated"
)

type recorder struct {
	mu  sync.Mutex
	got []string
}

func (r *recorder) handler(tag string) xloop.Handler {
	return func(_ context.Context, ev *xloop.Event) error {
		r.mu.Lock()
		r.got = append(r.got, tag+":"+string(ev.Category)+"/"+ev.ID.String())
		r.mu.Unlock()
		return nil
	}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func newDedicatedBus(t *testing.T) *xloop.Bus {
	t.Helper()
	cfg := dedicated.Defaults()
	cfg.WorkerName = "test_events"
	bus, err := xloop.NewBusBuilder().
		WithLoopInstance(dedicated.New(cfg, nil)).
		Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close(context.Background()) })
	return bus
}

func TestDedicated_DeliveryOrderAndWildcards(t *testing.T) {
	bus := newDedicatedBus(t)
	ctx := context.Background()
	require.NoError(t, bus.Create(ctx))

	r := &recorder{}
	_, err := bus.Register("REVT_WIFI", 4, r.handler("exact"))
	require.NoError(t, err)
	_, err = bus.Register("REVT_WIFI", xloop.AnyID, r.handler("anyid"))
	require.NoError(t, err)
	_, err = bus.Register(xloop.AnyCategory, xloop.AnyID, r.handler("all"))
	require.NoError(t, err)

	require.NoError(t, bus.Post(ctx, "REVT_WIFI", 4, nil, xloop.Forever))
	require.NoError(t, bus.Post(ctx, "REVT_WIFI", 5, nil, xloop.Forever))
	require.NoError(t, bus.Post(ctx, "REVT_GPIO", 0, nil, xloop.Forever))

	want := []string{
		"exact:REVT_WIFI/4", "anyid:REVT_WIFI/4", "all:REVT_WIFI/4",
		"anyid:REVT_WIFI/5", "all:REVT_WIFI/5",
		"all:REVT_GPIO/0",
	}
	assert.Eventually(t, func() bool { return len(r.snapshot()) == len(want) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, r.snapshot())
}

func TestDedicated_DestroyDrainsAndRecreate(t *testing.T) {
	bus := newDedicatedBus(t)
	ctx := context.Background()
	require.NoError(t, bus.Create(ctx))

	release := make(chan struct{})
	var mu sync.Mutex
	var delivered []xloop.EventID
	_, err := bus.Register("REVT_SENSORS", xloop.AnyID, func(_ context.Context, ev *xloop.Event) error {
		<-release
		mu.Lock()
		delivered = append(delivered, ev.ID)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Post(ctx, "REVT_SENSORS", xloop.EventID(i), nil, xloop.Forever))
	}
	close(release)
	require.NoError(t, bus.Destroy(ctx))

	mu.Lock()
	assert.Equal(t, []xloop.EventID{0, 1, 2, 3, 4}, delivered)
	mu.Unlock()

	err = bus.Post(ctx, "REVT_SENSORS", 9, nil, xloop.Forever)
	assert.ErrorIs(t, err, xloop.ErrLoopNotCreated)

	// a destroyed loop can be created again, with an empty handler table
	require.NoError(t, bus.Create(ctx))
	require.NoError(t, bus.Post(ctx, "REVT_SENSORS", 9, nil, xloop.NoWait))
}

func TestDedicated_TypedPayload(t *testing.T) {
	bus := newDedicatedBus(t)
	ctx := context.Background()
	require.NoError(t, bus.Create(ctx))

	type reading struct {
		Sensor string  `json:"sensor"`
		Value  float64 `json:"value"`
	}
	got := make(chan reading, 1)
	_, err := bus.Register("REVT_SENSORS", 0, func(ctx context.Context, ev *xloop.Event) error {
		v, err := xloop.Decode[reading](ctx, ev)
		if err != nil {
			return err
		}
		got <- v
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.PostValue(ctx, "REVT_SENSORS", 0, reading{Sensor: "t1", Value: 21.5}, xloop.Within(100*time.Millisecond)))
	select {
	case v := <-got:
		assert.Equal(t, reading{Sensor: "t1", Value: 21.5}, v)
	case <-time.After(time.Second):
		t.Fatal("typed event not delivered")
	}
}
