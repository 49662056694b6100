package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xloop"
)

func TestObserver_CountsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	o, err := NewObserver(reg)
	require.NoError(t, err)

	o.OnEvent(xloop.BusEvent{Type: xloop.Posted, Loop: "dedicated"})
	o.OnEvent(xloop.BusEvent{Type: xloop.Posted, Loop: "dedicated"})
	o.OnEvent(xloop.BusEvent{Type: xloop.PostFailed, Loop: "dedicated", Err: xloop.ErrQueueFull})
	o.OnEvent(xloop.BusEvent{Type: xloop.PostRetry, Loop: "dedicated", Attempt: 1})
	o.OnEvent(xloop.BusEvent{Type: xloop.DispatchDone, Loop: "dedicated", Category: "REVT_WIFI", Duration: time.Millisecond})
	o.OnEvent(xloop.BusEvent{Type: xloop.DispatchDone, Loop: "dedicated", Category: "REVT_WIFI", Err: errors.New("boom")})
	o.OnEvent(xloop.BusEvent{Type: xloop.LoopCreated, Loop: "dedicated"})
	o.OnEvent(xloop.BusEvent{Type: xloop.DispatchStart, Loop: "dedicated"})

	assert.Equal(t, 2.0, testutil.ToFloat64(o.posts.WithLabelValues("dedicated", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.posts.WithLabelValues("dedicated", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.retries.WithLabelValues("dedicated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.dispatch.WithLabelValues("dedicated", "REVT_WIFI", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.dispatch.WithLabelValues("dedicated", "REVT_WIFI", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.lifecycle.WithLabelValues("dedicated", "loop_created")))
	assert.Equal(t, 1, testutil.CollectAndCount(o.duration))
}

func TestNewObserver_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewObserver(reg)
	require.NoError(t, err)
	_, err = NewObserver(reg)
	assert.Error(t, err)
}
