// Package metrics exports xloop bus lifecycle events to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/trickstertwo/xloop"
)

// Observer implements xloop.Observer with Prometheus collectors.
type Observer struct {
	posts     *prometheus.CounterVec
	retries   *prometheus.CounterVec
	dispatch  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	lifecycle *prometheus.CounterVec
}

var _ xloop.Observer = (*Observer)(nil)

// NewObserver creates the collectors and registers them on reg.
func NewObserver(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		posts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xloop",
			Name:      "posts_total",
			Help:      "Posted events by outcome.",
		}, []string{"loop", "result"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xloop",
			Name:      "post_retries_total",
			Help:      "Enqueue attempts of Forever posts that found the queue full.",
		}, []string{"loop"}),
		dispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xloop",
			Name:      "dispatch_total",
			Help:      "Handler invocations by category and outcome.",
		}, []string{"loop", "category", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "xloop",
			Name:      "dispatch_duration_seconds",
			Help:      "Handler execution time.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"loop"}),
		lifecycle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xloop",
			Name:      "loop_lifecycle_total",
			Help:      "Loop create/destroy transitions and errors.",
		}, []string{"loop", "event"}),
	}

	for _, c := range []prometheus.Collector{o.posts, o.retries, o.dispatch, o.duration, o.lifecycle} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *Observer) OnEvent(e xloop.BusEvent) {
	switch e.Type {
	case xloop.Posted:
		o.posts.WithLabelValues(e.Loop, "ok").Inc()
	case xloop.PostFailed:
		o.posts.WithLabelValues(e.Loop, "error").Inc()
	case xloop.PostRetry:
		o.retries.WithLabelValues(e.Loop).Inc()
	case xloop.DispatchDone:
		result := "ok"
		if e.Err != nil {
			result = "error"
		}
		o.dispatch.WithLabelValues(e.Loop, string(e.Category), result).Inc()
		o.duration.WithLabelValues(e.Loop).Observe(e.Duration.Seconds())
	case xloop.LoopCreated, xloop.LoopDestroyed, xloop.Error:
		o.lifecycle.WithLabelValues(e.Loop, string(e.Type)).Inc()
	}
}
