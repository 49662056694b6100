package xloop

import (
	"github.com/trickstertwo/xlog"
)

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(e BusEvent)

func (f ObserverFunc) OnEvent(e BusEvent) { f(e) }

// LoggingObserver is an Adapter that emits BusEvents via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnEvent(e BusEvent) {
	if o.Logger == nil {
		return
	}
	switch e.Type {
	case Error, PostFailed:
		o.Logger.Warn().
			Err(e.Err).
			Str("type", string(e.Type)).
			Str("loop", e.Loop).
			Str("category", string(e.Category)).
			Str("id", e.ID.String()).
			Msg("xloop event")
	case LoopCreated, LoopDestroyed:
		o.Logger.Info().
			Str("type", string(e.Type)).
			Str("loop", e.Loop).
			Msg("xloop event")
	default:
		o.Logger.Debug().
			Str("type", string(e.Type)).
			Str("loop", e.Loop).
			Str("category", string(e.Category)).
			Str("id", e.ID.String()).
			Dur("duration", e.Duration).
			Msg("xloop event")
	}
}
