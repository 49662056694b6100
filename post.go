package xloop

import (
	"bytes"
	"context"
	"errors"
	"time"
)

// Post copies payload into a new event and enqueues it for asynchronous dispatch.
//
// With Forever the call does not give up on a full queue: the enqueue is
// retried in slices of the configured retry slice, pausing between attempts,
// until it succeeds. Only ctx cancellation, Close or a loop that was never
// created end it early. A slow dispatcher therefore throttles producers
// instead of dropping their events.
func (b *Bus) Post(ctx context.Context, cat Category, id EventID, payload []byte, wait WaitPolicy) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	if err := ValidEvent(cat, id); err != nil {
		b.logger.Error().Err(err).Str("category", string(cat)).Str("id", id.String()).Msg("xloop: failed to post event")
		return err
	}
	ev := Event{
		Category: cat,
		ID:       id,
		Payload:  bytes.Clone(payload),
		PostedAt: b.clock.Now(),
	}
	return b.post(ctx, ev, wait)
}

// PostValue encodes v with the bus codec and posts it.
func (b *Bus) PostValue(ctx context.Context, cat Category, id EventID, v any, wait WaitPolicy) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	if err := ValidEvent(cat, id); err != nil {
		return err
	}
	data, err := b.codec.Marshal(v)
	if err != nil {
		b.metrics.postFailures.Add(1)
		b.logger.Error().Err(err).Str("category", string(cat)).Str("id", id.String()).Str("codec", b.codec.Name()).Msg("xloop: failed to encode event payload")
		return err
	}
	return b.post(ctx, Event{Category: cat, ID: id, Payload: data, PostedAt: b.clock.Now()}, wait)
}

// PostFromISR makes a single non-blocking attempt without copying payload and
// without logging. The caller must keep payload unchanged until the event is
// delivered. woken reports whether the idle dispatch worker was unblocked.
func (b *Bus) PostFromISR(cat Category, id EventID, payload []byte) (woken bool, err error) {
	if b.closed.Load() {
		return false, ErrBusClosed
	}
	if err := ValidEvent(cat, id); err != nil {
		return false, err
	}
	woken, err = b.loop.EnqueueFromISR(Event{Category: cat, ID: id, Payload: payload, PostedAt: b.clock.Now()})
	if err != nil {
		b.metrics.postFailures.Add(1)
		return false, err
	}
	b.metrics.postCount.Add(1)
	return woken, nil
}

func (b *Bus) post(ctx context.Context, ev Event, wait WaitPolicy) error {
	start := b.clock.Now()

	var err error
	if wait.IsForever() {
		err = b.postForever(ctx, ev)
	} else {
		err = b.loop.Enqueue(ctx, ev, wait.Timeout())
	}
	duration := b.clock.Since(start)

	if err != nil {
		b.metrics.postFailures.Add(1)
		b.logger.Error().
			Err(err).
			Str("loop", b.loop.Name()).
			Str("category", string(ev.Category)).
			Str("id", ev.ID.String()).
			Str("wait", wait.String()).
			Msg("xloop: failed to post event")
		b.notifyAsync(BusEvent{Type: PostFailed, Loop: b.loop.Name(), Category: ev.Category, ID: ev.ID, Duration: duration, Err: err})
		return err
	}

	b.metrics.postCount.Add(1)
	b.notifyAsync(BusEvent{Type: Posted, Loop: b.loop.Name(), Category: ev.Category, ID: ev.ID, Duration: duration})
	return nil
}

func (b *Bus) postForever(ctx context.Context, ev Event) error {
	for attempt := 1; ; attempt++ {
		err := b.loop.Enqueue(ctx, ev, b.retrySlice)
		if err == nil || !errors.Is(err, ErrQueueFull) {
			return err
		}

		b.metrics.postRetries.Add(1)
		b.notifyAsync(BusEvent{Type: PostRetry, Loop: b.loop.Name(), Category: ev.Category, ID: ev.ID, Attempt: attempt})
		// Warn once per 100 attempts to avoid flooding the log under sustained backpressure
		if attempt%100 == 1 {
			b.logger.Warn().
				Str("loop", b.loop.Name()).
				Str("category", string(ev.Category)).
				Str("id", ev.ID.String()).
				Dur("slice", b.retrySlice).
				Msg("xloop: event queue full, retrying")
		}

		if err := b.pause(ctx); err != nil {
			return err
		}
	}
}

// pause sleeps between two enqueue attempts, honoring ctx and Close.
func (b *Bus) pause(ctx context.Context) error {
	if b.retryPause <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return ErrBusClosed
		default:
			return nil
		}
	}

	t := time.NewTimer(b.retryPause)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrBusClosed
	case <-t.C:
		return nil
	}
}
