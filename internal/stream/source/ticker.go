// Package source holds stream.Source decorators and the built-in ticker source.
package source

import (
	"context"
	"fmt"
	"iter"
	"maps"
	"time"

	"streambridge/internal/stream"
)

// Ticker emits timestamped demo events on every topic it is asked for:
// {"event": "demo_event_<i>", "topic": ..., "data": <payload>, "timestamp": <unix seconds>}.
// The first event is emitted immediately. Count of zero means unlimited.
type Ticker struct {
	Interval time.Duration
	Count    int
	// Now defaults to time.Now.
	Now func() time.Time
}

// Subscribe implements stream.Source.
func (t *Ticker) Subscribe(ctx context.Context, topic string, payload stream.Payload) (iter.Seq2[stream.Event, error], error) {
	if t.Interval <= 0 {
		return nil, fmt.Errorf("ticker interval must be positive, got %s", t.Interval)
	}

	now := t.Now
	if now == nil {
		now = time.Now
	}
	data := maps.Clone(map[string]any(payload))
	if data == nil {
		data = map[string]any{}
	}

	return func(yield func(stream.Event, error) bool) {
		tick := time.NewTicker(t.Interval)
		defer tick.Stop()

		for i := 0; t.Count <= 0 || i < t.Count; i++ {
			if i > 0 {
				select {
				case <-ctx.Done():
					yield(nil, ctx.Err())
					return
				case <-tick.C:
				}
			}

			evt := stream.Event{
				"event":     fmt.Sprintf("demo_event_%d", i),
				"topic":     topic,
				"data":      maps.Clone(data),
				"timestamp": float64(now().UnixNano()) / float64(time.Second),
			}
			if !yield(evt, nil) {
				return
			}
		}
	}, nil
}
