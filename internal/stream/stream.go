// Package stream bridges long-lived, server-pushed event sequences to
// consumer-facing subscription handles. Each handle owns one producer
// goroutine and one delivery queue; callers pull events with a timeout,
// receive them through an optional callback, and stop the subscription
// when they are done with it.
package stream

import (
	"context"
	"fmt"
	"iter"
	"strconv"
)

// Event is one discrete unit produced by a source. The bridge never
// interprets its fields.
type Event map[string]any

// Payload carries the extra subscription parameters handed to the source
// unchanged.
type Payload map[string]any

// Source opens the event sequence for a topic. The returned sequence is lazy
// and may be infinite; any step may yield an error, after which iteration
// ends. ctx is cancelled when the subscription is stopped.
type Source interface {
	Subscribe(ctx context.Context, topic string, payload Payload) (iter.Seq2[Event, error], error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, topic string, payload Payload) (iter.Seq2[Event, error], error)

// Subscribe implements Source.
func (f SourceFunc) Subscribe(ctx context.Context, topic string, payload Payload) (iter.Seq2[Event, error], error) {
	return f(ctx, topic, payload)
}

// Callback receives every delivered event on the producer goroutine.
// A returned error or a panic is logged and the subscription carries on.
// Stop waits for the producer goroutine, so a callback that wants to end its
// own subscription must call it as go h.Stop().
type Callback func(ctx context.Context, evt Event) error

// String returns the string value stored at key, or "" when absent.
func (p Payload) String(key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Int returns the integer stored at key, or def when absent. Strings and the
// numeric types produced by JSON decoding are accepted.
func (p Payload) Int(key string, def int) (int, error) {
	u, ok, err := p.number(key)
	if err != nil || !ok {
		return def, err
	}
	return int(u), nil
}

// Uint64 is Int for offsets.
func (p Payload) Uint64(key string, def uint64) (uint64, error) {
	u, ok, err := p.number(key)
	if err != nil || !ok {
		return def, err
	}
	if u < 0 {
		return def, fmt.Errorf("payload %q must not be negative, got %d", key, u)
	}
	return uint64(u), nil
}

// Bool returns the boolean stored at key, or def when absent.
func (p Payload) Bool(key string, def bool) (bool, error) {
	switch v := p[key].(type) {
	case nil:
		return def, nil
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return def, fmt.Errorf("payload %q: %w", key, err)
		}
		return b, nil
	default:
		return def, fmt.Errorf("payload %q: unsupported type %T", key, v)
	}
}

func (p Payload) number(key string) (int64, bool, error) {
	switch v := p[key].(type) {
	case nil:
		return 0, false, nil
	case int:
		return int64(v), true, nil
	case int32:
		return int64(v), true, nil
	case int64:
		return v, true, nil
	case uint64:
		return int64(v), true, nil
	case float64:
		return int64(v), true, nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("payload %q: %w", key, err)
		}
		return n, true, nil
	default:
		return 0, false, fmt.Errorf("payload %q: unsupported type %T", key, v)
	}
}
