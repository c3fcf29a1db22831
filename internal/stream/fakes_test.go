package stream

import (
	"context"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type iterSeq = iter.Seq2[Event, error]

// listSource yields the given events and then ends, or fails with err after
// failAfter events when err is set.
type listSource struct {
	events    []Event
	failAfter int
	err       error
}

func (s listSource) Subscribe(_ context.Context, _ string, _ Payload) (iter.Seq2[Event, error], error) {
	return func(yield func(Event, error) bool) {
		for i, evt := range s.events {
			if s.err != nil && i == s.failAfter {
				yield(nil, s.err)
				return
			}
			if !yield(evt, nil) {
				return
			}
		}
		if s.err != nil && s.failAfter >= len(s.events) {
			yield(nil, s.err)
		}
	}, nil
}

// endlessSource yields numbered events until ctx is cancelled.
func endlessSource(interval time.Duration) Source {
	return SourceFunc(func(ctx context.Context, topic string, _ Payload) (iter.Seq2[Event, error], error) {
		return func(yield func(Event, error) bool) {
			for i := 0; ; i++ {
				if !yield(Event{"topic": topic, "n": i}, nil) {
					return
				}
				select {
				case <-ctx.Done():
					yield(nil, ctx.Err())
					return
				case <-time.After(interval):
				}
			}
		}, nil
	})
}

// idleSource never yields until ctx is cancelled.
func idleSource() Source {
	return SourceFunc(func(ctx context.Context, _ string, _ Payload) (iter.Seq2[Event, error], error) {
		return func(yield func(Event, error) bool) {
			<-ctx.Done()
			yield(nil, ctx.Err())
		}, nil
	})
}

// stuckSource ignores ctx and blocks until release is closed, then yields one
// event.
func stuckSource(release <-chan struct{}) Source {
	return SourceFunc(func(_ context.Context, _ string, _ Payload) (iter.Seq2[Event, error], error) {
		return func(yield func(Event, error) bool) {
			<-release
			yield(Event{"event": "late"}, nil)
		}, nil
	})
}

type recordingObserver struct {
	mu        sync.Mutex
	started   []string
	ended     []string
	delivered int
	failures  int
	outcomes  []string
}

func (o *recordingObserver) SubscriptionStarted(topic string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, topic)
}

func (o *recordingObserver) SubscriptionEnded(_ string, state string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ended = append(o.ended, state)
}

func (o *recordingObserver) EventDelivered(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.delivered++
}

func (o *recordingObserver) CallbackFailed(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures++
}

func (o *recordingObserver) GetCompleted(_ string, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func newTestClient(t *testing.T, src Source, opts ...ClientOption) *Client {
	t.Helper()

	c, err := NewClient(src, zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel)), opts...)
	require.NoError(t, err)
	return c
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("producer for %s did not exit", h.ID())
	}
}

func events(n int) []Event {
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Event{"event": "e", "n": i})
	}
	return out
}
