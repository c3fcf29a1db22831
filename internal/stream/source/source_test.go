package source

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"streambridge/internal/stream"
	"streambridge/internal/stream/metrics"
	"streambridge/internal/stream/tracing"
)

func fixed(events []stream.Event, err error) stream.Source {
	return stream.SourceFunc(func(context.Context, string, stream.Payload) (iter.Seq2[stream.Event, error], error) {
		return func(yield func(stream.Event, error) bool) {
			for _, evt := range events {
				if !yield(evt, nil) {
					return
				}
			}
			if err != nil {
				yield(nil, err)
			}
		}, nil
	})
}

func collect(t *testing.T, src stream.Source, topic string, payload stream.Payload) ([]stream.Event, error) {
	t.Helper()

	seq, err := src.Subscribe(context.Background(), topic, payload)
	require.NoError(t, err)

	var out []stream.Event
	for evt, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, evt)
	}
	return out, nil
}

func TestTicker_EmitsCountEvents(t *testing.T) {
	at := time.Unix(1700000000, 500000000)
	tk := &Ticker{Interval: time.Millisecond, Count: 3, Now: func() time.Time { return at }}

	got, err := collect(t, tk, "demo_subscription", stream.Payload{"user": "u1"})
	require.NoError(t, err)
	require.Len(t, got, 3)

	for i, evt := range got {
		assert.Equal(t, fmt.Sprintf("demo_event_%d", i), evt["event"])
		assert.Equal(t, "demo_subscription", evt["topic"])
		assert.Equal(t, map[string]any{"user": "u1"}, evt["data"])
		assert.InDelta(t, 1700000000.5, evt["timestamp"], 1e-6)
	}
}

func TestTicker_StopsOnCancel(t *testing.T) {
	tk := &Ticker{Interval: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seq, err := tk.Subscribe(ctx, "t", nil)
	require.NoError(t, err)

	var n int
	for evt, err := range seq {
		if err != nil {
			assert.ErrorIs(t, err, context.Canceled)
			break
		}
		n++
		assert.Equal(t, map[string]any{}, evt["data"])
		cancel()
	}
	assert.Equal(t, 1, n)
}

func TestTicker_RejectsZeroInterval(t *testing.T) {
	_, err := (&Ticker{}).Subscribe(context.Background(), "t", nil)
	assert.Error(t, err)
}

func TestMetricsSource_CountsItems(t *testing.T) {
	reg := metrics.NewRegistry()
	boom := errors.New("boom")
	src := NewMetricsSource(fixed([]stream.Event{{"n": 1}, {"n": 2}}, boom), reg)

	got, err := collect(t, src, "orders", nil)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, got, 2)

	body := scrape(t, reg)
	assert.Contains(t, body, `stream_source_events_total{topic="orders"} 2`)
	assert.Contains(t, body, `stream_source_errors_total{phase="iterate",topic="orders"} 1`)
}

func TestMetricsSource_OpenError(t *testing.T) {
	reg := metrics.NewRegistry()
	boom := errors.New("refused")
	failing := stream.SourceFunc(func(context.Context, string, stream.Payload) (iter.Seq2[stream.Event, error], error) {
		return nil, boom
	})

	_, err := NewMetricsSource(failing, reg).Subscribe(context.Background(), "orders", nil)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, scrape(t, reg), `stream_source_errors_total{phase="open",topic="orders"} 1`)
}

func TestTracedSource_SpanPerSubscription(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	tracer := tracing.New(tp, "test")

	src := NewTracedSource(fixed([]stream.Event{{"n": 1}, {"n": 2}}, nil), tracer)
	got, err := collect(t, src, "orders", stream.Payload{"shard": 0})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "source.subscribe", spans[0].Name())
	assert.Len(t, spans[0].Events(), 2)
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
}

func TestTracedSource_RecordsError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	boom := errors.New("boom")

	src := NewTracedSource(fixed([]stream.Event{{"n": 1}}, boom), tracing.New(tp, "test"))
	_, err := collect(t, src, "orders", nil)
	assert.ErrorIs(t, err, boom)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "boom", spans[0].Status().Description)
}

func TestDecoratedSourceThroughClient(t *testing.T) {
	reg := metrics.NewRegistry()
	tp := sdktrace.NewTracerProvider()
	src := NewTracedSource(NewMetricsSource(&Ticker{Interval: time.Millisecond, Count: 2}, reg), tracing.New(tp, "test"))

	c, err := stream.NewClient(src, nil, stream.WithObserver(reg))
	require.NoError(t, err)

	h, err := c.Subscribe("demo", nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := h.Get(time.Second)
		require.NoError(t, err)
	}
	_, err = h.Get(time.Second)
	require.ErrorIs(t, err, stream.ErrClosed)
	<-h.Done()

	assert.Contains(t, scrape(t, reg), `stream_events_delivered_total{topic="demo"} 2`)
}

func scrape(t *testing.T, reg *metrics.Registry) string {
	t.Helper()

	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}
