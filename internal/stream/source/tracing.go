package source

import (
	"context"
	"iter"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"streambridge/internal/stream"
	"streambridge/internal/stream/tracing"
)

// TracedSource wraps a stream.Source with distributed tracing. One span
// covers the whole subscription and each event is recorded on it.
// Layer order: TracedSource -> MetricsSource -> real source
type TracedSource struct {
	source stream.Source
	tracer *tracing.Tracer
}

// NewTracedSource creates a new traced source that wraps a metrics source
func NewTracedSource(source stream.Source, tracer *tracing.Tracer) stream.Source {
	return &TracedSource{
		source: source,
		tracer: tracer,
	}
}

// Subscribe implements stream.Source with distributed tracing
func (s *TracedSource) Subscribe(ctx context.Context, topic string, payload stream.Payload) (iter.Seq2[stream.Event, error], error) {
	ctx, span := s.tracer.StartSpan(ctx, "source.subscribe",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(s.tracer.SubscriptionAttributes(topic, payload)...),
	)

	seq, err := s.source.Subscribe(ctx, topic, payload)
	if err != nil {
		s.tracer.RecordError(span, err)
		span.End()
		return nil, err
	}

	return func(yield func(stream.Event, error) bool) {
		defer span.End()

		var n int
		for evt, err := range seq {
			if err != nil {
				s.tracer.RecordError(span, err)
				span.SetAttributes(attribute.Int("stream.events", n))
				yield(nil, err)
				return
			}

			n++
			span.AddEvent("event", trace.WithAttributes(attribute.Int("stream.sequence", n)))
			if !yield(evt, nil) {
				break
			}
		}

		span.SetAttributes(attribute.Int("stream.events", n))
		span.SetStatus(codes.Ok, "")
	}, nil
}
