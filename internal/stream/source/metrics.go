package source

import (
	"context"
	"iter"
	"time"

	"streambridge/internal/stream"
	"streambridge/internal/stream/metrics"
)

// MetricsSource wraps a stream.Source with metrics collection
type MetricsSource struct {
	source   stream.Source
	registry *metrics.Registry
}

// NewMetricsSource creates a new instrumented source
func NewMetricsSource(source stream.Source, registry *metrics.Registry) stream.Source {
	return &MetricsSource{
		source:   source,
		registry: registry,
	}
}

// Subscribe implements stream.Source with metrics collection
func (s *MetricsSource) Subscribe(ctx context.Context, topic string, payload stream.Payload) (iter.Seq2[stream.Event, error], error) {
	start := time.Now()

	seq, err := s.source.Subscribe(ctx, topic, payload)
	s.registry.RecordSourceOpen(topic, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	return func(yield func(stream.Event, error) bool) {
		for evt, err := range seq {
			s.registry.RecordSourceItem(topic, err)
			if !yield(evt, err) {
				return
			}
		}
	}, nil
}
