// Package kafka adapts a Kafka topic to a stream.Source using franz-go.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"streambridge/internal/stream"
)

// Config holds the broker connection defaults. The consumer group and start
// offset can be overridden per subscription through the payload.
type Config struct {
	Brokers       []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	ConsumerGroup string   `env:"KAFKA_CONSUMER_GROUP"`
	StartOffset   string   `env:"KAFKA_START_OFFSET" envDefault:"latest"`
	ClientID      string   `env:"KAFKA_CLIENT_ID" envDefault:"streambridge"`
}

// poller abstracts the kgo client methods used by Source for testing.
type poller interface {
	PollFetches(ctx context.Context) kgo.Fetches
	MarkCommitRecords(rs ...*kgo.Record)
	CommitMarkedOffsets(ctx context.Context) error
	Close()
}

// Source opens one kgo client per subscription.
type Source struct {
	cfg       Config
	logger    *zap.Logger
	newClient func(opts ...kgo.Opt) (poller, error)
}

func NewSource(cfg Config, logger *zap.Logger) (*Source, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if _, err := resetOffset(cfg.StartOffset); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Source{
		cfg:    cfg,
		logger: logger.Named("kafka-source"),
		newClient: func(opts ...kgo.Opt) (poller, error) {
			return kgo.NewClient(opts...)
		},
	}, nil
}

// Subscribe consumes topic. Recognised payload keys are "group", which joins
// a consumer group and commits each record once it has been handed on, and
// "start", which is "earliest" or "latest" for partitions with no committed
// offset. The client is created on first iteration and closed when the
// sequence ends.
func (s *Source) Subscribe(ctx context.Context, topic string, payload stream.Payload) (iter.Seq2[stream.Event, error], error) {
	group := s.cfg.ConsumerGroup
	if v := payload.String("group"); v != "" {
		group = v
	}
	start := s.cfg.StartOffset
	if v := payload.String("start"); v != "" {
		start = v
	}
	offset, err := resetOffset(start)
	if err != nil {
		return nil, err
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(s.cfg.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(offset),
	}
	if s.cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(s.cfg.ClientID))
	}
	if group != "" {
		opts = append(opts, kgo.ConsumerGroup(group), kgo.DisableAutoCommit())
	}

	logger := s.logger.With(zap.String("topic", topic), zap.String("group", group))

	return func(yield func(stream.Event, error) bool) {
		client, err := s.newClient(opts...)
		if err != nil {
			yield(nil, fmt.Errorf("kafka client: %w", err))
			return
		}
		defer client.Close()

		logger.Info("starting kafka consumer")

		for {
			fetches := client.PollFetches(ctx)
			if fetches.IsClientClosed() {
				return
			}
			if ctx.Err() != nil {
				yield(nil, ctx.Err())
				return
			}
			if errs := fetches.Errors(); len(errs) > 0 {
				fe := errs[0]
				yield(nil, fmt.Errorf("kafka fetch %s[%d]: %w", fe.Topic, fe.Partition, fe.Err))
				return
			}

			for records := fetches.RecordIter(); !records.Done(); {
				rec := records.Next()
				if !yield(recordEvent(rec), nil) {
					return
				}
				if group != "" {
					client.MarkCommitRecords(rec)
				}
			}

			if group != "" {
				if err := client.CommitMarkedOffsets(ctx); err != nil && ctx.Err() == nil {
					logger.Warn("kafka offset commit failed", zap.Error(err))
				}
			}
		}
	}, nil
}

func resetOffset(start string) (kgo.Offset, error) {
	switch start {
	case "", "latest":
		return kgo.NewOffset().AtEnd(), nil
	case "earliest":
		return kgo.NewOffset().AtStart(), nil
	default:
		return kgo.Offset{}, fmt.Errorf("kafka: start offset must be earliest or latest, got %q", start)
	}
}

func recordEvent(rec *kgo.Record) stream.Event {
	headers := make(map[string]string, len(rec.Headers))
	for _, h := range rec.Headers {
		headers[h.Key] = string(h.Value)
	}

	return stream.Event{
		"topic":     rec.Topic,
		"partition": rec.Partition,
		"offset":    rec.Offset,
		"key":       string(rec.Key),
		"value":     string(rec.Value),
		"headers":   headers,
		"timestamp": float64(rec.Timestamp.UnixNano()) / 1e9,
	}
}
