package journal

import (
	"context"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"

	"streambridge/internal/stream"
	"streambridge/internal/validator"
)

// Reader is the part of the journal a Source tails.
type Reader interface {
	Load(ctx context.Context, topic string, shard int, from uint64, limit int) ([]Message, error)
	Cursor(ctx context.Context, topic, sub string, shard int) (uint64, error)
	Commit(ctx context.Context, topic, sub string, shard int, offset uint64) error
}

// SourceConfig tunes how a Source tails the journal.
type SourceConfig struct {
	BatchSize    int           `env:"JOURNAL_BATCH_SIZE" envDefault:"50"`
	PollInterval time.Duration `env:"JOURNAL_POLL_INTERVAL" envDefault:"100ms"`
}

// Source turns a journal shard into a stream.Source. Payload keys:
//
//	shard  int     shard to read, default 0
//	from   uint64  first offset to read, default 0 or the subscriber cursor
//	sub    string  subscriber name; resume from and commit its cursor
//	follow bool    keep polling once caught up, default true
type Source struct {
	reader Reader
	logger *zap.Logger
	config SourceConfig
}

func NewSource(reader Reader, logger *zap.Logger, cfg SourceConfig) (*Source, error) {
	if err := validator.Validate("journal source", reader, cfg.BatchSize, cfg.PollInterval); err != nil {
		return nil, fmt.Errorf("failed to validate journal source deps: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Source{
		reader: reader,
		logger: logger.Named("journal-source"),
		config: cfg,
	}, nil
}

type tailParams struct {
	shard   int
	from    uint64
	hasFrom bool
	sub     string
	follow  bool
}

func parseParams(payload stream.Payload) (tailParams, error) {
	var p tailParams
	var err error

	if p.shard, err = payload.Int("shard", 0); err != nil {
		return p, err
	}
	_, p.hasFrom = payload["from"]
	if p.from, err = payload.Uint64("from", 0); err != nil {
		return p, err
	}
	if p.follow, err = payload.Bool("follow", true); err != nil {
		return p, err
	}
	p.sub = payload.String("sub")

	return p, nil
}

// Subscribe implements stream.Source.
func (s *Source) Subscribe(ctx context.Context, topic string, payload stream.Payload) (iter.Seq2[stream.Event, error], error) {
	p, err := parseParams(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid journal subscription: %w", err)
	}

	logger := s.logger.With(zap.String("topic", topic), zap.Int("shard", p.shard), zap.String("sub", p.sub))

	return func(yield func(stream.Event, error) bool) {
		next := p.from
		if p.sub != "" && !p.hasFrom {
			cur, err := s.reader.Cursor(ctx, topic, p.sub, p.shard)
			if err != nil {
				yield(nil, fmt.Errorf("failed to resolve cursor: %w", err))
				return
			}
			next = cur
		}
		logger.Debug("tailing journal", zap.Uint64("from", next))

		for {
			msgs, err := s.reader.Load(ctx, topic, p.shard, next, s.config.BatchSize)
			if err != nil {
				yield(nil, err)
				return
			}

			for _, m := range msgs {
				if !yield(messageEvent(m), nil) {
					return
				}
				next = m.Offset + 1
				if p.sub == "" {
					continue
				}
				if err := s.reader.Commit(ctx, topic, p.sub, p.shard, next); err != nil {
					yield(nil, err)
					return
				}
			}

			if len(msgs) > 0 {
				continue
			}
			if !p.follow {
				logger.Debug("caught up with journal", zap.Uint64("next", next))
				return
			}

			select {
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			case <-time.After(s.config.PollInterval):
			}
		}
	}, nil
}

func messageEvent(m Message) stream.Event {
	evt := stream.Event{
		"id":      m.ID,
		"topic":   m.Topic,
		"shard":   m.Shard,
		"offset":  m.Offset,
		"event":   m.Event,
		"payload": m.Payload,
	}
	if m.PublishTime != nil {
		evt["publishTime"] = *m.PublishTime
	}
	return evt
}
