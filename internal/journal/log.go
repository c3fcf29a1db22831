package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"

	"streambridge/internal/couchbase"
	"streambridge/internal/validator"
)

// ErrContention is returned when a monotonic update kept losing CAS races.
var ErrContention = errors.New("journal document under contention")

const maxCasAttempts = 8

// Config names the Couchbase keyspace holding the journal collections.
type Config struct {
	Bucket     string        `env:"COUCHBASE_BUCKET_NAME" envDefault:"pubsub"`
	Scope      string        `env:"COUCHBASE_SCOPE_NAME" envDefault:"default"`
	MessageTTL time.Duration `env:"JOURNAL_MESSAGE_TTL" envDefault:"168h"`
}

// Log is the Couchbase-backed journal. It is safe for concurrent use.
type Log struct {
	messages *couchbase.Store[Message]
	offsets  *couchbase.Store[Offset]
	cursors  *couchbase.Store[Cursor]
	config   Config
}

// Open binds a Log to the messages, offsets and cursors collections of the
// configured scope.
func Open(cluster *gocb.Cluster, cfg Config) (*Log, error) {
	if err := validator.Validate("journal", cluster, cfg.Bucket, cfg.Scope); err != nil {
		return nil, fmt.Errorf("failed to validate journal deps: %w", err)
	}

	scope := cluster.Bucket(cfg.Bucket).Scope(cfg.Scope)

	messages, err := couchbase.NewStore[Message](cluster, scope.Collection("messages"))
	if err != nil {
		return nil, fmt.Errorf("failed to create messages store: %w", err)
	}
	offsets, err := couchbase.NewStore[Offset](cluster, scope.Collection("offsets"))
	if err != nil {
		return nil, fmt.Errorf("failed to create offsets store: %w", err)
	}
	cursors, err := couchbase.NewStore[Cursor](cluster, scope.Collection("cursors"))
	if err != nil {
		return nil, fmt.Errorf("failed to create cursors store: %w", err)
	}

	return &Log{
		messages: messages,
		offsets:  offsets,
		cursors:  cursors,
		config:   cfg,
	}, nil
}

// Head returns the offset the next appended message on a shard will get.
func (l *Log) Head(ctx context.Context, topic string, shard int) (uint64, error) {
	offset, err := l.offsets.Get(ctx, OffsetKey(topic, shard), nil)
	switch {
	case err == nil:
		return offset.N, nil
	case errors.Is(err, gocb.ErrDocumentNotFound):
		return 0, nil
	default:
		return 0, fmt.Errorf("failed to get offset for topic %s shard %d: %w", topic, shard, err)
	}
}

// Append writes entries to the end of a shard and advances its head. It
// returns the new head. Concurrent appenders to one shard must be serialised
// by the caller; a rerun after a partial failure rewrites the same keys.
func (l *Log) Append(ctx context.Context, topic string, shard int, entries ...Entry) (uint64, error) {
	head, err := l.Head(ctx, topic, shard)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return head, nil
	}

	now := time.Now().UTC()
	for i, e := range entries {
		offset := head + uint64(i)
		m := Message{
			ID:          MessageKey(topic, shard, offset),
			Topic:       topic,
			Shard:       shard,
			Offset:      offset,
			Event:       e.Event,
			Payload:     e.Payload,
			PublishTime: &now,
		}

		err := l.messages.Insert(ctx, m.ID, &m, &gocb.InsertOptions{Expiry: l.config.MessageTTL})
		if err != nil && !errors.Is(err, gocb.ErrDocumentExists) {
			return 0, fmt.Errorf("failed to insert message with ID %s: %w", m.ID, err)
		}
	}

	next := head + uint64(len(entries))
	if err := l.advanceOffset(ctx, topic, shard, next); err != nil {
		return 0, err
	}

	return next, nil
}

// Load returns up to limit messages of a shard starting at from, in offset order.
func (l *Log) Load(ctx context.Context, topic string, shard int, from uint64, limit int) ([]Message, error) {
	statement := fmt.Sprintf(
		"SELECT RAW m FROM `%s`.`%s`.`%s` m WHERE m.`offset` >= $1 AND m.topic = $2 AND m.shard = $3 ORDER BY m.`offset` ASC LIMIT $4",
		l.config.Bucket,
		l.config.Scope,
		l.messages.Collection().Name(),
	)

	messages, err := l.messages.Query(ctx, statement, &gocb.QueryOptions{
		PositionalParameters: []any{from, topic, shard, limit},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load messages for topic %s shard %d: %w", topic, shard, err)
	}

	return messages, nil
}

// Cursor returns the next offset for a subscriber, 0 when it has none yet.
func (l *Log) Cursor(ctx context.Context, topic, sub string, shard int) (uint64, error) {
	cur, err := l.cursors.Get(ctx, CursorKey(topic, sub, shard), nil)
	switch {
	case err == nil:
		return cur.Offset, nil
	case errors.Is(err, gocb.ErrDocumentNotFound):
		return 0, nil
	default:
		return 0, fmt.Errorf("failed to get cursor: %w", err)
	}
}

// Commit moves a subscriber cursor forward to offset. It never moves a
// cursor backwards.
func (l *Log) Commit(ctx context.Context, topic, sub string, shard int, offset uint64) error {
	key := CursorKey(topic, sub, shard)

	for range maxCasAttempts {
		cur, err := l.cursors.Get(ctx, key, nil)
		switch {
		case err == nil:
		case errors.Is(err, gocb.ErrDocumentNotFound):
			cursor := Cursor{ID: key, Topic: topic, Sub: sub, Shard: shard, Offset: offset}
			err := l.cursors.Insert(ctx, key, &cursor, nil)
			switch {
			case err == nil:
				return nil
			case errors.Is(err, gocb.ErrDocumentExists):
				continue
			default:
				return fmt.Errorf("failed to insert new cursor: %w", err)
			}
		default:
			return fmt.Errorf("failed to get cursor: %w", err)
		}

		if offset <= cur.Offset {
			return nil
		}

		cur.Offset = offset
		err = l.cursors.Replace(ctx, key, cur, nil)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, gocb.ErrCasMismatch):
			continue
		default:
			return fmt.Errorf("failed to replace cursor: %w", err)
		}
	}

	return fmt.Errorf("failed to commit cursor %s: %w", key, ErrContention)
}

func (l *Log) advanceOffset(ctx context.Context, topic string, shard int, next uint64) error {
	key := OffsetKey(topic, shard)

	for range maxCasAttempts {
		head, err := l.offsets.Get(ctx, key, nil)
		switch {
		case err == nil:
		case errors.Is(err, gocb.ErrDocumentNotFound):
			err := l.offsets.Insert(ctx, key, &Offset{ID: key, N: next}, nil)
			switch {
			case err == nil:
				return nil
			case errors.Is(err, gocb.ErrDocumentExists):
				continue
			default:
				return fmt.Errorf("failed to insert new offset: %w", err)
			}
		default:
			return fmt.Errorf("failed to get offset for topic %s shard %d: %w", topic, shard, err)
		}

		if next <= head.N {
			return nil
		}

		head.N = next
		err = l.offsets.Replace(ctx, key, head, nil)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, gocb.ErrCasMismatch):
			continue
		default:
			return fmt.Errorf("failed to replace offset: %w", err)
		}
	}

	return fmt.Errorf("failed to advance offset %s: %w", key, ErrContention)
}
