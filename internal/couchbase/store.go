// Package couchbase provides a generic abstraction layer over the Couchbase Go SDK.
// It offers type-safe document operations with CAS handling and context support.
package couchbase

import (
	"context"
	"errors"
	"fmt"

	"github.com/couchbase/gocb/v2"
)

// Store is a typed view of one Couchbase collection. Documents whose type
// embeds Cas get their CAS value filled in on reads and writes.
type Store[T any] struct {
	cluster    *gocb.Cluster
	collection *gocb.Collection
}

// NewStore creates a typed store for a collection.
func NewStore[T any](cluster *gocb.Cluster, collection *gocb.Collection) (*Store[T], error) {
	if cluster == nil || collection == nil {
		return nil, errors.New("invalid Couchbase parameters: cluster and collection must not be nil")
	}

	return &Store[T]{
		cluster:    cluster,
		collection: collection,
	}, nil
}

// Insert creates a new document. The error wraps gocb.ErrDocumentExists when
// the key is taken.
func (s *Store[T]) Insert(ctx context.Context, key string, value *T, opts *gocb.InsertOptions) error {
	if opts == nil {
		opts = new(gocb.InsertOptions)
	}
	opts.Context = ctx

	res, err := s.collection.Insert(key, value, opts)
	if err != nil {
		return fmt.Errorf("failed to insert document with key %s: %w", key, err)
	}
	setCas(value, res.Cas())

	return nil
}

// Get retrieves and decodes a document. The error wraps
// gocb.ErrDocumentNotFound when the key is absent.
func (s *Store[T]) Get(ctx context.Context, key string, opts *gocb.GetOptions) (*T, error) {
	if opts == nil {
		opts = new(gocb.GetOptions)
	}
	opts.Context = ctx

	res, err := s.collection.Get(key, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get document with key %s: %w", key, err)
	}

	var v T
	if err := res.Content(&v); err != nil {
		return nil, fmt.Errorf("failed to parse document content for key %s: %w", key, err)
	}
	setCas(&v, res.Cas())

	return &v, nil
}

// Replace overwrites an existing document. When value carries a CAS from an
// earlier read, the write only succeeds if the document is unchanged; the
// error then wraps gocb.ErrCasMismatch.
func (s *Store[T]) Replace(ctx context.Context, key string, value *T, opts *gocb.ReplaceOptions) error {
	if opts == nil {
		opts = new(gocb.ReplaceOptions)
	}
	opts.Context = ctx
	if g, ok := any(value).(CasGetter); ok && opts.Cas == 0 {
		opts.Cas = gocb.Cas(g.GetCas())
	}

	res, err := s.collection.Replace(key, value, opts)
	if err != nil {
		return fmt.Errorf("failed to replace document with key %s: %w", key, err)
	}
	setCas(value, res.Cas())

	return nil
}

// Query executes a SQL++ query and decodes each row into T.
func (s *Store[T]) Query(ctx context.Context, statement string, opts *gocb.QueryOptions) ([]T, error) {
	if opts == nil {
		opts = new(gocb.QueryOptions)
	}
	opts.Context = ctx

	result, err := s.cluster.Query(statement, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer result.Close()

	var items []T
	for result.Next() {
		var item T
		if err := result.Row(&item); err != nil {
			return nil, fmt.Errorf("failed to parse query row: %w", err)
		}
		items = append(items, item)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to read query results: %w", err)
	}

	return items, nil
}

// Collection returns the underlying Couchbase collection for advanced operations.
func (s *Store[T]) Collection() *gocb.Collection {
	return s.collection
}

func setCas(v any, cas gocb.Cas) {
	if s, ok := v.(CasSetter); ok {
		s.SetCas(uint64(cas))
	}
}
