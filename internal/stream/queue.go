package stream

import (
	"context"
	"errors"
	"sync"
)

var errQueueDiscarded = errors.New("delivery queue discarded")

type entryKind uint8

const (
	entryEvent entryKind = iota
	entryClosed
	entryError
)

type entry struct {
	kind  entryKind
	event Event
	err   error
}

// queue is the FIFO between one producer goroutine and one reader. A limit
// of zero leaves it unbounded. Sentinels are never held back by the limit.
type queue struct {
	mu        sync.Mutex
	items     []entry
	limit     int
	discarded bool

	// single-slot wakeups; a stale token only causes one extra check
	ready chan struct{}
	space chan struct{}
}

func newQueue(limit int) *queue {
	return &queue{
		limit: limit,
		ready: make(chan struct{}, 1),
		space: make(chan struct{}, 1),
	}
}

func (q *queue) push(ctx context.Context, e entry) error {
	for {
		q.mu.Lock()
		if q.discarded {
			q.mu.Unlock()
			return errQueueDiscarded
		}
		if q.limit <= 0 || len(q.items) < q.limit || e.kind != entryEvent {
			q.items = append(q.items, e)
			q.mu.Unlock()
			notify(q.ready)
			return nil
		}
		q.mu.Unlock()

		select {
		case <-q.space:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pop removes the head event. The closed sentinel stays at the head so every
// later pop sees it; the error sentinel is handed out once and then replaced
// by a closed sentinel.
func (q *queue) pop(ctx context.Context) (entry, error) {
	for {
		q.mu.Lock()
		if q.discarded {
			q.mu.Unlock()
			return entry{kind: entryClosed}, nil
		}
		if len(q.items) > 0 {
			e := q.items[0]
			switch e.kind {
			case entryEvent:
				q.items[0] = entry{}
				q.items = q.items[1:]
			case entryError:
				q.items[0] = entry{kind: entryClosed}
			}
			q.mu.Unlock()
			notify(q.space)
			return e, nil
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return entry{}, ctx.Err()
		}
	}
}

// discard drops everything queued and turns the queue into a permanently
// closed one. Blocked push and pop calls return.
func (q *queue) discard() {
	q.mu.Lock()
	q.items = nil
	q.discarded = true
	q.mu.Unlock()

	notify(q.ready)
	notify(q.space)
}

// size counts pending events. Sentinels are not included.
func (q *queue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, e := range q.items {
		if e.kind == entryEvent {
			n++
		}
	}
	return n
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
