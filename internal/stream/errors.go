package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned by Get when no event arrived in time and the
	// stream is still open.
	ErrTimeout = errors.New("timed out waiting for event")
	// ErrClosed is returned by Get once the stream ended or was stopped.
	ErrClosed = errors.New("subscription closed")
	// ErrSource matches every *SourceError via errors.Is.
	ErrSource = errors.New("subscription source failed")
	// ErrStopTimeout is returned by Stop when the producer goroutine is still
	// inside the source after the stop bound.
	ErrStopTimeout = errors.New("subscription did not stop in time")
	// ErrEmptyTopic is returned by Subscribe for an empty topic.
	ErrEmptyTopic = errors.New("topic must not be empty")
	// ErrNoCallback is returned by Subscribe for a push-only subscription
	// without a callback.
	ErrNoCallback = errors.New("push-only subscription requires a callback")
)

// SourceError carries the error raised by the source of a subscription.
type SourceError struct {
	Topic string
	Err   error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source failed for topic %s: %v", e.Topic, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

func (e *SourceError) Is(target error) bool {
	return target == ErrSource
}
