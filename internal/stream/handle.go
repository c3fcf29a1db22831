package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Handle is one active subscription. It owns a single producer goroutine and
// a single delivery queue. Get is meant for one reader at a time; Stop and the
// status accessors are safe from any goroutine.
type Handle struct {
	id          string
	topic       string
	callback    Callback
	pushOnly    bool
	stopTimeout time.Duration

	logger   *zap.Logger
	observer Observer
	queue    *queue

	state    atomic.Int32
	stopping atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}

	stopOnce sync.Once
	stopErr  error

	received         atomic.Uint64
	callbackFailures atomic.Uint64

	createdAt time.Time

	mu          sync.Mutex
	err         error
	lastEventAt time.Time
}

// Stats is a point-in-time snapshot of a handle. Queued counts the events
// waiting for Get; end-of-stream and error markers are not included.
type Stats struct {
	ID               string
	Topic            string
	State            State
	CreatedAt        time.Time
	LastEventAt      time.Time
	EventsReceived   uint64
	CallbackFailures uint64
	Queued           int
	Err              error
}

func (h *Handle) ID() string    { return h.id }
func (h *Handle) Topic() string { return h.topic }

// State returns the current lifecycle state without blocking.
func (h *Handle) State() State {
	return State(h.state.Load())
}

// Err returns the recorded source failure, if any.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Done is closed once the producer goroutine has returned.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) Stats() Stats {
	h.mu.Lock()
	err, last := h.err, h.lastEventAt
	h.mu.Unlock()

	return Stats{
		ID:               h.id,
		Topic:            h.topic,
		State:            h.State(),
		CreatedAt:        h.createdAt,
		LastEventAt:      last,
		EventsReceived:   h.received.Load(),
		CallbackFailures: h.callbackFailures.Load(),
		Queued:           h.queue.size(),
		Err:              err,
	}
}

// Get waits up to timeout for the next event. A timeout of zero or less only
// checks what is already queued.
func (h *Handle) Get(timeout time.Duration) (Event, error) {
	ctx, cancel := context.WithTimeout(context.Background(), max(timeout, 0))
	defer cancel()

	return h.GetContext(ctx)
}

// GetContext waits for the next event until ctx is done. It returns
// ErrTimeout when the ctx deadline passes, ErrClosed at the end of the
// stream, and a *SourceError exactly once if the source failed.
func (h *Handle) GetContext(ctx context.Context) (Event, error) {
	e, err := h.queue.pop(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			h.observer.GetCompleted(h.topic, OutcomeTimeout)
			return nil, ErrTimeout
		}
		h.observer.GetCompleted(h.topic, OutcomeCanceled)
		return nil, err
	}

	switch e.kind {
	case entryEvent:
		h.observer.GetCompleted(h.topic, OutcomeEvent)
		return e.event, nil
	case entryError:
		h.observer.GetCompleted(h.topic, OutcomeError)
		return nil, e.err
	default:
		h.observer.GetCompleted(h.topic, OutcomeClosed)
		return nil, ErrClosed
	}
}

// Stop ends the subscription. It is safe to call any number of times; every
// call returns the result of the first. Stop waits for the producer goroutine
// for at most the stop timeout and returns ErrStopTimeout if the source is
// still blocked after that, in which case the goroutine exits whenever the
// source next yields.
func (h *Handle) Stop() error {
	h.stopOnce.Do(func() {
		h.stopping.Store(true)
		h.cancel()
		if h.transition(StateStopped) {
			h.logger.Debug("stopping subscription")
		}
		h.queue.discard()

		timer := time.NewTimer(h.stopTimeout)
		defer timer.Stop()

		select {
		case <-h.done:
		case <-timer.C:
			h.stopErr = fmt.Errorf("%w after %s", ErrStopTimeout, h.stopTimeout)
			h.logger.Warn("producer still blocked in source, leaving it behind",
				zap.Duration("stopTimeout", h.stopTimeout))
		}
	})

	return h.stopErr
}

// transition moves to a terminal state unless one was reached already.
func (h *Handle) transition(to State) bool {
	for {
		cur := State(h.state.Load())
		if cur.Terminal() {
			return false
		}
		if h.state.CompareAndSwap(int32(cur), int32(to)) {
			return true
		}
	}
}

// run is the producer goroutine body.
func (h *Handle) run(ctx context.Context, src Source, payload Payload) {
	defer h.finish()

	err := h.produce(ctx, src, payload)
	switch {
	case h.stopping.Load():
		// whatever the source did after Stop is not observable
	case err != nil:
		h.fail(err)
	default:
		if h.transition(StateClosed) {
			h.logger.Debug("source exhausted, subscription closed")
			_ = h.queue.push(ctx, entry{kind: entryClosed})
		}
	}
}

func (h *Handle) produce(ctx context.Context, src Source, payload Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("source panicked: %v", r)
		}
	}()

	seq, err := src.Subscribe(ctx, h.topic, payload)
	if err != nil {
		return err
	}

	for evt, err := range seq {
		if h.stopping.Load() {
			return nil
		}
		if err != nil {
			return err
		}
		if err := h.deliver(ctx, evt); err != nil {
			return err
		}
	}

	return nil
}

func (h *Handle) deliver(ctx context.Context, evt Event) error {
	h.received.Add(1)
	h.mu.Lock()
	h.lastEventAt = time.Now().UTC()
	h.mu.Unlock()

	if h.callback != nil {
		h.invoke(ctx, evt)
	}

	if !h.pushOnly {
		if err := h.queue.push(ctx, entry{kind: entryEvent, event: evt}); err != nil {
			return err
		}
	}

	h.observer.EventDelivered(h.topic)
	return nil
}

func (h *Handle) invoke(ctx context.Context, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			h.callbackFailed(fmt.Errorf("callback panicked: %v", r))
		}
	}()

	if err := h.callback(ctx, evt); err != nil {
		h.callbackFailed(err)
	}
}

func (h *Handle) callbackFailed(err error) {
	h.callbackFailures.Add(1)
	h.observer.CallbackFailed(h.topic)
	h.logger.Warn("subscription callback failed", zap.Error(err))
}

func (h *Handle) fail(err error) {
	srcErr := &SourceError{Topic: h.topic, Err: err}

	// a Stop that won the race owns the final state and the error is dropped
	h.mu.Lock()
	errored := h.transition(StateErrored)
	if errored {
		h.err = srcErr
	}
	h.mu.Unlock()

	if errored {
		h.logger.Error("subscription source failed", zap.Error(err))
		_ = h.queue.push(context.Background(), entry{kind: entryError, err: srcErr})
	}
}

func (h *Handle) finish() {
	if h.stopping.Load() {
		h.transition(StateStopped)
	}

	state := h.State()
	h.observer.SubscriptionEnded(h.topic, state.String(), time.Since(h.createdAt))
	h.logger.Debug("producer exited",
		zap.Stringer("state", state),
		zap.Uint64("received", h.received.Load()),
	)

	close(h.done)
}
