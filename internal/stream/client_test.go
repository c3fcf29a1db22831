package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil, nil)
	assert.Error(t, err)

	var nilSource SourceFunc
	_, err = NewClient(nilSource, nil)
	assert.Error(t, err)

	_, err = NewClient(listSource{}, nil, WithConfig(Config{QueueCapacity: -1}))
	assert.Error(t, err)

	c, err := NewClient(listSource{}, nil, WithConfig(Config{}))
	require.NoError(t, err)
	assert.Equal(t, defaultStopTimeout, c.config.StopTimeout)
}

// emptySource is a stateless adapter whose stream ends immediately.
type emptySource struct{}

func (emptySource) Subscribe(context.Context, string, Payload) (iterSeq, error) {
	return func(func(Event, error) bool) {}, nil
}

func TestNewClient_AcceptsStatelessSource(t *testing.T) {
	c, err := NewClient(emptySource{}, nil)
	require.NoError(t, err)

	h, err := c.Subscribe("orders", nil)
	require.NoError(t, err)

	_, err = h.Get(time.Second)
	assert.ErrorIs(t, err, ErrClosed)
	waitDone(t, h)
	assert.Equal(t, StateClosed, h.State())
}

func TestClient_SubscribeRejectsEmptyTopic(t *testing.T) {
	c := newTestClient(t, listSource{})

	h, err := c.Subscribe("", nil)
	assert.ErrorIs(t, err, ErrEmptyTopic)
	assert.Nil(t, h)
}

func TestClient_PushOnlyNeedsCallback(t *testing.T) {
	c := newTestClient(t, listSource{})

	_, err := c.Subscribe("topic", nil, WithPushOnly())
	assert.ErrorIs(t, err, ErrNoCallback)
}

func TestClient_SubscribeReturnsRunningWithoutBlocking(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, stuckSource(release))

	start := time.Now()
	h, err := c.Subscribe("topic", nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, StateRunning, h.State())
	assert.Equal(t, "topic", h.Topic())
	assert.Contains(t, h.ID(), "topic_")

	close(release)
	waitDone(t, h)
}

func TestClient_PassesPayloadToSource(t *testing.T) {
	var mu sync.Mutex
	var gotTopic string
	var gotPayload Payload

	src := SourceFunc(func(_ context.Context, topic string, payload Payload) (iterSeq, error) {
		mu.Lock()
		defer mu.Unlock()
		gotTopic, gotPayload = topic, payload
		return listSource{}.Subscribe(context.Background(), topic, payload)
	})

	caller := Payload{"shard": 1}
	h, err := newTestClient(t, src).Subscribe("orders", nil,
		WithPayload(caller),
		WithParam("sub", "analytics"),
	)
	require.NoError(t, err)
	waitDone(t, h)

	caller["shard"] = 9

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "orders", gotTopic)
	assert.Equal(t, Payload{"shard": 1, "sub": "analytics"}, gotPayload)
}

func TestClient_ConfigDefaultsApplyPerSubscription(t *testing.T) {
	c := newTestClient(t, listSource{}, WithConfig(Config{StopTimeout: time.Second, QueueCapacity: 3}))

	h, err := c.Subscribe("topic", nil, WithStopTimeout(time.Minute))
	require.NoError(t, err)
	waitDone(t, h)

	assert.Equal(t, time.Minute, h.stopTimeout)
	assert.Equal(t, 3, h.queue.limit)
}
