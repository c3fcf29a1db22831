package stream

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"streambridge/internal/validator"
)

const defaultStopTimeout = 5 * time.Second

// Config holds the per-subscription defaults of a Client.
type Config struct {
	StopTimeout   time.Duration `env:"STREAM_STOP_TIMEOUT" envDefault:"5s"`
	QueueCapacity int           `env:"STREAM_QUEUE_CAPACITY" envDefault:"0"`
}

// Client opens subscriptions against a single source. It keeps no record of
// the handles it returns.
type Client struct {
	source   Source
	logger   *zap.Logger
	observer Observer
	config   Config
}

type ClientOption func(*Client)

// WithObserver reports lifecycle and delivery activity to o.
func WithObserver(o Observer) ClientOption {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithConfig replaces the subscription defaults.
func WithConfig(cfg Config) ClientOption {
	return func(c *Client) {
		c.config = cfg
	}
}

func NewClient(src Source, logger *zap.Logger, opts ...ClientOption) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := Client{
		source:   src,
		logger:   logger.Named("stream"),
		observer: nopObserver{},
		config:   Config{StopTimeout: defaultStopTimeout},
	}
	for _, opt := range opts {
		opt(&c)
	}

	if err := validator.Validate("stream client", c.source); err != nil {
		return nil, fmt.Errorf("failed to validate stream client deps: %w", err)
	}
	if c.config.StopTimeout <= 0 {
		c.config.StopTimeout = defaultStopTimeout
	}
	if c.config.QueueCapacity < 0 {
		return nil, fmt.Errorf("queue capacity must not be negative, got %d", c.config.QueueCapacity)
	}

	return &c, nil
}

type subscribeOptions struct {
	payload       Payload
	stopTimeout   time.Duration
	queueCapacity int
	pushOnly      bool
}

type SubscribeOption func(*subscribeOptions)

// WithPayload merges p into the parameters passed to the source.
func WithPayload(p Payload) SubscribeOption {
	return func(o *subscribeOptions) {
		maps.Copy(o.payload, p)
	}
}

// WithParam sets a single source parameter.
func WithParam(key string, value any) SubscribeOption {
	return func(o *subscribeOptions) {
		o.payload[key] = value
	}
}

// WithStopTimeout bounds how long Stop waits for the producer goroutine.
func WithStopTimeout(d time.Duration) SubscribeOption {
	return func(o *subscribeOptions) {
		if d > 0 {
			o.stopTimeout = d
		}
	}
}

// WithQueueCapacity bounds the delivery queue; the producer waits for the
// reader once n events are pending. Zero means unbounded.
func WithQueueCapacity(n int) SubscribeOption {
	return func(o *subscribeOptions) {
		if n >= 0 {
			o.queueCapacity = n
		}
	}
}

// WithPushOnly delivers events to the callback only. Get still reports the
// end of the stream and source failures.
func WithPushOnly() SubscribeOption {
	return func(o *subscribeOptions) {
		o.pushOnly = true
	}
}

// Subscribe starts a subscription to topic and returns its handle right away.
// The source is opened on the new producer goroutine, so an unknown topic
// surfaces later through Get. callback may be nil.
func (c *Client) Subscribe(topic string, callback Callback, opts ...SubscribeOption) (*Handle, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}

	o := subscribeOptions{
		payload:       Payload{},
		stopTimeout:   c.config.StopTimeout,
		queueCapacity: c.config.QueueCapacity,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.pushOnly && callback == nil {
		return nil, ErrNoCallback
	}

	id := topic + "_" + uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		id:          id,
		topic:       topic,
		callback:    callback,
		pushOnly:    o.pushOnly,
		stopTimeout: o.stopTimeout,
		logger:      c.logger.With(zap.String("topic", topic), zap.String("subscription", id)),
		observer:    c.observer,
		queue:       newQueue(o.queueCapacity),
		cancel:      cancel,
		done:        make(chan struct{}),
		createdAt:   time.Now().UTC(),
	}
	h.state.Store(int32(StateRunning))

	c.observer.SubscriptionStarted(topic)
	h.logger.Info("subscription started", zap.Bool("callback", callback != nil), zap.Bool("pushOnly", o.pushOnly))

	go h.run(ctx, c.source, o.payload)

	return h, nil
}
