package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/couchbase/gocb/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"streambridge/internal/journal"
	"streambridge/internal/kafka"
	"streambridge/internal/stream"
	"streambridge/internal/stream/metrics"
	"streambridge/internal/stream/source"
	"streambridge/internal/stream/tracing"
)

type Config struct {
	Source        string        `env:"SOURCE" envDefault:"ticker"`
	Topic         string        `env:"TOPIC" envDefault:"orders"`
	Subscriptions int           `env:"SUBSCRIPTIONS" envDefault:"4"`
	EventCount    int           `env:"EVENT_COUNT" envDefault:"100"`
	TickInterval  time.Duration `env:"TICK_INTERVAL" envDefault:"10ms"`
	GetTimeout    time.Duration `env:"GET_TIMEOUT" envDefault:"500ms"`
	MaxEmptyCount int           `env:"CONSUMER_MAX_EMPTY_COUNT" envDefault:"4"`
	LogLevel      string        `env:"LOG_LEVEL" envDefault:"info"`

	CouchbaseConnectionString string `env:"COUCHBASE_CONNECTION_STRING" envDefault:"couchbase://localhost"`
	CouchbaseUsername         string `env:"COUCHBASE_USERNAME" envDefault:"Administrator"`
	CouchbasePassword         string `env:"COUCHBASE_PASSWORD" envDefault:"password"`

	Stream        stream.Config
	Metrics       metrics.ServerConfig
	Tracing       tracing.Config
	Journal       journal.Config
	JournalSource journal.SourceConfig
	Kafka         kafka.Config
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to parse environment variables: %v", err)
	}

	config := zap.NewProductionConfig()

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Printf("invalid log level %q, defaulting to info: %v", cfg.LogLevel, err)
		zapLevel = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	logger, err := config.Build(zap.AddCaller())
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	metricsRegistry := metrics.NewRegistry()
	metricsRegistry.SetSystemInfo("e2e", time.Now().Format(time.RFC3339))

	metricsServer := metrics.NewServer(cfg.Metrics, metricsRegistry, logger)
	go func() {
		if err := metricsServer.Start(context.Background()); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	logger.Info("metrics server started",
		zap.String("endpoint", fmt.Sprintf("http://localhost:%d/metrics", cfg.Metrics.Port)),
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port)),
	)

	tracer, tracingCleanup, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingCleanup(shutdownCtx); err != nil {
			logger.Error("failed to cleanup tracing", zap.Error(err))
		}
	}()

	logger.Info("tracing initialized",
		zap.String("service", cfg.Tracing.ServiceName),
		zap.String("otlp_endpoint", cfg.Tracing.Endpoint),
		zap.Float64("sample_rate", cfg.Tracing.SampleRate),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sig:
			cancel()
		case <-ctx.Done():
		}
	}()

	baseSource, params, err := newSource(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to create %s source: %v", cfg.Source, err)
	}
	metricsSource := source.NewMetricsSource(baseSource, metricsRegistry)
	src := source.NewTracedSource(metricsSource, tracer)

	client, err := stream.NewClient(src, logger,
		stream.WithConfig(cfg.Stream),
		stream.WithObserver(metricsRegistry),
	)
	if err != nil {
		log.Fatalf("failed to create stream client: %v", err)
	}

	metricsServer.SetReady(true)

	now := time.Now()
	var handles stream.Group
	var pushed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	for i := range max(cfg.Subscriptions, 1) {
		sub := fmt.Sprintf("sub-%d", i)
		opts := []stream.SubscribeOption{stream.WithPayload(params), stream.WithParam("sub", sub)}

		if i == 0 {
			h, err := client.Subscribe(cfg.Topic, func(_ context.Context, evt stream.Event) error {
				pushed.Add(1)
				return nil
			}, append(opts, stream.WithPushOnly())...)
			if err != nil {
				log.Fatalf("failed to subscribe: %v", err)
			}
			handles.Add(h)
			g.Go(func() error {
				select {
				case <-h.Done():
				case <-gctx.Done():
				}
				return h.Err()
			})
			continue
		}

		h, err := client.Subscribe(cfg.Topic, nil, opts...)
		if err != nil {
			log.Fatalf("failed to subscribe: %v", err)
		}
		handles.Add(h)
		g.Go(func() error {
			return drain(gctx, logger, h, cfg.GetTimeout, cfg.MaxEmptyCount)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("error in subscription", zap.Error(err))
	}
	if err := handles.Stop(); err != nil {
		logger.Warn("subscriptions did not stop cleanly", zap.Error(err))
	}

	for _, h := range handles.Handles() {
		st := h.Stats()
		logger.Info("subscription finished",
			zap.String("id", st.ID),
			zap.Stringer("state", st.State),
			zap.Uint64("received", st.EventsReceived),
			zap.Uint64("callbackFailures", st.CallbackFailures),
		)
	}
	logger.Info("push subscription total", zap.Int64("events", pushed.Load()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop metrics server", zap.Error(err))
	}

	fmt.Printf("\n\n TEST COMPLETE IN %.2f seconds\n", time.Since(now).Seconds())
}

// drain pulls from h until the stream ends, ctx is done, or maxEmpty
// consecutive gets time out.
func drain(ctx context.Context, logger *zap.Logger, h *stream.Handle, timeout time.Duration, maxEmpty int) error {
	var empty int

	for {
		if ctx.Err() != nil {
			return nil
		}

		_, err := h.Get(timeout)
		switch {
		case err == nil:
			empty = 0
		case errors.Is(err, stream.ErrTimeout):
			empty++
			if empty >= maxEmpty {
				logger.Info("empty get count reached, stopping consumer", zap.String("id", h.ID()))
				return nil
			}
		case errors.Is(err, stream.ErrClosed):
			return nil
		default:
			return fmt.Errorf("subscription %s: %w", h.ID(), err)
		}
	}
}

// newSource builds the configured adapter and the payload every subscription
// is opened with.
func newSource(ctx context.Context, cfg Config, logger *zap.Logger) (stream.Source, stream.Payload, error) {
	switch cfg.Source {
	case "ticker":
		return &source.Ticker{Interval: cfg.TickInterval, Count: cfg.EventCount}, stream.Payload{"origin": "e2e"}, nil

	case "journal":
		cluster, err := newCouchbase(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to Couchbase: %w", err)
		}
		jlog, err := journal.Open(cluster, cfg.Journal)
		if err != nil {
			return nil, nil, err
		}
		if _, err := jlog.Append(ctx, cfg.Topic, 0, events(cfg.EventCount)...); err != nil {
			return nil, nil, fmt.Errorf("failed to seed journal: %w", err)
		}
		logger.Info(fmt.Sprintf("published %d events", cfg.EventCount))

		src, err := journal.NewSource(jlog, logger, cfg.JournalSource)
		return src, stream.Payload{"follow": false}, err

	case "kafka":
		src, err := kafka.NewSource(cfg.Kafka, logger)
		return src, stream.Payload{"start": "earliest"}, err

	default:
		return nil, nil, fmt.Errorf("unknown source %q", cfg.Source)
	}
}

func events(count int) []journal.Entry {
	customers := []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"}
	products := []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "10"}
	entries := make([]journal.Entry, 0, count)

	for i := 0; i < count; i++ {
		pl := map[string]any{
			"order_id":    fmt.Sprintf("ORD-%04d", i+1),
			"customer_id": customers[rand.Intn(len(customers))],
			"product_id":  products[rand.Intn(len(products))],
			"amount":      10.0 + rand.Float64()*990.0,
			"timestamp":   time.Now().Format(time.RFC3339),
		}
		entries = append(entries, journal.Entry{Event: "order", Payload: pl})
	}

	return entries
}

func newCouchbase(config Config) (*gocb.Cluster, error) {
	cluster, err := gocb.Connect(config.CouchbaseConnectionString, gocb.ClusterOptions{
		Authenticator: gocb.PasswordAuthenticator{
			Username: config.CouchbaseUsername,
			Password: config.CouchbasePassword,
		},
		TimeoutsConfig: gocb.TimeoutsConfig{
			ConnectTimeout: 10 * time.Second,
			KVTimeout:      5 * time.Second,
			QueryTimeout:   30 * time.Second,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to cluster: %w", err)
	}

	bucket := cluster.Bucket(config.Journal.Bucket)
	if err := bucket.WaitUntilReady(5*time.Second, nil); err != nil {
		return nil, fmt.Errorf("bucket not ready: %w", err)
	}

	return cluster, nil
}
