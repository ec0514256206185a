package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/couchbase/gocb/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"routedpub/internal/couchbase"
	"routedpub/internal/credentials"
	"routedpub/internal/kafka"
	"routedpub/internal/pub"
	"routedpub/internal/pub/controller"
	"routedpub/internal/pub/metrics"
	"routedpub/internal/pub/producer"
	"routedpub/internal/pub/routing"
	"routedpub/internal/pub/tracing"
	"routedpub/internal/region"
)

const (
	backendCouchbase = "couchbase"
	backendKafka     = "kafka"
)

type Config struct {
	Backend                   string        `env:"BACKEND" envDefault:"couchbase"`
	Topic                     string        `env:"TOPIC" envDefault:"orders"`
	Region                    string        `env:"REGION" envDefault:"local-dev"`
	Partitions                int           `env:"PARTITIONS" envDefault:"4"`
	CouchbaseConnectionString string        `env:"COUCHBASE_CONNECTION_STRING"`
	CouchbaseBucketName       string        `env:"COUCHBASE_BUCKET_NAME" envDefault:"pubsub"`
	CouchbaseScopeName        string        `env:"COUCHBASE_SCOPE_NAME" envDefault:"default"`
	RecordExpiry              time.Duration `env:"RECORD_EXPIRY" envDefault:"168h"`
	EventCount                int           `env:"EVENT_COUNT" envDefault:"100"`
	PublishRounds             int           `env:"PUBLISH_ROUNDS" envDefault:"1"`
	PublishConcurrency        int           `env:"PUBLISH_CONCURRENCY" envDefault:"16"`
	ShutdownTimeout           time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	LogLevel                  string        `env:"LOG_LEVEL" envDefault:"info"`
	Profile                   bool          `env:"PROFILE" envDefault:"false"`

	Credentials credentials.Config
	Metrics     metrics.ServerConfig
	Tracing     tracing.Config
	Producer    producer.Config
	Kafka       kafka.Config
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to parse environment variables: %v", err)
	}

	if cfg.Profile {
		stop := profile()
		defer stop()
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

	loc, err := region.Parse(cfg.Region)
	if err != nil {
		logger.Fatal("invalid region", zap.Error(err))
	}

	creds, err := credentials.NewProvider(cfg.Credentials)
	if err != nil {
		logger.Fatal("failed to load credentials", zap.Error(err))
	}

	metricsRegistry := metrics.NewRegistry()
	metricsRegistry.SetSystemInfo("e2e-test", time.Now().Format(time.RFC3339))

	metricsServer := metrics.NewServer(cfg.Metrics, metricsRegistry, logger)
	go func() {
		if err := metricsServer.Start(context.Background()); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	logger.Info("metrics server started",
		zap.String("endpoint", fmt.Sprintf("http://localhost:%d/metrics", cfg.Metrics.Port)),
		zap.String("ready", fmt.Sprintf("http://localhost:%d/ready", cfg.Metrics.Port)),
	)

	tracer, tracingCleanup, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingCleanup(shutdownCtx); err != nil {
			logger.Error("failed to cleanup tracing", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sig:
			logger.Info("signal received, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	var (
		counter pub.PartitionCounter
		newPP   func(partition int) (pub.PartitionPublisher, error)
	)

	switch cfg.Backend {
	case backendCouchbase:
		cluster, bucket, err := newCouchbase(couchbaseConnectionString(cfg, loc), cfg.CouchbaseBucketName, creds)
		if err != nil {
			logger.Fatal("failed to connect to Couchbase", zap.Error(err))
		}
		defer cluster.Close(nil)

		ctlr, err := newController(cfg, cluster, bucket, metricsRegistry, tracer)
		if err != nil {
			logger.Fatal("failed to create controller", zap.Error(err))
		}

		counter = pub.FixedPartitions(cfg.Partitions)
		newPP = func(partition int) (pub.PartitionPublisher, error) {
			return producer.NewPartitionPublisher(ctlr, cfg.Topic, partition, cfg.Producer, logger)
		}

	case backendKafka:
		if len(cfg.Kafka.Brokers) == 0 {
			cfg.Kafka.Brokers = []string{loc.Endpoint("kafka") + ":9092"}
		}
		client, err := kafka.NewClient(cfg.Kafka, creds.SASLMechanism(), logger)
		if err != nil {
			logger.Fatal("failed to create kafka client", zap.Error(err))
		}
		defer client.Close()

		counter = kafka.NewPartitionCounter(client)
		newPP = func(partition int) (pub.PartitionPublisher, error) {
			return kafka.NewPartitionPublisher(client, cfg.Topic, partition, logger)
		}

	default:
		logger.Fatal("unknown backend", zap.String("backend", cfg.Backend))
	}

	factory := func(partition int) (pub.PartitionPublisher, error) {
		pp, err := newPP(partition)
		if err != nil {
			return nil, err
		}
		metricsPP := producer.NewMetricsPartitionPublisher(pp, metricsRegistry, cfg.Topic, partition)
		return producer.NewTracedPartitionPublisher(metricsPP, tracer, cfg.Topic, partition), nil
	}

	publisher, err := routing.NewPublisher(ctx, cfg.Topic, counter, factory,
		routing.WithLogger(logger),
		routing.WithMetrics(metricsRegistry),
		routing.WithCloseTimeout(cfg.ShutdownTimeout),
	)
	if err != nil {
		logger.Fatal("failed to create publisher", zap.Error(err))
	}
	if err := publisher.Start(ctx); err != nil {
		logger.Fatal("failed to start publisher", zap.Error(err))
	}
	metricsServer.SetReadinessCheck(publisher.Error)

	logger.Info("publisher started",
		zap.String("backend", cfg.Backend),
		zap.String("region", loc.String()),
		zap.String("topic", publisher.Topic()),
		zap.Int("partitions", publisher.PartitionCount()),
	)

	go func() {
		select {
		case <-publisher.Failed():
			logger.Warn("publisher degraded",
				zap.Error(publisher.Error()),
				zap.Ints("failed_partitions", publisher.FailedPartitions()),
			)
		case <-publisher.Done():
		}
	}()

	now := time.Now()
	var published, failed atomic.Int64
	for round := 0; round < cfg.PublishRounds && ctx.Err() == nil; round++ {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(cfg.PublishConcurrency, 1))

		for _, msg := range events(cfg.EventCount) {
			msg := msg
			g.Go(func() error {
				md, err := publisher.Publish(gctx, msg).Get(gctx)
				switch {
				case errors.Is(err, context.Canceled):
					return err
				case err != nil:
					failed.Add(1)
					logger.Debug("publish failed",
						zap.ByteString("key", msg.Key),
						zap.Int("partition", publisher.PartitionFor(msg)),
						zap.Error(err),
					)
				default:
					published.Add(1)
					logger.Debug("published", zap.Stringer("metadata", md))
				}
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			logger.Error("publish round interrupted", zap.Int("round", round), zap.Error(err))
		}
	}

	logger.Info("publishing complete",
		zap.Int64("published", published.Load()),
		zap.Int64("failed", failed.Load()),
		zap.Bool("healthy", publisher.IsHealthy()),
		zap.Duration("elapsed", time.Since(now)),
	)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := publisher.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down publisher", zap.Error(err))
	}
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop metrics server", zap.Error(err))
	}
}

func newController(cfg Config, cluster *gocb.Cluster, bucket *gocb.Bucket, registry *metrics.Registry, tracer *tracing.Tracer) (pub.Controller, error) {
	records, err := pub.NewRecordsStore(bucket, cfg.CouchbaseScopeName)
	if err != nil {
		return nil, fmt.Errorf("failed to create records store: %w", err)
	}
	offsets, err := pub.NewOffsetsStore(bucket, cfg.CouchbaseScopeName)
	if err != nil {
		return nil, fmt.Errorf("failed to create offsets store: %w", err)
	}
	transactions, err := couchbase.NewTransactions(cluster, cfg.Producer.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactions: %w", err)
	}

	base, err := controller.NewController(records, offsets, transactions, cfg.RecordExpiry)
	if err != nil {
		return nil, err
	}

	return controller.NewTracedController(controller.NewMetricsController(base, registry), tracer), nil
}

// events builds keyed order messages; the customer is the ordering key.
func events(count int) []pub.Message {
	customers := []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"}
	products := []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "10"}
	msgs := make([]pub.Message, 0, count)

	for i := 0; i < count; i++ {
		customerID := customers[rand.Intn(len(customers))]
		pl := map[string]any{
			"order_id":    fmt.Sprintf("ORD-%04d", i+1),
			"customer_id": customerID,
			"product_id":  products[rand.Intn(len(products))],
			"amount":      10.0 + rand.Float64()*990.0,
		}
		data, _ := json.Marshal(pl)

		msgs = append(msgs, pub.Message{
			Key:  []byte(customerID),
			Data: data,
			Attributes: map[string]string{
				"type":       "order",
				"message_id": uuid.NewString(),
			},
			EventTime: time.Now(),
		})
	}

	return msgs
}

// couchbaseConnectionString is the configured connection string, or the
// region's couchbase endpoint when none is set.
func couchbaseConnectionString(cfg Config, loc region.Region) string {
	if cfg.CouchbaseConnectionString != "" {
		return cfg.CouchbaseConnectionString
	}

	return "couchbase://" + loc.Endpoint("couchbase")
}

func newCouchbase(connStr, bucketName string, creds *credentials.Provider) (*gocb.Cluster, *gocb.Bucket, error) {
	cluster, err := gocb.Connect(connStr, gocb.ClusterOptions{
		Authenticator: creds.CouchbaseAuthenticator(),
		TimeoutsConfig: gocb.TimeoutsConfig{
			ConnectTimeout: 10 * time.Second,
			KVTimeout:      5 * time.Second,
			QueryTimeout:   30 * time.Second,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to cluster: %w", err)
	}

	bucket := cluster.Bucket(bucketName)

	err = bucket.WaitUntilReady(5*time.Second, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("bucket not ready: %w", err)
	}

	return cluster, bucket, nil
}

// profile writes cpu.pprof until the returned func is called, then mem.pprof.
func profile() func() {
	cpuProfile, err := os.Create("cpu.pprof")
	if err != nil {
		log.Fatal("could not create CPU profile: ", err)
	}
	if err := pprof.StartCPUProfile(cpuProfile); err != nil {
		log.Fatal("could not start CPU profile: ", err)
	}

	return func() {
		pprof.StopCPUProfile()
		cpuProfile.Close()

		memProfile, err := os.Create("mem.pprof")
		if err != nil {
			log.Printf("could not create memory profile: %v", err)
			return
		}
		defer memProfile.Close()
		runtime.GC()
		if err := pprof.WriteHeapProfile(memProfile); err != nil {
			log.Printf("could not write memory profile: %v", err)
		}
	}
}
