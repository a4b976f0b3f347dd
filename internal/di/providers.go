package di

import (
	"context"
	"fmt"
	"time"

	"ChargeFit/internal/domain/repository"
	"ChargeFit/internal/fit"
	"ChargeFit/internal/handler/api"
	internalrepo "ChargeFit/internal/repository"
	"ChargeFit/internal/service/ratelimit"
	"ChargeFit/internal/service/stream"
	"ChargeFit/internal/usecase"
	"ChargeFit/pkg/cache"
	pkgch "ChargeFit/pkg/clickhouse"
	"ChargeFit/pkg/config"
	pkgkafka "ChargeFit/pkg/kafka"
	applogger "ChargeFit/pkg/logger"
	"ChargeFit/pkg/metrics"
	"ChargeFit/pkg/server"
)

// ProvideLogger builds the application logger. With log.collect set, warn
// and error records are also batched to the diagnostics topic; the collector
// is attached before any component derives a child logger.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	root, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	l := root.With(applogger.String("env", cfg.Environment))
	if cfg.Log.Collect && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Log.CollectInterval,
			CountThreshold: cfg.Log.CollectCount,
			Topic:          cfg.Kafka.DiagnosticsTopic,
			Source:         "chargefit",
			Publisher:      producer,
		})
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient connects to ClickHouse and ensures the fit_results
// table. It returns nil when results are not sunk to ClickHouse.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.Results.Sink != usecase.SinkClickHouse {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithAddress(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.InitSchema(ctx, internalrepo.SchemaStatements(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideKafkaProducer creates the producer used for fit results and log
// diagnostics. It returns nil when neither needs Kafka.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if cfg.Results.Sink != usecase.SinkKafka && !cfg.Log.Collect {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

func ProvideResultStore(ch *pkgch.Client, l *applogger.Logger) repository.ResultStore {
	if ch == nil {
		return nil
	}
	return internalrepo.NewCHResultStore(ch, l.With(applogger.String("component", "result_store")))
}

func ProvideResultPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.ResultPublisher {
	if producer == nil || cfg.Results.Sink != usecase.SinkKafka {
		return nil
	}
	return internalrepo.NewKafkaResultPublisher(producer, cfg.Kafka.ResultsTopic)
}

// ProvideCache returns an in-process LRU, or an LRU in front of Redis when
// Redis is enabled so hit dedup holds across replicas.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache(), nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return cache.NewLayeredCache(rc, 1000, time.Minute), nil
}

func ProvideFitter(cfg *config.Config, l *applogger.Logger) *fit.Fitter {
	opts := []fit.Option{
		fit.WithLogger(l.With(applogger.String("component", "fitter"))),
		fit.WithChargeUncertainties(cfg.Fit.EnableVerticalChargeUncertainties),
		fit.WithMinUncertainty(cfg.Fit.MinUncertaintyValue),
		fit.WithRobustLoss(cfg.Fit.RobustLoss),
	}
	if cfg.Fit.SharedLock {
		opts = append(opts, fit.WithLocker(fit.SharedLocker()))
	}
	return fit.New(opts...)
}

// ProvideHub returns the live fit stream, or nil when streaming is off.
func ProvideHub(cfg *config.Config, l *applogger.Logger) *stream.Hub {
	if !cfg.Stream.Enabled {
		return nil
	}
	return stream.NewHub(stream.Config{
		BufferSize:   cfg.Stream.BufferSize,
		PingInterval: cfg.Stream.PingInterval,
		WriteTimeout: cfg.Stream.WriteTimeout,
	}, l.With(applogger.String("component", "stream")))
}

func ProvideFitService(
	cfg *config.Config,
	fitter *fit.Fitter,
	m repository.Metrics,
	c cache.Service,
	store repository.ResultStore,
	pub repository.ResultPublisher,
	hub *stream.Hub,
	l *applogger.Logger,
) *usecase.FitService {
	opts := []usecase.FitServiceOption{
		usecase.WithResultCache(c),
		usecase.WithSink(cfg.Results.Sink),
		usecase.WithFitSettings(usecase.FitSettings{
			FilterOutliers: cfg.Fit.FilterOutliers,
			OutlierSigma:   cfg.Fit.OutlierSigma,
			Verbose:        cfg.Fit.Verbose,
			PixelSpacing:   cfg.Fit.PixelSpacing,
			CacheTTL:       cfg.Results.CacheTTL,
		}),
		usecase.WithServiceLogger(l.With(applogger.String("component", "fit_service"))),
	}
	if store != nil {
		opts = append(opts, usecase.WithResultStore(store))
	}
	if pub != nil {
		opts = append(opts, usecase.WithResultPublisher(pub))
	}
	if hub != nil {
		opts = append(opts, usecase.WithBroadcaster(hub))
	}
	return usecase.NewFitService(fitter, m, opts...)
}

func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.Server.RateLimit.Burst, cfg.Server.RateLimit.PerSecond)
}

func ProvideFitHandler(
	cfg *config.Config,
	svc *usecase.FitService,
	rl *ratelimit.Limiter,
	store repository.ResultStore,
	hub *stream.Hub,
	l *applogger.Logger,
) *api.FitEchoHandler {
	h := api.NewFitEchoHandler(l.With(applogger.String("component", "fit_api")), svc, rl)
	if store != nil {
		h.SetHealth(store)
	}
	if hub != nil {
		h.SetStream(cfg.Stream.Path, hub)
	}
	return h
}

// ProvideKafkaConsumer creates the hits consumer. It returns nil when Kafka
// ingestion is disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.TraceHook())
	return consumer, nil
}

func ProvideHitsHandler(cfg *config.Config, svc *usecase.FitService, m repository.Metrics, l *applogger.Logger) *usecase.HitsHandler {
	return usecase.NewHitsHandler(cfg.Kafka.HitsTopic, svc, m, l.With(applogger.String("component", "hits_handler")))
}

func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	h *api.FitEchoHandler,
	consumer *pkgkafka.Consumer,
	hits *usecase.HitsHandler,
	hub *stream.Hub,
	producer *pkgkafka.Producer,
	ch *pkgch.Client,
	c cache.Service,
) *server.App {
	return server.New(cfg, l, server.Components{
		HTTPHandler: h,
		Consumer:    consumer,
		Hits:        hits,
		Hub:         hub,
		Producer:    producer,
		ClickHouse:  ch,
		Cache:       c,
	})
}
