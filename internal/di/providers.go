package di

import (
	"context"
	"fmt"
	"time"

	"FxGuard/internal/domain/bounds"
	"FxGuard/internal/domain/models"
	"FxGuard/internal/domain/repository"
	"FxGuard/internal/handler/api"
	internalrepo "FxGuard/internal/repository"
	icache "FxGuard/internal/service/cache"
	"FxGuard/internal/service/ratelimit"
	"FxGuard/internal/service/sources"
	"FxGuard/internal/usecase"
	pkgcache "FxGuard/pkg/cache"
	pkgch "FxGuard/pkg/clickhouse"
	"FxGuard/pkg/config"
	xhttp "FxGuard/pkg/http"
	pkgkafka "FxGuard/pkg/kafka"
	"FxGuard/pkg/logger"
	"FxGuard/pkg/metrics"
	"FxGuard/pkg/server"
)

const initTimeout = 10 * time.Second

// ProvideLogger creates the root logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: cfg.Log.TimeFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(cfg *config.Config) repository.Metrics {
	if !cfg.Metrics.Enabled {
		return metrics.Nop{}
	}
	return metrics.New()
}

// ProvideBounds builds the range table: curated defaults overlaid with YAML.
func ProvideBounds(cfg *config.Config) (*bounds.Table, error) {
	opts := []bounds.Option{
		bounds.WithTolerance(cfg.Bounds.Tolerance),
		bounds.WithStrict(cfg.Validation.RejectUnboundedPairs),
	}
	for raw, r := range cfg.Bounds.Ranges {
		pair, err := models.ParsePair(raw)
		if err != nil {
			return nil, fmt.Errorf("bounds.ranges: %w", err)
		}
		opts = append(opts, bounds.WithRange(pair, r.Min, r.Max))
	}
	for raw, prices := range cfg.Bounds.Banned {
		pair, err := models.ParsePair(raw)
		if err != nil {
			return nil, fmt.Errorf("bounds.banned: %w", err)
		}
		opts = append(opts, bounds.WithBanned(pair, prices...))
	}
	return bounds.New(opts...), nil
}

// ProvidePairs parses the configured pair universe.
func ProvidePairs(cfg *config.Config) ([]models.CurrencyPair, error) {
	pairs, err := models.ParsePairs(cfg.Pairs)
	if err != nil {
		return nil, fmt.Errorf("pairs: %w", err)
	}
	return pairs, nil
}

// ProvideFinnhubStream returns nil when the stream is disabled.
func ProvideFinnhubStream(cfg *config.Config, pairs []models.CurrencyPair, log *logger.Logger) *sources.FinnhubStream {
	if !cfg.Finnhub.Enabled {
		return nil
	}
	return sources.NewFinnhubStream(sources.FinnhubConfig{
		APIKey:         cfg.Finnhub.APIKey,
		WebSocketURL:   cfg.Finnhub.WebSocketURL,
		Pairs:          pairs,
		ReconnectDelay: cfg.Finnhub.ReconnectDelay,
		PingInterval:   cfg.Finnhub.PingInterval,
		MaxTickAge:     cfg.Finnhub.MaxTickAge,
		Priority:       1,
	}, log)
}

func ProvideRegistry(cfg *config.Config, log *logger.Logger, stream *sources.FinnhubStream) *sources.Registry {
	return sources.NewRegistry(cfg, ratelimit.New(), log, stream)
}

// ProvideSQLiteCache opens the SQLite tier; nil when Redis is the backend.
func ProvideSQLiteCache(cfg *config.Config) (*pkgcache.SQLiteCache, error) {
	if cfg.Cache.Backend != "sqlite" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	sc, err := pkgcache.NewSQLiteCache(ctx,
		pkgcache.WithSQLitePath(cfg.Cache.Path),
		pkgcache.WithSQLiteDefaultTTL(cfg.Cache.TTL),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite cache: %w", err)
	}
	return sc, nil
}

// ProvideCacheStore puts the memory tier in front of SQLite, or Redis when no
// SQLite tier was opened.
func ProvideCacheStore(cfg *config.Config, sqlite *pkgcache.SQLiteCache) (*pkgcache.LayeredCache, error) {
	var persistent pkgcache.Service
	if sqlite != nil {
		persistent = sqlite
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
		defer cancel()

		r := cfg.Cache.Redis
		rc, err := pkgcache.NewRedisCache(ctx,
			pkgcache.WithRedisAddr(r.Addr),
			pkgcache.WithRedisPassword(r.Password),
			pkgcache.WithRedisDB(r.DB),
			pkgcache.WithRedisPool(r.PoolSize, 2),
			pkgcache.WithRedisPrefix(r.Prefix),
		)
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		persistent = rc
	}

	mem := pkgcache.NewMemoryCache(
		pkgcache.WithMemoryMaxSize(cfg.Cache.MemoryMaxSize),
		pkgcache.WithMemoryCleanup(cfg.Cache.CleanupInterval),
		pkgcache.WithMemoryDefaultTTL(cfg.Cache.TTL),
	)
	return pkgcache.NewLayeredCache(persistent,
		pkgcache.WithLayeredMemory(mem),
		pkgcache.WithLayeredBackfillTTL(cfg.Cache.TTL),
	), nil
}

func ProvidePriceCache(cfg *config.Config, store *pkgcache.LayeredCache, log *logger.Logger, m repository.Metrics) repository.PriceCache {
	return icache.NewPriceCache(store, cfg.Cache.TTL, log, m)
}

// ProvideKafkaProducer returns nil when Kafka is disabled. When the log collector
// is enabled, aggregated error lines are shipped through this producer; the
// producer's own logger is created first so it never feeds itself.
func ProvideKafkaProducer(cfg *config.Config, log *logger.Logger) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	p := cfg.Kafka.Producer
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(p.BatchSize, p.BatchBytes, p.Linger),
		pkgkafka.WithTimeouts(p.WriteTimeout, p.WriteTimeout),
		pkgkafka.WithMaxAttempts(p.MaxAttempts),
		pkgkafka.WithAsync(p.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithProducerLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	if cfg.Log.Collector.Enabled {
		log.AddCollector(&logger.CollectionConfig{
			TimeInterval:   cfg.Log.Collector.Interval,
			CountThreshold: cfg.Log.Collector.Threshold,
			Topic:          cfg.Kafka.Topics.Logs,
			Publisher:      producer,
		})
	}
	return producer, nil
}

// ProvideKafkaConsumer returns nil when Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, log *logger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	c := cfg.Kafka.Consumer
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(c.GroupID),
		pkgkafka.WithConsumerWorkers(c.Workers),
		pkgkafka.WithConsumerBufferSize(c.BufferSize),
		pkgkafka.WithConsumerRetry(c.RetryMax, c.BackoffMin, c.BackoffMax),
		pkgkafka.WithConsumerDLQ(c.DLQTopic),
		pkgkafka.WithConsumerLogger(log),
		pkgkafka.WithConsumerHook(pkgkafka.NewHookChain(pkgkafka.TraceHook{}, pkgkafka.LogHook{Log: log.With("kafka_hook")})),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideValidationStore returns nil when ClickHouse is disabled.
func ProvideValidationStore(cfg *config.Config, log *logger.Logger) (repository.ValidationStore, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	ch := cfg.ClickHouse
	client, err := pkgch.NewClient(ctx,
		pkgch.WithHost(ch.Host),
		pkgch.WithPort(ch.Port),
		pkgch.WithDatabase(ch.Database),
		pkgch.WithCredentials(ch.User, ch.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(ch.UseHTTP),
		pkgch.WithAsyncInsert(ch.AsyncInsert, ch.WaitForAsync),
		pkgch.WithTimeouts(ch.DialTimeout, ch.ReadTimeout, ch.WriteTimeout),
		pkgch.WithMaxExecutionTime(ch.MaxExecTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	store := internalrepo.NewClickHouseValidationStore(client, log)
	if err := store.Init(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return store, nil
}

func ProvideValidator(
	cfg *config.Config,
	registry *sources.Registry,
	table *bounds.Table,
	cache repository.PriceCache,
	store repository.ValidationStore,
	producer *pkgkafka.Producer,
	m repository.Metrics,
	log *logger.Logger,
) *usecase.Validator {
	opts := []usecase.ValidatorOption{usecase.WithValidatorMetrics(m)}
	if store != nil {
		opts = append(opts, usecase.WithValidationStore(store))
	}
	if producer != nil {
		opts = append(opts, usecase.WithResultPublisher(internalrepo.NewKafkaResultPublisher(producer, cfg.Kafka.Topics.ValidatedPrices)))
	}

	v := cfg.Validation
	return usecase.NewValidator(usecase.ValidatorConfig{
		MinSources:     v.MinSources,
		MaxVariance:    v.MaxVariance,
		BatchTimeout:   v.BatchTimeout,
		MaxConcurrency: v.MaxConcurrency,
		Precision:      v.Precision,
	}, registry.Adapters(), table, cache, log, opts...)
}

func ProvideEnforcer(table *bounds.Table, log *logger.Logger, m repository.Metrics) *usecase.Enforcer {
	return usecase.NewEnforcer(table, log, m)
}

// ProvideKafkaHandlers returns the signal filter when Kafka is enabled.
func ProvideKafkaHandlers(cfg *config.Config, enforcer *usecase.Enforcer, producer *pkgkafka.Producer, log *logger.Logger) []pkgkafka.MessageHandler {
	if producer == nil {
		return nil
	}
	t := cfg.Kafka.Topics
	pub := internalrepo.NewKafkaSignalPublisher(producer, t.CleanSignals, t.Rejections)
	return []pkgkafka.MessageHandler{usecase.NewSignalFilter(t.RawSignals, enforcer, pub, log)}
}

// ProvideScheduler returns nil when scheduled validation is disabled.
func ProvideScheduler(cfg *config.Config, v *usecase.Validator, pairs []models.CurrencyPair, log *logger.Logger) (*usecase.Scheduler, error) {
	if !cfg.Schedule.Enabled {
		return nil, nil
	}
	s, err := usecase.NewScheduler(usecase.SchedulerConfig{
		Specs:      cfg.Schedule.Specs,
		Timezone:   cfg.Schedule.Timezone,
		RunOnStart: cfg.Schedule.RunOnStart,
	}, v, pairs, log)
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	return s, nil
}

// ProvideHTTPServer returns nil when the API is disabled.
func ProvideHTTPServer(
	cfg *config.Config,
	v *usecase.Validator,
	enforcer *usecase.Enforcer,
	pairs []models.CurrencyPair,
	log *logger.Logger,
) *xhttp.Server {
	if !cfg.Server.Enabled {
		return nil
	}
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	handler := api.NewPricesEchoHandler(log, v, enforcer, pairs)
	return xhttp.NewServer(log, []xhttp.Handler{handler},
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(metricsPath),
	)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	httpServer *xhttp.Server,
	scheduler *usecase.Scheduler,
	consumer *pkgkafka.Consumer,
	handlers []pkgkafka.MessageHandler,
	producer *pkgkafka.Producer,
	stream *sources.FinnhubStream,
	layered *pkgcache.LayeredCache,
	sqlite *pkgcache.SQLiteCache,
	store repository.ValidationStore,
) *server.App {
	c := server.Components{
		HTTP:      httpServer,
		Scheduler: scheduler,
		Consumer:  consumer,
		Handlers:  handlers,
		Producer:  producer,
		Stream:    stream,
		Cache:     layered,
		Store:     store,
	}
	if sqlite != nil {
		c.Purger = sqlite
	}
	return server.New(cfg, log, c)
}
