package di

import (
	"context"
	"fmt"
	"time"

	"QuantPipe/internal/domain/models"
	domrepo "QuantPipe/internal/domain/repository"
	"QuantPipe/internal/handler/api"
	"QuantPipe/internal/repository"
	"QuantPipe/internal/repository/memory"
	"QuantPipe/internal/scheduler"
	"QuantPipe/internal/service/polygon"
	"QuantPipe/internal/usecase"
	"QuantPipe/pkg/cache"
	pkgch "QuantPipe/pkg/clickhouse"
	"QuantPipe/pkg/config"
	pkgkafka "QuantPipe/pkg/kafka"
	"QuantPipe/pkg/logger"
	"QuantPipe/pkg/metrics"
	"QuantPipe/pkg/postgres"
	"QuantPipe/pkg/queue"
	"QuantPipe/pkg/server"
	"QuantPipe/pkg/util"
)

// ProvideLogger creates the process logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(logger.String("env", cfg.Environment)), nil
}

// ProvideMetrics registers the pipeline metrics on the default registry,
// which the HTTP server exposes on /metrics.
func ProvideMetrics() domrepo.Metrics {
	return metrics.New(nil)
}

// ProvideStore opens the configured store and applies the schema.
func ProvideStore(ctx context.Context, cfg *config.Config, l *logger.Logger) (domrepo.Store, func(), error) {
	if cfg.Storage.Driver != "postgres" {
		l.Warn("using in-memory store, data is lost on exit")
		st := memory.New()
		return st, func() { _ = st.Close() }, nil
	}

	client, err := postgres.NewClient(ctx,
		postgres.WithURL(cfg.Postgres.URL),
		postgres.WithPool(cfg.Postgres.MaxConns, cfg.Postgres.MinConns),
		postgres.WithLifetimes(cfg.Postgres.MaxConnLifetime, cfg.Postgres.MaxConnIdleTime),
		postgres.WithConnectTimeout(cfg.Postgres.ConnectTimeout),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres client: %w", err)
	}
	st := repository.NewPGStore(client, l)
	if cfg.Postgres.Migrate {
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, nil, fmt.Errorf("postgres migrate: %w", err)
		}
	}
	cleanup := func() {
		if err := st.Close(); err != nil {
			l.Warn("postgres close error", logger.Error(err))
		}
	}
	return st, cleanup, nil
}

// ProvideRedisCache connects to Redis. It returns nil when Redis is disabled.
func ProvideRedisCache(cfg *config.Config, l *logger.Logger) (*cache.RedisCache, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, func() {}, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	cleanup := func() {
		if err := rc.Close(); err != nil {
			l.Warn("redis close error", logger.Error(err))
		}
	}
	return rc, cleanup, nil
}

// ProvideCache layers an in-process cache over Redis when Redis is enabled.
// Without Redis, locks and cached reports stay local to this process.
func ProvideCache(rc *cache.RedisCache) (cache.Service, func()) {
	if rc == nil {
		mc := cache.NewMemoryCache()
		return mc, func() { _ = mc.Close() }
	}
	lc := cache.NewLayeredCache(rc)
	return lc, func() { _ = lc.Close() }
}

// ProvideLocker guards stage execution through the cache's lock primitive.
func ProvideLocker(c cache.Service) domrepo.Locker {
	return c
}

// ProvideKafkaProducer creates a Kafka producer. It returns nil when Kafka
// is disabled.
func ProvideKafkaProducer(cfg *config.Config, l *logger.Logger) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	cleanup := func() {
		if err := producer.Close(); err != nil {
			l.Warn("kafka producer close error", logger.Error(err))
		}
	}
	return producer, cleanup, nil
}

// ProvidePublisher publishes to Kafka when a producer exists and drops
// events otherwise. With log collection on, aggregated error logs go to
// the logs topic through the same producer.
func ProvidePublisher(cfg *config.Config, producer *pkgkafka.Producer, l *logger.Logger) (domrepo.EventPublisher, func()) {
	if producer == nil {
		return repository.NoopPublisher{}, func() {}
	}
	pub := repository.NewKafkaPublisher(producer, repository.Topics{
		Signals: cfg.Kafka.Topics.Signals,
		Reports: cfg.Kafka.Topics.Reports,
		Events:  cfg.Kafka.Topics.Events,
		Logs:    cfg.Kafka.Topics.Logs,
	})
	if !cfg.Log.Collect {
		return pub, func() {}
	}
	l.AddCollector(&logger.CollectionConfig{
		FlushInterval:  cfg.Log.FlushInterval,
		MaxEntries:     cfg.Log.FlushCount,
		MinLevel:       cfg.Log.CollectLevel,
		PublishTimeout: cfg.Kafka.Producer.WriteTimeout,
		Topic:          cfg.Kafka.Topics.Logs,
		Publisher:      pub,
	})
	// the producer is closed by its own cleanup
	return pub, l.RemoveCollector
}

// ProvideClickHouseClient connects to ClickHouse and creates the mirror
// tables. It returns nil when the mirror is disabled.
func ProvideClickHouseClient(ctx context.Context, cfg *config.Config, l *logger.Logger) (*pkgch.Client, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, func() {}, nil
	}
	client, err := pkgch.NewClient(ctx,
		pkgch.WithAddr(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithPool(10, 5, 5*time.Minute),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.InitSchema(schemaCtx, repository.ClickHouseSchema(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	cleanup := func() {
		if err := client.Close(); err != nil {
			l.Warn("clickhouse close error", logger.Error(err))
		}
	}
	return client, cleanup, nil
}

// ProvideMirror returns a nil interface when ClickHouse is disabled so the
// stages skip mirroring.
func ProvideMirror(cfg *config.Config, ch *pkgch.Client, l *logger.Logger) domrepo.BarMirror {
	if ch == nil {
		return nil
	}
	return repository.NewCHMirror(ch, cfg.ClickHouse.Database, l)
}

// ProvideMarketData creates the Polygon client.
func ProvideMarketData(cfg *config.Config, m domrepo.Metrics, l *logger.Logger) domrepo.MarketDataProvider {
	return polygon.New(polygon.Config{
		APIKey:            cfg.Polygon.APIKey,
		BaseURL:           cfg.Polygon.BaseURL,
		RequestsPerMinute: cfg.Polygon.RequestsPerMinute,
		MaxRetries:        cfg.Polygon.MaxRetries,
		BackoffBase:       cfg.Polygon.BackoffBase,
		BackoffMax:        cfg.Polygon.BackoffMax,
		Timeout:           cfg.Polygon.Timeout,
	}, l.With(logger.String("component", "polygon")), polygon.WithRecorder(m))
}

// universeFromConfig maps configured tickers to universe entries.
func universeFromConfig(cfg *config.Config) []models.UniverseSymbol {
	out := make([]models.UniverseSymbol, 0, len(cfg.Universe.Symbols))
	for _, s := range cfg.Universe.Symbols {
		sym := util.NormalizeSymbol(s)
		out = append(out, models.UniverseSymbol{
			Symbol: sym,
			Sector: cfg.Universe.Sectors[sym],
			Active: true,
		})
	}
	return out
}

// modelsFromConfig maps configured models. Active defaults to true.
func modelsFromConfig(cfg *config.Config) []models.Model {
	out := make([]models.Model, 0, len(cfg.Models))
	for _, mc := range cfg.Models {
		m := models.Model{
			Name:       mc.Name,
			Version:    mc.Version,
			Type:       mc.Type,
			Parameters: mc.Parameters,
			Active:     true,
		}
		if m.Type == "" {
			m.Type = models.ModelTypeMomentum
		}
		if m.Version == "" {
			m.Version = "1.0"
		}
		if mc.Active != nil {
			m.Active = *mc.Active
		}
		out = append(out, m)
	}
	return out
}

func ProvideIngestor(cfg *config.Config, provider domrepo.MarketDataProvider, store domrepo.Store, mirror domrepo.BarMirror, m domrepo.Metrics, l *logger.Logger) *usecase.Ingestor {
	return usecase.NewIngestor(provider, store, mirror, m, l.With(logger.String("stage", "ingestion")), usecase.IngestionConfig{
		Universe:     universeFromConfig(cfg),
		Workers:      cfg.Pipeline.Workers,
		BackfillDays: cfg.Universe.BackfillDays,
	})
}

func ProvideFeatureBuilder(cfg *config.Config, store domrepo.Store, m domrepo.Metrics, l *logger.Logger) *usecase.FeatureBuilder {
	return usecase.NewFeatureBuilder(store, m, l.With(logger.String("stage", "features")), usecase.FeatureConfig{
		FeatureSet:   cfg.Pipeline.FeatureSet,
		LookbackDays: cfg.Pipeline.LookbackDays,
		Workers:      cfg.Pipeline.Workers,
	})
}

func ProvideQualityChecker(cfg *config.Config, store domrepo.Store, pub domrepo.EventPublisher, m domrepo.Metrics, l *logger.Logger) *usecase.QualityChecker {
	return usecase.NewQualityChecker(store, pub, m, l.With(logger.String("stage", "quality")), usecase.QualityConfig{
		FeatureSet:       cfg.Pipeline.FeatureSet,
		MinCompleteness:  cfg.Quality.MinCompleteness,
		MaxStalenessDays: cfg.Quality.MaxStalenessDays,
	})
}

func ProvideSignalGenerator(cfg *config.Config, store domrepo.Store, pub domrepo.EventPublisher, mirror domrepo.BarMirror, m domrepo.Metrics, l *logger.Logger) *usecase.SignalGenerator {
	return usecase.NewSignalGenerator(store, pub, mirror, m, l.With(logger.String("stage", "signals")), usecase.SignalConfig{
		FeatureSet:     cfg.Pipeline.FeatureSet,
		EmitHold:       cfg.Pipeline.EmitHold,
		MinSuccessRate: cfg.Pipeline.MinSuccessRate,
	})
}

func ProvidePerformanceEvaluator(cfg *config.Config, store domrepo.Store, pub domrepo.EventPublisher, m domrepo.Metrics, l *logger.Logger) *usecase.PerformanceEvaluator {
	return usecase.NewPerformanceEvaluator(store, pub, m, l.With(logger.String("stage", "performance")), usecase.PerformanceConfig{
		WindowDays:        cfg.Performance.WindowDays,
		HoldingDays:       cfg.Performance.HoldingDays,
		MinSignals:        cfg.Performance.MinSignals,
		UnderperformBelow: cfg.Performance.UnderperformBelow,
	})
}

func ProvideQuery(cfg *config.Config, store domrepo.Store, c cache.Service, l *logger.Logger) *usecase.QueryUseCase {
	return usecase.NewQueryUseCase(store, c, cfg.Redis.ReportCacheTTL, l.With(logger.String("component", "query")))
}

// ProvideRunner wires every stage into the runner. Cached reports are
// dropped whenever the performance stage writes a new one.
func ProvideRunner(
	cfg *config.Config,
	store domrepo.Store,
	locker domrepo.Locker,
	pub domrepo.EventPublisher,
	m domrepo.Metrics,
	l *logger.Logger,
	ing *usecase.Ingestor,
	fb *usecase.FeatureBuilder,
	qc *usecase.QualityChecker,
	sg *usecase.SignalGenerator,
	pe *usecase.PerformanceEvaluator,
	query *usecase.QueryUseCase,
) (*usecase.Runner, error) {
	loc, err := cfg.MarketLocation()
	if err != nil {
		return nil, err
	}
	r := usecase.NewRunner(store, locker, pub, m, l.With(logger.String("component", "runner")), usecase.RunnerConfig{
		MaxAttempts: cfg.Pipeline.MaxAttempts,
		BackoffBase: cfg.Pipeline.BackoffBase,
		BackoffMax:  cfg.Pipeline.BackoffMax,
		LockTTL:     cfg.Pipeline.LockTTL,
		Location:    loc,
	}, usecase.Stages{
		Ingestion:   ing,
		Features:    fb,
		Quality:     qc,
		Signals:     sg,
		Performance: pe,
	})
	r.AfterStage(models.StagePerformance, query.InvalidateReports)
	return r, nil
}

// ProvideQueue creates the Redis run queue. It returns nil unless both the
// queue and Redis are enabled.
func ProvideQueue(cfg *config.Config, rc *cache.RedisCache, runner *usecase.Runner, l *logger.Logger) *queue.RedisQueue {
	if !cfg.Queue.Enabled || rc == nil {
		return nil
	}
	ql := l.With(logger.String("component", "queue"))
	q := queue.NewRedisQueue(ql, queue.QueueConfig{
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
		JobTimeout: cfg.Queue.JobTimeout,
	}, rc.Client(), queue.WithKeyPrefix(cfg.Redis.Prefix+":queue"))
	q.RegisterJob(usecase.NewPipelineRunJob(runner, ql))
	return q
}

// Dispatchers is the pair ProvideDispatcher picks from. Inline is always
// set so shutdown can wait on in-process runs.
type Dispatchers struct {
	Active usecase.Dispatcher
	Inline *usecase.InlineDispatcher
}

// ProvideDispatcher enqueues runs when a queue exists and runs them in
// process otherwise. In-process runs are cancelled with ctx.
func ProvideDispatcher(ctx context.Context, runner *usecase.Runner, q *queue.RedisQueue, l *logger.Logger) Dispatchers {
	inline := usecase.NewInlineDispatcher(ctx, runner, l.With(logger.String("component", "dispatcher")))
	if q != nil {
		return Dispatchers{Active: usecase.NewQueueDispatcher(q), Inline: inline}
	}
	return Dispatchers{Active: inline, Inline: inline}
}

// ProvideScheduler returns nil when scheduling is disabled.
func ProvideScheduler(cfg *config.Config, d Dispatchers, l *logger.Logger) (*scheduler.Scheduler, error) {
	if !cfg.Pipeline.ScheduleEnabled {
		return nil, nil
	}
	s, err := scheduler.New(cfg.Pipeline.Schedule, cfg.Pipeline.Timezone, d.Active, l.With(logger.String("component", "scheduler")))
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	return s, nil
}

func ProvideHandler(cfg *config.Config, query *usecase.QueryUseCase, d Dispatchers, l *logger.Logger) (*api.PipelineEchoHandler, error) {
	loc, err := cfg.MarketLocation()
	if err != nil {
		return nil, err
	}
	return api.NewPipelineEchoHandler(l.With(logger.String("component", "api")), query, d.Active, loc), nil
}

// ProvideAlertConsumer consumes pipeline events and raises alerts. It
// returns nil unless Kafka and the consumer are enabled.
func ProvideAlertConsumer(cfg *config.Config, m domrepo.Metrics, l *logger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || !cfg.Kafka.Consumer.Enabled {
		return nil, nil
	}
	cl := l.With(logger.String("component", "alerts"))
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(cl),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(pkgkafka.TraceHook{}, pkgkafka.LogHook{Logger: cl}))
	consumer.RegisterHandler(usecase.NewAlertHandler(cfg.Kafka.Topics.Events, m, cl))
	return consumer, nil
}

// ProvideApp assembles the application.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	store domrepo.Store,
	runner *usecase.Runner,
	d Dispatchers,
	q *queue.RedisQueue,
	sched *scheduler.Scheduler,
	handler *api.PipelineEchoHandler,
	consumer *pkgkafka.Consumer,
) *server.App {
	return server.New(cfg, l, server.Components{
		Store:      store,
		Runner:     runner,
		Dispatcher: d.Active,
		Inline:     d.Inline,
		Queue:      q,
		Scheduler:  sched,
		Handler:    handler,
		Consumer:   consumer,
		Models:     modelsFromConfig(cfg),
	})
}
