// Package bootstrap wires the shared clients every binary needs: logger,
// Redis, the store backend, the task queue and the signal bus.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iago/autoconnect-pipeline/internal/aggregator"
	"github.com/iago/autoconnect-pipeline/internal/cache"
	"github.com/iago/autoconnect-pipeline/internal/config"
	"github.com/iago/autoconnect-pipeline/internal/coordinator"
	"github.com/iago/autoconnect-pipeline/internal/dataset"
	"github.com/iago/autoconnect-pipeline/internal/events"
	"github.com/iago/autoconnect-pipeline/internal/logging"
	"github.com/iago/autoconnect-pipeline/internal/queue"
	"github.com/iago/autoconnect-pipeline/internal/repository"
	"github.com/iago/autoconnect-pipeline/internal/service"
	"github.com/iago/autoconnect-pipeline/internal/worker"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var ErrSharedStateRequired = errors.New("REDIS_ADDR is required when running as a separate process")

const pingTimeout = 5 * time.Second

type Options struct {
	Service string
	// RequireShared refuses to fall back to in-process state. Standalone
	// coordinator, worker and aggregator processes set it; the api does not.
	RequireShared bool
}

// Runtime owns every long-lived client. Close releases them in reverse
// order of creation.
type Runtime struct {
	Config     config.Config
	Logger     *logrus.Entry
	Redis      *redis.Client
	Repository *repository.Repository
	Producer   queue.Producer
	Consumer   queue.Consumer
	Bus        events.Bus
	Signals    *events.Signals
	Loader     *dataset.SourceLoader

	closers []func()
}

func New(ctx context.Context, opts Options) (*Runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return FromConfig(ctx, cfg, opts)
}

func FromConfig(ctx context.Context, cfg config.Config, opts Options) (*Runtime, error) {
	logger, logCloser := logging.New(logging.Config{
		Service: opts.Service,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		File:    cfg.LogFile,
	})
	rt := &Runtime{Config: cfg, Logger: logger}
	rt.onClose(func() { _ = logCloser.Close() })

	if err := rt.setupRedis(ctx, opts); err != nil {
		rt.Close()
		return nil, err
	}
	if err := rt.setupRepository(ctx, opts); err != nil {
		rt.Close()
		return nil, err
	}
	rt.setupQueue(ctx)
	rt.setupSignals()

	rt.Loader = dataset.NewSourceLoader(dataset.SourceConfig{
		HTTPTimeout: cfg.SourceHTTPTimeout,
		S3Region:    cfg.S3Region,
		S3Endpoint:  cfg.S3Endpoint,
		S3AccessKey: cfg.S3AccessKey,
		S3SecretKey: cfg.S3SecretKey,
	})
	return rt, nil
}

// Local reports whether state lives in this process only.
func (rt *Runtime) Local() bool {
	return rt.Redis == nil
}

func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

func (rt *Runtime) onClose(fn func()) {
	rt.closers = append(rt.closers, fn)
}

func (rt *Runtime) setupRedis(ctx context.Context, opts Options) error {
	if rt.Config.RedisAddr == "" {
		if opts.RequireShared {
			return ErrSharedStateRequired
		}
		rt.Logger.Warn("REDIS_ADDR not configured, using in-process queue, store and signals")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     rt.Config.RedisAddr,
		Password: rt.Config.RedisPassword,
		DB:       rt.Config.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		if opts.RequireShared {
			return fmt.Errorf("connect redis %s: %w", rt.Config.RedisAddr, err)
		}
		rt.Logger.WithError(err).Warn("redis unreachable, falling back to in-process state")
		return nil
	}

	rt.Redis = client
	rt.onClose(func() { _ = client.Close() })
	rt.Logger.WithField("addr", rt.Config.RedisAddr).Info("redis connected")
	return nil
}

// setupRepository prefers Postgres when DATABASE_URL is set, then Redis,
// then process memory.
func (rt *Runtime) setupRepository(ctx context.Context, opts Options) error {
	var backend repository.Backend
	if rt.Config.DatabaseURL != "" {
		pg, err := repository.NewPostgresBackend(ctx, rt.Config.DatabaseURL)
		switch {
		case err == nil:
			rt.Logger.Info("postgres store initialized")
			backend = pg
		case opts.RequireShared && rt.Redis == nil:
			return fmt.Errorf("connect postgres: %w", err)
		default:
			rt.Logger.WithError(err).Warn("postgres store unavailable, falling back")
		}
	}
	if backend == nil && rt.Redis != nil {
		backend = repository.NewRedisBackend(rt.Redis)
	}
	if backend == nil {
		backend = repository.NewMemoryBackend()
	}

	rt.Repository = repository.New(backend)
	rt.onClose(func() { _ = rt.Repository.Close() })
	return nil
}

func (rt *Runtime) setupQueue(ctx context.Context) {
	var base queue.Producer
	if rt.Redis != nil {
		redisQueue := queue.NewRedisQueue(rt.Redis, rt.Config.TaskQueue)
		base, rt.Consumer = redisQueue, redisQueue
	} else {
		local := queue.NewLocalQueue(0)
		base, rt.Consumer = local, local
	}
	rt.Producer = base

	if !rt.Config.QueueBatchingEnabled {
		return
	}
	batching := queue.NewBatchingProducer(ctx, base, queue.BatchingConfig{
		MaxBatchSize:       rt.Config.QueueBatchSize,
		FlushInterval:      time.Duration(rt.Config.QueueBatchFlushMS) * time.Millisecond,
		FlushTimeout:       time.Duration(rt.Config.QueueBatchFlushTimeoutMS) * time.Millisecond,
		QueueCapacity:      rt.Config.QueueBatchQueueCapacity,
		MaxInFlightBatches: rt.Config.QueueBatchMaxInFlight,
	})
	rt.Producer = batching
	rt.onClose(batching.Close)
	rt.Logger.WithFields(logrus.Fields{
		"size":           rt.Config.QueueBatchSize,
		"flush_ms":       rt.Config.QueueBatchFlushMS,
		"queue_capacity": rt.Config.QueueBatchQueueCapacity,
		"max_in_flight":  rt.Config.QueueBatchMaxInFlight,
	}).Info("queue batching enabled")
}

func (rt *Runtime) setupSignals() {
	var bus events.Bus
	if rt.Redis != nil {
		bus = events.NewRedisBus(rt.Redis)
	} else {
		bus = events.NewLocalBus(0)
	}
	rt.onClose(func() { _ = bus.Close() })
	rt.Bus = bus
	rt.Signals = events.NewSignals(bus, events.Channels{
		Start:      rt.Config.StartChannel,
		Completed:  rt.Config.CompletedChannel,
		JobUpdates: rt.Config.JobUpdatesChannel,
	})
}

func (rt *Runtime) Coordinator() *coordinator.Coordinator {
	return coordinator.New(rt.Repository, rt.Producer, rt.Loader, rt.Signals, rt.Logger, coordinator.Config{
		PollInterval: rt.Config.MonitorInterval,
		JobTimeout:   rt.Config.JobTimeout,
	})
}

func (rt *Runtime) Worker() *worker.Processor {
	return worker.NewProcessor(rt.Consumer, rt.Repository, rt.Logger, worker.Config{
		Concurrency: rt.Config.WorkerConcurrency,
		PopTimeout:  rt.Config.WorkerPopTimeout,
		IdleSleep:   rt.Config.WorkerIdle,
	})
}

func (rt *Runtime) Aggregator() *aggregator.Aggregator {
	return aggregator.New(rt.Repository, rt.Signals, rt.Logger)
}

// JobsService caches report reads when RESULT_CACHE_TTL_MS is positive.
func (rt *Runtime) JobsService() *service.JobsService {
	opts := []service.Option{service.WithLogger(rt.Logger)}
	if rt.Config.ResultCacheTTL > 0 {
		opts = append(opts, service.WithResultCache(cache.NewResultCache(cache.Config{
			TTL:        rt.Config.ResultCacheTTL,
			MaxEntries: rt.Config.ResultCacheMaxEntries,
		})))
	}
	return service.NewJobsService(rt.Repository, rt.Signals, service.Defaults{
		DataSource:  rt.Config.DataPath,
		WorkerCount: rt.Config.NumWorkers,
	}, opts...)
}
