// Command server starts the HTTP runtime: elastic connection pools, the
// request pipeline, the cross-worker task subsystem, and the shared
// cache table described by the service's design.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/runtime-core/internal/adapter/httpserver"
	"github.com/fairyhunter13/runtime-core/internal/adapter/observability"
	"github.com/fairyhunter13/runtime-core/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/runtime-core/internal/app"
	"github.com/fairyhunter13/runtime-core/internal/cacheservice"
	"github.com/fairyhunter13/runtime-core/internal/config"
	"github.com/fairyhunter13/runtime-core/internal/pipeline/container"
	"github.com/fairyhunter13/runtime-core/internal/pool"
	"github.com/fairyhunter13/runtime-core/internal/service/ratelimiter"
	"github.com/fairyhunter13/runtime-core/internal/sharedtable"
	"github.com/fairyhunter13/runtime-core/internal/task/channelqueue"
	"github.com/fairyhunter13/runtime-core/internal/task/crossworker"
	"github.com/fairyhunter13/runtime-core/internal/task/envelope"
	"github.com/fairyhunter13/runtime-core/internal/task/usertask"
	"github.com/fairyhunter13/runtime-core/internal/worker"
)

// workerUnit is one isolated worker (§5): its own elastic pool pair,
// container, cross-worker task pool, channel queue, and lifecycle ticker.
// The heartbeat registry and shared cache table are the only state that
// crosses worker boundaries.
type workerUnit struct {
	rdb       *pool.RDBPool
	kv        *pool.KVPool
	queue     *channelqueue.Queue
	taskPool  *crossworker.Pool
	lifecycle *worker.Lifecycle
	handler   http.Handler
}

func (u *workerUnit) stop() {
	u.queue.Stop()
	u.queue.Wait()
	u.taskPool.Stop()
	u.lifecycle.Stop()
	u.rdb.Close()
	u.kv.Close()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Shared across every worker unit (§5): the heartbeat registry and the
	// cache table are the only state that crosses worker boundaries, and a
	// single rate limiter fronts Redis for the async-task endpoint
	// regardless of which worker accepted the request.
	registry := worker.NewRegistry()
	cache := sharedtable.New(cfg.CacheTableCapacity)
	hostname, _ := os.Hostname()

	var taskLimiter *ratelimiter.RedisLuaLimiter
	if redisOpts, rerr := redis.ParseURL(cfg.KVURL); rerr == nil {
		taskLimiter = ratelimiter.NewRedisLuaLimiter(redis.NewClient(redisOpts), nil, map[string]ratelimiter.BucketConfig{
			"async_create_user": ratelimiter.NewBucketConfigFromPerMinute(cfg.AsyncTaskRatePerMin),
		})
	} else {
		slog.Warn("rate limiter redis url invalid, async task rate limiting disabled", slog.Any("error", rerr))
	}

	workerCount := cfg.Workers
	if workerCount < 1 {
		workerCount = 1
	}

	units := make([]*workerUnit, 0, workerCount)
	for i := 0; i < workerCount; i++ {
		u, uerr := newWorkerUnit(ctx, cfg, hostname, i, registry, cache, taskLimiter)
		if uerr != nil {
			slog.Error("worker unit start failed", slog.Int("worker_index", i), slog.Any("error", uerr))
			for _, started := range units {
				started.stop()
			}
			os.Exit(1)
		}
		units = append(units, u)
	}
	defer func() {
		for _, u := range units {
			u.stop()
		}
	}()

	slog.Info("workers started", slog.Int("count", len(units)))

	// The master accepts every connection and round-robins each request
	// across the isolated worker units built above (§5); within a unit,
	// request handling stays single-threaded-cooperative over that
	// worker's own pools, container, and queue.
	var next uint64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idx := atomic.AddUint64(&next, 1) % uint64(len(units))
		units[idx].handler.ServeHTTP(w, r)
	})

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		if cfg.TLSEnabled() {
			errCh <- srvHTTP.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
			return
		}
		errCh <- srvHTTP.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}

// newWorkerUnit builds one isolated worker (§5): its own RDB/KV pool pair,
// repositories, cache service, DI container, cross-worker task pool,
// channel queue, and lifecycle ticker, wired into its own request
// pipeline. registry and cache are shared across every unit.
func newWorkerUnit(
	ctx context.Context,
	cfg config.Config,
	hostname string,
	index int,
	registry *worker.Registry,
	cache *sharedtable.Table,
	taskLimiter *ratelimiter.RedisLuaLimiter,
) (*workerUnit, error) {
	rdb := pool.NewRDBPool(cfg.DBURL, cfg.RDBPoolMin, cfg.RDBPoolMax, cfg.PoolIdleBuffer, cfg.PoolMargin, cfg.PoolAcquireTimeout)
	kv, err := pool.NewKVPool(cfg.KVURL, cfg.KVPoolMin, cfg.KVPoolMax, cfg.PoolIdleBuffer, cfg.PoolMargin, cfg.PoolAcquireTimeout)
	if err != nil {
		return nil, fmt.Errorf("op=main.new_worker_unit: %w", err)
	}

	prewarmCtx, cancelPrewarm := context.WithTimeout(ctx, 30*time.Second)
	if err := rdb.Prewarm(prewarmCtx); err != nil {
		slog.Error("rdb prewarm failed", slog.Int("worker_index", index), slog.Any("error", err))
	}
	if err := kv.Prewarm(prewarmCtx); err != nil {
		slog.Error("kv prewarm failed", slog.Int("worker_index", index), slog.Any("error", err))
	}
	cancelPrewarm()

	userRepo := postgres.NewUserRepo(rdb)
	itemRepo := postgres.NewItemRepo(rdb)

	userCache := cacheservice.New(kv, "user", cfg.RecordCacheTTL, cfg.ListCacheTTL)
	itemCache := cacheservice.New(kv, "item", cfg.RecordCacheTTL, cfg.ListCacheTTL)

	workerID := fmt.Sprintf("%s-%d-%s", hostname, index, uuid.NewString())
	lc := worker.New(workerID, os.Getpid(), registry, map[string]worker.Autoscaler{"rdb": rdb, "kv": kv}, cache)
	if err := lc.Start(ctx, cfg.HeartbeatInterval); err != nil {
		rdb.Close()
		kv.Close()
		return nil, fmt.Errorf("op=main.new_worker_unit: %w", err)
	}

	newContainer := func() *container.Container {
		c := container.New()
		c.Singleton("task.create_user", func(c *container.Container) (any, error) {
			return &usertask.CreateUserTask{Repo: userRepo, Cache: userCache}, nil
		})
		return c
	}

	taskPool := crossworker.New(cfg.TaskWorkerCount, cfg.TaskQueueCapacity, newContainer, func(out envelope.Outcome) {
		if out.Error != "" {
			slog.Warn("cross-worker task finished with error", slog.String("worker", workerID), slog.String("class", out.Class), slog.String("id", out.ID), slog.String("error", out.Error))
		}
	})
	taskPool.Start(ctx, cfg.TaskWorkerCount)

	appContainer := newContainer()
	queue := channelqueue.New(cfg.ChannelQueueCapacity, appContainer, func(out envelope.Outcome) {
		if out.Error != "" {
			slog.Warn("channel-queue task finished with error", slog.String("worker", workerID), slog.String("class", out.Class), slog.String("id", out.ID), slog.String("error", out.Error))
		}
	})
	go queue.Run(ctx)

	handlers := &httpserver.Handlers{
		Cfg:       cfg,
		Users:     userRepo,
		Items:     itemRepo,
		UserCache: userCache,
		ItemCache: itemCache,
		Queue:     queue,
		Limiter:   taskLimiter,
		StartedAt: time.Now(),
	}
	dbCheck, kvCheck := app.BuildReadinessChecks(rdb, kv)
	healthHandlers := &httpserver.HealthHandlers{
		Cfg:       cfg,
		Registry:  registry,
		Cache:     cache,
		RDB:       rdb,
		KV:        kv,
		DBCheck:   dbCheck,
		KVCheck:   kvCheck,
		StartedAt: time.Now(),
	}

	return &workerUnit{
		rdb:       rdb,
		kv:        kv,
		queue:     queue,
		taskPool:  taskPool,
		lifecycle: lc,
		handler:   app.BuildPipeline(cfg, appContainer, lc, handlers, healthHandlers),
	}, nil
}
