// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"ai-learning-plans/internal/config"
	"ai-learning-plans/internal/domain/model"
	"ai-learning-plans/internal/domain/ports/adapter"
	"ai-learning-plans/internal/domain/ports/repository"
	"ai-learning-plans/internal/infra/adapters/ai"
	"ai-learning-plans/internal/infra/adapters/resources"
	"ai-learning-plans/internal/infra/clock"
	"ai-learning-plans/internal/infra/db/memory"
	pg "ai-learning-plans/internal/infra/db/postgres"
	"ai-learning-plans/internal/infra/logging"
	"ai-learning-plans/internal/infra/metrics"
	red "ai-learning-plans/internal/infra/redis"
	"ai-learning-plans/internal/infra/sched"
	"ai-learning-plans/internal/infra/scheduler"
	"ai-learning-plans/internal/infra/web"
	"ai-learning-plans/internal/infra/worker"
	"ai-learning-plans/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

type storage struct {
	jobs  repository.JobRepository
	cache repository.ResourceCacheRepository
	tm    repository.TransactionManager
	pool  *pgxpool.Pool
}

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, optional jwt secret)")
	tokenFor := flag.String("print-admin-token", "", "print an admin API token for this subject and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	secret := cfg.Admin.JWTSecret
	if secret == "" {
		secret = uuid.NewString()
		logger.Warn().Msg("admin.jwt_secret not set; using a random secret for this process (dev mode)")
	}
	auth := web.NewAuthManager(secret, cfg.Admin.TokenTTL)
	if *tokenFor != "" {
		tok, err := auth.Mint(*tokenFor)
		if err != nil {
			log.Fatalf("mint token: %v", err)
		}
		fmt.Println(tok)
		return
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- Storage ----
	st, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("storage")
	}
	if st.pool != nil {
		defer st.pool.Close()
		go pg.ReportPoolStats(ctx, st.pool, 15*time.Second, logger)
	}

	// ---- Redis ----
	var redisClient *red.Client
	if cfg.Redis.URL != "" {
		redisClient, err = red.NewClient(ctx, cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()
	}

	locker, err := keyLocker(cfg, st, redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("cache lock")
	}

	// ---- Use cases ----
	clk := clock.Real{}
	queue := usecase.NewJobQueueUseCase(st.jobs, st.tm, clk, usecase.QueueSettings{
		MaxAttempts: cfg.Queue.MaxAttempts,
		BackoffBase: cfg.Queue.BackoffBase,
		BackoffCap:  cfg.Queue.BackoffCap,
	}, logger)

	cache, err := usecase.NewResourceCache(st.cache, locker, clk, usecase.CacheSettings{
		TTL:             cfg.Cache.StageTTL(),
		LRUSize:         cfg.Cache.LRUSize,
		NegativeCaching: cfg.Cache.NegativeCaching,
		ParamsVersion:   cfg.Cache.ParamsVersion,
		CacheVersion:    cfg.Cache.CacheVersion,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("resource cache")
	}

	gen, err := ai.New(ctx, ai.Options{
		Provider:        cfg.AI.Provider,
		APIKey:          cfg.AI.APIKey,
		BaseURL:         cfg.AI.BaseURL,
		Model:           cfg.AI.Model,
		MaxOutputTokens: cfg.AI.MaxOutputTokens,
		MaxPromptTokens: cfg.AI.MaxPromptTokens,
		ConcurrentLimit: cfg.AI.ConcurrentLimit,
		Timeout:         cfg.AI.Timeout,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("plan generator")
	}

	searcher, err := resourceSearcher(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("resource searcher")
	}

	planUC := usecase.NewPlanGenerationUseCase(gen, searcher, cache, clk, cfg.Worker.ResourceBudget, logger)

	var limiter adapter.RateLimiter
	if redisClient != nil && cfg.RateLimit.EnqueuePerMinute > 0 {
		limiter = red.NewRateLimiter(redisClient)
	}
	requests := usecase.NewPlanRequestUseCase(queue, nil, limiter, usecase.RateLimitSettings{
		EnqueuePerWindow: cfg.RateLimit.EnqueuePerMinute,
		Window:           time.Minute,
	}, logger)

	// ---- Worker pool ----
	registry := worker.NewRegistry()
	for _, t := range model.AllJobTypes {
		if err := registry.Register(t, planUC); err != nil {
			logger.Fatal().Err(err).Msg("register handler")
		}
	}
	pool := worker.NewPool(queue, registry, worker.Config{
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval,
		JobTypes:     cfg.JobTypes(),
		WorkerID:     cfg.Worker.WorkerID,
	}, logger)
	if err := pool.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker pool")
	}

	// ---- Maintenance schedule ----
	cron := scheduler.NewScheduler(cfg.Scheduler.RunTimeout, logger)
	if err := cron.Add(cfg.Scheduler.JobRetentionCron, sched.NewRetentionWorker(queue, cfg.Scheduler.JobRetentionAge, logger)); err != nil {
		logger.Fatal().Err(err).Msg("schedule job retention")
	}
	if err := cron.Add(cfg.Scheduler.CacheCleanupCron, sched.NewCacheSweeper(cache, cfg.Scheduler.CacheCleanupBatch, logger)); err != nil {
		logger.Fatal().Err(err).Msg("schedule cache sweep")
	}
	cron.Start(ctx)

	// ---- Admin API ----
	api := web.NewServer(web.Deps{
		Queue:      queue,
		Requests:   requests,
		Cache:      cache,
		Pool:       pool,
		Clock:      clk,
		Retention:  cfg.Scheduler.JobRetentionAge,
		CacheBatch: cfg.Scheduler.CacheCleanupBatch,
	}, auth, logger)
	server := api.NewHTTPServer(fmt.Sprintf(":%d", cfg.Admin.Port))
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("admin api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("admin api stopped")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("admin api shutdown")
	}
	cron.Stop()
	pool.Stop()
	cancel()
	logger.Info().Interface("worker", pool.Stats()).Msg("bye")
}

func openStorage(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*storage, error) {
	if cfg.Storage.Backend == "memory" {
		logger.Warn().Msg("using the in-memory backend; jobs do not survive a restart")
		s := memory.NewStore()
		return &storage{
			jobs:  memory.NewJobRepo(s),
			cache: memory.NewCacheRepo(s),
			tm:    memory.NewTxManager(s),
		}, nil
	}

	pool, err := pg.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	applied, err := pg.RunMigrations(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	if len(applied) > 0 {
		logger.Info().Strs("applied", applied).Msg("migrations applied")
	}
	return &storage{
		jobs:  pg.NewPostgresJobRepo(pool),
		cache: pg.NewPostgresResourceCacheRepo(pool),
		tm:    pg.NewTxManager(pool),
		pool:  pool,
	}, nil
}

func keyLocker(cfg *config.Config, st *storage, redisClient *red.Client) (adapter.KeyLocker, error) {
	switch cfg.Cache.LockBackend {
	case "redis":
		if redisClient == nil {
			return nil, errors.New("redis lock backend needs redis.url")
		}
		return red.NewLocker(redisClient, cfg.Cache.LockTTL, cfg.Cache.LockWait), nil
	case "postgres":
		return pg.NewAdvisoryLocker(st.tm, cfg.Cache.LockWait), nil
	default:
		return memory.NewKeyLocker(), nil
	}
}

func resourceSearcher(cfg *config.Config) (adapter.ResourceSearcher, error) {
	if cfg.Resources.SearchURL == "" {
		return resources.NewStaticSearcher(), nil
	}
	return resources.NewHTTPSearcher(cfg.Resources.SearchURL, cfg.Cache.Source, cfg.Resources.ResultsPath, cfg.Resources.Timeout)
}
