// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ai-learning-plans/internal/domain/model"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type StorageConfig struct {
	Backend string `yaml:"backend"` // postgres | memory
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AdminConfig struct {
	Port      int           `yaml:"port"`
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type QueueConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffBase float64       `yaml:"backoff_base"`
	BackoffCap  time.Duration `yaml:"backoff_cap"`
}

type WorkerConfig struct {
	Concurrency    int           `yaml:"concurrency"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	JobTypes       []string      `yaml:"job_types"`
	ResourceBudget time.Duration `yaml:"resource_budget"`
	WorkerID       string        `yaml:"worker_id"`
}

type CacheTTLConfig struct {
	Search   time.Duration `yaml:"search"`
	Stats    time.Duration `yaml:"stats"`
	Head     time.Duration `yaml:"head"`
	Negative time.Duration `yaml:"negative"`
}

type CacheConfig struct {
	LRUSize         int            `yaml:"lru_size"`
	LockBackend     string         `yaml:"lock_backend"` // postgres | redis | memory
	LockTTL         time.Duration  `yaml:"lock_ttl"`
	LockWait        time.Duration  `yaml:"lock_wait"`
	NegativeCaching bool           `yaml:"negative_caching"`
	ParamsVersion   string         `yaml:"params_version"`
	CacheVersion    string         `yaml:"cache_version"`
	Source          string         `yaml:"source"`
	TTL             CacheTTLConfig `yaml:"ttl"`
}

// StageTTL returns the configured lifetime for stage.
func (c CacheConfig) StageTTL() map[model.CacheStage]time.Duration {
	return map[model.CacheStage]time.Duration{
		model.CacheStageSearch:   c.TTL.Search,
		model.CacheStageStats:    c.TTL.Stats,
		model.CacheStageHead:     c.TTL.Head,
		model.CacheStageNegative: c.TTL.Negative,
	}
}

type SchedulerConfig struct {
	JobRetentionCron  string        `yaml:"job_retention_cron"`
	JobRetentionAge   time.Duration `yaml:"job_retention_age"`
	CacheCleanupCron  string        `yaml:"cache_cleanup_cron"`
	CacheCleanupBatch int           `yaml:"cache_cleanup_batch"`
	RunTimeout        time.Duration `yaml:"run_timeout"`
}

type AIConfig struct {
	Provider        string        `yaml:"provider"` // openai | gemini | noop
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
	Model           string        `yaml:"model"`
	MaxOutputTokens int           `yaml:"max_output_tokens"`
	MaxPromptTokens int           `yaml:"max_prompt_tokens"`
	ConcurrentLimit int           `yaml:"concurrent_limit"` // max concurrent AI calls
	Timeout         time.Duration `yaml:"timeout"`
}

type ResourcesConfig struct {
	SearchURL   string        `yaml:"search_url"` // empty uses the built-in static catalogue
	ResultsPath string        `yaml:"results_path"`
	Timeout     time.Duration `yaml:"timeout"`
}

type RateLimitConfig struct {
	EnqueuePerMinute int `yaml:"enqueue_per_minute"`
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Admin     AdminConfig     `yaml:"admin"`
	Queue     QueueConfig     `yaml:"queue"`
	Worker    WorkerConfig    `yaml:"worker"`
	Cache     CacheConfig     `yaml:"cache"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	AI        AIConfig        `yaml:"ai"`
	Resources ResourcesConfig `yaml:"resources"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path, then applies env overrides, defaults and validation.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b, dev)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse is LoadConfig without the file read.
func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	cfg.Runtime.Dev = dev
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// secrets may come from the environment instead of the file
func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("ADMIN_JWT_SECRET"); v != "" {
		cfg.Admin.JWTSecret = v
	}
	if v := os.Getenv("AI_API_KEY"); v != "" {
		cfg.AI.APIKey = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "postgres"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Admin.Port == 0 {
		cfg.Admin.Port = 8080
	}
	if cfg.Admin.TokenTTL <= 0 {
		cfg.Admin.TokenTTL = 12 * time.Hour
	}

	if cfg.Queue.MaxAttempts <= 0 {
		cfg.Queue.MaxAttempts = 3
	}
	if cfg.Queue.BackoffBase <= 1 {
		cfg.Queue.BackoffBase = 2
	}
	if cfg.Queue.BackoffCap <= 0 {
		cfg.Queue.BackoffCap = 60 * time.Second
	}

	if cfg.Worker.Concurrency <= 0 {
		cfg.Worker.Concurrency = 4
	}
	if cfg.Worker.PollInterval <= 0 {
		cfg.Worker.PollInterval = time.Second
	}
	if len(cfg.Worker.JobTypes) == 0 {
		for _, t := range model.AllJobTypes {
			cfg.Worker.JobTypes = append(cfg.Worker.JobTypes, string(t))
		}
	}
	if cfg.Worker.ResourceBudget <= 0 {
		cfg.Worker.ResourceBudget = 20 * time.Second
	}

	if cfg.Cache.LRUSize <= 0 {
		cfg.Cache.LRUSize = 1024
	}
	if cfg.Cache.LockBackend == "" {
		if cfg.Storage.Backend == "memory" {
			cfg.Cache.LockBackend = "memory"
		} else {
			cfg.Cache.LockBackend = "postgres"
		}
	}
	if cfg.Cache.LockTTL <= 0 {
		cfg.Cache.LockTTL = 30 * time.Second
	}
	if cfg.Cache.LockWait <= 0 {
		cfg.Cache.LockWait = 10 * time.Second
	}
	if cfg.Cache.ParamsVersion == "" {
		cfg.Cache.ParamsVersion = "p1"
	}
	if cfg.Cache.CacheVersion == "" {
		cfg.Cache.CacheVersion = "v1"
	}
	if cfg.Cache.Source == "" {
		cfg.Cache.Source = "web"
	}
	if cfg.Cache.TTL.Search <= 0 {
		cfg.Cache.TTL.Search = 7 * 24 * time.Hour
	}
	if cfg.Cache.TTL.Stats <= 0 {
		cfg.Cache.TTL.Stats = 24 * time.Hour
	}
	if cfg.Cache.TTL.Head <= 0 {
		cfg.Cache.TTL.Head = 72 * time.Hour
	}
	if cfg.Cache.TTL.Negative <= 0 {
		cfg.Cache.TTL.Negative = 6 * time.Hour
	}

	if cfg.Scheduler.JobRetentionCron == "" {
		cfg.Scheduler.JobRetentionCron = "@every 1h"
	}
	if cfg.Scheduler.JobRetentionAge <= 0 {
		cfg.Scheduler.JobRetentionAge = 30 * 24 * time.Hour
	}
	if cfg.Scheduler.CacheCleanupCron == "" {
		cfg.Scheduler.CacheCleanupCron = "@every 15m"
	}
	if cfg.Scheduler.CacheCleanupBatch <= 0 {
		cfg.Scheduler.CacheCleanupBatch = 1000
	}
	if cfg.Scheduler.RunTimeout <= 0 {
		cfg.Scheduler.RunTimeout = 2 * time.Minute
	}

	if cfg.AI.Provider == "" {
		cfg.AI.Provider = "noop"
	}
	if cfg.AI.Model == "" {
		cfg.AI.Model = "gpt-4o-mini"
	}
	if cfg.AI.MaxOutputTokens <= 0 {
		cfg.AI.MaxOutputTokens = 2048
	}
	if cfg.AI.MaxPromptTokens <= 0 {
		cfg.AI.MaxPromptTokens = 4000
	}
	if cfg.AI.ConcurrentLimit <= 0 {
		cfg.AI.ConcurrentLimit = 16
	}
	if cfg.AI.Timeout <= 0 {
		cfg.AI.Timeout = 60 * time.Second
	}
	if cfg.Resources.Timeout <= 0 {
		cfg.Resources.Timeout = 10 * time.Second
	}
	if cfg.Resources.ResultsPath == "" {
		cfg.Resources.ResultsPath = "results"
	}
}

// Validate checks the cross-field rules defaults cannot fix.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for the postgres backend"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be postgres or memory, got %q", c.Storage.Backend))
	}

	switch c.Cache.LockBackend {
	case "postgres":
		if c.Storage.Backend != "postgres" {
			errs = append(errs, errors.New("cache.lock_backend postgres requires storage.backend postgres"))
		}
		// each handler may hold a lock connection plus a cache read/write connection;
		// one more keeps the poll loop able to claim
		if need := MinPoolForAdvisoryLocks(c.Worker.Concurrency); int(c.Database.MaxConns) < need {
			errs = append(errs, fmt.Errorf("database.max_conns must be at least %d for cache.lock_backend postgres with worker.concurrency %d, got %d",
				need, c.Worker.Concurrency, c.Database.MaxConns))
		}
	case "redis":
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis.url is required for cache.lock_backend redis"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("cache.lock_backend must be postgres, redis or memory, got %q", c.Cache.LockBackend))
	}

	if c.RateLimit.EnqueuePerMinute > 0 && c.Redis.URL == "" {
		errs = append(errs, errors.New("redis.url is required when rate_limit.enqueue_per_minute is set"))
	}
	if c.Admin.JWTSecret == "" && !c.Runtime.Dev {
		errs = append(errs, errors.New("admin.jwt_secret is required outside dev mode"))
	}

	for _, s := range c.Worker.JobTypes {
		if _, err := model.ParseJobType(s); err != nil {
			errs = append(errs, fmt.Errorf("worker.job_types: %w", err))
		}
	}

	switch strings.ToLower(c.AI.Provider) {
	case "noop":
	case "openai", "gemini":
		if c.AI.APIKey == "" {
			errs = append(errs, fmt.Errorf("ai.api_key is required for provider %s", c.AI.Provider))
		}
	default:
		errs = append(errs, fmt.Errorf("ai.provider must be openai, gemini or noop, got %q", c.AI.Provider))
	}
	return errors.Join(errs...)
}

// MinPoolForAdvisoryLocks is the smallest pool that cannot be starved by handlers
// waiting on cache key advisory locks.
func MinPoolForAdvisoryLocks(concurrency int) int { return 2*concurrency + 1 }

// JobTypes returns the parsed worker job types. Validate has already rejected unknown names.
func (c *Config) JobTypes() []model.JobType {
	out := make([]model.JobType, 0, len(c.Worker.JobTypes))
	for _, s := range c.Worker.JobTypes {
		out = append(out, model.JobType(s))
	}
	return out
}
