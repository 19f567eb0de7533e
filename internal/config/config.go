package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config centralizes runtime settings for every binary.
type Config struct {
	Port string

	LogLevel  string
	LogFormat string
	LogFile   string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	DatabaseURL   string

	TaskQueue         string
	StartChannel      string
	CompletedChannel  string
	JobUpdatesChannel string

	DataPath        string
	NumWorkers      int
	RunOnce         bool
	MonitorInterval time.Duration
	JobTimeout      time.Duration

	WorkerConcurrency int
	WorkerPopTimeout  time.Duration
	WorkerIdle        time.Duration

	WorkerEnabled      bool
	CoordinatorEnabled bool
	AggregatorEnabled  bool

	RateLimitRPS       float64
	RateLimitBurst     int
	CORSAllowedOrigins []string

	QueueBatchingEnabled     bool
	QueueBatchSize           int
	QueueBatchFlushMS        int
	QueueBatchFlushTimeoutMS int
	QueueBatchQueueCapacity  int
	QueueBatchMaxInFlight    int

	ResultCacheTTL        time.Duration
	ResultCacheMaxEntries int

	SourceHTTPTimeout time.Duration
	S3Region          string
	S3Endpoint        string
	S3AccessKey       string
	S3SecretKey       string
}

func defaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("redis_db", 0)
	v.SetDefault("task_queue", "task_queue")
	v.SetDefault("start_channel", "start_processing")
	v.SetDefault("completed_channel", "tasks_completed")
	v.SetDefault("job_updates_channel", "job_updates")
	v.SetDefault("data_path", "/data/transactions_autoconnect.csv")
	v.SetDefault("num_workers", 3)
	v.SetDefault("run_once", false)
	v.SetDefault("monitor_interval_ms", 2000)
	v.SetDefault("job_timeout_seconds", 0)
	v.SetDefault("worker_concurrency", 1)
	v.SetDefault("worker_pop_timeout_ms", 1000)
	v.SetDefault("worker_idle_ms", 1000)
	v.SetDefault("worker_enabled", true)
	v.SetDefault("coordinator_enabled", true)
	v.SetDefault("aggregator_enabled", true)
	v.SetDefault("rate_limit_rps", 20.0)
	v.SetDefault("rate_limit_burst", 40)
	v.SetDefault("cors_allowed_origins", "*")
	v.SetDefault("queue_batching_enabled", false)
	v.SetDefault("queue_batch_size", 64)
	v.SetDefault("queue_batch_flush_ms", 10)
	v.SetDefault("queue_batch_flush_timeout_ms", 3000)
	v.SetDefault("queue_batch_queue_capacity", 2048)
	v.SetDefault("queue_batch_max_in_flight", 4)
	v.SetDefault("result_cache_ttl_ms", 2000)
	v.SetDefault("result_cache_max_entries", 256)
	v.SetDefault("source_http_timeout_ms", 30000)
	v.SetDefault("s3_region", "us-east-1")
}

// Load reads .env files, then the process environment, on top of defaults.
func Load() (Config, error) {
	if err := LoadDotEnv(".env", ".env.local"); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.AutomaticEnv()
	defaults(v)

	cfg := Config{
		Port: v.GetString("port"),

		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),
		LogFile:   v.GetString("log_file"),

		RedisAddr:     redisAddr(v),
		RedisPassword: v.GetString("redis_password"),
		RedisDB:       v.GetInt("redis_db"),
		DatabaseURL:   v.GetString("database_url"),

		TaskQueue:         v.GetString("task_queue"),
		StartChannel:      v.GetString("start_channel"),
		CompletedChannel:  v.GetString("completed_channel"),
		JobUpdatesChannel: v.GetString("job_updates_channel"),

		DataPath:        v.GetString("data_path"),
		NumWorkers:      v.GetInt("num_workers"),
		RunOnce:         v.GetBool("run_once"),
		MonitorInterval: millis(v.GetInt("monitor_interval_ms")),
		JobTimeout:      time.Duration(v.GetInt("job_timeout_seconds")) * time.Second,

		WorkerConcurrency: v.GetInt("worker_concurrency"),
		WorkerPopTimeout:  millis(v.GetInt("worker_pop_timeout_ms")),
		WorkerIdle:        millis(v.GetInt("worker_idle_ms")),

		WorkerEnabled:      v.GetBool("worker_enabled"),
		CoordinatorEnabled: v.GetBool("coordinator_enabled"),
		AggregatorEnabled:  v.GetBool("aggregator_enabled"),

		RateLimitRPS:       v.GetFloat64("rate_limit_rps"),
		RateLimitBurst:     v.GetInt("rate_limit_burst"),
		CORSAllowedOrigins: splitList(v.GetString("cors_allowed_origins")),

		QueueBatchingEnabled:     v.GetBool("queue_batching_enabled"),
		QueueBatchSize:           v.GetInt("queue_batch_size"),
		QueueBatchFlushMS:        v.GetInt("queue_batch_flush_ms"),
		QueueBatchFlushTimeoutMS: v.GetInt("queue_batch_flush_timeout_ms"),
		QueueBatchQueueCapacity:  v.GetInt("queue_batch_queue_capacity"),
		QueueBatchMaxInFlight:    v.GetInt("queue_batch_max_in_flight"),

		ResultCacheTTL:        millis(v.GetInt("result_cache_ttl_ms")),
		ResultCacheMaxEntries: v.GetInt("result_cache_max_entries"),

		SourceHTTPTimeout: millis(v.GetInt("source_http_timeout_ms")),
		S3Region:          v.GetString("s3_region"),
		S3Endpoint:        v.GetString("s3_endpoint"),
		S3AccessKey:       v.GetString("s3_access_key"),
		S3SecretKey:       v.GetString("s3_secret_key"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var problems []error
	if c.NumWorkers < 1 {
		problems = append(problems, fmt.Errorf("NUM_WORKERS must be >= 1, got %d", c.NumWorkers))
	}
	if c.MonitorInterval <= 0 {
		problems = append(problems, errors.New("MONITOR_INTERVAL_MS must be positive"))
	}
	if c.JobTimeout < 0 {
		problems = append(problems, errors.New("JOB_TIMEOUT_SECONDS must not be negative"))
	}
	if c.WorkerConcurrency < 1 {
		problems = append(problems, fmt.Errorf("WORKER_CONCURRENCY must be >= 1, got %d", c.WorkerConcurrency))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(problems...))
	}
	return nil
}

// redisAddr also honors REDIS_HOST (port 6379) for older deployments.
func redisAddr(v *viper.Viper) string {
	if addr := strings.TrimSpace(v.GetString("redis_addr")); addr != "" {
		return addr
	}
	if host := strings.TrimSpace(v.GetString("redis_host")); host != "" {
		return net.JoinHostPort(host, "6379")
	}
	return ""
}

func millis(value int) time.Duration {
	return time.Duration(value) * time.Millisecond
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
