package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN     string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL     string `env:"RABBITMQ_URL,required=true"`
	RedisURL        string `env:"REDIS_URL,required=true"`
	KafkaBrokers    string `env:"KAFKA_BROKERS,required=true"`
	ResubmitBaseURL string `env:"RESUBMIT_BASE_URL,required=true"`

	KafkaGroupPrefix  string `env:"KAFKA_GROUP_PREFIX,default=exception-collector"`
	KafkaVersion      string `env:"KAFKA_VERSION,default=2.8.0"`
	KafkaConcurrency  int    `env:"KAFKA_CONCURRENCY,default=3"`
	BackoffInitialMS  int    `env:"CONSUMER_BACKOFF_INITIAL_MS,default=1000"`
	BackoffMaxMS      int    `env:"CONSUMER_BACKOFF_MAX_MS,default=30000"`
	ConsumerAttempts  int    `env:"CONSUMER_MAX_ATTEMPTS,default=5"`
	DefaultMaxRetries int    `env:"DEFAULT_MAX_RETRIES,default=5"`

	WorkerConcurrency     int `env:"RETRY_WORKER_CONCURRENCY,default=4"`
	ResubmitRatePerMinute int `env:"RESUBMIT_RATE_LIMIT,default=120"`
	PendingTimeoutSec     int `env:"RETRY_PENDING_TIMEOUT_SEC,default=600"`
	MutationRateLimit     int `env:"MUTATION_RATE_LIMIT,default=60"`
	// RateLimitBackend is "redis" for limits shared across instances or
	// "memory" for a single instance.
	RateLimitBackend string `env:"RATE_LIMIT_BACKEND,default=redis"`

	QueryMaxDepth        int    `env:"QUERY_MAX_DEPTH,default=8"`
	QueryMaxCost         int    `env:"QUERY_MAX_COST,default=2000"`
	QueryTimeoutMS       int    `env:"QUERY_TIMEOUT_MS,default=5000"`
	QueryCacheTTLSec     int    `env:"QUERY_CACHE_TTL_SEC,default=0"`
	QueryCacheBackend    string `env:"QUERY_CACHE_BACKEND,default=redis"`
	QueryCacheMaxEntries int    `env:"QUERY_CACHE_MAX_ENTRIES,default=1000"`

	ShutdownTimeoutSec int    `env:"SHUTDOWN_TIMEOUT_SEC,default=30"`
	APIPort            int    `env:"API_PORT,default=8080"`
	LogLevel           string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Brokers()) == 0 {
		return fmt.Errorf("KAFKA_BROKERS must list at least one broker")
	}
	if c.KafkaConcurrency < 1 {
		return fmt.Errorf("KAFKA_CONCURRENCY must be >= 1")
	}
	if c.BackoffMaxMS < c.BackoffInitialMS {
		return fmt.Errorf("CONSUMER_BACKOFF_MAX_MS must be >= CONSUMER_BACKOFF_INITIAL_MS")
	}
	if !validBackend(c.RateLimitBackend) {
		return fmt.Errorf("RATE_LIMIT_BACKEND must be redis or memory")
	}
	if !validBackend(c.QueryCacheBackend) {
		return fmt.Errorf("QUERY_CACHE_BACKEND must be redis or memory")
	}
	if c.QueryCacheTTLSec < 0 {
		return fmt.Errorf("QUERY_CACHE_TTL_SEC must be >= 0")
	}
	return nil
}

const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

func validBackend(b string) bool {
	return b == BackendRedis || b == BackendMemory
}

// Brokers splits KAFKA_BROKERS on commas.
func (c *Config) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func (c *Config) BackoffInitial() time.Duration {
	return time.Duration(c.BackoffInitialMS) * time.Millisecond
}

func (c *Config) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMS) * time.Millisecond
}

func (c *Config) PendingTimeout() time.Duration {
	return time.Duration(c.PendingTimeoutSec) * time.Second
}

func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutMS) * time.Millisecond
}

func (c *Config) QueryCacheTTL() time.Duration {
	return time.Duration(c.QueryCacheTTLSec) * time.Second
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSec) * time.Second
}
