// Package config holds paracore configuration and its loader.
package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap/zapcore"
)

// Environments
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Backend names
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendSQS      = "sqs"
	BackendNATS     = "nats"
	BackendKafka    = "kafka"
)

// Config is the paracore configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server" yaml:"server"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	IDGen        IDGenConfig        `mapstructure:"idgen" yaml:"idgen"`
	Store        StoreConfig        `mapstructure:"store" yaml:"store"`
	Cache        CacheConfig        `mapstructure:"cache" yaml:"cache"`
	Search       SearchConfig       `mapstructure:"search" yaml:"search"`
	Queue        QueueConfig        `mapstructure:"queue" yaml:"queue"`
	River        RiverConfig        `mapstructure:"river" yaml:"river"`
	Webhooks     WebhooksConfig     `mapstructure:"webhooks" yaml:"webhooks"`
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig holds process level settings
type ServerConfig struct {
	Environment     string        `mapstructure:"environment" yaml:"environment"`
	NodeID          string        `mapstructure:"node_id" yaml:"node_id"`
	OpsAddr         string        `mapstructure:"ops_addr" yaml:"ops_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// OrchestratorConfig controls propagation to the index and the cache
type OrchestratorConfig struct {
	SearchEnabled bool          `mapstructure:"search_enabled" yaml:"search_enabled"`
	CacheEnabled  bool          `mapstructure:"cache_enabled" yaml:"cache_enabled"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

// IDGenConfig configures the snowflake generator
type IDGenConfig struct {
	WorkerID     int64 `mapstructure:"worker_id" yaml:"worker_id"`
	DatacenterID int64 `mapstructure:"datacenter_id" yaml:"datacenter_id"`
	Epoch        int64 `mapstructure:"epoch" yaml:"epoch"`
}

// StoreConfig selects the durable store
type StoreConfig struct {
	Backend     string `mapstructure:"backend" yaml:"backend"`
	SQLitePath  string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
	MaxConns    int32  `mapstructure:"max_conns" yaml:"max_conns"`
	MinConns    int32  `mapstructure:"min_conns" yaml:"min_conns"`
}

// CacheConfig selects the cache
type CacheConfig struct {
	Backend       string        `mapstructure:"backend" yaml:"backend"`
	Capacity      uint64        `mapstructure:"capacity" yaml:"capacity"`
	TTL           time.Duration `mapstructure:"ttl" yaml:"ttl"`
	RedisAddr     string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db" yaml:"redis_db"`
	RedisPrefix   string        `mapstructure:"redis_prefix" yaml:"redis_prefix"`
}

// SearchConfig selects the index
type SearchConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
}

// QueueConfig selects the ingestion queue
type QueueConfig struct {
	Backend string           `mapstructure:"backend" yaml:"backend"`
	Redis   RedisQueueConfig `mapstructure:"redis" yaml:"redis"`
	SQS     SQSQueueConfig   `mapstructure:"sqs" yaml:"sqs"`
	NATS    NATSQueueConfig  `mapstructure:"nats" yaml:"nats"`
	Kafka   KafkaQueueConfig `mapstructure:"kafka" yaml:"kafka"`
}

// RedisQueueConfig configures a redis list queue
type RedisQueueConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Key      string `mapstructure:"key" yaml:"key"`
}

// SQSQueueConfig configures an SQS queue
type SQSQueueConfig struct {
	QueueURL        string `mapstructure:"queue_url" yaml:"queue_url"`
	Region          string `mapstructure:"region" yaml:"region"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
	WaitTimeSeconds int32  `mapstructure:"wait_time_seconds" yaml:"wait_time_seconds"`
}

// NATSQueueConfig configures a NATS subject queue
type NATSQueueConfig struct {
	URL        string `mapstructure:"url" yaml:"url"`
	Subject    string `mapstructure:"subject" yaml:"subject"`
	Group      string `mapstructure:"group" yaml:"group"`
	BufferSize int    `mapstructure:"buffer_size" yaml:"buffer_size"`
}

// KafkaQueueConfig configures a Kafka topic queue
type KafkaQueueConfig struct {
	Brokers []string      `mapstructure:"brokers" yaml:"brokers"`
	Topic   string        `mapstructure:"topic" yaml:"topic"`
	GroupID string        `mapstructure:"group_id" yaml:"group_id"`
	MaxWait time.Duration `mapstructure:"max_wait" yaml:"max_wait"`
}

// RiverConfig configures the ingestion loop
type RiverConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	Name           string        `mapstructure:"name" yaml:"name"`
	PageSize       int           `mapstructure:"page_size" yaml:"page_size"`
	IdleSleep      time.Duration `mapstructure:"idle_sleep" yaml:"idle_sleep"`
	PagesPerSecond float64       `mapstructure:"pages_per_second" yaml:"pages_per_second"`
	Whitelist      []string      `mapstructure:"whitelist" yaml:"whitelist"`
}

// WebhooksConfig configures webhook delivery
type WebhooksConfig struct {
	Enabled   bool          `mapstructure:"enabled" yaml:"enabled"`
	Workers   int           `mapstructure:"workers" yaml:"workers"`
	QueueSize int           `mapstructure:"queue_size" yaml:"queue_size"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Secret    string        `mapstructure:"secret" yaml:"secret"`
}

// LoggingConfig configures the zap logger
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// IsProduction reports whether the server runs in the production environment
func (c *Config) IsProduction() bool {
	return c.Server.Environment == EnvProduction
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if !slices.Contains([]string{EnvDevelopment, EnvProduction}, c.Server.Environment) {
		return fmt.Errorf("server.environment must be one of: %s, %s", EnvDevelopment, EnvProduction)
	}
	if c.IDGen.WorkerID < 0 || c.IDGen.WorkerID > 31 {
		return errors.New("idgen.worker_id must be between 0 and 31")
	}
	if c.IDGen.DatacenterID < 0 || c.IDGen.DatacenterID > 31 {
		return errors.New("idgen.datacenter_id must be between 0 and 31")
	}
	if c.IDGen.Epoch < 0 {
		return errors.New("idgen.epoch must not be negative")
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.Store.PostgresDSN == "" {
			return errors.New("store.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("store.backend must be one of: memory, sqlite, postgres (got %q)", c.Store.Backend)
	}

	switch c.Cache.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Cache.RedisAddr == "" {
			return errors.New("cache.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("cache.backend must be one of: memory, redis (got %q)", c.Cache.Backend)
	}

	if c.Search.Backend != BackendMemory {
		return fmt.Errorf("search.backend must be memory (got %q)", c.Search.Backend)
	}

	if err := c.Queue.validate(); err != nil {
		return err
	}

	if c.River.PageSize <= 0 {
		return errors.New("river.page_size must be positive")
	}
	if c.River.IdleSleep <= 0 {
		return errors.New("river.idle_sleep must be positive")
	}
	if c.River.PagesPerSecond < 0 {
		return errors.New("river.pages_per_second must not be negative")
	}
	if c.Webhooks.Enabled && c.Webhooks.Workers <= 0 {
		return errors.New("webhooks.workers must be positive")
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return errors.New("logging.format must be one of: json, console")
	}
	return nil
}

func (q *QueueConfig) validate() error {
	switch q.Backend {
	case BackendMemory:
	case BackendRedis:
		if q.Redis.Addr == "" || q.Redis.Key == "" {
			return errors.New("queue.redis.addr and queue.redis.key are required for the redis backend")
		}
	case BackendSQS:
		if q.SQS.QueueURL == "" {
			return errors.New("queue.sqs.queue_url is required for the sqs backend")
		}
		if q.SQS.WaitTimeSeconds < 0 || q.SQS.WaitTimeSeconds > 20 {
			return errors.New("queue.sqs.wait_time_seconds must be between 0 and 20")
		}
	case BackendNATS:
		if q.NATS.URL == "" || q.NATS.Subject == "" {
			return errors.New("queue.nats.url and queue.nats.subject are required for the nats backend")
		}
	case BackendKafka:
		if len(q.Kafka.Brokers) == 0 || q.Kafka.Topic == "" || q.Kafka.GroupID == "" {
			return errors.New("queue.kafka.brokers, topic and group_id are required for the kafka backend")
		}
	default:
		return fmt.Errorf("queue.backend must be one of: memory, redis, sqs, nats, kafka (got %q)", q.Backend)
	}
	return nil
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Environment:     EnvDevelopment,
			NodeID:          "paracore-1",
			OpsAddr:         ":9090",
			ShutdownTimeout: 30 * time.Second,
		},
		Orchestrator: OrchestratorConfig{
			SearchEnabled: true,
			CacheEnabled:  true,
		},
		IDGen: IDGenConfig{
			WorkerID:     1,
			DatacenterID: 1,
			Epoch:        1310084584692,
		},
		Store: StoreConfig{
			Backend:    BackendMemory,
			SQLitePath: "paracore.db",
			MaxConns:   20,
			MinConns:   2,
		},
		Cache: CacheConfig{
			Backend:     BackendMemory,
			Capacity:    100000,
			TTL:         time.Hour,
			RedisAddr:   "localhost:6379",
			RedisPrefix: "paracore:",
		},
		Search: SearchConfig{
			Backend: BackendMemory,
		},
		Queue: QueueConfig{
			Backend: BackendMemory,
			Redis: RedisQueueConfig{
				Addr: "localhost:6379",
				Key:  "paracore:river",
			},
			SQS: SQSQueueConfig{
				Region:          "us-east-1",
				WaitTimeSeconds: 20,
			},
			NATS: NATSQueueConfig{
				URL:        "nats://localhost:4222",
				Subject:    "paracore.river",
				Group:      "paracore",
				BufferSize: 1000,
			},
			Kafka: KafkaQueueConfig{
				Brokers: []string{"localhost:9092"},
				Topic:   "paracore-river",
				GroupID: "paracore",
				MaxWait: time.Second,
			},
		},
		River: RiverConfig{
			Enabled:   false,
			Name:      "default",
			PageSize:  100,
			IdleSleep: 5 * time.Second,
		},
		Webhooks: WebhooksConfig{
			Enabled:   true,
			Workers:   4,
			QueueSize: 1000,
			Timeout:   10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
