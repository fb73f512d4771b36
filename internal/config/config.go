// Package config provides configuration structures and validation for the till ledger.
// It handles environment-based configuration for the local device store, the remote
// store backends, the sync engine and the optional Kafka event stream.
package config

import (
	"errors"
	"strings"
	"time"
)

// Remote backends supported by the sync layer.
const (
	RemoteBackendPostgres = "postgres"
	RemoteBackendMongo    = "mongo"
)

// Config holds the complete application configuration with settings for all components.
// Each field represents a major subsystem's configuration and is validated during startup.
type Config struct {
	Application  ApplicationConfig
	Logging      LoggingConfig
	Server       ServerConfig
	LocalStore   LocalStoreConfig
	Remote       RemoteConfig
	Postgres     PostgresConfig
	MongoDB      MongoDBConfig
	Kafka        KafkaConfig
	Sync         SyncConfig
	Connectivity ConnectivityConfig
	WorkerPool   WorkerPoolConfig
}

// ApplicationConfig contains general application configuration
type ApplicationConfig struct {
	Env        string
	Name       string
	TerminalID string // Identifies this till in sync events
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port            int           // Port to listen on
	ShutdownTimeout time.Duration // Grace period for server shutdown
	ReadTimeout     time.Duration // Maximum duration for reading entire request
	WriteTimeout    time.Duration // Maximum duration for writing response
	IdleTimeout     time.Duration // Maximum duration to wait for next request
}

// LocalStoreConfig contains the on-device SQLite store configuration
type LocalStoreConfig struct {
	Path string
}

// RemoteConfig selects the remote store backend and bounds every remote call
type RemoteConfig struct {
	Backend string
	Timeout time.Duration
}

// PostgresConfig contains PostgreSQL configuration
type PostgresConfig struct {
	URL             string        // Database connection string
	MaxConns        int32         // Maximum number of open connections
	MinConns        int32         // Maximum number of idle connections
	ConnMaxLifetime time.Duration // Maximum lifetime of a connection
	ConnMaxIdleTime time.Duration // Maximum idle time of a connection
	MigrationsPath  string        // Path to migration files
}

// MongoDBConfig contains MongoDB configuration
type MongoDBConfig struct {
	URI             string
	Database        string
	Timeout         time.Duration
	MaxPoolSize     uint64
	MinPoolSize     uint64
	MaxConnIdleTime time.Duration
}

// KafkaConfig contains Kafka configuration. Leaving Brokers empty disables the event stream.
type KafkaConfig struct {
	Brokers           string
	SyncTopic         string // Replayed operations and identifier remaps
	StallTopic        string // Alerts for operations stuck at the head of the queue
	NumPartitions     int
	ReplicationFactor int
	ConsumerGroup     string
	MinBytes          int
	MaxBytes          int
	MaxWait           time.Duration
}

// Enabled reports whether a broker list was configured.
func (k KafkaConfig) Enabled() bool {
	return strings.TrimSpace(k.Brokers) != ""
}

// SyncConfig contains sync engine configuration
type SyncConfig struct {
	PollingInterval time.Duration
	BatchSize       int
	StallAttempts   int // Attempts on one operation before a stall alert is raised
}

// ConnectivityConfig contains the remote reachability probe configuration
type ConnectivityConfig struct {
	ProbeInterval time.Duration
}

// WorkerPoolConfig contains worker pool configuration
type WorkerPoolConfig struct {
	Size int // Maximum number of workers in the pool
}

// validate performs validation of all configuration values,
// ensuring they meet minimum requirements and logical constraints
func (c *Config) validate() error {
	var validationErrors []string

	if c.Application.TerminalID == "" {
		validationErrors = append(validationErrors, "TERMINAL_ID is required")
	}

	// Validate Server config
	if c.Server.Port <= 0 {
		validationErrors = append(validationErrors, "SERVER_PORT must be greater than 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_SHUTDOWN_TIMEOUT must be greater than 0")
	}
	if c.Server.ReadTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_READ_TIMEOUT must be greater than 0")
	}
	if c.Server.WriteTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_WRITE_TIMEOUT must be greater than 0")
	}
	if c.Server.IdleTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_IDLE_TIMEOUT must be greater than 0")
	}

	if c.LocalStore.Path == "" {
		validationErrors = append(validationErrors, "LOCAL_STORE_PATH is required")
	}

	// Validate remote selection
	switch c.Remote.Backend {
	case RemoteBackendPostgres:
		if c.Postgres.URL == "" {
			validationErrors = append(validationErrors, "POSTGRES_URL is required")
		}
		if c.Postgres.MaxConns <= 0 {
			validationErrors = append(validationErrors, "POSTGRES_MAX_CONNS must be greater than 0")
		}
		if c.Postgres.MinConns <= 0 {
			validationErrors = append(validationErrors, "POSTGRES_MIN_CONNS must be greater than 0")
		}
		if c.Postgres.ConnMaxLifetime <= 0 {
			validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_LIFETIME must be greater than 0")
		}
		if c.Postgres.ConnMaxIdleTime <= 0 {
			validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_IDLE_TIME must be greater than 0")
		}
	case RemoteBackendMongo:
		if c.MongoDB.URI == "" {
			validationErrors = append(validationErrors, "MONGO_URI is required")
		}
		if c.MongoDB.Database == "" {
			validationErrors = append(validationErrors, "MONGO_DATABASE is required")
		}
		if c.MongoDB.Timeout <= 0 {
			validationErrors = append(validationErrors, "MONGO_TIMEOUT must be greater than 0")
		}
		if c.MongoDB.MaxPoolSize <= 0 {
			validationErrors = append(validationErrors, "MONGO_MAX_POOL_SIZE must be greater than 0")
		}
	default:
		validationErrors = append(validationErrors, "REMOTE_BACKEND must be one of postgres, mongo")
	}
	if c.Remote.Timeout <= 0 {
		validationErrors = append(validationErrors, "REMOTE_TIMEOUT must be greater than 0")
	}

	// Kafka is optional, but when enabled it needs topics
	if c.Kafka.Enabled() {
		if c.Kafka.SyncTopic == "" {
			validationErrors = append(validationErrors, "KAFKA_SYNC_TOPIC is required when KAFKA_BROKERS is set")
		}
		if c.Kafka.ConsumerGroup == "" {
			validationErrors = append(validationErrors, "KAFKA_CONSUMER_GROUP is required when KAFKA_BROKERS is set")
		}
		if c.Kafka.MaxWait <= 0 {
			validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_WAIT must be greater than 0")
		}
	}

	// Validate Sync config
	if c.Sync.PollingInterval <= 0 {
		validationErrors = append(validationErrors, "SYNC_POLLING_INTERVAL must be greater than 0")
	}
	if c.Sync.BatchSize <= 0 {
		validationErrors = append(validationErrors, "SYNC_BATCH_SIZE must be greater than 0")
	}
	if c.Sync.StallAttempts <= 0 {
		validationErrors = append(validationErrors, "SYNC_STALL_ATTEMPTS must be greater than 0")
	}

	if c.Connectivity.ProbeInterval <= 0 {
		validationErrors = append(validationErrors, "CONNECTIVITY_PROBE_INTERVAL must be greater than 0")
	}

	// Validate WorkerPool config
	if c.WorkerPool.Size <= 0 {
		validationErrors = append(validationErrors, "WORKER_POOL_SIZE must be greater than 0")
	}

	if len(validationErrors) > 0 {
		return errors.New(strings.Join(validationErrors, ", "))
	}

	return nil
}
