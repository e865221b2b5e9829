package config

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config holds the full application configuration loaded from environment
// variables or a .env file.
//
// It is composed of smaller structs that represent different concerns of the
// system: the HTTP server, the shard/replica cluster topology, the storage
// backend selection, and the Postgres connection details used when the
// postgres backend is selected.
//
// Example YAML/ENV equivalent:
//
//	SERVER_PORT=8080
//	SHARD_COUNT=4
//	REPLICA_COUNT=2
//	FLUSH_INTERVAL=5s
//	GRACE_WINDOW=30s
//	STALE_LAG=1000
//	QUERY_TIMEOUT=10s
//	RETENTION_MONTHS=2
//	STORAGE_BACKEND=memory
//	POSTGRES_HOST=localhost
type Config struct {
	Server   ServerConfig   // HTTP server configuration
	Cluster  ClusterConfig  // Shard/replica topology and timing
	Storage  StorageConfig  // Storage backend selection
	Postgres PostgresConfig // PostgreSQL connection settings (postgres backend)
}

// ServerConfig holds HTTP server settings such as the port to listen on.
type ServerConfig struct {
	Port string // The TCP port the HTTP server will listen on (e.g., "8080")
}

// ClusterConfig defines the shard/replica topology and the timing knobs of
// the ingestion pipeline.
//
// ShardCount is fixed at cluster creation: the partition function must be
// identical across all nodes or routing breaks silently, so changing it
// requires a full re-partition of the data set (out of scope).
type ClusterConfig struct {
	ShardCount      int           // Number of shards (fixed at deployment)
	ReplicaCount    int           // Replicas per shard (>= 1)
	FlushInterval   time.Duration // Aggregator flush cycle period
	GraceWindow     time.Duration // Buckets stay in memory this long past close
	StaleLag        uint64        // Replication lag (entries) before a replica is stale
	QueryTimeout    time.Duration // Per-shard deadline for query fan-out
	RetentionMonths int           // Monthly trade partitions retained (dedup window)
}

// StorageConfig selects the store implementations backing each replica.
type StorageConfig struct {
	Backend string // "memory" or "postgres"
}

// PostgresConfig defines connection details for PostgreSQL.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	URL      string // computed DSN used by database/sql to connect
}

// AppConfig is the globally accessible configuration instance.
//
// It is populated once via LoadConfig() and used throughout the application.
var AppConfig Config

// LoadConfig initializes the global AppConfig by reading from a .env file
// or directly from environment variables.
//
// Precedence (from lowest to highest):
//  1. Defaults set in this function.
//  2. Values from .env file (if present).
//  3. Environment variables.
func LoadConfig() {
	// Default values
	viper.SetDefault("SERVER_PORT", "8080")

	viper.SetDefault("SHARD_COUNT", 4)
	viper.SetDefault("REPLICA_COUNT", 2)
	viper.SetDefault("FLUSH_INTERVAL", "5s")
	viper.SetDefault("GRACE_WINDOW", "30s")
	viper.SetDefault("STALE_LAG", 1000)
	viper.SetDefault("QUERY_TIMEOUT", "10s")
	viper.SetDefault("RETENTION_MONTHS", 2)

	viper.SetDefault("STORAGE_BACKEND", "memory")

	viper.SetDefault("POSTGRES_HOST", "localhost")
	viper.SetDefault("POSTGRES_PORT", 5432)
	viper.SetDefault("POSTGRES_USER", "postgres")
	viper.SetDefault("POSTGRES_PASSWORD", "postgres")
	viper.SetDefault("POSTGRES_DB", "tickshard")
	viper.SetDefault("POSTGRES_SSLMODE", "disable")

	// Optionally read from .env if present (common in local dev)
	viper.SetConfigFile(".env")
	_ = viper.ReadInConfig() // ignore error if no .env

	// Read environment variables automatically
	viper.AutomaticEnv()

	AppConfig = Config{
		Server: ServerConfig{
			Port: viper.GetString("SERVER_PORT"),
		},
		Cluster: ClusterConfig{
			ShardCount:      viper.GetInt("SHARD_COUNT"),
			ReplicaCount:    viper.GetInt("REPLICA_COUNT"),
			FlushInterval:   viper.GetDuration("FLUSH_INTERVAL"),
			GraceWindow:     viper.GetDuration("GRACE_WINDOW"),
			StaleLag:        viper.GetUint64("STALE_LAG"),
			QueryTimeout:    viper.GetDuration("QUERY_TIMEOUT"),
			RetentionMonths: viper.GetInt("RETENTION_MONTHS"),
		},
		Storage: StorageConfig{
			Backend: viper.GetString("STORAGE_BACKEND"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("POSTGRES_HOST"),
			Port:     viper.GetInt("POSTGRES_PORT"),
			User:     viper.GetString("POSTGRES_USER"),
			Password: viper.GetString("POSTGRES_PASSWORD"),
			DBName:   viper.GetString("POSTGRES_DB"),
			SSLMode:  viper.GetString("POSTGRES_SSLMODE"),
		},
	}

	// Construct Postgres DSN (used by database/sql)
	AppConfig.Postgres.URL = fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		AppConfig.Postgres.User,
		AppConfig.Postgres.Password,
		AppConfig.Postgres.Host,
		AppConfig.Postgres.Port,
		AppConfig.Postgres.DBName,
		AppConfig.Postgres.SSLMode,
	)

	validateConfig()
}

// validateConfig ensures required variables are present and sane, and
// terminates the application if they are not.
//
// A bad shard count or replica count would silently corrupt routing or
// durability guarantees, so these are checked up front instead of failing
// at runtime.
func validateConfig() {
	var bad []string

	if AppConfig.Server.Port == "" {
		bad = append(bad, "SERVER_PORT")
	}
	if AppConfig.Cluster.ShardCount < 1 {
		bad = append(bad, "SHARD_COUNT (must be >= 1)")
	}
	if AppConfig.Cluster.ReplicaCount < 1 {
		bad = append(bad, "REPLICA_COUNT (must be >= 1)")
	}
	if AppConfig.Cluster.FlushInterval <= 0 {
		bad = append(bad, "FLUSH_INTERVAL (must be > 0)")
	}
	if AppConfig.Cluster.GraceWindow < 0 {
		bad = append(bad, "GRACE_WINDOW (must be >= 0)")
	}
	if AppConfig.Cluster.QueryTimeout <= 0 {
		bad = append(bad, "QUERY_TIMEOUT (must be > 0)")
	}
	if AppConfig.Cluster.RetentionMonths < 2 {
		bad = append(bad, "RETENTION_MONTHS (must be >= 2; dedup needs current + prior partition)")
	}
	switch AppConfig.Storage.Backend {
	case "memory", "postgres":
	default:
		bad = append(bad, "STORAGE_BACKEND (must be memory or postgres)")
	}
	if AppConfig.Storage.Backend == "postgres" {
		if AppConfig.Postgres.Host == "" {
			bad = append(bad, "POSTGRES_HOST")
		}
		if AppConfig.Postgres.Port == 0 {
			bad = append(bad, "POSTGRES_PORT")
		}
		if AppConfig.Postgres.User == "" {
			bad = append(bad, "POSTGRES_USER")
		}
		if AppConfig.Postgres.DBName == "" {
			bad = append(bad, "POSTGRES_DB")
		}
	}

	if len(bad) > 0 {
		log.Fatalf("invalid configuration: %v\n", bad)
	}
}
