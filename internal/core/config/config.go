package config

import (
	"time"

	"github.com/vietddude/suindexer/internal/indexing/throttle"
	redisclient "github.com/vietddude/suindexer/internal/infra/redis"
	"github.com/vietddude/suindexer/internal/infra/rpc"
	"github.com/vietddude/suindexer/internal/infra/storage/sqldb"
	"github.com/vietddude/suindexer/internal/infra/tracing"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Logging  LoggingConfig      `yaml:"logging"`
	Sui      SuiConfig          `yaml:"sui"`
	Indexer  IndexerConfig      `yaml:"indexer"`
	Database sqldb.Config       `yaml:"database"`
	Redis    redisclient.Config `yaml:"redis"`
	Tracing  tracing.Config     `yaml:"tracing"`
}

// ServerConfig holds HTTP and gRPC health server settings.
type ServerConfig struct {
	Port     int `yaml:"port"      env:"SERVER_PORT"`
	GRPCPort int `yaml:"grpc_port"` // 0 disables the gRPC health service
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"` // debug, info, warn, error
	Format string `yaml:"format"`                 // json, text
}

// SuiConfig holds the upstream node settings.
type SuiConfig struct {
	RPCURL       string        `yaml:"rpc_url"       env:"SUI_RPC_URL"`
	FallbackURLs []string      `yaml:"fallback_urls"` // tried in order when rpc_url fails
	PackageID    string        `yaml:"package_id"    env:"SUI_PACKAGE_ID"`
	Timeout      time.Duration `yaml:"timeout"`
}

// IndexerConfig holds polling, health and dead-letter settings.
type IndexerConfig struct {
	PollInterval         time.Duration   `yaml:"poll_interval"           env:"INDEXER_POLL_INTERVAL"`
	BatchSize            int             `yaml:"batch_size"              env:"INDEXER_BATCH_SIZE"`
	HealthInterval       time.Duration   `yaml:"health_interval"`
	MaxDeadLetterRetries int             `yaml:"max_dead_letter_retries"`
	DeadLetterBatch      int             `yaml:"dead_letter_batch"`
	DeadLetterAudit      time.Duration   `yaml:"dead_letter_audit_interval"` // negative disables the backlog gauges
	EventTypes           []string        `yaml:"event_types"` // empty = every known processor
	Retry                rpc.RetryConfig `yaml:"retry"`
	CatchUp              throttle.Config `yaml:"catch_up"`
}
