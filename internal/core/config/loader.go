package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v2"

	"github.com/vietddude/suindexer/internal/indexing/throttle"
	"github.com/vietddude/suindexer/internal/infra/rpc"
	"github.com/vietddude/suindexer/internal/infra/storage/sqldb"
)

const (
	// MaxBatchSize is the largest page the Sui node serves.
	MaxBatchSize = 50

	// DriverMemory keeps all state in process; nothing survives a restart.
	DriverMemory = "memory"
)

// Load reads configuration from a YAML file, then applies environment
// overrides and defaults, then validates. An empty path skips the file.
func Load(path string) (*AppConfig, error) {
	var cfg AppConfig

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Expand environment variables in the YAML content
		expandedData := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Sui.Timeout == 0 {
		c.Sui.Timeout = 30 * time.Second
	}

	ix := &c.Indexer
	if ix.PollInterval == 0 {
		ix.PollInterval = 30 * time.Second
	}
	if ix.BatchSize == 0 {
		ix.BatchSize = MaxBatchSize
	}
	if ix.HealthInterval == 0 {
		ix.HealthInterval = 5 * time.Minute
	}
	if ix.MaxDeadLetterRetries == 0 {
		ix.MaxDeadLetterRetries = 5
	}
	if ix.DeadLetterBatch == 0 {
		ix.DeadLetterBatch = 10
	}
	if ix.DeadLetterAudit == 0 {
		ix.DeadLetterAudit = time.Minute
	}

	if ix.CatchUp.MinInterval == 0 {
		ix.CatchUp.MinInterval = throttle.DefaultConfig().MinInterval
	}
	if ix.CatchUp.MaxBurst == 0 {
		ix.CatchUp.MaxBurst = throttle.DefaultConfig().MaxBurst
	}

	def := rpc.DefaultRetryConfig
	if ix.Retry.MaxAttempts == 0 {
		ix.Retry.MaxAttempts = def.MaxAttempts
	}
	if ix.Retry.InitialDelay == 0 {
		ix.Retry.InitialDelay = def.InitialDelay
	}
	if ix.Retry.MaxDelay == 0 {
		ix.Retry.MaxDelay = def.MaxDelay
	}
	if ix.Retry.BackoffFactor == 0 {
		ix.Retry.BackoffFactor = def.BackoffFactor
	}

	if c.Database.Driver == "" {
		c.Database.Driver = sqldb.DriverPostgres
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "suindexer"
	}
}

// Validate reports every problem that must stop the indexer from starting.
func (c *AppConfig) Validate() error {
	var errs []error

	if c.Sui.PackageID == "" {
		errs = append(errs, errors.New("sui.package_id is required"))
	}
	if c.Sui.RPCURL == "" {
		errs = append(errs, errors.New("sui.rpc_url is required"))
	} else if !absoluteURL(c.Sui.RPCURL) {
		errs = append(errs, fmt.Errorf("sui.rpc_url %q is not an absolute URL", c.Sui.RPCURL))
	}
	for _, fallback := range c.Sui.FallbackURLs {
		if !absoluteURL(fallback) {
			errs = append(errs, fmt.Errorf("sui.fallback_urls entry %q is not an absolute URL", fallback))
		}
	}
	if c.Indexer.BatchSize < 1 || c.Indexer.BatchSize > MaxBatchSize {
		errs = append(errs, fmt.Errorf("indexer.batch_size must be between 1 and %d, got %d", MaxBatchSize, c.Indexer.BatchSize))
	}
	if c.Indexer.PollInterval < 0 || c.Indexer.HealthInterval < 0 {
		errs = append(errs, errors.New("indexer intervals must be positive"))
	}
	if c.Indexer.Retry.BackoffFactor < 1 {
		errs = append(errs, errors.New("indexer.retry.backoff_factor must be at least 1"))
	}
	switch c.Database.Driver {
	case sqldb.DriverPostgres, sqldb.DriverSQLite, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	if c.Database.Driver != DriverMemory && c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func absoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}
