// Package config defines the flat configuration shape loaded once at
// startup and passed by value to every subsystem: plain structs with a
// Validate method, in the style of EDRmount's internal/config.
package config

import (
	"github.com/cafworker/cafworker/internal/errors"
)

// Config is the process-wide configuration, populated by cmd/cafworker's
// flag bindings.
type Config struct {
	WorkerID  int64
	ChainMode string // "mainnet" | "testnet"

	CAFMaxSizeGB      float64
	CAFTimeoutMinutes int
	Prefetch          int
	TempDir           string
	DownloadTimeoutMS int
	KeepCAFFiles      bool

	QueueURL   string
	QueueName  string
	CatalogDSN string

	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string

	B2AccountID     string
	B2AppKey        string
	B2MainnetBucket string
	B2TestnetBucket string

	AllowedOrigins []string
}

// HTTPPort derives the deterministic HTTP port from worker_id.
func (c Config) HTTPPort() int {
	return 6700 + int(c.WorkerID)
}

// CAFMaxSizeBytes converts the configured gigabyte ceiling to bytes.
func (c Config) CAFMaxSizeBytes() int64 {
	return int64(c.CAFMaxSizeGB * (1 << 30))
}

// Validate enforces that worker_id is positive and caf_max_size_gb does not
// exceed the format's 32 GiB ceiling, among the other required fields.
func (c Config) Validate() error {
	if c.WorkerID <= 0 {
		return errors.Errorf("worker_id must be a positive integer, got %d", c.WorkerID)
	}
	if c.ChainMode != "mainnet" && c.ChainMode != "testnet" {
		return errors.Errorf("chain_mode must be \"mainnet\" or \"testnet\", got %q", c.ChainMode)
	}
	if c.CAFMaxSizeGB <= 0 || c.CAFMaxSizeGB > 32 {
		return errors.Errorf("caf_max_size_gb must be in (0, 32], got %v", c.CAFMaxSizeGB)
	}
	if c.TempDir == "" {
		return errors.New("temp_dir is required")
	}
	if c.QueueURL == "" || c.QueueName == "" {
		return errors.New("queue_url and queue_name are required")
	}
	return nil
}
