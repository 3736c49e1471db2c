// Copyright 2025 AidTrace Project
//
// Node configuration, read from environment variables. A YAML file
// loader with the same shape lives in file.go; MergeFileWithEnv lets
// explicitly set environment values win for the keys it lists.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ConsensusSettings controls automated block production.
type ConsensusSettings struct {
	BlockCreationIntervalSeconds int    `yaml:"block_creation_interval_seconds"`
	MinimumTransactionsPerBlock  int    `yaml:"minimum_transactions_per_block"`
	MaximumTransactionsPerBlock  int    `yaml:"maximum_transactions_per_block"`
	ValidatorPassword            string `yaml:"validator_password"`
	EnableAutomatedBlockCreation bool   `yaml:"enable_automated_block_creation"`
}

// PersistenceSettings controls the chain snapshot file.
type PersistenceSettings struct {
	Enabled                    bool   `yaml:"enabled"`
	FilePath                   string `yaml:"file_path"`
	AutoSaveAfterBlockCreation bool   `yaml:"auto_save_after_block_creation"`
	AutoLoadOnStartup          bool   `yaml:"auto_load_on_startup"`
	CreateBackup               bool   `yaml:"create_backup"`
	MaxBackupFiles             int    `yaml:"max_backup_files"`
}

// Config holds all configuration for the aid ledger node.
type Config struct {
	// Server Configuration
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	// Database Configuration. Empty DatabaseURL selects the in-memory
	// repositories; this is independent of BootstrapMode.
	DatabaseURL         string        `yaml:"database_url"`
	DatabaseMaxConns    int           `yaml:"database_max_conns"`
	DatabaseMinConns    int           `yaml:"database_min_conns"`
	DatabaseMaxIdleTime time.Duration `yaml:"database_max_idle_time"`
	DatabaseMaxLifetime time.Duration `yaml:"database_max_lifetime"`

	// Data directory for the KV side index. Empty disables the
	// on-disk index and uses memory.
	DataDir string `yaml:"data_dir"`

	Consensus   ConsensusSettings   `yaml:"consensus"`
	Persistence PersistenceSettings `yaml:"persistence"`

	// Signature enforcement flags. Both default on; turning either off
	// is a bootstrap measure, not a production mode.
	ValidateTransactionSignatures bool `yaml:"validate_transaction_signatures"`
	ValidateBlockSignatures       bool `yaml:"validate_block_signatures"`

	// BootstrapMode allows sentinel transaction signatures for
	// principals without a session key.
	BootstrapMode bool `yaml:"bootstrap_mode"`

	LogLevel string `yaml:"log_level"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:  getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("API_PORT", "8080"),
		MetricsAddr: getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("METRICS_PORT", "9090"),

		DatabaseURL:         getEnv("DATABASE_URL", ""),
		DatabaseMaxConns:    getEnvInt("DATABASE_MAX_CONNS", 25),
		DatabaseMinConns:    getEnvInt("DATABASE_MIN_CONNS", 5),
		DatabaseMaxIdleTime: getEnvDuration("DATABASE_MAX_IDLE_TIME", 5*time.Minute),
		DatabaseMaxLifetime: getEnvDuration("DATABASE_MAX_LIFETIME", time.Hour),

		DataDir: getEnv("DATA_DIR", "./data"),

		Consensus: ConsensusSettings{
			BlockCreationIntervalSeconds: getEnvInt("BLOCK_CREATION_INTERVAL_SECONDS", 30),
			MinimumTransactionsPerBlock:  getEnvInt("MINIMUM_TRANSACTIONS_PER_BLOCK", 1),
			MaximumTransactionsPerBlock:  getEnvInt("MAXIMUM_TRANSACTIONS_PER_BLOCK", 100),
			ValidatorPassword:            getEnv("VALIDATOR_PASSWORD", ""),
			EnableAutomatedBlockCreation: getEnvBool("ENABLE_AUTOMATED_BLOCK_CREATION", true),
		},
		Persistence: PersistenceSettings{
			Enabled:                    getEnvBool("PERSISTENCE_ENABLED", true),
			FilePath:                   getEnv("PERSISTENCE_FILE_PATH", "./data/chain.json"),
			AutoSaveAfterBlockCreation: getEnvBool("PERSISTENCE_AUTO_SAVE", true),
			AutoLoadOnStartup:          getEnvBool("PERSISTENCE_AUTO_LOAD", true),
			CreateBackup:               getEnvBool("PERSISTENCE_CREATE_BACKUP", true),
			MaxBackupFiles:             getEnvInt("PERSISTENCE_MAX_BACKUP_FILES", 5),
		},

		ValidateTransactionSignatures: getEnvBool("VALIDATE_TRANSACTION_SIGNATURES", true),
		ValidateBlockSignatures:       getEnvBool("VALIDATE_BLOCK_SIGNATURES", true),
		BootstrapMode:                 getEnvBool("BOOTSTRAP_MODE", false),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
// Call after Load before starting the node.
func (c *Config) Validate() error {
	var problems []string

	if c.Consensus.EnableAutomatedBlockCreation && c.Consensus.ValidatorPassword == "" {
		problems = append(problems, "VALIDATOR_PASSWORD is required when automated block creation is enabled")
	}
	if c.Consensus.BlockCreationIntervalSeconds <= 0 {
		problems = append(problems, "BLOCK_CREATION_INTERVAL_SECONDS must be positive")
	}
	if c.Consensus.MinimumTransactionsPerBlock < 1 {
		problems = append(problems, "MINIMUM_TRANSACTIONS_PER_BLOCK must be at least 1")
	}
	if c.Consensus.MaximumTransactionsPerBlock < c.Consensus.MinimumTransactionsPerBlock {
		problems = append(problems, "MAXIMUM_TRANSACTIONS_PER_BLOCK must be >= the minimum")
	}
	if c.Persistence.Enabled && c.Persistence.FilePath == "" {
		problems = append(problems, "PERSISTENCE_FILE_PATH is required when persistence is enabled")
	}
	if !c.ValidateTransactionSignatures && !c.BootstrapMode {
		problems = append(problems, "disabling transaction signature validation requires BOOTSTRAP_MODE")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
