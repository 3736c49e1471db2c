// Copyright 2025 AidTrace Project
//
// YAML configuration loader with ${ENV} and ${ENV:default}
// substitution. MergeFileWithEnv overrides the file's values with
// explicitly set environment variables for the keys it lists, so a file
// can carry the deployment shape while secrets stay in the environment.

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// envPattern matches ${VAR} and ${VAR:default}.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([^}]*))?\}`)

// LoadFile reads a YAML configuration file, substituting environment
// references before parsing.
func LoadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	substituted := substituteEnv(string(raw))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(substituted), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// substituteEnv replaces ${VAR} references with the environment value
// or the inline default.
func substituteEnv(in string) string {
	return envPattern.ReplaceAllStringFunc(in, func(match string) string {
		groups := envPattern.FindStringSubmatch(match)
		name, fallback := groups[1], groups[2]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return fallback
	})
}

// MergeFileWithEnv loads the file when path is non-empty, then applies
// environment overrides on top.
func MergeFileWithEnv(path string) (*Config, error) {
	if path == "" {
		return Load()
	}
	fileCfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	envCfg, err := Load()
	if err != nil {
		return nil, err
	}

	// Environment wins wherever it was explicitly set.
	merged := *fileCfg
	override := func(envKey string, apply func()) {
		if _, ok := os.LookupEnv(envKey); ok {
			apply()
		}
	}
	override("API_PORT", func() { merged.ListenAddr = envCfg.ListenAddr })
	override("METRICS_PORT", func() { merged.MetricsAddr = envCfg.MetricsAddr })
	override("DATABASE_URL", func() { merged.DatabaseURL = envCfg.DatabaseURL })
	override("DATA_DIR", func() { merged.DataDir = envCfg.DataDir })
	override("VALIDATOR_PASSWORD", func() { merged.Consensus.ValidatorPassword = envCfg.Consensus.ValidatorPassword })
	override("BLOCK_CREATION_INTERVAL_SECONDS", func() {
		merged.Consensus.BlockCreationIntervalSeconds = envCfg.Consensus.BlockCreationIntervalSeconds
	})
	override("ENABLE_AUTOMATED_BLOCK_CREATION", func() {
		merged.Consensus.EnableAutomatedBlockCreation = envCfg.Consensus.EnableAutomatedBlockCreation
	})
	override("PERSISTENCE_FILE_PATH", func() { merged.Persistence.FilePath = envCfg.Persistence.FilePath })
	override("VALIDATE_TRANSACTION_SIGNATURES", func() {
		merged.ValidateTransactionSignatures = envCfg.ValidateTransactionSignatures
	})
	override("VALIDATE_BLOCK_SIGNATURES", func() {
		merged.ValidateBlockSignatures = envCfg.ValidateBlockSignatures
	})
	override("BOOTSTRAP_MODE", func() { merged.BootstrapMode = envCfg.BootstrapMode })
	override("LOG_LEVEL", func() { merged.LogLevel = envCfg.LogLevel })

	// Empty strings from a sparse file fall back to env defaults.
	if merged.ListenAddr == "" {
		merged.ListenAddr = envCfg.ListenAddr
	}
	if merged.MetricsAddr == "" {
		merged.MetricsAddr = envCfg.MetricsAddr
	}
	if merged.Persistence.FilePath == "" {
		merged.Persistence.FilePath = envCfg.Persistence.FilePath
	}
	if merged.Consensus.BlockCreationIntervalSeconds == 0 {
		merged.Consensus.BlockCreationIntervalSeconds = envCfg.Consensus.BlockCreationIntervalSeconds
	}
	if merged.Consensus.MinimumTransactionsPerBlock == 0 {
		merged.Consensus.MinimumTransactionsPerBlock = envCfg.Consensus.MinimumTransactionsPerBlock
	}
	if merged.Consensus.MaximumTransactionsPerBlock == 0 {
		merged.Consensus.MaximumTransactionsPerBlock = envCfg.Consensus.MaximumTransactionsPerBlock
	}
	if merged.Persistence.MaxBackupFiles == 0 {
		merged.Persistence.MaxBackupFiles = envCfg.Persistence.MaxBackupFiles
	}
	if merged.LogLevel == "" {
		merged.LogLevel = envCfg.LogLevel
	}
	if strings.TrimSpace(merged.DataDir) == "" {
		merged.DataDir = envCfg.DataDir
	}
	return &merged, nil
}
