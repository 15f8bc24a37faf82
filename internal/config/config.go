// Package config содержит логику чтения конфигурации реестра наград.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации реестра наград.
type Config struct {
	RunAddress         string `env:"RUN_ADDRESS"`
	DatabaseURI        string `env:"DATABASE_URI"`
	TokenSystemAddress string `env:"TOKEN_SYSTEM_ADDRESS"`
	RewardTokenAddress string `env:"REWARD_TOKEN_ADDRESS"`
	LedgerAddress      string `env:"LEDGER_ADDRESS"`
	OwnerAddress       string `env:"OWNER_ADDRESS"`
	AuthSecret         string `env:"AUTH_SECRET"`
	MinDisbursement    int64  `env:"MIN_DISBURSEMENT"`
	MaxDisbursement    int64  `env:"MAX_DISBURSEMENT"`
	MaxBatchSize       int    `env:"MAX_BATCH_SIZE"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envTokenAddress := cfg.TokenSystemAddress
	envMin := cfg.MinDisbursement
	envMax := cfg.MaxDisbursement
	envBatch := cfg.MaxBatchSize

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.TokenSystemAddress, "t", "", "token custody system address")
	flag.Int64Var(&cfg.MinDisbursement, "min", 1, "minimum disbursement amount in token base units")
	flag.Int64Var(&cfg.MaxDisbursement, "max", 1000000, "maximum disbursement amount in token base units")
	flag.IntVar(&cfg.MaxBatchSize, "batch", 50, "maximum number of entries per batch disbursement")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envTokenAddress != "" {
		cfg.TokenSystemAddress = envTokenAddress
	}
	if envMin != 0 {
		cfg.MinDisbursement = envMin
	}
	if envMax != 0 {
		cfg.MaxDisbursement = envMax
	}
	if envBatch != 0 {
		cfg.MaxBatchSize = envBatch
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if cfg.MinDisbursement >= cfg.MaxDisbursement {
		return nil, fmt.Errorf("min disbursement %d must be less than max %d", cfg.MinDisbursement, cfg.MaxDisbursement)
	}

	return cfg, nil
}
