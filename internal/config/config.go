package config

import (
	"fmt"

	"github.com/finledger/ledgercore/internal/kv/mysqlkv"
	"github.com/finledger/ledgercore/internal/service"
	"github.com/spf13/viper"
)

type Config struct {
	API         API                       `mapstructure:"api"`
	Metrics     Metrics                   `mapstructure:"metrics"`
	Store       Store                     `mapstructure:"store"`
	Kafka       Kafka                     `mapstructure:"kafka"`
	Idempotency service.IdempotencyConfig `mapstructure:"idempotency"`
	Provision   Provision                 `mapstructure:"provision"`
}

type API struct {
	Port string `mapstructure:"port"`
}

type Metrics struct {
	Port string `mapstructure:"port"`
}

// Store selects the record-store backend: "mysql" (default) or "memory".
type Store struct {
	Driver string         `mapstructure:"driver"`
	MySQL  mysqlkv.Config `mapstructure:"mysql"`
}

// Kafka configures the transaction event publisher; no brokers disables it.
type Kafka struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type Provision struct {
	Seed []SeedAccount `mapstructure:"seed"`
}

type SeedAccount struct {
	AccountID string `mapstructure:"account_id"`
	Balance   string `mapstructure:"balance"`
}

func Load() (cfg *Config, err error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AddConfigPath("./config")

	err = viper.ReadInConfig()
	if err != nil {
		return cfg, fmt.Errorf("failed to load config: %w", err)
	}

	err = viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}
