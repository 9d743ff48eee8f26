// Package config provides a reusable loader for theblockd configuration
// files and environment variables. It is versioned so that applications
// can depend on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/viper"

	"github.com/Ian-Reitsma/the-block-sub006/core"
	"github.com/Ian-Reitsma/the-block-sub006/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config mirrors the kernel's configuration object. Field names follow
// the TB_* environment variables and the YAML keys under cmd/config.
type Config struct {
	MaxMempoolSize       int    `mapstructure:"max_mempool_size" json:"max_mempool_size"`
	MaxPendingPerAccount int    `mapstructure:"max_pending_per_account" json:"max_pending_per_account"`
	TxTTLSecs            uint64 `mapstructure:"tx_ttl_secs" json:"tx_ttl_secs"`
	MinFeePerByte        uint64 `mapstructure:"min_fee_per_byte" json:"min_fee_per_byte"`
	PurgeIntervalSecs    int    `mapstructure:"purge_interval_secs" json:"purge_interval_secs"`
	TargetSpacingMS      uint64 `mapstructure:"target_spacing_ms" json:"target_spacing_ms"`
	DifficultyWindow     int    `mapstructure:"difficulty_window" json:"difficulty_window"`
	BlockTxBudget        int    `mapstructure:"block_tx_budget" json:"block_tx_budget"`
	GenesisHash          string `mapstructure:"genesis_hash" json:"genesis_hash"`
	ChainID              string `mapstructure:"chain_id" json:"chain_id"`

	DataDir  string `mapstructure:"data_dir" json:"data_dir"`
	BindAddr string `mapstructure:"bind_addr" json:"bind_addr"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// defaults seeds AppConfig with the kernel's documented defaults before any
// file or environment override is applied.
func defaults() Config {
	def := core.DefaultConfig()
	var c Config
	c.MaxMempoolSize = def.MaxMempoolSize
	c.MaxPendingPerAccount = def.MaxPendingPerAccount
	c.TxTTLSecs = def.TxTTLSecs
	c.MinFeePerByte = def.MinFeePerByte
	c.PurgeIntervalSecs = def.PurgeIntervalSecs
	c.TargetSpacingMS = def.TargetSpacingMS
	c.DifficultyWindow = def.DifficultyWindow
	c.BlockTxBudget = def.BlockTxBudget
	c.ChainID = def.ChainID
	c.DataDir = "./theblock-data"
	c.BindAddr = ":8080"
	c.Logging.Level = "info"
	return c
}

// Load reads configuration files (YAML under cmd/config and, if env is
// non-empty, an environment-specific overlay merged on top) and any TB_*
// environment variable overrides. The resulting configuration is stored in
// AppConfig and returned.
func Load(env string) (*Config, error) {
	AppConfig = defaults()

	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, utils.Wrap(err, "load config")
		}
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.SetEnvPrefix("TB")
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the TB_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("TB_ENV", ""))
}

// ToCore translates the loaded Config into core.Config, decoding GenesisHash
// from its hex string representation. An empty GenesisHash yields the zero
// hash (the all-zero genesis used by tests and fresh chains).
func (c Config) ToCore() (core.Config, error) {
	cc := core.Config{
		MaxMempoolSize:       c.MaxMempoolSize,
		MaxPendingPerAccount: c.MaxPendingPerAccount,
		TxTTLSecs:            c.TxTTLSecs,
		MinFeePerByte:        c.MinFeePerByte,
		PurgeIntervalSecs:    c.PurgeIntervalSecs,
		TargetSpacingMS:      c.TargetSpacingMS,
		DifficultyWindow:     c.DifficultyWindow,
		BlockTxBudget:        c.BlockTxBudget,
		ChainID:              c.ChainID,
	}
	if c.GenesisHash != "" {
		raw, err := hex.DecodeString(c.GenesisHash)
		if err != nil {
			return core.Config{}, utils.Wrap(err, "decode genesis_hash")
		}
		if len(raw) != len(cc.GenesisHash) {
			return core.Config{}, fmt.Errorf("config: genesis_hash must be %d bytes, got %d", len(cc.GenesisHash), len(raw))
		}
		copy(cc.GenesisHash[:], raw)
	}
	return cc, nil
}
