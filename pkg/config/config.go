package config

// Package config provides a reusable loader for marketl2d configuration
// files and environment variables: godotenv for local .env files, viper
// for merge/env overlay, mapstructure-tagged sections per concern.
//
// Version: v0.1.0

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/tari-l2/marketplace/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for a marketl2d node.
type Config struct {
	Network struct {
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		DiscoveryTag   string   `mapstructure:"discovery_tag" json:"discovery_tag"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
	} `mapstructure:"network" json:"network"`

	Channel struct {
		ChallengePeriodSecs uint64 `mapstructure:"challenge_period_secs" json:"challenge_period_secs"`
	} `mapstructure:"channel" json:"channel"`

	Escrow struct {
		TimeoutPeriodSecs     uint64 `mapstructure:"timeout_period_secs" json:"timeout_period_secs"`
		SweepIntervalSecs     uint64 `mapstructure:"sweep_interval_secs" json:"sweep_interval_secs"`
	} `mapstructure:"escrow" json:"escrow"`

	Storage struct {
		DBPath string `mapstructure:"db_path" json:"db_path"`
	} `mapstructure:"storage" json:"storage"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment-specific
// overrides. The resulting configuration is stored in AppConfig and
// returned. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	_ = godotenv.Load() // best-effort; missing .env is not an error

	viper.SetConfigName("default")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the MARKETL2_ENV environment
// variable to select an overlay file.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("MARKETL2_ENV", ""))
}
