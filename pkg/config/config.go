package config

// Package config provides a reusable loader for cartridgevault configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"

	"github.com/spf13/viper"

	"synnergy-network/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config represents the unified configuration for a cartridgevault client or
// proxy. It mirrors the structure of the YAML files under config/.
type Config struct {
	Catalog struct {
		ProgramID  string `mapstructure:"program_id" json:"program_id"`
		WALPath    string `mapstructure:"wal_path" json:"wal_path"`
		PageCap    int    `mapstructure:"page_cap" json:"page_cap"`
		ChunkSize  int    `mapstructure:"chunk_size" json:"chunk_size"`
	} `mapstructure:"catalog" json:"catalog"`

	Transport struct {
		Endpoints   []string `mapstructure:"endpoints" json:"endpoints"`
		RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`
		RateWindowS int      `mapstructure:"rate_window_seconds" json:"rate_window_seconds"`
	} `mapstructure:"transport" json:"transport"`

	Cache struct {
		Dir        string `mapstructure:"dir" json:"dir"`
		HotEntries int    `mapstructure:"hot_entries" json:"hot_entries"`
	} `mapstructure:"cache" json:"cache"`

	Proxy struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
		RateMode   string `mapstructure:"rate_mode" json:"rate_mode"`
		Behavior   string `mapstructure:"behavior" json:"behavior"`
	} `mapstructure:"proxy" json:"proxy"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
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

	viper.AutomaticEnv() // picks up overrides from process environment variables

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the SYNN_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("SYNN_ENV", ""))
}
