// Package config loads the clpool command configuration.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "CLPOOL"

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	DBPath         string
	JournalPath    string
	PGDSN          string
	MetricsOut     string
	LogLevel       string
	MaxSwapSteps   int
	TickRangeLimit int32
	Sender         common.Address
}

// Load merges config file, environment variables, and flags into Config.
// Flags win over the environment, which wins over the file.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("db", "./data/clpool.db")
	v.SetDefault("log-level", "info")
	v.SetDefault("max-swap-steps", 1024)
	v.SetDefault("tick-range-limit", 500)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("clpool")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		DBPath:         v.GetString("db"),
		JournalPath:    v.GetString("journal"),
		PGDSN:          v.GetString("pg-dsn"),
		MetricsOut:     v.GetString("metrics-out"),
		LogLevel:       v.GetString("log-level"),
		MaxSwapSteps:   v.GetInt("max-swap-steps"),
		TickRangeLimit: v.GetInt32("tick-range-limit"),
	}
	if sender := v.GetString("sender"); sender != "" {
		if !common.IsHexAddress(sender) {
			return Config{}, fmt.Errorf("sender %q is not a hex address", sender)
		}
		cfg.Sender = common.HexToAddress(sender)
	}
	if cfg.DBPath == "" {
		return Config{}, fmt.Errorf("db path is required")
	}
	if cfg.MaxSwapSteps <= 0 {
		return Config{}, fmt.Errorf("max-swap-steps must be positive, got %d", cfg.MaxSwapSteps)
	}
	if cfg.TickRangeLimit <= 0 {
		return Config{}, fmt.Errorf("tick-range-limit must be positive, got %d", cfg.TickRangeLimit)
	}
	return cfg, nil
}

// Level maps the configured log level onto slog.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}
