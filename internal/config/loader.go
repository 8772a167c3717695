// Package config loads application-level settings: logging, the status
// server, and scheduler client overrides.
//
// Run-specific inputs (paths, partition sizes, polling) belong to the run
// manifest, not here. Settings resolve in the usual precedence order:
// environment (PEAKSCREEN_*), explicit config file, then defaults.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config is the resolved application configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// LoggingConfig controls the CLI logger.
type LoggingConfig struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string `mapstructure:"level"`
}

// ServerConfig controls the optional status server.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SchedulerConfig overrides the scheduler client binaries.
type SchedulerConfig struct {
	SbatchPath string `mapstructure:"sbatch_path"`
	SqueuePath string `mapstructure:"squeue_path"`
}

// Load resolves configuration. path optionally names an explicit config
// file; when empty, only environment variables and defaults apply.
func Load(_ context.Context, path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("logging.level", "info")
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8844)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("scheduler.sbatch_path", "sbatch")
	v.SetDefault("scheduler.squeue_path", "squeue")

	v.SetEnvPrefix("PEAKSCREEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}
