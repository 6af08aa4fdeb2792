package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

type SandboxConfig struct {
	Capacity       int           `mapstructure:"capacity"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
	CallTimeout    time.Duration `mapstructure:"call_timeout"`
	TemplatesDir   string        `mapstructure:"templates_dir"`
}

type RuntimeConfig struct {
	AllowedImages []string `mapstructure:"allowed_images"`
	MaxMemoryMiB  int      `mapstructure:"max_memory_mib"`
	Network       bool     `mapstructure:"network"`
}

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
	Runtime RuntimeConfig `mapstructure:"runtime"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("vibekraft")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.vibekraft")

	v.SetDefault("server.port", 8080)
	v.SetDefault("storage.db_path", filepath.Join(os.Getenv("HOME"), ".vibekraft", "vibekraft.db"))
	v.SetDefault("sandbox.capacity", 20)
	v.SetDefault("sandbox.idle_timeout", "30m")
	v.SetDefault("sandbox.health_interval", "30s")
	v.SetDefault("sandbox.call_timeout", "30s")
	v.SetDefault("runtime.max_memory_mib", 2048)
	v.SetDefault("runtime.network", true)

	if err := v.ReadInConfig(); err != nil {
		// Defaults are enough to run; only a malformed file is fatal.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return &cfg, nil
}
