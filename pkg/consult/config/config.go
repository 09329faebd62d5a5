// Package config loads consult settings from a YAML file and CONSULT_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cognicore/consult/pkg/consult/internalerr"
	"github.com/cognicore/consult/pkg/consult/kb"
)

// Store drivers.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

type Config struct {
	// KnowledgeBase is the JSON or YAML document read by validate and
	// import, and loaded into the memory store.
	KnowledgeBase string      `yaml:"knowledge_base" mapstructure:"knowledge_base"`
	ActionKey     string      `yaml:"action_key" mapstructure:"action_key"`
	Store         StoreConfig `yaml:"store" mapstructure:"store"`
	Log           LogConfig   `yaml:"log" mapstructure:"log"`
}

type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	Path   string `yaml:"path" mapstructure:"path"`
}

type LogConfig struct {
	Level       string `yaml:"level" mapstructure:"level"`
	Development bool   `yaml:"development" mapstructure:"development"`
}

func DefaultConfig() *Config {
	return &Config{
		KnowledgeBase: "base.json",
		ActionKey:     kb.DefaultActionKey,
		Store: StoreConfig{
			Driver: DriverFile,
			Path:   "base.json",
		},
		Log: LogConfig{
			Level: "warn",
		},
	}
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("knowledge_base", cfg.KnowledgeBase)
	v.SetDefault("action_key", cfg.ActionKey)
	v.SetDefault("store.driver", cfg.Store.Driver)
	v.SetDefault("store.path", cfg.Store.Path)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.development", cfg.Log.Development)
}

// Load reads configuration. An explicit path must exist; otherwise
// consult.yaml is looked up in the working directory and the user config
// directory, and a missing file leaves the defaults in place.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("consult")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "consult"))
		}
	}

	// Environment variables
	v.SetEnvPrefix("CONSULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverFile, DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("config: store.path is required for driver %q: %w", c.Store.Driver, internalerr.ErrInvalidConfig)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("config: unknown store.driver %q (must be file, sqlite, or memory): %w", c.Store.Driver, internalerr.ErrInvalidConfig)
	}
	if strings.TrimSpace(c.ActionKey) == "" {
		return fmt.Errorf("config: action_key must not be empty: %w", internalerr.ErrInvalidConfig)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %v: %w", err, internalerr.ErrInvalidConfig)
	}
	return nil
}

// Logger builds the zap logger described by the log section. debug forces
// the debug level.
func (c *Config) Logger(debug bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	if debug {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}
