package config

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "XQUERY"

type CacheConfig struct {
	Size      int `mapstructure:"size"`
	MaxIdle   int `mapstructure:"max_idle"`
	MaxActive int `mapstructure:"max_active"`
}

type EvalConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Workers int           `mapstructure:"workers"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type Config struct {
	Cache CacheConfig `mapstructure:"cache"`
	Eval  EvalConfig  `mapstructure:"eval"`
	Store StoreConfig `mapstructure:"store"`
	Log   LogConfig   `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cache.size", 128)
	v.SetDefault("cache.max_idle", 4)
	v.SetDefault("cache.max_active", 256)
	v.SetDefault("eval.timeout", 30*time.Second)
	v.SetDefault("eval.workers", 8)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.path", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
}

func Default() *Config {
	cfg, _ := Load("")
	return cfg
}

// Load reads the configuration from file, when given, then from the
// environment variables prefixed with XQUERY_ (XQUERY_CACHE_MAX_IDLE for
// cache.max_idle).
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path: required by sqlite driver")
		}
	default:
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}
	if c.Cache.MaxActive < c.Cache.MaxIdle {
		return fmt.Errorf("cache.max_active: must be greater than cache.max_idle")
	}
	if c.Eval.Timeout < 0 {
		return fmt.Errorf("eval.timeout: negative duration")
	}
	return nil
}

type view struct {
	Cache struct {
		Size      int `yaml:"size"`
		MaxIdle   int `yaml:"max_idle"`
		MaxActive int `yaml:"max_active"`
	} `yaml:"cache"`
	Eval struct {
		Timeout string `yaml:"timeout"`
		Workers int    `yaml:"workers"`
	} `yaml:"eval"`
	Store struct {
		Driver string `yaml:"driver"`
		Path   string `yaml:"path,omitempty"`
	} `yaml:"store"`
	Log struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file,omitempty"`
		MaxSize    int    `yaml:"max_size"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAge     int    `yaml:"max_age"`
	} `yaml:"log"`
}

// YAML renders the configuration in the format accepted by Load.
func (c *Config) YAML() (string, error) {
	var v view
	v.Cache.Size = c.Cache.Size
	v.Cache.MaxIdle = c.Cache.MaxIdle
	v.Cache.MaxActive = c.Cache.MaxActive
	v.Eval.Timeout = c.Eval.Timeout.String()
	v.Eval.Workers = c.Eval.Workers
	v.Store.Driver = c.Store.Driver
	v.Store.Path = c.Store.Path
	v.Log.Level = c.Log.Level
	v.Log.File = c.Log.File
	v.Log.MaxSize = c.Log.MaxSize
	v.Log.MaxBackups = c.Log.MaxBackups
	v.Log.MaxAge = c.Log.MaxAge

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
