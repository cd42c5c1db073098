// Package config loads forkwiki settings from .forkwiki.yaml, FORKWIKI_*
// environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

const (
	EnvPrefix  = "FORKWIKI"
	ConfigName = ".forkwiki"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendDisk   = "disk"
	BackendRedis  = "redis"
	BackendGRPC   = "grpc"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	KeyFile   string          `mapstructure:"key_file" json:"key_file"`
	Storage   StorageConfig   `mapstructure:"storage" json:"storage"`
	Serve     ServeConfig     `mapstructure:"serve" json:"serve"`
	Discovery DiscoveryConfig `mapstructure:"discovery" json:"discovery"`
	Retry     RetryConfig     `mapstructure:"retry" json:"retry"`
}

type StorageConfig struct {
	Backend     string `mapstructure:"backend" json:"backend"`
	DiskDir     string `mapstructure:"disk_dir" json:"disk_dir"`
	CacheSize   string `mapstructure:"cache_size" json:"cache_size"`
	RedisURL    string `mapstructure:"redis_url" json:"redis_url"`
	GRPCAddress string `mapstructure:"grpc_address" json:"grpc_address"`
}

type ServeConfig struct {
	Address        string `mapstructure:"address" json:"address"`
	MetricsAddress string `mapstructure:"metrics_address" json:"metrics_address"`
}

type DiscoveryConfig struct {
	Timeout     time.Duration `mapstructure:"timeout" json:"timeout"`
	Concurrency int           `mapstructure:"concurrency" json:"concurrency"`
}

type RetryConfig struct {
	MaxRetries   int           `mapstructure:"max_retries" json:"max_retries"`
	BaseDelay    time.Duration `mapstructure:"base_delay" json:"base_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay" json:"max_delay"`
	JitterFactor float64       `mapstructure:"jitter_factor" json:"jitter_factor"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("key_file", "~/.forkwiki/identity.key")
	v.SetDefault("storage.backend", BackendDisk)
	v.SetDefault("storage.disk_dir", "~/.forkwiki/data")
	v.SetDefault("storage.cache_size", "16MiB")
	v.SetDefault("storage.redis_url", "redis://localhost:6379/0")
	v.SetDefault("storage.grpc_address", "localhost:7070")
	v.SetDefault("serve.address", ":7070")
	v.SetDefault("serve.metrics_address", ":9090")
	v.SetDefault("discovery.timeout", 5*time.Second)
	v.SetDefault("discovery.concurrency", 8)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay", 100*time.Millisecond)
	v.SetDefault("retry.max_delay", 5*time.Second)
	v.SetDefault("retry.jitter_factor", 0.2)
}

// Load reads path when given, otherwise searches $FORKWIKI_CONFIG_PATH, the
// working directory and the home directory for .forkwiki.yaml. A missing
// file is not an error when searching.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return nil, fmt.Errorf("failed to expand config path: %w", err)
		}
		v.SetConfigFile(expanded)
	} else {
		v.SetConfigName(ConfigName)
		if override := os.Getenv(EnvPrefix + "_CONFIG_PATH"); override != "" {
			v.AddConfigPath(override)
		}
		v.AddConfigPath("./")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.KeyFile, &c.Storage.DiskDir} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

func (c *Config) Validate() error {
	backends := []string{BackendMemory, BackendDisk, BackendRedis, BackendGRPC}
	if !slices.Contains(backends, c.Storage.Backend) {
		return fmt.Errorf("%w: storage.backend %q must be one of %s", ErrInvalidConfig, c.Storage.Backend, strings.Join(backends, ", "))
	}
	if _, err := c.CacheSizeBytes(); err != nil {
		return fmt.Errorf("%w: storage.cache_size: %v", ErrInvalidConfig, err)
	}
	if c.Discovery.Timeout <= 0 {
		return fmt.Errorf("%w: discovery.timeout must be positive", ErrInvalidConfig)
	}
	if c.Discovery.Concurrency <= 0 {
		return fmt.Errorf("%w: discovery.concurrency must be positive", ErrInvalidConfig)
	}
	if c.Retry.MaxRetries < 0 || c.Retry.JitterFactor < 0 || c.Retry.JitterFactor > 1 {
		return fmt.Errorf("%w: retry settings out of range", ErrInvalidConfig)
	}
	return nil
}

// CacheSizeBytes parses Storage.CacheSize.
func (c *Config) CacheSizeBytes() (uint64, error) {
	size, err := ParseSize(c.Storage.CacheSize)
	if err != nil {
		return 0, err
	}
	return uint64(size), nil
}
