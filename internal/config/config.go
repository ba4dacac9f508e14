// Package config maps viper settings onto an imagestore.Store.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/aweris/imagestore"
	"github.com/aweris/imagestore/internal/cache"
	"github.com/aweris/imagestore/internal/filter"
	"github.com/aweris/imagestore/internal/logging"
)

const EnvPrefix = "IMAGESTORE"

const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type Config struct {
	Dir    string       `mapstructure:"dir"`
	Cache  CacheConfig  `mapstructure:"cache"`
	Filter FilterConfig `mapstructure:"filter"`
	Log    LogConfig    `mapstructure:"log"`
	Remote RemoteConfig `mapstructure:"remote"`
}

type CacheConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Backend    string        `mapstructure:"backend"`
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
}

type FilterConfig struct {
	Enabled  bool    `mapstructure:"enabled"`
	Capacity uint    `mapstructure:"capacity"`
	FPRate   float64 `mapstructure:"fp_rate"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RemoteConfig holds registry credentials for push/pull.
// Empty credentials fall back to the docker keychain.
type RemoteConfig struct {
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	Concurrency int    `mapstructure:"concurrency"`
}

// SetDefaults registers defaults and environment bindings on v.
func SetDefaults(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("dir", imagestore.DefaultDir())
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.backend", BackendRedis)
	v.SetDefault("cache.host", "127.0.0.1")
	v.SetDefault("cache.port", 6379)
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", imagestore.DefaultCacheTTL)
	v.SetDefault("cache.max_entries", 0)
	v.SetDefault("filter.enabled", true)
	v.SetDefault("filter.capacity", filter.DefaultCapacity)
	v.SetDefault("filter.fp_rate", filter.DefaultFPRate)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", logging.FormatConsole)
	v.SetDefault("remote.username", "")
	v.SetDefault("remote.password", "")
	v.SetDefault("remote.concurrency", 4)
}

// Load decodes and validates the settings held by v.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Dir == "" {
		errs = append(errs, errors.New("dir must be set"))
	}
	if c.Cache.Enabled {
		switch c.Cache.Backend {
		case BackendRedis:
			if c.Cache.Host == "" {
				errs = append(errs, errors.New("cache.host must be set"))
			}
			if c.Cache.Port <= 0 || c.Cache.Port > 65535 {
				errs = append(errs, fmt.Errorf("cache.port %d out of range", c.Cache.Port))
			}
			if c.Cache.DB < 0 {
				errs = append(errs, fmt.Errorf("cache.db %d is negative", c.Cache.DB))
			}
		case BackendMemory:
		default:
			errs = append(errs, fmt.Errorf("unknown cache.backend %q", c.Cache.Backend))
		}
		if c.Cache.TTL <= 0 {
			errs = append(errs, fmt.Errorf("cache.ttl must be positive, got %s", c.Cache.TTL))
		}
	}
	if c.Filter.Enabled && (c.Filter.FPRate <= 0 || c.Filter.FPRate >= 1) {
		errs = append(errs, fmt.Errorf("filter.fp_rate %g must be in (0,1)", c.Filter.FPRate))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Logger builds the configured logger writing to w.
func (c Config) Logger(w io.Writer) (zerolog.Logger, error) {
	return logging.Setup(w, c.Log.Level, c.Log.Format)
}

// Options translates the config into Store options. Disabled tiers are
// left unset.
func (c Config) Options(log zerolog.Logger) []imagestore.Option {
	opts := []imagestore.Option{
		imagestore.WithDir(c.Dir),
		imagestore.WithLogger(log),
	}
	if c.Cache.Enabled {
		opts = append(opts, imagestore.WithCache(c.newCache()), imagestore.WithCacheTTL(c.Cache.TTL))
	}
	if c.Filter.Enabled {
		opts = append(opts, imagestore.WithFilter(filter.NewBloom(c.Filter.Capacity, c.Filter.FPRate)))
	}
	return opts
}

func (c Config) newCache() imagestore.Cache {
	if c.Cache.Backend == BackendMemory {
		return cache.NewMemory(c.Cache.MaxEntries)
	}
	return cache.NewRedis(cache.RedisOptions{
		Host:        c.Cache.Host,
		Port:        c.Cache.Port,
		Password:    c.Cache.Password,
		DB:          c.Cache.DB,
		DialTimeout: 5 * time.Second,
	})
}

// Open builds a Store from the config.
func (c Config) Open(log zerolog.Logger) (*imagestore.Store, error) {
	return imagestore.Open(c.Options(log)...)
}
