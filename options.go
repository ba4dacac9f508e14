package imagestore

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// DefaultCacheTTL is how long images stay in the cache tier.
const DefaultCacheTTL = 24 * time.Hour

// Options configures a Store.
type Options struct {
	Dir      string
	Durable  Durable
	Cache    Cache
	CacheTTL time.Duration
	Filter   Filter
	Logger   zerolog.Logger
	Rand     *rand.Rand
}

// Option is a functional option for configuring Open.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Dir:      DefaultDir(),
		CacheTTL: DefaultCacheTTL,
		Logger:   zerolog.Nop(),
	}
}

// WithDir sets the directory of the durable tier.
func WithDir(dir string) Option {
	return func(o *Options) { o.Dir = dir }
}

// WithDurable replaces the filesystem tier. WithDir is ignored when set.
func WithDurable(d Durable) Option {
	return func(o *Options) { o.Durable = d }
}

// WithCache enables the cache tier.
func WithCache(c Cache) Option {
	return func(o *Options) { o.Cache = c }
}

// WithCacheTTL sets the expiry of cache entries.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *Options) {
		if ttl > 0 {
			o.CacheTTL = ttl
		}
	}
}

// WithFilter enables deduplication of popped images.
func WithFilter(f Filter) Option {
	return func(o *Options) { o.Filter = f }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithRand seeds renames and durable sampling. Used for reproducible tests.
func WithRand(r *rand.Rand) Option {
	return func(o *Options) { o.Rand = r }
}

// DefaultDir returns $XDG_DATA_HOME/imagestore/images or its home fallback.
func DefaultDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "imagestore", "images")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "imagestore", "images")
	}
	return filepath.Join(".imagestore", "images")
}
