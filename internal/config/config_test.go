package config

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/imagestore"
)

func newViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	v.Set("dir", filepath.Join(t.TempDir(), "images"))
	return v
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(newViper(t))
	require.NoError(t, err)

	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, BackendRedis, cfg.Cache.Backend)
	assert.Equal(t, "127.0.0.1", cfg.Cache.Host)
	assert.Equal(t, 6379, cfg.Cache.Port)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.True(t, cfg.Filter.Enabled)
	assert.EqualValues(t, 1_000_000, cfg.Filter.Capacity)
	assert.Equal(t, 0.001, cfg.Filter.FPRate)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("IMAGESTORE_CACHE_ENABLED", "true")
	t.Setenv("IMAGESTORE_CACHE_BACKEND", "memory")
	t.Setenv("IMAGESTORE_CACHE_TTL", "90m")
	t.Setenv("IMAGESTORE_FILTER_ENABLED", "false")

	cfg, err := Load(newViper(t))
	require.NoError(t, err)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, BackendMemory, cfg.Cache.Backend)
	assert.Equal(t, 90*time.Minute, cfg.Cache.TTL)
	assert.False(t, cfg.Filter.Enabled)
}

func TestLoad_File(t *testing.T) {
	v := newViper(t)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(`
cache:
  enabled: true
  host: redis.internal
  port: 6380
  password: secret
  db: 2
  ttl: 1h
filter:
  capacity: 5000
  fp_rate: 0.01
`)))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "redis.internal", cfg.Cache.Host)
	assert.Equal(t, 6380, cfg.Cache.Port)
	assert.Equal(t, "secret", cfg.Cache.Password)
	assert.Equal(t, 2, cfg.Cache.DB)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.EqualValues(t, 5000, cfg.Filter.Capacity)
	assert.Equal(t, 0.01, cfg.Filter.FPRate)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		set  map[string]any
		want string
	}{
		{"bad backend", map[string]any{"cache.enabled": true, "cache.backend": "memcached"}, "cache.backend"},
		{"bad port", map[string]any{"cache.enabled": true, "cache.port": 70000}, "cache.port"},
		{"bad ttl", map[string]any{"cache.enabled": true, "cache.ttl": "0s"}, "cache.ttl"},
		{"bad fp rate", map[string]any{"filter.fp_rate": 1.5}, "filter.fp_rate"},
		{"no dir", map[string]any{"dir": ""}, "dir"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper(t)
			for k, val := range tt.set {
				v.Set(k, val)
			}
			_, err := Load(v)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfig_Open(t *testing.T) {
	ctx := context.Background()
	v := newViper(t)
	v.Set("cache.enabled", true)
	v.Set("cache.backend", BackendMemory)

	cfg, err := Load(v)
	require.NoError(t, err)

	s, err := cfg.Open(zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	name, err := s.AddItem(ctx, imagestore.NewItem("cat.jpg", []byte("meow")))
	require.NoError(t, err)
	item, err := s.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, name, item.Name)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.CacheSize)
}

func TestConfig_Logger(t *testing.T) {
	v := newViper(t)
	v.Set("log.format", "json")
	v.Set("log.level", "debug")
	cfg, err := Load(v)
	require.NoError(t, err)

	var buf bytes.Buffer
	log, err := cfg.Logger(&buf)
	require.NoError(t, err)
	log.Debug().Msg("visible")
	assert.Contains(t, buf.String(), `"message":"visible"`)
}
