package cache

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a Redis backend.
type RedisOptions struct {
	Host        string
	Port        int
	Password    string
	DB          int
	DialTimeout time.Duration
}

// Addr returns host:port.
func (o RedisOptions) Addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// Redis implements Cache over SET EX, GET, RANDOMKEY and DBSIZE.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis backend. No connection is made until first use.
func NewRedis(opts RedisOptions) *Redis {
	return NewRedisFromClient(redis.NewClient(&redis.Options{
		Addr:        opts.Addr(),
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
	}))
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping: %w", ErrUnavailable, err)
	}
	return nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %w", ErrUnavailable, key, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %w", ErrUnavailable, key, err)
	}
	return val, nil
}

func (r *Redis) RandomKey(ctx context.Context) (string, error) {
	key, err := r.client.RandomKey(ctx).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	if err != nil {
		return "", fmt.Errorf("%w: randomkey: %w", ErrUnavailable, err)
	}
	return key, nil
}

func (r *Redis) Size(ctx context.Context) (int64, error) {
	n, err := r.client.DBSize(ctx).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: dbsize: %w", ErrUnavailable, err)
	}
	return n, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
