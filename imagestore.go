package imagestore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/aweris/imagestore/internal/store"
)

const (
	// Phase A gives up once the cache holds fewer than minCacheSize
	// unprobed keys or after maxCacheAttempts keys.
	minCacheSize     = 10
	maxCacheAttempts = 4
)

// Store persists images to a durable tier and, optionally, a cache tier,
// and pops previously stored images back out.
type Store struct {
	durable Durable
	cache   Cache
	filter  Filter
	ttl     time.Duration
	log     zerolog.Logger

	popMu   sync.Mutex
	metrics counters
}

// Open creates a Store. The durable tier is created at Options.Dir unless
// WithDurable supplies one.
func Open(opts ...Option) (*Store, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	durable := options.Durable
	if durable == nil {
		local, err := store.NewLocalStore(options.Dir)
		if err != nil {
			return nil, fmt.Errorf("open durable store: %w", err)
		}
		local.SetRand(options.Rand)
		durable = local
	}

	s := &Store{
		durable: durable,
		cache:   options.Cache,
		filter:  options.Filter,
		ttl:     options.CacheTTL,
		log:     options.Logger.With().Str("component", "imagestore").Logger(),
	}
	s.log.Info().
		Bool("cache", s.cache != nil).
		Bool("filter", s.filter != nil).
		Msg("image store ready")
	return s, nil
}

// Add persists item and reports whether every enabled tier accepted it.
// Failures are logged, never returned. A cache failure leaves the durable
// copy in place.
func (s *Store) Add(ctx context.Context, item Item) bool {
	name, err := s.AddItem(ctx, item)
	if err != nil {
		s.metrics.addFailures.Add(1)
		s.log.Error().Err(err).Str("name", item.Name).Str("stored_as", name).Msg("save image failed")
		return false
	}
	return true
}

// AddItem persists item and returns the name it was stored under, which
// differs from item.Name when that name was taken. Items without a name get
// a random one.
//
// If the durable write succeeds but the cache write fails, the stored name is
// returned together with an ErrCacheUnavailable error.
func (s *Store) AddItem(ctx context.Context, item Item) (string, error) {
	name := item.Name
	if name == "" {
		name = uuid.NewString() + store.DefaultExt
	}
	data, err := item.Bytes()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrWriteFailure, err)
	}

	s.log.Debug().Str("name", name).Int("bytes", len(data)).Msg("saving image")

	stored, err := s.durable.Write(ctx, name, data)
	if err != nil {
		return "", err
	}
	s.metrics.added.Add(1)

	if s.cache != nil {
		if err := s.cache.Set(ctx, stored, []byte(item.Base64()), s.ttl); err != nil {
			if !errors.Is(err, ErrCacheUnavailable) {
				err = fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
			}
			return stored, err
		}
	}
	return stored, nil
}

// AddResult is the outcome of one item in AddBatch.
type AddResult struct {
	Name string
	Err  error
}

// AddBatch adds items using up to concurrency goroutines. Results are in
// input order.
func (s *Store) AddBatch(ctx context.Context, items []Item, concurrency int) []AddResult {
	results := make([]AddResult, len(items))
	p := pool.New().WithMaxGoroutines(max(concurrency, 1))
	for i, item := range items {
		p.Go(func() {
			name, err := s.AddItem(ctx, item)
			if err != nil {
				s.metrics.addFailures.Add(1)
				s.log.Error().Err(err).Str("name", item.Name).Msg("save image failed")
			}
			results[i] = AddResult{Name: name, Err: err}
		})
	}
	p.Wait()
	return results
}

// Pop returns one stored image that has not been popped before.
//
// The cache tier is sampled first with a small attempt budget, then the
// durable tier is walked in random order. Concurrent calls are serialized.
// ErrEmptyStore is returned when the durable tier has no images and
// ErrExhausted when all of them have been popped already.
func (s *Store) Pop(ctx context.Context) (Item, error) {
	s.popMu.Lock()
	defer s.popMu.Unlock()

	if s.cache != nil {
		if item, ok := s.popCache(ctx); ok {
			s.metrics.cacheHits.Add(1)
			return item, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return Item{}, err
	}
	item, err := s.popDurable(ctx)
	if err != nil {
		return Item{}, err
	}
	s.metrics.durableHits.Add(1)
	return item, nil
}

func (s *Store) popCache(ctx context.Context) (Item, bool) {
	s.log.Debug().Msg("popping image from cache")

	attempts := 0
	for ctx.Err() == nil {
		size, err := s.cache.Size(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("cache size unavailable, falling back to disk")
			return Item{}, false
		}
		if size-int64(attempts) < minCacheSize || attempts >= maxCacheAttempts {
			break
		}
		attempts++
		s.metrics.cacheAttempts.Add(1)

		key, err := s.cache.RandomKey(ctx)
		if err != nil {
			continue
		}
		value, err := s.cache.Get(ctx, key)
		if err != nil {
			continue
		}
		item := NewEncodedItem(key, string(value))
		if _, err := item.Bytes(); err != nil {
			s.log.Warn().Err(err).Str("name", key).Msg("skipping undecodable cache entry")
			continue
		}
		if s.filter != nil && s.filter.TestAndAdd(key) {
			s.metrics.skipped.Add(1)
			continue
		}
		return item, true
	}
	return Item{}, false
}

func (s *Store) popDurable(ctx context.Context) (Item, error) {
	s.log.Debug().Msg("popping image from disk")

	if s.filter == nil {
		name, data, err := s.durable.RandomSample(ctx)
		if err != nil {
			return Item{}, err
		}
		return NewItem(name, data), nil
	}

	names, err := s.durable.Shuffled(ctx)
	if err != nil {
		return Item{}, err
	}
	if len(names) == 0 {
		return Item{}, ErrEmptyStore
	}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return Item{}, err
		}
		if s.filter.Contains(name) {
			s.metrics.skipped.Add(1)
			continue
		}
		data, err := s.durable.Read(ctx, name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return Item{}, err
		}
		s.filter.Add(name)
		return NewItem(name, data), nil
	}
	return Item{}, ErrExhausted
}

// Stats is an inventory snapshot across both tiers.
type Stats struct {
	Count      int
	TotalBytes int64
	// CacheSize is -1 when the cache tier is disabled or unreachable.
	CacheSize int64
}

// TotalMB reports TotalBytes in mebibytes.
func (s Stats) TotalMB() float64 {
	return store.Stats{TotalBytes: s.TotalBytes}.TotalMB()
}

// Stats reports the durable inventory and the cache size.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	inv, err := store.Inventory(ctx, s.durable)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Count: inv.Count, TotalBytes: inv.TotalBytes, CacheSize: -1}
	if s.cache != nil {
		if n, err := s.cache.Size(ctx); err == nil {
			stats.CacheSize = n
		} else {
			s.log.Warn().Err(err).Msg("cache size unavailable")
		}
	}
	return stats, nil
}

// Read returns the durable copy of a stored image.
func (s *Store) Read(ctx context.Context, name string) (Item, error) {
	data, err := s.durable.Read(ctx, name)
	if err != nil {
		return Item{}, err
	}
	return NewItem(name, data), nil
}

// Durable returns the filesystem tier.
func (s *Store) Durable() Durable { return s.durable }

// Close releases the cache connection.
func (s *Store) Close() error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Close()
}

// Metrics is a snapshot of Store counters.
type Metrics struct {
	Added         int64
	AddFailures   int64
	CacheHits     int64
	DurableHits   int64
	CacheAttempts int64
	Skipped       int64
}

type counters struct {
	added         atomic.Int64
	addFailures   atomic.Int64
	cacheHits     atomic.Int64
	durableHits   atomic.Int64
	cacheAttempts atomic.Int64
	skipped       atomic.Int64
}

// Metrics returns the current counters.
func (s *Store) Metrics() Metrics {
	return Metrics{
		Added:         s.metrics.added.Load(),
		AddFailures:   s.metrics.addFailures.Load(),
		CacheHits:     s.metrics.cacheHits.Load(),
		DurableHits:   s.metrics.durableHits.Load(),
		CacheAttempts: s.metrics.cacheAttempts.Load(),
		Skipped:       s.metrics.skipped.Load(),
	}
}
