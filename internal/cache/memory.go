package cache

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

type memoryEntry struct {
	value   []byte
	expires time.Time // zero means no expiry
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// Memory is an in-process Cache backend.
// Expired entries are dropped lazily on access.
type Memory struct {
	maxSize int
	items   map[string]memoryEntry
	now     func() time.Time
	rnd     *rand.Rand
	closed  bool
	mu      sync.Mutex
}

// NewMemory creates a Memory cache holding at most maxSize entries.
// maxSize <= 0 means unbounded.
func NewMemory(maxSize int) *Memory {
	return &Memory{
		maxSize: maxSize,
		items:   make(map[string]memoryEntry),
		now:     time.Now,
		rnd:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// SetClock replaces the time source. Used by tests.
func (c *Memory) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Set stores a copy of value under key.
func (c *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("%w: closed", ErrUnavailable)
	}

	now := c.now()
	if _, exists := c.items[key]; !exists && c.maxSize > 0 && len(c.items) >= c.maxSize {
		c.evictLocked(now)
	}

	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = now.Add(ttl)
	}
	c.items[key] = e
	return nil
}

// evictLocked drops expired entries, or one arbitrary entry if none expired.
func (c *Memory) evictLocked(now time.Time) {
	c.purgeLocked(now)
	if len(c.items) < c.maxSize {
		return
	}
	for k := range c.items {
		delete(c.items, k)
		break
	}
}

func (c *Memory) purgeLocked(now time.Time) {
	for k, e := range c.items {
		if e.expired(now) {
			delete(c.items, k)
		}
	}
}

// Get returns a copy of the value stored under key.
func (c *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("%w: closed", ErrUnavailable)
	}

	e, ok := c.items[key]
	if !ok {
		return nil, ErrMiss
	}
	if e.expired(c.now()) {
		delete(c.items, key)
		return nil, ErrMiss
	}
	return append([]byte(nil), e.value...), nil
}

// RandomKey returns a uniformly chosen live key.
func (c *Memory) RandomKey(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", fmt.Errorf("%w: closed", ErrUnavailable)
	}

	c.purgeLocked(c.now())
	if len(c.items) == 0 {
		return "", ErrMiss
	}
	i := c.rnd.IntN(len(c.items))
	for k := range c.items {
		if i == 0 {
			return k, nil
		}
		i--
	}
	return "", ErrMiss
}

// Size returns the number of live entries.
func (c *Memory) Size(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, fmt.Errorf("%w: closed", ErrUnavailable)
	}

	c.purgeLocked(c.now())
	return int64(len(c.items)), nil
}

// Close releases all entries. Further calls fail with ErrUnavailable.
func (c *Memory) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.items = make(map[string]memoryEntry)
	return nil
}
