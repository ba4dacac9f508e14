// Package filter provides the "already popped" guard used by Pop.
package filter

import (
	"sync"

	boom "github.com/tylertreat/BoomFilters"
)

const (
	DefaultCapacity = 1_000_000
	DefaultFPRate   = 0.001
)

// Filter is an append-only probabilistic set. Contains may report false
// positives but never false negatives.
type Filter interface {
	Contains(key string) bool
	Add(key string)
	// TestAndAdd reports whether key was already present, then adds it.
	TestAndAdd(key string) bool
}

// Bloom is a goroutine-safe Filter backed by a classic bloom filter.
type Bloom struct {
	mu sync.Mutex
	bf *boom.BloomFilter
}

var _ Filter = (*Bloom)(nil)

// NewBloom sizes a filter for capacity keys at the given false-positive rate.
// Zero values select the defaults.
func NewBloom(capacity uint, fpRate float64) *Bloom {
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = DefaultFPRate
	}
	return &Bloom{bf: boom.NewBloomFilter(capacity, fpRate)}
}

func (b *Bloom) Contains(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bf.Test([]byte(key))
}

func (b *Bloom) Add(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bf.Add([]byte(key))
}

func (b *Bloom) TestAndAdd(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bf.TestAndAdd([]byte(key))
}

// Count returns the number of keys added.
func (b *Bloom) Count() uint {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bf.Count()
}
