package imagestore

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/imagestore/internal/cache"
	"github.com/aweris/imagestore/internal/store"
)

// scriptedCache reports a fixed size and always offers the same key.
type scriptedCache struct {
	mu          sync.Mutex
	size        int64
	key         string
	value       []byte
	sizeErr     error
	getErr      error
	setErr      error
	randomCalls int
	sets        map[string][]byte
}

func (c *scriptedCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	if c.sets == nil {
		c.sets = make(map[string][]byte)
	}
	c.sets[key] = value
	return nil
}

func (c *scriptedCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	return c.value, nil
}

func (c *scriptedCache) RandomKey(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.randomCalls++
	return c.key, nil
}

func (c *scriptedCache) Size(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size, c.sizeErr
}

func (c *scriptedCache) Close() error { return nil }

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{
		WithDir(t.TempDir()),
		WithRand(rand.New(rand.NewPCG(7, 11))),
	}, opts...)
	s, err := Open(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func addN(t *testing.T, s *Store, n int) []string {
	t.Helper()
	names := make([]string, 0, n)
	for i := range n {
		name, err := s.AddItem(context.Background(), NewItem(fmt.Sprintf("img-%03d.jpg", i), []byte(fmt.Sprintf("data-%d", i))))
		require.NoError(t, err)
		names = append(names, name)
	}
	return names
}

func TestStore_AddRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	data := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0x00}
	assert.True(t, s.Add(ctx, NewItem("logo.png", data)))

	got, err := s.Read(ctx, "logo.png")
	require.NoError(t, err)
	raw, err := got.Bytes()
	require.NoError(t, err)
	assert.Equal(t, data, raw)
}

func TestStore_AddDuplicateName(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	first, err := s.AddItem(ctx, NewItem("cat.jpg", []byte("first cat")))
	require.NoError(t, err)
	second, err := s.AddItem(ctx, NewItem("cat.jpg", []byte("second cat")))
	require.NoError(t, err)

	assert.Equal(t, "cat.jpg", first)
	assert.NotEqual(t, "cat.jpg", second)

	for name, want := range map[string]string{first: "first cat", second: "second cat"} {
		item, err := s.Read(ctx, name)
		require.NoError(t, err)
		raw, err := item.Bytes()
		require.NoError(t, err)
		assert.Equal(t, want, string(raw))
	}

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Count)
}

func TestStore_AddWritesCacheUnderStoredName(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemory(0)
	s := openTestStore(t, WithCache(mem), WithCacheTTL(time.Minute))

	_, err := s.AddItem(ctx, NewItem("cat.jpg", []byte("one")))
	require.NoError(t, err)
	second, err := s.AddItem(ctx, NewItem("cat.jpg", []byte("two")))
	require.NoError(t, err)

	v, err := mem.Get(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, NewItem("", []byte("two")).Base64(), string(v))

	v, err = mem.Get(ctx, "cat.jpg")
	require.NoError(t, err)
	assert.Equal(t, NewItem("", []byte("one")).Base64(), string(v))
}

func TestStore_AddCacheFailureKeepsDurableCopy(t *testing.T) {
	ctx := context.Background()
	c := &scriptedCache{setErr: errors.New("connection refused")}
	s := openTestStore(t, WithCache(c))

	assert.False(t, s.Add(ctx, NewItem("cat.jpg", []byte("meow"))))

	name, err := s.AddItem(ctx, NewItem("dog.jpg", []byte("woof")))
	assert.ErrorIs(t, err, ErrCacheUnavailable)
	assert.Equal(t, "dog.jpg", name)

	item, err := s.Read(ctx, "cat.jpg")
	require.NoError(t, err)
	raw, _ := item.Bytes()
	assert.Equal(t, "meow", string(raw))

	m := s.Metrics()
	assert.EqualValues(t, 2, m.Added)
	assert.EqualValues(t, 1, m.AddFailures)
}

func TestStore_AddFailures(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	assert.False(t, s.Add(ctx, NewItem("../escape.jpg", []byte("x"))))
	assert.False(t, s.Add(ctx, NewEncodedItem("bad.jpg", "not base64!!")))

	_, err := s.AddItem(ctx, NewEncodedItem("bad.jpg", "not base64!!"))
	assert.ErrorIs(t, err, ErrWriteFailure)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Count)
}

func TestStore_AddUnnamed(t *testing.T) {
	s := openTestStore(t)
	name, err := s.AddItem(context.Background(), NewItem("", []byte("anon")))
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9a-f-]{36}\.jpg$`, name)
}

func TestStore_AddBatch(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	items := make([]Item, 20)
	for i := range items {
		items[i] = NewItem("same.jpg", []byte(fmt.Sprintf("payload-%d", i)))
	}

	results := s.AddBatch(ctx, items, 4)
	require.Len(t, results, len(items))

	seen := make(map[string]bool)
	for i, r := range results {
		require.NoError(t, r.Err)
		assert.False(t, seen[r.Name], "name %s reused", r.Name)
		seen[r.Name] = true

		item, err := s.Read(ctx, r.Name)
		require.NoError(t, err)
		raw, _ := item.Bytes()
		assert.Equal(t, fmt.Sprintf("payload-%d", i), string(raw))
	}
}

func TestStore_PopCacheAttemptBound(t *testing.T) {
	tests := []struct {
		size     int64
		attempts int
	}{
		{size: 5, attempts: 0},
		{size: 9, attempts: 0},
		{size: 10, attempts: 1},
		{size: 11, attempts: 2},
		{size: 50, attempts: 4},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("size=%d", tt.size), func(t *testing.T) {
			ctx := context.Background()
			f := NewBloomFilter(1000, 0.001)
			f.Add("seen.jpg")
			c := &scriptedCache{
				size:  tt.size,
				key:   "seen.jpg",
				value: []byte(NewItem("", []byte("cached")).Base64()),
			}
			s := openTestStore(t, WithCache(c), WithFilter(f))
			_, err := s.AddItem(ctx, NewItem("disk.jpg", []byte("on disk")))
			require.NoError(t, err)

			item, err := s.Pop(ctx)
			require.NoError(t, err)
			assert.Equal(t, "disk.jpg", item.Name)
			assert.Equal(t, tt.attempts, c.randomCalls)
			assert.EqualValues(t, tt.attempts, s.Metrics().CacheAttempts)
		})
	}
}

func TestStore_PopCacheFetchFailuresConsumeAttempts(t *testing.T) {
	ctx := context.Background()
	c := &scriptedCache{size: 100, key: "gone.jpg", getErr: cache.ErrMiss}
	s := openTestStore(t, WithCache(c), WithFilter(NewBloomFilter(100, 0.001)))
	_, err := s.AddItem(ctx, NewItem("disk.jpg", []byte("x")))
	require.NoError(t, err)

	item, err := s.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "disk.jpg", item.Name)
	assert.Equal(t, maxCacheAttempts, c.randomCalls)
}

func TestStore_PopFromCache(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemory(0)
	s := openTestStore(t, WithCache(mem), WithFilter(NewBloomFilter(1000, 0.001)))
	names := addN(t, s, 20)

	item, err := s.Pop(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, item.Name)
	assert.EqualValues(t, 1, s.Metrics().CacheHits)

	raw, err := item.Bytes()
	require.NoError(t, err)
	onDisk, err := s.Read(ctx, item.Name)
	require.NoError(t, err)
	want, _ := onDisk.Bytes()
	assert.Equal(t, want, raw)
}

func TestStore_PopCacheWithoutFilterReturnsImmediately(t *testing.T) {
	ctx := context.Background()
	c := &scriptedCache{size: 50, key: "hot.jpg", value: []byte(NewItem("", []byte("hot")).Base64())}
	s := openTestStore(t, WithCache(c))

	for range 3 {
		item, err := s.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, "hot.jpg", item.Name)
	}
	assert.Equal(t, 3, c.randomCalls)
}

func TestStore_PopFallbackWithoutCache(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	names := addN(t, s, 3)

	item, err := s.Pop(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, item.Name)
	assert.EqualValues(t, 1, s.Metrics().DurableHits)
}

func TestStore_PopCacheUnavailable(t *testing.T) {
	ctx := context.Background()
	c := &scriptedCache{sizeErr: fmt.Errorf("%w: dial tcp: refused", cache.ErrUnavailable)}
	s := openTestStore(t, WithCache(c), WithFilter(NewBloomFilter(100, 0.001)))
	_, err := s.AddItem(ctx, NewItem("disk.jpg", []byte("x")))
	require.NoError(t, err)

	item, err := s.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "disk.jpg", item.Name)
	assert.Zero(t, c.randomCalls)
}

func TestStore_PopNoDuplicates(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemory(0)
	s := openTestStore(t, WithCache(mem), WithFilter(NewBloomFilter(10_000, 0.001)))
	names := addN(t, s, 30)

	seen := make(map[string]bool)
	for range len(names) {
		item, err := s.Pop(ctx)
		require.NoError(t, err)
		assert.False(t, seen[item.Name], "%s popped twice", item.Name)
		seen[item.Name] = true
	}
	assert.Len(t, seen, len(names))

	_, err := s.Pop(ctx)
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestStore_PopConcurrentNoDuplicates(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, WithFilter(NewBloomFilter(10_000, 0.001)))
	addN(t, s, 40)

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 5 {
				item, err := s.Pop(ctx)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				seen[item.Name]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 40)
	for name, n := range seen {
		assert.Equal(t, 1, n, "%s popped %d times", name, n)
	}
}

func TestStore_PopEmpty(t *testing.T) {
	ctx := context.Background()

	s := openTestStore(t)
	_, err := s.Pop(ctx)
	assert.ErrorIs(t, err, ErrEmptyStore)

	s = openTestStore(t, WithFilter(NewBloomFilter(100, 0.001)))
	_, err = s.Pop(ctx)
	assert.ErrorIs(t, err, ErrEmptyStore)
}

func TestStore_PopCancelled(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"filter", []Option{WithFilter(NewBloomFilter(100, 0.001))}},
		{"no filter", nil},
		{"cache without filter", []Option{WithCache(cache.NewMemory(0))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openTestStore(t, tt.opts...)
			addN(t, s, 2)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			item, err := s.Pop(ctx)
			assert.ErrorIs(t, err, context.Canceled)
			assert.Empty(t, item.Name)
		})
	}
}

func TestStore_AddHiddenName(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	assert.True(t, s.Add(ctx, NewItem(".jpg", []byte("dot"))))

	item, err := s.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "_.jpg", item.Name)
	raw, err := item.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("dot"), raw)
}

func TestStore_Stats(t *testing.T) {
	ctx := context.Background()

	s := openTestStore(t)
	addN(t, s, 3)
	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Count)
	assert.EqualValues(t, len("data-0")*3, stats.TotalBytes)
	assert.InDelta(t, float64(stats.TotalBytes)/1048576, stats.TotalMB(), 1e-9)
	assert.EqualValues(t, -1, stats.CacheSize)

	s = openTestStore(t, WithCache(cache.NewMemory(0)))
	addN(t, s, 4)
	stats, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 4, stats.CacheSize)
}

func TestStore_WithDurable(t *testing.T) {
	ctx := context.Background()
	local, err := store.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	s, err := Open(WithDurable(local), WithDir(""))
	require.NoError(t, err)
	assert.Same(t, local, s.Durable())

	name, err := s.AddItem(ctx, NewItem("cat.jpg", []byte("meow")))
	require.NoError(t, err)

	images, err := store.Snapshot(ctx, s.Durable())
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{name: []byte("meow")}, images)
}
