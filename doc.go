// Package imagestore provides a two-tier image store for crawler pipelines.
//
// Every image is written to a flat directory (the durable tier). Optionally it
// is also written, base64 encoded and with a TTL, to a key/value cache such
// as Redis (the cache tier). Pop hands stored images back out for reuse and
// uses a bloom filter so the same name is not returned twice.
//
// Basic usage (durable tier only):
//
//	s, _ := imagestore.Open(imagestore.WithDir("/var/lib/crawler/images"))
//	defer s.Close()
//
//	// Store an image; a taken name is renamed, never overwritten
//	name, _ := s.AddItem(ctx, imagestore.NewItem("cat.jpg", data))
//
//	// Fire-and-forget variant
//	ok := s.Add(ctx, imagestore.NewItem("dog.jpg", data))
//
//	// Inventory
//	stats, _ := s.Stats(ctx)
//	fmt.Println(stats.Count, stats.TotalMB())
//
// With both optional tiers:
//
//	s, _ := imagestore.Open(
//	    imagestore.WithDir(dir),
//	    imagestore.WithCache(imagestore.NewRedisCache("127.0.0.1", 6379, "", 0)),
//	    imagestore.WithCacheTTL(time.Hour),
//	    imagestore.WithFilter(imagestore.NewBloomFilter(1_000_000, 0.001)),
//	)
//	item, err := s.Pop(ctx)
//	if errors.Is(err, imagestore.ErrExhausted) {
//	    // everything on disk has been popped already
//	}
//
// Pop samples up to four random cache keys while the cache holds at least ten
// unprobed keys. After that it walks the durable tier in random order. Cache
// failures are logged and skipped; they never fail Add's durable write or Pop.
package imagestore
