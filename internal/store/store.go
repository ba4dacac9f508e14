// Package store implements the durable image tier.
//
// The Store interface is a flat, name-addressed blob store:
// - Write never overwrites; colliding names are renamed
// - Read/RandomSample/Shuffled for retrieval
// - Count/TotalSize for inventory
package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound     = errors.New("imagestore: not found")
	ErrEmptyStore   = errors.New("imagestore: durable store is empty")
	ErrWriteFailure = errors.New("imagestore: write failed")
	ErrInvalidName  = errors.New("imagestore: invalid name")
)

// Store handles durable image storage.
type Store interface {
	// Write stores data under name, or under a derived name if name is
	// taken. It returns the name actually used.
	Write(ctx context.Context, name string, data []byte) (string, error)

	// Read returns the content stored under name.
	Read(ctx context.Context, name string) ([]byte, error)

	// RandomSample returns one uniformly chosen entry.
	RandomSample(ctx context.Context) (name string, data []byte, err error)

	// Shuffled returns every entry name in random order.
	Shuffled(ctx context.Context) ([]string, error)

	// Names lists every entry name.
	Names(ctx context.Context) ([]string, error)

	// Count returns the number of entries.
	Count(ctx context.Context) (int, error)

	// TotalSize returns the summed size of all entries in bytes.
	TotalSize(ctx context.Context) (int64, error)
}

// Stats is an inventory snapshot of a Store.
type Stats struct {
	Count      int
	TotalBytes int64
}

// TotalMB reports TotalBytes in mebibytes.
func (s Stats) TotalMB() float64 {
	return float64(s.TotalBytes) / (1 << 20)
}

// Inventory collects Count and TotalSize in one call.
func Inventory(ctx context.Context, s Store) (Stats, error) {
	n, err := s.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	size, err := s.TotalSize(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Count: n, TotalBytes: size}, nil
}

// Snapshot reads every entry of s into memory.
func Snapshot(ctx context.Context, s Store) (map[string][]byte, error) {
	names, err := s.Names(ctx)
	if err != nil {
		return nil, err
	}
	images := make(map[string][]byte, len(names))
	for _, name := range names {
		data, err := s.Read(ctx, name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		images[name] = data
	}
	return images, nil
}
