package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

const (
	// DefaultExt is appended to derived names that carry no extension.
	DefaultExt = ".jpg"

	maxSuffix         = 100000
	maxRenameAttempts = 128
	tempPattern       = ".incoming-*"
)

// LocalStore implements Store using one flat directory.
//
// Storage layout:
//
//	dir/
//	  cat.jpg
//	  cat_48213.jpg   (renamed on collision)
//	  .incoming-123   (in-flight write, not an entry)
//
// Writes land in a hidden temp file and are published with a hard link,
// which fails instead of replacing an existing file. Where the filesystem
// has no hard links, writes fall back to an O_EXCL create.
type LocalStore struct {
	dir string

	mu  sync.Mutex
	rnd *rand.Rand

	link   func(oldname, newname string) error
	noLink atomic.Bool
}

// NewLocalStore opens dir, creating it if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: empty directory", ErrWriteFailure)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return &LocalStore{
		dir:  dir,
		rnd:  rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		link: os.Link,
	}, nil
}

// SetRand replaces the source used for renames and sampling.
func (s *LocalStore) SetRand(r *rand.Rand) {
	if r == nil {
		return
	}
	s.mu.Lock()
	s.rnd = r
	s.mu.Unlock()
}

// Dir returns the backing directory.
func (s *LocalStore) Dir() string { return s.dir }

// Write stores data under name. If name is taken a new one is derived with
// ResolveName until a free name is found. Names starting with '.' are stored
// under a "_" prefix so they stay visible as entries.
func (s *LocalStore) Write(ctx context.Context, name string, data []byte) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	name = visibleName(name)

	if s.noLink.Load() {
		return s.claim(ctx, name, func(path string) error { return createExclusive(path, data) })
	}

	tmp, err := s.writeTemp(data)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrWriteFailure, name, err)
	}
	defer os.Remove(tmp)

	stored, err := s.claim(ctx, name, func(path string) error { return s.link(tmp, path) })
	if err != nil && linkUnsupported(err) {
		// FAT, exFAT and some network mounts have no hard links.
		s.noLink.Store(true)
		return s.claim(ctx, name, func(path string) error { return createExclusive(path, data) })
	}
	return stored, err
}

// claim calls create with candidate paths until one does not exist yet.
func (s *LocalStore) claim(ctx context.Context, name string, create func(path string) error) (string, error) {
	candidate := name
	for range maxRenameAttempts {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		err := create(s.path(candidate))
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s: %w", ErrWriteFailure, candidate, err)
		}
		candidate = ResolveName(name, s.intN(maxSuffix)+1)
	}
	return "", fmt.Errorf("%w: no free name for %s", ErrWriteFailure, name)
}

func linkUnsupported(err error) bool {
	return errors.Is(err, errors.ErrUnsupported) || errors.Is(err, fs.ErrPermission)
}

// createExclusive writes path in place, failing if it already exists. A
// reader may observe the file before it is complete.
func createExclusive(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

func (s *LocalStore) writeTemp(data []byte) (string, error) {
	f, err := os.CreateTemp(s.dir, tempPattern)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// Read returns the content stored under name.
func (s *LocalStore) Read(ctx context.Context, name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if strings.HasPrefix(name, ".") {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

// RandomSample picks one entry uniformly at random and reads it.
func (s *LocalStore) RandomSample(ctx context.Context) (string, []byte, error) {
	names, err := s.Names(ctx)
	if err != nil {
		return "", nil, err
	}
	if len(names) == 0 {
		return "", nil, ErrEmptyStore
	}
	name := names[s.intN(len(names))]
	data, err := s.Read(ctx, name)
	if err != nil {
		return "", nil, err
	}
	return name, data, nil
}

// Shuffled returns all entry names in uniformly random order.
func (s *LocalStore) Shuffled(ctx context.Context) ([]string, error) {
	names, err := s.Names(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.rnd.Shuffle(len(names), func(i, j int) { names[i], names[j] = names[j], names[i] })
	s.mu.Unlock()
	return names, nil
}

// Names lists entry names. Hidden files and directories are skipped.
func (s *LocalStore) Names(ctx context.Context) ([]string, error) {
	entries, err := s.entries()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// Count returns the number of entries.
func (s *LocalStore) Count(ctx context.Context) (int, error) {
	entries, err := s.entries()
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// TotalSize sums the sizes of all entries.
func (s *LocalStore) TotalSize(ctx context.Context) (int64, error) {
	entries, err := s.entries()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return 0, fmt.Errorf("failed to stat %s: %w", e.Name(), err)
		}
		total += info.Size()
	}
	return total, nil
}

func (s *LocalStore) entries() ([]fs.DirEntry, error) {
	all, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.dir, err)
	}
	out := all[:0]
	for _, e := range all {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *LocalStore) intN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.IntN(n)
}

func (s *LocalStore) path(name string) string {
	return filepath.Join(s.dir, name)
}

// ResolveName derives an alternative for a taken name by inserting
// "_<suffix>" before the last '.', or by appending "_<suffix>.jpg" when the
// name has no '.'.
func ResolveName(name string, suffix int) string {
	tag := "_" + strconv.Itoa(suffix)
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[:i] + tag + name[i:]
	}
	return name + tag + DefaultExt
}

func validateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, os.PathSeparator):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	}
	return nil
}

func visibleName(name string) string {
	if strings.HasPrefix(name, ".") {
		return "_" + name
	}
	return name
}
