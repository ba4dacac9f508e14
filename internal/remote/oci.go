package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/aweris/imagestore/internal/compression"
)

const (
	DefaultConcurrency = 4

	labelCount = "dev.imagestore.count"
	labelBytes = "dev.imagestore.bytes"
)

type OCIRemote struct {
	ref         name.Reference
	auth        Authenticator
	concurrency int
	codec       *compression.Compressor
	log         zerolog.Logger
}

var _ Remote = (*OCIRemote)(nil)

// NewOCIRemote creates a remote from a standard Docker ref (e.g., "ttl.sh/crawler/images:daily")
func NewOCIRemote(imageRef string, auth Authenticator) (*OCIRemote, error) {
	ref, err := name.ParseReference(imageRef, name.WithDefaultTag("latest"))
	if err != nil {
		return nil, fmt.Errorf("invalid image ref %q: %w", imageRef, err)
	}
	codec, err := compression.NewCompressor(2)
	if err != nil {
		return nil, fmt.Errorf("create compressor: %w", err)
	}
	return &OCIRemote{
		ref:         ref,
		auth:        auth,
		concurrency: DefaultConcurrency,
		codec:       codec,
		log:         zerolog.Nop(),
	}, nil
}

// SetConcurrency sets the number of parallel layer transfers.
func (r *OCIRemote) SetConcurrency(n int) {
	if n > 0 {
		r.concurrency = n
	}
}

func (r *OCIRemote) SetLogger(l zerolog.Logger) { r.log = l.With().Str("ref", r.String()).Logger() }

func (r *OCIRemote) String() string   { return r.ref.String() }
func (r *OCIRemote) Registry() string { return r.ref.Context().RegistryStr() }

func (r *OCIRemote) Close() error { return r.codec.Close() }

// blobLayer implements v1.Layer with zstd compression for remote transfer
type blobLayer struct {
	compressed   []byte
	uncompressed []byte
}

func (l *blobLayer) Digest() (v1.Hash, error) {
	h, _, err := v1.SHA256(bytes.NewReader(l.compressed))
	return h, err
}

func (l *blobLayer) DiffID() (v1.Hash, error) {
	h, _, err := v1.SHA256(bytes.NewReader(l.uncompressed))
	return h, err
}

func (l *blobLayer) Compressed() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(l.compressed)), nil
}
func (l *blobLayer) Uncompressed() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(l.uncompressed)), nil
}
func (l *blobLayer) Size() (int64, error)                { return int64(len(l.compressed)), nil }
func (l *blobLayer) MediaType() (types.MediaType, error) { return types.OCILayerZStd, nil }

// Push uploads a full snapshot of images, replacing whatever the tag held.
func (r *OCIRemote) Push(ctx context.Context, images map[string][]byte) error {
	byPrefix := GroupByPrefix(images)
	layerPlan := BuildLayerPlan(CalculatePrefixSizes(byPrefix))

	r.log.Info().Int("images", len(images)).Int("layers", len(layerPlan)).Msg("packing backup")

	layers := make([]v1.Layer, 0, len(layerPlan))
	var totalRaw, totalCompressed int64
	for _, prefixGroup := range layerPlan {
		layerData, err := PackLayer(CollectPrefixBlobs(prefixGroup, byPrefix))
		if err != nil {
			return fmt.Errorf("pack layer: %w", err)
		}
		layer := &blobLayer{compressed: r.codec.Compress(layerData), uncompressed: layerData}
		totalRaw += int64(len(layerData))
		totalCompressed += int64(len(layer.compressed))
		layers = append(layers, layer)
	}

	img, err := r.buildImage(layers, len(images), PrefixSize(images))
	if err != nil {
		return fmt.Errorf("build image: %w", err)
	}

	r.log.Info().
		Float64("raw_mb", float64(totalRaw)/(1<<20)).
		Float64("compressed_mb", float64(totalCompressed)/(1<<20)).
		Msg("uploading backup")

	if err := r.pushImage(ctx, img); err != nil {
		return fmt.Errorf("push image: %w", err)
	}
	return nil
}

func (r *OCIRemote) buildImage(layers []v1.Layer, count int, size int64) (v1.Image, error) {
	img := empty.Image

	if len(layers) > 0 {
		var err error
		img, err = mutate.AppendLayers(img, layers...)
		if err != nil {
			return nil, err
		}
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		return nil, err
	}

	cfg = cfg.DeepCopy()
	cfg.Config.Labels = map[string]string{
		labelCount: strconv.Itoa(count),
		labelBytes: strconv.FormatInt(size, 10),
	}

	return mutate.ConfigFile(img, cfg)
}

func (r *OCIRemote) pushImage(ctx context.Context, img v1.Image) error {
	options := append(r.remoteOptions(ctx), remote.WithJobs(r.concurrency))
	_, err := retry(ctx, 3, func() (struct{}, error) {
		return struct{}{}, remote.Write(r.ref, img, options...)
	})
	return err
}

// Pull downloads every layer of the snapshot in parallel and returns the
// images it holds.
func (r *OCIRemote) Pull(ctx context.Context) (map[string][]byte, error) {
	img, err := retry(ctx, 3, func() (v1.Image, error) {
		return remote.Image(r.ref, r.remoteOptions(ctx)...)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}
	want, err := strconv.Atoi(cfg.Config.Labels[labelCount])
	if err != nil {
		return nil, fmt.Errorf("missing or invalid %s label: %w", labelCount, err)
	}

	layers, err := img.Layers()
	if err != nil {
		return nil, fmt.Errorf("get layers: %w", err)
	}

	r.log.Info().Int("layers", len(layers)).Msg("downloading backup")

	var mu sync.Mutex
	images := make(map[string][]byte, want)

	p := pool.New().WithMaxGoroutines(r.concurrency).WithContext(ctx).WithCancelOnError()

	for _, layer := range layers {
		p.Go(func(ctx context.Context) error {
			rc, err := layer.Compressed()
			if err != nil {
				return fmt.Errorf("read layer: %w", err)
			}
			compressed, err := io.ReadAll(rc)
			if cerr := rc.Close(); cerr != nil {
				return fmt.Errorf("close layer: %w", cerr)
			}
			if err != nil {
				return fmt.Errorf("read layer: %w", err)
			}

			data, err := r.codec.Decompress(compressed)
			if err != nil {
				return fmt.Errorf("decompress layer: %w", err)
			}
			entries, err := UnpackLayer(data)
			if err != nil {
				return fmt.Errorf("unpack layer: %w", err)
			}

			mu.Lock()
			for k, v := range entries {
				images[k] = v
			}
			mu.Unlock()
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return nil, err
	}
	if len(images) != want {
		return nil, fmt.Errorf("backup holds %d images, label says %d", len(images), want)
	}

	r.log.Info().Int("images", len(images)).Msg("backup downloaded")
	return images, nil
}

func (r *OCIRemote) remoteOptions(ctx context.Context) []remote.Option {
	options := []remote.Option{remote.WithContext(ctx)}
	if r.auth != nil {
		username, password, err := r.auth.Authenticate(r.Registry())
		if err != nil {
			r.log.Warn().Err(err).Msg("authentication failed, falling back to docker keychain")
		}
		if err == nil && username != "" {
			return append(options, remote.WithAuth(&authn.Basic{
				Username: username,
				Password: password,
			}))
		}
	}
	return append(options, remote.WithAuthFromKeychain(authn.DefaultKeychain))
}

func retry[T any](ctx context.Context, maxAttempts int, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for i := range maxAttempts {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if i < maxAttempts-1 {
			delay := time.Duration(1<<i) * 500 * time.Millisecond // 500ms, 1s, 2s, 4s...
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return zero, lastErr
}
