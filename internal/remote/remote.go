// Package remote backs up the durable image tier to an OCI registry.
//
// Based on go-containerregistry patterns:
// - Authentication via static credentials or the docker keychain
// - Images are packed into zstd layers of roughly 5MB
// - Standard OCI distribution spec, so any registry can hold a backup
package remote

import "context"

// Remote handles OCI registry operations.
type Remote interface {
	// Push uploads a snapshot of images (name → bytes).
	Push(ctx context.Context, images map[string][]byte) error

	// Pull downloads the snapshot held by the reference.
	Pull(ctx context.Context) (map[string][]byte, error)
}
