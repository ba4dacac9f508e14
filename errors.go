package imagestore

import (
	"errors"

	"github.com/aweris/imagestore/internal/cache"
	"github.com/aweris/imagestore/internal/store"
)

var (
	ErrNotFound         = store.ErrNotFound
	ErrEmptyStore       = store.ErrEmptyStore
	ErrWriteFailure     = store.ErrWriteFailure
	ErrInvalidName      = store.ErrInvalidName
	ErrCacheUnavailable = cache.ErrUnavailable
	ErrExhausted        = errors.New("imagestore: every stored image has been popped")
	ErrInvalidPayload   = errors.New("imagestore: invalid base64 payload")
)
