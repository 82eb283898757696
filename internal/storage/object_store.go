package storage

import (
	"context"
	"io"
)

// ObjectStore archives task output directories. Keys are slash separated and
// relative to the store's root.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, data io.Reader) error

	UploadDir(ctx context.Context, prefix, src string) error
}
