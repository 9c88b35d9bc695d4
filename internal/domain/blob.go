package domain

import (
	"context"
	"io"
	"time"
)

// PartialSuffix marks an object that is still being written. Stores that
// cannot write atomically in one call stage data under path+PartialSuffix and
// rename it into place when complete.
const PartialSuffix = ".partial"

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter stores objects. Put must be all-or-nothing: readers never observe
// a partially written object at path.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader retrieves objects.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// BlobDeleter removes objects. Deleting a missing object is not an error.
type BlobDeleter interface {
	Delete(ctx context.Context, path string) error
}

// BlobStore is the full object store used for artifacts.
type BlobStore interface {
	BlobWriter
	BlobReader
	BlobDeleter
}
