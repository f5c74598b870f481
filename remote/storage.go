package remote

import (
	"context"
	"time"
)

// UploadOptions control how an object is written.
type UploadOptions struct {
	ContentType string
	// Upsert replaces an existing object at the same path.
	Upsert bool
}

// Object describes a stored file.
type Object struct {
	Path        string
	ContentType string
	Size        int64
	CreatedAt   time.Time
}

// Bucket is a named object store.
type Bucket interface {
	Upload(ctx context.Context, path string, data []byte, opts UploadOptions) (Object, error)
	Remove(ctx context.Context, paths ...string) error
	PublicURL(path string) string
	List(ctx context.Context, prefix string) ([]Object, error)
}

// Client aggregates the backend surfaces.
type Client interface {
	Auth() Auth
	Bucket(name string) Bucket
	Close() error
}
