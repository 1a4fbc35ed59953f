package outbound

import (
	"context"
	"io"
)

// S3Writer defines the interface for writing archive objects to S3.
type S3Writer interface {
	// WriteFileIfNotExists writes content to key unless an object already exists there.
	// It returns false, nil when the object was already present.
	// The content will be gzip compressed if compressGzip is true.
	WriteFileIfNotExists(ctx context.Context, bucket, key string, content io.Reader, compressGzip bool) (bool, error)

	// FileExists checks if a file already exists at the given key.
	FileExists(ctx context.Context, bucket, key string) (bool, error)
}
