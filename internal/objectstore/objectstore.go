// Package objectstore provides the remote object storage used for the final copy of
// a dataset: Google Cloud Storage or any S3-compatible service.
package objectstore

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

// ErrDisabled is returned when a remote location is used but no object store is configured.
var ErrDisabled = errors.New("object store is not configured")

// Client reads and writes whole objects.
type Client interface {
	// Put uploads r as bucket/key, replacing any existing object. size may be -1 when unknown.
	Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error

	// Get opens bucket/key for reading. The caller closes the reader.
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	Close() error
}

// Disabled is the Client used when no backend is configured.
type Disabled struct{}

func (Disabled) Put(context.Context, string, string, io.Reader, int64, string) error {
	return ErrDisabled
}

func (Disabled) Get(context.Context, string, string) (io.ReadCloser, error) {
	return nil, ErrDisabled
}

func (Disabled) Close() error { return nil }

// ContentTypeForKey guesses a content type from the object key's extension.
func ContentTypeForKey(key string) string {
	switch strings.ToLower(path.Ext(strings.TrimSpace(key))) {
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".json":
		return "application/json"
	case ".jsonl", ".ndjson":
		return "application/x-ndjson"
	default:
		return "application/octet-stream"
	}
}

// readCloserWithCancel ties a context's cancel func to the lifetime of a reader;
// cancelling before the caller has read the body would truncate it.
type readCloserWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *readCloserWithCancel) Close() error {
	err := r.ReadCloser.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}
