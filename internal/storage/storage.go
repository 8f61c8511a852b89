// Package storage provides temporary and persistent file storage capabilities.
// It defines the Storage interface and implementations for local disk and
// S3 publication.
package storage

import (
	"context"
	"io"
)

// Object describes an artifact to publish.
type Object struct {
	// Key is the object key, usually the download file name.
	Key string
	// ContentType is the MIME type served with the object.
	ContentType string
	// Filename is suggested to browsers via Content-Disposition.
	Filename string
}

// Storage defines the interface for temporary and persistent file storage.
// Uploaded sources and rendered artifacts live in temporary files;
// artifacts can optionally be published to an object store.
type Storage interface {
	// SaveTemp saves data to a temporary file and returns the file path.
	// The name parameter is used as a hint for the filename.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// LoadTemp reads a temporary file and returns a reader.
	// The caller is responsible for closing the returned ReadCloser.
	LoadTemp(ctx context.Context, path string) (io.ReadCloser, error)

	// CleanupTemp removes the specified temporary files.
	// It continues cleanup even if some files fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// Publish uploads data and returns a time-limited download URL.
	// Returns ErrS3NotConfigured if no object store is configured.
	Publish(ctx context.Context, obj Object, data io.Reader) (url string, err error)
}
