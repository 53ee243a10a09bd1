package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when a file does not exist in the store.
var ErrNotFound = errors.New("file not found")

// ErrInvalidName is returned for filenames that would escape the store directory.
var ErrInvalidName = errors.New("invalid file name")

// FileInfo describes a stored file.
type FileInfo struct {
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Path        string    `json:"path"`
	CreatedAt   time.Time `json:"created_at"`
}

// Storage is the interface for extracted-image persistence backends.
type Storage interface {
	// Save stores a file under filename, replacing any file of the same name.
	Save(ctx context.Context, filename string, contentType string, reader io.Reader) (*FileInfo, error)
	// Get retrieves a file by name.
	Get(ctx context.Context, filename string) (*FileInfo, io.ReadCloser, error)
	// Exists reports whether filename is present, including files left by earlier runs.
	Exists(ctx context.Context, filename string) bool
	// Delete removes a file by name.
	Delete(ctx context.Context, filename string) error
	// List returns every file currently held by the store, sorted by name.
	List(ctx context.Context) ([]FileInfo, error)
}
