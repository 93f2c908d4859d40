// Package archive stores finished run documents on the local filesystem or
// an S3-compatible bucket.
package archive

import (
	"context"

	"github.com/newthinker/tradesim/internal/core"
)

// Storage is a flat key/value document store. Paths use forward slashes.
type Storage interface {
	// Write stores data at path, replacing any previous document
	Write(ctx context.Context, path string, data []byte) error

	// Read retrieves the document at path
	Read(ctx context.Context, path string) ([]byte, error)

	// List returns all paths under prefix, sorted
	List(ctx context.Context, prefix string) ([]string, error)

	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
}

// Config selects and configures a backend.
type Config struct {
	Type string // "local" or "s3"
	Path string // base directory for local
	S3   S3Config
}

// New builds the backend named by cfg.Type.
func New(cfg Config) (Storage, error) {
	switch cfg.Type {
	case "", "local":
		if cfg.Path == "" {
			return nil, core.Errorf(core.ErrConfigMissing, "storage.path")
		}
		return NewLocalFS(cfg.Path)
	case "s3":
		return NewS3(cfg.S3)
	default:
		return nil, core.Errorf(core.ErrConfigInvalid, "unknown storage type %q", cfg.Type)
	}
}
