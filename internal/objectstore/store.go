// Package objectstore persists processed tickets as JSON blobs keyed by
// date and ticket id.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spec-kit/ticket-pipeline/internal/config"
)

// ErrNotExist is returned by Get for a missing key.
var ErrNotExist = errors.New("object does not exist")

// ObjectInfo describes one listed object.
type ObjectInfo struct {
	Key        string
	ModifiedAt time.Time
	Size       int64
}

// Store is the object store client. Put is overwrite-safe: writing the same
// content to the same key again leaves one object.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns every object under prefix in no particular order.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// Open returns the backend named by cfg.Backend.
func Open(ctx context.Context, cfg config.ObjectStoreConfig) (Store, error) {
	switch cfg.Backend {
	case "s3":
		return NewS3Store(ctx, cfg.Bucket, cfg.Region)
	case "fs", "":
		return NewFSStore(cfg.RootDir)
	default:
		return nil, fmt.Errorf("objectstore: unknown backend %q", cfg.Backend)
	}
}
