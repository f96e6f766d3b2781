// Package artifact stores generated thumbnails. The artifact ref handed back
// to callers is the storage key, so a rerun for the same job overwrites the
// previous object instead of creating a new one.
package artifact

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when no object exists for a ref
var ErrNotFound = errors.New("artifact not found")

// Object describes a stored artifact
type Object struct {
	Ref         string
	Size        int64
	ContentType string
}

// Store persists artifact bytes
type Store interface {
	// Put moves or uploads the file at localPath under key, replacing any existing object
	Put(ctx context.Context, key, localPath, contentType string) (Object, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, Object, error)
	Delete(ctx context.Context, ref string) error
}

// sanitizeKey normalizes a key and prevents escaping the storage root
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("artifact: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("artifact: invalid key")
	}
	return cleaned, nil
}
