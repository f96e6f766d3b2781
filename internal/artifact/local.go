package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuongbtq/thumbnail-pipeline/internal/media"
)

// LocalStore keeps artifacts under a directory on the local filesystem
type LocalStore struct {
	basePath string
}

// NewLocalStore initializes a LocalStore rooted at basePath
func NewLocalStore(basePath string) (*LocalStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("artifact: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: ensure base path: %w", err)
	}
	return &LocalStore{basePath: basePath}, nil
}

func (s *LocalStore) path(key string) (string, string, error) {
	clean, err := sanitizeKey(key)
	if err != nil {
		return "", "", err
	}
	return clean, filepath.Join(s.basePath, filepath.FromSlash(clean)), nil
}

// Put renames localPath into the store, copying when the rename crosses devices
func (s *LocalStore) Put(ctx context.Context, key, localPath, contentType string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}

	ref, fullPath, err := s.path(key)
	if err != nil {
		return Object{}, err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return Object{}, fmt.Errorf("artifact: ensure directory: %w", err)
	}

	if err := os.Rename(localPath, fullPath); err != nil {
		if err := copyFile(localPath, fullPath); err != nil {
			return Object{}, fmt.Errorf("artifact: store %s: %w", ref, err)
		}
		os.Remove(localPath)
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return Object{}, fmt.Errorf("artifact: stat %s: %w", ref, err)
	}

	return Object{Ref: ref, Size: info.Size(), ContentType: contentType}, nil
}

// copyFile writes to a sibling temp file first so readers never see a partial artifact
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".artifact-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// Open returns a reader for the artifact
func (s *LocalStore) Open(ctx context.Context, ref string) (io.ReadCloser, Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, Object{}, err
	}

	clean, fullPath, err := s.path(ref)
	if err != nil {
		return nil, Object{}, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, Object{}, ErrNotFound
		}
		return nil, Object{}, fmt.Errorf("artifact: open %s: %w", clean, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, Object{}, fmt.Errorf("artifact: stat %s: %w", clean, err)
	}

	return f, Object{Ref: clean, Size: info.Size(), ContentType: media.ContentTypeFor(clean)}, nil
}

// Delete removes the artifact. Missing artifacts are not an error.
func (s *LocalStore) Delete(ctx context.Context, ref string) error {
	_, fullPath, err := s.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("artifact: delete %s: %w", ref, err)
	}
	return nil
}
