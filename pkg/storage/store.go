package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrObjectNotFound indicates the requested artifact does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ArtifactStore reads stored test artifacts by key.
type ArtifactStore interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// ArtifactCatalog is an ArtifactStore that can also enumerate its keys.
type ArtifactCatalog interface {
	ArtifactStore
	List(ctx context.Context, prefix string) ([]string, error)
}

// FileStore serves artifacts from a directory on the local filesystem.
type FileStore struct {
	root string
}

// NewFileStore constructs a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{root: dir}
}

// Open returns a reader for the artifact stored under key.
func (s *FileStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return file, nil
}

// List returns the slash separated keys under the store root that start with prefix.
func (s *FileStore) List(ctx context.Context, prefix string) ([]string, error) {
	info, err := os.Stat(s.root)
	if err != nil {
		return nil, fmt.Errorf("artifact root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("artifact root %q is not a directory", s.root)
	}

	var keys []string
	err = filepath.WalkDir(s.root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FileStore) resolve(key string) (string, error) {
	cleaned := filepath.Clean(strings.TrimSpace(key))
	if cleaned == "." || cleaned == "" {
		return "", fmt.Errorf("artifact key is required")
	}
	if filepath.IsAbs(cleaned) {
		return cleaned, nil
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact key %q escapes store root", key)
	}
	return filepath.Join(s.root, cleaned), nil
}
