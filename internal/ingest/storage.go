package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DiskStorage keeps uploaded blobs under one directory, content-addressed by
// hash so duplicate uploads share a name and never collide.
type DiskStorage struct {
	dir string
}

func NewDiskStorage(dir string) (*DiskStorage, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("storage directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &DiskStorage{dir: dir}, nil
}

// Save writes the blob as {hash}{ext}. Writing an existing path is a no-op
// since the content is identical by construction.
func (s *DiskStorage) Save(_ context.Context, hash, fileName string, data []byte) (string, error) {
	path := filepath.Join(s.dir, hash+strings.ToLower(filepath.Ext(fileName)))
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("finalize blob: %w", err)
	}
	return path, nil
}

func (s *DiskStorage) Read(_ context.Context, path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Remove deletes a stored blob. Missing files are not an error; the sweep
// may race a manual cleanup.
func (s *DiskStorage) Remove(_ context.Context, path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
