package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Local stores objects on the local filesystem under a base directory
type Local struct {
	basePath      string
	publicBaseURL string
}

// NewLocal creates the base directory if needed.
// publicBaseURL is the address under which the HTTP server exposes stored files.
func NewLocal(basePath, publicBaseURL string) (*Local, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &Local{basePath: basePath, publicBaseURL: publicBaseURL}, nil
}

func (l *Local) fullPath(path string) (string, error) {
	key, err := cleanKey(path)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.basePath, filepath.FromSlash(key)), nil
}

// Save writes data to path, failing if the file already exists
func (l *Local) Save(_ context.Context, path string, data []byte, _ string) error {
	full, err := l.fullPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%s: %w", path, ErrExists)
	}
	if err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(full)
		return fmt.Errorf("writing file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}

// Get reads the file at path
func (l *Local) Get(_ context.Context, path string) ([]byte, error) {
	full, err := l.fullPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes the file at path
func (l *Local) Delete(_ context.Context, path string) error {
	full, err := l.fullPath(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// PublicURL returns the address the HTTP server serves path under
func (l *Local) PublicURL(path string) string {
	return joinURL(l.publicBaseURL, path)
}
