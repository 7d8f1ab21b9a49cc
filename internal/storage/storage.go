// Package storage provides object-store backends for uploaded documents.
// Every backend writes create-only: an existing object is never overwritten.
package storage

import (
	"errors"
	"strings"
)

var (
	// ErrExists is returned when a write targets a path that is already taken
	ErrExists = errors.New("object already exists")
	// ErrNotFound is returned when reading a missing object
	ErrNotFound = errors.New("object not found")
	// ErrInvalidPath is returned for empty or escaping object paths
	ErrInvalidPath = errors.New("invalid object path")
)

// cleanKey normalizes an object key to forward slashes without a leading slash
func cleanKey(path string) (string, error) {
	key := strings.TrimLeft(strings.ReplaceAll(path, "\\", "/"), "/")
	if key == "" {
		return "", ErrInvalidPath
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." || segment == "." || segment == "" {
			return "", ErrInvalidPath
		}
	}
	return key, nil
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}
