// Package objectstore holds attachment blobs. Keys are relative slash paths such as
// "<user>/<unix-ms>_<name>".
package objectstore

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

var (
	ErrNotFound   = errors.New("object not found")
	ErrInvalidKey = errors.New("invalid object key")
)

type Store interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	// Get returns the object body. Callers close it.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// CleanKey rejects absolute keys and keys that escape the store root.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}
