// Package blob stores uploaded project files. Drivers: memory, fs and s3.
// Uploads never run under a project lock; callers store the bytes first and
// then attach the returned FileRef to the project.
package blob

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"mrv/config"
)

// Info describes a stored object.
type Info struct {
	Key         string
	ContentType string
	Size        int64
}

type Store interface {
	Driver() string
	Put(ctx context.Context, key string, r io.Reader, contentType string) (Info, error)
	// Get returns an error wrapping sentinel.ErrNotFound for unknown keys.
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
}

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.BlobConfig) (Store, error) {
	switch cfg.Driver {
	case "", config.BlobMemory:
		return NewMemory(), nil
	case config.BlobFS:
		return NewFS(cfg.Dir)
	case config.BlobS3:
		return NewS3(ctx, S3Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.S3Prefix,
		})
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

// ProjectKey builds the object key for a file uploaded to a project.
func ProjectKey(projectID, fileID, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "upload"
	}
	return path.Join("projects", projectID, fileID+"-"+name)
}

// cleanKey rejects keys that could escape the store root.
func cleanKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("empty key")
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid absolute key")
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", fmt.Errorf("invalid key traversal")
		}
	}
	return path.Clean(key), nil
}
