package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"

	"mrv/sentinel"
)

// FS stores objects as files under root. Content type is derived from the
// key's extension on read.
type FS struct {
	root string
}

func NewFS(root string) (*FS, error) {
	if root == "" {
		root = "uploads"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FS{root: root}, nil
}

func (s *FS) Driver() string { return "fs" }

func (s *FS) pathFor(key string) (string, string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", "", err
	}
	return k, filepath.Join(s.root, filepath.FromSlash(k)), nil
}

// Put writes to a temp file and renames it into place so readers never see
// a partial object.
func (s *FS) Put(_ context.Context, key string, r io.Reader, contentType string) (Info, error) {
	k, p, err := s.pathFor(key)
	if err != nil {
		return Info{}, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return Info{}, fmt.Errorf("create blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return Info{}, fmt.Errorf("create temp file: %w", err)
	}
	size, err := io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return Info{}, fmt.Errorf("write blob %s: %w", k, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		_ = os.Remove(tmp.Name())
		return Info{}, fmt.Errorf("commit blob %s: %w", k, err)
	}
	return Info{Key: k, ContentType: contentType, Size: size}, nil
}

func (s *FS) Get(_ context.Context, key string) (Info, io.ReadCloser, error) {
	k, p, err := s.pathFor(key)
	if err != nil {
		return Info{}, nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Info{}, nil, fmt.Errorf("blob %s: %w", k, sentinel.ErrNotFound)
		}
		return Info{}, nil, fmt.Errorf("open blob %s: %w", k, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return Info{}, nil, fmt.Errorf("stat blob %s: %w", k, err)
	}
	contentType := mime.TypeByExtension(filepath.Ext(p))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return Info{Key: k, ContentType: contentType, Size: st.Size()}, f, nil
}
