package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"mrv/sentinel"
)

type memoryObject struct {
	data        []byte
	contentType string
}

// Memory keeps objects in a map. Used in tests and local development.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memoryObject)}
}

func (m *Memory) Driver() string { return "memory" }

func (m *Memory) Put(_ context.Context, key string, r io.Reader, contentType string) (Info, error) {
	k, err := cleanKey(key)
	if err != nil {
		return Info{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return Info{}, fmt.Errorf("read blob %s: %w", k, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[k] = memoryObject{data: data, contentType: contentType}
	return Info{Key: k, ContentType: contentType, Size: int64(len(data))}, nil
}

func (m *Memory) Get(_ context.Context, key string) (Info, io.ReadCloser, error) {
	k, err := cleanKey(key)
	if err != nil {
		return Info{}, nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[k]
	if !ok {
		return Info{}, nil, fmt.Errorf("blob %s: %w", k, sentinel.ErrNotFound)
	}
	info := Info{Key: k, ContentType: obj.contentType, Size: int64(len(obj.data))}
	return info, io.NopCloser(bytes.NewReader(obj.data)), nil
}
