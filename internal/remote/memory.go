package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"sync"

	"dbrb/internal/checksum"
)

// Memory is an in-process ObjectStore.
type Memory struct {
	mu         sync.RWMutex
	containers map[string]map[string]memoryObject
}

type memoryObject struct {
	data     []byte
	metadata map[string]string
}

var _ ObjectStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{containers: make(map[string]map[string]memoryObject)}
}

func (m *Memory) BaseURL() string { return "memory://" }

func (m *Memory) PutContainer(_ context.Context, container string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.containers[container]; !ok {
		m.containers[container] = make(map[string]memoryObject)
	}
	return nil
}

func (m *Memory) PutObject(ctx context.Context, container, name string, body io.Reader, metadata map[string]string) (string, error) {
	data, err := io.ReadAll(&ctxReader{ctx: ctx, r: body})
	if err != nil {
		return "", fmt.Errorf("failed to read object body: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	objects, ok := m.containers[container]
	if !ok {
		return "", fmt.Errorf("%w: container %s", ErrNotFound, container)
	}
	objects[name] = memoryObject{data: data, metadata: maps.Clone(metadata)}
	return checksum.Bytes(data), nil
}

func (m *Memory) lookup(container, name string) (memoryObject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.containers[container][name]
	if !ok {
		return memoryObject{}, fmt.Errorf("%w: %s/%s", ErrNotFound, container, name)
	}
	return obj, nil
}

func (m *Memory) HeadObject(_ context.Context, container, name string) (*ObjectInfo, error) {
	obj, err := m.lookup(container, name)
	if err != nil {
		return nil, err
	}
	return &ObjectInfo{
		Size:     int64(len(obj.data)),
		Checksum: obj.metadata[checksum.MetadataKey],
		Metadata: maps.Clone(obj.metadata),
	}, nil
}

func (m *Memory) GetObject(_ context.Context, container, name string) (io.ReadCloser, error) {
	obj, err := m.lookup(container, name)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *Memory) VerifyCredentials(context.Context, string) error { return nil }

// Names lists the objects in container, sorted.
func (m *Memory) Names(container string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.containers[container]))
}

// Overwrite replaces an object's bytes and keeps its metadata.
func (m *Memory) Overwrite(container, name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if obj, ok := m.containers[container][name]; ok {
		obj.data = data
		m.containers[container][name] = obj
	}
}
