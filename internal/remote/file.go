package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"dbrb/internal/checksum"
)

const metaDir = ".meta"

// File keeps containers as directories under root. Object metadata lives in
// a yaml sidecar under <container>/.meta.
type File struct {
	root string
	// committed runs after an object is renamed into place.
	committed func(path string)
}

var _ ObjectStore = (*File)(nil)

func NewFile(root string) (*File, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}
	return &File{root: abs}, nil
}

func (f *File) BaseURL() string {
	return "file://" + f.root
}

func (f *File) objectPath(container, name string) (string, error) {
	if container == "" || name == "" || strings.ContainsAny(container+name, `/\`) || name == metaDir {
		return "", fmt.Errorf("invalid object name %q in container %q", name, container)
	}
	return filepath.Join(f.root, container, name), nil
}

func (f *File) metaPath(container, name string) string {
	return filepath.Join(f.root, container, metaDir, name+".yaml")
}

func (f *File) PutContainer(_ context.Context, container string) error {
	if err := os.MkdirAll(filepath.Join(f.root, container, metaDir), 0o755); err != nil {
		return fmt.Errorf("failed to create container %s: %w", container, err)
	}
	return nil
}

func (f *File) PutObject(ctx context.Context, container, name string, body io.Reader, metadata map[string]string) (string, error) {
	target, err := f.objectPath(container, name)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("failed to create object %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	_, err = io.Copy(tmp, &ctxReader{ctx: ctx, r: body})
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("failed to write object %s: %w", name, err)
	}

	meta, err := yaml.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(f.metaPath(container, name), meta, 0o644); err != nil {
		return "", fmt.Errorf("failed to write metadata for %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("failed to commit object %s: %w", name, err)
	}

	if f.committed != nil {
		f.committed(target)
	}

	// Report what is on disk, not what was written.
	sum, err := checksum.File(target)
	if err != nil {
		return "", fmt.Errorf("failed to read back object %s: %w", name, err)
	}
	slog.Debug("Stored object", "path", target, "blake3", sum)
	return sum, nil
}

func (f *File) HeadObject(_ context.Context, container, name string) (*ObjectInfo, error) {
	target, err := f.objectPath(container, name)
	if err != nil {
		return nil, err
	}

	st, err := os.Stat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, container, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat object %s: %w", name, err)
	}

	info := &ObjectInfo{Size: st.Size(), Metadata: map[string]string{}}
	data, err := os.ReadFile(f.metaPath(container, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read metadata for %s: %w", name, err)
	}
	if err := yaml.Unmarshal(data, &info.Metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metadata for %s: %w", name, err)
	}
	info.Checksum = info.Metadata[checksum.MetadataKey]
	return info, nil
}

func (f *File) GetObject(_ context.Context, container, name string) (io.ReadCloser, error) {
	target, err := f.objectPath(container, name)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, container, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open object %s: %w", name, err)
	}
	return file, nil
}

func (f *File) VerifyCredentials(_ context.Context, _ string) error {
	st, err := os.Stat(f.root)
	if err != nil {
		return fmt.Errorf("storage root is not accessible: %w", err)
	}
	if !st.IsDir() {
		return fmt.Errorf("storage root %s is not a directory", f.root)
	}
	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
