package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"dbrb/internal/checksum"
	"dbrb/internal/manifest"
	"dbrb/internal/metrics"
	"dbrb/internal/remote"
)

// DefaultSegmentMaxSize applies when Options leaves SegmentMaxSize unset.
const DefaultSegmentMaxSize int64 = 5 * 1024 * 1024 * 1024

type Options struct {
	Container      string
	SegmentMaxSize int64
	ChunkSize      int
	Metrics        *metrics.Collector
}

// ObjectStoreStorage saves streams to an object store as segments plus a
// manifest object and loads them back with checksum verification.
type ObjectStoreStorage struct {
	store          remote.ObjectStore
	container      string
	segmentMaxSize int64
	chunkSize      int
	metrics        *metrics.Collector
}

func New(store remote.ObjectStore, opts Options) *ObjectStoreStorage {
	size := opts.SegmentMaxSize
	if size <= 0 {
		size = DefaultSegmentMaxSize
	}
	return &ObjectStoreStorage{
		store:          store,
		container:      opts.Container,
		segmentMaxSize: size,
		chunkSize:      opts.ChunkSize,
		metrics:        opts.Metrics,
	}
}

// SaveOptions describes the artifact to the manifest document.
type SaveOptions struct {
	JobID  string
	Type   string
	Zipped bool
	Cipher string
}

type SaveResult struct {
	Success  bool
	Note     string
	Checksum string
	Location string
	Size     int64
	Segments int
}

// Location is the URL of filename's manifest object. A bare scheme base such
// as "memory://" keeps its slashes: memory:///<container>/<filename>.
func (s *ObjectStoreStorage) Location(filename string) string {
	base := s.store.BaseURL()
	if !strings.HasSuffix(base, "://") {
		base = strings.TrimSuffix(base, "/")
	}
	return base + "/" + s.container + "/" + filename
}

// ParseLocation returns the container and manifest name of a location: the
// last two path elements.
func ParseLocation(location string) (container, filename string, err error) {
	parts := strings.Split(strings.TrimSuffix(location, "/"), "/")
	if len(parts) < 2 || parts[len(parts)-1] == "" || parts[len(parts)-2] == "" {
		return "", "", fmt.Errorf("invalid backup location %q", location)
	}
	return parts[len(parts)-2], parts[len(parts)-1], nil
}

// Save uploads r as segments followed by the manifest object filename. A
// checksum mismatch yields an unsuccessful result with a nil error; transport
// failures are returned as errors wrapping ErrTransport.
func (s *ObjectStoreStorage) Save(ctx context.Context, filename string, r io.Reader, opts SaveOptions) (*SaveResult, error) {
	res := &SaveResult{Location: s.Location(filename)}

	if err := s.store.PutContainer(ctx, s.container); err != nil {
		return res, fmt.Errorf("%w: failed to ensure container %s: %w", ErrTransport, s.container, err)
	}

	stream := NewSegmentedUploadStream(chunkReader{r: r, size: s.chunkSize}, filename, s.segmentMaxSize)
	doc := &manifest.Backup{
		Datetime:       time.Now().Unix(),
		System:         manifest.GetSystemInfo(),
		JobID:          opts.JobID,
		Type:           opts.Type,
		Zipped:         opts.Zipped,
		Cipher:         opts.Cipher,
		SegmentMaxSize: s.segmentMaxSize,
	}

	for {
		name := stream.Segment()
		etag, err := s.store.PutObject(ctx, s.container, name, stream, nil)
		if serr := stream.Err(); serr != nil {
			return res, fmt.Errorf("failed to read backup stream: %w", serr)
		}
		if err != nil {
			return res, fmt.Errorf("%w: failed to upload segment %s: %w", ErrTransport, name, err)
		}
		if !stream.EndOfSegment() && !stream.EndOfFile() {
			return res, fmt.Errorf("%w: upload of segment %s stopped before the segment ended", ErrTransport, name)
		}

		local := stream.SegmentChecksum()
		if etag != local {
			s.metrics.ChecksumMismatch(LevelSegment)
			res.Note = fmt.Sprintf("segment %s (index %d) checksum mismatch: local %s, store %s", name, len(doc.Segments), local, etag)
			slog.Error("Segment checksum mismatch, aborting upload", "segment", name, "local", local, "store", etag)
			return res, nil
		}

		size := stream.SegmentLength()
		doc.Segments = append(doc.Segments, manifest.Segment{Name: name, Size: size, Blake3Hash: local})
		s.metrics.SegmentUploaded(size)
		slog.Info("Uploaded segment", "segment", name, "bytes", size, "blake3", local)

		if stream.EndOfFile() {
			break
		}
		stream.NextSegment()
	}

	streamSum := stream.StreamChecksum()
	doc.Size = stream.BytesRead()
	doc.Blake3Hash = streamSum

	data, err := manifest.Marshal(doc)
	if err != nil {
		return res, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	etag, err := s.store.PutObject(ctx, s.container, filename, bytes.NewReader(data), map[string]string{checksum.MetadataKey: streamSum})
	if err != nil {
		return res, fmt.Errorf("%w: failed to upload manifest %s: %w", ErrTransport, filename, err)
	}
	if local := checksum.Bytes(data); etag != local {
		s.metrics.ChecksumMismatch(LevelManifest)
		res.Note = fmt.Sprintf("manifest %s document checksum mismatch: local %s, store %s", filename, local, etag)
		return res, nil
	}

	info, err := s.store.HeadObject(ctx, s.container, filename)
	if err != nil {
		return res, fmt.Errorf("%w: failed to read back manifest %s: %w", ErrTransport, filename, err)
	}
	if info.Checksum != streamSum {
		s.metrics.ChecksumMismatch(LevelManifest)
		res.Note = fmt.Sprintf("manifest %s checksum mismatch: local %s, store %s", filename, streamSum, info.Checksum)
		return res, nil
	}

	res.Success = true
	res.Checksum = streamSum
	res.Size = doc.Size
	res.Segments = len(doc.Segments)
	res.Note = fmt.Sprintf("stored %d bytes in %d segments", res.Size, res.Segments)
	slog.Info("Backup stored", "location", res.Location, "bytes", res.Size, "segments", res.Segments, "blake3", streamSum)
	return res, nil
}

// Load prepares a verified download of the artifact at location. Nothing is
// transferred until Open or the first Read; a Read without Open opens under
// ctx.
func (s *ObjectStoreStorage) Load(ctx context.Context, location string, isZipped bool, expected string) (*DownloadStream, error) {
	container, filename, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}
	return &DownloadStream{
		ctx:         ctx,
		storage:     s,
		container:   container,
		filename:    filename,
		zipped:      isZipped,
		checkZipped: true,
		expected:    expected,
		done:        make(chan struct{}),
	}, nil
}

// Manifest fetches the manifest document at location without verifying it.
func (s *ObjectStoreStorage) Manifest(ctx context.Context, location string) (*manifest.Backup, error) {
	container, filename, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}
	return s.fetchManifest(ctx, container, filename)
}

func (s *ObjectStoreStorage) fetchManifest(ctx context.Context, container, filename string) (*manifest.Backup, error) {
	rc, err := s.store.GetObject(ctx, container, filename)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch manifest %s: %w", ErrTransport, filename, err)
	}
	defer rc.Close()
	return manifest.Decode(rc)
}

// Verify downloads every segment of the artifact at location and checks all
// checksum levels without restoring anything.
func (s *ObjectStoreStorage) Verify(ctx context.Context, location, expected string) (*manifest.Backup, error) {
	ds, err := s.Load(ctx, location, false, expected)
	if err != nil {
		return nil, err
	}
	ds.checkZipped = false
	defer ds.Close()

	if err := ds.Open(ctx); err != nil {
		return nil, err
	}
	if _, err := io.Copy(io.Discard, ds); err != nil {
		return nil, err
	}
	return ds.Manifest(), nil
}

// IsNotFound reports whether err comes from a missing object.
func IsNotFound(err error) bool {
	return errors.Is(err, remote.ErrNotFound)
}
