package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"dbrb/internal/checksum"
	"dbrb/internal/manifest"
)

// DownloadStream reads a stored artifact back as one stream. Open checks the
// manifest checksum against the expected value before any segment is
// fetched; segments and the whole stream are verified as they pass.
type DownloadStream struct {
	// ctx governs a lazy open from Read.
	ctx         context.Context
	storage     *ObjectStoreStorage
	container   string
	filename    string
	zipped      bool
	checkZipped bool
	expected    string

	mu       sync.Mutex
	started  bool
	openErr  error
	manifest *manifest.Backup
	pr       *io.PipeReader
	cancel   context.CancelFunc
	done     chan struct{}
	closed   bool
}

func (d *DownloadStream) Container() string { return d.container }

func (d *DownloadStream) Filename() string { return d.filename }

// Started reports whether the segment pump is running or has run.
func (d *DownloadStream) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

// Manifest is the verified manifest document, nil before a successful Open.
func (d *DownloadStream) Manifest() *manifest.Backup {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.manifest
}

func (d *DownloadStream) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return io.ErrClosedPipe
	}
	if d.started || d.openErr != nil {
		return d.openErr
	}
	d.openErr = d.open(ctx)
	return d.openErr
}

func (d *DownloadStream) open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("download of %s cancelled: %w", d.filename, err)
	}
	store := d.storage.store

	info, err := store.HeadObject(ctx, d.container, d.filename)
	if err != nil {
		return fmt.Errorf("%w: failed to head manifest %s: %w", ErrTransport, d.filename, err)
	}
	if info.Checksum != d.expected {
		d.storage.metrics.ChecksumMismatch(LevelManifest)
		return &IntegrityError{Level: LevelManifest, Name: d.filename, Expected: d.expected, Actual: info.Checksum}
	}

	doc, err := d.storage.fetchManifest(ctx, d.container, d.filename)
	if err != nil {
		return err
	}
	if doc.Blake3Hash != info.Checksum {
		d.storage.metrics.ChecksumMismatch(LevelManifest)
		return &IntegrityError{Level: LevelManifest, Name: d.filename, Expected: info.Checksum, Actual: doc.Blake3Hash}
	}
	if d.checkZipped && doc.Zipped != d.zipped {
		return fmt.Errorf("backup %s has zipped=%t but the restore expects zipped=%t", d.filename, doc.Zipped, d.zipped)
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	d.manifest = doc
	d.pr = pr
	d.cancel = cancel
	d.started = true

	go func() {
		defer close(d.done)
		pw.CloseWithError(d.pump(pumpCtx, doc, pw))
	}()
	return nil
}

func (d *DownloadStream) pump(ctx context.Context, doc *manifest.Backup, w io.Writer) error {
	store := d.storage.store
	streamHash := checksum.New()

	for _, seg := range doc.Segments {
		rc, err := store.GetObject(ctx, d.container, seg.Name)
		if err != nil {
			return fmt.Errorf("%w: failed to fetch segment %s: %w", ErrTransport, seg.Name, err)
		}

		segHash := checksum.New()
		n, err := io.Copy(io.MultiWriter(w, segHash, streamHash), rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("failed to stream segment %s: %w", seg.Name, err)
		}

		if actual := checksum.Hex(segHash); actual != seg.Blake3Hash || n != seg.Size {
			d.storage.metrics.ChecksumMismatch(LevelSegment)
			return &IntegrityError{Level: LevelSegment, Name: seg.Name, Expected: seg.Blake3Hash, Actual: actual}
		}
		d.storage.metrics.SegmentDownloaded(n)
		slog.Debug("Verified segment", "segment", seg.Name, "bytes", n)
	}

	if actual := checksum.Hex(streamHash); actual != doc.Blake3Hash {
		d.storage.metrics.ChecksumMismatch(LevelStream)
		return &IntegrityError{Level: LevelStream, Name: d.filename, Expected: doc.Blake3Hash, Actual: actual}
	}
	return nil
}

func (d *DownloadStream) Read(p []byte) (int, error) {
	if err := d.Open(d.ctx); err != nil {
		return 0, err
	}
	return d.pr.Read(p)
}

// Close stops the pump and waits for it. It is safe to call more than once.
func (d *DownloadStream) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}
	d.cancel()
	d.pr.Close()
	<-d.done
	return nil
}
