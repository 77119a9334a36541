package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbrb/internal/checksum"
	"dbrb/internal/remote"
)

const container = "database_backups"

// faultyStore wraps the memory store with injectable faults.
type faultyStore struct {
	*remote.Memory
	badEtag  string
	badHead  string
	failPut  bool
	getCalls atomic.Int32
}

func (f *faultyStore) PutObject(ctx context.Context, c, name string, body io.Reader, md map[string]string) (string, error) {
	if f.failPut {
		return "", errors.New("connection reset by peer")
	}
	etag, err := f.Memory.PutObject(ctx, c, name, body, md)
	if name == f.badEtag {
		return "bogus", err
	}
	return etag, err
}

func (f *faultyStore) HeadObject(ctx context.Context, c, name string) (*remote.ObjectInfo, error) {
	info, err := f.Memory.HeadObject(ctx, c, name)
	if err == nil && name == f.badHead {
		info.Checksum = "tampered"
	}
	return info, err
}

func (f *faultyStore) GetObject(ctx context.Context, c, name string) (io.ReadCloser, error) {
	f.getCalls.Add(1)
	return f.Memory.GetObject(ctx, c, name)
}

func newTestStorage(store remote.ObjectStore) *ObjectStoreStorage {
	return New(store, Options{Container: container, SegmentMaxSize: 100, ChunkSize: 7})
}

func TestParseLocation(t *testing.T) {
	tests := []struct {
		name      string
		location  string
		container string
		filename  string
		wantErr   bool
	}{
		{name: "path", location: "/backup/location/123", container: "location", filename: "123"},
		{name: "memory url", location: "memory:///c/job.gz.enc", container: "c", filename: "job.gz.enc"},
		{name: "s3 url", location: "https://s3.eu-west-1.amazonaws.com/database_backups/job.xbstream.gz.enc", container: "database_backups", filename: "job.xbstream.gz.enc"},
		{name: "trailing slash", location: "/a/b/", container: "a", filename: "b"},
		{name: "single element", location: "123", wantErr: true},
		{name: "empty", location: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, f, err := ParseLocation(tt.location)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.container, c)
			assert.Equal(t, tt.filename, f)
		})
	}
}

// baseStore overrides the base URL of the memory store.
type baseStore struct {
	*remote.Memory
	base string
}

func (b baseStore) BaseURL() string { return b.base }

func TestLocation(t *testing.T) {
	tests := []struct {
		name string
		base string
		want string
	}{
		{name: "bare scheme", base: "memory://", want: "memory:///database_backups/job"},
		{name: "file root", base: "file:///var/backups", want: "file:///var/backups/database_backups/job"},
		{name: "trailing slash", base: "http://127.0.0.1:9000/", want: "http://127.0.0.1:9000/database_backups/job"},
		{name: "s3 region", base: "https://s3.eu-west-1.amazonaws.com", want: "https://s3.eu-west-1.amazonaws.com/database_backups/job"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStorage(baseStore{Memory: remote.NewMemory(), base: tt.base})
			loc := s.Location("job")
			assert.Equal(t, tt.want, loc)

			c, f, err := ParseLocation(loc)
			require.NoError(t, err)
			assert.Equal(t, container, c)
			assert.Equal(t, "job", f)
		})
	}
}

func TestDefaultSegmentMaxSize(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mem := remote.NewMemory()
	s := New(mem, Options{Container: container})
	data := payload(250)

	res, err := s.Save(ctx, "job", bytes.NewReader(data), SaveOptions{JobID: "job"})
	require.NoError(t, err)
	require.True(t, res.Success, res.Note)
	assert.Equal(t, 1, res.Segments)
	assert.Equal(t, []string{"job", "job_00000000"}, mem.Names(container))

	m, err := s.Manifest(ctx, res.Location)
	require.NoError(t, err)
	assert.Equal(t, DefaultSegmentMaxSize, m.SegmentMaxSize)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	mem := remote.NewMemory()
	s := newTestStorage(mem)
	data := payload(250)

	res, err := s.Save(ctx, "job.gz.enc", bytes.NewReader(data), SaveOptions{JobID: "job", Type: "MySQLDump", Zipped: true, Cipher: "openssl"})
	require.NoError(t, err)
	assert.True(t, res.Success, res.Note)
	assert.Equal(t, checksum.Bytes(data), res.Checksum)
	assert.Equal(t, "memory:///database_backups/job.gz.enc", res.Location)
	assert.Equal(t, int64(250), res.Size)
	assert.Equal(t, 3, res.Segments)
	assert.Equal(t, []string{"job.gz.enc", "job_00000000", "job_00000001", "job_00000002"}, mem.Names(container))

	info, err := mem.HeadObject(ctx, container, "job.gz.enc")
	require.NoError(t, err)
	assert.Equal(t, res.Checksum, info.Checksum)

	ds, err := s.Load(ctx, res.Location, true, res.Checksum)
	require.NoError(t, err)
	defer ds.Close()

	got, err := io.ReadAll(ds)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, "MySQLDump", ds.Manifest().Type)
	assert.Equal(t, int64(100), ds.Manifest().SegmentMaxSize)
}

func TestSaveExactMultipleHasEmptyTrailingSegment(t *testing.T) {
	ctx := context.Background()
	mem := remote.NewMemory()
	s := newTestStorage(mem)
	data := payload(200)

	res, err := s.Save(ctx, "job", bytes.NewReader(data), SaveOptions{})
	require.NoError(t, err)
	require.True(t, res.Success, res.Note)
	assert.Equal(t, 3, res.Segments)

	doc, err := s.Verify(ctx, res.Location, res.Checksum)
	require.NoError(t, err)
	assert.Equal(t, int64(0), doc.Segments[2].Size)
}

func TestSaveEmptyStream(t *testing.T) {
	s := newTestStorage(remote.NewMemory())

	res, err := s.Save(context.Background(), "job", bytes.NewReader(nil), SaveOptions{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Segments)
	assert.Equal(t, checksum.Bytes(nil), res.Checksum)
}

func TestSaveSegmentMismatch(t *testing.T) {
	store := &faultyStore{Memory: remote.NewMemory(), badEtag: "job_00000001"}
	s := newTestStorage(store)

	res, err := s.Save(context.Background(), "job.gz.enc", bytes.NewReader(payload(350)), SaveOptions{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, res.Checksum)
	assert.Contains(t, res.Note, "job_00000001")
	assert.Equal(t, "memory:///database_backups/job.gz.enc", res.Location)
	assert.Equal(t, []string{"job_00000000", "job_00000001"}, store.Names(container), "no upload after a mismatch")
}

func TestSaveManifestMismatch(t *testing.T) {
	store := &faultyStore{Memory: remote.NewMemory(), badHead: "job.gz.enc"}
	s := newTestStorage(store)

	res, err := s.Save(context.Background(), "job.gz.enc", bytes.NewReader(payload(50)), SaveOptions{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, res.Checksum)
	assert.Contains(t, res.Note, "manifest")
	assert.Equal(t, "memory:///database_backups/job.gz.enc", res.Location)
}

func TestSaveTransportError(t *testing.T) {
	store := &faultyStore{Memory: remote.NewMemory(), failPut: true}
	s := newTestStorage(store)

	res, err := s.Save(context.Background(), "job.gz.enc", bytes.NewReader(payload(50)), SaveOptions{})
	assert.ErrorIs(t, err, ErrTransport)
	assert.False(t, res.Success)
	assert.Equal(t, "memory:///database_backups/job.gz.enc", res.Location)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("pipe broke") }

func TestSaveSourceError(t *testing.T) {
	s := newTestStorage(remote.NewMemory())

	_, err := s.Save(context.Background(), "job", failingReader{}, SaveOptions{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTransport)
	assert.ErrorContains(t, err, "pipe broke")
}

func TestLoadMismatchDoesNotStartPump(t *testing.T) {
	ctx := context.Background()
	store := &faultyStore{Memory: remote.NewMemory()}
	s := newTestStorage(store)

	res, err := s.Save(ctx, "job.gz.enc", bytes.NewReader(payload(250)), SaveOptions{Zipped: true})
	require.NoError(t, err)
	require.True(t, res.Success)

	ds, err := s.Load(ctx, res.Location, true, "not-the-checksum")
	require.NoError(t, err)
	defer ds.Close()

	assert.Equal(t, container, ds.Container())
	assert.Equal(t, "job.gz.enc", ds.Filename())
	assert.False(t, ds.Started())

	err = ds.Open(ctx)
	var ie *IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, LevelManifest, ie.Level)
	assert.ErrorIs(t, err, ErrIntegrity)
	assert.NotErrorIs(t, err, ErrTransport)
	assert.False(t, ds.Started())
	assert.Equal(t, int32(0), store.getCalls.Load())

	_, err = ds.Read(make([]byte, 10))
	assert.ErrorAs(t, err, &ie)
}

func TestLoadCorruptSegment(t *testing.T) {
	ctx := context.Background()
	mem := remote.NewMemory()
	s := newTestStorage(mem)

	res, err := s.Save(ctx, "job", bytes.NewReader(payload(250)), SaveOptions{})
	require.NoError(t, err)
	mem.Overwrite(container, "job_00000001", payload(100)[1:])

	ds, err := s.Load(ctx, res.Location, false, res.Checksum)
	require.NoError(t, err)
	defer ds.Close()

	_, err = io.ReadAll(ds)
	var ie *IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, LevelSegment, ie.Level)
	assert.Equal(t, "job_00000001", ie.Name)
}

func TestLoadZippedMismatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(remote.NewMemory())

	res, err := s.Save(ctx, "job", bytes.NewReader(payload(10)), SaveOptions{Zipped: false})
	require.NoError(t, err)

	ds, err := s.Load(ctx, res.Location, true, res.Checksum)
	require.NoError(t, err)
	defer ds.Close()
	assert.ErrorContains(t, ds.Open(ctx), "zipped")
}

func TestLoadMissingManifest(t *testing.T) {
	s := newTestStorage(remote.NewMemory())

	ds, err := s.Load(context.Background(), "memory:///database_backups/missing", false, "x")
	require.NoError(t, err)
	err = ds.Open(context.Background())
	assert.ErrorIs(t, err, ErrTransport)
	assert.True(t, IsNotFound(err))
}

func TestLazyReadUsesLoadContext(t *testing.T) {
	store := &faultyStore{Memory: remote.NewMemory()}
	s := newTestStorage(store)

	res, err := s.Save(context.Background(), "job", bytes.NewReader(payload(250)), SaveOptions{})
	require.NoError(t, err)
	require.True(t, res.Success)

	ctx, cancel := context.WithCancel(context.Background())
	ds, err := s.Load(ctx, res.Location, false, res.Checksum)
	require.NoError(t, err)
	defer ds.Close()
	cancel()

	_, err = ds.Read(make([]byte, 10))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ds.Started())
	assert.Equal(t, int32(0), store.getCalls.Load())
}

func TestDownloadCloseMidStream(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(remote.NewMemory())

	res, err := s.Save(ctx, "job", bytes.NewReader(payload(1000)), SaveOptions{})
	require.NoError(t, err)

	ds, err := s.Load(ctx, res.Location, false, res.Checksum)
	require.NoError(t, err)

	_, err = io.ReadFull(ds, make([]byte, 10))
	require.NoError(t, err)
	assert.True(t, ds.Started())
	require.NoError(t, ds.Close())
	require.NoError(t, ds.Close())
}

func TestVerifyDetectsManifestMismatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(remote.NewMemory())

	res, err := s.Save(ctx, "job", bytes.NewReader(payload(120)), SaveOptions{})
	require.NoError(t, err)

	_, err = s.Verify(ctx, res.Location, "wrong")
	assert.ErrorIs(t, err, ErrIntegrity)

	doc, err := s.Manifest(ctx, res.Location)
	require.NoError(t, err)
	assert.Len(t, doc.Segments, 2)
}
