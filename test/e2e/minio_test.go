//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbrb/internal/backup"
	"dbrb/internal/remote"
	"dbrb/internal/runner"
	"dbrb/internal/storage"
	"dbrb/internal/strategy"
)

const (
	minioEndpoint  = "http://127.0.0.1:9000"
	minioAccessKey = "admin"
	minioSecretKey = "password"
	minioBucket    = "dbrb-test"
	minioRegion    = "us-east-1"
)

func newMinIO(t *testing.T) *remote.S3 {
	t.Helper()

	client := http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(minioEndpoint + "/minio/health/live")
	if err != nil {
		t.Skipf("MinIO not reachable at %s: %v", minioEndpoint, err)
	}
	resp.Body.Close()

	t.Setenv("AWS_ACCESS_KEY_ID", minioAccessKey)
	t.Setenv("AWS_SECRET_ACCESS_KEY", minioSecretKey)

	store, err := remote.NewS3(context.Background(), minioRegion, "e2e", minioEndpoint, types.StorageClassStandard, 3)
	require.NoError(t, err)
	return store
}

func TestSegmentedUploadToMinIO(t *testing.T) {
	ctx := context.Background()
	store := newMinIO(t)
	require.NoError(t, store.PutContainer(ctx, minioBucket))
	require.NoError(t, store.VerifyCredentials(ctx, minioBucket))

	st := storage.New(store, storage.Options{Container: minioBucket, SegmentMaxSize: 1 << 20, ChunkSize: 64 * 1024})
	data := bytes.Repeat([]byte("dbrb"), 700_000)
	name := uuid.NewString() + ".gz.enc"

	res, err := st.Save(ctx, name, bytes.NewReader(data), storage.SaveOptions{Zipped: true, Cipher: "openssl"})
	require.NoError(t, err)
	require.True(t, res.Success, res.Note)
	assert.Equal(t, 3, res.Segments)
	assert.Equal(t, minioEndpoint+"/"+minioBucket+"/"+name, res.Location)

	ds, err := st.Load(ctx, res.Location, true, res.Checksum)
	require.NoError(t, err)
	defer ds.Close()

	got, err := io.ReadAll(ds)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestAgentRoundTripMinIO(t *testing.T) {
	ctx := context.Background()
	store := newMinIO(t)

	reg := strategy.NewRegistry()
	reg.RegisterBackup("Seq", func(p strategy.Params) (*runner.Runner, error) {
		return runner.New("Seq", p.Filename, "seq 1 200000", "", p.Options)
	})
	reg.RegisterRestore("Seq", func(p strategy.Params) (*runner.RestoreRunner, error) {
		return runner.NewRestore("Seq", p.RestoreLocation, "cat > "+filepath.Join(p.RestoreLocation, "seq.txt"), nil, p.Options)
	})

	st := storage.New(store, storage.Options{Container: minioBucket, SegmentMaxSize: 256 * 1024})
	opts := runner.Options{Compress: true, Cipher: runner.CipherAge, Passphrase: "e2e-passphrase", WorkFactor: 10}
	agent := backup.NewAgent(reg, st, backup.LogReporter{}, strategy.Params{DataDir: t.TempDir(), Options: opts})

	job := backup.NewJob(uuid.NewString(), "Seq")
	require.NoError(t, agent.ExecuteBackup(ctx, job))
	require.Equal(t, backup.StateCompleted, job.State)

	target := t.TempDir()
	require.NoError(t, agent.ExecuteRestore(ctx, job, target))

	data, err := os.ReadFile(filepath.Join(target, "seq.txt"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("1\n2\n3\n")))
	assert.True(t, bytes.HasSuffix(data, []byte("200000\n")))
}
