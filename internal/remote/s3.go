package remote

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"dbrb/internal/checksum"
	"dbrb/internal/config"
)

// S3 maps containers to buckets and objects to keys under prefix.
type S3 struct {
	client       *s3.Client
	uploader     *manager.Uploader
	partSize     int64
	region       string
	endpoint     string
	prefix       string
	storageClass types.StorageClass
}

var _ ObjectStore = (*S3)(nil)

func NewS3(ctx context.Context, region, prefix, endpoint string, storageClass types.StorageClass, maxRetryAttempts int) (*S3, error) {
	var configOpts []func(*awsconfig.LoadOptions) error
	configOpts = append(configOpts, awsconfig.WithRegion(region))

	if maxRetryAttempts > 0 {
		configOpts = append(configOpts,
			awsconfig.WithRetryMaxAttempts(maxRetryAttempts),
			awsconfig.WithRetryMode(aws.RetryModeStandard),
		)
		slog.Debug("Configured S3 retry strategy", "mode", "standard", "maxAttempts", maxRetryAttempts)
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if endpoint != "" {
		if accessKey := os.Getenv("AWS_ACCESS_KEY_ID"); accessKey != "" {
			if secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY"); secretKey != "" {
				cfg.Credentials = credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")
			}
		}
	}

	var client *s3.Client
	if endpoint != "" {
		client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
		slog.Info("S3 client initialized with custom endpoint", "endpoint", endpoint)
	} else {
		client = s3.NewFromConfig(cfg)
	}

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = config.S3PartSize
		u.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenSupported
	})

	if storageClass == "" {
		storageClass = types.StorageClassStandard
	}
	if err := ValidateStorageClass(string(storageClass)); err != nil {
		return nil, err
	}

	return &S3{
		client:       client,
		uploader:     uploader,
		partSize:     uploader.PartSize,
		region:       region,
		endpoint:     endpoint,
		prefix:       prefix,
		storageClass: storageClass,
	}, nil
}

func (s *S3) key(name string) string {
	return path.Join(s.prefix, name)
}

func (s *S3) BaseURL() string {
	if s.endpoint != "" {
		return s.endpoint
	}
	return fmt.Sprintf("https://s3.%s.amazonaws.com", s.region)
}

func (s *S3) PutContainer(ctx context.Context, container string) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(container)}); err == nil {
		return nil
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(container)}
	if s.region != "" && s.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}

	_, err := s.client.CreateBucket(ctx, input)
	var owned *types.BucketAlreadyOwnedByYou
	if err != nil && !errors.As(err, &owned) {
		return fmt.Errorf("failed to create bucket %s: %w", container, err)
	}
	slog.Info("Ensured S3 bucket", "bucket", container)
	return nil
}

// PutObject uploads body and returns the BLAKE3 of the stored bytes once the
// SHA-256 checksum S3 keeps for the object confirms them. When S3 reports a
// different checksum that value is returned instead, prefixed "sha256:".
func (s *S3) PutObject(ctx context.Context, container, name string, body io.Reader, metadata map[string]string) (string, error) {
	h := checksum.New()
	digest := newPartDigest(s.partSize)
	counter := &countingReader{r: io.TeeReader(body, io.MultiWriter(h, digest))}
	key := s.key(name)

	input := &s3.PutObjectInput{
		Bucket:            aws.String(container),
		Key:               aws.String(key),
		Body:              counter,
		StorageClass:      s.storageClass,
		Metadata:          metadata,
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
	}

	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	output, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket:       aws.String(container),
		Key:          aws.String(key),
		ChecksumMode: types.ChecksumModeEnabled,
	})
	if err != nil {
		return "", fmt.Errorf("failed to head uploaded object %s: %w", key, err)
	}
	if size := aws.ToInt64(output.ContentLength); size != counter.n {
		return "", fmt.Errorf("uploaded object %s has %d bytes, sent %d", key, size, counter.n)
	}

	reported := aws.ToString(output.ChecksumSHA256)
	switch {
	case reported == "":
		slog.Warn("S3 did not report a SHA-256 checksum, relying on size", "bucket", container, "key", key)
	case !digest.Matches(reported):
		slog.Error("S3 checksum does not match uploaded bytes", "bucket", container, "key", key, "sha256", reported)
		return "sha256:" + reported, nil
	}

	slog.Debug("Uploaded to S3", "bucket", container, "key", key, "bytes", counter.n, "storageClass", s.storageClass)
	return checksum.Hex(h), nil
}

func (s *S3) HeadObject(ctx context.Context, container, name string) (*ObjectInfo, error) {
	key := s.key(name)

	output, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, container, key)
		}
		return nil, fmt.Errorf("failed to head object %s: %w", key, err)
	}

	info := &ObjectInfo{Metadata: output.Metadata}
	if output.ContentLength != nil {
		info.Size = *output.ContentLength
	}
	if output.Metadata != nil {
		info.Checksum = output.Metadata[checksum.MetadataKey]
	}
	return info, nil
}

func (s *S3) GetObject(ctx context.Context, container, name string) (io.ReadCloser, error) {
	key := s.key(name)

	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, container, key)
		}
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	return output.Body, nil
}

// VerifyCredentials probes the container. A missing bucket still proves the
// credentials work; PutContainer creates it on the first backup.
func (s *S3) VerifyCredentials(ctx context.Context, container string) error {
	slog.Info("Verifying AWS credentials and bucket access", "bucket", container)

	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(container),
	})
	var nf *types.NotFound
	if err != nil && !errors.As(err, &nf) {
		return fmt.Errorf("failed to verify AWS credentials or bucket access: %w", err)
	}

	slog.Info("AWS credentials verified successfully", "bucket", container)
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// partDigest computes SHA-256 the way S3 reports it: over the whole object
// for single-part uploads and, for multipart uploads, over the concatenated
// part digests followed by "-<parts>".
type partDigest struct {
	partSize int64
	full     hash.Hash
	part     hash.Hash
	partLen  int64
	parts    [][]byte
}

func newPartDigest(partSize int64) *partDigest {
	return &partDigest{partSize: partSize, full: sha256.New(), part: sha256.New()}
}

func (d *partDigest) Write(p []byte) (int, error) {
	n := len(p)
	d.full.Write(p)
	for len(p) > 0 {
		chunk := p
		if room := d.partSize - d.partLen; int64(len(chunk)) > room {
			chunk = p[:room]
		}
		d.part.Write(chunk)
		d.partLen += int64(len(chunk))
		p = p[len(chunk):]
		if d.partLen == d.partSize {
			d.parts = append(d.parts, d.part.Sum(nil))
			d.part.Reset()
			d.partLen = 0
		}
	}
	return n, nil
}

// Matches reports whether reported, a base64 checksum from S3, describes the
// bytes written so far.
func (d *partDigest) Matches(reported string) bool {
	sum, count, multipart := strings.Cut(reported, "-")

	parts := d.parts
	if d.partLen > 0 {
		parts = append(parts[:len(parts):len(parts)], d.part.Sum(nil))
	}
	if multipart && count != strconv.Itoa(len(parts)) {
		return false
	}
	if !multipart && sum == base64.StdEncoding.EncodeToString(d.full.Sum(nil)) {
		return true
	}
	if len(parts) == 0 {
		return false
	}

	composite := sha256.New()
	for _, p := range parts {
		composite.Write(p)
	}
	return sum == base64.StdEncoding.EncodeToString(composite.Sum(nil))
}
