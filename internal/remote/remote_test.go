package remote

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateStorageClass(t *testing.T) {
	tests := []struct {
		name         string
		storageClass string
		wantErr      bool
		errContains  string
	}{
		{
			name:         "STANDARD is accessible",
			storageClass: "STANDARD",
			wantErr:      false,
		},
		{
			name:         "STANDARD_IA is accessible",
			storageClass: "STANDARD_IA",
			wantErr:      false,
		},
		{
			name:         "INTELLIGENT_TIERING is accessible",
			storageClass: "INTELLIGENT_TIERING",
			wantErr:      false,
		},
		{
			name:         "GLACIER is not accessible",
			storageClass: "GLACIER",
			wantErr:      true,
			errContains:  "not immediately accessible",
		},
		{
			name:         "DEEP_ARCHIVE is not accessible",
			storageClass: "DEEP_ARCHIVE",
			wantErr:      true,
			errContains:  "not immediately accessible",
		},
		{
			name:         "empty string is accessible",
			storageClass: "",
			wantErr:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStorageClass(tt.storageClass)

			if tt.wantErr {
				assert.Error(t, err)
				if tt.errContains != "" {
					assert.Contains(t, err.Error(), tt.errContains)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestS3BaseURL(t *testing.T) {
	ctx := context.Background()

	s, err := NewS3(ctx, "eu-west-1", "", "", "", 3)
	require.NoError(t, err)
	assert.Equal(t, "https://s3.eu-west-1.amazonaws.com", s.BaseURL())
	assert.Equal(t, types.StorageClassStandard, s.storageClass)
	assert.Equal(t, int64(64*1024*1024), s.partSize)

	s, err = NewS3(ctx, "us-east-1", "backups", "http://127.0.0.1:9000", types.StorageClassStandardIa, 0)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9000", s.BaseURL())
	assert.Equal(t, "backups/job_00000000", s.key("job_00000000"))

	_, err = NewS3(ctx, "us-east-1", "", "", types.StorageClassGlacier, 0)
	assert.ErrorContains(t, err, "not immediately accessible")
}

func sha256Base64(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func partSum(b string) []byte {
	sum := sha256.Sum256([]byte(b))
	return sum[:]
}

func TestPartDigest(t *testing.T) {
	tests := []struct {
		name     string
		partSize int64
		writes   []string
		reported string
		want     bool
	}{
		{
			name:     "single part",
			partSize: 16,
			writes:   []string{"hello"},
			reported: sha256Base64([]byte("hello")),
			want:     true,
		},
		{
			name:     "single part mismatch",
			partSize: 16,
			writes:   []string{"hello"},
			reported: sha256Base64([]byte("hellO")),
			want:     false,
		},
		{
			name:     "empty object",
			partSize: 16,
			reported: sha256Base64(),
			want:     true,
		},
		{
			name:     "composite with short last part",
			partSize: 4,
			writes:   []string{"abc", "defgh", "ij"},
			reported: sha256Base64(partSum("abcd"), partSum("efgh"), partSum("ij")) + "-3",
			want:     true,
		},
		{
			name:     "composite exact multiple",
			partSize: 5,
			writes:   []string{"abcdefghij"},
			reported: sha256Base64(partSum("abcde"), partSum("fghij")) + "-2",
			want:     true,
		},
		{
			name:     "composite without part count",
			partSize: 5,
			writes:   []string{"abcdefghij"},
			reported: sha256Base64(partSum("abcde"), partSum("fghij")),
			want:     true,
		},
		{
			name:     "composite wrong part count",
			partSize: 5,
			writes:   []string{"abcdefghij"},
			reported: sha256Base64(partSum("abcde"), partSum("fghij")) + "-3",
			want:     false,
		},
		{
			name:     "composite corrupted part",
			partSize: 5,
			writes:   []string{"abcdefghij"},
			reported: sha256Base64(partSum("abcde"), partSum("fghiJ")) + "-2",
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newPartDigest(tt.partSize)
			for _, w := range tt.writes {
				n, err := d.Write([]byte(w))
				require.NoError(t, err)
				assert.Equal(t, len(w), n)
			}
			assert.Equal(t, tt.want, d.Matches(tt.reported))
		})
	}
}
