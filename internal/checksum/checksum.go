// Package checksum provides the single digest function used for segment,
// manifest and whole-stream integrity checks.
package checksum

import (
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// MetadataKey is the object metadata key carrying a stored checksum.
const MetadataKey = "blake3"

// New returns a fresh BLAKE3 hasher.
func New() hash.Hash {
	return blake3.New()
}

// Hex returns the hex encoding of the hasher's current sum.
func Hex(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// Bytes computes the BLAKE3 hash of b.
func Bytes(b []byte) string {
	h := New()
	h.Write(b)
	return Hex(h)
}

// Reader hashes everything remaining in r.
func Reader(r io.Reader) (string, int64, error) {
	h := New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return Hex(h), n, nil
}

// File computes the BLAKE3 hash of a file
func File(filename string) (string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sum, _, err := Reader(f)
	if err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", filename, err)
	}
	return sum, nil
}
