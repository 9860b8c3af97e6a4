package snap

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// HashAlgorithm names the digest used for content and aggregate hashes.
const HashAlgorithm = "sha256"

// ContentHash returns the lowercase hex SHA-256 digest of data.
func ContentHash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// ValidHash reports whether s looks like a hash produced by ContentHash.
func ValidHash(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return false
		}
	}
	return true
}

// AggregateHash computes the snapshot-level hash over (path, content hash)
// pairs. Input order does not matter; the pairs are sorted by path first.
// An empty index hashes the empty input.
func AggregateHash(idx *FileIndex) string {
	h := sha256.New()
	for _, r := range idx.Records() {
		io.WriteString(h, r.Path)
		h.Write([]byte{0})
		io.WriteString(h, r.ContentHash)
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
