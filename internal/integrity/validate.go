// Package integrity checks decompressed inscription content against the hash
// declared in its topic memo.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/hashgraph-online/hcs-improvement-proposals-sub004/internal/memo"
)

// The only compression and encoding pair accepted.
const (
	Compression = "zstd"
	Encoding    = "base64"
)

// Digest returns the lowercase hex SHA-256 of content.
func Digest(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Supported reports whether the memo declares the accepted compression and
// encoding pair.
func Supported(info memo.Info) bool {
	return strings.EqualFold(info.Compression, Compression) &&
		strings.EqualFold(info.Encoding, Encoding)
}

// Validate reports whether content matches the memo. Unsupported schemes
// fail before any hashing.
func Validate(info memo.Info, content []byte) bool {
	if !Supported(info) {
		return false
	}
	return normalize(info.Hash) == Digest(content)
}

func normalize(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.TrimPrefix(h, "0x")
}
