// Package inscription turns raw NFT mint records into ordered inscription
// candidates.
package inscription

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// LocatorPrefix is the only content locator scheme the indexer recognizes:
// an HCS-1 file stored on a consensus topic.
const LocatorPrefix = "hcs://1/"

// hexMarker prefixes bytea values encoded by the ledger index.
const hexMarker = `\x`

var ErrInvalidLocator = errors.New("invalid content locator")

// Locator identifies the topic holding an inscription's chunked content.
type Locator struct {
	TopicID string
	Shard   uint64
	Realm   uint64
	Num     uint64
}

func (l Locator) String() string {
	return LocatorPrefix + l.TopicID
}

// EntityID encodes the topic the way the ledger index keys entities.
func (l Locator) EntityID() int64 {
	return int64(l.Shard<<48 | l.Realm<<32 | l.Num)
}

// ParseLocator parses "hcs://1/<shard>.<realm>.<num>". Anything else,
// including trailing path segments, is rejected.
func ParseLocator(s string) (Locator, error) {
	if !strings.HasPrefix(s, LocatorPrefix) {
		return Locator{}, fmt.Errorf("%w: %q", ErrInvalidLocator, s)
	}
	id := strings.TrimPrefix(s, LocatorPrefix)
	parts := strings.Split(id, ".")
	if len(parts) != 3 {
		return Locator{}, fmt.Errorf("%w: topic %q", ErrInvalidLocator, id)
	}
	var nums [3]uint64
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return Locator{}, fmt.Errorf("%w: topic %q", ErrInvalidLocator, id)
		}
		nums[i] = n
	}
	if nums[0] >= 1<<15 || nums[1] >= 1<<16 || nums[2] >= 1<<32 {
		return Locator{}, fmt.Errorf("%w: topic %q out of range", ErrInvalidLocator, id)
	}
	return Locator{TopicID: id, Shard: nums[0], Realm: nums[1], Num: nums[2]}, nil
}

// NormalizeMetadata decodes hex-escaped binary metadata to text. Plain text
// passes through unchanged.
func NormalizeMetadata(m string) (string, error) {
	if !strings.HasPrefix(m, hexMarker) {
		return m, nil
	}
	b, err := hex.DecodeString(strings.TrimPrefix(m, hexMarker))
	if err != nil {
		return "", fmt.Errorf("could not decode metadata: %w", err)
	}
	return string(b), nil
}
