// Package memo resolves and parses the topic memo that declares an
// inscription's content hash and encoding.
package memo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hashgraph-online/hcs-improvement-proposals-sub004/internal/inscription"
)

var ErrMalformed = errors.New("malformed memo")

// Info is the parsed form of "<hash>:<compression>:<encoding>".
type Info struct {
	Hash        string
	Compression string
	Encoding    string
}

// Parse splits a memo on colons. Exactly three non-empty fields are required.
func Parse(s string) (Info, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return Info{}, fmt.Errorf("%w: want 3 fields, got %d", ErrMalformed, len(parts))
	}
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return Info{}, fmt.Errorf("%w: empty field in %q", ErrMalformed, s)
		}
	}
	return Info{
		Hash:        strings.TrimSpace(parts[0]),
		Compression: strings.TrimSpace(parts[1]),
		Encoding:    strings.TrimSpace(parts[2]),
	}, nil
}

// Lookup fetches the memo of a ledger entity by its encoded id.
type Lookup interface {
	EntityMemo(ctx context.Context, id int64) (string, error)
}

type Resolver struct {
	lookup Lookup
	log    *slog.Logger
}

func NewResolver(lookup Lookup, log *slog.Logger) *Resolver {
	return &Resolver{lookup: lookup, log: log}
}

// Resolve returns the memo info for the locator's topic, or nil when the
// lookup fails or the memo is missing or malformed. A nil result means the
// record should be skipped; it never aborts a pass.
func (r *Resolver) Resolve(ctx context.Context, loc inscription.Locator) *Info {
	raw, err := r.lookup.EntityMemo(ctx, loc.EntityID())
	if err != nil {
		r.log.Warn("memo lookup failed", "topic", loc.TopicID, "err", err)
		return nil
	}
	if raw == "" {
		r.log.Warn("topic has no memo", "topic", loc.TopicID)
		return nil
	}
	info, err := Parse(raw)
	if err != nil {
		r.log.Warn("could not parse memo", "topic", loc.TopicID, "memo", raw, "err", err)
		return nil
	}
	return &info
}
