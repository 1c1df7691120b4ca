package inscription

import (
	"slices"

	"github.com/shopspring/decimal"
)

// Filter keeps the records whose normalized metadata is a valid content
// locator and whose timestamp and serial are decimal numbers.
func Filter(records []Record) []Candidate {
	var out []Candidate
	for _, r := range records {
		meta, err := NormalizeMetadata(r.Metadata)
		if err != nil {
			continue
		}
		loc, err := ParseLocator(meta)
		if err != nil {
			continue
		}
		if _, err := decimal.NewFromString(r.CreatedTimestamp); err != nil {
			continue
		}
		if _, err := decimal.NewFromString(r.SerialNumber); err != nil {
			continue
		}
		r.Metadata = meta
		out = append(out, Candidate{Record: r, Locator: loc})
	}
	return out
}

type keyed struct {
	c      Candidate
	ts     decimal.Decimal
	serial decimal.Decimal
}

// Sort orders candidates by creation timestamp then serial number, both
// compared numerically. The sort is stable, so exact ties keep input order.
// Candidates must have passed Filter.
func Sort(cs []Candidate) {
	ks := make([]keyed, len(cs))
	for i, c := range cs {
		ks[i] = keyed{
			c:      c,
			ts:     decimal.RequireFromString(c.CreatedTimestamp),
			serial: decimal.RequireFromString(c.SerialNumber),
		}
	}
	slices.SortStableFunc(ks, func(a, b keyed) int {
		if n := a.ts.Cmp(b.ts); n != 0 {
			return n
		}
		return a.serial.Cmp(b.serial)
	})
	for i, k := range ks {
		cs[i] = k.c
	}
}

// Dedupe drops every candidate whose locator already appeared earlier in cs.
func Dedupe(cs []Candidate) []Candidate {
	seen := make(map[string]struct{}, len(cs))
	out := cs[:0]
	for _, c := range cs {
		if _, ok := seen[c.Locator.TopicID]; ok {
			continue
		}
		seen[c.Locator.TopicID] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Prepare filters, sorts and dedupes a fetched batch. The result is the
// commit order for sequence number assignment.
func Prepare(records []Record) []Candidate {
	cs := Filter(records)
	Sort(cs)
	return Dedupe(cs)
}
