package inscription

import (
	"encoding/json"
)

// Record is one NFT mint as returned by the ledger index. Numeric fields are
// kept as decimal strings; timestamps are nanosecond values that overflow
// float64 precision.
type Record struct {
	TokenID          string
	AccountID        string
	Metadata         string
	CreatedTimestamp string
	SerialNumber     string
}

// Candidate is a Record whose metadata points at an HCS-1 topic.
type Candidate struct {
	Record
	Locator Locator
}

// Inscription is the row persisted for a processed candidate.
type Inscription struct {
	Protocol         string
	Op               string
	TokenID          string
	SerialNumber     string
	TopicID          string
	AccountID        string
	CreatedTimestamp string
	JSON             json.RawMessage
	Image            string
	Mimetype         string
	Number           int64
}

const (
	// Protocol tags inscriptions created by minting an NFT whose metadata
	// references an HCS-1 file.
	Protocol = "hcs-5"
	OpMint   = "mint"
)

// FromCandidate builds the persisted row for a candidate and its content.
func FromCandidate(c Candidate, raw json.RawMessage, image, mimetype string, number int64) Inscription {
	return Inscription{
		Protocol:         Protocol,
		Op:               OpMint,
		TokenID:          c.TokenID,
		SerialNumber:     c.SerialNumber,
		TopicID:          c.Locator.TopicID,
		AccountID:        c.AccountID,
		CreatedTimestamp: c.CreatedTimestamp,
		JSON:             raw,
		Image:            image,
		Mimetype:         mimetype,
		Number:           number,
	}
}
