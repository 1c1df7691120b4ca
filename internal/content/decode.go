package content

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Defaults for fields missing from the decoded JSON.
const (
	InvalidImage    = "invalid"
	UnknownMimetype = "unknown"
)

// maxDecodedSize bounds the memory a single inscription may decompress to.
const maxDecodedSize = 64 << 20

var (
	ErrDecode    = errors.New("could not decode content")
	ErrNoPayload = fmt.Errorf("%w: no base64 payload marker", ErrDecode)
)

var payloadMarker = []byte("base64,")

// Content is the decoded payload behind a content locator. Raw holds the
// exact decompressed bytes that the memo hash covers.
type Content struct {
	Raw      []byte
	JSON     json.RawMessage
	Image    string
	Mimetype string
}

// Decoder turns a retrieved payload into Content.
type Decoder struct {
	zstd *zstd.Decoder
}

// NewDecoder creates a Decoder. It panics if the zstd options are invalid,
// which would be a programming error.
func NewDecoder() *Decoder {
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(maxDecodedSize),
	)
	if err != nil {
		panic(err)
	}
	return &Decoder{zstd: dec}
}

// Decode strips everything up to the "base64," marker, base64-decodes the
// rest, decompresses it and parses the result as a JSON object.
func (d *Decoder) Decode(payload []byte) (Content, error) {
	idx := bytes.Index(payload, payloadMarker)
	if idx < 0 {
		return Content{}, ErrNoPayload
	}
	encoded := bytes.TrimSpace(payload[idx+len(payloadMarker):])

	compressed, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		return Content{}, fmt.Errorf("%w: base64: %v", ErrDecode, err)
	}
	raw, err := d.zstd.DecodeAll(compressed, nil)
	if err != nil {
		return Content{}, fmt.Errorf("%w: zstd: %v", ErrDecode, err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Content{}, fmt.Errorf("%w: json: %v", ErrDecode, err)
	}
	if fields == nil {
		return Content{}, fmt.Errorf("%w: json: not an object", ErrDecode)
	}
	return Content{
		Raw:      raw,
		JSON:     json.RawMessage(raw),
		Image:    stringField(fields, "image", InvalidImage),
		Mimetype: stringField(fields, "type", UnknownMimetype),
	}, nil
}

func stringField(fields map[string]json.RawMessage, key, fallback string) string {
	v, ok := fields[key]
	if !ok {
		return fallback
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil || s == "" {
		return fallback
	}
	return s
}
