package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Numeric holds a bigint column as its exact decimal text. The index may
// serialize bigints either as JSON numbers or as strings.
type Numeric string

func (n *Numeric) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*n = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = Numeric(s)
		return nil
	}
	var num json.Number
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&num); err != nil {
		return fmt.Errorf("invalid numeric %s: %w", b, err)
	}
	*n = Numeric(num.String())
	return nil
}
