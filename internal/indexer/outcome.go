package indexer

// Status is the result of processing one candidate without aborting.
type Status int

const (
	StatusPersisted Status = iota + 1
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusPersisted:
		return "persisted"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Skip reasons, also used as metric labels.
const (
	ReasonMemoUnavailable    = "memo_unavailable"
	ReasonUnsupportedScheme  = "unsupported_scheme"
	ReasonContentUnavailable = "content_unavailable"
	ReasonDecodeFailed       = "decode_failed"
	ReasonIntegrityMismatch  = "integrity_mismatch"
	ReasonLocatorTaken       = "locator_taken"
)

// Outcome is what happened to a candidate that did not abort the pass.
type Outcome struct {
	Status Status
	Reason string
	Err    error
}

func skip(reason string, err error) Outcome {
	return Outcome{Status: StatusSkipped, Reason: reason, Err: err}
}

// Assign returns the sequence numbers for n sorted candidates, continuing
// densely from base. Numbers are bound to list positions, so a candidate
// skipped later still consumes its number.
func Assign(base int64, n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = base + int64(i) + 1
	}
	return out
}
