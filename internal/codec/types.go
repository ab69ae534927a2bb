package codec

import "errors"

// RecordKind identifies the payload shape of a Record.
type RecordKind byte

const (
	KindNone    RecordKind = 0
	KindInt     RecordKind = 1
	KindF64     RecordKind = 2
	KindV2      RecordKind = 3
	KindV3      RecordKind = 4
	KindString  RecordKind = 5
	KindString8 RecordKind = 6
)

// Record is a single typed telemetry or command record, as decoded from or
// encoded to the wire framing in §4.2.
type Record struct {
	ID      uint64
	Kind    RecordKind
	Int     int64
	F64     float64
	V2      [2]float64
	V3      [3]float64
	Str     string // used for both KindString and KindString8
}

var ErrMalformedFrame = errors.New("codec: malformed frame")

// OutputTruncated reports that the encoder dropped records because the
// caller-provided buffer was too small. Dropped is always > 0 when returned.
type OutputTruncated struct {
	Dropped int
}

func (e *OutputTruncated) Error() string {
	return "codec: output truncated, dropped records"
}
