package payload

import (
	"bytes"
	"math"
	"strconv"

	"github.com/google/uuid"

	"github.com/aerofly-bridge/bridge/internal/catalog"
	"github.com/aerofly-bridge/bridge/internal/snapshot"
)

// Build produces an Artifact in a single pass from a snapshot read view: it
// fills the TCP line and the WebSocket text frame from the same JSON bytes
// (§4.4). broadcastRateHz is the value derived from the configured pacing
// interval (§4.5), not read from the snapshot.
func Build(sequence uint32, view *snapshot.View, cat *catalog.Catalog, broadcastRateHz float64) *Artifact {
	var buf bytes.Buffer
	buf.Grow(64 + cat.Count()*24)

	buf.WriteByte('{')
	writeJSONString(&buf, "schema")
	buf.WriteByte(':')
	writeJSONString(&buf, SchemaName)
	buf.WriteByte(',')

	writeJSONString(&buf, "schema_version")
	buf.WriteByte(':')
	buf.WriteString(strconv.Itoa(SchemaVersion))
	buf.WriteByte(',')

	writeJSONString(&buf, "timestamp")
	buf.WriteByte(':')
	buf.WriteString(strconv.FormatUint(view.TimestampUs, 10))
	buf.WriteByte(',')

	writeJSONString(&buf, "timestamp_unit")
	buf.WriteByte(':')
	writeJSONString(&buf, "microseconds")
	buf.WriteByte(',')

	writeJSONString(&buf, "data_valid")
	buf.WriteByte(':')
	if view.DataValid {
		buf.WriteByte('1')
	} else {
		buf.WriteByte('0')
	}
	buf.WriteByte(',')

	writeJSONString(&buf, "update_counter")
	buf.WriteByte(':')
	buf.WriteString(strconv.FormatUint(uint64(view.UpdateCounter), 10))
	buf.WriteByte(',')

	writeJSONString(&buf, "broadcast_rate_hz")
	buf.WriteByte(':')
	writeFixedFloat(&buf, broadcastRateHz)
	buf.WriteByte(',')

	writeJSONString(&buf, "variables")
	buf.WriteByte(':')
	buf.WriteByte('{')
	first := true
	for _, v := range cat.Variables() {
		if v.Kind != catalog.KindScalar {
			continue
		}
		value, err := view.Scalar(v.Index)
		if err != nil {
			value = 0
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		writeJSONString(&buf, v.CanonicalName)
		buf.WriteByte(':')
		// Non-finite values are emitted as 0 without altering data_valid
		// (§4.4): the stored value is never synthesized to make it finite.
		if math.IsNaN(value) || math.IsInf(value, 0) {
			buf.WriteByte('0')
		} else {
			writeFixedFloat(&buf, value)
		}
	}
	buf.WriteByte('}')
	buf.WriteByte('}')
	buf.WriteByte('\n')

	jsonLine := buf.Bytes()

	art := &Artifact{
		Sequence:      sequence,
		TimestampUs:   view.TimestampUs,
		CorrelationID: uuid.New().String(),
		TCPBytes:      jsonLine,
		WSTextFrame:   encodeTextFrame(jsonLine[:len(jsonLine)-1]),
	}
	return art
}

func writeJSONString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		default:
			buf.WriteRune(r)
		}
	}
	buf.WriteByte('"')
}

// writeFixedFloat appends value as fixed-point with exactly 6 fractional
// digits (§4.4), e.g. "1066.800000".
func writeFixedFloat(buf *bytes.Buffer, value float64) {
	buf.WriteString(strconv.FormatFloat(value, 'f', 6, 64))
}
