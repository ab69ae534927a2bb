package codec

import (
	"encoding/binary"
	"math"
)

const (
	recordHeaderBytes = 9 // 8-byte id + 1-byte kind
	string8Width      = 8
)

// Decode parses count records from buf, an opaque length-prefixed byte
// stream, per the wire format in §4.2. It fails with ErrMalformedFrame if
// the stream is truncated or a record's declared length exceeds the
// remaining buffer.
func Decode(buf []byte, count int) ([]Record, error) {
	records := make([]Record, 0, count)
	offset := 0

	for i := 0; i < count; i++ {
		if offset+recordHeaderBytes > len(buf) {
			return nil, ErrMalformedFrame
		}

		id := binary.LittleEndian.Uint64(buf[offset:])
		kind := RecordKind(buf[offset+8])
		offset += recordHeaderBytes

		rec := Record{ID: id, Kind: kind}

		switch kind {
		case KindNone:
			// no payload

		case KindInt:
			if offset+8 > len(buf) {
				return nil, ErrMalformedFrame
			}
			rec.Int = int64(binary.LittleEndian.Uint64(buf[offset:]))
			offset += 8

		case KindF64:
			if offset+8 > len(buf) {
				return nil, ErrMalformedFrame
			}
			rec.F64 = math.Float64frombits(binary.LittleEndian.Uint64(buf[offset:]))
			offset += 8

		case KindV2:
			if offset+16 > len(buf) {
				return nil, ErrMalformedFrame
			}
			rec.V2[0] = math.Float64frombits(binary.LittleEndian.Uint64(buf[offset:]))
			rec.V2[1] = math.Float64frombits(binary.LittleEndian.Uint64(buf[offset+8:]))
			offset += 16

		case KindV3:
			if offset+24 > len(buf) {
				return nil, ErrMalformedFrame
			}
			rec.V3[0] = math.Float64frombits(binary.LittleEndian.Uint64(buf[offset:]))
			rec.V3[1] = math.Float64frombits(binary.LittleEndian.Uint64(buf[offset+8:]))
			rec.V3[2] = math.Float64frombits(binary.LittleEndian.Uint64(buf[offset+16:]))
			offset += 24

		case KindString:
			if offset+2 > len(buf) {
				return nil, ErrMalformedFrame
			}
			length := int(binary.LittleEndian.Uint16(buf[offset:]))
			offset += 2
			if offset+length > len(buf) {
				return nil, ErrMalformedFrame
			}
			rec.Str = string(buf[offset : offset+length])
			offset += length

		case KindString8:
			if offset+string8Width > len(buf) {
				return nil, ErrMalformedFrame
			}
			rec.Str = nulTerminatedString(buf[offset : offset+string8Width])
			offset += string8Width

		default:
			return nil, ErrMalformedFrame
		}

		records = append(records, rec)
	}

	return records, nil
}

func nulTerminatedString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
