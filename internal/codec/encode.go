package codec

import (
	"encoding/binary"
	"math"
)

// Encode appends as many of records as fit into buf[:maxBytes], in order,
// never writing beyond maxBytes. It returns the number of bytes written and
// the number of records written. Earlier records are always preserved; a
// record that would overflow the buffer is dropped along with every record
// after it, and the caller should report the drop count via OutputTruncated.
func Encode(records []Record, buf []byte, maxBytes int) (written int, count int) {
	if maxBytes > len(buf) {
		maxBytes = len(buf)
	}

	offset := 0
	for _, rec := range records {
		size := recordSize(rec.Kind, rec.Str)
		if offset+size > maxBytes {
			break
		}
		offset += encodeOne(buf[offset:], rec)
		count++
	}

	return offset, count
}

// EncodeBounded is Encode plus the mandatory backpressure contract from
// §4.2: if any records were dropped, it returns an *OutputTruncated
// reporting how many.
func EncodeBounded(records []Record, buf []byte, maxBytes int) (written int, count int, err error) {
	written, count = Encode(records, buf, maxBytes)
	if dropped := len(records) - count; dropped > 0 {
		err = &OutputTruncated{Dropped: dropped}
	}
	return written, count, err
}

// EncodeAll encodes every record into a freshly sized buffer, used by
// callers (e.g. tests) that don't need the bounded-buffer backpressure
// contract.
func EncodeAll(records []Record) []byte {
	total := 0
	for _, rec := range records {
		total += recordSize(rec.Kind, rec.Str)
	}
	buf := make([]byte, total)
	written, _ := Encode(records, buf, total)
	return buf[:written]
}

func recordSize(kind RecordKind, str string) int {
	switch kind {
	case KindNone:
		return recordHeaderBytes
	case KindInt, KindF64:
		return recordHeaderBytes + 8
	case KindV2:
		return recordHeaderBytes + 16
	case KindV3:
		return recordHeaderBytes + 24
	case KindString:
		return recordHeaderBytes + 2 + len(str)
	case KindString8:
		return recordHeaderBytes + string8Width
	default:
		return recordHeaderBytes
	}
}

func encodeOne(buf []byte, rec Record) int {
	binary.LittleEndian.PutUint64(buf, rec.ID)
	buf[8] = byte(rec.Kind)
	offset := recordHeaderBytes

	switch rec.Kind {
	case KindNone:
		// no payload

	case KindInt:
		binary.LittleEndian.PutUint64(buf[offset:], uint64(rec.Int))
		offset += 8

	case KindF64:
		binary.LittleEndian.PutUint64(buf[offset:], math.Float64bits(rec.F64))
		offset += 8

	case KindV2:
		binary.LittleEndian.PutUint64(buf[offset:], math.Float64bits(rec.V2[0]))
		binary.LittleEndian.PutUint64(buf[offset+8:], math.Float64bits(rec.V2[1]))
		offset += 16

	case KindV3:
		binary.LittleEndian.PutUint64(buf[offset:], math.Float64bits(rec.V3[0]))
		binary.LittleEndian.PutUint64(buf[offset+8:], math.Float64bits(rec.V3[1]))
		binary.LittleEndian.PutUint64(buf[offset+16:], math.Float64bits(rec.V3[2]))
		offset += 24

	case KindString:
		binary.LittleEndian.PutUint16(buf[offset:], uint16(len(rec.Str)))
		offset += 2
		offset += copy(buf[offset:], rec.Str)

	case KindString8:
		var tmp [string8Width]byte
		copy(tmp[:], rec.Str)
		offset += copy(buf[offset:], tmp[:])
	}

	return offset
}
