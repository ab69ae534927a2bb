package codec

import (
	"reflect"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	records := []Record{
		{ID: HashID("Aircraft.Altitude"), Kind: KindF64, F64: 1066.8},
		{ID: HashID("Aircraft.Position"), Kind: KindV2, V2: [2]float64{51.5, -0.12}},
		{ID: HashID("Controls.Trim"), Kind: KindV3, V3: [3]float64{1, 2, 3}},
		{ID: HashID("Autopilot.Mode"), Kind: KindInt, Int: 42},
		{ID: HashID("Aircraft.Name"), Kind: KindString, Str: "Cessna 172"},
		{ID: HashID("Aircraft.ICAO"), Kind: KindString8, Str: "C172"},
		{ID: HashID("Heartbeat"), Kind: KindNone},
	}

	buf := EncodeAll(records)
	decoded, err := Decode(buf, len(records))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(records, decoded) {
		t.Fatalf("round trip mismatch:\n  want %+v\n  got  %+v", records, decoded)
	}
}

func TestDecodeMalformedTruncatedHeader(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}, 1); err != ErrMalformedFrame {
		t.Fatalf("err = %v, want ErrMalformedFrame", err)
	}
}

func TestDecodeMalformedPayloadTooShort(t *testing.T) {
	records := []Record{{ID: 1, Kind: KindF64, F64: 1.0}}
	buf := EncodeAll(records)
	if _, err := Decode(buf[:len(buf)-4], 1); err != ErrMalformedFrame {
		t.Fatalf("err = %v, want ErrMalformedFrame", err)
	}
}

func TestEncodeBoundedTruncatesAndReportsDropped(t *testing.T) {
	records := make([]Record, 100)
	for i := range records {
		records[i] = Record{ID: uint64(i), Kind: KindF64, F64: float64(i)}
	}

	buf := make([]byte, 64)
	written, count, err := EncodeBounded(records, buf, 64)
	if written > 64 {
		t.Fatalf("written = %d, must be <= 64", written)
	}
	if count == 0 || count >= len(records) {
		t.Fatalf("count = %d, want a partial count", count)
	}

	var trunc *OutputTruncated
	if err == nil {
		t.Fatal("expected OutputTruncated error")
	}
	if te, ok := err.(*OutputTruncated); !ok {
		t.Fatalf("err type = %T, want *OutputTruncated", err)
	} else {
		trunc = te
	}
	if trunc.Dropped != len(records)-count {
		t.Fatalf("Dropped = %d, want %d", trunc.Dropped, len(records)-count)
	}

	// The written prefix must itself decode as a valid record sequence.
	decoded, err := Decode(buf[:written], count)
	if err != nil {
		t.Fatalf("written prefix did not decode: %v", err)
	}
	if len(decoded) != count {
		t.Fatalf("decoded %d records, want %d", len(decoded), count)
	}
}

func TestHashIDStableAndDistinct(t *testing.T) {
	a := HashID("Aircraft.Altitude")
	b := HashID("Aircraft.Altitude")
	if a != b {
		t.Fatal("HashID is not stable across calls")
	}
	if a == HashID("Controls.Throttle") {
		t.Fatal("HashID collided on distinct names (extremely unlikely, check implementation)")
	}
}
