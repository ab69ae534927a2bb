package snapshot

import (
	"encoding/binary"
	"math"
)

// View is a read of the snapshot region, captured by ReadHandle. It is safe
// to read from multiple goroutines. TimestampUs, UpdateCounter and DataValid
// are captured once; Scalar and String read the live shared region, so they
// reflect any commit made after the View was returned.
type View struct {
	TimestampUs    uint64
	UpdateCounter  uint32
	DataValid      bool
	scalars        []byte
	strings        []byte
	maxVars        int
	stringSlots    int
}

// ReadHandle captures a consistent snapshot of the region. It retries up to
// a small bound if it observes a write in progress or a torn update, and
// returns the last observed View with DataValid set accordingly rather
// than blocking the caller.
func (s *Store) ReadHandle() *View {
	const maxAttempts = 4

	var v *View
	for attempt := 0; attempt < maxAttempts; attempt++ {
		before := s.loadU32(offUpdateCounter)
		valid := s.loadU32(offDataValid)

		v = &View{
			TimestampUs:   binary.LittleEndian.Uint64(s.buf[offTimestampUs:]),
			UpdateCounter: before,
			DataValid:     valid != 0,
			maxVars:       s.maxVars,
			stringSlots:   s.stringSlots,
		}

		if !v.DataValid {
			continue
		}

		scalarStart := headerBytes
		scalarEnd := scalarStart + s.maxVars*strideBytes
		stringEnd := scalarEnd + s.stringSlots*StringSlotWidth
		v.scalars = s.buf[scalarStart:scalarEnd]
		v.strings = s.buf[scalarEnd:stringEnd]

		after := s.loadU32(offUpdateCounter)
		if after == before && s.loadU32(offDataValid) != 0 {
			return v
		}
		// A write raced with this read; mark the view invalid and retry.
		v.DataValid = false
		v.scalars, v.strings = nil, nil
	}

	return v
}

// Scalar returns the float64 at index. On a View whose DataValid is false
// it returns ErrUpdating instead of a value.
func (v *View) Scalar(index uint32) (float64, error) {
	if int(index) >= v.maxVars {
		return 0, ErrOutOfRange
	}
	if v.scalars == nil {
		return 0, ErrUpdating
	}
	bits := binary.LittleEndian.Uint64(v.scalars[int(index)*strideBytes:])
	return math.Float64frombits(bits), nil
}

// String returns the NUL-terminated value of string slot.
func (v *View) String(slot int) (string, error) {
	if slot < 0 || slot >= v.stringSlots {
		return "", ErrOutOfRange
	}
	if v.strings == nil {
		return "", ErrUpdating
	}
	region := v.strings[slot*StringSlotWidth : (slot+1)*StringSlotWidth]
	for i, c := range region {
		if c == 0 {
			return string(region[:i]), nil
		}
	}
	return string(region), nil
}
