// Package snapshot implements the Snapshot Store: a named shared-memory
// region holding the latest value of every catalog variable, written once
// per host tick by a single writer and read concurrently by any number of
// transport goroutines without taking a lock on the read path.
//
// Layout (all offsets relative to the start of the mapping):
//
//	[0:8)   timestamp_us  uint64 LE  -- host time of the last commit
//	[8:12)  data_valid    uint32 LE  -- 0 while a write is in progress
//	[12:16) update_counter uint32 LE -- incremented on every commit
//	[16:24) reserved      8 bytes    -- padding to a 24-byte header
//	[24:24+8*MaxVars)      scalar array, one float64 (LE bits) per variable
//	[...)                  string pool, fixed-width NUL-terminated slots
//
// A reader that observes data_valid == 0, or whose update_counter changes
// between reading the header and reading the body, has witnessed a
// concurrent write and must discard the read (§4.1: "torn-read tolerant").
package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/aerofly-bridge/bridge/internal/catalog"
)

const (
	headerBytes = 24

	offTimestampUs    = 0
	offDataValid      = 8
	offUpdateCounter  = 12

	// StringSlotWidth is the fixed width, in bytes, reserved for each
	// string-kind variable's NUL-terminated value in the string pool.
	StringSlotWidth = 128
)

var (
	// ErrUpdating is returned by read accessors when a write is in
	// progress and the caller should retry rather than observe a torn
	// value.
	ErrUpdating = errors.New("snapshot: write in progress")

	// ErrMappingUnavailable is returned when the shared region could not
	// be created or opened.
	ErrMappingUnavailable = errors.New("snapshot: mapping unavailable")

	// ErrOutOfRange is returned when an index or slot falls outside the
	// region's fixed capacity.
	ErrOutOfRange = errors.New("snapshot: index out of range")
)

// Store is the shared-memory-backed snapshot region. A Store has exactly
// one writer (the bridge orchestrator, once per host tick) and any number
// of concurrent readers.
type Store struct {
	mu sync.Mutex // serializes writers; readers never take this lock

	buf []byte

	maxVars     int
	stringSlots int

	cat *catalog.Catalog

	close func() error
}

// Open creates or attaches the named shared region sized for maxVars
// scalars and the catalog's string slots, and returns a Store ready for
// writing. The region size is bounded by maxBytes; ErrMappingUnavailable
// is returned if the catalog's string pool cannot fit.
func Open(name string, cat *catalog.Catalog, maxVars, maxBytes int) (*Store, error) {
	stringSlots := cat.StringSlots()
	size := headerBytes + maxVars*strideBytes + stringSlots*StringSlotWidth
	if size > maxBytes {
		return nil, fmt.Errorf("%w: region size %d exceeds max_bytes %d", ErrMappingUnavailable, size, maxBytes)
	}

	buf, closeFn, err := openMapping(name, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMappingUnavailable, err)
	}

	return &Store{
		buf:         buf,
		maxVars:     maxVars,
		stringSlots: stringSlots,
		cat:         cat,
		close:       closeFn,
	}, nil
}

// OpenAnonymous builds a Store over a plain in-process byte slice, with no
// shared-memory backing. Used by tests and by callers that only need the
// in-process reader/writer semantics without inter-process visibility.
func OpenAnonymous(cat *catalog.Catalog, maxVars, maxBytes int) (*Store, error) {
	stringSlots := cat.StringSlots()
	size := headerBytes + maxVars*strideBytes + stringSlots*StringSlotWidth
	if size > maxBytes {
		return nil, fmt.Errorf("%w: region size %d exceeds max_bytes %d", ErrMappingUnavailable, size, maxBytes)
	}
	return &Store{
		buf:         make([]byte, size),
		maxVars:     maxVars,
		stringSlots: stringSlots,
		cat:         cat,
		close:       func() error { return nil },
	}, nil
}

const strideBytes = 8

// Close unmaps (or releases) the region.
func (s *Store) Close() error {
	return s.close()
}

// BeginWrite clears data_valid, signalling readers that a write is in
// flight. Must be paired with a later Commit.
func (s *Store) BeginWrite() {
	s.mu.Lock()
	s.storeU32(offDataValid, 0)
}

// SetScalar writes value into the scalar array at index. Must be called
// between BeginWrite and Commit.
func (s *Store) SetScalar(index uint32, value float64) error {
	if int(index) >= s.maxVars {
		return ErrOutOfRange
	}
	offset := headerBytes + int(index)*strideBytes
	binary.LittleEndian.PutUint64(s.buf[offset:], math.Float64bits(value))
	return nil
}

// SetString writes value into string slot, truncating to StringSlotWidth-1
// bytes and NUL-terminating. Must be called between BeginWrite and Commit.
func (s *Store) SetString(slot int, value string) error {
	if slot < 0 || slot >= s.stringSlots {
		return ErrOutOfRange
	}
	offset := headerBytes + s.maxVars*strideBytes + slot*StringSlotWidth
	region := s.buf[offset : offset+StringSlotWidth]
	for i := range region {
		region[i] = 0
	}
	n := copy(region[:StringSlotWidth-1], value)
	_ = n
	return nil
}

// Commit stamps timestampUs, increments update_counter, and sets
// data_valid, publishing the write to readers. Releases the writer lock
// taken by BeginWrite.
func (s *Store) Commit(timestampUs uint64) {
	defer s.mu.Unlock()

	binary.LittleEndian.PutUint64(s.buf[offTimestampUs:], timestampUs)

	counter := s.loadU32(offUpdateCounter)
	s.storeU32(offUpdateCounter, counter+1)

	// data_valid is the publication barrier: a reader must not observe a
	// value written above this line. atomic.StoreUint32 provides the
	// release semantics needed on every platform Go supports.
	s.storeU32(offDataValid, 1)
}

func (s *Store) loadU32(offset int) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&s.buf[offset])))
}

func (s *Store) storeU32(offset int, v uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&s.buf[offset])), v)
}
