// Package catalog implements the Variable Catalog: a static registry mapping
// canonical simulator variable names to a dense index, a group tag, and a
// storage offset within the Snapshot Store's shared region.
package catalog

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// ArrayBaseOffset is the fixed byte offset in the shared region where the
// scalar array begins, immediately after the Header (see internal/snapshot).
const ArrayBaseOffset = 24

// LayoutVersion is bumped whenever the on-disk layout descriptor's shape
// changes incompatibly.
const LayoutVersion = 1

// Catalog is the immutable, dense variable registry built once at startup.
type Catalog struct {
	byName  map[string]*CanonicalVariable
	byIndex []*CanonicalVariable

	stringSlots int
	generation  atomic.Uint32
}

// New builds a Catalog from a list of variable specs, assigning dense
// indexes and storage offsets in input order.
func New(specs []variableSpec) (*Catalog, error) {
	c := &Catalog{
		byName:  make(map[string]*CanonicalVariable, len(specs)),
		byIndex: make([]*CanonicalVariable, 0, len(specs)),
	}

	for i, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("catalog: entry %d has empty name", i)
		}
		if _, dup := c.byName[spec.Name]; dup {
			return nil, fmt.Errorf("catalog: duplicate variable name %q", spec.Name)
		}

		kind := Kind(spec.Kind)
		if kind != KindScalar && kind != KindString {
			return nil, fmt.Errorf("catalog: variable %q has unknown kind %q", spec.Name, spec.Kind)
		}

		v := &CanonicalVariable{
			Index:         uint32(i),
			Group:         Group(spec.Group),
			CanonicalName: spec.Name,
			Kind:          kind,
		}

		if kind == KindScalar {
			v.StorageOffset = ArrayBaseOffset + v.Index*strideBytes
		} else {
			v.StringSlot = c.stringSlots
			c.stringSlots++
		}

		if spec.Min != nil && spec.Max != nil {
			v.HasRange = true
			v.Min = *spec.Min
			v.Max = *spec.Max
		}

		c.byName[spec.Name] = v
		c.byIndex = append(c.byIndex, v)
	}

	c.generation.Store(1)
	return c, nil
}

// LoadDefault builds a Catalog from the embedded default variable list.
func LoadDefault() (*Catalog, error) {
	data, err := defaultFS.ReadFile(defaultVariablesPath)
	if err != nil {
		return nil, fmt.Errorf("catalog: read embedded variables: %w", err)
	}
	return loadFromJSON(data)
}

// LoadFromFile builds a Catalog from an external JSON file, replacing the
// embedded default entirely.
func LoadFromFile(path string) (*Catalog, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return loadFromJSON(data)
}

func loadFromJSON(data []byte) (*Catalog, error) {
	var specs []variableSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("catalog: parse variable list: %w", err)
	}
	return New(specs)
}

// Count returns the number of variables in the catalog (N in §3/§4.1).
func (c *Catalog) Count() int {
	return len(c.byIndex)
}

// StringSlots returns the number of distinct string-kind variables, i.e. the
// number of fixed-width slots the Snapshot Store's string pool must reserve.
func (c *Catalog) StringSlots() int {
	return c.stringSlots
}

// ResolveByName looks up a variable by its canonical dotted name.
func (c *Catalog) ResolveByName(name string) (*CanonicalVariable, error) {
	v, ok := c.byName[name]
	if !ok {
		return nil, ErrUnknown
	}
	return v, nil
}

// ResolveByIndex looks up a variable by its dense index.
func (c *Catalog) ResolveByIndex(index uint32) (*CanonicalVariable, error) {
	if int(index) >= len(c.byIndex) {
		return nil, ErrOutOfRange
	}
	return c.byIndex[index], nil
}

// ResolveScalarByIndex is like ResolveByIndex but fails with ErrTypeMismatch
// if the variable at that index is not scalar-kind.
func (c *Catalog) ResolveScalarByIndex(index uint32) (*CanonicalVariable, error) {
	v, err := c.ResolveByIndex(index)
	if err != nil {
		return nil, err
	}
	if v.Kind != KindScalar {
		return nil, ErrTypeMismatch
	}
	return v, nil
}

// Clamp clamps value to the variable's documented range, if it has one. The
// second return indicates whether clamping changed the value.
func (c *CanonicalVariable) Clamp(value float64) (float64, bool) {
	if !c.HasRange {
		return value, false
	}
	switch {
	case value < c.Min:
		return c.Min, true
	case value > c.Max:
		return c.Max, true
	default:
		return value, false
	}
}

// Variables returns the full dense list of variables in index order.
func (c *Catalog) Variables() []*CanonicalVariable {
	return c.byIndex
}

// Generation reports the catalog's generation number. New sets it to 1 and
// nothing in this module changes it afterwards; within one process lifetime
// the catalog itself never mutates per §4.1.
func (c *Catalog) Generation() uint32 {
	return c.generation.Load()
}

// layoutDescriptor is the JSON document emitted by EmitLayoutDescriptor.
type layoutDescriptor struct {
	LayoutVersion   uint32                   `json:"layout_version"`
	ArrayBaseOffset uint32                   `json:"array_base_offset"`
	StrideBytes     uint32                   `json:"stride_bytes"`
	Count           uint32                   `json:"count"`
	Variables       []layoutDescriptorEntry  `json:"variables"`
}

type layoutDescriptorEntry struct {
	Index  uint32 `json:"index"`
	Name   string `json:"name"`
	Group  string `json:"group"`
	Offset uint32 `json:"offset"`
}

// EmitLayoutDescriptor returns the JSON layout descriptor document described
// in §4.1/§6, deterministically ordered by index.
func (c *Catalog) EmitLayoutDescriptor() ([]byte, error) {
	desc := layoutDescriptor{
		LayoutVersion:   LayoutVersion,
		ArrayBaseOffset: ArrayBaseOffset,
		StrideBytes:     strideBytes,
		Count:           uint32(len(c.byIndex)),
		Variables:       make([]layoutDescriptorEntry, len(c.byIndex)),
	}
	for i, v := range c.byIndex {
		desc.Variables[i] = layoutDescriptorEntry{
			Index:  v.Index,
			Name:   v.CanonicalName,
			Group:  string(v.Group),
			Offset: v.StorageOffset,
		}
	}
	return json.MarshalIndent(desc, "", "  ")
}
