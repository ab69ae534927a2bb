package catalog

import "testing"

func specs() []variableSpec {
	max1 := 1.0
	min0 := 0.0
	return []variableSpec{
		{Name: "Aircraft.Altitude", Group: "aircraft", Kind: "scalar"},
		{Name: "Controls.Throttle", Group: "controls", Kind: "scalar", Min: &min0, Max: &max1},
		{Name: "Aircraft.Name", Group: "aircraft", Kind: "string"},
	}
}

func TestNewAssignsDenseIndexesAndOffsets(t *testing.T) {
	c, err := New(specs())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", c.Count())
	}

	v, err := c.ResolveByName("Controls.Throttle")
	if err != nil {
		t.Fatalf("ResolveByName: %v", err)
	}
	if v.Index != 1 {
		t.Fatalf("Index = %d, want 1", v.Index)
	}
	if want := uint32(ArrayBaseOffset + 1*strideBytes); v.StorageOffset != want {
		t.Fatalf("StorageOffset = %d, want %d", v.StorageOffset, want)
	}
}

func TestResolveByNameUnknown(t *testing.T) {
	c, err := New(specs())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.ResolveByName("Nonexistent.Variable"); err != ErrUnknown {
		t.Fatalf("err = %v, want ErrUnknown", err)
	}
}

func TestResolveByIndexOutOfRange(t *testing.T) {
	c, err := New(specs())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.ResolveByIndex(999); err != ErrOutOfRange {
		t.Fatalf("err = %v, want ErrOutOfRange", err)
	}
}

func TestResolveScalarByIndexTypeMismatch(t *testing.T) {
	c, err := New(specs())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stringVar, _ := c.ResolveByName("Aircraft.Name")
	if _, err := c.ResolveScalarByIndex(stringVar.Index); err != ErrTypeMismatch {
		t.Fatalf("err = %v, want ErrTypeMismatch", err)
	}
}

func TestDuplicateNameRejected(t *testing.T) {
	dup := append(specs(), variableSpec{Name: "Aircraft.Altitude", Group: "aircraft", Kind: "scalar"})
	if _, err := New(dup); err == nil {
		t.Fatal("expected error for duplicate name")
	}
}

func TestClampRange(t *testing.T) {
	c, err := New(specs())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	throttle, _ := c.ResolveByName("Controls.Throttle")

	if v, clamped := throttle.Clamp(0.5); clamped || v != 0.5 {
		t.Fatalf("Clamp(0.5) = (%v, %v), want (0.5, false)", v, clamped)
	}
	if v, clamped := throttle.Clamp(1.5); !clamped || v != 1.0 {
		t.Fatalf("Clamp(1.5) = (%v, %v), want (1.0, true)", v, clamped)
	}
	if v, clamped := throttle.Clamp(-0.5); !clamped || v != 0.0 {
		t.Fatalf("Clamp(-0.5) = (%v, %v), want (0.0, true)", v, clamped)
	}
}

func TestEmitLayoutDescriptorDeterministic(t *testing.T) {
	c, err := New(specs())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a, err := c.EmitLayoutDescriptor()
	if err != nil {
		t.Fatalf("EmitLayoutDescriptor: %v", err)
	}
	b, _ := c.EmitLayoutDescriptor()
	if string(a) != string(b) {
		t.Fatal("EmitLayoutDescriptor is not deterministic")
	}
}

func TestLoadDefaultEmbedded(t *testing.T) {
	c, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault: %v", err)
	}
	if c.Count() == 0 {
		t.Fatal("expected a non-empty embedded catalog")
	}
	if _, err := c.ResolveByName("Aircraft.Altitude"); err != nil {
		t.Fatalf("ResolveByName(Aircraft.Altitude): %v", err)
	}
}
