package payload

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/aerofly-bridge/bridge/internal/catalog"
	"github.com/aerofly-bridge/bridge/internal/snapshot"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	raw := `[
		{"name":"Aircraft.Altitude","group":"aircraft","kind":"scalar"},
		{"name":"Controls.Throttle","group":"controls","kind":"scalar"},
		{"name":"Aircraft.Name","group":"aircraft","kind":"string"}
	]`
	path := filepath.Join(t.TempDir(), "variables.json")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write temp catalog: %v", err)
	}
	cat, err := catalog.LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	return cat
}

func TestBuildProducesWellFormedJSONLine(t *testing.T) {
	cat := testCatalog(t)
	store, err := snapshot.OpenAnonymous(cat, 16, 4096)
	if err != nil {
		t.Fatalf("OpenAnonymous: %v", err)
	}
	defer store.Close()

	alt, _ := cat.ResolveByName("Aircraft.Altitude")
	store.BeginWrite()
	store.SetScalar(alt.Index, 1066.8)
	store.Commit(9999)

	view := store.ReadHandle()
	art := Build(7, view, cat, 50.0)

	if art.TCPBytes[len(art.TCPBytes)-1] != '\n' {
		t.Fatal("TCPBytes does not end with a newline")
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(art.TCPBytes[:len(art.TCPBytes)-1], &decoded); err != nil {
		t.Fatalf("TCPBytes is not valid JSON: %v", err)
	}

	if decoded["schema"] != SchemaName {
		t.Fatalf("schema = %v, want %v", decoded["schema"], SchemaName)
	}
	if decoded["data_valid"].(float64) != 1 {
		t.Fatalf("data_valid = %v, want 1", decoded["data_valid"])
	}
	if decoded["update_counter"].(float64) != 1 {
		t.Fatalf("update_counter = %v, want 1", decoded["update_counter"])
	}

	vars := decoded["variables"].(map[string]interface{})
	if vars["Aircraft.Name"] != nil {
		t.Fatal("variables should not include string-kind variables")
	}
	if vars["Aircraft.Altitude"].(float64) != 1066.8 {
		t.Fatalf("Aircraft.Altitude = %v, want 1066.8", vars["Aircraft.Altitude"])
	}
}

func TestBuildEmitsSixDecimalFixedPoint(t *testing.T) {
	cat := testCatalog(t)
	store, _ := snapshot.OpenAnonymous(cat, 16, 4096)
	defer store.Close()

	alt, _ := cat.ResolveByName("Aircraft.Altitude")
	store.BeginWrite()
	store.SetScalar(alt.Index, 1066.8)
	store.Commit(1)

	view := store.ReadHandle()
	art := Build(1, view, cat, 50.0)

	if !bytes.Contains(art.TCPBytes, []byte(`"Aircraft.Altitude":1066.800000`)) {
		t.Fatalf("expected 6-decimal fixed point in payload, got: %s", art.TCPBytes)
	}
}

func TestBuildEmitsZeroForNonFiniteWithoutAlteringDataValid(t *testing.T) {
	cat := testCatalog(t)
	store, _ := snapshot.OpenAnonymous(cat, 16, 4096)
	defer store.Close()

	throttle, _ := cat.ResolveByName("Controls.Throttle")
	store.BeginWrite()
	store.SetScalar(throttle.Index, math.NaN())
	store.Commit(1)

	view := store.ReadHandle()
	art := Build(1, view, cat, 50.0)

	var decoded map[string]interface{}
	if err := json.Unmarshal(art.TCPBytes[:len(art.TCPBytes)-1], &decoded); err != nil {
		t.Fatalf("not valid JSON: %v", err)
	}
	if decoded["data_valid"].(float64) != 1 {
		t.Fatal("data_valid must reflect the stored value, not the non-finite variable")
	}
	vars := decoded["variables"].(map[string]interface{})
	if vars["Controls.Throttle"].(float64) != 0 {
		t.Fatalf("non-finite value must be emitted as 0, got %v", vars["Controls.Throttle"])
	}
}

func TestEncodeTextFrameShortAndExtendedLengths(t *testing.T) {
	short := encodeTextFrame(make([]byte, 10))
	if short[0] != wsFinBit|wsOpcodeText || short[1] != 10 {
		t.Fatalf("short frame header = %v", short[:2])
	}

	medium := encodeTextFrame(make([]byte, 200))
	if medium[1] != 126 {
		t.Fatalf("medium frame length byte = %d, want 126", medium[1])
	}

	large := encodeTextFrame(make([]byte, 70000))
	if large[1] != 127 {
		t.Fatalf("large frame length byte = %d, want 127", large[1])
	}
}
