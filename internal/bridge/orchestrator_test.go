package bridge

import (
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"

	"github.com/aerofly-bridge/bridge/internal/codec"
	"github.com/aerofly-bridge/bridge/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.TCP.Enabled = false
	cfg.WS.Enabled = false
	cfg.SharedMemory.Name = "aerofly-bridge-test-" + t.Name()
	cfg.LayoutDescriptorPath = ""
	return cfg
}

func mustLoad(t *testing.T, cfg *config.Config) *Orchestrator {
	t.Helper()
	o := New(cfg, discardLogger())
	report, err := o.OnLoad()
	if err != nil {
		t.Fatalf("OnLoad: %v", err)
	}
	if !report.SnapshotReady {
		t.Fatalf("report.SnapshotReady = false")
	}
	t.Cleanup(func() { o.OnUnload() })
	return o
}

// S1: a single scalar update through on_update must be visible in the
// snapshot after the commit that carried it.
func TestOnUpdateAppliesSingleScalarRecord(t *testing.T) {
	o := mustLoad(t, testConfig(t))

	inbound := codec.EncodeAll([]codec.Record{
		{ID: codec.HashID("Aircraft.Altitude"), Kind: codec.KindF64, F64: 12345.5},
	})

	_, _, err := o.OnUpdate(inbound, 1, nil, 0)
	if err != nil {
		t.Fatalf("OnUpdate: %v", err)
	}

	v, err := o.cat.ResolveByName("Aircraft.Altitude")
	if err != nil {
		t.Fatalf("ResolveByName: %v", err)
	}
	view := o.store.ReadHandle()
	got, err := view.Scalar(v.Index)
	if err != nil {
		t.Fatalf("Scalar: %v", err)
	}
	if got != 12345.5 {
		t.Fatalf("Aircraft.Altitude = %v, want 12345.5", got)
	}
}

// Every call to OnUpdate commits exactly once, regardless of whether the
// inbound frame carried any records.
func TestOnUpdateCommitsExactlyOncePerTick(t *testing.T) {
	o := mustLoad(t, testConfig(t))

	startCounter := o.store.ReadHandle().UpdateCounter

	if _, _, err := o.OnUpdate(nil, 0, nil, 0); err != nil {
		t.Fatalf("OnUpdate: %v", err)
	}

	after := o.store.ReadHandle().UpdateCounter
	if after != startCounter+1 {
		t.Fatalf("update_counter = %d, want %d", after, startCounter+1)
	}

	if _, _, err := o.OnUpdate(nil, 0, nil, 0); err != nil {
		t.Fatalf("OnUpdate: %v", err)
	}
	again := o.store.ReadHandle().UpdateCounter
	if again != startCounter+2 {
		t.Fatalf("update_counter = %d, want %d", again, startCounter+2)
	}
}

// S2: last-writer-wins ordering. Two commands for the same variable queued
// before a single drain both appear in the outbound frame (neither the queue
// nor the orchestrator coalesces them); the test confirms they are encoded
// in arrival order, so a client applying them in order ends up at the last
// one, matching the drain-then-apply contract.
func TestOnUpdateDrainsQueuedCommandsInOrder(t *testing.T) {
	o := mustLoad(t, testConfig(t))

	o.queue.TryEnqueue(`{"variable":"Controls.Throttle","value":0.25}`)
	o.queue.TryEnqueue(`{"variable":"Controls.Throttle","value":0.90}`)

	outbound := make([]byte, 4096)
	writtenBytes, writtenCount, err := o.OnUpdate(nil, 0, outbound, len(outbound))
	if err != nil {
		t.Fatalf("OnUpdate: %v", err)
	}
	if writtenCount != 2 {
		t.Fatalf("writtenCount = %d, want 2", writtenCount)
	}

	records, err := codec.Decode(outbound[:writtenBytes], writtenCount)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	want := codec.HashID("Controls.Throttle")
	if records[0].ID != want || records[1].ID != want {
		t.Fatalf("unexpected record ids: %+v", records)
	}
	if records[1].F64 != 0.90 {
		t.Fatalf("final queued value = %v, want 0.90", records[1].F64)
	}
}

// An unknown variable name in a queued command is discarded, not encoded.
func TestOnUpdateDiscardsUnknownCommand(t *testing.T) {
	o := mustLoad(t, testConfig(t))

	o.queue.TryEnqueue(`{"variable":"Nonexistent.Thing","value":1}`)
	o.queue.TryEnqueue(`{"variable":"Controls.Throttle","value":0.5}`)

	outbound := make([]byte, 4096)
	_, writtenCount, err := o.OnUpdate(nil, 0, outbound, len(outbound))
	if err != nil {
		t.Fatalf("OnUpdate: %v", err)
	}
	if writtenCount != 1 {
		t.Fatalf("writtenCount = %d, want 1", writtenCount)
	}
}

// S6: outbound truncation. With a tiny outbound cap, excess commands are
// dropped this tick rather than the tick failing outright.
func TestOnUpdateTruncatesOutboundWhenCapTooSmall(t *testing.T) {
	o := mustLoad(t, testConfig(t))

	for i := 0; i < 20; i++ {
		o.queue.TryEnqueue(`{"variable":"Controls.Throttle","value":0.5}`)
	}

	outbound := make([]byte, 4096)
	writtenBytes, writtenCount, err := o.OnUpdate(nil, 0, outbound, 64)
	if writtenBytes > 64 {
		t.Fatalf("writtenBytes = %d, exceeds cap 64", writtenBytes)
	}
	if writtenCount >= 20 {
		t.Fatalf("writtenCount = %d, expected truncation below 20", writtenCount)
	}
	if err == nil {
		t.Fatalf("expected an OutputTruncated error, got nil")
	}
	if !strings.Contains(err.Error(), "truncat") {
		t.Fatalf("err = %v, want mention of truncation", err)
	}
}

// A malformed inbound frame is discarded wholesale but the tick still
// commits, advancing the timestamp and update_counter.
func TestOnUpdateToleratesMalformedInboundFrame(t *testing.T) {
	o := mustLoad(t, testConfig(t))

	before := o.store.ReadHandle().UpdateCounter
	garbage := []byte{0xFF, 0xFF, 0xFF}

	if _, _, err := o.OnUpdate(garbage, 3, nil, 0); err != nil {
		t.Fatalf("OnUpdate: %v", err)
	}

	after := o.store.ReadHandle().UpdateCounter
	if after != before+1 {
		t.Fatalf("update_counter = %d, want %d", after, before+1)
	}
}

// S5: transport isolation. A port that's already bound to another process
// fails to start without preventing the rest of the bridge from loading.
func TestOnLoadTreatsWSBindFailureAsPartialSuccess(t *testing.T) {
	blocker, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer blocker.Close()

	cfg := testConfig(t)
	cfg.TCP.Enabled = true
	cfg.TCP.DataAddr = "127.0.0.1:0"
	cfg.TCP.CommandAddr = "127.0.0.1:0"
	cfg.WS.Enabled = true
	cfg.WS.Addr = blocker.Addr().String()

	o := New(cfg, discardLogger())
	report, err := o.OnLoad()
	if err != nil {
		t.Fatalf("OnLoad returned a fatal error: %v", err)
	}
	defer o.OnUnload()

	if report.Fatal() {
		t.Fatalf("report.Fatal() = true, want false (snapshot mapping unaffected by transport failure)")
	}
	if !report.TCPDataStarted || !report.TCPCommandStarted {
		t.Fatalf("expected TCP transport to start: %+v", report)
	}
	if report.WSStarted {
		t.Fatalf("expected WS transport to fail to start")
	}
	if report.WSErr == nil {
		t.Fatalf("expected report.WSErr to be set")
	}
	if !report.AnyTransportStarted() {
		t.Fatalf("expected at least one transport to have started")
	}
}

// A declared record count that overruns the inbound buffer is itself a
// malformed frame, not a panic: OnUpdate must absorb it and keep ticking.
func TestOnUpdateAbsorbsOverrunInboundCount(t *testing.T) {
	o := mustLoad(t, testConfig(t))

	if _, _, err := o.OnUpdate([]byte{1, 2, 3}, 1000, nil, 0); err != nil {
		t.Fatalf("OnUpdate: %v", err)
	}
}

func TestOnUpdateBeforeOnLoadReturnsErrNotLoaded(t *testing.T) {
	o := New(testConfig(t), discardLogger())
	if _, _, err := o.OnUpdate(nil, 0, nil, 0); err != ErrNotLoaded {
		t.Fatalf("err = %v, want ErrNotLoaded", err)
	}
}

func TestOnLoadTwiceReturnsErrAlreadyLoaded(t *testing.T) {
	o := mustLoad(t, testConfig(t))
	if _, err := o.OnLoad(); err != ErrAlreadyLoaded {
		t.Fatalf("err = %v, want ErrAlreadyLoaded", err)
	}
}

func TestOnUnloadTwiceReturnsErrNotLoaded(t *testing.T) {
	o := mustLoad(t, testConfig(t))
	if err := o.OnUnload(); err != nil {
		t.Fatalf("first OnUnload: %v", err)
	}
	if err := o.OnUnload(); err != ErrNotLoaded {
		t.Fatalf("err = %v, want ErrNotLoaded", err)
	}
}
