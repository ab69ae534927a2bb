// Package bridge implements the Bridge Orchestrator: the composition root
// that owns every collaborator and drives the three on_load/on_update/
// on_unload operations a host calls once per process lifetime and once per
// tick respectively (§4.8).
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/otel/trace"

	"github.com/aerofly-bridge/bridge/internal/catalog"
	"github.com/aerofly-bridge/bridge/internal/cmdqueue"
	"github.com/aerofly-bridge/bridge/internal/codec"
	"github.com/aerofly-bridge/bridge/internal/config"
	"github.com/aerofly-bridge/bridge/internal/metrics"
	"github.com/aerofly-bridge/bridge/internal/observability"
	"github.com/aerofly-bridge/bridge/internal/pacing"
	"github.com/aerofly-bridge/bridge/internal/payload"
	"github.com/aerofly-bridge/bridge/internal/sessionlog"
	"github.com/aerofly-bridge/bridge/internal/snapshot"
	"github.com/aerofly-bridge/bridge/internal/tcpserver"
	"github.com/aerofly-bridge/bridge/internal/wsserver"
)

// Orchestrator is a single value constructed in OnLoad and torn down in
// OnUnload (§9: "a single Orchestrator value constructed in on_load and
// stored behind a one-time-init cell; entry points are thin shims that
// borrow it").
type Orchestrator struct {
	cfg *config.Config
	log *slog.Logger

	mu     sync.Mutex
	loaded bool

	cat    *catalog.Catalog
	byHash map[uint64]*catalog.CanonicalVariable
	store  *snapshot.Store
	pacer  *pacing.Pacer
	slot   *payload.Slot
	queue  *cmdqueue.Queue

	tcp *tcpserver.Server
	ws  *wsserver.Server

	sessionStore *sessionlog.Store

	sequence      uint32
	updateCounter uint64
}

// New builds an unloaded Orchestrator; call OnLoad before OnUpdate.
func New(cfg *config.Config, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{cfg: cfg, log: log}
}

// OnLoad initializes the catalog, creates the snapshot region, starts every
// transport, and emits the layout descriptor. Partial transport failures
// are tolerated (§4.8); only a failed snapshot mapping is fatal.
func (o *Orchestrator) OnLoad() (report *LoadReport, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.loaded {
		return nil, ErrAlreadyLoaded
	}

	report = &LoadReport{}

	o.cat, err = o.loadCatalog()
	if err != nil {
		return report, fmt.Errorf("%w: %v", ErrMappingUnavailable, err)
	}
	o.indexByHash()

	o.store, err = snapshot.Open(o.cfg.SharedMemory.Name, o.cat, o.cfg.SharedMemory.MaxVars, o.cfg.SharedMemory.MaxBytes)
	if err != nil {
		o.log.Error("snapshot mapping unavailable", "err", err)
		return report, fmt.Errorf("%w: %v", ErrMappingUnavailable, err)
	}
	report.SnapshotReady = true

	o.pacer = pacing.NewPacer(o.cfg.Pacing.IntervalMsClamped())
	o.slot = &payload.Slot{}
	o.queue = cmdqueue.New(o.cfg.CommandQueue.Capacity)
	if o.cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     o.cfg.Redis.Addr,
			Password: o.cfg.Redis.Password,
			DB:       o.cfg.Redis.DB,
		})
		sink := cmdqueue.NewRedisOverflowSink(client, o.cfg.Redis.ListKey)
		o.queue.SetOverflowHandler(sink.Push)
	}

	if o.cfg.Postgres.DSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		store, serr := sessionlog.Open(ctx, o.cfg.Postgres.DSN)
		cancel()
		if serr != nil {
			o.log.Warn("session log persistence unavailable, continuing without it", "err", serr)
		} else {
			o.sessionStore = store
		}
	}

	o.tcp = tcpserver.New(o.cfg.TCP, o.cfg.Session, o.pacer, o.slot, o.queue, o.log)
	if o.sessionStore != nil {
		o.tcp.SetSessionRecorder(o.sessionStore)
	}
	if err := o.tcp.Start(); err != nil {
		report.TCPDataErr = err
		report.TCPCommandErr = err
		o.log.Warn("tcp transport partial start failure", "err", err)
	} else if o.cfg.TCP.Enabled {
		report.TCPDataStarted = true
		report.TCPCommandStarted = true
	}

	o.ws = wsserver.New(o.cfg.WS, o.cfg.Session, o.pacer, o.slot, o.queue, o.log)
	if o.sessionStore != nil {
		o.ws.SetSessionRecorder(o.sessionStore)
	}
	if err := o.ws.Start(); err != nil {
		report.WSErr = err
		o.log.Warn("websocket transport failed to start", "err", err)
	} else if o.cfg.WS.Enabled {
		report.WSStarted = true
	}

	if path := o.cfg.LayoutDescriptorPath; path != "" {
		if werr := o.writeLayoutDescriptor(path); werr != nil {
			o.log.Warn("failed to write layout descriptor", "err", werr)
		} else {
			report.LayoutDescriptorPath = path
		}
	}

	o.loaded = true
	return report, nil
}

func (o *Orchestrator) loadCatalog() (*catalog.Catalog, error) {
	if o.cfg.CatalogPath != "" {
		return catalog.LoadFromFile(o.cfg.CatalogPath)
	}
	return catalog.LoadDefault()
}

func (o *Orchestrator) indexByHash() {
	o.byHash = make(map[uint64]*catalog.CanonicalVariable, o.cat.Count())
	for _, v := range o.cat.Variables() {
		o.byHash[codec.HashID(v.CanonicalName)] = v
	}
}

func (o *Orchestrator) writeLayoutDescriptor(path string) error {
	data, err := o.cat.EmitLayoutDescriptor()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// commandLine is the wire shape of a Command Queue entry (§6).
type commandLine struct {
	Variable string  `json:"variable"`
	Value    float64 `json:"value"`
}

// OnUpdate is the real-time path: decode inbound telemetry, commit the
// snapshot, pace and publish a broadcast artifact, notify transports, and
// drain the command queue into the outbound buffer (§4.8). It never
// suspends or performs I/O other than the snapshot write and outbound
// buffer append.
func (o *Orchestrator) OnUpdate(inbound []byte, inboundCount int, outbound []byte, outboundCap int) (writtenBytes int, writtenCount int, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("on_update recovered from panic", "panic", r)
			err = ErrUpdateFailed
		}
	}()

	if !o.loaded {
		return 0, 0, ErrNotLoaded
	}

	o.updateCounter++
	ctx, span := observability.StartSpan(context.Background(), "bridge.on_update",
		observability.AttrUpdateCounter.Int64(int64(o.updateCounter)),
	)
	defer span.End()

	nowUs := uint64(time.Now().UnixMicro())

	records := o.decodeInbound(ctx, inbound, inboundCount)
	o.commitSnapshot(ctx, records, nowUs)

	if o.pacer.ShouldBroadcast(nowUs) {
		o.broadcast(ctx, nowUs)
	}

	writtenBytes, writtenCount, err = o.drainCommands(ctx, outbound, outboundCap)
	if err != nil {
		observability.SetSpanError(span, err)
	} else {
		observability.SetSpanOK(span)
	}
	return writtenBytes, writtenCount, err
}

// decodeInbound decodes inboundCount records from inbound. A malformed
// frame is discarded wholesale and counted; the tick still proceeds with an
// empty record set so the timestamp and update_counter advance regardless
// (step 2 of §4.8 runs unconditionally, even for an empty frame).
func (o *Orchestrator) decodeInbound(ctx context.Context, inbound []byte, inboundCount int) []codec.Record {
	_, span := observability.StartSpan(ctx, "bridge.on_update.decode",
		observability.AttrPayloadBytes.Int(len(inbound)),
	)
	defer span.End()

	if inboundCount == 0 {
		observability.SetSpanOK(span)
		return nil
	}
	records, err := codec.Decode(inbound, inboundCount)
	if err != nil {
		metrics.Global().RecordCodecMalformed()
		o.log.Debug("malformed inbound frame", "err", err)
		observability.SetSpanError(span, err)
		return nil
	}
	observability.SetSpanOK(span)
	return records
}

// commitSnapshot applies decoded records to the snapshot region and commits
// the new timestamp, unconditionally, so the tick advances even for an
// empty record set.
func (o *Orchestrator) commitSnapshot(ctx context.Context, records []codec.Record, nowUs uint64) {
	_, span := observability.StartSpan(ctx, "bridge.on_update.commit")
	defer span.End()

	o.store.BeginWrite()
	for _, rec := range records {
		v, ok := o.byHash[rec.ID]
		if !ok {
			metrics.Global().RecordCommandUnknown()
			continue
		}
		switch v.Kind {
		case catalog.KindScalar:
			o.store.SetScalar(v.Index, rec.F64)
		case catalog.KindString:
			o.store.SetString(v.StringSlot, rec.Str)
		}
	}
	o.store.Commit(nowUs)
	metrics.Global().RecordSnapshotCommit()
	observability.SetSpanOK(span)
}

// broadcast publishes a new PayloadArtifact and wakes both transports, once
// the pacer decides this tick is due for one.
func (o *Orchestrator) broadcast(ctx context.Context, nowUs uint64) {
	_, span := observability.StartSpan(ctx, "bridge.on_update.broadcast")
	defer span.End()

	view := o.store.ReadHandle()
	o.sequence++
	span.SetAttributes(observability.AttrBroadcastSeq.Int64(int64(o.sequence)))

	art := payload.Build(o.sequence, view, o.cat, o.cfg.Pacing.BroadcastRateHz())
	o.slot.Publish(art)
	o.pacer.MarkBroadcast(nowUs)

	o.tcp.NotifyArtifact()
	o.ws.NotifyArtifact()
	observability.SetSpanOK(span)
}

// drainCommands drains every queued client command, resolves it against the
// catalog (discarding unknowns, clamping out-of-range values), and encodes
// the result into the outbound buffer via the Codec, honoring outboundCap.
func (o *Orchestrator) drainCommands(ctx context.Context, outbound []byte, outboundCap int) (int, int, error) {
	_, span := observability.StartSpan(ctx, "bridge.on_update.drain")
	defer span.End()

	lines := o.queue.DrainAll()
	if len(lines) == 0 {
		observability.SetSpanOK(span)
		return 0, 0, nil
	}

	records := make([]codec.Record, 0, len(lines))
	for _, line := range lines {
		var cmd commandLine
		if jsonErr := json.Unmarshal([]byte(line), &cmd); jsonErr != nil {
			metrics.Global().RecordCodecMalformed()
			continue
		}

		v, resolveErr := o.cat.ResolveByName(cmd.Variable)
		if resolveErr != nil {
			metrics.Global().RecordCommandUnknown()
			span.AddEvent("unknown command variable",
				trace.WithAttributes(observability.AttrVariableName.String(cmd.Variable)))
			continue
		}

		value := cmd.Value
		if clamped, didClamp := v.Clamp(value); didClamp {
			value = clamped
			metrics.Global().RecordCommandClamped()
		}

		records = append(records, codec.Record{
			ID:   codec.HashID(v.CanonicalName),
			Kind: codec.KindF64,
			F64:  value,
		})
	}

	span.SetAttributes(observability.AttrCommandCount.Int(len(records)))

	written, count, encErr := codec.EncodeBounded(records, outbound, outboundCap)
	if encErr != nil {
		observability.SetSpanError(span, encErr)
	} else {
		observability.SetSpanOK(span)
	}
	return written, count, encErr
}

// OnUnload drains the command queue, stops transports in reverse start
// order with a bounded join timeout, and releases the snapshot mapping.
func (o *Orchestrator) OnUnload() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.loaded {
		return ErrNotLoaded
	}

	const shutdownTimeout = 2 * time.Second

	if o.ws != nil {
		o.ws.Stop(shutdownTimeout)
	}
	if o.tcp != nil {
		o.tcp.Stop(shutdownTimeout)
	}
	if o.queue != nil {
		o.queue.DrainAll()
	}
	if o.store != nil {
		o.store.Close()
	}
	if o.sessionStore != nil {
		o.sessionStore.Close()
	}

	o.loaded = false
	return nil
}
