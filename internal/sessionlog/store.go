// Package sessionlog implements optional Postgres-backed persistence of
// transport session lifecycle events (open and close), so an
// operator can audit who connected to the bridge and for how long. It is
// entirely optional: a Config with an empty DSN disables persistence, and
// every other package only ever sees a *Store through the narrow Recorder
// interface, never pgx directly.
package sessionlog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aerofly-bridge/bridge/internal/observability"
)

// Recorder is the narrow interface transports depend on, so a disabled
// session log (NopRecorder) and a live Postgres-backed Store are
// interchangeable without a nil check at every call site.
type Recorder interface {
	RecordOpen(ctx context.Context, event OpenEvent) error
	RecordClose(ctx context.Context, event CloseEvent) error
}

// OpenEvent describes a transport session coming up.
type OpenEvent struct {
	SessionID  string
	Transport  string // tcp_data, tcp_command, ws
	RemoteAddr string
	OpenedAt   time.Time
}

// CloseEvent describes a transport session going away.
type CloseEvent struct {
	SessionID     string
	ClosedAt      time.Time
	BytesSent     int64
	BytesReceived int64
	Reason        string // the transports always pass client_disconnect, idle reaps included
}

// NopRecorder discards every event; it's the Recorder used when
// config.PostgresConfig.DSN is empty.
type NopRecorder struct{}

func (NopRecorder) RecordOpen(context.Context, OpenEvent) error   { return nil }
func (NopRecorder) RecordClose(context.Context, CloseEvent) error { return nil }

// Store persists session lifecycle events to Postgres via a pgx connection
// pool, following the same bootstrap-then-ensure-schema shape used
// throughout this codebase's other Postgres-backed stores.
type Store struct {
	pool *pgxpool.Pool
}

// Open creates a connection pool for dsn, pings it, and ensures the
// session_events table exists. Callers should treat a non-nil error as
// fatal only for the session-log feature itself — the bridge as a whole
// runs fine without it (§9: session-log persistence is additive, never a
// load-bearing dependency of on_load).
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sessionlog: DSN is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("sessionlog: create pool: %w", err)
	}

	s := &Store{pool: pool}

	if err := s.pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sessionlog: ping: %w", err)
	}

	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS session_events (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			transport TEXT NOT NULL,
			remote_addr TEXT,
			event TEXT NOT NULL,
			bytes_sent BIGINT NOT NULL DEFAULT 0,
			bytes_received BIGINT NOT NULL DEFAULT 0,
			reason TEXT,
			occurred_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_session_events_session_id ON session_events(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_session_events_occurred_at ON session_events(occurred_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("sessionlog: ensure schema: %w", err)
		}
	}
	return nil
}

// RecordOpen appends an "open" event for a newly accepted session. The
// query result is reported onto whatever span is already active in ctx
// (the transport that called us owns the span; this just annotates it).
func (s *Store) RecordOpen(ctx context.Context, e OpenEvent) error {
	span := observability.SpanFromContext(ctx)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO session_events (session_id, transport, remote_addr, event, occurred_at)
		VALUES ($1, $2, $3, 'open', $4)
	`, e.SessionID, e.Transport, e.RemoteAddr, e.OpenedAt)
	if err != nil {
		observability.SetSpanError(span, err)
		return fmt.Errorf("sessionlog: record open: %w", err)
	}
	observability.SetSpanOK(span)
	return nil
}

// RecordClose appends a "close" event for a session that has ended,
// carrying the byte counters accumulated over its lifetime.
func (s *Store) RecordClose(ctx context.Context, e CloseEvent) error {
	span := observability.SpanFromContext(ctx)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO session_events (session_id, transport, event, bytes_sent, bytes_received, reason, occurred_at)
		VALUES ($1, '', 'close', $2, $3, $4, $5)
	`, e.SessionID, e.BytesSent, e.BytesReceived, e.Reason, e.ClosedAt)
	if err != nil {
		observability.SetSpanError(span, err)
		return fmt.Errorf("sessionlog: record close: %w", err)
	}
	observability.SetSpanOK(span)
	return nil
}

// RecentEvents returns the most recent session events across every
// transport, newest first, bounded by limit (100 when limit <= 0). Nothing
// in this module calls it.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT session_id, transport, remote_addr, event, bytes_sent, bytes_received, reason, occurred_at
		FROM session_events
		ORDER BY occurred_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("sessionlog: recent events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var remoteAddr, reason *string
		if err := rows.Scan(&e.SessionID, &e.Transport, &remoteAddr, &e.Kind, &e.BytesSent, &e.BytesReceived, &reason, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("sessionlog: scan event: %w", err)
		}
		if remoteAddr != nil {
			e.RemoteAddr = *remoteAddr
		}
		if reason != nil {
			e.Reason = *reason
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sessionlog: recent events rows: %w", err)
	}
	return events, nil
}

// Event is a single row from session_events, as returned by RecentEvents.
type Event struct {
	SessionID     string
	Transport     string
	RemoteAddr    string
	Kind          string // open, close
	BytesSent     int64
	BytesReceived int64
	Reason        string
	OccurredAt    time.Time
}
