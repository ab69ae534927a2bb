package tcpserver

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/aerofly-bridge/bridge/internal/cmdqueue"
	"github.com/aerofly-bridge/bridge/internal/config"
	"github.com/aerofly-bridge/bridge/internal/pacing"
	"github.com/aerofly-bridge/bridge/internal/payload"
)

func TestTrimNewlineStripsCRLFAndLF(t *testing.T) {
	cases := map[string]string{
		"hello\n":   "hello",
		"hello\r\n": "hello",
		"hello":     "hello",
		"\n":        "",
		"":          "",
	}
	for in, want := range cases {
		if got := trimNewline(in); got != want {
			t.Fatalf("trimNewline(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIndexByte(t *testing.T) {
	if got := indexByte([]byte("abc\ndef"), '\n'); got != 3 {
		t.Fatalf("indexByte = %d, want 3", got)
	}
	if got := indexByte([]byte("abcdef"), '\n'); got != -1 {
		t.Fatalf("indexByte = %d, want -1", got)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandleCommandConnEnqueuesNewlineDelimitedLines(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	queue := cmdqueue.New(16)
	s := New(config.TCPConfig{MaxLineBytes: 1024}, config.SessionConfig{}, pacing.NewPacer(20), &payload.Slot{}, queue, discardLogger())

	sess := &commandSession{conn: server}
	s.wg.Add(1)
	go s.handleCommandConn(sess)

	go func() {
		client.Write([]byte(`{"variable":"Controls.Throttle","value":0.5}` + "\n"))
		client.Write([]byte(`{"variable":"Controls.Flaps","value":1}` + "\n"))
		client.Close()
	}()

	deadline := time.After(2 * time.Second)
	for queue.Len() < 2 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for commands, got %d", queue.Len())
		case <-time.After(10 * time.Millisecond):
		}
	}

	lines := queue.DrainAll()
	if len(lines) != 2 {
		t.Fatalf("drained %d lines, want 2", len(lines))
	}
}

func TestReapIdleCommandSessionsClosesStaleSessions(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	queue := cmdqueue.New(16)
	s := New(
		config.TCPConfig{MaxLineBytes: 1024},
		config.SessionConfig{IdleTimeout: 20 * time.Millisecond, ReapInterval: 10 * time.Millisecond},
		pacing.NewPacer(20), &payload.Slot{}, queue, discardLogger(),
	)

	sess := &commandSession{conn: server}
	sess.lastActivityUnix.Store(time.Now().Add(-time.Hour).Unix())
	s.cmdSessions[sess] = struct{}{}

	s.wg.Add(1)
	go s.reapIdleCommandSessions()
	defer close(s.done)

	deadline := time.After(2 * time.Second)
	for {
		s.cmdMu.Lock()
		_, stillPresent := s.cmdSessions[sess]
		s.cmdMu.Unlock()
		if !stillPresent {
			break
		}
		select {
		case <-deadline:
			t.Fatal("idle session was never reaped")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestHandleCommandConnClosesOnOversizedLine(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	queue := cmdqueue.New(16)
	s := New(config.TCPConfig{MaxLineBytes: 8}, config.SessionConfig{}, pacing.NewPacer(20), &payload.Slot{}, queue, discardLogger())

	sess := &commandSession{conn: server}
	done := make(chan struct{})
	s.wg.Add(1)
	go func() {
		s.handleCommandConn(sess)
		close(done)
	}()

	go func() {
		client.Write([]byte("this line is definitely longer than eight bytes and never ends"))
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handleCommandConn did not close the oversized-line session")
	}
}
