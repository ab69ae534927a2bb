package wsserver

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/aerofly-bridge/bridge/internal/cmdqueue"
	"github.com/aerofly-bridge/bridge/internal/config"
	"github.com/aerofly-bridge/bridge/internal/pacing"
	"github.com/aerofly-bridge/bridge/internal/payload"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func randomKey(t *testing.T) string {
	t.Helper()
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func TestHandshakeUpgradesAndEnqueuesCommand(t *testing.T) {
	queue := cmdqueue.New(16)
	slot := &payload.Slot{}
	s := New(config.WSConfig{Enabled: true, Addr: "127.0.0.1:0", Path: "/"}, config.SessionConfig{}, pacing.NewPacer(20), slot, queue, discardLogger())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s.listener = ln
	s.httpServer = &http.Server{Handler: http.HandlerFunc(s.handleUpgrade)}
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.httpServer.Serve(ln)
	}()
	go s.broadcastLoop()
	defer s.Stop(2 * time.Second)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	key := randomKey(t)
	req := fmt.Sprintf(
		"GET / HTTP/1.1\r\nHost: test\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Key: %s\r\nSec-WebSocket-Version: 13\r\n\r\n",
		key,
	)
	if _, err := conn.Write([]byte(req)); err != nil {
		t.Fatalf("write handshake: %v", err)
	}

	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	if !strings.Contains(statusLine, "101") {
		t.Fatalf("status line = %q, want 101", statusLine)
	}

	var acceptKey string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read headers: %v", err)
		}
		if line == "\r\n" {
			break
		}
		if strings.HasPrefix(strings.ToLower(line), "sec-websocket-accept:") {
			acceptKey = strings.TrimSpace(strings.SplitN(line, ":", 2)[1])
		}
	}
	if acceptKey != computeAcceptKey(key) {
		t.Fatalf("accept key = %q, want %q", acceptKey, computeAcceptKey(key))
	}

	cmdFrame := buildMaskedClientFrame(opText, []byte(`{"variable":"Controls.Throttle","value":0.75}`))
	if _, err := conn.Write(cmdFrame); err != nil {
		t.Fatalf("write command frame: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for queue.Len() < 1 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for command to reach the queue")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestReapIdleSessionsClosesStaleSessions(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	queue := cmdqueue.New(16)
	s := New(
		config.WSConfig{Enabled: true, Path: "/"},
		config.SessionConfig{IdleTimeout: 20 * time.Millisecond, ReapInterval: 10 * time.Millisecond},
		pacing.NewPacer(20), &payload.Slot{}, queue, discardLogger(),
	)

	sess := newSession(server)
	sess.setState(stateOpen)
	sess.lastActivityUnix.Store(time.Now().Add(-time.Hour).Unix())
	s.sessions[sess] = struct{}{}

	s.wg.Add(1)
	go s.reapIdleSessions()
	defer close(s.done)

	deadline := time.After(2 * time.Second)
	for {
		s.mu.Lock()
		_, stillPresent := s.sessions[sess]
		s.mu.Unlock()
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

func TestNonUpgradeRequestGets400(t *testing.T) {
	queue := cmdqueue.New(16)
	slot := &payload.Slot{}
	s := New(config.WSConfig{Enabled: true, Path: "/"}, config.SessionConfig{}, pacing.NewPacer(20), slot, queue, discardLogger())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s.httpServer = &http.Server{Handler: http.HandlerFunc(s.handleUpgrade)}
	go s.httpServer.Serve(ln)
	defer s.httpServer.Close()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
