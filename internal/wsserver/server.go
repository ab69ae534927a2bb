// Package wsserver implements the WebSocket Server: a single port that
// upgrades HTTP requests per RFC 6455, broadcasts the shared
// PayloadArtifact as text frames, and forwards inbound text frames to the
// Command Queue as raw command lines.
package wsserver

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aerofly-bridge/bridge/internal/cmdqueue"
	"github.com/aerofly-bridge/bridge/internal/config"
	"github.com/aerofly-bridge/bridge/internal/metrics"
	"github.com/aerofly-bridge/bridge/internal/observability"
	"github.com/aerofly-bridge/bridge/internal/pacing"
	"github.com/aerofly-bridge/bridge/internal/payload"
	"github.com/aerofly-bridge/bridge/internal/sessionlog"
	"github.com/aerofly-bridge/bridge/internal/transporterr"
)

// readBufferBytes is the size of the per-connection read buffer used to
// assemble frames from the raw socket.
const readBufferBytes = 4096

// Server owns the WebSocket listener and every upgraded session.
type Server struct {
	cfg      config.WSConfig
	sessCfg  config.SessionConfig
	pacer    *pacing.Pacer
	slot     *payload.Slot
	queue    *cmdqueue.Queue
	log      *slog.Logger
	recorder sessionlog.Recorder

	httpServer *http.Server
	listener   net.Listener

	mu       sync.Mutex
	sessions map[*session]struct{}

	notify chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

// New builds a Server; call Start to bind and begin accepting.
func New(cfg config.WSConfig, sessCfg config.SessionConfig, pacer *pacing.Pacer, slot *payload.Slot, queue *cmdqueue.Queue, log *slog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		sessCfg:  sessCfg,
		pacer:    pacer,
		slot:     slot,
		queue:    queue,
		log:      log,
		recorder: sessionlog.NopRecorder{},
		sessions: make(map[*session]struct{}),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// SetSessionRecorder installs a session-log recorder; call before Start. A
// Server with no recorder installed audits nothing beyond the in-process
// metrics counters.
func (s *Server) SetSessionRecorder(r sessionlog.Recorder) {
	s.recorder = r
}

// Start binds the listener, installs the upgrade handler, and spawns the
// accept-serving and broadcaster goroutines.
func (s *Server) Start() error {
	if !s.cfg.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	path := s.cfg.Path
	if path == "" {
		path = "/"
	}
	mux.HandleFunc(path, s.handleUpgrade)

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.log.Error("websocket port bind failed", "addr", s.cfg.Addr, "err", err)
		metrics.Global().RecordStartFailure("ws")
		return fmt.Errorf("websocket listen: %w", err)
	}
	s.listener = ln
	s.httpServer = &http.Server{Handler: mux}

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("websocket server exited", "err", err)
		}
	}()
	go s.broadcastLoop()
	go s.reapIdleSessions()

	return nil
}

// reapIdleSessions closes sessions that have had no inbound activity for
// longer than the configured idle timeout, mirroring the TCP command
// port's sweep (§12).
func (s *Server) reapIdleSessions() {
	defer s.wg.Done()
	if s.sessCfg.IdleTimeout <= 0 || s.sessCfg.ReapInterval <= 0 {
		return
	}

	ticker := time.NewTicker(s.sessCfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			var idle []*session
			for sess := range s.sessions {
				if sess.idleSince(now) > s.sessCfg.IdleTimeout {
					idle = append(idle, sess)
				}
			}
			s.mu.Unlock()

			for _, sess := range idle {
				sess.setState(stateClosed)
				s.removeSession(sess)
			}
		}
	}
}

// NotifyArtifact is the cheap, non-blocking signal the orchestrator sends
// after publishing a new PayloadArtifact.
func (s *Server) NotifyArtifact() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Stop closes the listener and every session, then waits up to timeout
// for background goroutines to exit.
func (s *Server) Stop(timeout time.Duration) {
	close(s.done)

	if s.httpServer != nil {
		s.httpServer.Close()
	}

	s.mu.Lock()
	for sess := range s.sessions {
		sess.setState(stateClosed)
		sess.conn.Close()
	}
	s.mu.Unlock()

	waitCh := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
	case <-time.After(timeout):
		s.log.Warn("wsserver shutdown timed out, abandoning background goroutines")
	}
}

// handleUpgrade implements the §4.6 handshake: any request shape other
// than a valid WebSocket upgrade gets a 400 and the connection closes.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		http.Error(w, "expected websocket upgrade", http.StatusBadRequest)
		return
	}

	hasUpgradeToken := false
	for _, part := range strings.Split(r.Header.Get("Connection"), ",") {
		if strings.EqualFold(strings.TrimSpace(part), "upgrade") {
			hasUpgradeToken = true
			break
		}
	}

	key := r.Header.Get("Sec-WebSocket-Key")
	if !hasUpgradeToken || key == "" {
		http.Error(w, "bad websocket handshake", http.StatusBadRequest)
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "upgrade not supported", http.StatusInternalServerError)
		return
	}

	conn, rw, err := hj.Hijack()
	if err != nil {
		http.Error(w, "hijack failed", http.StatusInternalServerError)
		return
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}

	accept := computeAcceptKey(key)
	rw.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	rw.WriteString("Upgrade: websocket\r\n")
	rw.WriteString("Connection: Upgrade\r\n")
	fmt.Fprintf(rw, "Sec-WebSocket-Accept: %s\r\n\r\n", accept)
	if err := rw.Flush(); err != nil {
		conn.Close()
		return
	}

	sess := newSession(conn)
	sess.setState(stateOpen)

	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
	metrics.Global().RecordSessionOpened("ws")
	s.recordOpen(sess.id, conn.RemoteAddr().String(), sess.openedAt)

	s.wg.Add(1)
	go s.serveSession(sess, rw.Reader)
}

func (s *Server) removeSession(sess *session) {
	s.mu.Lock()
	_, existed := s.sessions[sess]
	delete(s.sessions, sess)
	s.mu.Unlock()
	if existed {
		sess.conn.Close()
		metrics.Global().RecordSessionClosed("ws")
		s.recordClose(sess.id, "client_disconnect")
	}
}

func (s *Server) recordOpen(id, remoteAddr string, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	ctx, span := observability.StartSpan(ctx, "bridge.session.open",
		observability.AttrSessionID.String(id),
		observability.AttrTransport.String("ws"),
	)
	defer span.End()

	if err := s.recorder.RecordOpen(ctx, sessionlog.OpenEvent{
		SessionID:  id,
		Transport:  "ws",
		RemoteAddr: remoteAddr,
		OpenedAt:   at,
	}); err != nil {
		observability.SetSpanError(span, err)
		s.log.Warn("session log record open failed", "err", err)
	}
}

func (s *Server) recordClose(id, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	ctx, span := observability.StartSpan(ctx, "bridge.session.close",
		observability.AttrSessionID.String(id),
	)
	defer span.End()

	if err := s.recorder.RecordClose(ctx, sessionlog.CloseEvent{
		SessionID: id,
		ClosedAt:  time.Now(),
		Reason:    reason,
	}); err != nil {
		observability.SetSpanError(span, err)
		s.log.Warn("session log record close failed", "err", err)
	}
}

// serveSession runs the inbound frame state machine for one session until
// it closes (§4.6).
func (s *Server) serveSession(sess *session, prefill *bufio.Reader) {
	defer s.wg.Done()
	defer s.removeSession(sess)

	var pending []byte
	if prefill.Buffered() > 0 {
		buffered, _ := prefill.Peek(prefill.Buffered())
		pending = append(pending, buffered...)
	}

	buf := make([]byte, readBufferBytes)
	for {
		frames, rest, err := parseFrames(pending)
		if err != nil {
			sess.send(opClose, []byte{0x03, 0xEA}) // 1002: protocol error
			return
		}
		pending = rest

		for _, f := range frames {
			if !s.dispatchFrame(sess, f) {
				return
			}
		}

		n, err := sess.conn.Read(buf)
		if n > 0 {
			sess.touch()
			pending = append(pending, buf[:n]...)
		}
		if err != nil {
			return
		}
	}
}

// dispatchFrame handles one inbound frame and returns false if the
// session should close.
func (s *Server) dispatchFrame(sess *session, f frame) bool {
	switch f.Opcode {
	case opText, opContinuation:
		s.handleCommandText(f.Payload)
		return true

	case opBinary:
		// Discarded: binary frames carry no defined command meaning here.
		return true

	case opPing:
		sess.send(opPong, f.Payload)
		return true

	case opPong:
		return true

	case opClose:
		sess.setState(stateClosing)
		sess.send(opClose, f.Payload)
		sess.setState(stateClosed)
		return false

	default:
		return true
	}
}

func (s *Server) handleCommandText(payload []byte) {
	line := strings.TrimSpace(string(payload))
	if line == "" {
		return
	}
	if !s.queue.TryEnqueue(line) {
		metrics.Global().RecordQueueOverflow()
	}
}

// broadcastLoop wakes on every artifact notification and pushes the
// current artifact's WS text frame to every OPEN session.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}

		art := s.slot.Load()
		if art == nil {
			continue
		}

		s.mu.Lock()
		sessions := make([]*session, 0, len(s.sessions))
		for sess := range s.sessions {
			sessions = append(sessions, sess)
		}
		s.mu.Unlock()

		for _, sess := range sessions {
			s.pushToSession(sess, art)
		}
	}
}

func (s *Server) pushToSession(sess *session, art *payload.Artifact) {
	if !sess.isOpen() {
		return
	}
	sess.conn.SetWriteDeadline(time.Now().Add(50 * time.Millisecond))
	_, err := sess.conn.Write(art.WSTextFrame)
	if err == nil {
		metrics.Global().RecordBroadcast("ws", int64(len(art.WSTextFrame)), true)
		return
	}

	ce := transporterr.Classify(err)
	switch ce.Class {
	case transporterr.Temporary:
		metrics.Global().RecordBroadcast("ws", 0, false)
	case transporterr.Connection, transporterr.Fatal:
		s.log.Debug("ws session closed", "err", err)
		s.removeSession(sess)
	case transporterr.Resource:
		time.Sleep(100 * time.Millisecond)
	}
}
