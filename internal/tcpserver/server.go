// Package tcpserver implements the TCP Server: a data port that broadcasts
// the current PayloadArtifact on every paced tick, and a command port that
// reassembles newline-delimited JSON commands into the shared Command
// Queue. Each accepted connection is handled by its own goroutine, in the
// idiomatic Go style, rather than the non-blocking event loop a
// single-threaded host would use for the same contract.
package tcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/aerofly-bridge/bridge/internal/cmdqueue"
	"github.com/aerofly-bridge/bridge/internal/config"
	"github.com/aerofly-bridge/bridge/internal/metrics"
	"github.com/aerofly-bridge/bridge/internal/observability"
	"github.com/aerofly-bridge/bridge/internal/pacing"
	"github.com/aerofly-bridge/bridge/internal/payload"
	"github.com/aerofly-bridge/bridge/internal/sessionlog"
	"github.com/aerofly-bridge/bridge/internal/transporterr"
)

// maxLineBytesDefault mirrors config.TCPConfig.MaxLineBytes's default and
// is used only if a zero value reaches the server.
const maxLineBytesDefault = 64 * 1024

// sendBufferBytes and recvBufferBytes are the §4.5 socket buffer floors.
const (
	sendBufferBytes = 64 * 1024
	recvBufferBytes = 16 * 1024
)

// Server owns the data and command TCP listeners.
type Server struct {
	cfg      config.TCPConfig
	sessCfg  config.SessionConfig
	pacer    *pacing.Pacer
	slot     *payload.Slot
	queue    *cmdqueue.Queue
	log      *slog.Logger
	recorder sessionlog.Recorder

	dataListener net.Listener
	cmdListener  net.Listener

	dataMu       sync.Mutex
	dataSessions map[*dataSession]struct{}

	cmdMu       sync.Mutex
	cmdSessions map[*commandSession]struct{}

	notify chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

// New builds a Server; call Start to bind and begin accepting.
func New(cfg config.TCPConfig, sessCfg config.SessionConfig, pacer *pacing.Pacer, slot *payload.Slot, queue *cmdqueue.Queue, log *slog.Logger) *Server {
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = maxLineBytesDefault
	}
	return &Server{
		cfg:          cfg,
		sessCfg:      sessCfg,
		pacer:        pacer,
		slot:         slot,
		queue:        queue,
		log:          log,
		recorder:     sessionlog.NopRecorder{},
		dataSessions: make(map[*dataSession]struct{}),
		cmdSessions:  make(map[*commandSession]struct{}),
		notify:       make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// SetSessionRecorder installs a session-log recorder; call before Start. A
// Server with no recorder installed audits nothing beyond the in-process
// metrics counters.
func (s *Server) SetSessionRecorder(r sessionlog.Recorder) {
	s.recorder = r
}

// Start binds both listeners and spawns the accept and broadcaster
// goroutines. A port that fails to bind is skipped while the other port,
// if it bound, keeps serving; Start returns the first bind error (data
// port before command port) and does not report which port, if any, bound.
func (s *Server) Start() error {
	var firstErr error

	if s.cfg.Enabled {
		ln, err := net.Listen("tcp", s.cfg.DataAddr)
		if err != nil {
			s.log.Error("tcp data port bind failed", "addr", s.cfg.DataAddr, "err", err)
			metrics.Global().RecordStartFailure("tcp_data")
			firstErr = fmt.Errorf("tcp data port: %w", err)
		} else {
			s.dataListener = ln
			s.wg.Add(2)
			go s.acceptDataLoop()
			go s.broadcastLoop()
		}

		cln, err := net.Listen("tcp", s.cfg.CommandAddr)
		if err != nil {
			s.log.Error("tcp command port bind failed", "addr", s.cfg.CommandAddr, "err", err)
			metrics.Global().RecordStartFailure("tcp_command")
			if firstErr == nil {
				firstErr = fmt.Errorf("tcp command port: %w", err)
			}
		} else {
			s.cmdListener = cln
			s.wg.Add(2)
			go s.acceptCommandLoop()
			go s.reapIdleCommandSessions()
		}
	}

	return firstErr
}

// NotifyArtifact is the cheap, non-blocking signal the orchestrator sends
// after publishing a new PayloadArtifact (§4.8 step 4). Multiple notifies
// between broadcaster wake-ups coalesce into one.
func (s *Server) NotifyArtifact() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Stop closes both listeners and every session, then waits up to timeout
// for background goroutines to exit (§5: "joins within a bounded
// timeout (<= 2s)").
func (s *Server) Stop(timeout time.Duration) {
	close(s.done)

	if s.dataListener != nil {
		s.dataListener.Close()
	}
	if s.cmdListener != nil {
		s.cmdListener.Close()
	}

	s.dataMu.Lock()
	for sess := range s.dataSessions {
		sess.conn.Close()
	}
	s.dataMu.Unlock()

	s.cmdMu.Lock()
	for sess := range s.cmdSessions {
		sess.conn.Close()
	}
	s.cmdMu.Unlock()

	waitCh := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
	case <-time.After(timeout):
		s.log.Warn("tcpserver shutdown timed out, abandoning background goroutines")
	}
}

type dataSession struct {
	conn     net.Conn
	id       string
	openedAt time.Time
}

func (s *Server) acceptDataLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.dataListener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.log.Warn("tcp data accept error", "err", err)
			continue
		}
		configureSocket(conn)

		sess := &dataSession{conn: conn, id: sessionID(conn), openedAt: time.Now()}
		s.dataMu.Lock()
		s.dataSessions[sess] = struct{}{}
		s.dataMu.Unlock()
		metrics.Global().RecordSessionOpened("tcp_data")
		s.recordOpen(sess.id, "tcp_data", conn.RemoteAddr().String(), sess.openedAt)
	}
}

func (s *Server) removeDataSession(sess *dataSession) {
	s.dataMu.Lock()
	delete(s.dataSessions, sess)
	s.dataMu.Unlock()
	sess.conn.Close()
	metrics.Global().RecordSessionClosed("tcp_data")
	s.recordClose(sess.id, "client_disconnect")
}

// broadcastLoop wakes on every artifact notification and pushes the
// current artifact's TCP bytes to every open data session. Sessions are
// iterated over a local copy taken under the lock, never under the lock
// itself (§5: "Broadcast iterates over a local copy... never under the
// lock").
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

		s.dataMu.Lock()
		sessions := make([]*dataSession, 0, len(s.dataSessions))
		for sess := range s.dataSessions {
			sessions = append(sessions, sess)
		}
		s.dataMu.Unlock()

		for _, sess := range sessions {
			s.pushToSession(sess, art)
		}
	}
}

func (s *Server) pushToSession(sess *dataSession, art *payload.Artifact) {
	sess.conn.SetWriteDeadline(time.Now().Add(50 * time.Millisecond))
	_, err := sess.conn.Write(art.TCPBytes)
	if err == nil {
		metrics.Global().RecordBroadcast("tcp_data", int64(len(art.TCPBytes)), true)
		return
	}

	ce := transporterr.Classify(err)
	switch ce.Class {
	case transporterr.Temporary:
		// A partial send or WOULDBLOCK leaves the session in good
		// standing; next broadcast supersedes (§4.5).
		metrics.Global().RecordBroadcast("tcp_data", 0, false)
	case transporterr.Connection, transporterr.Fatal:
		s.log.Debug("tcp data session closed", "err", err)
		s.removeDataSession(sess)
	case transporterr.Resource:
		time.Sleep(100 * time.Millisecond)
	}
}

// commandSession tracks a command-port connection's last inbound activity
// so the idle reaper can close it per the configured session timeout
// (§5: "sessions with no activity for a configurable interval MAY be
// closed").
type commandSession struct {
	conn             net.Conn
	id               string
	openedAt         time.Time
	lastActivityUnix atomic.Int64
}

func (cs *commandSession) touch() {
	cs.lastActivityUnix.Store(time.Now().Unix())
}

func (cs *commandSession) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(cs.lastActivityUnix.Load(), 0))
}

func (s *Server) acceptCommandLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.cmdListener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.log.Warn("tcp command accept error", "err", err)
			continue
		}
		configureSocket(conn)
		metrics.Global().RecordSessionOpened("tcp_command")

		sess := &commandSession{conn: conn, id: sessionID(conn), openedAt: time.Now()}
		sess.touch()
		s.cmdMu.Lock()
		s.cmdSessions[sess] = struct{}{}
		s.cmdMu.Unlock()
		s.recordOpen(sess.id, "tcp_command", conn.RemoteAddr().String(), sess.openedAt)

		s.wg.Add(1)
		go s.handleCommandConn(sess)
	}
}

func (s *Server) removeCommandSession(sess *commandSession) {
	s.cmdMu.Lock()
	_, existed := s.cmdSessions[sess]
	delete(s.cmdSessions, sess)
	s.cmdMu.Unlock()
	if existed {
		sess.conn.Close()
		metrics.Global().RecordSessionClosed("tcp_command")
		s.recordClose(sess.id, "client_disconnect")
	}
}

// sessionID assigns a session correlation ID used to tie this connection's
// open/close pair together in the session log and in traces.
func sessionID(conn net.Conn) string {
	return uuid.New().String()
}

func (s *Server) recordOpen(id, transport, remoteAddr string, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	ctx, span := observability.StartSpan(ctx, "bridge.session.open",
		observability.AttrSessionID.String(id),
		observability.AttrTransport.String(transport),
	)
	defer span.End()

	if err := s.recorder.RecordOpen(ctx, sessionlog.OpenEvent{
		SessionID:  id,
		Transport:  transport,
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

// reapIdleCommandSessions closes command-port sessions that have had no
// inbound activity for longer than the configured idle timeout.
func (s *Server) reapIdleCommandSessions() {
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
			s.cmdMu.Lock()
			var idle []*commandSession
			for sess := range s.cmdSessions {
				if sess.idleSince(now) > s.sessCfg.IdleTimeout {
					idle = append(idle, sess)
				}
			}
			s.cmdMu.Unlock()

			for _, sess := range idle {
				s.removeCommandSession(sess)
			}
		}
	}
}

// handleCommandConn reassembles newline-delimited lines from a raw Read
// loop rather than bufio.Reader.ReadString, which would buffer an
// unbounded amount of data while waiting for a newline that never
// arrives. The accumulated-but-unterminated portion is capped at
// MaxLineBytes; a peer that exceeds it is flagged for close (§4.5).
func (s *Server) handleCommandConn(sess *commandSession) {
	defer s.wg.Done()
	defer s.removeCommandSession(sess)

	conn := sess.conn
	buf := make([]byte, 4096)
	var pending []byte

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			sess.touch()
			pending = append(pending, buf[:n]...)

			for {
				idx := indexByte(pending, '\n')
				if idx < 0 {
					break
				}
				line := trimNewline(string(pending[:idx]))
				pending = pending[idx+1:]
				if line != "" {
					if !s.queue.TryEnqueue(line) {
						metrics.Global().RecordQueueOverflow()
					}
				}
			}

			if len(pending) > s.cfg.MaxLineBytes {
				s.log.Warn("tcp command line exceeded max length, closing session")
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func configureSocket(conn net.Conn) {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	tcp.SetNoDelay(true)
	tcp.SetWriteBuffer(sendBufferBytes)
	tcp.SetReadBuffer(recvBufferBytes)
	tcp.SetKeepAlive(true)
	tcp.SetKeepAlivePeriod(30 * time.Second)
}
