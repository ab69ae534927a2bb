package wsserver

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// sessionState is the frame state machine from §4.6: HTTP_PENDING -> OPEN
// -> CLOSING -> CLOSED.
type sessionState int32

const (
	stateHTTPPending sessionState = iota
	stateOpen
	stateClosing
	stateClosed
)

// session is one accepted, upgraded WebSocket connection.
type session struct {
	conn             net.Conn
	id               string
	openedAt         time.Time
	state            atomic.Int32
	lastActivityUnix atomic.Int64
}

func newSession(conn net.Conn) *session {
	s := &session{conn: conn, id: sessionID(conn), openedAt: time.Now()}
	s.state.Store(int32(stateHTTPPending))
	s.touch()
	return s
}

// sessionID assigns a session correlation ID for this connection's own
// open/close pair in the session log and in traces.
func sessionID(conn net.Conn) string {
	return uuid.New().String()
}

func (s *session) touch() {
	s.lastActivityUnix.Store(time.Now().Unix())
}

func (s *session) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(s.lastActivityUnix.Load(), 0))
}

func (s *session) setState(st sessionState) {
	s.state.Store(int32(st))
}

func (s *session) currentState() sessionState {
	return sessionState(s.state.Load())
}

func (s *session) isOpen() bool {
	return s.currentState() == stateOpen
}

func (s *session) send(opcode byte, payload []byte) error {
	_, err := s.conn.Write(buildFrame(opcode, payload, true))
	return err
}
