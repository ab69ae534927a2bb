package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// SessionEvent represents a single client-session lifecycle log entry.
type SessionEvent struct {
	Timestamp    time.Time `json:"timestamp"`
	SessionID    string    `json:"session_id"`
	TraceID      string    `json:"trace_id,omitempty"`
	SpanID       string    `json:"span_id,omitempty"`
	Transport    string    `json:"transport"`
	RemoteAddr   string    `json:"remote_addr,omitempty"`
	Event        string    `json:"event"` // connect, disconnect, error
	Reason       string    `json:"reason,omitempty"`
	Error        string    `json:"error,omitempty"`
	BytesSent    int64     `json:"bytes_sent,omitempty"`
	BytesRecv    int64     `json:"bytes_received,omitempty"`
	DurationMs   int64     `json:"duration_ms,omitempty"`
}

// SessionLogger handles client-session lifecycle logging.
type SessionLogger struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console bool
}

var defaultSessionLogger = &SessionLogger{enabled: true, console: true}

// DefaultSessionLogger returns the default session logger.
func DefaultSessionLogger() *SessionLogger {
	return defaultSessionLogger
}

// SetOutput sets the log output file.
func (l *SessionLogger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole enables/disables console output.
func (l *SessionLogger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// Log writes a session lifecycle event.
func (l *SessionLogger) Log(entry *SessionEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	entry.Timestamp = time.Now()

	if l.console {
		mark := "+"
		if entry.Event == "disconnect" {
			mark = "-"
		} else if entry.Event == "error" {
			mark = "!"
		}
		fmt.Printf("[session] %s %s %s %s\n", mark, entry.SessionID, entry.Transport, entry.Event)
		if entry.Reason != "" {
			fmt.Printf("[session]   reason: %s\n", entry.Reason)
		}
		if entry.Error != "" {
			fmt.Printf("[session]   error: %s\n", entry.Error)
		}
	}

	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the log file.
func (l *SessionLogger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
