// Package session implements the Connection Registry: the five TCP
// listening endpoints (client, mount, camera, telescope-generic, annex)
// and the per-connection framing/read-loop wrapper every other
// component sees only through the narrow Sender interface. It is
// spec.md §4.2.
package session

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/starwatch-observatory/obsd/internal/protocol"
)

// Kind identifies which of the five listening endpoints a session
// belongs to.
type Kind int

const (
	KindClient Kind = iota
	KindMount
	KindCamera
	KindFocus
	KindAnnex
)

func (k Kind) String() string {
	switch k {
	case KindMount:
		return "mount"
	case KindCamera:
		return "camera"
	case KindFocus:
		return "focus"
	case KindAnnex:
		return "annex"
	default:
		return "client"
	}
}

// Session wraps one accepted TCP connection: a framer for inbound
// messages and a mutex-serialized writer for outbound ones, matching
// spec.md §5's "a per-session write mutex is required".
type Session struct {
	ID   string
	Kind Kind
	conn net.Conn

	framer  *protocol.Framer
	writeMu sync.Mutex
	closed  atomic.Bool
}

func newSession(conn net.Conn, kind Kind) *Session {
	return &Session{
		ID:     uuid.NewString(),
		Kind:   kind,
		conn:   conn,
		framer: protocol.NewFramer(conn),
	}
}

// Send writes one line-terminated message, serialized against
// concurrent writers.
func (s *Session) Send(line string) error {
	if s.closed.Load() {
		return fmt.Errorf("session %s: closed", s.ID)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := io.WriteString(s.conn, line+"\n")
	return err
}

// Close closes the underlying connection; idempotent.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.conn.Close()
}

// Next blocks for the next framed message, decoding it with decode
// (ASCII KV for client/mount/camera/focus, annex for the annex
// endpoint). Returns the decode error uninterpreted so the caller can
// decide whether a malformed message closes the session.
func (s *Session) Next(decode func(string) (protocol.Record, error)) (protocol.Record, error) {
	line, err := s.framer.Next()
	if err != nil {
		return nil, err
	}
	return decode(line)
}

// RemoteAddr exposes the peer address for logging.
func (s *Session) RemoteAddr() string {
	if s.conn == nil {
		return ""
	}
	return s.conn.RemoteAddr().String()
}

// Listener owns one of the five TCP endpoints and hands every accepted
// connection to onAccept.
type Listener struct {
	kind     Kind
	ln       net.Listener
	log      *log.Logger
	onAccept func(*Session)
}

// Listen binds addr for kind. onAccept is invoked once per accepted
// connection, on its own goroutine owned by the caller.
func Listen(logger *log.Logger, addr string, kind Kind, onAccept func(*Session)) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("session: listen %s (%s): %w", addr, kind, err)
	}
	return &Listener{kind: kind, ln: ln, log: logger, onAccept: onAccept}, nil
}

// Serve accepts connections until the listener is closed, which Stop
// triggers. One goroutine per accepted session is the concurrency unit
// spec.md §5 calls "one reader task per accepted TCP session"; Serve
// itself blocks the caller and should be run in its own goroutine.
func (l *Listener) Serve() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.log.Printf("session: accept on %s failed: %v", l.kind, err)
			continue
		}
		s := newSession(conn, l.kind)
		l.onAccept(s)
	}
}

// Stop closes the listening socket, unblocking Serve.
func (l *Listener) Stop() error {
	return l.ln.Close()
}
