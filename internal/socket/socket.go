// Package socket wraps *websocket.Conn behind the narrow accept /
// close(code,reason) / send(bytes) / recv_bytes_iter contract §6
// assumes of the transport, so internal/conn and internal/router
// depend on an interface rather than the concrete gorilla type.
// Grounded on the teacher's serveWS handler (internal upgrade,
// read-deadline/pong keepalive, write-deadline on send).
package socket

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Close codes from §6. Named here so callers never hand-roll a
// numeric websocket close code.
const (
	CloseNormal          = websocket.CloseNormalClosure
	CloseProtocolError   = websocket.CloseProtocolError
	CloseAbnormal        = websocket.CloseAbnormalClosure
	ClosePolicyViolation = websocket.ClosePolicyViolation
	CloseInternalError   = websocket.CloseInternalServerErr
)

// WriteWait bounds how long a single outbound frame may take to flush.
const WriteWait = 10 * time.Second

// ErrClosed is returned by Recv once the socket has been closed,
// either by the peer or by a prior call to Close.
var ErrClosed = errors.New("socket: closed")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Socket is the narrow transport contract the session engine depends
// on. A Socket may be Send/Recv/Close concurrently from different
// goroutines; Close is idempotent.
type Socket interface {
	Send(data []byte) error
	Recv() ([]byte, error)
	Close(code int, reason string) error
	// State reports whether the socket is still open, used by the
	// connection manager's currently_connected check (§4.3).
	State() State
}

// State is the coarse lifecycle of a Socket.
type State int

const (
	StateOpen State = iota
	StateClosed
)

type wsSocket struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

// Accept upgrades an HTTP request to a websocket connection, applying
// maxPayloadBytes as a read-size limit (0 disables the limit).
func Accept(w http.ResponseWriter, r *http.Request, maxPayloadBytes int64) (Socket, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("socket: upgrade: %w", err)
	}
	if maxPayloadBytes > 0 {
		conn.SetReadLimit(maxPayloadBytes)
	}
	return &wsSocket{conn: conn}, nil
}

// Wrap adapts an already-established *websocket.Conn (e.g. from a test
// dialer) into a Socket.
func Wrap(conn *websocket.Conn) Socket {
	return &wsSocket{conn: conn}
}

func (s *wsSocket) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(WriteWait)); err != nil {
		return fmt.Errorf("socket: set write deadline: %w", err)
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (s *wsSocket) Recv() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return data, nil
}

func (s *wsSocket) Close(code int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		//1.- Double-close is swallowed here: a second Close is a no-op returning nil.
		return nil
	}
	s.closed = true
	deadline := time.Now().Add(WriteWait)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	return s.conn.Close()
}

func (s *wsSocket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return StateClosed
	}
	return StateOpen
}

// SetHeartbeatDeadlines wires a read-deadline/pong-handler pair so the
// transport layer enforces liveness independently of the application
// heartbeat subsystem, matching the teacher's keepalive setup. Callers
// that prefer to rely solely on internal/heartbeat's application-level
// ping may skip this.
func SetHeartbeatDeadlines(s Socket, timeout time.Duration) error {
	ws, ok := s.(*wsSocket)
	if !ok {
		return nil
	}
	if err := ws.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	ws.conn.SetPongHandler(func(string) error {
		return ws.conn.SetReadDeadline(time.Now().Add(timeout))
	})
	return nil
}
