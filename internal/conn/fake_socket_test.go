package conn

import (
	"sync"
	"testing"
	"time"

	"github.com/MarlonF24/battleships/internal/socket"
)

// fakeSocket is an in-memory socket.Socket double driven entirely by
// Go channels, letting the manager tests exercise the full message
// loop without a real websocket transport.
type fakeSocket struct {
	mu     sync.Mutex
	closed bool
	code   int
	reason string

	inbound  chan []byte
	outbound chan []byte
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		inbound:  make(chan []byte, 32),
		outbound: make(chan []byte, 32),
	}
}

func (f *fakeSocket) Send(data []byte) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return socket.ErrClosed
	}
	f.mu.Unlock()
	select {
	case f.outbound <- data:
	default:
	}
	return nil
}

func (f *fakeSocket) Recv() ([]byte, error) {
	data, ok := <-f.inbound
	if !ok {
		return nil, socket.ErrClosed
	}
	return data, nil
}

func (f *fakeSocket) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	f.code = code
	f.reason = reason
	close(f.inbound)
	return nil
}

func (f *fakeSocket) State() socket.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return socket.StateClosed
	}
	return socket.StateOpen
}

func (f *fakeSocket) closeCode() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code
}

// push enqueues a client-originated frame as if received over the wire.
func (f *fakeSocket) push(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.inbound <- data
}

func (f *fakeSocket) takeOutbound() []byte {
	select {
	case data := <-f.outbound:
		return data
	default:
		return nil
	}
}

// waitOutbound polls for the next outbound frame, failing the test if
// none arrives within d.
func waitOutbound(t *testing.T, f *fakeSocket, d time.Duration) []byte {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if data := f.takeOutbound(); data != nil {
			return data
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for an outbound frame")
	return nil
}
