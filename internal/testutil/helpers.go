// Package testutil holds fakes shared by package tests: an in-memory
// transport and a websocket daemon served from httptest.
package testutil

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"testing"
)

// RequireNetwork skips the test when FOLDWATCH_NO_NETWORK is set, for
// sandboxes that forbid loopback listeners.
func RequireNetwork(t *testing.T) {
	t.Helper()
	if os.Getenv("FOLDWATCH_NO_NETWORK") != "" {
		t.Skip("Skipping test: loopback networking disabled")
	}
}

// ErrTransportClosed is returned by writes on a closed FakeTransport.
var ErrTransportClosed = errors.New("fake transport closed")

// FakeTransport is an in-memory daemon connection. Frames pushed with Push
// are returned by ReadFrame in order; WriteFrame records outbound frames.
type FakeTransport struct {
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	written  [][]byte
	writeErr error
}

// NewFakeTransport creates an open FakeTransport.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		inbound: make(chan []byte, 256),
		closed:  make(chan struct{}),
	}
}

// ReadFrame returns the next pushed frame, or io.EOF once closed.
func (f *FakeTransport) ReadFrame() ([]byte, error) {
	select {
	case b := <-f.inbound:
		return b, nil
	case <-f.closed:
		return nil, io.EOF
	}
}

// WriteFrame records frame.
func (f *FakeTransport) WriteFrame(frame []byte) error {
	select {
	case <-f.closed:
		return ErrTransportClosed
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written = append(f.written, append([]byte(nil), frame...))
	return nil
}

// Close ends the stream. Safe to call more than once.
func (f *FakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// Push queues an inbound frame as if the daemon sent it.
func (f *FakeTransport) Push(frame string) {
	select {
	case f.inbound <- []byte(frame):
	case <-f.closed:
	}
}

// Closed reports whether Close has been called.
func (f *FakeTransport) Closed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// Done is closed when the transport is closed.
func (f *FakeTransport) Done() <-chan struct{} { return f.closed }

// SetWriteError makes every following WriteFrame fail with err.
func (f *FakeTransport) SetWriteError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

// Commands decodes every recorded outbound frame.
func (f *FakeTransport) Commands() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.written))
	for _, b := range f.written {
		var m map[string]any
		if err := json.Unmarshal(b, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// SplitHostPort parses "host:port" into its parts.
func SplitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split %q: %v", addr, err)
	}
	port, err := net.LookupPort("tcp", portStr)
	if err != nil {
		t.Fatalf("port %q: %v", portStr, err)
	}
	return host, port
}
