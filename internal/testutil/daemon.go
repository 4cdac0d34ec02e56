package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gorilla/websocket"
)

// FakeDaemon is a compute-client daemon served by httptest. It accepts the
// persistent socket on /api/websocket, pushes its initial frames to every new
// connection and records the commands it receives. Other paths are served
// by handlers registered with Handle.
type FakeDaemon struct {
	Server *httptest.Server
	Host   string
	Port   int

	initial     []string
	refuseWS    bool
	upgrader    websocket.Upgrader
	mux         *http.ServeMux
	received    chan map[string]any
	connections atomic.Int32

	mu    sync.Mutex
	conns []*websocket.Conn
}

// DaemonOption configures a FakeDaemon.
type DaemonOption func(*FakeDaemon)

// WithInitialFrames sends frames to each connection right after the
// handshake.
func WithInitialFrames(frames ...string) DaemonOption {
	return func(d *FakeDaemon) {
		d.initial = append(d.initial, frames...)
	}
}

// WithSocketRefused answers the websocket path with 503.
func WithSocketRefused() DaemonOption {
	return func(d *FakeDaemon) {
		d.refuseWS = true
	}
}

// NewFakeDaemon starts a daemon; it is shut down by t.Cleanup.
func NewFakeDaemon(t *testing.T, opts ...DaemonOption) *FakeDaemon {
	t.Helper()
	RequireNetwork(t)

	d := &FakeDaemon{
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		mux:      http.NewServeMux(),
		received: make(chan map[string]any, 256),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.mux.HandleFunc("/api/websocket", d.serveSocket)
	d.Server = httptest.NewServer(d.mux)

	u, err := url.Parse(d.Server.URL)
	if err != nil {
		t.Fatalf("parse %q: %v", d.Server.URL, err)
	}
	d.Host, d.Port = SplitHostPort(t, u.Host)

	t.Cleanup(d.Close)
	return d
}

// Handle registers an HTTP handler for the fallback API.
func (d *FakeDaemon) Handle(pattern string, h http.HandlerFunc) {
	d.mux.HandleFunc(pattern, h)
}

// HandleJSON answers pattern with a fixed JSON body.
func (d *FakeDaemon) HandleJSON(pattern, body string) {
	d.Handle(pattern, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	})
}

func (d *FakeDaemon) serveSocket(w http.ResponseWriter, r *http.Request) {
	if d.refuseWS {
		http.Error(w, "socket disabled", http.StatusServiceUnavailable)
		return
	}
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	d.connections.Add(1)

	d.mu.Lock()
	d.conns = append(d.conns, conn)
	for _, f := range d.initial {
		conn.WriteMessage(websocket.TextMessage, []byte(f))
	}
	d.mu.Unlock()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var m map[string]any
		if json.Unmarshal(msg, &m) == nil {
			select {
			case d.received <- m:
			default:
			}
		}
	}
}

// Received delivers decoded commands in arrival order.
func (d *FakeDaemon) Received() <-chan map[string]any { return d.received }

// Connections returns how many sockets were accepted so far.
func (d *FakeDaemon) Connections() int { return int(d.connections.Load()) }

// Broadcast sends frame to every open socket.
func (d *FakeDaemon) Broadcast(frame string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.conns {
		c.WriteMessage(websocket.TextMessage, []byte(frame))
	}
}

// DropAll closes every open socket from the daemon side.
func (d *FakeDaemon) DropAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.conns {
		c.Close()
	}
	d.conns = nil
}

// Close drops all sockets and stops the server.
func (d *FakeDaemon) Close() {
	d.DropAll()
	d.Server.Close()
}
