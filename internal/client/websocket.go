package client

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"grimm.is/foldwatch/internal/brand"
)

// DaemonSocketPath is the daemon's streaming endpoint.
const DaemonSocketPath = "/api/websocket"

const (
	defaultHandshakeTimeout = 10 * time.Second
	writeWait               = 10 * time.Second
	maxFrameSize            = 16 << 20
)

// WSTransport is a daemon socket. It satisfies registry.Transport.
type WSTransport struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewWSTransport wraps an established websocket connection.
func NewWSTransport(conn *websocket.Conn) *WSTransport {
	conn.SetReadLimit(maxFrameSize)
	return &WSTransport{conn: conn}
}

// DaemonSocketURL returns the websocket URL of a daemon endpoint.
func DaemonSocketURL(host string, port int) string {
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(port)) + DaemonSocketPath
}

// DialDaemon opens the persistent socket to a daemon. The handshake is
// bounded by ctx.
func DialDaemon(ctx context.Context, host string, port int) (*WSTransport, error) {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: defaultHandshakeTimeout,
	}

	headers := http.Header{}
	headers.Set("User-Agent", brand.UserAgent(brand.Version))

	conn, resp, err := dialer.DialContext(ctx, DaemonSocketURL(host, port), headers)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial websocket: %w", err)
	}
	return NewWSTransport(conn), nil
}

// ReadFrame blocks until the next text or binary message arrives.
func (t *WSTransport) ReadFrame() ([]byte, error) {
	_, msg, err := t.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// WriteFrame sends one text message.
func (t *WSTransport) WriteFrame(frame []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, frame)
}

// Close sends a close message and closes the socket. Safe to call twice.
func (t *WSTransport) Close() error {
	t.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
