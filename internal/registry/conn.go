package registry

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"grimm.is/foldwatch/internal/clock"
	"grimm.is/foldwatch/internal/document"
	"grimm.is/foldwatch/internal/protocol"
)

// ErrNotConnected is returned by Send on a connection that has been torn down.
var ErrNotConnected = errors.New("connection closed")

// Key identifies one daemon endpoint.
type Key struct {
	ClientID string
	Host     string
	Port     int
}

func (k Key) String() string {
	return k.ClientID + "@" + k.Host + ":" + strconv.Itoa(k.Port)
}

// flightKey is unambiguous even when ClientID contains '@' or ':'.
func (k Key) flightKey() string {
	return strconv.Quote(k.ClientID) + "\x00" + k.Host + "\x00" + strconv.Itoa(k.Port)
}

// Transport is a live duplex connection to a daemon. ReadFrame is only
// called from the connection's reader goroutine.
type Transport interface {
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
	Close() error
}

// Conn is a registered connection: the transport handle plus the document
// folded from its inbound frames.
type Conn struct {
	key     Key
	id      string
	created time.Time
	clock   clock.Clock
	tr      Transport

	writeMu sync.Mutex

	mu           sync.RWMutex
	doc          document.Value
	hasDoc       bool
	lastActivity time.Time
	closeReason  string

	ready     chan struct{} // closed when the first document arrives
	readyOnce sync.Once
	done      chan struct{} // closed after teardown
	closing   atomic.Bool
}

func newConn(key Key, tr Transport, clk clock.Clock) *Conn {
	now := clk.Now()
	return &Conn{
		key:          key,
		id:           uuid.NewString(),
		created:      now,
		lastActivity: now,
		clock:        clk,
		tr:           tr,
		ready:        make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Key returns the endpoint this connection serves.
func (c *Conn) Key() Key { return c.key }

// ID returns a unique id for this connection instance.
func (c *Conn) ID() string { return c.id }

// Created returns when the handshake completed.
func (c *Conn) Created() time.Time { return c.created }

// Done is closed once the connection has been torn down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Send writes a command frame stamped with the current time.
func (c *Conn) Send(cmd protocol.Command) error {
	frame, err := cmd.Encode(c.clock.Now())
	if err != nil {
		return fmt.Errorf("encode %s command: %w", cmd.Name, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}
	if err := c.tr.WriteFrame(frame); err != nil {
		return fmt.Errorf("send %s command: %w", cmd.Name, err)
	}
	c.touch()
	return nil
}

// Document returns the latest folded document.
func (c *Conn) Document() (document.Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.doc, c.hasDoc
}

// LastActivity returns the time of the last frame sent or received.
func (c *Conn) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

func (c *Conn) touch() {
	now := c.clock.Now()
	c.mu.Lock()
	c.lastActivity = now
	c.mu.Unlock()
}

// store replaces the document. Only the reader goroutine calls it.
func (c *Conn) store(doc document.Value) {
	now := c.clock.Now()
	c.mu.Lock()
	c.doc = doc
	c.hasDoc = true
	c.lastActivity = now
	c.mu.Unlock()
	c.readyOnce.Do(func() { close(c.ready) })
}

func (c *Conn) markClosed(reason string) {
	c.mu.Lock()
	c.closeReason = reason
	c.doc = document.Value{}
	c.hasDoc = false
	c.mu.Unlock()
	close(c.done)
}

// CloseReason explains why a torn down connection ended.
func (c *Conn) CloseReason() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closeReason
}

// Info is a point-in-time description of a connection.
type Info struct {
	Key          Key       `json:"-"`
	ID           string    `json:"id"`
	Created      time.Time `json:"created"`
	LastActivity time.Time `json:"last_activity"`
	HasDocument  bool      `json:"has_document"`
}

func (c *Conn) info() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Info{
		Key:          c.key,
		ID:           c.id,
		Created:      c.created,
		LastActivity: c.lastActivity,
		HasDocument:  c.hasDoc,
	}
}
