// Package registry owns the live daemon connections. It creates at most one
// transport per endpoint key, folds every inbound frame into that key's
// state document, and discards both when the transport goes away.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"grimm.is/foldwatch/internal/client"
	"grimm.is/foldwatch/internal/clock"
	"grimm.is/foldwatch/internal/document"
	"grimm.is/foldwatch/internal/events"
	"grimm.is/foldwatch/internal/logging"
	"grimm.is/foldwatch/internal/metrics"
	"grimm.is/foldwatch/internal/protocol"
)

// DefaultConnectTimeout bounds a connection attempt.
const DefaultConnectTimeout = 5 * time.Second

var (
	// ErrConnectionFailed wraps every failure to establish a transport.
	ErrConnectionFailed = errors.New("connection failed")
	// ErrClosed is returned once the registry has been shut down.
	ErrClosed = errors.New("registry closed")
)

// Disconnect reasons recorded by metrics and events.
const (
	ReasonTeardown = "teardown"
	ReasonRemote   = "remote"
	ReasonShutdown = "shutdown"
)

// Connector establishes a transport for key. It must honor ctx.
type Connector func(ctx context.Context, key Key) (Transport, error)

// WebsocketConnector dials the daemon's persistent socket.
func WebsocketConnector() Connector {
	return func(ctx context.Context, key Key) (Transport, error) {
		return client.DialDaemon(ctx, key.Host, key.Port)
	}
}

// Options configures a Registry. Zero values select defaults.
type Options struct {
	ConnectTimeout time.Duration
	Clock          clock.Clock
	Logger         *logging.Logger
	Metrics        *metrics.Registry
	Events         events.Publisher
}

// Registry maps endpoint keys to live connections.
type Registry struct {
	connectTimeout time.Duration
	clock          clock.Clock
	logger         *logging.Logger
	metrics        *metrics.Registry
	events         events.Publisher

	flights singleflight.Group
	readers sync.WaitGroup

	mu     sync.RWMutex
	conns  map[Key]*Conn
	closed bool
}

// New creates an empty registry.
func New(opts Options) *Registry {
	r := &Registry{
		connectTimeout: opts.ConnectTimeout,
		clock:          opts.Clock,
		logger:         logging.OrDefault(opts.Logger, "registry"),
		metrics:        metrics.OrGlobal(opts.Metrics),
		events:         opts.Events,
		conns:          make(map[Key]*Conn),
	}
	if r.connectTimeout <= 0 {
		r.connectTimeout = DefaultConnectTimeout
	}
	if r.clock == nil {
		r.clock = clock.Real()
	}
	if r.events == nil {
		r.events = events.Discard
	}
	return r
}

func (r *Registry) lookup(key Key) *Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[key]
}

// Acquire returns the live connection for key, connecting first if there is
// none. Concurrent callers for the same key share a single attempt. ctx only
// bounds how long this caller waits; the attempt itself is bounded by the
// connect timeout and completes for the other waiters.
func (r *Registry) Acquire(ctx context.Context, key Key, connect Connector) (*Conn, error) {
	if c := r.lookup(key); c != nil {
		return c, nil
	}
	if r.isClosed() {
		return nil, ErrClosed
	}

	ch := r.flights.DoChan(key.flightKey(), func() (any, error) {
		return r.connect(key, connect)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Conn), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, key, ctx.Err())
	}
}

type dialResult struct {
	tr  Transport
	err error
}

func (r *Registry) connect(key Key, connect Connector) (*Conn, error) {
	// A flight that finished just before this one started may have
	// registered the key already.
	if c := r.lookup(key); c != nil {
		return c, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.connectTimeout)
	defer cancel()

	start := time.Now()
	results := make(chan dialResult, 1)
	go func() {
		tr, err := connect(ctx, key)
		results <- dialResult{tr: tr, err: err}
	}()

	var tr Transport
	select {
	case res := <-results:
		if res.err == nil && res.tr == nil {
			res.err = errors.New("connector returned no transport")
		}
		if res.err != nil {
			r.metrics.ObserveConnect(time.Since(start), res.err)
			r.logger.Warn("connect failed", "key", key.String(), "error", res.err)
			return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, key, res.err)
		}
		tr = res.tr
	case <-ctx.Done():
		// Close whatever the connector eventually produces.
		go func() {
			if res := <-results; res.tr != nil {
				res.tr.Close()
			}
		}()
		r.metrics.ObserveConnect(time.Since(start), ctx.Err())
		r.logger.Warn("connect timed out", "key", key.String(), "timeout", r.connectTimeout)
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, key, ctx.Err())
	}

	c := newConn(key, tr, r.clock)
	if err := c.Send(protocol.EnableLog()); err != nil {
		tr.Close()
		r.metrics.ObserveConnect(time.Since(start), err)
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, key, err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		tr.Close()
		return nil, ErrClosed
	}
	r.conns[key] = c
	r.readers.Add(1)
	r.mu.Unlock()

	r.metrics.ObserveConnect(time.Since(start), nil)
	r.logger.Info("connected", "key", key.String(), "conn", c.id)
	r.events.Publish(events.Event{
		Type:   events.EventConnectionOpened,
		Source: "registry",
		Target: key.ClientID,
		Data:   events.ConnectionData{ConnectionID: c.id, Host: key.Host, Port: key.Port},
	})

	go r.readLoop(c)
	return c, nil
}

// readLoop is the single writer of c's document: frames are folded one at a
// time in arrival order.
func (r *Registry) readLoop(c *Conn) {
	defer r.readers.Done()

	var readErr error
	for {
		frame, err := c.tr.ReadFrame()
		if err != nil {
			readErr = err
			break
		}
		r.fold(c, frame)
	}

	reason := ReasonRemote
	if c.closing.Load() {
		reason = ReasonTeardown
		if r.isClosed() {
			reason = ReasonShutdown
		}
	}
	r.teardown(c, reason, readErr)
}

func (r *Registry) fold(c *Conn, frame []byte) {
	log := r.logger.With("key", c.key.String())
	defer func() {
		if p := recover(); p != nil {
			r.metrics.FramesTotal.WithLabelValues(metrics.FrameMalformed).Inc()
			log.Error("panic while folding frame", "panic", p)
		}
	}()

	_, hasDoc := c.Document()
	v, err := document.Decode(frame)
	if err != nil {
		r.metrics.FramesTotal.WithLabelValues(metrics.FrameMalformed).Inc()
		// Partial frames before the first document are normal start-up noise.
		if hasDoc {
			log.Warn("discarding malformed frame", "error", err, "bytes", len(frame))
		} else {
			log.Debug("discarding frame before first document", "error", err)
		}
		return
	}

	var evType events.EventType
	switch v.Kind() {
	case document.KindList:
		cur, _ := c.Document()
		next := document.Apply(cur, v)
		if !hasDoc && next.IsNull() {
			r.metrics.FramesTotal.WithLabelValues(metrics.FrameIgnored).Inc()
			return
		}
		c.store(next)
		r.metrics.FramesTotal.WithLabelValues(metrics.FrameDelta).Inc()
		evType = events.EventDocumentPatched
	case document.KindMap:
		c.store(v)
		r.metrics.FramesTotal.WithLabelValues(metrics.FrameFull).Inc()
		evType = events.EventDocumentReplaced
	default:
		r.metrics.FramesTotal.WithLabelValues(metrics.FrameIgnored).Inc()
		c.touch()
		return
	}

	r.events.Publish(events.Event{
		Type:   evType,
		Source: "registry",
		Target: c.key.ClientID,
		Data:   events.DocumentData{ConnectionID: c.id, Frame: json.RawMessage(frame)},
	})
}

// teardown unregisters c (if still registered) and discards its document.
func (r *Registry) teardown(c *Conn, reason string, cause error) {
	r.mu.Lock()
	if r.conns[c.key] == c {
		delete(r.conns, c.key)
	}
	r.mu.Unlock()

	c.tr.Close()
	c.markClosed(reason)

	r.metrics.ConnectionsActive.Dec()
	r.metrics.Disconnects.WithLabelValues(reason).Inc()

	attrs := []any{"key", c.key.String(), "conn", c.id, "reason", reason}
	if cause != nil && reason == ReasonRemote {
		attrs = append(attrs, "error", cause)
	}
	r.logger.Info("disconnected", attrs...)

	r.events.Publish(events.Event{
		Type:   events.EventConnectionClosed,
		Source: "registry",
		Target: c.key.ClientID,
		Data: events.ConnectionData{
			ConnectionID: c.id,
			Host:         c.key.Host,
			Port:         c.key.Port,
			Reason:       reason,
		},
	})
}

// Current returns the latest document for key without connecting.
func (r *Registry) Current(key Key) (document.Value, bool) {
	c := r.lookup(key)
	if c == nil {
		return document.Value{}, false
	}
	return c.Document()
}

// WaitDocument waits up to d for key's first document and returns whatever
// is current when the wait ends. It returns early once a document arrives,
// the connection goes away, or ctx is done.
func (r *Registry) WaitDocument(ctx context.Context, key Key, d time.Duration) (document.Value, bool) {
	c := r.lookup(key)
	if c == nil {
		return document.Value{}, false
	}
	if doc, ok := c.Document(); ok {
		return doc, true
	}

	select {
	case <-c.ready:
	case <-c.done:
	case <-r.clock.After(d):
	case <-ctx.Done():
	}
	return r.Current(key)
}

// Get returns the live connection for key, if any.
func (r *Registry) Get(key Key) (*Conn, bool) {
	c := r.lookup(key)
	return c, c != nil
}

// Info describes the live connection for key.
func (r *Registry) Info(key Key) (Info, bool) {
	c := r.lookup(key)
	if c == nil {
		return Info{}, false
	}
	return c.info(), true
}

// List describes every live connection.
func (r *Registry) List() []Info {
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	out := make([]Info, len(conns))
	for i, c := range conns {
		out[i] = c.info()
	}
	return out
}

// Teardown closes the connection for key and waits until its state is
// discarded. A missing key is not an error.
func (r *Registry) Teardown(key Key) error {
	c := r.lookup(key)
	if c == nil {
		return nil
	}
	c.closing.Store(true)
	err := c.tr.Close()
	<-c.done
	return err
}

func (r *Registry) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// Close tears down every connection and waits for their readers to exit.
// Later Acquire calls fail with ErrClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	var g errgroup.Group
	for _, c := range conns {
		g.Go(func() error {
			c.closing.Store(true)
			if err := c.tr.Close(); err != nil {
				return fmt.Errorf("close %s: %w", c.key, err)
			}
			return nil
		})
	}
	err := g.Wait()
	r.readers.Wait()
	return err
}
