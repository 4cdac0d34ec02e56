// Package router turns abstract operations into daemon traffic: a command
// frame on the persistent socket followed by a read of the synchronized
// document, a local projection of that document, or, when the socket cannot
// be established, a request/response call over HTTP.
package router

import (
	"context"
	"fmt"
	"time"

	"grimm.is/foldwatch/internal/client"
	"grimm.is/foldwatch/internal/clock"
	"grimm.is/foldwatch/internal/document"
	"grimm.is/foldwatch/internal/events"
	"grimm.is/foldwatch/internal/logging"
	"grimm.is/foldwatch/internal/metrics"
	"grimm.is/foldwatch/internal/registry"
)

// Default settle windows.
const (
	DefaultCommandSettle = 500 * time.Millisecond
	DefaultReadSettle    = time.Second
)

// Source tells where a result came from.
type Source string

const (
	SourceSocket   Source = "socket"
	SourceFallback Source = "fallback"
	SourceCache    Source = "cache"
)

// Target is a daemon endpoint plus its routing policy.
type Target struct {
	Key      registry.Key
	Fallback bool // allow the HTTP fallback
}

// Outcome is a successful operation.
type Outcome struct {
	Value  document.Value
	Source Source
	Path   string // fallback path that answered
}

// Options configures a Router. Zero values select defaults.
type Options struct {
	CommandSettle time.Duration
	ReadSettle    time.Duration
	Connector     registry.Connector
	Fallback      *client.Fallback // nil disables the HTTP fallback
	Clock         clock.Clock
	Logger        *logging.Logger
	Metrics       *metrics.Registry
	Events        events.Publisher
}

// Router executes operations against targets through a registry.
type Router struct {
	reg           *registry.Registry
	commandSettle time.Duration
	readSettle    time.Duration
	connect       registry.Connector
	fallback      *client.Fallback
	clock         clock.Clock
	logger        *logging.Logger
	metrics       *metrics.Registry
	events        events.Publisher
}

// New creates a Router over reg.
func New(reg *registry.Registry, opts Options) *Router {
	r := &Router{
		reg:           reg,
		commandSettle: opts.CommandSettle,
		readSettle:    opts.ReadSettle,
		connect:       opts.Connector,
		fallback:      opts.Fallback,
		clock:         opts.Clock,
		logger:        logging.OrDefault(opts.Logger, "router"),
		metrics:       metrics.OrGlobal(opts.Metrics),
		events:        opts.Events,
	}
	if r.commandSettle <= 0 {
		r.commandSettle = DefaultCommandSettle
	}
	if r.readSettle <= 0 {
		r.readSettle = DefaultReadSettle
	}
	if r.connect == nil {
		r.connect = registry.WebsocketConnector()
	}
	if r.clock == nil {
		r.clock = clock.Real()
	}
	if r.events == nil {
		r.events = events.Discard
	}
	return r
}

// Execute runs req against target. Failures are *Error values.
func (r *Router) Execute(ctx context.Context, target Target, req Request) (Outcome, error) {
	var (
		out Outcome
		err error
	)
	if req.Op.IsWrite() {
		out, err = r.write(ctx, target, req)
	} else {
		out, err = r.read(ctx, target, req)
	}

	result := "ok"
	if err != nil {
		result = string(KindOf(err))
		r.logger.Debug("operation failed", "target", target.Key.String(), "op", req.Op, "error", err)
	}
	r.metrics.CommandsTotal.WithLabelValues(string(req.Op), result).Inc()
	return out, err
}

func (r *Router) write(ctx context.Context, target Target, req Request) (Outcome, error) {
	cmd, ok := req.command()
	if !ok {
		return Outcome{}, &Error{Kind: KindConnectionRefused, Op: req.Op, Err: fmt.Errorf("%s is not a write", req.Op)}
	}

	conn, err := r.reg.Acquire(ctx, target.Key, r.connect)
	if err != nil {
		// Nothing reached the daemon, so the HTTP path cannot double-apply.
		return r.writeFallback(ctx, target, req, err)
	}

	if err := conn.Send(cmd); err != nil {
		return Outcome{}, &Error{Kind: KindConnectionRefused, Op: req.Op, Err: err}
	}
	r.logger.Audit(string(req.Op), target.Key.String(), map[string]any{"cmd": string(cmd.Name), "conn": conn.ID()})
	r.events.Publish(events.Event{
		Type:   events.EventCommandSent,
		Source: "router",
		Target: target.Key.ClientID,
		Data:   events.CommandData{Command: string(cmd.Name), Op: string(req.Op)},
	})

	<-r.clock.After(r.commandSettle)

	doc, ok := r.reg.Current(target.Key)
	if !ok {
		return Outcome{}, &Error{Kind: KindNoStateAvailable, Op: req.Op, Err: ErrNoState}
	}
	return Outcome{Value: doc, Source: SourceSocket}, nil
}

func (r *Router) writeFallback(ctx context.Context, target Target, req Request, cause error) (Outcome, error) {
	if !target.Fallback || r.fallback == nil {
		return Outcome{}, connectionFailure(req.Op, cause)
	}

	endpoint, body := req.fallbackWrite()
	resp, err := r.fallback.Post(ctx, target.Key.Host, target.Key.Port, endpoint, body)
	if err != nil {
		return Outcome{}, &Error{Kind: KindAllTransportsFailed, Op: req.Op, Err: fmt.Errorf("socket: %w; http: %w", cause, err)}
	}
	r.logger.Audit(string(req.Op), target.Key.String(), map[string]any{"via": resp.Path})
	return Outcome{Value: resp.Value, Source: SourceFallback, Path: resp.Path}, nil
}

func (r *Router) read(ctx context.Context, target Target, req Request) (Outcome, error) {
	if doc, ok := r.reg.Current(target.Key); ok {
		return Outcome{Value: Project(req, doc), Source: SourceSocket}, nil
	}

	if _, err := r.reg.Acquire(ctx, target.Key, r.connect); err != nil {
		return r.readFallback(ctx, target, req, err)
	}

	// A bare connect makes the daemon push its full state.
	doc, ok := r.reg.WaitDocument(ctx, target.Key, r.readSettle)
	if !ok {
		return Outcome{}, &Error{Kind: KindTimeout, Op: req.Op, Err: ErrNoState}
	}
	return Outcome{Value: Project(req, doc), Source: SourceSocket}, nil
}

func (r *Router) readFallback(ctx context.Context, target Target, req Request, cause error) (Outcome, error) {
	if !target.Fallback || r.fallback == nil {
		return Outcome{}, connectionFailure(req.Op, cause)
	}

	endpoint, kind := req.fallbackRead()
	resp, err := r.fallback.Get(ctx, target.Key.Host, target.Key.Port, endpoint, func(v document.Value) bool {
		return v.Kind() == kind
	})
	if err != nil {
		return Outcome{}, &Error{Kind: KindAllTransportsFailed, Op: req.Op, Err: fmt.Errorf("socket: %w; http: %w", cause, err)}
	}

	v := resp.Value
	if req.Op == OpQueue {
		v = FilterQueue(v, req.Slot)
	}
	src := SourceFallback
	if resp.Cached {
		src = SourceCache
	}
	return Outcome{Value: v, Source: src, Path: resp.Path}, nil
}
