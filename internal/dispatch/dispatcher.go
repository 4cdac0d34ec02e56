// Package dispatch is the external face of the broker: it resolves a target
// id, runs an operation through the router and returns the outcome as a
// Result value. Nothing crossing this boundary is a bare error.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"grimm.is/foldwatch/internal/clock"
	"grimm.is/foldwatch/internal/document"
	"grimm.is/foldwatch/internal/logging"
	"grimm.is/foldwatch/internal/registry"
	"grimm.is/foldwatch/internal/router"
)

// Executor runs one operation against one target.
type Executor interface {
	Execute(ctx context.Context, target router.Target, req router.Request) (router.Outcome, error)
}

// ConnectionInfo reports live connection details.
type ConnectionInfo interface {
	Info(key registry.Key) (registry.Info, bool)
}

// Auditor persists write operations once they have completed, successful or
// not.
type Auditor interface {
	RecordWrite(ctx context.Context, caller string, req router.Request, res Result) error
}

// Result is the envelope returned for every dispatched operation.
type Result struct {
	Target  string         `json:"target" yaml:"target"`
	Op      router.Op      `json:"op" yaml:"op"`
	OK      bool           `json:"ok" yaml:"ok"`
	Data    document.Value `json:"data" yaml:"data"`
	Source  router.Source  `json:"source,omitempty" yaml:"source,omitempty"`
	Failure router.Kind    `json:"failure,omitempty" yaml:"failure,omitempty"`
	Reason  string         `json:"reason,omitempty" yaml:"reason,omitempty"`
	Detail  string         `json:"detail,omitempty" yaml:"detail,omitempty"`
	At      time.Time      `json:"at" yaml:"at"`
}

// State is the connection state of a target.
type State string

const (
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateDisabled     State = "disabled"
)

// Status describes one target for dashboards and health checks.
type Status struct {
	Target       string    `json:"target" yaml:"target"`
	Host         string    `json:"host" yaml:"host"`
	Port         int       `json:"port" yaml:"port"`
	State        State     `json:"state" yaml:"state"`
	Reason       string    `json:"reason,omitempty" yaml:"reason,omitempty"`
	ConnectionID string    `json:"connection_id,omitempty" yaml:"connection_id,omitempty"`
	HasDocument  bool      `json:"has_document" yaml:"has_document"`
	LastActivity time.Time `json:"last_activity,omitempty" yaml:"last_activity,omitempty"`
	LastFailure  time.Time `json:"last_failure,omitempty" yaml:"last_failure,omitempty"`
}

type failure struct {
	reason string
	at     time.Time
}

// Options configures a Dispatcher.
type Options struct {
	Clock   clock.Clock
	Logger  *logging.Logger
	Auditor Auditor // optional
}

// Dispatcher resolves targets and runs operations on them.
type Dispatcher struct {
	targets *Targets
	exec    Executor
	conns   ConnectionInfo
	clock   clock.Clock
	logger  *logging.Logger
	auditor Auditor

	mu       sync.Mutex
	failures map[string]failure
}

// New creates a Dispatcher.
func New(targets *Targets, exec Executor, conns ConnectionInfo, opts Options) *Dispatcher {
	d := &Dispatcher{
		targets:  targets,
		exec:     exec,
		conns:    conns,
		clock:    opts.Clock,
		logger:   logging.OrDefault(opts.Logger, "dispatch"),
		auditor:  opts.Auditor,
		failures: make(map[string]failure),
	}
	if d.clock == nil {
		d.clock = clock.Real()
	}
	return d
}

// Targets returns the target table.
func (d *Dispatcher) Targets() *Targets { return d.targets }

// Dispatch runs req on the target named id. Write operations are audited.
func (d *Dispatcher) Dispatch(ctx context.Context, id string, req router.Request) Result {
	res := d.dispatch(ctx, id, req)
	if req.Op.IsWrite() {
		d.audit(ctx, req, res)
	}
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, id string, req router.Request) Result {
	res := Result{Target: id, Op: req.Op}

	spec, ok := d.targets.Lookup(id)
	if !ok {
		return d.fail(res, router.KindNotFound, nil)
	}
	if !spec.Enabled {
		return d.fail(res, router.KindDisabled, nil)
	}

	out, err := d.exec.Execute(ctx, router.Target{Key: spec.Key(), Fallback: spec.Fallback}, req)
	if err != nil {
		res = d.fail(res, router.KindOf(err), err)
		d.recordFailure(id, res.Reason, res.At)
		d.logger.Warn("operation failed", "target", id, "op", req.Op, "failure", res.Failure, "error", err)
		return res
	}

	d.clearFailure(id)
	res.OK = true
	res.Data = out.Value
	res.Source = out.Source
	res.At = d.clock.Now()
	return res
}

func (d *Dispatcher) audit(ctx context.Context, req router.Request, res Result) {
	caller := CallerFrom(ctx)
	details := map[string]any{"caller": caller, "ok": res.OK}
	if !res.OK {
		details["failure"] = string(res.Failure)
	}
	if req.Op == router.OpPushConfig {
		details["config"] = req.Config.String()
	}
	d.logger.Audit(string(req.Op), res.Target, details)

	if d.auditor == nil {
		return
	}
	// The caller's deadline may already be spent by a slow daemon.
	if err := d.auditor.RecordWrite(context.WithoutCancel(ctx), caller, req, res); err != nil {
		d.logger.Warn("failed to record audit entry", "target", res.Target, "op", req.Op, "error", err)
	}
}

func (d *Dispatcher) fail(res Result, kind router.Kind, err error) Result {
	res.OK = false
	res.Failure = kind
	res.Reason = Reason(kind)
	if err != nil {
		res.Detail = err.Error()
	}
	res.At = d.clock.Now()
	return res
}

// Reason is the short human-readable text shown for a failure kind.
func Reason(kind router.Kind) string {
	switch kind {
	case router.KindNotFound:
		return "no such target"
	case router.KindDisabled:
		return "target disabled"
	case router.KindConnectionRefused:
		return "connection refused"
	case router.KindTimeout:
		return "timed out waiting for daemon"
	case router.KindNoStateAvailable:
		return "no state observed after command"
	case router.KindAllTransportsFailed:
		return "socket and HTTP fallback failed"
	}
	return string(kind)
}

// DispatchAll runs req on every enabled target concurrently. Results follow
// configuration order; one target failing never affects the others.
func (d *Dispatcher) DispatchAll(ctx context.Context, req router.Request) []Result {
	enabled := d.targets.Enabled()
	results := make([]Result, len(enabled))

	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range enabled {
		g.Go(func() error {
			results[i] = d.Dispatch(gctx, spec.ID, req)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ErrUnknownTarget is returned by Status for ids not in the table.
var ErrUnknownTarget = errors.New("unknown target")

// Status describes the target named id.
func (d *Dispatcher) Status(id string) (Status, error) {
	spec, ok := d.targets.Lookup(id)
	if !ok {
		return Status{}, ErrUnknownTarget
	}
	return d.status(spec), nil
}

// Statuses describes every target in configuration order.
func (d *Dispatcher) Statuses() []Status {
	specs := d.targets.List()
	out := make([]Status, len(specs))
	for i, s := range specs {
		out[i] = d.status(s)
	}
	return out
}

func (d *Dispatcher) status(spec TargetSpec) Status {
	st := Status{Target: spec.ID, Host: spec.Host, Port: spec.Port}

	d.mu.Lock()
	f, failed := d.failures[spec.ID]
	d.mu.Unlock()
	if failed {
		st.Reason = f.reason
		st.LastFailure = f.at
	}

	switch {
	case !spec.Enabled:
		st.State = StateDisabled
		st.Reason = Reason(router.KindDisabled)
	default:
		if info, ok := d.conns.Info(spec.Key()); ok {
			st.State = StateConnected
			st.ConnectionID = info.ID
			st.HasDocument = info.HasDocument
			st.LastActivity = info.LastActivity
		} else {
			st.State = StateDisconnected
		}
	}
	return st
}

func (d *Dispatcher) recordFailure(id, reason string, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[id] = failure{reason: reason, at: at}
}

func (d *Dispatcher) clearFailure(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.failures, id)
}
