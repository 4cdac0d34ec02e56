package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/foldwatch/internal/client"
	"grimm.is/foldwatch/internal/clock"
	"grimm.is/foldwatch/internal/document"
	"grimm.is/foldwatch/internal/metrics"
	"grimm.is/foldwatch/internal/registry"
	fakes "grimm.is/foldwatch/internal/testutil"
)

var errRefused = errors.New("dial tcp: connect: connection refused")

// harness wires a router to fake transports and a mock clock.
type harness struct {
	t       *testing.T
	reg     *registry.Registry
	router  *Router
	clk     *clock.MockClock
	metrics *metrics.Registry

	connectErr error
	dials      atomic.Int32
	mu         sync.Mutex
	last       *fakes.FakeTransport
}

func newHarness(t *testing.T, fb *client.Fallback) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		clk:     clock.NewMockClock(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)),
		metrics: metrics.NewRegistry(prometheus.NewRegistry()),
	}
	h.reg = registry.New(registry.Options{Clock: h.clk, Metrics: h.metrics, ConnectTimeout: time.Second})
	t.Cleanup(func() { h.reg.Close() })

	h.router = New(h.reg, Options{
		Connector: h.connect,
		Fallback:  fb,
		Clock:     h.clk,
		Metrics:   h.metrics,
	})
	return h
}

func (h *harness) connect(ctx context.Context, key registry.Key) (registry.Transport, error) {
	h.dials.Add(1)
	if h.connectErr != nil {
		return nil, h.connectErr
	}
	tr := fakes.NewFakeTransport()
	h.mu.Lock()
	h.last = tr
	h.mu.Unlock()
	return tr, nil
}

func (h *harness) transport() *fakes.FakeTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// seed connects key and waits until frame has been folded.
func (h *harness) seed(key registry.Key, frame string) {
	h.t.Helper()
	_, err := h.reg.Acquire(context.Background(), key, h.connect)
	require.NoError(h.t, err)
	h.transport().Push(frame)
	require.Eventually(h.t, func() bool {
		_, ok := h.reg.Current(key)
		return ok
	}, 2*time.Second, 5*time.Millisecond)
}

type result struct {
	out Outcome
	err error
}

// executeAsync runs req in the background so the test can drive the clock.
func (h *harness) executeAsync(target Target, req Request) <-chan result {
	ch := make(chan result, 1)
	go func() {
		out, err := h.router.Execute(context.Background(), target, req)
		ch <- result{out, err}
	}()
	return ch
}

func await(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("operation did not finish")
		return result{}
	}
}

func kindOf(t *testing.T, err error) Kind {
	t.Helper()
	var re *Error
	require.True(t, errors.As(err, &re), "expected *router.Error, got %v", err)
	return re.Kind
}

// countingDaemon is an HTTP-only daemon that records every request.
type countingDaemon struct {
	*fakes.FakeDaemon
	hits atomic.Int32
}

func newCountingDaemon(t *testing.T) *countingDaemon {
	d := &countingDaemon{FakeDaemon: fakes.NewFakeDaemon(t)}
	d.Handle("/", func(w http.ResponseWriter, r *http.Request) {
		d.hits.Add(1)
		http.NotFound(w, r)
	})
	return d
}

func newFallback(t *testing.T) *client.Fallback {
	fb := client.NewFallback(
		client.WithAttemptTimeout(2*time.Second),
		client.WithFallbackMetrics(metrics.NewRegistry(prometheus.NewRegistry())),
	)
	t.Cleanup(fb.Close)
	return fb
}

func TestWrite_PauseSendsCommandAndReturnsSettledState(t *testing.T) {
	h := newHarness(t, nil)
	target := Target{Key: registry.Key{ClientID: "desk", Host: "10.0.0.5", Port: 7396}}
	h.seed(target.Key, `{"state":"fold"}`)

	done := h.executeAsync(target, Request{Op: OpPause})
	h.clk.WaitForTimers(1)

	cmds := h.transport().Commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, "state", cmds[1]["cmd"])
	assert.Equal(t, "pause", cmds[1]["state"])
	assert.Equal(t, "2024-06-01T00:00:00.000Z", cmds[1]["time"])

	h.transport().Push(`["state","pause"]`)
	require.Eventually(t, func() bool {
		doc, _ := h.reg.Current(target.Key)
		return doc.String() == `{"state":"pause"}`
	}, 2*time.Second, 5*time.Millisecond)

	h.clk.Advance(DefaultCommandSettle)
	res := await(t, done)
	require.NoError(t, res.err)
	assert.Equal(t, SourceSocket, res.out.Source)
	assert.Equal(t, `{"state":"pause"}`, res.out.Value.String())
	assert.EqualValues(t, 1, h.dials.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.CommandsTotal.WithLabelValues("pause", "ok")))

	// A following read observes the pause, never an unrequested resume.
	out, err := h.router.Execute(context.Background(), target, Request{Op: OpSnapshot})
	require.NoError(t, err)
	state, _ := out.Value.Get("state")
	assert.Equal(t, `"pause"`, state.String())
}

func TestWrite_ResumeAndPushConfigFrames(t *testing.T) {
	h := newHarness(t, nil)
	target := Target{Key: registry.Key{ClientID: "desk", Host: "10.0.0.5", Port: 7396}}
	h.seed(target.Key, `{}`)

	done := h.executeAsync(target, Request{Op: OpResume})
	h.clk.WaitForTimers(1)
	h.clk.Advance(DefaultCommandSettle)
	require.NoError(t, await(t, done).err)

	cfg := document.MustFromAny(map[string]any{"user": "anon", "team": 0})
	done = h.executeAsync(target, Request{Op: OpPushConfig, Config: cfg})
	h.clk.WaitForTimers(1)
	h.clk.Advance(DefaultCommandSettle)
	require.NoError(t, await(t, done).err)

	cmds := h.transport().Commands()
	require.Len(t, cmds, 3)
	assert.Equal(t, "state", cmds[1]["cmd"])
	assert.Equal(t, "fold", cmds[1]["state"])
	assert.Equal(t, "config", cmds[2]["cmd"])
	assert.Equal(t, map[string]any{"user": "anon", "team": 0.0}, cmds[2]["config"])
}

func TestWrite_NoStateAvailableIsNotEscalated(t *testing.T) {
	daemon := newCountingDaemon(t)
	h := newHarness(t, newFallback(t))
	target := Target{Key: registry.Key{ClientID: "desk", Host: daemon.Host, Port: daemon.Port}, Fallback: true}

	done := h.executeAsync(target, Request{Op: OpPause})
	h.clk.WaitForTimers(1)
	h.clk.Advance(DefaultCommandSettle)

	res := await(t, done)
	require.Error(t, res.err)
	assert.Equal(t, KindNoStateAvailable, kindOf(t, res.err))
	assert.ErrorIs(t, res.err, ErrNoState)
	assert.EqualValues(t, 0, daemon.hits.Load(), "a sent command must not be retried over HTTP")
}

func TestWrite_SendFailureIsNotEscalated(t *testing.T) {
	daemon := newCountingDaemon(t)
	h := newHarness(t, newFallback(t))
	target := Target{Key: registry.Key{ClientID: "desk", Host: daemon.Host, Port: daemon.Port}, Fallback: true}
	h.seed(target.Key, `{}`)
	h.transport().SetWriteError(errors.New("broken pipe"))

	_, err := h.router.Execute(context.Background(), target, Request{Op: OpPause})
	require.Error(t, err)
	assert.Equal(t, KindConnectionRefused, kindOf(t, err))
	assert.EqualValues(t, 0, daemon.hits.Load())
}

func TestWrite_ConnectFailureFallsBackToHTTP(t *testing.T) {
	daemon := fakes.NewFakeDaemon(t)
	var body map[string]any
	var mu sync.Mutex
	daemon.Handle("/state", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		json.Unmarshal(b, &body)
		mu.Unlock()
		w.Write([]byte(`{"ok":true}`))
	})

	h := newHarness(t, newFallback(t))
	h.connectErr = errRefused
	target := Target{Key: registry.Key{ClientID: "desk", Host: daemon.Host, Port: daemon.Port}, Fallback: true}

	out, err := h.router.Execute(context.Background(), target, Request{Op: OpResume})
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, out.Source)
	assert.Equal(t, "/state", out.Path)
	assert.Equal(t, `{"ok":true}`, out.Value.String())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]any{"state": "fold"}, body)
}

func TestWrite_ConnectFailureWithoutFallback(t *testing.T) {
	h := newHarness(t, newFallback(t))
	target := Target{Key: registry.Key{ClientID: "desk", Host: "127.0.0.1", Port: 1}}

	h.connectErr = errRefused
	_, err := h.router.Execute(context.Background(), target, Request{Op: OpPause})
	assert.Equal(t, KindConnectionRefused, kindOf(t, err))
	assert.ErrorIs(t, err, errRefused)

	h.connectErr = context.DeadlineExceeded
	_, err = h.router.Execute(context.Background(), target, Request{Op: OpSnapshot})
	assert.Equal(t, KindTimeout, kindOf(t, err))
}

func TestRead_ProjectsLocallyWhenDocumentExists(t *testing.T) {
	daemon := newCountingDaemon(t)
	h := newHarness(t, newFallback(t))
	target := Target{Key: registry.Key{ClientID: "desk", Host: daemon.Host, Port: daemon.Port}, Fallback: true}
	h.seed(target.Key, `{"units":[{"slot":0,"id":"a"},{"slot":1,"id":"b"}],"log":["x"]}`)

	out, err := h.router.Execute(context.Background(), target, Request{Op: OpQueue, Slot: 1})
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"b","slot":1}]`, out.Value.String())

	out, err = h.router.Execute(context.Background(), target, Request{Op: OpLog})
	require.NoError(t, err)
	assert.Equal(t, `["x"]`, out.Value.String())

	assert.EqualValues(t, 1, h.dials.Load())
	assert.Zero(t, h.clk.Pending(), "local projection must not wait")
	assert.EqualValues(t, 0, daemon.hits.Load())
}

func TestRead_TimeoutWhenDaemonStaysSilent(t *testing.T) {
	h := newHarness(t, nil)
	target := Target{Key: registry.Key{ClientID: "desk", Host: "10.0.0.5", Port: 7396}}

	done := h.executeAsync(target, Request{Op: OpInfo})
	h.clk.WaitForTimers(1)
	h.clk.Advance(DefaultReadSettle)

	res := await(t, done)
	assert.Equal(t, KindTimeout, kindOf(t, res.err))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.CommandsTotal.WithLabelValues("info", "Timeout")))
}

func TestRead_FallbackAllFail(t *testing.T) {
	daemon := newCountingDaemon(t)
	h := newHarness(t, newFallback(t))
	h.connectErr = errRefused
	target := Target{Key: registry.Key{ClientID: "desk", Host: daemon.Host, Port: daemon.Port}, Fallback: true}

	_, err := h.router.Execute(context.Background(), target, Request{Op: OpLog})
	assert.Equal(t, KindAllTransportsFailed, kindOf(t, err))
	assert.EqualValues(t, 3, daemon.hits.Load())

	var all *client.AllFailedError
	assert.True(t, errors.As(err, &all))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindTimeout, KindOf(&Error{Kind: KindTimeout}))
	assert.Equal(t, KindConnectionRefused, KindOf(errors.New("other")))
	assert.Contains(t, (&Error{Kind: KindDisabled, Op: OpLog}).Error(), "Disabled")
}
