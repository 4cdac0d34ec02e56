package router

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/foldwatch/internal/metrics"
	"grimm.is/foldwatch/internal/registry"
	fakes "grimm.is/foldwatch/internal/testutil"
)

// The daemon is unknown to the registry; a read-snapshot connects, the
// daemon pushes its state inside the settle window and the projection is
// that exact map.
func TestScenario_SnapshotOverFreshSocket(t *testing.T) {
	daemon := fakes.NewFakeDaemon(t, fakes.WithInitialFrames(`{"info":{"cpus":8}}`))
	m := metrics.NewRegistry(prometheus.NewRegistry())
	reg := registry.New(registry.Options{Metrics: m})
	t.Cleanup(func() { reg.Close() })
	r := New(reg, Options{Metrics: m})

	target := Target{Key: registry.Key{ClientID: "K", Host: daemon.Host, Port: daemon.Port}}
	_, ok := reg.Current(target.Key)
	require.False(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := r.Execute(ctx, target, Request{Op: OpSnapshot})
	require.NoError(t, err)
	assert.Equal(t, SourceSocket, out.Source)
	assert.Equal(t, `{"info":{"cpus":8}}`, out.Value.String())
	assert.Equal(t, 1, daemon.Connections())
}

// The socket is refused; read-queue(0) walks the fallback conventions and
// the second one answers.
func TestScenario_QueueOverFallback(t *testing.T) {
	daemon := fakes.NewFakeDaemon(t, fakes.WithSocketRefused())
	var apiHits, v1Hits atomic.Int32
	daemon.Handle("/api/queue", func(w http.ResponseWriter, r *http.Request) {
		apiHits.Add(1)
		http.Error(w, "gone", http.StatusNotFound)
	})
	daemon.HandleJSON("/queue", `[{"slot":0,"project":1}]`)
	daemon.Handle("/api/v1/queue", func(w http.ResponseWriter, r *http.Request) {
		v1Hits.Add(1)
	})

	m := metrics.NewRegistry(prometheus.NewRegistry())
	reg := registry.New(registry.Options{Metrics: m})
	t.Cleanup(func() { reg.Close() })
	r := New(reg, Options{Metrics: m, Fallback: newFallback(t)})

	target := Target{Key: registry.Key{ClientID: "K", Host: daemon.Host, Port: daemon.Port}, Fallback: true}
	out, err := r.Execute(context.Background(), target, Request{Op: OpQueue, Slot: 0})
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, out.Source)
	assert.Equal(t, "/queue", out.Path)
	assert.Equal(t, `[{"project":1,"slot":0}]`, out.Value.String())

	assert.EqualValues(t, 1, apiHits.Load())
	assert.EqualValues(t, 0, v1Hits.Load())
	_, ok := reg.Current(target.Key)
	assert.False(t, ok, "a failed connect registers nothing")
}
