package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/foldwatch/internal/clock"
	"grimm.is/foldwatch/internal/dispatch"
	"grimm.is/foldwatch/internal/document"
	"grimm.is/foldwatch/internal/router"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, clk clock.Clock) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "audit.db")
	s, err := NewStore(path, 30, clk)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestStore_WriteAndQuery(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, clock.NewMockClock(base))

	require.NoError(t, s.Write(ctx, Event{Timestamp: base, Caller: "cli", Action: "pause", Target: "desk", OK: true}))
	require.NoError(t, s.Write(ctx, Event{Timestamp: base.Add(time.Minute), Caller: "api 10.0.0.8", Action: "resume", Target: "desk", OK: true}))
	require.NoError(t, s.Write(ctx, Event{Timestamp: base.Add(2 * time.Minute), Caller: "cli", Action: "pause", Target: "laptop", Failure: "Timeout"}))

	all, err := s.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "laptop", all[0].Target, "newest first")
	assert.Equal(t, "Timeout", all[0].Failure)
	assert.False(t, all[0].OK)
	assert.True(t, all[2].OK)
	assert.Equal(t, base, all[2].Timestamp)

	byTarget, err := s.Query(ctx, Filter{Target: "desk", Action: "pause"})
	require.NoError(t, err)
	require.Len(t, byTarget, 1)
	assert.Equal(t, "cli", byTarget[0].Caller)

	window, err := s.Query(ctx, Filter{Since: base.Add(30 * time.Second), Until: base.Add(90 * time.Second)})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "resume", window[0].Action)

	limited, err := s.Query(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestStore_EmptyQueryIsNotNil(t *testing.T) {
	s, _ := newTestStore(t, nil)
	events, err := s.Query(context.Background(), Filter{Target: "none"})
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

func TestStore_RecordWrite(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMockClock(base)
	s, _ := newTestStore(t, clk)

	cfg := document.MustFromAny(map[string]any{"power": "full"})
	req := router.Request{Op: router.OpPushConfig, Config: cfg}
	res := dispatch.Result{Target: "desk", Op: router.OpPushConfig, OK: true, Source: router.SourceFallback, At: base}
	require.NoError(t, s.RecordWrite(ctx, "cli", req, res))

	failed := dispatch.Result{Target: "desk", Op: router.OpPause, Failure: router.KindConnectionRefused, Detail: "pause: ConnectionRefused"}
	clk.Advance(time.Second)
	require.NoError(t, s.RecordWrite(ctx, "cli", router.Request{Op: router.OpPause}, failed))

	events, err := s.Query(ctx, Filter{Target: "desk"})
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "pause", events[0].Action)
	assert.Equal(t, base.Add(time.Second), events[0].Timestamp, "zero result time is stamped by the store clock")
	assert.Equal(t, "ConnectionRefused", events[0].Failure)
	assert.Equal(t, map[string]any{"detail": "pause: ConnectionRefused"}, events[0].Details)

	assert.Equal(t, "push-config", events[1].Action)
	assert.True(t, events[1].OK)
	assert.Equal(t, map[string]any{
		"config": map[string]any{"power": "full"},
		"source": "fallback",
	}, events[1].Details)
}

func TestStore_PruneOnOpen(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMockClock(base)
	s, path := newTestStore(t, clk)

	require.NoError(t, s.Write(ctx, Event{Timestamp: base.AddDate(0, 0, -45), Caller: "cli", Action: "pause", Target: "old"}))
	require.NoError(t, s.Write(ctx, Event{Timestamp: base.AddDate(0, 0, -5), Caller: "cli", Action: "pause", Target: "recent"}))
	require.NoError(t, s.Close())

	reopened, err := NewStore(path, 30, clk)
	require.NoError(t, err)
	defer reopened.Close()

	events, err := reopened.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "recent", events[0].Target)

	pruned, err := reopened.Prune(ctx)
	require.NoError(t, err)
	assert.Zero(t, pruned)
}
