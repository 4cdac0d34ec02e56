package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"grimm.is/foldwatch/internal/dispatch"
	"grimm.is/foldwatch/internal/router"
)

// Prober runs one operation against every enabled target.
type Prober interface {
	DispatchAll(ctx context.Context, req router.Request) []dispatch.Result
}

// Pruner drops expired records.
type Pruner interface {
	Prune(ctx context.Context) (int64, error)
}

// NewProbeTask reads every enabled target's info at a fixed interval. It
// keeps connections open, so health checks and the live event feed see
// daemons that no client has asked about yet.
func NewProbeTask(p Prober, interval time.Duration) *Task {
	return &Task{
		ID:          "probe-targets",
		Name:        "Probe Targets",
		Description: "Read info from every enabled target",
		Schedule:    Every(interval),
		Enabled:     true,
		RunOnStart:  true,
		Timeout:     interval,
		Func: func(ctx context.Context) error {
			results := p.DispatchAll(dispatch.WithCaller(ctx, "scheduler"), router.Request{Op: router.OpInfo})
			var failed []string
			for _, r := range results {
				if !r.OK {
					failed = append(failed, fmt.Sprintf("%s (%s)", r.Target, r.Failure))
				}
			}
			if len(failed) > 0 {
				return fmt.Errorf("%d of %d targets unreachable: %s", len(failed), len(results), strings.Join(failed, ", "))
			}
			return nil
		},
	}
}

// NewAuditPruneTask removes audit entries past their retention.
func NewAuditPruneTask(p Pruner, schedule Schedule) *Task {
	return &Task{
		ID:          "audit-prune",
		Name:        "Audit Prune",
		Description: "Delete audit entries older than the retention period",
		Schedule:    schedule,
		Enabled:     true,
		Timeout:     time.Minute,
		Func: func(ctx context.Context) error {
			_, err := p.Prune(ctx)
			return err
		},
	}
}
