package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"grimm.is/foldwatch/internal/dispatch"
	"grimm.is/foldwatch/internal/router"
)

type opCmdSpec struct {
	op    router.Op
	short string
}

var simpleOps = []opCmdSpec{
	{router.OpPause, "Pause folding on a target"},
	{router.OpResume, "Resume folding on a target"},
	{router.OpSnapshot, "Print the full mirrored state of a target"},
	{router.OpInfo, "Print host information reported by a target"},
	{router.OpLog, "Print the log lines held by a target"},
	{router.OpSlots, "List the resource slots of a target"},
}

// newOpCmds builds one command per operation that takes no arguments
// besides the target.
func newOpCmds(flags *globalFlags) []*cobra.Command {
	cmds := make([]*cobra.Command, 0, len(simpleOps)+1)
	for _, spec := range simpleOps {
		cmds = append(cmds, newSimpleOpCmd(flags, spec))
	}
	return append(cmds, newQueueCmd(flags))
}

func newSimpleOpCmd(flags *globalFlags, spec opCmdSpec) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   string(spec.op) + " [target...]",
		Short: spec.short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return fmt.Errorf("name at least one target or pass --all")
			}
			req := router.Request{Op: spec.op}
			return flags.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				return dispatchAndRender(ctx, cmd, flags, rt.dispatcher, args, all, req)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Run against every enabled target")
	return cmd
}

func newQueueCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "queue <target> <slot>",
		Short: "Print the work units assigned to one slot of a target",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			slot, err := strconv.Atoi(args[1])
			if err != nil || slot < 0 {
				return fmt.Errorf("invalid slot %q", args[1])
			}
			req := router.Request{Op: router.OpQueue, Slot: slot}
			return flags.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				return dispatchAndRender(ctx, cmd, flags, rt.dispatcher, args[:1], false, req)
			})
		},
	}
}

// dispatcher is what the commands need from dispatch.Dispatcher.
type dispatcher interface {
	Dispatch(ctx context.Context, id string, req router.Request) dispatch.Result
	DispatchAll(ctx context.Context, req router.Request) []dispatch.Result
}

func dispatchAndRender(ctx context.Context, cmd *cobra.Command, flags *globalFlags, d dispatcher, ids []string, all bool, req router.Request) error {
	var results []dispatch.Result
	if all {
		results = d.DispatchAll(ctx, req)
	} else {
		for _, id := range ids {
			results = append(results, d.Dispatch(ctx, id, req))
		}
	}
	if err := renderResults(cmd.OutOrStdout(), flags.output, results); err != nil {
		return err
	}
	return checkResults(results)
}
