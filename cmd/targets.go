package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"grimm.is/foldwatch/internal/router"
	"grimm.is/foldwatch/internal/tui"
)

func newTargetsCmd(flags *globalFlags) *cobra.Command {
	var probe bool
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "List configured targets and their connection state",
		Long: `List configured targets. Connections are opened on demand, so a fresh
process reports every enabled target as disconnected unless --probe is given,
which reads each target's info first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				if probe {
					rt.dispatcher.DispatchAll(ctx, router.Request{Op: router.OpInfo})
				}
				statuses := rt.dispatcher.Statuses()
				return render(cmd.OutOrStdout(), flags.output, statuses, func(w io.Writer) error {
					_, err := fmt.Fprintln(w, tui.TargetTable(statuses, time.Now()))
					return err
				})
			})
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", false, "Contact every enabled target before reporting")
	return cmd
}
