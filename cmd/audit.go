package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"grimm.is/foldwatch/internal/audit"
	"grimm.is/foldwatch/internal/tui"
)

func newAuditCmd(flags *globalFlags) *cobra.Command {
	var (
		f     audit.Filter
		since time.Duration
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recorded write commands",
		Long: `Show the write commands (pause, resume, push-config) recorded in the audit
log, newest first. Requires audit.enabled in the configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Audit.Enabled {
				return fmt.Errorf("audit log is disabled in %s", flags.configPath)
			}

			store, err := audit.NewStore(cfg.Audit.Path, cfg.Audit.RetentionDays, nil)
			if err != nil {
				return fmt.Errorf("failed to open audit log: %w", err)
			}
			defer store.Close()

			if since > 0 {
				f.Since = time.Now().Add(-since)
			}
			entries, err := store.Query(cmd.Context(), f)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), flags.output, entries, func(w io.Writer) error {
				if len(entries) == 0 {
					_, err := fmt.Fprintln(w, "No audit entries.")
					return err
				}
				_, err := fmt.Fprintln(w, tui.AuditTable(entries))
				return err
			})
		},
	}
	cmd.Flags().StringVar(&f.Target, "target", "", "Only show commands sent to this target")
	cmd.Flags().StringVar(&f.Action, "action", "", "Only show this operation (pause, resume, push-config)")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "Maximum number of entries")
	cmd.Flags().DurationVar(&since, "since", 0, "Only show entries newer than this, e.g. 24h")
	return cmd
}
