package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"

	"grimm.is/foldwatch/internal/dispatch"
	"grimm.is/foldwatch/internal/document"
	"grimm.is/foldwatch/internal/protocol"
	"grimm.is/foldwatch/internal/router"
)

func newPushConfigCmd(flags *globalFlags) *cobra.Command {
	var showDiff, dryRun bool
	cmd := &cobra.Command{
		Use:   "push-config <target> <file|->",
		Short: "Send configuration values to a target",
		Long: `Send a JSON object of configuration values to a target. Keys not present in
the file keep their current value on the daemon.

With --diff the target's current configuration is read first and a unified
diff of the change is printed. --dry-run prints the diff without pushing.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			next, err := readConfigFile(cmd.InOrStdin(), args[1])
			if err != nil {
				return err
			}

			return flags.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				if showDiff || dryRun {
					snap := rt.dispatcher.Dispatch(ctx, args[0], router.Request{Op: router.OpSnapshot})
					if !snap.OK {
						if err := renderResults(cmd.OutOrStdout(), flags.output, []dispatch.Result{snap}); err != nil {
							return err
						}
						return checkResults([]dispatch.Result{snap})
					}
					current, _ := snap.Data.Get(protocol.FieldConfig)
					diff, err := configDiff(current, next)
					if err != nil {
						return err
					}
					if diff == "" {
						fmt.Fprintln(cmd.OutOrStdout(), "No changes.")
					} else {
						fmt.Fprint(cmd.OutOrStdout(), diff)
					}
					if dryRun {
						return nil
					}
				}

				req := router.Request{Op: router.OpPushConfig, Config: next}
				return dispatchAndRender(ctx, cmd, flags, rt.dispatcher, args[:1], false, req)
			})
		},
	}
	cmd.Flags().BoolVar(&showDiff, "diff", false, "Print a diff against the current configuration")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the diff and exit without pushing")
	return cmd
}

// readConfigFile decodes a JSON object from path, or from stdin when path
// is "-".
func readConfigFile(stdin io.Reader, path string) (document.Value, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return document.Value{}, fmt.Errorf("failed to read config: %w", err)
	}

	v, err := document.Decode(data)
	if err != nil {
		return document.Value{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if v.Kind() != document.KindMap {
		return document.Value{}, fmt.Errorf("config must be a JSON object, got %s", v.Kind())
	}
	return v, nil
}

// overlay returns current with every key of next set on top.
func overlay(current, next document.Value) document.Value {
	entries := make(map[string]document.Value)
	if current.Kind() == document.KindMap {
		for _, k := range current.Keys() {
			entries[k], _ = current.Get(k)
		}
	}
	for _, k := range next.Keys() {
		entries[k], _ = next.Get(k)
	}
	return document.NewMap(entries)
}

// configDiff returns a unified diff from current to current overlaid with
// next, or "" when nothing would change.
func configDiff(current, next document.Value) (string, error) {
	if current.Kind() != document.KindMap {
		current = document.EmptyMap()
	}
	merged := overlay(current, next)
	if document.Equal(current, merged) {
		return "", nil
	}

	before, err := indentDocument(current)
	if err != nil {
		return "", err
	}
	after, err := indentDocument(merged)
	if err != nil {
		return "", err
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(before + "\n"),
		B:        difflib.SplitLines(after + "\n"),
		FromFile: "current",
		ToFile:   "pushed",
		Context:  3,
	}
	return difflib.GetUnifiedDiffString(diff)
}
