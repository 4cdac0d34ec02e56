// Package cmd implements the foldwatch command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"grimm.is/foldwatch/internal/brand"
	"grimm.is/foldwatch/internal/config"
	"grimm.is/foldwatch/internal/dispatch"
)

// Output formats accepted by --output.
const (
	OutputText = "text"
	OutputJSON = "json"
	OutputYAML = "yaml"
)

// globalFlags holds the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	output     string
	timeout    time.Duration
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the command tree. Each call returns an independent tree
// so tests can run commands in isolation.
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   brand.BinaryName,
		Short: brand.Description,
		Long: brand.Name + ` keeps a persistent connection to each configured folding
daemon, mirrors its state locally and routes commands to it, falling back to
plain HTTP requests when the socket is unavailable.

Use "` + brand.BinaryName + ` [command] --help" for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch flags.output {
			case OutputText, OutputJSON, OutputYAML:
				return nil
			}
			return fmt.Errorf("unknown output format %q (want text, json or yaml)", flags.output)
		},
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", brand.DefaultConfigPath(), "Configuration file")
	root.PersistentFlags().StringVarP(&flags.output, "output", "o", OutputText, "Output format: text, json or yaml")
	root.PersistentFlags().DurationVar(&flags.timeout, "timeout", 30*time.Second, "Overall deadline for one command")

	root.AddCommand(
		newVersionCmd(),
		newCheckCmd(flags),
		newServeCmd(flags),
		newTargetsCmd(flags),
		newPushConfigCmd(flags),
		newAuditCmd(flags),
	)
	for _, cmd := range newOpCmds(flags) {
		root.AddCommand(cmd)
	}
	return root
}

func (f *globalFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// withRuntime loads the configuration, wires a runtime, runs fn under the
// command deadline and tears the runtime down afterwards.
func (f *globalFlags) withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime) error) error {
	cfg, err := f.loadConfig()
	if err != nil {
		return err
	}
	rt, err := newRuntime(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), f.timeout)
	defer cancel()
	return fn(dispatch.WithCaller(ctx, "cli"), rt)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n", brand.Name)
			fmt.Fprintf(out, "  Version: %s\n", brand.Version)
			fmt.Fprintf(out, "  Commit:  %s\n", brand.GitCommit)
		},
	}
}

func newCheckCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check [config-file]",
		Short: "Validate a configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := flags.configPath
			if len(args) == 1 {
				path = args[0]
			}
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("configuration invalid: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration valid!\n")
			fmt.Fprintf(out, "Listen:    %s\n", cfg.Listen)
			fmt.Fprintf(out, "Endpoints: %d\n", len(cfg.Endpoints))
			fmt.Fprintf(out, "Fallback:  %t\n", cfg.FallbackEnabled())
			return nil
		},
	}
}

// exitCode maps an Execute error onto a process exit status.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if _, ok := err.(*opFailedError); ok {
		return 2
	}
	return 1
}

// Main runs the CLI and exits the process.
func Main() {
	err := Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCode(err))
}
