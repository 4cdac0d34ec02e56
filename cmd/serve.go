package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"grimm.is/foldwatch/internal/api"
	"grimm.is/foldwatch/internal/config"
	"grimm.is/foldwatch/internal/ratelimit"
	"grimm.is/foldwatch/internal/scheduler"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the broker and its HTTP API",
		Long: `Run the broker as a long-lived process. Connections to daemons are opened on
first use and kept until the daemon goes away. The HTTP API, live event feed
and Prometheus metrics are served on the configured listen address.

SIGINT or SIGTERM stops the server and closes every daemon connection.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}

			rt, err := newRuntime(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.Close(); err != nil {
					rt.logger.Warn("shutdown failed", "error", err)
				}
				rt.logger.Info("broker stopped")
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := api.ServerOptions{
				Broker:   rt.dispatcher,
				Health:   rt.health,
				Hub:      rt.hub,
				Gatherer: rt.promReg,
				Logger:   rt.logger,
			}
			if rt.audit != nil {
				opts.Audit = rt.audit
			}
			if cfg.API.WriteLimit > 0 {
				opts.Limiter = ratelimit.NewLimiter(cfg.API.WriteLimit, cfg.WriteWindow(), nil)
			}

			sched, err := newScheduler(cfg, rt)
			if err != nil {
				return err
			}
			sched.Start(ctx)
			defer sched.Stop()
			opts.Tasks = sched

			server := api.NewServer(opts)
			rt.logger.Info("broker starting", "targets", rt.dispatcher.Targets().Len(), "fallback", cfg.FallbackEnabled())
			return server.Start(ctx, cfg.Listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Override the listen address")
	return cmd
}

// newScheduler registers the background tasks enabled by cfg.
func newScheduler(cfg *config.Config, rt *runtime) (*scheduler.Scheduler, error) {
	sched := scheduler.New(scheduler.Options{Logger: rt.logger})
	if every := cfg.ProbeEvery(); every > 0 {
		if err := sched.AddTask(scheduler.NewProbeTask(rt.dispatcher, every)); err != nil {
			return nil, err
		}
	}
	if rt.audit != nil {
		at, err := scheduler.ParseDaily(cfg.Audit.PruneAt)
		if err != nil {
			return nil, err
		}
		if err := sched.AddTask(scheduler.NewAuditPruneTask(rt.audit, at)); err != nil {
			return nil, err
		}
	}
	return sched, nil
}
