package cmd

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"grimm.is/foldwatch/internal/audit"
	"grimm.is/foldwatch/internal/client"
	"grimm.is/foldwatch/internal/config"
	"grimm.is/foldwatch/internal/dispatch"
	"grimm.is/foldwatch/internal/events"
	"grimm.is/foldwatch/internal/health"
	"grimm.is/foldwatch/internal/logging"
	"grimm.is/foldwatch/internal/metrics"
	"grimm.is/foldwatch/internal/registry"
	"grimm.is/foldwatch/internal/router"
)

// runtime is the wired broker: one registry, router and dispatcher built
// from a loaded configuration.
type runtime struct {
	cfg        *config.Config
	logger     *logging.Logger
	promReg    *prometheus.Registry
	hub        *events.Hub
	registry   *registry.Registry
	fallback   *client.Fallback
	audit      *audit.Store // nil unless audit.enabled
	dispatcher *dispatch.Dispatcher
	health     *health.Checker
}

func newRuntime(cfg *config.Config, logOut io.Writer) (*runtime, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := logging.New(logging.Config{Level: level, Output: logOut, JSON: cfg.LogJSON})
	logging.SetDefault(logger)

	targets, err := dispatch.NewTargets(cfg.TargetSpecs())
	if err != nil {
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewRegistry(promReg)
	hub := events.NewHub()

	reg := registry.New(registry.Options{
		ConnectTimeout: cfg.ConnectTimeout(),
		Logger:         logger,
		Metrics:        m,
		Events:         hub,
	})

	var fb *client.Fallback
	if cfg.FallbackEnabled() {
		fb = client.NewFallback(
			client.WithAttemptTimeout(cfg.FallbackRequestTimeout()),
			client.WithCacheTTL(cfg.CacheTTL()),
			client.WithFallbackMetrics(m),
			client.WithFallbackLogger(logger),
		)
	}

	r := router.New(reg, router.Options{
		CommandSettle: cfg.CommandSettle(),
		ReadSettle:    cfg.ReadSettle(),
		Fallback:      fb,
		Logger:        logger,
		Metrics:       m,
		Events:        hub,
	})

	dopts := dispatch.Options{Logger: logger}
	var store *audit.Store
	if cfg.Audit.Enabled {
		store, err = audit.NewStore(cfg.Audit.Path, cfg.Audit.RetentionDays, nil)
		if err != nil {
			reg.Close()
			if fb != nil {
				fb.Close()
			}
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		dopts.Auditor = store
	}
	d := dispatch.New(targets, r, reg, dopts)

	checker := health.NewChecker(nil, health.DefaultTTL)
	checker.RegisterTargets(d, targets.List())

	return &runtime{
		cfg:        cfg,
		logger:     logger,
		promReg:    promReg,
		hub:        hub,
		registry:   reg,
		fallback:   fb,
		audit:      store,
		dispatcher: d,
		health:     checker,
	}, nil
}

// Close tears down every connection, stops the fallback cache and closes
// the audit log.
func (rt *runtime) Close() error {
	err := rt.registry.Close()
	if rt.fallback != nil {
		rt.fallback.Close()
	}
	if rt.audit != nil {
		if cerr := rt.audit.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
