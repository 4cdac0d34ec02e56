// Package config loads the controller's HCL configuration.
package config

import (
	"time"

	"grimm.is/foldwatch/internal/brand"
	"grimm.is/foldwatch/internal/dispatch"
)

// Default values applied to fields left out of the file.
const (
	DefaultLogLevel        = "info"
	DefaultConnect         = "5s"
	DefaultCommandSettle   = "500ms"
	DefaultReadSettle      = "1s"
	DefaultFallbackRequest = "5s"
	DefaultCacheTTL        = "2s"
	DefaultRetentionDays   = 90
	DefaultWriteWindow     = "1m"
	DefaultProbeInterval   = "0s"
	DefaultPruneAt         = "03:00"
)

// Config is the top-level configuration.
type Config struct {
	Listen   string `hcl:"listen,optional" json:"listen"`
	LogLevel string `hcl:"log_level,optional" json:"log_level"`
	LogJSON  bool   `hcl:"log_json,optional" json:"log_json"`
	// ProbeInterval makes serve read every target's info periodically.
	// Zero disables probing.
	ProbeInterval string `hcl:"probe_interval,optional" json:"probe_interval"`

	Timeouts  *Timeouts  `hcl:"timeouts,block" json:"timeouts"`
	Fallback  *Fallback  `hcl:"fallback,block" json:"fallback"`
	API       *API       `hcl:"api,block" json:"api"`
	Audit     *Audit     `hcl:"audit,block" json:"audit"`
	Endpoints []Endpoint `hcl:"endpoint,block" json:"endpoints"`
}

// Timeouts holds duration strings such as "500ms" or "5s".
type Timeouts struct {
	Connect         string `hcl:"connect,optional" json:"connect"`
	CommandSettle   string `hcl:"command_settle,optional" json:"command_settle"`
	ReadSettle      string `hcl:"read_settle,optional" json:"read_settle"`
	FallbackRequest string `hcl:"fallback_request,optional" json:"fallback_request"`
}

// Fallback controls the HTTP request/response fallback.
type Fallback struct {
	Enabled  *bool  `hcl:"enabled,optional" json:"enabled"`
	CacheTTL string `hcl:"cache_ttl,optional" json:"cache_ttl"`
}

// API holds limits for the HTTP shell.
type API struct {
	// WriteLimit caps write requests per client address within WriteWindow.
	// Zero disables the limit.
	WriteLimit  int    `hcl:"write_limit,optional" json:"write_limit"`
	WriteWindow string `hcl:"write_window,optional" json:"write_window"`
}

// Audit controls the persistent record of write commands.
type Audit struct {
	Enabled       bool   `hcl:"enabled,optional" json:"enabled"`
	Path          string `hcl:"path,optional" json:"path"`
	RetentionDays int    `hcl:"retention_days,optional" json:"retention_days"`
	PruneAt       string `hcl:"prune_at,optional" json:"prune_at"` // daily, "HH:MM" local time
}

// Endpoint is one daemon the controller talks to.
type Endpoint struct {
	ID       string `hcl:"id,label" json:"id"`
	Host     string `hcl:"host" json:"host"`
	Port     int    `hcl:"port,optional" json:"port"`
	Enabled  *bool  `hcl:"enabled,optional" json:"enabled"`
	Fallback *bool  `hcl:"fallback,optional" json:"fallback,omitempty"`
}

// Default returns a configuration with no endpoints and every default set.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = brand.DefaultListen
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	setDefault(&c.ProbeInterval, DefaultProbeInterval)
	if c.Timeouts == nil {
		c.Timeouts = &Timeouts{}
	}
	setDefault(&c.Timeouts.Connect, DefaultConnect)
	setDefault(&c.Timeouts.CommandSettle, DefaultCommandSettle)
	setDefault(&c.Timeouts.ReadSettle, DefaultReadSettle)
	setDefault(&c.Timeouts.FallbackRequest, DefaultFallbackRequest)

	if c.Fallback == nil {
		c.Fallback = &Fallback{}
	}
	if c.Fallback.Enabled == nil {
		c.Fallback.Enabled = boolPtr(true)
	}
	setDefault(&c.Fallback.CacheTTL, DefaultCacheTTL)

	if c.API == nil {
		c.API = &API{}
	}
	setDefault(&c.API.WriteWindow, DefaultWriteWindow)

	if c.Audit == nil {
		c.Audit = &Audit{}
	}
	setDefault(&c.Audit.Path, brand.DefaultAuditPath())
	setDefault(&c.Audit.PruneAt, DefaultPruneAt)
	if c.Audit.RetentionDays == 0 {
		c.Audit.RetentionDays = DefaultRetentionDays
	}

	for i := range c.Endpoints {
		ep := &c.Endpoints[i]
		if ep.Port == 0 {
			ep.Port = brand.DaemonPort
		}
		if ep.Enabled == nil {
			ep.Enabled = boolPtr(true)
		}
	}
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func boolPtr(b bool) *bool { return &b }

// ConnectTimeout bounds one connection attempt.
func (c *Config) ConnectTimeout() time.Duration {
	return durationOr(c.Timeouts.Connect, DefaultConnect)
}

// CommandSettle is the wait after a write command before reading state.
func (c *Config) CommandSettle() time.Duration {
	return durationOr(c.Timeouts.CommandSettle, DefaultCommandSettle)
}

// ReadSettle is the wait for a first document on a fresh connection.
func (c *Config) ReadSettle() time.Duration {
	return durationOr(c.Timeouts.ReadSettle, DefaultReadSettle)
}

// FallbackRequestTimeout bounds one HTTP fallback attempt.
func (c *Config) FallbackRequestTimeout() time.Duration {
	return durationOr(c.Timeouts.FallbackRequest, DefaultFallbackRequest)
}

// FallbackEnabled reports whether the HTTP fallback is on globally.
func (c *Config) FallbackEnabled() bool {
	return c.Fallback.Enabled == nil || *c.Fallback.Enabled
}

// CacheTTL is how long successful fallback reads are cached. Zero disables
// the cache.
func (c *Config) CacheTTL() time.Duration {
	return durationOr(c.Fallback.CacheTTL, DefaultCacheTTL)
}

// ProbeEvery is how often serve probes every target. Zero disables it.
func (c *Config) ProbeEvery() time.Duration {
	return durationOr(c.ProbeInterval, DefaultProbeInterval)
}

// WriteWindow is the window over which API write requests are counted.
func (c *Config) WriteWindow() time.Duration {
	return durationOr(c.API.WriteWindow, DefaultWriteWindow)
}

func durationOr(s, def string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	d, _ := time.ParseDuration(def)
	return d
}

// TargetSpecs converts the endpoints into dispatch targets. An endpoint's
// own fallback flag overrides the global one.
func (c *Config) TargetSpecs() []dispatch.TargetSpec {
	global := c.FallbackEnabled()
	specs := make([]dispatch.TargetSpec, 0, len(c.Endpoints))
	for _, ep := range c.Endpoints {
		fb := global
		if ep.Fallback != nil {
			fb = *ep.Fallback
		}
		specs = append(specs, dispatch.TargetSpec{
			ID:       ep.ID,
			Host:     ep.Host,
			Port:     ep.Port,
			Enabled:  ep.Enabled == nil || *ep.Enabled,
			Fallback: fb,
		})
	}
	return specs
}
