package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"grimm.is/foldwatch/internal/logging"
	"grimm.is/foldwatch/internal/scheduler"
	"grimm.is/foldwatch/internal/validation"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate reports every problem in the configuration, not just the first.
// It expects defaults to have been applied.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		add("listen", "invalid address %q: %v", c.Listen, err)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		add("log_level", "%v", err)
	}

	if c.ProbeInterval != "" {
		checkDuration(add, "probe_interval", c.ProbeInterval, true)
	}
	if c.Timeouts != nil {
		checkDuration(add, "timeouts.connect", c.Timeouts.Connect, false)
		checkDuration(add, "timeouts.command_settle", c.Timeouts.CommandSettle, true)
		checkDuration(add, "timeouts.read_settle", c.Timeouts.ReadSettle, true)
		checkDuration(add, "timeouts.fallback_request", c.Timeouts.FallbackRequest, false)
	}
	if c.Fallback != nil {
		checkDuration(add, "fallback.cache_ttl", c.Fallback.CacheTTL, true)
	}

	if c.API != nil {
		if c.API.WriteLimit < 0 {
			add("api.write_limit", "must not be negative")
		}
		checkDuration(add, "api.write_window", c.API.WriteWindow, false)
	}
	if c.Audit != nil && c.Audit.Enabled {
		if c.Audit.Path == "" {
			add("audit.path", "must not be empty")
		}
		if c.Audit.RetentionDays < 0 {
			add("audit.retention_days", "must not be negative")
		}
		if _, err := scheduler.ParseDaily(c.Audit.PruneAt); err != nil {
			add("audit.prune_at", "%v", err)
		}
	}

	seen := make(map[string]bool, len(c.Endpoints))
	for i, ep := range c.Endpoints {
		field := fmt.Sprintf("endpoint[%d]", i)
		if ep.ID != "" {
			field = fmt.Sprintf("endpoint.%s", ep.ID)
		}
		if err := validation.ValidateTargetID(ep.ID); err != nil {
			add(field, "%v", err)
		} else if seen[ep.ID] {
			add(field, "duplicate endpoint id")
		}
		seen[ep.ID] = true
		if err := validation.ValidateHost(ep.Host); err != nil {
			add(field+".host", "%v", err)
		}
		if err := validation.ValidatePortNumber(ep.Port); err != nil {
			add(field+".port", "%v", err)
		}
	}
	return errs
}

func checkDuration(add func(string, string, ...any), field, value string, zeroOK bool) {
	d, err := time.ParseDuration(value)
	switch {
	case err != nil:
		add(field, "invalid duration %q", value)
	case d < 0:
		add(field, "must not be negative")
	case d == 0 && !zeroOK:
		add(field, "must be positive")
	}
}
