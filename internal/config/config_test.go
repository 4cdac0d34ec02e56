package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/foldwatch/internal/brand"
	"grimm.is/foldwatch/internal/dispatch"
)

func TestLoadBytes_Full(t *testing.T) {
	src := `
listen    = "0.0.0.0:9000"
log_level = "debug"
log_json  = true
probe_interval = "30s"

timeouts {
  connect          = "2s"
  command_settle   = "250ms"
  read_settle      = "750ms"
  fallback_request = "3s"
}

fallback {
  enabled   = false
  cache_ttl = "0s"
}

api {
  write_limit  = 20
  write_window = "30s"
}

audit {
  enabled        = true
  path           = "/tmp/fw-audit.db"
  retention_days = 7
  prune_at       = "04:30"
}

endpoint "desktop" {
  host     = "10.0.0.5"
  port     = 36330
  fallback = true
}

endpoint "laptop" {
  host    = "10.0.0.6"
  enabled = false
}
`
	cfg, err := LoadBytes([]byte(src), "test.hcl")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.LogJSON)
	assert.Equal(t, 2*time.Second, cfg.ConnectTimeout())
	assert.Equal(t, 250*time.Millisecond, cfg.CommandSettle())
	assert.Equal(t, 750*time.Millisecond, cfg.ReadSettle())
	assert.Equal(t, 3*time.Second, cfg.FallbackRequestTimeout())
	assert.False(t, cfg.FallbackEnabled())
	assert.Zero(t, cfg.CacheTTL())
	assert.Equal(t, 20, cfg.API.WriteLimit)
	assert.Equal(t, 30*time.Second, cfg.WriteWindow())
	assert.Equal(t, &Audit{Enabled: true, Path: "/tmp/fw-audit.db", RetentionDays: 7, PruneAt: "04:30"}, cfg.Audit)
	assert.Equal(t, 30*time.Second, cfg.ProbeEvery())

	assert.Equal(t, []dispatch.TargetSpec{
		{ID: "desktop", Host: "10.0.0.5", Port: 36330, Enabled: true, Fallback: true},
		{ID: "laptop", Host: "10.0.0.6", Port: brand.DaemonPort, Enabled: false, Fallback: false},
	}, cfg.TargetSpecs())
}

func TestLoadBytes_Defaults(t *testing.T) {
	cfg, err := LoadBytes([]byte(`endpoint "a" { host = "h" }`), "min.hcl")
	require.NoError(t, err)

	assert.Equal(t, brand.DefaultListen, cfg.Listen)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.CommandSettle())
	assert.Equal(t, time.Second, cfg.ReadSettle())
	assert.Equal(t, 2*time.Second, cfg.CacheTTL())
	assert.True(t, cfg.FallbackEnabled())
	assert.Zero(t, cfg.API.WriteLimit)
	assert.Equal(t, time.Minute, cfg.WriteWindow())
	assert.False(t, cfg.Audit.Enabled)
	assert.Equal(t, brand.DefaultAuditPath(), cfg.Audit.Path)
	assert.Equal(t, DefaultRetentionDays, cfg.Audit.RetentionDays)
	assert.Equal(t, DefaultPruneAt, cfg.Audit.PruneAt)
	assert.Zero(t, cfg.ProbeEvery())

	specs := cfg.TargetSpecs()
	require.Len(t, specs, 1)
	assert.True(t, specs[0].Enabled)
	assert.True(t, specs[0].Fallback)
	assert.Equal(t, brand.DaemonPort, specs[0].Port)
}

func TestLoadBytes_EnvVariables(t *testing.T) {
	t.Setenv("FOLDWATCH_TEST_HOST", "192.168.1.50")
	cfg, err := LoadBytes([]byte(`endpoint "a" { host = env.FOLDWATCH_TEST_HOST }`), "env.hcl")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.50", cfg.Endpoints[0].Host)
}

func TestLoadBytes_JSON(t *testing.T) {
	src := `{"listen": "127.0.0.1:1", "endpoint": {"desk": {"host": "h", "port": 2}}}`
	cfg, err := LoadBytes([]byte(src), "cfg.json")
	require.NoError(t, err)
	require.Len(t, cfg.Endpoints, 1)
	assert.Equal(t, "desk", cfg.Endpoints[0].ID)
	assert.Equal(t, 2, cfg.Endpoints[0].Port)
}

func TestLoadBytes_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []string
	}{
		{"parse", `listen = `, []string{"HCL parse error"}},
		{"unknown attribute", `bogus = 1`, []string{"HCL decode error"}},
		{"missing host", `endpoint "a" {}`, []string{"HCL decode error"}},
		{
			"every problem reported",
			`
log_level = "loud"
timeouts { connect = "soon" }
endpoint "a" {
  host = "h"
  port = 70000
}
endpoint "a" { host = "" }
`,
			[]string{
				`log_level: unknown log level "loud"`,
				`timeouts.connect: invalid duration "soon"`,
				"endpoint.a.port: invalid port 70000",
				"endpoint.a: duplicate endpoint id",
				"endpoint.a.host: must not be empty",
			},
		},
		{"negative settle", `timeouts { read_settle = "-1s" }`, []string{"timeouts.read_settle: must not be negative"}},
		{"zero connect", `timeouts { connect = "0s" }`, []string{"timeouts.connect: must be positive"}},
		{"negative write limit", `api { write_limit = -1 }`, []string{"api.write_limit: must not be negative"}},
		{"negative retention", `audit {
  enabled        = true
  retention_days = -3
}`, []string{"audit.retention_days: must not be negative"}},
		{"bad prune time", `audit {
  enabled  = true
  prune_at = "noon"
}`, []string{`audit.prune_at: invalid time of day "noon"`}},
		{"bad id and host", `endpoint "a/b" { host = "not a host" }`, []string{
			`endpoint.a/b: invalid id "a/b"`,
			`endpoint.a/b.host: invalid host "not a host"`,
		}},
		{"negative probe", `probe_interval = "-5s"`, []string{"probe_interval: must not be negative"}},
		{"bad listen", `listen = "nowhere"`, []string{"listen: invalid address"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBytes([]byte(tt.src), "bad.hcl")
			require.Error(t, err)
			for _, w := range tt.want {
				assert.Contains(t, err.Error(), w)
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "foldwatch.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`endpoint "x" { host = "h" }`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Endpoints, 1)

	_, err = Load(filepath.Join(t.TempDir(), "missing.hcl"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestDefault_Validates(t *testing.T) {
	cfg := Default()
	assert.False(t, cfg.Validate().HasErrors())
	assert.Empty(t, cfg.TargetSpecs())
}
