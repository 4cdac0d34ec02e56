package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fakes "grimm.is/foldwatch/internal/testutil"
)

const initialState = `{"info":{"cpus":8,"os-name":"linux"},"config":{"user":"anon","team":0},"units":[{"slot":0,"project":1},{"slot":1,"project":2}],"log":["hello"]}`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "foldwatch.hcl")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func daemonConfig(t *testing.T, d *fakes.FakeDaemon, fallback bool) string {
	return writeConfig(t, fmt.Sprintf(`
timeouts {
  connect        = "2s"
  command_settle = "50ms"
  read_settle    = "2s"
}

fallback {
  enabled = %t
}

endpoint "desk" {
  host = %q
  port = %d
}
`, fallback, d.Host, d.Port))
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func closedPort(t *testing.T) int {
	t.Helper()
	fakes.RequireNetwork(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestCheckCmd(t *testing.T) {
	path := writeConfig(t, `endpoint "a" { host = "h" }`)
	out, _, err := run(t, "check", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration valid!")
	assert.Contains(t, out, "Endpoints: 1")

	bad := writeConfig(t, `endpoint "a" { host = "h" port = 0 `)
	_, _, err = run(t, "check", bad)
	assert.ErrorContains(t, err, "configuration invalid")
	assert.Equal(t, 1, exitCode(err))
}

func TestRootCmd_RejectsUnknownOutput(t *testing.T) {
	_, _, err := run(t, "version", "-o", "xml")
	assert.ErrorContains(t, err, `unknown output format "xml"`)
}

func TestOpCmd_RequiresTargetOrAll(t *testing.T) {
	path := writeConfig(t, `endpoint "a" { host = "h" }`)
	_, _, err := run(t, "-c", path, "pause")
	assert.ErrorContains(t, err, "name at least one target or pass --all")
	_, _, err = run(t, "-c", path, "pause", "a", "--all")
	assert.Error(t, err)
}

func TestInfoCmd_JSON(t *testing.T) {
	d := fakes.NewFakeDaemon(t, fakes.WithInitialFrames(initialState))
	path := daemonConfig(t, d, false)

	out, _, err := run(t, "-c", path, "-o", "json", "info", "desk")
	require.NoError(t, err)

	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, true, res["ok"])
	assert.Equal(t, "socket", res["source"])
	assert.Equal(t, map[string]any{"cpus": float64(8), "os_name": "linux"}, res["data"])
}

func TestQueueCmd_Text(t *testing.T) {
	d := fakes.NewFakeDaemon(t, fakes.WithInitialFrames(initialState))
	path := daemonConfig(t, d, false)

	out, _, err := run(t, "-c", path, "queue", "desk", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "desk queue [socket]:")
	assert.Contains(t, out, `"project": 2`)
	assert.NotContains(t, out, `"project": 1`)

	_, _, err = run(t, "-c", path, "queue", "desk", "x")
	assert.ErrorContains(t, err, `invalid slot "x"`)
}

func TestPauseCmd_YAML(t *testing.T) {
	d := fakes.NewFakeDaemon(t, fakes.WithInitialFrames(initialState))
	path := daemonConfig(t, d, false)

	out, _, err := run(t, "-c", path, "-o", "yaml", "pause", "desk")
	require.NoError(t, err)
	assert.Contains(t, out, "target: desk")
	assert.Contains(t, out, "op: pause")
	assert.Contains(t, out, "ok: true")

	var sawPause bool
	timeout := time.After(2 * time.Second)
	for !sawPause {
		select {
		case m := <-d.Received():
			sawPause = m["cmd"] == "state" && m["state"] == "pause"
		case <-timeout:
			t.Fatal("daemon never received the pause command")
		}
	}
}

func TestSnapshotCmd_FailureExitCode(t *testing.T) {
	path := writeConfig(t, fmt.Sprintf(`
fallback { enabled = false }
endpoint "gone" {
  host = "127.0.0.1"
  port = %d
}
`, closedPort(t)))

	out, _, err := run(t, "-c", path, "snapshot", "gone")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
	assert.Equal(t, "operation failed", err.Error())
	assert.Contains(t, out, "gone snapshot: FAILED (ConnectionRefused) connection refused")

	out, _, err = run(t, "-c", path, "snapshot", "nobody")
	require.Error(t, err)
	assert.Contains(t, out, "FAILED (NotFound) no such target")
}

func TestSnapshotCmd_FallbackOverHTTP(t *testing.T) {
	d := fakes.NewFakeDaemon(t, fakes.WithSocketRefused())
	d.HandleJSON("/api/info", `{"cpus":4}`)
	path := daemonConfig(t, d, true)

	out, _, err := run(t, "-c", path, "-o", "json", "info", "desk")
	require.NoError(t, err)
	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "fallback", res["source"])
	assert.Equal(t, map[string]any{"cpus": float64(4)}, res["data"])
}

func TestTargetsCmd_JSON(t *testing.T) {
	path := writeConfig(t, `
endpoint "a" { host = "10.0.0.1" }
endpoint "b" {
  host    = "10.0.0.2"
  enabled = false
}
`)
	out, _, err := run(t, "-c", path, "-o", "json", "targets")
	require.NoError(t, err)

	var statuses []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &statuses))
	require.Len(t, statuses, 2)
	assert.Equal(t, "disconnected", statuses[0]["state"])
	assert.Equal(t, "disabled", statuses[1]["state"])

	out, _, err = run(t, "-c", path, "targets")
	require.NoError(t, err)
	assert.Contains(t, out, "TARGET")
	assert.Contains(t, out, "10.0.0.2:7396")
}

func TestPushConfigCmd_DryRun(t *testing.T) {
	d := fakes.NewFakeDaemon(t, fakes.WithInitialFrames(initialState))
	path := daemonConfig(t, d, false)
	cfgFile := filepath.Join(t.TempDir(), "push.json")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`{"user":"folder"}`), 0o600))

	out, _, err := run(t, "-c", path, "push-config", "desk", cfgFile, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, `-  "user": "anon"`)
	assert.Contains(t, out, `+  "user": "folder"`)

	for {
		select {
		case m := <-d.Received():
			assert.NotEqual(t, "config", m["cmd"], "dry run must not push")
			continue
		default:
		}
		break
	}
}

func TestPushConfigCmd_Pushes(t *testing.T) {
	d := fakes.NewFakeDaemon(t, fakes.WithInitialFrames(initialState))
	path := daemonConfig(t, d, false)

	root := NewRootCmd()
	var stdout bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(`{"power-level":"full"}`))
	root.SetArgs([]string{"-c", path, "push-config", "desk", "-"})
	require.NoError(t, root.Execute())
	assert.Contains(t, stdout.String(), "desk push-config [socket]:")

	timeout := time.After(2 * time.Second)
	for {
		select {
		case m := <-d.Received():
			if m["cmd"] != "config" {
				continue
			}
			assert.Equal(t, map[string]any{"power_level": "full"}, m["config"])
			return
		case <-timeout:
			t.Fatal("daemon never received the config command")
		}
	}
}

func TestAuditCmd(t *testing.T) {
	d := fakes.NewFakeDaemon(t, fakes.WithInitialFrames(initialState))
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	path := writeConfig(t, fmt.Sprintf(`
timeouts {
  command_settle = "50ms"
  read_settle    = "2s"
}

audit {
  enabled = true
  path    = %q
}

endpoint "desk" {
  host = %q
  port = %d
}
`, dbPath, d.Host, d.Port))

	_, _, err := run(t, "-c", path, "resume", "desk")
	require.NoError(t, err)
	_, _, err = run(t, "-c", path, "info", "desk")
	require.NoError(t, err)

	out, _, err := run(t, "-c", path, "-o", "json", "audit")
	require.NoError(t, err)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1, "only writes are audited")
	assert.Equal(t, "resume", entries[0]["action"])
	assert.Equal(t, "desk", entries[0]["target"])
	assert.Equal(t, "cli", entries[0]["caller"])
	assert.Equal(t, true, entries[0]["ok"])

	out, _, err = run(t, "-c", path, "audit", "--action", "pause")
	require.NoError(t, err)
	assert.Contains(t, out, "No audit entries.")
}

func TestAuditCmd_Disabled(t *testing.T) {
	path := writeConfig(t, `endpoint "a" { host = "h" }`)
	_, _, err := run(t, "-c", path, "audit")
	assert.ErrorContains(t, err, "audit log is disabled")
}
