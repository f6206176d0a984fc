package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/sitepulse/internal/domain"
	"github.com/djlord-it/sitepulse/internal/scheduler"
)

const fleetYAML = `sites:
  - id: site-a
    timezone: America/Mexico_City
    business_hours:
      sat: {open: "09:00", close: "18:00"}
  - id: site-b
    timezone: America/Mexico_City
`

// isolateEnv pins every key the commands read so the host environment
// cannot leak into a test.
func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DIRECTORY", "file")
	t.Setenv("SITES_FILE", "sites.yaml")
	t.Setenv("DISPATCH_MODE", "log")
	t.Setenv("LEADER_ELECTION", "false")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("LOG_FORMAT", "json")
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeFleet(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sites.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fleetYAML), 0o600))
	return path
}

func TestVersion(t *testing.T) {
	code, out, _ := run(t, "version")
	assert.Equal(t, exitSuccess, code)
	assert.Equal(t, "sitepulse version dev (commit: unknown)\n", out)
}

func TestValidate(t *testing.T) {
	isolateEnv(t)

	code, out, _ := run(t, "validate")
	assert.Equal(t, exitSuccess, code)
	assert.Equal(t, "configuration valid\n", out)
}

func TestValidate_InvalidConfigExitCode(t *testing.T) {
	isolateEnv(t)
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("TICK_INTERVAL", "soon")

	code, _, errOut := run(t, "validate")
	assert.Equal(t, exitInvalidConfig, code)
	assert.Contains(t, errOut, "DATABASE_URL")
	assert.Contains(t, errOut, "TICK_INTERVAL")
}

func TestConfig_MasksSecrets(t *testing.T) {
	isolateEnv(t)
	t.Setenv("DATABASE_URL", "postgres://sitepulse:hunter2@db/sitepulse")
	t.Setenv("DISPATCH_SECRET", "s3cret")

	code, out, _ := run(t, "config")
	require.Equal(t, exitSuccess, code)
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "s3cret")

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "postgres://***", doc["database_url"])
	assert.Equal(t, "1m0s", doc["tick_interval"])
}

func TestEvaluate_SaturdayFleet(t *testing.T) {
	isolateEnv(t)
	sites := writeFleet(t)

	code, out, errOut := run(t, "evaluate",
		"--activity", "daily_report",
		"--at", "2024-06-22T10:15:00-06:00",
		"--sites", sites,
	)
	require.Equal(t, exitSuccess, code, errOut)

	var report scheduler.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))

	assert.Equal(t, "daily_report", report.Activity)
	assert.Equal(t, 2, report.SitesTotal)
	assert.Equal(t, 1, report.SitesWithHours)
	assert.Equal(t, 1, report.Decisions[domain.DecisionExecuteNow])
	assert.Equal(t, 1, report.Decisions[domain.DecisionSkip])
	require.Len(t, report.Dispatched, 1)
	assert.Equal(t, "site-a", report.Dispatched[0].SiteID)
	require.Len(t, report.Deferred, 1)
	assert.Equal(t, "site-b", report.Deferred[0].SiteID)
}

func TestEvaluate_Errors(t *testing.T) {
	isolateEnv(t)
	sites := writeFleet(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing activity flag", []string{"evaluate"}, `required flag(s) "activity" not set`},
		{"unknown activity", []string{"evaluate", "--activity", "nope", "--sites", sites}, `unknown activity "nope"`},
		{"bad instant", []string{"evaluate", "--activity", "daily_report", "--at", "tomorrow", "--sites", sites}, "parse --at"},
		{"missing sites file", []string{"evaluate", "--activity", "daily_report", "--sites", filepath.Join(t.TempDir(), "none.yaml")}, "read site directory"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, errOut := run(t, tt.args...)
			assert.Equal(t, exitRuntimeError, code)
			assert.Contains(t, errOut, tt.want)
		})
	}
}

func TestUnknownCommand(t *testing.T) {
	code, _, errOut := run(t, "frobnicate")
	assert.Equal(t, exitRuntimeError, code)
	assert.Contains(t, errOut, "unknown command")
}
