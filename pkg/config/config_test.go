package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "alpenhorn.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: "user:pass@tcp(db:3306)/alpenhorn"
host: archiver-1
`)

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, defaultWorkers, c.Workers)
	assert.Equal(t, defaultUpdateInterval, c.UpdateInterval)
	assert.Equal(t, 30*time.Second, c.ShutdownGrace)
	assert.Equal(t, time.Hour, c.StaleTempAge)
	assert.Equal(t, []string{"stderr"}, c.Log.Destinations)
}

func TestLoadHonorsExplicitValues(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: "user:pass@tcp(db:3306)/alpenhorn"
host: archiver-1
workers: 4
update_interval: 30s
extensions: ["acq-lab-a", "io-hsm"]
io_class_defaults:
  transport:
    verify_on_pull: true
`)

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, c.Workers)
	assert.Equal(t, 30*time.Second, c.UpdateInterval)
	assert.Equal(t, []string{"acq-lab-a", "io-hsm"}, c.Extensions)
	assert.True(t, c.IOClassDefaults["transport"].VerifyOnPull)
}

func TestLoadRejectsMissingDSN(t *testing.T) {
	path := writeConfig(t, `host: archiver-1`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingHost(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: "user:pass@tcp(db:3306)/alpenhorn"
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestResolvePathPrefersEnvVar(t *testing.T) {
	t.Setenv(DefaultConfigEnvVar, "/etc/alpenhorn/env.yaml")
	assert.Equal(t, "/etc/alpenhorn/env.yaml", ResolvePath("/etc/alpenhorn/flag.yaml"))
}

func TestResolvePathFallsBackToFlag(t *testing.T) {
	t.Setenv(DefaultConfigEnvVar, "")
	assert.Equal(t, "/etc/alpenhorn/flag.yaml", ResolvePath("/etc/alpenhorn/flag.yaml"))
}
