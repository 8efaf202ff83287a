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
	dir := t.TempDir()
	path := filepath.Join(dir, "config.hcl")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimalConfig = `
scheduler {
  bootstrap_servers = ["broker-1:9092"]
  geozone_id        = "us-west"
}
`

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"broker-1:9092"}, cfg.BootstrapServers)
	assert.Equal(t, "us-west", cfg.GeozoneID)
	assert.Equal(t, "arcnet-scheduler", cfg.GroupID)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 0.85, cfg.MaxGPUUtilization)
	assert.Equal(t, ":9090", cfg.MetricsAddr)

	assert.Equal(t, time.Second, cfg.PollTimeout())
	assert.Equal(t, 100*time.Millisecond, cfg.BaseBackoff())
	assert.Equal(t, 30*time.Second, cfg.ReservationTTL())
	assert.Equal(t, 30*time.Second, cfg.StalenessThreshold())
}

func TestLoad_RespectsExplicitValues(t *testing.T) {
	path := writeConfig(t, `
scheduler {
  bootstrap_servers   = ["broker-1:9092", "broker-2:9092"]
  geozone_id          = "eu-central"
  group_id            = "custom-group"
  max_retries         = 5
  base_backoff_ms     = 250
  max_gpu_utilization = 0.5
}
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.BootstrapServers)
	assert.Equal(t, "custom-group", cfg.GroupID)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.BaseBackoff())
	assert.Equal(t, 0.5, cfg.MaxGPUUtilization)
}

func TestLoad_MissingSchedulerBlock(t *testing.T) {
	path := writeConfig(t, "")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_ValidationFailsWithoutBootstrapServers(t *testing.T) {
	path := writeConfig(t, `
scheduler {
  bootstrap_servers = []
  geozone_id        = "us-west"
}
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "bootstrap_servers")
}

func TestLoad_ValidationFailsOnOutOfRangeGPUUtilization(t *testing.T) {
	path := writeConfig(t, `
scheduler {
  bootstrap_servers   = ["broker-1:9092"]
  geozone_id          = "us-west"
  max_gpu_utilization = 1.5
}
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "max_gpu_utilization")
}

func TestLoad_EnvOverridesTakePrecedenceOverFile(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	t.Setenv("ARCNET_GEOZONE_ID", "ap-southeast")
	t.Setenv("ARCNET_MAX_RETRIES", "7")
	t.Setenv("ARCNET_DEAD_LETTER_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ap-southeast", cfg.GeozoneID)
	assert.Equal(t, 7, cfg.MaxRetries)
	assert.True(t, cfg.DeadLetterEnabled)
}
