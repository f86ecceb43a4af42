package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ParsesPoolsAndWorkerBlocks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clusterman.hcl")
	contents := `
region             = "us-west-2"
drain_queue_url     = "https://sqs/drain"
terminate_queue_url = "https://sqs/terminate"
aws_access_key_id     = "AKIAEXAMPLE"
aws_secret_access_key = "shh"

pool "mesos-test" "bar" {
  scheduler           = "kubernetes"
  resource_group_type = "asg"
  resource_group_name = "bar-asg"
  kubeconfig_path     = "/etc/kubeconfig"

  uptime_threshold_seconds = 604800

  worker {
    rate_count                    = 2
    precedence                    = "task_count"
    bootstrap_timeout_seconds     = 900
    health_check_interval_seconds = 30
  }
}
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "us-west-2", cfg.Region)
	assert.Equal(t, "AKIAEXAMPLE", cfg.AWSAccessKeyID)
	assert.Equal(t, "shh", cfg.AWSSecretAccessKey)
	require.Len(t, cfg.Pools, 1)

	pool := cfg.Pools[0]
	assert.Equal(t, "mesos-test", pool.Cluster)
	assert.Equal(t, "bar", pool.Pool)
	assert.Equal(t, "kubernetes", pool.Scheduler)
	assert.Equal(t, 604800, pool.UptimeThresholdSeconds)

	require.NotNil(t, pool.Worker)
	assert.Equal(t, 2, pool.Worker.RateCount)
	assert.Equal(t, "task_count", pool.Worker.Precedence)
}

func TestConfig_MergeOverridesNonZeroFields(t *testing.T) {
	base := Default()
	override := &Config{
		Region:        "us-east-1",
		DrainQueueURL: "https://sqs/drain",
		Pools:         []*PoolConfig{{Cluster: "mesos-test", Pool: "bar"}},
	}

	merged := base.Merge(override)
	assert.Equal(t, "INFO", merged.LogLevel, "base log level survives when override doesn't set one")
	assert.Equal(t, "us-east-1", merged.Region)
	assert.Equal(t, "https://sqs/drain", merged.DrainQueueURL)
	require.Len(t, merged.Pools, 1)
	assert.Equal(t, "mesos-test", merged.Pools[0].Cluster)
}

func TestConfig_MergeNilSafety(t *testing.T) {
	var nilConfig *Config
	other := Default()

	assert.Same(t, other, nilConfig.Merge(other))
	assert.Same(t, other, other.Merge(nil))
}
