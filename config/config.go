// Package config loads the migration engine's HCL configuration: AWS
// region and queue URLs, per-pool scheduler wiring, and the worker tunables
// each uptime or event migration run uses.
package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// Config is the root of the migration engine's configuration file.
type Config struct {
	LogLevel string `hcl:"log_level,optional"`
	LogJSON  bool   `hcl:"log_json,optional"`

	Region            string `hcl:"region"`
	DrainQueueURL     string `hcl:"drain_queue_url"`
	WarningQueueURL   string `hcl:"warning_queue_url,optional"`
	TerminateQueueURL string `hcl:"terminate_queue_url"`

	// AWSAccessKeyID and AWSSecretAccessKey are optional static credentials.
	// Both must be set to take effect; left empty, clients fall back to the
	// EC2 instance role.
	AWSAccessKeyID     string `hcl:"aws_access_key_id,optional"`
	AWSSecretAccessKey string `hcl:"aws_secret_access_key,optional"`
	AWSSessionToken    string `hcl:"aws_session_token,optional"`

	ScanInterval string `hcl:"scan_interval,optional"`

	Pools []*PoolConfig `hcl:"pool,block"`
}

// PoolConfig describes one cluster/pool the engine manages.
type PoolConfig struct {
	Cluster   string `hcl:"cluster,label"`
	Pool      string `hcl:"pool,label"`
	Scheduler string `hcl:"scheduler"`

	ResourceGroupType string `hcl:"resource_group_type"` // "asg"
	ResourceGroupName string `hcl:"resource_group_name"`

	MesosMasterAddr string `hcl:"mesos_master_addr,optional"`
	KubeconfigPath  string `hcl:"kubeconfig_path,optional"`

	UptimeThresholdSeconds int `hcl:"uptime_threshold_seconds,optional"`

	Worker *WorkerConfig `hcl:"worker,block"`
}

// WorkerConfig mirrors migration.WorkerSetup in HCL-friendly form.
type WorkerConfig struct {
	RateCount                  int     `hcl:"rate_count,optional"`
	RateFraction               float64 `hcl:"rate_fraction,optional"`
	Precedence                 string  `hcl:"precedence,optional"`
	BootstrapWaitSeconds       int     `hcl:"bootstrap_wait_seconds,optional"`
	BootstrapTimeoutSeconds    int     `hcl:"bootstrap_timeout_seconds,optional"`
	HealthCheckIntervalSeconds int     `hcl:"health_check_interval_seconds,optional"`
	IgnorePodHealth            bool    `hcl:"ignore_pod_health,optional"`
	DisableAutoscaling         bool    `hcl:"disable_autoscaling,optional"`
	ExpectedDurationSeconds    int     `hcl:"expected_duration_seconds,optional"`

	// PrescalingCount/PrescalingFraction mirror Rate/RateFraction:
	// whichever is set (fraction taking precedence) becomes the pool
	// portion EventMigrationWorker pre-scales by before it starts
	// draining. Leaving both zero disables pre-scaling.
	PrescalingCount    int     `hcl:"prescaling_count,optional"`
	PrescalingFraction float64 `hcl:"prescaling_fraction,optional"`
}

// Default returns a Config with every optional field set to its baseline
// value, to be merged with whatever the operator supplies on disk or on
// the command line.
func Default() *Config {
	return &Config{
		LogLevel:     "INFO",
		ScanInterval: "1h",
	}
}

// Load parses the HCL file at path into a Config.
func Load(path string) (*Config, error) {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("config: parse %s: %w", path, diags)
	}

	var cfg Config
	if diags := gohcl.DecodeBody(f.Body, nil, &cfg); diags.HasErrors() {
		return nil, fmt.Errorf("config: decode %s: %w", path, diags)
	}
	return &cfg, nil
}

// Merge layers other on top of c, with other's non-zero fields taking
// precedence, and returns the result. Pools are replaced wholesale rather
// than merged element-by-element: a config file is expected to declare its
// full pool set.
func (c *Config) Merge(other *Config) *Config {
	if c == nil {
		return other
	}
	if other == nil {
		return c
	}

	result := *c
	if other.LogLevel != "" {
		result.LogLevel = other.LogLevel
	}
	if other.LogJSON {
		result.LogJSON = true
	}
	if other.Region != "" {
		result.Region = other.Region
	}
	if other.DrainQueueURL != "" {
		result.DrainQueueURL = other.DrainQueueURL
	}
	if other.WarningQueueURL != "" {
		result.WarningQueueURL = other.WarningQueueURL
	}
	if other.TerminateQueueURL != "" {
		result.TerminateQueueURL = other.TerminateQueueURL
	}
	if other.AWSAccessKeyID != "" {
		result.AWSAccessKeyID = other.AWSAccessKeyID
	}
	if other.AWSSecretAccessKey != "" {
		result.AWSSecretAccessKey = other.AWSSecretAccessKey
	}
	if other.AWSSessionToken != "" {
		result.AWSSessionToken = other.AWSSessionToken
	}
	if other.ScanInterval != "" {
		result.ScanInterval = other.ScanInterval
	}
	if len(other.Pools) > 0 {
		result.Pools = other.Pools
	}
	return &result
}
