package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"hwfingerprint/internal/cluster"
	"hwfingerprint/internal/memprofile"
)

// DefaultWorkloadIterations sizes the cluster probe workload to tens of
// milliseconds per task on current hardware.
const DefaultWorkloadIterations = 6_000_000

type FingerprintConfig struct {
	Fingerprint FingerprintInfo `yaml:"fingerprint"`
}

type FingerprintInfo struct {
	Name          string `yaml:"name"`
	Description   string `yaml:"description"`
	LogLevel      string `yaml:"log_level"`
	ProbeLogLevel string `yaml:"probe_log_level"`
	TimeoutS      int    `yaml:"timeout_s"`

	SizesKB  []int             `yaml:"sizes_kb"`
	Memory   memprofile.Config `yaml:"memory"`
	Cluster  ClusterConfig     `yaml:"cluster"`
	Counters CountersConfig    `yaml:"counters"`

	Calibration CalibrationConfig `yaml:"calibration"`
	Signatures  SignaturesConfig  `yaml:"signatures"`
	Artifacts   ArtifactsConfig   `yaml:"artifacts"`
	Data        DataConfig        `yaml:"data"`
}

// ClusterConfig mirrors cluster.Config with YAML-friendly scalar fields.
type ClusterConfig struct {
	MaxProbe             int     `yaml:"max_probe"`
	TaskTimeoutMs        int     `yaml:"task_timeout_ms"`
	JumpThreshold        float64 `yaml:"jump_threshold"`
	MedianSplitThreshold float64 `yaml:"median_split_threshold"`
	MinValidResults      int     `yaml:"min_valid_results"`
	WorkloadIterations   int     `yaml:"workload_iterations"`
}

// Options converts the YAML form into the clusterer's own config. Zero
// fields stay zero so the cluster package defaults apply.
func (c ClusterConfig) Options() cluster.Config {
	opts := cluster.Config{
		MaxProbe:             c.MaxProbe,
		JumpThreshold:        c.JumpThreshold,
		MedianSplitThreshold: c.MedianSplitThreshold,
		MinValidResults:      c.MinValidResults,
	}
	if c.TaskTimeoutMs > 0 {
		opts.TaskTimeout = time.Duration(c.TaskTimeoutMs) * time.Millisecond
	}
	return opts
}

// Iterations returns the per-task workload size for the cluster probe.
func (c ClusterConfig) Iterations() int {
	if c.WorkloadIterations > 0 {
		return c.WorkloadIterations
	}
	return DefaultWorkloadIterations
}

type CountersConfig struct {
	Enable bool `yaml:"enable"`
}

type CalibrationConfig struct {
	Path           string `yaml:"path"`
	URL            string `yaml:"url"`
	FetchTimeoutMs int    `yaml:"fetch_timeout_ms"`
}

// FetchTimeout bounds the calibration table download.
func (c CalibrationConfig) FetchTimeout() time.Duration {
	if c.FetchTimeoutMs > 0 {
		return time.Duration(c.FetchTimeoutMs) * time.Millisecond
	}
	return 3 * time.Second
}

type SignaturesConfig struct {
	Path string `yaml:"path"`
}

type ArtifactsConfig struct {
	Dir     string `yaml:"dir"`
	Disable bool   `yaml:"disable"`
}

type DataConfig struct {
	DB DatabaseConfig `yaml:"db"`
}

type DatabaseConfig struct {
	Host   string `yaml:"host"`
	Port   string `yaml:"port"`
	User   string `yaml:"user"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// ApplyEnv fills blank fields from the standard INFLUXDB_* environment
// variables. Values from the config file win.
func (d *DatabaseConfig) ApplyEnv() {
	apply := func(dst *string, key string) {
		if *dst == "" {
			if v := strings.TrimSpace(os.Getenv(key)); v != "" {
				*dst = v
			}
		}
	}
	apply(&d.Host, "INFLUXDB_HOST")
	apply(&d.Port, "INFLUXDB_PORT")
	apply(&d.User, "INFLUXDB_USER")
	apply(&d.Token, "INFLUXDB_TOKEN")
	apply(&d.Org, "INFLUXDB_ORG")
	apply(&d.Bucket, "INFLUXDB_BUCKET")
}

// Enabled reports whether any database setting was provided, meaning the
// run should attempt an export.
func (d DatabaseConfig) Enabled() bool {
	return d.Host != "" || d.Token != "" || d.Org != "" || d.Bucket != ""
}

// Validate checks that an export has everything it needs. Only called
// when export is requested.
func (d DatabaseConfig) Validate() error {
	var missing []string
	if d.Host == "" {
		missing = append(missing, "INFLUXDB_HOST")
	}
	if d.Token == "" {
		missing = append(missing, "INFLUXDB_TOKEN")
	}
	if d.Org == "" {
		missing = append(missing, "INFLUXDB_ORG")
	}
	if d.Bucket == "" {
		missing = append(missing, "INFLUXDB_BUCKET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("incomplete database configuration: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Address joins host and port for the client URL.
func (d DatabaseConfig) Address() string {
	if d.Port == "" {
		return d.Host
	}
	return d.Host + ":" + d.Port
}

// GetMaxDuration returns the overall run deadline, or 0 for no deadline.
func (f FingerprintInfo) GetMaxDuration() time.Duration {
	if f.TimeoutS <= 0 {
		return 0
	}
	return time.Duration(f.TimeoutS) * time.Second
}

// DefaultSizesKB is the payload size ladder measured when the config does
// not override it. It spans L1-resident payloads through sizes that are
// deep past any last-level cache.
func DefaultSizesKB() []int {
	return []int{16, 32, 48, 64, 96, 128, 192, 256, 512, 1024, 2048, 4096, 8192}
}
