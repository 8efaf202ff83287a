// Package config loads the scheduler's HCL configuration file and
// applies environment-variable overrides and documented defaults, the
// same layering the rest of the pack uses for its HCL-configured
// services.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Config is the top-level configuration document, loaded from an HCL
// file (config.hcl by convention) with a "scheduler" block at the root.
type Config struct {
	Scheduler *SchedulerConfig `hcl:"scheduler,block"`
}

// SchedulerConfig holds every recognized configuration option.
type SchedulerConfig struct {
	BootstrapServers []string `hcl:"bootstrap_servers"`
	GeozoneID        string   `hcl:"geozone_id"`

	GroupID string `hcl:"group_id,optional"`

	PollTimeoutMS int `hcl:"poll_timeout_ms,optional"`

	DeadLetterEnabled bool `hcl:"dead_letter_enabled,optional"`

	MaxRetries      int `hcl:"max_retries,optional"`
	BaseBackoffMS   int `hcl:"base_backoff_ms,optional"`
	ReservationTTLS int `hcl:"reservation_ttl_s,optional"`

	StalenessThresholdS int     `hcl:"staleness_threshold_s,optional"`
	MaxGPUUtilization   float64 `hcl:"max_gpu_utilization,optional"`

	MetricsAddr string `hcl:"metrics_addr,optional"`
}

// Load reads and decodes the HCL file at path, then applies
// environment-variable overrides and defaults. Environment variables
// take precedence over the file so operators can override a single
// setting per deployment without forking config.hcl.
func Load(path string) (*SchedulerConfig, error) {
	var doc Config
	if err := hclsimple.DecodeFile(path, nil, &doc); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if doc.Scheduler == nil {
		return nil, fmt.Errorf("config: %s has no scheduler block", path)
	}

	cfg := doc.Scheduler
	applyEnvOverrides(cfg)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *SchedulerConfig) {
	if v := os.Getenv("ARCNET_BOOTSTRAP_SERVERS"); v != "" {
		cfg.BootstrapServers = []string{v}
	}
	if v := os.Getenv("ARCNET_GEOZONE_ID"); v != "" {
		cfg.GeozoneID = v
	}
	if v := os.Getenv("ARCNET_GROUP_ID"); v != "" {
		cfg.GroupID = v
	}
	if v := envInt("ARCNET_POLL_TIMEOUT_MS"); v != 0 {
		cfg.PollTimeoutMS = v
	}
	if v := os.Getenv("ARCNET_DEAD_LETTER_ENABLED"); v != "" {
		cfg.DeadLetterEnabled = v == "true" || v == "1"
	}
	if v := envInt("ARCNET_MAX_RETRIES"); v != 0 {
		cfg.MaxRetries = v
	}
	if v := envInt("ARCNET_BASE_BACKOFF_MS"); v != 0 {
		cfg.BaseBackoffMS = v
	}
	if v := envInt("ARCNET_RESERVATION_TTL_S"); v != 0 {
		cfg.ReservationTTLS = v
	}
	if v := envInt("ARCNET_STALENESS_THRESHOLD_S"); v != 0 {
		cfg.StalenessThresholdS = v
	}
	if v := os.Getenv("ARCNET_MAX_GPU_UTILIZATION"); v != "" {
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err == nil {
			cfg.MaxGPUUtilization = f
		}
	}
	if v := os.Getenv("ARCNET_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return 0
	}
	return n
}

func (c *SchedulerConfig) setDefaults() {
	if c.GroupID == "" {
		c.GroupID = "arcnet-scheduler"
	}
	if c.PollTimeoutMS == 0 {
		c.PollTimeoutMS = 1000
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BaseBackoffMS == 0 {
		c.BaseBackoffMS = 100
	}
	if c.ReservationTTLS == 0 {
		c.ReservationTTLS = 30
	}
	if c.StalenessThresholdS == 0 {
		c.StalenessThresholdS = 30
	}
	if c.MaxGPUUtilization == 0 {
		c.MaxGPUUtilization = 0.85
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9090"
	}
}

func (c *SchedulerConfig) validate() error {
	if len(c.BootstrapServers) == 0 {
		return fmt.Errorf("bootstrap_servers is required")
	}
	if c.GeozoneID == "" {
		return fmt.Errorf("geozone_id is required")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	if c.MaxGPUUtilization <= 0 || c.MaxGPUUtilization > 1 {
		return fmt.Errorf("max_gpu_utilization must be in (0, 1]")
	}
	return nil
}

// PollTimeout returns PollTimeoutMS as a time.Duration.
func (c *SchedulerConfig) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutMS) * time.Millisecond
}

// BaseBackoff returns BaseBackoffMS as a time.Duration.
func (c *SchedulerConfig) BaseBackoff() time.Duration {
	return time.Duration(c.BaseBackoffMS) * time.Millisecond
}

// ReservationTTL returns ReservationTTLS as a time.Duration.
func (c *SchedulerConfig) ReservationTTL() time.Duration {
	return time.Duration(c.ReservationTTLS) * time.Second
}

// StalenessThreshold returns StalenessThresholdS as a time.Duration.
func (c *SchedulerConfig) StalenessThreshold() time.Duration {
	return time.Duration(c.StalenessThresholdS) * time.Second
}
