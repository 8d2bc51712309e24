package activationnotify

import (
	"fmt"
	"time"
)

type Config struct {
	Enabled           bool          `mapstructure:"enabled"`
	MaxJobsActive     int           `mapstructure:"max_jobs_active"`
	Timeout           time.Duration `mapstructure:"timeout"`
	EmailEnabled      bool          `mapstructure:"email_enabled"`
	AdminAlertEnabled bool          `mapstructure:"admin_alert_enabled"`
	DashboardURL      string        `mapstructure:"dashboard_url"`
	ApprovalSLA       string        `mapstructure:"approval_sla"`
}

func DefaultConfig() *Config {
	return &Config{
		Enabled:           true,
		MaxJobsActive:     5,
		Timeout:           30 * time.Second,
		EmailEnabled:      true,
		AdminAlertEnabled: true,
		ApprovalSLA:       "24–48 hours",
	}
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxJobsActive <= 0 {
		return fmt.Errorf("max_jobs_active must be positive")
	}
	if c.ApprovalSLA == "" {
		return fmt.Errorf("approval_sla is required")
	}
	return nil
}
