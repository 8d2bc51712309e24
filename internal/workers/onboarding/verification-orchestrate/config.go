package verificationorchestrate

import (
	"fmt"
	"time"
)

type Config struct {
	// Timeout bounds the provider start call.
	Timeout time.Duration `mapstructure:"timeout"`
	// SubmitTimeout bounds a whole Submit: provisioning, profile upsert and the
	// provider start call. The flow lock must outlive it.
	SubmitTimeout time.Duration `mapstructure:"submit_timeout"`
	// CallbackURL receives paid-tier returns; ProfileURL receives free-tier returns.
	CallbackURL string `mapstructure:"callback_url"`
	ProfileURL  string `mapstructure:"profile_url"`
	// ReviewProcessID is the BPMN process started when a flow reaches activation.
	// Empty disables it.
	ReviewProcessID string `mapstructure:"review_process_id"`
}

// lockMargin keeps the flow lock alive a little past the submit deadline.
const lockMargin = 5 * time.Second

func DefaultConfig() *Config {
	return &Config{
		Timeout:         25 * time.Second,
		SubmitTimeout:   60 * time.Second,
		ReviewProcessID: "advertiser-review",
	}
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.SubmitTimeout < c.Timeout {
		return fmt.Errorf("submit_timeout must not be shorter than timeout")
	}
	if c.CallbackURL == "" {
		return fmt.Errorf("callback_url is required")
	}
	if c.ProfileURL == "" {
		return fmt.Errorf("profile_url is required")
	}
	return nil
}

// LockTTL is the flow lock lifetime a Submit needs: its whole deadline plus a margin.
func (c *Config) LockTTL() time.Duration {
	return c.SubmitTimeout + lockMargin
}
