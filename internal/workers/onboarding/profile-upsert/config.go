package profileupsert

import (
	"fmt"
	"time"
)

type Config struct {
	Timeout time.Duration `mapstructure:"timeout"`
	// IndexName is the search index pending profiles are copied into. Empty disables indexing.
	IndexName string `mapstructure:"index_name"`
}

func DefaultConfig() *Config {
	return &Config{
		Timeout:   10 * time.Second,
		IndexName: "advertisers",
	}
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}
