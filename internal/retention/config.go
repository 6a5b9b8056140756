package retention

import (
	"time"
)

// Config controls sweep cadence and batch sizes.
type Config struct {
	RunInterval      time.Duration
	SweepBatchSize   int
	RestampBatchSize int
	JobTimeout       time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:      time.Hour,
		SweepBatchSize:   100,
		RestampBatchSize: 500,
		JobTimeout:       5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.SweepBatchSize <= 0 {
		c.SweepBatchSize = defaults.SweepBatchSize
	}
	if c.RestampBatchSize <= 0 {
		c.RestampBatchSize = defaults.RestampBatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
