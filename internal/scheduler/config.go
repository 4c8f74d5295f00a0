package scheduler

import (
	"time"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval time.Duration
	BatchSize   int
	JobTimeout  time.Duration
	// StaleAuthorizationAge is how long an authorization may sit unsettled
	// before the reconciler polls the processor for its real state.
	StaleAuthorizationAge time.Duration
	// ReminderAge is how long an order may wait for payment before the
	// customer is nudged.
	ReminderAge time.Duration
	LockTTL     time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:           time.Minute,
		BatchSize:             50,
		JobTimeout:            30 * time.Second,
		StaleAuthorizationAge: 15 * time.Minute,
		ReminderAge:           24 * time.Hour,
		LockTTL:               5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.StaleAuthorizationAge <= 0 {
		c.StaleAuthorizationAge = defaults.StaleAuthorizationAge
	}
	if c.ReminderAge <= 0 {
		c.ReminderAge = defaults.ReminderAge
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}
