package pool

import (
	"time"

	"github.com/samber/oops"
)

// Config configures a connection pool. It follows the builder pattern
// for optional configuration and validation.
type Config struct {
	// MaxSize is the maximum number of connections handed out (in use or
	// being established) at once. Default: 10
	MaxSize int

	// AcquireTimeout is how long an Acquire call waits for a slot on an
	// exhausted pool before failing. Default: 30 seconds
	AcquireTimeout time.Duration

	// MaxAge is the maximum age of a pooled connection before the reaper
	// closes it. Zero disables the age check. Default: 30 minutes
	MaxAge time.Duration

	// MaxIdle is the maximum time a connection may sit unused in the
	// available set before the reaper closes it. Zero disables the idle
	// check. Default: 5 minutes
	MaxIdle time.Duration

	// ReapInterval is the cadence of the background reaper.
	// Default: 1 minute
	ReapInterval time.Duration
}

// NewConfig creates a Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		MaxSize:        10,
		AcquireTimeout: 30 * time.Second,
		MaxAge:         30 * time.Minute,
		MaxIdle:        5 * time.Minute,
		ReapInterval:   time.Minute,
	}
}

// WithMaxSize sets the maximum number of simultaneously held connections.
func (c *Config) WithMaxSize(n int) *Config {
	c.MaxSize = n
	return c
}

// WithAcquireTimeout sets the exhausted-pool wait bound.
func (c *Config) WithAcquireTimeout(d time.Duration) *Config {
	c.AcquireTimeout = d
	return c
}

// WithMaxAge sets the maximum pooled connection age.
func (c *Config) WithMaxAge(d time.Duration) *Config {
	c.MaxAge = d
	return c
}

// WithMaxIdle sets the maximum idle time before reaping.
func (c *Config) WithMaxIdle(d time.Duration) *Config {
	c.MaxIdle = d
	return c
}

// WithReapInterval sets the reaper cadence.
func (c *Config) WithReapInterval(d time.Duration) *Config {
	c.ReapInterval = d
	return c
}

// Validate checks if the configuration is valid and complete.
func (c *Config) Validate() error {
	if c.MaxSize <= 0 {
		return oops.
			Code(CodeInvalidConfig).
			In("pool").
			With("max_size", c.MaxSize).
			Errorf("max size must be positive")
	}

	if c.AcquireTimeout <= 0 {
		return oops.
			Code(CodeInvalidConfig).
			In("pool").
			With("acquire_timeout", c.AcquireTimeout).
			Errorf("acquire timeout must be positive")
	}

	if c.MaxAge < 0 || c.MaxIdle < 0 {
		return oops.
			Code(CodeInvalidConfig).
			In("pool").
			With("max_age", c.MaxAge).
			With("max_idle", c.MaxIdle).
			Errorf("max age and max idle must be non-negative")
	}

	if c.ReapInterval <= 0 {
		return oops.
			Code(CodeInvalidConfig).
			In("pool").
			With("reap_interval", c.ReapInterval).
			Errorf("reap interval must be positive")
	}

	return nil
}
