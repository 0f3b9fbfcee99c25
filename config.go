package flowctl

import (
	"time"

	"github.com/samber/oops"
)

// SinkConfig contains configuration for creating a BufferedSink.
// It follows the builder pattern for optional configuration and validation.
type SinkConfig struct {
	// BufferCapacity is the maximum number of bytes the sink will hold
	// before refusing further payloads entirely.
	// Default: 64 KiB
	BufferCapacity int64

	// HighWaterMark is the occupancy at or above which Send reports
	// saturation (accepted=false). Must not exceed BufferCapacity.
	// Default: BufferCapacity / 2
	HighWaterMark int64

	// LowWaterMark is the occupancy the buffer must drain below before a
	// drain notification fires and writes are invited again.
	// Default: HighWaterMark / 2
	LowWaterMark int64

	// WriteTimeout is the deadline applied to each flush to the underlying
	// connection. Default: no timeout (0)
	WriteTimeout time.Duration

	// FlushChunkSize is the largest slice handed to the underlying
	// connection per flush pass. Default: 16 KiB
	FlushChunkSize int64
}

// NewSinkConfig creates a SinkConfig with sensible defaults.
func NewSinkConfig() *SinkConfig {
	capacity := int64(64 * 1024)
	return &SinkConfig{
		BufferCapacity: capacity,
		HighWaterMark:  capacity / 2,
		LowWaterMark:   capacity / 4,
		WriteTimeout:   0,
		FlushChunkSize: 16 * 1024,
	}
}

// WithBufferCapacity sets the total buffer capacity in bytes.
func (c *SinkConfig) WithBufferCapacity(n int64) *SinkConfig {
	c.BufferCapacity = n
	return c
}

// WithHighWaterMark sets the saturation threshold in bytes.
func (c *SinkConfig) WithHighWaterMark(n int64) *SinkConfig {
	c.HighWaterMark = n
	return c
}

// WithLowWaterMark sets the drain resume level in bytes.
func (c *SinkConfig) WithLowWaterMark(n int64) *SinkConfig {
	c.LowWaterMark = n
	return c
}

// WithWriteTimeout sets the per-flush write deadline.
func (c *SinkConfig) WithWriteTimeout(timeout time.Duration) *SinkConfig {
	c.WriteTimeout = timeout
	return c
}

// WithFlushChunkSize sets the maximum bytes flushed per pass.
func (c *SinkConfig) WithFlushChunkSize(n int64) *SinkConfig {
	c.FlushChunkSize = n
	return c
}

// Validate checks if the configuration is valid and complete.
// Returns an error with context if validation fails.
func (c *SinkConfig) Validate() error {
	if c.BufferCapacity <= 0 {
		return oops.
			Code(CodeInvalidConfig).
			In("flowctl").
			With("buffer_capacity", c.BufferCapacity).
			Errorf("buffer capacity must be positive")
	}

	if c.HighWaterMark <= 0 || c.HighWaterMark > c.BufferCapacity {
		return oops.
			Code(CodeInvalidConfig).
			In("flowctl").
			With("high_water_mark", c.HighWaterMark).
			With("buffer_capacity", c.BufferCapacity).
			Errorf("high-water mark must be in (0, capacity]")
	}

	if c.LowWaterMark < 0 || c.LowWaterMark >= c.HighWaterMark {
		return oops.
			Code(CodeInvalidConfig).
			In("flowctl").
			With("low_water_mark", c.LowWaterMark).
			With("high_water_mark", c.HighWaterMark).
			Errorf("low-water mark must be in [0, high-water mark)")
	}

	if c.FlushChunkSize <= 0 {
		return oops.
			Code(CodeInvalidConfig).
			In("flowctl").
			With("flush_chunk_size", c.FlushChunkSize).
			Errorf("flush chunk size must be positive")
	}

	if c.WriteTimeout < 0 {
		return oops.
			Code(CodeInvalidConfig).
			In("flowctl").
			With("write_timeout", c.WriteTimeout).
			Errorf("write timeout must be non-negative")
	}

	return nil
}

// MonitorConfig contains configuration for a BackpressureMonitor.
type MonitorConfig struct {
	// SaturationThreshold is the utilization at or above which a sample is
	// classified as saturated. Must be in (0, 1].
	// Default: 0.8
	SaturationThreshold float64

	// SampleInterval is the cadence of the periodic sampler.
	// Default: 100ms
	SampleInterval time.Duration

	// StalenessBound is how old the latest sample may be before
	// IsSaturated takes a fresh sample instead of reusing it.
	// Default: 100ms
	StalenessBound time.Duration

	// HistorySize is the number of samples retained, oldest evicted first.
	// Default: 100
	HistorySize int

	// EventBuffer is the channel depth handed to subscribers. Events to a
	// full subscriber channel are dropped, never blocking the monitor.
	// Default: 16
	EventBuffer int
}

// NewMonitorConfig creates a MonitorConfig with sensible defaults.
func NewMonitorConfig() *MonitorConfig {
	return &MonitorConfig{
		SaturationThreshold: 0.8,
		SampleInterval:      100 * time.Millisecond,
		StalenessBound:      100 * time.Millisecond,
		HistorySize:         100,
		EventBuffer:         16,
	}
}

// WithSaturationThreshold sets the saturation classification threshold.
func (c *MonitorConfig) WithSaturationThreshold(t float64) *MonitorConfig {
	c.SaturationThreshold = t
	return c
}

// WithSampleInterval sets the periodic sampling cadence.
func (c *MonitorConfig) WithSampleInterval(d time.Duration) *MonitorConfig {
	c.SampleInterval = d
	return c
}

// WithStalenessBound sets the maximum age of a reusable sample.
func (c *MonitorConfig) WithStalenessBound(d time.Duration) *MonitorConfig {
	c.StalenessBound = d
	return c
}

// WithHistorySize sets the sample history capacity.
func (c *MonitorConfig) WithHistorySize(n int) *MonitorConfig {
	c.HistorySize = n
	return c
}

// WithEventBuffer sets the subscriber channel depth.
func (c *MonitorConfig) WithEventBuffer(n int) *MonitorConfig {
	c.EventBuffer = n
	return c
}

// Validate checks if the configuration is valid and complete.
func (c *MonitorConfig) Validate() error {
	if c.SaturationThreshold <= 0 || c.SaturationThreshold > 1 {
		return oops.
			Code(CodeInvalidConfig).
			In("flowctl").
			With("saturation_threshold", c.SaturationThreshold).
			Errorf("saturation threshold must be in (0, 1]")
	}

	if c.SampleInterval <= 0 {
		return oops.
			Code(CodeInvalidConfig).
			In("flowctl").
			With("sample_interval", c.SampleInterval).
			Errorf("sample interval must be positive")
	}

	if c.StalenessBound <= 0 {
		return oops.
			Code(CodeInvalidConfig).
			In("flowctl").
			With("staleness_bound", c.StalenessBound).
			Errorf("staleness bound must be positive")
	}

	if c.HistorySize <= 0 {
		return oops.
			Code(CodeInvalidConfig).
			In("flowctl").
			With("history_size", c.HistorySize).
			Errorf("history size must be positive")
	}

	if c.EventBuffer <= 0 {
		return oops.
			Code(CodeInvalidConfig).
			In("flowctl").
			With("event_buffer", c.EventBuffer).
			Errorf("event buffer must be positive")
	}

	return nil
}

// AIMDConfig contains the policy constants of the additive-increase /
// multiplicative-decrease rate control law. All values are tunable; the
// defaults follow the conventional halve-on-congestion, recover-gently
// policy.
type AIMDConfig struct {
	// NominalRate is the producer's configured full send rate in bytes
	// per second. The controller never exceeds it.
	NominalRate float64

	// DecreaseFactor is applied to the current rate on a saturation
	// event. Must be in (0, 1). Default: 0.5
	DecreaseFactor float64

	// IncreaseFactor is applied to the current rate on a drain event.
	// Must be > 1. Default: 1.2
	IncreaseFactor float64

	// FloorFraction is the lowest the rate may fall, as a fraction of
	// NominalRate. Must be in (0, 1]. Default: 0.1
	FloorFraction float64

	// Burst is the token bucket burst handed to the rate limiter.
	// Default: NominalRate rounded down to a whole number of bytes.
	Burst int
}

// NewAIMDConfig creates an AIMDConfig with the default control constants
// for the given nominal rate in bytes per second.
func NewAIMDConfig(nominalRate float64) *AIMDConfig {
	return &AIMDConfig{
		NominalRate:    nominalRate,
		DecreaseFactor: 0.5,
		IncreaseFactor: 1.2,
		FloorFraction:  0.1,
		Burst:          int(nominalRate),
	}
}

// WithDecreaseFactor sets the multiplicative decrease factor.
func (c *AIMDConfig) WithDecreaseFactor(f float64) *AIMDConfig {
	c.DecreaseFactor = f
	return c
}

// WithIncreaseFactor sets the recovery increase factor.
func (c *AIMDConfig) WithIncreaseFactor(f float64) *AIMDConfig {
	c.IncreaseFactor = f
	return c
}

// WithFloorFraction sets the minimum rate as a fraction of nominal.
func (c *AIMDConfig) WithFloorFraction(f float64) *AIMDConfig {
	c.FloorFraction = f
	return c
}

// WithBurst sets the rate limiter burst size in bytes.
func (c *AIMDConfig) WithBurst(n int) *AIMDConfig {
	c.Burst = n
	return c
}

// Validate checks if the configuration is valid and complete.
func (c *AIMDConfig) Validate() error {
	if c.NominalRate <= 0 {
		return oops.
			Code(CodeInvalidConfig).
			In("flowctl").
			With("nominal_rate", c.NominalRate).
			Errorf("nominal rate must be positive")
	}

	if c.DecreaseFactor <= 0 || c.DecreaseFactor >= 1 {
		return oops.
			Code(CodeInvalidConfig).
			In("flowctl").
			With("decrease_factor", c.DecreaseFactor).
			Errorf("decrease factor must be in (0, 1)")
	}

	if c.IncreaseFactor <= 1 {
		return oops.
			Code(CodeInvalidConfig).
			In("flowctl").
			With("increase_factor", c.IncreaseFactor).
			Errorf("increase factor must be greater than 1")
	}

	if c.FloorFraction <= 0 || c.FloorFraction > 1 {
		return oops.
			Code(CodeInvalidConfig).
			In("flowctl").
			With("floor_fraction", c.FloorFraction).
			Errorf("floor fraction must be in (0, 1]")
	}

	if c.Burst <= 0 {
		return oops.
			Code(CodeInvalidConfig).
			In("flowctl").
			With("burst", c.Burst).
			Errorf("burst must be positive")
	}

	return nil
}
