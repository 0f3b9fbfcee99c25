// Package flowctl provides a flow-controlled write pipeline for TCP-like
// transports: a buffering sink with high/low-water marks and drain
// notifications, a write decorator with saturation accounting, a passive
// backpressure monitor with periodic sampling, and an AIMD-driven
// adaptive-rate producer.
package flowctl

import (
	"sync"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
)

// AIMDController applies an additive-increase/multiplicative-decrease
// control law to a producer's send rate. On a saturation signal the rate
// is multiplied by the decrease factor, floored at a fraction of the
// nominal rate; on a drain signal it is multiplied by the increase
// factor, capped at the nominal rate. All constants come from AIMDConfig.
type AIMDController struct {
	config *AIMDConfig

	mu      sync.Mutex
	current float64

	logger *logger.Logger
}

// NewAIMDController creates a controller starting at the nominal rate.
func NewAIMDController(config *AIMDConfig) (*AIMDController, error) {
	if config == nil {
		return nil, oops.
			Code(CodeInvalidConfig).
			In("flowctl").
			Errorf("aimd config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, oops.
			Code(CodeInvalidConfig).
			In("flowctl").
			Wrapf(err, "aimd config validation failed")
	}

	return &AIMDController{
		config:  config,
		current: config.NominalRate,
		logger:  log,
	}, nil
}

// OnSaturated cuts the current rate by the decrease factor, never below
// the configured floor. Returns the new rate in bytes per second.
func (a *AIMDController) OnSaturated() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	floor := a.config.NominalRate * a.config.FloorFraction
	next := a.current * a.config.DecreaseFactor
	if next < floor {
		next = floor
	}
	old := a.current
	a.current = next

	a.logger.WithFields(logrus.Fields{
		"old_rate": old,
		"new_rate": next,
	}).Debug("Rate decreased on saturation")

	return next
}

// OnDrained raises the current rate by the increase factor, never above
// the nominal rate. Returns the new rate in bytes per second.
func (a *AIMDController) OnDrained() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	next := a.current * a.config.IncreaseFactor
	if next > a.config.NominalRate {
		next = a.config.NominalRate
	}
	old := a.current
	a.current = next

	a.logger.WithFields(logrus.Fields{
		"old_rate": old,
		"new_rate": next,
	}).Debug("Rate increased on drain")

	return next
}

// Rate returns the current rate in bytes per second.
func (a *AIMDController) Rate() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Reset returns the controller to the nominal rate.
func (a *AIMDController) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = a.config.NominalRate
}
