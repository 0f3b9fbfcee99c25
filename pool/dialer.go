package pool

import (
	"context"
	"math"
	"time"

	"github.com/go-i2p/go-flowctl"
	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
)

// Dialer establishes transport connections for the pool. Dial may
// suspend waiting for the transport handshake; the context governs
// cancellation. flowctl.NetDialer satisfies this interface.
type Dialer interface {
	Dial(ctx context.Context, target string) (flowctl.Sink, error)
}

// RetryDialer decorates a Dialer with retry logic and exponential
// backoff. The pool itself never retries establishment; wrap a dialer in
// RetryDialer to opt in at construction time.
type RetryDialer struct {
	// Base is the dialer performing the actual establishment.
	Base Dialer

	// Retries is the number of retry attempts after the first failure.
	// 0 means no retries, -1 means retry until the context is done.
	Retries int

	// Backoff is the base delay between attempts. The actual delay is
	// Backoff * (2^attempt), capped at 30 seconds.
	Backoff time.Duration
}

// Dial attempts establishment, retrying per the configured policy.
func (d *RetryDialer) Dial(ctx context.Context, target string) (flowctl.Sink, error) {
	attempt := 0
	for {
		sink, err := d.Base.Dial(ctx, target)
		if err == nil {
			if attempt > 0 {
				log.WithFields(logrus.Fields{
					"target":   target,
					"attempts": attempt + 1,
				}).Info("Dial succeeded after retries")
			}
			return sink, nil
		}

		if d.Retries != -1 && attempt >= d.Retries {
			return nil, oops.
				Code(CodeEstablishFailed).
				In("pool").
				With("target", target).
				With("total_attempts", attempt+1).
				Wrapf(err, "dial failed after %d attempts", attempt+1)
		}

		if waitErr := d.waitBeforeRetry(ctx, attempt); waitErr != nil {
			return nil, oops.
				Code(CodeEstablishFailed).
				In("pool").
				With("target", target).
				Wrapf(waitErr, "dial retry cancelled")
		}

		attempt++
		log.WithFields(logrus.Fields{
			"target":     target,
			"attempt":    attempt + 1,
			"last_error": err.Error(),
		}).Warn("Dial failed, retrying")
	}
}

// waitBeforeRetry sleeps the exponential backoff delay, honoring context
// cancellation.
func (d *RetryDialer) waitBeforeRetry(ctx context.Context, attempt int) error {
	if d.Backoff <= 0 {
		return nil
	}

	delay := time.Duration(float64(d.Backoff) * math.Pow(2, float64(attempt)))
	maxDelay := 30 * time.Second
	if delay > maxDelay {
		delay = maxDelay
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
