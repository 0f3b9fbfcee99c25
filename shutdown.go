package flowctl

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/go-i2p/logger"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// ShutdownManager coordinates graceful teardown of flow control
// components. Monitors are stopped first so no sampler activity outlives
// shutdown, then producers are detached, then the registered closers
// (sinks, listeners, pools) are closed, each bounded by the configured
// timeout.
type ShutdownManager struct {
	// ctx is the context for shutdown signaling
	ctx context.Context

	// cancel cancels the shutdown context
	cancel context.CancelFunc

	// monitors tracks monitors to stop during shutdown
	monitors map[*BackpressureMonitor]struct{}

	// producers tracks producers to detach during shutdown
	producers map[*Producer]struct{}

	// closers tracks sinks, listeners, and pools to close
	closers map[io.Closer]struct{}

	// mu protects the component maps
	mu sync.RWMutex

	// shutdownTimeout is the maximum time to wait for closers
	shutdownTimeout time.Duration

	// logger for shutdown events
	logger *logger.Logger

	// done signals when shutdown is complete
	done chan struct{}

	// once ensures shutdown only happens once
	once sync.Once

	err error
}

// NewShutdownManager creates a shutdown manager with the given timeout.
// If timeout is 0, a default of 30 seconds is used.
func NewShutdownManager(timeout time.Duration) *ShutdownManager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &ShutdownManager{
		ctx:             ctx,
		cancel:          cancel,
		monitors:        make(map[*BackpressureMonitor]struct{}),
		producers:       make(map[*Producer]struct{}),
		closers:         make(map[io.Closer]struct{}),
		shutdownTimeout: timeout,
		logger:          log,
		done:            make(chan struct{}),
	}
}

// RegisterMonitor adds a monitor to be stopped during shutdown.
func (sm *ShutdownManager) RegisterMonitor(m *BackpressureMonitor) {
	if m == nil {
		return
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.monitors[m] = struct{}{}
	sm.logger.WithFields(logrus.Fields{
		"total_monitors": len(sm.monitors),
	}).Debug("registered monitor for shutdown management")
}

// RegisterProducer adds a producer to be closed during shutdown.
func (sm *ShutdownManager) RegisterProducer(p *Producer) {
	if p == nil {
		return
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.producers[p] = struct{}{}
}

// RegisterCloser adds a sink, listener, or pool to be closed during
// shutdown.
func (sm *ShutdownManager) RegisterCloser(c io.Closer) {
	if c == nil {
		return
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.closers[c] = struct{}{}
}

// UnregisterCloser removes a closer from shutdown management. This
// should be called when a component is closed normally.
func (sm *ShutdownManager) UnregisterCloser(c io.Closer) {
	if c == nil {
		return
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.closers, c)
}

// Context returns the shutdown context for monitoring shutdown signals.
// Components can use this context to detect when shutdown has begun.
func (sm *ShutdownManager) Context() context.Context {
	return sm.ctx
}

// Shutdown tears down all managed components in order: monitors,
// producers, then closers. Errors are aggregated; Shutdown is
// idempotent and later calls return the first result.
func (sm *ShutdownManager) Shutdown() error {
	sm.once.Do(func() {
		defer close(sm.done)

		sm.mu.RLock()
		sm.logger.WithFields(logrus.Fields{
			"timeout":   sm.shutdownTimeout.String(),
			"monitors":  len(sm.monitors),
			"producers": len(sm.producers),
			"closers":   len(sm.closers),
		}).Info("initiating graceful shutdown")
		sm.mu.RUnlock()

		sm.cancel()
		sm.stopMonitors()
		sm.closeProducers()
		sm.err = sm.closeClosers()

		sm.logger.Info("graceful shutdown complete")
	})

	return sm.err
}

// Wait blocks until shutdown is complete.
func (sm *ShutdownManager) Wait() {
	<-sm.done
}

// stopMonitors stops every registered monitor's sampler.
func (sm *ShutdownManager) stopMonitors() {
	sm.mu.RLock()
	monitors := make([]*BackpressureMonitor, 0, len(sm.monitors))
	for m := range sm.monitors {
		monitors = append(monitors, m)
	}
	sm.mu.RUnlock()

	for _, m := range monitors {
		m.Stop()
	}
}

// closeProducers detaches every registered producer.
func (sm *ShutdownManager) closeProducers() {
	sm.mu.RLock()
	producers := make([]*Producer, 0, len(sm.producers))
	for p := range sm.producers {
		producers = append(producers, p)
	}
	sm.mu.RUnlock()

	for _, p := range producers {
		p.Close()
	}
}

// closeClosers closes every registered closer within the timeout,
// aggregating errors.
func (sm *ShutdownManager) closeClosers() error {
	sm.mu.RLock()
	closers := make([]io.Closer, 0, len(sm.closers))
	for c := range sm.closers {
		closers = append(closers, c)
	}
	sm.mu.RUnlock()

	deadline := time.NewTimer(sm.shutdownTimeout)
	defer deadline.Stop()

	errCh := make(chan error, 1)
	go func() {
		var err error
		for _, c := range closers {
			err = multierr.Append(err, c.Close())
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-deadline.C:
		sm.logger.WithFields(logrus.Fields{
			"timeout": sm.shutdownTimeout.String(),
		}).Warn("timeout waiting for components to close")
		return context.DeadlineExceeded
	}
}
