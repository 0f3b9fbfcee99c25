// Package pool manages a bounded set of live flow-controlled
// connections, handing them out to concurrent requesters under a FIFO
// fairness policy with acquire timeouts, and reclaiming them on release.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-i2p/go-flowctl/internal"
	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// waiter is one queued Acquire call. Its channel carries a single slot
// grant.
type waiter struct {
	ch chan struct{}
}

// Pool multiplexes up to MaxSize live connections across concurrent
// requesters. Released healthy connections are kept in a per-target
// available set and handed out most-recently-released first; exhausted
// acquires queue in arrival order. A background reaper evicts unhealthy
// and idle connections from the available set.
//
// At every instant a managed connection belongs to exactly one of the
// available or in-use sets; destroyed connections are untracked.
type Pool struct {
	config *Config
	dialer Dialer
	clk    clock.Clock

	mu        sync.Mutex
	available map[string][]*PooledConn
	inUse     map[*PooledConn]struct{}
	reserved  int
	waiters   []*waiter
	closed    bool
	stats     Stats

	reaperStop chan struct{}
	wg         sync.WaitGroup
}

// New creates a pool using the given dialer for establishment and starts
// its background reaper. A nil config selects the defaults from
// NewConfig.
func New(dialer Dialer, config *Config) (*Pool, error) {
	return NewWithClock(dialer, config, clock.New())
}

// NewWithClock is New with an injected clock, for deterministic reaper
// and timeout behavior in tests.
func NewWithClock(dialer Dialer, config *Config, clk clock.Clock) (*Pool, error) {
	if dialer == nil {
		return nil, oops.
			Code(CodeInvalidConfig).
			In("pool").
			Errorf("dialer cannot be nil")
	}

	if config == nil {
		config = NewConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, oops.
			Code(CodeInvalidConfig).
			In("pool").
			Wrapf(err, "pool config validation failed")
	}

	p := &Pool{
		config:     config,
		dialer:     dialer,
		clk:        clk,
		available:  make(map[string][]*PooledConn),
		inUse:      make(map[*PooledConn]struct{}),
		reaperStop: make(chan struct{}),
	}

	p.wg.Add(1)
	go p.reapLoop()

	log.WithFields(logrus.Fields{
		"max_size":        config.MaxSize,
		"acquire_timeout": config.AcquireTimeout,
	}).Debug("Connection pool created")

	return p, nil
}

// Acquire returns a connection to target, reusing an available one when
// possible, establishing a new one while the pool is below MaxSize, and
// otherwise waiting in FIFO order for a released slot. Waiting ends with
// an ACQUIRE_TIMEOUT error after the configured timeout, or earlier if
// ctx is done; neither leaks a slot reservation. Establishment failure
// surfaces as ESTABLISH_FAILED wrapping the transport error.
func (p *Pool) Acquire(ctx context.Context, target string) (*PooledConn, error) {
	timeout := p.clk.Timer(p.config.AcquireTimeout)
	defer timeout.Stop()

	granted := false
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, oops.
				Code(CodePoolClosed).
				In("pool").
				With("target", target).
				Errorf("acquire on destroyed pool")
		}

		// A granted waiter proceeds even while others queue behind it;
		// fresh arrivals must not jump the queue.
		if granted || len(p.waiters) == 0 {
			if conn, dead := p.popAvailableLocked(target); conn != nil || len(dead) > 0 {
				p.mu.Unlock()
				closeAll(dead)
				if conn != nil {
					return conn, nil
				}
				// Only stale conns were found; retry from the top.
				continue
			}

			if len(p.inUse)+p.reserved < p.config.MaxSize {
				p.reserved++
				p.mu.Unlock()
				return p.establish(ctx, target)
			}
		}

		w := &waiter{ch: make(chan struct{}, 1)}
		if granted {
			// Keep the head position earned by the earlier grant.
			p.waiters = append([]*waiter{w}, p.waiters...)
		} else {
			p.waiters = append(p.waiters, w)
		}
		p.mu.Unlock()

		select {
		case <-w.ch:
			granted = true

		case <-ctx.Done():
			p.dropWaiter(w)
			return nil, oops.
				In("pool").
				With("target", target).
				Wrapf(ctx.Err(), "acquire cancelled")

		case <-timeout.C:
			p.dropWaiter(w)
			p.mu.Lock()
			p.stats.Timeouts++
			p.mu.Unlock()
			return nil, oops.
				Code(CodeAcquireTimeout).
				In("pool").
				With("target", target).
				With("timeout", p.config.AcquireTimeout).
				With("max_size", p.config.MaxSize).
				Errorf("pool exhausted beyond acquire timeout")
		}
	}
}

// Release returns an in-use connection to the pool. Releasing a
// connection the pool does not track as in-use fails with
// FOREIGN_RELEASE and corrupts nothing. A healthy connection is pooled
// for reuse while the available set has room; otherwise it is destroyed.
func (p *Pool) Release(conn *PooledConn) error {
	if conn == nil {
		return oops.
			Code(CodeForeignRelease).
			In("pool").
			Errorf("cannot release nil connection")
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		conn.Close()
		return oops.
			Code(CodePoolClosed).
			In("pool").
			With("conn_id", conn.ID()).
			Errorf("release on destroyed pool")
	}

	if _, ok := p.inUse[conn]; !ok {
		p.stats.ForeignReleases++
		p.mu.Unlock()
		log.WithFields(logrus.Fields{
			"conn_id": conn.ID(),
			"target":  conn.Target(),
		}).Error("Release of connection not tracked as in-use")
		return oops.
			Code(CodeForeignRelease).
			In("pool").
			With("conn_id", conn.ID()).
			With("target", conn.Target()).
			Errorf("connection is not tracked as in-use")
	}

	delete(p.inUse, conn)
	p.stats.Released++

	destroy := false
	if conn.Healthy() && p.availableCountLocked() < p.config.MaxSize {
		conn.lastUsed = p.clk.Now()
		p.available[conn.target] = append(p.available[conn.target], conn)
	} else {
		p.stats.Destroyed++
		destroy = true
	}
	p.notifyLocked()
	p.mu.Unlock()

	if destroy {
		if err := conn.Close(); err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"conn_id": conn.ID(),
			}).Warn("error destroying connection on release")
		}
	}
	return nil
}

// DestroyAll closes every tracked connection in both sets and clears
// them. The pool is unusable afterwards. Idempotent.
func (p *Pool) DestroyAll() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	conns := make([]*PooledConn, 0, len(p.inUse)+p.availableCountLocked())
	for conn := range p.inUse {
		conns = append(conns, conn)
	}
	for _, list := range p.available {
		conns = append(conns, list...)
	}
	p.available = make(map[string][]*PooledConn)
	p.inUse = make(map[*PooledConn]struct{})
	p.stats.Destroyed += int64(len(conns))

	// Wake every waiter; they observe the closed pool and fail.
	for _, w := range p.waiters {
		select {
		case w.ch <- struct{}{}:
		default:
		}
	}
	p.waiters = nil
	close(p.reaperStop)
	p.mu.Unlock()

	var err error
	for _, conn := range conns {
		err = multierr.Append(err, conn.Close())
	}

	p.wg.Wait()

	log.WithFields(logrus.Fields{
		"destroyed": len(conns),
	}).Debug("Connection pool destroyed")

	return err
}

// Close destroys the pool; it satisfies io.Closer for shutdown
// coordination.
func (p *Pool) Close() error {
	return p.DestroyAll()
}

// Stats returns a snapshot of the pool's counters and current gauges.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.stats
	s.Available = p.availableCountLocked()
	s.InUse = len(p.inUse)
	s.Waiting = len(p.waiters)
	return s
}

// establish dials a new connection against a held slot reservation. On
// failure the reservation is returned and the next waiter woken.
func (p *Pool) establish(ctx context.Context, target string) (*PooledConn, error) {
	conn := newPooledConn(target)
	conn.setState(internal.StateConnecting)

	sink, err := p.dialer.Dial(ctx, target)
	if err != nil {
		conn.setState(internal.StateFailed)
		p.mu.Lock()
		p.reserved--
		p.stats.Failures++
		p.notifyLocked()
		p.mu.Unlock()
		return nil, oops.
			Code(CodeEstablishFailed).
			In("pool").
			With("target", target).
			With("conn_id", conn.ID()).
			Wrapf(err, "failed to establish connection")
	}

	conn.bind(sink)

	p.mu.Lock()
	if p.closed {
		p.reserved--
		p.mu.Unlock()
		conn.Close()
		return nil, oops.
			Code(CodePoolClosed).
			In("pool").
			With("target", target).
			Errorf("pool destroyed during establishment")
	}
	p.reserved--
	p.inUse[conn] = struct{}{}
	conn.establishedAt = p.clk.Now()
	conn.lastUsed = conn.establishedAt
	p.stats.Created++
	p.stats.Acquired++
	p.mu.Unlock()

	return conn, nil
}

// popAvailableLocked pops the most recently released healthy connection
// for target, moving it to in-use. Unhealthy connections encountered on
// the way are removed and returned for closing outside the lock.
func (p *Pool) popAvailableLocked(target string) (*PooledConn, []*PooledConn) {
	var dead []*PooledConn
	list := p.available[target]
	for len(list) > 0 {
		conn := list[len(list)-1]
		list = list[:len(list)-1]

		if !conn.Healthy() {
			dead = append(dead, conn)
			p.stats.Destroyed++
			continue
		}

		if len(list) == 0 {
			delete(p.available, target)
		} else {
			p.available[target] = list
		}
		p.inUse[conn] = struct{}{}
		conn.metrics.IncrementReuse()
		p.stats.Reused++
		p.stats.Acquired++
		return conn, dead
	}

	if len(list) == 0 {
		delete(p.available, target)
	}
	return nil, dead
}

// dropWaiter removes w from the queue. If w was already granted a slot,
// the grant is forwarded to the next waiter instead of being lost.
func (p *Pool) dropWaiter(w *waiter) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, queued := range p.waiters {
		if queued == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
	p.notifyLocked()
}

// notifyLocked grants a freed slot to the head waiter, if any.
func (p *Pool) notifyLocked() {
	if len(p.waiters) == 0 {
		return
	}
	w := p.waiters[0]
	p.waiters = p.waiters[1:]
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

// availableCountLocked sums the available set across targets.
func (p *Pool) availableCountLocked() int {
	total := 0
	for _, list := range p.available {
		total += len(list)
	}
	return total
}

// reapLoop runs the background reaper until the pool is destroyed.
func (p *Pool) reapLoop() {
	defer p.wg.Done()

	ticker := p.clk.Ticker(p.config.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.reaperStop:
			return
		case <-ticker.C:
			p.reap()
		}
	}
}

// reap evicts unhealthy, idle, and over-age connections from the
// available set. Errors are handled locally and surface only in stats.
func (p *Pool) reap() {
	now := p.clk.Now()

	p.mu.Lock()
	var evicted []*PooledConn
	for target, list := range p.available {
		kept := list[:0]
		for _, conn := range list {
			if p.shouldReapLocked(conn, now) {
				evicted = append(evicted, conn)
			} else {
				kept = append(kept, conn)
			}
		}
		if len(kept) == 0 {
			delete(p.available, target)
		} else {
			p.available[target] = kept
		}
	}
	p.stats.Reaped += int64(len(evicted))
	p.stats.Destroyed += int64(len(evicted))
	p.mu.Unlock()

	if len(evicted) > 0 {
		log.WithFields(logrus.Fields{
			"evicted": len(evicted),
		}).Debug("Reaper evicted stale connections")
	}
	closeAll(evicted)
}

// shouldReapLocked decides whether an available connection is stale.
func (p *Pool) shouldReapLocked(conn *PooledConn, now time.Time) bool {
	if !conn.Healthy() {
		return true
	}
	if p.config.MaxIdle > 0 && now.Sub(conn.lastUsed) > p.config.MaxIdle {
		return true
	}
	if p.config.MaxAge > 0 && !conn.establishedAt.IsZero() && now.Sub(conn.establishedAt) > p.config.MaxAge {
		return true
	}
	return false
}

// closeAll closes connections outside the pool lock, logging failures.
func closeAll(conns []*PooledConn) {
	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"conn_id": conn.ID(),
			}).Warn("error closing stale connection")
		}
	}
}
