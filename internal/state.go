package internal

import (
	"sync"
	"time"
)

// ConnState represents the lifecycle state of a pooled connection
type ConnState int

const (
	// StateCreated represents a connection object not yet dialed
	StateCreated ConnState = iota
	// StateConnecting represents a connection mid-establishment
	StateConnecting
	// StateConnected represents an established, usable connection
	StateConnected
	// StateFailed represents a connection whose establishment failed
	StateFailed
	// StateClosed represents a closed connection
	StateClosed
)

// String returns the string representation of the connection state
func (s ConnState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnMetrics holds per-connection cumulative counters. A connection's
// counters are mutated only by whichever component currently holds it.
type ConnMetrics struct {
	mu           sync.RWMutex
	BytesRead    int64
	BytesWritten int64
	ReuseCount   int64
	Created      time.Time
}

// NewConnMetrics creates a new ConnMetrics instance
func NewConnMetrics() *ConnMetrics {
	return &ConnMetrics{
		Created: time.Now(),
	}
}

// AddBytesRead increments the bytes read counter
func (m *ConnMetrics) AddBytesRead(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BytesRead += n
}

// AddBytesWritten increments the bytes written counter
func (m *ConnMetrics) AddBytesWritten(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BytesWritten += n
}

// IncrementReuse increments the pool reuse counter
func (m *ConnMetrics) IncrementReuse() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReuseCount++
}

// Age returns the time elapsed since the connection was created
func (m *ConnMetrics) Age() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.Created)
}

// GetStats returns current connection counters
func (m *ConnMetrics) GetStats() (bytesRead, bytesWritten, reuseCount int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.BytesRead, m.BytesWritten, m.ReuseCount
}
