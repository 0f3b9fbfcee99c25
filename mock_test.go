package flowctl

import (
	"net"
	"sync"
	"time"

	"github.com/samber/oops"
)

// mockSink is a scriptable Sink for writer, monitor, and producer tests.
type mockSink struct {
	mu       sync.Mutex
	occupied int64
	capacity int64
	refuse   bool
	closed   bool
	sent     [][]byte
	drainFns []func()
}

func newMockSink(capacity int64) *mockSink {
	return &mockSink{capacity: capacity}
}

func (s *mockSink) Send(p []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, errSinkClosedForTest()
	}
	if s.refuse {
		return false, nil
	}

	buf := make([]byte, len(p))
	copy(buf, p)
	s.sent = append(s.sent, buf)
	s.occupied += int64(len(p))
	return true, nil
}

func (s *mockSink) OccupiedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.occupied
}

func (s *mockSink) BufferCapacity() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity
}

func (s *mockSink) NotifyDrain(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drainFns = append(s.drainFns, fn)
}

func (s *mockSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// setOccupied scripts the next occupancy readings.
func (s *mockSink) setOccupied(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.occupied = n
}

// setRefuse scripts whether Send refuses payloads.
func (s *mockSink) setRefuse(refuse bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refuse = refuse
}

// fireDrain invokes every registered drain observer.
func (s *mockSink) fireDrain() {
	s.mu.Lock()
	fns := make([]func(), len(s.drainFns))
	copy(fns, s.drainFns)
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func errSinkClosedForTest() error {
	// Same error shape as production so the predicates hold in tests.
	return oops.Code(CodeSinkClosed).In("flowctl").Errorf("send on closed sink")
}

// mockNetConn implements net.Conn for BufferedSink tests. Writes can be
// gated to hold buffer occupancy at a known level.
type mockNetConn struct {
	mu       sync.Mutex
	written  [][]byte
	closed   bool
	writeErr error
	closeErr error

	// gate, when non-nil, blocks Write until released
	gate chan struct{}
}

func newMockNetConn() *mockNetConn {
	return &mockNetConn{}
}

// gateWrites makes subsequent writes block until ungateWrites.
func (m *mockNetConn) gateWrites() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = make(chan struct{})
}

func (m *mockNetConn) ungateWrites() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gate != nil {
		close(m.gate)
		m.gate = nil
	}
}

func (m *mockNetConn) Write(b []byte) (int, error) {
	m.mu.Lock()
	gate := m.gate
	m.mu.Unlock()

	if gate != nil {
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	buf := make([]byte, len(b))
	copy(buf, b)
	m.written = append(m.written, buf)
	return len(b), nil
}

func (m *mockNetConn) writtenBytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []byte
	for _, chunk := range m.written {
		out = append(out, chunk...)
	}
	return out
}

func (m *mockNetConn) Read(b []byte) (int, error) { return 0, nil }

func (m *mockNetConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.closeErr
}

// setCloseErr scripts Close to fail.
func (m *mockNetConn) setCloseErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeErr = err
}
func (m *mockNetConn) LocalAddr() net.Addr         { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1} }
func (m *mockNetConn) RemoteAddr() net.Addr        { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 2} }
func (m *mockNetConn) SetDeadline(time.Time) error { return nil }

func (m *mockNetConn) SetReadDeadline(time.Time) error  { return nil }
func (m *mockNetConn) SetWriteDeadline(time.Time) error { return nil }

func (m *mockNetConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
