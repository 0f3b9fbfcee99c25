package pool

import (
	"context"
	"sync"

	"github.com/go-i2p/go-flowctl"
	"github.com/samber/oops"
)

// stubSink is a minimal flowctl.Sink for pool tests. The pool never
// writes through sinks itself, so only Close matters.
type stubSink struct {
	mu     sync.Mutex
	closed bool
}

func (s *stubSink) Send(p []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, oops.Code(flowctl.CodeSinkClosed).In("pool").Errorf("send on closed sink")
	}
	return true, nil
}

func (s *stubSink) OccupiedBytes() int64  { return 0 }
func (s *stubSink) BufferCapacity() int64 { return 1 << 16 }
func (s *stubSink) NotifyDrain(fn func()) {}

func (s *stubSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// mockDialer hands out stub sinks and can be scripted to fail.
type mockDialer struct {
	mu       sync.Mutex
	dials    int
	failNext int
	failAll  bool
	sinks    []*stubSink
}

func newMockDialer() *mockDialer {
	return &mockDialer{}
}

func (d *mockDialer) Dial(ctx context.Context, target string) (flowctl.Sink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++

	if d.failAll || d.failNext > 0 {
		if d.failNext > 0 {
			d.failNext--
		}
		return nil, oops.In("pool").With("target", target).Errorf("scripted dial failure")
	}

	sink := &stubSink{}
	d.sinks = append(d.sinks, sink)
	return sink, nil
}

func (d *mockDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// setFailNext scripts the next n dials to fail.
func (d *mockDialer) setFailNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext = n
}

// setFailAll scripts every dial to fail.
func (d *mockDialer) setFailAll(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failAll = fail
}
