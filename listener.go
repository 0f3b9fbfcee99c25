package flowctl

import (
	"net"
	"sync"

	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
)

// FlowListener wraps a net.Listener so that every accepted connection
// comes back pre-wrapped in a BufferedSink with a shared configuration.
type FlowListener struct {
	// underlying is the wrapped network listener
	underlying net.Listener

	// config is applied to every accepted connection
	config *SinkConfig

	// closeMutex protects close operations
	closeMutex sync.Mutex

	closed bool
}

// WrapListener creates a FlowListener over the given listener. A nil
// config selects the defaults from NewSinkConfig.
func WrapListener(underlying net.Listener, config *SinkConfig) (*FlowListener, error) {
	if underlying == nil {
		return nil, oops.
			Code(CodeInvalidConfig).
			In("flowctl").
			Errorf("underlying listener cannot be nil")
	}

	if config == nil {
		config = NewSinkConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, oops.
			Code(CodeInvalidConfig).
			In("flowctl").
			Wrapf(err, "sink config validation failed")
	}

	return &FlowListener{
		underlying: underlying,
		config:     config,
	}, nil
}

// Accept waits for the next inbound connection and returns it wrapped in
// a BufferedSink.
func (l *FlowListener) Accept() (*BufferedSink, error) {
	conn, err := l.underlying.Accept()
	if err != nil {
		return nil, oops.
			Code(CodeDialFailed).
			In("flowctl").
			With("listener_addr", l.underlying.Addr().String()).
			Wrapf(err, "accept failed")
	}

	sink, err := NewBufferedSink(conn, l.config)
	if err != nil {
		conn.Close()
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"remote_addr": conn.RemoteAddr().String(),
	}).Debug("Accepted flow-controlled connection")

	return sink, nil
}

// Addr returns the listener's network address.
func (l *FlowListener) Addr() net.Addr {
	return l.underlying.Addr()
}

// Close closes the underlying listener. Idempotent.
func (l *FlowListener) Close() error {
	l.closeMutex.Lock()
	defer l.closeMutex.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if err := l.underlying.Close(); err != nil {
		return oops.
			Code(CodeCloseFailed).
			In("flowctl").
			Wrapf(err, "failed to close underlying listener")
	}
	return nil
}
