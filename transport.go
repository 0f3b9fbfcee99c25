package flowctl

import (
	"context"
	"net"
	"time"

	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
)

// NetDialer establishes TCP connections and adapts them to the Sink
// contract with a BufferedSink. It satisfies the pool's Dialer interface.
type NetDialer struct {
	// SinkConfig is applied to every dialed connection. Nil selects the
	// defaults from NewSinkConfig.
	SinkConfig *SinkConfig

	// DialTimeout bounds connection establishment. Default: no bound
	// beyond the caller's context.
	DialTimeout time.Duration
}

// NewNetDialer creates a dialer producing BufferedSinks with the given
// sink configuration.
func NewNetDialer(config *SinkConfig) *NetDialer {
	return &NetDialer{SinkConfig: config}
}

// Dial connects to target ("host:port") and wraps the connection in a
// BufferedSink. The context governs establishment and may cancel it.
func (d *NetDialer) Dial(ctx context.Context, target string) (Sink, error) {
	if d.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.DialTimeout)
		defer cancel()
	}

	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, oops.
			Code(CodeDialFailed).
			In("flowctl").
			With("target", target).
			Wrapf(err, "failed to dial target")
	}

	sink, err := NewBufferedSink(conn, d.SinkConfig)
	if err != nil {
		conn.Close()
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"target":     target,
		"local_addr": conn.LocalAddr().String(),
	}).Debug("Dialed flow-controlled connection")

	return sink, nil
}
