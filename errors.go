package flowctl

import (
	"github.com/samber/oops"
)

// Error codes used by this package. Errors are built with samber/oops and
// carry one of these codes; use the predicate helpers rather than matching
// message text.
const (
	// CodeSinkClosed is returned by writes issued after the sink was closed.
	CodeSinkClosed = "SINK_CLOSED"
	// CodeInvalidConfig is returned by config validation failures.
	CodeInvalidConfig = "INVALID_CONFIG"
	// CodeSendFailed wraps transport-level transmit errors.
	CodeSendFailed = "SEND_FAILED"
	// CodeDialFailed wraps transport-level connect errors.
	CodeDialFailed = "DIAL_FAILED"
	// CodeCloseFailed wraps errors closing an underlying connection or
	// listener.
	CodeCloseFailed = "CLOSE_FAILED"
	// CodePayloadTooLarge is returned for payloads that exceed the
	// sink's buffer capacity and therefore can never be accepted.
	CodePayloadTooLarge = "PAYLOAD_TOO_LARGE"
)

// IsDialFailed reports whether err is a connection establishment failure.
func IsDialFailed(err error) bool {
	return hasCode(err, CodeDialFailed)
}

// IsSinkClosed reports whether err is a write-after-close failure.
func IsSinkClosed(err error) bool {
	return hasCode(err, CodeSinkClosed)
}

// IsCloseFailed reports whether err is a teardown failure.
func IsCloseFailed(err error) bool {
	return hasCode(err, CodeCloseFailed)
}

// IsPayloadTooLarge reports whether err rejected a payload that exceeds
// the sink's buffer capacity.
func IsPayloadTooLarge(err error) bool {
	return hasCode(err, CodePayloadTooLarge)
}

// hasCode extracts the oops error code from err, if any, and compares it.
func hasCode(err error, code string) bool {
	if err == nil {
		return false
	}
	if o, ok := oops.AsOops(err); ok {
		return o.Code() == code
	}
	return false
}
