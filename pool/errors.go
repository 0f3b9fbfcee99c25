package pool

import (
	"github.com/samber/oops"
)

// Error codes used by this package. Built with samber/oops; use the
// predicate helpers rather than matching message text.
const (
	// CodeAcquireTimeout is returned when the pool stays exhausted for
	// the whole acquire timeout.
	CodeAcquireTimeout = "ACQUIRE_TIMEOUT"
	// CodeEstablishFailed wraps transport errors during connection
	// establishment inside Acquire.
	CodeEstablishFailed = "ESTABLISH_FAILED"
	// CodeForeignRelease is returned when releasing a connection the
	// pool does not track as in-use.
	CodeForeignRelease = "FOREIGN_RELEASE"
	// CodePoolClosed is returned by operations on a destroyed pool.
	CodePoolClosed = "POOL_CLOSED"
	// CodeInvalidConfig is returned by config validation failures.
	CodeInvalidConfig = "INVALID_CONFIG"
)

// IsAcquireTimeout reports whether err is an exhausted-pool timeout.
func IsAcquireTimeout(err error) bool {
	return hasCode(err, CodeAcquireTimeout)
}

// IsEstablishFailed reports whether err is a connect failure surfaced by
// Acquire.
func IsEstablishFailed(err error) bool {
	return hasCode(err, CodeEstablishFailed)
}

// IsForeignRelease reports whether err is a double or foreign release.
func IsForeignRelease(err error) bool {
	return hasCode(err, CodeForeignRelease)
}

// IsPoolClosed reports whether err came from a destroyed pool.
func IsPoolClosed(err error) bool {
	return hasCode(err, CodePoolClosed)
}

func hasCode(err error, code string) bool {
	if err == nil {
		return false
	}
	if o, ok := oops.AsOops(err); ok {
		return o.Code() == code
	}
	return false
}
