package pool

// Stats is a snapshot of the pool's counters and gauges, safe to copy.
type Stats struct {
	// Lifetime counters
	Acquired        int64 // successful Acquire calls
	Released        int64 // successful Release calls
	Reused          int64 // acquisitions satisfied from the available set
	Created         int64 // connections established
	Destroyed       int64 // connections closed by the pool
	Timeouts        int64 // acquires failed with ACQUIRE_TIMEOUT
	Failures        int64 // establishment failures during Acquire
	ForeignReleases int64 // releases rejected with FOREIGN_RELEASE
	Reaped          int64 // connections evicted by the background reaper

	// Current state gauges
	Available int // connections idle in the available set
	InUse     int // connections currently handed out
	Waiting   int // acquirers queued for a slot
}

// ReuseRate returns the fraction of acquisitions satisfied by a
// previously established connection rather than a new one: reused over
// created, zero when nothing has been created.
func (s Stats) ReuseRate() float64 {
	if s.Created == 0 {
		return 0
	}
	return float64(s.Reused) / float64(s.Created)
}
