// Package capacity tracks which of two configured emulated capacities is
// nominally active at a given experiment time. The harness does not shape
// traffic itself; the active capacity is recorded in the trace so that
// downstream analysis can correlate measurements with the intended regime.
package capacity

import "time"

// Schedule alternates between a primary and a secondary capacity every
// FlipPeriod, starting with the primary at elapsed zero.
type Schedule struct {
	// Primary is the primary capacity in Mbps.
	Primary float64
	// Secondary is the secondary capacity in Mbps.
	Secondary float64
	// FlipPeriod is how long each regime lasts. Zero or negative disables
	// flipping and the primary capacity is always active.
	FlipPeriod time.Duration
}

// Active returns the capacity in Mbps nominally active at the given elapsed
// experiment time. The regime index is computed from the period count, not
// accumulated, so it cannot drift after many flips.
func (s Schedule) Active(elapsed time.Duration) float64 {
	if s.FlipPeriod <= 0 || elapsed < 0 {
		return s.Primary
	}
	if (elapsed/s.FlipPeriod)%2 == 0 {
		return s.Primary
	}
	return s.Secondary
}
