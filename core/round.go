package core

import "math"

// roundHalfAwayFromZero resolves the proportional-event rounding open
// question: ties round away from zero rather than truncating, so a
// proportion applied to a small compartment never systematically loses
// individuals to floor().
func roundHalfAwayFromZero(x float64) int64 {
	if x >= 0 {
		return int64(math.Floor(x + 0.5))
	}
	return -int64(math.Floor(-x + 0.5))
}
