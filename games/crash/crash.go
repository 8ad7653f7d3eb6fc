// Package crash holds the pure parts of the crash game: the provably-fair
// commitment scheme and the displayed multiplier curve.
package crash

import "math"

// MinMultiplier is the lowest crash point the scheme can produce.
const MinMultiplier = 1.00

// Round2 rounds a multiplier to 2 decimals for display and settlement.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
