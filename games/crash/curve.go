package crash

import (
	"math"
	"math/rand"
	"time"
)

// Curve shape constants.
const (
	DisplayFloor = 0.3

	trendMin, trendMax = -0.4, 0.4
	noiseMin, noiseMax = -0.12, 0.12
	noiseDecay         = 0.99
	noiseStep          = 0.008 // step is uniform in [-noiseStep/2, noiseStep/2)

	trendSegmentMin  = 1200 * time.Millisecond
	trendSegmentSpan = 2200 * time.Millisecond
	trendDownChance  = 0.35
)

// Base is the deterministic part of the curve: exp(k*t).
func Base(k float64, elapsed time.Duration) float64 {
	return math.Exp(k * elapsed.Seconds())
}

// Curve produces the displayed multiplier of a running round. Only the base
// term is deterministic; trend and noise are cosmetic and never decide the
// crash. Not safe for concurrent use.
type Curve struct {
	k   float64
	rng *rand.Rand

	trend      float64
	trendSlope float64
	trendUntil time.Time
	noise      float64
}

func NewCurve(k float64, src rand.Source) *Curve {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Curve{k: k, rng: rand.New(src)}
}

// Reset clears trend and noise for a new round starting at now.
func (c *Curve) Reset(now time.Time) {
	c.trend = 0
	c.noise = 0
	c.trendSlope = 0
	c.rollTrend(now)
}

func (c *Curve) rollTrend(now time.Time) {
	c.trendUntil = now.Add(trendSegmentMin + time.Duration(c.rng.Float64()*float64(trendSegmentSpan)))
	if c.rng.Float64() < trendDownChance {
		c.trendSlope = -(0.08 + c.rng.Float64()*0.14)
	} else {
		c.trendSlope = 0.04 + c.rng.Float64()*0.16
	}
}

// Step advances the curve by one tick of length dt and returns the
// unrounded displayed multiplier at elapsed time since the round started.
func (c *Curve) Step(now time.Time, elapsed, dt time.Duration) float64 {
	if !now.Before(c.trendUntil) {
		c.rollTrend(now)
	}
	c.trend = clamp(c.trend+c.trendSlope*dt.Seconds(), trendMin, trendMax)
	c.noise = clamp(c.noise*noiseDecay+(c.rng.Float64()-0.5)*noiseStep, noiseMin, noiseMax)
	return math.Max(DisplayFloor, Base(c.k, elapsed)*math.Exp(c.trend+c.noise))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
