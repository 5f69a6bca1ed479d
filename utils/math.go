package utils

import (
	"math"
	"math/rand"
)

// DegToRad converts degrees to radians.
func DegToRad(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// RadToDeg converts radians to degrees.
func RadToDeg(radians float64) float64 {
	return radians * 180 / math.Pi
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// IsFinite returns false for NaN and both infinities.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// SampleRandomIntRange samples a random integer within a range given by [min, max]
// using the given rand.Rand.
func SampleRandomIntRange(min, max int, r *rand.Rand) int {
	return r.Intn(max-min+1) + min
}

// SampleWithoutReplacement draws n distinct entries of scratch with a partial Fisher-Yates
// shuffle. The swaps are undone before returning, so scratch keeps its order and the draw depends
// only on the state of r.
func SampleWithoutReplacement(scratch []int, n int, r *rand.Rand) []int {
	swaps := make([]int, n)
	for i := 0; i < n; i++ {
		j := SampleRandomIntRange(i, len(scratch)-1, r)
		swaps[i] = j
		scratch[i], scratch[j] = scratch[j], scratch[i]
	}
	out := make([]int, n)
	copy(out, scratch[:n])
	for i := n - 1; i >= 0; i-- {
		j := swaps[i]
		scratch[i], scratch[j] = scratch[j], scratch[i]
	}
	return out
}
