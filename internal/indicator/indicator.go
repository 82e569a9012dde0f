// Package indicator provides technical indicator calculations over bar data.
//
// Every function is pure: it takes an ordered input sequence (and a period
// where applicable) and returns a same-length output sequence, with NaN at
// indices before enough history exists. Identical inputs always produce
// identical outputs; there is no hidden state to restore or snapshot —
// callers recompute wholesale from their candle history.
package indicator

import "math"

// nanSlice returns a length-n slice filled with NaN.
func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// mean returns the simple average of values. Callers guarantee len > 0.
func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
