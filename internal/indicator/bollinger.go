package indicator

import "math"

// BollingerBands computes the upper, middle and lower band series.
//
// The middle band is the period SMA; the upper/lower bands sit mult
// population standard deviations above/below it. Population (divide by N,
// not N-1) keeps the bands consistent with the rest of the trailing-window
// math here. The first period-1 outputs of all three series are NaN.
func BollingerBands(values []float64, period int, mult float64) (upper, middle, lower []float64) {
	n := len(values)
	upper, middle, lower = nanSlice(n), nanSlice(n), nanSlice(n)
	if period <= 0 || n < period {
		return upper, middle, lower
	}

	for i := period - 1; i < n; i++ {
		window := values[i-period+1 : i+1]
		m := mean(window)

		variance := 0.0
		for _, v := range window {
			d := v - m
			variance += d * d
		}
		sd := math.Sqrt(variance / float64(period))

		middle[i] = m
		upper[i] = m + mult*sd
		lower[i] = m - mult*sd
	}
	return upper, middle, lower
}
