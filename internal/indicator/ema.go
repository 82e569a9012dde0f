package indicator

// EMA computes the exponential moving average series for the given period.
//
// The first period-1 outputs are NaN. The value at index period-1 is the
// simple average of the first period inputs (the seed); every later value
// follows the standard recurrence with multiplier 2/(period+1):
//
//	ema[i] = value[i]*k + ema[i-1]*(1-k)
func EMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}

	k := 2.0 / float64(period+1)

	out[period-1] = mean(values[:period])
	for i := period; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// SMA computes the simple moving average series for the given period.
// The first period-1 outputs are NaN.
func SMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}

	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}
