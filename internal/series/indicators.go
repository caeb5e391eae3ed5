package series

import "math"

// emaSeries is the recursive exponential average with smoothing alpha, seeded with the
// first defined input. Leading NaN inputs are skipped; a NaN inside the run carries the
// previous average forward. Outputs are NaN until minPeriods defined inputs were seen.
func emaSeries(values []float64, alpha float64, minPeriods int) []float64 {
	out := make([]float64, len(values))
	avg := math.NaN()
	seen := 0
	for i, v := range values {
		if !math.IsNaN(v) {
			seen++
			if math.IsNaN(avg) {
				avg = v
			} else {
				avg = alpha*v + (1-alpha)*avg
			}
		}
		if seen >= minPeriods {
			out[i] = avg
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// EMA is the span-form exponential moving average, alpha = 2/(period+1).
func EMA(values []float64, period int) []float64 {
	return emaSeries(values, 2/float64(period+1), period)
}

// RSI is the Wilder relative strength index, bounded to [0, 100].
func RSI(prices []float64, period int) []float64 {
	n := len(prices)
	up := make([]float64, n)
	down := make([]float64, n)
	for i := 1; i < n; i++ {
		diff := prices[i] - prices[i-1]
		if diff > 0 {
			up[i] = diff
		} else if diff < 0 {
			down[i] = -diff
		}
	}

	alpha := 1 / float64(period)
	avgUp := emaSeries(up, alpha, period)
	avgDown := emaSeries(down, alpha, period)

	out := make([]float64, n)
	for i := range out {
		switch {
		case math.IsNaN(avgDown[i]):
			out[i] = math.NaN()
		case avgDown[i] == 0:
			out[i] = 100
		default:
			out[i] = 100 - 100/(1+avgUp[i]/avgDown[i])
		}
	}
	return out
}
