package stats

import (
	"math"
	"sort"
)

// Percentiles calculates multiple percentiles (0-100) of the non-NaN values.
// Uses linear interpolation between closest ranks; returns NaN when no value is present.
func Percentiles(values []float64, ps []float64) []float64 {
	sorted := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			sorted = append(sorted, v)
		}
	}

	results := make([]float64, len(ps))
	if len(sorted) == 0 {
		for i := range results {
			results[i] = math.NaN()
		}
		return results
	}
	sort.Float64s(sorted)

	for i, p := range ps {
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}

		index := p / 100.0 * float64(len(sorted)-1)
		lower := int(math.Floor(index))
		upper := int(math.Ceil(index))

		if lower == upper {
			results[i] = sorted[lower]
		} else {
			weight := index - float64(lower)
			results[i] = sorted[lower]*(1-weight) + sorted[upper]*weight
		}
	}

	return results
}

// Percentile calculates the p-th percentile (0-100)
func Percentile(values []float64, p float64) float64 {
	return Percentiles(values, []float64{p})[0]
}

// MedianIQR returns the median and the interquartile range (p75 - p25).
func MedianIQR(values []float64) (median, iqr float64) {
	q := Percentiles(values, []float64{25, 50, 75})
	return q[1], q[2] - q[0]
}
