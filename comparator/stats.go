package comparator

import (
	"math"
	"sort"

	"github.com/aura-net/mcast-acceptor/types"
)

// summarizeLatencies computes latency statistics over millisecond samples.
func summarizeLatencies(samples []int64) types.LatencySummary {
	if len(samples) == 0 {
		return types.LatencySummary{}
	}

	values := make([]float64, len(samples))
	var sum float64
	minV, maxV := math.MaxFloat64, -math.MaxFloat64
	for i, s := range samples {
		v := float64(s)
		values[i] = v
		sum += v
		minV = math.Min(minV, v)
		maxV = math.Max(maxV, v)
	}
	sort.Float64s(values)

	return types.LatencySummary{
		Count:    len(values),
		MeanMs:   sum / float64(len(values)),
		MedianMs: median(values),
		P999Ms:   quantile(values, 999, 1000),
		MinMs:    minV,
		MaxMs:    maxV,
	}
}

// median expects sorted input.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// quantile returns the i-th of n cut points of sorted data using the
// exclusive method: positions are i*(len+1)/n, clamped to the data range and
// linearly interpolated.
func quantile(sorted []float64, i, n int) float64 {
	ld := len(sorted)
	if ld == 1 {
		return sorted[0]
	}
	m := ld + 1
	j := i * m / n
	if j < 1 {
		j = 1
	} else if j > ld-1 {
		j = ld - 1
	}
	delta := i*m - j*n
	return (sorted[j-1]*float64(n-delta) + sorted[j]*float64(delta)) / float64(n)
}
