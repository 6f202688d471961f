package metrics

import (
	"math"
	"sort"
)

// Mean computes the arithmetic mean of a float64 slice.
// Returns 0 for empty input.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Variance computes the population variance of a float64 slice.
// Returns 0 for empty input.
func Variance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := Mean(values)
	sumSq := 0.0
	for _, v := range values {
		d := v - m
		sumSq += d * d
	}
	return sumSq / float64(len(values))
}

// StdDev computes the population standard deviation.
func StdDev(values []float64) float64 {
	return math.Sqrt(Variance(values))
}

// Median computes the exact median of a float64 slice without mutating the
// input. An odd-length sequence yields its single central value; an
// even-length sequence yields the arithmetic mean of the two central values.
// Recorded baselines were produced under this exact rule, so no interpolated
// quantile estimator may be substituted. Returns 0 for empty input.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// CoefficientOfVariation returns stddev/mean as a percentage. A zero or
// negative mean yields 0 so an idle scenario never registers as jitter.
func CoefficientOfVariation(values []float64) float64 {
	m := Mean(values)
	if m <= 0 {
		return 0
	}
	return StdDev(values) / m * 100
}

// CPUPerKiloRPS derives the cost metric cpu_percent * 1000 / rps: the CPU
// spent per thousand requests per second. Doubling both inputs leaves it
// unchanged. Returns 0 when rps is not positive; a round
// with no throughput is rejected before this metric matters.
func CPUPerKiloRPS(cpuPercent, rps float64) float64 {
	if rps <= 0 {
		return 0
	}
	return cpuPercent * 1000 / rps
}

// PercentDelta returns the relative change from base to current as a
// percentage. Returns 0 when base is 0.
func PercentDelta(base, current float64) float64 {
	if base == 0 {
		return 0
	}
	return (current - base) / base * 100
}
