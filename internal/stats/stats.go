package stats

import (
	"math"
	"sort"
)

// DefaultTrimFraction is the share of samples removed from each end of the
// sorted sequence before computing the trimmed mean and spread.
const DefaultTrimFraction = 0.125

// MaxRelStdDev is reported when a summary cannot be trusted: no samples, or
// a non-positive trimmed mean. Callers treat it as "maximally noisy".
const MaxRelStdDev = 1.0

// Summary describes one sequence of timing samples in milliseconds.
// Summaries are recomputed from scratch as samples accumulate; they are
// never updated incrementally.
type Summary struct {
	Mean        float64 `json:"mean"`
	TrimmedMean float64 `json:"trimmed_mean"`
	StdDev      float64 `json:"std_dev"`
	RelStdDev   float64 `json:"rel_std_dev"`
	Median      float64 `json:"median"`
	Count       int     `json:"count"`
}

// HasData reports whether the summary was computed from at least one sample.
func (s Summary) HasData() bool {
	return s.Count > 0
}

// Compute summarizes samples using the default trim fraction. An empty input
// yields the "no data" sentinel (zero values, RelStdDev 1); callers must
// check Count before trusting the rest.
func Compute(samples []float64) Summary {
	return ComputeTrim(samples, DefaultTrimFraction)
}

// ComputeTrim summarizes samples with an explicit trim fraction per end.
// The input is not modified. The standard deviation uses the sample formula
// (N-1) over the trimmed slice; this convention is applied uniformly across
// the module.
func ComputeTrim(samples []float64, trimFraction float64) Summary {
	n := len(samples)
	if n == 0 {
		return Summary{RelStdDev: MaxRelStdDev}
	}

	sorted := make([]float64, n)
	copy(sorted, samples)
	sort.Float64s(sorted)

	trimmed := trimSorted(sorted, trimFraction)
	trimmedMean := mean(trimmed)
	stdDev := sampleStdDev(trimmed, trimmedMean)

	relStdDev := MaxRelStdDev
	if trimmedMean > 0 {
		relStdDev = stdDev / trimmedMean
	}

	return Summary{
		Mean:        mean(sorted),
		TrimmedMean: trimmedMean,
		StdDev:      stdDev,
		RelStdDev:   relStdDev,
		Median:      medianSorted(sorted),
		Count:       n,
	}
}

// Median returns the middle element of the sequence, averaging the two
// middles for an even count. The input is not modified. Empty input
// returns 0.
func Median(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)
	return medianSorted(sorted)
}

func medianSorted(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// trimSorted removes the trim fraction from both ends of a sorted slice,
// at least one element per end. When trimming would consume the whole
// sequence the input is returned untouched.
func trimSorted(sorted []float64, fraction float64) []float64 {
	n := len(sorted)
	cut := int(float64(n) * fraction)
	if cut < 1 {
		cut = 1
	}
	if 2*cut >= n {
		return sorted
	}
	return sorted[cut : n-cut]
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var total float64
	for _, v := range vals {
		total += v
	}
	return total / float64(len(vals))
}

// sampleStdDev computes the N-1 standard deviation around the given mean.
// Sequences shorter than two elements have no defined spread and report 0.
func sampleStdDev(vals []float64, mean float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	var sumSquares float64
	for _, v := range vals {
		d := v - mean
		sumSquares += d * d
	}
	return math.Sqrt(sumSquares / float64(len(vals)-1))
}
