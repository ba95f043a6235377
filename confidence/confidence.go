// Package confidence scores how far a selector (or category) can be trusted
// given its success and failure counters.
//
// The score is the lower bound of the Wilson score interval at 95%
// confidence. It penalises small samples (one success out of one try scores
// 0.2065, not 1.0) and converges to the observed success rate as evidence
// accumulates. It is never stored: callers derive it from counters on read.
package confidence

import "math"

// Z is the standard normal quantile for a two-sided 95% interval.
const Z = 1.96

// Wilson returns the Wilson lower bound for success/(success+failure),
// rounded to 4 decimal places. Returns 0 when there is no evidence.
// Negative counters are treated as zero.
func Wilson(success, failure int) float64 {
	if success < 0 {
		success = 0
	}
	if failure < 0 {
		failure = 0
	}
	n := float64(success + failure)
	if n == 0 {
		return 0
	}

	p := float64(success) / n
	z2 := Z * Z

	centre := p + z2/(2*n)
	margin := Z * math.Sqrt((p*(1-p)+z2/(4*n))/n)
	lower := (centre - margin) / (1 + z2/n)

	if lower < 0 {
		lower = 0
	}
	return round4(lower)
}

// Samples is a convenience for the total evidence count.
func Samples(success, failure int) int {
	return success + failure
}

func round4(v float64) float64 {
	return math.Round(v*10_000) / 10_000
}
