package ho

import (
	"golang.org/x/exp/constraints"
	"gonum.org/v1/gonum/stat/distuv"
)

//////
// Helper functions.
//////

// standardNormal is shared by the acquisition functions.
var standardNormal = distuv.UnitNormal

// Helper function used by PI and EI to compute the cumulative distribution
// function of the standard normal distribution.
//
// Returns:
// - Probability that a standard normal random variable is less than x.
func normalCDF(x float64) float64 {
	return standardNormal.CDF(x)
}

// Helper function used by EI to compute the probability density function
// of the standard normal distribution.
//
// Returns:
// - Value of the standard normal PDF at x.
func normalPDF(x float64) float64 {
	return standardNormal.Prob(x)
}

// clamp limits v to [lo, hi].
func clamp[T constraints.Integer | constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}

// copyValues returns an independent copy of a raw value map.
func copyValues(values map[string]float64) map[string]float64 {
	if values == nil {
		return nil
	}

	out := make(map[string]float64, len(values))
	for k, v := range values {
		out[k] = v
	}

	return out
}

// okTrials filters the history down to trials that can inform a model.
func okTrials(history []Trial) []Trial {
	out := make([]Trial, 0, len(history))
	for _, t := range history {
		if t.Status == StatusOK {
			out = append(out, t)
		}
	}

	return out
}

// normalize maps a raw value of p into [0, 1].
//
// Important notes:
// - Degenerate ranges (Low == High) map to 0
func normalize(p Param, v float64) float64 {
	width := p.High - p.Low
	if width == 0 {
		return 0
	}

	return (v - p.Low) / width
}
