package ho

import "math"

//////
// Acquisition functions for the Gaussian process strategy.
// Each one scores a candidate from the model's prediction. The strategy
// minimizes the loss, so every function returns a score where LOWER means
// more promising.
//////

// minVariance keeps the acquisition functions away from a zero division when
// the model is certain about a point.
const minVariance = 1e-12

// UCB implements the (lower) confidence bound acquisition function.
//
// How it works:
// - Combines the predicted mean loss with the uncertainty
// - The Beta parameter controls the trade-off between exploration and exploitation
//
// Example:
//
//	params := AcquisitionParams{Beta: 2.0}
//	score := UCB(0.5, 0.2, params)
func UCB(mean, variance float64, params AcquisitionParams) float64 {
	return mean - params.Beta*math.Sqrt(math.Max(variance, 0))
}

// ProbabilityOfImprovement scores a point by the probability that its loss
// beats BestSoFar by at least Xi. The probability is negated so that lower
// scores are better.
//
// When to use:
// - When you want to be conservative in exploring new points
// - When small but likely improvements are enough
func ProbabilityOfImprovement(mean, variance float64, params AcquisitionParams) float64 {
	sigma := math.Sqrt(math.Max(variance, minVariance))

	z := (params.BestSoFar - params.Xi - mean) / sigma

	return -normalCDF(z)
}

// ExpectedImprovement scores a point by the expected amount its loss beats
// BestSoFar by, negated so that lower scores are better.
//
// When to use:
// - Most commonly used acquisition function
// - When the magnitude of improvement matters
func ExpectedImprovement(mean, variance float64, params AcquisitionParams) float64 {
	sigma := math.Sqrt(math.Max(variance, minVariance))

	improvement := params.BestSoFar - params.Xi - mean
	z := improvement / sigma

	return -(improvement*normalCDF(z) + sigma*normalPDF(z))
}

// ThompsonSampling draws a sample from the posterior at the point.
//
// Warning:
// - params.RandomState must be set; the Gaussian process strategy fills it
//   with the search rng when left nil.
func ThompsonSampling(mean, variance float64, params AcquisitionParams) float64 {
	return mean + math.Sqrt(math.Max(variance, 0))*params.RandomState.NormFloat64()
}
