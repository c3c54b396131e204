package ho

import (
	"math"
	"math/rand"
	"sync"
)

//////
// Const, vars, types.
//////

// gaussianProcess is a thread-safe kernel regression model over normalized
// parameter coordinates. It predicts the loss of untested assignments from
// the observed ones.
//
// Fields:
// - mu: RWMutex for thread-safe access to all fields
// - X: Observed points, each coordinate in [0, 1]
// - Y: Observed losses at each point
// - sigma: Kernel width controlling the smoothness of interpolation
type gaussianProcess struct {
	mu sync.RWMutex

	X [][]float64

	Y []float64

	sigma float64
}

// GaussianProcess is the Bayesian optimization strategy: a kernel model of
// the loss surface plus an acquisition function choosing among random
// candidates.
//
// Fields:
// - InitialSamples: Random suggestions made before the model is used
// - NumCandidates: Random candidates scored per suggestion
// - AcquisitionFunc: Scoring strategy (lower is better), UCB when nil
// - AcqParams: Parameters for the acquisition function
// - Sigma: Kernel width in normalized coordinates
type GaussianProcess struct {
	InitialSamples  int
	NumCandidates   int
	AcquisitionFunc AcquisitionFunc
	AcqParams       AcquisitionParams
	Sigma           float64
}

//////
// Methods.
//////

// RBFKernel implements the Radial Basis Function kernel.
//
// Mathematical formula:
//
//	k(x1, x2) = exp(-sum((x1 - x2)^2) / (2 * sigma^2))
//
// Important notes:
// - Panics if input vectors have different lengths
// - Returns 1.0 for identical points
func (gp *gaussianProcess) RBFKernel(x1, x2 []float64) float64 {
	if len(x1) != len(x2) {
		panic("input vectors must have the same length")
	}

	var sum float64

	for i := range x1 {
		diff := x1[i] - x2[i]

		sum += diff * diff
	}

	return math.Exp(-sum / (2 * gp.sigma * gp.sigma))
}

// Predict returns the kernel-weighted mean loss at x and an uncertainty that
// shrinks as x gets closer to observed points.
//
// Returns:
// - mean: Predicted loss (0 with no observations)
// - variance: In [0, 1]; 1 with no observations
func (gp *gaussianProcess) Predict(x []float64) (mean, variance float64) {
	gp.mu.RLock()
	defer gp.mu.RUnlock()

	if len(gp.X) == 0 {
		return 0, 1
	}

	var weighted, total, nearest float64

	for i := range gp.X {
		k := gp.RBFKernel(x, gp.X[i])

		weighted += k * gp.Y[i]
		total += k

		if k > nearest {
			nearest = k
		}
	}

	if total > 0 {
		mean = weighted / total
	} else {
		for _, y := range gp.Y {
			mean += y
		}

		mean /= float64(len(gp.Y))
	}

	return mean, 1 - nearest*nearest
}

// Update adds an observation to the model. x is copied.
func (gp *gaussianProcess) Update(x []float64, y float64) {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	newX := make([]float64, len(x))
	copy(newX, x)

	gp.X = append(gp.X, newX)
	gp.Y = append(gp.Y, y)
}

// Name implements Algorithm.
func (g GaussianProcess) Name() string {
	return "gp"
}

// Suggest implements Algorithm.
//
// How it works:
// 1. Makes InitialSamples random suggestions
// 2. Then fits the kernel model on every ok trial so far
// 3. Draws NumCandidates random points and returns the best scored one
func (g GaussianProcess) Suggest(space Space, history []Trial, rng *rand.Rand) map[string]float64 {
	ok := okTrials(history)
	if len(ok) < max(g.InitialSamples, 1) {
		return space.Sample(rng)
	}

	params := space.Searchable()
	gp := newGaussianProcess(g.Sigma)

	best := math.MaxFloat64
	for _, t := range ok {
		gp.Update(coordinates(params, t.Values), t.Loss)

		if t.Loss < best {
			best = t.Loss
		}
	}

	score := g.AcquisitionFunc
	if score == nil {
		score = UCB
	}

	acq := g.AcqParams
	acq.BestSoFar = best

	if acq.RandomState == nil {
		acq.RandomState = rng
	}

	var next map[string]float64

	bestScore := math.Inf(1)

	for j := 0; j < max(g.NumCandidates, 1); j++ {
		candidate := space.Sample(rng)

		mean, variance := gp.Predict(coordinates(params, candidate))

		s := score(mean, variance, acq)
		if next == nil || s < bestScore {
			bestScore = s
			next = candidate
		}
	}

	return next
}

//////
// Factory.
//////

// newGaussianProcess creates a model with the given kernel width, falling
// back to 0.2 in normalized coordinates.
func newGaussianProcess(sigma float64) *gaussianProcess {
	if sigma <= 0 {
		sigma = 0.2
	}

	return &gaussianProcess{sigma: sigma}
}

// coordinates projects raw values onto [0, 1] per searchable parameter.
func coordinates(params []Param, values map[string]float64) []float64 {
	x := make([]float64, len(params))
	for i, p := range params {
		x[i] = normalize(p, values[p.Name])
	}

	return x
}
