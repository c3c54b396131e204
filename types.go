package ho

import (
	"context"
	"math/rand"
)

//////
// Const, vars, types.
//////

// Status is the outcome of a single objective evaluation.
type Status string

const (
	// StatusOK marks a trial whose loss is valid and can inform the search.
	StatusOK Status = "ok"

	// StatusFail marks a trial whose loss must be ignored by the search.
	StatusFail Status = "fail"
)

// Result is what an objective reports back for one parameter assignment.
//
// Fields:
// - Loss: The value being minimized (lower is better)
// - Status: Whether Loss is meaningful
type Result struct {
	Loss   float64
	Status Status
}

// Objective is the black-box function being minimized. It receives the fully
// resolved assignment: integer-flagged parameters are already cast and
// constants are already present.
//
// Returning a non-nil error aborts the whole search. Use StatusFail to skip a
// bad point without stopping.
type Objective func(ctx context.Context, params Assignment) (Result, error)

// Trial is one evaluation of the objective.
type Trial struct {
	// ID is the zero-based evaluation index.
	ID int

	// Values holds the raw values proposed by the algorithm for the
	// searchable parameters, as float64 and without integer casting.
	Values map[string]float64

	// Params is the resolved assignment handed to the objective.
	Params Assignment

	// Loss reported by the objective.
	Loss float64

	// Status reported by the objective.
	Status Status
}

// ProgressUpdate represents the current state of the optimization process.
type ProgressUpdate struct {
	// Algorithm is the name of the suggestion strategy in use.
	Algorithm string

	// CurrentIteration is the 1-based number of the evaluation just finished.
	CurrentIteration int

	// TotalIterations is the total number of evaluations to run.
	TotalIterations int

	// CurrentParams holds the raw values just evaluated.
	CurrentParams map[string]float64

	// CurrentBestParams holds the best raw values found so far.
	CurrentBestParams map[string]float64

	// CurrentBestLoss holds the best loss found so far.
	CurrentBestLoss float64

	// LastLoss holds the loss of the evaluation just finished.
	LastLoss float64
}

// Algorithm proposes the next point to evaluate given the history so far.
//
// Implementations must only draw randomness from rng so a seeded search is
// reproducible.
type Algorithm interface {
	// Name identifies the strategy in logs and progress updates.
	Name() string

	// Suggest returns raw values for every searchable parameter of space.
	Suggest(space Space, history []Trial, rng *rand.Rand) map[string]float64
}

// AcquisitionFunc defines the signature for acquisition functions used by the
// Gaussian process strategy. It scores a candidate from the model's
// prediction; lower scores are more promising.
//
// Parameters:
// - mean: The predicted mean loss at a point
// - variance: The predicted variance (uncertainty) at that point
// - params: Additional parameters that control the acquisition behavior
type AcquisitionFunc func(mean, variance float64, params AcquisitionParams) float64

// AcquisitionParams holds parameters that control the behavior of acquisition
// functions.
type AcquisitionParams struct {
	// Beta controls exploration in UCB (higher = more exploration).
	Beta float64

	// Xi is the minimum improvement requested by PI and EI.
	Xi float64

	// BestSoFar is the best loss observed so far. Updated by the strategy.
	BestSoFar float64

	// RandomState is used by ThompsonSampling. When nil, the search rng is
	// used instead.
	RandomState *rand.Rand
}

// OptimizationConfig controls a call to Minimize.
//
// Fields:
// - MaxEvals: Number of objective evaluations (must be >= 1)
// - Algorithm: Suggestion strategy (defaults to TPE when nil)
// - RandomState: Source of all randomness used by the search
// - ProgressChan: Optional channel receiving one update per evaluation
type OptimizationConfig struct {
	MaxEvals int

	Algorithm Algorithm

	RandomState *rand.Rand

	// ProgressChan receives updates without blocking; updates are dropped
	// when the channel is full.
	ProgressChan chan<- ProgressUpdate
}
