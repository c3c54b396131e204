package ho

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/pkg/errors"
)

//////
// Exported functionalities.
//////

// DefaultConfig returns a default configuration: 15 evaluations of TPE with a
// time-seeded random state.
func DefaultConfig() OptimizationConfig {
	return OptimizationConfig{
		MaxEvals:     15,
		Algorithm:    DefaultTPE(),
		RandomState:  rand.New(rand.NewSource(time.Now().UnixNano())),
		ProgressChan: nil, // Default to no progress updates.
	}
}

// Trials is the evaluation history of one search.
type Trials struct {
	List []Trial
}

// Len returns the number of recorded trials.
func (t *Trials) Len() int {
	return len(t.List)
}

// Best returns the ok trial with the lowest loss. Ties go to the earliest
// trial. The boolean is false when no trial succeeded.
func (t *Trials) Best() (Trial, bool) {
	var (
		best  Trial
		found bool
	)

	for _, tr := range t.List {
		if tr.Status != StatusOK {
			continue
		}

		if !found || tr.Loss < best.Loss {
			best, found = tr, true
		}
	}

	return best, found
}

// BestValues returns the raw values of the best trial: only searchable
// parameters, exactly as proposed by the algorithm.
func (t *Trials) BestValues() (map[string]float64, bool) {
	best, ok := t.Best()
	if !ok {
		return nil, false
	}

	return copyValues(best.Values), true
}

// Losses returns the loss of every ok trial in evaluation order.
func (t *Trials) Losses() []float64 {
	out := make([]float64, 0, len(t.List))
	for _, tr := range okTrials(t.List) {
		out = append(out, tr.Loss)
	}

	return out
}

// Minimize runs a sequential black-box search for the assignment of space
// that minimizes objective.
//
// Parameters:
// - ctx: Checked before every evaluation and handed to the objective
// - config: OptimizationConfig controlling the search
// - space: The search space
// - objective: The function to minimize
//
// Returns:
// - *Trials: Every evaluation in order, also on error (partial history)
// - error: Invalid config/space, context cancellation, or the first error
//   returned by the objective (the search stops there, nothing is retried)
//
// Usage example:
//
//	space := Space{
//	    QUniform("max_depth", 1, 20, 1).AsInt(),
//	    Const("random_state", 42),
//	}
//
//	config := DefaultConfig()
//	config.RandomState = rand.New(rand.NewSource(42))
//
//	trials, err := Minimize(ctx, config, space, func(ctx context.Context, p Assignment) (Result, error) {
//	    loss := train(p["max_depth"].(int))
//	    return Result{Loss: loss, Status: StatusOK}, nil
//	})
//
// Important notes:
// - Sequential: one evaluation at a time, in order
// - Reproducible: same seed and same losses give the same suggestions
func Minimize(
	ctx context.Context,
	config OptimizationConfig,
	space Space,
	objective Objective,
) (*Trials, error) {
	trials := &Trials{}

	if config.MaxEvals < 1 {
		return trials, errors.Errorf("max evals must be >= 1, got %d", config.MaxEvals)
	}

	if err := space.Validate(); err != nil {
		return trials, errors.Wrap(err, "invalid search space")
	}

	algo := config.Algorithm
	if algo == nil {
		algo = DefaultTPE()
	}

	rng := config.RandomState
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	bestLoss := math.MaxFloat64

	var bestValues map[string]float64

	// Helper function to send progress updates.
	sendProgress := func(iteration int, current map[string]float64, loss float64) {
		if config.ProgressChan == nil {
			return
		}

		update := ProgressUpdate{
			Algorithm:         algo.Name(),
			CurrentIteration:  iteration,
			TotalIterations:   config.MaxEvals,
			CurrentParams:     copyValues(current),
			CurrentBestParams: copyValues(bestValues),
			CurrentBestLoss:   bestLoss,
			LastLoss:          loss,
		}

		select {
		case config.ProgressChan <- update:
		default:
			// Skip update if channel is full.
		}
	}

	for i := 0; i < config.MaxEvals; i++ {
		if err := ctx.Err(); err != nil {
			return trials, errors.Wrapf(err, "search interrupted after %d evaluations", i)
		}

		values := algo.Suggest(space, trials.List, rng)
		params := space.Resolve(values)

		res, err := objective(ctx, params)
		if err != nil {
			return trials, errors.Wrapf(err, "evaluation %d", i)
		}

		if res.Status == "" {
			res.Status = StatusOK
		}

		if math.IsNaN(res.Loss) {
			res.Status = StatusFail
		}

		trials.List = append(trials.List, Trial{
			ID:     i,
			Values: values,
			Params: params,
			Loss:   res.Loss,
			Status: res.Status,
		})

		if res.Status == StatusOK && res.Loss < bestLoss {
			bestLoss = res.Loss
			bestValues = values
		}

		sendProgress(i+1, values, res.Loss)
	}

	return trials, nil
}
