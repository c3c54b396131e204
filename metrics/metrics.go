// Package metrics holds the regression error measures logged for each run.
package metrics

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

func check(yTrue, yPred []float64) error {
	if len(yTrue) != len(yPred) {
		return errors.Errorf("length mismatch: %d targets, %d predictions", len(yTrue), len(yPred))
	}
	if len(yTrue) == 0 {
		return errors.New("empty input")
	}
	return nil
}

// RMSE is the root-mean-squared error between yTrue and yPred.
func RMSE(yTrue, yPred []float64) (float64, error) {
	if err := check(yTrue, yPred); err != nil {
		return 0, errors.Wrap(err, "rmse")
	}
	return floats.Distance(yTrue, yPred, 2) / math.Sqrt(float64(len(yTrue))), nil
}

// MAE is the mean absolute error between yTrue and yPred.
func MAE(yTrue, yPred []float64) (float64, error) {
	if err := check(yTrue, yPred); err != nil {
		return 0, errors.Wrap(err, "mae")
	}
	return floats.Distance(yTrue, yPred, 1) / float64(len(yTrue)), nil
}

// R2 is the coefficient of determination of yPred. A constant yTrue scores 1
// when predicted exactly and 0 otherwise.
func R2(yTrue, yPred []float64) (float64, error) {
	if err := check(yTrue, yPred); err != nil {
		return 0, errors.Wrap(err, "r2")
	}
	if floats.Max(yTrue) == floats.Min(yTrue) {
		if floats.Equal(yTrue, yPred) {
			return 1, nil
		}
		return 0, nil
	}
	return stat.RSquaredFrom(yPred, yTrue, nil), nil
}

// Regression holds the training-fit measures recorded for an estimator.
type Regression struct {
	MSE  float64
	RMSE float64
	MAE  float64
	R2   float64
}

// Evaluate computes every Regression measure of yPred against yTrue.
func Evaluate(yTrue, yPred []float64) (Regression, error) {
	rmse, err := RMSE(yTrue, yPred)
	if err != nil {
		return Regression{}, err
	}
	mae, err := MAE(yTrue, yPred)
	if err != nil {
		return Regression{}, err
	}
	r2, err := R2(yTrue, yPred)
	if err != nil {
		return Regression{}, err
	}
	return Regression{MSE: rmse * rmse, RMSE: rmse, MAE: mae, R2: r2}, nil
}

// Training returns the measures under the names autologged for a fitted
// estimator on its training split. training_score is the estimator's own
// score, R2 for a regressor.
func (r Regression) Training() map[string]float64 {
	return map[string]float64{
		"training_mse":      r.MSE,
		"training_rmse":     r.RMSE,
		"training_mae":      r.MAE,
		"training_r2_score": r.R2,
		"training_score":    r.R2,
	}
}
