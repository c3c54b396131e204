// Package hpo runs the hyperparameter search for the random forest regressor
// and records every trial in the tracking server.
package hpo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	ho "github.com/thalesfsp/hoflow"
	"github.com/thalesfsp/hoflow/dataset"
	"github.com/thalesfsp/hoflow/forest"
	"github.com/thalesfsp/hoflow/metrics"
	"github.com/thalesfsp/hoflow/tracking"
)

// ExperimentName is the experiment every trial is logged to.
const ExperimentName = "random-forest-hyperopt"

// BestParamsFile is the default output file for the best assignment.
const BestParamsFile = "best_params.json"

// MetricName is the metric holding a trial's validation error.
const MetricName = "rmse"

// Config holds the inputs of a search.
type Config struct {
	DataPath  string
	NumTrials int
	Seed      int64
	Algorithm ho.Algorithm
	// Output is where the best values are written as JSON.
	Output string
	// Stdout receives the human readable progress; defaults to os.Stdout.
	Stdout io.Writer
}

// SearchSpace is the space explored for the regressor.
func SearchSpace() ho.Space {
	return ho.Space{
		ho.QUniform("max_depth", 1, 20, 1).AsInt(),
		ho.QUniform("n_estimators", 10, 50, 1).AsInt(),
		ho.QUniform("min_samples_split", 2, 10, 1).AsInt(),
		ho.QUniform("min_samples_leaf", 1, 4, 1).AsInt(),
		ho.Const("random_state", 42),
	}
}

// AlgorithmByName maps a command-line name to a strategy.
func AlgorithmByName(name string) (ho.Algorithm, error) {
	switch strings.ToLower(name) {
	case "", "tpe":
		return ho.DefaultTPE(), nil
	case "rand", "random":
		return ho.Random{}, nil
	case "gp":
		return ho.GaussianProcess{
			InitialSamples:  5,
			NumCandidates:   50,
			AcquisitionFunc: ho.ExpectedImprovement,
			AcqParams:       ho.AcquisitionParams{Xi: 0.01},
		}, nil
	default:
		return nil, errors.Errorf("unknown algorithm %q (want tpe, rand or gp)", name)
	}
}

// Run loads the train and validation splits, evaluates cfg.NumTrials
// assignments, logs each one as its own run and writes the best values to
// cfg.Output. It returns the best values.
func Run(ctx context.Context, client *tracking.Client, cfg Config, logger *zap.Logger) (map[string]float64, error) {
	out := cfg.Stdout
	if out == nil {
		out = os.Stdout
	}
	if cfg.Output == "" {
		cfg.Output = BestParamsFile
	}

	splits, err := dataset.LoadFiles(cfg.DataPath, dataset.TrainFile, dataset.ValFile)
	if err != nil {
		return nil, err
	}
	train, val := splits[0], splits[1]
	logger.Info("loaded data",
		zap.String("data_path", cfg.DataPath),
		zap.Int("train_rows", train.Len()),
		zap.Int("val_rows", val.Len()))

	exp, err := client.SetExperiment(ctx, ExperimentName)
	if err != nil {
		return nil, err
	}

	space := SearchSpace()
	objective := func(ctx context.Context, params ho.Assignment) (res ho.Result, err error) {
		run, err := client.StartRun(ctx, exp.ExperimentID, nil)
		if err != nil {
			return ho.Result{}, err
		}
		defer func() { err = run.End(ctx, err) }()

		fmt.Fprintln(out, "Testing parameters:")
		for _, p := range space {
			fmt.Fprintf(out, "  %s: %v\n", p.Name, params[p.Name])
		}

		rmse, err := evaluate(train, val, params)
		if err != nil {
			return ho.Result{}, err
		}

		fmt.Fprintf(out, "RMSE: %.4f\n", rmse)
		fmt.Fprintln(out, strings.Repeat("-", 40))

		if err := run.LogParams(ctx, params.Strings()); err != nil {
			return ho.Result{}, err
		}
		if err := run.LogMetric(ctx, MetricName, rmse); err != nil {
			return ho.Result{}, err
		}

		logger.Debug("trial finished", zap.String("run_id", run.ID()), zap.Float64("rmse", rmse))
		return ho.Result{Loss: rmse, Status: ho.StatusOK}, nil
	}

	config := ho.DefaultConfig()
	config.MaxEvals = cfg.NumTrials
	config.RandomState = rand.New(rand.NewSource(cfg.Seed))
	if cfg.Algorithm != nil {
		config.Algorithm = cfg.Algorithm
	}

	trials, err := ho.Minimize(ctx, config, space, objective)
	if err != nil {
		return nil, err
	}

	best, ok := trials.BestValues()
	if !ok {
		return nil, errors.New("no successful trial")
	}

	logSummary(logger, config.Algorithm.Name(), trials.Losses())

	encoded, err := json.MarshalIndent(best, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encoding best parameters")
	}

	fmt.Fprintln(out, "Hyperparameter search complete.")
	fmt.Fprintln(out, "Best parameters found:")
	fmt.Fprintln(out, string(encoded))

	if err := os.WriteFile(cfg.Output, encoded, 0o644); err != nil {
		return nil, errors.Wrapf(err, "writing %s", cfg.Output)
	}
	return best, nil
}

// evaluate fits a forest on train and returns its RMSE on val.
func evaluate(train, val dataset.Split, params ho.Assignment) (float64, error) {
	p, err := forest.ParamsFromMap(params.Strings())
	if err != nil {
		return 0, err
	}
	model, err := forest.Fit(train.X, train.Y, p)
	if err != nil {
		return 0, errors.Wrap(err, "training")
	}
	pred, err := model.Predict(val.X)
	if err != nil {
		return 0, errors.Wrap(err, "predicting validation split")
	}
	return metrics.RMSE(val.Y, pred)
}

func logSummary(logger *zap.Logger, algo string, losses []float64) {
	data := stats.Float64Data(losses)
	lowest, _ := data.Min()
	mean, _ := data.Mean()
	stddev, _ := data.StandardDeviation()
	logger.Info("search complete",
		zap.String("algorithm", algo),
		zap.Int("trials", len(losses)),
		zap.Float64("best_rmse", lowest),
		zap.Float64("mean_rmse", mean),
		zap.Float64("stddev_rmse", stddev))
}
