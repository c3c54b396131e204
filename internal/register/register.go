// Package register retrains the best search runs, evaluates them on held-out
// data and registers the winner in the model registry.
package register

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/thalesfsp/hoflow/dataset"
	"github.com/thalesfsp/hoflow/forest"
	"github.com/thalesfsp/hoflow/internal/hpo"
	"github.com/thalesfsp/hoflow/metrics"
	"github.com/thalesfsp/hoflow/tracking"
)

const (
	// ExperimentName holds one run per retrained candidate.
	ExperimentName = "random-forest-best-models"
	// RegisteredModelName is the registry entry receiving the winner.
	RegisteredModelName = "random-forest-regressor-best"
	// ArtifactPath is the run-relative directory of the serialized model.
	ArtifactPath = "model"
)

var estimatorType = reflect.TypeOf(forest.Forest{})

// ErrNoRuns is returned when the search experiment has no run to promote.
var ErrNoRuns = errors.New("no runs found")

// Config holds the inputs of a promotion.
type Config struct {
	DataPath string
	TopN     int
	// Stdout receives the human readable progress; defaults to os.Stdout.
	Stdout io.Writer
}

// Result describes the registered winner.
type Result struct {
	RunID    string
	TestRMSE float64
	Version  *tracking.ModelVersion
	// Candidates lists the promotion runs created by this invocation.
	Candidates []string
}

type splits struct {
	train, val, test dataset.Split
}

// Run selects the cfg.TopN best search runs, retrains and logs each of them,
// and registers the model of the retrain with the lowest test RMSE.
func Run(ctx context.Context, client *tracking.Client, cfg Config, logger *zap.Logger) (*Result, error) {
	out := cfg.Stdout
	if out == nil {
		out = os.Stdout
	}
	if cfg.TopN < 1 {
		return nil, errors.Errorf("top_n must be >= 1, got %d", cfg.TopN)
	}

	loaded, err := dataset.LoadFiles(cfg.DataPath, dataset.TrainFile, dataset.ValFile, dataset.TestFile)
	if err != nil {
		return nil, err
	}
	data := splits{train: loaded[0], val: loaded[1], test: loaded[2]}

	hpoExp, err := client.GetExperimentByName(ctx, hpo.ExperimentName)
	if err != nil {
		return nil, err
	}
	candidates, err := client.SearchRuns(ctx, tracking.SearchRunsRequest{
		ExperimentIDs: []string{hpoExp.ExperimentID},
		RunViewType:   tracking.ActiveOnly,
		MaxResults:    cfg.TopN,
		OrderBy:       []string{"metrics." + hpo.MetricName + " ASC"},
	})
	if err != nil {
		return nil, err
	}
	logger.Info("selected candidates", zap.Int("count", len(candidates.Runs)), zap.Int("top_n", cfg.TopN))

	exp, err := client.SetExperiment(ctx, ExperimentName)
	if err != nil {
		return nil, err
	}

	var created []string
	for _, run := range candidates.Runs {
		fmt.Fprintf(out, "Retraining run_id: %s\n", run.Info.RunID)
		id, err := trainAndLog(ctx, client, exp.ExperimentID, run, data)
		if err != nil {
			return nil, errors.Wrapf(err, "retraining run %s", run.Info.RunID)
		}
		created = append(created, id)
	}

	if len(created) == 0 {
		return nil, errors.Wrapf(ErrNoRuns, "experiment %s", hpo.ExperimentName)
	}

	bestResp, err := client.SearchRuns(ctx, tracking.SearchRunsRequest{
		ExperimentIDs: []string{exp.ExperimentID},
		Filter:        runIDFilter(created),
		RunViewType:   tracking.ActiveOnly,
		MaxResults:    1,
		OrderBy:       []string{"metrics.test_rmse ASC"},
	})
	if err != nil {
		return nil, err
	}
	if len(bestResp.Runs) == 0 {
		return nil, errors.Wrapf(ErrNoRuns, "experiment %s", ExperimentName)
	}
	best := bestResp.Runs[0]
	testRMSE, _ := best.Metric("test_rmse")

	mv, err := client.RegisterModel(ctx, tracking.RunsURI(best.Info.RunID, ArtifactPath), RegisteredModelName)
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(out, "Best model registered from run_id: %s\n", best.Info.RunID)
	fmt.Fprintf(out, "Test RMSE: %.3f\n", testRMSE)

	return &Result{RunID: best.Info.RunID, TestRMSE: testRMSE, Version: mv, Candidates: created}, nil
}

// trainAndLog retrains one candidate and records it as a new run. It returns
// the new run ID.
func trainAndLog(ctx context.Context, client *tracking.Client, experimentID string, candidate tracking.Run, data splits) (id string, err error) {
	params, err := forest.RequireParams(candidate.ParamMap())
	if err != nil {
		return "", err
	}

	run, err := client.StartRun(ctx, experimentID, map[string]string{
		"source_run_id":   candidate.Info.RunID,
		"estimator_name":  estimatorType.Name(),
		"estimator_class": estimatorType.PkgPath() + "." + estimatorType.Name(),
	})
	if err != nil {
		return "", err
	}
	defer func() { err = run.End(ctx, err) }()

	model, err := forest.Fit(data.train.X, data.train.Y, params)
	if err != nil {
		return "", errors.Wrap(err, "training")
	}

	fit, err := trainingMetrics(model, data.train)
	if err != nil {
		return "", err
	}
	valRMSE, err := score(model, data.val)
	if err != nil {
		return "", err
	}
	testRMSE, err := score(model, data.test)
	if err != nil {
		return "", err
	}

	logged := make(map[string]string, len(forest.RFParams))
	for k, v := range params.Map() {
		logged[k] = fmt.Sprint(v)
	}
	if err := run.LogParams(ctx, logged); err != nil {
		return "", err
	}
	if err := run.LogMetrics(ctx, fit.Training()); err != nil {
		return "", err
	}
	if err := run.LogMetric(ctx, "val_rmse", valRMSE); err != nil {
		return "", err
	}
	if err := run.LogMetric(ctx, "test_rmse", testRMSE); err != nil {
		return "", err
	}
	if err := logModel(ctx, run, model); err != nil {
		return "", err
	}
	return run.ID(), nil
}

func score(model *forest.Forest, s dataset.Split) (float64, error) {
	pred, err := model.Predict(s.X)
	if err != nil {
		return 0, err
	}
	return metrics.RMSE(s.Y, pred)
}

func trainingMetrics(model *forest.Forest, s dataset.Split) (metrics.Regression, error) {
	pred, err := model.Predict(s.X)
	if err != nil {
		return metrics.Regression{}, err
	}
	return metrics.Evaluate(s.Y, pred)
}

// mlModel is the metadata file stored next to the serialized forest.
type mlModel struct {
	ArtifactPath string         `yaml:"artifact_path"`
	RunID        string         `yaml:"run_id"`
	Flavors      map[string]any `yaml:"flavors"`
}

// logModel uploads the forest as model/model.json plus an MLmodel descriptor.
func logModel(ctx context.Context, run *tracking.ActiveRun, model *forest.Forest) error {
	var buf bytes.Buffer
	if err := model.Save(&buf); err != nil {
		return err
	}
	if err := run.LogArtifact(ctx, ArtifactPath+"/model.json", buf.Bytes()); err != nil {
		return err
	}

	meta, err := yaml.Marshal(mlModel{
		ArtifactPath: ArtifactPath,
		RunID:        run.ID(),
		Flavors: map[string]any{
			"hoflow_forest": map[string]any{
				"data":         "model.json",
				"n_estimators": len(model.Trees),
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "encoding MLmodel")
	}
	return run.LogArtifact(ctx, ArtifactPath+"/MLmodel", meta)
}

func runIDFilter(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = "'" + id + "'"
	}
	return "attributes.run_id IN (" + strings.Join(quoted, ", ") + ")"
}
