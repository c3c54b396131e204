package hpo

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	ho "github.com/thalesfsp/hoflow"
	"github.com/thalesfsp/hoflow/dataset"
	"github.com/thalesfsp/hoflow/tracking"
	"github.com/thalesfsp/hoflow/tracking/mlflowtest"
)

func writeData(t *testing.T) string {
	dir := t.TempDir()
	rng := rand.New(rand.NewSource(1))
	require.NoError(t, dataset.Save(filepath.Join(dir, dataset.TrainFile), dataset.Friedman1(120, 0.5, rng)))
	require.NoError(t, dataset.Save(filepath.Join(dir, dataset.ValFile), dataset.Friedman1(40, 0.5, rng)))
	require.NoError(t, dataset.Save(filepath.Join(dir, dataset.TestFile), dataset.Friedman1(40, 0.5, rng)))
	return dir
}

// script proposes a fixed sequence of points.
type script []map[string]float64

func (s script) Name() string { return "script" }

func (s script) Suggest(_ ho.Space, history []ho.Trial, _ *rand.Rand) map[string]float64 {
	return s[len(history)]
}

func TestRunLogsEveryTrial(t *testing.T) {
	srv := mlflowtest.NewServer()
	defer srv.Close()

	dataDir := writeData(t)
	output := filepath.Join(t.TempDir(), BestParamsFile)
	var stdout bytes.Buffer

	best, err := Run(context.Background(), tracking.NewClient(srv.URL), Config{
		DataPath:  dataDir,
		NumTrials: 6,
		Seed:      42,
		Output:    output,
		Stdout:    &stdout,
	}, zap.NewNop())
	require.NoError(t, err)

	runs := srv.Runs(ExperimentName)
	require.Len(t, runs, 6)

	space := SearchSpace()
	for _, run := range runs {
		assert.Equal(t, tracking.StatusFinished, run.Info.Status)

		params := run.ParamMap()
		assert.Len(t, params, 5)
		assert.Equal(t, "42", params["random_state"])
		for _, p := range space.Searchable() {
			v, err := strconv.Atoi(params[p.Name])
			require.NoError(t, err, "%s=%q is not an integer", p.Name, params[p.Name])
			assert.GreaterOrEqual(t, float64(v), p.Low)
			assert.LessOrEqual(t, float64(v), p.High)
		}

		rmse, ok := run.Metric(MetricName)
		require.True(t, ok)
		assert.Len(t, run.Data.Metrics, 1)
		assert.Greater(t, rmse, 0.0)
	}

	raw, err := os.ReadFile(output)
	require.NoError(t, err)

	var written map[string]float64
	require.NoError(t, json.Unmarshal(raw, &written))
	assert.Equal(t, best, written)
	assert.Len(t, written, 4)
	for _, p := range space.Searchable() {
		assert.Contains(t, written, p.Name)
	}

	assert.Contains(t, stdout.String(), "Testing parameters:")
	assert.Contains(t, stdout.String(), "Hyperparameter search complete.")
}

func TestBestParamsReportTarget(t *testing.T) {
	srv := mlflowtest.NewServer()
	defer srv.Close()

	// single stumps cannot fit the Friedman surface
	var points script
	for i := 0; i < 14; i++ {
		points = append(points, map[string]float64{
			"max_depth":         1,
			"n_estimators":      10,
			"min_samples_split": float64(2 + i%9),
			"min_samples_leaf":  4,
		})
	}
	target := map[string]float64{"max_depth": 10, "n_estimators": 30, "min_samples_split": 2, "min_samples_leaf": 1}
	points = append(points[:7], append(script{target}, points[7:]...)...)

	output := filepath.Join(t.TempDir(), BestParamsFile)
	best, err := Run(context.Background(), tracking.NewClient(srv.URL), Config{
		DataPath:  writeData(t),
		NumTrials: 15,
		Algorithm: points,
		Output:    output,
		Stdout:    &bytes.Buffer{},
	}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, target, best)

	raw, err := os.ReadFile(output)
	require.NoError(t, err)

	var written map[string]float64
	require.NoError(t, json.Unmarshal(raw, &written))
	assert.Equal(t, target, written)

	runs := srv.Runs(ExperimentName)
	require.Len(t, runs, 15)

	lowest := runs[0]
	for _, run := range runs[1:] {
		a, _ := run.Metric(MetricName)
		b, _ := lowest.Metric(MetricName)
		if a < b {
			lowest = run
		}
	}

	for name, v := range target {
		assert.Equal(t, strconv.Itoa(int(v)), lowest.ParamMap()[name], name)
	}
}

func TestRunMissingData(t *testing.T) {
	srv := mlflowtest.NewServer()
	defer srv.Close()

	_, err := Run(context.Background(), tracking.NewClient(srv.URL), Config{
		DataPath:  t.TempDir(),
		NumTrials: 1,
		Output:    filepath.Join(t.TempDir(), BestParamsFile),
	}, zap.NewNop())
	assert.Error(t, err)
	assert.Empty(t, srv.Runs(ExperimentName))
}

func TestRunTrackingUnavailable(t *testing.T) {
	srv := mlflowtest.NewServer()
	url := srv.URL
	srv.Close()

	_, err := Run(context.Background(), tracking.NewClient(url), Config{
		DataPath:  writeData(t),
		NumTrials: 1,
		Output:    filepath.Join(t.TempDir(), BestParamsFile),
		Stdout:    &bytes.Buffer{},
	}, zap.NewNop())
	assert.Error(t, err)
}

func TestAlgorithmByName(t *testing.T) {
	for name, want := range map[string]string{"": "tpe", "tpe": "tpe", "rand": "rand", "GP": "gp"} {
		algo, err := AlgorithmByName(name)
		require.NoError(t, err)
		assert.Equal(t, want, algo.Name())
	}

	_, err := AlgorithmByName("grid")
	assert.Error(t, err)
}
