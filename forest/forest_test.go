package forest

import (
	"bytes"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepthOne(t *testing.T) {
	node := Node{
		FeatureIndex: 0,
		Threshold:    2.5,
		LeftChild:    0,
		LeftIsLeaf:   true,
		RightChild:   1,
		RightIsLeaf:  true,
	}
	tree := Tree{
		Nodes:       []Node{node},
		Outputs:     []float64{-3., 11.},
		FeatureSize: 2,
		Depth:       1,
	}
	assert.Equal(t, 0, tree.Bin([]float64{1., 0.}))
	assert.Equal(t, -3., tree.Evaluate([]float64{1., 0.}))
	assert.Equal(t, 1, tree.Bin([]float64{5., 0.}))
	assert.Equal(t, 11., tree.Evaluate([]float64{5., 0.}))
}

func TestLeafRoot(t *testing.T) {
	tree := Tree{Outputs: []float64{4.}, FeatureSize: 1}
	assert.Equal(t, 4., tree.Evaluate([]float64{100.}))
}

func step(n int) ([][]float64, []float64) {
	X := make([][]float64, n)
	y := make([]float64, n)
	for i := range X {
		x := float64(i) / float64(n)
		X[i] = []float64{x, 0.5}
		if x < 0.5 {
			y[i] = 1
		} else {
			y[i] = 3
		}
	}
	return X, y
}

func TestFitLearnsStep(t *testing.T) {
	X, y := step(200)

	f, err := Fit(X, y, Params{MaxDepth: 3, NEstimators: 10, MinSamplesSplit: 2, MinSamplesLeaf: 1, RandomState: 42})
	require.NoError(t, err)
	assert.Len(t, f.Trees, 10)

	pred, err := f.Predict([][]float64{{0.1, 0.5}, {0.9, 0.5}})
	require.NoError(t, err)
	assert.InDelta(t, 1., pred[0], 1e-9)
	assert.InDelta(t, 3., pred[1], 1e-9)
}

func TestFitRespectsMaxDepth(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	X := make([][]float64, 300)
	y := make([]float64, 300)
	for i := range X {
		X[i] = []float64{rng.Float64(), rng.Float64()}
		y[i] = math.Sin(6*X[i][0]) + X[i][1]
	}

	f, err := Fit(X, y, Params{MaxDepth: 4, NEstimators: 5, MinSamplesSplit: 2, MinSamplesLeaf: 1})
	require.NoError(t, err)
	for _, tree := range f.Trees {
		assert.LessOrEqual(t, tree.Depth, 4)
		assert.LessOrEqual(t, len(tree.Outputs), 16)
	}
}

func TestFitRespectsMinSamplesLeaf(t *testing.T) {
	X, y := step(20)

	f, err := Fit(X, y, Params{NEstimators: 1, MinSamplesSplit: 2, MinSamplesLeaf: 20})
	require.NoError(t, err)
	assert.Empty(t, f.Trees[0].Nodes)
	assert.Len(t, f.Trees[0].Outputs, 1)
}

func TestFitDeterministic(t *testing.T) {
	X, y := step(100)
	params := Params{MaxDepth: 5, NEstimators: 4, MinSamplesSplit: 2, MinSamplesLeaf: 1, RandomState: 7}

	a, err := Fit(X, y, params)
	require.NoError(t, err)
	b, err := Fit(X, y, params)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestFitErrors(t *testing.T) {
	X, y := step(10)

	_, err := Fit(X, y[:5], DefaultParams())
	assert.Error(t, err)

	_, err = Fit(nil, nil, DefaultParams())
	assert.Error(t, err)

	_, err = Fit(X, y, Params{NEstimators: 0, MinSamplesSplit: 2, MinSamplesLeaf: 1})
	assert.Error(t, err)

	_, err = Fit([][]float64{{1, 2}, {1}}, []float64{1, 2}, DefaultParams())
	assert.Error(t, err)
}

func TestPredictWrongWidth(t *testing.T) {
	X, y := step(10)
	f, err := Fit(X, y, Params{NEstimators: 1, MinSamplesSplit: 2, MinSamplesLeaf: 1})
	require.NoError(t, err)

	_, err = f.Predict([][]float64{{1}})
	assert.Error(t, err)
}

func TestParamsFromMap(t *testing.T) {
	p, err := ParamsFromMap(map[string]string{
		"max_depth":         "10",
		"n_estimators":      "30.0",
		"min_samples_split": "2",
		"min_samples_leaf":  "1",
		"random_state":      "42",
		"unrelated":         "x",
	})
	require.NoError(t, err)
	assert.Equal(t, Params{MaxDepth: 10, NEstimators: 30, MinSamplesSplit: 2, MinSamplesLeaf: 1, RandomState: 42}, p)
	assert.Equal(t, 30, p.Map()["n_estimators"])

	_, err = ParamsFromMap(map[string]string{"max_depth": "deep"})
	assert.Error(t, err)
}

func TestRequireParams(t *testing.T) {
	full := map[string]string{
		"max_depth":         "10",
		"n_estimators":      "30",
		"min_samples_split": "2",
		"min_samples_leaf":  "1",
		"random_state":      "42",
	}
	p, err := RequireParams(full)
	require.NoError(t, err)
	assert.Equal(t, int64(42), p.RandomState)

	for _, name := range RFParams {
		partial := make(map[string]string, len(full))
		for k, v := range full {
			if k != name {
				partial[k] = v
			}
		}
		_, err := RequireParams(partial)
		assert.ErrorContains(t, err, name)
	}
}

func TestSaveLoad(t *testing.T) {
	X, y := step(50)
	f, err := Fit(X, y, Params{MaxDepth: 2, NEstimators: 3, MinSamplesSplit: 2, MinSamplesLeaf: 1, RandomState: 1})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.Save(&buf))

	loaded, err := Load(&buf)
	require.NoError(t, err)

	want, err := f.Predict(X)
	require.NoError(t, err)
	got, err := loaded.Predict(X)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
