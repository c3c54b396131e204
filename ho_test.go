package ho

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func forestSpace() Space {
	return Space{
		QUniform("max_depth", 1, 20, 1).AsInt(),
		QUniform("n_estimators", 10, 50, 1).AsInt(),
		QUniform("min_samples_split", 2, 10, 1).AsInt(),
		QUniform("min_samples_leaf", 1, 4, 1).AsInt(),
		Const("random_state", 42),
	}
}

// bowl is minimal at max_depth=10, n_estimators=30, min_samples_split=2,
// min_samples_leaf=1.
func bowl(_ context.Context, p Assignment) (Result, error) {
	d := float64(p["max_depth"].(int) - 10)
	n := float64(p["n_estimators"].(int)-30) / 4
	s := float64(p["min_samples_split"].(int) - 2)
	l := float64(p["min_samples_leaf"].(int) - 1)

	return Result{Loss: d*d + n*n + s*s + l*l, Status: StatusOK}, nil
}

func seeded(algo Algorithm, evals int) OptimizationConfig {
	config := DefaultConfig()
	config.MaxEvals = evals
	config.Algorithm = algo
	config.RandomState = rand.New(rand.NewSource(42))

	return config
}

func TestMinimizeEvaluatesExactly(t *testing.T) {
	for _, algo := range []Algorithm{DefaultTPE(), Random{}, GaussianProcess{InitialSamples: 3, NumCandidates: 10, AcquisitionFunc: UCB, AcqParams: AcquisitionParams{Beta: 2}}} {
		t.Run(algo.Name(), func(t *testing.T) {
			var calls int32

			trials, err := Minimize(context.Background(), seeded(algo, 15), forestSpace(), func(ctx context.Context, p Assignment) (Result, error) {
				atomic.AddInt32(&calls, 1)

				return bowl(ctx, p)
			})
			require.NoError(t, err)

			assert.Equal(t, int32(15), calls)
			assert.Equal(t, 15, trials.Len())
		})
	}
}

func TestMinimizeCastsIntegersAndPassesConstants(t *testing.T) {
	_, err := Minimize(context.Background(), seeded(DefaultTPE(), 20), forestSpace(), func(_ context.Context, p Assignment) (Result, error) {
		for _, name := range []string{"max_depth", "n_estimators", "min_samples_split", "min_samples_leaf"} {
			_, isInt := p[name].(int)
			assert.True(t, isInt, name)
		}

		assert.Equal(t, 42, p["random_state"])

		assert.GreaterOrEqual(t, p["max_depth"].(int), 1)
		assert.LessOrEqual(t, p["max_depth"].(int), 20)
		assert.GreaterOrEqual(t, p["min_samples_leaf"].(int), 1)
		assert.LessOrEqual(t, p["min_samples_leaf"].(int), 4)

		return Result{Loss: 1, Status: StatusOK}, nil
	})
	require.NoError(t, err)
}

func TestBestValuesOnlySearchable(t *testing.T) {
	trials, err := Minimize(context.Background(), seeded(DefaultTPE(), 15), forestSpace(), bowl)
	require.NoError(t, err)

	best, ok := trials.BestValues()
	require.True(t, ok)

	assert.Len(t, best, 4)
	assert.NotContains(t, best, "random_state")

	for _, p := range forestSpace().Searchable() {
		v := best[p.Name]
		assert.GreaterOrEqual(t, v, p.Low, p.Name)
		assert.LessOrEqual(t, v, p.High, p.Name)
		assert.Equal(t, math.Round(v), v, p.Name)
	}
}

func TestMinimizeReproducible(t *testing.T) {
	run := func() []map[string]float64 {
		trials, err := Minimize(context.Background(), seeded(DefaultTPE(), 15), forestSpace(), bowl)
		require.NoError(t, err)

		out := make([]map[string]float64, 0, trials.Len())
		for _, tr := range trials.List {
			out = append(out, tr.Values)
		}

		return out
	}

	assert.Equal(t, run(), run())
}

func TestTPEOutperformsRandomSearch(t *testing.T) {
	meanBest := func(algo Algorithm) float64 {
		const seeds = 40

		total := 0.0

		for seed := int64(0); seed < seeds; seed++ {
			config := seeded(algo, 40)
			config.RandomState = rand.New(rand.NewSource(seed))

			trials, err := Minimize(context.Background(), config, forestSpace(), bowl)
			require.NoError(t, err)

			best, ok := trials.Best()
			require.True(t, ok)

			total += best.Loss
		}

		return total / seeds
	}

	tpe, random := meanBest(DefaultTPE()), meanBest(Random{})
	assert.Less(t, tpe, random, "tpe=%.3f random=%.3f", tpe, random)
}

func TestGaussianProcessDefaultsToUCB(t *testing.T) {
	trials, err := Minimize(context.Background(), seeded(GaussianProcess{}, 8), forestSpace(), bowl)
	require.NoError(t, err)
	assert.Equal(t, 8, trials.Len())
}

func TestMinimizeStopsOnObjectiveError(t *testing.T) {
	boom := errors.New("boom")

	var calls int

	trials, err := Minimize(context.Background(), seeded(Random{}, 10), forestSpace(), func(_ context.Context, _ Assignment) (Result, error) {
		calls++
		if calls == 3 {
			return Result{}, boom
		}

		return Result{Loss: 1, Status: StatusOK}, nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, trials.Len())
}

func TestMinimizeFailedTrialsIgnoredForBest(t *testing.T) {
	var calls int

	trials, err := Minimize(context.Background(), seeded(DefaultTPE(), 8), forestSpace(), func(_ context.Context, _ Assignment) (Result, error) {
		calls++
		if calls%2 == 0 {
			return Result{Loss: -100, Status: StatusFail}, nil
		}

		return Result{Loss: float64(calls), Status: StatusOK}, nil
	})
	require.NoError(t, err)

	best, ok := trials.Best()
	require.True(t, ok)
	assert.Equal(t, 1.0, best.Loss)
	assert.Len(t, trials.Losses(), 4)
}

func TestMinimizeRejectsBadConfig(t *testing.T) {
	_, err := Minimize(context.Background(), seeded(Random{}, 0), forestSpace(), bowl)
	assert.Error(t, err)

	_, err = Minimize(context.Background(), seeded(Random{}, 1), Space{QUniform("x", 5, 1, 1)}, bowl)
	assert.Error(t, err)

	_, err = Minimize(context.Background(), seeded(Random{}, 1), Space{Const("x", 1), Const("x", 2)}, bowl)
	assert.Error(t, err)
}

func TestMinimizeHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	trials, err := Minimize(ctx, seeded(Random{}, 5), forestSpace(), bowl)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, trials.Len())
}

func TestMinimizeProgressChannel(t *testing.T) {
	config := seeded(DefaultTPE(), 6)

	progressChan := make(chan ProgressUpdate, config.MaxEvals)
	config.ProgressChan = progressChan

	_, err := Minimize(context.Background(), config, forestSpace(), bowl)
	require.NoError(t, err)
	close(progressChan)

	var last ProgressUpdate

	count := 0
	for update := range progressChan {
		count++
		last = update
	}

	assert.Equal(t, 6, count)
	assert.Equal(t, 6, last.CurrentIteration)
	assert.Equal(t, "tpe", last.Algorithm)
	assert.LessOrEqual(t, last.CurrentBestLoss, last.LastLoss)
}
