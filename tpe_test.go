package ho

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuantizeClampsToGrid(t *testing.T) {
	p := QUniform("min_samples_leaf", 1, 4, 1)

	assert.Equal(t, 1.0, p.Quantize(0.2))
	assert.Equal(t, 2.0, p.Quantize(1.6))
	assert.Equal(t, 4.0, p.Quantize(9))

	c := Uniform("lr", 0, 1)
	assert.Equal(t, 0.25, c.Quantize(0.25))
}

func TestSpaceValidate(t *testing.T) {
	assert.NoError(t, Space{QUniform("max_depth", 1, 20, 1), Const("random_state", 42)}.Validate())

	err := Space{QUniform("", 1, 2, 1)}.Validate()
	assert.EqualError(t, err, "parameter with empty name")

	err = Space{QUniform("a", 1, 2, 1), QUniform("a", 1, 2, 1)}.Validate()
	assert.EqualError(t, err, `duplicate parameter "a"`)

	err = Space{QUniform("a", 3, 2, 1)}.Validate()
	assert.EqualError(t, err, `parameter "a": low 3 > high 2`)
}

func TestResolve(t *testing.T) {
	space := Space{
		QUniform("max_depth", 1, 20, 1).AsInt(),
		Uniform("ratio", 0, 1),
		Const("random_state", 42),
	}

	a := space.Resolve(map[string]float64{"max_depth": 7, "ratio": 0.5})

	assert.Equal(t, Assignment{"max_depth": 7, "ratio": 0.5, "random_state": 42}, a)
	assert.Equal(t, []string{"max_depth", "random_state", "ratio"}, a.Keys())
	assert.Equal(t, map[string]string{"max_depth": "7", "ratio": "0.5", "random_state": "42"}, a.Strings())
}

func TestParzenPrefersObservedRegion(t *testing.T) {
	p := QUniform("max_depth", 1, 20, 1)

	l := newParzen(p, []float64{10, 10, 11}, 1)
	g := newParzen(p, []float64{1, 2, 19, 20}, 1)

	near := l.logMass(10) - g.logMass(10)
	far := l.logMass(20) - g.logMass(20)

	assert.Greater(t, near, far)
}

func TestParzenSamplesWithinBounds(t *testing.T) {
	p := QUniform("n_estimators", 10, 50, 1)
	pz := newParzen(p, []float64{10, 50, 49}, 1)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		x := pz.sample(rng)
		assert.GreaterOrEqual(t, x, 10.0)
		assert.LessOrEqual(t, x, 50.0)
		assert.Equal(t, math.Round(x), x)
	}
}

func TestBucketMassSumsToOne(t *testing.T) {
	p := QUniform("min_samples_leaf", 1, 4, 1)
	pz := newParzen(p, []float64{2, 3}, 1)

	var total float64
	for x := 1.0; x <= 4; x++ {
		total += math.Exp(pz.logMass(x))
	}

	assert.InDelta(t, 1.0, total, 1e-9)
}

func TestAcquisitionFunctionsPreferLowerMean(t *testing.T) {
	params := AcquisitionParams{Beta: 2, Xi: 0.01, BestSoFar: 1}

	for name, fn := range map[string]AcquisitionFunc{
		"ucb": UCB,
		"pi":  ProbabilityOfImprovement,
		"ei":  ExpectedImprovement,
	} {
		assert.Less(t, fn(0.5, 0.1, params), fn(1.5, 0.1, params), name)
	}

	params.RandomState = rand.New(rand.NewSource(1))
	assert.False(t, math.IsNaN(ThompsonSampling(0.5, 0.1, params)))
}

func TestGaussianProcessPredict(t *testing.T) {
	gp := newGaussianProcess(0.2)

	mean, variance := gp.Predict([]float64{0.5})
	assert.Equal(t, 0.0, mean)
	assert.Equal(t, 1.0, variance)

	gp.Update([]float64{0.1}, 1)
	gp.Update([]float64{0.9}, 5)

	mean, variance = gp.Predict([]float64{0.1})
	assert.Less(t, mean, 3.0)
	assert.InDelta(t, 0.0, variance, 1e-9)
}
