// Package forest implements a random forest regressor: bootstrap-aggregated
// CART regression trees with squared-error splits.
package forest

import (
	"math/rand"
	"strconv"

	"github.com/pkg/errors"
)

// RFParams lists the parameter names recognized by ParamsFromMap, in the order
// they are logged.
var RFParams = []string{"max_depth", "n_estimators", "min_samples_split", "min_samples_leaf", "random_state"}

// Params configures Fit.
type Params struct {
	// MaxDepth limits the depth of each tree; 0 means unlimited.
	MaxDepth int `json:"max_depth"`
	// NEstimators is the number of trees.
	NEstimators int `json:"n_estimators"`
	// MinSamplesSplit is the minimum number of samples needed to split a node.
	MinSamplesSplit int `json:"min_samples_split"`
	// MinSamplesLeaf is the minimum number of samples in each leaf.
	MinSamplesLeaf int `json:"min_samples_leaf"`
	// RandomState seeds the bootstrap draws.
	RandomState int64 `json:"random_state"`
}

// DefaultParams mirrors the usual regressor defaults.
func DefaultParams() Params {
	return Params{
		NEstimators:     100,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
	}
}

// Validate checks the params can be used by Fit.
func (p Params) Validate() error {
	switch {
	case p.MaxDepth < 0:
		return errors.Errorf("max_depth must be >= 0, got %d", p.MaxDepth)
	case p.NEstimators < 1:
		return errors.Errorf("n_estimators must be >= 1, got %d", p.NEstimators)
	case p.MinSamplesSplit < 2:
		return errors.Errorf("min_samples_split must be >= 2, got %d", p.MinSamplesSplit)
	case p.MinSamplesLeaf < 1:
		return errors.Errorf("min_samples_leaf must be >= 1, got %d", p.MinSamplesLeaf)
	}
	return nil
}

// Map returns the params keyed by their RFParams names.
func (p Params) Map() map[string]int {
	return map[string]int{
		"max_depth":         p.MaxDepth,
		"n_estimators":      p.NEstimators,
		"min_samples_split": p.MinSamplesSplit,
		"min_samples_leaf":  p.MinSamplesLeaf,
		"random_state":      int(p.RandomState),
	}
}

// ParamsFromMap coerces the recognized keys of a logged parameter map to
// integers. Unknown keys are ignored and missing keys keep their default.
// Values such as "10" and "10.0" are both accepted.
func ParamsFromMap(m map[string]string) (Params, error) {
	p := DefaultParams()
	for _, name := range RFParams {
		raw, ok := m[name]
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Params{}, errors.Wrapf(err, "parameter %s", name)
		}
		v := int(f)
		switch name {
		case "max_depth":
			p.MaxDepth = v
		case "n_estimators":
			p.NEstimators = v
		case "min_samples_split":
			p.MinSamplesSplit = v
		case "min_samples_leaf":
			p.MinSamplesLeaf = v
		case "random_state":
			p.RandomState = int64(v)
		}
	}
	return p, nil
}

// RequireParams is ParamsFromMap for maps that must carry every name in
// RFParams, such as the parameters logged by a search run.
func RequireParams(m map[string]string) (Params, error) {
	for _, name := range RFParams {
		if _, ok := m[name]; !ok {
			return Params{}, errors.Errorf("missing parameter %s", name)
		}
	}
	return ParamsFromMap(m)
}

// A Forest outputs the mean of several regression trees
type Forest struct {
	Params Params `json:"params"`
	Trees  []Tree `json:"trees"`
}

// Fit trains a forest on X (rows of features) and y.
func Fit(X [][]float64, y []float64, params Params) (*Forest, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(X) == 0 {
		return nil, errors.New("no training samples")
	}
	if len(X) != len(y) {
		return nil, errors.Errorf("X has %d rows but y has %d values", len(X), len(y))
	}
	width := len(X[0])
	if width == 0 {
		return nil, errors.New("samples have no features")
	}
	for i, row := range X {
		if len(row) != width {
			return nil, errors.Errorf("row %d has %d features, expected %d", i, len(row), width)
		}
	}

	rng := rand.New(rand.NewSource(params.RandomState))

	f := &Forest{Params: params}
	for t := 0; t < params.NEstimators; t++ {
		idx := make([]int, len(X))
		for i := range idx {
			idx[i] = rng.Intn(len(X))
		}

		tree := Tree{FeatureSize: width}
		b := &builder{X: X, y: y, params: params, tree: &tree, order: make([]int, len(X))}
		b.grow(idx, 0)

		f.Trees = append(f.Trees, tree)
	}
	return f, nil
}

// Evaluate computes the mean of the outputs of the component trees
func (f *Forest) Evaluate(x []float64) float64 {
	var sum float64
	for i := range f.Trees {
		sum += f.Trees[i].Evaluate(x)
	}
	return sum / float64(len(f.Trees))
}

// Predict evaluates every row of X.
func (f *Forest) Predict(X [][]float64) ([]float64, error) {
	if len(f.Trees) == 0 {
		return nil, errors.New("forest has no trees")
	}
	width := f.Trees[0].FeatureSize
	out := make([]float64, len(X))
	for i, row := range X {
		if len(row) != width {
			return nil, errors.Errorf("row %d has %d features, model expects %d", i, len(row), width)
		}
		out[i] = f.Evaluate(row)
	}
	return out, nil
}
