package ho

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

// Kind tells how a parameter is produced.
type Kind int

const (
	// KindQUniform is a uniform draw from [Low, High] rounded to a multiple of Q.
	KindQUniform Kind = iota

	// KindConst is a fixed value that is never searched.
	KindConst
)

// Param describes one entry of a search space.
//
// Usage:
//
//	space := Space{
//	    QUniform("max_depth", 1, 20, 1).AsInt(),
//	    Const("random_state", 42),
//	}
type Param struct {
	// Name is the key under which the value is passed to the objective.
	Name string

	// Kind of the parameter.
	Kind Kind

	// Low and High are the inclusive bounds of a quantized uniform draw.
	Low, High float64

	// Q is the quantization step. Zero means continuous.
	Q float64

	// Int requests casting the drawn value to an integer before use.
	Int bool

	// Value is the constant for KindConst parameters.
	Value any
}

// QUniform returns a quantized uniform parameter over [low, high].
func QUniform(name string, low, high, q float64) Param {
	return Param{Name: name, Kind: KindQUniform, Low: low, High: high, Q: q}
}

// Uniform returns a continuous uniform parameter over [low, high].
func Uniform(name string, low, high float64) Param {
	return Param{Name: name, Kind: KindQUniform, Low: low, High: high}
}

// Const returns a parameter that always resolves to v.
func Const(name string, v any) Param {
	return Param{Name: name, Kind: KindConst, Value: v}
}

// AsInt returns a copy of p whose drawn values are cast to int.
func (p Param) AsInt() Param {
	p.Int = true

	return p
}

// Searchable reports whether the optimizer proposes values for p.
func (p Param) Searchable() bool {
	return p.Kind != KindConst
}

// Quantize rounds x to the parameter's grid and clamps it into bounds.
func (p Param) Quantize(x float64) float64 {
	if p.Q > 0 {
		x = math.Round(x/p.Q) * p.Q
	}

	return clamp(x, p.Low, p.High)
}

// Sample draws a raw value the way a fresh random trial would.
func (p Param) Sample(rng *rand.Rand) float64 {
	return p.Quantize(p.Low + rng.Float64()*(p.High-p.Low))
}

// Space is an ordered set of parameters.
type Space []Param

// Validate checks that the space is usable by the optimizer.
func (s Space) Validate() error {
	seen := make(map[string]bool, len(s))
	for _, p := range s {
		if p.Name == "" {
			return errors.New("parameter with empty name")
		}

		if seen[p.Name] {
			return errors.Errorf("duplicate parameter %q", p.Name)
		}

		seen[p.Name] = true

		if p.Searchable() && p.Low > p.High {
			return errors.Errorf("parameter %q: low %v > high %v", p.Name, p.Low, p.High)
		}
	}

	return nil
}

// Searchable returns the parameters the optimizer has to propose values for.
func (s Space) Searchable() []Param {
	out := make([]Param, 0, len(s))
	for _, p := range s {
		if p.Searchable() {
			out = append(out, p)
		}
	}

	return out
}

// Sample draws a raw value for every searchable parameter.
func (s Space) Sample(rng *rand.Rand) map[string]float64 {
	values := make(map[string]float64, len(s))
	for _, p := range s.Searchable() {
		values[p.Name] = p.Sample(rng)
	}

	return values
}

// Resolve turns raw values into the assignment handed to an objective:
// integer-flagged values are cast to int and constants are added.
func (s Space) Resolve(values map[string]float64) Assignment {
	a := make(Assignment, len(s))
	for _, p := range s {
		if !p.Searchable() {
			a[p.Name] = p.Value

			continue
		}

		v := values[p.Name]
		if p.Int {
			a[p.Name] = int(v)
		} else {
			a[p.Name] = v
		}
	}

	return a
}

// Assignment maps parameter names to resolved values.
type Assignment map[string]any

// Keys returns the parameter names in sorted order.
func (a Assignment) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// Strings renders every value the way it is logged as a run parameter.
func (a Assignment) Strings() map[string]string {
	out := make(map[string]string, len(a))
	for k, v := range a {
		switch t := v.(type) {
		case float64:
			out[k] = strconv.FormatFloat(t, 'f', -1, 64)
		default:
			out[k] = fmt.Sprint(t)
		}
	}

	return out
}
