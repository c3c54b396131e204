package dataset

import (
	"math"
	"math/rand"
)

// Friedman1 generates the Friedman #1 regression problem: ten uniform
// features in [0, 1], of which the first five drive the target
//
//	y = 10 sin(pi x0 x1) + 20 (x2 - 0.5)^2 + 10 x3 + 5 x4 + noise * N(0, 1)
func Friedman1(n int, noise float64, rng *rand.Rand) Split {
	const features = 10

	s := Split{X: make([][]float64, n), Y: make([]float64, n)}
	for i := 0; i < n; i++ {
		x := make([]float64, features)
		for j := range x {
			x[j] = rng.Float64()
		}
		s.X[i] = x
		s.Y[i] = 10*math.Sin(math.Pi*x[0]*x[1]) + 20*(x[2]-0.5)*(x[2]-0.5) + 10*x[3] + 5*x[4] + noise*rng.NormFloat64()
	}
	return s
}
