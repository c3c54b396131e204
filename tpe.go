package ho

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// TPE is the tree-structured Parzen estimator strategy.
//
// How it works:
//  1. The first StartupTrials suggestions are random draws
//  2. Afterwards the ok trials are split into the best ceil(Gamma*sqrt(n))
//     ("below") and the rest ("above")
//  3. Per parameter, a Parzen estimator l(x) is fit on "below" and g(x) on
//     "above", each mixed with the uniform prior
//  4. Candidates values are drawn from l(x) and the one maximizing
//     log l(x) - log g(x) is kept
//
// Parameters are treated independently, as in the classic formulation.
type TPE struct {
	// StartupTrials is the number of random suggestions before modelling.
	StartupTrials int

	// Candidates is the number of draws from l(x) per parameter.
	Candidates int

	// Gamma controls the size of the "below" group.
	Gamma float64

	// PriorWeight is the weight of the prior component in each mixture.
	PriorWeight float64
}

// DefaultTPE returns the TPE settings used by DefaultConfig.
func DefaultTPE() TPE {
	return TPE{
		StartupTrials: 5,
		Candidates:    24,
		Gamma:         0.25,
		PriorWeight:   1.0,
	}
}

// Name implements Algorithm.
func (t TPE) Name() string {
	return "tpe"
}

// Suggest implements Algorithm.
func (t TPE) Suggest(space Space, history []Trial, rng *rand.Rand) map[string]float64 {
	ok := okTrials(history)
	if len(ok) < max(t.StartupTrials, 1) {
		return space.Sample(rng)
	}

	// Stable so equal losses keep evaluation order.
	sort.SliceStable(ok, func(i, j int) bool { return ok[i].Loss < ok[j].Loss })

	nBelow := int(math.Ceil(t.gamma() * math.Sqrt(float64(len(ok)))))
	nBelow = clamp(nBelow, 1, len(ok))

	below, above := ok[:nBelow], ok[nBelow:]

	values := make(map[string]float64, len(space))
	for _, p := range space.Searchable() {
		l := newParzen(p, observations(p, below), t.priorWeight())
		g := newParzen(p, observations(p, above), t.priorWeight())

		best, bestScore := 0.0, math.Inf(-1)
		for i := 0; i < max(t.Candidates, 1); i++ {
			x := l.sample(rng)

			score := l.logMass(x) - g.logMass(x)
			if i == 0 || score > bestScore {
				best, bestScore = x, score
			}
		}

		values[p.Name] = best
	}

	return values
}

func (t TPE) gamma() float64 {
	if t.Gamma <= 0 || t.Gamma > 1 {
		return 0.25
	}

	return t.Gamma
}

func (t TPE) priorWeight() float64 {
	if t.PriorWeight <= 0 {
		return 1.0
	}

	return t.PriorWeight
}

// Random suggests uniform draws from the space, ignoring history.
type Random struct{}

// Name implements Algorithm.
func (Random) Name() string {
	return "rand"
}

// Suggest implements Algorithm.
func (Random) Suggest(space Space, _ []Trial, rng *rand.Rand) map[string]float64 {
	return space.Sample(rng)
}

//////
// Parzen estimator.
//////

// parzen is a truncated Gaussian mixture over [p.Low, p.High].
type parzen struct {
	param      Param
	components []distuv.Normal
	weights    []float64
	// mass of each component inside the bounds
	inside []float64
}

func observations(p Param, trials []Trial) []float64 {
	obs := make([]float64, len(trials))
	for i, t := range trials {
		obs[i] = t.Values[p.Name]
	}

	return obs
}

// newParzen builds an adaptive Parzen estimator: one component per
// observation plus the prior, each with a width set by the distance to its
// neighbours, clipped to [priorSigma/min(100, n+1), priorSigma].
func newParzen(p Param, obs []float64, priorWeight float64) *parzen {
	priorMu := (p.Low + p.High) / 2
	priorSigma := p.High - p.Low
	if priorSigma <= 0 {
		priorSigma = 1
	}

	mus := append([]float64{priorMu}, obs...)
	ws := make([]float64, len(mus))
	ws[0] = priorWeight
	for i := 1; i < len(ws); i++ {
		ws[i] = 1
	}

	order := make([]int, len(mus))
	for i := range order {
		order[i] = i
	}

	sort.SliceStable(order, func(a, b int) bool { return mus[order[a]] < mus[order[b]] })

	sigmas := make([]float64, len(mus))
	minSigma := priorSigma / math.Min(100, float64(len(mus)))

	for rank, idx := range order {
		var left, right float64
		if rank > 0 {
			left = mus[idx] - mus[order[rank-1]]
		} else {
			left = mus[idx] - p.Low
		}

		if rank < len(order)-1 {
			right = mus[order[rank+1]] - mus[idx]
		} else {
			right = p.High - mus[idx]
		}

		sigmas[idx] = clamp(math.Max(left, right), minSigma, priorSigma)
	}

	sigmas[0] = priorSigma

	pz := &parzen{param: p}

	var total float64
	for _, w := range ws {
		total += w
	}

	for i := range mus {
		n := distuv.Normal{Mu: mus[i], Sigma: sigmas[i]}

		inside := n.CDF(p.High) - n.CDF(p.Low)
		if inside <= 0 {
			inside = math.SmallestNonzeroFloat64
		}

		pz.components = append(pz.components, n)
		pz.weights = append(pz.weights, ws[i]/total)
		pz.inside = append(pz.inside, inside)
	}

	return pz
}

// sample draws from the truncated mixture and applies the parameter grid.
func (pz *parzen) sample(rng *rand.Rand) float64 {
	u := rng.Float64()

	idx := len(pz.weights) - 1

	var acc float64
	for i, w := range pz.weights {
		acc += w
		if u < acc {
			idx = i

			break
		}
	}

	c := pz.components[idx]

	const maxRejections = 100
	for i := 0; i < maxRejections; i++ {
		x := c.Mu + c.Sigma*rng.NormFloat64()
		if x >= pz.param.Low && x <= pz.param.High {
			return pz.param.Quantize(x)
		}
	}

	return pz.param.Quantize(c.Mu)
}

// logMass is the log probability of x: the mass of its quantization bucket
// for quantized parameters, the density otherwise.
func (pz *parzen) logMass(x float64) float64 {
	p := pz.param

	var total float64

	for i, c := range pz.components {
		var v float64

		if p.Q > 0 {
			lo := math.Max(x-p.Q/2, p.Low)
			hi := math.Min(x+p.Q/2, p.High)
			v = c.CDF(hi) - c.CDF(lo)
		} else {
			v = c.Prob(x)
		}

		total += pz.weights[i] * v / pz.inside[i]
	}

	if total <= 0 {
		return math.Inf(-1)
	}

	return math.Log(total)
}
