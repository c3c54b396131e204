// Package ho provides sequential black-box hyperparameter optimization over a
// declarative search space.
//
// # Features
//
// The package includes the following key features:
//
//   - Declarative search spaces: quantized uniform ranges, optional integer
//     casting, and constants that are passed through untouched
//   - Tree-structured Parzen estimator (TPE): the default strategy, learns
//     from the best trials so far to propose the next one
//   - Bayesian optimization: a kernel model of the loss surface with UCB,
//     PI, EI or Thompson sampling acquisition
//   - Random search: uniform draws, useful as a baseline
//   - Reproducible: every random draw comes from one seeded *rand.Rand
//   - Progress Monitoring: non-blocking updates via channels
//
// # Search spaces
//
//	space := ho.Space{
//	    ho.QUniform("max_depth", 1, 20, 1).AsInt(),
//	    ho.QUniform("n_estimators", 10, 50, 1).AsInt(),
//	    ho.Const("random_state", 42),
//	}
//
// The objective receives the resolved Assignment (integers already cast,
// constants present). Trials keep the raw float values, which is what
// Trials.BestValues reports.
//
// # Strategies
//
// 1. TPE (default):
//
//	config := ho.DefaultConfig()
//	config.Algorithm = ho.TPE{StartupTrials: 5, Candidates: 24, Gamma: 0.25}
//
// 2. Gaussian process:
//
//	config.Algorithm = ho.GaussianProcess{
//	    InitialSamples:  5,
//	    NumCandidates:   50,
//	    AcquisitionFunc: ho.ExpectedImprovement,
//	    AcqParams:       ho.AcquisitionParams{Xi: 0.01},
//	}
//
// 3. Random:
//
//	config.Algorithm = ho.Random{}
//
// # Failure handling
//
// An objective error stops the search and is returned wrapped, together with
// the trials recorded so far. Nothing is retried. Return StatusFail instead
// to keep searching while excluding the point from the model.
package ho
