package sfm

import (
	"fmt"
	"log"
	"math"
	"math/rand"

	"github.com/golang/geo/r3"
)

// ICP iteration defaults, matching the behaviour of the interactive aligner:
// a capped iteration count and an absolute improvement threshold on the mean
// nearest-neighbour distance.
const (
	DefaultICPMaxIterations = 100
	DefaultICPConvergence   = 1e-4
)

// ICPConfig holds parameters for iterative closest point refinement of a
// reconstruction onto the ground truth cloud.
type ICPConfig struct {
	MaxIterations int
	// Samples is the number of randomly drawn source points used per
	// iteration; zero or negative uses the whole cloud.
	Samples int
	// Convergence stops iterating when the mean error improves by less
	// than this amount.
	Convergence float64
	// RNG drives the per-iteration subsampling; nil uses a fixed seed so
	// refinement is reproducible.
	RNG *rand.Rand
}

// DefaultICPConfig returns refinement defaults.
func DefaultICPConfig() ICPConfig {
	return ICPConfig{
		MaxIterations: DefaultICPMaxIterations,
		Convergence:   DefaultICPConvergence,
	}
}

// ICPResult carries the refinement outcome.
type ICPResult struct {
	Transform  SimilarityTransform // combined transform, including the initial alignment
	Error      float64             // final mean nearest-neighbour distance
	Iterations int
	Converged  bool
}

// RefineAlignment runs rigid ICP from an initial similarity alignment: the
// source points are moved through initial, then iteratively re-fitted to
// their nearest ground truth neighbours until the mean error stops improving.
// The returned transform composes the initial alignment with every accepted
// iteration step, so applying it to the raw source cloud reproduces the final
// registration.
func RefineAlignment(src []r3.Vector, target *PointIndex, initial SimilarityTransform, cfg ICPConfig) (ICPResult, error) {
	if target.Len() == 0 {
		return ICPResult{}, fmt.Errorf("%w: empty target cloud", ErrInsufficientCorrespondences)
	}
	if len(src) < DefaultMinCorrespondences {
		return ICPResult{}, fmt.Errorf("%w: %d source points", ErrInsufficientCorrespondences, len(src))
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultICPMaxIterations
	}
	if cfg.Convergence <= 0 {
		cfg.Convergence = DefaultICPConvergence
	}
	rng := cfg.RNG
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	samples := cfg.Samples
	if samples <= 0 || samples > len(src) {
		samples = len(src)
	}

	current := initial.ApplyAll(src)
	combined := initial
	prevErr := math.Inf(1)
	result := ICPResult{Transform: combined, Error: prevErr}

	indices := make([]int, len(current))
	for i := range indices {
		indices[i] = i
	}

	for iter := 0; iter < cfg.MaxIterations; iter++ {
		rng.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
		picked := indices[:samples]

		stepSrc := make([]r3.Vector, len(picked))
		stepDst := make([]r3.Vector, len(picked))
		var sum float64
		for i, idx := range picked {
			p := current[idx]
			ti, d := target.Nearest(p)
			stepSrc[i] = p
			stepDst[i] = target.at(ti)
			sum += d
		}
		meanErr := sum / float64(len(picked))
		log.Printf("[ICP] iteration %d, mean error %.6f", iter, meanErr)

		if prevErr-meanErr < cfg.Convergence {
			result.Error = math.Min(prevErr, meanErr)
			result.Iterations = iter
			result.Converged = true
			result.Transform = combined
			return result, nil
		}
		prevErr = meanErr

		step, err := solveRigid(stepSrc, stepDst)
		if err != nil {
			return ICPResult{}, err
		}
		current = step.ApplyAll(current)
		combined = combined.Compose(step)
	}

	result.Error = prevErr
	result.Iterations = cfg.MaxIterations
	result.Transform = combined
	return result, nil
}
