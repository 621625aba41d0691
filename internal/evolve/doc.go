// Package evolve implements calibration.Optimizer on top of gonum's
// derivative-free global methods.
//
// Bounded search is done in an unbounded space: every free coordinate is
// mapped into its interval with a triangle-wave reflection, and coordinates
// whose interval is a single point are held fixed. Supported strategies:
//
//   - "cmaes": covariance matrix adaptation (optimize.CmaEsChol)
//   - "guess": uniform random sampling (optimize.GuessAndCheck)
//   - "neldermead": simplex search from the initial point
//
// When polishing is enabled, the best point is refined with Nelder-Mead and
// the refinement is kept only if it scores lower.
package evolve
