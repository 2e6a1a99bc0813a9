// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdip

import "errors"

const (
	zero = 0.0
	one  = 1.0

	// stepScale keeps the combined step strictly inside the positive orthant.
	stepScale = 0.99
)

// Status is the terminal state of a solve.
type Status int

const (
	// Unsolved no solve has been run on the workspace yet.
	Unsolved Status = iota
	// Converged duality gap and both residual norms are within tolerance.
	Converged
	// MaxItersReached the iteration cap was exhausted; the iterate is best-effort.
	MaxItersReached
	// BadParameter the problem data was rejected before the first iteration.
	BadParameter
	// FactorizationFailed the KKT system could not be factored or solved; no solution.
	FactorizationFailed
)

func (s Status) String() string {
	switch s {
	case Unsolved:
		return "unsolved"
	case Converged:
		return "converged"
	case MaxItersReached:
		return "max iterations reached"
	case BadParameter:
		return "bad parameter"
	case FactorizationFailed:
		return "factorization failed"
	default:
		return "unknown"
	}
}

// HasSolution reports whether the workspace iterate may be read after a solve with this status.
func (s Status) HasSolution() bool {
	return s == Converged || s == MaxItersReached
}

var (
	// ErrMaxIterations is returned with a best-effort iterate when tolerances were not met.
	ErrMaxIterations = errors.New("pdip: iteration limit reached before convergence")
	// ErrFactorization is returned when the KKT system has no usable factorization.
	ErrFactorization = errors.New("pdip: KKT factorization breakdown")
	// ErrBadParameter is returned when problem data is rejected before iterating.
	ErrBadParameter = errors.New("pdip: malformed problem data")
	// ErrDimension is returned when a caller supplied buffer has the wrong length.
	ErrDimension = errors.New("pdip: dimension mismatch")
	// ErrPattern is returned when a sparsity pattern is invalid.
	ErrPattern = errors.New("pdip: invalid sparsity pattern")
)
