// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mpc instantiates the joint-space model predictive control QP of a fixed
// variant (number of links × horizon) on top of the pdip solver.
//
// Per step t = 0..T-1 with state xₜ = [qₜ; q̇ₜ] the problem reads
//
//	minimize   Σ w_pos‖qₜ₊₁ - q_ref‖² + w_vel‖q̇ₜ₊₁‖² + w_u‖uₜ‖² + w_smooth‖uₜ - uₜ₋₁‖² + w_eps(Σεₜ₊₁ + ‖εₜ₊₁‖²)
//	subject to xₜ₊₁ = 𝐀𝐝·xₜ + 𝐁𝐝·(uₜ + τₑₓₜ) + drift
//	           |uₜ| ≤ u_max, |q̇ₜ₊₁| ≤ q̇_max
//	           q_min - εₜ₊₁ ≤ qₜ₊₁ ≤ q_max + εₜ₊₁, εₜ₊₁ ≥ 0
//
// where x₀ and u₋₁ are parameters. The structure is derived once by Variant.New;
// every control cycle only rewrites parameter values.
package mpc

import (
	"errors"
	"fmt"

	"github.com/curioloop/mpcqp/pdip"
)

// DefaultHorizon is the number of predicted steps of the stock variants.
const DefaultHorizon = 10

// ErrVariant is returned when a variant has no valid structure.
var ErrVariant = errors.New("mpc: invalid variant")

// Variant fixes the problem structure.
type Variant struct {
	Links   int // controlled joints per axis group
	Horizon int // predicted steps
}

// OneLink returns the single joint variant.
func OneLink(horizon int) Variant { return Variant{Links: 1, Horizon: horizon} }

// ThreeLink returns the three joint variant.
func ThreeLink(horizon int) Variant { return Variant{Links: 3, Horizon: horizon} }

// NumVars returns the number of decision variables 4·L·T.
func (v Variant) NumVars() int { return 4 * v.Links * v.Horizon }

// NumIneq returns the number of inequality rows 7·L·T.
func (v Variant) NumIneq() int { return 7 * v.Links * v.Horizon }

// NumEq returns the number of dynamics rows 2·L·T.
func (v Variant) NumEq() int { return 2 * v.Links * v.Horizon }

func (v Variant) String() string {
	return fmt.Sprintf("mpc(links=%d, horizon=%d)", v.Links, v.Horizon)
}

// Solver is the fixed structure QP of one variant.
// It is immutable and shared by every Controller created from it.
type Solver struct {
	variant   Variant
	optimizer *pdip.Optimizer
	params    *pdip.Layout
	pidx      paramIndex
	vars      *pdip.Layout
	tables    [numTargets][]binding
}

// New derives the problem structure, the parameter layout and the binding tables.
func (v Variant) New(set pdip.Settings, logger *pdip.Logger) (*Solver, error) {
	if v.Links <= 0 || v.Horizon <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrVariant, v)
	}

	params, pidx := newParamLayout(v.Links)
	b := newBuilder(v, params, pidx)
	b.build()

	p := pdip.Problem{
		N:        v.NumVars(),
		Mineq:    v.NumIneq(),
		Meq:      v.NumEq(),
		Hessian:  b.hess.entries,
		EqCons:   b.eq.entries,
		NeqCons:  b.neq.entries,
		Settings: set,
	}
	opt, err := p.New(logger)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", v, err)
	}

	s := &Solver{
		variant:   v,
		optimizer: opt,
		params:    params,
		pidx:      pidx,
		vars:      newVarLayout(v),
	}
	s.tables[tgtP] = b.hess.resolve(opt.Hessian())
	s.tables[tgtA] = b.eq.resolve(opt.EqCons())
	s.tables[tgtG] = b.neq.resolve(opt.NeqCons())
	s.tables[tgtQ] = b.q.binds
	s.tables[tgtB] = b.b.binds
	s.tables[tgtH] = b.h.binds
	s.tables[tgtOffset] = b.off.binds
	return s, nil
}

// Variant returns the structure of the solver.
func (s *Solver) Variant() Variant { return s.variant }

// Optimizer returns the underlying interior-point optimizer.
func (s *Solver) Optimizer() *pdip.Optimizer { return s.optimizer }

// NumBindings returns the number of parameter bindings compiled per cycle.
func (s *Solver) NumBindings() (n int) {
	for _, t := range s.tables {
		n += len(t)
	}
	return
}
