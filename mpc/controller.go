// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mpc

import "github.com/curioloop/mpcqp/pdip"

// Controller owns the parameters and the workspace of one control loop.
// To avoid race conditions, separate controllers need to be created for each goroutine.
type Controller struct {
	solver *Solver
	ws     *pdip.Workspace
	params Params
	vars   Vars
	offset [1]float64
}

// NewController allocates a controller with default weights and limits.
func (s *Solver) NewController() *Controller {
	ws := s.optimizer.Init()
	c := &Controller{
		solver: s,
		ws:     ws,
		params: Params{
			arena: pdip.NewArena(s.params),
			idx:   &s.pidx,
			links: s.variant.Links,
		},
		vars: Vars{
			arena:   pdip.WrapArena(s.vars, ws.X()),
			horizon: s.variant.Horizon,
		},
	}
	c.params.SetWeights(DefaultWeights())
	c.params.SetLimits(DefaultLimits())
	return c
}

// Params returns the parameter views written by the caller before each Solve.
func (c *Controller) Params() *Params { return &c.params }

// Vars returns the decision variable views of the last solve.
func (c *Controller) Vars() Vars { return c.vars }

// Workspace returns the underlying solver workspace.
func (c *Controller) Workspace() *pdip.Workspace { return c.ws }

// Solve validates the parameters, compiles them into problem data and runs the optimizer.
// The error semantics are those of pdip.Optimizer.Solve; rejected parameters wrap
// pdip.ErrBadParameter with the offending view name.
func (c *Controller) Solve() (pdip.Result, error) {
	if err := c.params.validate(); err != nil {
		return pdip.Result{Status: pdip.BadParameter}, err
	}
	c.compile()
	return c.solver.optimizer.Solve(c.ws)
}

// FirstControl returns u₀ of the last solve, or nil when it produced no solution.
func (c *Controller) FirstControl() []float64 {
	if !c.ws.Status().HasSolution() {
		return nil
	}
	return c.vars.U(0)
}

// compile evaluates every binding into the workspace data.
func (c *Controller) compile() {
	p, w := c.params.arena.Raw(), c.ws
	dst := [numTargets][]float64{
		tgtP:      w.P.Val,
		tgtA:      w.A.Val,
		tgtG:      w.G.Val,
		tgtQ:      w.Q,
		tgtB:      w.B,
		tgtH:      w.H,
		tgtOffset: c.offset[:],
	}
	for k, d := range dst {
		clear(d)
		tab := c.solver.tables[k]
		for i := range tab {
			d[tab[i].dst] += tab[i].eval(p)
		}
	}
	w.Offset = c.offset[0]
}
