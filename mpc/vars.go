// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mpc

import (
	"fmt"

	"github.com/curioloop/mpcqp/pdip"
)

func newVarLayout(v Variant) *pdip.Layout {
	var b pdip.LayoutBuilder
	l := v.Links
	for t := 0; t < v.Horizon; t++ {
		b.Add(fmt.Sprintf("u_%d", t), l)
		b.Add(fmt.Sprintf("q_%d", t+1), l)
		b.Add(fmt.Sprintf("qd_%d", t+1), l)
		b.Add(fmt.Sprintf("eps_%d", t+1), l)
	}
	return b.Build(v.NumVars())
}

// Vars views the decision variables held by the controller workspace.
// The content is meaningful only after a solve that produced a solution.
type Vars struct {
	arena   *pdip.Arena
	horizon int
}

// U returns the control uₜ for t in [0, T).
func (v Vars) U(t int) []float64 {
	if t < 0 || t >= v.horizon {
		panic("bound check error")
	}
	return v.arena.View(pdip.Index(4 * t))
}

// Q returns the predicted position qₜ for t in [1, T].
func (v Vars) Q(t int) []float64 { return v.state(t, 1) }

// QD returns the predicted velocity q̇ₜ for t in [1, T].
func (v Vars) QD(t int) []float64 { return v.state(t, 2) }

// Eps returns the soft bound violation εₜ for t in [1, T].
func (v Vars) Eps(t int) []float64 { return v.state(t, 3) }

func (v Vars) state(t, k int) []float64 {
	if t < 1 || t > v.horizon {
		panic("bound check error")
	}
	return v.arena.View(pdip.Index(4*(t-1) + k))
}

// Layout returns the name → offset map of the decision variables.
func (v Vars) Layout() *pdip.Layout { return v.arena.Layout() }
