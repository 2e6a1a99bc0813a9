// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdip

import "gonum.org/v1/gonum/floats"

// refinedSolve solves 𝐊v = target with the regularized factors and then applies
// iterative refinement against the unregularized 𝐊:
//
//	𝐫 = target - 𝐊v, solve 𝐊̃Δ = 𝐫, v ← v + Δ
func (d *ipDriver) refinedSolve(v, target []float64) {
	spec := &d.optimizer.ipSpec
	ctx := &d.workspace.ipCtx
	ks, log := spec.kkt, &spec.logger

	ctx.ldl.solve(ks, v, target)

	for k := 0; k < spec.settings.RefineSteps; k++ {
		d.residual(ctx.res, v, target)
		if log.enable(LogRefine) {
			log.log("  refine %d: |K v - b| = %.3e\n", k, floats.Norm(ctx.res, 2))
		}
		ctx.ldl.solve(ks, ctx.corr, ctx.res)
		floats.Add(v, ctx.corr)
	}

	if log.enable(LogRefine) {
		d.residual(ctx.res, v, target)
		log.log("  refined:  |K v - b| = %.3e\n", floats.Norm(ctx.res, 2))
	}
}

// residual computes res = target - 𝐊v.
func (d *ipDriver) residual(res, v, target []float64) {
	spec := &d.optimizer.ipSpec
	ctx := &d.workspace.ipCtx
	spec.kkt.kktMul(res, v, ctx.op, ctx.sinvz, ctx.tmp)
	floats.SubTo(res, target, res)
}
