// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdip

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// ipDriver is the main driver for the interior-point iterations,
// responsible for managing the flow of one solve.
type ipDriver struct {
	optimizer *Optimizer
	workspace *Workspace
}

// mainLoop initializes the iterate and runs predictor-corrector steps until the
// convergence test passes, the iteration cap is reached or the KKT system breaks down.
// Convergence is tested before the first step, so an exact initial iterate costs no iteration.
func (d *ipDriver) mainLoop() (status Status) {

	spec := &d.optimizer.ipSpec
	ctx := &d.workspace.ipCtx

	d.printInit()

	if !d.initialize() {
		status = FactorizationFailed
		d.printExit(status)
		return
	}
	d.evaluate()

	for {
		if d.converged() {
			status = Converged
			break
		}
		if ctx.iter >= spec.settings.MaxIterations {
			status = MaxItersReached
			break
		}
		if !d.iterate() {
			status = FactorizationFailed
			break
		}
		ctx.iter++
		d.evaluate()
		d.printIter()
	}

	d.printExit(status)
	return
}

// iterate performs one Mehrotra predictor-corrector update of (𝐱, 𝐬, 𝐳, 𝐲).
func (d *ipDriver) iterate() bool {
	spec := &d.optimizer.ipSpec
	ctx := &d.workspace.ipCtx
	n, m := spec.n, spec.m

	if !d.factorize() {
		return false
	}

	// affine scaling direction
	d.affineRHS(ctx.rhs)
	d.refinedSolve(ctx.aff, ctx.rhs)

	// centering plus corrector direction
	d.centeringRHS(ctx.rhs, ctx.aff)
	d.refinedSolve(ctx.cc, ctx.rhs)

	// combined direction
	floats.Add(ctx.aff, ctx.cc)
	dir := ctx.aff
	if !allFinite(dir) {
		return false
	}

	ds, dz := dir[n:n+m], dir[n+m:n+2*m]
	alpha := stepLength(ctx.s, ds, ctx.z, dz, stepScale)

	floats.AddScaled(ctx.x, alpha, dir[:n])
	floats.AddScaled(ctx.s, alpha, ds)
	floats.AddScaled(ctx.z, alpha, dz)
	floats.AddScaled(ctx.y, alpha, dir[n+2*m:])
	ctx.step = alpha
	return true
}

// factorize refreshes 𝐒⁻¹𝐙, assembles the Newton matrix and factors it.
func (d *ipDriver) factorize() bool {
	spec := &d.optimizer.ipSpec
	w := d.workspace
	ctx := &w.ipCtx
	for i, s := range ctx.s {
		ctx.sinvz[i] = ctx.z[i] / s
	}
	spec.kkt.assemble(ctx.ldl.kx, &w.Data, ctx.sinvz, zero, spec.settings.KKTReg)
	ok := ctx.ldl.factor(spec.kkt, spec.settings.KKTReg)
	ctx.dynReg = ctx.ldl.dynReg
	return ok
}

// evaluate computes the residuals, the duality gap and the objective of the current iterate.
func (d *ipDriver) evaluate() {
	w := d.workspace
	ctx := &w.ipCtx
	op := ctx.op

	// 𝐫ₓ = 𝐏𝐱 + 𝐪 + 𝐆ᵀ𝐳 + 𝐀ᵀ𝐲
	op.MulP(ctx.rx, ctx.x)
	ctx.optval = 0.5*floats.Dot(ctx.x, ctx.rx) + floats.Dot(w.Q, ctx.x) + w.Offset
	floats.Add(ctx.rx, w.Q)
	op.MulGT(ctx.tmp, ctx.z)
	floats.Add(ctx.rx, ctx.tmp)
	op.MulAT(ctx.tmp, ctx.y)
	floats.Add(ctx.rx, ctx.tmp)

	// 𝐫𝐳 = 𝐆𝐱 + 𝐬 - 𝐡
	op.MulG(ctx.rz, ctx.x)
	floats.Add(ctx.rz, ctx.s)
	floats.Sub(ctx.rz, w.H)

	// 𝐫𝐲 = 𝐀𝐱 - 𝐛
	op.MulA(ctx.ry, ctx.x)
	floats.Sub(ctx.ry, w.B)

	ctx.gap = floats.Dot(ctx.s, ctx.z)
	ctx.eqResidSq = floats.Dot(ctx.ry, ctx.ry)
	ctx.ineqResidSq = floats.Dot(ctx.rz, ctx.rz)
}

// converged tests the duality gap and both squared residual norms.
func (d *ipDriver) converged() bool {
	set := &d.optimizer.settings
	ctx := &d.workspace.ipCtx
	tol := set.ResidTol * set.ResidTol
	return ctx.gap < set.GapTol && ctx.eqResidSq <= tol && ctx.ineqResidSq <= tol
}

func (d *ipDriver) printInit() {

	spec := &d.optimizer.ipSpec

	log := &spec.logger

	if log.enable(LogIter) {
		log.log("RUNNING THE PRIMAL-DUAL INTERIOR POINT CODE\n")
		log.log("           * * *\n")
		log.log("N = %d    Mineq = %d    Meq = %d\n", spec.n, spec.m, spec.meq)
		log.log("KKT dim = %d    nnz(K) = %d    nnz(L) = %d\n", spec.kkt.dim, len(spec.kkt.ai), spec.kkt.lp[spec.kkt.dim])
		log.log("\n  it        objv         gap     |Ax-b|   |Gx+s-h|     step\n")
	}
}

func (d *ipDriver) printIter() {

	spec := &d.optimizer.ipSpec
	ctx := &d.workspace.ipCtx

	log := &spec.logger

	if log.enable(LogIter) {
		log.log("%4d %11.4e %11.4e %10.3e %10.3e %8.4f\n",
			ctx.iter, ctx.optval, ctx.gap, math.Sqrt(ctx.eqResidSq), math.Sqrt(ctx.ineqResidSq), ctx.step)
	}
}

func (d *ipDriver) printExit(status Status) {

	spec := &d.optimizer.ipSpec
	ctx := &d.workspace.ipCtx

	log := &spec.logger
	if !log.enable(LogLast) {
		return
	}

	if log.enable(LogIter) {
		log.log("\n           * * *\n")
	}
	log.log("PDIP %v after %d iterations: objv = %.6e  gap = %.3e  |Ax-b| = %.3e  |Gx+s-h| = %.3e  dynreg = %d\n",
		status, ctx.iter, ctx.optval, ctx.gap, math.Sqrt(ctx.eqResidSq), math.Sqrt(ctx.ineqResidSq), ctx.dynReg)
}
