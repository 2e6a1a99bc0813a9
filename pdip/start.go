// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdip

import "gonum.org/v1/gonum/floats"

// initialize produces the first iterate with the configured heuristic.
// It reports false if the auxiliary system of BetterStart cannot be factored.
func (d *ipDriver) initialize() bool {
	set := &d.optimizer.settings
	ctx := &d.workspace.ipCtx
	if set.Initializer == BetterStart {
		return d.betterStart()
	}
	clear(ctx.x)
	clear(ctx.y)
	for i := range ctx.s {
		ctx.s[i] = set.SInit
		ctx.z[i] = set.ZInit
	}
	return true
}

// betterStart solves
//
//	⎡ 𝐏   0   𝐆ᵀ  𝐀ᵀ ⎤ ⎡ 𝐱 ⎤   ⎡ -𝐪 ⎤
//	⎢ 0   𝐈   𝐈   0  ⎥ ⎢ · ⎥ = ⎢  0 ⎥
//	⎢ 𝐆   𝐈  -𝐈   0  ⎥ ⎢ 𝐳̂ ⎥   ⎢  𝐡 ⎥
//	⎣ 𝐀   0   0   0  ⎦ ⎣ 𝐲 ⎦   ⎣  𝐛 ⎦
//
// and keeps 𝐱, 𝐲 as is. The slack starts from -𝐳̂ and the dual from 𝐳̂,
// each shifted by 1 + max violation when not already strictly positive.
func (d *ipDriver) betterStart() bool {
	spec := &d.optimizer.ipSpec
	w := d.workspace
	ctx := &w.ipCtx
	n, m := spec.n, spec.m
	reg := spec.settings.KKTReg

	for i := range ctx.sinvz {
		ctx.sinvz[i] = one
	}
	spec.kkt.assemble(ctx.ldl.kx, &w.Data, ctx.sinvz, -one, reg)
	ok := ctx.ldl.factor(spec.kkt, reg)
	ctx.dynReg = ctx.ldl.dynReg
	if !ok {
		return false
	}

	rhs := ctx.rhs
	clear(rhs)
	for i, v := range w.Q {
		rhs[i] = -v
	}
	copy(rhs[n+m:n+2*m], w.H)
	copy(rhs[n+2*m:], w.B)

	sol := ctx.aff
	ctx.ldl.solve(spec.kkt, sol, rhs)
	if !allFinite(sol) {
		return false
	}

	copy(ctx.x, sol[:n])
	copy(ctx.y, sol[n+2*m:])
	if m == 0 {
		return true
	}

	zh := sol[n+m : n+2*m]

	// 𝐬 = -𝐳̂ shifted if max 𝐳̂ ≥ 0
	shift := zero
	if zmax := floats.Max(zh); zmax >= zero {
		shift = one + zmax
	}
	for i, v := range zh {
		ctx.s[i] = -v + shift
	}

	// 𝐳 = 𝐳̂ shifted if max(-𝐳̂) ≥ 0
	shift = zero
	if nmax := -floats.Min(zh); nmax >= zero {
		shift = one + nmax
	}
	for i, v := range zh {
		ctx.z[i] = v + shift
	}
	return true
}
