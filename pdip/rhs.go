// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdip

import "math"

// affineRHS fills the right hand side of the affine scaling system
//
//	[-𝐫ₓ; -𝐳; -𝐫𝐳; -𝐫𝐲]
//
// from the residuals of the last evaluation.
func (d *ipDriver) affineRHS(rhs []float64) {
	spec := &d.optimizer.ipSpec
	ctx := &d.workspace.ipCtx
	n, m := spec.n, spec.m

	rx, rs, rz, ry := rhs[:n], rhs[n:n+m], rhs[n+m:n+2*m], rhs[n+2*m:]
	for i, v := range ctx.rx {
		rx[i] = -v
	}
	for i, v := range ctx.z {
		rs[i] = -v
	}
	for i, v := range ctx.rz {
		rz[i] = -v
	}
	for i, v := range ctx.ry {
		ry[i] = -v
	}
}

// centeringRHS fills the right hand side of the centering plus corrector system.
// Only the 𝐬 block is nonzero:
//
//	(σμ - Δ𝐬ᵃᶠᶠ∘Δ𝐳ᵃᶠᶠ) / 𝐬
//
// with μ = 𝐬ᵀ𝐳 / 𝚖 and σ = ((𝐬 + α Δ𝐬ᵃᶠᶠ)ᵀ(𝐳 + α Δ𝐳ᵃᶠᶠ) / 𝐬ᵀ𝐳)³,
// α being the largest affine step in [0, 1] that keeps 𝐬 and 𝐳 nonnegative.
func (d *ipDriver) centeringRHS(rhs, aff []float64) {
	spec := &d.optimizer.ipSpec
	ctx := &d.workspace.ipCtx
	n, m := spec.n, spec.m

	clear(rhs)
	if m == 0 {
		return
	}

	s, z := ctx.s, ctx.z
	ds, dz := aff[n:n+m], aff[n+m:n+2*m]
	alpha := math.Min(one, boundaryStep(s, ds, z, dz))

	gap, gapAff := zero, zero
	for i := range s {
		gap += s[i] * z[i]
		gapAff += (s[i] + alpha*ds[i]) * (z[i] + alpha*dz[i])
	}
	ratio := gapAff / gap
	sigma := ratio * ratio * ratio
	mu := gap / float64(m)

	rs := rhs[n : n+m]
	for i := range rs {
		rs[i] = (sigma*mu - ds[i]*dz[i]) / s[i]
	}
}
