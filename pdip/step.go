// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdip

import "math"

// boundaryStep returns the largest α ≥ 0 such that 𝐬 + αΔ𝐬 ≥ 0 and 𝐳 + αΔ𝐳 ≥ 0.
// The result is +Inf when no component decreases.
func boundaryStep(s, ds, z, dz []float64) float64 {
	if len(s) != len(ds) || len(z) != len(dz) {
		panic("bound check error")
	}
	alpha := math.Inf(1)
	for i, d := range ds {
		if d < zero {
			if t := -s[i] / d; t < alpha {
				alpha = t
			}
		}
	}
	for i, d := range dz {
		if d < zero {
			if t := -z[i] / d; t < alpha {
				alpha = t
			}
		}
	}
	return alpha
}

// stepLength returns min(1, scale·α) where α is the boundary step.
// For 0 < scale < 1 and strictly positive 𝐬, 𝐳 the updated slacks and duals stay strictly positive.
func stepLength(s, ds, z, dz []float64, scale float64) float64 {
	return math.Min(one, scale*boundaryStep(s, ds, z, dz))
}
