// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdip

import "math"

// pivotEps is the smallest pivot magnitude accepted with the expected sign.
const pivotEps = 1e-13

// symbolicLDL computes the elimination tree and the column pointers of 𝐋
// for the upper triangular CSC pattern (ap, ai).
func symbolicLDL(n int, ap, ai []int) (etree, lp []int) {
	etree = make([]int, n)
	lnz := make([]int, n)
	work := make([]int, n)
	for i := range etree {
		etree[i] = -1
	}
	for j := 0; j < n; j++ {
		work[j] = j
		for p := ap[j]; p < ap[j+1]; p++ {
			i := ai[p]
			if i > j {
				panic("kkt pattern not upper triangular")
			}
			for work[i] != j {
				if etree[i] == -1 {
					etree[i] = j
				}
				lnz[i]++
				work[i] = j
				i = etree[i]
			}
		}
	}
	lp = make([]int, n+1)
	for i, c := range lnz {
		lp[i+1] = lp[i] + c
	}
	return
}

// ldlFactor holds the numeric 𝐋𝐃𝐋ᵀ factors of one workspace.
// 𝐋 is unit lower triangular stored by column without its diagonal.
type ldlFactor struct {
	kx   []float64 // permuted KKT values
	li   []int
	lx   []float64
	d    []float64
	dinv []float64
	// dynamic regularizations applied by the last factorization
	dynReg int

	yMark []bool
	yIdx  []int
	elim  []int
	next  []int
	yVal  []float64
	pb    []float64 // permuted right hand side
}

func newLDLFactor(ks *kktSpec) *ldlFactor {
	n, nnz := ks.dim, ks.lp[ks.dim]
	return &ldlFactor{
		kx:    make([]float64, len(ks.ai)),
		li:    make([]int, nnz),
		lx:    make([]float64, nnz),
		d:     make([]float64, n),
		dinv:  make([]float64, n),
		yMark: make([]bool, n),
		yIdx:  make([]int, n),
		elim:  make([]int, n),
		next:  make([]int, n),
		yVal:  make([]float64, n),
		pb:    make([]float64, n),
	}
}

// factor computes 𝐋𝐃𝐋ᵀ = 𝐊̃ of the permuted values in f.kx with an up-looking elimination.
// A pivot whose sign disagrees with its block, or whose magnitude is below pivotEps,
// is replaced by ±reg. A non-finite pivot is a breakdown and reported as false.
func (f *ldlFactor) factor(ks *kktSpec, reg float64) bool {
	n, ap, ai, etree, lp := ks.dim, ks.ap, ks.ai, ks.etree, ks.lp
	li, lx, d, dinv, kx := f.li, f.lx, f.d, f.dinv, f.kx
	yMark, yIdx, elim, next, yVal := f.yMark, f.yIdx, f.elim, f.next, f.yVal

	f.dynReg = 0
	for i := 0; i < n; i++ {
		yMark[i] = false
		yVal[i] = zero
		d[i] = zero
		next[i] = lp[i]
	}

	pivot := func(k int) bool {
		dk := d[k]
		if math.IsNaN(dk) || math.IsInf(dk, 0) {
			return false
		}
		if sg := ks.sign[k]; dk*sg < pivotEps {
			d[k] = sg * reg
			f.dynReg++
		}
		dinv[k] = one / d[k]
		return true
	}

	for k := 0; k < n; k++ {
		// Scatter column k of the upper triangle and find the nonzero pattern of row k of 𝐋
		// by walking the elimination tree.
		nnzY := 0
		for p := ap[k]; p < ap[k+1]; p++ {
			b := ai[p]
			if b == k {
				d[k] = kx[p]
				continue
			}
			yVal[b] = kx[p]
			if yMark[b] {
				continue
			}
			yMark[b] = true
			elim[0] = b
			nnzE := 1
			for i := etree[b]; i != -1 && i < k; i = etree[i] {
				if yMark[i] {
					break
				}
				yMark[i] = true
				elim[nnzE] = i
				nnzE++
			}
			for nnzE > 0 {
				nnzE--
				yIdx[nnzY] = elim[nnzE]
				nnzY++
			}
		}

		// Sparse triangular solve for row k.
		for i := nnzY - 1; i >= 0; i-- {
			c := yIdx[i]
			yc := yVal[c]
			end := next[c]
			for j := lp[c]; j < end; j++ {
				yVal[li[j]] -= lx[j] * yc
			}
			li[end] = k
			lx[end] = yc * dinv[c]
			d[k] -= yc * lx[end]
			next[c]++
			yVal[c] = zero
			yMark[c] = false
		}

		if !pivot(k) {
			return false
		}
	}
	return true
}

// solve computes x = 𝐊̃⁻¹b in original coordinates. b and x may alias.
func (f *ldlFactor) solve(ks *kktSpec, x, b []float64) {
	n, lp, li, lx, pb := ks.dim, ks.lp, f.li, f.lx, f.pb
	if len(x) != n || len(b) != n {
		panic("bound check error")
	}
	for k, v := range ks.perm {
		pb[k] = b[v]
	}
	for i := 0; i < n; i++ {
		v := pb[i]
		for j := lp[i]; j < lp[i+1]; j++ {
			pb[li[j]] -= lx[j] * v
		}
	}
	for i, di := range f.dinv {
		pb[i] *= di
	}
	for i := n - 1; i >= 0; i-- {
		v := pb[i]
		for j := lp[i]; j < lp[i+1]; j++ {
			v -= lx[j] * pb[li[j]]
		}
		pb[i] = v
	}
	for k, v := range ks.perm {
		x[v] = pb[k]
	}
}
