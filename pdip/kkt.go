// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdip

import (
	"cmp"
	"slices"
)

// kktSpec is the symbolic part of the KKT system, shared by every workspace.
//
// The unknowns are ordered [𝐱 𝐬 𝐳 𝐲] with dimension 𝚗 + 2𝚖 + 𝚖ₑ:
//
//	    ⎡ 𝐏    0    𝐆ᵀ   𝐀ᵀ ⎤
//	𝐊 = ⎢ 0   𝐒⁻¹𝐙   𝐈    0  ⎥
//	    ⎢ 𝐆    𝐈    0    0  ⎥
//	    ⎣ 𝐀    0    0    0  ⎦
//
// and the factored matrix is 𝐊 + δ𝐄 with 𝐄 = diag(+𝐈, +𝐈, -𝐈, -𝐈), which is quasi-definite
// so that 𝐋𝐃𝐋ᵀ exists for any symmetric permutation.
// The permutation is a greedy minimum degree ordering computed once.
type kktSpec struct {
	n, m, meq int
	dim       int

	perm []int     // position → original unknown
	sign []float64 // position → +1 primal / -1 dual

	// upper triangle of the permuted matrix in CSC
	ap, ai []int

	// value slots of each source in the permuted matrix
	pSlot, gSlot, aSlot        []int // per storage slot of 𝐏, 𝐆, 𝐀
	xDiag, sDiag, zDiag, yDiag []int
	szSlot                     []int

	// elimination tree and column counts of 𝐋
	etree []int
	lp    []int // dim + 1
}

func newKKTSpec(n, m, meq int, p, g, a *Pattern) *kktSpec {
	dim := n + 2*m + meq
	ks := &kktSpec{
		n: n, m: m, meq: meq, dim: dim,
		pSlot:  make([]int, p.NNZ()),
		gSlot:  make([]int, g.NNZ()),
		aSlot:  make([]int, a.NNZ()),
		xDiag:  make([]int, n),
		sDiag:  make([]int, m),
		zDiag:  make([]int, m),
		yDiag:  make([]int, meq),
		szSlot: make([]int, m),
	}

	is, iz, iy := n, n+m, n+2*m

	// Collect the entries of 𝐊 in original coordinates, remembering their owner.
	entries := make([]Entry, 0, dim+p.NNZ()+g.NNZ()+a.NNZ()+m)
	owner := make([]*int, 0, cap(entries))
	push := func(r, c int, dst *int) {
		entries = append(entries, Entry{r, c})
		owner = append(owner, dst)
	}
	for i := 0; i < n; i++ {
		push(i, i, &ks.xDiag[i])
	}
	for s := 0; s < p.NNZ(); s++ {
		if e := p.At(s); e.Row != e.Col {
			push(e.Row, e.Col, &ks.pSlot[s])
		}
	}
	for i := 0; i < m; i++ {
		push(is+i, is+i, &ks.sDiag[i])
		push(is+i, iz+i, &ks.szSlot[i])
		push(iz+i, iz+i, &ks.zDiag[i])
	}
	for s := 0; s < g.NNZ(); s++ {
		e := g.At(s)
		push(e.Col, iz+e.Row, &ks.gSlot[s])
	}
	for s := 0; s < a.NNZ(); s++ {
		e := a.At(s)
		push(e.Col, iy+e.Row, &ks.aSlot[s])
	}
	for i := 0; i < meq; i++ {
		push(iy+i, iy+i, &ks.yDiag[i])
	}

	ks.perm = minDegreeOrder(dim, entries)
	iperm := make([]int, dim)
	for k, v := range ks.perm {
		iperm[v] = k
	}
	ks.sign = make([]float64, dim)
	for k, v := range ks.perm {
		if v < iz {
			ks.sign[k] = one
		} else {
			ks.sign[k] = -one
		}
	}

	// Permute into the upper triangle and compress by column.
	type cell struct{ row, col, id int }
	cells := make([]cell, len(entries))
	for id, e := range entries {
		r, c := iperm[e.Row], iperm[e.Col]
		if r > c {
			r, c = c, r
		}
		cells[id] = cell{r, c, id}
	}
	slices.SortFunc(cells, func(x, y cell) int {
		if x.col != y.col {
			return cmp.Compare(x.col, y.col)
		}
		return cmp.Compare(x.row, y.row)
	})
	ks.ap = make([]int, dim+1)
	ks.ai = make([]int, len(cells))
	for k, c := range cells {
		ks.ai[k] = c.row
		ks.ap[c.col+1]++
		*owner[c.id] = k
	}
	for j := 0; j < dim; j++ {
		ks.ap[j+1] += ks.ap[j]
	}

	// Diagonal entries of 𝐏 share the regularized 𝐱 diagonal slot.
	for s := 0; s < p.NNZ(); s++ {
		if e := p.At(s); e.Row == e.Col {
			ks.pSlot[s] = ks.xDiag[e.Row]
		}
	}

	ks.etree, ks.lp = symbolicLDL(dim, ks.ap, ks.ai)
	return ks
}

// minDegreeOrder returns a fill reducing elimination order of the undirected graph of entries.
// Ties are broken by the lowest index so the order is deterministic.
func minDegreeOrder(dim int, entries []Entry) []int {
	adj := make([]map[int]struct{}, dim)
	for i := range adj {
		adj[i] = make(map[int]struct{})
	}
	for _, e := range entries {
		if e.Row != e.Col {
			adj[e.Row][e.Col] = struct{}{}
			adj[e.Col][e.Row] = struct{}{}
		}
	}
	done := make([]bool, dim)
	perm := make([]int, 0, dim)
	nbrs := make([]int, 0, dim)
	for len(perm) < dim {
		v := -1
		for i := 0; i < dim; i++ {
			if !done[i] && (v < 0 || len(adj[i]) < len(adj[v])) {
				v = i
			}
		}
		nbrs = nbrs[:0]
		for u := range adj[v] {
			nbrs = append(nbrs, u)
		}
		slices.Sort(nbrs)
		for _, a := range nbrs {
			delete(adj[a], v)
			for _, b := range nbrs {
				if a != b {
					adj[a][b] = struct{}{}
				}
			}
		}
		done[v] = true
		adj[v] = nil
		perm = append(perm, v)
	}
	return perm
}

// assemble refills the permuted KKT values from the problem data.
// The 𝐬 block diagonal is taken from sDiag and the 𝐳 block diagonal is zDiag (0 for Newton systems).
func (ks *kktSpec) assemble(kx []float64, d *Data, sDiag []float64, zDiag, reg float64) {
	if len(kx) != len(ks.ai) || len(sDiag) != ks.m {
		panic("bound check error")
	}
	clear(kx)
	for i := range ks.xDiag {
		kx[ks.xDiag[i]] = reg
	}
	for s, v := range d.P.Val {
		kx[ks.pSlot[s]] += v
	}
	for i, v := range sDiag {
		kx[ks.sDiag[i]] = v + reg
		kx[ks.szSlot[i]] = one
		kx[ks.zDiag[i]] = zDiag - reg
	}
	for s, v := range d.G.Val {
		kx[ks.gSlot[s]] = v
	}
	for s, v := range d.A.Val {
		kx[ks.aSlot[s]] = v
	}
	for _, k := range ks.yDiag {
		kx[k] = -reg
	}
}

// kktMul computes out = 𝐊·v with the unregularized Newton matrix.
// tmp must hold 𝚗 elements.
func (ks *kktSpec) kktMul(out, v []float64, op Operator, sinvz, tmp []float64) {
	n, m := ks.n, ks.m
	vx, vs, vz, vy := v[:n], v[n:n+m], v[n+m:n+2*m], v[n+2*m:]
	ox, os, oz, oy := out[:n], out[n:n+m], out[n+m:n+2*m], out[n+2*m:]

	op.MulP(ox, vx)
	op.MulGT(tmp, vz)
	for i, t := range tmp {
		ox[i] += t
	}
	op.MulAT(tmp, vy)
	for i, t := range tmp {
		ox[i] += t
	}

	for i := range os {
		os[i] = sinvz[i]*vs[i] + vz[i]
	}

	op.MulG(oz, vx)
	for i := range oz {
		oz[i] += vs[i]
	}

	op.MulA(oy, vx)
}
