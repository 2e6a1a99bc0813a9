// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mpc

import "github.com/curioloop/mpcqp/pdip"

type target int

const (
	tgtP target = iota
	tgtA
	tgtG
	tgtQ
	tgtB
	tgtH
	tgtOffset
	numTargets
)

// unit stands for the constant 1 in place of a parameter element.
const unit = -1

// binding adds scale·p[a]·p[b]·p[c] to element dst of a problem data target.
type binding struct {
	dst     int32
	a, b, c int32
	scale   float64
}

func (bd *binding) eval(p []float64) float64 {
	v := bd.scale
	if bd.a != unit {
		v *= p[bd.a]
	}
	if bd.b != unit {
		v *= p[bd.b]
	}
	if bd.c != unit {
		v *= p[bd.c]
	}
	return v
}

func newBinding(dst int, scale float64, f []int) binding {
	if len(f) > 3 {
		panic("binding of more than three factors")
	}
	bd := binding{dst: int32(dst), a: unit, b: unit, c: unit, scale: scale}
	for i, v := range f {
		switch i {
		case 0:
			bd.a = int32(v)
		case 1:
			bd.b = int32(v)
		case 2:
			bd.c = int32(v)
		}
	}
	return bd
}

// sparseTable collects the structural entries of one matrix together with their bindings.
// A repeated entry reuses the first declaration.
type sparseTable struct {
	sym     bool
	index   map[pdip.Entry]int
	entries []pdip.Entry
	binds   []binding // dst is the declaration index until resolved
}

func newSparseTable(sym bool) sparseTable {
	return sparseTable{sym: sym, index: make(map[pdip.Entry]int)}
}

func (st *sparseTable) add(r, c int, scale float64, f ...int) {
	if st.sym && r > c {
		r, c = c, r
	}
	e := pdip.Entry{Row: r, Col: c}
	k, ok := st.index[e]
	if !ok {
		k = len(st.entries)
		st.index[e] = k
		st.entries = append(st.entries, e)
	}
	st.binds = append(st.binds, newBinding(k, scale, f))
}

// resolve maps declaration indices to storage slots of the compressed pattern.
func (st *sparseTable) resolve(p *pdip.Pattern) []binding {
	out := make([]binding, len(st.binds))
	for i, bd := range st.binds {
		bd.dst = int32(p.Slot(int(bd.dst)))
		out[i] = bd
	}
	return out
}

type vecTable struct {
	binds []binding
}

func (vt *vecTable) add(i int, scale float64, f ...int) {
	vt.binds = append(vt.binds, newBinding(i, scale, f))
}

// builder derives the structure and the bindings of a variant.
type builder struct {
	v      Variant
	layout *pdip.Layout
	pi     paramIndex

	hess, eq, neq sparseTable
	q, b, h, off  vecTable
}

func newBuilder(v Variant, layout *pdip.Layout, pi paramIndex) *builder {
	return &builder{
		v:      v,
		layout: layout,
		pi:     pi,
		hess:   newSparseTable(true),
		eq:     newSparseTable(false),
		neq:    newSparseTable(false),
	}
}

// at returns the flat position of element i of a parameter view.
func (b *builder) at(seg pdip.Index, i int) int {
	s := b.layout.Segment(seg)
	if i < 0 || i >= s.Len {
		panic("bound check error")
	}
	return s.Offset + i
}

func (b *builder) build() {
	for t := 0; t < b.v.Horizon; t++ {
		b.cost(t)
		b.dynamics(t)
		b.bounds(t)
	}
}

// variable offsets of step t: [uₜ | qₜ₊₁ | q̇ₜ₊₁ | εₜ₊₁]
func (b *builder) offsets(t int) (u, q, qd, eps int) {
	l := b.v.Links
	u = 4 * l * t
	return u, u + l, u + 2*l, u + 3*l
}

func (b *builder) cost(t int) {
	pi, l := &b.pi, b.v.Links
	wPos, wVel, wU := b.at(pi.wPos, 0), b.at(pi.wVel, 0), b.at(pi.wU, 0)
	wSmooth, wEps := b.at(pi.wSmooth, 0), b.at(pi.wEps, 0)
	u, q, qd, eps := b.offsets(t)

	for k := 0; k < l; k++ {
		ref, prev := b.at(pi.qRef, k), b.at(pi.uPrev, k)

		// w_pos (q - q_ref)²
		b.hess.add(q+k, q+k, 2, wPos)
		b.q.add(q+k, -2, wPos, ref)
		b.off.add(0, 1, wPos, ref, ref)

		// w_vel q̇²
		b.hess.add(qd+k, qd+k, 2, wVel)

		// w_u u²
		b.hess.add(u+k, u+k, 2, wU)

		// w_smooth (uₜ - uₜ₋₁)²
		b.hess.add(u+k, u+k, 2, wSmooth)
		if t == 0 {
			b.q.add(u+k, -2, wSmooth, prev)
			b.off.add(0, 1, wSmooth, prev, prev)
		} else {
			up := u - 4*l + k
			b.hess.add(up, up, 2, wSmooth)
			b.hess.add(up, u+k, -2, wSmooth)
		}

		// w_eps (ε + ε²)
		b.hess.add(eps+k, eps+k, 2, wEps)
		b.q.add(eps+k, 1, wEps)
	}
}

// dynamics emits xₜ₊₁ - 𝐀𝐝·xₜ - 𝐁𝐝·uₜ = 𝐁𝐝·τₑₓₜ + drift, with 𝐀𝐝·x₀ moved to the right hand side.
func (b *builder) dynamics(t int) {
	pi, l := &b.pi, b.v.Links
	n := 2 * l
	u, q, _, _ := b.offsets(t)
	prev := q - 4*l // state xₜ of the previous step block

	for i := 0; i < n; i++ {
		r := n*t + i
		b.eq.add(r, q+i, 1)
		for j := 0; j < n; j++ {
			ad := b.at(pi.ad, i*n+j)
			if t > 0 {
				b.eq.add(r, prev+j, -1, ad)
			} else if j < l {
				b.b.add(r, 1, ad, b.at(pi.q0, j))
			} else {
				b.b.add(r, 1, ad, b.at(pi.qd0, j-l))
			}
		}
		for k := 0; k < l; k++ {
			bd := b.at(pi.bd, i*l+k)
			b.eq.add(r, u+k, -1, bd)
			b.b.add(r, 1, bd, b.at(pi.tauExt, k))
		}
		b.b.add(r, 1, b.at(pi.drift, i))
	}
}

// bounds emits the seven inequality blocks of step t.
func (b *builder) bounds(t int) {
	pi, l := &b.pi, b.v.Links
	u, q, qd, eps := b.offsets(t)
	r := 7 * l * t

	for k := 0; k < l; k++ {
		uMax, qdMax := b.at(pi.uMax, k), b.at(pi.qdMax, k)

		// ±u ≤ u_max
		b.neq.add(r+k, u+k, 1)
		b.h.add(r+k, 1, uMax)
		b.neq.add(r+l+k, u+k, -1)
		b.h.add(r+l+k, 1, uMax)

		// q - ε ≤ q_max
		b.neq.add(r+2*l+k, q+k, 1)
		b.neq.add(r+2*l+k, eps+k, -1)
		b.h.add(r+2*l+k, 1, b.at(pi.qMax, k))

		// -q - ε ≤ -q_min
		b.neq.add(r+3*l+k, q+k, -1)
		b.neq.add(r+3*l+k, eps+k, -1)
		b.h.add(r+3*l+k, -1, b.at(pi.qMin, k))

		// ±q̇ ≤ q̇_max
		b.neq.add(r+4*l+k, qd+k, 1)
		b.h.add(r+4*l+k, 1, qdMax)
		b.neq.add(r+5*l+k, qd+k, -1)
		b.h.add(r+5*l+k, 1, qdMax)

		// -ε ≤ 0
		b.neq.add(r+6*l+k, eps+k, -1)
	}
}
