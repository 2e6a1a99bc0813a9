// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdip

import (
	"math"
	"math/rand/v2"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

func almostEqual[T float64 | []float64](a, b T, tol float64) bool {
	equalWithinAbs := func(a, b float64) bool {
		return a == b || math.Abs(a-b) <= tol
	}
	switch reflect.TypeFor[T]().Kind() {
	case reflect.Float64:
		return equalWithinAbs(any(a).(float64), any(b).(float64))
	case reflect.Slice:
		a, b := any(a).([]float64), any(b).([]float64)
		if len(a) != len(b) {
			return false
		}
		for i, a := range a {
			if !equalWithinAbs(a, b[i]) {
				return false
			}
		}
		return true
	default:
		panic("unknown type")
	}
}

// denseQP describes a test problem with dense matrices; zero entries are structural zeros.
type denseQP struct {
	P, A, G [][]float64
	q, b, h []float64
	offset  float64
}

func (qp *denseQP) entries() (hess, eq, neq []Entry, pv, av, gv []float64) {
	for i, row := range qp.P {
		for j := i; j < len(row); j++ {
			if row[j] != 0 {
				hess = append(hess, Entry{i, j})
				pv = append(pv, row[j])
			}
		}
	}
	for i, row := range qp.A {
		for j, v := range row {
			if v != 0 {
				eq = append(eq, Entry{i, j})
				av = append(av, v)
			}
		}
	}
	for i, row := range qp.G {
		for j, v := range row {
			if v != 0 {
				neq = append(neq, Entry{i, j})
				gv = append(gv, v)
			}
		}
	}
	return
}

// setup creates an optimizer and a workspace loaded with the problem values.
func (qp *denseQP) setup(t testing.TB, set Settings, logger *Logger) (*Optimizer, *Workspace) {
	t.Helper()
	hess, eq, neq, pv, av, gv := qp.entries()
	p := Problem{
		N:        len(qp.q),
		Mineq:    len(qp.h),
		Meq:      len(qp.b),
		Hessian:  hess,
		EqCons:   eq,
		NeqCons:  neq,
		Settings: set,
	}
	o, err := p.New(logger)
	require.NoError(t, err)
	w := o.Init()
	qp.load(w, pv, av, gv)
	return o, w
}

func (qp *denseQP) load(w *Workspace, pv, av, gv []float64) {
	for k, v := range pv {
		w.P.Val[w.P.Slot(k)] = v
	}
	for k, v := range av {
		w.A.Val[w.A.Slot(k)] = v
	}
	for k, v := range gv {
		w.G.Val[w.G.Slot(k)] = v
	}
	copy(w.Q, qp.q)
	copy(w.B, qp.b)
	copy(w.H, qp.h)
	w.Offset = qp.offset
}

// randomQP generates a well posed problem with a strictly convex objective,
// independent equality rows and a feasible interior.
func randomQP(rnd *rand.Rand, n, m, meq int) *denseQP {
	dense := func(r, c int) [][]float64 {
		a := make([][]float64, r)
		for i := range a {
			a[i] = make([]float64, c)
			for j := range a[i] {
				a[i][j] = rnd.Float64()*2 - 1
			}
		}
		return a
	}
	vec := func(k int) []float64 {
		v := make([]float64, k)
		for i := range v {
			v[i] = rnd.Float64()*2 - 1
		}
		return v
	}

	M := dense(n, n)
	P := make([][]float64, n)
	for i := range P {
		P[i] = make([]float64, n)
		for j := range P[i] {
			for k := 0; k < n; k++ {
				P[i][j] += M[k][i] * M[k][j]
			}
		}
		P[i][i] += 1
	}

	A := dense(meq, n)
	for i := range A {
		A[i][i] += 4 // diagonally dominant leading block
	}
	G := dense(m, n)

	// h and b chosen so that x0 is strictly feasible
	x0 := vec(n)
	b := make([]float64, meq)
	for i := range A {
		for j, v := range A[i] {
			b[i] += v * x0[j]
		}
	}
	h := make([]float64, m)
	for i := range G {
		for j, v := range G[i] {
			h[i] += v * x0[j]
		}
		h[i] += 0.5 + rnd.Float64()
	}
	return &denseQP{P: P, A: A, G: G, q: vec(n), b: b, h: h}
}
