// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdip

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLayoutTiling(t *testing.T) {
	var b LayoutBuilder
	x := b.Add("x", 3)
	e := b.Add("empty", 0)
	y := b.Add("y", 2)
	l := b.Build(5)

	require.Equal(t, 5, l.Len())
	require.Equal(t, 3, l.NumSegments())
	require.Equal(t, Segment{Name: "y", Offset: 3, Len: 2}, l.Segment(y))
	require.NoError(t, l.Validate())

	i, ok := l.Lookup("x")
	require.True(t, ok)
	require.Equal(t, x, i)
	_, ok = l.Lookup("z")
	require.False(t, ok)

	a := NewArena(l)
	require.Len(t, a.View(x), 3)
	require.Len(t, a.View(e), 0)
	require.Equal(t, 2, cap(a.View(y)))

	require.NoError(t, a.Set(y, []float64{7, 8}))
	require.NoError(t, a.SetByName("x", []float64{1, 2, 3}))
	require.Equal(t, []float64{1, 2, 3, 7, 8}, a.Raw())

	err := a.Set(x, []float64{1})
	require.True(t, errors.Is(err, ErrDimension))
	err = a.SetByName("nope", nil)
	require.True(t, errors.Is(err, ErrDimension))

	// appending to a capped view must not clobber its neighbour
	v := append(a.View(x), 99)
	require.Equal(t, 99.0, v[3])
	require.Equal(t, 7.0, a.Raw()[3])
}

func TestLayoutMismatch(t *testing.T) {
	require.Panics(t, func() {
		var b LayoutBuilder
		b.Add("x", 3)
		b.Add("y", 2)
		b.Build(6)
	})
	require.Panics(t, func() {
		var b LayoutBuilder
		b.Add("x", 3)
		b.Add("x", 2)
		b.Build(5)
	})
	require.Panics(t, func() {
		var b LayoutBuilder
		b.Add("x", 2)
		WrapArena(b.Build(2), make([]float64, 3))
	})
}

func TestWorkspaceLayout(t *testing.T) {
	qp := randomQP(newRand(7), 4, 3, 2)
	o, w := qp.setup(t, DefaultSettings(), nil)

	k := o.kkt.dim
	require.Equal(t, 4+2*3+2, k)
	nnz := o.hessian.NNZ() + o.eqCons.NNZ() + o.neqCons.NNZ()
	require.Equal(t, 5*k+4*4+5*3+3*2+nnz, o.layout.Len())
	require.Equal(t, o.layout.Len(), len(w.arena.Raw()))

	// every segment view is disjoint and in declaration order
	off := 0
	for i := 0; i < o.layout.NumSegments(); i++ {
		s := o.layout.Segment(Index(i))
		require.Equal(t, off, s.Offset, s.Name)
		off += s.Len
	}
}
