// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mpc

import (
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/curioloop/mpcqp/pdip"
	"github.com/curioloop/mpcqp/plant"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

const dt = 0.01

// doubleIntegrator writes x⁺ = [[1, dt], [0, 1]]x + [dt²/2, dt]u for every joint.
func doubleIntegrator(p *Params) {
	l := p.Links()
	n := 2 * l
	ad, bd := p.Ad(), p.Bd()
	clear(ad)
	clear(bd)
	for k := 0; k < l; k++ {
		ad[k*n+k] = 1
		ad[k*n+l+k] = dt
		ad[(l+k)*n+l+k] = 1
		bd[k*l+k] = dt * dt / 2
		bd[(l+k)*l+k] = dt
	}
	clear(p.Drift())
	clear(p.TauExt())
}

func newController(t *testing.T, v Variant) *Controller {
	t.Helper()
	s, err := v.New(pdip.DefaultSettings(), nil)
	require.NoError(t, err)
	return s.NewController()
}

func TestStructure(t *testing.T) {
	v := ThreeLink(DefaultHorizon)
	s, err := v.New(pdip.DefaultSettings(), nil)
	require.NoError(t, err)
	o := s.Optimizer()
	require.Equal(t, 120, o.Hessian().Rows())
	require.Equal(t, 60, o.EqCons().Rows())
	require.Equal(t, 210, o.NeqCons().Rows())

	c := s.NewController()
	vars := c.Vars()
	require.Equal(t, v.NumVars(), vars.Layout().Len())
	require.Len(t, vars.U(0), 3)
	require.Equal(t, 3, vars.Layout().Segment(1).Offset)
	i, ok := vars.Layout().Lookup("eps_10")
	require.True(t, ok)
	require.Equal(t, v.NumVars()-3, vars.Layout().Segment(i).Offset)
	require.Panics(t, func() { vars.Q(0) })
	require.Panics(t, func() { vars.U(DefaultHorizon) })

	// Q(t) and the flat buffer alias each other
	vars.Q(2)[1] = 42
	require.Equal(t, 42.0, c.Workspace().X()[4*3+3+1])

	_, err = Variant{Links: 0, Horizon: 3}.New(pdip.DefaultSettings(), nil)
	require.True(t, errors.Is(err, ErrVariant))
}

func randomize(rnd *rand.Rand, p *Params) {
	for _, v := range [][]float64{p.Ad(), p.Bd(), p.Drift(), p.Q0(), p.Qd0(), p.QRef(), p.TauExt(), p.UPrev()} {
		for i := range v {
			v[i] = rnd.Float64()*2 - 1
		}
	}
	for k := range p.QMin() {
		p.QMin()[k] = -1 - rnd.Float64()
		p.QMax()[k] = 1 + rnd.Float64()
		p.QdMax()[k] = 1 + rnd.Float64()
		p.UMax()[k] = 1 + rnd.Float64()
	}
	p.SetWeights(Weights{
		Pos:    1 + rnd.Float64(),
		Vel:    rnd.Float64(),
		U:      rnd.Float64(),
		Smooth: rnd.Float64(),
		Eps:    1 + rnd.Float64(),
	})
}

// TestCompile checks the compiled QP against the cost, dynamics and bounds evaluated directly.
func TestCompile(t *testing.T) {
	const l, T = 2, 3
	c := newController(t, Variant{Links: l, Horizon: T})
	rnd := rand.New(rand.NewPCG(1, 2))
	p := c.Params()
	randomize(rnd, p)
	c.compile()
	w := c.Workspace()

	n := 4 * l * T
	x := make([]float64, n)
	for i := range x {
		x[i] = rnd.Float64()*2 - 1
	}
	u := func(s, k int) float64 { return x[4*l*s+k] }
	st := func(s, j int) float64 { // xₛ[j]
		if s == 0 {
			if j < l {
				return p.Q0()[j]
			}
			return p.Qd0()[j-l]
		}
		return x[4*l*(s-1)+l+j]
	}
	eps := func(s, k int) float64 { return x[4*l*(s-1)+3*l+k] }

	// objective
	wt := p.Weights()
	var want float64
	for s := 0; s < T; s++ {
		for k := 0; k < l; k++ {
			dq := st(s+1, k) - p.QRef()[k]
			up := p.UPrev()[k]
			if s > 0 {
				up = u(s-1, k)
			}
			du := u(s, k) - up
			e := eps(s+1, k)
			want += wt.Pos*dq*dq + wt.Vel*st(s+1, l+k)*st(s+1, l+k) + wt.U*u(s, k)*u(s, k) +
				wt.Smooth*du*du + wt.Eps*(e+e*e)
		}
	}
	px := make([]float64, n)
	w.MulP(px, x)
	got := 0.5*floats.Dot(x, px) + floats.Dot(w.Q, x) + w.Offset
	require.InDelta(t, want, got, 1e-10)

	// dynamics residual 𝐀x - 𝐛
	ax := make([]float64, 2*l*T)
	w.MulA(ax, x)
	floats.Sub(ax, w.B)
	ad, bd := p.Ad(), p.Bd()
	for s := 0; s < T; s++ {
		for i := 0; i < 2*l; i++ {
			r := st(s+1, i) - p.Drift()[i]
			for j := 0; j < 2*l; j++ {
				r -= ad[i*2*l+j] * st(s, j)
			}
			for k := 0; k < l; k++ {
				r -= bd[i*l+k] * (u(s, k) + p.TauExt()[k])
			}
			require.InDelta(t, r, ax[2*l*s+i], 1e-12)
		}
	}

	// inequalities 𝐆x - 𝐡
	gx := make([]float64, 7*l*T)
	w.MulG(gx, x)
	floats.Sub(gx, w.H)
	for s := 0; s < T; s++ {
		for k := 0; k < l; k++ {
			q, qd, e := st(s+1, k), st(s+1, l+k), eps(s+1, k)
			r := 7 * l * s
			want := []float64{
				u(s, k) - p.UMax()[k],
				-u(s, k) - p.UMax()[k],
				q - e - p.QMax()[k],
				-q - e + p.QMin()[k],
				qd - p.QdMax()[k],
				-qd - p.QdMax()[k],
				-e,
			}
			for b, v := range want {
				require.InDelta(t, v, gx[r+b*l+k], 1e-12)
			}
		}
	}
}

func TestHoldPosition(t *testing.T) {
	for _, v := range []Variant{OneLink(DefaultHorizon), ThreeLink(DefaultHorizon)} {
		c := newController(t, v)
		p := c.Params()
		doubleIntegrator(p)
		for k := range p.Q0() {
			p.Q0()[k] = 0.3
			p.QRef()[k] = 0.3
		}

		r, err := c.Solve()
		require.NoError(t, err, "%v", v)
		require.Equal(t, pdip.Converged, r.Status)
		require.LessOrEqual(t, r.NumIter, 15)
		require.InDelta(t, 0, r.Objective, 1e-3)
		for _, u := range c.FirstControl() {
			require.InDelta(t, 0, u, 1e-3)
		}
	}
}

func TestReachTarget(t *testing.T) {
	c := newController(t, OneLink(DefaultHorizon))
	p := c.Params()
	doubleIntegrator(p)
	p.QRef()[0] = 0.5

	r, err := c.Solve()
	require.NoError(t, err)
	require.True(t, r.OK())
	u0 := c.FirstControl()
	require.Len(t, u0, 1)
	require.Greater(t, u0[0], 0.0)
	require.LessOrEqual(t, u0[0], p.UMax()[0]+1e-6)

	// predicted positions move toward the reference
	vars := c.Vars()
	require.Greater(t, vars.Q(DefaultHorizon)[0], vars.Q(1)[0])
}

func TestPlantModel(t *testing.T) {
	ch, err := plant.ThreeLinkConfig().New()
	require.NoError(t, err)
	c := newController(t, ThreeLink(DefaultHorizon))
	p := c.Params()

	q, qd := []float64{0.2, -0.1, 0.4}, []float64{0, 0.1, 0}
	x := append(append([]float64(nil), q...), qd...)
	require.NoError(t, p.SetState(q, qd))
	copy(p.QRef(), []float64{0.5, 0.2, 0.1})
	require.NoError(t, ch.Linearize(p.Ad(), p.Bd(), p.Drift(), x, p.UPrev(), p.TauExt()))

	r, err := c.Solve()
	require.NoError(t, err)
	require.True(t, r.OK())
	for _, u := range c.FirstControl() {
		require.False(t, math.IsNaN(u))
		require.LessOrEqual(t, math.Abs(u), DefaultLimits().UMax+1e-6)
	}
}

func TestBadParams(t *testing.T) {
	c := newController(t, OneLink(DefaultHorizon))
	p := c.Params()
	doubleIntegrator(p)

	p.QMin()[0], p.QMax()[0] = 1, -1
	r, err := c.Solve()
	require.True(t, errors.Is(err, pdip.ErrBadParameter))
	require.Contains(t, err.Error(), ParamQMin)
	require.Equal(t, pdip.BadParameter, r.Status)
	require.Nil(t, c.FirstControl())

	p.SetLimits(DefaultLimits())
	p.Ad()[1] = math.NaN()
	_, err = c.Solve()
	require.True(t, errors.Is(err, pdip.ErrBadParameter))
	require.Contains(t, err.Error(), "Ad[1]")

	doubleIntegrator(p)
	wt := DefaultWeights()
	wt.Smooth = -1
	p.SetWeights(wt)
	_, err = c.Solve()
	require.True(t, errors.Is(err, pdip.ErrBadParameter))

	p.SetWeights(DefaultWeights())
	p.UMax()[0] = -2
	_, err = c.Solve()
	require.True(t, errors.Is(err, pdip.ErrBadParameter))

	require.True(t, errors.Is(p.Set(ParamQRef, []float64{1, 2}), pdip.ErrDimension))
	require.True(t, errors.Is(p.SetState([]float64{1}, nil), pdip.ErrDimension))

	p.SetLimits(DefaultLimits())
	_, err = c.Solve()
	require.NoError(t, err)
}

func TestVelocityInfeasible(t *testing.T) {
	// no torque authority and an initial velocity above the bound
	c := newController(t, OneLink(DefaultHorizon))
	p := c.Params()
	doubleIntegrator(p)
	p.SetLimits(Limits{QMin: -10, QMax: 10, QdMax: 1, UMax: 0})
	p.Qd0()[0] = 5

	r, err := c.Solve()
	require.Error(t, err)
	require.NotEqual(t, pdip.Converged, r.Status)
}

func TestControllerNoAlloc(t *testing.T) {
	c := newController(t, ThreeLink(DefaultHorizon))
	p := c.Params()
	doubleIntegrator(p)
	copy(p.QRef(), []float64{0.1, 0.2, 0.3})
	_, err := c.Solve()
	require.NoError(t, err)
	allocs := testing.AllocsPerRun(10, func() {
		_, _ = c.Solve()
	})
	require.Zero(t, allocs)
}

func TestConcurrentControllers(t *testing.T) {
	s, err := OneLink(DefaultHorizon).New(pdip.DefaultSettings(), nil)
	require.NoError(t, err)

	run := func(c *Controller) []float64 {
		p := c.Params()
		doubleIntegrator(p)
		p.QRef()[0] = 0.4
		_, _ = c.Solve()
		return append([]float64(nil), c.Workspace().X()...)
	}
	want := run(s.NewController())

	const workers = 4
	got := make([][]float64, workers)
	var wg sync.WaitGroup
	for k := 0; k < workers; k++ {
		c := s.NewController()
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			got[k] = run(c)
		}(k)
	}
	wg.Wait()
	for _, g := range got {
		require.Equal(t, want, g)
	}
}
