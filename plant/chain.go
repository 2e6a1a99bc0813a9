// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package plant simulates a serial chain of revolute joints in joint space
//
//	𝐌q̈ = τ + τₑₓₜ - 𝐃q̇ - 𝐤∘sin(q)
//
// with constant inertia and provides the discrete linearization consumed by the controllers.
package plant

import (
	"errors"
	"fmt"
	"math"

	"github.com/curioloop/mpcqp/numdiff"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInertia is returned when the inertia matrix is not symmetric positive definite.
	ErrInertia = errors.New("plant: inertia not symmetric positive definite")
	// ErrConfig is returned when the chain description is malformed.
	ErrConfig = errors.New("plant: invalid configuration")
)

// Config describes a chain of Links joints.
type Config struct {
	Links   int
	Inertia []float64 // Links × Links row major
	Damping []float64 // viscous friction per joint
	Gravity []float64 // gravity load amplitude per joint
	Dt      float64   // integration step
}

// OneLinkConfig returns a single pendulum joint.
func OneLinkConfig() Config {
	return Config{
		Links:   1,
		Inertia: []float64{0.1},
		Damping: []float64{0.05},
		Gravity: []float64{2.94},
		Dt:      0.01,
	}
}

// ThreeLinkConfig returns a three joint arm with coupled inertia.
func ThreeLinkConfig() Config {
	return Config{
		Links: 3,
		Inertia: []float64{
			0.30, 0.10, 0.02,
			0.10, 0.15, 0.03,
			0.02, 0.03, 0.06,
		},
		Damping: []float64{0.10, 0.08, 0.05},
		Gravity: []float64{4.90, 2.45, 0.98},
		Dt:      0.01,
	}
}

// Chain integrates the joint dynamics. The state is x = [q; q̇] of length 2·Links.
// A Chain keeps scratch buffers and is not safe for concurrent use.
type Chain struct {
	links   int
	dt      float64
	damping []float64
	gravity []float64
	minv    *mat.SymDense

	force, acc     []float64
	forceV, accV   *mat.VecDense
	k1, k2, k3, k4 []float64
	xt             []float64

	// linearization about (x̄, w̄) with w = τ + τₑₓₜ
	jac  numdiff.Jacobian
	z    []float64 // [x̄; w̄]
	dfdz []float64 // 2L × 3L
}

// New validates the configuration and inverts the inertia once.
func (c Config) New() (*Chain, error) {
	l := c.Links
	switch {
	case l <= 0:
		return nil, fmt.Errorf("%w: links must greater than 0", ErrConfig)
	case len(c.Inertia) != l*l || len(c.Damping) != l || len(c.Gravity) != l:
		return nil, fmt.Errorf("%w: dimension mismatch", ErrConfig)
	case !(c.Dt > 0) || math.IsInf(c.Dt, 0):
		return nil, fmt.Errorf("%w: time step must be a positive finite number", ErrConfig)
	}

	for i := 0; i < l; i++ {
		for j := 0; j < i; j++ {
			if c.Inertia[i*l+j] != c.Inertia[j*l+i] {
				return nil, ErrInertia
			}
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(mat.NewSymDense(l, append([]float64(nil), c.Inertia...))); !ok {
		return nil, ErrInertia
	}
	minv := mat.NewSymDense(l, nil)
	if err := chol.InverseTo(minv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInertia, err)
	}

	n := 2 * l
	ch := &Chain{
		links:   l,
		dt:      c.Dt,
		damping: append([]float64(nil), c.Damping...),
		gravity: append([]float64(nil), c.Gravity...),
		minv:    minv,
		force:   make([]float64, l),
		acc:     make([]float64, l),
		k1:      make([]float64, n),
		k2:      make([]float64, n),
		k3:      make([]float64, n),
		k4:      make([]float64, n),
		xt:      make([]float64, n),
		z:       make([]float64, n+l),
		dfdz:    make([]float64, n*(n+l)),
	}
	ch.forceV = mat.NewVecDense(l, ch.force)
	ch.accV = mat.NewVecDense(l, ch.acc)

	ch.jac = numdiff.Jacobian{
		N:      n + l,
		M:      n,
		Method: numdiff.Central,
		Object: func(z, y []float64) {
			copy(y, z[:n])
			ch.step(y, z[n:])
		},
	}
	if err := ch.jac.Check(); err != nil {
		return nil, err
	}
	return ch, nil
}

// Links returns the number of joints.
func (ch *Chain) Links() int { return ch.links }

// Dt returns the integration step.
func (ch *Chain) Dt() float64 { return ch.dt }

// Deriv computes ẋ = f(x, w) where w is the total applied joint torque.
func (ch *Chain) Deriv(dx, x, w []float64) {
	l := ch.links
	if len(x) != 2*l || len(dx) != 2*l || len(w) != l {
		panic("bound check error")
	}
	q, qd := x[:l], x[l:]
	for i := range ch.force {
		ch.force[i] = w[i] - ch.damping[i]*qd[i] - ch.gravity[i]*math.Sin(q[i])
	}
	ch.accV.MulVec(ch.minv, ch.forceV)
	copy(dx[:l], qd)
	copy(dx[l:], ch.acc)
}

// Step advances x in place by one RK4 step under control torque u and external torque tauExt.
func (ch *Chain) Step(x, u, tauExt []float64) {
	w := ch.z[2*ch.links:]
	floats.AddTo(w, u, tauExt)
	ch.step(x, w)
}

func (ch *Chain) step(x, w []float64) {
	h := ch.dt
	k1, k2, k3, k4, xt := ch.k1, ch.k2, ch.k3, ch.k4, ch.xt

	ch.Deriv(k1, x, w)
	floats.AddScaledTo(xt, x, h/2, k1)
	ch.Deriv(k2, xt, w)
	floats.AddScaledTo(xt, x, h/2, k2)
	ch.Deriv(k3, xt, w)
	floats.AddScaledTo(xt, x, h, k3)
	ch.Deriv(k4, xt, w)

	for i := range x {
		x[i] += h / 6 * (k1[i] + 2*k2[i] + 2*k3[i] + k4[i])
	}
}

// Linearize fills the discrete model x⁺ ≈ 𝐀𝐝·x + 𝐁𝐝·(u + τₑₓₜ) + drift about (x̄, ū, τ̄ₑₓₜ).
// ad is 2L × 2L and bd is 2L × L, both row major.
func (ch *Chain) Linearize(ad, bd, drift, x, u, tauExt []float64) error {
	l := ch.links
	n := 2 * l
	switch {
	case len(x) != n || len(u) != l || len(tauExt) != l:
		return fmt.Errorf("%w: operating point dimension", ErrConfig)
	case len(ad) != n*n || len(bd) != n*l || len(drift) != n:
		return fmt.Errorf("%w: model dimension", ErrConfig)
	}

	z := ch.z
	copy(z, x)
	floats.AddTo(z[n:], u, tauExt)
	if err := ch.jac.Eval(z, ch.dfdz); err != nil {
		return err
	}

	cols := n + l
	for i := 0; i < n; i++ {
		row := ch.dfdz[i*cols : (i+1)*cols]
		copy(ad[i*n:(i+1)*n], row[:n])
		copy(bd[i*l:(i+1)*l], row[n:])
	}

	// drift = F(x̄, w̄) - 𝐀𝐝·x̄ - 𝐁𝐝·w̄
	copy(drift, x)
	ch.step(drift, z[n:])
	for i := 0; i < n; i++ {
		drift[i] -= floats.Dot(ad[i*n:(i+1)*n], z[:n]) + floats.Dot(bd[i*l:(i+1)*l], z[n:])
	}
	return nil
}
