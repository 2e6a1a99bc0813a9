// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mpc

import (
	"fmt"
	"math"

	"github.com/curioloop/mpcqp/pdip"
)

// Parameter view names.
const (
	ParamAd      = "Ad"       // 2L × 2L row major
	ParamBd      = "Bd"       // 2L × L row major
	ParamDrift   = "drift"    // 2L
	ParamQ0      = "q0"       // L
	ParamQd0     = "qd0"      // L
	ParamQRef    = "q_ref"    // L
	ParamTauExt  = "tau_ext"  // L
	ParamUPrev   = "u_prev"   // L
	ParamQMin    = "q_min"    // L
	ParamQMax    = "q_max"    // L
	ParamQdMax   = "qd_max"   // L
	ParamUMax    = "u_max"    // L
	ParamWPos    = "w_pos"    // 1
	ParamWVel    = "w_vel"    // 1
	ParamWU      = "w_u"      // 1
	ParamWSmooth = "w_smooth" // 1
	ParamWEps    = "w_eps"    // 1
)

type paramIndex struct {
	ad, bd, drift                 pdip.Index
	q0, qd0, qRef, tauExt, uPrev  pdip.Index
	qMin, qMax, qdMax, uMax       pdip.Index
	wPos, wVel, wU, wSmooth, wEps pdip.Index
}

func newParamLayout(l int) (*pdip.Layout, paramIndex) {
	var b pdip.LayoutBuilder
	n := 2 * l
	idx := paramIndex{
		ad:      b.Add(ParamAd, n*n),
		bd:      b.Add(ParamBd, n*l),
		drift:   b.Add(ParamDrift, n),
		q0:      b.Add(ParamQ0, l),
		qd0:     b.Add(ParamQd0, l),
		qRef:    b.Add(ParamQRef, l),
		tauExt:  b.Add(ParamTauExt, l),
		uPrev:   b.Add(ParamUPrev, l),
		qMin:    b.Add(ParamQMin, l),
		qMax:    b.Add(ParamQMax, l),
		qdMax:   b.Add(ParamQdMax, l),
		uMax:    b.Add(ParamUMax, l),
		wPos:    b.Add(ParamWPos, 1),
		wVel:    b.Add(ParamWVel, 1),
		wU:      b.Add(ParamWU, 1),
		wSmooth: b.Add(ParamWSmooth, 1),
		wEps:    b.Add(ParamWEps, 1),
	}
	return b.Build(n*n + n*l + n + 9*l + 5), idx
}

// Weights of the cost terms.
type Weights struct {
	Pos    float64 // position tracking
	Vel    float64 // velocity damping
	U      float64 // control effort
	Smooth float64 // control rate
	Eps    float64 // soft position bound violation
}

// DefaultWeights returns the weights used by the stock controllers.
func DefaultWeights() Weights {
	return Weights{
		Pos:    100,
		Vel:    1,
		U:      1e-2,
		Smooth: 1e-1,
		Eps:    1e3,
	}
}

// Limits bound every joint of the variant uniformly.
type Limits struct {
	QMin, QMax float64 // soft position bounds
	QdMax      float64 // velocity bound
	UMax       float64 // torque bound
}

// DefaultLimits returns the limits used by the stock controllers.
func DefaultLimits() Limits {
	return Limits{
		QMin:  -math.Pi,
		QMax:  math.Pi,
		QdMax: 10,
		UMax:  20,
	}
}

// Params is the parameter arena of one controller. Every view aliases one flat buffer;
// the controller reads them on each Solve.
type Params struct {
	arena *pdip.Arena
	idx   *paramIndex
	links int
}

func (p *Params) view(i pdip.Index) []float64 { return p.arena.View(i) }

func (p *Params) Ad() []float64     { return p.view(p.idx.ad) }
func (p *Params) Bd() []float64     { return p.view(p.idx.bd) }
func (p *Params) Drift() []float64  { return p.view(p.idx.drift) }
func (p *Params) Q0() []float64     { return p.view(p.idx.q0) }
func (p *Params) Qd0() []float64    { return p.view(p.idx.qd0) }
func (p *Params) QRef() []float64   { return p.view(p.idx.qRef) }
func (p *Params) TauExt() []float64 { return p.view(p.idx.tauExt) }
func (p *Params) UPrev() []float64  { return p.view(p.idx.uPrev) }
func (p *Params) QMin() []float64   { return p.view(p.idx.qMin) }
func (p *Params) QMax() []float64   { return p.view(p.idx.qMax) }
func (p *Params) QdMax() []float64  { return p.view(p.idx.qdMax) }
func (p *Params) UMax() []float64   { return p.view(p.idx.uMax) }

// Links returns the number of joints.
func (p *Params) Links() int { return p.links }

// Set copies v into the named view.
func (p *Params) Set(name string, v []float64) error {
	return p.arena.SetByName(name, v)
}

// SetState sets the measured joint position and velocity.
func (p *Params) SetState(q, qd []float64) error {
	if err := p.arena.Set(p.idx.q0, q); err != nil {
		return err
	}
	return p.arena.Set(p.idx.qd0, qd)
}

// SetWeights writes the scalar cost weights.
func (p *Params) SetWeights(w Weights) {
	p.view(p.idx.wPos)[0] = w.Pos
	p.view(p.idx.wVel)[0] = w.Vel
	p.view(p.idx.wU)[0] = w.U
	p.view(p.idx.wSmooth)[0] = w.Smooth
	p.view(p.idx.wEps)[0] = w.Eps
}

// Weights reads the scalar cost weights.
func (p *Params) Weights() Weights {
	return Weights{
		Pos:    p.view(p.idx.wPos)[0],
		Vel:    p.view(p.idx.wVel)[0],
		U:      p.view(p.idx.wU)[0],
		Smooth: p.view(p.idx.wSmooth)[0],
		Eps:    p.view(p.idx.wEps)[0],
	}
}

// SetLimits writes the same bounds for every joint.
func (p *Params) SetLimits(l Limits) {
	qMin, qMax, qdMax, uMax := p.QMin(), p.QMax(), p.QdMax(), p.UMax()
	for k := 0; k < p.links; k++ {
		qMin[k], qMax[k] = l.QMin, l.QMax
		qdMax[k], uMax[k] = l.QdMax, l.UMax
	}
}

// validate rejects parameters the QP cannot represent.
func (p *Params) validate() error {
	lay := p.arena.Layout()
	for i := 0; i < lay.NumSegments(); i++ {
		for k, v := range p.view(pdip.Index(i)) {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: %s[%d] = %v", pdip.ErrBadParameter, lay.Segment(pdip.Index(i)).Name, k, v)
			}
		}
	}

	qMin, qMax, qdMax, uMax := p.QMin(), p.QMax(), p.QdMax(), p.UMax()
	for k := 0; k < p.links; k++ {
		switch {
		case qMin[k] > qMax[k]:
			return fmt.Errorf("%w: %s[%d] > %s[%d]", pdip.ErrBadParameter, ParamQMin, k, ParamQMax, k)
		case qdMax[k] < 0:
			return fmt.Errorf("%w: %s[%d] < 0", pdip.ErrBadParameter, ParamQdMax, k)
		case uMax[k] < 0:
			return fmt.Errorf("%w: %s[%d] < 0", pdip.ErrBadParameter, ParamUMax, k)
		}
	}

	for _, i := range [...]pdip.Index{p.idx.wPos, p.idx.wVel, p.idx.wU, p.idx.wSmooth, p.idx.wEps} {
		if p.view(i)[0] < 0 {
			return fmt.Errorf("%w: %s < 0", pdip.ErrBadParameter, lay.Segment(i).Name)
		}
	}
	return nil
}
