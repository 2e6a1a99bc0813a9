// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdip

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"
)

// Initializer selects how the first iterate is produced.
type Initializer int

const (
	// TrivialStart sets 𝐱 = 0, 𝐲 = 0, 𝐬 = SInit and 𝐳 = ZInit.
	TrivialStart Initializer = iota
	// BetterStart solves one auxiliary KKT system and shifts 𝐬, 𝐳 into the interior.
	BetterStart
)

// Settings specifies the solve configuration.
type Settings struct {
	// Linear feasibility threshold: ‖𝐀𝐱 - 𝐛‖² ≤ 𝚛𝚎𝚜𝚒𝚍_𝚝𝚘𝚕² and ‖𝐆𝐱 + 𝐬 - 𝐡‖² ≤ 𝚛𝚎𝚜𝚒𝚍_𝚝𝚘𝚕².
	ResidTol float64
	// Optimality threshold on the duality gap 𝐬ᵀ𝐳.
	GapTol float64
	// Hard cap on the number of iterations.
	MaxIterations int
	// Number of iterative refinement passes per linear solve.
	RefineSteps int
	// Initial iterate heuristic.
	Initializer Initializer
	// Diagonal regularization δ added to the KKT matrix before factorization.
	KKTReg float64
	// Slack and dual values of the trivial start (default 1).
	SInit, ZInit float64
	// Print one line per iteration.
	Verbose bool
	// Print iterative refinement residuals.
	VerboseRefinement bool
}

// DefaultSettings returns the settings used by the controllers.
func DefaultSettings() Settings {
	return Settings{
		ResidTol:      1e-6,
		GapTol:        1e-4,
		MaxIterations: 25,
		RefineSteps:   1,
		Initializer:   BetterStart,
		KKTReg:        1e-7,
		SInit:         one,
		ZInit:         one,
	}
}

// Problem specifies the fixed structure of the QP
//
//	minimize ½𝐱ᵀ𝐏𝐱 + 𝐪ᵀ𝐱 + 𝚌₀ subject to 𝐆𝐱 ≤ 𝐡, 𝐀𝐱 = 𝐛
//
// The numeric values are written into Workspace.Data before each solve.
type Problem struct {
	N        int     // The number of variables
	Mineq    int     // The number of inequality constraints
	Meq      int     // The number of equality constraints
	Hessian  []Entry // Upper triangular pattern of 𝐏 (N × N)
	EqCons   []Entry // Pattern of 𝐀 (Meq × N)
	NeqCons  []Entry // Pattern of 𝐆 (Mineq × N)
	Settings Settings
}

// New creates a new interior-point optimizer for given problem structure.
func (p *Problem) New(logger *Logger) (optimizer *Optimizer, err error) {

	if logger == nil {
		logger = new(Logger)
		logger.Level = LogNoop
	}
	log := *logger
	if log.Msg == nil {
		log.Msg = os.Stdout
	}

	n, m, meq, set := p.N, p.Mineq, p.Meq, p.Settings

	if set.SInit == zero {
		set.SInit = one
	}
	if set.ZInit == zero {
		set.ZInit = one
	}
	if set.Verbose && log.Level < LogIter {
		log.Level = LogIter
	}
	if set.VerboseRefinement && log.Level < LogRefine {
		log.Level = LogRefine
	}

	switch {
	case n <= 0:
		err = errors.New("problem dimension must greater than 0")
	case m < 0 || meq < 0:
		err = errors.New("constraint number must not less than 0")
	case meq > n:
		err = errors.New("equality constrains number must not greater than n")
	case set.MaxIterations <= 0:
		err = errors.New("max iteration must greater than 0")
	case set.RefineSteps < 0:
		err = errors.New("refine steps must not less than 0")
	case !(set.ResidTol > zero):
		err = errors.New("residual tolerance must greater than 0")
	case !(set.GapTol > zero):
		err = errors.New("duality gap tolerance must greater than 0")
	case !(set.KKTReg > zero) || math.IsInf(set.KKTReg, 0):
		err = errors.New("kkt regularization must be a positive finite number")
	case !(set.SInit > zero) || !(set.ZInit > zero):
		err = errors.New("initial slack and dual must greater than 0")
	case set.Initializer != TrivialStart && set.Initializer != BetterStart:
		err = errors.New("unknown initializer")
	}
	if err != nil {
		return
	}

	var hess, eq, neq *Pattern
	if hess, err = NewPattern(n, n, p.Hessian, true); err != nil {
		return nil, fmt.Errorf("hessian: %w", err)
	}
	if eq, err = NewPattern(meq, n, p.EqCons, false); err != nil {
		return nil, fmt.Errorf("equality constraints: %w", err)
	}
	if neq, err = NewPattern(m, n, p.NeqCons, false); err != nil {
		return nil, fmt.Errorf("inequality constraints: %w", err)
	}

	kkt := newKKTSpec(n, m, meq, hess, neq, eq)
	dim := kkt.dim

	var lb LayoutBuilder
	lay := wsLayout{
		x: lb.Add("x", n), s: lb.Add("s", m), z: lb.Add("z", m), y: lb.Add("y", meq),
		sinvz: lb.Add("sinvz", m),
		pv:    lb.Add("P", hess.NNZ()), av: lb.Add("A", eq.NNZ()), gv: lb.Add("G", neq.NNZ()),
		q: lb.Add("q", n), b: lb.Add("b", meq), h: lb.Add("h", m),
		rx: lb.Add("rx", n), rz: lb.Add("rz", m), ry: lb.Add("ry", meq),
		rhs: lb.Add("rhs", dim), aff: lb.Add("aff", dim), cc: lb.Add("cc", dim),
		res: lb.Add("res", dim), corr: lb.Add("corr", dim),
		tmp: lb.Add("tmp", n),
	}
	total := 4*n + 5*m + 3*meq + 5*dim + hess.NNZ() + eq.NNZ() + neq.NNZ()
	lay.Layout = lb.Build(total)

	optimizer = &Optimizer{
		ipSpec{
			n: n, m: m, meq: meq,
			settings: set,
			logger:   log,
			hessian:  hess,
			eqCons:   eq,
			neqCons:  neq,
			kkt:      kkt,
			layout:   lay,
		},
	}
	return
}

type wsLayout struct {
	*Layout
	x, s, z, y, sinvz Index
	pv, av, gv        Index
	q, b, h           Index
	rx, rz, ry        Index
	rhs, aff, cc      Index
	res, corr, tmp    Index
}

type ipSpec struct {
	n, m, meq int
	settings  Settings
	logger    Logger

	hessian, eqCons, neqCons *Pattern
	kkt                      *kktSpec
	layout                   wsLayout
}

// Optimizer implemented using the Mehrotra predictor-corrector primal-dual interior-point method.
// An Optimizer is immutable after New and may be shared by many workspaces.
type Optimizer struct {
	ipSpec
}

// Settings returns the normalized settings.
func (o *Optimizer) Settings() Settings { return o.settings }

// Hessian returns the compressed pattern of 𝐏.
func (o *Optimizer) Hessian() *Pattern { return o.hessian }

// EqCons returns the compressed pattern of 𝐀.
func (o *Optimizer) EqCons() *Pattern { return o.eqCons }

// NeqCons returns the compressed pattern of 𝐆.
func (o *Optimizer) NeqCons() *Pattern { return o.neqCons }

// Data holds the numeric values of one problem instance.
// Matrix values are indexed by storage slot, see Pattern.Slot.
type Data struct {
	P, A, G Matrix
	Q, B, H []float64
	Offset  float64
}

// MulA computes y = 𝐀·x.
func (d *Data) MulA(y, x []float64) { d.A.Mul(y, x) }

// MulAT computes y = 𝐀ᵀ·x.
func (d *Data) MulAT(y, x []float64) { d.A.MulT(y, x) }

// MulG computes y = 𝐆·x.
func (d *Data) MulG(y, x []float64) { d.G.Mul(y, x) }

// MulGT computes y = 𝐆ᵀ·x.
func (d *Data) MulGT(y, x []float64) { d.G.MulT(y, x) }

// MulP computes y = 𝐏·x.
func (d *Data) MulP(y, x []float64) { d.P.Mul(y, x) }

// Workspace contains the problem data and the state of one solve.
// Given KKT dimension k = n + 2m + meq, the flat work space is float64[5k + 4n + 5m + 3meq + nnz].
type Workspace struct {
	n, m, meq int
	Data
	ipCtx
}

type ipCtx struct {
	arena *Arena
	op    Operator
	ldl   *ldlFactor

	x, s, z, y []float64
	sinvz      []float64
	// residuals: 𝐫ₓ = 𝐏𝐱 + 𝐪 + 𝐆ᵀ𝐳 + 𝐀ᵀ𝐲, 𝐫𝐳 = 𝐆𝐱 + 𝐬 - 𝐡, 𝐫𝐲 = 𝐀𝐱 - 𝐛
	rx, rz, ry []float64
	// right hand side, affine, corrector (then combined) directions
	rhs, aff, cc []float64
	// refinement residual and correction
	res, corr []float64
	tmp       []float64

	iter        int
	step        float64
	gap         float64
	optval      float64
	eqResidSq   float64
	ineqResidSq float64
	dynReg      int
	status      Status
}

// Init allocate the workspace for the optimizer.
// To avoid race conditions, separate workspaces need to be created for each goroutine.
// But multiple workspaces could share one optimizer.
func (o *Optimizer) Init() *Workspace {
	w := new(Workspace)
	w.n, w.m, w.meq = o.n, o.m, o.meq

	lay := o.layout
	a := NewArena(lay.Layout)
	w.Data = Data{
		P: Matrix{Pattern: o.hessian, Val: a.View(lay.pv)},
		A: Matrix{Pattern: o.eqCons, Val: a.View(lay.av)},
		G: Matrix{Pattern: o.neqCons, Val: a.View(lay.gv)},
		Q: a.View(lay.q), B: a.View(lay.b), H: a.View(lay.h),
	}
	w.ipCtx = ipCtx{
		arena: a,
		ldl:   newLDLFactor(o.kkt),
		x:     a.View(lay.x), s: a.View(lay.s), z: a.View(lay.z), y: a.View(lay.y),
		sinvz: a.View(lay.sinvz),
		rx:    a.View(lay.rx), rz: a.View(lay.rz), ry: a.View(lay.ry),
		rhs:   a.View(lay.rhs), aff: a.View(lay.aff), cc: a.View(lay.cc),
		res:   a.View(lay.res), corr: a.View(lay.corr),
		tmp:   a.View(lay.tmp),
	}
	w.op = &w.Data
	return w
}

// X returns the primal solution buffer. Its content is meaningful only when the last
// solve status HasSolution.
func (w *Workspace) X() []float64 { return w.x }

// Status returns the status of the last solve.
func (w *Workspace) Status() Status { return w.status }

// Result contains the final result of one solve.
// The solution views alias the workspace and are overwritten by the next solve.
type Result struct {
	Status      Status        // Terminal state.
	NumIter     int           // Number of iterations performed.
	Objective   float64       // ½𝐱ᵀ𝐏𝐱 + 𝐪ᵀ𝐱 + 𝚌₀ at the returned iterate.
	Gap         float64       // Duality gap 𝐬ᵀ𝐳.
	EqResidSq   float64       // ‖𝐀𝐱 - 𝐛‖²
	IneqResidSq float64       // ‖𝐆𝐱 + 𝐬 - 𝐡‖²
	DynReg      int           // Pivots replaced by dynamic regularization in the last factorization.
	Elapsed     time.Duration // Wall time of the solve (diagnostic only).
	X, S, Z, Y  []float64     // Iterate, nil unless Status.HasSolution().
}

// OK reports whether the solve converged.
func (r *Result) OK() bool { return r.Status == Converged }

// Solve runs the interior-point iteration on the data held by w.
//
// The returned error is nil only when the iterate converged. When the iteration cap is hit
// the best-effort iterate is still returned together with ErrMaxIterations; callers that
// apply it anyway do so knowingly. A factorization breakdown returns ErrFactorization and
// no solution, malformed data returns ErrBadParameter before any iteration.
func (o *Optimizer) Solve(w *Workspace) (Result, error) {

	if w.n != o.n || w.m != o.m || w.meq != o.meq {
		panic("workspace dimension not match optimizer")
	}

	start := time.Now()
	w.iter, w.step, w.dynReg = 0, zero, 0
	w.gap, w.optval, w.eqResidSq, w.ineqResidSq = zero, zero, zero, zero

	if err := w.Data.validate(); err != nil {
		w.status = BadParameter
		return Result{Status: BadParameter}, err
	}

	driver := ipDriver{
		optimizer: o,
		workspace: w,
	}
	w.status = driver.mainLoop()

	res := Result{
		Status:      w.status,
		NumIter:     w.iter,
		Objective:   w.optval,
		Gap:         w.gap,
		EqResidSq:   w.eqResidSq,
		IneqResidSq: w.ineqResidSq,
		DynReg:      w.dynReg,
		Elapsed:     time.Since(start),
	}
	if w.status.HasSolution() {
		res.X, res.S, res.Z, res.Y = w.x, w.s, w.z, w.y
	}

	switch w.status {
	case Converged:
		return res, nil
	case MaxItersReached:
		return res, ErrMaxIterations
	default:
		return res, ErrFactorization
	}
}

func (d *Data) validate() (err error) {
	switch {
	case !allFinite(d.P.Val):
		err = nonFinite("P", d.P.Val)
	case !allFinite(d.A.Val):
		err = nonFinite("A", d.A.Val)
	case !allFinite(d.G.Val):
		err = nonFinite("G", d.G.Val)
	case !allFinite(d.Q):
		err = nonFinite("q", d.Q)
	case !allFinite(d.B):
		err = nonFinite("b", d.B)
	case !allFinite(d.H):
		err = nonFinite("h", d.H)
	case math.IsNaN(d.Offset) || math.IsInf(d.Offset, 0):
		err = fmt.Errorf("%w: offset = %v", ErrBadParameter, d.Offset)
	}
	return
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func nonFinite(name string, v []float64) error {
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: %s[%d] = %v", ErrBadParameter, name, i, x)
		}
	}
	return nil
}
