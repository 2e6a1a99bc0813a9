package numdiff

import (
	"errors"
	"math"
)

var sqrtEps = math.Sqrt(math.Nextafter(1, 2) - 1)
var cubeEps = math.Pow(math.Nextafter(1, 2)-1, float64(1)/3)

type Method int

const (
	// Forward use the first order accuracy forward difference.
	Forward Method = iota
	// Central use the second order accuracy central difference.
	Central
)

// Jacobian estimates the M × N Jacobian of a vector function at a point by finite differences.
// The result is stored row major: jac[i*N+j] = ∂yᵢ/∂xⱼ.
//
// Scratch buffers are sized by Check, after which Eval does not allocate.
// A Jacobian is not safe for concurrent use.
//
// # Reference:
//
//   - https://en.wikipedia.org/wiki/Finite_difference
//   - https://github.com/scipy/scipy/blob/main/scipy/optimize/_numdiff.py
type Jacobian struct {
	N, M int
	// Function to differentiate. It reads the n-vector x and writes the m-vector y.
	Object func(x, y []float64)
	// Finite difference method to use.
	Method Method
	// Relative step size. The absolute step is h = RelStep * sign(x) * |x|, falling back
	// to the automatic step when that would not change x.
	// When zero the step is selected automatically as h = ε * sign(x) * max(1, |x|).
	RelStep float64
	// Absolute step size to use in place of RelStep.
	AbsStep float64
	diffCtx
}

type diffCtx struct {
	f0, f1, f2 []float64
	step       []float64
}

// Check the parameters and size the scratch buffers.
func (jc *Jacobian) Check() (err error) {
	switch {
	case jc.N <= 0 || jc.M <= 0:
		err = errors.New("dimensions must greater than 0")
	case jc.Method != Forward && jc.Method != Central:
		err = errors.New("unknown method")
	case jc.Object == nil:
		err = errors.New("object function is required")
	case jc.RelStep < 0 || math.IsNaN(jc.RelStep) || math.IsNaN(jc.AbsStep):
		err = errors.New("invalid step size")
	}
	if err != nil {
		return
	}
	if len(jc.f0) != jc.M {
		jc.f0 = make([]float64, jc.M)
		jc.f1 = make([]float64, jc.M)
		jc.f2 = make([]float64, jc.M)
	}
	if len(jc.step) != jc.N {
		jc.step = make([]float64, jc.N)
	}
	return
}

// Eval writes the Jacobian at x0 into jac. x0 is perturbed during evaluation and restored on return.
func (jc *Jacobian) Eval(x0, jac []float64) error {
	if len(jc.step) != jc.N || len(jc.f0) != jc.M {
		if err := jc.Check(); err != nil {
			return err
		}
	}
	switch {
	case len(x0) != jc.N:
		return errors.New("invalid x0 dimensions")
	case len(jac) != jc.N*jc.M:
		return errors.New("invalid jacobian dimensions")
	}

	jc.absoluteStep(x0)
	if jc.Method == Central {
		jc.approxCentral(x0, jac)
	} else {
		jc.approxForward(x0, jac)
	}
	return nil
}

func (jc *Jacobian) absoluteStep(x0 []float64) {
	h := jc.step
	if len(h) != len(x0) {
		panic("bound check error")
	}

	eps := sqrtEps
	if jc.Method == Central {
		eps = cubeEps
	}

	auto := func(v float64) float64 {
		return math.Copysign(eps, v) * math.Max(1.0, math.Abs(v))
	}

	abs, rel := jc.AbsStep, jc.RelStep
	for i, v := range x0 {
		if abs == 0 && rel == 0 {
			h[i] = auto(v)
			continue
		}
		s := abs
		if s == 0 {
			s = math.Copysign(rel, v) * math.Abs(v)
		}
		if (v+s)-v == 0 {
			s = auto(v)
		}
		if jc.Method == Central {
			s = math.Abs(s)
		}
		h[i] = s
	}
}

func (jc *Jacobian) approxForward(x0, jac []float64) {
	f0, f1, h, n := jc.f0, jc.f1, jc.step, jc.N
	fun := jc.Object
	fun(x0, f0)
	for j, s := range h {
		x := x0[j]
		x0[j] = x + s
		fun(x0, f1)
		x0[j] = x
		d := 1.0 / ((x + s) - x)
		for i := range f0 {
			jac[i*n+j] = (f1[i] - f0[i]) * d
		}
	}
}

func (jc *Jacobian) approxCentral(x0, jac []float64) {
	f1, f2, h, n := jc.f1, jc.f2, jc.step, jc.N
	fun := jc.Object
	for j, s := range h {
		x := x0[j]
		x0[j] = x - s
		fun(x0, f1)
		x0[j] = x + s
		fun(x0, f2)
		x0[j] = x
		d := 1.0 / ((x + s) - (x - s))
		for i := range f1 {
			jac[i*n+j] = (f2[i] - f1[i]) * d
		}
	}
}
