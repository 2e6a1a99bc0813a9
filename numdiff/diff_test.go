package numdiff

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func relativeEqual(a, b []float64, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] == b[i] {
			continue
		}
		if math.Abs(a[i]-b[i]) > tol*math.Max(1, math.Abs(b[i])) {
			return false
		}
	}
	return true
}

func objV2(x, y []float64) {
	y[0] = x[0] * math.Sin(x[1])
	y[1] = x[1] * math.Cos(x[0])
	y[2] = math.Pow(x[0], 3) * math.Pow(x[1], -0.5)
}

func jacV2(x []float64) []float64 {
	return []float64{
		math.Sin(x[1]), x[0] * math.Cos(x[1]),
		-x[1] * math.Sin(x[0]), math.Cos(x[0]),
		3 * math.Pow(x[0], 2) * math.Pow(x[1], -0.5), -0.5 * math.Pow(x[0], 3) * math.Pow(x[1], -1.5),
	}
}

// pendulum state derivative [θ̇, -k sin θ - c θ̇ + u]
func pendulum(x, y []float64) {
	y[0] = x[1]
	y[1] = -2.94*math.Sin(x[0]) - 0.5*x[1] + x[2]
}

func TestComputeAbsStep(t *testing.T) {
	x0 := []float64{1e-5, 0, 1, 1e5}

	for method, eps := range map[Method]float64{
		Forward: sqrtEps,
		Central: cubeEps,
	} {
		jc := Jacobian{N: 4, M: 1, Method: method, Object: func(x, y []float64) {}}
		require.NoError(t, jc.Check())

		jc.absoluteStep(x0)
		require.True(t, relativeEqual(jc.step, []float64{eps, eps, eps, eps * 1e5}, 1e-12))

		neg := []float64{-1e-5, 0, -1, -1e5}
		jc.absoluteStep(neg)
		want := []float64{-eps, eps, -eps, -eps * 1e5}
		require.True(t, relativeEqual(jc.step, want, 1e-12))
	}

	// user-specified relative step falls back when it would not move x
	jc := Jacobian{N: 4, M: 1, Method: Forward, Object: func(x, y []float64) {}, RelStep: 0.1}
	require.NoError(t, jc.Check())
	jc.absoluteStep(x0)
	require.True(t, relativeEqual(jc.step, []float64{1e-6, sqrtEps, 0.1, 1e4}, 1e-12))
}

func TestJacobianV2(t *testing.T) {
	x0 := []float64{1.0, 2.0}
	want := jacV2(x0)

	for method, tol := range map[Method]float64{Forward: 1e-6, Central: 1e-9} {
		jc := Jacobian{N: 2, M: 3, Method: method, Object: objV2}
		jac := make([]float64, 6)
		require.NoError(t, jc.Eval(x0, jac))
		require.True(t, relativeEqual(jac, want, tol), "method %d", method)
		require.Equal(t, []float64{1.0, 2.0}, x0)
	}
}

func TestJacobianLinearize(t *testing.T) {
	x0 := []float64{0.3, -0.2, 0.1}
	jc := Jacobian{N: 3, M: 2, Method: Central, Object: pendulum}
	require.NoError(t, jc.Check())
	jac := make([]float64, 6)
	require.NoError(t, jc.Eval(x0, jac))
	want := []float64{
		0, 1, 0,
		-2.94 * math.Cos(0.3), -0.5, 1,
	}
	require.True(t, relativeEqual(jac, want, 1e-9))

	allocs := testing.AllocsPerRun(10, func() {
		_ = jc.Eval(x0, jac)
	})
	require.Zero(t, allocs)
}

func TestJacobianRejects(t *testing.T) {
	require.Error(t, (&Jacobian{N: 0, M: 1, Object: pendulum}).Check())
	require.Error(t, (&Jacobian{N: 1, M: 1}).Check())
	require.Error(t, (&Jacobian{N: 1, M: 1, Object: pendulum, Method: 7}).Check())
	require.Error(t, (&Jacobian{N: 1, M: 1, Object: pendulum, RelStep: -1}).Check())

	jc := Jacobian{N: 3, M: 2, Object: pendulum}
	require.Error(t, jc.Eval([]float64{1}, make([]float64, 6)))
	require.Error(t, jc.Eval([]float64{1, 2, 3}, make([]float64, 5)))
}
