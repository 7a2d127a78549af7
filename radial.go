/*
Copyright © 2021 the Krogh authors.
This file is part of Krogh.

Krogh is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Krogh is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Krogh.  If not, see <http://www.gnu.org/licenses/>.
*/

package krogh

import (
	"errors"
	"fmt"
	"math"

	"github.com/cenkalti/backoff"
	"gonum.org/v1/gonum/mat"
)

// AnoxiaThreshold is the tissue oxygen pressure at or below which
// oxygen consumption stops [mmHg].
const AnoxiaThreshold = 0.4

// RadialProblem is the steady-state diffusion problem across the tissue
// cylinder at one axial position:
//
//	p'' = κ(p) - p'/r,  p(RInner) = P0,  p'(ROuter) = 0
//
// where κ(p) = Kappa when p > AnoxiaThreshold and 0 otherwise.
// Pressures are in mmHg and radii in μm.
type RadialProblem struct {
	P0     float64 // pressure at the capillary wall
	Kappa  float64 // consumption term for oxygenated tissue [mmHg/μm²]
	RInner float64 // capillary radius
	ROuter float64 // Krogh radius
	N      int     // number of evenly spaced radial samples, including both ends
}

// Radii returns the sample radii of the problem.
func (rp RadialProblem) Radii() []float64 {
	r := make([]float64, rp.N)
	h := rp.spacing()
	for i := range r {
		r[i] = rp.RInner + float64(i)*h
	}
	r[rp.N-1] = rp.ROuter
	return r
}

func (rp RadialProblem) spacing() float64 {
	return (rp.ROuter - rp.RInner) / float64(rp.N-1)
}

func (rp RadialProblem) check() error {
	if rp.N < 2 {
		return fmt.Errorf("krogh: radial problem needs at least 2 samples, got %d", rp.N)
	}
	if !(rp.ROuter > rp.RInner) || rp.RInner <= 0 {
		return fmt.Errorf("krogh: invalid radial domain [%g, %g] μm", rp.RInner, rp.ROuter)
	}
	if rp.Kappa < 0 || math.IsNaN(rp.Kappa) || math.IsNaN(rp.P0) {
		return fmt.Errorf("krogh: invalid radial problem: P0=%g, κ=%g", rp.P0, rp.Kappa)
	}
	return nil
}

// RadialSolution holds the result of a radial solve.
type RadialSolution struct {
	// P is the pressure at each sample radius [mmHg], clamped to be
	// non-negative.
	P []float64

	// Converged is false if no attempt found a consumption pattern
	// consistent with its pressures. P then holds the best attempt.
	Converged bool

	// Iterations is the total number of linear solves performed.
	Iterations int

	// Residual is the largest residual of the discrete equations, scaled
	// by the wall pressure over the squared sample spacing.
	Residual float64

	// MinPressure is the lowest pressure before clamping.
	MinPressure float64
}

// Negative returns whether any pressure had to be clamped to zero.
func (s *RadialSolution) Negative() bool { return s.MinPressure < 0 }

var errNotConverged = errors.New("krogh: radial solver did not converge")

// RadialSolver solves RadialProblems by second order finite differences
// on the sample radii. The consumption switch is first handled with an
// active-set iteration: the set of consuming samples is guessed, the
// resulting tridiagonal system is solved, and the set is updated from
// the solution until it stops changing. That iteration can cycle when
// the edge of the anoxic region falls between samples, so failed
// attempts are retried by locating the edge directly (see freeBoundary).
type RadialSolver struct {
	// MaxIterations limits the active-set iterations.
	MaxIterations int

	// Tolerance is the largest acceptable scaled residual.
	Tolerance float64

	// Retries is the number of further attempts after the active-set
	// iteration fails. Attempts after the first locate the anoxic edge.
	Retries uint64
}

// DefaultRadialSolver returns a solver with the default settings.
func DefaultRadialSolver() *RadialSolver {
	return &RadialSolver{
		MaxIterations: 20,
		Tolerance:     1e-7,
		Retries:       1,
	}
}

// Solve solves rp. Failure to converge is reported in the solution rather
// than as an error; an error is only returned for an invalid problem.
func (s *RadialSolver) Solve(rp RadialProblem) (*RadialSolution, error) {
	if err := rp.check(); err != nil {
		return nil, err
	}
	sys := newRadialSystem(rp)
	var best *RadialSolution
	iterations := 0
	attempt := 0
	try := func() error {
		var sol *RadialSolution
		var err error
		if attempt == 0 {
			sol, err = s.activeSet(sys)
		} else {
			sol, err = sys.freeBoundary()
		}
		attempt++
		if err != nil {
			return backoff.Permanent(err)
		}
		sol.Converged = sol.Converged && sol.Residual <= s.Tolerance
		iterations += sol.Iterations
		if best == nil || sol.Converged || sol.Residual < best.Residual {
			best = sol
		}
		if !sol.Converged {
			return errNotConverged
		}
		return nil
	}
	err := backoff.Retry(try, backoff.WithMaxRetries(&backoff.ZeroBackOff{}, s.Retries))
	if err != nil && err != errNotConverged {
		return nil, err
	}
	best.Iterations = iterations
	best.MinPressure = math.Inf(1)
	for i, v := range best.P {
		best.MinPressure = math.Min(best.MinPressure, v)
		if v < 0 {
			best.P[i] = 0
		}
	}
	return best, nil
}

// activeSet iterates on the set of consuming samples, starting from an
// exponential decay away from the wall.
func (s *RadialSolver) activeSet(sys *radialSystem) (*RadialSolution, error) {
	rp := sys.rp
	q := make([]float64, rp.N)
	for i, ri := range sys.r {
		if i > 0 && rp.P0/math.E*math.Exp(1/(ri-rp.RInner+1)) > AnoxiaThreshold {
			q[i] = rp.Kappa
		}
	}
	limit := s.MaxIterations
	if limit < 1 {
		limit = 1
	}
	sol := &RadialSolution{}
	for iter := 0; iter < limit; iter++ {
		p, err := sys.solve(q)
		if err != nil {
			return nil, err
		}
		sol.Iterations++
		sol.P = p
		changed := false
		for i := 1; i < rp.N; i++ {
			v := 0.0
			if p[i] > AnoxiaThreshold {
				v = rp.Kappa
			}
			if v != q[i] {
				changed = true
			}
			q[i] = v
		}
		if !changed {
			sol.Converged = true
			break
		}
	}
	sol.Residual = sys.residual(sol.P, nil)
	return sol, nil
}

// radialSystem is the discretized form of a RadialProblem. Row i of the
// system, for samples 1 to N-1, is
//
//	lower[i]·p[i-1] - 2/h²·p[i] + upper[i]·p[i+1] = q[i]
//
// where q[i] is the consumption at sample i. The zero flux condition at
// the outer edge mirrors p[N-2] to a ghost sample beyond it.
type radialSystem struct {
	rp    RadialProblem
	r     []float64
	h     float64
	lower []float64 // coefficient of p[i-1] in row i
	a     *mat.Tridiag
}

func newRadialSystem(rp RadialProblem) *radialSystem {
	sys := &radialSystem{
		rp:    rp,
		r:     rp.Radii(),
		h:     rp.spacing(),
		lower: make([]float64, rp.N),
	}
	n := rp.N - 1 // unknowns are p[1:]
	h2 := sys.h * sys.h
	dl := make([]float64, n-1)
	d := make([]float64, n)
	du := make([]float64, n-1)
	for k := 0; k < n; k++ {
		i := k + 1
		d[k] = -2 / h2
		if i == rp.N-1 {
			sys.lower[i] = 2 / h2
		} else {
			sys.lower[i] = 1/h2 - 1/(2*sys.h*sys.r[i])
			du[k] = 1/h2 + 1/(2*sys.h*sys.r[i])
		}
		if k > 0 {
			dl[k-1] = sys.lower[i]
		}
	}
	sys.a = mat.NewTridiag(n, dl, d, du)
	return sys
}

// solve returns the pressures for consumption q. q[0] is ignored.
func (sys *radialSystem) solve(q []float64) ([]float64, error) {
	n := sys.rp.N - 1
	rhs := mat.NewVecDense(n, nil)
	for k := 0; k < n; k++ {
		rhs.SetVec(k, q[k+1])
	}
	rhs.SetVec(0, rhs.AtVec(0)-sys.lower[1]*sys.rp.P0)
	var x mat.VecDense
	if err := sys.a.SolveVecTo(&x, false, rhs); err != nil {
		return nil, fmt.Errorf("krogh: radial solve: %v", err)
	}
	p := make([]float64, sys.rp.N)
	p[0] = sys.rp.P0
	for k := 0; k < n; k++ {
		p[k+1] = x.AtVec(k)
	}
	return p, nil
}

// prefix returns the consumption when the first m samples beyond the
// wall consume oxygen.
func (sys *radialSystem) prefix(m int) []float64 {
	q := make([]float64, sys.rp.N)
	for i := 1; i <= m && i < len(q); i++ {
		q[i] = sys.rp.Kappa
	}
	return q
}

// freeBoundary finds the solution directly. Pressure falls away from
// the wall, so the consuming samples are always the m nearest to it,
// and m can be found by bisection. When the edge of the anoxic region
// lies between samples m and m+1, sample m+1 is given the fraction of
// the full consumption that holds it exactly at AnoxiaThreshold.
func (sys *radialSystem) freeBoundary() (*RadialSolution, error) {
	rp := sys.rp
	sol := &RadialSolution{}
	solve := func(q []float64) ([]float64, error) {
		sol.Iterations++
		return sys.solve(q)
	}
	finish := func(p, q []float64) (*RadialSolution, error) {
		sol.P = p
		sol.Residual = sys.residual(p, q)
		sol.Converged = sys.consistent(p, q)
		return sol, nil
	}
	last := rp.N - 1
	if rp.P0 <= AnoxiaThreshold || rp.Kappa == 0 {
		q := make([]float64, rp.N)
		p, err := solve(q)
		if err != nil {
			return nil, err
		}
		return finish(p, q)
	}
	// lo consumes with the pressure at its edge above the threshold,
	// hi does not.
	lo, hi := 0, last
	p, err := solve(sys.prefix(hi))
	if err != nil {
		return nil, err
	}
	if p[hi] > AnoxiaThreshold {
		return finish(p, sys.prefix(hi))
	}
	for hi-lo > 1 {
		m := (lo + hi) / 2
		p, err := solve(sys.prefix(m))
		if err != nil {
			return nil, err
		}
		if p[m] > AnoxiaThreshold {
			lo = m
		} else {
			hi = m
		}
	}
	qa := sys.prefix(lo)
	pa, err := solve(qa)
	if err != nil {
		return nil, err
	}
	if pa[hi] <= AnoxiaThreshold {
		return finish(pa, qa)
	}
	pb, err := solve(sys.prefix(hi))
	if err != nil {
		return nil, err
	}
	// The system is linear in the consumption at hi.
	f := (pa[hi] - AnoxiaThreshold) / (pa[hi] - pb[hi])
	for i := range pa {
		pa[i] += f * (pb[i] - pa[i])
	}
	qa[hi] = f * rp.Kappa
	return finish(pa, qa)
}

// residual returns the largest absolute residual of the discrete
// equations for consumption q, scaled by the wall pressure over the
// squared spacing. If q is nil the consumption is switched on by p itself.
func (sys *radialSystem) residual(p, q []float64) float64 {
	n := len(p)
	h, r := sys.h, sys.r
	h2 := h * h
	var res float64
	for i := 1; i < n; i++ {
		var lhs float64
		if i == n-1 {
			lhs = 2 * (p[i-1] - p[i]) / h2
		} else {
			lhs = (p[i+1]-2*p[i]+p[i-1])/h2 + (p[i+1]-p[i-1])/(2*h*r[i])
		}
		var k float64
		switch {
		case q != nil:
			k = q[i]
		case p[i] > AnoxiaThreshold:
			k = sys.rp.Kappa
		}
		res = math.Max(res, math.Abs(lhs-k))
	}
	return res / (math.Max(math.Abs(sys.rp.P0), 1) / h2)
}

// consistent returns whether every sample with full consumption is above
// AnoxiaThreshold, every sample without consumption is at or below it,
// and every sample with partial consumption is at it.
func (sys *radialSystem) consistent(p, q []float64) bool {
	if sys.rp.Kappa == 0 {
		return true
	}
	eps := 1e-9 * math.Max(math.Abs(sys.rp.P0), 1)
	for i := 1; i < len(p); i++ {
		switch {
		case q[i] == sys.rp.Kappa:
			if p[i] <= AnoxiaThreshold {
				return false
			}
		case q[i] == 0:
			if p[i] > AnoxiaThreshold+eps {
				return false
			}
		default:
			if math.Abs(p[i]-AnoxiaThreshold) > eps {
				return false
			}
		}
	}
	return true
}
