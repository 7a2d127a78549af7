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
	"math"
	"testing"
)

// kroghProfile is the exact solution of the radial problem when every
// sample consumes oxygen.
func kroghProfile(rp RadialProblem, r float64) float64 {
	rc, rk, k := rp.RInner, rp.ROuter, rp.Kappa
	return rp.P0 + k/4*(r*r-rc*rc) - k*rk*rk/2*math.Log(r/rc)
}

func TestRadialNoConsumption(t *testing.T) {
	rp := RadialProblem{P0: 80, Kappa: 0, RInner: 3, ROuter: 20, N: 50}
	sol, err := DefaultRadialSolver().Solve(rp)
	if err != nil {
		t.Fatal(err)
	}
	if !sol.Converged {
		t.Error("not converged")
	}
	for i, p := range sol.P {
		if different(p, 80, testTolerance) {
			t.Errorf("sample %d: %g", i, p)
		}
	}
}

func TestRadialAnalytic(t *testing.T) {
	for _, test := range []struct {
		name string
		rp   RadialProblem
		tol  float64
	}{
		{"coarse", RadialProblem{P0: 200, Kappa: 0.1, RInner: 3, ROuter: 20, N: 100}, 0.01},
		{"fine", RadialProblem{P0: 20, Kappa: 0.05, RInner: 3, ROuter: 20, N: 200}, 0.001},
		{"default", RadialProblem{P0: 200, Kappa: 9.775e-3, RInner: 3, ROuter: 20, N: 100}, 0.001},
	} {
		t.Run(test.name, func(t *testing.T) {
			sol, err := DefaultRadialSolver().Solve(test.rp)
			if err != nil {
				t.Fatal(err)
			}
			if !sol.Converged {
				t.Errorf("not converged; residual %g", sol.Residual)
			}
			if sol.Negative() {
				t.Error("negative pressures")
			}
			for i, r := range test.rp.Radii() {
				if want := kroghProfile(test.rp, r); math.Abs(sol.P[i]-want) > test.tol {
					t.Errorf("r=%g: have %g, want %g", r, sol.P[i], want)
				}
			}
		})
	}
}

func TestRadialAnoxicCore(t *testing.T) {
	rp := RadialProblem{P0: 5, Kappa: 0.1, RInner: 3, ROuter: 20, N: 100}

	// The edge of the anoxic region, where the consuming profile
	// reaches the threshold with zero slope.
	edge := func(rs float64) float64 {
		r := rp.RInner
		return AnoxiaThreshold + rp.Kappa/4*(r*r-rs*rs) - rp.Kappa*rs*rs/2*math.Log(r/rs)
	}
	lo, hi := rp.RInner, rp.ROuter
	for i := 0; i < 100; i++ {
		m := (lo + hi) / 2
		if edge(m) > rp.P0 {
			hi = m
		} else {
			lo = m
		}
	}
	rs := lo

	sol, err := DefaultRadialSolver().Solve(rp)
	if err != nil {
		t.Fatal(err)
	}
	if !sol.Converged {
		t.Errorf("not converged; residual %g", sol.Residual)
	}
	for i, r := range rp.Radii() {
		want := AnoxiaThreshold
		if r < rs {
			want = AnoxiaThreshold + rp.Kappa/4*(r*r-rs*rs) - rp.Kappa*rs*rs/2*math.Log(r/rs)
		}
		if math.Abs(sol.P[i]-want) > 0.01 {
			t.Errorf("r=%g: have %g, want %g", r, sol.P[i], want)
		}
		if i > 0 && sol.P[i] > sol.P[i-1]+testTolerance {
			t.Errorf("pressure increases at r=%g", r)
		}
	}
}

func TestRadialFreeBoundary(t *testing.T) {
	for _, rp := range []RadialProblem{
		{P0: 1, Kappa: 0.5, RInner: 3, ROuter: 20, N: 50},
		{P0: 0.41, Kappa: 0.1, RInner: 3, ROuter: 20, N: 100},
		{P0: 0.3, Kappa: 0.1, RInner: 3, ROuter: 20, N: 20},
		{P0: 200, Kappa: 0.1, RInner: 3, ROuter: 20, N: 100},
	} {
		sys := newRadialSystem(rp)
		sol, err := sys.freeBoundary()
		if err != nil {
			t.Fatal(err)
		}
		if !sol.Converged || sol.Residual > 1e-7 {
			t.Errorf("P0=%g: converged=%v residual=%g", rp.P0, sol.Converged, sol.Residual)
		}
	}
}

func TestRadialTwoSamples(t *testing.T) {
	rp := RadialProblem{P0: 50, Kappa: 0.01, RInner: 3, ROuter: 20, N: 2}
	sol, err := DefaultRadialSolver().Solve(rp)
	if err != nil {
		t.Fatal(err)
	}
	// 2(p1-p0)/h² = -κ
	h := rp.ROuter - rp.RInner
	want := 50 - rp.Kappa*h*h/2
	if len(sol.P) != 2 || sol.P[0] != 50 || different(sol.P[1], want, testTolerance) {
		t.Errorf("have %v, want [50 %g]", sol.P, want)
	}
}

func TestRadialInvalid(t *testing.T) {
	for _, rp := range []RadialProblem{
		{P0: 50, Kappa: 0.01, RInner: 3, ROuter: 20, N: 1},
		{P0: 50, Kappa: 0.01, RInner: 20, ROuter: 3, N: 10},
		{P0: 50, Kappa: -1, RInner: 3, ROuter: 20, N: 10},
		{P0: math.NaN(), Kappa: 0.01, RInner: 3, ROuter: 20, N: 10},
	} {
		if _, err := DefaultRadialSolver().Solve(rp); err == nil {
			t.Errorf("%+v: expected an error", rp)
		}
	}
}
