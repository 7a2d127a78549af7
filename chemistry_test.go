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

	"github.com/ctessum/unit"
)

const testTolerance = 1.e-8

func different(a, b, tolerance float64) bool {
	if 2*math.Abs(a-b)/math.Abs(a+b) > tolerance || math.IsNaN(a) || math.IsNaN(b) {
		return true
	}
	return false
}

// mustPanic fails the test if f does not panic.
func mustPanic(t *testing.T, f func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Error("expected a panic")
		}
	}()
	f()
}

func TestSaturation(t *testing.T) {
	// The fit dips below zero under about 4.7 mmHg.
	prev := saturation(5)
	for p := 5.0; p <= 600; p += 0.25 {
		s := SaturationPercent(Quantity(p, MMHg))
		if s < 0 || s > 100 {
			t.Fatalf("saturation at %g mmHg = %g", p, s)
		}
		if s < prev {
			t.Fatalf("saturation decreases at %g mmHg: %g < %g", p, s, prev)
		}
		prev = s
	}
	if s := saturation(2000); s < 99.9 || s > 100 {
		t.Errorf("saturation at 2000 mmHg = %g", s)
	}
	if s := saturation(100); different(s, 97.49, 1e-3) {
		t.Errorf("saturation at 100 mmHg = %g", s)
	}
}

func TestOxygenConcentration(t *testing.T) {
	hb := Quantity(10, GramPerDeciliter)
	prev := math.Inf(-1)
	for p := 2.5; p < 600; p += 0.5 {
		c := Magnitude(OxygenConcentration(Quantity(p, MMHg), hb), MlO2PerDeciliter)
		if c <= prev {
			t.Fatalf("concentration not increasing at %g mmHg: %g <= %g", p, c, prev)
		}
		prev = c
	}
	for _, p := range []float64{5, 40, 100, 500} {
		prev := math.Inf(-1)
		for h := 5.0; h <= 20; h++ {
			c := Magnitude(OxygenConcentration(Quantity(p, MMHg), Quantity(h, GramPerDeciliter)), MlO2PerDeciliter)
			if c <= prev {
				t.Fatalf("concentration not increasing with Hb at %g mmHg, %g g/dL", p, h)
			}
			prev = c
		}
	}
	c := OxygenConcentration(Quantity(100, MMHg), hb)
	if err := c.Check(O2Concentration); err != nil {
		t.Error(err)
	}
	want := HufnerConstant*10*saturation(100)/100 + 0.3
	if v := Magnitude(c, MlO2PerDeciliter); different(v, want, testTolerance) {
		t.Errorf("have %g, want %g", v, want)
	}
}

func TestChemistryDimensions(t *testing.T) {
	t.Run("saturation", func(t *testing.T) {
		mustPanic(t, func() { SaturationPercent(Quantity(1, Micrometer)) })
	})
	t.Run("pressure", func(t *testing.T) {
		mustPanic(t, func() { OxygenConcentration(Quantity(1, Micrometer), Quantity(10, GramPerDeciliter)) })
	})
	t.Run("hemoglobin", func(t *testing.T) {
		mustPanic(t, func() { OxygenConcentration(Quantity(100, MMHg), unit.New(10, unit.Dimless)) })
	})
}
