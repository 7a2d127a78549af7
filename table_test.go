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

func TestTableRoundTrip(t *testing.T) {
	for _, hb := range []float64{5, 10, 15} {
		tbl := newConcentrationTable(hb)
		for p := 5.0; p < TableMaxPressure-TablePressureStep; p += 1.37 {
			got := tbl.invert(concentration(p, hb))
			if math.Abs(got-p) > TablePressureStep {
				t.Fatalf("Hb %g: invert(C(%g)) = %g", hb, p, got)
			}
		}
	}
}

func TestTableSamples(t *testing.T) {
	tbl := TableFor(Quantity(10, GramPerDeciliter))
	for _, p := range []float64{0, 5, 40, 100, 1999.99} {
		got := tbl.invert(concentration(p, 10))
		if math.Abs(got-p) > 1e-9 {
			t.Errorf("sample %g mmHg inverts to %g", p, got)
		}
	}
}

func TestTableMonotone(t *testing.T) {
	tbl := newConcentrationTable(10)
	prev := 0.0
	for c := 0.0; c < 25; c += 0.0037 {
		p := tbl.invert(c)
		if p < prev {
			t.Fatalf("inversion decreases at %g mlO2/dL: %g < %g", c, p, prev)
		}
		prev = p
	}
}

func TestTableClamp(t *testing.T) {
	tbl := newConcentrationTable(10)
	if p := tbl.invert(1e6); p != float64(tbl.Len()-1)*TablePressureStep {
		t.Errorf("large concentration inverts to %g", p)
	}
	if p := tbl.invert(-1e6); p != float64(tbl.dip)*TablePressureStep {
		t.Errorf("negative concentration inverts to %g, want %g", p, float64(tbl.dip)*TablePressureStep)
	}
	if tbl.Len() != 200000 {
		t.Errorf("table has %d samples", tbl.Len())
	}
}

func TestTableInvertDimensions(t *testing.T) {
	tbl := TableFor(Quantity(10, GramPerDeciliter))
	p := tbl.Invert(OxygenConcentration(Quantity(80, MMHg), tbl.Hb()))
	if v := Magnitude(p, MMHg); math.Abs(v-80) > TablePressureStep {
		t.Errorf("have %g mmHg, want 80", v)
	}
	mustPanic(t, func() { tbl.Invert(Quantity(80, MMHg)) })
}

func TestTableCache(t *testing.T) {
	tc := newTableCache(2)
	a := tc.get(10)
	if tc.get(10) != a {
		t.Error("table was rebuilt")
	}
	tc.get(11)
	tc.get(12)
	if tc.get(10) == a {
		t.Error("least recently used table was kept")
	}
}
