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

package sweep

import "testing"

func TestRandomGrid(t *testing.T) {
	ranges := DefaultRandomRanges()
	a, err := RandomGrid(ranges, 20, 1)
	if err != nil {
		t.Fatal(err)
	}
	b, err := RandomGrid(ranges, 20, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != 20 {
		t.Fatalf("have %d points", len(a))
	}
	for i := range a {
		if a[i].Params.String() != b[i].Params.String() {
			t.Errorf("point %d differs between runs with the same seed", i)
		}
		if a[i].Params.JobNumber != i+1 {
			t.Errorf("point %d has job number %d", i, a[i].Params.JobNumber)
		}
		for name, r := range ranges {
			var v float64
			switch name {
			case "paO2_multiple":
				v = a[i].PaO2Multiple
			case "velocity_multiple":
				v = a[i].VelocityMultiple
			case "no_search":
				if a[i].NoSearch {
					v = 1
				}
			default:
				v = get(t, a[i].Params, name)
			}
			lo, hi := r[0], r[len(r)-1]
			if v < lo*(1-1e-12) || v > hi*(1+1e-12) {
				t.Errorf("point %d: %s = %g outside [%g, %g]", i, name, v, lo, hi)
			}
		}
	}
	c, err := RandomGrid(ranges, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if c[0].Params.String() == a[0].Params.String() {
		t.Error("different seeds gave the same point")
	}
}

func TestRandomGridErrors(t *testing.T) {
	for name, r := range map[string]map[string][]float64{
		"unknown":  {"CMRO3": {1, 2}},
		"reversed": {"CMRO2": {4, 2}},
		"long":     {"CMRO2": {1, 2, 3}},
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := RandomGrid(r, 1, 1); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
