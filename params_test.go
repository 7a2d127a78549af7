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
	"strings"
	"testing"

	"github.com/ctessum/unit"
)

func TestParameterFields(t *testing.T) {
	want := []string{"CMRO2", "z_capillary", "velocity", "D", "r_Krogh", "r_capillary",
		"paO2", "Hb", "sigma", "r_steps", "z_steps", "test"}
	fields := ParameterFields()
	if len(fields) != len(want) {
		t.Fatalf("have %d fields, want %d", len(fields), len(want))
	}
	p := DefaultParameters()
	for i, f := range fields {
		if f.Name != want[i] {
			t.Errorf("field %d: have %s, want %s", i, f.Name, want[i])
		}
		if _, err := p.Get(f.Name); err != nil {
			t.Error(err)
		}
	}
}

func TestParametersWith(t *testing.T) {
	p := DefaultParameters()
	tests := []struct {
		name  string
		value float64
	}{
		{"CMRO2", 4.5},
		{"velocity", 0.7},
		{"D", 2e-5},
		{"Hb", 14},
		{"paO2", 95},
		{"r_steps", 50},
		{"test", 1},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			p2, err := p.With(test.name, test.value)
			if err != nil {
				t.Fatal(err)
			}
			v, err := p2.Get(test.name)
			if err != nil {
				t.Fatal(err)
			}
			if different(v, test.value, testTolerance) {
				t.Errorf("have %g, want %g", v, test.value)
			}
			// Everything else is unchanged.
			for _, f := range ParameterFields() {
				if f.Name == test.name {
					continue
				}
				a, _ := p.Get(f.Name)
				b, _ := p2.Get(f.Name)
				if a != b {
					t.Errorf("%s changed from %g to %g", f.Name, a, b)
				}
			}
		})
	}
	if v, _ := p.Get("CMRO2"); different(v, 3, testTolerance) {
		t.Errorf("original was modified: CMRO2 = %g", v)
	}
}

func TestParametersScale(t *testing.T) {
	p := DefaultParameters()
	p2, err := p.Scale("velocity", 2)
	if err != nil {
		t.Fatal(err)
	}
	if v := Magnitude(p2.Velocity, MillimeterPerSec); different(v, 2, testTolerance) {
		t.Errorf("velocity = %g", v)
	}
	if _, err := p.Scale("viscosity", 2); err == nil {
		t.Error("expected an error for an unknown field")
	}
	if _, err := p.With("viscosity", 2); err == nil {
		t.Error("expected an error for an unknown field")
	}
}

func TestValidate(t *testing.T) {
	if err := DefaultParameters().Validate(); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name   string
		modify func(p *Parameters)
		msg    string
	}{
		{"missing", func(p *Parameters) { p.Hb = nil }, "Hb"},
		{"dimensions", func(p *Parameters) { p.PaO2 = Quantity(200, Micrometer) }, "paO2"},
		{"negative", func(p *Parameters) { p.CMRO2 = Quantity(-1, MlO2Per100gPerMin) }, "CMRO2"},
		{"zero", func(p *Parameters) { p.Velocity = Quantity(0, MillimeterPerSec) }, "velocity"},
		{"nan", func(p *Parameters) { p.D = unit.New(math.NaN(), Diffusivity) }, "D"},
		{"steps", func(p *Parameters) { p.ZSteps = 0 }, "z_steps"},
		{"high inlet", func(p *Parameters) { p.PaO2 = Quantity(2500, MMHg) }, "paO2"},
		{"table limit", func(p *Parameters) { p.PaO2 = Quantity(TableMaxPressure, MMHg) }, "paO2"},
		{"geometry", func(p *Parameters) { p.RCapillary = Quantity(25, Micrometer) }, "r_Krogh"},
		{"coarse", func(p *Parameters) { p.RSteps = 1 }, "radial"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			p := DefaultParameters()
			test.modify(p)
			err := p.Validate()
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), test.msg) {
				t.Errorf("error %q does not mention %s", err, test.msg)
			}
		})
	}
}

func TestKappa(t *testing.T) {
	k := DefaultParameters().Kappa()
	// 3 mlO2/100g/min × 1 g/cm³ / (1.65e-5 cm²/s × 0.0031 mlO2/dL/mmHg)
	want := 3.0 / 100 / 60 / (1.65e-5 * 0.0031 / 100) * 1e-8
	if v := k.Value() / pascalsPerMMHg * 1e-12; different(v, want, 1e-10) {
		t.Errorf("have %g mmHg/μm², want %g", v, want)
	}
}

func TestScaledSteps(t *testing.T) {
	p := DefaultParameters()
	for _, test := range []struct {
		rk     float64
		rSteps int
		nr, nz int
	}{
		{20, 100, 100, 1000},
		{40, 100, 200, 2000},
		{10, 100, 50, 500},
		{25, 100, 125, 1250},
		{21, 50, 52, 1050}, // 52.5 rounds to even
		{23, 50, 58, 1150}, // 57.5 rounds to even
	} {
		p.RKrogh = Quantity(test.rk, Micrometer)
		p.RSteps = test.rSteps
		if nr, nz := p.ScaledSteps(); nr != test.nr || nz != test.nz {
			t.Errorf("r_Krogh=%g: have %d, %d; want %d, %d", test.rk, nr, nz, test.nr, test.nz)
		}
	}
}

func TestParametersString(t *testing.T) {
	s := DefaultParameters().String()
	for _, want := range []string{"CMRO2=3", "paO2=200", "r_steps=100", "test=0"} {
		if !strings.Contains(s, want) {
			t.Errorf("%q does not contain %q", s, want)
		}
	}
}
