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
	"context"
	"math"
	"reflect"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

// smallParameters returns default parameters on a coarser grid.
func smallParameters() *Parameters {
	p := DefaultParameters()
	p.RSteps = 40
	p.ZSteps = 200
	p.ReportInterval = 0
	return p
}

func TestStubResult(t *testing.T) {
	p := DefaultParameters()
	p.Test = true
	r, err := Simulate(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if v := Magnitude(r.PaO2, MMHg); different(v, 200, testTolerance) {
		t.Errorf("paO2 = %g", v)
	}
	for _, f := range ResultFields() {
		if f.Name == "paO2" {
			continue
		}
		v, err := r.Get(f.Name)
		if err != nil {
			t.Fatal(err)
		}
		if v != 1 {
			t.Errorf("%s = %g, want 1", f.Name, v)
		}
	}
	if nz, nr := r.P.Shape(); nz != 1000 || nr != 100 {
		t.Errorf("field shape %d×%d", nz, nr)
	}
	for _, v := range r.P.Values() {
		if v != 0 {
			t.Fatal("field is not all zeros")
		}
	}
}

func TestDefaultScenario(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	p := DefaultParameters()
	r, err := Simulate(context.Background(), p, WithLogger(log))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range hook.AllEntries() {
		if e.Level <= logrus.WarnLevel {
			t.Errorf("unexpected warning: %s", e.Message)
		}
	}
	nz, nr := r.P.Shape()
	if nz != 1000 || nr != 100 {
		t.Errorf("field shape %d×%d", nz, nr)
	}
	out := r.P.At(nz-1, 0)
	if out >= 200 {
		t.Errorf("outlet pressure %g is not below the inlet", out)
	}
	if math.Abs(out-115.08) > 2 {
		t.Errorf("outlet pressure %g, want about 115", out)
	}
	pb := Magnitude(r.PbO2, MMHg)
	if pb > 200 || different(pb, 150.5, 0.05) {
		t.Errorf("pbO2 = %g, want about 150.5", pb)
	}
	if r.HypoxicFraction < 0 || r.HypoxicFraction >= 1 {
		t.Errorf("hypoxic fraction %g", r.HypoxicFraction)
	}
	if pav := Magnitude(r.PavO2, MMHg); different(pav, 200-out, testTolerance) {
		t.Errorf("pavO2 = %g", pav)
	}
	if different(r.JugularVenousO2Sat, saturation(out), testTolerance) {
		t.Errorf("jugular venous saturation %g", r.JugularVenousO2Sat)
	}
	cIn, cOut := concentration(200, 10), concentration(out, 10)
	if av := Magnitude(r.AVO2Difference, MlO2PerDeciliter); different(av, cIn-cOut, 1e-6) {
		t.Errorf("AV difference %g, want %g", av, cIn-cOut)
	}
	if different(r.O2ExtractionFraction, (cIn-cOut)/cIn, 1e-6) {
		t.Errorf("extraction fraction %g", r.O2ExtractionFraction)
	}
}

func TestConservation(t *testing.T) {
	for _, cmro2 := range []float64{0, 3, 12, 60} {
		p, err := smallParameters().With("CMRO2", cmro2)
		if err != nil {
			t.Fatal(err)
		}
		c := NewCapillary(p, WithLogger(logrus.New()))
		if err := c.Init(); err != nil {
			t.Fatal(err)
		}
		if err := c.Run(context.Background()); err != nil {
			t.Fatal(err)
		}
		if len(c.Balances) != 200 {
			t.Fatalf("%d balances", len(c.Balances))
		}
		for _, b := range c.Balances {
			if b.Extracted < 0 || b.Extracted > b.Content {
				t.Errorf("CMRO2=%g, z=%d: extracted %g of %g", cmro2, b.Z, b.Extracted, b.Content)
			}
		}
		if !math.IsNaN(c.Balances[199].NextWallPressure) {
			t.Error("last slice passed on a pressure")
		}
	}
}

func TestNoConsumption(t *testing.T) {
	p, err := smallParameters().With("CMRO2", 0)
	if err != nil {
		t.Fatal(err)
	}
	r, err := Simulate(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	wall := r.P.Wall()
	for z := 1; z < len(wall); z++ {
		if wall[z] > wall[z-1]+testTolerance {
			t.Fatalf("wall pressure increases at slice %d: %g > %g", z, wall[z], wall[z-1])
		}
	}
	if r.HypoxicFraction != 0 {
		t.Errorf("hypoxic fraction %g", r.HypoxicFraction)
	}
	if pb := Magnitude(r.PbO2, MMHg); pb > 200*(1+testTolerance) {
		t.Errorf("pbO2 %g exceeds paO2", pb)
	}
}

func TestHypoxicScenario(t *testing.T) {
	p := DefaultParameters()
	p.CMRO2 = Quantity(60, MlO2Per100gPerMin)
	p.PaO2 = Quantity(40, MMHg)
	p.RSteps, p.ZSteps = 50, 100
	r, err := Simulate(context.Background(), p, WithLogger(logrus.New()))
	if err != nil {
		t.Fatal(err)
	}
	if r.HypoxicFraction <= 0.5 || r.HypoxicFraction > 1 {
		t.Errorf("hypoxic fraction %g", r.HypoxicFraction)
	}
	for _, v := range r.P.Values() {
		if v < 0 {
			t.Fatal("negative pressure in field")
		}
	}
	if pb := Magnitude(r.PbO2, MMHg); pb > 40 {
		t.Errorf("pbO2 %g exceeds paO2", pb)
	}
}

func TestDeterminism(t *testing.T) {
	p := smallParameters()
	r1, err := Simulate(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := Simulate(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(r1.P.Values(), r2.P.Values()) {
		t.Error("pressure fields differ")
	}
	for _, f := range ResultFields() {
		v1, _ := r1.Get(f.Name)
		v2, _ := r2.Get(f.Name)
		if v1 != v2 {
			t.Errorf("%s: %g != %g", f.Name, v1, v2)
		}
	}
}

func TestCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Simulate(ctx, smallParameters()); err == nil {
		t.Error("expected an error")
	}
}

func TestScaledGrid(t *testing.T) {
	p := smallParameters()
	p.RKrogh = Quantity(30, Micrometer)
	c := NewCapillary(p)
	if err := c.Init(); err != nil {
		t.Fatal(err)
	}
	if nz, nr := c.Field.Shape(); nz != 300 || nr != 60 {
		t.Errorf("field shape %d×%d, want 300×60", nz, nr)
	}
}

func TestAnnulusVolumes(t *testing.T) {
	v := annulusVolumes(3, 20, 2, 17)
	var sum float64
	for _, vi := range v {
		sum += vi
	}
	want := math.Pi * (20*20 - 3*3) * 2
	if different(sum, want, testTolerance) {
		t.Errorf("total volume %g, want %g", sum, want)
	}
	if different(v[0], math.Pi*(4*4-3*3)*2, testTolerance) {
		t.Errorf("first annulus %g", v[0])
	}
}
