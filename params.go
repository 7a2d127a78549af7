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
	"fmt"
	"math"
	"reflect"

	"github.com/ctessum/unit"
)

// ReferenceKroghRadius is the Krogh radius at which the configured
// numbers of radial and axial steps are used unchanged [μm]. Other radii
// scale the step counts proportionally.
const ReferenceKroghRadius = 20.0

// TissueDensity is the density assumed for brain tissue when converting
// a mass-specific metabolic rate to a volumetric one [g/cm³].
const TissueDensity = 1.0

// Parameters holds the inputs to a simulation. A Parameters value should
// not be modified after it has been passed to a simulation; use With or
// Scale to derive altered copies.
type Parameters struct {
	CMRO2      *unit.Unit `name:"CMRO2" units:"mlO2/100g/min" desc:"Maximal tissue metabolic rate of oxygen"`
	ZCapillary *unit.Unit `name:"z_capillary" units:"μm" desc:"Capillary length"`
	Velocity   *unit.Unit `name:"velocity" units:"mm/s" desc:"Blood flow velocity"`
	D          *unit.Unit `name:"D" units:"cm²/s" desc:"Oxygen diffusivity in tissue"`
	RKrogh     *unit.Unit `name:"r_Krogh" units:"μm" desc:"Radius of the tissue cylinder"`
	RCapillary *unit.Unit `name:"r_capillary" units:"μm" desc:"Capillary radius"`
	PaO2       *unit.Unit `name:"paO2" units:"mmHg" desc:"Arterial oxygen pressure at the capillary inlet"`
	Hb         *unit.Unit `name:"Hb" units:"g/dL" desc:"Hemoglobin concentration"`
	Sigma      *unit.Unit `name:"sigma" units:"mlO2/dL/mmHg" desc:"Oxygen solubility in tissue"`

	// RSteps and ZSteps are the numbers of radial and axial samples
	// at the reference Krogh radius.
	RSteps int `name:"r_steps" desc:"Radial samples at a 20 μm Krogh radius"`
	ZSteps int `name:"z_steps" desc:"Axial samples at a 20 μm Krogh radius"`

	// Test makes simulations return a fixed placeholder result
	// without solving.
	Test bool `name:"test" desc:"Return a placeholder result"`

	// Verbose enables logging of the oxygen balance of every slice.
	Verbose bool

	// ReportInterval is the number of axial slices between progress
	// messages. Values < 1 disable progress messages.
	ReportInterval int

	// JobNumber identifies the simulation in log messages.
	JobNumber int
}

// DefaultParameters returns the default parameter values,
// representative of a cerebral capillary.
func DefaultParameters() *Parameters {
	return &Parameters{
		CMRO2:          Quantity(3.0, MlO2Per100gPerMin),
		ZCapillary:     Quantity(200, Micrometer),
		Velocity:       Quantity(1.0, MillimeterPerSec),
		D:              Quantity(1.65e-5, Cm2PerSec),
		RKrogh:         Quantity(20, Micrometer),
		RCapillary:     Quantity(3, Micrometer),
		PaO2:           Quantity(200, MMHg),
		Hb:             Quantity(10, GramPerDeciliter),
		Sigma:          Quantity(0.0031, MlO2PerDLPerMMHg),
		RSteps:         100,
		ZSteps:         1000,
		ReportInterval: 100,
	}
}

// ParameterFields returns the names, units and descriptions of the
// parameters that can be read with Get and altered with With and Scale.
func ParameterFields() []FieldInfo {
	return fieldInfo(reflect.TypeOf(Parameters{}))
}

// Clone returns a copy of p. Quantities are shared, which is safe
// because they are never modified in place.
func (p *Parameters) Clone() *Parameters {
	o := *p
	return &o
}

// Get returns the value of the named parameter in its conventional units.
func (p *Parameters) Get(name string) (float64, error) {
	fv, f, err := namedField(p, name)
	if err != nil {
		return 0, err
	}
	return magnitude(fv, f)
}

// With returns a copy of p where the named parameter is set to v,
// in the parameter's conventional units.
func (p *Parameters) With(name string, v float64) (*Parameters, error) {
	o := p.Clone()
	fv, f, err := namedField(o, name)
	if err != nil {
		return nil, err
	}
	if err := setMagnitude(fv, f, v); err != nil {
		return nil, err
	}
	return o, nil
}

// Scale returns a copy of p where the named parameter is multiplied by
// factor.
func (p *Parameters) Scale(name string, factor float64) (*Parameters, error) {
	v, err := p.Get(name)
	if err != nil {
		return nil, err
	}
	return p.With(name, v*factor)
}

// Validate returns an error if any of the parameters are missing,
// have the wrong dimensions, or are out of range.
func (p *Parameters) Validate() error {
	for _, c := range []struct {
		name     string
		u        *unit.Unit
		units    string
		positive bool
	}{
		{"CMRO2", p.CMRO2, MlO2Per100gPerMin, false},
		{"z_capillary", p.ZCapillary, Micrometer, true},
		{"velocity", p.Velocity, MillimeterPerSec, true},
		{"D", p.D, Cm2PerSec, true},
		{"r_Krogh", p.RKrogh, Micrometer, true},
		{"r_capillary", p.RCapillary, Micrometer, true},
		{"paO2", p.PaO2, MMHg, false},
		{"Hb", p.Hb, GramPerDeciliter, false},
		{"sigma", p.Sigma, MlO2PerDLPerMMHg, true},
	} {
		if err := checkUnits(c.u, c.units); err != nil {
			return fmt.Errorf("krogh: parameter %s: %v", c.name, err)
		}
		v := c.u.Value()
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || (c.positive && v == 0) {
			return fmt.Errorf("krogh: parameter %s is out of range: %g %s", c.name, Magnitude(c.u, c.units), c.units)
		}
	}
	if pa := Magnitude(p.PaO2, MMHg); pa >= TableMaxPressure {
		return fmt.Errorf("krogh: paO2 of %g mmHg is not below the %g mmHg limit of the concentration table", pa, TableMaxPressure)
	}
	if p.RSteps < 1 || p.ZSteps < 1 {
		return fmt.Errorf("krogh: r_steps (%d) and z_steps (%d) must be positive", p.RSteps, p.ZSteps)
	}
	if p.Test {
		return nil
	}
	if Magnitude(p.RKrogh, Micrometer) <= Magnitude(p.RCapillary, Micrometer) {
		return fmt.Errorf("krogh: r_Krogh must be larger than r_capillary")
	}
	if nr, nz := p.ScaledSteps(); nr < 2 || nz < 1 {
		return fmt.Errorf("krogh: r_Krogh of %g μm leaves %d radial and %d axial samples",
			Magnitude(p.RKrogh, Micrometer), nr, nz)
	}
	return nil
}

// ScaledSteps returns the numbers of radial and axial samples, scaled
// in proportion to the Krogh radius. Halves round to even.
func (p *Parameters) ScaledSteps() (nr, nz int) {
	rk := Magnitude(p.RKrogh, Micrometer)
	scale := func(n int) int { return int(math.RoundToEven(float64(n) * rk / ReferenceKroghRadius)) }
	return scale(p.RSteps), scale(p.ZSteps)
}

// Kappa returns the consumption term of the radial diffusion equation,
// CMRO2 × ρ / (D × σ), with dimensions of pressure per area.
func (p *Parameters) Kappa() *unit.Unit {
	rho := Quantity(TissueDensity, GramPerCm3)
	k := unit.Div(unit.Mul(p.CMRO2, rho), unit.Mul(p.D, p.Sigma))
	if err := k.Check(PressureCurvature); err != nil {
		panic(fmt.Errorf("krogh: consumption term: %v", err))
	}
	return k
}

// String returns a compact listing of the parameter values.
func (p *Parameters) String() string {
	s := ""
	for i, f := range ParameterFields() {
		v, err := p.Get(f.Name)
		if err != nil {
			continue
		}
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%s=%.6g", f.Name, v)
	}
	return s
}
