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
	"sort"

	"github.com/ctessum/unit"
)

// O2Dim is the dimension representing a volume of oxygen gas at standard
// temperature and pressure. Its base unit is one milliliter of O2.
var O2Dim = unit.NewDimension("mlO2")

// Names of the conventional units that quantities are read and written in.
const (
	MMHg              = "mmHg"
	Micrometer        = "μm"
	MillimeterPerSec  = "mm/s"
	Cm2PerSec         = "cm²/s"
	GramPerDeciliter  = "g/dL"
	MlO2Per100gPerMin = "mlO2/100g/min"
	MlO2PerDLPerMMHg  = "mlO2/dL/mmHg"
	MlO2PerDeciliter  = "mlO2/dL"
	MlO2              = "mlO2"
	MlO2PerSec        = "mlO2/s"
	GramPerCm3        = "g/cm³"
)

const (
	pascalsPerMMHg      = 133.322387415
	cubicMetersPerDL    = 1.0e-4
	cubicMetersPerCm3   = 1.0e-6
	secondsPerMinute    = 60.0
	kilogramsPerGram    = 1.0e-3
	metersPerMicrometer = 1.0e-6
)

// Dimensions of the physical quantities used by the model.
var (
	// Diffusivity is [m² s⁻¹].
	Diffusivity = unit.Dimensions{unit.LengthDim: 2, unit.TimeDim: -1}

	// MetabolicRate is an oxygen consumption rate per unit tissue mass [mlO2 kg⁻¹ s⁻¹].
	MetabolicRate = unit.Dimensions{O2Dim: 1, unit.MassDim: -1, unit.TimeDim: -1}

	// O2Concentration is an oxygen volume per unit volume [mlO2 m⁻³].
	O2Concentration = unit.Dimensions{O2Dim: 1, unit.LengthDim: -3}

	// Solubility is an oxygen concentration per unit pressure [mlO2 m⁻³ Pa⁻¹].
	Solubility = unit.Dimensions{O2Dim: 1, unit.LengthDim: -2, unit.MassDim: -1, unit.TimeDim: 2}

	// O2Volume is an amount of oxygen [mlO2].
	O2Volume = unit.Dimensions{O2Dim: 1}

	// O2Flux is an oxygen transfer rate [mlO2 s⁻¹].
	O2Flux = unit.Dimensions{O2Dim: 1, unit.TimeDim: -1}

	// PressureCurvature is the dimension of the radial reaction term [Pa m⁻²].
	PressureCurvature = unit.Dimensions{unit.MassDim: 1, unit.LengthDim: -3, unit.TimeDim: -2}
)

type conventionalUnit struct {
	factor float64 // multiply a conventional magnitude by factor to get SI.
	dims   unit.Dimensions
}

// conventionalUnits holds the unit conversions understood by Quantity and
// Magnitude. It is never modified after initialization.
var conventionalUnits = map[string]conventionalUnit{
	MMHg:              {pascalsPerMMHg, unit.Pascal},
	Micrometer:        {metersPerMicrometer, unit.Meter},
	"um":              {metersPerMicrometer, unit.Meter},
	MillimeterPerSec:  {1.0e-3, unit.MeterPerSecond},
	Cm2PerSec:         {1.0e-4, Diffusivity},
	GramPerDeciliter:  {kilogramsPerGram / cubicMetersPerDL, unit.KilogramPerMeter3},
	MlO2Per100gPerMin: {1 / (100 * kilogramsPerGram) / secondsPerMinute, MetabolicRate},
	MlO2PerDLPerMMHg:  {1 / cubicMetersPerDL / pascalsPerMMHg, Solubility},
	MlO2PerDeciliter:  {1 / cubicMetersPerDL, O2Concentration},
	MlO2:              {1, O2Volume},
	MlO2PerSec:        {1, O2Flux},
	GramPerCm3:        {kilogramsPerGram / cubicMetersPerCm3, unit.KilogramPerMeter3},
}

// KnownUnits returns the names of the conventional units, sorted.
func KnownUnits() []string {
	o := make([]string, 0, len(conventionalUnits))
	for k := range conventionalUnits {
		o = append(o, k)
	}
	sort.Strings(o)
	return o
}

func lookupUnits(units string) conventionalUnit {
	c, ok := conventionalUnits[units]
	if !ok {
		panic(fmt.Errorf("krogh: unknown units '%s'", units))
	}
	return c
}

// Quantity returns a dimensioned value from magnitude v given in the
// named conventional units. It panics if the units are unknown.
func Quantity(v float64, units string) *unit.Unit {
	c := lookupUnits(units)
	return unit.New(v*c.factor, c.dims)
}

// Magnitude returns the value of u expressed in the named conventional units.
// It panics if u does not have the dimensions of those units.
func Magnitude(u *unit.Unit, units string) float64 {
	c := lookupUnits(units)
	if err := u.Check(c.dims); err != nil {
		panic(fmt.Errorf("krogh: converting to %s: %v", units, err))
	}
	return u.Value() / c.factor
}

// checkUnits returns an error if u is missing or cannot be expressed in units.
func checkUnits(u *unit.Unit, units string) error {
	if u == nil {
		return fmt.Errorf("value is missing")
	}
	c, ok := conventionalUnits[units]
	if !ok {
		return fmt.Errorf("unknown units '%s'", units)
	}
	return u.Check(c.dims)
}
