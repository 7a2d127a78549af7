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
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// HypoxicThreshold is the tissue pressure at or below which tissue is
// counted as hypoxic [mmHg].
const HypoxicThreshold = 10.0

// Result holds the outputs of a simulation.
type Result struct {
	PaO2                 *unit.Unit `name:"paO2" units:"mmHg" desc:"Arterial oxygen pressure at the capillary inlet"`
	PbO2                 *unit.Unit `name:"pbO2" units:"mmHg" desc:"Volume-weighted average tissue oxygen pressure"`
	AVO2Difference       *unit.Unit `name:"av_o2_difference" units:"mlO2/dL" desc:"Arterio-venous blood oxygen concentration difference"`
	JugularVenousO2Sat   float64    `name:"jugular_venous_o2_sat" units:"%" desc:"Hemoglobin saturation at the capillary outlet"`
	O2ExtractionFraction float64    `name:"o2_extraction_fraction" desc:"Fraction of the inlet blood oxygen extracted by the tissue"`
	PavO2                *unit.Unit `name:"pavO2" units:"mmHg" desc:"Arterio-venous oxygen pressure difference"`
	HypoxicFraction      float64    `name:"hypoxic_fraction" desc:"Fraction of tissue volume at or below 10 mmHg"`

	// P is the tissue pressure field.
	P *PressureField
}

// ResultFields returns the names, units and descriptions of the scalar
// results that can be read with Get.
func ResultFields() []FieldInfo {
	return fieldInfo(reflect.TypeOf(Result{}))
}

// Get returns the value of the named result in its conventional units.
func (r *Result) Get(name string) (float64, error) {
	fv, f, err := namedField(r, name)
	if err != nil {
		return 0, err
	}
	return magnitude(fv, f)
}

// TestResult returns the placeholder result for parameters with Test set:
// paO2 is copied from p, every other scalar is 1 and the field is all
// zeros with the unscaled numbers of samples.
func TestResult(p *Parameters) *Result {
	return &Result{
		PaO2:                 p.PaO2,
		PbO2:                 Quantity(1, MMHg),
		AVO2Difference:       Quantity(1, MlO2PerDeciliter),
		JugularVenousO2Sat:   1,
		O2ExtractionFraction: 1,
		PavO2:                Quantity(1, MMHg),
		HypoxicFraction:      1,
		P:                    NewPressureField(p.ZSteps, p.RSteps),
	}
}

// annulusVolumes returns the volume of the tissue annulus around each
// radial sample in a slice of thickness dz [μm³]. The annuli have equal
// widths and tile the space between rc and rk.
func annulusVolumes(rc, rk, dz float64, nr int) []float64 {
	dr := (rk - rc) / float64(nr)
	v := make([]float64, nr)
	for i := range v {
		inner := rc + float64(i)*dr
		outer := inner + dr
		v[i] = math.Pi * (outer*outer - inner*inner) * dz
	}
	return v
}

// Aggregate reduces the pressure field to the scalar results.
func Aggregate() DomainManipulator {
	return func(c *Capillary) error {
		if !c.Done {
			return fmt.Errorf("krogh: cannot aggregate results before slice %d is solved", c.nz-1)
		}
		p := c.Params
		nz, nr := c.Field.Shape()
		rc := Magnitude(p.RCapillary, Micrometer)
		rk := Magnitude(p.RKrogh, Micrometer)
		dz := Magnitude(p.ZCapillary, Micrometer) / float64(nz)
		vol := annulusVolumes(rc, rk, dz, nr)
		totalVolume := float64(nz) * floats.Sum(vol)

		var weighted mat.VecDense
		weighted.MulVec(c.Field, mat.NewVecDense(nr, vol))
		pb := floats.Sum(weighted.RawVector().Data) / totalVolume

		var hypoxic float64
		for z := 0; z < nz; z++ {
			for r := 0; r < nr; r++ {
				if c.Field.At(z, r) <= HypoxicThreshold {
					hypoxic += vol[r]
				}
			}
		}

		in, out := c.Field.Pressure(0, 0), c.Field.Pressure(nz-1, 0)
		cIn := OxygenConcentration(in, p.Hb)
		avDiff := unit.Sub(cIn, OxygenConcentration(out, p.Hb))
		var extraction float64
		if cIn.Value() > 0 {
			extraction = avDiff.Value() / cIn.Value()
		}

		c.Result = &Result{
			PaO2:                 p.PaO2,
			PbO2:                 Quantity(pb, MMHg),
			AVO2Difference:       avDiff,
			JugularVenousO2Sat:   SaturationPercent(out),
			O2ExtractionFraction: extraction,
			PavO2:                unit.Sub(in, out),
			HypoxicFraction:      hypoxic / totalVolume,
			P:                    c.Field,
		}
		return nil
	}
}
