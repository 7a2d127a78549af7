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

import "github.com/ctessum/unit"

// Coefficients of the rational fit to the hemoglobin dissociation curve.
const (
	satA1 = -8.5322289e3
	satA2 = 2.121301e3
	satA3 = -6.7073989e1
	satA4 = 9.3596087e5
	satA5 = -3.1346258e4
	satA6 = 2.3961674e3
	satA7 = -6.7104406e1
)

const (
	// HufnerConstant is the measured oxygen carrying capacity of
	// hemoglobin [mlO2 / g Hb].
	HufnerConstant = 1.34

	// plasmaSolubility is the dissolved oxygen in blood per unit
	// pressure [mlO2 / dL / mmHg].
	plasmaSolubility = 0.003
)

// saturation returns the hemoglobin oxygen saturation in percent for a
// partial pressure p in mmHg.
func saturation(p float64) float64 {
	p2 := p * p
	p3 := p2 * p
	p4 := p3 * p
	return 100 * (satA1*p + satA2*p2 + satA3*p3 + p4) /
		(satA4 + satA5*p + satA6*p2 + satA7*p3 + p4)
}

// concentration returns the blood oxygen content in mlO2/dL for
// partial pressure p [mmHg] and hemoglobin concentration hb [g/dL].
func concentration(p, hb float64) float64 {
	return HufnerConstant*hb*saturation(p)*0.01 + plasmaSolubility*p
}

// SaturationPercent returns the percentage of hemoglobin saturated with
// oxygen at partial pressure p. The result is dimensionless.
// It panics if p is not a pressure.
func SaturationPercent(p *unit.Unit) float64 {
	return saturation(Magnitude(p, MMHg))
}

// OxygenConcentration returns the total oxygen content of blood
// (hemoglobin-bound plus dissolved) at partial pressure p and hemoglobin
// concentration hb. It panics if p is not a pressure or hb is not a mass
// concentration.
func OxygenConcentration(p, hb *unit.Unit) *unit.Unit {
	c := concentration(Magnitude(p, MMHg), Magnitude(hb, GramPerDeciliter))
	return Quantity(c, MlO2PerDeciliter)
}
