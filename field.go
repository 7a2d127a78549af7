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
	"github.com/ctessum/unit"
	"gonum.org/v1/gonum/mat"
)

// PressureField holds tissue oxygen pressures [mmHg] with one row per
// axial slice, from the capillary inlet to the outlet, and one column
// per radial sample, from the capillary wall to the Krogh radius.
type PressureField struct {
	*mat.Dense
}

// NewPressureField returns a zero-valued field with nz axial slices and
// nr radial samples.
func NewPressureField(nz, nr int) *PressureField {
	return &PressureField{Dense: mat.NewDense(nz, nr, nil)}
}

// Shape returns the numbers of axial slices and radial samples.
func (f *PressureField) Shape() (nz, nr int) { return f.Dims() }

// Pressure returns the dimensioned pressure at axial slice z and radial
// sample r.
func (f *PressureField) Pressure(z, r int) *unit.Unit {
	return Quantity(f.At(z, r), MMHg)
}

// Wall returns the pressures at the capillary wall for every slice.
func (f *PressureField) Wall() []float64 {
	return mat.Col(nil, 0, f.Dense)
}

// Values returns the pressures in row-major order. The returned slice
// shares storage with f.
func (f *PressureField) Values() []float64 {
	return f.RawMatrix().Data
}
