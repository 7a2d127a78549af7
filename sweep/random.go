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

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultRandomRanges returns ranges representative of cerebral
// capillaries. Names with one value are held constant.
func DefaultRandomRanges() map[string][]float64 {
	return map[string][]float64{
		"CMRO2":             {2.5, 4.5},
		"z_capillary":       {200},
		"velocity":          {0.5, 1.5},
		"D":                 {1e-6, 1e-4},
		"r_Krogh":           {20, 40},
		"r_capillary":       {3},
		"paO2":              {150, 250},
		"Hb":                {10, 12},
		"r_steps":           {100},
		"z_steps":           {1000},
		"sigma":             {0.0031},
		"test":              {0},
		"paO2_multiple":     {1},
		"velocity_multiple": {1},
		"no_search":         {1},
	}
}

// RandomGrid returns n points whose values are drawn uniformly from
// ranges. A range is either a single constant value or a [min, max]
// pair. The same seed always gives the same points.
func RandomGrid(ranges map[string][]float64, n int, seed uint64) ([]Point, error) {
	src := rand.NewSource(seed)
	dists := make(map[string]distuv.Uniform)
	for name, r := range ranges {
		if !isName(name) {
			return nil, fmt.Errorf("sweep: unknown parameter '%s'", name)
		}
		switch len(r) {
		case 1:
		case 2:
			if r[0] > r[1] {
				return nil, fmt.Errorf("sweep: parameter %s: range minimum %g exceeds maximum %g", name, r[0], r[1])
			}
			dists[name] = distuv.Uniform{Min: r[0], Max: r[1], Src: src}
		default:
			return nil, fmt.Errorf("sweep: parameter %s: a range needs 1 or 2 values, not %d", name, len(r))
		}
	}
	points := make([]Point, 0, n)
	for i := 0; i < n; i++ {
		g := make(Grid)
		for _, name := range Names {
			r, ok := ranges[name]
			if !ok {
				continue
			}
			if d, ok := dists[name]; ok {
				g[name] = []float64{d.Rand()}
			} else {
				g[name] = []float64{r[0]}
			}
		}
		pts, err := g.Expand()
		if err != nil {
			return nil, err
		}
		pt := pts[0]
		pt.Params.JobNumber = i + 1
		points = append(points, pt)
	}
	return points, nil
}
