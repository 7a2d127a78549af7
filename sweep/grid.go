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

// Package sweep runs the Krogh cylinder model over grids of parameter
// values and collects the results.
package sweep

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spatialmodel/krogh"
	"github.com/spf13/cast"
)

// Names lists the names that can be given values in a grid, in the order
// they are expanded. The last name varies fastest.
var Names = []string{
	"CMRO2", "z_capillary", "velocity", "D", "r_Krogh", "r_capillary", "paO2",
	"Hb", "sigma", "r_steps", "z_steps", "test",
	"paO2_multiple", "velocity_multiple", "no_search",
}

// Grid holds the candidate values of each named parameter, in the
// parameters' conventional units. Boolean values are stored as 0 or 1.
type Grid map[string][]float64

// Point is one combination of grid values.
type Point struct {
	// Params are the simulation parameters. JobNumber is the 1-based
	// position of the point in its grid.
	Params *krogh.Parameters

	// PaO2Multiple and VelocityMultiple scale paO2 and velocity for the
	// sensitivity runs of the point.
	PaO2Multiple, VelocityMultiple float64

	// NoSearch skips the searches for a 10% increase in pbO2.
	NoSearch bool
}

// LoadGrid reads a grid from a JSON file, or from a TOML file if the file
// name ends in ".toml". Each name maps to a single value or a list of
// values.
func LoadGrid(path string) (Grid, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sweep: loading grid: %v", err)
	}
	raw := make(map[string]interface{})
	if strings.ToLower(filepath.Ext(path)) == ".toml" {
		_, err = toml.Decode(string(b), &raw)
	} else {
		err = json.Unmarshal(b, &raw)
	}
	if err != nil {
		return nil, fmt.Errorf("sweep: loading grid %s: %v", path, err)
	}
	return ParseGrid(raw)
}

// ParseGrid converts loosely typed values into a Grid.
func ParseGrid(raw map[string]interface{}) (Grid, error) {
	g := make(Grid)
	for name, v := range raw {
		if !isName(name) {
			return nil, fmt.Errorf("sweep: unknown parameter '%s'", name)
		}
		var values []interface{}
		switch vv := v.(type) {
		case []interface{}:
			values = vv
		case []map[string]interface{}:
			return nil, fmt.Errorf("sweep: parameter %s: tables are not allowed", name)
		default:
			values = []interface{}{v}
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("sweep: parameter %s has no values", name)
		}
		for _, x := range values {
			f, err := toFloat(name, x)
			if err != nil {
				return nil, fmt.Errorf("sweep: parameter %s: %v", name, err)
			}
			g[name] = append(g[name], f)
		}
	}
	return g, nil
}

func isName(name string) bool {
	for _, n := range Names {
		if n == name {
			return true
		}
	}
	return false
}

func isBool(name string) bool { return name == "test" || name == "no_search" }

func toFloat(name string, x interface{}) (float64, error) {
	switch {
	case isBool(name):
		b, err := cast.ToBoolE(x)
		if b {
			return 1, err
		}
		return 0, err
	case name == "r_steps" || name == "z_steps":
		i, err := cast.ToIntE(x)
		return float64(i), err
	}
	return cast.ToFloat64E(x)
}

// Len returns the number of points in the expanded grid.
func (g Grid) Len() int {
	n := 1
	for _, v := range g {
		n *= len(v)
	}
	return n
}

// String lists the values of g one name per line.
func (g Grid) String() string {
	var b strings.Builder
	for _, name := range Names {
		if v, ok := g[name]; ok {
			fmt.Fprintf(&b, "%s: %v\n", name, v)
		}
	}
	return b.String()
}

// Expand returns the Cartesian product of the values in g. Names missing
// from g take their default values.
func (g Grid) Expand() ([]Point, error) {
	var names []string
	for _, name := range Names {
		if _, ok := g[name]; ok {
			names = append(names, name)
		}
	}
	for name, v := range g {
		if !isName(name) {
			return nil, fmt.Errorf("sweep: unknown parameter '%s'", name)
		}
		if len(v) == 0 {
			return nil, fmt.Errorf("sweep: parameter %s has no values", name)
		}
	}
	n := g.Len()
	points := make([]Point, 0, n)
	index := make([]int, len(names))
	for i := 0; i < n; i++ {
		pt := Point{
			Params:           krogh.DefaultParameters(),
			PaO2Multiple:     1,
			VelocityMultiple: 1,
		}
		for j, name := range names {
			if err := pt.set(name, g[name][index[j]]); err != nil {
				return nil, err
			}
		}
		pt.Params.JobNumber = i + 1
		points = append(points, pt)
		for j := len(index) - 1; j >= 0; j-- {
			index[j]++
			if index[j] < len(g[names[j]]) {
				break
			}
			index[j] = 0
		}
	}
	return points, nil
}

func (pt *Point) set(name string, v float64) error {
	switch name {
	case "paO2_multiple":
		pt.PaO2Multiple = v
	case "velocity_multiple":
		pt.VelocityMultiple = v
	case "no_search":
		pt.NoSearch = v != 0
	default:
		p, err := pt.Params.With(name, v)
		if err != nil {
			return fmt.Errorf("sweep: %v", err)
		}
		pt.Params = p
	}
	return nil
}

// Validate checks the parameters and multiples of pt.
func (pt Point) Validate() error {
	if err := pt.Params.Validate(); err != nil {
		return fmt.Errorf("sweep: job %d: %v", pt.Params.JobNumber, err)
	}
	if !(pt.PaO2Multiple > 0) || !(pt.VelocityMultiple > 0) {
		return fmt.Errorf("sweep: job %d: multiples must be positive: paO2 %g, velocity %g",
			pt.Params.JobNumber, pt.PaO2Multiple, pt.VelocityMultiple)
	}
	return nil
}
