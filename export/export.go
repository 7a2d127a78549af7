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

// Package export writes tables of sweep results to delimited text and
// spreadsheet files.
package export

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/spatialmodel/krogh"
	"github.com/spatialmodel/krogh/sweep"
)

// Column is one column of an exported table. Its value is either read
// from the record at Path or computed by Expr.
type Column struct {
	Name string
	Path string

	// Expr, if set, computes the column from the columns before it and
	// from bracketed dot paths such as [base_results.pbO2].
	Expr *govaluate.EvaluableExpression
}

// DefaultColumns returns the standard columns of a results table.
func DefaultColumns() []Column {
	return []Column{
		{Name: "CMRO2", Path: "params.CMRO2"},
		{Name: "z_cap", Path: "params.z_capillary"},
		{Name: "vel", Path: "params.velocity"},
		{Name: "D", Path: "params.D"},
		{Name: "r_Krogh", Path: "params.r_Krogh"},
		{Name: "r_cap", Path: "params.r_capillary"},
		{Name: "paO2", Path: "params.paO2"},
		{Name: "Hb", Path: "params.Hb"},
		{Name: "pbO2", Path: "base_results.pbO2"},
		{Name: "jvO2_sat", Path: "base_results.jugular_venous_o2_sat"},
		{Name: "hf", Path: "base_results.hypoxic_fraction"},
		{Name: "ratio_pbO2_paO2", Path: "ratio_pbO2_paO2"},
		{Name: "paO2up_hf", Path: "paO2up_hf"},
		{Name: "ratio_pbO2_vel", Path: "ratio_pbO2_vel"},
		{Name: "velup_hf", Path: "velup_hf"},
		{Name: "tenpercentvel", Path: "velocity_params.velocity"},
		{Name: "tenpercentvelpbO2", Path: "velocity_search.pbO2"},
		{Name: "tenpercentvelhf", Path: "velocity_search.hypoxic_fraction"},
		{Name: "tenpercentPa", Path: "paO2_params.paO2"},
		{Name: "tenpercentPapbO2", Path: "paO2_search.pbO2"},
		{Name: "tenpercentPahf", Path: "paO2_search.hypoxic_fraction"},
		{Name: "tenpercentCMRO2", Path: "CMRO2_params.CMRO2"},
		{Name: "tenpercentCMRO2pbO2", Path: "CMRO2_search.pbO2"},
		{Name: "tenpercentCMRO2hf", Path: "CMRO2_search.hypoxic_fraction"},
		{Name: "tenpercentHb", Path: "hb_params.Hb"},
		{Name: "tenpercentHbpbO2", Path: "hb_search.pbO2"},
		{Name: "tenpercentHbhf", Path: "hb_search.hypoxic_fraction"},
	}
}

var exprFuncs = map[string]govaluate.ExpressionFunction{
	"exp":  mathFunc(math.Exp),
	"log":  mathFunc(math.Log),
	"sqrt": mathFunc(math.Sqrt),
	"abs":  mathFunc(math.Abs),
}

func mathFunc(f func(float64) float64) govaluate.ExpressionFunction {
	return func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("export: want 1 argument, have %d", len(args))
		}
		v, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("export: argument %v is not a number", args[0])
		}
		return f(v), nil
	}
}

// ExprColumns parses definitions of the form "name = expression" into
// computed columns.
func ExprColumns(defs []string) ([]Column, error) {
	var cols []Column
	for _, d := range defs {
		i := strings.Index(d, "=")
		if i < 1 {
			return nil, fmt.Errorf("export: column definition '%s' is not of the form name = expression", d)
		}
		name := strings.TrimSpace(d[:i])
		expr, err := govaluate.NewEvaluableExpressionWithFunctions(strings.TrimSpace(d[i+1:]), exprFuncs)
		if err != nil {
			return nil, fmt.Errorf("export: column %s: %v", name, err)
		}
		cols = append(cols, Column{Name: name, Expr: expr})
	}
	return cols, nil
}

// Resolve returns the value at a dot path in rec, such as
// "base_results.pbO2" or "ratio_pbO2_vel". Quantities are given in their
// conventional units.
func Resolve(rec *sweep.Record, path string) (float64, error) {
	head, rest := path, ""
	if i := strings.Index(path, "."); i >= 0 {
		head, rest = path[:i], path[i+1:]
	}
	v := reflect.ValueOf(rec).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).Tag.Get("name") != head {
			continue
		}
		fv := v.Field(i)
		switch x := fv.Interface().(type) {
		case float64:
			if rest == "" {
				return x, nil
			}
		case bool:
			if rest == "" {
				if x {
					return 1, nil
				}
				return 0, nil
			}
		case *krogh.Parameters, *krogh.Result:
			if fv.IsNil() {
				return math.NaN(), nil
			}
			if rest != "" {
				return x.(krogh.Getter).Get(rest)
			}
		}
		return 0, fmt.Errorf("export: invalid path '%s'", path)
	}
	return 0, fmt.Errorf("export: unknown field '%s' in path '%s'", head, path)
}

// Table is a table of numbers with a header row.
type Table struct {
	Header []string
	Rows   [][]float64
}

// Column returns the values of the named column.
func (t *Table) Column(name string) ([]float64, error) {
	for j, h := range t.Header {
		if h == name {
			o := make([]float64, len(t.Rows))
			for i, r := range t.Rows {
				o[i] = r[j]
			}
			return o, nil
		}
	}
	return nil, fmt.Errorf("export: table has no column '%s'", name)
}

// Build creates a table with one row per record. Nil records, which
// stand for failed jobs, are skipped.
func Build(recs []*sweep.Record, cols []Column) (*Table, error) {
	t := &Table{Header: make([]string, len(cols))}
	for j, c := range cols {
		t.Header[j] = c.Name
	}
	for _, rec := range recs {
		if rec == nil {
			continue
		}
		row := make([]float64, len(cols))
		vars := make(map[string]interface{})
		for j, c := range cols {
			var err error
			if c.Expr != nil {
				row[j], err = evaluate(c, rec, vars)
			} else {
				row[j], err = Resolve(rec, c.Path)
			}
			if err != nil {
				return nil, fmt.Errorf("export: job %d column %s: %v", rec.Params.JobNumber, c.Name, err)
			}
			vars[c.Name] = row[j]
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func evaluate(c Column, rec *sweep.Record, vars map[string]interface{}) (float64, error) {
	params := make(map[string]interface{}, len(vars))
	for k, v := range vars {
		params[k] = v
	}
	for _, name := range c.Expr.Vars() {
		if _, ok := params[name]; ok {
			continue
		}
		v, err := Resolve(rec, name)
		if err != nil {
			return 0, err
		}
		params[name] = v
	}
	r, err := c.Expr.Evaluate(params)
	if err != nil {
		return 0, err
	}
	v, ok := r.(float64)
	if !ok {
		return 0, fmt.Errorf("expression result %v is not a number", r)
	}
	return v, nil
}
