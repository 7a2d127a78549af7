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

// A Getter returns the value of a named field in conventional units.
// Parameters and Result are Getters.
type Getter interface {
	Get(name string) (float64, error)
}

// FieldInfo describes a named field of Parameters or Result.
type FieldInfo struct {
	Name        string
	Units       string
	Description string
}

var unitType = reflect.TypeOf((*unit.Unit)(nil))

// fieldInfo returns information about the tagged fields of struct type t,
// in declaration order.
func fieldInfo(t reflect.Type) []FieldInfo {
	var o []FieldInfo
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := f.Tag.Get("name")
		if name == "" {
			continue
		}
		o = append(o, FieldInfo{
			Name:        name,
			Units:       f.Tag.Get("units"),
			Description: f.Tag.Get("desc"),
		})
	}
	return o
}

// namedField returns the field of the struct pointed to by ptr whose
// name tag matches name.
func namedField(ptr interface{}, name string) (reflect.Value, reflect.StructField, error) {
	v := reflect.ValueOf(ptr).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Tag.Get("name") == name {
			return v.Field(i), f, nil
		}
	}
	return reflect.Value{}, reflect.StructField{}, fmt.Errorf("krogh: %s has no field '%s'", t.Name(), name)
}

// magnitude returns the value of a tagged field in its conventional units.
func magnitude(fv reflect.Value, f reflect.StructField) (float64, error) {
	switch {
	case f.Type == unitType:
		u := fv.Interface().(*unit.Unit)
		if u == nil {
			return math.NaN(), nil
		}
		if err := checkUnits(u, f.Tag.Get("units")); err != nil {
			return 0, fmt.Errorf("krogh: field %s: %v", f.Tag.Get("name"), err)
		}
		return Magnitude(u, f.Tag.Get("units")), nil
	case f.Type.Kind() == reflect.Float64:
		return fv.Float(), nil
	case f.Type.Kind() == reflect.Int:
		return float64(fv.Int()), nil
	case f.Type.Kind() == reflect.Bool:
		if fv.Bool() {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("krogh: field %s is not numeric", f.Tag.Get("name"))
}

// setMagnitude sets a tagged field from a value in its conventional units.
func setMagnitude(fv reflect.Value, f reflect.StructField, v float64) error {
	switch {
	case f.Type == unitType:
		fv.Set(reflect.ValueOf(Quantity(v, f.Tag.Get("units"))))
	case f.Type.Kind() == reflect.Float64:
		fv.SetFloat(v)
	case f.Type.Kind() == reflect.Int:
		fv.SetInt(int64(math.Round(v)))
	case f.Type.Kind() == reflect.Bool:
		fv.SetBool(v != 0)
	default:
		return fmt.Errorf("krogh: field %s is not numeric", f.Tag.Get("name"))
	}
	return nil
}
