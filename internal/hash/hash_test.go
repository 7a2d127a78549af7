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

package hash

import (
	"math"
	"testing"
)

type binaryKey struct{ b []byte }

func (k binaryKey) MarshalBinary() ([]byte, error) { return k.b, nil }

// privateKey cannot be gob encoded.
type privateKey struct {
	x float64
	y int
}

func TestHash(t *testing.T) {
	type key struct {
		A string
		B float64
	}
	tests := []struct {
		name string
		a, b interface{}
		same bool
	}{
		{"gob same", key{"x", 1}, key{"x", 1}, true},
		{"gob different", key{"x", 1}, key{"x", 2}, false},
		{"binary same", binaryKey{[]byte{1, 2}}, binaryKey{[]byte{1, 2}}, true},
		{"binary different", binaryKey{[]byte{1, 2}}, binaryKey{[]byte{2, 1}}, false},
		{"spew", privateKey{x: math.NaN(), y: 1}, privateKey{x: math.NaN(), y: 1}, true},
		{"spew different", privateKey{x: math.NaN(), y: 1}, privateKey{x: math.NaN(), y: 2}, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ha, hb := Hash(test.a), Hash(test.b)
			if len(ha) != 32 {
				t.Errorf("hash %q has length %d", ha, len(ha))
			}
			if (ha == hb) != test.same {
				t.Errorf("%s vs %s", ha, hb)
			}
		})
	}
}
