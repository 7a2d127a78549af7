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
	"sort"
	"sync"

	"github.com/ctessum/unit"
	"github.com/golang/groupcache/lru"
)

const (
	// TablePressureStep is the pressure resolution of a ConcentrationTable [mmHg].
	TablePressureStep = 0.01

	// TableMaxPressure is the exclusive upper bound of the pressures
	// sampled by a ConcentrationTable [mmHg].
	TableMaxPressure = 2000.0
)

// ConcentrationTable holds blood oxygen concentrations sampled at
// evenly spaced partial pressures for one hemoglobin concentration,
// and is used to find the pressure that corresponds to a given
// concentration. It is safe for concurrent use.
//
// The dissociation fit dips slightly below zero for pressures under a
// few mmHg, so the samples decrease up to index dip and increase after it.
type ConcentrationTable struct {
	hb      float64   // g/dL
	samples []float64 // mlO2/dL, indexed by pressure / TablePressureStep
	dip     int       // index of the smallest sample
}

// NewConcentrationTable samples the blood oxygen concentration for
// hemoglobin concentration hb over pressures from 0 up to
// TableMaxPressure. It panics if hb is not a mass concentration.
func NewConcentrationTable(hb *unit.Unit) *ConcentrationTable {
	return newConcentrationTable(Magnitude(hb, GramPerDeciliter))
}

func newConcentrationTable(hb float64) *ConcentrationTable {
	n := int(TableMaxPressure / TablePressureStep)
	t := &ConcentrationTable{
		hb:      hb,
		samples: make([]float64, n),
	}
	for i := range t.samples {
		t.samples[i] = concentration(float64(i)*TablePressureStep, hb)
		if t.samples[i] < t.samples[t.dip] {
			t.dip = i
		}
	}
	return t
}

// Len returns the number of samples in the table.
func (t *ConcentrationTable) Len() int { return len(t.samples) }

// Hb returns the hemoglobin concentration the table was built for.
func (t *ConcentrationTable) Hb() *unit.Unit { return Quantity(t.hb, GramPerDeciliter) }

// Invert returns the sampled pressure whose concentration is nearest to c.
// Concentrations outside of the sampled range map to the pressure of the
// nearest end of the table. It panics if c is not an oxygen concentration.
func (t *ConcentrationTable) Invert(c *unit.Unit) *unit.Unit {
	return Quantity(t.invert(Magnitude(c, MlO2PerDeciliter)), MMHg)
}

// invert is the float version of Invert, with c in mlO2/dL and the
// result in mmHg.
func (t *ConcentrationTable) invert(c float64) float64 {
	return float64(t.nearest(c)) * TablePressureStep
}

// nearest returns the index of the sample nearest to c, with ties going
// to the lower pressure. Each monotone segment of the table is searched
// by bisection; the decreasing segment can only match when c is at or
// below the concentration at zero pressure.
func (t *ConcentrationTable) nearest(c float64) int {
	rising := t.samples[t.dip:]
	i := sort.Search(len(rising), func(i int) bool { return rising[i] >= c })
	best := t.dip + closer(rising, i, c)
	if t.dip == 0 || c > t.samples[0] {
		return best
	}
	falling := t.samples[:t.dip+1]
	j := sort.Search(len(falling), func(i int) bool { return falling[i] <= c })
	if alt := closer(falling, j, c); sq(falling[alt]-c) <= sq(t.samples[best]-c) {
		return alt
	}
	return best
}

// closer returns whichever of s[i-1] and s[i] is nearer to c, clamping
// i to the bounds of s. Ties go to i-1.
func closer(s []float64, i int, c float64) int {
	switch {
	case i <= 0:
		return 0
	case i >= len(s):
		return len(s) - 1
	}
	if sq(s[i-1]-c) <= sq(s[i]-c) {
		return i - 1
	}
	return i
}

func sq(x float64) float64 { return x * x }

// tableCache keeps recently used tables so that parameter searches that
// only vary flow or metabolism do not rebuild them.
type tableCache struct {
	mu    sync.Mutex
	cache *lru.Cache
}

// defaultTables is shared by all simulations in the process.
var defaultTables = newTableCache(16)

func newTableCache(n int) *tableCache {
	return &tableCache{cache: lru.New(n)}
}

func (tc *tableCache) get(hb float64) *ConcentrationTable {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if t, ok := tc.cache.Get(hb); ok {
		return t.(*ConcentrationTable)
	}
	t := newConcentrationTable(hb)
	tc.cache.Add(hb, t)
	return t
}

// TableFor returns a ConcentrationTable for hemoglobin concentration hb,
// reusing a previously built table when one is available.
func TableFor(hb *unit.Unit) *ConcentrationTable {
	return defaultTables.get(Magnitude(hb, GramPerDeciliter))
}
