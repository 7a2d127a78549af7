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

package search

import (
	"context"
	"fmt"
	"math"
)

// Func returns the output of a simulation where the searched parameter
// is set to x.
type Func func(ctx context.Context, x float64) (float64, error)

// A Strategy finds an x between start and end where f(x) reaches
// target, meaning that f(x) - target is zero or has the opposite sign
// from f(start) - target. If there is no such x, reached is false and
// x is the best point found.
type Strategy interface {
	Find(ctx context.Context, f Func, start, end, target float64) (x float64, reached bool, err error)
}

// HillClimb moves from start toward end in Steps equal steps, stopping
// at the first point where the target is reached.
type HillClimb struct {
	Steps int
}

// Find implements Strategy.
func (h HillClimb) Find(ctx context.Context, f Func, start, end, target float64) (float64, bool, error) {
	if h.Steps < 1 {
		return 0, false, fmt.Errorf("search: hill climb needs at least one step, not %d", h.Steps)
	}
	v, err := f(ctx, start)
	if err != nil {
		return start, false, err
	}
	s0 := sign(v - target)
	if s0 == 0 {
		return start, true, nil
	}
	best, bestDiff := start, math.Abs(v-target)
	step := (end - start) / float64(h.Steps)
	for i := 1; i <= h.Steps; i++ {
		if err := ctx.Err(); err != nil {
			return best, false, err
		}
		x := start + float64(i)*step
		if i == h.Steps {
			x = end
		}
		v, err := f(ctx, x)
		if err != nil {
			return best, false, err
		}
		if sign(v-target) != s0 {
			return x, true, nil
		}
		if d := math.Abs(v - target); d < bestDiff {
			best, bestDiff = x, d
		}
	}
	return best, false, nil
}

// Bisect halves the interval between start and end until the target is
// bracketed within Tolerance times the width of the interval, or
// MaxIterations halvings have been made. The returned point is on the
// reached side of the bracket.
type Bisect struct {
	MaxIterations int
	Tolerance     float64
}

// Find implements Strategy.
func (b Bisect) Find(ctx context.Context, f Func, start, end, target float64) (float64, bool, error) {
	vs, err := f(ctx, start)
	if err != nil {
		return start, false, err
	}
	s0 := sign(vs - target)
	if s0 == 0 {
		return start, true, nil
	}
	ve, err := f(ctx, end)
	if err != nil {
		return start, false, err
	}
	if sign(ve-target) == s0 {
		if math.Abs(ve-target) < math.Abs(vs-target) {
			return end, false, nil
		}
		return start, false, nil
	}
	lo, hi := start, end // f(lo) has not reached the target; f(hi) has.
	width := math.Abs(end - start)
	for i := 0; i < b.MaxIterations && math.Abs(hi-lo) > b.Tolerance*width; i++ {
		if err := ctx.Err(); err != nil {
			return hi, true, err
		}
		mid := (lo + hi) / 2
		v, err := f(ctx, mid)
		if err != nil {
			return hi, true, err
		}
		switch sign(v - target) {
		case 0:
			return mid, true, nil
		case s0:
			lo = mid
		default:
			hi = mid
		}
	}
	return hi, true, nil
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
