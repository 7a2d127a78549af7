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

// Package search finds values of one simulation parameter for which a
// simulation output reaches a target value.
package search

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/krogh"
)

// An Evaluator runs a simulation.
type Evaluator interface {
	Evaluate(ctx context.Context, p *krogh.Parameters) (*krogh.Result, error)
}

// EvaluatorFunc is an adapter to allow the use of ordinary functions
// as Evaluators.
type EvaluatorFunc func(ctx context.Context, p *krogh.Parameters) (*krogh.Result, error)

// Evaluate calls f(ctx, p).
func (f EvaluatorFunc) Evaluate(ctx context.Context, p *krogh.Parameters) (*krogh.Result, error) {
	return f(ctx, p)
}

// Range is the interval of a parameter to search, in the parameter's
// conventional units.
type Range struct {
	Param    string
	Min, Max float64
}

func (r Range) String() string {
	return fmt.Sprintf("%s ∈ [%g, %g]", r.Param, r.Min, r.Max)
}

// An Option alters the behavior of Search.
type Option func(*options)

type options struct {
	log logrus.FieldLogger
}

// WithLogger directs the messages of Search to l instead of the
// standard logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.log = l }
}

// Outcome is the result of a search.
type Outcome struct {
	// Params are the parameters of the returned simulation.
	Params *krogh.Parameters

	// Result is the simulation result at Value.
	Result *krogh.Result

	// Value is the value of the searched parameter.
	Value float64

	// Reached reports whether the output reached the target.
	Reached bool

	// Evaluations is the number of simulations requested.
	Evaluations int
}

// Search looks for a value of the parameter r.Param within r for which
// the result field named target reaches value, starting from the end of
// r nearest the value of the parameter in p and moving toward the other
// end. If p.Test is set, the start is evaluated once and the target is
// taken as reached. Unknown field names and invalid ranges return an
// error before any simulations are run.
func Search(ctx context.Context, eval Evaluator, p *krogh.Parameters, target string, value float64, r Range, s Strategy, opts ...Option) (*Outcome, error) {
	cfg := options{log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if !isField(krogh.ResultFields(), target) {
		return nil, fmt.Errorf("search: unknown target field '%s'", target)
	}
	if !isField(krogh.ParameterFields(), r.Param) {
		return nil, fmt.Errorf("search: unknown parameter '%s'", r.Param)
	}
	if math.IsNaN(r.Min) || math.IsNaN(r.Max) || math.IsInf(r.Min, 0) || math.IsInf(r.Max, 0) || r.Min > r.Max {
		return nil, fmt.Errorf("search: invalid range %v", r)
	}
	current, err := p.Get(r.Param)
	if err != nil {
		return nil, fmt.Errorf("search: %v", err)
	}
	start, end := r.Min, r.Max
	if math.Abs(current-r.Max) < math.Abs(current-r.Min) {
		start, end = r.Max, r.Min
	}

	o := &Outcome{}
	runs := make(map[float64]*Outcome)
	f := func(ctx context.Context, x float64) (float64, error) {
		o.Evaluations++
		if run, ok := runs[x]; ok {
			return run.Result.Get(target)
		}
		pp, err := p.With(r.Param, x)
		if err != nil {
			return math.NaN(), err
		}
		res, err := eval.Evaluate(ctx, pp)
		if err != nil {
			return math.NaN(), fmt.Errorf("search: %s = %g: %v", r.Param, x, err)
		}
		runs[x] = &Outcome{Params: pp, Result: res, Value: x}
		v, err := res.Get(target)
		if err == nil && math.IsNaN(v) {
			err = fmt.Errorf("search: %s is not a number at %s = %g", target, r.Param, x)
		}
		return v, err
	}

	var x float64
	if p.Test {
		if _, err = f(ctx, start); err != nil {
			return nil, err
		}
		x, o.Reached = start, true
	} else {
		x, o.Reached, err = s.Find(ctx, f, start, end, value)
		if err != nil {
			return nil, err
		}
	}
	if _, ok := runs[x]; !ok {
		// Strategies may return a point they have not evaluated.
		if _, err = f(ctx, x); err != nil {
			return nil, err
		}
	}
	run := runs[x]
	o.Params, o.Result, o.Value = run.Params, run.Result, run.Value
	cfg.log.WithFields(logrus.Fields{
		"job":         p.JobNumber,
		"range":       r.String(),
		"evaluations": o.Evaluations,
		"reached":     o.Reached,
	}).Debugf("search for %s = %g ended at %s = %g", target, value, r.Param, x)
	return o, nil
}

func isField(fields []krogh.FieldInfo, name string) bool {
	for _, f := range fields {
		if f.Name == name {
			return true
		}
	}
	return false
}
