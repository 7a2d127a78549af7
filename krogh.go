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

// Package krogh is a steady-state model of oxygen transport from a
// capillary into the surrounding cylinder of tissue (a Krogh cylinder).
// At each axial position along the capillary the radial diffusion of
// oxygen into consuming tissue is solved, and an oxygen balance on the
// blood then gives the capillary pressure at the next position.
package krogh

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Version gives the version number.
const Version = "1.0.0"

// Capillary holds the state of one Krogh cylinder simulation.
type Capillary struct {
	// Params are the simulation inputs.
	Params *Parameters

	// Table converts blood oxygen concentrations to pressures.
	Table *ConcentrationTable

	// Solver solves the radial problem at each axial slice.
	Solver *RadialSolver

	// Field holds the tissue pressures computed so far.
	Field *PressureField

	// Balances holds the oxygen balance of each slice that has been
	// transported.
	Balances []SliceBalance

	// Result holds the aggregated results once the simulation is cleaned up.
	Result *Result

	// Log receives warnings and progress messages.
	Log logrus.FieldLogger

	// Z is the index of the next axial slice to be solved.
	Z int

	// Done is set when every axial slice has been solved.
	Done bool

	// InitFuncs are run once before the simulation starts.
	InitFuncs []DomainManipulator

	// RunFuncs are run repeatedly, once per axial slice, until Done is set.
	RunFuncs []DomainManipulator

	// CleanupFuncs are run once after the simulation finishes.
	CleanupFuncs []DomainManipulator

	nr, nz int     // radial and axial samples after scaling
	h      float64 // radial sample spacing [μm]
	kappa  float64 // consumption term [mmHg/μm²]
}

// DomainManipulator is a function that operates on a Capillary.
type DomainManipulator func(c *Capillary) error

// Init runs the InitFuncs.
func (c *Capillary) Init() error {
	for _, f := range c.InitFuncs {
		if err := f(c); err != nil {
			return err
		}
	}
	return nil
}

// Run repeatedly runs the RunFuncs until Done is set or ctx is finished.
func (c *Capillary) Run(ctx context.Context) error {
	for !c.Done {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("krogh: job %d stopped at slice %d: %v", c.Params.JobNumber, c.Z, err)
		}
		for _, f := range c.RunFuncs {
			if err := f(c); err != nil {
				return err
			}
		}
	}
	return nil
}

// Cleanup runs the CleanupFuncs.
func (c *Capillary) Cleanup() error {
	for _, f := range c.CleanupFuncs {
		if err := f(c); err != nil {
			return err
		}
	}
	return nil
}

// An Option alters the setup of a simulation run by Simulate.
type Option func(*Capillary)

// WithLogger directs warnings and progress messages to l.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Capillary) { c.Log = l }
}

// WithSolver replaces the default radial solver.
func WithSolver(s *RadialSolver) Option {
	return func(c *Capillary) { c.Solver = s }
}

// WithTable uses t instead of a cached table for the hemoglobin
// concentration in the parameters.
func WithTable(t *ConcentrationTable) Option {
	return func(c *Capillary) { c.Table = t }
}

// NewCapillary returns a Capillary set up with the default simulation
// steps for p.
func NewCapillary(p *Parameters, opts ...Option) *Capillary {
	c := &Capillary{
		Params: p,
		Solver: DefaultRadialSolver(),
		Log:    logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(c)
	}
	c.Log = c.Log.WithField("job", p.JobNumber)
	c.InitFuncs = []DomainManipulator{
		SetupGrid(),
		LoadTable(),
	}
	c.RunFuncs = []DomainManipulator{
		Log(p.ReportInterval),
		SolveSlice(),
		TransportSlice(),
	}
	c.CleanupFuncs = []DomainManipulator{
		Aggregate(),
	}
	return c
}

// Simulate runs a simulation with parameters p. If p.Test is set, a
// placeholder result is returned without solving.
func Simulate(ctx context.Context, p *Parameters, opts ...Option) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Test {
		return TestResult(p), nil
	}
	c := NewCapillary(p, opts...)
	if err := c.Init(); err != nil {
		return nil, err
	}
	if err := c.Run(ctx); err != nil {
		return nil, err
	}
	if err := c.Cleanup(); err != nil {
		return nil, err
	}
	return c.Result, nil
}
