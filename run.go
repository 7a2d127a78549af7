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
	"time"

	"github.com/ctessum/unit"
	"github.com/sirupsen/logrus"
)

// SliceBalance is the oxygen balance of the blood in one axial slice.
type SliceBalance struct {
	// Z is the index of the slice.
	Z int

	// Content is the oxygen in the blood entering the slice [mlO2].
	Content float64

	// Extracted is the oxygen that diffuses into the tissue while the
	// blood passes through the slice [mlO2]. It is never negative and
	// never exceeds a positive Content.
	Extracted float64

	// WallPressure is the capillary pressure of the slice and
	// NextWallPressure is the pressure passed on to the next slice [mmHg].
	// NextWallPressure is NaN for the last slice.
	WallPressure, NextWallPressure float64
}

// SetupGrid scales the numbers of samples by the Krogh radius,
// allocates the pressure field, and sets the inlet pressure.
func SetupGrid() DomainManipulator {
	return func(c *Capillary) error {
		p := c.Params
		c.nr, c.nz = p.ScaledSteps()
		if c.nr < 2 || c.nz < 1 {
			return fmt.Errorf("krogh: too few samples: %d radial, %d axial", c.nr, c.nz)
		}
		rc := Magnitude(p.RCapillary, Micrometer)
		rk := Magnitude(p.RKrogh, Micrometer)
		c.h = (rk - rc) / float64(c.nr-1)
		// Pa/m² to mmHg/μm².
		c.kappa = p.Kappa().Value() / pascalsPerMMHg * metersPerMicrometer * metersPerMicrometer
		c.Field = NewPressureField(c.nz, c.nr)
		c.Field.Set(0, 0, Magnitude(p.PaO2, MMHg))
		c.Balances = make([]SliceBalance, 0, c.nz)
		c.Z = 0
		c.Done = false
		return nil
	}
}

// LoadTable sets the concentration table for the hemoglobin
// concentration of the simulation, unless one has already been set.
func LoadTable() DomainManipulator {
	return func(c *Capillary) error {
		if c.Table == nil {
			c.Table = TableFor(c.Params.Hb)
		}
		return nil
	}
}

// Log writes a progress message every interval slices.
func Log(interval int) DomainManipulator {
	startTime := time.Now()
	return func(c *Capillary) error {
		if interval < 1 || c.Z%interval != 0 {
			return nil
		}
		c.Log.WithFields(logrus.Fields{
			"z":        c.Z,
			"walltime": time.Since(startTime).Round(time.Millisecond),
		}).Infof("step %d of %d, pa: %.2f mmHg", c.Z, c.nz, c.Field.At(c.Z, 0))
		return nil
	}
}

// SolveSlice solves the radial problem for the current slice and stores
// the pressure profile in the field. Solver trouble is logged, and the
// best available profile is used.
func SolveSlice() DomainManipulator {
	return func(c *Capillary) error {
		rp := RadialProblem{
			P0:     c.Field.At(c.Z, 0),
			Kappa:  c.kappa,
			RInner: Magnitude(c.Params.RCapillary, Micrometer),
			ROuter: Magnitude(c.Params.RKrogh, Micrometer),
			N:      c.nr,
		}
		sol, err := c.Solver.Solve(rp)
		if err != nil {
			return err
		}
		log := c.Log.WithField("z", c.Z)
		if !sol.Converged {
			log.WithField("residual", sol.Residual).Warn("radial solver did not converge; using best attempt")
		}
		if sol.Negative() {
			log.Warnf("pressures are negative; lowest pressure = %g mmHg", sol.MinPressure)
		}
		c.Field.SetRow(c.Z, sol.P)
		return nil
	}
}

// TransportSlice computes the oxygen extracted from the blood in the
// current slice and the resulting capillary pressure at the next slice,
// then advances to the next slice.
func TransportSlice() DomainManipulator {
	return func(c *Capillary) error {
		b := c.balance(c.Field.At(c.Z, 0), c.Field.At(c.Z, 1))
		if c.Z < c.nz-1 {
			c.Field.Set(c.Z+1, 0, b.NextWallPressure)
		} else {
			b.NextWallPressure = math.NaN()
		}
		c.Balances = append(c.Balances, b)
		c.Z++
		if c.Z >= c.nz {
			c.Done = true
		}
		return nil
	}
}

// balance returns the oxygen balance of the current slice given the
// pressures at the first two radial samples.
func (c *Capillary) balance(p0, p1 float64) SliceBalance {
	p := c.Params
	dz := unit.Div(p.ZCapillary, unit.New(float64(c.nz), unit.Dimless))
	gradient := unit.Div(Quantity(p0-p1, MMHg), Quantity(c.h, Micrometer))
	densityGradient := unit.Mul(p.Sigma, gradient)
	wallArea := unit.Mul(unit.New(2*math.Pi, unit.Dimless), p.RCapillary, dz)
	flux := unit.Mul(p.D, wallArea, densityGradient)
	extracted := unit.Div(unit.Mul(flux, dz), p.Velocity)
	if err := extracted.Check(O2Volume); err != nil {
		panic(fmt.Errorf("krogh: extracted oxygen: %v", err))
	}

	bloodVolume := unit.Mul(unit.New(math.Pi, unit.Dimless), p.RCapillary, p.RCapillary, dz)
	content := unit.Mul(OxygenConcentration(Quantity(p0, MMHg), p.Hb), bloodVolume)

	b := SliceBalance{
		Z:            c.Z,
		Content:      Magnitude(content, MlO2),
		Extracted:    Magnitude(extracted, MlO2),
		WallPressure: p0,
	}
	switch {
	case b.Extracted < 0 || b.Content <= 0:
		b.Extracted = 0
	case b.Extracted > b.Content:
		c.Log.WithField("z", c.Z).Warnf("extraction of %g mlO2 exceeds blood content of %g mlO2", b.Extracted, b.Content)
		b.Extracted = b.Content
	}
	remaining := unit.Div(Quantity(b.Content-b.Extracted, MlO2), bloodVolume)
	b.NextWallPressure = Magnitude(c.Table.Invert(remaining), MMHg)

	if p.Verbose {
		c.Log.WithFields(logrus.Fields{
			"z":         c.Z,
			"p0":        p0,
			"p1":        p1,
			"gradient":  (p0 - p1) / c.h,
			"flux":      Magnitude(flux, MlO2PerSec),
			"extracted": b.Extracted,
			"content":   b.Content,
		}).Debug("slice balance")
	}
	return b
}
