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

// Package surrogate predicts simulation outputs with a Gaussian process
// regression trained on tables of earlier results.
package surrogate

import (
	"fmt"
	"math"

	"github.com/spatialmodel/krogh/export"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// Features are the table columns used as inputs to the model.
var Features = []string{"CMRO2", "vel", "D", "r_Krogh", "paO2", "Hb"}

// Targets are the table columns that can be predicted.
var Targets = []string{"pbO2", "jvO2_sat"}

// Model is a Gaussian process with a squared exponential kernel. Inputs
// and the target are scaled to [0, 1] by the ranges of the training
// data.
type Model struct {
	Target string

	// Variance, LengthScale and Noise are the kernel hyperparameters in
	// scaled units, chosen to maximize the marginal likelihood of the
	// training data.
	Variance, LengthScale, Noise float64

	x          *mat.Dense
	alpha      *mat.VecDense
	chol       mat.Cholesky
	xMin, xRng []float64
	yMin, yRng float64
}

// Train fits a model predicting the target column of t from the Features
// columns.
func Train(t *export.Table, target string) (*Model, error) {
	if !isTarget(target) {
		return nil, fmt.Errorf("surrogate: target must be one of %v, not '%s'", Targets, target)
	}
	y, err := t.Column(target)
	if err != nil {
		return nil, fmt.Errorf("surrogate: %v", err)
	}
	n := len(y)
	if n < 2 {
		return nil, fmt.Errorf("surrogate: need at least 2 training rows, have %d", n)
	}
	m := &Model{
		Target: target,
		x:      mat.NewDense(n, len(Features), nil),
		xMin:   make([]float64, len(Features)),
		xRng:   make([]float64, len(Features)),
	}
	for j, name := range Features {
		col, err := t.Column(name)
		if err != nil {
			return nil, fmt.Errorf("surrogate: %v", err)
		}
		m.xMin[j], m.xRng[j] = scaling(col)
		for i, v := range col {
			m.x.Set(i, j, (v-m.xMin[j])/m.xRng[j])
		}
	}
	m.yMin, m.yRng = scaling(y)
	ys := mat.NewVecDense(n, nil)
	for i, v := range y {
		ys.SetVec(i, (v-m.yMin)/m.yRng)
	}
	for _, v := range append(append([]float64{}, y...), m.x.RawMatrix().Data...) {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("surrogate: training data contains %g", v)
		}
	}

	p := optimize.Problem{
		Func: func(h []float64) float64 {
			return m.negLogLikelihood(h, ys)
		},
	}
	init := []float64{0, 0, math.Log(1e-2)}
	h := init
	res, err := optimize.Minimize(p, init, &optimize.Settings{
		FuncEvaluations: 2000,
		Converger:       &optimize.FunctionConverge{Absolute: 1e-8, Iterations: 100},
	}, &optimize.NelderMead{})
	if err == nil || (res != nil && res.F < p.Func(init)) {
		h = res.X
	}
	if !m.factorize(h) {
		return nil, fmt.Errorf("surrogate: covariance matrix is not positive definite")
	}
	m.alpha = mat.NewVecDense(n, nil)
	if err := m.chol.SolveVecTo(m.alpha, ys); err != nil {
		if _, ok := err.(mat.Condition); !ok {
			return nil, fmt.Errorf("surrogate: %v", err)
		}
	}
	return m, nil
}

func isTarget(name string) bool {
	for _, t := range Targets {
		if t == name {
			return true
		}
	}
	return false
}

// scaling returns the minimum and range of v. Constant values get a
// range of 1.
func scaling(v []float64) (min, rng float64) {
	min, max := floats.Min(v), floats.Max(v)
	if max > min {
		return min, max - min
	}
	return min, 1
}

// maxLogParam bounds the log hyperparameters during optimization.
const maxLogParam = 10.0

// jitter is added to the noise variance to keep the covariance matrix
// positive definite.
const jitter = 1e-8

// factorize sets the hyperparameters from their logarithms h and
// factorizes the covariance matrix of the training inputs.
func (m *Model) factorize(h []float64) bool {
	m.Variance, m.LengthScale, m.Noise = math.Exp(h[0]), math.Exp(h[1]), math.Exp(h[2])
	n, _ := m.x.Dims()
	k := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := m.kernel(m.x.RawRowView(i), m.x.RawRowView(j))
			if i == j {
				v += m.Noise + jitter
			}
			k.SetSym(i, j, v)
		}
	}
	return m.chol.Factorize(k)
}

// negLogLikelihood returns the negative log marginal likelihood of the
// scaled targets y for log hyperparameters h.
func (m *Model) negLogLikelihood(h []float64, y *mat.VecDense) float64 {
	const penalty = 1e10
	for _, v := range h {
		if math.Abs(v) > maxLogParam {
			return penalty
		}
	}
	if !m.factorize(h) {
		return penalty
	}
	n := y.Len()
	alpha := mat.NewVecDense(n, nil)
	if err := m.chol.SolveVecTo(alpha, y); err != nil {
		if _, ok := err.(mat.Condition); !ok {
			return penalty
		}
	}
	v := 0.5*mat.Dot(y, alpha) + 0.5*m.chol.LogDet() + 0.5*float64(n)*math.Log(2*math.Pi)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return penalty
	}
	return v
}

func (m *Model) kernel(a, b []float64) float64 {
	var d2 float64
	for i := range a {
		d := a[i] - b[i]
		d2 += d * d
	}
	return m.Variance * math.Exp(-0.5*d2/(m.LengthScale*m.LengthScale))
}

// Predict returns the predicted mean and variance of the target for the
// raw feature values x, given in the order of Features.
func (m *Model) Predict(x []float64) (mean, variance float64, err error) {
	if len(x) != len(Features) {
		return 0, 0, fmt.Errorf("surrogate: want %d features, have %d", len(Features), len(x))
	}
	xs := make([]float64, len(x))
	for j, v := range x {
		xs[j] = (v - m.xMin[j]) / m.xRng[j]
	}
	n, _ := m.x.Dims()
	kstar := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		kstar.SetVec(i, m.kernel(xs, m.x.RawRowView(i)))
	}
	mean = mat.Dot(kstar, m.alpha)
	v := mat.NewVecDense(n, nil)
	if err := m.chol.SolveVecTo(v, kstar); err != nil {
		if _, ok := err.(mat.Condition); !ok {
			return 0, 0, fmt.Errorf("surrogate: %v", err)
		}
	}
	variance = math.Max(m.Variance-mat.Dot(kstar, v), 0)
	return mean*m.yRng + m.yMin, variance * m.yRng * m.yRng, nil
}
