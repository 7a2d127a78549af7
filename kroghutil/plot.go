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

package kroghutil

import (
	"context"
	"fmt"
	"os"

	"github.com/spatialmodel/krogh"
	"github.com/spatialmodel/krogh/storage"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

const (
	figWidth  = 6 * vg.Inch
	figHeight = 4 * vg.Inch
)

// fieldGrid presents a pressure field as a plotter.GridXYZ with the
// axial position on the x axis and the radius on the y axis.
type fieldGrid struct {
	f    *krogh.PressureField
	z, r []float64
}

func newFieldGrid(p *krogh.Parameters, f *krogh.PressureField) *fieldGrid {
	nz, nr := f.Shape()
	zc := krogh.Magnitude(p.ZCapillary, krogh.Micrometer)
	g := &fieldGrid{f: f, z: make([]float64, nz), r: make([]float64, nr)}
	for i := range g.z {
		g.z[i] = zc * float64(i) / float64(nz)
	}
	if nr > 1 {
		floats.Span(g.r, krogh.Magnitude(p.RCapillary, krogh.Micrometer), krogh.Magnitude(p.RKrogh, krogh.Micrometer))
	}
	return g
}

func (g *fieldGrid) Dims() (c, r int)   { return len(g.z), len(g.r) }
func (g *fieldGrid) Z(c, r int) float64 { return g.f.At(c, r) }
func (g *fieldGrid) X(c int) float64    { return g.z[c] }
func (g *fieldGrid) Y(r int) float64    { return g.r[r] }

// Plot draws the pressure field of the simulation saved at input as a
// heat map in outputFile, and the radial profiles of the axial slices
// in profiles in profileFile. Negative slice indices count back from
// the outlet; if profiles is empty the inlet, middle and outlet slices
// are drawn. The image formats follow the file extensions.
func Plot(input, outputFile, profileFile string, profiles []int) error {
	local, err := download(input)
	if err != nil {
		return err
	}
	if local != input {
		defer os.Remove(local)
	}
	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("krogh: opening saved simulation: %v", err)
	}
	p, res, err := krogh.Load(f)
	f.Close()
	if err != nil {
		return err
	}
	g := newFieldGrid(p, res.P)
	nz, _ := g.Dims()
	slices, err := checkProfiles(profiles, nz)
	if err != nil {
		return err
	}

	up := &storage.Uploader{MaxRetries: uploadRetries}
	out, err := up.Local(outputFile)
	if err != nil {
		return err
	}
	if err := heatMap(g).Save(figWidth, figHeight, out); err != nil {
		return fmt.Errorf("krogh: saving heat map: %v", err)
	}
	prof, err := profilePlot(g, slices)
	if err != nil {
		return err
	}
	out, err = up.Local(profileFile)
	if err != nil {
		return err
	}
	if err := prof.Save(figWidth, figHeight, out); err != nil {
		return fmt.Errorf("krogh: saving profile plot: %v", err)
	}
	return up.Upload(context.TODO())
}

func heatMap(g *fieldGrid) *plot.Plot {
	h := plotter.NewHeatMap(g, palette.Heat(12, 1))
	if h.Min == h.Max {
		h.Max = h.Min + 1
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Tissue oxygen pressure, %.3g to %.3g mmHg", h.Min, h.Max)
	p.X.Label.Text = "Axial position [μm]"
	p.Y.Label.Text = "Radius [μm]"
	p.Add(h)
	return p
}

func profilePlot(g *fieldGrid, slices []int) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Radial profiles"
	p.X.Label.Text = "Radius [μm]"
	p.Y.Label.Text = "Tissue oxygen pressure [mmHg]"
	_, nr := g.Dims()
	for i, z := range slices {
		xy := make(plotter.XYs, nr)
		for j := range xy {
			xy[j].X = g.Y(j)
			xy[j].Y = g.Z(z, j)
		}
		l, err := plotter.NewLine(xy)
		if err != nil {
			return nil, fmt.Errorf("krogh: plotting profile: %v", err)
		}
		l.Color = plotutil.Color(i)
		l.Dashes = plotutil.Dashes(i)
		p.Add(l)
		p.Legend.Add(fmt.Sprintf("z = %.4g μm", g.X(z)), l)
	}
	return p, nil
}

// checkProfiles resolves negative slice indices and fills in the default
// slices.
func checkProfiles(profiles []int, nz int) ([]int, error) {
	if nz < 1 {
		return nil, fmt.Errorf("krogh: the saved simulation has no pressure field")
	}
	if len(profiles) == 0 {
		if nz < 3 {
			profiles = []int{0, nz - 1}
		} else {
			profiles = []int{0, nz / 2, nz - 1}
		}
	}
	o := make([]int, 0, len(profiles))
	seen := make(map[int]bool)
	for _, z := range profiles {
		if z < 0 {
			z += nz
		}
		if z < 0 || z >= nz {
			return nil, fmt.Errorf("krogh: profile slice %d is outside of the %d slices", z, nz)
		}
		if !seen[z] {
			o = append(o, z)
			seen[z] = true
		}
	}
	return o, nil
}
