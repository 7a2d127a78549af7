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
	"bytes"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spatialmodel/krogh"
	"github.com/spatialmodel/krogh/export"
	"github.com/spatialmodel/krogh/surrogate"
	"github.com/spatialmodel/krogh/sweep"
	"golang.org/x/exp/rand"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	Root.SetOut(&out)
	Root.SetArgs(args)
	if err := Root.Execute(); err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return out.String()
}

func TestVersion(t *testing.T) {
	out := execute(t, "version")
	if !strings.Contains(out, krogh.Version) {
		t.Errorf("version output: %s", out)
	}
}

func TestRunAndPlot(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "run.out")
	out := execute(t, "run", "--test=false", "--r_steps=10", "--z_steps=20",
		"--report_interval=0", "--OutputFile="+output)
	if !strings.Contains(out, "pbO2") {
		t.Errorf("results are not logged: %s", out)
	}

	f, err := os.Open(output)
	if err != nil {
		t.Fatal(err)
	}
	p, res, err := krogh.Load(f)
	f.Close()
	if err != nil {
		t.Fatal(err)
	}
	if p.RSteps != 10 || p.ZSteps != 20 {
		t.Errorf("saved steps: %d, %d", p.RSteps, p.ZSteps)
	}
	if nz, nr := res.P.Shape(); nz != 20 || nr != 10 {
		t.Errorf("field shape: %d×%d", nz, nr)
	}
	logged, err := ioutil.ReadFile(filepath.Join(dir, "run.log"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(logged), "hypoxic_fraction") {
		t.Errorf("log file is missing results: %s", logged)
	}

	image := filepath.Join(dir, "field.png")
	execute(t, "plot", "--input="+output, "--OutputFile="+image)
	for _, name := range []string{"field.png", "field_profiles.png"} {
		if fi, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Error(err)
		} else if fi.Size() == 0 {
			t.Errorf("%s is empty", name)
		}
	}
}

func TestSweep(t *testing.T) {
	dir := t.TempDir()
	grid := filepath.Join(dir, "grid.json")
	if err := ioutil.WriteFile(grid, []byte(`{"Hb": [10, 12], "velocity": 2, "test": true}`), 0644); err != nil {
		t.Fatal(err)
	}
	output := filepath.Join(dir, "results.csv")
	records := filepath.Join(dir, "results.rec")
	execute(t, "sweep", "--grid="+grid, "--OutputFile="+output, "--RecordFile="+records,
		"--workers=1", "--columns=double_pbO2 = 2 * pbO2")

	table, err := export.ReadFile(output)
	if err != nil {
		t.Fatal(err)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("have %d rows, want 2", len(table.Rows))
	}
	hb, err := table.Column("Hb")
	if err != nil {
		t.Fatal(err)
	}
	if hb[0] != 10 || hb[1] != 12 {
		t.Errorf("Hb column: %v", hb)
	}
	double, err := table.Column("double_pbO2")
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range double {
		if different(v, 2, 1e-12) {
			t.Errorf("row %d: double_pbO2 = %g, want 2", i, v)
		}
	}

	f, err := os.Open(records)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	recs, err := sweep.LoadRecords(f)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Errorf("have %d records, want 2", len(recs))
	}
	if _, err := os.Stat(filepath.Join(dir, "results.log")); err != nil {
		t.Error(err)
	}
}

func TestSearch(t *testing.T) {
	out := execute(t, "search", "--test=true", "--param=Hb", "--target=pbO2", "--range=1,4", "--value=0")
	if !strings.Contains(out, "Hb = 10 (reached: true") {
		t.Errorf("search output: %s", out)
	}
}

func TestPredict(t *testing.T) {
	response := func(x []float64) float64 {
		return 100 + 10*x[0] - 20*x[1] + 0.2*x[4] + 2*x[5]
	}
	rng := rand.New(rand.NewSource(1))
	ranges := [][2]float64{{2.5, 4.5}, {0.5, 1.5}, {1e-6, 1e-4}, {20, 40}, {150, 250}, {10, 12}}
	table := &export.Table{Header: append(append([]string{}, surrogate.Features...), "pbO2")}
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := 0; i < 40; i++ {
		row := make([]float64, len(ranges)+1)
		for j, r := range ranges {
			row[j] = r[0] + (r[1]-r[0])*rng.Float64()
		}
		y := response(row[:len(ranges)])
		row[len(ranges)] = y
		lo, hi = math.Min(lo, y), math.Max(hi, y)
		table.Rows = append(table.Rows, row)
	}
	training := filepath.Join(t.TempDir(), "training.csv")
	if err := export.WriteFile(training, table); err != nil {
		t.Fatal(err)
	}

	p := krogh.DefaultParameters()
	var err error
	for name, v := range map[string]float64{"CMRO2": 3.5, "velocity": 1, "D": 5e-5, "r_Krogh": 30, "paO2": 200, "Hb": 11} {
		if p, err = p.With(name, v); err != nil {
			t.Fatal(err)
		}
	}
	mean, sd, err := Predict(training, "pbO2", p)
	if err != nil {
		t.Fatal(err)
	}
	want := response([]float64{3.5, 1, 5e-5, 30, 200, 11})
	if math.Abs(mean-want) > 0.1*(hi-lo) {
		t.Errorf("predicted %g, want %g", mean, want)
	}
	if math.IsNaN(sd) || sd < 0 {
		t.Errorf("standard deviation %g", sd)
	}

	out := execute(t, "predict", "--training="+training, "--target=pbO2")
	if !strings.HasPrefix(out, "pbO2 = ") {
		t.Errorf("predict output: %s", out)
	}
}
