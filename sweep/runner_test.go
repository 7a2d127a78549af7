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

package sweep

import (
	"context"
	"io/ioutil"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/spatialmodel/krogh"
	"github.com/spatialmodel/krogh/search"
)

func quietLogger() logrus.FieldLogger {
	l, _ := logtest.NewNullLogger()
	return l
}

func testPoints(t *testing.T, g Grid) []Point {
	t.Helper()
	points, err := g.Expand()
	if err != nil {
		t.Fatal(err)
	}
	return points
}

func TestRunTestMode(t *testing.T) {
	var statuses []Status
	r := &Runner{Workers: 2, Log: quietLogger(), Notify: func(s Status) { statuses = append(statuses, s) }}
	points := testPoints(t, Grid{
		"CMRO2":             {2, 3, 4},
		"test":              {1},
		"paO2_multiple":     {1.1},
		"velocity_multiple": {1},
	})
	recs, err := r.Run(context.Background(), points)
	if err != nil {
		t.Fatal(err)
	}
	for i, rec := range recs {
		if rec == nil {
			t.Fatalf("record %d is missing", i)
		}
		if rec.Params.JobNumber != i+1 {
			t.Errorf("record %d has job %d", i, rec.Params.JobNumber)
		}
		if rec.VelocityResults != rec.BaseResults {
			t.Error("velocity multiple of 1 should reuse the base results")
		}
		if rec.PaO2Results == rec.BaseResults {
			t.Error("paO2 multiple of 1.1 should have its own results")
		}
		if different(get(t, rec.PaO2Results, "paO2"), 1.1*get(t, rec.BaseResults, "paO2"), 1e-12) {
			t.Errorf("paO2 results at %g mmHg", get(t, rec.PaO2Results, "paO2"))
		}
		// Placeholder results have pbO2 = 1.
		if rec.RatioPbO2PaO2 != 1 || rec.PaO2UpHF != 1 {
			t.Errorf("ratio %g, hf %g", rec.RatioPbO2PaO2, rec.PaO2UpHF)
		}
		for _, s := range []*krogh.Result{rec.HbSearch, rec.VelocitySearch, rec.PaO2Search, rec.CMRO2Search} {
			if s == nil {
				t.Error("missing search result")
			}
		}
		if different(get(t, rec.CMRO2Params, "CMRO2"), get(t, rec.Params, "CMRO2"), 1e-12) {
			t.Error("test mode CMRO2 search should stop at the start of the range")
		}
	}
	if len(statuses) != 2*len(points) {
		t.Errorf("have %d statuses, want %d", len(statuses), 2*len(points))
	}
	if last := statuses[len(statuses)-1]; last.Finished != len(points) || last.Stage != "done" {
		t.Errorf("last status %+v", last)
	}
}

func TestRunDeduplicates(t *testing.T) {
	r := &Runner{Workers: 1, Log: quietLogger()}
	points := testPoints(t, Grid{"test": {1}, "no_search": {1}, "r_steps": {10, 10, 10, 10}})
	if _, err := r.Run(context.Background(), points); err != nil {
		t.Fatal(err)
	}
	reqs := r.CacheRequests()
	if reqs[0] != 4 || reqs[len(reqs)-1] != 1 {
		t.Errorf("cache requests %v: want 4 requests and 1 simulation", reqs)
	}
}

func TestRunDiskCache(t *testing.T) {
	dir, err := ioutil.TempDir("", "krogh_cache")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	points := testPoints(t, Grid{"test": {1}, "no_search": {1}, "r_steps": {5}, "z_steps": {5}})

	first := &Runner{CacheDir: dir, Log: quietLogger()}
	want, err := first.Run(context.Background(), points)
	if err != nil {
		t.Fatal(err)
	}
	second := &Runner{CacheDir: dir, Log: quietLogger()}
	have, err := second.Run(context.Background(), points)
	if err != nil {
		t.Fatal(err)
	}
	if reqs := second.CacheRequests(); reqs[len(reqs)-1] != 0 {
		t.Errorf("cache requests %v: want no simulations", reqs)
	}
	if different(get(t, have[0].BaseResults, "paO2"), get(t, want[0].BaseResults, "paO2"), 1e-15) {
		t.Error("cached result differs")
	}
}

func TestRunSimulations(t *testing.T) {
	r := &Runner{
		Log:      quietLogger(),
		Strategy: search.Bisect{MaxIterations: 6, Tolerance: 1e-3},
	}
	points := testPoints(t, Grid{
		"r_steps":           {10},
		"z_steps":           {50},
		"paO2_multiple":     {1.1},
		"velocity_multiple": {1.1},
	})
	recs, err := r.Run(context.Background(), points)
	if err != nil {
		t.Fatal(err)
	}
	rec := recs[0]
	if rec.RatioPbO2PaO2 <= 1 {
		t.Errorf("raising paO2 should raise pbO2: ratio %g", rec.RatioPbO2PaO2)
	}
	if rec.RatioPbO2Vel <= 1 {
		t.Errorf("raising velocity should raise pbO2: ratio %g", rec.RatioPbO2Vel)
	}
	for _, c := range []struct {
		params   *krogh.Parameters
		name     string
		min, max float64
	}{
		{rec.HbParams, "Hb", 10, 40},
		{rec.VelocityParams, "velocity", 1, 2},
		{rec.PaO2Params, "paO2", 200, 400},
		{rec.CMRO2Params, "CMRO2", 1.5, 3},
	} {
		v := get(t, c.params, c.name)
		if v < c.min*(1-1e-9) || v > c.max*(1+1e-9) {
			t.Errorf("%s search ended at %g, outside [%g, %g]", c.name, v, c.min, c.max)
		}
	}
	// The paO2 search can always reach the target: doubling paO2 raises
	// pbO2 by more than 10%.
	target := 1.1 * get(t, rec.BaseResults, "pbO2")
	if pb := get(t, rec.PaO2Search, "pbO2"); pb < target {
		t.Errorf("paO2 search gave pbO2 %g below the target %g", pb, target)
	}
}

func TestRunFailures(t *testing.T) {
	r := &Runner{Log: quietLogger()}
	points := testPoints(t, Grid{"r_steps": {10}, "z_steps": {20, 30}, "no_search": {1}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	recs, err := r.Run(ctx, points)
	errs, ok := err.(JobErrors)
	if !ok {
		t.Fatalf("have error %v, want JobErrors", err)
	}
	if len(errs) != 2 || recs[0] != nil || recs[1] != nil {
		t.Errorf("have %d failures and records %v", len(errs), recs)
	}

	bad := testPoints(t, Grid{"paO2_multiple": {-1}})
	if _, err := r.Run(context.Background(), bad); err == nil {
		t.Error("expected a validation error")
	}
}
