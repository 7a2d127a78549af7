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

// Package kroghutil contains the command-line interface of the Krogh
// cylinder model.
package kroghutil

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/krogh"
	"github.com/spatialmodel/krogh/export"
	"github.com/spatialmodel/krogh/monitor"
	"github.com/spatialmodel/krogh/search"
	"github.com/spatialmodel/krogh/storage"
	"github.com/spatialmodel/krogh/surrogate"
	"github.com/spatialmodel/krogh/sweep"
	"github.com/spf13/cobra"
)

// uploadRetries is the number of times failed uploads to blob storage
// are retried.
const uploadRetries = 5

// commandContext returns the context of cmd, which is canceled when the
// program is interrupted.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// startLog directs log messages to the output of cmd and, if logFile is
// not empty, to logFile. The returned function closes the log file and
// must be called before the files staged in up are uploaded.
func startLog(cmd *cobra.Command, logFile string, up *storage.Uploader) (func(), error) {
	out := cmd.OutOrStdout()
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.SetOutput(out)
	if logFile == "" {
		return func() {}, nil
	}
	local, err := up.Local(logFile)
	if err != nil {
		return nil, err
	}
	f, err := os.Create(local)
	if err != nil {
		return nil, fmt.Errorf("krogh: problem creating log file: %v", err)
	}
	logrus.SetOutput(io.MultiWriter(out, f))
	return func() {
		logrus.SetOutput(out)
		f.Close()
	}, nil
}

// download returns a local copy of path, which may be in blob storage.
func download(path string) (string, error) {
	local, err := storage.Download(context.TODO(), path)
	if err != nil {
		return "", fmt.Errorf("krogh: %v", err)
	}
	return local, nil
}

// RunSimulation runs a single simulation with parameters p, saves it to
// outputFile and logs the results.
func RunSimulation(cmd *cobra.Command, logFile, outputFile string, p *krogh.Parameters) (*krogh.Result, error) {
	ctx := commandContext(cmd)
	startTime := time.Now()
	up := &storage.Uploader{MaxRetries: uploadRetries}
	closeLog, err := startLog(cmd, logFile, up)
	if err != nil {
		return nil, err
	}
	res, err := runSimulation(ctx, outputFile, p, up)
	if err != nil {
		closeLog()
		return nil, err
	}
	for _, f := range krogh.ResultFields() {
		v, err := res.Get(f.Name)
		if err != nil {
			closeLog()
			return nil, err
		}
		logrus.Infof("%s: %.6g %s", f.Name, v, f.Units)
	}
	logrus.Infof("simulation finished in %v", time.Since(startTime).Round(time.Millisecond))
	closeLog()
	if err := up.Upload(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

func runSimulation(ctx context.Context, outputFile string, p *krogh.Parameters, up *storage.Uploader) (*krogh.Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	local, err := up.Local(outputFile)
	if err != nil {
		return nil, err
	}
	w, err := os.Create(local)
	if err != nil {
		return nil, fmt.Errorf("krogh: creating output file: %v", err)
	}
	defer w.Close()

	if p.Test {
		res := krogh.TestResult(p)
		if err := krogh.WriteDelimited(w, p); err != nil {
			return nil, fmt.Errorf("krogh: writing output file: %v", err)
		}
		if err := krogh.WriteDelimited(w, res); err != nil {
			return nil, fmt.Errorf("krogh: writing output file: %v", err)
		}
		return res, w.Close()
	}

	c := krogh.NewCapillary(p, krogh.WithLogger(logrus.StandardLogger()))
	c.CleanupFuncs = append(c.CleanupFuncs, krogh.Save(w))
	if err := c.Init(); err != nil {
		return nil, err
	}
	if err := c.Run(ctx); err != nil {
		return nil, err
	}
	if err := c.Cleanup(); err != nil {
		return nil, err
	}
	return c.Result, w.Close()
}

// Sweep evaluates points with r and writes the results table to
// outputFile and, if recordFile is not empty, the complete records to
// recordFile. If monitorAddr is not empty, the progress of the sweep is
// served there. When some points fail, the results of the others are
// still written and the returned error is a sweep.JobErrors.
func Sweep(cmd *cobra.Command, logFile, outputFile, recordFile string, cols []export.Column,
	points []sweep.Point, r *sweep.Runner, monitorAddr string) error {

	ctx := commandContext(cmd)
	startTime := time.Now()
	up := &storage.Uploader{MaxRetries: uploadRetries}
	closeLog, err := startLog(cmd, logFile, up)
	if err != nil {
		return err
	}
	defer closeLog()
	r.Log = logrus.StandardLogger()

	if monitorAddr != "" {
		mctx, cancel := context.WithCancel(ctx)
		defer cancel()
		hub := monitor.NewHub()
		go hub.Run(mctx)
		go func() {
			if err := hub.Serve(mctx, monitorAddr); err != nil {
				logrus.Errorf("krogh: progress monitor: %v", err)
			}
		}()
		r.Notify = hub.Notify
		logrus.Infof("serving progress at ws://%s/status", monitorAddr)
	}

	recs, runErr := r.Run(ctx, points)
	if runErr != nil {
		if _, ok := runErr.(sweep.JobErrors); !ok {
			return runErr
		}
		logrus.Warnf("%d of %d points failed", len(runErr.(sweep.JobErrors)), len(points))
	}

	t, err := export.Build(recs, cols)
	if err != nil {
		return err
	}
	local, err := up.Local(outputFile)
	if err != nil {
		return err
	}
	if err := export.WriteFile(local, t); err != nil {
		return err
	}
	if recordFile != "" {
		if err := saveRecords(up, recordFile, recs); err != nil {
			return err
		}
	}
	logrus.Infof("sweep of %d points finished in %v", len(points), time.Since(startTime).Round(time.Millisecond))
	closeLog()
	if err := up.Upload(ctx); err != nil {
		return err
	}
	return runErr
}

func saveRecords(up *storage.Uploader, path string, recs []*sweep.Record) error {
	local, err := up.Local(path)
	if err != nil {
		return err
	}
	f, err := os.Create(local)
	if err != nil {
		return fmt.Errorf("krogh: creating record file: %v", err)
	}
	if err := sweep.SaveRecords(f, recs); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Search varies the parameter param between multiples of its value in p
// until the result field target reaches value. If value is 0, the target
// is a 10% increase over the result at p.
func Search(cmd *cobra.Command, logFile string, p *krogh.Parameters, r *sweep.Runner,
	target string, value float64, param string, multiples [2]float64) (*search.Outcome, error) {

	ctx := commandContext(cmd)
	up := &storage.Uploader{MaxRetries: uploadRetries}
	closeLog, err := startLog(cmd, logFile, up)
	if err != nil {
		return nil, err
	}
	defer closeLog()
	r.Log = logrus.StandardLogger()

	current, err := p.Get(param)
	if err != nil {
		return nil, err
	}
	if value == 0 {
		base, err := r.Evaluate(ctx, p)
		if err != nil {
			return nil, err
		}
		v, err := base.Get(target)
		if err != nil {
			return nil, err
		}
		value = v * (1 + sweep.SearchIncrease)
	}
	s := r.Strategy
	if s == nil {
		s = search.HillClimb{Steps: 10}
	}
	rng := search.Range{Param: param, Min: current * multiples[0], Max: current * multiples[1]}
	logrus.Infof("searching for %s = %g by varying %s", target, value, rng)
	o, err := search.Search(ctx, r, p, target, value, rng, s, search.WithLogger(r.Log))
	if err != nil {
		return nil, err
	}
	if !o.Reached {
		logrus.Warnf("%s did not reach %g within %s", target, value, rng)
	}
	closeLog()
	if err := up.Upload(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

// Predict trains a surrogate model on the results table at training and
// returns the predicted mean and standard deviation of target at the
// parameters p.
func Predict(training, target string, p *krogh.Parameters) (mean, sd float64, err error) {
	local, err := download(training)
	if err != nil {
		return 0, 0, err
	}
	if local != training {
		defer os.Remove(local)
	}
	t, err := export.ReadFile(local)
	if err != nil {
		return 0, 0, err
	}
	m, err := surrogate.Train(t, target)
	if err != nil {
		return 0, 0, err
	}
	x := make([]float64, len(surrogate.Features))
	for i, name := range surrogate.Features {
		param, err := featureParam(name)
		if err != nil {
			return 0, 0, err
		}
		if x[i], err = p.Get(param); err != nil {
			return 0, 0, err
		}
	}
	mean, variance, err := m.Predict(x)
	if err != nil {
		return 0, 0, err
	}
	return mean, math.Sqrt(variance), nil
}

// featureParam returns the name of the parameter that the results table
// column name holds.
func featureParam(name string) (string, error) {
	for _, c := range export.DefaultColumns() {
		if c.Name == name && strings.HasPrefix(c.Path, "params.") {
			return strings.TrimPrefix(c.Path, "params."), nil
		}
	}
	return "", fmt.Errorf("krogh: column '%s' does not hold a parameter", name)
}
