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
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ctessum/requestcache"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/krogh"
	"github.com/spatialmodel/krogh/internal/hash"
	"github.com/spatialmodel/krogh/search"
)

// SearchIncrease is the relative increase in pbO2 that the searches of
// a point look for.
const SearchIncrease = 0.1

// Runner evaluates grid points. Identical simulations requested by
// different points or searches are run only once.
type Runner struct {
	// Workers is the number of points evaluated at once. The default is
	// GOMAXPROCS.
	Workers int

	// Processors is the number of simulations run at once. The default is
	// GOMAXPROCS.
	Processors int

	// CacheSize is the number of simulation results held in memory.
	// The default is 100.
	CacheSize int

	// CacheDir, if set, is a directory where simulation results are
	// cached between runs.
	CacheDir string

	// Timeout limits the time of each simulation. Zero means no limit.
	Timeout time.Duration

	// Strategy is used for the pbO2 searches. The default is a ten
	// step hill climb.
	Strategy search.Strategy

	// Log receives progress messages. The default is the standard logger.
	Log logrus.FieldLogger

	// Notify, if set, is called with the status of each job as it changes.
	Notify func(Status)

	cache     *requestcache.Cache
	cacheInit sync.Once
	cacheErr  error
}

// Status describes the progress of a job in a sweep.
type Status struct {
	Job   int    `json:"job"`
	Total int    `json:"total"`
	Stage string `json:"stage"`
	Err   string `json:"error,omitempty"`

	// Finished is the number of jobs of the sweep that have completed or
	// failed.
	Finished int `json:"finished"`
}

// outcome is the payload of the simulation cache. Errors are carried in
// the payload so that duplicate requests waiting on a failed simulation
// are released.
type outcome struct {
	res *krogh.Result
	err error
}

func (r *Runner) log() logrus.FieldLogger {
	if r.Log == nil {
		return logrus.StandardLogger()
	}
	return r.Log
}

func (r *Runner) strategy() search.Strategy {
	if r.Strategy == nil {
		return search.HillClimb{Steps: 10}
	}
	return r.Strategy
}

func positiveOr(v, def int) int {
	if v < 1 {
		return def
	}
	return v
}

func (r *Runner) init() error {
	r.cacheInit.Do(func() {
		funcs := []requestcache.CacheFunc{
			requestcache.Deduplicate(),
			requestcache.Memory(positiveOr(r.CacheSize, 100)),
		}
		if r.CacheDir != "" {
			if err := os.MkdirAll(r.CacheDir, 0755); err != nil {
				r.cacheErr = fmt.Errorf("sweep: creating cache directory: %v", err)
				return
			}
			funcs = append(funcs, requestcache.Disk(r.CacheDir, marshalOutcome, unmarshalOutcome))
		}
		r.cache = requestcache.NewCache(r.process, positiveOr(r.Processors, runtime.GOMAXPROCS(-1)), funcs...)
	})
	return r.cacheErr
}

// process runs one simulation. It never returns an error.
func (r *Runner) process(ctx context.Context, payload interface{}) (interface{}, error) {
	p := payload.(*krogh.Parameters)
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	res, err := krogh.Simulate(ctx, p, krogh.WithLogger(r.log()))
	return &outcome{res: res, err: err}, nil
}

func marshalOutcome(v interface{}) ([]byte, error) {
	if p, ok := v.(*interface{}); ok {
		v = *p
	}
	o, ok := v.(*outcome)
	if !ok {
		return nil, fmt.Errorf("sweep: cannot cache %T", v)
	}
	if o.err != nil {
		// An empty file is read back as a miss.
		return nil, nil
	}
	return o.res.MarshalBinary()
}

func unmarshalOutcome(b []byte) (interface{}, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("sweep: empty cache file")
	}
	res := new(krogh.Result)
	if err := res.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return &outcome{res: res}, nil
}

// key returns the cache key of a simulation. Settings that do not
// change the result are ignored.
func key(p *krogh.Parameters) string {
	k := p.Clone()
	k.JobNumber = 0
	k.Verbose = false
	k.ReportInterval = 0
	return hash.Hash(k)
}

// Evaluate runs a simulation with parameters p, or returns the cached
// result of an identical earlier simulation.
func (r *Runner) Evaluate(ctx context.Context, p *krogh.Parameters) (*krogh.Result, error) {
	if err := r.init(); err != nil {
		return nil, err
	}
	v, err := r.cache.NewRequest(ctx, p, key(p)).Result()
	if err != nil {
		return nil, err
	}
	o := v.(*outcome)
	return o.res, o.err
}

// CacheRequests returns the numbers of requests received by each cache
// layer; the last value is the number of simulations actually run.
func (r *Runner) CacheRequests() []int {
	if r.init() != nil {
		return nil
	}
	return r.cache.Requests()
}

// EvaluatePoint runs the base simulation of pt, the simulations with
// paO2 and velocity scaled by their multiples, and unless pt.NoSearch is
// set, searches for the Hb, velocity, paO2 and CMRO2 values that raise
// pbO2 by SearchIncrease.
func (r *Runner) EvaluatePoint(ctx context.Context, pt Point) (*Record, error) {
	p := pt.Params
	log := r.log().WithField("job", p.JobNumber)
	rec := &Record{
		Params:           p,
		PaO2Multiple:     pt.PaO2Multiple,
		VelocityMultiple: pt.VelocityMultiple,
		NoSearch:         pt.NoSearch,
	}

	var err error
	if rec.BaseResults, err = r.Evaluate(ctx, p); err != nil {
		return nil, fmt.Errorf("sweep: job %d: base simulation: %v", p.JobNumber, err)
	}
	log.Info("base results done")
	if rec.PaO2Results, err = r.scaled(ctx, rec.BaseResults, p, "paO2", pt.PaO2Multiple); err != nil {
		return nil, err
	}
	log.Info("paO2 increase results done")
	if rec.VelocityResults, err = r.scaled(ctx, rec.BaseResults, p, "velocity", pt.VelocityMultiple); err != nil {
		return nil, err
	}
	log.Info("velocity increase results done")

	basePb := krogh.Magnitude(rec.BaseResults.PbO2, krogh.MMHg)
	rec.RatioPbO2PaO2 = krogh.Magnitude(rec.PaO2Results.PbO2, krogh.MMHg) / basePb
	rec.PaO2UpHF = rec.PaO2Results.HypoxicFraction
	rec.RatioPbO2Vel = krogh.Magnitude(rec.VelocityResults.PbO2, krogh.MMHg) / basePb
	rec.VelUpHF = rec.VelocityResults.HypoxicFraction

	if pt.NoSearch {
		rec.HbSearch, rec.HbParams = rec.BaseResults, p
		rec.VelocitySearch, rec.VelocityParams = rec.BaseResults, p
		rec.PaO2Search, rec.PaO2Params = rec.BaseResults, p
		rec.CMRO2Search, rec.CMRO2Params = rec.BaseResults, p
		return rec, nil
	}

	target := basePb * (1 + SearchIncrease)
	for _, s := range []struct {
		param    string
		min, max float64
		res      **krogh.Result
		params   **krogh.Parameters
	}{
		{"Hb", 1, 4, &rec.HbSearch, &rec.HbParams},
		{"velocity", 1, 2, &rec.VelocitySearch, &rec.VelocityParams},
		{"paO2", 1, 2, &rec.PaO2Search, &rec.PaO2Params},
		{"CMRO2", 0.5, 1, &rec.CMRO2Search, &rec.CMRO2Params},
	} {
		v, err := p.Get(s.param)
		if err != nil {
			return nil, fmt.Errorf("sweep: job %d: %v", p.JobNumber, err)
		}
		log.Infof("searching for pbO2 increase to %.4g mmHg via %s", target, s.param)
		o, err := search.Search(ctx, r, p, "pbO2", target,
			search.Range{Param: s.param, Min: v * s.min, Max: v * s.max}, r.strategy(), search.WithLogger(log))
		if err != nil {
			return nil, fmt.Errorf("sweep: job %d: %s search: %v", p.JobNumber, s.param, err)
		}
		*s.res, *s.params = o.Result, o.Params
		entry := log.WithFields(logrus.Fields{
			"evaluations": o.Evaluations,
			"pbO2":        krogh.Magnitude(o.Result.PbO2, krogh.MMHg),
		})
		if o.Reached {
			entry.Infof("%s search done at %s = %.4g", s.param, s.param, o.Value)
		} else {
			entry.Warnf("%s search did not reach pbO2 of %.4g mmHg; best %s = %.4g", s.param, target, s.param, o.Value)
		}
	}
	return rec, nil
}

// scaled returns the results with the named parameter multiplied by
// factor, reusing base when factor is 1.
func (r *Runner) scaled(ctx context.Context, base *krogh.Result, p *krogh.Parameters, name string, factor float64) (*krogh.Result, error) {
	if factor == 1 {
		return base, nil
	}
	sp, err := p.Scale(name, factor)
	if err != nil {
		return nil, fmt.Errorf("sweep: job %d: %v", p.JobNumber, err)
	}
	res, err := r.Evaluate(ctx, sp)
	if err != nil {
		return nil, fmt.Errorf("sweep: job %d: %s × %g simulation: %v", p.JobNumber, name, factor, err)
	}
	return res, nil
}

// JobErrors holds the errors of failed jobs by job number.
type JobErrors map[int]error

func (e JobErrors) Error() string {
	jobs := make([]int, 0, len(e))
	for j := range e {
		jobs = append(jobs, j)
	}
	sort.Ints(jobs)
	msgs := make([]string, len(jobs))
	for i, j := range jobs {
		msgs[i] = e[j].Error()
	}
	return fmt.Sprintf("sweep: %d jobs failed: %s", len(e), strings.Join(msgs, "; "))
}

// Run evaluates points in parallel. The returned records are in the
// same order as points. When some jobs fail, the others still run; the
// records of the failed jobs are nil and the error is a JobErrors.
func (r *Runner) Run(ctx context.Context, points []Point) ([]*Record, error) {
	for _, pt := range points {
		if err := pt.Validate(); err != nil {
			return nil, err
		}
	}
	if err := r.init(); err != nil {
		return nil, err
	}
	workers := positiveOr(r.Workers, runtime.GOMAXPROCS(-1))
	r.log().Infof("evaluating %d points using %d workers", len(points), workers)

	recs := make([]*Record, len(points))
	failed := make(JobErrors)
	var lock sync.Mutex
	var finished int
	notify := func(s Status) {
		if r.Notify != nil {
			r.Notify(s)
		}
	}

	jobChan := make(chan int, len(points))
	for i := range points {
		jobChan <- i
	}
	close(jobChan)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobChan {
				job := points[i].Params.JobNumber
				lock.Lock()
				notify(Status{Job: job, Total: len(points), Stage: "running", Finished: finished})
				lock.Unlock()

				rec, err := r.EvaluatePoint(ctx, points[i])

				lock.Lock()
				finished++
				s := Status{Job: job, Total: len(points), Stage: "done", Finished: finished}
				if err != nil {
					failed[job] = err
					s.Stage, s.Err = "failed", err.Error()
					r.log().WithField("job", job).Error(err)
				} else {
					recs[i] = rec
				}
				notify(s)
				lock.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(failed) > 0 {
		return recs, failed
	}
	return recs, nil
}
