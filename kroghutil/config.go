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
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spatialmodel/krogh"
	"github.com/spatialmodel/krogh/export"
	"github.com/spatialmodel/krogh/search"
	"github.com/spatialmodel/krogh/storage"
	"github.com/spatialmodel/krogh/sweep"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// parameters returns the simulation parameters held in cfg.
func parameters(cfg *viper.Viper) (*krogh.Parameters, error) {
	p := krogh.DefaultParameters()
	for _, f := range krogh.ParameterFields() {
		var v float64
		if f.Name == "test" {
			if cfg.GetBool(f.Name) {
				v = 1
			}
		} else {
			var err error
			v, err = cast.ToFloat64E(cfg.Get(f.Name))
			if err != nil {
				return nil, fmt.Errorf("krogh: reading parameter '%s': %v", f.Name, err)
			}
		}
		var err error
		if p, err = p.With(f.Name, v); err != nil {
			return nil, err
		}
	}
	p.Verbose = cfg.GetBool("verbose")
	p.ReportInterval = cfg.GetInt("report_interval")
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// runner returns a sweep runner set up from cfg.
func runner(cfg *viper.Viper) (*sweep.Runner, error) {
	timeout, err := checkTimeout(cfg.GetString("timeout"))
	if err != nil {
		return nil, err
	}
	s, err := checkStrategy(cfg.GetString("strategy"), cfg.GetInt("steps"),
		cfg.GetInt("max_iterations"), cfg.GetFloat64("tolerance"))
	if err != nil {
		return nil, err
	}
	cacheDir := os.ExpandEnv(cfg.GetString("cache_dir"))
	if cacheDir != "" {
		if err := os.MkdirAll(cacheDir, os.ModePerm); err != nil {
			return nil, fmt.Errorf("krogh: creating cache directory: %v", err)
		}
	}
	return &sweep.Runner{
		Workers:    cfg.GetInt("workers"),
		Processors: cfg.GetInt("processors"),
		CacheSize:  cfg.GetInt("cache_size"),
		CacheDir:   cacheDir,
		Timeout:    timeout,
		Strategy:   s,
	}, nil
}

// checkOutputFile makes sure that the output file is specified and its
// directory exists, and expands any environment variables.
func checkOutputFile(f string) (string, error) {
	if f == "" {
		return "", fmt.Errorf(`you need to specify an output file configuration variable (for example: OutputFile="results.csv")`)
	}
	f = os.ExpandEnv(f)
	if storage.IsBlob(f) {
		u, err := url.Parse(f)
		if err != nil {
			return f, err
		}
		b, err := storage.OpenBucket(context.TODO(), u.Scheme+"://"+u.Host)
		if err != nil {
			return f, fmt.Errorf("krogh: error when checking OutputFile location: %v", err)
		}
		b.Close()
		return f, nil
	}
	outdir := filepath.Dir(f)
	if _, err := os.Stat(outdir); err != nil {
		return f, fmt.Errorf("krogh: the OutputFile directory doesn't exist: %v", err)
	}
	return f, nil
}

// checkRecordFile expands environment variables in the optional record
// file and makes sure its directory exists.
func checkRecordFile(f string) (string, error) {
	if f == "" {
		return "", nil
	}
	return checkOutputFile(f)
}

// checkInputFile makes sure that a required input file is specified and
// expands any environment variables.
func checkInputFile(f, name string) (string, error) {
	if f == "" {
		return "", fmt.Errorf("you need to specify the '%s' configuration variable", name)
	}
	f = os.ExpandEnv(f)
	if storage.IsBlob(f) {
		return f, nil
	}
	if _, err := os.Stat(f); err != nil {
		return f, fmt.Errorf("krogh: the %s file doesn't exist: %v", name, err)
	}
	return f, nil
}

// checkLogFile fills in a default value for the log file path if one isn't
// specified.
func checkLogFile(logFile, outputFile string) string {
	if logFile == "" && outputFile != "" {
		logFile = strings.TrimSuffix(outputFile, filepath.Ext(outputFile)) + ".log"
	}
	return os.ExpandEnv(logFile)
}

// checkProfileFile fills in a default value for the profile plot path if
// one isn't specified.
func checkProfileFile(profileFile, outputFile string) string {
	if profileFile == "" {
		ext := filepath.Ext(outputFile)
		profileFile = strings.TrimSuffix(outputFile, ext) + "_profiles" + ext
	}
	return os.ExpandEnv(profileFile)
}

// checkColumns parses the extra output column definitions and appends them
// to the default columns.
func checkColumns(defs []string) ([]export.Column, error) {
	var clean []string
	for _, d := range defs {
		d = strings.Replace(d, "\r\n", " ", -1)
		d = strings.Replace(d, "\n", " ", -1)
		if strings.TrimSpace(d) != "" {
			clean = append(clean, d)
		}
	}
	extra, err := export.ExprColumns(clean)
	if err != nil {
		return nil, err
	}
	return append(export.DefaultColumns(), extra...), nil
}

// checkTimeout parses the simulation time limit.
func checkTimeout(s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("krogh: invalid timeout: %v", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("krogh: timeout must not be negative, have %v", d)
	}
	return d, nil
}

// checkStrategy returns the named search strategy.
func checkStrategy(name string, steps, maxIterations int, tolerance float64) (search.Strategy, error) {
	switch name {
	case "hill":
		if steps < 1 {
			return nil, fmt.Errorf("krogh: 'steps' must be at least 1, have %d", steps)
		}
		return search.HillClimb{Steps: steps}, nil
	case "bisect":
		if maxIterations < 1 || tolerance <= 0 {
			return nil, fmt.Errorf("krogh: 'max_iterations' (%d) and 'tolerance' (%g) must be positive", maxIterations, tolerance)
		}
		return search.Bisect{MaxIterations: maxIterations, Tolerance: tolerance}, nil
	default:
		return nil, fmt.Errorf("krogh: strategy must be 'hill' or 'bisect', not '%s'", name)
	}
}

// checkRange reads the search range multiples, which may be given as a
// list or as a comma separated string.
func checkRange(v interface{}) ([2]float64, error) {
	var o [2]float64
	var items []interface{}
	switch t := v.(type) {
	case string:
		t = strings.Trim(strings.TrimSpace(t), "[]")
		for _, s := range strings.FieldsFunc(t, func(r rune) bool { return r == ',' || r == ' ' }) {
			items = append(items, s)
		}
	case []float64:
		for _, f := range t {
			items = append(items, f)
		}
	default:
		var err error
		items, err = cast.ToSliceE(v)
		if err != nil {
			return o, fmt.Errorf("krogh: reading 'range': %v", err)
		}
	}
	if len(items) != 2 {
		return o, fmt.Errorf("krogh: 'range' must have 2 values, have %d", len(items))
	}
	for i, item := range items {
		f, err := cast.ToFloat64E(item)
		if err != nil {
			return o, fmt.Errorf("krogh: reading 'range': %v", err)
		}
		o[i] = f
	}
	if !(o[0] > 0) || o[0] > o[1] {
		return o, fmt.Errorf("krogh: invalid search range multiples %v", o)
	}
	return o, nil
}

// checkPositive makes sure that a count is positive.
func checkPositive(n int, name string) (int, error) {
	if n < 1 {
		return n, fmt.Errorf("krogh: '%s' must be positive, have %d", name, n)
	}
	return n, nil
}
