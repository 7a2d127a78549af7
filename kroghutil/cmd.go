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
	"fmt"
	"os"

	"github.com/spatialmodel/krogh"
	"github.com/spatialmodel/krogh/sweep"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Flags shared by the commands that build simulation parameters.
	paramSets := []*pflag.FlagSet{runCmd.Flags(), searchCmd.Flags()}
	featureSets := []*pflag.FlagSet{runCmd.Flags(), searchCmd.Flags(), predictCmd.Flags()}
	sweepSets := []*pflag.FlagSet{sweepCmd.Flags(), randomCmd.Flags()}
	searchSets := []*pflag.FlagSet{sweepCmd.Flags(), randomCmd.Flags(), searchCmd.Flags()}

	// Options are the configuration options available to Krogh.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "LogFile",
			usage: `
              LogFile specifies the path to the desired logfile location. It can include
              environment variables. If LogFile is left empty, the log file will be saved in
              the same location as the OutputFile, with the extension '.log'. Commands without
              an OutputFile only log to standard output.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "OutputFile",
			usage: `
              OutputFile specifies the path to the desired output file location. It can
              include environment variables and may be a blob storage URL (file://, gs://
              or s3://). For 'run' it is the saved simulation, for 'sweep' and 'random'
              it is a results table (.csv or .xlsx), and for 'plot' it is the heat map
              image (.png, .svg or .pdf).`,
			shorthand:  "o",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), sweepCmd.Flags(), randomCmd.Flags(), plotCmd.Flags()},
		},
		{
			name: "CMRO2",
			usage: `
              CMRO2 is the maximal tissue metabolic rate of oxygen [mlO2/100g/min].`,
			defaultVal: 3.0,
			flagsets:   featureSets,
		},
		{
			name: "z_capillary",
			usage: `
              z_capillary is the capillary length [μm].`,
			defaultVal: 200.0,
			flagsets:   paramSets,
		},
		{
			name: "velocity",
			usage: `
              velocity is the blood flow velocity [mm/s].`,
			defaultVal: 1.0,
			flagsets:   featureSets,
		},
		{
			name: "D",
			usage: `
              D is the oxygen diffusivity in tissue [cm²/s].`,
			defaultVal: 1.65e-5,
			flagsets:   featureSets,
		},
		{
			name: "r_Krogh",
			usage: `
              r_Krogh is the radius of the tissue cylinder [μm]. The numbers of
              radial and axial samples are scaled in proportion to r_Krogh / 20 μm.`,
			defaultVal: 20.0,
			flagsets:   featureSets,
		},
		{
			name: "r_capillary",
			usage: `
              r_capillary is the capillary radius [μm].`,
			defaultVal: 3.0,
			flagsets:   paramSets,
		},
		{
			name: "paO2",
			usage: `
              paO2 is the arterial oxygen pressure at the capillary inlet [mmHg].`,
			defaultVal: 200.0,
			flagsets:   featureSets,
		},
		{
			name: "Hb",
			usage: `
              Hb is the hemoglobin concentration [g/dL].`,
			defaultVal: 10.0,
			flagsets:   featureSets,
		},
		{
			name: "sigma",
			usage: `
              sigma is the oxygen solubility in tissue [mlO2/dL/mmHg].`,
			defaultVal: 0.0031,
			flagsets:   paramSets,
		},
		{
			name: "r_steps",
			usage: `
              r_steps is the number of radial samples at a Krogh radius of 20 μm.`,
			defaultVal: 100,
			flagsets:   paramSets,
		},
		{
			name: "z_steps",
			usage: `
              z_steps is the number of axial samples at a Krogh radius of 20 μm.`,
			defaultVal: 1000,
			flagsets:   paramSets,
		},
		{
			name: "test",
			usage: `
              test makes simulations return a placeholder result without solving.`,
			defaultVal: false,
			flagsets:   paramSets,
		},
		{
			name: "verbose",
			usage: `
              verbose specifies whether to log the oxygen balance of every axial slice.`,
			shorthand:  "v",
			defaultVal: false,
			flagsets:   paramSets,
		},
		{
			name: "report_interval",
			usage: `
              report_interval is the number of axial slices between progress messages.
              Values less than 1 disable progress messages.`,
			defaultVal: 100,
			flagsets:   paramSets,
		},
		{
			name: "grid",
			usage: `
              grid specifies the path to a JSON or TOML file mapping parameter names
              to a value or a list of values. The sweep runs every combination.`,
			shorthand:  "g",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{sweepCmd.Flags()},
		},
		{
			name: "n",
			usage: `
              n is the number of random points to draw.`,
			defaultVal: 100,
			flagsets:   []*pflag.FlagSet{randomCmd.Flags()},
		},
		{
			name: "seed",
			usage: `
              seed is the seed of the random number generator.`,
			defaultVal: 1,
			flagsets:   []*pflag.FlagSet{randomCmd.Flags()},
		},
		{
			name: "RecordFile",
			usage: `
              RecordFile specifies an optional path where the complete results of every
              point are saved in binary form.`,
			defaultVal: "",
			flagsets:   sweepSets,
		},
		{
			name: "columns",
			usage: `
              columns specifies extra output columns in the format 'name = expression',
              where the expression can refer to earlier columns or to record fields
              such as [base_results.pbO2].`,
			defaultVal: []string{},
			flagsets:   sweepSets,
		},
		{
			name: "workers",
			usage: `
              workers is the number of points evaluated at once. 0 means the number
              of processors.`,
			defaultVal: 0,
			flagsets:   sweepSets,
		},
		{
			name: "processors",
			usage: `
              processors is the number of simulations run at once. 0 means the number
              of processors.`,
			defaultVal: 0,
			flagsets:   searchSets,
		},
		{
			name: "cache_size",
			usage: `
              cache_size is the number of simulation results held in memory.`,
			defaultVal: 100,
			flagsets:   searchSets,
		},
		{
			name: "cache_dir",
			usage: `
              cache_dir specifies an optional directory where simulation results are
              cached between runs.`,
			defaultVal: "",
			flagsets:   searchSets,
		},
		{
			name: "timeout",
			usage: `
              timeout limits the time of each simulation, for example '10m'. 0 means
              no limit.`,
			defaultVal: "0s",
			flagsets:   searchSets,
		},
		{
			name: "strategy",
			usage: `
              strategy is the search strategy: 'hill' moves across the search range in
              fixed steps and 'bisect' bisects the range.`,
			defaultVal: "hill",
			flagsets:   searchSets,
		},
		{
			name: "steps",
			usage: `
              steps is the number of steps of the 'hill' search strategy.`,
			defaultVal: 10,
			flagsets:   searchSets,
		},
		{
			name: "max_iterations",
			usage: `
              max_iterations is the maximum number of bisections of the 'bisect' search
              strategy.`,
			defaultVal: 20,
			flagsets:   searchSets,
		},
		{
			name: "tolerance",
			usage: `
              tolerance is the width of the search range, relative to its initial width,
              at which the 'bisect' search strategy stops.`,
			defaultVal: 0.01,
			flagsets:   searchSets,
		},
		{
			name: "monitor",
			usage: `
              monitor specifies an optional address, for example 'localhost:8080', where
              the progress of the sweep is served over a websocket at path /status.`,
			defaultVal: "",
			flagsets:   sweepSets,
		},
		{
			name: "target",
			usage: `
              target is the result field to search for or predict.`,
			defaultVal: "pbO2",
			flagsets:   []*pflag.FlagSet{searchCmd.Flags(), predictCmd.Flags()},
		},
		{
			name: "value",
			usage: `
              value is the target value of the search. 0 means a 10% increase over
              the target at the starting parameters.`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{searchCmd.Flags()},
		},
		{
			name: "param",
			usage: `
              param is the name of the parameter that is varied by the search.`,
			defaultVal: "Hb",
			flagsets:   []*pflag.FlagSet{searchCmd.Flags()},
		},
		{
			name: "range",
			usage: `
              range gives the bounds of the search as a comma separated pair of
              multiples of the starting value of param.`,
			defaultVal: "1,4",
			flagsets:   []*pflag.FlagSet{searchCmd.Flags()},
		},
		{
			name: "input",
			usage: `
              input specifies the path to a simulation saved by 'run'.`,
			shorthand:  "i",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{plotCmd.Flags()},
		},
		{
			name: "ProfileFile",
			usage: `
              ProfileFile specifies the path to the radial profile plot. If it is left
              empty, the plot is saved next to the OutputFile with '_profiles' appended
              to the name.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{plotCmd.Flags()},
		},
		{
			name: "profiles",
			usage: `
              profiles lists the axial slices whose radial profiles are plotted.
              Negative values count back from the capillary outlet. The default is
              the inlet, middle and outlet slices.`,
			defaultVal: []int{},
			flagsets:   []*pflag.FlagSet{plotCmd.Flags()},
		},
		{
			name: "training",
			usage: `
              training specifies the path to a results table (.csv or .xlsx) written
              by 'sweep' or 'random' to train the predictor on.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{predictCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("KROGH")
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case []string:
				set.StringSlice(option.name, option.defaultVal.([]string), option.usage)
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case int:
				set.Int(option.name, option.defaultVal.(int), option.usage)
			case []int:
				set.IntSlice(option.name, option.defaultVal.([]int), option.usage)
			case float64:
				set.Float64(option.name, option.defaultVal.(float64), option.usage)
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(runCmd)
	Root.AddCommand(sweepCmd)
	Root.AddCommand(randomCmd)
	Root.AddCommand(searchCmd)
	Root.AddCommand(plotCmd)
	Root.AddCommand(predictCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(os.ExpandEnv(cfgpath))
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("krogh: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "krogh",
	Short: "A Krogh cylinder model of tissue oxygen transport.",
	Long: `Krogh is a steady-state model of oxygen transport from a capillary into
the surrounding cylinder of consuming tissue.
Use the subcommands specified below to access the model functionality.

Refer to the subcommand documentation for configuration options and default settings.
Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'KROGH_var' where 'var' is the
name of the variable to be set.
Refer to https://github.com/spf13/viper for additional configuration information.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of Krogh.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("Krogh v%s\n", krogh.Version)
	},
	DisableAutoGenTag: true,
}

// runCmd is a command that runs a single simulation.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single simulation.",
	Long: `run runs a single Krogh cylinder simulation with the configured parameters,
logs the results, and saves the parameters, results and tissue pressure field
to OutputFile for later plotting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		outputFile, err := checkOutputFile(Cfg.GetString("OutputFile"))
		if err != nil {
			return err
		}
		p, err := parameters(Cfg)
		if err != nil {
			return err
		}
		_, err = RunSimulation(cmd, checkLogFile(Cfg.GetString("LogFile"), outputFile), outputFile, p)
		return err
	},
	DisableAutoGenTag: true,
}

// sweepCmd is a command that runs a grid of simulations.
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a parameter sweep.",
	Long: `sweep evaluates every combination of the parameter values in the grid file.
Each point is simulated at its base parameters and at multiples of paO2 and
velocity, and four searches look for the Hb, velocity, paO2 and CMRO2 values that
raise the average tissue oxygen pressure by 10%. The results are written to
OutputFile as a table.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		grid, err := checkInputFile(Cfg.GetString("grid"), "grid")
		if err != nil {
			return err
		}
		local, err := download(grid)
		if err != nil {
			return err
		}
		if local != grid {
			defer os.Remove(local)
		}
		g, err := sweep.LoadGrid(local)
		if err != nil {
			return err
		}
		points, err := g.Expand()
		if err != nil {
			return err
		}
		return sweepPoints(cmd, points)
	},
	DisableAutoGenTag: true,
}

// randomCmd is a command that runs randomly drawn simulations.
var randomCmd = &cobra.Command{
	Use:   "random",
	Short: "Run a sweep over random parameters.",
	Long: `random evaluates n points whose parameters are drawn uniformly within
ranges of physiological values, the same way 'sweep' evaluates the points of
a grid. The results are suitable for training the predictor.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := checkPositive(Cfg.GetInt("n"), "n")
		if err != nil {
			return err
		}
		points, err := sweep.RandomGrid(sweep.DefaultRandomRanges(), n, cast.ToUint64(Cfg.GetInt("seed")))
		if err != nil {
			return err
		}
		return sweepPoints(cmd, points)
	},
	DisableAutoGenTag: true,
}

// sweepPoints runs the sweep and random commands.
func sweepPoints(cmd *cobra.Command, points []sweep.Point) error {
	outputFile, err := checkOutputFile(Cfg.GetString("OutputFile"))
	if err != nil {
		return err
	}
	recordFile, err := checkRecordFile(Cfg.GetString("RecordFile"))
	if err != nil {
		return err
	}
	cols, err := checkColumns(Cfg.GetStringSlice("columns"))
	if err != nil {
		return err
	}
	r, err := runner(Cfg)
	if err != nil {
		return err
	}
	return Sweep(cmd, checkLogFile(Cfg.GetString("LogFile"), outputFile), outputFile, recordFile,
		cols, points, r, Cfg.GetString("monitor"))
}

// searchCmd is a command that searches for a parameter value.
var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search for a parameter value.",
	Long: `search varies param within range, given as multiples of its configured
value, until the result field target reaches value.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := parameters(Cfg)
		if err != nil {
			return err
		}
		r, err := runner(Cfg)
		if err != nil {
			return err
		}
		rng, err := checkRange(Cfg.Get("range"))
		if err != nil {
			return err
		}
		o, err := Search(cmd, Cfg.GetString("LogFile"), p, r, Cfg.GetString("target"),
			Cfg.GetFloat64("value"), Cfg.GetString("param"), rng)
		if err != nil {
			return err
		}
		cmd.Printf("%s = %g (reached: %v, %d evaluations)\n", Cfg.GetString("param"), o.Value, o.Reached, o.Evaluations)
		return nil
	},
	DisableAutoGenTag: true,
}

// plotCmd is a command that plots a saved simulation.
var plotCmd = &cobra.Command{
	Use:   "plot",
	Short: "Plot a saved simulation.",
	Long: `plot draws a heat map of the tissue oxygen pressure field of a simulation
saved by 'run' to OutputFile, and the radial pressure profiles of the chosen
axial slices to ProfileFile.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		input, err := checkInputFile(Cfg.GetString("input"), "input")
		if err != nil {
			return err
		}
		outputFile, err := checkOutputFile(Cfg.GetString("OutputFile"))
		if err != nil {
			return err
		}
		var profiles []int
		if v := Cfg.Get("profiles"); v != nil {
			if profiles, err = cast.ToIntSliceE(v); err != nil {
				return fmt.Errorf("krogh: reading 'profiles': %v", err)
			}
		}
		return Plot(input, outputFile, checkProfileFile(Cfg.GetString("ProfileFile"), outputFile), profiles)
	},
	DisableAutoGenTag: true,
}

// predictCmd is a command that predicts results without simulating.
var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict results without simulating.",
	Long: `predict trains a Gaussian process on a results table written by 'sweep'
or 'random' and predicts the target (pbO2 or jvO2_sat) at the configured
CMRO2, velocity, D, r_Krogh, paO2 and Hb.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		training, err := checkInputFile(Cfg.GetString("training"), "training")
		if err != nil {
			return err
		}
		p, err := parameters(Cfg)
		if err != nil {
			return err
		}
		target := Cfg.GetString("target")
		mean, sd, err := Predict(training, target, p)
		if err != nil {
			return err
		}
		cmd.Printf("%s = %g ± %g\n", target, mean, sd)
		return nil
	},
	DisableAutoGenTag: true,
}
