/*
Copyright © 2021 the windprof authors.
This file is part of windprof.

windprof is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

windprof is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with windprof.  If not, see <http://www.gnu.org/licenses/>.
*/

package windprofutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lnashier/viper"
	"github.com/ncasuk/windprof"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to windprof.
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
			name: "verbose",
			usage: `
              verbose turns on debug-level log output.`,
			shorthand:  "v",
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "raw_root",
			usage: `
              raw_root is the directory holding the raw profiler recordings.
              Every *.trw file in it is processed when no files are named on
              the command line. The path can include environment variables.`,
			defaultVal: ".",
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "output_root",
			usage: `
              output_root is the directory the netCDF file is written to.
              The path can include environment variables.`,
			defaultVal: ".",
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "log_root",
			usage: `
              log_root is a directory to keep daily log files in. When it is
              empty, log output only goes to the terminal. The path can
              include environment variables.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "metadata",
			usage: `
              metadata is the path to the curated global attribute table, a
              two-column CSV file or an .xlsx spreadsheet of attribute,value
              rows. It must supply the attributes the archive requires, such
              as source, institution, platform, creator_name, and
              creator_email. The path can include environment variables.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "attributes",
			usage: `
              attributes gives extra global attributes to write to the
              output file, overriding the metadata table on collisions.`,
			defaultVal: map[string]string{},
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "mode",
			usage: `
              mode tags the output file name with the operating mode of the
              recordings, for example 'high-mode_15min'. When empty, the tag
              is derived from the receiver channel in the raw file headers.`,
			shorthand:  "m",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "qc_config",
			usage: `
              qc_config is the path to a TOML file adjusting the quality
              control thresholds and adding expression checks. The built-in
              thresholds are used when it is empty. The path can include
              environment variables.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "instrument_name",
			usage: `
              instrument_name is the archive name of the instrument, the
              first field of the output file name.`,
			defaultVal: windprof.DefaultInstrument,
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "product_version",
			usage: `
              product_version is the data product version recorded in the
              output file and its name.`,
			defaultVal: windprof.DefaultProductVersion,
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("WINDPROF")

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
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case float64:
				if option.shorthand == "" {
					set.Float64(option.name, option.defaultVal.(float64), option.usage)
				} else {
					set.Float64P(option.name, option.shorthand, option.defaultVal.(float64), option.usage)
				}
			case map[string]string:
				b := bytes.NewBuffer(nil)
				e := json.NewEncoder(b)
				e.Encode(option.defaultVal)
				s := string(b.Bytes())
				if option.shorthand == "" {
					set.String(option.name, s, option.usage)
				} else {
					set.StringP(option.name, option.shorthand, s, option.usage)
				}
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
	Root.AddCommand(processCmd)
	Root.AddCommand(inspectCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("windprof: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "windprof",
	Short: "Convert radar wind profiler recordings to netCDF.",
	Long: `windprof converts the raw recordings written by a boundary-layer radar
wind profiler into daily CF-compliant netCDF files, one file per operating
mode, quality controlling the winds on the way.

Refer to the subcommand documentation for configuration options and default
settings. Configuration can be changed by using a configuration file (and
providing the path to the file using the --config flag), by using
command-line arguments, or by setting environment variables in the format
'WINDPROF_var' where 'var' is the name of the variable to be set. Many
configuration variables are additionally allowed to contain environment
variables within them.
Refer to https://github.com/spf13/viper for additional configuration
information.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of windprof.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("windprof v%s\n", windprof.Version)
	},
	DisableAutoGenTag: true,
}

// processCmd is a command that converts one day of raw recordings into
// a netCDF file.
var processCmd = &cobra.Command{
	Use:   "process [raw files]",
	Short: "Convert raw recordings to a netCDF file.",
	Long: `process reads one day of raw recordings from a single operating mode,
quality controls them, and writes them to a daily netCDF file named
following the archive convention. The recordings are the files named on
the command line, or every *.trw file under raw_root when none are. The
path of the written file is printed on success; when the recordings hold
no records, no file is written and nothing is printed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, closeLog, err := newLogger(cmd)
		if err != nil {
			return err
		}
		defer closeLog()

		runID := uuid.NewString()
		log.WithFields(logrus.Fields{
			"run":     runID,
			"version": windprof.Version,
		}).Info("windprof starting")

		paths, err := rawPaths(args)
		if err != nil {
			return err
		}

		meta := windprof.Metadata{}
		if path := os.ExpandEnv(Cfg.GetString("metadata")); path != "" {
			if meta, err = windprof.ReadMetadata(path); err != nil {
				return err
			}
		}
		attrs, err := getStringMapString("attributes", Cfg)
		if err != nil {
			return err
		}
		for k, v := range attrs {
			meta[k] = v
		}

		qcConfig := windprof.DefaultQCConfig()
		if path := os.ExpandEnv(Cfg.GetString("qc_config")); path != "" {
			if qcConfig, err = windprof.ReadQCConfig(path); err != nil {
				return err
			}
		}

		mode := Cfg.GetString("mode")
		if err := checkMode(mode); err != nil {
			return err
		}

		p := &windprof.Pipeline{
			Mode: mode,
			QC:   qcConfig,
			Output: windprof.OutputConfig{
				Dir:            os.ExpandEnv(Cfg.GetString("output_root")),
				Instrument:     Cfg.GetString("instrument_name"),
				ProductVersion: Cfg.GetString("product_version"),
				History:        fmt.Sprintf("%s (run %s)", strings.Join(os.Args, " "), runID),
			},
			Metadata: meta,
			Log:      log,
		}
		out, err := p.Run(paths)
		if err != nil {
			return err
		}
		if out != "" {
			cmd.Println(out)
		}
		return nil
	},
	DisableAutoGenTag: true,
}

// inspectCmd is a command that prints the contents of raw files.
var inspectCmd = &cobra.Command{
	Use:   "inspect raw_file [raw files]",
	Short: "Summarize raw recordings.",
	Long: `inspect prints the file header and a one-line summary of every record
in the named raw files, without quality control. It is meant for checking
what an instrument wrote before converting it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return fmt.Errorf("windprof: no raw files named")
		}
		for _, path := range args {
			if err := inspect(cmd.OutOrStdout(), path); err != nil {
				return err
			}
		}
		return nil
	},
	DisableAutoGenTag: true,
}

// newLogger builds the process command's logger. Debug level when the
// verbose flag is set; output teed to a daily file under log_root when
// that is configured. The returned function releases the log file.
func newLogger(cmd *cobra.Command) (*logrus.Logger, func(), error) {
	log := logrus.New()
	log.Out = cmd.OutOrStdout()
	if Cfg.GetBool("verbose") {
		log.Level = logrus.DebugLevel
	}
	dir := os.ExpandEnv(Cfg.GetString("log_root"))
	if dir == "" {
		return log, func() {}, nil
	}
	name := filepath.Join(dir, "windprof_"+time.Now().UTC().Format("20060102")+".log")
	logfile, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("windprof: problem creating log file: %v", err)
	}
	log.Out = io.MultiWriter(cmd.OutOrStdout(), logfile)
	return log, func() { logfile.Close() }, nil
}

// rawPaths returns the raw files to process: the ones named on the
// command line, or every recording under raw_root. The order fixes how
// ties between equal timestamps resolve, so it is made deterministic
// here.
func rawPaths(args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	pattern := filepath.Join(os.ExpandEnv(Cfg.GetString("raw_root")), "*"+windprof.RawExt)
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("windprof: listing raw files: %v", err)
	}
	sort.Strings(paths)
	return paths, nil
}

// checkMode validates a mode tag. The tag goes into the output file
// name, so only file-name-safe characters may appear in it.
func checkMode(mode string) error {
	if mode == "" {
		return nil
	}
	for _, r := range mode {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' ||
			r == '-' || r == '_' || r == '.' {
			continue
		}
		return fmt.Errorf("windprof: invalid mode tag %q: use lower-case letters, digits, '-', '_', and '.'", mode)
	}
	return nil
}

// getStringMapString returns a map[string]string from a viper
// configuration, accounting for the fact that it might be a json object
// if it was set from a command line argument.
func getStringMapString(varName string, cfg *viper.Viper) (map[string]string, error) {
	i := cfg.Get(varName)
	switch i.(type) {
	case map[string]string:
		return i.(map[string]string), nil
	case map[string]interface{}:
		return cast.ToStringMapStringE(i)
	case string:
		o := make(map[string]string)
		if err := json.Unmarshal([]byte(i.(string)), &o); err != nil {
			return nil, fmt.Errorf("windprof: reading '%s': %v", varName, err)
		}
		return o, nil
	default:
		return nil, fmt.Errorf("windprof: invalid type for '%s': %#v", varName, i)
	}
}

// inspect prints the header and per-record summary of the raw file at
// path to w.
func inspect(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("windprof: opening raw file: %v", err)
	}
	defer f.Close()
	d, err := windprof.NewDecoder(f)
	if err != nil {
		return err
	}
	h := d.Header()
	fmt.Fprintf(w, "%s:\n", path)
	fmt.Fprintf(w, "  channel %s, %d gates from %g m every %g m\n",
		h.Channel, h.GateCount, h.MinHeight, h.HeightIncrement)
	fmt.Fprintf(w, "  site %.5f°N %.5f°E at %g m, %g MHz, beam width %g°\n",
		h.Latitude, h.Longitude, h.Altitude, h.Frequency/1e6, h.BeamWidth)
	fmt.Fprintf(w, "  %s to %s, sampling every %d min, consensus over %d min\n",
		h.StartTime.UTC().Format("2006-01-02 15:04:05"),
		h.EndTime.UTC().Format("2006-01-02 15:04:05"),
		h.UpdateRate, h.ConsensusDuration)
	if h.RainDetected {
		fmt.Fprintln(w, "  rain detected")
	}
	for {
		rec, err := d.Next()
		if err == io.EOF {
			break
		}
		var malformed *windprof.MalformedRecordError
		if errors.As(err, &malformed) {
			fmt.Fprintf(w, "  skipping record: %v\n", err)
			continue
		}
		if err != nil {
			return err
		}
		consensus := 0
		for i := range rec.Gates {
			if rec.Gates[i].WindFlag == windprof.FlagGood {
				consensus++
			}
		}
		fmt.Fprintf(w, "  %s  %d gates, %d with consensus winds\n",
			rec.Time.UTC().Format("15:04:05"), len(rec.Gates), consensus)
	}
	return nil
}
