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

package windprof

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
)

// FillValue replaces suspect and missing cells in the aggregated
// arrays and is written to the output as the _FillValue attribute.
const FillValue = -1.0e20

// A ModeDataset is one processing mode's merged day of observations:
// rectangular time×height arrays, one per output variable, with
// parallel flag arrays, plus the per-time housekeeping and the run
// bookkeeping the output file records.
type ModeDataset struct {
	Mode     string // mode tag, e.g. "high-mode_15min"
	Day      time.Time
	Site     Site
	Geometry Geometry

	SoftwareVersion   string
	UpdateRate        int // minutes
	ConsensusDuration int // minutes

	Times   []time.Time
	Heights []float64
	// Data and Flags hold one time×height array per output variable,
	// keyed by variable name. Cells whose governing flag is not good
	// hold FillValue.
	Data  map[string]*sparse.DenseArray
	Flags map[string]*sparse.DenseArray
	// Rain holds the per-time rain detection flag (1 no rain, 2 rain).
	Rain []Flag

	Files      int
	Skipped    int // malformed record slots across all files
	Duplicates int // records discarded for duplicating a timestamp
}

// GeometryMismatchError reports a raw file whose gate geometry differs
// from the first file of the mode. Aggregation cannot proceed: the
// day's arrays would not be rectangular.
type GeometryMismatchError struct {
	Path      string
	Want, Got Geometry
}

func (e *GeometryMismatchError) Error() string {
	return fmt.Sprintf("windprof: %s: gate geometry (%d gates from %g m every %g m) does not match the first file (%d gates from %g m every %g m)",
		e.Path, e.Got.GateCount, e.Got.FirstGateHeight, e.Got.GateIncrement,
		e.Want.GateCount, e.Want.FirstGateHeight, e.Want.GateIncrement)
}

// SiteMismatchError reports a raw file recorded at a different
// instrument position than the first file of the mode.
type SiteMismatchError struct {
	Path      string
	Want, Got Site
}

func (e *SiteMismatchError) Error() string {
	return fmt.Sprintf("windprof: %s: instrument position (%g°N %g°E %g m) does not match the first file (%g°N %g°E %g m)",
		e.Path, e.Got.Latitude, e.Got.Longitude, e.Got.Altitude,
		e.Want.Latitude, e.Want.Longitude, e.Want.Altitude)
}

// DayMismatchError reports a record timestamp outside the calendar day
// the rest of the input belongs to. One output file holds one UTC day.
type DayMismatchError struct {
	Path string
	Day  time.Time
	Time time.Time
}

func (e *DayMismatchError) Error() string {
	return fmt.Sprintf("windprof: %s: record at %s is outside the day %s",
		e.Path, e.Time.Format("2006-01-02T15:04:05"), e.Day.Format("2006-01-02"))
}

// dataVarNames are the time×height output variables, in output order.
var dataVarNames = []string{
	"wind_speed",
	"wind_from_direction",
	"eastward_wind",
	"northward_wind",
	"upward_air_velocity",
	"signal_to_noise_ratio_of_beam_1",
	"signal_to_noise_ratio_of_beam_2",
	"signal_to_noise_ratio_of_beam_3",
	"signal_to_noise_ratio_minimum",
	"spectral_width_of_beam_1",
	"spectral_width_of_beam_2",
	"spectral_width_of_beam_3",
	"skew_of_beam_1",
	"skew_of_beam_2",
	"skew_of_beam_3",
}

// flagVarNames are the time×height flag variables, in output order.
var flagVarNames = []string{
	"qc_flag_wind",
	"qc_flag_beam_1",
	"qc_flag_beam_2",
	"qc_flag_beam_3",
}

func beamVar(prefix string, b int) string {
	return fmt.Sprintf("%s_%d", prefix, b+1)
}

// modeWord extracts the leading mode word from a tag like
// "high-mode_15min". It returns "" when the tag has no -mode part.
func modeWord(tag string) string {
	if i := strings.Index(tag, "-mode"); i > 0 {
		return tag[:i]
	}
	return ""
}

// Aggregate merges the quality-controlled records of one mode's raw
// files into a single day's dataset. Files must agree on gate geometry
// and instrument position, and every record must fall on one UTC
// calendar day. Records merge in ascending timestamp order; equal
// timestamps keep the order the files were given in, and a record that
// duplicates an already-kept timestamp is discarded and counted. No
// input records at all is not an error: Aggregate returns (nil, nil)
// and no output should be written.
func Aggregate(mode string, files []*RawFile, log logrus.FieldLogger) (*ModeDataset, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if len(files) == 0 {
		return nil, nil
	}

	ref := files[0].Header
	geom := ref.Geometry()
	site := ref.Site()

	type row struct {
		rec  *Record
		file *RawFile
	}
	var rows []row
	skipped := 0
	for _, f := range files {
		if g := f.Header.Geometry(); !g.Equal(geom) {
			return nil, &GeometryMismatchError{Path: f.Path, Want: geom, Got: g}
		}
		if s := f.Header.Site(); !s.Equal(site) {
			return nil, &SiteMismatchError{Path: f.Path, Want: site, Got: s}
		}
		if w := modeWord(mode); w != "" && w != f.Header.Channel.Mode() {
			log.WithFields(logrus.Fields{
				"file":    f.Path,
				"channel": f.Header.Channel.String(),
				"mode":    mode,
			}).Warn("file channel does not match the requested mode")
		}
		skipped += f.Skipped
		for _, rec := range f.Records {
			rows = append(rows, row{rec: rec, file: f})
		}
	}
	if len(rows) == 0 {
		return nil, nil
	}

	y, m, d := rows[0].rec.Time.UTC().Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	for _, r := range rows {
		if ry, rm, rd := r.rec.Time.UTC().Date(); ry != y || rm != m || rd != d {
			return nil, &DayMismatchError{Path: r.file.Path, Day: day, Time: r.rec.Time}
		}
	}

	// Stable, so records with equal timestamps stay in file discovery
	// order and keep-first takes the earliest-listed file's record.
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].rec.Time.Before(rows[j].rec.Time)
	})
	duplicates := 0
	kept := rows[:0]
	for i, r := range rows {
		if i > 0 && r.rec.Time.Equal(kept[len(kept)-1].rec.Time) {
			duplicates++
			log.WithFields(logrus.Fields{
				"file": r.file.Path,
				"time": r.rec.Time.Format("2006-01-02T15:04:05"),
			}).Warn("discarding record with duplicate timestamp")
			continue
		}
		kept = append(kept, r)
	}

	nt, nh := len(kept), geom.GateCount
	ds := &ModeDataset{
		Mode:              mode,
		Day:               day,
		Site:              site,
		Geometry:          geom,
		SoftwareVersion:   ref.SoftwareVersion,
		UpdateRate:        ref.UpdateRate,
		ConsensusDuration: ref.ConsensusDuration,
		Times:             make([]time.Time, nt),
		Heights:           geom.Heights(),
		Data:              make(map[string]*sparse.DenseArray),
		Flags:             make(map[string]*sparse.DenseArray),
		Rain:              make([]Flag, nt),
		Files:             len(files),
		Skipped:           skipped,
		Duplicates:        duplicates,
	}
	for _, n := range dataVarNames {
		ds.Data[n] = sparse.ZerosDense(nt, nh)
	}
	for _, n := range flagVarNames {
		ds.Flags[n] = sparse.ZerosDense(nt, nh)
	}

	put := func(name string, i, k int, v float64, ok bool) {
		if !ok || math.IsNaN(v) {
			v = FillValue
		}
		ds.Data[name].Set(v, i, k)
	}
	for i, r := range kept {
		ds.Times[i] = r.rec.Time.UTC()
		ds.Rain[i] = FlagGood
		if r.file.Header.RainDetected {
			ds.Rain[i] = FlagSuspect
		}
		for k := range r.rec.Gates {
			s := &r.rec.Gates[k]
			wind := s.WindFlag == FlagGood
			put("wind_speed", i, k, s.Speed, wind)
			put("wind_from_direction", i, k, s.Direction, wind)
			put("eastward_wind", i, k, s.U, wind)
			put("northward_wind", i, k, s.V, wind)
			put("upward_air_velocity", i, k, s.W, wind)
			ds.Flags["qc_flag_wind"].Set(float64(s.WindFlag), i, k)
			beams := true
			for b := 0; b < 3; b++ {
				ok := s.BeamFlag[b] == FlagGood
				beams = beams && ok
				put(beamVar("signal_to_noise_ratio_of_beam", b), i, k, s.SNR[b], ok)
				put(beamVar("spectral_width_of_beam", b), i, k, s.Width[b], ok)
				put(beamVar("skew_of_beam", b), i, k, s.Skew[b], ok)
				ds.Flags[beamVar("qc_flag_beam", b)].Set(float64(s.BeamFlag[b]), i, k)
			}
			put("signal_to_noise_ratio_minimum", i, k, s.SNRMin, beams)
		}
	}
	return ds, nil
}
