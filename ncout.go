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
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/floats"
)

const (
	// DefaultInstrument is the NCAS instrument identifier used when no
	// other is configured.
	DefaultInstrument = "ncas-radar-wind-profiler-1"
	// DefaultProductVersion is the data product version used when no
	// other is configured.
	DefaultProductVersion = "1.0"

	softwareURL = "https://github.com/ncasuk/windprof"
	timeLayout  = "2006-01-02T15:04:05"
)

// WriteFailureError reports a failure to create, write, or finalize an
// output file. The underlying error is carried unmodified, and the
// output file never exists under its final name when one occurs.
type WriteFailureError struct {
	Path string
	Err  error
}

func (e *WriteFailureError) Error() string {
	return fmt.Sprintf("windprof: writing %s: %v", e.Path, e.Err)
}

func (e *WriteFailureError) Unwrap() error { return e.Err }

type ncKind int

const (
	ncDouble ncKind = iota
	ncFloat
	ncInt
	ncByte
)

// template returns a value of the type AddVariable uses to infer the
// variable's netCDF data type.
func (k ncKind) template() interface{} {
	switch k {
	case ncDouble:
		return []float64{0}
	case ncFloat:
		return []float32{0}
	case ncInt:
		return []int32{0}
	}
	return []uint8{0}
}

// varDef describes one output variable: its shape, type, and fixed
// attributes.
type varDef struct {
	name     string
	kind     ncKind
	dims     []string
	long     string
	std      string // standard_name, where CF defines one
	units    string
	axis     string
	fill     bool    // carries _FillValue, valid_min and valid_max
	flags    string  // flag_meanings, for quality flag variables
	flagVals []uint8 // flag_values, defaults to 0..3
}

const (
	qcMeanings   = "not_used good_data suspect_data no_data"
	rainMeanings = "not_used no_rain_detected rain_detected"
)

// outputVars is the AMOF snr-winds variable set, in output order. The
// netCDF record slab lays variables out in this order; `second` being
// last keeps the slab end four-byte aligned so the record count derived
// from the file size is exact.
var outputVars = []varDef{
	{name: "time", kind: ncDouble, dims: []string{"time"},
		long: "Time (seconds since 1970-01-01 00:00:00)", std: "time",
		units: "seconds since 1970-01-01 00:00:00", axis: "T"},
	{name: "altitude", kind: ncFloat, dims: []string{"altitude"},
		long: "Geometric height of observation gate center above the instrument", std: "altitude",
		units: "m", axis: "Z"},
	{name: "latitude", kind: ncFloat, dims: []string{"latitude"},
		long: "Latitude of the instrument", std: "latitude",
		units: "degree_north", axis: "Y"},
	{name: "longitude", kind: ncFloat, dims: []string{"longitude"},
		long: "Longitude of the instrument", std: "longitude",
		units: "degree_east", axis: "X"},
	{name: "time_minutes_since_start_of_day", kind: ncFloat, dims: []string{"time"},
		long: "Time in Minutes Since Start of Day", units: "minute"},
	{name: "size_of_gate", kind: ncFloat, dims: []string{},
		long: "Size of Gate", units: "m"},
	{name: "qc_flag_rain_detected", kind: ncByte, dims: []string{"time"},
		long: "Data Quality Flag: Rain Detected", units: "1",
		flags: rainMeanings, flagVals: []uint8{0, 1, 2}},
	{name: "wind_speed", kind: ncFloat, dims: []string{"time", "altitude"},
		long: "Mean Wind Speed", std: "wind_speed", units: "m s-1", fill: true},
	{name: "wind_from_direction", kind: ncFloat, dims: []string{"time", "altitude"},
		long: "Wind From Direction", std: "wind_from_direction", units: "degree", fill: true},
	{name: "eastward_wind", kind: ncFloat, dims: []string{"time", "altitude"},
		long: "Eastward Wind Component", std: "eastward_wind", units: "m s-1", fill: true},
	{name: "northward_wind", kind: ncFloat, dims: []string{"time", "altitude"},
		long: "Northward Wind Component", std: "northward_wind", units: "m s-1", fill: true},
	{name: "upward_air_velocity", kind: ncFloat, dims: []string{"time", "altitude"},
		long: "Upward Air Velocity", std: "upward_air_velocity", units: "m s-1", fill: true},
	{name: "signal_to_noise_ratio_of_beam_1", kind: ncFloat, dims: []string{"time", "altitude"},
		long: "Signal to Noise Ratio of Beam 1", units: "dB", fill: true},
	{name: "signal_to_noise_ratio_of_beam_2", kind: ncFloat, dims: []string{"time", "altitude"},
		long: "Signal to Noise Ratio of Beam 2", units: "dB", fill: true},
	{name: "signal_to_noise_ratio_of_beam_3", kind: ncFloat, dims: []string{"time", "altitude"},
		long: "Signal to Noise Ratio of Beam 3", units: "dB", fill: true},
	{name: "signal_to_noise_ratio_minimum", kind: ncFloat, dims: []string{"time", "altitude"},
		long: "Minimum Signal to Noise Ratio of the Three Beams", units: "dB", fill: true},
	{name: "spectral_width_of_beam_1", kind: ncFloat, dims: []string{"time", "altitude"},
		long: "Spectral Width of Beam 1", units: "m s-1", fill: true},
	{name: "spectral_width_of_beam_2", kind: ncFloat, dims: []string{"time", "altitude"},
		long: "Spectral Width of Beam 2", units: "m s-1", fill: true},
	{name: "spectral_width_of_beam_3", kind: ncFloat, dims: []string{"time", "altitude"},
		long: "Spectral Width of Beam 3", units: "m s-1", fill: true},
	{name: "skew_of_beam_1", kind: ncFloat, dims: []string{"time", "altitude"},
		long: "Skew of Beam 1", units: "1", fill: true},
	{name: "skew_of_beam_2", kind: ncFloat, dims: []string{"time", "altitude"},
		long: "Skew of Beam 2", units: "1", fill: true},
	{name: "skew_of_beam_3", kind: ncFloat, dims: []string{"time", "altitude"},
		long: "Skew of Beam 3", units: "1", fill: true},
	{name: "qc_flag_wind", kind: ncByte, dims: []string{"time", "altitude"},
		long: "Data Quality Flag: Wind", units: "1", flags: qcMeanings},
	{name: "qc_flag_beam_1", kind: ncByte, dims: []string{"time", "altitude"},
		long: "Data Quality Flag: Beam 1", units: "1", flags: qcMeanings},
	{name: "qc_flag_beam_2", kind: ncByte, dims: []string{"time", "altitude"},
		long: "Data Quality Flag: Beam 2", units: "1", flags: qcMeanings},
	{name: "qc_flag_beam_3", kind: ncByte, dims: []string{"time", "altitude"},
		long: "Data Quality Flag: Beam 3", units: "1", flags: qcMeanings},
	{name: "day_of_year", kind: ncFloat, dims: []string{"time"},
		long: "Day of Year", units: "1"},
	{name: "year", kind: ncInt, dims: []string{"time"}, long: "Year", units: "1"},
	{name: "month", kind: ncInt, dims: []string{"time"}, long: "Month", units: "1"},
	{name: "day", kind: ncInt, dims: []string{"time"}, long: "Day", units: "1"},
	{name: "hour", kind: ncInt, dims: []string{"time"}, long: "Hour", units: "1"},
	{name: "minute", kind: ncInt, dims: []string{"time"}, long: "Minute", units: "1"},
	{name: "second", kind: ncFloat, dims: []string{"time"}, long: "Second", units: "1"},
}

// OutputConfig configures the netCDF writer.
type OutputConfig struct {
	// Dir is the directory the output file is written into.
	Dir string
	// Instrument is the NCAS instrument identifier that leads the
	// output file name.
	Instrument string
	// ProductVersion is the data product version, with or without a
	// leading "v".
	ProductVersion string
	// History is appended to the timestamped history attribute. Empty
	// means "file created".
	History string
}

func (c *OutputConfig) instrument() string {
	if c.Instrument == "" {
		return DefaultInstrument
	}
	return c.Instrument
}

func (c *OutputConfig) version() string {
	v := c.ProductVersion
	if v == "" {
		v = DefaultProductVersion
	}
	return strings.TrimPrefix(v, "v")
}

// Filename returns the convention-mandated output file name:
// <instrument>_<platform>_<date>_snr-winds_<mode>_v<version>.nc.
func (c *OutputConfig) Filename(ds *ModeDataset, meta Metadata) string {
	return fmt.Sprintf("%s_%s_%s_snr-winds_%s_v%s.nc",
		c.instrument(), meta["platform"], ds.Day.Format("20060102"), ds.Mode, c.version())
}

// Write maps ds plus the curated metadata onto the AMOF schema and
// writes one netCDF file, returning its path. The file is assembled
// under a temporary name and renamed into place at the end, so the
// convention-named file exists only if the write succeeded. A write
// failure is reported once, as a *WriteFailureError, and not retried.
func (c *OutputConfig) Write(ds *ModeDataset, meta Metadata) (string, error) {
	if ds == nil || len(ds.Times) == 0 {
		return "", fmt.Errorf("windprof: nothing to write: dataset is empty")
	}
	if err := meta.Check(); err != nil {
		return "", err
	}
	h, err := c.buildHeader(ds, meta)
	if err != nil {
		return "", err
	}

	dir := c.Dir
	if dir == "" {
		dir = "."
	}
	final := filepath.Join(dir, c.Filename(ds, meta))
	tmp := final + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", &WriteFailureError{Path: final, Err: err}
	}
	fail := func(err error) (string, error) {
		f.Close()
		os.Remove(tmp)
		return "", &WriteFailureError{Path: final, Err: err}
	}

	nc, err := cdf.Create(f, h)
	if err != nil {
		return fail(err)
	}
	for _, v := range outputVars {
		if _, err := nc.Writer(v.name, nil, nil).Write(payload(v.name, ds)); err != nil {
			return fail(fmt.Errorf("variable %s: %v", v.name, err))
		}
	}
	if err := cdf.UpdateNumRecs(f); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", &WriteFailureError{Path: final, Err: err}
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", &WriteFailureError{Path: final, Err: err}
	}
	return final, nil
}

func (c *OutputConfig) buildHeader(ds *ModeDataset, meta Metadata) (*cdf.Header, error) {
	h := cdf.NewHeader(
		[]string{"time", "altitude", "latitude", "longitude"},
		[]int{0, len(ds.Heights), 1, 1},
	)
	for _, v := range outputVars {
		h.AddVariable(v.name, v.dims, v.kind.template())
		h.AddAttribute(v.name, "long_name", v.long)
		if v.std != "" {
			h.AddAttribute(v.name, "standard_name", v.std)
		}
		h.AddAttribute(v.name, "units", v.units)
		if v.axis != "" {
			h.AddAttribute(v.name, "axis", v.axis)
		}
		if v.name == "time" {
			h.AddAttribute(v.name, "calendar", "standard")
		}
		if v.flags != "" {
			vals := v.flagVals
			if vals == nil {
				vals = []uint8{0, 1, 2, 3}
			}
			h.AddAttribute(v.name, "flag_values", vals)
			h.AddAttribute(v.name, "flag_meanings", v.flags)
		}
		if v.fill {
			h.AddAttribute(v.name, "_FillValue", []float32{float32(FillValue)})
			h.AddAttribute(v.name, "coordinates", "latitude longitude")
			if lo, hi, ok := validRange(ds.arrayFor(v.name)); ok {
				h.AddAttribute(v.name, "valid_min", []float32{float32(lo)})
				h.AddAttribute(v.name, "valid_max", []float32{float32(hi)})
			}
		}
	}

	now := time.Now().UTC().Format(timeLayout)
	history := c.History
	if history == "" {
		history = "file created"
	}
	globals := map[string]string{
		"Conventions":                 "CF-1.6 NCAS-AMF-2.0.0",
		"platform_altitude":           fmt.Sprintf("%g m", float32(ds.Site.Altitude)),
		"geospatial_bounds":           fmt.Sprintf("%gN, %gE", float32(ds.Site.Latitude), float32(ds.Site.Longitude)),
		"instrument_software_version": ds.SoftwareVersion,
		"averaging_interval":          fmt.Sprintf("%d minutes", ds.ConsensusDuration),
		"sampling_interval":           fmt.Sprintf("%d minutes", ds.UpdateRate),
		"time_coverage_start":         ds.Times[0].Format(timeLayout),
		"time_coverage_end":           ds.Times[len(ds.Times)-1].Format(timeLayout),
		"processing_software_url":     softwareURL,
		"processing_software_version": "v" + Version,
		"product_version":             "v" + c.version(),
		"history":                     now + " - " + history,
		"last_revised_date":           now,
	}
	// The curated metadata is applied last so it can override anything
	// computed from the data.
	for k, v := range meta {
		globals[k] = v
	}
	names := make([]string, 0, len(globals))
	for k := range globals {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		h.AddAttribute("", k, globals[k])
	}

	h.Define()
	if errs := h.Check(); errs != nil {
		return nil, fmt.Errorf("windprof: building output header: %v", errs[0])
	}
	return h, nil
}

// arrayFor returns the aggregated array backing the named variable.
func (ds *ModeDataset) arrayFor(name string) *sparse.DenseArray {
	if a, ok := ds.Data[name]; ok {
		return a
	}
	return ds.Flags[name]
}

// payload returns the full data slice for the named variable, typed
// for the cdf writer.
func payload(name string, ds *ModeDataset) interface{} {
	nt := len(ds.Times)
	switch name {
	case "time":
		out := make([]float64, nt)
		for i, t := range ds.Times {
			out[i] = float64(t.Unix())
		}
		return out
	case "altitude":
		out := make([]float32, len(ds.Heights))
		for i, v := range ds.Heights {
			out[i] = float32(v)
		}
		return out
	case "latitude":
		return []float32{float32(ds.Site.Latitude)}
	case "longitude":
		return []float32{float32(ds.Site.Longitude)}
	case "time_minutes_since_start_of_day":
		out := make([]float32, nt)
		for i, t := range ds.Times {
			out[i] = float32(t.Hour()*60 + t.Minute())
		}
		return out
	case "size_of_gate":
		return []float32{float32(ds.Geometry.GateIncrement)}
	case "qc_flag_rain_detected":
		out := make([]uint8, nt)
		for i, f := range ds.Rain {
			out[i] = uint8(f)
		}
		return out
	case "day_of_year":
		out := make([]float32, nt)
		for i, t := range ds.Times {
			out[i] = float32(t.YearDay())
		}
		return out
	case "year":
		return timeInts(ds.Times, func(t time.Time) int { return t.Year() })
	case "month":
		return timeInts(ds.Times, func(t time.Time) int { return int(t.Month()) })
	case "day":
		return timeInts(ds.Times, func(t time.Time) int { return t.Day() })
	case "hour":
		return timeInts(ds.Times, func(t time.Time) int { return t.Hour() })
	case "minute":
		return timeInts(ds.Times, func(t time.Time) int { return t.Minute() })
	case "second":
		out := make([]float32, nt)
		for i, t := range ds.Times {
			out[i] = float32(t.Second())
		}
		return out
	}
	if a, ok := ds.Data[name]; ok {
		out := make([]float32, len(a.Elements))
		for i, v := range a.Elements {
			out[i] = float32(v)
		}
		return out
	}
	a := ds.Flags[name]
	out := make([]uint8, len(a.Elements))
	for i, v := range a.Elements {
		out[i] = uint8(v)
	}
	return out
}

func timeInts(ts []time.Time, f func(time.Time) int) []int32 {
	out := make([]int32, len(ts))
	for i, t := range ts {
		out[i] = int32(f(t))
	}
	return out
}

// validRange returns the smallest and largest non-fill values in a,
// and whether any exist.
func validRange(a *sparse.DenseArray) (lo, hi float64, ok bool) {
	var vals []float64
	for _, v := range a.Elements {
		if v != FillValue {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return 0, 0, false
	}
	return floats.Min(vals), floats.Max(vals), true
}
