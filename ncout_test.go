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
	"encoding/binary"
	"errors"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ctessum/cdf"
)

// makeDataset aggregates a two-record file: all gates good except gate
// 2 of the second record, whose consensus wind is suspect.
func makeDataset(t *testing.T) *ModeDataset {
	base := testDay.Add(8 * time.Hour)
	rf := makeModeFile("a.trw", base, base.Add(15*time.Minute))
	rf.Records[1].Gates[2].WindFlag = FlagSuspect
	ds, err := Aggregate("low-mode_15min", []*RawFile{rf}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return ds
}

func TestOutputFilename(t *testing.T) {
	ds := makeDataset(t)
	meta := wantTestMetadata()

	c := &OutputConfig{}
	want := "ncas-radar-wind-profiler-1_iao_20210603_snr-winds_low-mode_15min_v1.0.nc"
	if got := c.Filename(ds, meta); got != want {
		t.Errorf("file name should be %q but is %q", want, got)
	}

	c = &OutputConfig{Instrument: "ncas-radar-wind-profiler-2", ProductVersion: "v2.1"}
	want = "ncas-radar-wind-profiler-2_iao_20210603_snr-winds_low-mode_15min_v2.1.nc"
	if got := c.Filename(ds, meta); got != want {
		t.Errorf("file name should be %q but is %q", want, got)
	}
}

// readFloats reads n values of the named float variable.
func readFloats(t *testing.T, nc *cdf.File, name string, n int) []float32 {
	r := nc.Reader(name, nil, nil)
	buf := r.Zero(n).([]float32)
	if _, err := r.Read(buf); err != nil && err != io.EOF {
		t.Fatalf("reading %s: %v", name, err)
	}
	return buf
}

func readBytes(t *testing.T, nc *cdf.File, name string, n int) []uint8 {
	r := nc.Reader(name, nil, nil)
	buf := r.Zero(n).([]uint8)
	if _, err := r.Read(buf); err != nil && err != io.EOF {
		t.Fatalf("reading %s: %v", name, err)
	}
	return buf
}

func readInts(t *testing.T, nc *cdf.File, name string, n int) []int32 {
	r := nc.Reader(name, nil, nil)
	buf := r.Zero(n).([]int32)
	if _, err := r.Read(buf); err != nil && err != io.EOF {
		t.Fatalf("reading %s: %v", name, err)
	}
	return buf
}

func TestWrite(t *testing.T) {
	ds := makeDataset(t)
	meta := wantTestMetadata()
	meta["sampling_interval"] = "900 s" // curated override of a computed attribute
	c := &OutputConfig{Dir: t.TempDir(), History: "windprof process (run test)"}

	out, err := c.Write(ds, meta)
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(c.Dir, "ncas-radar-wind-profiler-1_iao_20210603_snr-winds_low-mode_15min_v1.0.nc")
	if out != want {
		t.Fatalf("output path should be %q but is %q", want, out)
	}
	if _, err := os.Stat(out + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temporary file should be gone but Stat returns %v", err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	nc, err := cdf.Open(f)
	if err != nil {
		t.Fatal(err)
	}
	h := nc.Header

	var names []string
	for _, v := range outputVars {
		names = append(names, v.name)
	}
	if got := h.Variables(); !reflect.DeepEqual(got, names) {
		t.Errorf("variables have %v but want %v", got, names)
	}
	if dims := h.Dimensions("wind_speed"); !reflect.DeepEqual(dims, []string{"time", "altitude"}) {
		t.Errorf("wind_speed dimensions have %v but want [time altitude]", dims)
	}
	if !h.IsRecordVariable("time") {
		t.Error("time should be a record variable")
	}
	if h.IsRecordVariable("altitude") {
		t.Error("altitude should not be a record variable")
	}

	nt, nh := len(ds.Times), len(ds.Heights)

	// The numrecs header field is written even though the reader
	// derives the count from the file size.
	var buf [4]byte
	if _, err := f.ReadAt(buf[:], 4); err != nil {
		t.Fatal(err)
	}
	if n := int32(binary.BigEndian.Uint32(buf[:])); n != int32(nt) {
		t.Errorf("numrecs should be %d but is %d", nt, n)
	}
	fi, err := f.Stat()
	if err != nil {
		t.Fatal(err)
	}
	if n := h.NumRecs(fi.Size()); n != int64(nt) {
		t.Errorf("record count from file size should be %d but is %d", nt, n)
	}

	attr := func(v, a string) interface{} { return h.GetAttribute(v, a) }
	if u := attr("wind_speed", "units"); u != "m s-1" {
		t.Errorf("wind_speed units should be m s-1 but are %v", u)
	}
	if s := attr("wind_speed", "standard_name"); s != "wind_speed" {
		t.Errorf("wind_speed standard_name should be wind_speed but is %v", s)
	}
	if fv := attr("wind_speed", "_FillValue"); !reflect.DeepEqual(fv, []float32{float32(FillValue)}) {
		t.Errorf("wind_speed _FillValue should be %g but is %v", float32(FillValue), fv)
	}
	if co := attr("wind_speed", "coordinates"); co != "latitude longitude" {
		t.Errorf("wind_speed coordinates should be latitude longitude but are %v", co)
	}
	if lo := attr("wind_speed", "valid_min"); !reflect.DeepEqual(lo, []float32{5}) {
		t.Errorf("wind_speed valid_min should be 5 but is %v", lo)
	}
	if hi := attr("wind_speed", "valid_max"); !reflect.DeepEqual(hi, []float32{5}) {
		t.Errorf("wind_speed valid_max should be 5 but is %v", hi)
	}
	if vals := attr("qc_flag_wind", "flag_values"); !reflect.DeepEqual(vals, []uint8{0, 1, 2, 3}) {
		t.Errorf("qc_flag_wind flag_values have %v but want [0 1 2 3]", vals)
	}
	if m := attr("qc_flag_wind", "flag_meanings"); m != qcMeanings {
		t.Errorf("qc_flag_wind flag_meanings should be %q but are %v", qcMeanings, m)
	}
	if vals := attr("qc_flag_rain_detected", "flag_values"); !reflect.DeepEqual(vals, []uint8{0, 1, 2}) {
		t.Errorf("rain flag_values have %v but want [0 1 2]", vals)
	}
	if cal := attr("time", "calendar"); cal != "standard" {
		t.Errorf("time calendar should be standard but is %v", cal)
	}
	if ax := attr("time", "axis"); ax != "T" {
		t.Errorf("time axis should be T but is %v", ax)
	}

	global := func(a string) interface{} { return h.GetAttribute("", a) }
	if v := global("Conventions"); v != "CF-1.6 NCAS-AMF-2.0.0" {
		t.Errorf("Conventions should be CF-1.6 NCAS-AMF-2.0.0 but are %v", v)
	}
	if v := global("platform"); v != "iao" {
		t.Errorf("platform should be iao but is %v", v)
	}
	if v := global("creator_name"); v != "Doe, Jane" {
		t.Errorf("creator_name should be Doe, Jane but is %v", v)
	}
	if v := global("sampling_interval"); v != "900 s" {
		t.Errorf("curated sampling_interval should override but is %v", v)
	}
	if v := global("averaging_interval"); v != "30 minutes" {
		t.Errorf("averaging_interval should be 30 minutes but is %v", v)
	}
	if v := global("instrument_software_version"); v != "6.34" {
		t.Errorf("instrument_software_version should be 6.34 but is %v", v)
	}
	if v := global("time_coverage_start"); v != "2021-06-03T08:00:00" {
		t.Errorf("time_coverage_start should be 2021-06-03T08:00:00 but is %v", v)
	}
	if v := global("time_coverage_end"); v != "2021-06-03T08:15:00" {
		t.Errorf("time_coverage_end should be 2021-06-03T08:15:00 but is %v", v)
	}
	if v := global("processing_software_version"); v != "v"+Version {
		t.Errorf("processing_software_version should be v%s but is %v", Version, v)
	}
	if v := global("product_version"); v != "v1.0" {
		t.Errorf("product_version should be v1.0 but is %v", v)
	}
	hist, ok := global("history").(string)
	if !ok || !strings.HasSuffix(hist, " - windprof process (run test)") {
		t.Errorf("history should end with the configured entry but is %v", global("history"))
	}
	lr, ok := global("last_revised_date").(string)
	if !ok {
		t.Fatalf("last_revised_date should be a string but is %v", global("last_revised_date"))
	}
	if _, err := time.Parse("2006-01-02T15:04:05", lr); err != nil {
		t.Errorf("last_revised_date %q should be a timestamp: %v", lr, err)
	}

	times := nc.Reader("time", nil, nil)
	tbuf := times.Zero(nt).([]float64)
	if _, err := times.Read(tbuf); err != nil && err != io.EOF {
		t.Fatal(err)
	}
	base := testDay.Add(8 * time.Hour)
	if want := []float64{float64(base.Unix()), float64(base.Unix() + 900)}; !reflect.DeepEqual(tbuf, want) {
		t.Errorf("times have %v but want %v", tbuf, want)
	}

	if alt := readFloats(t, nc, "altitude", nh); !reflect.DeepEqual(alt, []float32{119, 264, 409}) {
		t.Errorf("altitudes have %v but want [119 264 409]", alt)
	}
	if lat := readFloats(t, nc, "latitude", 1); lat[0] != float32(51.1445) {
		t.Errorf("latitude should be 51.1445 but is %g", lat[0])
	}
	if lon := readFloats(t, nc, "longitude", 1); lon[0] != float32(-1.4384) {
		t.Errorf("longitude should be -1.4384 but is %g", lon[0])
	}
	if sz := readFloats(t, nc, "size_of_gate", 1); sz[0] != 145 {
		t.Errorf("size_of_gate should be 145 but is %g", sz[0])
	}
	if m := readFloats(t, nc, "time_minutes_since_start_of_day", nt); !reflect.DeepEqual(m, []float32{480, 495}) {
		t.Errorf("minutes since start of day have %v but want [480 495]", m)
	}

	speeds := readFloats(t, nc, "wind_speed", nt*nh)
	for i, s := range speeds {
		want := float32(5)
		if i == 1*nh+2 {
			want = float32(FillValue)
		}
		if s != want {
			t.Errorf("wind speed %d should be %g but is %g", i, want, s)
		}
	}
	if flags := readBytes(t, nc, "qc_flag_wind", nt*nh); !reflect.DeepEqual(flags, []uint8{1, 1, 1, 1, 1, 2}) {
		t.Errorf("wind flags have %v but want [1 1 1 1 1 2]", flags)
	}
	if rain := readBytes(t, nc, "qc_flag_rain_detected", nt); !reflect.DeepEqual(rain, []uint8{1, 1}) {
		t.Errorf("rain flags have %v but want [1 1]", rain)
	}

	if y := readInts(t, nc, "year", nt); !reflect.DeepEqual(y, []int32{2021, 2021}) {
		t.Errorf("years have %v but want [2021 2021]", y)
	}
	if m := readInts(t, nc, "month", nt); !reflect.DeepEqual(m, []int32{6, 6}) {
		t.Errorf("months have %v but want [6 6]", m)
	}
	if d := readInts(t, nc, "day", nt); !reflect.DeepEqual(d, []int32{3, 3}) {
		t.Errorf("days have %v but want [3 3]", d)
	}
	if hr := readInts(t, nc, "hour", nt); !reflect.DeepEqual(hr, []int32{8, 8}) {
		t.Errorf("hours have %v but want [8 8]", hr)
	}
	if mn := readInts(t, nc, "minute", nt); !reflect.DeepEqual(mn, []int32{0, 15}) {
		t.Errorf("minutes have %v but want [0 15]", mn)
	}
	if s := readFloats(t, nc, "second", nt); !reflect.DeepEqual(s, []float32{0, 0}) {
		t.Errorf("seconds have %v but want [0 0]", s)
	}
	if d := readFloats(t, nc, "day_of_year", nt); !reflect.DeepEqual(d, []float32{154, 154}) {
		t.Errorf("days of year have %v but want [154 154]", d)
	}
}

func TestWriteRequiresMetadata(t *testing.T) {
	ds := makeDataset(t)
	meta := wantTestMetadata()
	delete(meta, "creator_email")
	dir := t.TempDir()
	c := &OutputConfig{Dir: dir}

	_, err := c.Write(ds, meta)
	var serr *SchemaViolationError
	if !errors.As(err, &serr) {
		t.Fatalf("incomplete metadata should fail with a SchemaViolationError but fails with %v", err)
	}
	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("no file should be written but the directory holds %d entries", len(entries))
	}
}

func TestWriteFailure(t *testing.T) {
	ds := makeDataset(t)
	c := &OutputConfig{Dir: filepath.Join(t.TempDir(), "no", "such", "directory")}

	_, err := c.Write(ds, wantTestMetadata())
	var werr *WriteFailureError
	if !errors.As(err, &werr) {
		t.Fatalf("an unwritable directory should fail with a WriteFailureError but fails with %v", err)
	}
	if !strings.HasSuffix(werr.Path, ".nc") {
		t.Errorf("error should name the output file but names %q", werr.Path)
	}
	if werr.Unwrap() == nil {
		t.Error("error should carry its cause")
	}
}

func TestWriteEmpty(t *testing.T) {
	c := &OutputConfig{Dir: t.TempDir()}
	if _, err := c.Write(nil, wantTestMetadata()); err == nil {
		t.Error("writing a nil dataset should fail")
	}
	if _, err := c.Write(&ModeDataset{}, wantTestMetadata()); err == nil {
		t.Error("writing an empty dataset should fail")
	}
}
