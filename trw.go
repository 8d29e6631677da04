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
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"gonum.org/v1/gonum/floats"
)

const (
	// fileHeaderSize is the fixed size in bytes of the TRW file header.
	fileHeaderSize = 96
	// recordHeaderSize is the fixed size in bytes of each record header.
	recordHeaderSize = 16
	// gateSize is the fixed size in bytes of each height-gate block.
	gateSize = 88

	// noMeasurement is the in-band value the instrument writes where a
	// quantity could not be measured. It decodes to NaN.
	noMeasurement = 999999

	// maxGates is the largest gate count the instrument can report.
	maxGates = 1024
)

// Channel identifies which of the profiler's two receiver chains
// produced a file.
type Channel uint16

const (
	// ChannelLow is receiver chain TRT0, the low-mode (near-range) channel.
	ChannelLow Channel = 0
	// ChannelHigh is receiver chain TRT1, the high-mode (far-range) channel.
	ChannelHigh Channel = 1
)

func (c Channel) String() string {
	switch c {
	case ChannelLow:
		return "TRT0"
	case ChannelHigh:
		return "TRT1"
	}
	return fmt.Sprintf("channel(%d)", uint16(c))
}

// Mode returns the processing-mode word ("low" or "high") corresponding
// to the channel.
func (c Channel) Mode() string {
	if c == ChannelHigh {
		return "high"
	}
	return "low"
}

// Flag is a per-sample quality-control flag following the netCDF flag
// convention used throughout: 0 not used, 1 good, 2 suspect, 3 missing.
type Flag uint8

const (
	FlagNotUsed Flag = iota
	FlagGood
	FlagSuspect
	FlagMissing
)

func (f Flag) String() string {
	switch f {
	case FlagNotUsed:
		return "not_used"
	case FlagGood:
		return "good"
	case FlagSuspect:
		return "suspect"
	case FlagMissing:
		return "missing"
	}
	return fmt.Sprintf("flag(%d)", uint8(f))
}

// tighten lowers the quality of f to g if g is stricter. Flags only ever
// move good→suspect→missing, which is what makes the quality checks
// commutative and idempotent.
func (f Flag) tighten(g Flag) Flag {
	if g > f {
		return g
	}
	return f
}

// Geometry is the height-gate layout shared by every record of a mode:
// the number of gates, the height of the first gate center above the
// instrument, and the spacing between gate centers, both in meters.
type Geometry struct {
	GateCount       int
	FirstGateHeight float64
	GateIncrement   float64
}

// Heights returns the gate center heights in meters above the instrument.
func (g Geometry) Heights() []float64 {
	h := make([]float64, g.GateCount)
	for k := range h {
		h[k] = g.FirstGateHeight + float64(k)*g.GateIncrement
	}
	return h
}

// Equal reports whether two geometries are identical. Comparison is
// exact: the grids are written by a single instrument, and a tolerance
// would mask real configuration drift.
func (g Geometry) Equal(o Geometry) bool {
	return g.GateCount == o.GateCount &&
		g.FirstGateHeight == o.FirstGateHeight &&
		g.GateIncrement == o.GateIncrement
}

// Site is the instrument position: latitude and longitude in degrees
// north and east, altitude in meters above sea level.
type Site struct {
	Latitude  float64
	Longitude float64
	Altitude  float64
}

// Equal reports whether two sites are identical (exact comparison, as
// for Geometry).
func (s Site) Equal(o Site) bool {
	return s.Latitude == o.Latitude && s.Longitude == o.Longitude &&
		s.Altitude == o.Altitude
}

// FileHeader is the decoded 96-byte header that begins every TRW file.
// It carries the acquisition setup and the instrument housekeeping
// snapshot taken when the file was opened.
type FileHeader struct {
	StartTime time.Time
	EndTime   time.Time

	// UpdateRate is the sampling interval and ConsensusDuration the
	// averaging interval, both in whole minutes.
	UpdateRate        int
	ConsensusDuration int

	Channel         Channel
	GateCount       int
	MinHeight       float64 // m above instrument, first gate center
	HeightIncrement float64 // m between gate centers

	Latitude  float64 // °N
	Longitude float64 // °E
	Altitude  float64 // m above sea level

	BeamWidth float64 // °
	Frequency float64 // Hz

	SupplyVoltages      [4]int // mV
	VSWR                float64
	RainDetected        bool
	Attenuation         float64 // dB
	Current             float64 // A
	ShelterTemperature  float64 // °C
	PulseLength         float64 // m
	BoundaryLayerHeight float64 // m; NaN when not determined
	SoftwareVersion     string
}

// Geometry returns the gate layout the header declares. Individual
// records declare their own layout too; agreement between the two is a
// quality-control concern, not a structural one.
func (h *FileHeader) Geometry() Geometry {
	return Geometry{
		GateCount:       h.GateCount,
		FirstGateHeight: h.MinHeight,
		GateIncrement:   h.HeightIncrement,
	}
}

// Site returns the instrument position the header declares.
func (h *FileHeader) Site() Site {
	return Site{Latitude: h.Latitude, Longitude: h.Longitude, Altitude: h.Altitude}
}

// GateSample is one height gate of one observation cycle. Wind
// components follow the meteorological sign convention (u positive
// eastward, v positive northward, w positive upward); Speed and
// Direction are derived from u and v at decode time. Per-beam arrays
// are indexed 0..2 for the instrument's three beams. Values the
// instrument could not measure are NaN.
type GateSample struct {
	Height float64 // m above instrument

	U, V, W   float64 // m/s
	Speed     float64 // m/s
	Direction float64 // ° from which the wind blows

	RadialVelocity [3]float64 // m/s
	Width          [3]float64 // m/s, spectral width
	Signal         [3]float64 // dB
	Noise          [3]float64 // dB
	SNR            [3]float64 // dB
	SNRMin         float64    // dB, minimum over the three beams
	Skew           [3]float64

	Validation [3]uint8

	WindFlag Flag
	BeamFlag [3]Flag
}

// Record is one observation cycle: a timestamp and one sample per
// height gate, ordered by increasing height. Quality control tightens
// the sample flags in place; nothing else is mutated after decoding.
type Record struct {
	Time            time.Time
	FirstGateHeight float64 // m, from the record header
	GateIncrement   float64 // m, from the record header
	Gates           []GateSample
}

// Geometry returns the gate layout the record itself declares.
func (r *Record) Geometry() Geometry {
	return Geometry{
		GateCount:       len(r.Gates),
		FirstGateHeight: r.FirstGateHeight,
		GateIncrement:   r.GateIncrement,
	}
}

// MalformedRecordError reports a record slot that could not be decoded.
// The slot is skipped in its entirety and decoding resumes at the next
// slot boundary, so the error is recoverable: keep calling Next.
type MalformedRecordError struct {
	Offset int64 // byte offset of the slot within the file
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("windprof: malformed record at byte %d: %s", e.Offset, e.Reason)
}

// rawFileHeader mirrors the on-disk file header layout.
type rawFileHeader struct {
	HeaderSize      uint16
	HeaderType      uint8
	FormatVersion   uint8
	StartTime       uint32
	EndTime         uint32
	UpdateRate      uint16
	ConsensusDur    uint16
	Channel         uint16
	GateCount       uint16
	MinHeight       float32
	HeightIncrement float32
	Latitude        float32
	Longitude       float32
	Altitude        float32
	BeamWidth       float32
	Frequency       uint32
	SupplyVoltages  [4]int32
	VSWR            float32
	RainDetected    int32
	Attenuation     float32
	Current         float32
	ShelterTemp     float32
	PulseLength     float32
	BLHeight        float32
	SoftwareVersion float32
}

func (h *rawFileHeader) check() error {
	if h.HeaderSize != fileHeaderSize {
		return fmt.Errorf("windprof: invalid file header: header size is %d, want %d", h.HeaderSize, fileHeaderSize)
	}
	if h.HeaderType != 3 {
		return fmt.Errorf("windprof: invalid file header: header type is %d, want 3 (Doppler profile)", h.HeaderType)
	}
	if h.FormatVersion != 2 {
		return fmt.Errorf("windprof: invalid file header: format version is %d, want 2", h.FormatVersion)
	}
	if h.UpdateRate > 60 {
		return fmt.Errorf("windprof: invalid file header: update rate %d min out of range (max 60)", h.UpdateRate)
	}
	if h.ConsensusDur > 120 {
		return fmt.Errorf("windprof: invalid file header: consensus duration %d min out of range (max 120)", h.ConsensusDur)
	}
	if h.Channel > 1 {
		return fmt.Errorf("windprof: invalid file header: channel %d, want 0 (TRT0) or 1 (TRT1)", h.Channel)
	}
	if h.GateCount < 1 || h.GateCount > maxGates {
		return fmt.Errorf("windprof: invalid file header: gate count %d out of range [1, %d]", h.GateCount, maxGates)
	}
	if !(h.HeightIncrement > 0) {
		return fmt.Errorf("windprof: invalid file header: height increment %g m, want > 0", h.HeightIncrement)
	}
	if h.RainDetected != 0 && h.RainDetected != 1 {
		return fmt.Errorf("windprof: invalid file header: rain detection flag is %d, want 0 or 1", h.RainDetected)
	}
	return nil
}

func (h *rawFileHeader) cook() FileHeader {
	return FileHeader{
		StartTime:         time.Unix(int64(h.StartTime), 0).UTC(),
		EndTime:           time.Unix(int64(h.EndTime), 0).UTC(),
		UpdateRate:        int(h.UpdateRate),
		ConsensusDuration: int(h.ConsensusDur),
		Channel:           Channel(h.Channel),
		GateCount:         int(h.GateCount),
		MinHeight:         float64(h.MinHeight),
		HeightIncrement:   float64(h.HeightIncrement),
		Latitude:          float64(h.Latitude),
		Longitude:         float64(h.Longitude),
		Altitude:          float64(h.Altitude),
		BeamWidth:         float64(h.BeamWidth),
		Frequency:         float64(h.Frequency),
		SupplyVoltages: [4]int{
			int(h.SupplyVoltages[0]), int(h.SupplyVoltages[1]),
			int(h.SupplyVoltages[2]), int(h.SupplyVoltages[3]),
		},
		VSWR:                float64(h.VSWR),
		RainDetected:        h.RainDetected == 1,
		Attenuation:         float64(h.Attenuation),
		Current:             float64(h.Current),
		ShelterTemperature:  float64(h.ShelterTemp),
		PulseLength:         float64(h.PulseLength),
		BoundaryLayerHeight: cleanValue(h.BLHeight),
		SoftwareVersion:     fmt.Sprintf("%g", h.SoftwareVersion),
	}
}

// rawRecordHeader mirrors the on-disk record header layout.
type rawRecordHeader struct {
	Timestamp       uint32
	GateCount       uint16
	Reserved        uint16
	FirstGateHeight float32
	GateIncrement   float32
}

// rawGate mirrors the on-disk height-gate block layout.
type rawGate struct {
	U, V, W        float32
	RadialVelocity [3]float32
	Width          [3]float32
	Signal         [3]float32
	Noise          [3]float32
	SNR            [3]float32
	Skew           [3]float32
	Validation     [3]uint8
	Reserved       uint8
}

// cleanValue converts a raw instrument value to float64, mapping the
// in-band no-measurement value to NaN.
func cleanValue(v float32) float64 {
	if v == noMeasurement {
		return math.NaN()
	}
	return float64(v)
}

func cleanTriple(v [3]float32) [3]float64 {
	return [3]float64{cleanValue(v[0]), cleanValue(v[1]), cleanValue(v[2])}
}

// A Decoder reads records from a single TRW file. The 96-byte file
// header is read and validated when the Decoder is created; records are
// decoded lazily, one fixed-size slot per call to Next.
type Decoder struct {
	r      io.Reader
	header FileHeader
	slot   []byte
	off    int64
	eof    bool
}

// NewDecoder reads and validates the file header from r and returns a
// Decoder positioned at the first record slot.
func NewDecoder(r io.Reader) (*Decoder, error) {
	var raw rawFileHeader
	if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("windprof: reading file header: file is shorter than the %d-byte header", fileHeaderSize)
		}
		return nil, fmt.Errorf("windprof: reading file header: %v", err)
	}
	if err := raw.check(); err != nil {
		return nil, err
	}
	h := raw.cook()
	return &Decoder{
		r:      r,
		header: h,
		slot:   make([]byte, recordHeaderSize+h.GateCount*gateSize),
		off:    fileHeaderSize,
	}, nil
}

// Header returns the decoded file header.
func (d *Decoder) Header() FileHeader { return d.header }

// Next decodes and returns the next record. It returns io.EOF when the
// file is exhausted. A *MalformedRecordError means the current slot was
// skipped; decoding may continue with another call to Next. A file with
// zero records yields io.EOF immediately.
func (d *Decoder) Next() (*Record, error) {
	if d.eof {
		return nil, io.EOF
	}
	off := d.off
	n, err := io.ReadFull(d.r, d.slot)
	d.off += int64(n)
	switch err {
	case nil:
	case io.EOF:
		d.eof = true
		return nil, io.EOF
	case io.ErrUnexpectedEOF:
		d.eof = true
		return nil, &MalformedRecordError{
			Offset: off,
			Reason: fmt.Sprintf("record truncated at %d of %d bytes", n, len(d.slot)),
		}
	default:
		d.eof = true
		return nil, fmt.Errorf("windprof: reading record at byte %d: %v", off, err)
	}
	return d.decodeSlot(off)
}

func (d *Decoder) decodeSlot(off int64) (*Record, error) {
	br := bytes.NewReader(d.slot)
	var rh rawRecordHeader
	if err := binary.Read(br, binary.LittleEndian, &rh); err != nil {
		return nil, fmt.Errorf("windprof: decoding record header at byte %d: %v", off, err)
	}
	if rh.Timestamp == 0 {
		return nil, &MalformedRecordError{Offset: off, Reason: "zero timestamp"}
	}
	if int(rh.GateCount) != d.header.GateCount {
		return nil, &MalformedRecordError{
			Offset: off,
			Reason: fmt.Sprintf("record has %d gates, file header declares %d", rh.GateCount, d.header.GateCount),
		}
	}
	if !(rh.GateIncrement > 0) {
		return nil, &MalformedRecordError{
			Offset: off,
			Reason: fmt.Sprintf("gate increment %g m, want > 0", rh.GateIncrement),
		}
	}
	rec := &Record{
		Time:            time.Unix(int64(rh.Timestamp), 0).UTC(),
		FirstGateHeight: float64(rh.FirstGateHeight),
		GateIncrement:   float64(rh.GateIncrement),
		Gates:           make([]GateSample, d.header.GateCount),
	}
	for k := range rec.Gates {
		var g rawGate
		if err := binary.Read(br, binary.LittleEndian, &g); err != nil {
			return nil, fmt.Errorf("windprof: decoding gate %d at byte %d: %v", k, off, err)
		}
		for _, v := range g.Validation {
			if v > 3 {
				return nil, &MalformedRecordError{
					Offset: off,
					Reason: fmt.Sprintf("gate %d validation code %d out of range [0, 3]", k, v),
				}
			}
		}
		rec.Gates[k] = cookGate(&g, rec.FirstGateHeight+float64(k)*rec.GateIncrement)
	}
	return rec, nil
}

// cookGate converts one raw gate block to a GateSample, deriving the
// horizontal speed, the meteorological from-direction, the beam SNR
// minimum, and the initial quality flags from the beam validation codes
// (code 1 means the consensus accepted the beam; anything else means no
// usable measurement).
func cookGate(g *rawGate, height float64) GateSample {
	s := GateSample{
		Height:         height,
		U:              cleanValue(g.U),
		V:              cleanValue(g.V),
		W:              cleanValue(g.W),
		RadialVelocity: cleanTriple(g.RadialVelocity),
		Width:          cleanTriple(g.Width),
		Signal:         cleanTriple(g.Signal),
		Noise:          cleanTriple(g.Noise),
		SNR:            cleanTriple(g.SNR),
		Skew:           cleanTriple(g.Skew),
		Validation:     g.Validation,
	}
	s.Speed = windSpeed(s.U, s.V)
	s.Direction = windFromDirection(s.U, s.V)
	if math.IsNaN(s.SNR[0]) || math.IsNaN(s.SNR[1]) || math.IsNaN(s.SNR[2]) {
		s.SNRMin = math.NaN()
	} else {
		s.SNRMin = floats.Min(s.SNR[:])
	}
	// Validation code 1 means the consensus accepted the measurement;
	// any other code, or an accepted measurement that still carries the
	// no-measurement value, flags as missing.
	s.WindFlag = FlagGood
	if math.IsNaN(s.U) || math.IsNaN(s.V) || math.IsNaN(s.W) {
		s.WindFlag = FlagMissing
	}
	for b, v := range g.Validation {
		if v == 1 && !math.IsNaN(s.SNR[b]) {
			s.BeamFlag[b] = FlagGood
		} else {
			s.BeamFlag[b] = FlagMissing
		}
		if v != 1 {
			s.WindFlag = FlagMissing
		}
	}
	return s
}

// RawFile is the decoded content of one TRW file: its header, every
// well-formed record in file order, and the number of malformed record
// slots that were skipped.
type RawFile struct {
	Path    string
	Header  FileHeader
	Records []*Record
	Skipped int
}

// ReadFile decodes the named TRW file. Malformed record slots are
// skipped and counted, not fatal; header violations and I/O failures
// are. A file with zero records returns an empty Records slice and no
// error.
func ReadFile(path string) (*RawFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("windprof: opening raw file: %v", err)
	}
	defer f.Close()

	d, err := NewDecoder(f)
	if err != nil {
		return nil, fmt.Errorf("windprof: reading %s: %v", path, err)
	}
	rf := &RawFile{Path: path, Header: d.Header()}
	for {
		rec, err := d.Next()
		if err == io.EOF {
			return rf, nil
		}
		if err != nil {
			if _, ok := err.(*MalformedRecordError); ok {
				rf.Skipped++
				continue
			}
			return nil, fmt.Errorf("windprof: reading %s: %v", path, err)
		}
		rf.Records = append(rf.Records, rec)
	}
}
