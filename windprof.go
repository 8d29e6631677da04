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

// Package windprof converts raw radar wind profiler recordings into
// daily CF-compliant netCDF files.
package windprof

import (
	"github.com/sirupsen/logrus"
)

// Version is the windprof release version.
const Version = "0.3.1"

// A Pipeline holds the configuration for converting one day of raw
// recordings from a single operating mode into a netCDF file.
type Pipeline struct {
	// Mode tags the output file. When empty it is derived from the
	// receiver channel recorded in the raw file headers.
	Mode string

	// QC configures the quality control checks.
	QC QCConfig

	// Output configures the netCDF writer.
	Output OutputConfig

	// Metadata holds the curated global attributes. It must contain
	// the required keys listed by ReadMetadata.
	Metadata Metadata

	// Log receives progress information. The standard logger is used
	// when nil.
	Log logrus.FieldLogger
}

// Run reads the raw files at paths, quality controls them, merges
// them into a single dataset, and writes it out, returning the path
// of the file it wrote. It returns an empty path and a nil error
// when paths is empty or no file yields any records.
func (p *Pipeline) Run(paths []string) (string, error) {
	log := p.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	if len(paths) == 0 {
		log.Info("no raw files to process")
		return "", nil
	}

	files := make([]*RawFile, 0, len(paths))
	for _, path := range paths {
		rf, err := ReadFile(path)
		if err != nil {
			return "", err
		}
		log.WithFields(logrus.Fields{
			"path":    path,
			"channel": rf.Header.Channel,
			"gates":   rf.Header.GateCount,
			"records": len(rf.Records),
		}).Debug("read raw file")
		if rf.Skipped > 0 {
			log.WithFields(logrus.Fields{
				"path":    path,
				"skipped": rf.Skipped,
			}).Warn("skipped malformed records")
		}
		p.checkName(log, rf)
		files = append(files, rf)
	}

	mode := p.Mode
	if mode == "" {
		mode = files[0].Header.Channel.Mode()
	}

	qc, err := NewQC(p.QC, files[0].Header.Geometry())
	if err != nil {
		return "", err
	}
	qc.Log = log
	for _, rf := range files {
		qc.File(rf)
	}
	log.WithFields(logrus.Fields{
		"records":      qc.Counts.Records,
		"bad_geometry": qc.Counts.BadGeometry,
		"out_of_order": qc.Counts.OutOfOrder,
		"low_snr":      qc.Counts.LowSNR,
		"implausible":  qc.Counts.Implausible,
		"expression":   qc.Counts.Expression,
	}).Info("quality control finished")

	ds, err := Aggregate(mode, files, log)
	if err != nil {
		return "", err
	}
	if ds == nil {
		log.Info("no records to convert")
		return "", nil
	}

	var summary RunSummary
	summary.Add(ds)

	out, err := p.Output.Write(ds, p.Metadata)
	if err != nil {
		return "", err
	}
	log.WithFields(logrus.Fields{
		"path":    out,
		"times":   len(ds.Times),
		"heights": len(ds.Heights),
		"files":   ds.Files,
	}).Info("wrote netCDF file")
	summary.Report(log)
	return out, nil
}

// checkName compares the date encoded in a raw file's name against
// its record timestamps.
func (p *Pipeline) checkName(log logrus.FieldLogger, rf *RawFile) {
	nameTime, err := ParseRawTime(rf.Path)
	if err != nil {
		log.WithFields(logrus.Fields{
			"path": rf.Path,
		}).Debug("file name does not follow the raw naming convention")
		return
	}
	if len(rf.Records) == 0 {
		return
	}
	ny, nm, nd := nameTime.Date()
	ry, rm, rd := rf.Records[0].Time.UTC().Date()
	if ny != ry || nm != rm || nd != rd {
		log.WithFields(logrus.Fields{
			"path":   rf.Path,
			"name":   nameTime.Format("2006-01-02"),
			"record": rf.Records[0].Time.UTC().Format("2006-01-02"),
		}).Warn("file name date disagrees with record timestamps")
	}
}
