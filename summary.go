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
	"github.com/GaryBoone/GoStats/stats"
	"github.com/sirupsen/logrus"
)

// A RunSummary accumulates distribution statistics over a dataset's
// valid wind speed and beam-minimum SNR cells for the end-of-run
// report.
type RunSummary struct {
	speed stats.Stats
	snr   stats.Stats
}

// Add folds the valid cells of ds into the summary.
func (r *RunSummary) Add(ds *ModeDataset) {
	if ds == nil {
		return
	}
	for _, v := range ds.Data["wind_speed"].Elements {
		if v != FillValue {
			r.speed.Update(v)
		}
	}
	for _, v := range ds.Data["signal_to_noise_ratio_minimum"].Elements {
		if v != FillValue {
			r.snr.Update(v)
		}
	}
}

// Report writes the accumulated statistics through log.
func (r *RunSummary) Report(log logrus.FieldLogger) {
	if r.speed.Count() == 0 {
		log.Info("no valid wind samples")
		return
	}
	fields := logrus.Fields{
		"samples":    r.speed.Count(),
		"speed_mean": r.speed.Mean(),
		"speed_min":  r.speed.Min(),
		"speed_max":  r.speed.Max(),
	}
	if r.speed.Count() > 1 {
		fields["speed_sd"] = r.speed.SampleStandardDeviation()
	}
	if r.snr.Count() > 0 {
		fields["snr_min_mean"] = r.snr.Mean()
		fields["snr_min_max"] = r.snr.Max()
	}
	log.WithFields(fields).Info("valid sample statistics")
}
