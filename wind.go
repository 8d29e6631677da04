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

import "math"

// windSpeed returns the horizontal wind speed in m/s from the eastward
// and northward components.
func windSpeed(u, v float64) float64 {
	return math.Hypot(u, v)
}

// windFromDirection returns the meteorological wind direction in
// degrees: the direction the horizontal wind blows from, 0° for a
// northerly, 90° for an easterly, increasing clockwise. Calm air
// (u = v = 0) reports 0° by convention. Either component NaN gives NaN.
func windFromDirection(u, v float64) float64 {
	if math.IsNaN(u) || math.IsNaN(v) {
		return math.NaN()
	}
	if v == 0 {
		switch {
		case u > 0:
			return 270
		case u < 0:
			return 90
		}
		return 0
	}
	deg := math.Atan(math.Abs(u)/math.Abs(v)) * (180 / math.Pi)
	switch {
	case u > 0 && v > 0:
		return deg + 180
	case u > 0 && v < 0:
		return deg + 270
	case u < 0 && v > 0:
		return deg + 90
	case u < 0 && v < 0:
		return deg
	case v > 0: // u == 0, southerly
		return 180
	default: // u == 0, northerly
		return 0
	}
}
