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
	"math"
	"testing"
)

func TestWindSpeed(t *testing.T) {
	if s := windSpeed(3, 4); s != 5 {
		t.Errorf("speed of (3, 4) should be 5 but is %g", s)
	}
	if s := windSpeed(0, 0); s != 0 {
		t.Errorf("speed of calm air should be 0 but is %g", s)
	}
	if s := windSpeed(math.NaN(), 4); !math.IsNaN(s) {
		t.Errorf("speed of an unmeasured component should be NaN but is %g", s)
	}
}

func TestWindFromDirection(t *testing.T) {
	sqrt3 := math.Sqrt(3)
	var tests = []struct {
		u, v float64
		want float64
	}{
		{0, -1, 0},    // blowing south: a northerly
		{-1, 0, 90},   // blowing west: an easterly
		{0, 1, 180},   // blowing north: a southerly
		{1, 0, 270},   // blowing east: a westerly
		{-1, -1, 45},  // toward the southwest: from the northeast
		{-1, 1, 135},  // toward the northwest: from the southeast
		{1, 1, 225},   // toward the northeast: from the southwest
		{1, -1, 315},  // toward the southeast: from the northwest
		{-1, -sqrt3, 30},
		{-1, sqrt3, 120},
		{1, sqrt3, 210},
		{1, -sqrt3, 300},
		{0, 0, 0}, // calm air reports 0 by convention
	}
	for _, test := range tests {
		got := windFromDirection(test.u, test.v)
		if test.want == 0 {
			if got != 0 {
				t.Errorf("direction of (%g, %g) should be 0 but is %g", test.u, test.v, got)
			}
			continue
		}
		if different(got, test.want, testTolerance) {
			t.Errorf("direction of (%g, %g) should be %g but is %g", test.u, test.v, test.want, got)
		}
	}

	if d := windFromDirection(math.NaN(), 1); !math.IsNaN(d) {
		t.Errorf("direction of an unmeasured component should be NaN but is %g", d)
	}
	if d := windFromDirection(1, math.NaN()); !math.IsNaN(d) {
		t.Errorf("direction of an unmeasured component should be NaN but is %g", d)
	}
}
