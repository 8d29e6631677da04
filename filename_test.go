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
	"strings"
	"testing"
	"time"
)

func TestParseRawTime(t *testing.T) {
	var tests = []struct {
		name string
		want time.Time
	}{
		{"21603800.trw", time.Date(2021, time.June, 3, 8, 0, 0, 0, time.UTC)},
		{"21603830.trw", time.Date(2021, time.June, 3, 8, 30, 0, 0, time.UTC)},
		{"21a15n45.trw", time.Date(2021, time.October, 15, 23, 45, 0, 0, time.UTC)},
		{"05c31000.trw", time.Date(2005, time.December, 31, 0, 0, 0, 0, time.UTC)},
		{"99b01c59.trw", time.Date(2099, time.November, 1, 12, 59, 0, 0, time.UTC)},
		{"21603800", time.Date(2021, time.June, 3, 8, 0, 0, 0, time.UTC)},
		{"21603800.TRW", time.Date(2021, time.June, 3, 8, 0, 0, 0, time.UTC)},
		{"/data/raw/21603800.trw", time.Date(2021, time.June, 3, 8, 0, 0, 0, time.UTC)},
	}
	for _, test := range tests {
		got, err := ParseRawTime(test.name)
		if err != nil {
			t.Errorf("parsing %q: %v", test.name, err)
			continue
		}
		if !got.Equal(test.want) {
			t.Errorf("%q should decode to %v but decodes to %v", test.name, test.want, got)
		}
	}
}

func TestParseRawTimeErrors(t *testing.T) {
	var tests = []struct {
		name   string
		reason string
	}{
		{"21d03800.trw", "month"},       // 'd' would be month 13
		{"21003800.trw", "month"},       // month 0
		{"21A03800.trw", "month"},       // upper case letters are not digits
		{"21632800.trw", "no such date"},
		{"21b31800.trw", "no such date"}, // November has 30 days
		{"21200000.trw", "no such date"}, // day 0
		{"21603860.trw", "minute"},
		{"21603o00.trw", "hour"}, // 'o' is past 23
		{"2x603800.trw", "year"},
		{"2160380.trw", "8 characters"},
		{"216038000.trw", "8 characters"},
		{"", "8 characters"},
	}
	for _, test := range tests {
		_, err := ParseRawTime(test.name)
		if err == nil {
			t.Errorf("parsing %q should fail", test.name)
			continue
		}
		if !strings.Contains(err.Error(), test.reason) {
			t.Errorf("parsing %q should fail mentioning %q but fails with %v", test.name, test.reason, err)
		}
	}
}

func TestFormatRawName(t *testing.T) {
	var tests = []struct {
		t    time.Time
		want string
	}{
		{time.Date(2021, time.June, 3, 8, 0, 0, 0, time.UTC), "21603800.trw"},
		{time.Date(2021, time.October, 15, 23, 45, 0, 0, time.UTC), "21a15n45.trw"},
		{time.Date(2005, time.December, 31, 0, 0, 0, 0, time.UTC), "05c31000.trw"},
	}
	for _, test := range tests {
		if got := FormatRawName(test.t); got != test.want {
			t.Errorf("%v should format as %q but formats as %q", test.t, test.want, got)
		}
	}

	// Encoding and decoding are inverses on whole minutes.
	for _, tm := range []time.Time{
		time.Date(2021, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2021, time.June, 3, 8, 15, 0, 0, time.UTC),
		time.Date(2030, time.December, 31, 23, 59, 0, 0, time.UTC),
	} {
		got, err := ParseRawTime(FormatRawName(tm))
		if err != nil {
			t.Fatalf("round trip of %v: %v", tm, err)
		}
		if !got.Equal(tm) {
			t.Errorf("%v should round trip but becomes %v", tm, got)
		}
	}
}
