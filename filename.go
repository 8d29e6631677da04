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
	"path/filepath"
	"strings"
	"time"
)

// The instrument names its files YYMDDHMM.trw: two-digit year since
// 2000, month and hour as single base-24 digits where the letters a–n
// stand for 10–23, and two-digit day and minute. Only a, b and c are
// meaningful in the month position (October to December); the deeper
// letters exist for the hour. The encoding is the upstream convention
// and is preserved exactly.

// RawExt is the file name extension of raw instrument files.
const RawExt = ".trw"

// letterDigit decodes a base-24 file name digit: '0'–'9' are
// themselves, 'a'–'n' are 10–23.
func letterDigit(c byte) (int, error) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), nil
	case c >= 'a' && c <= 'n':
		return int(c-'a') + 10, nil
	}
	return 0, fmt.Errorf("invalid digit %q", c)
}

// digitLetter encodes 0–23 as a base-24 file name digit.
func digitLetter(n int) (byte, error) {
	switch {
	case n >= 0 && n <= 9:
		return byte('0' + n), nil
	case n >= 10 && n <= 23:
		return byte('a' + n - 10), nil
	}
	return 0, fmt.Errorf("value %d out of digit range [0, 23]", n)
}

// ParseRawTime decodes the UTC timestamp a raw file's name encodes.
// The name may include a directory and the .trw extension.
func ParseRawTime(name string) (time.Time, error) {
	base := filepath.Base(name)
	if ext := filepath.Ext(base); strings.EqualFold(ext, RawExt) {
		base = base[:len(base)-len(ext)]
	}
	if len(base) != 8 {
		return time.Time{}, fmt.Errorf("windprof: parsing raw file name %q: want 8 characters YYMDDHMM, got %d", name, len(base))
	}
	num := func(s string) (int, bool) {
		n := 0
		for i := 0; i < len(s); i++ {
			if s[i] < '0' || s[i] > '9' {
				return 0, false
			}
			n = n*10 + int(s[i]-'0')
		}
		return n, true
	}
	year, ok := num(base[0:2])
	if !ok {
		return time.Time{}, fmt.Errorf("windprof: parsing raw file name %q: bad year %q", name, base[0:2])
	}
	month, err := letterDigit(base[2])
	if err != nil {
		return time.Time{}, fmt.Errorf("windprof: parsing raw file name %q: month: %v", name, err)
	}
	if month < 1 || month > 12 {
		return time.Time{}, fmt.Errorf("windprof: parsing raw file name %q: month %d out of range [1, 12]", name, month)
	}
	day, ok := num(base[3:5])
	if !ok {
		return time.Time{}, fmt.Errorf("windprof: parsing raw file name %q: bad day %q", name, base[3:5])
	}
	hour, err := letterDigit(base[5])
	if err != nil {
		return time.Time{}, fmt.Errorf("windprof: parsing raw file name %q: hour: %v", name, err)
	}
	min, ok := num(base[6:8])
	if !ok || min > 59 {
		return time.Time{}, fmt.Errorf("windprof: parsing raw file name %q: bad minute %q", name, base[6:8])
	}
	t := time.Date(2000+year, time.Month(month), day, hour, min, 0, 0, time.UTC)
	if t.Day() != day || t.Month() != time.Month(month) {
		return time.Time{}, fmt.Errorf("windprof: parsing raw file name %q: no such date", name)
	}
	return t, nil
}

// FormatRawName encodes t as the base name of a raw file, extension
// included.
func FormatRawName(t time.Time) string {
	t = t.UTC()
	// Month 1-12 and hour 0-23 cannot fall outside the digit range.
	mc, _ := digitLetter(int(t.Month()))
	hc, _ := digitLetter(t.Hour())
	return fmt.Sprintf("%02d%c%02d%c%02d%s", t.Year()%100, mc, t.Day(), hc, t.Minute(), RawExt)
}
