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
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tealeg/xlsx"
)

// Metadata is the curated dataset metadata: global attribute names to
// values. It is read from a two-column attribute,value table and
// applied on top of the attributes computed from the data, so a
// curator can override anything.
type Metadata map[string]string

// requiredMetadata are the attributes the output schema cannot do
// without. platform additionally names the deployment in the output
// file name.
var requiredMetadata = []string{
	"source",
	"institution",
	"platform",
	"creator_name",
	"creator_email",
}

// SchemaViolationError reports metadata that cannot satisfy the output
// schema. Nothing is written when it occurs.
type SchemaViolationError struct {
	Missing []string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("windprof: metadata is missing required attributes: %s", strings.Join(e.Missing, ", "))
}

// Check returns a *SchemaViolationError naming every required
// attribute that is absent or empty.
func (m Metadata) Check() error {
	var missing []string
	for _, k := range requiredMetadata {
		if m[k] == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return &SchemaViolationError{Missing: missing}
	}
	return nil
}

// ReadMetadata reads dataset metadata from the named file: a .xlsx
// spreadsheet, or anything else as CSV.
func ReadMetadata(path string) (Metadata, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return readMetadataXLSX(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("windprof: opening metadata: %v", err)
	}
	defer f.Close()
	return ReadMetadataCSV(f)
}

// ReadMetadataCSV reads attribute,value rows from r. Blank lines and
// lines starting with # are ignored; a value containing commas may be
// quoted or left bare, in which case the remaining fields are rejoined.
func ReadMetadataCSV(r io.Reader) (Metadata, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.Comment = '#'
	m := make(Metadata)
	for {
		fields, err := cr.Read()
		if err == io.EOF {
			return m, nil
		}
		if err != nil {
			return nil, fmt.Errorf("windprof: reading metadata: %v", err)
		}
		key := strings.TrimSpace(fields[0])
		if key == "" {
			continue
		}
		var value string
		if len(fields) > 1 {
			value = strings.TrimSpace(strings.Join(fields[1:], ","))
		}
		m[key] = value
	}
}

func readMetadataXLSX(path string) (Metadata, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("windprof: opening metadata spreadsheet: %v", err)
	}
	if len(f.Sheets) == 0 {
		return nil, fmt.Errorf("windprof: metadata spreadsheet %s has no sheets", path)
	}
	s := f.Sheets[0]
	m := make(Metadata)
	for r := 0; r < s.MaxRow; r++ {
		key := strings.TrimSpace(s.Cell(r, 0).Value)
		if key == "" || strings.HasPrefix(key, "#") {
			continue
		}
		m[key] = strings.TrimSpace(s.Cell(r, 1).Value)
	}
	return m, nil
}
