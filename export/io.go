/*
Copyright © 2021 the Krogh authors.
This file is part of Krogh.

Krogh is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Krogh is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Krogh.  If not, see <http://www.gnu.org/licenses/>.
*/

package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tealeg/xlsx"
)

// SheetName is the name of the worksheet written to spreadsheet files.
const SheetName = "results"

func isXLSX(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == ".xlsx"
}

// WriteFile writes t to path as a spreadsheet if path ends in ".xlsx"
// and as comma-separated text otherwise.
func WriteFile(path string, t *Table) error {
	if isXLSX(path) {
		return writeXLSX(path, t)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: %v", err)
	}
	if err := WriteCSV(f, t); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteCSV writes t to w as comma-separated text.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return fmt.Errorf("export: writing header: %v", err)
	}
	rec := make([]string, len(t.Header))
	for _, row := range t.Rows {
		for j, v := range row {
			rec[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("export: writing row: %v", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("export: %v", err)
	}
	return nil
}

func writeXLSX(path string, t *Table) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return fmt.Errorf("export: %v", err)
	}
	row := sheet.AddRow()
	for _, h := range t.Header {
		row.AddCell().SetString(h)
	}
	for _, r := range t.Rows {
		row = sheet.AddRow()
		for _, v := range r {
			row.AddCell().SetFloat(v)
		}
	}
	if err := f.Save(path); err != nil {
		return fmt.Errorf("export: saving %s: %v", path, err)
	}
	return nil
}

// ReadFile reads a table written by WriteFile.
func ReadFile(path string) (*Table, error) {
	if isXLSX(path) {
		return readXLSX(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("export: %v", err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV reads comma-separated text with a header row and numeric
// values.
func ReadCSV(r io.Reader) (*Table, error) {
	recs, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("export: reading table: %v", err)
	}
	return parseRecords(recs)
}

func readXLSX(path string) (*Table, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("export: opening %s: %v", path, err)
	}
	sheet, ok := f.Sheet[SheetName]
	if !ok {
		if len(f.Sheets) == 0 {
			return nil, fmt.Errorf("export: %s has no worksheets", path)
		}
		sheet = f.Sheets[0]
	}
	var recs [][]string
	for _, row := range sheet.Rows {
		rec := make([]string, len(row.Cells))
		for j, c := range row.Cells {
			rec[j] = strings.TrimSpace(c.Value)
		}
		recs = append(recs, rec)
	}
	return parseRecords(recs)
}

func parseRecords(recs [][]string) (*Table, error) {
	if len(recs) == 0 {
		return nil, fmt.Errorf("export: table has no header")
	}
	t := &Table{Header: recs[0]}
	for i, rec := range recs[1:] {
		if len(rec) != len(t.Header) {
			return nil, fmt.Errorf("export: row %d has %d values, want %d", i+1, len(rec), len(t.Header))
		}
		row := make([]float64, len(rec))
		for j, s := range rec {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("export: row %d column %s: %v", i+1, t.Header[j], err)
			}
			row[j] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}
