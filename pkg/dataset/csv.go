package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// WriteCSV writes a header row followed by one line per row. Nulls are empty cells.
func (t *Table) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.Names()); err != nil {
		return err
	}
	record := make([]string, len(t.columns))
	for r := 0; r < t.rows; r++ {
		for i, col := range t.columns {
			record[i] = formatCell(col, r)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatCell(col *Column, row int) string {
	if col.Kind == Text {
		return col.Strings[row]
	}
	v := col.Floats[row]
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteCSVFile writes through a temp file so a failed write never leaves a partial file behind.
func (t *Table) WriteCSVFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.csv")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := t.WriteCSV(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadCSV loads a table. A column is text only when none of its non-empty
// cells parse as a number; otherwise it is numeric and unparseable cells
// become null.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("csv has no header")
	}
	header := records[0]
	body := records[1:]
	table := NewTable(len(body))
	for c, name := range header {
		cells := make([]string, len(body))
		for r, rec := range body {
			if c < len(rec) {
				cells[r] = strings.TrimSpace(rec[c])
			}
		}
		if looksNumeric(cells) {
			err = table.AddNumeric(name, Coerce(cells))
		} else {
			err = table.AddText(name, cells)
		}
		if err != nil {
			return nil, err
		}
	}
	return table, nil
}

func ReadCSVFile(path string) (*Table, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

func looksNumeric(cells []string) bool {
	seen := false
	for _, cell := range cells {
		if cell == "" {
			continue
		}
		seen = true
		if _, err := strconv.ParseFloat(cell, 64); err == nil {
			return true
		}
	}
	return !seen
}

// Coerce parses cells as floats; empty or unparseable cells become NaN.
func Coerce(cells []string) []float64 {
	out := make([]float64, len(cells))
	for i, cell := range cells {
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil || math.IsInf(v, 0) {
			v = math.NaN()
		}
		out[i] = v
	}
	return out
}
