package dataset

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

var ErrMissingColumn = errors.New("column not found")

type Kind int

const (
	Numeric Kind = iota
	Text
)

// Column holds one named vector. Numeric nulls are NaN, text nulls are "".
type Column struct {
	Name    string
	Kind    Kind
	Floats  []float64
	Strings []string
}

func (c *Column) Len() int {
	if c.Kind == Text {
		return len(c.Strings)
	}
	return len(c.Floats)
}

func (c *Column) IsNull(row int) bool {
	if c.Kind == Text {
		return c.Strings[row] == ""
	}
	return math.IsNaN(c.Floats[row])
}

func (c *Column) NullCount() int {
	n := 0
	for i := 0; i < c.Len(); i++ {
		if c.IsNull(i) {
			n++
		}
	}
	return n
}

func (c *Column) clone() *Column {
	out := &Column{Name: c.Name, Kind: c.Kind}
	if c.Floats != nil {
		out.Floats = append([]float64(nil), c.Floats...)
	}
	if c.Strings != nil {
		out.Strings = append([]string(nil), c.Strings...)
	}
	return out
}

// Table is an ordered set of equal-length columns.
type Table struct {
	columns []*Column
	index   map[string]int
	rows    int
}

func NewTable(rows int) *Table {
	return &Table{index: make(map[string]int), rows: rows}
}

func (t *Table) NumRows() int { return t.rows }

func (t *Table) NumColumns() int { return len(t.columns) }

func (t *Table) Names() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

func (t *Table) Column(name string) (*Column, error) {
	idx, ok := t.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
	}
	return t.columns[idx], nil
}

// Floats returns the backing slice of a numeric column.
func (t *Table) Floats(name string) ([]float64, error) {
	col, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	if col.Kind != Numeric {
		return nil, fmt.Errorf("column %s is not numeric", name)
	}
	return col.Floats, nil
}

func (t *Table) Strings(name string) ([]string, error) {
	col, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	if col.Kind != Text {
		return nil, fmt.Errorf("column %s is not text", name)
	}
	return col.Strings, nil
}

func (t *Table) AddNumeric(name string, values []float64) error {
	return t.add(&Column{Name: name, Kind: Numeric, Floats: values}, len(values))
}

func (t *Table) AddText(name string, values []string) error {
	return t.add(&Column{Name: name, Kind: Text, Strings: values}, len(values))
}

func (t *Table) add(col *Column, n int) error {
	if _, exists := t.index[col.Name]; exists {
		return fmt.Errorf("duplicate column %s", col.Name)
	}
	if n != t.rows {
		return fmt.Errorf("column %s has %d rows, table has %d", col.Name, n, t.rows)
	}
	t.index[col.Name] = len(t.columns)
	t.columns = append(t.columns, col)
	return nil
}

func (t *Table) Columns() []*Column {
	return t.columns
}

func (t *Table) Clone() *Table {
	out := NewTable(t.rows)
	for _, c := range t.columns {
		out.index[c.Name] = len(out.columns)
		out.columns = append(out.columns, c.clone())
	}
	return out
}

// Mask records which cells of a set of columns were null.
type Mask struct {
	Columns []string
	Missing [][]bool
}

func NewMask(t *Table, columns []string) (Mask, error) {
	mask := Mask{Columns: append([]string(nil), columns...), Missing: make([][]bool, len(columns))}
	for i, name := range columns {
		col, err := t.Column(name)
		if err != nil {
			return Mask{}, err
		}
		missing := make([]bool, t.rows)
		for r := 0; r < t.rows; r++ {
			missing[r] = col.IsNull(r)
		}
		mask.Missing[i] = missing
	}
	return mask, nil
}

func (m Mask) Count() int {
	n := 0
	for _, col := range m.Missing {
		for _, v := range col {
			if v {
				n++
			}
		}
	}
	return n
}

var timepointTokens = []string{"_T0", "_T1", "_T2"}

// IsLongitudinal reports whether a column name carries a timepoint token.
func IsLongitudinal(name string) bool {
	for _, tok := range timepointTokens {
		if strings.Contains(name, tok) {
			return true
		}
	}
	return false
}

// Suffixed builds the wide column name of a field at timepoint t.
func Suffixed(field string, t int) string {
	return fmt.Sprintf("%s_T%d", field, t)
}

// Median ignores NaN. The second result is false when nothing was observed.
func Median(values []float64) (float64, bool) {
	observed := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			observed = append(observed, v)
		}
	}
	if len(observed) == 0 {
		return 0, false
	}
	sort.Float64s(observed)
	mid := len(observed) / 2
	if len(observed)%2 == 1 {
		return observed[mid], true
	}
	return (observed[mid-1] + observed[mid]) / 2, true
}
