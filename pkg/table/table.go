// Package table holds the raw input table of a display build and the
// loaders that read it from CSV, XLSX, JSON record and Parquet files.
package table

import (
	"github.com/ajitpratap0/trellis/pkg/errors"
)

// Table is a column-oriented table of untyped values. Every column has
// exactly Len() values; absent cells are nil.
type Table struct {
	names []string
	cols  map[string][]interface{}
	n     int
}

// New creates an empty table with the given column names
func New(names ...string) (*Table, error) {
	t := &Table{cols: make(map[string][]interface{}, len(names))}
	for _, name := range names {
		if err := t.AddColumn(name, nil); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// FromColumns builds a table from named columns of equal length. order
// fixes the column order.
func FromColumns(order []string, cols map[string][]interface{}) (*Table, error) {
	t := &Table{cols: make(map[string][]interface{}, len(order))}
	for i, name := range order {
		col, ok := cols[name]
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeConfig, "column %q has no values", name).
				WithDetail("column", name)
		}
		if i == 0 {
			t.n = len(col)
		}
		if err := t.AddColumn(name, col); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// AddColumn appends a column. values must have Len() entries, or be nil
// for an all-missing column.
func (t *Table) AddColumn(name string, values []interface{}) error {
	if name == "" {
		return errors.New(errors.ErrorTypeConfig, "column name must not be empty")
	}
	if _, dup := t.cols[name]; dup {
		return errors.Newf(errors.ErrorTypeConfig, "duplicate column %q", name).
			WithDetail("column", name)
	}
	if values == nil {
		values = make([]interface{}, t.n)
	}
	if len(values) != t.n {
		return errors.Newf(errors.ErrorTypeData, "column %q has %d values, table has %d rows", name, len(values), t.n).
			WithDetail("column", name)
	}
	t.names = append(t.names, name)
	t.cols[name] = values
	return nil
}

// AppendRow adds one row. Short rows are padded with nil; long rows are an error.
func (t *Table) AppendRow(row []interface{}) error {
	if len(row) > len(t.names) {
		return errors.Newf(errors.ErrorTypeData, "row %d has %d cells, table has %d columns", t.n+1, len(row), len(t.names)).
			WithDetail("row", t.n+1)
	}
	for i, name := range t.names {
		var v interface{}
		if i < len(row) {
			v = row[i]
		}
		t.cols[name] = append(t.cols[name], v)
	}
	t.n++
	return nil
}

// Names returns the column names in order
func (t *Table) Names() []string {
	return append([]string(nil), t.names...)
}

// Has reports whether the table has a column called name
func (t *Table) Has(name string) bool {
	_, ok := t.cols[name]
	return ok
}

// Column returns the values of a column, or nil if it does not exist
func (t *Table) Column(name string) []interface{} {
	return t.cols[name]
}

// Len returns the number of rows
func (t *Table) Len() int { return t.n }
