package schema

import (
	"regexp"
	"time"

	"github.com/ajitpratap0/trellis/pkg/errors"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidKey reports whether key can be used as an asset filename stem
func ValidKey(key string) bool {
	return len(key) <= 200 && keyPattern.MatchString(key)
}

// Frame is the typed metadata table of a display. Columns hold the values
// produced by Coerce; the panel variable has no column.
type Frame struct {
	Keys []string
	Vars []Variable
	Cols map[string][]interface{}

	rowIndex map[string]int
	varIndex map[string]int
}

// NewFrame validates keys and columns and builds the lookup indexes
func NewFrame(keys []string, vars []Variable, cols map[string][]interface{}) (*Frame, error) {
	f := &Frame{
		Keys:     keys,
		Vars:     vars,
		Cols:     cols,
		rowIndex: make(map[string]int, len(keys)),
		varIndex: make(map[string]int, len(vars)),
	}
	if f.Cols == nil {
		f.Cols = make(map[string][]interface{})
	}

	for i, k := range keys {
		if !ValidKey(k) {
			return nil, errors.Newf(errors.ErrorTypeConfig, "row key %q is not a valid file name", k).
				WithDetail("key", k)
		}
		if _, dup := f.rowIndex[k]; dup {
			return nil, errors.Newf(errors.ErrorTypeConfig, "duplicate row key %q", k).
				WithDetail("key", k)
		}
		f.rowIndex[k] = i
	}

	for i, v := range vars {
		if v.Kind == KindPanel {
			return nil, errors.Newf(errors.ErrorTypeInternal, "panel variable %q has no metadata column", v.Name)
		}
		if _, dup := f.varIndex[v.Name]; dup {
			return nil, errors.Newf(errors.ErrorTypeConfig, "duplicate variable name %q", v.Name).
				WithDetail("variable", v.Name)
		}
		f.varIndex[v.Name] = i

		col, ok := f.Cols[v.Name]
		if !ok {
			col = make([]interface{}, len(keys))
			f.Cols[v.Name] = col
		}
		if len(col) != len(keys) {
			return nil, errors.Newf(errors.ErrorTypeData, "variable %q has %d values for %d rows",
				v.Name, len(col), len(keys)).WithDetail("variable", v.Name)
		}
		for row, val := range col {
			if !CheckValue(v.Kind, val) {
				return nil, errors.Newf(errors.ErrorTypeTypeMismatch, "variable %q row %q holds %T, not a %s value",
					v.Name, keys[row], val, v.Kind).
					WithDetail("variable", v.Name).
					WithDetail("key", keys[row])
			}
			if v.Kind == KindFactor && val != nil {
				if idx := val.(int); idx < 0 || idx >= len(v.Levels) {
					return nil, errors.Newf(errors.ErrorTypeData, "variable %q row %q has level index %d outside %d levels",
						v.Name, keys[row], idx, len(v.Levels)).
						WithDetail("variable", v.Name).
						WithDetail("key", keys[row])
				}
			}
		}
	}
	return f, nil
}

// Len returns the number of rows
func (f *Frame) Len() int { return len(f.Keys) }

// Var returns the descriptor of a metadata variable
func (f *Frame) Var(name string) (Variable, bool) {
	i, ok := f.varIndex[name]
	if !ok {
		return Variable{}, false
	}
	return f.Vars[i], true
}

// Column returns the values of a variable in row order
func (f *Frame) Column(name string) []interface{} {
	return f.Cols[name]
}

// RowIndex returns the position of a row key
func (f *Frame) RowIndex(key string) (int, bool) {
	i, ok := f.rowIndex[key]
	return i, ok
}

// Value returns the in-memory value of a cell
func (f *Frame) Value(row int, name string) interface{} {
	col := f.Cols[name]
	if row < 0 || row >= len(col) {
		return nil
	}
	return col[row]
}

// Label returns the text a viewer shows for a cell: the level for factors,
// the encoded layout for temporal kinds. Missing values give "".
func (f *Frame) Label(row int, name string) string {
	v, ok := f.Var(name)
	if !ok {
		return ""
	}
	val := f.Value(row, name)
	if val == nil {
		return ""
	}
	switch v.Kind {
	case KindFactor:
		return v.Levels[val.(int)]
	case KindDate:
		return val.(time.Time).Format(DateFormat)
	case KindDatetime:
		return val.(time.Time).UTC().Format(DatetimeFormat)
	case KindNumber, KindInteger, KindCurrency, KindString, KindHyperlink:
		return ToString(val)
	case KindPanel:
		return ""
	default:
		return ""
	}
}

// Select returns a frame holding only the given rows, in the given order
func (f *Frame) Select(rows []int) (*Frame, error) {
	keys := make([]string, len(rows))
	for i, r := range rows {
		keys[i] = f.Keys[r]
	}
	cols := make(map[string][]interface{}, len(f.Vars))
	for _, v := range f.Vars {
		src := f.Cols[v.Name]
		col := make([]interface{}, len(rows))
		for i, r := range rows {
			col[i] = src[r]
		}
		cols[v.Name] = col
	}
	return NewFrame(keys, f.Vars, cols)
}
