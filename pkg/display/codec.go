package display

import (
	"bytes"
	"math"
	"strconv"
	"time"

	"github.com/ajitpratap0/trellis/pkg/errors"
	jsonpool "github.com/ajitpratap0/trellis/pkg/json"
	"github.com/ajitpratap0/trellis/pkg/schema"
)

// EncodeFactor maps an in-memory level index (0-based) to its on-disk form
// (1-based). It is the only place the shift is applied; DecodeFactor is the
// only place it is undone.
func EncodeFactor(idx int) int {
	return idx + 1
}

// DecodeFactor maps an on-disk level index back to the in-memory index.
// 0 and values past the last level are data errors.
func DecodeFactor(v, levels int) (int, error) {
	if v < 1 || v > levels {
		return 0, errors.Newf(errors.ErrorTypeData, "factor index %d is outside 1..%d", v, levels)
	}
	return v - 1, nil
}

func typeMismatch(v schema.Variable, key string, value interface{}, reason string) *errors.Error {
	return errors.Newf(errors.ErrorTypeTypeMismatch, "variable %q row %q: %s (%T)", v.Name, key, reason, value).
		WithDetail("variable", v.Name).
		WithDetail("key", key)
}

// encodeValue converts an in-memory value to its on-disk JSON value
func encodeValue(v schema.Variable, key string, value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	if !schema.CheckValue(v.Kind, value) {
		// Only temporal kinds get a second chance: a parseable timestamp is
		// normalised, anything else is refused rather than stringified.
		if !v.Kind.IsTemporal() {
			return nil, typeMismatch(v, key, value, "value does not match the variable kind")
		}
		coerced, err := schema.Coerce(v.Kind, value, nil)
		if err != nil || coerced == nil {
			return nil, typeMismatch(v, key, value, "value is not a timestamp")
		}
		value = coerced
	}

	switch v.Kind {
	case schema.KindFactor:
		return EncodeFactor(value.(int)), nil
	case schema.KindNumber, schema.KindCurrency:
		f := value.(float64)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, nil
		}
		return f, nil
	case schema.KindInteger:
		return value.(int64), nil
	case schema.KindDate:
		return value.(time.Time).UTC().Format(schema.DateFormat), nil
	case schema.KindDatetime:
		return value.(time.Time).UTC().Format(schema.DatetimeFormat), nil
	case schema.KindString, schema.KindHyperlink:
		return value.(string), nil
	case schema.KindPanel:
		return nil, errors.Newf(errors.ErrorTypeInternal, "panel variable %q has no metadata value", v.Name)
	default:
		return nil, errors.Newf(errors.ErrorTypeInternal, "variable %q has unhandled kind %q", v.Name, v.Kind)
	}
}

// decodeValue converts an on-disk JSON value back to its in-memory value
func decodeValue(v schema.Variable, key string, raw interface{}) (interface{}, error) {
	if raw == nil {
		return nil, nil
	}
	bad := func(reason string) error {
		return errors.Newf(errors.ErrorTypeData, "variable %q row %q: %s", v.Name, key, reason).
			WithDetail("variable", v.Name).
			WithDetail("key", key)
	}

	switch v.Kind {
	case schema.KindFactor:
		n, ok := raw.(jsonpool.Number)
		if !ok {
			return nil, bad("factor value is not an index")
		}
		i, err := n.Int64()
		if err != nil {
			return nil, bad("factor value is not an integer")
		}
		idx, err := DecodeFactor(int(i), len(v.Levels))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "variable "+strconv.Quote(v.Name)+" row "+strconv.Quote(key)).
				WithDetail("variable", v.Name).
				WithDetail("key", key)
		}
		return idx, nil
	case schema.KindNumber, schema.KindCurrency:
		n, ok := raw.(jsonpool.Number)
		if !ok {
			return nil, bad("value is not a number")
		}
		f, err := n.Float64()
		if err != nil {
			return nil, bad("value is not a number")
		}
		return f, nil
	case schema.KindInteger:
		n, ok := raw.(jsonpool.Number)
		if !ok {
			return nil, bad("value is not an integer")
		}
		i, err := n.Int64()
		if err != nil {
			return nil, bad("value is not an integer")
		}
		return i, nil
	case schema.KindDate, schema.KindDatetime:
		s, ok := raw.(string)
		if !ok {
			return nil, bad("value is not a date string")
		}
		layout := schema.DateFormat
		if v.Kind == schema.KindDatetime {
			layout = schema.DatetimeFormat
		}
		t, err := time.Parse(layout, s)
		if err != nil {
			return nil, bad("malformed date " + strconv.Quote(s))
		}
		return t.UTC(), nil
	case schema.KindString, schema.KindHyperlink:
		s, ok := raw.(string)
		if !ok {
			return nil, bad("value is not a string")
		}
		return s, nil
	case schema.KindPanel:
		return nil, errors.Newf(errors.ErrorTypeInternal, "panel variable %q has no metadata value", v.Name)
	default:
		return nil, errors.Newf(errors.ErrorTypeInternal, "variable %q has unhandled kind %q", v.Name, v.Kind)
	}
}

// Row is one encoded metadata row. It marshals as an object whose fields
// follow the variable order, starting with the row key.
type Row struct {
	Key    string
	Names  []string
	Values []interface{}
}

// MarshalJSON writes the row with a stable field order
func (r Row) MarshalJSON() ([]byte, error) {
	buf := jsonpool.GetBuffer()
	defer jsonpool.PutBuffer(buf)

	buf.WriteByte('{')
	if err := writeField(buf, schema.RowKeyField, r.Key); err != nil {
		return nil, err
	}
	for i, name := range r.Names {
		buf.WriteByte(',')
		if err := writeField(buf, name, r.Values[i]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')

	return append([]byte(nil), buf.Bytes()...), nil
}

func writeField(buf *bytes.Buffer, name string, value interface{}) error {
	k, err := jsonpool.Marshal(name)
	if err != nil {
		return err
	}
	v, err := jsonpool.Marshal(value)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "cannot encode value of "+name)
	}
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(v)
	return nil
}

// EncodeRows produces the on-disk metadata rows of d: factor indices
// shifted by EncodeFactor, dates and datetimes as ISO-8601 strings. It does
// not modify d.
func EncodeRows(d *Display) ([]Row, error) {
	if d.Frame == nil {
		return nil, errors.Newf(errors.ErrorTypeConfig, "display %q has no metadata", d.Name)
	}
	f := d.Frame
	names := make([]string, len(f.Vars))
	for i, v := range f.Vars {
		names[i] = v.Name
	}

	rows := make([]Row, f.Len())
	for r, key := range f.Keys {
		values := make([]interface{}, len(f.Vars))
		for i, v := range f.Vars {
			enc, err := encodeValue(v, key, f.Value(r, v.Name))
			if err != nil {
				return nil, err
			}
			values[i] = enc
		}
		rows[r] = Row{Key: key, Names: names, Values: values}
	}
	return rows, nil
}

// DecodeRows rebuilds a frame from on-disk rows and the metadata variables
func DecodeRows(vars []schema.Variable, raw []map[string]interface{}) (*schema.Frame, error) {
	keys := make([]string, len(raw))
	cols := make(map[string][]interface{}, len(vars))
	for _, v := range vars {
		cols[v.Name] = make([]interface{}, len(raw))
	}

	for r, rec := range raw {
		key, ok := rec[schema.RowKeyField].(string)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeData, "metadata row %d has no %s field", r+1, schema.RowKeyField).
				WithDetail("row", r+1)
		}
		keys[r] = key
		for _, v := range vars {
			val, err := decodeValue(v, key, rec[v.Name])
			if err != nil {
				return nil, err
			}
			cols[v.Name][r] = val
		}
	}
	return schema.NewFrame(keys, vars, cols)
}
