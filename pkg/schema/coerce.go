package schema

import (
	"math"
	"time"

	"github.com/ajitpratap0/trellis/pkg/errors"
)

// Coerce converts a raw value into the in-memory representation of kind k:
// factor -> int (0-based level index), number/currency -> float64,
// integer -> int64, date/datetime -> time.Time (UTC), string/hyperlink -> string.
// Missing values become nil. levels is consulted for factors only.
func Coerce(k Kind, value interface{}, levels map[string]int) (interface{}, error) {
	if IsMissing(value) {
		return nil, nil
	}
	switch k {
	case KindFactor:
		s := ToString(value)
		idx, ok := levels[s]
		if !ok {
			return nil, mismatch(k, value, "value is not one of the declared levels")
		}
		return idx, nil
	case KindNumber:
		if f, _, ok := toNumber(value); ok {
			return f, nil
		}
		if f, _, ok := parseCurrency(value); ok {
			return f, nil
		}
		return nil, mismatch(k, value, "value is not numeric")
	case KindCurrency:
		if f, _, ok := parseCurrency(value); ok {
			return f, nil
		}
		return nil, mismatch(k, value, "value is not a currency amount")
	case KindInteger:
		f, _, ok := toNumber(value)
		if !ok {
			return nil, mismatch(k, value, "value is not numeric")
		}
		if f != math.Trunc(f) || math.Abs(f) > 1<<53 {
			return nil, mismatch(k, value, "value is not integral")
		}
		return int64(f), nil
	case KindDate:
		t, _, ok := parseTime(value)
		if !ok {
			return nil, mismatch(k, value, "value is not a date")
		}
		return toDate(t), nil
	case KindDatetime:
		t, _, ok := parseTime(value)
		if !ok {
			return nil, mismatch(k, value, "value is not a timestamp")
		}
		return t.UTC(), nil
	case KindString:
		return ToString(value), nil
	case KindHyperlink:
		if !isURL(value) {
			return nil, mismatch(k, value, "value is not a URL")
		}
		return ToString(value), nil
	case KindPanel:
		return nil, errors.New(errors.ErrorTypeInternal, "panel values are rendered, not coerced")
	default:
		return nil, errors.Newf(errors.ErrorTypeInternal, "unhandled variable kind %q", k)
	}
}

func mismatch(k Kind, value interface{}, reason string) *errors.Error {
	return errors.Newf(errors.ErrorTypeTypeMismatch, "%s: %q cannot be read as %s", reason, ToString(value), k).
		WithDetail("kind", string(k)).
		WithDetail("value", ToString(value))
}

// CheckValue verifies that an in-memory value has the Go type expected for
// kind k. nil is always accepted.
func CheckValue(k Kind, value interface{}) bool {
	if value == nil {
		return true
	}
	switch k {
	case KindFactor:
		_, ok := value.(int)
		return ok
	case KindNumber, KindCurrency:
		_, ok := value.(float64)
		return ok
	case KindInteger:
		_, ok := value.(int64)
		return ok
	case KindDate, KindDatetime:
		_, ok := value.(time.Time)
		return ok
	case KindString, KindHyperlink:
		_, ok := value.(string)
		return ok
	case KindPanel:
		return false
	default:
		return false
	}
}
