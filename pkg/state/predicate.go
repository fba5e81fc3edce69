package state

import (
	"strings"
	"time"

	"github.com/ajitpratap0/trellis/pkg/errors"
	jsonpool "github.com/ajitpratap0/trellis/pkg/json"
	"github.com/ajitpratap0/trellis/pkg/schema"
)

// PredicateType tags the predicate variants on disk
type PredicateType string

const (
	PredicateLevels    PredicateType = "levels"
	PredicateRange     PredicateType = "range"
	PredicateDateRange PredicateType = "date_range"
	PredicateText      PredicateType = "text"
)

// Predicate is a filter condition on one variable. The set is closed:
// LevelsFilter, RangeFilter, DateRangeFilter and TextFilter. Missing values
// never match.
type Predicate interface {
	Type() PredicateType
	// Accepts reports whether the predicate applies to variables of kind k
	Accepts(k schema.Kind) bool

	validate() error
	compile(v schema.Variable) func(value interface{}) bool
	clone() Predicate
}

// LevelsFilter keeps rows whose factor level is one of Levels. Levels the
// variable does not have never match.
type LevelsFilter struct {
	Levels []string
}

func (LevelsFilter) Type() PredicateType { return PredicateLevels }

func (LevelsFilter) Accepts(k schema.Kind) bool { return k == schema.KindFactor }

func (p LevelsFilter) validate() error { return nil }

func (p LevelsFilter) compile(v schema.Variable) func(interface{}) bool {
	want := make(map[string]bool, len(p.Levels))
	for _, l := range p.Levels {
		want[l] = true
	}
	keep := make([]bool, len(v.Levels))
	for i, l := range v.Levels {
		keep[i] = want[l]
	}
	return func(value interface{}) bool {
		idx, ok := value.(int)
		return ok && idx >= 0 && idx < len(keep) && keep[idx]
	}
}

func (p LevelsFilter) clone() Predicate {
	return LevelsFilter{Levels: append([]string(nil), p.Levels...)}
}

// RangeFilter keeps numeric values in [Min, Max]; a nil bound is open
type RangeFilter struct {
	Min *float64
	Max *float64
}

func (RangeFilter) Type() PredicateType { return PredicateRange }

func (RangeFilter) Accepts(k schema.Kind) bool { return k.IsNumeric() }

func (p RangeFilter) validate() error {
	if p.Min != nil && p.Max != nil && *p.Min > *p.Max {
		return errors.Newf(errors.ErrorTypeValidation, "range minimum %v is above maximum %v", *p.Min, *p.Max)
	}
	return nil
}

func (p RangeFilter) compile(schema.Variable) func(interface{}) bool {
	return func(value interface{}) bool {
		var f float64
		switch n := value.(type) {
		case float64:
			f = n
		case int64:
			f = float64(n)
		default:
			return false
		}
		if p.Min != nil && f < *p.Min {
			return false
		}
		if p.Max != nil && f > *p.Max {
			return false
		}
		return true
	}
}

func (p RangeFilter) clone() Predicate {
	return RangeFilter{Min: copyFloat(p.Min), Max: copyFloat(p.Max)}
}

// DateRangeFilter keeps dates and datetimes in [From, To]; a nil bound is open
type DateRangeFilter struct {
	From *time.Time
	To   *time.Time
}

func (DateRangeFilter) Type() PredicateType { return PredicateDateRange }

func (DateRangeFilter) Accepts(k schema.Kind) bool { return k.IsTemporal() }

func (p DateRangeFilter) validate() error {
	if p.From != nil && p.To != nil && p.From.After(*p.To) {
		return errors.Newf(errors.ErrorTypeValidation, "date range starts %s after it ends %s",
			p.From.Format(time.RFC3339), p.To.Format(time.RFC3339))
	}
	return nil
}

func (p DateRangeFilter) compile(schema.Variable) func(interface{}) bool {
	return func(value interface{}) bool {
		t, ok := value.(time.Time)
		if !ok {
			return false
		}
		if p.From != nil && t.Before(*p.From) {
			return false
		}
		if p.To != nil && t.After(*p.To) {
			return false
		}
		return true
	}
}

func (p DateRangeFilter) clone() Predicate {
	return DateRangeFilter{From: copyTime(p.From), To: copyTime(p.To)}
}

// TextFilter keeps text values containing Pattern, ignoring case
type TextFilter struct {
	Pattern string
}

func (TextFilter) Type() PredicateType { return PredicateText }

func (TextFilter) Accepts(k schema.Kind) bool { return k.IsText() }

func (p TextFilter) validate() error { return nil }

func (p TextFilter) compile(schema.Variable) func(interface{}) bool {
	needle := strings.ToLower(p.Pattern)
	return func(value interface{}) bool {
		s, ok := value.(string)
		return ok && strings.Contains(strings.ToLower(s), needle)
	}
}

func (p TextFilter) clone() Predicate { return p }

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

// Filter binds a predicate to a variable
type Filter struct {
	Var       string
	Predicate Predicate
}

type filterJSON struct {
	Var     string        `json:"var"`
	Type    PredicateType `json:"type"`
	Levels  []string      `json:"levels,omitempty"`
	Min     *float64      `json:"min,omitempty"`
	Max     *float64      `json:"max,omitempty"`
	From    string        `json:"from,omitempty"`
	To      string        `json:"to,omitempty"`
	Pattern string        `json:"pattern,omitempty"`
}

// MarshalJSON writes the filter as a tagged object
func (f Filter) MarshalJSON() ([]byte, error) {
	out := filterJSON{Var: f.Var}
	switch p := f.Predicate.(type) {
	case LevelsFilter:
		out.Type = PredicateLevels
		out.Levels = p.Levels
		if out.Levels == nil {
			out.Levels = []string{}
		}
	case RangeFilter:
		out.Type = PredicateRange
		out.Min, out.Max = p.Min, p.Max
	case DateRangeFilter:
		out.Type = PredicateDateRange
		if p.From != nil {
			out.From = p.From.UTC().Format(time.RFC3339Nano)
		}
		if p.To != nil {
			out.To = p.To.UTC().Format(time.RFC3339Nano)
		}
	case TextFilter:
		out.Type = PredicateText
		out.Pattern = p.Pattern
	default:
		return nil, errors.Newf(errors.ErrorTypeInternal, "filter on %q has unhandled predicate %T", f.Var, f.Predicate)
	}
	return jsonpool.Marshal(out)
}

// UnmarshalJSON reads a filter written by MarshalJSON
func (f *Filter) UnmarshalJSON(data []byte) error {
	var in filterJSON
	if err := jsonpool.Unmarshal(data, &in); err != nil {
		return err
	}
	f.Var = in.Var
	switch in.Type {
	case PredicateLevels:
		f.Predicate = LevelsFilter{Levels: in.Levels}
	case PredicateRange:
		f.Predicate = RangeFilter{Min: in.Min, Max: in.Max}
	case PredicateDateRange:
		from, err := parseBound(in.Var, in.From)
		if err != nil {
			return err
		}
		to, err := parseBound(in.Var, in.To)
		if err != nil {
			return err
		}
		f.Predicate = DateRangeFilter{From: from, To: to}
	case PredicateText:
		f.Predicate = TextFilter{Pattern: in.Pattern}
	default:
		return errors.Newf(errors.ErrorTypeValidation, "filter on %q has unknown type %q", in.Var, in.Type).
			WithDetail("variable", in.Var)
	}
	return nil
}

func parseBound(name, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "filter on "+name+" has a malformed date bound").
			WithDetail("variable", name)
	}
	t = t.UTC()
	return &t, nil
}
