package schema

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/montanaflynn/stats"
	"go.uber.org/zap"

	"github.com/ajitpratap0/trellis/pkg/errors"
)

// Layouts recorded in Variable.Format for temporal kinds
const (
	DateFormat     = "2006-01-02"
	DatetimeFormat = time.RFC3339Nano
)

// DefaultCurrency is used when a currency column carries no symbol
const DefaultCurrency = "USD"

// TypeInferenceEngine decides the kind of a table column and extracts the
// attributes needed to render and filter it.
type TypeInferenceEngine struct {
	logger *zap.Logger

	// Configuration
	maxFactorLevels int
	factorRatio     float64
	currencyHints   []string
}

// Option configures a TypeInferenceEngine
type Option func(*TypeInferenceEngine)

// WithFactorThresholds sets the largest level count and the largest
// distinct/non-missing ratio for which a text column reads as a factor.
func WithFactorThresholds(maxLevels int, ratio float64) Option {
	return func(e *TypeInferenceEngine) {
		if maxLevels > 0 {
			e.maxFactorLevels = maxLevels
		}
		if ratio >= 0 && ratio <= 1 {
			e.factorRatio = ratio
		}
	}
}

// WithCurrencyHints sets the column name fragments marking numeric columns as currency
func WithCurrencyHints(hints ...string) Option {
	return func(e *TypeInferenceEngine) {
		e.currencyHints = make([]string, 0, len(hints))
		for _, h := range hints {
			e.currencyHints = append(e.currencyHints, strings.ToLower(h))
		}
	}
}

// InferredType is the result of analysing one column
type InferredType struct {
	Kind        Kind
	Nullable    bool
	Cardinality int
	NonMissing  int
	Format      string
	Levels      []string
}

// Override pins properties of a variable instead of inferring them
type Override struct {
	Kind        Kind
	Label       string
	Description string
	Levels      []string
	Format      string
}

// NewTypeInferenceEngine creates a new type inference engine
func NewTypeInferenceEngine(logger *zap.Logger, opts ...Option) *TypeInferenceEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	engine := &TypeInferenceEngine{
		logger:          logger,
		maxFactorLevels: 1000,
		factorRatio:     0.8,
		currencyHints:   []string{"price", "cost", "revenue", "amount", "sales", "usd", "eur", "gbp"},
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// InferType infers the kind of a column from its values. It never fails:
// anything that is not recognisably typed is a string.
func (e *TypeInferenceEngine) InferType(name string, values []interface{}) *InferredType {
	nonMissing := make([]interface{}, 0, len(values))
	for _, v := range values {
		if !IsMissing(v) {
			nonMissing = append(nonMissing, v)
		}
	}

	inferred := &InferredType{
		Nullable:   len(nonMissing) < len(values),
		NonMissing: len(nonMissing),
	}

	if len(nonMissing) == 0 {
		inferred.Kind = KindString
		return inferred
	}

	distinct := distinctStrings(nonMissing)
	inferred.Cardinality = len(distinct)

	if kind, format, ok := e.detectNumeric(name, nonMissing); ok {
		inferred.Kind = kind
		inferred.Format = format
		return inferred
	}

	if kind, ok := detectTemporal(nonMissing); ok {
		inferred.Kind = kind
		if kind == KindDate {
			inferred.Format = DateFormat
		} else {
			inferred.Format = DatetimeFormat
		}
		return inferred
	}

	allURLs := true
	for _, v := range nonMissing {
		if !isURL(v) {
			allURLs = false
			break
		}
	}
	if allURLs {
		inferred.Kind = KindHyperlink
		return inferred
	}

	ratio := float64(len(distinct)) / float64(len(nonMissing))
	if len(distinct) == 1 || (len(distinct) <= e.maxFactorLevels && ratio <= e.factorRatio) {
		inferred.Kind = KindFactor
		inferred.Levels = sortLevels(distinct)
		return inferred
	}

	inferred.Kind = KindString
	return inferred
}

// detectNumeric reports numeric columns. Low-cardinality numerics stay
// numeric and integer-valued columns stay number; factor and integer kinds
// have to be pinned through an Override.
func (e *TypeInferenceEngine) detectNumeric(name string, values []interface{}) (Kind, string, bool) {
	code := ""
	for _, v := range values {
		if _, _, ok := toNumber(v); ok {
			continue
		}
		_, c, ok := parseCurrency(v)
		if !ok {
			return "", "", false
		}
		if code == "" {
			code = c
		}
	}

	if code != "" || e.hasCurrencyHint(name) {
		if code == "" {
			code = DefaultCurrency
		}
		return KindCurrency, code, true
	}
	return KindNumber, "", true
}

func (e *TypeInferenceEngine) hasCurrencyHint(name string) bool {
	lower := strings.ToLower(name)
	for _, h := range e.currencyHints {
		if h != "" && strings.Contains(lower, h) {
			return true
		}
	}
	return false
}

func detectTemporal(values []interface{}) (Kind, bool) {
	allDates := true
	for _, v := range values {
		_, dateOnly, ok := parseTime(v)
		if !ok {
			return "", false
		}
		allDates = allDates && dateOnly
	}
	if allDates {
		return KindDate, true
	}
	return KindDatetime, true
}

// InferVariable returns the descriptor of a column. hint may be nil.
func (e *TypeInferenceEngine) InferVariable(name string, values []interface{}, hint *Override) (Variable, error) {
	v, _, err := e.BuildColumn(name, values, hint)
	return v, err
}

// BuildColumn produces the descriptor of a column together with its values
// coerced to the in-memory representation of the chosen kind. With a
// pinned kind no inference runs, and a value the kind cannot hold is a
// TypeMismatch naming the variable and the 1-based row.
func (e *TypeInferenceEngine) BuildColumn(name string, values []interface{}, ov *Override) (Variable, []interface{}, error) {
	v := Variable{Name: name, Label: name}
	var inferred *InferredType

	if ov != nil && ov.Kind != "" {
		if !ov.Kind.Valid() {
			return Variable{}, nil, errors.Newf(errors.ErrorTypeConfig, "variable %q: unknown kind %q", name, ov.Kind).
				WithDetail("variable", name)
		}
		if ov.Kind == KindPanel {
			return Variable{}, nil, errors.Newf(errors.ErrorTypeConfig, "variable %q: only the panel column may have kind panel", name).
				WithDetail("variable", name)
		}
		v.Kind = ov.Kind
	} else {
		inferred = e.InferType(name, values)
		v.Kind = inferred.Kind
		v.Format = inferred.Format
	}

	if ov != nil {
		if ov.Label != "" {
			v.Label = ov.Label
		}
		v.Description = ov.Description
		if ov.Format != "" {
			v.Format = ov.Format
		}
	}

	var levelIndex map[string]int
	if v.Kind == KindFactor {
		switch {
		case ov != nil && len(ov.Levels) > 0:
			levelIndex = make(map[string]int, len(ov.Levels))
			for i, l := range ov.Levels {
				if _, dup := levelIndex[l]; dup {
					return Variable{}, nil, errors.Newf(errors.ErrorTypeConfig, "variable %q: duplicate level %q", name, l).
						WithDetail("variable", name)
				}
				levelIndex[l] = i
			}
			v.Levels = append([]string(nil), ov.Levels...)
		case inferred != nil:
			v.Levels = inferred.Levels
		default:
			nonMissing := make([]interface{}, 0, len(values))
			for _, x := range values {
				if !IsMissing(x) {
					nonMissing = append(nonMissing, x)
				}
			}
			if len(nonMissing) > 0 {
				v.Levels = sortLevels(distinctStrings(nonMissing))
			}
		}
		if levelIndex == nil {
			levelIndex = v.LevelIndex()
		}
	}

	coerced := make([]interface{}, len(values))
	for i, raw := range values {
		val, err := Coerce(v.Kind, raw, levelIndex)
		if err != nil {
			return Variable{}, nil, errors.Wrap(err, errors.TypeOf(err),
				"variable "+strconv.Quote(name)+" row "+strconv.Itoa(i+1)).
				WithDetail("variable", name).
				WithDetail("row", i+1)
		}
		coerced[i] = val
	}

	switch v.Kind {
	case KindNumber, KindInteger, KindCurrency:
		v.Min, v.Max = numericRange(coerced)
		if v.Kind == KindCurrency && v.Format == "" {
			v.Format = currencyCode(values)
		}
	case KindDate:
		v.Format = DateFormat
	case KindDatetime:
		v.Format = DatetimeFormat
	case KindFactor, KindString, KindHyperlink:
	case KindPanel:
	}

	e.logger.Debug("built variable",
		zap.String("variable", name),
		zap.String("kind", string(v.Kind)),
		zap.Bool("pinned", inferred == nil),
		zap.Int("levels", len(v.Levels)))

	return v, coerced, nil
}

func numericRange(values []interface{}) (*float64, *float64) {
	data := make(stats.Float64Data, 0, len(values))
	for _, v := range values {
		switch n := v.(type) {
		case float64:
			data = append(data, n)
		case int64:
			data = append(data, float64(n))
		}
	}
	lo, err := stats.Min(data)
	if err != nil {
		return nil, nil
	}
	hi, err := stats.Max(data)
	if err != nil {
		return nil, nil
	}
	return &lo, &hi
}

func currencyCode(values []interface{}) string {
	for _, v := range values {
		if _, code, ok := parseCurrency(v); ok && code != "" {
			return code
		}
	}
	return DefaultCurrency
}

// distinctStrings returns the distinct text forms of values in first-seen order
func distinctStrings(values []interface{}) []string {
	seen := make(map[string]bool)
	unique := make([]string, 0)

	for _, v := range values {
		key := ToString(v)
		if !seen[key] {
			seen[key] = true
			unique = append(unique, key)
		}
	}

	return unique
}

// sortLevels orders levels lexicographically, or numerically when every
// level is a number so that "10" sorts after "9".
func sortLevels(levels []string) []string {
	out := append([]string(nil), levels...)
	numeric := true
	nums := make(map[string]float64, len(out))
	for _, l := range out {
		f, _, ok := toNumber(l)
		if !ok {
			numeric = false
			break
		}
		nums[l] = f
	}
	if numeric {
		sort.SliceStable(out, func(i, j int) bool { return nums[out[i]] < nums[out[j]] })
	} else {
		sort.Strings(out)
	}
	return out
}
