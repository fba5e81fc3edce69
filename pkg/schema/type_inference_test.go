package schema

import (
	"testing"
	"time"

	"github.com/ajitpratap0/trellis/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestTypeInferenceEngine_InferType(t *testing.T) {
	engine := NewTypeInferenceEngine(zaptest.NewLogger(t))

	tests := []struct {
		name     string
		column   string
		values   []interface{}
		kind     Kind
		levels   []string
		format   string
		nullable bool
	}{
		{
			name:   "low cardinality strings become a factor",
			column: "category",
			values: []interface{}{"A", "B", "A", "C", "B"},
			kind:   KindFactor,
			levels: []string{"A", "B", "C"},
		},
		{
			name:   "integers stay numeric",
			column: "value",
			values: []interface{}{10, 20, 15, 30, 20},
			kind:   KindNumber,
		},
		{
			name:   "numeric strings",
			column: "ratio",
			values: []interface{}{"1.5", "2.25", "-3"},
			kind:   KindNumber,
		},
		{
			name:   "currency symbol",
			column: "total",
			values: []interface{}{"$1,200.50", "$30", 12},
			kind:   KindCurrency,
			format: "USD",
		},
		{
			name:   "currency name hint",
			column: "unit_price",
			values: []interface{}{1.5, 2.0, 9.99},
			kind:   KindCurrency,
			format: "USD",
		},
		{
			name:   "dates",
			column: "day",
			values: []interface{}{"2024-01-02", "2024-03-04", "2024-01-02"},
			kind:   KindDate,
			format: DateFormat,
		},
		{
			name:   "timestamps",
			column: "seen",
			values: []interface{}{"2024-01-02T10:30:00Z", "2024-01-03 08:00:00"},
			kind:   KindDatetime,
			format: DatetimeFormat,
		},
		{
			name:   "time values at midnight are dates",
			column: "day",
			values: []interface{}{time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
			kind:   KindDate,
			format: DateFormat,
		},
		{
			name:   "urls",
			column: "link",
			values: []interface{}{"https://example.com/plot", "http://example.org/"},
			kind:   KindHyperlink,
		},
		{
			name:   "high cardinality strings",
			column: "comment",
			values: []interface{}{"alpha", "beta", "gamma"},
			kind:   KindString,
		},
		{
			name:     "all missing",
			column:   "empty",
			values:   []interface{}{nil, "", "NA"},
			kind:     KindString,
			nullable: true,
		},
		{
			name:   "single distinct value",
			column: "only",
			values: []interface{}{"x"},
			kind:   KindFactor,
			levels: []string{"x"},
		},
		{
			name:   "mixed numbers and text",
			column: "mixed",
			values: []interface{}{1, "two"},
			kind:   KindString,
		},
		{
			name:     "missing values are ignored",
			column:   "group",
			values:   []interface{}{"A", nil, "A", "B"},
			kind:     KindFactor,
			levels:   []string{"A", "B"},
			nullable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inferred := engine.InferType(tt.column, tt.values)
			assert.Equal(t, tt.kind, inferred.Kind)
			assert.Equal(t, tt.levels, inferred.Levels)
			assert.Equal(t, tt.format, inferred.Format)
			assert.Equal(t, tt.nullable, inferred.Nullable)
		})
	}
}

func TestTypeInferenceEngine_FactorThresholds(t *testing.T) {
	values := []interface{}{"a", "b", "c", "a", "b", "c", "a", "b", "c", "a"}

	assert.Equal(t, KindFactor, NewTypeInferenceEngine(nil).InferType("g", values).Kind)

	strict := NewTypeInferenceEngine(nil, WithFactorThresholds(2, 0.8))
	assert.Equal(t, KindString, strict.InferType("g", values).Kind)
}

func TestTypeInferenceEngine_CurrencyHints(t *testing.T) {
	engine := NewTypeInferenceEngine(nil, WithCurrencyHints("Budget"))

	assert.Equal(t, KindCurrency, engine.InferType("team_budget", []interface{}{1, 2}).Kind)
	assert.Equal(t, KindNumber, engine.InferType("price", []interface{}{1, 2}).Kind)
}

func TestTypeInferenceEngine_BuildColumnNumeric(t *testing.T) {
	engine := NewTypeInferenceEngine(zaptest.NewLogger(t))

	v, col, err := engine.BuildColumn("value", []interface{}{10, 20, nil, 30}, nil)
	require.NoError(t, err)

	assert.Equal(t, KindNumber, v.Kind)
	assert.Equal(t, "value", v.Label)
	require.NotNil(t, v.Min)
	require.NotNil(t, v.Max)
	assert.Equal(t, 10.0, *v.Min)
	assert.Equal(t, 30.0, *v.Max)
	assert.Equal(t, []interface{}{10.0, 20.0, nil, 30.0}, col)
}

func TestTypeInferenceEngine_BuildColumnFactor(t *testing.T) {
	engine := NewTypeInferenceEngine(zaptest.NewLogger(t))

	v, col, err := engine.BuildColumn("category", []interface{}{"A", "B", "A", "C", "B"}, nil)
	require.NoError(t, err)

	assert.Equal(t, KindFactor, v.Kind)
	assert.Equal(t, []string{"A", "B", "C"}, v.Levels)
	assert.Equal(t, []interface{}{0, 1, 0, 2, 1}, col)
}

func TestTypeInferenceEngine_BuildColumnAllMissing(t *testing.T) {
	engine := NewTypeInferenceEngine(nil)

	v, col, err := engine.BuildColumn("empty", []interface{}{nil, "NA"}, nil)
	require.NoError(t, err)

	assert.Equal(t, KindString, v.Kind)
	assert.Empty(t, v.Levels)
	assert.Nil(t, v.Min)
	assert.Equal(t, []interface{}{nil, nil}, col)
}

func TestTypeInferenceEngine_BuildColumnPinnedKind(t *testing.T) {
	engine := NewTypeInferenceEngine(zaptest.NewLogger(t))

	t.Run("integer", func(t *testing.T) {
		v, col, err := engine.BuildColumn("count", []interface{}{"1", 2, nil}, &Override{Kind: KindInteger})
		require.NoError(t, err)
		assert.Equal(t, KindInteger, v.Kind)
		assert.Equal(t, []interface{}{int64(1), int64(2), nil}, col)
	})

	t.Run("numeric factor keeps numeric level order", func(t *testing.T) {
		v, col, err := engine.BuildColumn("cyl", []interface{}{8, 4, 6, 10, 4}, &Override{Kind: KindFactor})
		require.NoError(t, err)
		assert.Equal(t, []string{"4", "6", "8", "10"}, v.Levels)
		assert.Equal(t, []interface{}{2, 0, 1, 3, 0}, col)
	})

	t.Run("pinned levels", func(t *testing.T) {
		ov := &Override{Kind: KindFactor, Levels: []string{"low", "mid", "high"}, Label: "Tier"}
		v, col, err := engine.BuildColumn("tier", []interface{}{"high", "low", nil}, ov)
		require.NoError(t, err)
		assert.Equal(t, []string{"low", "mid", "high"}, v.Levels)
		assert.Equal(t, "Tier", v.Label)
		assert.Equal(t, []interface{}{2, 0, nil}, col)
	})

	t.Run("date", func(t *testing.T) {
		_, col, err := engine.BuildColumn("day", []interface{}{"2024-01-02"}, &Override{Kind: KindDate})
		require.NoError(t, err)
		got, ok := col[0].(time.Time)
		require.True(t, ok)
		assert.True(t, got.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))
	})

	t.Run("string keeps numbers as text", func(t *testing.T) {
		v, col, err := engine.BuildColumn("zip", []interface{}{"02134", 90210}, &Override{Kind: KindString})
		require.NoError(t, err)
		assert.Equal(t, KindString, v.Kind)
		assert.Equal(t, []interface{}{"02134", "90210"}, col)
	})
}

func TestTypeInferenceEngine_BuildColumnMismatch(t *testing.T) {
	engine := NewTypeInferenceEngine(zaptest.NewLogger(t))

	tests := []struct {
		name   string
		values []interface{}
		ov     *Override
	}{
		{"number on text", []interface{}{"1", "abc"}, &Override{Kind: KindNumber}},
		{"integer on fraction", []interface{}{"1", "2.5"}, &Override{Kind: KindInteger}},
		{"date on text", []interface{}{"2024-01-01", "soon"}, &Override{Kind: KindDate}},
		{"value outside levels", []interface{}{"low", "extreme"}, &Override{Kind: KindFactor, Levels: []string{"low", "high"}}},
		{"hyperlink on text", []interface{}{"https://example.com", "not a link"}, &Override{Kind: KindHyperlink}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := engine.BuildColumn("score", tt.values, tt.ov)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeTypeMismatch))
			assert.Contains(t, err.Error(), `"score"`)
			assert.Contains(t, err.Error(), "row 2")
		})
	}
}

func TestTypeInferenceEngine_BuildColumnBadOverride(t *testing.T) {
	engine := NewTypeInferenceEngine(nil)

	_, _, err := engine.BuildColumn("x", []interface{}{1}, &Override{Kind: "matrix"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, _, err = engine.BuildColumn("x", []interface{}{1}, &Override{Kind: KindPanel})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, _, err = engine.BuildColumn("x", []interface{}{"a"}, &Override{Kind: KindFactor, Levels: []string{"a", "a"}})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Contains(t, err.Error(), `"a"`)
}

func TestTypeInferenceEngine_InferVariable(t *testing.T) {
	engine := NewTypeInferenceEngine(nil)

	v, err := engine.InferVariable("category", []interface{}{"B", "A", "B"}, nil)
	require.NoError(t, err)
	assert.Equal(t, KindFactor, v.Kind)
	assert.Equal(t, []string{"A", "B"}, v.Levels)

	v, err = engine.InferVariable("category", []interface{}{"B", "A", "B"}, &Override{Description: "group"})
	require.NoError(t, err)
	assert.Equal(t, KindFactor, v.Kind)
	assert.Equal(t, "group", v.Description)
}
