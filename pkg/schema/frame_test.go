package schema

import (
	"testing"
	"time"

	"github.com/ajitpratap0/trellis/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrame(t *testing.T) *Frame {
	t.Helper()
	vars := []Variable{
		{Name: "category", Kind: KindFactor, Levels: []string{"A", "B", "C"}},
		{Name: "value", Kind: KindNumber},
		{Name: "day", Kind: KindDate},
	}
	day := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)
	f, err := NewFrame([]string{"1", "2", "3"}, vars, map[string][]interface{}{
		"category": {0, 1, nil},
		"value":    {10.0, nil, 2.5},
		"day":      {day, day, nil},
	})
	require.NoError(t, err)
	return f
}

func TestFrame_Accessors(t *testing.T) {
	f := testFrame(t)

	assert.Equal(t, 3, f.Len())
	assert.Equal(t, 1, f.Value(1, "category"))
	assert.Nil(t, f.Value(7, "category"))

	i, ok := f.RowIndex("3")
	require.True(t, ok)
	assert.Equal(t, 2, i)

	assert.Equal(t, "B", f.Label(1, "category"))
	assert.Equal(t, "", f.Label(2, "category"))
	assert.Equal(t, "10", f.Label(0, "value"))
	assert.Equal(t, "2024-02-29", f.Label(0, "day"))
	assert.Equal(t, "", f.Label(0, "unknown"))
}

func TestFrame_Select(t *testing.T) {
	f := testFrame(t)

	sub, err := f.Select([]int{2, 0})
	require.NoError(t, err)

	assert.Equal(t, []string{"3", "1"}, sub.Keys)
	assert.Equal(t, []interface{}{nil, 0}, sub.Column("category"))
	assert.Equal(t, []interface{}{2.5, 10.0}, sub.Column("value"))
}

func TestNewFrame_MissingColumnIsAllMissing(t *testing.T) {
	f, err := NewFrame([]string{"a", "b"}, []Variable{{Name: "note", Kind: KindString}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{nil, nil}, f.Column("note"))
}

func TestNewFrame_Rejects(t *testing.T) {
	num := []Variable{{Name: "value", Kind: KindNumber}}
	fac := []Variable{{Name: "g", Kind: KindFactor, Levels: []string{"A"}}}

	tests := []struct {
		name    string
		keys    []string
		vars    []Variable
		cols    map[string][]interface{}
		errType errors.ErrorType
		msg     string
	}{
		{"duplicate key", []string{"1", "1"}, num, map[string][]interface{}{"value": {1.0, 2.0}}, errors.ErrorTypeConfig, `"1"`},
		{"unsafe key", []string{"a/b"}, num, map[string][]interface{}{"value": {1.0}}, errors.ErrorTypeConfig, `"a/b"`},
		{"dot key", []string{".."}, num, map[string][]interface{}{"value": {1.0}}, errors.ErrorTypeConfig, `".."`},
		{"short column", []string{"1", "2"}, num, map[string][]interface{}{"value": {1.0}}, errors.ErrorTypeData, `"value"`},
		{"wrong go type", []string{"1"}, num, map[string][]interface{}{"value": {"ten"}}, errors.ErrorTypeTypeMismatch, `"value"`},
		{"level out of range", []string{"1"}, fac, map[string][]interface{}{"g": {1}}, errors.ErrorTypeData, `"g"`},
		{"panel column", []string{"1"}, []Variable{{Name: "p", Kind: KindPanel}}, nil, errors.ErrorTypeInternal, `"p"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFrame(tt.keys, tt.vars, tt.cols)
			require.Error(t, err)
			assert.Equal(t, tt.errType, errors.TypeOf(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestValidKey(t *testing.T) {
	for _, k := range []string{"1", "row-2", "a_b.c", "X9"} {
		assert.True(t, ValidKey(k), k)
	}
	for _, k := range []string{"", ".hidden", "a/b", `a\b`, "a b", "..", "-x"} {
		assert.False(t, ValidKey(k), k)
	}
}
