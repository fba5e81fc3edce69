package display

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/trellis/pkg/errors"
	jsonpool "github.com/ajitpratap0/trellis/pkg/json"
	"github.com/ajitpratap0/trellis/pkg/panel"
	"github.com/ajitpratap0/trellis/pkg/schema"
	"github.com/ajitpratap0/trellis/pkg/state"
	"github.com/ajitpratap0/trellis/pkg/table"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")

func testTable(t *testing.T) *table.Table {
	t.Helper()
	tbl, err := table.FromColumns(
		[]string{"category", "value", "day", "plot"},
		map[string][]interface{}{
			"category": {"B", "A", "C", "A"},
			"value":    {10, 20, nil, 40},
			"day":      {"2024-01-01", "2024-01-02", "2024-01-03", ""},
			"plot":     {pngBytes, pngBytes, pngBytes, pngBytes},
		})
	require.NoError(t, err)
	return tbl
}

func buildDisplay(t *testing.T) *Display {
	t.Helper()
	b := NewBuilder(nil, zaptest.NewLogger(t))
	d, err := b.Build(testTable(t), Options{Name: "cars", Description: "test display", PanelColumn: "plot"})
	require.NoError(t, err)
	return d
}

func render(t *testing.T, d *Display) *panel.AssetReport {
	t.Helper()
	report, err := panel.RenderAll(context.Background(), panel.Dispatch{}, d.Keys(), d.PanelValues, t.TempDir(), panel.Options{Workers: 2})
	require.NoError(t, err)
	return report
}

func TestBuild(t *testing.T) {
	d := buildDisplay(t)

	assert.Equal(t, []string{"1", "2", "3", "4"}, d.Keys())
	require.Len(t, d.Vars, 4)

	category, ok := d.Variable("category")
	require.True(t, ok)
	assert.Equal(t, schema.KindFactor, category.Kind)
	assert.Equal(t, []string{"A", "B", "C"}, category.Levels)

	value, _ := d.Variable("value")
	assert.Equal(t, schema.KindNumber, value.Kind)

	day, _ := d.Variable("day")
	assert.Equal(t, schema.KindDate, day.Kind)

	pv, ok := d.Panel()
	require.True(t, ok)
	assert.Equal(t, "plot", pv.Name)
	assert.Len(t, d.PanelValues, 4)

	assert.Equal(t, []string{"category", "value"}, d.State.Labels)
	assert.Equal(t, state.DefaultLayout(), d.State.Layout)
}

func TestBuild_Errors(t *testing.T) {
	b := NewBuilder(nil, zaptest.NewLogger(t))
	tbl := testTable(t)

	_, err := b.Build(tbl, Options{Name: "cars", PanelColumn: "image"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Contains(t, err.Error(), "missing panel column")

	_, err = b.Build(tbl, Options{Name: "cars", PanelColumn: "plot",
		Overrides: map[string]schema.Override{"nope": {Kind: schema.KindString}}})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = b.Build(tbl, Options{Name: "../etc", PanelColumn: "plot"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = b.Build(tbl, Options{Name: "cars", PanelColumn: "plot",
		Overrides: map[string]schema.Override{"category": {Kind: schema.KindNumber}}})
	assert.True(t, errors.IsType(err, errors.ErrorTypeTypeMismatch))

	bad := state.New()
	bad.Sorts = []state.Sort{{Var: "missing", Dir: state.Asc}}
	_, err = b.Build(tbl, Options{Name: "cars", PanelColumn: "plot", State: &bad})
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnknownVariable))
}

func TestBuild_KeyColumn(t *testing.T) {
	tbl, err := table.FromColumns([]string{"id", "plot"}, map[string][]interface{}{
		"id":   {"a-1", "b-2"},
		"plot": {pngBytes, pngBytes},
	})
	require.NoError(t, err)

	d, err := NewBuilder(nil, nil).Build(tbl, Options{Name: "ids", PanelColumn: "plot", KeyColumn: "id"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a-1", "b-2"}, d.Keys())

	dup, err := table.FromColumns([]string{"id", "plot"}, map[string][]interface{}{
		"id":   {"a", "a"},
		"plot": {pngBytes, pngBytes},
	})
	require.NoError(t, err)
	_, err = NewBuilder(nil, nil).Build(dup, Options{Name: "ids", PanelColumn: "plot", KeyColumn: "id"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestFactorCodec(t *testing.T) {
	assert.Equal(t, 1, EncodeFactor(0))

	idx, err := DecodeFactor(1, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	idx, err = DecodeFactor(3, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, idx)

	for _, v := range []int{0, 4, -1} {
		_, err := DecodeFactor(v, 3)
		assert.True(t, errors.IsType(err, errors.ErrorTypeData), v)
	}
}

func TestEncodeRows(t *testing.T) {
	d := buildDisplay(t)

	rows, err := EncodeRows(d)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	data, err := jsonpool.Marshal(rows[1])
	require.NoError(t, err)
	assert.JSONEq(t, `{"__key":"2","category":1,"value":20,"day":"2024-01-02"}`, string(data))
	assert.True(t, strings.HasPrefix(string(data), `{"__key":"2","category":1`))

	data, err = jsonpool.Marshal(rows[3])
	require.NoError(t, err)
	assert.JSONEq(t, `{"__key":"4","category":1,"value":40,"day":null}`, string(data))
}

func TestEncodeValue_TypeMismatch(t *testing.T) {
	v := schema.Variable{Name: "value", Kind: schema.KindNumber}
	_, err := encodeValue(v, "k", "ten")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTypeMismatch))
	assert.Contains(t, err.Error(), `"value"`)
	assert.Contains(t, err.Error(), `"k"`)

	day := schema.Variable{Name: "day", Kind: schema.KindDate}
	out, err := encodeValue(day, "k", "2024-03-04")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-04", out)

	_, err = encodeValue(day, "k", "not a date")
	assert.True(t, errors.IsType(err, errors.ErrorTypeTypeMismatch))
}

func TestSerialize_RoundTrip(t *testing.T) {
	root := t.TempDir()
	d := buildDisplay(t)
	d.State.Sorts = []state.Sort{{Var: "value", Dir: state.Desc}}
	d.State.Filters = []state.Filter{{Var: "category", Predicate: state.LevelsFilter{Levels: []string{"A"}}}}
	d.State.Layout = state.Layout{NCol: 2, NRow: 1, Page: 1, Arrangement: state.ColMajor}

	w := NewWriter(root, zaptest.NewLogger(t))
	written, err := w.Serialize(d, render(t, d))
	require.NoError(t, err)

	pv, _ := written.Panel()
	assert.Equal(t, schema.LocalFileSource{Dir: PanelDir, Ext: "png"}, pv.Source)
	orig, _ := d.Panel()
	assert.Nil(t, orig.Source, "serialize must not modify its input")

	loaded, err := Load(root, "cars")
	require.NoError(t, err)

	assert.Equal(t, written.Vars, loaded.Vars)
	assert.Equal(t, written.State, loaded.State)
	assert.Equal(t, d.Keys(), loaded.Keys())
	for row := range d.Keys() {
		for _, v := range d.Frame.Vars {
			assert.Equal(t, d.Frame.Label(row, v.Name), loaded.Frame.Label(row, v.Name), v.Name)
			assert.Equal(t, d.Frame.Value(row, v.Name) == nil, loaded.Frame.Value(row, v.Name) == nil, v.Name)
		}
	}

	for _, k := range d.Keys() {
		assert.FileExists(t, filepath.Join(Dir(root, "cars"), PanelDir, k+".png"))
	}

	x, err := ReadIndex(root)
	require.NoError(t, err)
	require.Len(t, x.Displays, 1)
	assert.Equal(t, "cars", x.Displays[0].Name)
	assert.Equal(t, "displays/cars", x.Displays[0].Path)
	assert.Equal(t, 4, x.Displays[0].N)
}

func serializeColumns(t *testing.T, root string, order []string, cols map[string][]interface{}) *Display {
	t.Helper()
	tbl, err := table.FromColumns(order, cols)
	require.NoError(t, err)
	d, err := NewBuilder(nil, zaptest.NewLogger(t)).Build(tbl, Options{Name: "readings", PanelColumn: "plot"})
	require.NoError(t, err)
	_, err = NewWriter(root, zaptest.NewLogger(t)).Serialize(d, render(t, d))
	require.NoError(t, err)
	loaded, err := Load(root, "readings")
	require.NoError(t, err)
	return loaded
}

func TestSerialize_DatetimeKeepsFractionalSeconds(t *testing.T) {
	root := t.TempDir()
	at := time.Date(2024, 1, 2, 10, 0, 0, 500_000_000, time.UTC)
	loaded := serializeColumns(t, root, []string{"at", "plot"}, map[string][]interface{}{
		"at":   {at, at.Add(1500 * time.Millisecond)},
		"plot": {pngBytes, pngBytes},
	})

	v, ok := loaded.Variable("at")
	require.True(t, ok)
	assert.Equal(t, schema.KindDatetime, v.Kind)
	assert.Equal(t, time.RFC3339Nano, v.Format)
	assert.True(t, at.Equal(loaded.Frame.Value(0, "at").(time.Time)))
	assert.True(t, at.Add(1500*time.Millisecond).Equal(loaded.Frame.Value(1, "at").(time.Time)))

	data, err := os.ReadFile(filepath.Join(Dir(root, "readings"), MetaDataFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"2024-01-02T10:00:00.5Z"`)
	assert.Contains(t, string(data), `"2024-01-02T10:00:02Z"`)
}

func TestSerialize_NonFiniteNumbersAreMissing(t *testing.T) {
	root := t.TempDir()
	loaded := serializeColumns(t, root, []string{"score", "plot"}, map[string][]interface{}{
		"score": {1.0, math.Inf(1), math.Inf(-1), 2.5},
		"plot":  {pngBytes, pngBytes, pngBytes, pngBytes},
	})

	v, ok := loaded.Variable("score")
	require.True(t, ok)
	assert.Equal(t, schema.KindNumber, v.Kind)
	require.NotNil(t, v.Min)
	require.NotNil(t, v.Max)
	assert.Equal(t, 1.0, *v.Min)
	assert.Equal(t, 2.5, *v.Max)
	assert.Nil(t, loaded.Frame.Value(1, "score"))
	assert.Nil(t, loaded.Frame.Value(2, "score"))
	assert.Equal(t, 2.5, loaded.Frame.Value(3, "score"))
}

func TestSerialize_FactorOnDisk(t *testing.T) {
	root := t.TempDir()
	d := buildDisplay(t)
	_, err := NewWriter(root, nil).Serialize(d, render(t, d))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(Dir(root, "cars"), MetaDataFile))
	require.NoError(t, err)
	var rows []map[string]interface{}
	require.NoError(t, jsonpool.UnmarshalNumbers(data, &rows))

	// "A" is the first level and is written as 1
	assert.Equal(t, jsonpool.Number("1"), rows[1]["category"])
	assert.Equal(t, jsonpool.Number("2"), rows[0]["category"])
	assert.Equal(t, jsonpool.Number("3"), rows[2]["category"])

	script, err := os.ReadFile(filepath.Join(Dir(root, "cars"), MetaScript))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(script), `window["__trellis__metaData_cars"] = [`))
}

func TestWriteRows_ScriptMatchesData(t *testing.T) {
	dir := t.TempDir()
	d := buildDisplay(t)
	require.NoError(t, writeRows(dir, d))

	data, err := os.ReadFile(filepath.Join(dir, MetaDataFile))
	require.NoError(t, err)
	script, err := os.ReadFile(filepath.Join(dir, MetaScript))
	require.NoError(t, err)

	prefix := `window["__trellis__metaData_cars"] = `
	require.True(t, strings.HasPrefix(string(script), prefix))
	require.True(t, strings.HasSuffix(string(script), ";\n"))
	body := strings.TrimSuffix(strings.TrimPrefix(string(script), prefix), ";\n")
	assert.Equal(t, string(data), body)

	var rows []map[string]interface{}
	require.NoError(t, jsonpool.UnmarshalNumbers(data, &rows))
	require.Len(t, rows, d.N())
	for i, key := range d.Keys() {
		assert.Equal(t, key, rows[i][schema.RowKeyField])
	}
}

func TestWrite_FailureLeavesRootEmpty(t *testing.T) {
	root := t.TempDir()
	d := buildDisplay(t)
	report := render(t, d)
	prepared, err := Prepare(d, report)
	require.NoError(t, err)

	// assets vanish between Prepare and Write
	require.NoError(t, os.RemoveAll(report.Dir))

	_, err = NewWriter(root, zaptest.NewLogger(t)).Write(prepared, report)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeMissingAsset))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSerialize_MissingAsset(t *testing.T) {
	root := t.TempDir()
	d := buildDisplay(t)

	values := append([]interface{}(nil), d.PanelValues...)
	values[2] = func() ([]byte, error) { return nil, errors.New(errors.ErrorTypeInternal, "plot failed") }
	report, err := panel.RenderAll(context.Background(), panel.Dispatch{}, d.Keys(), values, t.TempDir(), panel.Options{})
	require.NoError(t, err)

	_, err = NewWriter(root, nil).Serialize(d, report)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeMissingAsset))
	key, ok := err.(*errors.Error).Detail("key")
	require.True(t, ok)
	assert.Equal(t, "3", key)

	_, statErr := os.Stat(Dir(root, "cars"))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Join(root, IndexFile))
	assert.True(t, os.IsNotExist(statErr))
}

func TestSerialize_ExcludeFailedRows(t *testing.T) {
	root := t.TempDir()
	d := buildDisplay(t)

	values := append([]interface{}(nil), d.PanelValues...)
	values[0] = nil
	report, err := panel.RenderAll(context.Background(), panel.Dispatch{}, d.Keys(), values, t.TempDir(), panel.Options{})
	require.NoError(t, err)

	failed, err := report.Apply(panel.PolicyExclude)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, failed)

	kept, err := d.Exclude(failed)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3", "4"}, kept.Keys())
	assert.Len(t, kept.PanelValues, 3)

	written, err := NewWriter(root, nil).Serialize(kept, report)
	require.NoError(t, err)
	assert.Equal(t, 3, written.N())
	assert.Equal(t, 4, d.N())
}

func TestSerialize_MixedFormats(t *testing.T) {
	root := t.TempDir()
	d := buildDisplay(t)

	values := append([]interface{}(nil), d.PanelValues...)
	values[1] = "<div>chart</div>"
	report, err := panel.RenderAll(context.Background(), panel.Dispatch{}, d.Keys(), values, t.TempDir(), panel.Options{})
	require.NoError(t, err)

	_, err = NewWriter(root, nil).Serialize(d, report)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Contains(t, err.Error(), "mixed formats")
}

func TestSerialize_RemoteSource(t *testing.T) {
	root := t.TempDir()
	b := NewBuilder(nil, nil)
	d, err := b.Build(testTable(t), Options{
		Name:        "remote",
		PanelColumn: "plot",
		PanelSource: schema.RemoteURLSource{BaseURL: "https://example.org/panels", Ext: "svg"},
	})
	require.NoError(t, err)

	written, err := NewWriter(root, nil).Serialize(d, nil)
	require.NoError(t, err)
	pv, _ := written.Panel()
	assert.Equal(t, "https://example.org/panels/2.svg", pv.Source.Locate("2"))
	assert.NoDirExists(t, filepath.Join(Dir(root, "remote"), PanelDir))
}

func TestSerialize_OverwriteKeepsViews(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, zaptest.NewLogger(t))
	d := buildDisplay(t)
	_, err := w.Serialize(d, render(t, d))
	require.NoError(t, err)

	info, err := ReadInfo(root, "cars")
	require.NoError(t, err)
	saved := state.New()
	saved.Sorts = []state.Sort{{Var: "value", Dir: state.Asc}}
	stale := state.New()
	stale.Sorts = []state.Sort{{Var: "gone", Dir: state.Asc}}
	info.Views = []state.NamedView{
		{Name: "by value", State: saved, Saved: time.Now().UTC()},
		{Name: "stale", State: stale, Saved: time.Now().UTC()},
	}
	require.NoError(t, WriteInfo(root, info))

	d2 := buildDisplay(t)
	written, err := w.Serialize(d2, render(t, d2))
	require.NoError(t, err)
	require.Len(t, written.Views, 1)
	assert.Equal(t, "by value", written.Views[0].Name)

	loaded, err := Load(root, "cars")
	require.NoError(t, err)
	require.Len(t, loaded.Views, 1)
	assert.Equal(t, saved, loaded.Views[0].State)

	entries, err := os.ReadDir(filepath.Join(root, DisplaysDir))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".staging-"), e.Name())
	}
}

func TestLoad_Errors(t *testing.T) {
	root := t.TempDir()
	_, err := Load(root, "nothing")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	d := buildDisplay(t)
	_, err = NewWriter(root, nil).Serialize(d, render(t, d))
	require.NoError(t, err)

	path := filepath.Join(Dir(root, "cars"), MetaDataFile)
	require.NoError(t, os.WriteFile(path, []byte(`[{"__key":"1","category":0}]`), 0o644))
	_, err = Load(root, "cars")
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}

func TestRemove(t *testing.T) {
	root := t.TempDir()
	d := buildDisplay(t)
	_, err := NewWriter(root, nil).Serialize(d, render(t, d))
	require.NoError(t, err)

	require.NoError(t, Remove(root, "cars"))
	assert.NoDirExists(t, Dir(root, "cars"))
	x, err := ReadIndex(root)
	require.NoError(t, err)
	assert.Empty(t, x.Displays)

	assert.True(t, errors.IsType(Remove(root, "cars"), errors.ErrorTypeNotFound))
}

func TestInfoSchema(t *testing.T) {
	root := t.TempDir()
	d := buildDisplay(t)
	_, err := NewWriter(root, nil).Serialize(d, render(t, d))
	require.NoError(t, err)

	info, err := ReadInfo(root, "cars")
	require.NoError(t, err)
	assert.Equal(t, schema.RowKeyField, info.KeyField)
	assert.Equal(t, MetaDataFile, info.MetaData)
	assert.Equal(t, 4, info.N)

	f, err := info.Schema()
	require.NoError(t, err)
	assert.Equal(t, 0, f.Len())
	_, ok := f.Var("plot")
	assert.False(t, ok)
	_, ok = f.Var("category")
	assert.True(t, ok)
}
