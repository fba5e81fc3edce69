package table

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/trellis/pkg/errors"
)

func writeParquet(t *testing.T, path string) {
	t.Helper()

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "make", Type: arrow.BinaryTypes.String},
		{Name: "year", Type: arrow.PrimitiveTypes.Int64},
		{Name: "mpg", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "released", Type: arrow.FixedWidthTypes.Date32},
		{Name: "plot", Type: arrow.BinaryTypes.Binary},
	}, nil)

	b := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
	defer b.Release()

	b.Field(0).(*array.StringBuilder).AppendValues([]string{"audi", "bmw"}, nil)
	b.Field(1).(*array.Int64Builder).AppendValues([]int64{2019, 2021}, nil)
	mpg := b.Field(2).(*array.Float64Builder)
	mpg.Append(31.5)
	mpg.AppendNull()
	released := b.Field(3).(*array.Date32Builder)
	released.Append(arrow.Date32FromTime(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	released.Append(arrow.Date32FromTime(time.Date(2024, 7, 9, 0, 0, 0, 0, time.UTC)))
	plots := b.Field(4).(*array.BinaryBuilder)
	plots.Append([]byte("<p>audi</p>"))
	plots.Append([]byte("<p>bmw</p>"))

	rec := b.NewRecord()
	defer rec.Release()

	var buf bytes.Buffer
	w, err := pqarrow.NewFileWriter(schema, &buf, parquet.NewWriterProperties(), pqarrow.DefaultWriterProps())
	require.NoError(t, err)
	require.NoError(t, w.Write(rec))
	require.NoError(t, w.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
}

func TestReadParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cars.parquet")
	writeParquet(t, path)

	tbl, err := Load(path, ReadOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"make", "year", "mpg", "released", "plot"}, tbl.Names())
	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, []interface{}{"audi", "bmw"}, tbl.Column("make"))
	assert.Equal(t, []interface{}{int64(2019), int64(2021)}, tbl.Column("year"))
	assert.Equal(t, []interface{}{31.5, nil}, tbl.Column("mpg"))
	assert.Equal(t, time.Date(2024, 7, 9, 0, 0, 0, 0, time.UTC), tbl.Column("released")[1])
	assert.Equal(t, []byte("<p>audi</p>"), tbl.Column("plot")[0])
}

func TestReadParquet_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadParquet(filepath.Join(dir, "missing.parquet"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeFile))

	garbage := filepath.Join(dir, "garbage.parquet")
	require.NoError(t, os.WriteFile(garbage, []byte("not parquet"), 0o600))
	_, err = ReadParquet(garbage)
	assert.Error(t, err)

	_, err = Load(filepath.Join(dir, "cars.parquet.gz"), ReadOptions{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestLoad_Gzip(t *testing.T) {
	dir := t.TempDir()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte("a\tb\n1\t2\n3\t4\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	path := filepath.Join(dir, "data.tsv.gz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	format, err := DetectFormat(path)
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, format)

	tbl, err := Load(path, ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"2", "4"}, tbl.Column("b"))

	plain := filepath.Join(dir, "plain.csv.gz")
	require.NoError(t, os.WriteFile(plain, []byte("a,b\n1,2\n"), 0o600))
	_, err = Load(plain, ReadOptions{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}
