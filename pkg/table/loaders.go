package table

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/xuri/excelize/v2"

	"github.com/ajitpratap0/trellis/pkg/errors"
	jsonpool "github.com/ajitpratap0/trellis/pkg/json"
)

// Input formats
const (
	FormatCSV     = "csv"
	FormatXLSX    = "xlsx"
	FormatJSON    = "json"
	FormatParquet = "parquet"
)

// ReadOptions selects the input format and, for workbooks, the sheet
type ReadOptions struct {
	// Format is csv, xlsx, json or parquet; empty means detect from the extension
	Format string
	// Sheet defaults to the first sheet of the workbook
	Sheet string
}

// DetectFormat maps a file extension to an input format. A trailing .gz
// is looked through.
func DetectFormat(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(strings.TrimSuffix(path, ".gz"))) {
	case ".csv", ".tsv":
		return FormatCSV, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	case ".json":
		return FormatJSON, nil
	case ".parquet":
		return FormatParquet, nil
	default:
		return "", errors.Newf(errors.ErrorTypeConfig, "cannot tell the format of %q from its extension", path).
			WithDetail("path", path)
	}
}

// Load reads a table from a file
func Load(path string, opts ReadOptions) (*Table, error) {
	format := opts.Format
	if format == "" {
		var err error
		if format, err = DetectFormat(path); err != nil {
			return nil, err
		}
	}

	compressed := strings.HasSuffix(path, ".gz")
	switch {
	case format == FormatXLSX && !compressed:
		return ReadXLSX(path, opts.Sheet)
	case format == FormatParquet && !compressed:
		return ReadParquet(path)
	case format == FormatXLSX, format == FormatParquet:
		return nil, errors.Newf(errors.ErrorTypeConfig, "%s input cannot be gzip compressed", format).
			WithDetail("path", path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open input table").
			WithDetail("path", path)
	}
	defer file.Close()

	var r io.Reader = file
	if compressed {
		zr, err := gzip.NewReader(file)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to open gzip stream").
				WithDetail("path", path)
		}
		defer zr.Close()
		r = zr
	}

	switch format {
	case FormatCSV:
		if strings.EqualFold(filepath.Ext(strings.TrimSuffix(path, ".gz")), ".tsv") {
			return readDelimited(r, '\t')
		}
		return ReadCSV(r)
	case FormatJSON:
		return ReadJSON(r)
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported input format %q", format).
			WithDetail("format", format)
	}
}

// ReadCSV reads a header row followed by data rows. Cells stay strings;
// typing is left to inference.
func ReadCSV(r io.Reader) (*Table, error) {
	return readDelimited(r, ',')
}

func readDelimited(r io.Reader, comma rune) (*Table, error) {
	reader := csv.NewReader(r)
	reader.Comma = comma
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read delimited input")
	}
	return fromStringRows(rows)
}

// ReadXLSX reads a worksheet whose first row holds the column names
func ReadXLSX(path, sheet string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open workbook").
			WithDetail("path", path)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read sheet "+sheet).
			WithDetail("path", path).
			WithDetail("sheet", sheet)
	}
	return fromStringRows(rows)
}

func fromStringRows(rows [][]string) (*Table, error) {
	if len(rows) == 0 {
		return nil, errors.New(errors.ErrorTypeData, "input has no header row")
	}

	names := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		names[i] = strings.TrimSpace(h)
	}
	t, err := New(names...)
	if err != nil {
		return nil, err
	}

	for _, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		cells := make([]interface{}, len(row))
		for i, c := range row {
			cells[i] = strings.TrimSpace(c)
		}
		if err := t.AppendRow(cells); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// ReadJSON reads an array of flat objects. Columns are ordered by name;
// numbers are kept as json.Number so integers survive.
func ReadJSON(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read JSON input")
	}

	var records []map[string]interface{}
	if err := jsonpool.UnmarshalNumbers(data, &records); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "JSON input must be an array of objects")
	}

	seen := make(map[string]bool)
	var names []string
	for _, rec := range records {
		for k := range rec {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}
	sort.Strings(names)

	t, err := New(names...)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		row := make([]interface{}, len(names))
		for i, name := range names {
			row[i] = rec[name]
		}
		if err := t.AppendRow(row); err != nil {
			return nil, err
		}
	}
	return t, nil
}
