package display

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/trellis/pkg/errors"
	jsonpool "github.com/ajitpratap0/trellis/pkg/json"
	"github.com/ajitpratap0/trellis/pkg/metrics"
	"github.com/ajitpratap0/trellis/pkg/panel"
	"github.com/ajitpratap0/trellis/pkg/schema"
	"github.com/ajitpratap0/trellis/pkg/state"
)

// scriptPrefix names the global the metaData.js file assigns
const scriptPrefix = "__trellis__metaData_"

// ResolvePanelSource returns the source recorded on the panel variable. A
// configured remote or dynamic source is kept as is; otherwise the assets
// are local files and their format must be a single extension.
func ResolvePanelSource(pv schema.Variable, report *panel.AssetReport) (schema.PanelSource, error) {
	if pv.Source != nil && !pv.Source.IsLocal() {
		return pv.Source, nil
	}
	if report == nil {
		return nil, errors.Newf(errors.ErrorTypeConfig, "panel variable %q has no rendered assets", pv.Name).
			WithDetail("variable", pv.Name)
	}
	if report.Mixed {
		return nil, errors.Newf(errors.ErrorTypeConfig, "panels of %q were rendered in mixed formats %s",
			pv.Name, strings.Join(report.Exts(), ", ")).WithDetail("variable", pv.Name)
	}
	return schema.LocalFileSource{Dir: PanelDir, Ext: report.Ext}, nil
}

func usesLocalAssets(pv schema.Variable) bool {
	return pv.Source == nil || pv.Source.IsLocal()
}

// Prepare checks that d can be serialized with the assets in report and
// returns a copy carrying the resolved panel source. A row without an
// asset file is a MissingAssetError naming the first such row in row order.
// d is not modified.
func Prepare(d *Display, report *panel.AssetReport) (*Display, error) {
	if err := checkName(d.Name); err != nil {
		return nil, err
	}
	if d.Frame == nil {
		return nil, errors.Newf(errors.ErrorTypeConfig, "display %q has no metadata", d.Name)
	}
	pv, ok := d.Panel()
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "display %q has no panel variable", d.Name).
			WithDetail("display", d.Name)
	}
	if err := state.Validate(d.Frame, d.State); err != nil {
		return nil, err
	}

	if usesLocalAssets(pv) {
		if report == nil {
			if d.N() > 0 {
				return nil, panel.MissingAsset(d.Frame.Keys[0], nil)
			}
		} else {
			for _, key := range d.Frame.Keys {
				a, ok := report.Asset(key)
				if !ok {
					return nil, panel.MissingAsset(key, report.Failed[key])
				}
				if _, err := os.Stat(filepath.Join(report.Dir, a.File)); err != nil {
					return nil, panel.MissingAsset(key, err)
				}
			}
		}
	}

	src, err := resolveSource(pv, report, d.N())
	if err != nil {
		return nil, err
	}

	out := d.shallowCopy()
	for i := range out.Vars {
		if out.Vars[i].Kind == schema.KindPanel {
			out.Vars[i].Source = src
		}
	}
	out.Updated = time.Now().UTC()
	return out, nil
}

func resolveSource(pv schema.Variable, report *panel.AssetReport, n int) (schema.PanelSource, error) {
	if n == 0 && report == nil && usesLocalAssets(pv) {
		return schema.LocalFileSource{Dir: PanelDir}, nil
	}
	return ResolvePanelSource(pv, report)
}

// Writer places serialized displays under a root directory
type Writer struct {
	root   string
	logger *zap.Logger
}

// NewWriter creates a writer for root
func NewWriter(root string, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{root: root, logger: logger}
}

// Root returns the output root
func (w *Writer) Root() string { return w.root }

// Serialize prepares d and writes it. On any error the root is left as it
// was before the call.
func (w *Writer) Serialize(d *Display, report *panel.AssetReport) (*Display, error) {
	prepared, err := Prepare(d, report)
	if err != nil {
		return nil, err
	}
	return w.Write(prepared, report)
}

// Write stages a prepared display next to its final directory, checks the
// staged rows against the staged panel files and swaps the staging
// directory into place. Views saved under a previous version of the display
// are carried over when their state is still valid. The written display is
// returned.
func (w *Writer) Write(d *Display, report *panel.AssetReport) (out *Display, err error) {
	timer := metrics.NewTimer("serialize")
	defer func() {
		metrics.SerializeLatency.Observe(timer.Stop().Seconds())
	}()

	if err := checkName(d.Name); err != nil {
		return nil, err
	}
	pv, ok := d.Panel()
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "display %q has no panel variable", d.Name)
	}

	parent := filepath.Join(w.root, DisplaysDir)
	_, statErr := os.Stat(parent)
	created := os.IsNotExist(statErr)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create displays directory").
			WithDetail("path", parent)
	}
	staging, err := os.MkdirTemp(parent, ".staging-"+d.Name+"-")
	if err != nil {
		if created {
			_ = os.Remove(parent)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create staging directory").
			WithDetail("path", parent)
	}
	defer func() {
		_ = os.RemoveAll(staging)
		// Remove only succeeds while displays/ is still empty
		if err != nil && created {
			_ = os.Remove(parent)
		}
	}()

	if err := writeRows(staging, d); err != nil {
		return nil, err
	}
	if usesLocalAssets(pv) {
		if err := stagePanels(staging, d, report); err != nil {
			return nil, err
		}
		if err := verifyJoin(staging, d); err != nil {
			return nil, err
		}
	}

	out = d.shallowCopy()
	err = WithLock(LockPath(w.root, d.Name), func() error {
		out.Views = w.carryViews(out)
		data, err := jsonpool.MarshalIndent(newInfo(out), "", "  ")
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "failed to encode display info")
		}
		if err := os.WriteFile(filepath.Join(staging, InfoFile), data, 0o644); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to write display info").
				WithDetail("path", staging)
		}
		return swapDir(staging, Dir(w.root, d.Name))
	})
	if err != nil {
		return nil, err
	}

	if err := updateIndex(w.root, func(x *Index) { x.upsert(indexEntry(out)) }); err != nil {
		return nil, err
	}

	w.logger.Info("display written",
		zap.String("display", out.Name),
		zap.String("root", w.root),
		zap.Int("panels", out.N()),
		zap.Int("views", len(out.Views)))
	return out, nil
}

// carryViews merges the views of the display being replaced into d's views.
// Views whose state no longer validates against the new metadata are dropped.
func (w *Writer) carryViews(d *Display) []state.NamedView {
	views := append([]state.NamedView{}, d.Views...)
	prev, err := ReadInfo(w.root, d.Name)
	if err != nil {
		if !errors.IsType(err, errors.ErrorTypeNotFound) {
			w.logger.Warn("previous display info unreadable, saved views not carried over",
				zap.String("display", d.Name), zap.Error(err))
		}
		return views
	}

	have := make(map[string]bool, len(views))
	for _, v := range views {
		have[v.Name] = true
	}
	for _, v := range prev.Views {
		if have[v.Name] {
			continue
		}
		if err := state.Validate(d.Frame, v.State); err != nil {
			w.logger.Warn("saved view no longer applies, dropping it",
				zap.String("display", d.Name),
				zap.String("view", v.Name),
				zap.Error(err))
			continue
		}
		views = append(views, v)
	}
	return views
}

// writeRows streams the encoded rows into metaData.json and, wrapped in a
// global assignment, metaData.js
func writeRows(dir string, d *Display) (err error) {
	rows, err := EncodeRows(d)
	if err != nil {
		return err
	}

	dataPath := filepath.Join(dir, MetaDataFile)
	scriptPath := filepath.Join(dir, MetaScript)
	dataFile, err := os.Create(dataPath)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write metadata").WithDetail("path", dataPath)
	}
	defer closeFile(dataFile, dataPath, &err)
	scriptFile, err := os.Create(scriptPath)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write metadata script").WithDetail("path", scriptPath)
	}
	defer closeFile(scriptFile, scriptPath, &err)

	data := bufio.NewWriter(dataFile)
	script := bufio.NewWriter(scriptFile)
	fmt.Fprintf(script, "window[%q] = ", scriptPrefix+d.Name)

	enc := jsonpool.NewStreamingEncoder(io.MultiWriter(data, script), true)
	for i := range rows {
		if err := enc.Encode(rows[i]); err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "failed to encode metadata rows").
				WithDetail("row", rows[i].Key)
		}
	}
	if err := enc.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write metadata").WithDetail("path", dir)
	}
	script.WriteString(";\n")

	if err := data.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write metadata").WithDetail("path", dataPath)
	}
	if err := script.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write metadata script").WithDetail("path", scriptPath)
	}
	return nil
}

func closeFile(f *os.File, path string, err *error) {
	if cerr := f.Close(); cerr != nil && *err == nil {
		*err = errors.Wrap(cerr, errors.ErrorTypeFile, "failed to close file").WithDetail("path", path)
	}
}

func stagePanels(dir string, d *Display, report *panel.AssetReport) error {
	pdir := filepath.Join(dir, PanelDir)
	if err := os.MkdirAll(pdir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create panel directory").WithDetail("path", pdir)
	}
	if report == nil {
		return nil
	}
	for _, key := range d.Frame.Keys {
		a, ok := report.Asset(key)
		if !ok {
			return panel.MissingAsset(key, report.Failed[key])
		}
		if err := panel.LinkOrCopy(filepath.Join(report.Dir, a.File), filepath.Join(pdir, key+"."+a.Ext)); err != nil {
			return panel.MissingAsset(key, err)
		}
	}
	return nil
}

// verifyJoin reads back the staged rows and checks that every row key has
// exactly one panel file and every panel file belongs to a row
func verifyJoin(dir string, d *Display) error {
	data, err := os.ReadFile(filepath.Join(dir, MetaDataFile))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to read staged metadata").WithDetail("path", dir)
	}
	var rows []map[string]interface{}
	if err := jsonpool.UnmarshalNumbers(data, &rows); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "staged metadata is malformed")
	}

	entries, err := os.ReadDir(filepath.Join(dir, PanelDir))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to list staged panels").WithDetail("path", dir)
	}
	files := make(map[string]int, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		files[stem]++
	}

	for _, row := range rows {
		key, _ := row[schema.RowKeyField].(string)
		switch files[key] {
		case 1:
			delete(files, key)
		case 0:
			return panel.MissingAsset(key, nil)
		default:
			return errors.Newf(errors.ErrorTypeData, "row %q has %d panel files", key, files[key]).
				WithDetail("key", key)
		}
	}
	if len(files) > 0 {
		extra := make([]string, 0, len(files))
		for stem := range files {
			extra = append(extra, stem)
		}
		sort.Strings(extra)
		return errors.Newf(errors.ErrorTypeData, "panel files without a row: %s", strings.Join(extra, ", "))
	}
	if len(rows) != d.N() {
		return errors.Newf(errors.ErrorTypeInternal, "staged %d rows for %d keys", len(rows), d.N())
	}
	return nil
}

// swapDir renames staging over dir. An existing dir is moved aside first
// and restored if the second rename fails.
func swapDir(staging, dir string) error {
	old := ""
	if _, err := os.Stat(dir); err == nil {
		old = fmt.Sprintf("%s.old-%d", staging, time.Now().UnixNano())
		if err := os.Rename(dir, old); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to move previous display aside").
				WithDetail("path", dir)
		}
	}
	if err := os.Rename(staging, dir); err != nil {
		if old != "" {
			_ = os.Rename(old, dir)
		}
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to move display into place").
			WithDetail("path", dir)
	}
	if old != "" {
		_ = os.RemoveAll(old)
	}
	return nil
}
