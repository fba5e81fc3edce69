package display

import (
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/trellis/pkg/errors"
	"github.com/ajitpratap0/trellis/pkg/schema"
	"github.com/ajitpratap0/trellis/pkg/state"
	"github.com/ajitpratap0/trellis/pkg/table"
)

// defaultLabelCount is how many metadata variables the default state shows
// under each panel
const defaultLabelCount = 2

// Options describe a display to build from a table
type Options struct {
	Name        string
	Description string
	Group       string
	Tags        []string

	// PanelColumn names the column holding one panel value per row
	PanelColumn string
	// PanelLabel labels the panel variable; the column name when empty
	PanelLabel string
	// PanelSource overrides where the viewer finds assets. A local source is
	// resolved from the rendered assets at serialization time.
	PanelSource schema.PanelSource
	// KeyColumn optionally supplies row keys; 1-based row numbers otherwise
	KeyColumn string
	// Overrides pin variable properties by column name
	Overrides map[string]schema.Override
	// State replaces the default state
	State *state.State
}

// Builder turns tables into displays
type Builder struct {
	engine *schema.TypeInferenceEngine
	logger *zap.Logger
}

// NewBuilder creates a builder. A nil engine uses the default inference
// thresholds.
func NewBuilder(engine *schema.TypeInferenceEngine, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if engine == nil {
		engine = schema.NewTypeInferenceEngine(logger)
	}
	return &Builder{engine: engine, logger: logger}
}

// Build infers or applies the metadata schema of t and returns the display.
// Nothing is written to disk.
func (b *Builder) Build(t *table.Table, opts Options) (*Display, error) {
	if err := checkName(opts.Name); err != nil {
		return nil, err
	}
	if opts.PanelColumn == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "no panel column configured")
	}
	if !t.Has(opts.PanelColumn) {
		return nil, errors.Newf(errors.ErrorTypeConfig, "missing panel column %q", opts.PanelColumn).
			WithDetail("variable", opts.PanelColumn)
	}
	if opts.KeyColumn != "" && !t.Has(opts.KeyColumn) {
		return nil, errors.Newf(errors.ErrorTypeConfig, "missing key column %q", opts.KeyColumn).
			WithDetail("variable", opts.KeyColumn)
	}
	if err := checkOverrides(t, opts.Overrides); err != nil {
		return nil, err
	}

	keys, err := rowKeys(t, opts.KeyColumn)
	if err != nil {
		return nil, err
	}

	reg := schema.NewRegistry(b.logger)
	cols := make(map[string][]interface{}, len(t.Names()))
	var panelValues []interface{}

	for _, name := range t.Names() {
		if name == opts.PanelColumn {
			pv := schema.Variable{Name: name, Label: opts.PanelLabel, Kind: schema.KindPanel, Source: opts.PanelSource}
			if ov, ok := opts.Overrides[name]; ok {
				if ov.Kind != "" && ov.Kind != schema.KindPanel {
					return nil, errors.Newf(errors.ErrorTypeConfig, "panel column %q cannot have kind %q", name, ov.Kind).
						WithDetail("variable", name)
				}
				if pv.Label == "" {
					pv.Label = ov.Label
				}
				pv.Description = ov.Description
			}
			if err := reg.Register(pv); err != nil {
				return nil, err
			}
			panelValues = append([]interface{}(nil), t.Column(name)...)
			continue
		}

		var ov *schema.Override
		if o, ok := opts.Overrides[name]; ok {
			ov = &o
		}
		v, values, err := b.engine.BuildColumn(name, t.Column(name), ov)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(v); err != nil {
			return nil, err
		}
		cols[name] = values
	}

	frame, err := schema.NewFrame(keys, reg.Metadata(), cols)
	if err != nil {
		return nil, err
	}

	d := &Display{
		Name:        opts.Name,
		Description: opts.Description,
		Group:       opts.Group,
		Tags:        append([]string(nil), opts.Tags...),
		Vars:        reg.Variables(),
		Frame:       frame,
		PanelValues: panelValues,
		Views:       []state.NamedView{},
		Updated:     time.Now().UTC(),
	}

	if opts.State != nil {
		d.State = opts.State.Clone()
	} else {
		d.State = DefaultState(frame)
	}
	if err := state.Validate(frame, d.State); err != nil {
		return nil, errors.Wrap(err, errors.TypeOf(err), "invalid initial state for display "+strconv.Quote(opts.Name))
	}

	b.logger.Info("display built",
		zap.String("display", d.Name),
		zap.Int("rows", d.N()),
		zap.Int("variables", len(d.Vars)))
	return d, nil
}

// DefaultState shows the first metadata variables as labels, one panel
// per page, with no filters or sorts.
func DefaultState(f *schema.Frame) state.State {
	s := state.New()
	s.Labels = []string{}
	for _, v := range f.Vars {
		if len(s.Labels) == defaultLabelCount {
			break
		}
		s.Labels = append(s.Labels, v.Name)
	}
	return s
}

func checkOverrides(t *table.Table, overrides map[string]schema.Override) error {
	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !t.Has(name) {
			return errors.Newf(errors.ErrorTypeConfig, "override names unknown column %q", name).
				WithDetail("variable", name)
		}
	}
	return nil
}

// rowKeys returns the row keys: the key column rendered as text, or the
// 1-based row numbers
func rowKeys(t *table.Table, keyColumn string) ([]string, error) {
	keys := make([]string, t.Len())
	if keyColumn == "" {
		for i := range keys {
			keys[i] = strconv.Itoa(i + 1)
		}
		return keys, nil
	}
	for i, v := range t.Column(keyColumn) {
		if schema.IsMissing(v) {
			return nil, errors.Newf(errors.ErrorTypeConfig, "key column %q is empty in row %d", keyColumn, i+1).
				WithDetail("variable", keyColumn).
				WithDetail("row", i+1)
		}
		keys[i] = schema.ToString(v)
	}
	return keys, nil
}
