// Package display builds display specifications from tables and moves them
// to and from their on-disk form: a root index, and per display a
// displayInfo.json document, the metaData.json/metaData.js row files and a
// panels/ directory whose file stems are the row keys.
package display

import (
	"time"

	"github.com/ajitpratap0/trellis/pkg/errors"
	"github.com/ajitpratap0/trellis/pkg/schema"
	"github.com/ajitpratap0/trellis/pkg/state"
)

// File names inside a display directory
const (
	InfoFile      = "displayInfo.json"
	MetaDataFile  = "metaData.json"
	MetaScript    = "metaData.js"
	PanelDir      = "panels"
	DisplaysDir   = "displays"
	IndexFile     = "index.json"
	formatVersion = 1
)

// Display is the in-memory form of a display specification
type Display struct {
	Name        string
	Description string
	Group       string
	Tags        []string

	// Vars lists every variable, the panel variable included, in column order
	Vars []schema.Variable
	// Frame holds the row keys and the typed metadata values
	Frame *schema.Frame
	// PanelValues are the raw panel column values, row-aligned with Frame.Keys.
	// They feed the renderer and are never serialized.
	PanelValues []interface{}

	State state.State
	Views []state.NamedView

	Updated time.Time
}

// N returns the number of panels
func (d *Display) N() int {
	if d.Frame == nil {
		return 0
	}
	return d.Frame.Len()
}

// Keys returns the row keys
func (d *Display) Keys() []string {
	if d.Frame == nil {
		return nil
	}
	return d.Frame.Keys
}

// Panel returns the panel variable
func (d *Display) Panel() (schema.Variable, bool) {
	for _, v := range d.Vars {
		if v.Kind == schema.KindPanel {
			return v, true
		}
	}
	return schema.Variable{}, false
}

// Variable returns a variable by name
func (d *Display) Variable(name string) (schema.Variable, bool) {
	for _, v := range d.Vars {
		if v.Name == name {
			return v, true
		}
	}
	return schema.Variable{}, false
}

// Exclude returns a copy of d without the given rows
func (d *Display) Exclude(keys []string) (*Display, error) {
	drop := make(map[string]bool, len(keys))
	for _, k := range keys {
		if _, ok := d.Frame.RowIndex(k); !ok {
			return nil, errors.Newf(errors.ErrorTypeInternal, "cannot exclude unknown row %q", k).
				WithDetail("key", k)
		}
		drop[k] = true
	}

	rows := make([]int, 0, d.N()-len(drop))
	values := make([]interface{}, 0, d.N()-len(drop))
	for i, k := range d.Frame.Keys {
		if drop[k] {
			continue
		}
		rows = append(rows, i)
		if i < len(d.PanelValues) {
			values = append(values, d.PanelValues[i])
		}
	}

	frame, err := d.Frame.Select(rows)
	if err != nil {
		return nil, err
	}
	out := d.shallowCopy()
	out.Frame = frame
	out.PanelValues = values
	return out, nil
}

func (d *Display) shallowCopy() *Display {
	out := *d
	out.Vars = append([]schema.Variable(nil), d.Vars...)
	out.Tags = append([]string(nil), d.Tags...)
	out.State = d.State.Clone()
	out.Views = append([]state.NamedView(nil), d.Views...)
	return &out
}

// ValidateName rejects display names that cannot be directory names
func ValidateName(name string) error {
	return checkName(name)
}

func checkName(name string) error {
	if !schema.ValidKey(name) {
		return errors.Newf(errors.ErrorTypeConfig, "display name %q must be a plain file name", name).
			WithDetail("display", name)
	}
	return nil
}
