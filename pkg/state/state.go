// Package state holds the interactive state of a display (filters, sorts,
// search text, layout and labels) and computes the page of panels that
// state selects from a metadata frame.
package state

import (
	"time"

	"github.com/ajitpratap0/trellis/pkg/errors"
)

// Direction is a sort direction
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Valid reports whether d is asc or desc
func (d Direction) Valid() bool { return d == Asc || d == Desc }

// Arrangement decides how a page's panels fill the grid
type Arrangement string

const (
	// RowMajor fills left to right, then top to bottom
	RowMajor Arrangement = "row"
	// ColMajor fills top to bottom, then left to right
	ColMajor Arrangement = "col"
)

// Valid reports whether a is row or col
func (a Arrangement) Valid() bool { return a == RowMajor || a == ColMajor }

// Sort is one key of a multi-key sort
type Sort struct {
	Var string    `json:"var"`
	Dir Direction `json:"dir"`
}

// Layout is the panel grid and the current page (1-based)
type Layout struct {
	NCol        int         `json:"ncol"`
	NRow        int         `json:"nrow"`
	Page        int         `json:"page"`
	Arrangement Arrangement `json:"arrangement"`
}

// DefaultLayout is a single panel per page, row-major
func DefaultLayout() Layout {
	return Layout{NCol: 1, NRow: 1, Page: 1, Arrangement: RowMajor}
}

// PageSize returns the number of panels on a page
func (l Layout) PageSize() int {
	if l.NCol < 1 || l.NRow < 1 {
		return 1
	}
	return l.NCol * l.NRow
}

func (l Layout) validate() error {
	if l.NCol < 1 || l.NRow < 1 {
		return errors.Newf(errors.ErrorTypeValidation, "layout %dx%d must have at least one column and one row", l.NCol, l.NRow)
	}
	if l.Page < 1 {
		return errors.Newf(errors.ErrorTypeValidation, "page %d must be at least 1", l.Page)
	}
	if !l.Arrangement.Valid() {
		return errors.Newf(errors.ErrorTypeValidation, "unknown arrangement %q", l.Arrangement)
	}
	return nil
}

// State drives the viewer. At most one filter and one sort key exist per
// variable; sorts apply in list order.
type State struct {
	Filters []Filter `json:"filters"`
	Sorts   []Sort   `json:"sorts"`
	Search  string   `json:"search"`
	Layout  Layout   `json:"layout"`
	Labels  []string `json:"labels"`
}

// New returns an empty state with the default layout
func New() State {
	return State{Layout: DefaultLayout()}
}

// Filter returns the active filter on a variable
func (s State) Filter(name string) (Filter, bool) {
	for _, f := range s.Filters {
		if f.Var == name {
			return f, true
		}
	}
	return Filter{}, false
}

// Clone returns a deep copy
func (s State) Clone() State {
	out := State{Search: s.Search, Layout: s.Layout}
	if s.Filters != nil {
		out.Filters = make([]Filter, len(s.Filters))
		for i, f := range s.Filters {
			out.Filters[i] = Filter{Var: f.Var}
			if f.Predicate != nil {
				out.Filters[i].Predicate = f.Predicate.clone()
			}
		}
	}
	if s.Sorts != nil {
		out.Sorts = append([]Sort{}, s.Sorts...)
	}
	if s.Labels != nil {
		out.Labels = append([]string{}, s.Labels...)
	}
	return out
}

// NamedView is a saved snapshot of a state
type NamedView struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	State       State     `json:"state"`
	Saved       time.Time `json:"saved"`
}
