package state

import (
	"sync"

	"github.com/ajitpratap0/trellis/pkg/errors"
	"github.com/ajitpratap0/trellis/pkg/metrics"
	"github.com/ajitpratap0/trellis/pkg/schema"
	"go.uber.org/zap"
)

// Engine holds the mutable state of one viewing session over a read-only
// frame. Each mutator is atomic: it validates, applies and recomputes the
// view under one lock, and leaves the state untouched on error. Filter,
// search and sort changes go back to page 1; layout and page changes clamp.
type Engine struct {
	mu      sync.Mutex
	frame   *schema.Frame
	state   State
	view    Page
	display string
	logger  *zap.Logger
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithLogger sets the engine logger
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithDisplay names the display in logs and metrics
func WithDisplay(name string) EngineOption {
	return func(e *Engine) { e.display = name }
}

// NewEngine starts a session from an initial state, usually the default
// state of a display
func NewEngine(f *schema.Frame, initial State, opts ...EngineOption) (*Engine, error) {
	e := &Engine{frame: f, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	if err := Validate(f, initial); err != nil {
		return nil, err
	}
	e.commit(initial.Clone(), "init")
	return e, nil
}

func (e *Engine) commit(s State, op string) Page {
	timer := metrics.NewTimer("compute_view")
	view := Compute(e.frame, s)
	metrics.ComputeViewLatency.Observe(float64(timer.Stop().Nanoseconds()))
	if e.display != "" {
		metrics.MatchingRows.WithLabelValues(e.display).Set(float64(view.Total))
	}

	s.Layout.Page = view.Page
	e.state = s
	e.view = view

	e.logger.Debug("view computed",
		zap.String("display", e.display),
		zap.String("op", op),
		zap.Int("total", view.Total),
		zap.Int("page", view.Page),
		zap.Int("pages", view.Pages))
	return view
}

// mutate applies fn to a copy of the state and commits it when fn succeeds
func (e *Engine) mutate(op string, resetPage bool, fn func(s *State) error) (Page, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.state.Clone()
	if err := fn(&next); err != nil {
		e.logger.Debug("state change rejected", zap.String("op", op), zap.Error(err))
		return e.view, err
	}
	if resetPage {
		next.Layout.Page = 1
	}
	return e.commit(next, op), nil
}

// SetFilter replaces any filter on the variable
func (e *Engine) SetFilter(name string, p Predicate) (Page, error) {
	return e.mutate("set_filter", true, func(s *State) error {
		flt := Filter{Var: name, Predicate: p}
		if err := validateFilter(e.frame, flt); err != nil {
			return err
		}
		flt.Predicate = p.clone()
		for i := range s.Filters {
			if s.Filters[i].Var == name {
				s.Filters[i] = flt
				return nil
			}
		}
		s.Filters = append(s.Filters, flt)
		return nil
	})
}

// ClearFilter removes the filter on a variable, if any
func (e *Engine) ClearFilter(name string) (Page, error) {
	return e.mutate("clear_filter", true, func(s *State) error {
		if _, err := lookup(e.frame, name, "filter"); err != nil {
			return err
		}
		kept := s.Filters[:0]
		for _, f := range s.Filters {
			if f.Var != name {
				kept = append(kept, f)
			}
		}
		s.Filters = kept
		return nil
	})
}

// ClearFilters removes every filter
func (e *Engine) ClearFilters() (Page, error) {
	return e.mutate("clear_filters", true, func(s *State) error {
		s.Filters = nil
		return nil
	})
}

// AddSort appends a sort key; a variable already sorted keeps its position
// and takes the new direction
func (e *Engine) AddSort(name string, dir Direction) (Page, error) {
	return e.mutate("add_sort", true, func(s *State) error {
		srt := Sort{Var: name, Dir: dir}
		if err := validateSort(e.frame, srt); err != nil {
			return err
		}
		for i := range s.Sorts {
			if s.Sorts[i].Var == name {
				s.Sorts[i].Dir = dir
				return nil
			}
		}
		s.Sorts = append(s.Sorts, srt)
		return nil
	})
}

// RemoveSort drops the sort key on a variable, if any
func (e *Engine) RemoveSort(name string) (Page, error) {
	return e.mutate("remove_sort", true, func(s *State) error {
		if _, err := lookup(e.frame, name, "sort"); err != nil {
			return err
		}
		kept := s.Sorts[:0]
		for _, srt := range s.Sorts {
			if srt.Var != name {
				kept = append(kept, srt)
			}
		}
		s.Sorts = kept
		return nil
	})
}

// ReorderSorts puts the sort keys in the given variable order, which must
// be a permutation of the current keys
func (e *Engine) ReorderSorts(order []string) (Page, error) {
	return e.mutate("reorder_sorts", true, func(s *State) error {
		if len(order) != len(s.Sorts) {
			return errors.Newf(errors.ErrorTypeValidation, "sort order names %d variables, %d are sorted", len(order), len(s.Sorts))
		}
		byVar := make(map[string]Sort, len(s.Sorts))
		for _, srt := range s.Sorts {
			byVar[srt.Var] = srt
		}
		next := make([]Sort, 0, len(order))
		for _, name := range order {
			srt, ok := byVar[name]
			if !ok {
				if _, err := lookup(e.frame, name, "sort order"); err != nil {
					return err
				}
				return errors.Newf(errors.ErrorTypeValidation, "variable %q is not sorted or is listed twice", name).
					WithDetail("variable", name)
			}
			delete(byVar, name)
			next = append(next, srt)
		}
		s.Sorts = next
		return nil
	})
}

// ClearSorts removes every sort key
func (e *Engine) ClearSorts() (Page, error) {
	return e.mutate("clear_sorts", true, func(s *State) error {
		s.Sorts = nil
		return nil
	})
}

// SetSearch sets the free-text search; "" clears it
func (e *Engine) SetSearch(text string) (Page, error) {
	return e.mutate("set_search", true, func(s *State) error {
		s.Search = text
		return nil
	})
}

// SetLayout changes the grid and clamps the current page to it
func (e *Engine) SetLayout(ncol, nrow int, arrangement Arrangement) (Page, error) {
	return e.mutate("set_layout", false, func(s *State) error {
		l := Layout{NCol: ncol, NRow: nrow, Page: s.Layout.Page, Arrangement: arrangement}
		if err := l.validate(); err != nil {
			return err
		}
		s.Layout = l
		return nil
	})
}

// GoToPage moves to page n, clamped to the available pages
func (e *Engine) GoToPage(n int) (Page, error) {
	return e.mutate("go_to_page", false, func(s *State) error {
		if n < 1 {
			n = 1
		}
		s.Layout.Page = n
		return nil
	})
}

// NextPage moves forward one page, staying on the last page
func (e *Engine) NextPage() (Page, error) {
	return e.mutate("next_page", false, func(s *State) error {
		s.Layout.Page++
		return nil
	})
}

// PrevPage moves back one page, staying on the first page
func (e *Engine) PrevPage() (Page, error) {
	return e.mutate("prev_page", false, func(s *State) error {
		if s.Layout.Page > 1 {
			s.Layout.Page--
		}
		return nil
	})
}

// SetLabels sets the variables shown under each panel
func (e *Engine) SetLabels(names []string) (Page, error) {
	return e.mutate("set_labels", false, func(s *State) error {
		if err := validateLabels(e.frame, names); err != nil {
			return err
		}
		s.Labels = append([]string{}, names...)
		return nil
	})
}

// Restore replaces the whole state, as when a named view is loaded
func (e *Engine) Restore(next State) (Page, error) {
	return e.mutate("restore", false, func(s *State) error {
		if err := Validate(e.frame, next); err != nil {
			return err
		}
		*s = next.Clone()
		return nil
	})
}

// State returns a copy of the current state
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// View returns the current page
func (e *Engine) View() Page {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view
}

// Frame returns the session's frame
func (e *Engine) Frame() *schema.Frame {
	return e.frame
}
