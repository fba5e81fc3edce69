// Package views persists named snapshots of a display's state inside its
// displayInfo.json document. Every operation locks the display, rereads the
// whole document and rewrites it atomically, so concurrent viewers never
// lose each other's views.
package views

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/trellis/pkg/display"
	"github.com/ajitpratap0/trellis/pkg/errors"
	"github.com/ajitpratap0/trellis/pkg/metrics"
	"github.com/ajitpratap0/trellis/pkg/state"
)

// Store reads and writes the views of one display
type Store struct {
	root    string
	display string
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the store logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open returns the store of a display under root. The display is not read
// until the first operation.
func Open(root, name string, opts ...Option) *Store {
	s := &Store{root: root, display: name, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Display returns the display name
func (s *Store) Display() string { return s.display }

// Save stores st under name, replacing any view with the same name. The
// state must be valid for the display's variables.
func (s *Store) Save(name string, st state.State) error {
	return s.SaveView(state.NamedView{Name: name, State: st})
}

// SaveView stores a view with its description. Saved is set to now.
func (s *Store) SaveView(v state.NamedView) error {
	name := v.Name
	return s.record("save", s.update(func(info *display.Info) error {
		if err := checkViewName(name); err != nil {
			return err
		}
		f, err := info.Schema()
		if err != nil {
			return err
		}
		if err := state.Validate(f, v.State); err != nil {
			return errors.Wrap(err, errors.TypeOf(err), "view "+name+" has an invalid state").
				WithDetail("view", name)
		}

		view := state.NamedView{Name: name, Description: v.Description, State: v.State.Clone(), Saved: s.now().UTC()}
		for i := range info.Views {
			if info.Views[i].Name == name {
				info.Views[i] = view
				return nil
			}
		}
		info.Views = append(info.Views, view)
		return nil
	}))
}

// Load returns the state saved under name
func (s *Store) Load(name string) (state.State, error) {
	v, err := s.Get(name)
	if err != nil {
		return state.State{}, err
	}
	return v.State, nil
}

// Get returns the view saved under name
func (s *Store) Get(name string) (state.NamedView, error) {
	var out state.NamedView
	err := s.read(func(info *display.Info) error {
		for _, v := range info.Views {
			if v.Name == name {
				out = v
				out.State = v.State.Clone()
				return nil
			}
		}
		return notFound(s.display, name)
	})
	return out, s.record("load", err)
}

// Delete removes the view saved under name
func (s *Store) Delete(name string) error {
	return s.record("delete", s.update(func(info *display.Info) error {
		for i := range info.Views {
			if info.Views[i].Name == name {
				info.Views = append(info.Views[:i], info.Views[i+1:]...)
				return nil
			}
		}
		return notFound(s.display, name)
	}))
}

// List returns the view names in stored order
func (s *Store) List() ([]string, error) {
	names := []string{}
	err := s.read(func(info *display.Info) error {
		for _, v := range info.Views {
			names = append(names, v.Name)
		}
		return nil
	})
	if err != nil {
		return nil, s.record("list", err)
	}
	return names, s.record("list", nil)
}

// read runs fn on the current document under the display lock
func (s *Store) read(fn func(info *display.Info) error) error {
	if err := display.ValidateName(s.display); err != nil {
		return err
	}
	return display.WithLock(display.LockPath(s.root, s.display), func() error {
		info, err := display.ReadInfo(s.root, s.display)
		if err != nil {
			return err
		}
		return fn(info)
	})
}

// update runs fn on the current document and writes it back when fn
// succeeds, all under the display lock
func (s *Store) update(fn func(info *display.Info) error) error {
	if err := display.ValidateName(s.display); err != nil {
		return err
	}
	return display.WithLock(display.LockPath(s.root, s.display), func() error {
		info, err := display.ReadInfo(s.root, s.display)
		if err != nil {
			return err
		}
		if err := fn(info); err != nil {
			return err
		}
		return display.WriteInfo(s.root, info)
	})
}

func (s *Store) record(op string, err error) error {
	metrics.ViewOperations.WithLabelValues(op, metrics.Status(err)).Inc()
	if err != nil {
		s.logger.Debug("view operation failed",
			zap.String("display", s.display),
			zap.String("op", op),
			zap.Error(err))
	}
	return err
}

func notFound(displayName, view string) *errors.Error {
	return errors.Newf(errors.ErrorTypeNotFound, "display %q has no view %q", displayName, view).
		WithDetail("display", displayName).
		WithDetail("view", view)
}

func checkViewName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New(errors.ErrorTypeValidation, "view name must not be empty")
	}
	return nil
}
