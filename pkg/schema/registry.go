package schema

import (
	"sync"

	"github.com/ajitpratap0/trellis/pkg/errors"
	"go.uber.org/zap"
)

// Registry collects the variable descriptors of one display in order and
// enforces name uniqueness at collection time.
type Registry struct {
	vars   []Variable
	index  map[string]int
	panel  int
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		index:  make(map[string]int),
		panel:  -1,
		logger: logger,
	}
}

// Register appends a descriptor. Empty, reserved and duplicate names, unknown
// kinds and a second panel variable are configuration errors.
func (r *Registry) Register(v Variable) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v.Name == "" {
		return errors.New(errors.ErrorTypeConfig, "variable name must not be empty")
	}
	if v.Name == RowKeyField {
		return errors.Newf(errors.ErrorTypeConfig, "variable name %q is reserved for the row key", v.Name).
			WithDetail("variable", v.Name)
	}
	if !v.Kind.Valid() {
		return errors.Newf(errors.ErrorTypeConfig, "variable %q has unknown kind %q", v.Name, v.Kind).
			WithDetail("variable", v.Name)
	}
	if _, dup := r.index[v.Name]; dup {
		return errors.Newf(errors.ErrorTypeConfig, "duplicate variable name %q", v.Name).
			WithDetail("variable", v.Name)
	}
	if v.Kind == KindPanel {
		if r.panel >= 0 {
			return errors.Newf(errors.ErrorTypeConfig, "variable %q: display already has panel variable %q",
				v.Name, r.vars[r.panel].Name).WithDetail("variable", v.Name)
		}
		r.panel = len(r.vars)
	}
	if v.Label == "" {
		v.Label = v.Name
	}

	r.index[v.Name] = len(r.vars)
	r.vars = append(r.vars, v)

	r.logger.Debug("registered variable",
		zap.String("variable", v.Name),
		zap.String("kind", string(v.Kind)))
	return nil
}

// Variables returns every descriptor in registration order
func (r *Registry) Variables() []Variable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Variable(nil), r.vars...)
}

// Metadata returns the non-panel descriptors in registration order
func (r *Registry) Metadata() []Variable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Variable, 0, len(r.vars))
	for i, v := range r.vars {
		if i != r.panel {
			out = append(out, v)
		}
	}
	return out
}

// Lookup returns the descriptor registered under name
func (r *Registry) Lookup(name string) (Variable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[name]
	if !ok {
		return Variable{}, false
	}
	return r.vars[i], true
}

// Panel returns the panel descriptor, if one was registered
func (r *Registry) Panel() (Variable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.panel < 0 {
		return Variable{}, false
	}
	return r.vars[r.panel], true
}

// Len returns the number of registered descriptors
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.vars)
}
