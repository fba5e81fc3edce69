package state

import (
	"github.com/ajitpratap0/trellis/pkg/errors"
	"github.com/ajitpratap0/trellis/pkg/schema"
)

func unknownVariable(name, role string) *errors.Error {
	return errors.Newf(errors.ErrorTypeUnknownVariable, "%s references unknown variable %q", role, name).
		WithDetail("variable", name)
}

func lookup(f *schema.Frame, name, role string) (schema.Variable, error) {
	v, ok := f.Var(name)
	if !ok {
		return schema.Variable{}, unknownVariable(name, role)
	}
	return v, nil
}

func validateFilter(f *schema.Frame, flt Filter) error {
	v, err := lookup(f, flt.Var, "filter")
	if err != nil {
		return err
	}
	if flt.Predicate == nil {
		return errors.Newf(errors.ErrorTypeValidation, "filter on %q has no predicate", flt.Var).
			WithDetail("variable", flt.Var)
	}
	if !flt.Predicate.Accepts(v.Kind) {
		return errors.Newf(errors.ErrorTypeTypeMismatch, "a %s filter cannot apply to %s variable %q",
			flt.Predicate.Type(), v.Kind, flt.Var).WithDetail("variable", flt.Var)
	}
	if err := flt.Predicate.validate(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "filter on "+flt.Var+" is invalid").
			WithDetail("variable", flt.Var)
	}
	return nil
}

func validateSort(f *schema.Frame, s Sort) error {
	if _, err := lookup(f, s.Var, "sort"); err != nil {
		return err
	}
	if !s.Dir.Valid() {
		return errors.Newf(errors.ErrorTypeValidation, "sort on %q has unknown direction %q", s.Var, s.Dir).
			WithDetail("variable", s.Var)
	}
	return nil
}

func validateLabels(f *schema.Frame, labels []string) error {
	seen := make(map[string]bool, len(labels))
	for _, name := range labels {
		if _, err := lookup(f, name, "label"); err != nil {
			return err
		}
		if seen[name] {
			return errors.Newf(errors.ErrorTypeValidation, "label %q is listed twice", name).
				WithDetail("variable", name)
		}
		seen[name] = true
	}
	return nil
}

// Validate checks a state against the variables of a frame. Unknown
// variables are UnknownVariable errors, predicates on the wrong kind are
// TypeMismatch errors and everything else is a validation error.
func Validate(f *schema.Frame, s State) error {
	seen := make(map[string]bool, len(s.Filters))
	for _, flt := range s.Filters {
		if err := validateFilter(f, flt); err != nil {
			return err
		}
		if seen[flt.Var] {
			return errors.Newf(errors.ErrorTypeValidation, "variable %q has more than one filter", flt.Var).
				WithDetail("variable", flt.Var)
		}
		seen[flt.Var] = true
	}

	seen = make(map[string]bool, len(s.Sorts))
	for _, srt := range s.Sorts {
		if err := validateSort(f, srt); err != nil {
			return err
		}
		if seen[srt.Var] {
			return errors.Newf(errors.ErrorTypeValidation, "variable %q appears twice in the sort list", srt.Var).
				WithDetail("variable", srt.Var)
		}
		seen[srt.Var] = true
	}

	if err := validateLabels(f, s.Labels); err != nil {
		return err
	}
	return s.Layout.validate()
}
