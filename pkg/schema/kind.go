// Package schema provides the metadata model of a display (variable
// descriptors, panel sources, the typed metadata frame) and the type
// inference engine that derives descriptors from raw table columns.
package schema

import (
	"github.com/ajitpratap0/trellis/pkg/errors"
)

// Kind is the semantic type of a variable. The set is closed: every switch
// over Kind handles each constant and treats anything else as an internal
// error.
type Kind string

const (
	// KindFactor is a categorical variable with an ordered set of levels
	KindFactor Kind = "factor"
	// KindNumber is a real-valued variable
	KindNumber Kind = "number"
	// KindInteger is an integer-valued variable
	KindInteger Kind = "integer"
	// KindCurrency is a monetary amount
	KindCurrency Kind = "currency"
	// KindDate is a calendar date without a clock part
	KindDate Kind = "date"
	// KindDatetime is an instant, normalised to UTC
	KindDatetime Kind = "datetime"
	// KindString is free text
	KindString Kind = "string"
	// KindHyperlink is a URL rendered as a link
	KindHyperlink Kind = "hyperlink"
	// KindPanel references one asset per row
	KindPanel Kind = "panel"
)

// Kinds lists every kind in declaration order
var Kinds = []Kind{
	KindFactor, KindNumber, KindInteger, KindCurrency,
	KindDate, KindDatetime, KindString, KindHyperlink, KindPanel,
}

// ParseKind converts a configuration string into a Kind
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", errors.Newf(errors.ErrorTypeConfig, "unknown variable kind %q", s).
			WithDetail("kind", s)
	}
	return k, nil
}

// Valid reports whether k is one of the declared kinds
func (k Kind) Valid() bool {
	switch k {
	case KindFactor, KindNumber, KindInteger, KindCurrency,
		KindDate, KindDatetime, KindString, KindHyperlink, KindPanel:
		return true
	default:
		return false
	}
}

// IsNumeric reports whether values are compared as numbers
func (k Kind) IsNumeric() bool {
	return k == KindNumber || k == KindInteger || k == KindCurrency
}

// IsTemporal reports whether values are time.Time in memory
func (k Kind) IsTemporal() bool {
	return k == KindDate || k == KindDatetime
}

// IsText reports whether values are free strings in memory
func (k Kind) IsText() bool {
	return k == KindString || k == KindHyperlink
}

// Searchable reports whether free-text search looks at this kind
func (k Kind) Searchable() bool {
	return k.IsText() || k == KindFactor
}

func (k Kind) String() string {
	return string(k)
}
