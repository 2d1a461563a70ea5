// Package identity decides whether two records denote the same real-world
// entity. Matching is pure: it never mutates its inputs and always returns
// the same answer for the same pair.
package identity

import (
	"github.com/p-blackswan/statusboard/internal/record"
)

// Rule names the matching rule that decided a comparison.
type Rule int

const (
	// RuleNone means neither rule matched.
	RuleNone Rule = iota
	// RuleID matched on equal ids. Used whenever both records carry an id.
	RuleID
	// RuleAttributes matched on full name plus DNI, or OS when DNI is missing.
	RuleAttributes
)

func (r Rule) String() string {
	switch r {
	case RuleID:
		return "id"
	case RuleAttributes:
		return "attributes"
	default:
		return "none"
	}
}

// Default attribute names, as produced by the reception spreadsheet.
const (
	DefaultNameField     = "NOMBRE Y APELLIDO"
	DefaultPrimaryField  = "DNI"
	DefaultFallbackField = "OS"
)

// Resolver holds the attribute names used by the fallback rule.
type Resolver struct {
	NameField     string
	PrimaryField  string
	FallbackField string
}

// DefaultResolver returns a resolver using the default attribute names.
func DefaultResolver() Resolver {
	return Resolver{
		NameField:     DefaultNameField,
		PrimaryField:  DefaultPrimaryField,
		FallbackField: DefaultFallbackField,
	}
}

// Equivalent reports whether a and b refer to the same entity.
func (r Resolver) Equivalent(a, b record.Record) bool {
	return r.Match(a, b) != RuleNone
}

// Match returns the rule that made a and b equivalent, or RuleNone.
//
// When both records carry an id the ids alone decide; two records with
// different ids never fall through to the attribute rule.
func (r Resolver) Match(a, b record.Record) Rule {
	idA, idB := a.ID(), b.ID()
	if idA != "" && idB != "" {
		if idA == idB {
			return RuleID
		}
		return RuleNone
	}

	name := a.String(r.NameField)
	if name == "" || name != b.String(r.NameField) {
		return RuleNone
	}

	secondary := r.FallbackField
	if a.String(r.PrimaryField) != "" && b.String(r.PrimaryField) != "" {
		secondary = r.PrimaryField
	}
	if a.String(secondary) != b.String(secondary) {
		return RuleNone
	}
	return RuleAttributes
}

// IndexOf returns the position of the first entry in list equivalent to
// target, or -1.
func (r Resolver) IndexOf(list []record.Record, target record.Record) int {
	for i, entry := range list {
		if r.Equivalent(entry, target) {
			return i
		}
	}
	return -1
}
