package solve

import (
	"fmt"
	"strings"

	semver "github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
)

var (
	none = noneConstraint{}
	any  = anyConstraint{}
)

// A Constraint provides structured limitations on the versions that are
// admissible for a given package.
//
// The private method is deliberate: the set of implementations is closed,
// and intersection relies on type switching over exactly these.
type Constraint interface {
	fmt.Stringer
	// Matches indicates if the provided version is allowed by the Constraint.
	Matches(*semver.Version) bool
	// MatchesAny indicates if the intersection of the Constraint with the
	// provided Constraint could allow any version at all.
	MatchesAny(Constraint) bool
	// Intersect computes the intersection of the Constraint with the
	// provided Constraint.
	Intersect(Constraint) Constraint
	_private()
}

func (anyConstraint) _private()   {}
func (noneConstraint) _private()  {}
func (exactConstraint) _private() {}
func (rangeConstraint) _private() {}

// Any returns a constraint that will match anything.
func Any() Constraint {
	return any
}

// None returns the empty constraint, matched by no version.
func None() Constraint {
	return none
}

// IsAny indicates if the provided constraint is the wildcard "any".
func IsAny(c Constraint) bool {
	_, ok := c.(anyConstraint)
	return ok
}

// Exactly returns a constraint admitting only the given version.
func Exactly(v *semver.Version) Constraint {
	return exactConstraint{v: v}
}

// ParseConstraint interprets a constraint expression. The accepted grammar
// is the pub one: "any" (or the empty string), a bare version, a caret
// expression like "^1.2.3", or a sequence of comparators such as
// ">=1.2.3 <3.0.0" joined by spaces or commas.
func ParseConstraint(body string) (Constraint, error) {
	body = strings.TrimSpace(body)
	if body == "" || body == "any" {
		return any, nil
	}

	if strings.HasPrefix(body, "^") {
		v, err := semver.NewVersion(body[1:])
		if err != nil {
			return nil, errors.Wrapf(err, "invalid version in %q", body)
		}
		return caretRange(v), nil
	}

	fields := strings.FieldsFunc(body, func(r rune) bool {
		return r == ' ' || r == ','
	})

	// A single field with no comparator is an exact version.
	if len(fields) == 1 && !strings.ContainsAny(fields[0], "<>=") {
		v, err := semver.NewVersion(fields[0])
		if err != nil {
			return nil, errors.Wrapf(err, "invalid version %q", body)
		}
		return exactConstraint{v: v}, nil
	}

	c := Constraint(any)
	for _, f := range fields {
		part, err := parseComparator(f)
		if err != nil {
			return nil, err
		}
		c = c.Intersect(part)
	}
	if c == Constraint(none) {
		return nil, errors.Errorf("constraint %q admits no versions", body)
	}
	return c, nil
}

func parseComparator(f string) (Constraint, error) {
	var op string
	switch {
	case strings.HasPrefix(f, ">="), strings.HasPrefix(f, "<="):
		op, f = f[:2], f[2:]
	case strings.HasPrefix(f, ">"), strings.HasPrefix(f, "<"), strings.HasPrefix(f, "="):
		op, f = f[:1], f[1:]
	default:
		op = "="
	}

	v, err := semver.NewVersion(f)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid version in comparator %q", op+f)
	}

	switch op {
	case "=":
		return exactConstraint{v: v}, nil
	case ">=":
		return rangeConstraint{min: v, includeMin: true}, nil
	case ">":
		return rangeConstraint{min: v}, nil
	case "<=":
		return rangeConstraint{max: v, includeMax: true}, nil
	default: // "<"
		return rangeConstraint{max: v}, nil
	}
}

// caretRange returns the range denoted by ^v: compatible-with semantics,
// bumping the leftmost nonzero component for the exclusive upper bound.
func caretRange(v *semver.Version) Constraint {
	var max *semver.Version
	switch {
	case v.Major() > 0:
		max = semver.New(v.Major()+1, 0, 0, "", "")
	case v.Minor() > 0:
		max = semver.New(0, v.Minor()+1, 0, "", "")
	default:
		max = semver.New(0, 0, v.Patch()+1, "", "")
	}
	return rangeConstraint{min: v, max: max, includeMin: true}
}

// anyConstraint is the unbounded constraint; it matches everything.
type anyConstraint struct{}

func (anyConstraint) String() string               { return "any" }
func (anyConstraint) Matches(*semver.Version) bool { return true }
func (anyConstraint) MatchesAny(Constraint) bool   { return true }

func (anyConstraint) Intersect(c Constraint) Constraint {
	return c
}

// noneConstraint is the empty set; it matches no versions.
type noneConstraint struct{}

func (noneConstraint) String() string               { return "<none>" }
func (noneConstraint) Matches(*semver.Version) bool { return false }
func (noneConstraint) MatchesAny(Constraint) bool   { return false }

func (noneConstraint) Intersect(Constraint) Constraint {
	return none
}

// exactConstraint admits a single version.
type exactConstraint struct {
	v *semver.Version
}

func (c exactConstraint) String() string { return c.v.String() }

func (c exactConstraint) Matches(v *semver.Version) bool {
	return c.v.Equal(v)
}

func (c exactConstraint) MatchesAny(c2 Constraint) bool {
	return c.Intersect(c2) != Constraint(none)
}

func (c exactConstraint) Intersect(c2 Constraint) Constraint {
	switch tc := c2.(type) {
	case anyConstraint:
		return c
	case noneConstraint:
		return none
	case exactConstraint:
		if c.v.Equal(tc.v) {
			return c
		}
	case rangeConstraint:
		if tc.Matches(c.v) {
			return c
		}
	}
	return none
}

// rangeConstraint is a contiguous, possibly half-open version interval.
// A nil bound means unbounded on that side.
type rangeConstraint struct {
	min, max               *semver.Version
	includeMin, includeMax bool
}

func (c rangeConstraint) String() string {
	var parts []string
	if c.min != nil {
		if c.includeMin {
			parts = append(parts, ">="+c.min.String())
		} else {
			parts = append(parts, ">"+c.min.String())
		}
	}
	if c.max != nil {
		if c.includeMax {
			parts = append(parts, "<="+c.max.String())
		} else {
			parts = append(parts, "<"+c.max.String())
		}
	}
	if len(parts) == 0 {
		return "any"
	}
	return strings.Join(parts, " ")
}

func (c rangeConstraint) Matches(v *semver.Version) bool {
	if c.min != nil {
		cmp := v.Compare(c.min)
		if cmp < 0 || (cmp == 0 && !c.includeMin) {
			return false
		}
	}
	if c.max != nil {
		cmp := v.Compare(c.max)
		if cmp > 0 || (cmp == 0 && !c.includeMax) {
			return false
		}
	}
	return true
}

func (c rangeConstraint) MatchesAny(c2 Constraint) bool {
	return c.Intersect(c2) != Constraint(none)
}

func (c rangeConstraint) Intersect(c2 Constraint) Constraint {
	switch tc := c2.(type) {
	case anyConstraint:
		return c
	case noneConstraint:
		return none
	case exactConstraint:
		return tc.Intersect(c)
	case rangeConstraint:
		nr := rangeConstraint{
			min:        c.min,
			max:        c.max,
			includeMin: c.includeMin,
			includeMax: c.includeMax,
		}

		if tc.min != nil {
			if nr.min == nil || nr.min.LessThan(tc.min) {
				nr.min, nr.includeMin = tc.min, tc.includeMin
			} else if nr.min.Equal(tc.min) {
				nr.includeMin = nr.includeMin && tc.includeMin
			}
		}
		if tc.max != nil {
			if nr.max == nil || nr.max.GreaterThan(tc.max) {
				nr.max, nr.includeMax = tc.max, tc.includeMax
			} else if nr.max.Equal(tc.max) {
				nr.includeMax = nr.includeMax && tc.includeMax
			}
		}

		if nr.min != nil && nr.max != nil {
			switch nr.min.Compare(nr.max) {
			case 1:
				return none
			case 0:
				if !nr.includeMin || !nr.includeMax {
					return none
				}
				return exactConstraint{v: nr.min}
			}
		}
		return nr
	}
	return none
}
