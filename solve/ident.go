package solve

import (
	"fmt"

	semver "github.com/Masterminds/semver/v3"
)

// relation distinguishes ordinary packages from the two synthetic kinds the
// solver knows about. The root package is the project being resolved; magic
// packages exist only to carry environment constraints (e.g. the SDK
// version) through the ordinary solving machinery.
type relation uint8

const (
	relNormal relation = iota
	relRoot
	relMagic
)

// A Description is an opaque, source-owned value locating a package: a
// registry URL for hosted packages, a {url, ref, path} record for git, a
// filesystem path for path packages. Only the owning Source may interpret
// one; everything else treats it as a blob.
//
// Descriptions handed out by ParseRef/ParseID are in the owning source's
// canonical form, so two Descriptions for the same package compare equal
// structurally. Semantic comparison of possibly-non-canonical inputs always
// goes through Source.DescriptionsEqual.
type Description interface {
	fmt.Stringer

	// Blob returns the serializable shape of the description, as it should
	// appear in a lockfile. The owning source's ParseDescription must accept
	// it back unchanged.
	Blob() map[string]interface{}
}

// A Ref names a package without saying anything about its version: which
// package, from where. Refs are the currency of the solver's bookkeeping -
// constraint accumulation, selection state, and version queues are all
// indexed by Ref.
type Ref struct {
	name   string
	source string
	desc   Description
	rel    relation
}

// NewRef creates a Ref for an ordinary package. The source name must be
// non-empty and the description non-nil; a Ref without a home is a
// programmer error, so this panics rather than limping along.
func NewRef(name, source string, desc Description) Ref {
	if source == "" || desc == nil {
		panic(fmt.Sprintf("attempted to create ref for %q with no source", name))
	}
	return Ref{name: name, source: source, desc: desc}
}

// RootRef creates the Ref for the project being resolved. It has no source
// and no description; it is never listed or fetched.
func RootRef(name string) Ref {
	return Ref{name: name, rel: relRoot}
}

// MagicRef creates a Ref for a synthetic package used to inject environment
// constraints into the dependency graph. Magic packages participate in
// solving but are never retrieved.
func MagicRef(name string) Ref {
	return Ref{name: name, rel: relMagic}
}

func (r Ref) Name() string { return r.name }

// SourceName returns the name of the owning source, or the empty string for
// root and magic refs.
func (r Ref) SourceName() string { return r.source }

// Desc returns the source-specific description, nil for root and magic refs.
func (r Ref) Desc() Description { return r.desc }

func (r Ref) IsRoot() bool  { return r.rel == relRoot }
func (r Ref) IsMagic() bool { return r.rel == relMagic }

// ToRef returns the receiver. It exists so that Refs, IDs and Ranges can be
// treated uniformly when only identity matters.
func (r Ref) ToRef() Ref { return r }

// WithConstraint pairs the Ref with a constraint, producing a Range with an
// empty feature set.
func (r Ref) WithConstraint(c Constraint) Range {
	return Range{Ref: r, c: c}
}

// key produces a stable map key for the Ref. Descriptions are canonical by
// construction, so the key is faithful to ref identity.
func (r Ref) key() string {
	if r.rel != relNormal {
		return fmt.Sprintf("%d\x00%s", r.rel, r.name)
	}
	return fmt.Sprintf("0\x00%s\x00%s\x00%s", r.name, r.source, r.desc.String())
}

func (r Ref) eq(o Ref) bool {
	if r.name != o.name || r.rel != o.rel {
		return false
	}
	if r.rel != relNormal {
		return true
	}
	return r.source == o.source && r.desc.String() == o.desc.String()
}

func (r Ref) less(o Ref) bool {
	if r.name != o.name {
		return r.name < o.name
	}
	return r.key() < o.key()
}

// errString renders the ref the way failure messages want it: the bare name
// when the source carries no extra information, name-plus-origin otherwise.
func (r Ref) errString() string {
	if r.rel != relNormal {
		return r.name
	}
	return fmt.Sprintf("%s from %s %s", r.name, r.source, r.desc)
}

func (r Ref) String() string { return r.errString() }

// An ID is a fully resolved package coordinate: a Ref plus one concrete
// version. IDs are created by sources (version enumeration, lockfile
// rehydration) and by the solver when it fixes a candidate; they are
// immutable and retrievable.
//
// Two IDs with different descriptions may well denote the same bits on two
// mirrors; the solver deliberately treats them as distinct.
type ID struct {
	Ref
	v *semver.Version
}

// NewID pairs a Ref with a version.
func NewID(r Ref, v *semver.Version) ID {
	if v == nil {
		panic(fmt.Sprintf("attempted to create ID for %q with nil version", r.name))
	}
	return ID{Ref: r, v: v}
}

func (i ID) Version() *semver.Version { return i.v }

// isZero reports whether the ID is the zero value, used as a "no ID here"
// sentinel throughout the solver.
func (i ID) isZero() bool { return i.v == nil }

func (i ID) eq(j ID) bool {
	if i.v == nil || j.v == nil {
		return i.v == nil && j.v == nil && i.Ref.eq(j.Ref)
	}
	return i.Ref.eq(j.Ref) && i.v.Equal(j.v)
}

func (i ID) key() string {
	return i.Ref.key() + "\x00" + i.v.String()
}

func (i ID) errString() string {
	if i.rel != relNormal {
		return i.name
	}
	return fmt.Sprintf("%s %s", i.name, i.v)
}

func (i ID) String() string { return i.errString() }

// A Range scopes a Ref down to the versions some depender will accept, plus
// the feature set it wants enabled on the package.
type Range struct {
	Ref
	c        Constraint
	features map[string]bool
}

// NewRange builds a Range over the given ref. A nil constraint means "any".
func NewRange(r Ref, c Constraint, features map[string]bool) Range {
	if c == nil {
		c = Any()
	}
	return Range{Ref: r, c: c, features: features}
}

func (r Range) Constraint() Constraint {
	if r.c == nil {
		return Any()
	}
	return r.c
}

// Features returns the feature set carried by the Range. The map must not
// be mutated; it is shared structurally.
func (r Range) Features() map[string]bool { return r.features }

// SamePackage reports whether the Range and the ID name the same package.
// Descriptions are in canonical form, so this comparison is exact.
func (r Range) SamePackage(i ID) bool {
	return r.Ref.eq(i.Ref)
}

// Allows reports whether the ID is an acceptable selection for this Range.
func (r Range) Allows(i ID) bool {
	return r.SamePackage(i) && r.Constraint().Matches(i.Version())
}

// WithFeatures returns a Range whose feature set is the union of the
// receiver's and fs. An empty fs returns the receiver unchanged.
func (r Range) WithFeatures(fs map[string]bool) Range {
	if len(fs) == 0 {
		return r
	}
	merged := make(map[string]bool, len(r.features)+len(fs))
	for f := range r.features {
		merged[f] = true
	}
	for f := range fs {
		merged[f] = true
	}
	r.features = merged
	return r
}

// eq compares Ranges for full equality: identity, constraint, and feature
// set. Feature sets are unordered, so only membership matters.
func (r Range) eq(o Range) bool {
	if !r.Ref.eq(o.Ref) || r.Constraint().String() != o.Constraint().String() {
		return false
	}
	if len(r.features) != len(o.features) {
		return false
	}
	for f := range r.features {
		if !o.features[f] {
			return false
		}
	}
	return true
}

func (r Range) errString() string {
	return fmt.Sprintf("%s %s", r.name, r.Constraint())
}

func (r Range) String() string { return r.errString() }
