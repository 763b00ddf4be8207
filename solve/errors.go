package solve

import (
	"bytes"
	"fmt"

	semver "github.com/Masterminds/semver/v3"
)

func a2vs(a ID) string {
	if a.IsRoot() {
		return "(root)"
	}
	return fmt.Sprintf("%s@%s", a.errString(), a.v)
}

// traceError is a failure that can render itself compactly for trace
// output, in addition to the full prose of Error().
type traceError interface {
	traceString() string
}

// IsResolutionFailure reports whether an error from Solve indicates an
// unsatisfiable input, as opposed to a source transport failure or bad
// invocation. Front-ends use it to pick an exit code.
func IsResolutionFailure(err error) bool {
	switch err.(type) {
	case *noVersionError, *disjointConstraintFailure, *constraintNotAllowedFailure,
		*versionNotAllowedFailure, *descriptionMismatchFailure, *sdkIncompatibilityFailure:
		return true
	}
	return false
}

// badOptsFailure reports invalid arguments to Prepare.
type badOptsFailure string

func (e badOptsFailure) Error() string {
	return string(e)
}

// noVersionError reports that a Ref's candidate queue was exhausted (or
// empty from the start). It carries the failure that eliminated each
// candidate; walking those dependers newest-first is the conflict
// explanation.
type noVersionError struct {
	ref   Ref
	fails []failedVersion
}

func (e *noVersionError) Error() string {
	if len(e.fails) == 0 {
		return fmt.Sprintf("No versions found for package %q.", e.ref.Name())
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "No versions of %s met constraints:", e.ref.Name())
	for _, f := range e.fails {
		fmt.Fprintf(&buf, "\n\t%s: %s", f.v.Version(), f.f.Error())
	}

	return buf.String()
}

func (e *noVersionError) traceString() string {
	if len(e.fails) == 0 {
		return "No versions found"
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "No versions of %s met constraints:", e.ref.Name())
	for _, f := range e.fails {
		if te, ok := f.f.(traceError); ok {
			fmt.Fprintf(&buf, "\n  %s: %s", f.v.Version(), te.traceString())
		} else {
			fmt.Fprintf(&buf, "\n  %s: %s", f.v.Version(), f.f.Error())
		}
	}

	return buf.String()
}

// disjointConstraintFailure occurs when attempting to introduce an atom
// whose constraint on some package has no overlap with the intersection of
// existing constraints on it.
type disjointConstraintFailure struct {
	// goal is the dependency that could not be introduced.
	goal dependency
	// failsib are the active dependencies that individually conflict with
	// the goal; nofailsib overlap individually but not jointly.
	failsib   []dependency
	nofailsib []dependency
	// c is the current intersection of all active constraints on the
	// target.
	c Constraint
}

func (e *disjointConstraintFailure) Error() string {
	if len(e.failsib) == 1 {
		str := "Could not introduce %s, as it depends on %s with constraint %s, which has no overlap with existing constraint %s from %s"
		return fmt.Sprintf(str, a2vs(e.goal.depender), e.goal.dep.Name(), e.goal.dep.Constraint(), e.failsib[0].dep.Constraint(), a2vs(e.failsib[0].depender))
	}

	var buf bytes.Buffer

	var sibs []dependency
	if len(e.failsib) > 1 {
		sibs = e.failsib

		str := "Could not introduce %s, as it depends on %s with constraint %s, which has no overlap with the following existing constraints:\n"
		fmt.Fprintf(&buf, str, a2vs(e.goal.depender), e.goal.dep.Name(), e.goal.dep.Constraint())
	} else {
		sibs = e.nofailsib

		str := "Could not introduce %s, as it depends on %s with constraint %s, which does not overlap with the intersection of existing constraints from other currently selected packages:\n"
		fmt.Fprintf(&buf, str, a2vs(e.goal.depender), e.goal.dep.Name(), e.goal.dep.Constraint())
	}

	for _, c := range sibs {
		fmt.Fprintf(&buf, "\t%s from %s\n", c.dep.Constraint(), a2vs(c.depender))
	}

	return buf.String()
}

func (e *disjointConstraintFailure) traceString() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "constraint %s on %s disjoint with other dependers:\n", e.goal.dep.Constraint(), e.goal.dep.Name())
	for _, f := range e.failsib {
		fmt.Fprintf(&buf, "%s from %s (no overlap)\n", f.dep.Constraint(), a2vs(f.depender))
	}
	for _, f := range e.nofailsib {
		fmt.Fprintf(&buf, "%s from %s (some overlap)\n", f.dep.Constraint(), a2vs(f.depender))
	}

	return buf.String()
}

// constraintNotAllowedFailure indicates that an atom could not be
// introduced because one of its dep constraints does not admit the
// currently-selected version of the target package.
type constraintNotAllowedFailure struct {
	// The dependency with the problematic constraint that could not be
	// introduced.
	goal dependency
	// The (currently selected) version of the target that was not
	// admissible.
	v *semver.Version
}

func (e *constraintNotAllowedFailure) Error() string {
	return fmt.Sprintf(
		"Could not introduce %s, as it depends on %s with constraint %s, which does not allow the currently selected version %s",
		a2vs(e.goal.depender),
		e.goal.dep.Name(),
		e.goal.dep.Constraint(),
		e.v,
	)
}

func (e *constraintNotAllowedFailure) traceString() string {
	return fmt.Sprintf(
		"%s depends on %s with %s, but that's already selected at %s",
		a2vs(e.goal.depender),
		e.goal.dep.Name(),
		e.goal.dep.Constraint(),
		e.v,
	)
}

// versionNotAllowedFailure describes a failure where an atom is rejected
// because its version is not allowed by current constraints.
type versionNotAllowedFailure struct {
	// The atom that was rejected by current constraints.
	goal ID
	// The active dependencies that actually rejected the atom; at least
	// one, but not necessarily all active dependencies on its Ref.
	failparent []dependency
	// The current constraint on the atom's Ref, the composite of all
	// active dependencies' constraints.
	c Constraint
}

func (e *versionNotAllowedFailure) Error() string {
	if len(e.failparent) == 1 {
		return fmt.Sprintf(
			"Could not introduce %s, as it is not allowed by constraint %s from package %s.",
			a2vs(e.goal),
			e.failparent[0].dep.Constraint(),
			e.failparent[0].depender.Name(),
		)
	}

	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Could not introduce %s, as it is not allowed by constraints from the following packages:\n", a2vs(e.goal))

	for _, f := range e.failparent {
		fmt.Fprintf(&buf, "\t%s from %s\n", f.dep.Constraint(), a2vs(f.depender))
	}

	return buf.String()
}

func (e *versionNotAllowedFailure) traceString() string {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "%s not allowed by constraint %s:\n", a2vs(e.goal), e.c)
	for _, f := range e.failparent {
		fmt.Fprintf(&buf, "  %s from %s\n", f.dep.Constraint(), a2vs(f.depender))
	}

	return buf.String()
}

// descriptionMismatchFailure occurs when two dependers agree on a package
// name but disagree about where it comes from. One name maps to one
// package within a solution; there is no version that can fix this, so the
// explanation lists everyone who established the current identity.
type descriptionMismatchFailure struct {
	// The package name over which there is disagreement.
	shared string
	// The currently established identity, and the dependencies that
	// established it.
	current Ref
	sel     []dependency
	// The incompatible identity, and the atom that carried it.
	mismatch Ref
	prob     ID
}

func (e *descriptionMismatchFailure) Error() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Could not introduce %s, as it depends on %s, but %s is already marked as coming from %s by:",
		a2vs(e.prob), e.mismatch.errString(), e.shared, e.current.errString())
	for _, c := range e.sel {
		fmt.Fprintf(&buf, "\n\t%s", a2vs(c.depender))
	}
	return buf.String()
}

func (e *descriptionMismatchFailure) traceString() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "disagreement on identity for %s:\n", e.shared)
	fmt.Fprintf(&buf, "  %s from %s\n", e.mismatch.errString(), a2vs(e.prob))
	for _, dep := range e.sel {
		fmt.Fprintf(&buf, "  %s from %s\n", e.current.errString(), a2vs(dep.depender))
	}

	return buf.String()
}

// sdkIncompatibilityFailure is a conflict on a magic package: some atom's
// environment requirement does not admit the version the environment is
// fixed at. No amount of version-walking on the goal's side can change the
// environment, so the message says what to change instead.
type sdkIncompatibilityFailure struct {
	// The dependency carrying the environment requirement.
	goal dependency
	// The fixed environment version that was not admissible.
	v *semver.Version
}

func (e *sdkIncompatibilityFailure) Error() string {
	return fmt.Sprintf(
		"%s requires %s version %s, but the current %s version is %s",
		a2vs(e.goal.depender),
		e.goal.dep.Name(),
		e.goal.dep.Constraint(),
		e.goal.dep.Name(),
		e.v,
	)
}

func (e *sdkIncompatibilityFailure) traceString() string {
	return fmt.Sprintf(
		"%s needs %s %s, env has %s",
		a2vs(e.goal.depender),
		e.goal.dep.Name(),
		e.goal.dep.Constraint(),
		e.v,
	)
}
