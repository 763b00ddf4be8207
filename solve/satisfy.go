package solve

// check performs all constraint checks on a candidate atom we want to
// select. It determines if selecting the atom would result in a state where
// all solver requirements are still satisfied.
func (s *solver) check(a ID) error {
	if a.isZero() {
		// This shouldn't be able to happen, but if it does, it unequivocally
		// indicates a logical bug somewhere, so blowing up is preferable
		panic("canary - checking version of empty atom")
	}

	if err := s.checkAtomAllowable(a); err != nil {
		return err
	}

	deps, err := s.depsOf(a)
	if err != nil {
		// An err here is from the source layer; pass it straight back
		return err
	}

	for _, dep := range deps {
		if err := s.checkIdentMatches(a, dep); err != nil {
			return err
		}
		if err := s.checkDepsConstraintsAllowable(a, dep); err != nil {
			return err
		}
		if err := s.checkDepsDisallowsSelected(a, dep); err != nil {
			return err
		}
	}

	return nil
}

// checkAtomAllowable ensures that an atom itself is acceptable with respect
// to the constraints established by the current solution.
func (s *solver) checkAtomAllowable(a ID) error {
	constraint := s.sel.getConstraint(a.Ref)
	if constraint.Matches(a.Version()) {
		return nil
	}

	deps := s.sel.getDependenciesOn(a.Ref)
	var failparent []dependency
	for _, dep := range deps {
		if !dep.dep.Constraint().Matches(a.Version()) {
			s.fail(dep.depender.Ref)
			failparent = append(failparent, dep)
		}
	}

	err := &versionNotAllowedFailure{
		goal:       a,
		failparent: failparent,
		c:          constraint,
	}
	s.traceInfo(err)
	return err
}

// checkIdentMatches ensures that the name of a dep introduced by an atom
// resolves to the same package as whatever established the name earlier.
// In other words, the solver never simultaneously selects two refs that
// share a name but disagree about where the package comes from.
func (s *solver) checkIdentMatches(a ID, dep Range) error {
	cur, exists := s.names[dep.Name()]
	if !exists || cur.eq(dep.Ref) {
		return nil
	}

	same, err := s.b.sameRefs(cur, dep.Ref)
	if err != nil {
		return err
	}
	if same {
		return nil
	}

	deps := s.sel.getDependenciesOn(a.Ref)
	// Fail all the other deps, as there's no way the atom can ever be
	// compatible with them
	for _, d := range deps {
		s.fail(d.depender.Ref)
	}

	err2 := &descriptionMismatchFailure{
		shared:   dep.Name(),
		sel:      s.sel.getDependenciesOn(cur),
		current:  cur,
		mismatch: dep.Ref,
		prob:     a,
	}
	s.traceInfo(err2)
	return err2
}

// checkDepsConstraintsAllowable checks that the constraints of an atom on a
// given dep are valid with respect to existing constraints.
func (s *solver) checkDepsConstraintsAllowable(a ID, dep Range) error {
	constraint := s.sel.getConstraint(dep.Ref)
	// Ensure the constraint expressed by the dep has at least some possible
	// intersection with the intersection of existing constraints.
	if constraint.MatchesAny(dep.Constraint()) {
		return nil
	}

	siblings := s.sel.getDependenciesOn(dep.Ref)
	// No admissible versions - visit all siblings and identify the
	// disagreement(s)
	var failsib []dependency
	var nofailsib []dependency
	for _, sibling := range siblings {
		if !sibling.dep.Constraint().MatchesAny(dep.Constraint()) {
			s.fail(sibling.depender.Ref)
			failsib = append(failsib, sibling)
		} else {
			nofailsib = append(nofailsib, sibling)
		}
	}

	err := &disjointConstraintFailure{
		goal:      dependency{depender: a, dep: dep},
		failsib:   failsib,
		nofailsib: nofailsib,
		c:         constraint,
	}
	s.traceInfo(err)
	return err
}

// checkDepsDisallowsSelected ensures that an atom's constraints on a
// particular dep are not incompatible with the version of that dep that's
// already been selected.
func (s *solver) checkDepsDisallowsSelected(a ID, dep Range) error {
	selected, exists := s.sel.selected(dep.Ref)
	if !exists || dep.Constraint().Matches(selected.Version()) {
		return nil
	}

	s.fail(dep.Ref)

	// A conflict on a magic package is an environment mismatch, not a
	// version-picking problem; it gets its own failure so the report can
	// say so.
	if dep.IsMagic() {
		err := &sdkIncompatibilityFailure{
			goal: dependency{depender: a, dep: dep},
			v:    selected.Version(),
		}
		s.traceInfo(err)
		return err
	}

	err := &constraintNotAllowedFailure{
		goal: dependency{depender: a, dep: dep},
		v:    selected.Version(),
	}
	s.traceInfo(err)
	return err
}
