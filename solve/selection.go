package solve

// dependency is one edge in the derivation graph: the atom whose manifest
// introduced a requirement, and the requirement itself. The accumulated
// edges per Ref are the constraint store; walking dependers backwards is
// how conflicts get explained.
type dependency struct {
	depender ID
	dep      Range
}

// selection is the stack of atoms that have passed all satisfiability
// checks and are part of the current partial solution, together with the
// dependency records imposed on each Ref by those atoms.
//
// selection is a dumb data container; the solver is responsible for
// maintaining its invariants.
type selection struct {
	atoms []ID
	deps  map[string][]dependency
}

func newSelection() *selection {
	return &selection{
		deps: make(map[string][]dependency),
	}
}

func (s *selection) getDependenciesOn(ref Ref) []dependency {
	return s.deps[ref.key()]
}

func (s *selection) pushSelection(a ID) {
	s.atoms = append(s.atoms, a)
}

func (s *selection) popSelection() ID {
	var a ID
	a, s.atoms = s.atoms[len(s.atoms)-1], s.atoms[:len(s.atoms)-1]
	return a
}

func (s *selection) pushDep(dep dependency) {
	k := dep.dep.Ref.key()
	s.deps[k] = append(s.deps[k], dep)
}

func (s *selection) popDep(ref Ref) {
	k := ref.key()
	deps := s.deps[k]
	s.deps[k] = deps[:len(deps)-1]
}

func (s *selection) depperCount(ref Ref) int {
	return len(s.deps[ref.key()])
}

// getConstraint assembles the intersection of all constraints currently
// imposed on ref. The solver maintains the invariant that the intersection
// here is never empty for a selected ref.
func (s *selection) getConstraint(ref Ref) Constraint {
	deps := s.deps[ref.key()]
	if len(deps) == 0 {
		return Any()
	}

	c := Constraint(any)
	for _, dep := range deps {
		c = c.Intersect(dep.dep.Constraint())
	}
	return c
}

// getFeatures unions the feature sets requested by every depender on ref.
func (s *selection) getFeatures(ref Ref) map[string]bool {
	var out map[string]bool
	for _, dep := range s.deps[ref.key()] {
		for f := range dep.dep.Features() {
			if out == nil {
				out = make(map[string]bool)
			}
			out[f] = true
		}
	}
	return out
}

func (s *selection) selected(ref Ref) (ID, bool) {
	for _, a := range s.atoms {
		if a.Ref.eq(ref) {
			return a, true
		}
	}
	return ID{}, false
}

// unselected is the priority queue of Refs that still need a decision. The
// comparator is provided by the solver so ordering can consult solver
// state.
type unselected struct {
	sl  []Ref
	cmp func(i, j int) bool
}

func (u unselected) Len() int           { return len(u.sl) }
func (u unselected) Less(i, j int) bool { return u.cmp(i, j) }
func (u unselected) Swap(i, j int)      { u.sl[i], u.sl[j] = u.sl[j], u.sl[i] }

func (u *unselected) Push(x interface{}) {
	u.sl = append(u.sl, x.(Ref))
}

func (u *unselected) Pop() (v interface{}) {
	v, u.sl = u.sl[len(u.sl)-1], u.sl[:len(u.sl)-1]
	return v
}

// remove takes a Ref out of the queue (if present). The caller re-heapifies
// if ordering matters afterwards.
func (u *unselected) remove(ref Ref) {
	for k, r := range u.sl {
		if r.eq(ref) {
			if k == len(u.sl)-1 {
				u.sl = u.sl[:k]
			} else {
				u.sl = append(u.sl[:k], u.sl[k+1:]...)
			}
			return
		}
	}
}
