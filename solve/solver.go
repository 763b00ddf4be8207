package solve

import (
	"container/heap"
	"context"
	"fmt"
	"log"
	"sort"

	semver "github.com/Masterminds/semver/v3"
)

// Mode selects how the solver treats the prior lockfile.
type Mode uint8

const (
	// ModeGet honors the lockfile wherever constraints still allow it.
	ModeGet Mode = iota
	// ModeUpgrade ignores the lockfile for the unlock set (by default,
	// every package) and prefers the newest admissible versions.
	ModeUpgrade
	// ModeDowngrade is ModeUpgrade with the candidate order reversed.
	ModeDowngrade
)

func (m Mode) String() string {
	switch m {
	case ModeGet:
		return "get"
	case ModeUpgrade:
		return "upgrade"
	case ModeDowngrade:
		return "downgrade"
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// SolveParameters hold all arguments to a solver run.
//
// Only Manifest is absolutely required; everything else has a useful zero
// value.
type SolveParameters struct {
	// The root manifest. This contains all the dependency constraints
	// associated with normal manifests, as well as the controls afforded
	// only to the root project (dev_dependencies among them).
	Manifest Manifest

	// The root lock. Optional; generally the output of a previous solve.
	// If provided, the solver will attempt to preserve the versions
	// specified in it, unless Mode or ToChange indicate otherwise.
	Lock Lock

	// Mode is the lockfile policy: get, upgrade, or downgrade.
	Mode Mode

	// ToChange is the unlock set: package names whose lockfile pins should
	// be ignored. For upgrade and downgrade, an empty ToChange means
	// "everything"; for get it means "nothing".
	ToChange []string

	// Env fixes the versions of magic packages for this resolution, e.g.
	// the installed SDK version under the "sdk" key.
	Env map[string]*semver.Version

	// Trace controls whether the solver generates informative trace output
	// as it moves through the solving process.
	Trace bool

	// TraceLogger is the logger to use for trace output. Required when
	// Trace is true.
	TraceLogger *log.Logger
}

// A Solver takes a set of project inputs and performs a constraint-solving
// analysis to develop a complete Result, or else fails with an informative
// error.
type Solver interface {
	Solve(context.Context) (Result, error)
}

// solver is a backtracking constraint solver with satisfiability conditions
// hardcoded to the package management problem space.
type solver struct {
	// The current number of attempts made over the course of this solve.
	// This number increments each time the algorithm completes a backtrack
	// and starts moving forward again.
	attempts int

	params SolveParameters

	// Logger used exclusively for trace output, if the trace option is set.
	tl *log.Logger

	// The bridge between the solver and the SourceManager: it interposes
	// the synthetic packages (root, magic) and applies mode-dependent
	// candidate ordering.
	b *bridge

	// A stack of the atoms that have passed all satisfiability checks and
	// are part of the current solution.
	sel *selection

	// The current list of Refs we need to incorporate into the solution
	// for it to be complete, as a priority queue that places the Refs
	// least likely to induce backtracking at the front.
	unsel *unselected

	// A stack of all the currently active versionQueues. The set of Refs
	// represented here corresponds to what's in s.sel, excluding the root
	// and magic atoms.
	vqs []*versionQueue

	// The unlock set, and whether it is "everything".
	chng    map[string]struct{}
	chngAll bool

	// Established package identity per name. The solver never allows two
	// non-equivalent Refs to share a name within one solution.
	names map[string]Ref

	// The names in the root's lock, keyed by package name.
	rlm map[string]ID

	// Root identity, fixed for the whole run.
	rm      Manifest
	rootRef Ref
	rootID  ID
}

// Prepare readies a Solver for use. It reads and validates the provided
// SolveParameters, returning an error if a problem with the inputs is
// detected.
func Prepare(params SolveParameters, sm SourceManager) (Solver, error) {
	if sm == nil {
		return nil, badOptsFailure("must provide a non-nil SourceManager")
	}
	if params.Manifest == nil {
		return nil, badOptsFailure("params must include a root manifest")
	}
	if params.Manifest.Name() == "" {
		return nil, badOptsFailure("root manifest must declare a package name")
	}
	if params.Trace && params.TraceLogger == nil {
		return nil, badOptsFailure("trace requested, but no logger provided")
	}

	s := &solver{
		params:  params,
		tl:      params.TraceLogger,
		rm:      params.Manifest,
		chng:    make(map[string]struct{}),
		names:   make(map[string]Ref),
		rlm:     make(map[string]ID),
		chngAll: params.Mode != ModeGet && len(params.ToChange) == 0,
	}

	s.b = &bridge{
		sm:   sm,
		env:  params.Env,
		down: params.Mode == ModeDowngrade,
		ctx:  context.Background(),
	}

	for _, n := range params.ToChange {
		s.chng[n] = struct{}{}
	}

	if params.Lock != nil {
		for _, id := range params.Lock.Packages() {
			s.rlm[id.Name()] = id
		}
	}

	s.sel = newSelection()
	s.unsel = &unselected{
		sl:  make([]Ref, 0),
		cmp: s.unselectedComparator,
	}

	v := s.rm.Version()
	if v == nil {
		v = rootVersion
	}
	s.rootRef = RootRef(s.rm.Name())
	s.rootID = NewID(s.rootRef, v)

	return s, nil
}

// Solve attempts to find a dependency solution for the given project, as
// represented by the SolveParameters with which this Solver was created.
func (s *solver) Solve(ctx context.Context) (Result, error) {
	s.b.ctx = ctx

	if err := s.selectRoot(); err != nil {
		return Result{}, err
	}

	all, err := s.solve(ctx)

	var res Result
	if err == nil {
		res = Result{p: all, att: s.attempts}
		sort.Slice(res.p, func(i, j int) bool { return res.p[i].less(res.p[j].Ref) })
	}

	s.traceFinish(res, err)
	return res, err
}

// solve is the top-level loop for the solving process.
func (s *solver) solve(ctx context.Context) ([]ID, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ref, has := s.nextUnselected()
		if !has {
			// no more packages to select - we're done.
			break
		}

		queue, err := s.createVersionQueue(ref)
		if err != nil {
			// A source transport failure is not a solvable condition; it
			// aborts the run as-is, never feeding the backtracker.
			if _, fatal := err.(*SourceUnavailableError); fatal {
				return nil, err
			}

			// Err means a failure somewhere down the line; try backtracking.
			s.traceStartBacktrack(ref, err)
			if s.backtrack() {
				// backtracking succeeded, move to the next unselected ref
				continue
			}
			return nil, err
		}

		if queue.current().isZero() {
			panic("canary - queue is empty, but flow indicates success")
		}

		s.selectAtom(queue.current())
		s.vqs = append(s.vqs, queue)
	}

	// Getting this far means we successfully found a solution. Skip the
	// root and the magic atoms; neither belongs in results.
	var projs []ID
	for _, a := range s.sel.atoms[1:] {
		if a.IsMagic() {
			continue
		}
		projs = append(projs, a)
	}
	return projs, nil
}

// selectRoot is a specialized selectAtom, used solely to initially populate
// the queues at the beginning of a solve run.
func (s *solver) selectRoot() error {
	s.sel.pushSelection(s.rootID)

	// Magic packages have their versions fixed by the environment before
	// anything else happens; constraints on them behave like constraints
	// on any other selected atom from here on.
	magics := make([]string, 0, len(s.params.Env))
	for n := range s.params.Env {
		magics = append(magics, n)
	}
	sort.Strings(magics)
	for _, n := range magics {
		s.sel.pushSelection(NewID(MagicRef(n), s.params.Env[n]))
	}

	deps, err := s.depsOf(s.rootID)
	if err != nil {
		return err
	}

	for _, dep := range deps {
		if cur, has := s.names[dep.Name()]; has && !cur.eq(dep.Ref) {
			same, serr := s.b.sameRefs(cur, dep.Ref)
			if serr != nil {
				return serr
			}
			if !same {
				return &descriptionMismatchFailure{
					shared:   dep.Name(),
					current:  cur,
					mismatch: dep.Ref,
					prob:     s.rootID,
				}
			}
		}

		// A root constraint on an already-fixed atom (in practice, a magic
		// package) is verified immediately; there is no queue to walk for
		// it later.
		if selID, ok := s.sel.selected(dep.Ref); ok {
			if !dep.Constraint().Matches(selID.Version()) {
				if dep.IsMagic() {
					return &sdkIncompatibilityFailure{
						goal: dependency{depender: s.rootID, dep: dep},
						v:    selID.Version(),
					}
				}
				return &constraintNotAllowedFailure{
					goal: dependency{depender: s.rootID, dep: dep},
					v:    selID.Version(),
				}
			}
			s.sel.pushDep(dependency{depender: s.rootID, dep: dep})
			continue
		}

		s.sel.pushDep(dependency{depender: s.rootID, dep: dep})
		if s.sel.depperCount(dep.Ref) == 1 {
			s.names[dep.Name()] = dep.Ref
			heap.Push(s.unsel, dep.Ref)
		}
	}

	s.traceSelectRoot(deps)
	return nil
}

// depsOf assembles every Range the atom imposes on the solution: its
// unconditional dependencies, its dev dependencies when (and only when) it
// is the root, its environment constraints as ranges over magic packages,
// its feature-gated groups for the features enabled on it, and the
// conditional groups its feature requests newly enable on already-selected
// packages.
//
// The result is deterministic given the selection state below the atom,
// which is what makes the push/pop bookkeeping across backtracking exact.
func (s *solver) depsOf(a ID) ([]Range, error) {
	if a.IsMagic() {
		return nil, nil
	}

	var m Manifest
	var deps []Range
	if a.eq(s.rootID) {
		m = s.rm
		deps = append(deps, m.DependencyRanges()...)
		deps = append(deps, m.DevDependencyRanges()...)
		deps = append(deps, m.FeatureRanges(m.DefaultFeatures())...)
		deps = append(deps, m.EnvConstraints()...)
	} else {
		var err error
		m, err = s.b.getManifest(a)
		if err != nil {
			return nil, err
		}
		enabled := mergeFeatures(s.featuresOn(a.Ref, a), m.DefaultFeatures())
		deps = append(deps, m.DependencyRanges()...)
		deps = append(deps, m.FeatureRanges(enabled)...)
		deps = append(deps, m.EnvConstraints()...)
	}

	// Feature requests against already-selected packages may enable
	// conditional groups that nothing has demanded yet. Those induced
	// ranges are charged to this atom, so they are released with it on
	// backtrack. The worklist runs to fixpoint; each pass can only enable
	// features that were previously off, so it terminates.
	for i := 0; i < len(deps); i++ {
		dep := deps[i]
		if len(dep.Features()) == 0 {
			continue
		}
		tgt, ok := s.sel.selected(dep.Ref)
		if !ok || tgt.IsMagic() || tgt.eq(s.rootID) {
			continue
		}
		tm, err := s.b.getManifest(tgt)
		if err != nil {
			return nil, err
		}
		active := mergeFeatures(s.featuresOn(tgt.Ref, a), tm.DefaultFeatures())
		delta := make(map[string]bool)
		for f := range dep.Features() {
			if !active[f] {
				delta[f] = true
			}
		}
		if len(delta) > 0 {
			deps = append(deps, tm.FeatureRanges(delta)...)
		}
	}

	return deps, nil
}

// featuresOn reports the features currently requested on ref by dependers
// other than exclude. Excluding the atom being (un)selected keeps depsOf
// identical whether its own records are pushed yet or not.
func (s *solver) featuresOn(ref Ref, exclude ID) map[string]bool {
	var out map[string]bool
	for _, dep := range s.sel.getDependenciesOn(ref) {
		if dep.depender.eq(exclude) {
			continue
		}
		for f := range dep.dep.Features() {
			if out == nil {
				out = make(map[string]bool)
			}
			out[f] = true
		}
	}
	return out
}

func mergeFeatures(a, b map[string]bool) map[string]bool {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	out := make(map[string]bool, len(a)+len(b))
	for f := range a {
		out[f] = true
	}
	for f := range b {
		out[f] = true
	}
	return out
}

func (s *solver) createVersionQueue(ref Ref) (*versionQueue, error) {
	if ref.eq(s.rootRef) {
		panic("canary - root should never be in the unselected queue")
	}

	var lockv ID
	if len(s.rlm) > 0 {
		var err error
		lockv, err = s.getLockVersionIfValid(ref)
		if err != nil {
			return nil, err
		}
	}

	q, err := newVersionQueue(ref, lockv, s.b)
	if err != nil {
		// TODO this really only means a transport failure; distinguish
		// that from "nothing findable about the name" in the message.
		return nil, err
	}

	if q.isExhausted() {
		if deps := s.sel.getDependenciesOn(ref); len(deps) > 0 {
			s.fail(deps[0].depender.Ref)
		}
		return nil, &noVersionError{ref: ref}
	}

	s.traceCheckQueue(q, false, 1)
	return q, s.findValidVersion(q)
}

// findValidVersion walks through a versionQueue until it finds a version
// that satisfies the constraints held in the current state of the solver.
func (s *solver) findValidVersion(q *versionQueue) error {
	if q.current().isZero() {
		// this case should not be reachable, but reflects improper solver
		// state if it is, so panic immediately
		panic("version queue is empty, should not happen")
	}

	faillen := len(q.fails)

	for {
		cur := q.current()
		if cur.isZero() {
			break
		}
		s.traceInfo("try %s@%s", q.ref.errString(), cur.Version())
		err := s.check(cur)
		if err == nil {
			// we have a good version, can return safely
			return nil
		}
		if _, fatal := err.(*SourceUnavailableError); fatal {
			// Transport failures surface immediately rather than being
			// recorded as a rejection of this particular candidate.
			return err
		}
		q.advance(err)
	}

	if deps := s.sel.getDependenciesOn(q.ref); len(deps) > 0 {
		s.fail(deps[0].depender.Ref)
	}

	// Return a compound error of all the new errors encountered during
	// this attempt to find a new, valid version
	return &noVersionError{
		ref:   q.ref,
		fails: q.fails[faillen:],
	}
}

// getLockVersionIfValid finds the bias atom for the given Ref from the root
// lock, assuming:
//
// 1. A root lock was provided
// 2. The general flag to change all packages was not passed
// 3. A flag to change this particular name was not passed
//
// If any of these conditions fail, or the pinned version is no longer
// admissible, the zero ID is returned and the source's own preference
// order decides.
func (s *solver) getLockVersionIfValid(ref Ref) (ID, error) {
	if _, explicit := s.chng[ref.Name()]; explicit || s.chngAll {
		return ID{}, nil
	}

	lp, exists := s.rlm[ref.Name()]
	if !exists {
		return ID{}, nil
	}

	same, err := s.b.sameRefs(lp.Ref, ref)
	if err != nil {
		return ID{}, err
	}
	if !same {
		return ID{}, nil
	}

	if !s.sel.getConstraint(ref).Matches(lp.Version()) {
		return ID{}, nil
	}

	return NewID(ref, lp.Version()), nil
}

// backtrack works backwards from the current failed solution to find the
// next solution to try.
func (s *solver) backtrack() bool {
	if len(s.vqs) == 0 {
		// nothing to backtrack to
		return false
	}

	for {
		for {
			if len(s.vqs) == 0 {
				// no more versions, nowhere further to backtrack
				return false
			}
			if s.vqs[len(s.vqs)-1].failed {
				break
			}

			// pop the queue, and the selection that came with it
			s.vqs, s.vqs[len(s.vqs)-1] = s.vqs[:len(s.vqs)-1], nil
			awp := s.unselectLast()
			s.traceBacktrack(awp.Ref)
		}

		// Grab the last versionQueue off the list of queues
		q := s.vqs[len(s.vqs)-1]

		// Walk back to the next atom
		awp := s.unselectLast()
		if !q.ref.eq(awp.Ref) {
			panic("canary - version queue stack and selected atom stack are misaligned")
		}

		// Advance the queue past the current version, which we know is bad
		q.advance(nil)
		if !q.isExhausted() {
			// Search for another acceptable version of this failed dep in
			// its queue
			s.traceCheckQueue(q, true, 0)
			if s.findValidVersion(q) == nil {
				// Found one! Put it back on the selected queue and stop
				// backtracking
				s.selectAtom(q.current())
				break
			}
		}

		s.traceBacktrack(q.ref)

		// No solution found; continue backtracking after popping the queue
		// we just inspected off the list
		s.vqs, s.vqs[len(s.vqs)-1] = s.vqs[:len(s.vqs)-1], nil
	}

	// Backtracking was successful if loop ended before running out of
	// version queues
	if len(s.vqs) == 0 {
		return false
	}
	s.attempts++
	return true
}

func (s *solver) nextUnselected() (Ref, bool) {
	if len(s.unsel.sl) > 0 {
		return s.unsel.sl[0], true
	}
	return Ref{}, false
}

func (s *solver) unselectedComparator(i, j int) bool {
	iname, jname := s.unsel.sl[i], s.unsel.sl[j]

	if iname.eq(jname) {
		return false
	}

	_, ilock := s.rlm[iname.Name()]
	_, jlock := s.rlm[jname.Name()]

	switch {
	case ilock && !jlock:
		return true
	case !ilock && jlock:
		return false
	case ilock && jlock:
		return iname.less(jname)
	}

	// Sort by the number of available candidates. This will trigger
	// source activity, but at this point we know we're going to pay that
	// cost for these Refs anyway.
	//
	// We can safely ignore an err here because, if there is an actual
	// problem, it'll be noted and handled somewhere saner in the solving
	// algorithm.
	ivl, _ := s.b.listVersions(iname)
	jvl, _ := s.b.listVersions(jname)
	iv, jv := len(ivl), len(jvl)

	// Packages with fewer versions to pick from are less likely to benefit
	// from backtracking, so deal with them earlier in order to minimize
	// the amount of superfluous backtracking through them we do.
	switch {
	case iv == 0 && jv != 0:
		return true
	case iv != 0 && jv == 0:
		return false
	case iv != jv:
		return iv < jv
	}

	// Finally, if all else fails, fall back to comparing by name
	return iname.less(jname)
}

func (s *solver) fail(ref Ref) {
	// skip if the root project
	if ref.eq(s.rootRef) {
		return
	}

	// just look for the first (oldest) one; the backtracker will
	// necessarily traverse through and pop off any earlier ones
	for _, vq := range s.vqs {
		if vq.ref.eq(ref) {
			vq.failed = true
			return
		}
	}
}

// selectAtom pulls an atom into the selection stack. New resultant
// dependency requirements are added to the unselected priority queue.
func (s *solver) selectAtom(a ID) {
	s.unsel.remove(a.Ref)
	s.sel.pushSelection(a)

	deps, err := s.depsOf(a)
	if err != nil {
		// This shouldn't be possible; the manifest was already loaded and
		// memoized during the check that approved this atom.
		panic(fmt.Sprintf("canary - shouldn't be possible %s", err))
	}

	for _, dep := range deps {
		s.sel.pushDep(dependency{depender: a, dep: dep})
		if s.sel.depperCount(dep.Ref) == 1 {
			s.names[dep.Name()] = dep.Ref
			// An already-selected target (a magic package, or a dependency
			// cycle closing back on an earlier atom) needs no decision; the
			// admissibility of the constraint was verified in check().
			if _, selected := s.sel.selected(dep.Ref); !selected {
				heap.Push(s.unsel, dep.Ref)
			}
		}
	}

	s.traceSelect(a)
}

func (s *solver) unselectLast() ID {
	awp := s.sel.popSelection()
	heap.Push(s.unsel, awp.Ref)

	deps, err := s.depsOf(awp)
	if err != nil {
		// Same reasoning as in selectAtom: the manifest is memoized.
		panic(fmt.Sprintf("canary - shouldn't be possible %s", err))
	}

	for _, dep := range deps {
		s.sel.popDep(dep.Ref)

		// if no parents/importers, remove from unselected queue
		if s.sel.depperCount(dep.Ref) == 0 {
			delete(s.names, dep.Name())
			s.unsel.remove(dep.Ref)
		}
	}

	return awp
}

// bridge interposes between the solver and the SourceManager: it serves
// the synthetic packages (root and magic) from solver state, and applies
// the mode-dependent candidate ordering on the way through.
type bridge struct {
	sm   SourceManager
	env  map[string]*semver.Version
	down bool
	ctx  context.Context
}

func (b *bridge) listVersions(ref Ref) ([]ID, error) {
	if ref.IsMagic() {
		if v, ok := b.env[ref.Name()]; ok {
			return []ID{NewID(ref, v)}, nil
		}
		return nil, nil
	}

	vl, err := b.sm.ListVersions(b.ctx, ref)
	if err != nil {
		return nil, err
	}
	if b.down {
		rev := append([]ID(nil), vl...)
		sortForDowngrade(rev)
		return rev, nil
	}
	return vl, nil
}

func (b *bridge) getManifest(id ID) (Manifest, error) {
	if id.IsMagic() {
		return &simpleManifest{name: id.Name()}, nil
	}
	return b.sm.GetManifest(b.ctx, id)
}

func (b *bridge) sameRefs(x, y Ref) (bool, error) {
	return b.sm.SamePackage(x, y)
}
