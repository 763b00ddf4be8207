package solve

import (
	"context"
	"strings"
	"testing"
)

func fixSolve(fix basicFixture) (Result, error) {
	sm := newdepspecSM(fix.ds)

	params := SolveParameters{
		Manifest: fix.ds[0].manifest(),
		Lock:     fix.lock(),
		Mode:     fix.mode,
		ToChange: fix.unlock,
		Env:      fix.envMap(),
	}

	s, err := Prepare(params, sm)
	if err != nil {
		return Result{}, err
	}
	return s.Solve(context.Background())
}

func TestBasicSolves(t *testing.T) {
	for _, fix := range basicFixtures {
		fix := fix
		t.Run(fix.n, func(t *testing.T) {
			res, err := fixSolve(fix)

			if len(fix.errp) > 0 {
				if err == nil {
					t.Fatalf("expected solve failure, got solution %v", res.Packages())
				}
				if !IsResolutionFailure(err) {
					t.Fatalf("expected a resolution failure, got %T: %s", err, err)
				}
				for _, frag := range fix.errp {
					if !strings.Contains(err.Error(), frag) {
						t.Errorf("error should mention %q:\n%s", frag, err)
					}
				}
				return
			}

			if err != nil {
				t.Fatalf("solve failed unexpectedly: %s", err)
			}

			got := make(map[string]string)
			for _, id := range res.Packages() {
				got[id.Name()] = id.Version().String()
			}

			if len(got) != len(fix.r) {
				t.Errorf("expected %d packages, got %d (%v)", len(fix.r), len(got), got)
			}
			for name, want := range fix.r {
				if v, ok := got[name]; !ok {
					t.Errorf("missing expected package %s", name)
				} else if v != want {
					t.Errorf("package %s: expected version %s, got %s", name, want, v)
				}
			}
			for name := range got {
				if _, ok := fix.r[name]; !ok {
					t.Errorf("unexpected package %s in solution", name)
				}
			}
		})
	}
}

// The solver must be fully deterministic: same inputs and same source
// answers, same lockfile.
func TestSolveDeterminism(t *testing.T) {
	var fix basicFixture
	for _, f := range basicFixtures {
		if f.n == "backtracks on disjoint transitive constraint" {
			fix = f
			break
		}
	}

	first, err := fixSolve(fix)
	if err != nil {
		t.Fatalf("solve failed unexpectedly: %s", err)
	}

	for i := 0; i < 10; i++ {
		again, err := fixSolve(fix)
		if err != nil {
			t.Fatalf("solve failed unexpectedly on repeat: %s", err)
		}
		fp, sp := first.Packages(), again.Packages()
		if len(fp) != len(sp) {
			t.Fatalf("package count varied across identical solves: %d vs %d", len(fp), len(sp))
		}
		for k := range fp {
			if !fp[k].eq(sp[k]) {
				t.Fatalf("solution varied across identical solves at %d: %s vs %s", k, fp[k], sp[k])
			}
		}
	}
}

// Every selected ID must be allowed by every selected manifest's declared
// range naming it, and must have been listed by its source.
func TestSolutionSatisfiesAllConstraints(t *testing.T) {
	for _, fix := range basicFixtures {
		if len(fix.errp) > 0 {
			continue
		}
		fix := fix
		t.Run(fix.n, func(t *testing.T) {
			res, err := fixSolve(fix)
			if err != nil {
				t.Fatalf("solve failed unexpectedly: %s", err)
			}

			sm := newdepspecSM(fix.ds)
			byName := make(map[string]ID)
			for _, id := range res.Packages() {
				byName[id.Name()] = id

				vl, _ := sm.ListVersions(context.Background(), id.Ref)
				listed := false
				for _, cand := range vl {
					if cand.eq(id) {
						listed = true
					}
				}
				if !listed {
					t.Errorf("selected %s is not listed by its source", id)
				}
			}

			// Root's unconditional deps, then every selected manifest's.
			check := func(owner string, deps []Range) {
				for _, d := range deps {
					if d.IsMagic() {
						continue
					}
					sel, ok := byName[d.Name()]
					if !ok {
						t.Errorf("%s depends on %s, which is absent from the solution", owner, d.Name())
						continue
					}
					if !d.Constraint().Matches(sel.Version()) {
						t.Errorf("%s's constraint %s on %s does not allow selected %s", owner, d.Constraint(), d.Name(), sel.Version())
					}
				}
			}

			check("root", fix.ds[0].deps)
			check("root", fix.ds[0].devdeps)
			for _, id := range res.Packages() {
				m, err := sm.GetManifest(context.Background(), id)
				if err != nil {
					t.Fatalf("manifest for selected %s vanished: %s", id, err)
				}
				check(id.Name(), m.DependencyRanges())
			}
		})
	}
}

func TestBadSolveOpts(t *testing.T) {
	sm := newdepspecSM(basicFixtures[0].ds)

	if _, err := Prepare(SolveParameters{}, nil); err == nil {
		t.Error("should have errored on nil SourceManager")
	}
	if _, err := Prepare(SolveParameters{}, sm); err == nil {
		t.Error("should have errored on missing manifest")
	}

	m := mkDepspec("root 0.0.0").manifest()
	if _, err := Prepare(SolveParameters{Manifest: m, Trace: true}, sm); err == nil {
		t.Error("should have errored on trace with no logger")
	}
	if _, err := Prepare(SolveParameters{Manifest: m}, sm); err != nil {
		t.Errorf("unexpected error with valid params: %s", err)
	}
}
