package solve

import (
	"testing"
)

func TestRefEquivalenceAndHash(t *testing.T) {
	mkref := func(name string, rawdesc interface{}) Ref {
		ref, err := fixHosted.ParseRef(name, rawdesc)
		if err != nil {
			t.Fatalf("bad ref %s: %s", name, err)
		}
		return ref
	}

	table := []struct {
		a, b Ref
		same bool
	}{
		{mkref("foo", nil), mkref("foo", nil), true},
		{mkref("foo", nil), mkref("bar", nil), false},
		// Trailing slash on a registry URL denotes the same resource.
		{mkref("foo", "https://example.com/packages"), mkref("foo", "https://example.com/packages/"), true},
		{mkref("foo", "https://example.com/packages"), mkref("foo", "https://mirror.example.com"), false},
		{RootRef("foo"), RootRef("foo"), true},
		{MagicRef("sdk"), MagicRef("sdk"), true},
		{RootRef("foo"), MagicRef("foo"), false},
		{RootRef("foo"), mkref("foo", nil), false},
	}

	for _, tc := range table {
		same, err := fixReg.RefsEquivalent(tc.a, tc.b)
		if err != nil {
			t.Fatalf("RefsEquivalent(%s, %s): %s", tc.a, tc.b, err)
		}
		if same != tc.same {
			t.Errorf("RefsEquivalent(%s, %s) = %v, want %v", tc.a, tc.b, same, tc.same)
		}

		// Hashing must be consistent with equivalence.
		ha, err := fixReg.HashRef(tc.a)
		if err != nil {
			t.Fatalf("HashRef(%s): %s", tc.a, err)
		}
		hb, err := fixReg.HashRef(tc.b)
		if err != nil {
			t.Fatalf("HashRef(%s): %s", tc.b, err)
		}
		if tc.same && ha != hb {
			t.Errorf("equivalent refs %s and %s hash differently", tc.a, tc.b)
		}
		if !tc.same && ha == hb {
			t.Errorf("distinct refs %s and %s hash identically", tc.a, tc.b)
		}
	}
}

func TestNewRefPanicsWithoutSource(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewRef should panic on an empty source")
		}
	}()
	NewRef("foo", "", nil)
}

func TestRangeAllows(t *testing.T) {
	r := mkRange("foo ^1.0.0")

	if !r.Allows(mkAtom("foo 1.5.0")) {
		t.Error("^1.0.0 should allow foo 1.5.0")
	}
	if r.Allows(mkAtom("foo 2.0.0")) {
		t.Error("^1.0.0 should not allow foo 2.0.0")
	}
	// Allowing implies same package: a matching version of another package
	// is not allowed.
	if r.Allows(mkAtom("bar 1.5.0")) {
		t.Error("a range on foo should not allow bar at any version")
	}
	if !r.SamePackage(mkAtom("foo 2.0.0")) {
		t.Error("SamePackage should hold regardless of version")
	}
}

func TestWithFeatures(t *testing.T) {
	r := mkRange("foo ^1.0.0 +net")

	// Union with nothing is the identity.
	if got := r.WithFeatures(nil); !got.eq(r) {
		t.Errorf("WithFeatures(nil) changed the range: %v", got.Features())
	}
	if got := r.WithFeatures(map[string]bool{}); !got.eq(r) {
		t.Errorf("WithFeatures(empty) changed the range: %v", got.Features())
	}

	merged := r.WithFeatures(map[string]bool{"tls": true})
	if !merged.Features()["net"] || !merged.Features()["tls"] {
		t.Errorf("merged feature set incomplete: %v", merged.Features())
	}
	if len(r.Features()) != 1 {
		t.Errorf("WithFeatures mutated the receiver: %v", r.Features())
	}

	// Feature sets are unordered; ranges differing only in insertion order
	// are equal.
	a := mkRange("foo ^1.0.0 +net +tls")
	b := mkRange("foo ^1.0.0 +tls +net")
	if !a.eq(b) {
		t.Error("feature order should not affect range equality")
	}
}

func TestIDEquality(t *testing.T) {
	if !mkAtom("foo 1.0.0").eq(mkAtom("foo 1.0.0")) {
		t.Error("identical atoms should be equal")
	}
	if mkAtom("foo 1.0.0").eq(mkAtom("foo 1.0.1")) {
		t.Error("atoms at different versions should differ")
	}
	if mkAtom("foo 1.0.0").eq(mkAtom("bar 1.0.0")) {
		t.Error("atoms of different packages should differ")
	}

	a := mkAtom("foo 1.0.0")
	if !a.ToRef().eq(a.ToRef().ToRef()) {
		t.Error("ToRef should be idempotent")
	}
}
