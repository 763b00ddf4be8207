package solve

import (
	"context"
	"testing"
)

func TestSourceManagerLocksCacheDir(t *testing.T) {
	cd := t.TempDir()

	sm, err := NewSourceManager(cd, fixReg, nil)
	if err != nil {
		t.Fatalf("unexpected error on SourceManager creation: %s", err)
	}

	if _, err := NewSourceManager(cd, fixReg, nil); err == nil {
		t.Error("creating a second SourceManager on the same cache dir should fail")
	} else if _, ok := err.(CouldNotCreateLockError); !ok {
		t.Errorf("expected CouldNotCreateLockError, got %T", err)
	}

	sm.Release()

	sm2, err := NewSourceManager(cd, fixReg, nil)
	if err != nil {
		t.Fatalf("unexpected error after lock was released: %s", err)
	}
	sm2.Release()

	// Release is idempotent.
	sm2.Release()
}

func TestSourceManagerMemoizesVersions(t *testing.T) {
	cd := t.TempDir()

	sm, err := NewSourceManager(cd, fixReg, nil)
	if err != nil {
		t.Fatalf("unexpected error on SourceManager creation: %s", err)
	}
	defer sm.Release()

	ref := mkAtom("foo 1.0.0").Ref
	sm.caches.setVersions(ref, []ID{mkAtom("foo 1.0.0"), mkAtom("foo 0.9.0")})

	vl, err := sm.ListVersions(context.Background(), ref)
	if err != nil {
		t.Fatalf("memoized ListVersions should not error: %s", err)
	}
	if len(vl) != 2 || !vl[0].Version().GreaterThan(vl[1].Version()) {
		t.Errorf("unexpected memoized version list: %v", vl)
	}
}

func TestBoltCacheRoundTrip(t *testing.T) {
	cd := t.TempDir()

	c, err := OpenBoltCache(cd, 0)
	if err != nil {
		t.Fatalf("unexpected error opening cache: %s", err)
	}
	defer c.Close()

	if _, ok := c.GetVersions("hosted", "refkey"); ok {
		t.Error("empty cache should miss")
	}

	c.PutVersions("hosted", "refkey", []string{"2.0.0", "1.0.0"})
	vs, ok := c.GetVersions("hosted", "refkey")
	if !ok {
		t.Fatal("cache should hit after put")
	}
	if len(vs) != 2 || vs[0] != "2.0.0" || vs[1] != "1.0.0" {
		t.Errorf("version list did not round-trip: %v", vs)
	}

	c.PutManifest("hosted", "refkey", "1.0.0", []byte(`{"name": "foo"}`))
	payload, ok := c.GetManifest("hosted", "refkey", "1.0.0")
	if !ok || string(payload) != `{"name": "foo"}` {
		t.Errorf("manifest payload did not round-trip: %q", payload)
	}
	if _, ok := c.GetManifest("hosted", "refkey", "2.0.0"); ok {
		t.Error("unexpected hit for a version never stored")
	}
}

func TestBoltCacheEpochGates(t *testing.T) {
	cd := t.TempDir()

	c, err := OpenBoltCache(cd, 0)
	if err != nil {
		t.Fatalf("unexpected error opening cache: %s", err)
	}
	c.PutVersions("hosted", "refkey", []string{"1.0.0"})
	c.Close()

	// Reopen demanding entries from the far future; the stored list must
	// be treated as stale.
	c2, err := OpenBoltCache(cd, 1<<40)
	if err != nil {
		t.Fatalf("unexpected error reopening cache: %s", err)
	}
	defer c2.Close()
	if _, ok := c2.GetVersions("hosted", "refkey"); ok {
		t.Error("entries older than the epoch should not be returned")
	}
}
