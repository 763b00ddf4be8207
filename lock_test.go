// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pub

import (
	"bytes"
	"strings"
	"testing"

	"github.com/dam0vm3nt/pub/solve"
)

func testLock(t *testing.T, reg *solve.SourceRegistry) *Lock {
	hosted, err := reg.Get("hosted")
	if err != nil {
		t.Fatal(err)
	}
	git, err := reg.Get("git")
	if err != nil {
		t.Fatal(err)
	}

	zed, err := hosted.ParseID("zed", "2.0.1", nil)
	if err != nil {
		t.Fatal(err)
	}
	apple, err := hosted.ParseID("apple", "1.0.0", map[string]interface{}{"url": "https://mirror.example.com"})
	if err != nil {
		t.Fatal(err)
	}
	mango, err := git.ParseID("mango", "0.3.0", map[string]interface{}{
		"url": "https://example.com/mango.git",
		"ref": "v0.3.0",
	})
	if err != nil {
		t.Fatal(err)
	}

	return &Lock{P: []solve.ID{zed, apple, mango}}
}

func TestLockRoundTrip(t *testing.T) {
	reg := testRegistry()
	l := testLock(t, reg)

	data, err := l.Marshal()
	if err != nil {
		t.Fatalf("error while marshaling lock: %s", err)
	}

	l2, err := ReadLock(bytes.NewReader(data), reg)
	if err != nil {
		t.Fatalf("error while reading lock back: %s", err)
	}

	if !LocksAreEq(l, l2) {
		t.Errorf("lock did not survive the round trip:\n%s", data)
	}

	// Serialization is deterministic and ordered by name ascending.
	data2, err := l2.Marshal()
	if err != nil {
		t.Fatalf("error while re-marshaling lock: %s", err)
	}
	if !bytes.Equal(data, data2) {
		t.Error("marshaling is not deterministic")
	}

	text := string(data)
	if strings.Index(text, `"apple"`) > strings.Index(text, `"mango"`) ||
		strings.Index(text, `"mango"`) > strings.Index(text, `"zed"`) {
		t.Errorf("lock entries are not sorted by name:\n%s", text)
	}
}

func TestLockIDFor(t *testing.T) {
	reg := testRegistry()
	l := testLock(t, reg)

	id, ok := l.IDFor("mango")
	if !ok {
		t.Fatal("expected to find mango in the lock")
	}
	if id.SourceName() != "git" || id.Version().String() != "0.3.0" {
		t.Errorf("wrong ID for mango: %s from %s", id.Version(), id.SourceName())
	}

	if _, ok := l.IDFor("durian"); ok {
		t.Error("should not find durian in the lock")
	}
}

func TestReadLockErrors(t *testing.T) {
	reg := testRegistry()

	table := map[string]string{
		"bad toml":    `[[package]`,
		"no name":     "[[package]]\nsource = \"hosted\"\nversion = \"1.0.0\"",
		"no source":   "[[package]]\nname = \"foo\"\nversion = \"1.0.0\"",
		"bad source":  "[[package]]\nname = \"foo\"\nsource = \"svn\"\nversion = \"1.0.0\"",
		"bad version": "[[package]]\nname = \"foo\"\nsource = \"hosted\"\nversion = \"one\"",
	}

	for n, in := range table {
		if _, err := ReadLock(strings.NewReader(in), reg); err == nil {
			t.Errorf("%s: expected an error", n)
		}
	}
}

func TestPackagesFile(t *testing.T) {
	reg := testRegistry()
	l := testLock(t, reg)

	pf := l.PackagesFile("/cache", "myapp", "/work/myapp")

	for _, want := range []string{
		"zed:/cache/packages/zed-2.0.1/lib\n",
		"apple:/cache/packages/apple-1.0.0/lib\n",
		"mango:/cache/packages/mango-0.3.0/lib\n",
		"myapp:/work/myapp/lib\n",
	} {
		if !strings.Contains(pf, want) {
			t.Errorf("packages file missing %q:\n%s", want, pf)
		}
	}
}
