// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pub

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"github.com/dam0vm3nt/pub/solve"
)

// LockName is the lockfile written next to the pubspec.
const LockName = "pubspec.lock"

// Lock holds a prior resolution: one concrete ID per package. The solver
// uses it as a bias, never as a constraint.
type Lock struct {
	P []solve.ID
}

var _ solve.Lock = &Lock{}

// Packages returns the locked IDs.
func (l *Lock) Packages() []solve.ID {
	return l.P
}

type rawLock struct {
	Packages []rawLockedPackage `toml:"package"`
}

type rawLockedPackage struct {
	Name        string                 `toml:"name"`
	Source      string                 `toml:"source"`
	Version     string                 `toml:"version"`
	Description map[string]interface{} `toml:"description,omitempty"`
}

// ReadLock parses lockfile content from r, rehydrating IDs through the
// registry so descriptions come back canonical.
func ReadLock(r io.Reader, reg *solve.SourceRegistry) (*Lock, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "error while reading lock")
	}

	tree, err := toml.LoadBytes(data)
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse the lock as TOML")
	}

	raw := rawLock{}
	if err := tree.Unmarshal(&raw); err != nil {
		return nil, errors.Wrap(err, "unable to map the lock contents")
	}

	l := &Lock{P: make([]solve.ID, 0, len(raw.Packages))}
	for _, rp := range raw.Packages {
		if rp.Name == "" {
			return nil, errors.New("lock contains a package entry with no name")
		}
		if rp.Source == "" {
			return nil, errors.Errorf("lock entry for %s names no source", rp.Name)
		}
		src, err := reg.Get(rp.Source)
		if err != nil {
			return nil, err
		}

		var desc interface{}
		if rp.Description != nil {
			desc = map[string]interface{}(rp.Description)
		}
		id, err := src.ParseID(rp.Name, rp.Version, desc)
		if err != nil {
			return nil, errors.Wrapf(err, "lock entry for %s", rp.Name)
		}
		l.P = append(l.P, id)
	}

	return l, nil
}

// ReadLockFile parses the lockfile at path. A missing file is not an
// error; it returns a nil lock.
func ReadLockFile(path string, reg *solve.SourceRegistry) (*Lock, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "error while opening %s", path)
	}
	defer f.Close()

	l, err := ReadLock(f, reg)
	if err != nil {
		return nil, errors.Wrapf(err, "error while parsing %s", path)
	}
	return l, nil
}

// LockFromResult converts a solver Result into lock form.
func LockFromResult(r solve.Result) *Lock {
	p := r.Packages()
	l := &Lock{P: make([]solve.ID, len(p))}
	copy(l.P, p)
	sort.Sort(sortedIDs(l.P))
	return l
}

// Marshal serializes the lock deterministically: packages ascending by
// name, each entry carrying name, source, version and the source's
// description blob.
func (l *Lock) Marshal() ([]byte, error) {
	sort.Sort(sortedIDs(l.P))

	raw := rawLock{Packages: make([]rawLockedPackage, len(l.P))}
	for k, id := range l.P {
		raw.Packages[k] = rawLockedPackage{
			Name:        id.Name(),
			Source:      id.SourceName(),
			Version:     id.Version().String(),
			Description: id.Desc().Blob(),
		}
	}

	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(raw); err != nil {
		return nil, errors.Wrap(err, "unable to serialize lock")
	}
	return buf.Bytes(), nil
}

// IDFor returns the locked ID for the named package, if present.
func (l *Lock) IDFor(name string) (solve.ID, bool) {
	for _, id := range l.P {
		if id.Name() == name {
			return id, true
		}
	}
	return solve.ID{}, false
}

// LocksAreEq checks if two locks hold the same pins.
func LocksAreEq(l1, l2 *Lock) bool {
	if l1 == nil || l2 == nil {
		return l1 == l2
	}
	if len(l1.P) != len(l2.P) {
		return false
	}

	p1 := append([]solve.ID(nil), l1.P...)
	p2 := append([]solve.ID(nil), l2.P...)
	sort.Sort(sortedIDs(p1))
	sort.Sort(sortedIDs(p2))

	for k, id := range p1 {
		o := p2[k]
		if id.Name() != o.Name() || id.SourceName() != o.SourceName() ||
			!id.Version().Equal(o.Version()) || fmt.Sprint(id.Desc()) != fmt.Sprint(o.Desc()) {
			return false
		}
	}
	return true
}

// PackagesFile renders the flat name-to-location map the runtime loads.
// Hosted, git and sdk packages point into the system cache; path packages
// point at their own directories. The root package is appended last,
// pointing at its lib directory.
func (l *Lock) PackagesFile(cachedir, rootName, rootDir string) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# Generated by pub; do not edit.\n")

	ids := append([]solve.ID(nil), l.P...)
	sort.Sort(sortedIDs(ids))
	for _, id := range ids {
		var loc string
		if id.SourceName() == "path" {
			loc = fmt.Sprint(id.Desc())
		} else {
			loc = filepath.Join(cachedir, "packages", fmt.Sprintf("%s-%s", id.Name(), id.Version()))
		}
		fmt.Fprintf(&buf, "%s:%s\n", id.Name(), filepath.ToSlash(filepath.Join(loc, "lib")))
	}
	fmt.Fprintf(&buf, "%s:%s\n", rootName, filepath.ToSlash(filepath.Join(rootDir, "lib")))

	return buf.String()
}

type sortedIDs []solve.ID

func (s sortedIDs) Len() int      { return len(s) }
func (s sortedIDs) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s sortedIDs) Less(i, j int) bool {
	if s[i].Name() != s[j].Name() {
		return s[i].Name() < s[j].Name()
	}
	return s[i].SourceName() < s[j].SourceName()
}
