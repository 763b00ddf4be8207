// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pub

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/dam0vm3nt/pub/solve"
)

// A Project holds the state of the root package the tool operates on: its
// location, its manifest, and its lockfile when one exists.
type Project struct {
	// AbsRoot is the absolute path of the directory containing the
	// pubspec.
	AbsRoot string

	Pubspec *Pubspec
	Lock    *Lock // nil if no lockfile is present
}

// LoadProject searches from the context's working directory upwards for a
// pubspec and loads it, along with the adjacent lockfile if present.
func (c *Ctx) LoadProject(reg *solve.SourceRegistry) (*Project, error) {
	root, err := findProjectRoot(c.WorkingDir)
	if err != nil {
		return nil, err
	}

	p := &Project{AbsRoot: root}

	p.Pubspec, err = ReadPubspecFile(filepath.Join(root, PubspecName), reg)
	if err != nil {
		return nil, err
	}

	p.Lock, err = ReadLockFile(filepath.Join(root, LockName), reg)
	if err != nil {
		return nil, err
	}

	return p, nil
}

// findProjectRoot walks from dir to the filesystem root looking for a
// pubspec.
func findProjectRoot(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", errors.Wrap(err, "unable to resolve working directory")
	}

	for {
		if _, err := os.Stat(filepath.Join(abs, PubspecName)); err == nil {
			return abs, nil
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", errors.Errorf("could not find a %s in %s or any parent", PubspecName, dir)
		}
		abs = parent
	}
}
