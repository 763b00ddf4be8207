// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pub

import (
	"io"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"github.com/dam0vm3nt/pub/solve"
)

// PubspecName is the manifest file at the root of every package.
const PubspecName = "pubspec.toml"

// A Pubspec is a parsed manifest. It is the root project's entry into the
// solver, and the shape every source-derived manifest shares.
type Pubspec struct {
	solve.Manifest
}

// ReadPubspec parses a manifest from r. Dependency descriptions dispatch
// through the registry, so refs come back canonical.
func ReadPubspec(r io.Reader, reg *solve.SourceRegistry) (*Pubspec, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "error while reading pubspec")
	}

	tree, err := toml.LoadBytes(data)
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse the pubspec as TOML")
	}

	m, err := solve.ManifestFromMap(reg, tree.ToMap())
	if err != nil {
		return nil, err
	}

	return &Pubspec{Manifest: m}, nil
}

// ReadPubspecFile parses the manifest at path.
func ReadPubspecFile(path string, reg *solve.SourceRegistry) (*Pubspec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error while opening %s", path)
	}
	defer f.Close()

	p, err := ReadPubspec(f, reg)
	if err != nil {
		return nil, errors.Wrapf(err, "error while parsing %s", path)
	}
	return p, nil
}

// Analyzer derives manifests from on-disk package trees. The solver's git,
// path and sdk sources call through this, keeping file-format knowledge
// out of the solve package.
type Analyzer struct {
	Registry *solve.SourceRegistry
}

var _ solve.ProjectAnalyzer = Analyzer{}

// DeriveManifest reads the pubspec at the root of the tree at path.
func (a Analyzer) DeriveManifest(path string) (solve.Manifest, error) {
	p, err := ReadPubspecFile(filepath.Join(path, PubspecName), a.Registry)
	if err != nil {
		return nil, err
	}
	return p.Manifest, nil
}
