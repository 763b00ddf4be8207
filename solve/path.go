package solve

import (
	"context"
	"path/filepath"
	"sync"

	semver "github.com/Masterminds/semver/v3"
	radix "github.com/armon/go-radix"
	"github.com/pkg/errors"
	shutil "github.com/termie/go-shutil"
)

// pathDescription locates a package on the local filesystem. The canonical
// form keeps the path cleaned and remembers whether it was declared
// relative, so lockfiles stay portable across checkouts.
type pathDescription struct {
	path     string
	relative bool
}

func (d pathDescription) String() string { return d.path }

func (d pathDescription) Blob() map[string]interface{} {
	return map[string]interface{}{
		"path":     d.path,
		"relative": d.relative,
	}
}

// PathSource serves packages that live in local directories. A path package
// has exactly one available version: whatever its manifest declares.
// Manifests are cached in a radix tree keyed by directory, so sibling
// lookups in large monorepos stay cheap.
type PathSource struct {
	an ProjectAnalyzer

	mu    sync.Mutex
	specs *radix.Tree
}

var _ Source = (*PathSource)(nil)

// NewPathSource returns a path source deriving manifests with an.
func NewPathSource(an ProjectAnalyzer) *PathSource {
	return &PathSource{
		an:    an,
		specs: radix.New(),
	}
}

func (ps *PathSource) Name() string { return "path" }

func (ps *PathSource) ParseDescription(name string, raw interface{}) (Description, error) {
	switch tv := raw.(type) {
	case string:
		return pathDescription{path: filepath.Clean(tv), relative: !filepath.IsAbs(tv)}, nil
	case map[string]interface{}:
		pv, ok := tv["path"]
		if !ok {
			return nil, errors.Errorf("path package %q has no path", name)
		}
		s, ok := pv.(string)
		if !ok {
			return nil, errors.Errorf("path package %q: path must be a string, not %T", name, pv)
		}
		d := pathDescription{path: filepath.Clean(s), relative: !filepath.IsAbs(s)}
		if rv, ok := tv["relative"]; ok {
			rb, ok := rv.(bool)
			if !ok {
				return nil, errors.Errorf("path package %q: relative must be a bool, not %T", name, rv)
			}
			d.relative = rb
		}
		return d, nil
	}
	return nil, errors.Errorf("path package %q has malformed description (%T)", name, raw)
}

func (ps *PathSource) ParseRef(name string, raw interface{}) (Ref, error) {
	d, err := ps.ParseDescription(name, raw)
	if err != nil {
		return Ref{}, err
	}
	return NewRef(name, ps.Name(), d), nil
}

func (ps *PathSource) ParseID(name, version string, raw interface{}) (ID, error) {
	ref, err := ps.ParseRef(name, raw)
	if err != nil {
		return ID{}, err
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return ID{}, errors.Wrapf(err, "path package %q", name)
	}
	return NewID(ref, v), nil
}

func (ps *PathSource) DescriptionsEqual(d1, d2 Description) bool {
	p1, ok1 := d1.(pathDescription)
	p2, ok2 := d2.(pathDescription)
	return ok1 && ok2 && filepath.Clean(p1.path) == filepath.Clean(p2.path)
}

func (ps *PathSource) HashDescription(d Description) uint64 {
	p, ok := d.(pathDescription)
	if !ok {
		return 0
	}
	return fnvHash(filepath.Clean(p.path))
}

// manifestFor loads the manifest rooted at dir, consulting the radix cache
// first.
func (ps *PathSource) manifestFor(dir string) (Manifest, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve path %s", dir)
	}

	ps.mu.Lock()
	if m, ok := ps.specs.Get(abs); ok {
		ps.mu.Unlock()
		return m.(Manifest), nil
	}
	ps.mu.Unlock()

	m, err := ps.an.DeriveManifest(abs)
	if err != nil {
		return nil, err
	}

	ps.mu.Lock()
	ps.specs.Insert(abs, m)
	ps.mu.Unlock()
	return m, nil
}

func (ps *PathSource) ListVersions(ctx context.Context, ref Ref) ([]ID, error) {
	d := ref.Desc().(pathDescription)
	m, err := ps.manifestFor(d.path)
	if err != nil {
		return nil, err
	}
	v := m.Version()
	if v == nil {
		v = rootVersion
	}
	return []ID{NewID(ref, v)}, nil
}

func (ps *PathSource) DescribeDependencies(ctx context.Context, id ID) (Manifest, error) {
	return ps.manifestFor(id.Desc().(pathDescription).path)
}

func (ps *PathSource) Materialize(ctx context.Context, id ID, to string) error {
	d := id.Desc().(pathDescription)
	cfg := &shutil.CopyTreeOptions{
		Symlinks:     true,
		CopyFunction: shutil.Copy,
	}
	return errors.Wrapf(shutil.CopyTree(d.path, to, cfg), "failed to copy %s into place", id)
}
