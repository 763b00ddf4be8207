package solve

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	semver "github.com/Masterminds/semver/v3"
	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"
	shutil "github.com/termie/go-shutil"
)

// SDKMagicName is the magic package carrying the SDK version constraint.
// Every environment table's "sdk" entry becomes a Range over it.
const SDKMagicName = "sdk"

// sdkDescription names which SDK a bundled package ships with. There is
// only one SDK today, so the canonical form is a fixed token; the field
// exists so the lockfile shape stays stable if that changes.
type sdkDescription struct {
	sdk string
}

func (d sdkDescription) String() string { return d.sdk }

func (d sdkDescription) Blob() map[string]interface{} {
	return map[string]interface{}{"sdk": d.sdk}
}

// SDKSource serves the packages bundled with an SDK installation. Each
// bundled package has exactly one version, and selecting it implies
// compatibility with the installed SDK itself.
type SDKSource struct {
	root    string
	version *semver.Version
	an      ProjectAnalyzer

	scanOnce sync.Once
	scanErr  error
	pkgs     map[string]string // package name -> directory
}

var _ Source = (*SDKSource)(nil)

// NewSDKSource returns a source over the SDK installed at root, reporting
// the given SDK version.
func NewSDKSource(root string, version *semver.Version, an ProjectAnalyzer) *SDKSource {
	return &SDKSource{root: root, version: version, an: an}
}

// Version reports the installed SDK's own version; the solver pins the sdk
// magic package to it.
func (ss *SDKSource) Version() *semver.Version { return ss.version }

func (ss *SDKSource) Name() string { return "sdk" }

// scan enumerates the bundled package directories once. Directories under
// <root>/packages that contain a manifest are bundled packages; the walk is
// shallow because bundles do not nest.
func (ss *SDKSource) scan() error {
	ss.scanOnce.Do(func() {
		ss.pkgs = make(map[string]string)
		base := filepath.Join(ss.root, "packages")

		dirents, err := godirwalk.ReadDirents(base, nil)
		if err != nil {
			ss.scanErr = errors.Wrapf(err, "failed to scan SDK packages under %s", base)
			return
		}
		for _, de := range dirents {
			if !de.IsDir() {
				continue
			}
			dir := filepath.Join(base, de.Name())
			if _, err := os.Stat(filepath.Join(dir, "pubspec.toml")); err != nil {
				continue
			}
			ss.pkgs[de.Name()] = dir
		}
	})
	return ss.scanErr
}

func (ss *SDKSource) ParseDescription(name string, raw interface{}) (Description, error) {
	switch tv := raw.(type) {
	case nil, bool:
		// "pkg = { sdk = true }" style: the value carries no information
		// beyond choosing this source.
		return sdkDescription{sdk: "dart"}, nil
	case string:
		return sdkDescription{sdk: tv}, nil
	case map[string]interface{}:
		if v, ok := tv["sdk"]; ok {
			if s, ok := v.(string); ok {
				return sdkDescription{sdk: s}, nil
			}
		}
		return sdkDescription{sdk: "dart"}, nil
	}
	return nil, errors.Errorf("sdk package %q has malformed description (%T)", name, raw)
}

func (ss *SDKSource) ParseRef(name string, raw interface{}) (Ref, error) {
	d, err := ss.ParseDescription(name, raw)
	if err != nil {
		return Ref{}, err
	}
	return NewRef(name, ss.Name(), d), nil
}

func (ss *SDKSource) ParseID(name, version string, raw interface{}) (ID, error) {
	ref, err := ss.ParseRef(name, raw)
	if err != nil {
		return ID{}, err
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return ID{}, errors.Wrapf(err, "sdk package %q", name)
	}
	return NewID(ref, v), nil
}

func (ss *SDKSource) DescriptionsEqual(d1, d2 Description) bool {
	s1, ok1 := d1.(sdkDescription)
	s2, ok2 := d2.(sdkDescription)
	return ok1 && ok2 && s1.sdk == s2.sdk
}

func (ss *SDKSource) HashDescription(d Description) uint64 {
	s, ok := d.(sdkDescription)
	if !ok {
		return 0
	}
	return fnvHash(s.sdk)
}

func (ss *SDKSource) ListVersions(ctx context.Context, ref Ref) ([]ID, error) {
	if err := ss.scan(); err != nil {
		return nil, &SourceUnavailableError{Ref: ref, Err: err}
	}
	dir, ok := ss.pkgs[ref.Name()]
	if !ok {
		return nil, nil
	}
	m, err := ss.an.DeriveManifest(dir)
	if err != nil {
		return nil, err
	}
	v := m.Version()
	if v == nil {
		v = ss.version
	}
	return []ID{NewID(ref, v)}, nil
}

func (ss *SDKSource) DescribeDependencies(ctx context.Context, id ID) (Manifest, error) {
	if err := ss.scan(); err != nil {
		return nil, &SourceUnavailableError{Ref: id.Ref, Err: err}
	}
	dir, ok := ss.pkgs[id.Name()]
	if !ok {
		return nil, errors.Errorf("SDK at %s does not bundle package %q", ss.root, id.Name())
	}
	return ss.an.DeriveManifest(dir)
}

func (ss *SDKSource) Materialize(ctx context.Context, id ID, to string) error {
	if err := ss.scan(); err != nil {
		return err
	}
	dir, ok := ss.pkgs[id.Name()]
	if !ok {
		return errors.Errorf("SDK at %s does not bundle package %q", ss.root, id.Name())
	}
	cfg := &shutil.CopyTreeOptions{
		Symlinks:     true,
		CopyFunction: shutil.Copy,
	}
	return errors.Wrapf(shutil.CopyTree(dir, to, cfg), "failed to copy %s into place", id)
}
