package solve

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	semver "github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
)

// A Source is a strategy for locating and interrogating one class of
// packages - a hosted registry, git repositories, local paths, the SDK
// installation. All description-specific logic lives behind this interface;
// nothing else in the system may interpret a Description.
type Source interface {
	// Name is the source's registry key, as it appears in manifests and
	// lockfiles ("hosted", "git", "path", "sdk").
	Name() string

	// ParseDescription canonicalizes a raw description as found in a
	// manifest or lockfile. The package name is provided because several
	// description shapes default fields from it.
	ParseDescription(name string, raw interface{}) (Description, error)

	// ParseRef builds a Ref for the named package from a raw description.
	ParseRef(name string, raw interface{}) (Ref, error)

	// ParseID builds a concrete ID from lockfile data.
	ParseID(name, version string, raw interface{}) (ID, error)

	// DescriptionsEqual reports whether two descriptions denote the same
	// package, e.g. registry URLs differing only in a trailing slash.
	DescriptionsEqual(d1, d2 Description) bool

	// HashDescription produces a hash consistent with DescriptionsEqual.
	HashDescription(d Description) uint64

	// ListVersions enumerates the available IDs for the ref, in the
	// source's preference order. The result is stable for the lifetime of
	// the process.
	ListVersions(ctx context.Context, ref Ref) ([]ID, error)

	// DescribeDependencies loads the manifest of a concrete version.
	DescribeDependencies(ctx context.Context, id ID) (Manifest, error)

	// Materialize places the content of id at the given directory. It is
	// used by the system cache when installing; the solver never calls it.
	Materialize(ctx context.Context, id ID, to string) error
}

// Manifest is the solver's view of a package's parsed metadata. The root
// tool layer implements it on top of whatever file format it reads; sources
// synthesize it from registry payloads.
type Manifest interface {
	// Name is the declared package name.
	Name() string

	// Version is the declared version, or nil when the manifest does not
	// declare one.
	Version() *semver.Version

	// DependencyRanges lists the unconditional dependencies. Manifests
	// built by ManifestFromMap list them in name order; declaration order
	// is not kept.
	DependencyRanges() []Range

	// DevDependencyRanges lists dependencies used only when developing the
	// package itself. The solver consults these only for the root package.
	DevDependencyRanges() []Range

	// EnvConstraints lists ranges over magic packages (e.g. the SDK
	// version requirement).
	EnvConstraints() []Range

	// FeatureRanges lists the conditional dependencies gated by the given
	// enabled feature set.
	FeatureRanges(enabled map[string]bool) []Range

	// DefaultFeatures reports the features enabled when a depender names
	// none explicitly.
	DefaultFeatures() map[string]bool
}

// Lock is the solver's view of a prior resolution. Implementing tools store
// whatever else they like alongside; the solver needs only the pins.
type Lock interface {
	// Packages returns the locked IDs, in no particular order.
	Packages() []ID
}

// SimpleLock is a minimal Lock for tests and ephemeral use.
type SimpleLock []ID

var _ Lock = SimpleLock{}

// Packages returns the entire contents of the SimpleLock.
func (l SimpleLock) Packages() []ID { return l }

// A ProjectAnalyzer derives a Manifest from an on-disk package tree. The
// git, path and sdk sources use one to read manifests out of working
// copies; the root tool layer provides the implementation so that the
// solver stays ignorant of file formats.
type ProjectAnalyzer interface {
	DeriveManifest(path string) (Manifest, error)
}

// UnknownSourceError is returned when a manifest or lockfile names a source
// that is not registered.
type UnknownSourceError struct {
	Name string
}

func (e *UnknownSourceError) Error() string {
	return fmt.Sprintf("unknown package source %q", e.Name)
}

// SourceUnavailableError wraps a transport-level failure from a source. The
// solver never retries these; they surface to the caller as-is.
type SourceUnavailableError struct {
	Ref Ref
	Err error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable for %s: %s", e.Ref.SourceName(), e.Ref.Name(), e.Err)
}

func (e *SourceUnavailableError) Cause() error  { return e.Err }
func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// SourceRegistry maps source names to implementations. Description
// comparisons across Refs always dispatch through here; the solver never
// compares descriptions structurally.
type SourceRegistry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewSourceRegistry returns an empty registry.
func NewSourceRegistry() *SourceRegistry {
	return &SourceRegistry{sources: make(map[string]Source)}
}

// Register adds a source under its own name, replacing any previous
// registration.
func (reg *SourceRegistry) Register(s Source) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.sources[s.Name()] = s
}

// Get resolves a source name.
func (reg *SourceRegistry) Get(name string) (Source, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	if s, ok := reg.sources[name]; ok {
		return s, nil
	}
	return nil, &UnknownSourceError{Name: name}
}

// Names returns the registered source names, sorted.
func (reg *SourceRegistry) Names() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	names := make([]string, 0, len(reg.sources))
	for n := range reg.sources {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RefsEquivalent reports whether two Refs denote the same package, using
// the owning source's description semantics.
func (reg *SourceRegistry) RefsEquivalent(a, b Ref) (bool, error) {
	if a.Name() != b.Name() {
		return false, nil
	}
	if a.IsRoot() || a.IsMagic() || b.IsRoot() || b.IsMagic() {
		return a.IsRoot() == b.IsRoot() && a.IsMagic() == b.IsMagic(), nil
	}
	if a.SourceName() != b.SourceName() {
		return false, nil
	}
	s, err := reg.Get(a.SourceName())
	if err != nil {
		return false, err
	}
	return s.DescriptionsEqual(a.Desc(), b.Desc()), nil
}

// HashRef hashes a Ref consistently with RefsEquivalent. Name, source name
// and the source's description hash are mixed with FNV-1a rather than
// XORed together, so a name colliding with its own source hash cannot
// cancel out.
func (reg *SourceRegistry) HashRef(r Ref) (uint64, error) {
	h := fnv.New64a()
	h.Write([]byte(r.Name()))
	h.Write([]byte{0, byte(r.rel)})
	if r.IsRoot() || r.IsMagic() {
		return h.Sum64(), nil
	}

	s, err := reg.Get(r.SourceName())
	if err != nil {
		return 0, err
	}
	h.Write([]byte(r.SourceName()))
	h.Write([]byte{0})
	var db [8]byte
	dh := s.HashDescription(r.Desc())
	for i := range db {
		db[i] = byte(dh >> (8 * i))
	}
	h.Write(db[:])
	return h.Sum64(), nil
}

// fnvHash is the description-hash helper shared by the sources.
func fnvHash(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

// ParseDependency interprets one dependency entry from a manifest. The raw
// value is either a bare constraint string (an implicitly-hosted package)
// or a table with at most one source key plus optional "version" and
// "features" entries:
//
//	foo = "^1.2.3"
//	bar = { git = "git://example.com/bar.git", version = "any" }
//	baz = { hosted = "https://example.com", version = ">=1.0.0 <2.0.0", features = ["net"] }
func ParseDependency(reg *SourceRegistry, name string, raw interface{}) (Range, error) {
	switch tv := raw.(type) {
	case string:
		c, err := ParseConstraint(tv)
		if err != nil {
			return Range{}, errors.Wrapf(err, "dependency %q", name)
		}
		hosted, err := reg.Get("hosted")
		if err != nil {
			return Range{}, err
		}
		ref, err := hosted.ParseRef(name, nil)
		if err != nil {
			return Range{}, err
		}
		return NewRange(ref, c, nil), nil

	case map[string]interface{}:
		var srcName string
		var srcRaw interface{}
		for _, candidate := range reg.Names() {
			if v, ok := tv[candidate]; ok {
				if srcName != "" {
					return Range{}, errors.Errorf("dependency %q names multiple sources (%s, %s)", name, srcName, candidate)
				}
				srcName, srcRaw = candidate, v
			}
		}
		if srcName == "" {
			// A table with no source key is an implicitly-hosted package,
			// same as the bare-string form.
			if _, ok := tv["version"]; !ok {
				return Range{}, errors.Errorf("dependency %q does not name a known source", name)
			}
			srcName = "hosted"
		}

		src, err := reg.Get(srcName)
		if err != nil {
			return Range{}, err
		}
		ref, err := src.ParseRef(name, srcRaw)
		if err != nil {
			return Range{}, err
		}

		c := Constraint(any)
		if v, ok := tv["version"]; ok {
			vs, ok := v.(string)
			if !ok {
				return Range{}, errors.Errorf("dependency %q: version must be a string, not %T", name, v)
			}
			c, err = ParseConstraint(vs)
			if err != nil {
				return Range{}, errors.Wrapf(err, "dependency %q", name)
			}
		}

		var features map[string]bool
		if v, ok := tv["features"]; ok {
			fl, ok := v.([]interface{})
			if !ok {
				return Range{}, errors.Errorf("dependency %q: features must be an array, not %T", name, v)
			}
			features = make(map[string]bool, len(fl))
			for _, f := range fl {
				fs, ok := f.(string)
				if !ok {
					return Range{}, errors.Errorf("dependency %q: feature names must be strings, not %T", name, f)
				}
				features[fs] = true
			}
		}

		return NewRange(ref, c, features), nil
	}

	return Range{}, errors.Errorf("dependency %q has malformed description (%T)", name, raw)
}

// simpleManifest is the Manifest implementation sources synthesize from
// registry payloads, and the one test fixtures use.
type simpleManifest struct {
	name     string
	version  *semver.Version
	deps     []Range
	devDeps  []Range
	envDeps  []Range
	features []featureSpec
}

// featureSpec is one declared feature: its name, whether it is on by
// default, and the dependencies it contributes when enabled.
type featureSpec struct {
	name      string
	byDefault bool
	deps      []Range
}

// NewSimpleManifest assembles a Manifest from parts. It is exported for
// tools and tests that construct manifests without a file behind them.
func NewSimpleManifest(name string, version *semver.Version, deps, devDeps, envDeps []Range) Manifest {
	return &simpleManifest{
		name:    name,
		version: version,
		deps:    deps,
		devDeps: devDeps,
		envDeps: envDeps,
	}
}

func (m *simpleManifest) Name() string                 { return m.name }
func (m *simpleManifest) Version() *semver.Version     { return m.version }
func (m *simpleManifest) DependencyRanges() []Range    { return m.deps }
func (m *simpleManifest) DevDependencyRanges() []Range { return m.devDeps }
func (m *simpleManifest) EnvConstraints() []Range      { return m.envDeps }

func (m *simpleManifest) FeatureRanges(enabled map[string]bool) []Range {
	var out []Range
	for _, f := range m.features {
		if enabled[f.name] {
			out = append(out, f.deps...)
		}
	}
	return out
}

func (m *simpleManifest) DefaultFeatures() map[string]bool {
	var out map[string]bool
	for _, f := range m.features {
		if f.byDefault {
			if out == nil {
				out = make(map[string]bool)
			}
			out[f.name] = true
		}
	}
	return out
}
