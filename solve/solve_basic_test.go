package solve

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	semver "github.com/Masterminds/semver/v3"
)

// The fixture registry parses every test ref through a real hosted source
// pointed at a pretend registry, so description canonicalization and
// equality run the same code paths production does.
var (
	fixReg        = NewSourceRegistry()
	fixHosted     = NewHostedSource(fixReg, "https://example.com/packages", nil)
	fixRegistered = registerFixHosted(fixReg, fixHosted)
)

// registerFixHosted registers fixHosted with fixReg as part of package-level
// variable initialization, so that basicFixtures (which transitively depends
// on fixHosted via mkDepspec/nvSplit) initializes after fixHosted is ready.
func registerFixHosted(reg *SourceRegistry, hs *HostedSource) bool {
	reg.Register(hs)
	return true
}

var regfrom = regexp.MustCompile(`^(\S+) from (\S+) (.*)$`)

// nvSplit splits an "info" string on " " into the pair of name and
// version/constraint, and returns each individually.
//
// This is for narrow use - panics if there are less than two resulting
// items in the slice.
func nvSplit(info string) (ref Ref, version string) {
	var rawdesc interface{}
	if strings.Contains(info, " from ") {
		parts := regfrom.FindStringSubmatch(info)
		if parts == nil {
			panic(fmt.Sprintf("Malformed 'from' info string '%s'", info))
		}
		info = parts[1] + " " + parts[3]
		rawdesc = parts[2]
	}

	s := strings.SplitN(info, " ", 2)
	if len(s) < 2 {
		panic(fmt.Sprintf("Malformed name/version info string '%s'", info))
	}

	ref, err := fixHosted.ParseRef(s[0], rawdesc)
	if err != nil {
		panic(fmt.Sprintf("bad fixture ref %q: %s", info, err))
	}
	return ref, s[1]
}

// mkAtom splits the input string on a space, and uses the first two
// elements as the package name and version, respectively. A "from" clause
// overrides the hosted registry URL.
func mkAtom(info string) ID {
	ref, ver := nvSplit(info)
	v, err := semver.NewVersion(ver)
	if err != nil {
		// don't want to allow bad test data at this level, so just panic
		panic(fmt.Sprintf("Error when converting '%s' into semver: %s", ver, err))
	}
	return NewID(ref, v)
}

// mkRange builds a Range from an input like "foo ^1.0.0". Tokens prefixed
// with + name requested features: "foo ^1.0.0 +net +tls".
func mkRange(info string) Range {
	var features map[string]bool
	for strings.Contains(info, " +") {
		idx := strings.LastIndex(info, " +")
		if features == nil {
			features = make(map[string]bool)
		}
		features[info[idx+2:]] = true
		info = info[:idx]
	}

	ref, body := nvSplit(info)
	c, err := ParseConstraint(body)
	if err != nil {
		panic(fmt.Sprintf("Error when converting '%s' into constraint: %s", body, err))
	}
	return NewRange(ref, c, features)
}

// A depspec is a fixture representing all the information a source would
// ordinarily glean directly from interrogating a package.
type depspec struct {
	id       ID
	deps     []Range
	devdeps  []Range
	envdeps  []Range
	features []featureSpec
}

// mkDepspec creates a depspec by processing a series of strings, each of
// which contains an identifier and constraint body. The first string is
// the depspec's own atom.
//
// Prefixes select the dependency class:
//
//	"(dev) foo ^1.0.0"        a dev dependency
//	"(sdk) ^2.0.0"            an environment constraint on the sdk magic package
//	"(feat:net) foo ^1.0.0"   a dependency gated by the non-default feature "net"
//	"(dfeat:log) foo ^1.0.0"  a dependency gated by the default-on feature "log"
func mkDepspec(pi string, deps ...string) depspec {
	ds := depspec{
		id: mkAtom(pi),
	}

	for _, dep := range deps {
		var class string
		if strings.HasPrefix(dep, "(") {
			idx := strings.Index(dep, ") ")
			class, dep = dep[1:idx], dep[idx+2:]
		}

		switch {
		case class == "":
			ds.deps = append(ds.deps, mkRange(dep))
		case class == "dev":
			ds.devdeps = append(ds.devdeps, mkRange(dep))
		case class == "sdk":
			c, err := ParseConstraint(dep)
			if err != nil {
				panic(fmt.Sprintf("bad sdk constraint %q: %s", dep, err))
			}
			ds.envdeps = append(ds.envdeps, NewRange(MagicRef(SDKMagicName), c, nil))
		case strings.HasPrefix(class, "feat:"):
			ds.features = addFeatureDep(ds.features, class[5:], false, mkRange(dep))
		case strings.HasPrefix(class, "dfeat:"):
			ds.features = addFeatureDep(ds.features, class[6:], true, mkRange(dep))
		default:
			panic(fmt.Sprintf("unknown dep class %q", class))
		}
	}

	return ds
}

func addFeatureDep(features []featureSpec, name string, byDefault bool, dep Range) []featureSpec {
	for k, f := range features {
		if f.name == name {
			features[k].deps = append(features[k].deps, dep)
			return features
		}
	}
	return append(features, featureSpec{name: name, byDefault: byDefault, deps: []Range{dep}})
}

func (ds depspec) manifest() Manifest {
	return &simpleManifest{
		name:     ds.id.Name(),
		version:  ds.id.Version(),
		deps:     ds.deps,
		devDeps:  ds.devdeps,
		envDeps:  ds.envdeps,
		features: ds.features,
	}
}

// depspecSourceManager is a SourceManager that answers the solver from a
// fixture table instead of real sources.
type depspecSourceManager struct {
	specs []depspec
}

var _ SourceManager = (*depspecSourceManager)(nil)

func newdepspecSM(specs []depspec) *depspecSourceManager {
	return &depspecSourceManager{specs: specs}
}

func (sm *depspecSourceManager) ListVersions(ctx context.Context, ref Ref) ([]ID, error) {
	var ids []ID
	for _, ds := range sm.specs {
		if ds.id.IsRoot() {
			continue
		}
		if ds.id.Ref.eq(ref) {
			ids = append(ids, NewID(ref, ds.id.Version()))
		}
	}
	sortForUpgrade(ids)
	return ids, nil
}

func (sm *depspecSourceManager) GetManifest(ctx context.Context, id ID) (Manifest, error) {
	for _, ds := range sm.specs {
		if ds.id.eq(id) {
			return ds.manifest(), nil
		}
	}
	return nil, fmt.Errorf("no manifest found for %s", id)
}

func (sm *depspecSourceManager) SamePackage(a, b Ref) (bool, error) {
	return fixReg.RefsEquivalent(a, b)
}

func (sm *depspecSourceManager) Registry() *SourceRegistry { return fixReg }
func (sm *depspecSourceManager) Release()                  {}

// A basicFixture describes a solving run: the dependency universe, the
// inputs, and what should come out.
type basicFixture struct {
	// name of this fixture datum
	n string
	// depspecs. always treat first as root
	ds []depspec
	// results; map of name/version pairs
	r map[string]string
	// lockfile simulation, if one's to be used at all
	l []string
	// solve mode to use
	mode Mode
	// names to pass as the unlock set
	unlock []string
	// magic package versions fixed by the environment
	env map[string]string
	// substrings that must all appear in the error, if an error is wanted
	errp []string
}

func (f basicFixture) lock() Lock {
	if len(f.l) == 0 {
		return nil
	}
	var ids []ID
	for _, info := range f.l {
		ids = append(ids, mkAtom(info))
	}
	return SimpleLock(ids)
}

func (f basicFixture) envMap() map[string]*semver.Version {
	if len(f.env) == 0 {
		return nil
	}
	out := make(map[string]*semver.Version, len(f.env))
	for n, v := range f.env {
		out[n] = NewVersion(v)
	}
	return out
}

// mkresults makes a result expectation map from "name version" strings.
func mkresults(pairs ...string) map[string]string {
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		s := strings.SplitN(p, " ", 2)
		m[s[0]] = s[1]
	}
	return m
}

var basicFixtures = []basicFixture{
	{
		n: "no dependencies",
		ds: []depspec{
			mkDepspec("root 0.0.0"),
		},
		r: mkresults(),
	},
	{
		n: "simple dependency tree",
		ds: []depspec{
			mkDepspec("root 0.0.0", "a ^1.0.0", "b ^1.0.0"),
			mkDepspec("a 1.0.0", "aa ^1.0.0", "ab ^1.0.0"),
			mkDepspec("aa 1.0.0"),
			mkDepspec("ab 1.0.0"),
			mkDepspec("b 1.0.0", "ba ^1.0.0", "bb ^1.0.0"),
			mkDepspec("ba 1.0.0"),
			mkDepspec("bb 1.0.0"),
		},
		r: mkresults(
			"a 1.0.0",
			"aa 1.0.0",
			"ab 1.0.0",
			"b 1.0.0",
			"ba 1.0.0",
			"bb 1.0.0",
		),
	},
	{
		n: "newest within constraint",
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo ^1.0.0"),
			mkDepspec("foo 1.0.0"),
			mkDepspec("foo 1.1.0"),
			mkDepspec("foo 2.0.0"),
		},
		r: mkresults("foo 1.1.0"),
	},
	{
		n: "shared dependency with overlapping constraints",
		ds: []depspec{
			mkDepspec("root 0.0.0", "a ^1.0.0", "b ^1.0.0"),
			mkDepspec("a 1.0.0", "shared >=2.0.0 <4.0.0"),
			mkDepspec("b 1.0.0", "shared >=3.0.0 <5.0.0"),
			mkDepspec("shared 2.5.0"),
			mkDepspec("shared 3.0.0"),
			mkDepspec("shared 3.6.9"),
			mkDepspec("shared 4.0.0"),
			mkDepspec("shared 5.0.0"),
		},
		r: mkresults(
			"a 1.0.0",
			"b 1.0.0",
			"shared 3.6.9",
		),
	},
	{
		n: "backtracks on disjoint transitive constraint",
		ds: []depspec{
			mkDepspec("root 0.0.0", "a any", "b any"),
			mkDepspec("a 1.0.0", "c ^1.0.0"),
			mkDepspec("a 2.0.0", "c ^2.0.0"),
			mkDepspec("b 1.0.0", "c ^1.0.0"),
			mkDepspec("c 1.0.0"),
			mkDepspec("c 2.0.0"),
		},
		r: mkresults(
			"a 1.0.0",
			"b 1.0.0",
			"c 1.0.0",
		),
	},
	{
		n: "unsatisfiable disjoint constraints",
		ds: []depspec{
			mkDepspec("root 0.0.0", "a ^1.0.0", "b ^1.0.0"),
			mkDepspec("a 1.0.0", "c ^1.0.0"),
			mkDepspec("b 1.0.0", "c ^2.0.0"),
			mkDepspec("c 1.0.0"),
			mkDepspec("c 2.0.0"),
		},
		errp: []string{"a", "b", "c"},
	},
	{
		n: "no version meets constraint",
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo ^9.0.0"),
			mkDepspec("foo 1.0.0"),
			mkDepspec("foo 2.0.0"),
		},
		errp: []string{"foo"},
	},
	{
		n: "lockfile bias honored on get",
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo ^1.0.0"),
			mkDepspec("foo 1.0.0"),
			mkDepspec("foo 1.1.0"),
			mkDepspec("foo 2.0.0"),
		},
		l:    []string{"foo 1.0.0"},
		mode: ModeGet,
		r:    mkresults("foo 1.0.0"),
	},
	{
		n: "upgrade ignores lockfile",
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo ^1.0.0"),
			mkDepspec("foo 1.0.0"),
			mkDepspec("foo 1.1.0"),
			mkDepspec("foo 2.0.0"),
		},
		l:    []string{"foo 1.0.0"},
		mode: ModeUpgrade,
		r:    mkresults("foo 1.1.0"),
	},
	{
		n: "upgrade with explicit unlock set keeps the rest",
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo ^1.0.0", "bar ^1.0.0"),
			mkDepspec("foo 1.0.0"),
			mkDepspec("foo 1.1.0"),
			mkDepspec("bar 1.0.0"),
			mkDepspec("bar 1.1.0"),
		},
		l:      []string{"foo 1.0.0", "bar 1.0.0"},
		mode:   ModeUpgrade,
		unlock: []string{"bar"},
		r: mkresults(
			"foo 1.0.0",
			"bar 1.1.0",
		),
	},
	{
		n: "lockfile pin outside constraints is discarded",
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo ^1.1.0"),
			mkDepspec("foo 1.0.0"),
			mkDepspec("foo 1.2.0"),
		},
		l:    []string{"foo 1.0.0"},
		mode: ModeGet,
		r:    mkresults("foo 1.2.0"),
	},
	{
		n: "lockfile pin no longer listed is discarded",
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo ^1.0.0"),
			mkDepspec("foo 1.2.0"),
		},
		l:    []string{"foo 1.1.0"},
		mode: ModeGet,
		r:    mkresults("foo 1.2.0"),
	},
	{
		n: "downgrade prefers oldest",
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo >=1.0.0 <3.0.0"),
			mkDepspec("foo 1.0.0"),
			mkDepspec("foo 1.1.0"),
			mkDepspec("foo 2.0.0"),
		},
		mode: ModeDowngrade,
		r:    mkresults("foo 1.0.0"),
	},
	{
		n: "dev dependencies of root are honored",
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo ^1.0.0", "(dev) bar ^1.0.0"),
			mkDepspec("foo 1.0.0"),
			mkDepspec("bar 1.0.0"),
		},
		r: mkresults(
			"foo 1.0.0",
			"bar 1.0.0",
		),
	},
	{
		n: "dev dependencies of non-root are invisible",
		ds: []depspec{
			mkDepspec("root 0.0.0", "x ^1.0.0"),
			mkDepspec("x 1.0.0", "(dev) y ^9.0.0"),
		},
		r: mkresults("x 1.0.0"),
	},
	{
		n: "dependency cycle resolves",
		ds: []depspec{
			mkDepspec("root 0.0.0", "a ^1.0.0"),
			mkDepspec("a 1.0.0", "b ^1.0.0"),
			mkDepspec("b 1.0.0", "a ^1.0.0"),
		},
		r: mkresults(
			"a 1.0.0",
			"b 1.0.0",
		),
	},
	{
		n: "description mismatch on shared name",
		ds: []depspec{
			mkDepspec("root 0.0.0", "a ^1.0.0", "b ^1.0.0"),
			mkDepspec("a 1.0.0", "shared from https://mirror.example.com ^1.0.0"),
			mkDepspec("b 1.0.0", "shared ^1.0.0"),
			mkDepspec("shared 1.0.0"),
			mkDepspec("shared from https://mirror.example.com 1.0.0"),
		},
		errp: []string{"shared"},
	},
	{
		n: "sdk constraint satisfied",
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo ^1.0.0", "(sdk) ^2.0.0"),
			mkDepspec("foo 1.0.0", "(sdk) >=2.1.0 <3.0.0"),
		},
		env: map[string]string{SDKMagicName: "2.4.0"},
		r:   mkresults("foo 1.0.0"),
	},
	{
		n: "sdk constraint violated by root",
		ds: []depspec{
			mkDepspec("root 0.0.0", "(sdk) ^1.0.0"),
		},
		env:  map[string]string{SDKMagicName: "2.0.0"},
		errp: []string{"sdk", "2.0.0"},
	},
	{
		n: "sdk constraint rules out newest",
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo any", "(sdk) ^2.0.0"),
			mkDepspec("foo 2.0.0", "(sdk) ^3.0.0"),
			mkDepspec("foo 1.0.0", "(sdk) ^2.0.0"),
		},
		env: map[string]string{SDKMagicName: "2.4.0"},
		r:   mkresults("foo 1.0.0"),
	},
	{
		n: "feature-gated dependency enabled by depender",
		ds: []depspec{
			mkDepspec("root 0.0.0", "a ^1.0.0 +net"),
			mkDepspec("a 1.0.0", "(feat:net) f ^1.0.0"),
			mkDepspec("f 1.0.0"),
		},
		r: mkresults(
			"a 1.0.0",
			"f 1.0.0",
		),
	},
	{
		n: "feature-gated dependency stays off when unrequested",
		ds: []depspec{
			mkDepspec("root 0.0.0", "a ^1.0.0"),
			mkDepspec("a 1.0.0", "(feat:net) f ^1.0.0"),
			mkDepspec("f 1.0.0"),
		},
		r: mkresults("a 1.0.0"),
	},
	{
		n: "default feature contributes its group",
		ds: []depspec{
			mkDepspec("root 0.0.0", "a ^1.0.0"),
			mkDepspec("a 1.0.0", "(dfeat:log) l ^1.0.0"),
			mkDepspec("l 1.0.0"),
		},
		r: mkresults(
			"a 1.0.0",
			"l 1.0.0",
		),
	},
}
