package solve

import (
	"sort"

	semver "github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
)

// ManifestFromMap builds a Manifest from the generic map shape shared by
// every concrete manifest carrier: decoded registry JSON, a decoded
// manifest file, an entry in a git repository. Dependency entries dispatch
// through the registry, so descriptions are canonical on the way in.
//
// Recognized keys: name, version, dependencies, dev_dependencies,
// environment, features. Unknown keys are ignored.
func ManifestFromMap(reg *SourceRegistry, data map[string]interface{}) (Manifest, error) {
	m := &simpleManifest{}

	if v, ok := data["name"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, errors.Errorf("manifest name must be a string, not %T", v)
		}
		m.name = s
	}
	if m.name == "" {
		return nil, errors.New("manifest is missing a name")
	}

	if v, ok := data["version"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, errors.Errorf("manifest %q: version must be a string, not %T", m.name, v)
		}
		ver, err := semver.NewVersion(s)
		if err != nil {
			return nil, errors.Wrapf(err, "manifest %q", m.name)
		}
		m.version = ver
	}

	var err error
	if m.deps, err = depsFromMap(reg, m.name, data["dependencies"]); err != nil {
		return nil, err
	}
	if m.devDeps, err = depsFromMap(reg, m.name, data["dev_dependencies"]); err != nil {
		return nil, err
	}

	if v, ok := data["environment"]; ok {
		env, ok := v.(map[string]interface{})
		if !ok {
			return nil, errors.Errorf("manifest %q: environment must be a table, not %T", m.name, v)
		}
		enames := make([]string, 0, len(env))
		for n := range env {
			enames = append(enames, n)
		}
		sort.Strings(enames)
		for _, n := range enames {
			cv := env[n]
			cs, ok := cv.(string)
			if !ok {
				return nil, errors.Errorf("manifest %q: environment %q must be a constraint string, not %T", m.name, n, cv)
			}
			c, err := ParseConstraint(cs)
			if err != nil {
				return nil, errors.Wrapf(err, "manifest %q: environment %q", m.name, n)
			}
			m.envDeps = append(m.envDeps, NewRange(MagicRef(n), c, nil))
		}
	}

	if v, ok := data["features"]; ok {
		feats, ok := v.(map[string]interface{})
		if !ok {
			return nil, errors.Errorf("manifest %q: features must be a table, not %T", m.name, v)
		}
		fnames := make([]string, 0, len(feats))
		for n := range feats {
			fnames = append(fnames, n)
		}
		sort.Strings(fnames)
		for _, fname := range fnames {
			fv := feats[fname]
			spec := featureSpec{name: fname, byDefault: true}
			ft, ok := fv.(map[string]interface{})
			if !ok {
				return nil, errors.Errorf("manifest %q: feature %q must be a table, not %T", m.name, fname, fv)
			}
			if dv, ok := ft["default"]; ok {
				db, ok := dv.(bool)
				if !ok {
					return nil, errors.Errorf("manifest %q: feature %q default must be a bool, not %T", m.name, fname, dv)
				}
				spec.byDefault = db
			}
			if spec.deps, err = depsFromMap(reg, m.name, ft["dependencies"]); err != nil {
				return nil, errors.Wrapf(err, "feature %q", fname)
			}
			m.features = append(m.features, spec)
		}
	}

	return m, nil
}

func depsFromMap(reg *SourceRegistry, owner string, v interface{}) ([]Range, error) {
	if v == nil {
		return nil, nil
	}
	dt, ok := v.(map[string]interface{})
	if !ok {
		return nil, errors.Errorf("manifest %q: dependencies must be a table, not %T", owner, v)
	}

	// Map iteration order is randomized and the map carries no declaration
	// order, so normalize to name order here for determinism.
	names := make([]string, 0, len(dt))
	for n := range dt {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]Range, 0, len(dt))
	for _, n := range names {
		r, err := ParseDependency(reg, n, dt[n])
		if err != nil {
			return nil, errors.Wrapf(err, "manifest %q", owner)
		}
		out = append(out, r)
	}
	return out, nil
}
