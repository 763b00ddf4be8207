package solve

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	semver "github.com/Masterminds/semver/v3"
	"github.com/Masterminds/vcs"
	"github.com/pkg/errors"
	shutil "github.com/termie/go-shutil"
)

// Used to compute a friendly filepath from a URL-shaped input.
var sanitizer = strings.NewReplacer("-", "--", ":", "-", "/", "-", "+", "-")

// gitDescription locates a package inside a git repository: the remote URL,
// an optional ref (branch, tag or revision; empty means the default
// branch), and an optional path within the repository.
type gitDescription struct {
	url  string
	ref  string
	path string
}

func (d gitDescription) String() string {
	s := d.url
	if d.ref != "" {
		s += "@" + d.ref
	}
	if d.path != "" {
		s += "#" + d.path
	}
	return s
}

func (d gitDescription) Blob() map[string]interface{} {
	b := map[string]interface{}{"url": d.url}
	if d.ref != "" {
		b["ref"] = d.ref
	}
	if d.path != "" {
		b["path"] = d.path
	}
	return b
}

// GitSource serves packages living in git repositories. Repositories are
// cloned once under the cache directory and updated on demand; tags that
// parse as semver become the available versions.
type GitSource struct {
	cachedir string
	an       ProjectAnalyzer

	mu    sync.Mutex
	repos map[string]vcs.Repo
}

var _ Source = (*GitSource)(nil)

// NewGitSource returns a git source cloning under cachedir.
func NewGitSource(cachedir string, an ProjectAnalyzer) *GitSource {
	return &GitSource{
		cachedir: cachedir,
		an:       an,
		repos:    make(map[string]vcs.Repo),
	}
}

func (gs *GitSource) Name() string { return "git" }

func (gs *GitSource) ParseDescription(name string, raw interface{}) (Description, error) {
	switch tv := raw.(type) {
	case string:
		return gitDescription{url: canonicalGitURL(tv)}, nil
	case map[string]interface{}:
		d := gitDescription{}
		if v, ok := tv["url"]; ok {
			s, ok := v.(string)
			if !ok {
				return nil, errors.Errorf("git package %q: url must be a string, not %T", name, v)
			}
			d.url = canonicalGitURL(s)
		}
		if d.url == "" {
			return nil, errors.Errorf("git package %q has no url", name)
		}
		if v, ok := tv["ref"]; ok {
			s, ok := v.(string)
			if !ok {
				return nil, errors.Errorf("git package %q: ref must be a string, not %T", name, v)
			}
			d.ref = s
		}
		if v, ok := tv["path"]; ok {
			s, ok := v.(string)
			if !ok {
				return nil, errors.Errorf("git package %q: path must be a string, not %T", name, v)
			}
			d.path = filepath.ToSlash(filepath.Clean(s))
			if d.path == "." {
				d.path = ""
			}
		}
		return d, nil
	}
	return nil, errors.Errorf("git package %q has malformed description (%T)", name, raw)
}

func canonicalGitURL(u string) string {
	return strings.TrimSuffix(strings.TrimSpace(u), "/")
}

func (gs *GitSource) ParseRef(name string, raw interface{}) (Ref, error) {
	d, err := gs.ParseDescription(name, raw)
	if err != nil {
		return Ref{}, err
	}
	return NewRef(name, gs.Name(), d), nil
}

func (gs *GitSource) ParseID(name, version string, raw interface{}) (ID, error) {
	ref, err := gs.ParseRef(name, raw)
	if err != nil {
		return ID{}, err
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return ID{}, errors.Wrapf(err, "git package %q", name)
	}
	return NewID(ref, v), nil
}

// DescriptionsEqual compares on URL and path. Refs match when equal, or
// when either side leaves the ref unspecified - very much intentionally,
// so that a lockfile entry carrying the resolved ref still matches the
// manifest's unpinned declaration.
func (gs *GitSource) DescriptionsEqual(d1, d2 Description) bool {
	g1, ok1 := d1.(gitDescription)
	g2, ok2 := d2.(gitDescription)
	if !ok1 || !ok2 {
		return false
	}
	if canonicalGitURL(g1.url) != canonicalGitURL(g2.url) || g1.path != g2.path {
		return false
	}
	return g1.ref == g2.ref || g1.ref == "" || g2.ref == ""
}

// HashDescription mixes only the fields DescriptionsEqual always compares,
// keeping hashing consistent with equality.
func (gs *GitSource) HashDescription(d Description) uint64 {
	g, ok := d.(gitDescription)
	if !ok {
		return 0
	}
	return fnvHash(canonicalGitURL(g.url) + "\x00" + g.path)
}

// repoFor returns a synced local clone for the remote, creating it on first
// use.
func (gs *GitSource) repoFor(remote string) (vcs.Repo, error) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	if r, ok := gs.repos[remote]; ok {
		return r, nil
	}

	local := filepath.Join(gs.cachedir, "sources", "git", sanitizer.Replace(remote))
	r, err := vcs.NewRepo(remote, local)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to set up repository %s", remote)
	}

	if r.CheckLocal() {
		if err := r.Update(); err != nil {
			return nil, errors.Wrapf(err, "failed to update repository %s", remote)
		}
	} else {
		if err := r.Get(); err != nil {
			return nil, errors.Wrapf(err, "failed to clone repository %s", remote)
		}
	}

	gs.repos[remote] = r
	return r, nil
}

func (gs *GitSource) ListVersions(ctx context.Context, ref Ref) ([]ID, error) {
	d := ref.Desc().(gitDescription)
	r, err := gs.repoFor(d.url)
	if err != nil {
		return nil, &SourceUnavailableError{Ref: ref, Err: err}
	}

	// A pinned ref means exactly one candidate, at whatever version the
	// manifest there declares.
	if d.ref != "" {
		m, err := gs.manifestAt(r, d)
		if err != nil {
			return nil, err
		}
		v := m.Version()
		if v == nil {
			v = rootVersion
		}
		return []ID{NewID(ref, v)}, nil
	}

	tags, err := r.Tags()
	if err != nil {
		return nil, &SourceUnavailableError{Ref: ref, Err: err}
	}

	var ids []ID
	for _, t := range tags {
		v, err := semver.NewVersion(strings.TrimPrefix(t, "v"))
		if err != nil {
			continue
		}
		pinned := d
		pinned.ref = t
		ids = append(ids, NewID(NewRef(ref.Name(), gs.Name(), pinned), v))
	}
	return ids, nil
}

func (gs *GitSource) DescribeDependencies(ctx context.Context, id ID) (Manifest, error) {
	d := id.Desc().(gitDescription)
	r, err := gs.repoFor(d.url)
	if err != nil {
		return nil, &SourceUnavailableError{Ref: id.Ref, Err: err}
	}
	return gs.manifestAt(r, d)
}

// manifestAt checks out the description's ref (or the default branch) and
// derives the manifest at its path.
func (gs *GitSource) manifestAt(r vcs.Repo, d gitDescription) (Manifest, error) {
	if d.ref != "" {
		if err := r.UpdateVersion(d.ref); err != nil {
			return nil, errors.Wrapf(err, "failed to check out %s of %s", d.ref, d.url)
		}
	}
	return gs.an.DeriveManifest(filepath.Join(r.LocalPath(), filepath.FromSlash(d.path)))
}

func (gs *GitSource) Materialize(ctx context.Context, id ID, to string) error {
	d := id.Desc().(gitDescription)
	r, err := gs.repoFor(d.url)
	if err != nil {
		return err
	}
	if d.ref != "" {
		if err := r.UpdateVersion(d.ref); err != nil {
			return errors.Wrapf(err, "failed to check out %s of %s", d.ref, d.url)
		}
	}

	cfg := &shutil.CopyTreeOptions{
		Symlinks:     true,
		CopyFunction: shutil.Copy,
		Ignore: func(src string, contents []os.FileInfo) []string {
			return []string{".git"}
		},
	}
	return errors.Wrapf(
		shutil.CopyTree(filepath.Join(r.LocalPath(), filepath.FromSlash(d.path)), to, cfg),
		"failed to export %s", fmt.Sprintf("%s@%s", id.Name(), id.Version()),
	)
}
