package solve

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	semver "github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
	shutil "github.com/termie/go-shutil"
	"golang.org/x/sync/singleflight"
)

// DefaultHostedURL is the registry consulted when a hosted dependency does
// not name one explicitly.
const DefaultHostedURL = "https://pub.dartlang.org"

// hostedDescription locates a package on an HTTP registry. The canonical
// form has no trailing slash.
type hostedDescription struct {
	url string
}

func (d hostedDescription) String() string { return d.url }

func (d hostedDescription) Blob() map[string]interface{} {
	return map[string]interface{}{"url": d.url}
}

// listing mirrors the registry's package listing payload.
type listing struct {
	Name     string           `json:"name"`
	Versions []listingVersion `json:"versions"`
}

type listingVersion struct {
	Version string                 `json:"version"`
	Pubspec map[string]interface{} `json:"pubspec"`
	Archive string                 `json:"archive_url"`
	Hash    string                 `json:"archive_sha256"`
}

// HostedSource serves packages published to an HTTP registry. Listings and
// manifests are fetched with a pooled client, coalesced through a
// singleflight group, and persisted in the BoltCache so repeated runs skip
// the network entirely.
type HostedSource struct {
	reg        *SourceRegistry
	defaultURL string
	client     *http.Client
	cache      *BoltCache

	sf singleflight.Group

	mu        sync.Mutex
	manifests map[string]Manifest
	archives  map[string]string
	hashes    map[string]string
}

var _ Source = (*HostedSource)(nil)

// NewHostedSource returns a hosted source talking to defaultURL for
// unqualified dependencies. The BoltCache is optional.
func NewHostedSource(reg *SourceRegistry, defaultURL string, cache *BoltCache) *HostedSource {
	if defaultURL == "" {
		defaultURL = DefaultHostedURL
	}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &HostedSource{
		reg:        reg,
		defaultURL: strings.TrimSuffix(defaultURL, "/"),
		client:     &http.Client{Transport: tr, Timeout: 30 * time.Second},
		cache:      cache,
		manifests:  make(map[string]Manifest),
		archives:   make(map[string]string),
		hashes:     make(map[string]string),
	}
}

func (hs *HostedSource) Name() string { return "hosted" }

func (hs *HostedSource) ParseDescription(name string, raw interface{}) (Description, error) {
	switch tv := raw.(type) {
	case nil:
		return hostedDescription{url: hs.defaultURL}, nil
	case string:
		return hs.canonical(tv)
	case map[string]interface{}:
		uv, ok := tv["url"]
		if !ok {
			return hostedDescription{url: hs.defaultURL}, nil
		}
		us, ok := uv.(string)
		if !ok {
			return nil, errors.Errorf("hosted package %q: url must be a string, not %T", name, uv)
		}
		return hs.canonical(us)
	}
	return nil, errors.Errorf("hosted package %q has malformed description (%T)", name, raw)
}

func (hs *HostedSource) canonical(u string) (Description, error) {
	parsed, err := url.Parse(u)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid registry url %q", u)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.Errorf("registry url %q is not absolute", u)
	}
	return hostedDescription{url: strings.TrimSuffix(u, "/")}, nil
}

func (hs *HostedSource) ParseRef(name string, raw interface{}) (Ref, error) {
	d, err := hs.ParseDescription(name, raw)
	if err != nil {
		return Ref{}, err
	}
	return NewRef(name, hs.Name(), d), nil
}

func (hs *HostedSource) ParseID(name, version string, raw interface{}) (ID, error) {
	ref, err := hs.ParseRef(name, raw)
	if err != nil {
		return ID{}, err
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return ID{}, errors.Wrapf(err, "hosted package %q", name)
	}
	return NewID(ref, v), nil
}

func (hs *HostedSource) DescriptionsEqual(d1, d2 Description) bool {
	h1, ok1 := d1.(hostedDescription)
	h2, ok2 := d2.(hostedDescription)
	return ok1 && ok2 && strings.TrimSuffix(h1.url, "/") == strings.TrimSuffix(h2.url, "/")
}

func (hs *HostedSource) HashDescription(d Description) uint64 {
	h, ok := d.(hostedDescription)
	if !ok {
		return 0
	}
	return fnvHash(strings.TrimSuffix(h.url, "/"))
}

func (hs *HostedSource) ListVersions(ctx context.Context, ref Ref) ([]ID, error) {
	l, err := hs.fetchListing(ctx, ref)
	if err != nil {
		return nil, err
	}

	ids := make([]ID, 0, len(l.Versions))
	for _, lv := range l.Versions {
		v, err := semver.NewVersion(lv.Version)
		if err != nil {
			// A registry entry the tool cannot interpret is skipped, not
			// fatal; other versions of the package remain usable.
			continue
		}
		ids = append(ids, NewID(ref, v))
	}
	return ids, nil
}

func (hs *HostedSource) DescribeDependencies(ctx context.Context, id ID) (Manifest, error) {
	hs.mu.Lock()
	m, ok := hs.manifests[id.key()]
	hs.mu.Unlock()
	if ok {
		return m, nil
	}

	// Listings carry every version's pubspec, so one fetch fills the
	// manifest memo for the whole package.
	if _, err := hs.fetchListing(ctx, id.Ref); err != nil {
		return nil, err
	}

	hs.mu.Lock()
	m, ok = hs.manifests[id.key()]
	hs.mu.Unlock()
	if !ok {
		return nil, errors.Errorf("registry has no version %s of %q", id.Version(), id.Name())
	}
	return m, nil
}

// ArchiveInfo reports the archive URL and content hash the registry
// published for an ID, when known. The lockfile does not record them.
func (hs *HostedSource) ArchiveInfo(id ID) (archive, hash string) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.archives[id.key()], hs.hashes[id.key()]
}

func (hs *HostedSource) fetchListing(ctx context.Context, ref Ref) (*listing, error) {
	desc := ref.Desc().(hostedDescription)
	key := desc.url + "\x00" + ref.Name()

	v, err, _ := hs.sf.Do(key, func() (interface{}, error) {
		if hs.cache != nil {
			if payload, ok := hs.cache.GetManifest(hs.Name(), ref.key(), "listing"); ok {
				var l listing
				if json.Unmarshal(payload, &l) == nil {
					return &l, nil
				}
			}
		}

		u := fmt.Sprintf("%s/api/packages/%s", desc.url, url.PathEscape(ref.Name()))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/vnd.pub.v2+json")

		resp, err := hs.client.Do(req)
		if err != nil {
			return nil, &SourceUnavailableError{Ref: ref, Err: err}
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return &listing{Name: ref.Name()}, nil
		case resp.StatusCode != http.StatusOK:
			return nil, &SourceUnavailableError{
				Ref: ref,
				Err: errors.Errorf("registry returned HTTP %d for %s", resp.StatusCode, u),
			}
		}

		payload, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
		if err != nil {
			return nil, &SourceUnavailableError{Ref: ref, Err: err}
		}

		var l listing
		if err := json.Unmarshal(payload, &l); err != nil {
			return nil, errors.Wrapf(err, "malformed listing for %q from %s", ref.Name(), desc.url)
		}

		if hs.cache != nil {
			hs.cache.PutManifest(hs.Name(), ref.key(), "listing", payload)
		}
		return &l, nil
	})
	if err != nil {
		return nil, err
	}

	l := v.(*listing)
	hs.memoize(ref, l)
	return l, nil
}

// memoize converts every pubspec in a listing into a Manifest keyed by ID.
func (hs *HostedSource) memoize(ref Ref, l *listing) {
	for _, lv := range l.Versions {
		ver, err := semver.NewVersion(lv.Version)
		if err != nil || lv.Pubspec == nil {
			continue
		}
		m, err := ManifestFromMap(hs.reg, lv.Pubspec)
		if err != nil {
			continue
		}
		id := NewID(ref, ver)
		hs.mu.Lock()
		hs.manifests[id.key()] = m
		if lv.Archive != "" {
			hs.archives[id.key()] = lv.Archive
		}
		if lv.Hash != "" {
			hs.hashes[id.key()] = lv.Hash
		}
		hs.mu.Unlock()
	}
}

// Materialize copies an already-extracted archive for id, staged under the
// system temp directory, into the target directory. It does not download or
// unpack archives: retrieval of hosted archives is the fetcher's concern,
// and a missing extraction is an error.
func (hs *HostedSource) Materialize(ctx context.Context, id ID, to string) error {
	cached := filepath.Join(os.TempDir(), "pub-hosted", id.Name()+"-"+id.Version().String())
	if _, err := os.Stat(cached); err != nil {
		return errors.Wrapf(err, "no cached extraction for %s", id)
	}
	return errors.Wrapf(shutil.CopyTree(cached, to, nil), "failed to copy %s into place", id)
}
