package solve

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"
)

// memoCache holds the per-resolution memoization state: sorted version
// lists per Ref and manifests per ID. It is owned by a SourceMgr and is
// monotonic - entries are added, never invalidated, for the life of the
// manager.
type memoCache struct {
	mu        sync.Mutex
	versions  map[string][]ID
	manifests map[string]Manifest
}

func newMemoCache() *memoCache {
	return &memoCache{
		versions:  make(map[string][]ID),
		manifests: make(map[string]Manifest),
	}
}

func (c *memoCache) getVersions(ref Ref) ([]ID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vl, ok := c.versions[ref.key()]
	return vl, ok
}

func (c *memoCache) setVersions(ref Ref, vl []ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.versions[ref.key()] = vl
}

func (c *memoCache) getManifest(id ID) (Manifest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.manifests[id.key()]
	return m, ok
}

func (c *memoCache) setManifest(id ID, m Manifest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.manifests[id.key()] = m
}

// BoltCache is the persistent layer under the hosted source: version lists
// and raw payloads survive across runs in a BoltDB file in the cache
// directory. GetVersions will not return version lists recorded before the
// epoch timestamp; payloads stored with PutManifest carry no timestamp and
// are returned whatever the epoch. The tool's context opens the cache with
// epoch 0, and the hosted source keeps its package listings as payloads, so
// every run, "pub upgrade" included, reuses a cached listing instead of
// re-fetching it.
//
// Layout: one top-level bucket per source name, a sub-bucket per ref key.
// Within a ref bucket, the "versions" key holds a timestamped,
// newline-joined version list, and "manifest:<version>" keys hold raw
// payloads (the hosted source stores a package's whole listing under
// "manifest:listing").
type BoltCache struct {
	db    *bolt.DB
	epoch int64
}

// OpenBoltCache opens (creating if necessary) the cache database under the
// given cache directory.
func OpenBoltCache(cachedir string, epoch int64) (*BoltCache, error) {
	if err := os.MkdirAll(cachedir, 0777); err != nil {
		return nil, errors.Wrapf(err, "failed to create cache directory %s", cachedir)
	}
	path := filepath.Join(cachedir, "sources.db")
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open cache database %q", path)
	}
	return &BoltCache{db: db, epoch: epoch}, nil
}

// Close releases the database handle.
func (c *BoltCache) Close() error {
	return errors.Wrap(c.db.Close(), "error closing cache database")
}

func (c *BoltCache) refBucket(tx *bolt.Tx, sourceName, refKey string, create bool) (*bolt.Bucket, error) {
	if create {
		sb, err := tx.CreateBucketIfNotExists([]byte(sourceName))
		if err != nil {
			return nil, err
		}
		return sb.CreateBucketIfNotExists([]byte("ref:" + refKey))
	}
	sb := tx.Bucket([]byte(sourceName))
	if sb == nil {
		return nil, nil
	}
	return sb.Bucket([]byte("ref:" + refKey)), nil
}

// GetVersions returns the cached version list for a ref, if one newer than
// the epoch is present.
func (c *BoltCache) GetVersions(sourceName, refKey string) ([]string, bool) {
	var out []string
	var ok bool
	_ = c.db.View(func(tx *bolt.Tx) error {
		rb, err := c.refBucket(tx, sourceName, refKey, false)
		if rb == nil || err != nil {
			return err
		}
		val := rb.Get([]byte("versions"))
		if val == nil {
			return nil
		}
		ts, n := binary.Varint(val)
		if n <= 0 || ts < c.epoch {
			return nil
		}
		for _, v := range bytes.Split(val[n:], []byte{'\n'}) {
			if len(v) > 0 {
				out = append(out, string(v))
			}
		}
		ok = true
		return nil
	})
	return out, ok
}

// PutVersions records a version list for a ref, stamped with the current
// time. Errors are deliberately dropped: the cache is an accelerant, and a
// failed write must never fail a resolution.
func (c *BoltCache) PutVersions(sourceName, refKey string, versions []string) {
	_ = c.db.Update(func(tx *bolt.Tx) error {
		rb, err := c.refBucket(tx, sourceName, refKey, true)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		var ts [binary.MaxVarintLen64]byte
		buf.Write(ts[:binary.PutVarint(ts[:], time.Now().Unix())])
		for _, v := range versions {
			buf.WriteString(v)
			buf.WriteByte('\n')
		}
		return rb.Put([]byte("versions"), buf.Bytes())
	})
}

// GetManifest returns the cached raw manifest payload for one version of a
// ref.
func (c *BoltCache) GetManifest(sourceName, refKey, version string) ([]byte, bool) {
	var out []byte
	_ = c.db.View(func(tx *bolt.Tx) error {
		rb, err := c.refBucket(tx, sourceName, refKey, false)
		if rb == nil || err != nil {
			return err
		}
		if val := rb.Get([]byte("manifest:" + version)); val != nil {
			out = make([]byte, len(val))
			copy(out, val)
		}
		return nil
	})
	return out, out != nil
}

// PutManifest records a raw manifest payload. Manifests are immutable per
// version, so no epoch gating applies.
func (c *BoltCache) PutManifest(sourceName, refKey, version string, payload []byte) {
	_ = c.db.Update(func(tx *bolt.Tx) error {
		rb, err := c.refBucket(tx, sourceName, refKey, true)
		if err != nil {
			return err
		}
		return rb.Put([]byte("manifest:"+version), payload)
	})
}
