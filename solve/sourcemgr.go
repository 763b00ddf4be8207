package solve

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"github.com/sdboyer/constext"
)

// A SourceManager is responsible for retrieving, caching and interrogating
// package sources. Its primary purpose is to serve the needs of a Solver.
type SourceManager interface {
	// ListVersions retrieves the available IDs for the given Ref, sorted
	// newest-first. The result is memoized; the list a resolution sees is
	// immutable for its duration.
	ListVersions(ctx context.Context, ref Ref) ([]ID, error)

	// GetManifest loads (and memoizes) the manifest for a concrete ID.
	GetManifest(ctx context.Context, id ID) (Manifest, error)

	// SamePackage reports whether two Refs denote the same package, per
	// the owning source's description semantics.
	SamePackage(a, b Ref) (bool, error)

	// Registry exposes the underlying source registry.
	Registry() *SourceRegistry

	// Release relinquishes the cache directory lock and cancels any
	// in-flight source calls. The manager is unusable afterwards.
	Release()
}

// CouldNotCreateLockError is returned when the cache directory is already
// locked by another process.
type CouldNotCreateLockError struct {
	Path string
	Err  error
}

func (e CouldNotCreateLockError) Error() string {
	return fmt.Sprintf("err could not create lock at %s: %s", e.Path, e.Err)
}

// SourceMgr is the default SourceManager. It guards its cache directory
// with a file lock so concurrent tool invocations cannot corrupt each
// other, and owns the per-resolution memoization caches.
type SourceMgr struct {
	cachedir string
	reg      *SourceRegistry
	lf       *flock.Flock
	caches   *memoCache
	logger   *log.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	relonce  sync.Once
}

var _ SourceManager = (*SourceMgr)(nil)

// NewSourceManager produces an instance of SourceMgr rooted at the given
// cache directory, taking the lock that guards it.
func NewSourceManager(cachedir string, reg *SourceRegistry, logger *log.Logger) (*SourceMgr, error) {
	if err := os.MkdirAll(cachedir, 0777); err != nil {
		return nil, err
	}

	glpath := filepath.Join(cachedir, "sm.lock")
	lf := flock.New(glpath)
	ok, err := lf.TryLock()
	if err != nil {
		return nil, CouldNotCreateLockError{Path: glpath, Err: err}
	}
	if !ok {
		return nil, CouldNotCreateLockError{
			Path: glpath,
			Err:  errors.Errorf("cache dir %s already locked by another process", cachedir),
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &SourceMgr{
		cachedir: cachedir,
		reg:      reg,
		lf:       lf,
		caches:   newMemoCache(),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Cachedir returns the directory the manager stores fetched state under.
func (sm *SourceMgr) Cachedir() string { return sm.cachedir }

func (sm *SourceMgr) Registry() *SourceRegistry { return sm.reg }

// Release relinquishes the global cache lock and cancels in-flight calls.
func (sm *SourceMgr) Release() {
	sm.relonce.Do(func() {
		sm.cancel()
		if err := sm.lf.Unlock(); err != nil && sm.logger != nil {
			sm.logger.Printf("failed to unlock cache dir: %s", err)
		}
	})
}

// callCtx merges the caller's context with the manager's own, so that both
// caller cancellation and Release() terminate a source call.
func (sm *SourceMgr) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return constext.Cons(ctx, sm.ctx)
}

func (sm *SourceMgr) ListVersions(ctx context.Context, ref Ref) ([]ID, error) {
	if ref.IsRoot() || ref.IsMagic() {
		panic(fmt.Sprintf("tried to list versions of synthetic package %q", ref.Name()))
	}

	if vl, ok := sm.caches.getVersions(ref); ok {
		return vl, nil
	}

	src, err := sm.reg.Get(ref.SourceName())
	if err != nil {
		return nil, err
	}

	cctx, cancel := sm.callCtx(ctx)
	defer cancel()
	vl, err := src.ListVersions(cctx, ref)
	if err != nil {
		return nil, err
	}

	vl = append([]ID(nil), vl...)
	sortForUpgrade(vl)
	sm.caches.setVersions(ref, vl)
	return vl, nil
}

func (sm *SourceMgr) GetManifest(ctx context.Context, id ID) (Manifest, error) {
	if id.IsRoot() || id.IsMagic() {
		panic(fmt.Sprintf("tried to load manifest of synthetic package %q", id.Name()))
	}

	if m, ok := sm.caches.getManifest(id); ok {
		return m, nil
	}

	src, err := sm.reg.Get(id.SourceName())
	if err != nil {
		return nil, err
	}

	cctx, cancel := sm.callCtx(ctx)
	defer cancel()
	m, err := src.DescribeDependencies(cctx, id)
	if err != nil {
		return nil, err
	}

	sm.caches.setManifest(id, m)
	return m, nil
}

func (sm *SourceMgr) SamePackage(a, b Ref) (bool, error) {
	return sm.reg.RefsEquivalent(a, b)
}
