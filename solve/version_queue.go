package solve

import (
	"fmt"
	"strings"
)

type failedVersion struct {
	v ID
	f error
}

// versionQueue walks the candidate IDs for one Ref in decision order: the
// locked version first when the lockfile bias applies, then the source's
// preference order (reversed for downgrades). Failures are remembered so an
// exhausted queue can explain every rejection.
type versionQueue struct {
	ref    Ref
	pi     []ID
	lockv  ID
	fails  []failedVersion
	failed bool
}

func newVersionQueue(ref Ref, lockv ID, b *bridge) (*versionQueue, error) {
	vq := &versionQueue{
		ref: ref,
	}

	vl, err := b.listVersions(ref)
	if err != nil {
		return nil, err
	}
	vq.pi = append(vq.pi, vl...)

	// Bias the queue head toward the locked version - but only if the
	// source still lists it. A pin the source no longer serves is silently
	// ignored, exactly as if the lockfile had no entry.
	// Matching is by version alone: candidates in this queue are for this
	// Ref by construction, and sources may decorate candidate descriptions
	// (e.g. git pinning each tag) in ways the lock entry cannot predict.
	if !lockv.isZero() {
		for k, id := range vq.pi {
			if id.Version().Equal(lockv.Version()) {
				copy(vq.pi[1:k+1], vq.pi[:k])
				vq.pi[0] = id
				vq.lockv = id
				break
			}
		}
	}

	return vq, nil
}

func (vq *versionQueue) current() ID {
	if len(vq.pi) > 0 {
		return vq.pi[0]
	}
	return ID{}
}

// advance moves the queue to the next candidate, recording the failure that
// eliminated the current one.
func (vq *versionQueue) advance(fail error) {
	if len(vq.pi) == 0 {
		return
	}

	vq.fails = append(vq.fails, failedVersion{v: vq.pi[0], f: fail})
	vq.pi = vq.pi[1:]

	if len(vq.pi) > 0 {
		// The current candidate may have failed, but the next one hasn't
		// yet.
		vq.failed = false
	}
}

func (vq *versionQueue) isExhausted() bool {
	return len(vq.pi) == 0
}

func (vq *versionQueue) String() string {
	var vs []string
	for _, v := range vq.pi {
		vs = append(vs, v.Version().String())
	}
	return fmt.Sprintf("[%s]", strings.Join(vs, ", "))
}
