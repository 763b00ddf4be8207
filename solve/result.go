package solve

// Result is a complete, consistent solution: one ID per package reachable
// from the root, honoring every constraint that was in play. An
// implementing tool persists it as a lockfile.
type Result struct {
	p   []ID
	att int
}

// Packages returns the selected IDs, sorted ascending by name. Neither the
// root package nor magic packages appear.
func (r Result) Packages() []ID {
	return r.p
}

// Attempts reports the number of solutions that were attempted before
// finding this one.
func (r Result) Attempts() int {
	return r.att
}

// IDFor returns the selected ID for the named package, if any.
func (r Result) IDFor(name string) (ID, bool) {
	for _, id := range r.p {
		if id.Name() == name {
			return id, true
		}
	}
	return ID{}, false
}
