package solve

import (
	"sort"

	semver "github.com/Masterminds/semver/v3"
)

// rootVersion is the version the root package is selected at when its
// manifest does not declare one.
var rootVersion = semver.MustParse("0.0.0-root")

// NewVersion parses a version string, panicking on malformed input. It is
// intended for literals and test fixtures; parse errors from user input are
// handled where the input enters the system.
func NewVersion(s string) *semver.Version {
	return semver.MustParse(s)
}

// sortForUpgrade orders IDs newest-first, which is the preference order for
// ordinary solving. Ties on version (possible only across descriptions,
// since a Ref owns exactly one source) break on source name, then
// description, keeping the order total and deterministic.
func sortForUpgrade(ids []ID) {
	sort.Slice(ids, func(i, j int) bool {
		switch ids[i].Version().Compare(ids[j].Version()) {
		case 1:
			return true
		case -1:
			return false
		}
		if ids[i].SourceName() != ids[j].SourceName() {
			return ids[i].SourceName() < ids[j].SourceName()
		}
		return ids[i].key() < ids[j].key()
	})
}

// sortForDowngrade is sortForUpgrade's mirror: oldest-first, for the
// downgrade solving mode.
func sortForDowngrade(ids []ID) {
	sortForUpgrade(ids)
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
}
