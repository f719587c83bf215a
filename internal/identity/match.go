// Package identity implements the cross-server matching relation between two
// items' MediaIdentifiers (spec §4.A). The relation is symmetric and
// deliberately not transitive — every comparison in the pipeline is
// pairwise; nothing fuses three items in one step.
package identity

import "github.com/mediareconciler/reconciler/internal/models"

// Match reports whether a and b refer to the same logical item, checking in
// order: external ID hit, native-GUID hit, location hit. Title is never
// sufficient on its own.
func Match(a, b models.MediaIdentifiers) bool {
	if externalIDHit(a, b) {
		return true
	}
	if nativeGUIDHit(a, b) {
		return true
	}
	return locationHit(a, b)
}

func externalIDHit(a, b models.MediaIdentifiers) bool {
	if a.ImdbID != "" && a.ImdbID == b.ImdbID {
		return true
	}
	if a.TvdbID != "" && a.TvdbID == b.TvdbID {
		return true
	}
	if a.TmdbID != "" && a.TmdbID == b.TmdbID {
		return true
	}
	return false
}

func nativeGUIDHit(a, b models.MediaIdentifiers) bool {
	if a.NativeGUID == "" || b.NativeGUID == "" {
		return false
	}
	if a.NativeGUID == b.NativeGUID {
		return true
	}
	return models.GUIDSuffix(a.NativeGUID) == models.GUIDSuffix(b.NativeGUID)
}

func locationHit(a, b models.MediaIdentifiers) bool {
	an := a.Basenames()
	if len(an) == 0 {
		return false
	}
	bn := b.Basenames()
	if len(bn) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(an))
	for _, n := range an {
		set[n] = struct{}{}
	}
	for _, n := range bn {
		if _, ok := set[n]; ok {
			return true
		}
	}
	return false
}

// FindMatch returns the index of the first item in candidates whose
// identifiers match id, or -1 if none match.
func FindMatch(id models.MediaIdentifiers, candidates []models.MediaIdentifiers) int {
	for i, c := range candidates {
		if Match(id, c) {
			return i
		}
	}
	return -1
}
