// Package merge implements the Merge stage (spec §4.F): folding per-server
// snapshots into global state with conflict resolution. User and library
// name canonicalization already happened in the Fetch stage, so incoming
// snapshots here are already keyed by canonical user/library names.
package merge

import (
	"log/slog"
	"sort"

	"github.com/mediareconciler/reconciler/internal/fetch"
	"github.com/mediareconciler/reconciler/internal/identity"
	"github.com/mediareconciler/reconciler/internal/models"
	"github.com/mediareconciler/reconciler/internal/prune"
)

// Stage runs the Merge stage.
type Stage struct {
	Logger *slog.Logger
}

// New returns a Stage.
func New(logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stage{Logger: logger}
}

// Run folds every server snapshot into global, skipping anything that
// matches a tombstone recorded this cycle. global is mutated in place.
func (s *Stage) Run(global *models.WatchedState, snapshots map[string]*fetch.ServerSnapshot, tombstones *prune.Registry) {
	for _, serverID := range sortedKeys(snapshots) {
		snap := snapshots[serverID]
		for user, byLib := range snap.Users {
			for library, incoming := range byLib {
				target := global.UserLibrary(user, library)
				s.mergeMovies(target, incoming.Movies, user, library, serverID, tombstones)
				s.mergeSeries(target, incoming.Series, user, library, serverID, tombstones)
			}
		}
	}
}

func sortedKeys(m map[string]*fetch.ServerSnapshot) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Stage) mergeMovies(target *models.LibraryData, incoming []*models.MediaItem, user, library, serverID string, tombstones *prune.Registry) {
	for _, inc := range incoming {
		if inc.Identifiers.Unmatchable() {
			s.Logger.Debug("skipping unmatchable movie", "user", user, "library", library, "title", inc.Identifiers.Title)
			continue
		}
		if tombstones.Matches(user, library, inc.Identifiers) {
			continue
		}
		idx := -1
		for i, existing := range target.Movies {
			if identity.Match(existing.Identifiers, inc.Identifiers) {
				idx = i
				break
			}
		}
		if idx == -1 {
			target.Movies = append(target.Movies, cloneItem(inc))
			continue
		}
		mergeItem(target.Movies[idx], inc, serverID)
	}
}

func (s *Stage) mergeSeries(target *models.LibraryData, incoming []*models.Series, user, library, serverID string, tombstones *prune.Registry) {
	for _, incSeries := range incoming {
		if incSeries.Identifiers.Unmatchable() {
			continue
		}
		if tombstones.Matches(user, library, incSeries.Identifiers) {
			continue
		}

		var existingSeries *models.Series
		for _, es := range target.Series {
			if identity.Match(es.Identifiers, incSeries.Identifiers) {
				existingSeries = es
				break
			}
		}
		if existingSeries == nil {
			filtered := &models.Series{Identifiers: cloneIdentifiers(incSeries.Identifiers)}
			for _, ep := range incSeries.Episodes {
				if ep.Identifiers.Unmatchable() || tombstones.Matches(user, library, ep.Identifiers) {
					continue
				}
				filtered.Episodes = append(filtered.Episodes, cloneItem(ep))
			}
			if len(filtered.Episodes) > 0 {
				target.Series = append(target.Series, filtered)
			}
			continue
		}

		enrichIdentifiers(&existingSeries.Identifiers, incSeries.Identifiers)
		for _, incEp := range incSeries.Episodes {
			if incEp.Identifiers.Unmatchable() {
				continue
			}
			if tombstones.Matches(user, library, incEp.Identifiers) {
				continue
			}
			idx := -1
			for i, ee := range existingSeries.Episodes {
				if identity.Match(ee.Identifiers, incEp.Identifiers) {
					idx = i
					break
				}
			}
			if idx == -1 {
				existingSeries.Episodes = append(existingSeries.Episodes, cloneItem(incEp))
				continue
			}
			mergeItem(existingSeries.Episodes[idx], incEp, serverID)
		}
	}
}

// mergeItem applies conflict resolution between an existing global item and
// an incoming server observation, mutating existing in place.
func mergeItem(existing, incoming *models.MediaItem, serverID string) {
	enrichIdentifiers(&existing.Identifiers, incoming.Identifiers)
	if winnerIsIncoming(existing, incoming, serverID) {
		existing.Status = incoming.Status
	}
}

// winnerIsIncoming applies the conflict-resolution order from spec §4.F.
func winnerIsIncoming(existing, incoming *models.MediaItem, serverID string) bool {
	ledger, hasLedger := existing.SyncedToServers[serverID]
	if hasLedger {
		incomingRecent := incoming.Status.Completed != ledger.SyncedStatus.Completed
		existingRecent := existing.Status.Completed != ledger.SyncedStatus.Completed
		if incomingRecent != existingRecent {
			return incomingRecent
		}
	}

	if incoming.Status.LastViewedAt != existing.Status.LastViewedAt {
		return incoming.Status.LastViewedAt > existing.Status.LastViewedAt
	}

	if incoming.Status.Completed != existing.Status.Completed {
		return incoming.Status.Completed
	}

	if !incoming.Status.Completed && !existing.Status.Completed {
		if incoming.Status.TimeMs != existing.Status.TimeMs {
			return incoming.Status.TimeMs > existing.Status.TimeMs
		}
	}

	return false
}

// enrichIdentifiers fills absent external ids on existing from incoming and
// unions the location sets. Never drops a value existing already has.
func enrichIdentifiers(existing *models.MediaIdentifiers, incoming models.MediaIdentifiers) {
	if existing.Title == "" {
		existing.Title = incoming.Title
	}
	if existing.ImdbID == "" {
		existing.ImdbID = incoming.ImdbID
	}
	if existing.TvdbID == "" {
		existing.TvdbID = incoming.TvdbID
	}
	if existing.TmdbID == "" {
		existing.TmdbID = incoming.TmdbID
	}

	if len(incoming.Locations) == 0 {
		return
	}
	seen := make(map[string]struct{}, len(existing.Locations))
	for _, l := range existing.Locations {
		seen[l] = struct{}{}
	}
	for _, l := range incoming.Locations {
		if _, ok := seen[l]; ok {
			continue
		}
		existing.Locations = append(existing.Locations, l)
		seen[l] = struct{}{}
	}
}

func cloneIdentifiers(id models.MediaIdentifiers) models.MediaIdentifiers {
	clone := id
	clone.Locations = append([]string(nil), id.Locations...)
	clone.SyncedToServers = nil
	return clone
}

func cloneItem(m *models.MediaItem) *models.MediaItem {
	return &models.MediaItem{
		Identifiers: cloneIdentifiers(m.Identifiers),
		Status:      m.Status,
	}
}
