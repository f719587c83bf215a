// Package prune implements the Prune stage (spec §4.E): detecting items
// present in global state but absent from any reachable server that has
// the corresponding user+library, removing them, and recording a tombstone
// so a lagging server can't resurrect them during Merge.
package prune

import (
	"log/slog"

	"github.com/mediareconciler/reconciler/internal/fetch"
	"github.com/mediareconciler/reconciler/internal/identity"
	"github.com/mediareconciler/reconciler/internal/models"
)

// Kind distinguishes what a tombstone covers.
type Kind string

const (
	KindMovie   Kind = "movie"
	KindSeries  Kind = "series"
	KindEpisode Kind = "episode"
)

// Tombstone is a value-typed record that an item was pruned this cycle. It
// carries the removed item's sync ledger so the Diff & Push stage knows
// which servers previously had this item marked and need an explicit
// removal call.
type Tombstone struct {
	Kind            Kind
	Identifiers     models.MediaIdentifiers
	SyncedToServers map[string]models.ServerSyncInfo
}

type scopeKey struct {
	user    string
	library string
}

// Registry holds this cycle's tombstones, scoped per user+library.
type Registry struct {
	tombstones map[scopeKey][]Tombstone
}

// NewRegistry returns an empty tombstone registry.
func NewRegistry() *Registry {
	return &Registry{tombstones: make(map[scopeKey][]Tombstone)}
}

func (r *Registry) add(user, library string, kind Kind, id models.MediaIdentifiers, synced map[string]models.ServerSyncInfo) {
	k := scopeKey{user, library}
	r.tombstones[k] = append(r.tombstones[k], Tombstone{Kind: kind, Identifiers: id, SyncedToServers: synced})
}

// Tombstones returns every tombstone recorded for user+library.
func (r *Registry) Tombstones(user, library string) []Tombstone {
	return r.tombstones[scopeKey{user, library}]
}

// Matches reports whether id matches any tombstone recorded for user+library.
func (r *Registry) Matches(user, library string, id models.MediaIdentifiers) bool {
	for _, t := range r.tombstones[scopeKey{user, library}] {
		if identity.Match(t.Identifiers, id) {
			return true
		}
	}
	return false
}

// Count returns the number of tombstones recorded across all scopes.
func (r *Registry) Count() int {
	n := 0
	for _, ts := range r.tombstones {
		n += len(ts)
	}
	return n
}

// Stage runs the Prune stage.
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

// Run mutates global in place, removing pruned items, and returns the
// tombstone registry built this cycle.
func (s *Stage) Run(global *models.WatchedState, snapshots map[string]*fetch.ServerSnapshot) *Registry {
	reg := NewRegistry()
	for user, userData := range global.Users {
		for library, libData := range userData.Libraries {
			reachable := reachableServers(snapshots, user, library)
			if len(reachable) == 0 {
				continue
			}
			s.pruneMovies(reg, user, library, libData, reachable)
			s.pruneSeries(reg, user, library, libData, reachable)
		}
	}
	return reg
}

func reachableServers(snapshots map[string]*fetch.ServerSnapshot, user, library string) []*models.LibraryData {
	var out []*models.LibraryData
	for _, snap := range snapshots {
		byLib, ok := snap.Users[user]
		if !ok {
			continue
		}
		ld, ok := byLib[library]
		if !ok {
			continue
		}
		out = append(out, ld)
	}
	return out
}

func (s *Stage) pruneMovies(reg *Registry, user, library string, libData *models.LibraryData, reachable []*models.LibraryData) {
	kept := libData.Movies[:0:0]
	for _, m := range libData.Movies {
		if presentOnAll(reachable, func(ld *models.LibraryData) bool {
			return findMovie(ld, m.Identifiers) != nil
		}) {
			kept = append(kept, m)
			continue
		}
		reg.add(user, library, KindMovie, m.Identifiers, m.SyncedToServers)
		s.Logger.Debug("pruned movie", "user", user, "library", library, "title", m.Identifiers.Title)
	}
	libData.Movies = kept
}

func (s *Stage) pruneSeries(reg *Registry, user, library string, libData *models.LibraryData, reachable []*models.LibraryData) {
	kept := libData.Series[:0:0]
	for _, series := range libData.Series {
		matches := matchingSeriesOnEach(reachable, series.Identifiers)
		if matches == nil {
			for _, ep := range series.Episodes {
				reg.add(user, library, KindEpisode, ep.Identifiers, ep.SyncedToServers)
			}
			reg.add(user, library, KindSeries, series.Identifiers, nil)
			s.Logger.Debug("pruned series", "user", user, "library", library, "title", series.Identifiers.Title)
			continue
		}

		remainingEpisodes := series.Episodes[:0:0]
		for _, ep := range series.Episodes {
			if presentInAll(matches, ep.Identifiers) {
				remainingEpisodes = append(remainingEpisodes, ep)
				continue
			}
			reg.add(user, library, KindEpisode, ep.Identifiers, ep.SyncedToServers)
			s.Logger.Debug("pruned episode", "user", user, "library", library, "title", ep.Identifiers.Title)
		}
		series.Episodes = remainingEpisodes

		if len(series.Episodes) == 0 {
			reg.add(user, library, KindSeries, series.Identifiers, nil)
			s.Logger.Debug("pruned empty series", "user", user, "library", library, "title", series.Identifiers.Title)
			continue
		}
		kept = append(kept, series)
	}
	libData.Series = kept
}

// presentOnAll reports whether pred holds for every reachable server.
func presentOnAll(reachable []*models.LibraryData, pred func(*models.LibraryData) bool) bool {
	for _, ld := range reachable {
		if !pred(ld) {
			return false
		}
	}
	return true
}

// matchingSeriesOnEach returns, for every reachable server, the matching
// series found there, or nil if any reachable server lacks a match.
func matchingSeriesOnEach(reachable []*models.LibraryData, id models.MediaIdentifiers) []*models.Series {
	out := make([]*models.Series, 0, len(reachable))
	for _, ld := range reachable {
		m := findSeries(ld, id)
		if m == nil {
			return nil
		}
		out = append(out, m)
	}
	return out
}

// presentInAll reports whether ep matches an episode in every series in
// matches.
func presentInAll(matches []*models.Series, ep models.MediaIdentifiers) bool {
	for _, series := range matches {
		if findEpisode(series, ep) == nil {
			return false
		}
	}
	return true
}

func findMovie(ld *models.LibraryData, id models.MediaIdentifiers) *models.MediaItem {
	for _, m := range ld.Movies {
		if identity.Match(m.Identifiers, id) {
			return m
		}
	}
	return nil
}

func findSeries(ld *models.LibraryData, id models.MediaIdentifiers) *models.Series {
	for _, s := range ld.Series {
		if identity.Match(s.Identifiers, id) {
			return s
		}
	}
	return nil
}

func findEpisode(series *models.Series, id models.MediaIdentifiers) *models.MediaItem {
	for _, ep := range series.Episodes {
		if identity.Match(ep.Identifiers, id) {
			return ep
		}
	}
	return nil
}
