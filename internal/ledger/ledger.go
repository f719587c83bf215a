// Package ledger implements the Mark-Already-Synced stage (spec §4.G):
// stamping an item's per-server sync ledger whenever a server's observed
// status already agrees with global state, so the Diff & Push stage never
// re-pushes something no one changed.
package ledger

import (
	"log/slog"

	"github.com/mediareconciler/reconciler/internal/fetch"
	"github.com/mediareconciler/reconciler/internal/identity"
	"github.com/mediareconciler/reconciler/internal/mediautil"
	"github.com/mediareconciler/reconciler/internal/models"
)

// Stage runs the Mark-Already-Synced stage.
type Stage struct {
	Logger *slog.Logger
	// Now returns the current unix timestamp, stamped onto new ledger
	// entries. Overridable for tests.
	Now func() int64
}

// New returns a Stage.
func New(logger *slog.Logger, now func() int64) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = func() int64 { return 0 }
	}
	return &Stage{Logger: logger, Now: now}
}

// Run walks every server snapshot and stamps ledger entries on matching
// global items whose status already agrees with what that server reports.
func (s *Stage) Run(global *models.WatchedState, snapshots map[string]*fetch.ServerSnapshot) {
	for serverID, snap := range snapshots {
		for user, byLib := range snap.Users {
			for library, ld := range byLib {
				target := global.UserLibrary(user, library)
				s.markMovies(target.Movies, ld.Movies, serverID)
				s.markSeries(target.Series, ld.Series, serverID)
			}
		}
	}
}

func (s *Stage) markMovies(globalMovies, observed []*models.MediaItem, serverID string) {
	for _, obs := range observed {
		item := findItem(globalMovies, obs.Identifiers)
		if item == nil {
			continue
		}
		s.maybeMark(item, obs, serverID)
	}
}

func (s *Stage) markSeries(globalSeries []*models.Series, observed []*models.Series, serverID string) {
	for _, obsSeries := range observed {
		series := findSeries(globalSeries, obsSeries.Identifiers)
		if series == nil {
			continue
		}
		for _, obsEp := range obsSeries.Episodes {
			item := findItem(series.Episodes, obsEp.Identifiers)
			if item == nil {
				continue
			}
			s.maybeMark(item, obsEp, serverID)
		}
	}
}

// maybeMark stamps the ledger entry for serverID on item if the server's
// observed status agrees with the global item's current status, per the
// agreement rule in spec §4.G (exact completion match; if incomplete, time
// within mediautil.MinProgressMillis).
func (s *Stage) maybeMark(item, observed *models.MediaItem, serverID string) {
	if item.Status.Completed != observed.Status.Completed {
		return
	}
	if !item.Status.Completed && !mediautil.ProgressAgrees(item.Status.TimeMs, observed.Status.TimeMs) {
		return
	}
	if item.SyncedToServers == nil {
		item.SyncedToServers = make(map[string]models.ServerSyncInfo)
	}
	item.SyncedToServers[serverID] = models.ServerSyncInfo{
		SyncedAt:     s.Now(),
		SyncedStatus: item.Status,
	}
}

func findItem(items []*models.MediaItem, id models.MediaIdentifiers) *models.MediaItem {
	for _, it := range items {
		if identity.Match(it.Identifiers, id) {
			return it
		}
	}
	return nil
}

func findSeries(series []*models.Series, id models.MediaIdentifiers) *models.Series {
	for _, sr := range series {
		if identity.Match(sr.Identifiers, id) {
			return sr
		}
	}
	return nil
}
