// Package diffpush implements the Diff & Push stage (spec §4.H): computing,
// per reachable server, the minimal set of watched-status additions and
// removals needed to bring that server in line with global state, applying
// them through the driver, and advancing the sync ledger on success.
package diffpush

import (
	"context"
	"log/slog"

	"github.com/mediareconciler/reconciler/internal/driver"
	"github.com/mediareconciler/reconciler/internal/mediautil"
	"github.com/mediareconciler/reconciler/internal/metrics"
	"github.com/mediareconciler/reconciler/internal/models"
	"github.com/mediareconciler/reconciler/internal/prune"
)

// Stage runs the Diff & Push stage.
type Stage struct {
	Logger *slog.Logger
	Now    func() int64
	Dryrun bool

	// Metrics is optional; nil disables instrumentation entirely.
	Metrics *metrics.Metrics
}

// New returns a Stage.
func New(logger *slog.Logger, now func() int64, dryrun bool) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = func() int64 { return 0 }
	}
	return &Stage{Logger: logger, Now: now, Dryrun: dryrun}
}

// Run computes and applies a diff for every given driver. global is mutated
// with new ledger entries for every item successfully pushed.
func (s *Stage) Run(ctx context.Context, global *models.WatchedState, drivers []driver.Driver, tombstones *prune.Registry, userMapping, libraryMapping map[string]string) error {
	for _, d := range drivers {
		serverID := d.MachineID()
		var additions []driver.WatchedAdditions
		var removals []driver.WatchedRemovals

		for user, userData := range global.Users {
			for library, libData := range userData.Libraries {
				add, rem := s.diffLibrary(user, library, libData, serverID, tombstones)
				if add != nil {
					additions = append(additions, *add)
				}
				if rem != nil {
					removals = append(removals, *rem)
				}
			}
		}

		if len(additions) == 0 && len(removals) == 0 {
			continue
		}

		s.Logger.Info("pushing watched-status diff", "server", serverID, "additions", len(additions), "removals", len(removals), "dryrun", s.Dryrun)
		if err := d.UpdateWatched(ctx, additions, removals, userMapping, libraryMapping, s.Dryrun); err != nil {
			s.Logger.Warn("push failed", "server", serverID, "error", err)
			continue
		}

		s.stampLedger(additions, serverID)
		if s.Metrics != nil {
			s.Metrics.ItemsPushedTotal.WithLabelValues(serverID).Add(float64(itemCount(additions)))
		}
	}
	return nil
}

func (s *Stage) diffLibrary(user, library string, libData *models.LibraryData, serverID string, tombstones *prune.Registry) (*driver.WatchedAdditions, *driver.WatchedRemovals) {
	var add driver.WatchedAdditions
	add.User, add.Library = user, library
	var rem driver.WatchedRemovals
	rem.User, rem.Library = user, library

	for _, m := range libData.Movies {
		if needsPush(m, serverID) {
			add.Movies = append(add.Movies, m)
		}
	}

	for _, series := range libData.Series {
		var eps []*models.MediaItem
		for _, ep := range series.Episodes {
			if needsPush(ep, serverID) {
				eps = append(eps, ep)
			}
		}
		if len(eps) > 0 {
			add.Series = append(add.Series, driver.SeriesAddition{Identifiers: series.Identifiers, Episodes: eps})
		}
	}

	for _, t := range tombstones.Tombstones(user, library) {
		if _, hadIt := t.SyncedToServers[serverID]; !hadIt {
			continue
		}
		switch t.Kind {
		case prune.KindMovie:
			rem.Movies = append(rem.Movies, t.Identifiers)
		case prune.KindSeries:
			rem.WholeSeries = append(rem.WholeSeries, t.Identifiers)
		case prune.KindEpisode:
			rem.Episodes = append(rem.Episodes, driver.EpisodeRef{Episode: t.Identifiers})
		}
	}

	var addOut *driver.WatchedAdditions
	if len(add.Movies) > 0 || len(add.Series) > 0 {
		addOut = &add
	}
	var remOut *driver.WatchedRemovals
	if len(rem.Movies) > 0 || len(rem.WholeSeries) > 0 || len(rem.Episodes) > 0 {
		remOut = &rem
	}
	return addOut, remOut
}

// needsPush reports whether item's current status hasn't yet been confirmed
// synced to serverID, mirroring the agreement check in package ledger.
func needsPush(item *models.MediaItem, serverID string) bool {
	ledgerEntry, ok := item.SyncedToServers[serverID]
	if !ok {
		return true
	}
	if ledgerEntry.SyncedStatus.Completed != item.Status.Completed {
		return true
	}
	if !item.Status.Completed && !mediautil.ProgressAgrees(ledgerEntry.SyncedStatus.TimeMs, item.Status.TimeMs) {
		return true
	}
	return false
}

func (s *Stage) stampLedger(additions []driver.WatchedAdditions, serverID string) {
	now := s.Now()
	for _, a := range additions {
		for _, m := range a.Movies {
			stamp(m, serverID, now)
		}
		for _, sa := range a.Series {
			for _, ep := range sa.Episodes {
				stamp(ep, serverID, now)
			}
		}
	}
}

func itemCount(additions []driver.WatchedAdditions) int {
	n := 0
	for _, a := range additions {
		n += len(a.Movies)
		for _, sa := range a.Series {
			n += len(sa.Episodes)
		}
	}
	return n
}

func stamp(item *models.MediaItem, serverID string, now int64) {
	if item.SyncedToServers == nil {
		item.SyncedToServers = make(map[string]models.ServerSyncInfo)
	}
	item.SyncedToServers[serverID] = models.ServerSyncInfo{SyncedAt: now, SyncedStatus: item.Status}
}
