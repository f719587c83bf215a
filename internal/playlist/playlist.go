// Package playlist implements the playlist reconciler (spec §4.I): a
// mirror of the watched-state pipeline specialized for ordered sets of
// MediaIdentifiers. Playlists are matched by (user, title) rather than by
// cross-server item identity, and deletion is detected by a previously
// synced item or playlist going missing from a server that used to report
// it, rather than by absence across every reachable server.
package playlist

import (
	"context"
	"log/slog"

	"github.com/mediareconciler/reconciler/internal/driver"
	"github.com/mediareconciler/reconciler/internal/fetch"
	"github.com/mediareconciler/reconciler/internal/identity"
	"github.com/mediareconciler/reconciler/internal/models"
)

// MergeStage folds per-server playlist snapshots into global playlist state
// and detects deletions.
type MergeStage struct {
	Logger *slog.Logger
}

// NewMergeStage returns a MergeStage.
func NewMergeStage(logger *slog.Logger) *MergeStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &MergeStage{Logger: logger}
}

// ItemTombstone is a playlist item dropped from global state during merge
// because a server that had it synced now reports it absent. It carries the
// item's former sync ledger so Diff & Push knows which servers (including
// ones other than the one that reported the removal) still have it and need
// an explicit remove_item call.
type ItemTombstone struct {
	User            string
	Title           string
	Identifiers     models.MediaIdentifiers
	SyncedToServers map[string]models.ServerSyncInfo
}

// Run merges every server's playlist snapshot into global, mutating it in
// place, and returns the items it dropped along the way.
func (s *MergeStage) Run(global *models.PlaylistState, snapshots map[string]*fetch.ServerSnapshot) []ItemTombstone {
	var tombstones []ItemTombstone
	for serverID, snap := range snapshots {
		for user, up := range snap.Playlists {
			tombstones = append(tombstones, s.mergeUser(global, user, serverID, up)...)
		}
	}
	return tombstones
}

func (s *MergeStage) mergeUser(global *models.PlaylistState, user, serverID string, incoming *models.UserPlaylists) []ItemTombstone {
	userPlaylists := global.UserPlaylistsFor(user)
	var tombstones []ItemTombstone

	seenTitles := make(map[string]bool, len(incoming.Playlists))
	for title, incPl := range incoming.Playlists {
		seenTitles[title] = true
		if global.IsTrashed(user, title) {
			continue
		}
		existing, ok := userPlaylists.Playlists[title]
		if !ok {
			userPlaylists.Playlists[title] = clonePlaylist(incPl)
			continue
		}
		tombstones = append(tombstones, s.mergeItems(user, existing, incPl, serverID)...)
	}

	for title, existing := range userPlaylists.Playlists {
		if seenTitles[title] {
			continue
		}
		if !knownToServer(existing, serverID) {
			continue
		}
		// The server used to report this playlist and no longer does:
		// the user deleted it there. Propagate the deletion globally.
		global.Trash(user, title)
		delete(userPlaylists.Playlists, title)
		s.Logger.Debug("playlist deleted", "user", user, "title", title, "server", serverID)
	}
	return tombstones
}

func (s *MergeStage) mergeItems(user string, existing *models.Playlist, incoming *models.Playlist, serverID string) []ItemTombstone {
	incomingMatch := func(id models.MediaIdentifiers) bool {
		for _, it := range incoming.Items {
			if identity.Match(*it, id) {
				return true
			}
		}
		return false
	}

	var tombstones []ItemTombstone
	kept := existing.Items[:0:0]
	for _, it := range existing.Items {
		if incomingMatch(*it) {
			kept = append(kept, it)
			continue
		}
		if _, synced := it.SyncedToServers[serverID]; synced {
			s.Logger.Debug("playlist item removed", "title", existing.Title, "server", serverID)
			tombstones = append(tombstones, ItemTombstone{
				User:            user,
				Title:           existing.Title,
				Identifiers:     *it,
				SyncedToServers: it.SyncedToServers,
			})
			continue
		}
		kept = append(kept, it)
	}
	existing.Items = kept

	for _, incIt := range incoming.Items {
		found := false
		for _, it := range existing.Items {
			if identity.Match(*it, *incIt) {
				found = true
				break
			}
		}
		if !found {
			clone := *incIt
			clone.SyncedToServers = nil
			existing.Items = append(existing.Items, &clone)
		}
	}
	return tombstones
}

func knownToServer(pl *models.Playlist, serverID string) bool {
	for _, it := range pl.Items {
		if _, ok := it.SyncedToServers[serverID]; ok {
			return true
		}
	}
	return false
}

func clonePlaylist(src *models.Playlist) *models.Playlist {
	out := &models.Playlist{Title: src.Title, Items: make([]*models.MediaIdentifiers, 0, len(src.Items))}
	for _, it := range src.Items {
		clone := *it
		clone.SyncedToServers = nil
		out.Items = append(out.Items, &clone)
	}
	return out
}

// DiffPushStage computes and applies the minimal set of playlist changes
// needed to bring every server in line with global state.
type DiffPushStage struct {
	Logger *slog.Logger
	Now    func() int64
	Dryrun bool
}

// NewDiffPushStage returns a DiffPushStage.
func NewDiffPushStage(logger *slog.Logger, now func() int64, dryrun bool) *DiffPushStage {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = func() int64 { return 0 }
	}
	return &DiffPushStage{Logger: logger, Now: now, Dryrun: dryrun}
}

// Run pushes creates/adds for every user's playlists, issues remove_item
// for items tombstoned by merge, and deletes trashed playlists, for every
// driver.
func (s *DiffPushStage) Run(ctx context.Context, global *models.PlaylistState, drivers []driver.Driver, tombstones []ItemTombstone, userMapping map[string]string) error {
	for _, d := range drivers {
		serverID := d.MachineID()

		var syncs []driver.PlaylistSync
		for user, up := range global.Users {
			var entries []driver.PlaylistSyncEntry
			for _, pl := range up.Playlists {
				var missing []models.MediaIdentifiers
				for _, it := range pl.Items {
					if _, ok := it.SyncedToServers[serverID]; !ok {
						missing = append(missing, *it)
					}
				}
				if len(missing) == 0 {
					continue
				}
				entries = append(entries, driver.PlaylistSyncEntry{
					Title:           pl.Title,
					CreateIfMissing: true,
					AddItems:        missing,
				})
			}
			if len(entries) > 0 {
				syncs = append(syncs, driver.PlaylistSync{User: user, Playlists: entries})
			}
		}

		if len(syncs) > 0 {
			s.Logger.Info("pushing playlist diff", "server", serverID, "users", len(syncs), "dryrun", s.Dryrun)
			if err := d.UpdatePlaylists(ctx, syncs, userMapping, s.Dryrun); err != nil {
				s.Logger.Warn("playlist push failed", "server", serverID, "error", err)
			} else {
				s.stampSyncs(syncs, global, serverID)
			}
		}

		for _, t := range tombstones {
			if _, hadIt := t.SyncedToServers[serverID]; !hadIt {
				continue
			}
			if err := d.RemoveItemFromPlaylist(ctx, t.User, t.Title, t.Identifiers, s.Dryrun); err != nil {
				s.Logger.Warn("playlist item removal failed", "server", serverID, "user", t.User, "title", t.Title, "error", err)
			}
		}

		for user, titles := range global.TrashedTitles {
			for title := range titles {
				if global.IsDeletedOnServer(user, title, serverID) {
					continue
				}
				if err := d.DeletePlaylistByTitle(ctx, user, title, s.Dryrun); err != nil {
					s.Logger.Warn("playlist delete failed", "server", serverID, "user", user, "title", title, "error", err)
					continue
				}
				global.MarkDeletedOnServer(user, title, serverID)
			}
		}
	}
	return nil
}

func (s *DiffPushStage) stampSyncs(syncs []driver.PlaylistSync, global *models.PlaylistState, serverID string) {
	now := s.Now()
	for _, sync := range syncs {
		up, ok := global.Users[sync.User]
		if !ok {
			continue
		}
		for _, entry := range sync.Playlists {
			pl, ok := up.Playlists[entry.Title]
			if !ok {
				continue
			}
			for _, added := range entry.AddItems {
				for _, it := range pl.Items {
					if identity.Match(*it, added) {
						if it.SyncedToServers == nil {
							it.SyncedToServers = make(map[string]models.ServerSyncInfo)
						}
						it.SyncedToServers[serverID] = models.ServerSyncInfo{SyncedAt: now}
						break
					}
				}
			}
		}
	}
}
