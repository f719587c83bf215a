package playlist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediareconciler/reconciler/internal/driver"
	"github.com/mediareconciler/reconciler/internal/driver/fakedriver"
	"github.com/mediareconciler/reconciler/internal/fetch"
	"github.com/mediareconciler/reconciler/internal/models"
)

func TestMergeCreatesNewPlaylist(t *testing.T) {
	global := models.NewPlaylistState()
	snaps := map[string]*fetch.ServerSnapshot{
		"srvA": {Playlists: map[string]*models.UserPlaylists{
			"alice": {Playlists: map[string]*models.Playlist{
				"Favorites": {Title: "Favorites", Items: []*models.MediaIdentifiers{{ImdbID: "tt1"}}},
			}},
		}},
	}

	NewMergeStage(nil).Run(global, snaps)

	pl := global.UserPlaylistsFor("alice").Playlist("Favorites")
	require.Len(t, pl.Items, 1)
	assert.Equal(t, "tt1", pl.Items[0].ImdbID)
}

func TestMergeUnionsItemsAcrossServers(t *testing.T) {
	global := models.NewPlaylistState()
	up := global.UserPlaylistsFor("alice")
	up.Playlists["Favorites"] = &models.Playlist{Title: "Favorites", Items: []*models.MediaIdentifiers{{ImdbID: "tt1"}}}

	snaps := map[string]*fetch.ServerSnapshot{
		"srvA": {Playlists: map[string]*models.UserPlaylists{
			"alice": {Playlists: map[string]*models.Playlist{
				"Favorites": {Title: "Favorites", Items: []*models.MediaIdentifiers{{ImdbID: "tt2"}}},
			}},
		}},
	}

	NewMergeStage(nil).Run(global, snaps)

	pl := up.Playlist("Favorites")
	require.Len(t, pl.Items, 2)
}

func TestMergeDetectsItemRemovalWhenPreviouslySynced(t *testing.T) {
	global := models.NewPlaylistState()
	up := global.UserPlaylistsFor("alice")
	up.Playlists["Favorites"] = &models.Playlist{Title: "Favorites", Items: []*models.MediaIdentifiers{
		{ImdbID: "tt1", SyncedToServers: map[string]models.ServerSyncInfo{"srvA": {}}},
	}}

	// srvA now reports the playlist without tt1: the user removed it there.
	snaps := map[string]*fetch.ServerSnapshot{
		"srvA": {Playlists: map[string]*models.UserPlaylists{
			"alice": {Playlists: map[string]*models.Playlist{
				"Favorites": {Title: "Favorites", Items: nil},
			}},
		}},
	}

	NewMergeStage(nil).Run(global, snaps)

	assert.Empty(t, up.Playlist("Favorites").Items)
}

func TestMergeDetectsWholePlaylistDeletionAndTrashes(t *testing.T) {
	global := models.NewPlaylistState()
	up := global.UserPlaylistsFor("alice")
	up.Playlists["Favorites"] = &models.Playlist{Title: "Favorites", Items: []*models.MediaIdentifiers{
		{ImdbID: "tt1", SyncedToServers: map[string]models.ServerSyncInfo{"srvA": {}}},
	}}

	// srvA's snapshot no longer mentions "Favorites" at all.
	snaps := map[string]*fetch.ServerSnapshot{
		"srvA": {Playlists: map[string]*models.UserPlaylists{
			"alice": {Playlists: map[string]*models.Playlist{}},
		}},
	}

	NewMergeStage(nil).Run(global, snaps)

	assert.NotContains(t, up.Playlists, "Favorites")
	assert.True(t, global.IsTrashed("alice", "Favorites"))
}

func TestMergeNeverResurrectsTrashedPlaylist(t *testing.T) {
	global := models.NewPlaylistState()
	global.Trash("alice", "Favorites")

	snaps := map[string]*fetch.ServerSnapshot{
		"srvB": {Playlists: map[string]*models.UserPlaylists{
			"alice": {Playlists: map[string]*models.Playlist{
				"Favorites": {Title: "Favorites", Items: []*models.MediaIdentifiers{{ImdbID: "tt1"}}},
			}},
		}},
	}

	NewMergeStage(nil).Run(global, snaps)

	assert.NotContains(t, global.UserPlaylistsFor("alice").Playlists, "Favorites")
}

func TestDiffPushCreatesPlaylistOnServerMissingIt(t *testing.T) {
	global := models.NewPlaylistState()
	up := global.UserPlaylistsFor("alice")
	up.Playlists["Favorites"] = &models.Playlist{Title: "Favorites", Items: []*models.MediaIdentifiers{{ImdbID: "tt1"}}}

	d := fakedriver.New("A", "srvA")
	stage := NewDiffPushStage(nil, func() int64 { return 7 }, false)
	require.NoError(t, stage.Run(context.Background(), global, []driver.Driver{d}, nil, nil))

	require.Len(t, d.AppliedPlaylists, 1)
	require.Len(t, d.AppliedPlaylists[0].Playlists, 1)
	assert.Equal(t, "Favorites", d.AppliedPlaylists[0].Playlists[0].Title)
	assert.Contains(t, up.Playlists["Favorites"].Items[0].SyncedToServers, "srvA")
}

func TestDiffPushDeletesTrashedPlaylist(t *testing.T) {
	global := models.NewPlaylistState()
	global.Trash("alice", "Favorites")

	d := fakedriver.New("A", "srvA")
	stage := NewDiffPushStage(nil, func() int64 { return 7 }, false)
	require.NoError(t, stage.Run(context.Background(), global, []driver.Driver{d}, nil, nil))

	require.Len(t, d.Deleted, 1)
	assert.Equal(t, "Favorites", d.Deleted[0].Title)
}

func TestDiffPushDoesNotRedeleteTrashedPlaylistOnSecondRun(t *testing.T) {
	global := models.NewPlaylistState()
	global.Trash("alice", "Favorites")

	d := fakedriver.New("A", "srvA")
	stage := NewDiffPushStage(nil, func() int64 { return 7 }, false)
	require.NoError(t, stage.Run(context.Background(), global, []driver.Driver{d}, nil, nil))
	require.Len(t, d.Deleted, 1)

	require.NoError(t, stage.Run(context.Background(), global, []driver.Driver{d}, nil, nil))
	assert.Len(t, d.Deleted, 1, "a stable second cycle must not re-issue a delete already applied to this server")
}

func TestDiffPushRemovesTombstonedItemFromServerThatStillHasIt(t *testing.T) {
	global := models.NewPlaylistState()

	d := fakedriver.New("A", "srvA")
	tombstones := []ItemTombstone{
		{
			User:            "alice",
			Title:           "Favorites",
			Identifiers:     models.MediaIdentifiers{ImdbID: "tt1"},
			SyncedToServers: map[string]models.ServerSyncInfo{"srvA": {}},
		},
	}
	stage := NewDiffPushStage(nil, func() int64 { return 7 }, false)
	require.NoError(t, stage.Run(context.Background(), global, []driver.Driver{d}, tombstones, nil))

	require.Len(t, d.RemovedItems, 1)
	assert.Equal(t, "alice", d.RemovedItems[0].User)
	assert.Equal(t, "Favorites", d.RemovedItems[0].Title)
	assert.Equal(t, "tt1", d.RemovedItems[0].Identifiers.ImdbID)
}

func TestDiffPushSkipsRemoveItemForServerThatNeverHadIt(t *testing.T) {
	global := models.NewPlaylistState()

	d := fakedriver.New("A", "srvA")
	tombstones := []ItemTombstone{
		{
			User:            "alice",
			Title:           "Favorites",
			Identifiers:     models.MediaIdentifiers{ImdbID: "tt1"},
			SyncedToServers: map[string]models.ServerSyncInfo{"srvB": {}},
		},
	}
	stage := NewDiffPushStage(nil, func() int64 { return 7 }, false)
	require.NoError(t, stage.Run(context.Background(), global, []driver.Driver{d}, tombstones, nil))

	assert.Empty(t, d.RemovedItems)
}

func TestMergeEmitsItemTombstoneOnRemoval(t *testing.T) {
	global := models.NewPlaylistState()
	up := global.UserPlaylistsFor("alice")
	up.Playlists["Favorites"] = &models.Playlist{Title: "Favorites", Items: []*models.MediaIdentifiers{
		{ImdbID: "tt1", SyncedToServers: map[string]models.ServerSyncInfo{"srvA": {}, "srvB": {}}},
	}}

	snaps := map[string]*fetch.ServerSnapshot{
		"srvA": {Playlists: map[string]*models.UserPlaylists{
			"alice": {Playlists: map[string]*models.Playlist{
				"Favorites": {Title: "Favorites", Items: nil},
			}},
		}},
	}

	tombstones := NewMergeStage(nil).Run(global, snaps)

	require.Len(t, tombstones, 1)
	assert.Equal(t, "alice", tombstones[0].User)
	assert.Equal(t, "Favorites", tombstones[0].Title)
	assert.Equal(t, "tt1", tombstones[0].Identifiers.ImdbID)
	assert.Contains(t, tombstones[0].SyncedToServers, "srvB")
}

func TestDryrunStillStampsPlaylistSyncLedger(t *testing.T) {
	global := models.NewPlaylistState()
	up := global.UserPlaylistsFor("alice")
	up.Playlists["Favorites"] = &models.Playlist{Title: "Favorites", Items: []*models.MediaIdentifiers{{ImdbID: "tt1"}}}

	d := fakedriver.New("A", "srvA")
	stage := NewDiffPushStage(nil, func() int64 { return 7 }, true)
	require.NoError(t, stage.Run(context.Background(), global, []driver.Driver{d}, nil, nil))

	assert.Contains(t, up.Playlists["Favorites"].Items[0].SyncedToServers, "srvA")

	require.NoError(t, stage.Run(context.Background(), global, []driver.Driver{d}, nil, nil))
	assert.Len(t, d.AppliedPlaylists, 1, "a second dryrun cycle must report no further diff once the ledger is stamped")
}
