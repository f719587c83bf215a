package diffpush

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediareconciler/reconciler/internal/driver"
	"github.com/mediareconciler/reconciler/internal/driver/fakedriver"
	"github.com/mediareconciler/reconciler/internal/fetch"
	"github.com/mediareconciler/reconciler/internal/models"
	"github.com/mediareconciler/reconciler/internal/prune"
)

func fixedNow() int64 { return 42 }

func TestPushesUnsyncedMovieAndStampsLedger(t *testing.T) {
	global := models.NewWatchedState()
	lib := global.UserLibrary("alice", "Movies")
	item := &models.MediaItem{Identifiers: models.MediaIdentifiers{ImdbID: "tt1"}, Status: models.WatchedStatus{Completed: true}}
	lib.Movies = append(lib.Movies, item)

	d := fakedriver.New("A", "srvA")

	stage := New(nil, fixedNow, false)
	err := stage.Run(context.Background(), global, []driver.Driver{d}, prune.NewRegistry(), nil, nil)
	require.NoError(t, err)

	require.Len(t, d.AppliedAdditions, 1)
	assert.Len(t, d.AppliedAdditions[0].Movies, 1)
	require.Contains(t, item.SyncedToServers, "srvA")
	assert.Equal(t, int64(42), item.SyncedToServers["srvA"].SyncedAt)
}

func TestSkipsAlreadySyncedMovie(t *testing.T) {
	global := models.NewWatchedState()
	lib := global.UserLibrary("alice", "Movies")
	lib.Movies = append(lib.Movies, &models.MediaItem{
		Identifiers: models.MediaIdentifiers{ImdbID: "tt1"},
		Status:      models.WatchedStatus{Completed: true},
		SyncedToServers: map[string]models.ServerSyncInfo{
			"srvA": {SyncedStatus: models.WatchedStatus{Completed: true}},
		},
	})

	d := fakedriver.New("A", "srvA")
	stage := New(nil, fixedNow, false)
	require.NoError(t, stage.Run(context.Background(), global, []driver.Driver{d}, prune.NewRegistry(), nil, nil))

	assert.Empty(t, d.AppliedAdditions)
}

func TestDryrunStampsLedgerSoRepeatedDryrunsAreIdempotent(t *testing.T) {
	global := models.NewWatchedState()
	lib := global.UserLibrary("alice", "Movies")
	item := &models.MediaItem{Identifiers: models.MediaIdentifiers{ImdbID: "tt1"}, Status: models.WatchedStatus{Completed: true}}
	lib.Movies = append(lib.Movies, item)

	d := fakedriver.New("A", "srvA")
	stage := New(nil, fixedNow, true)
	require.NoError(t, stage.Run(context.Background(), global, []driver.Driver{d}, prune.NewRegistry(), nil, nil))

	require.Len(t, d.AppliedAdditions, 1)
	require.Contains(t, item.SyncedToServers, "srvA")

	require.NoError(t, stage.Run(context.Background(), global, []driver.Driver{d}, prune.NewRegistry(), nil, nil))
	assert.Len(t, d.AppliedAdditions, 1, "a second dryrun cycle must report no further diff once the ledger is stamped")
}

func TestPushesRemovalForServerThatHadTombstonedItem(t *testing.T) {
	global := models.NewWatchedState()
	global.UserLibrary("alice", "Movies") // ensure the (user, library) scope exists

	// Simulate a movie that was pruned after being synced to srvA.
	reg := buildRegistry(t, "alice", "Movies", models.MediaIdentifiers{ImdbID: "tt1"}, map[string]models.ServerSyncInfo{
		"srvA": {SyncedStatus: models.WatchedStatus{Completed: true}},
	})

	d := fakedriver.New("A", "srvA")
	stage := New(nil, fixedNow, false)
	require.NoError(t, stage.Run(context.Background(), global, []driver.Driver{d}, reg, nil, nil))

	require.Len(t, d.AppliedRemovals, 1)
	require.Len(t, d.AppliedRemovals[0].Movies, 1)
	assert.Equal(t, "tt1", d.AppliedRemovals[0].Movies[0].ImdbID)
}

func buildRegistry(t *testing.T, user, library string, id models.MediaIdentifiers, synced map[string]models.ServerSyncInfo) *prune.Registry {
	t.Helper()
	global := models.NewWatchedState()
	lib := global.UserLibrary(user, library)
	lib.Movies = append(lib.Movies, &models.MediaItem{Identifiers: id, SyncedToServers: synced})
	stage := prune.New(nil)
	return stage.Run(global, map[string]*fetch.ServerSnapshot{
		"other": {Users: map[string]map[string]*models.LibraryData{user: {library: {}}}},
	})
}

func TestIdempotentReRunProducesNoFurtherPush(t *testing.T) {
	global := models.NewWatchedState()
	lib := global.UserLibrary("alice", "Movies")
	item := &models.MediaItem{Identifiers: models.MediaIdentifiers{ImdbID: "tt1"}, Status: models.WatchedStatus{Completed: true}}
	lib.Movies = append(lib.Movies, item)

	d := fakedriver.New("A", "srvA")
	stage := New(nil, fixedNow, false)

	require.NoError(t, stage.Run(context.Background(), global, []driver.Driver{d}, prune.NewRegistry(), nil, nil))
	require.Len(t, d.AppliedAdditions, 1)

	require.NoError(t, stage.Run(context.Background(), global, []driver.Driver{d}, prune.NewRegistry(), nil, nil))
	assert.Len(t, d.AppliedAdditions, 1) // no second push
}
