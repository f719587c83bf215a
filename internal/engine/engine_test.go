package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediareconciler/reconciler/internal/diffpush"
	"github.com/mediareconciler/reconciler/internal/driver"
	"github.com/mediareconciler/reconciler/internal/driver/fakedriver"
	"github.com/mediareconciler/reconciler/internal/fetch"
	"github.com/mediareconciler/reconciler/internal/ledger"
	"github.com/mediareconciler/reconciler/internal/merge"
	"github.com/mediareconciler/reconciler/internal/models"
	"github.com/mediareconciler/reconciler/internal/playlist"
	"github.com/mediareconciler/reconciler/internal/prune"
	"github.com/mediareconciler/reconciler/internal/state"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := state.New(filepath.Join(dir, "watched.json"), filepath.Join(dir, "playlists.json"), state.WithLogger(logger))
	now := func() int64 { return 100 }

	return &Engine{
		Logger:        logger,
		Store:         store,
		Fetch:         fetch.New(5, logger),
		Prune:         prune.New(logger),
		Merge:         merge.New(logger),
		Ledger:        ledger.New(logger, now),
		DiffPush:      diffpush.New(logger, now, false),
		PlaylistMerge: playlist.NewMergeStage(logger),
		PlaylistPush:  playlist.NewDiffPushStage(logger, now, false),
		SyncPlaylists: true,
	}
}

func TestCycleAdoptsNewlyDiscoveredServer(t *testing.T) {
	e := testEngine(t)
	d := fakedriver.New("Server A", "srvA")
	d.Users = []driver.UserInfo{{Name: "alice", AccessToThisServer: true}}
	d.Libraries = map[string]driver.LibraryType{"Movies": driver.LibraryMovie}
	d.Watched["Movies"] = map[string]*models.LibraryData{
		"alice": {Movies: []*models.MediaItem{{Identifiers: models.MediaIdentifiers{ImdbID: "tt1"}, Status: models.WatchedStatus{Completed: true}}}},
	}

	stats, err := e.RunCycle(context.Background(), []driver.Driver{d})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ServersFetched)

	watched, err := e.Store.LoadWatched()
	require.NoError(t, err)
	require.Len(t, watched.Users["alice"].Libraries["Movies"].Movies, 1)
}

func TestCyclePropagatesDeletionAcrossServers(t *testing.T) {
	e := testEngine(t)

	a := fakedriver.New("A", "srvA")
	a.Users = []driver.UserInfo{{Name: "alice", AccessToThisServer: true}}
	a.Libraries = map[string]driver.LibraryType{"Movies": driver.LibraryMovie}
	a.Watched["Movies"] = map[string]*models.LibraryData{"alice": {}} // tt1 already deleted here

	b := fakedriver.New("B", "srvB")
	b.Users = []driver.UserInfo{{Name: "alice", AccessToThisServer: true}}
	b.Libraries = map[string]driver.LibraryType{"Movies": driver.LibraryMovie}
	b.Watched["Movies"] = map[string]*models.LibraryData{
		"alice": {Movies: []*models.MediaItem{{
			Identifiers: models.MediaIdentifiers{ImdbID: "tt1"},
			Status:      models.WatchedStatus{Completed: true},
			SyncedToServers: map[string]models.ServerSyncInfo{
				"srvB": {SyncedStatus: models.WatchedStatus{Completed: true}},
			},
		}}},
	}

	// Seed global state with tt1 already known and previously synced to
	// both servers, simulating a prior cycle.
	seed, err := e.Store.LoadWatched()
	require.NoError(t, err)
	lib := seed.UserLibrary("alice", "Movies")
	lib.Movies = append(lib.Movies, &models.MediaItem{
		Identifiers: models.MediaIdentifiers{ImdbID: "tt1"},
		Status:      models.WatchedStatus{Completed: true},
		SyncedToServers: map[string]models.ServerSyncInfo{
			"srvA": {SyncedStatus: models.WatchedStatus{Completed: true}},
			"srvB": {SyncedStatus: models.WatchedStatus{Completed: true}},
		},
	})
	require.NoError(t, e.Store.SaveWatched(seed))

	stats, err := e.RunCycle(context.Background(), []driver.Driver{a, b})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ItemsPruned)

	require.Len(t, b.AppliedRemovals, 1)
	require.Len(t, b.AppliedRemovals[0].Movies, 1)
	assert.Equal(t, "tt1", b.AppliedRemovals[0].Movies[0].ImdbID)

	watched, err := e.Store.LoadWatched()
	require.NoError(t, err)
	assert.Empty(t, watched.Users["alice"].Libraries["Movies"].Movies)
}

func TestCycleRecoversFromPanicAndReportsCycleError(t *testing.T) {
	e := testEngine(t)
	e.Store = nil // guarantees a nil-pointer panic as soon as RunCycle loads state

	d := fakedriver.New("A", "srvA")

	stats, err := e.RunCycle(context.Background(), []driver.Driver{d})
	require.Error(t, err)
	assert.NotEmpty(t, stats.CycleID)
}
