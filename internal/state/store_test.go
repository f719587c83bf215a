package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mediareconciler/reconciler/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string, string) {
	t.Helper()
	dir := t.TempDir()
	watched := filepath.Join(dir, "watched.json")
	playlists := filepath.Join(dir, "playlists.json")
	return New(watched, playlists), watched, playlists
}

func TestLoadWatchedAbsentReturnsEmpty(t *testing.T) {
	s, _, _ := newTestStore(t)
	ws, err := s.LoadWatched()
	require.NoError(t, err)
	assert.Empty(t, ws.Users)
}

func TestSaveAndLoadWatchedRoundTrips(t *testing.T) {
	s, _, _ := newTestStore(t)
	ws := models.NewWatchedState()
	lib := ws.UserLibrary("alice", "Movies")
	lib.Movies = append(lib.Movies, &models.MediaItem{
		Identifiers: models.MediaIdentifiers{ImdbID: "tt0001"},
		Status:      models.WatchedStatus{Completed: true},
	})
	require.NoError(t, s.SaveWatched(ws))

	loaded, err := s.LoadWatched()
	require.NoError(t, err)
	require.Contains(t, loaded.Users, "alice")
	require.Len(t, loaded.Users["alice"].Libraries["Movies"].Movies, 1)
	assert.Equal(t, "tt0001", loaded.Users["alice"].Libraries["Movies"].Movies[0].Identifiers.ImdbID)
}

func TestLoadWatchedCorruptBacksUpAndReturnsEmpty(t *testing.T) {
	s, watchedPath, _ := newTestStore(t)
	require.NoError(t, os.WriteFile(watchedPath, []byte("{not json"), 0o644))

	ws, err := s.LoadWatched()
	require.NoError(t, err)
	assert.Empty(t, ws.Users)

	backup, err := os.ReadFile(watchedPath + ".corrupted")
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(backup))
}

func TestSaveAndLoadPlaylistsRoundTrips(t *testing.T) {
	s, _, _ := newTestStore(t)
	ps := models.NewPlaylistState()
	up := ps.UserPlaylistsFor("alice")
	p := up.Playlist("Faves")
	p.Items = append(p.Items, &models.MediaIdentifiers{ImdbID: "tt0001"})
	require.NoError(t, s.SavePlaylists(ps))

	loaded, err := s.LoadPlaylists()
	require.NoError(t, err)
	require.Contains(t, loaded.Users, "alice")
	assert.Equal(t, "tt0001", loaded.Users["alice"].Playlists["Faves"].Items[0].ImdbID)
}

func TestLoadPlaylistsEmptyFileReturnsEmpty(t *testing.T) {
	s, _, playlistPath := newTestStore(t)
	require.NoError(t, os.WriteFile(playlistPath, []byte{}, 0o644))
	ps, err := s.LoadPlaylists()
	require.NoError(t, err)
	assert.Empty(t, ps.Users)
}
