// Package state owns the two persisted JSON documents — watched state and
// playlist state — including the corrupt-file recovery behavior described in
// spec §4.B.
package state

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/google/renameio/v2"

	"github.com/mediareconciler/reconciler/internal/models"
)

// Store reads and writes the watched-state and playlist-state documents at
// fixed filesystem paths.
type Store struct {
	watchedPath  string
	playlistPath string
	logger       *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger overrides the default discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New returns a Store backed by the given file paths. Paths need not exist
// yet — LoadWatched/LoadPlaylists treat a missing file as empty state.
func New(watchedPath, playlistPath string, opts ...Option) *Store {
	s := &Store{
		watchedPath:  watchedPath,
		playlistPath: playlistPath,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// LoadWatched returns the persisted WatchedState, an empty WatchedState if
// the file is absent or empty, or an empty WatchedState (after backing up
// the bad file to "<path>.corrupted") if it fails to parse.
func (s *Store) LoadWatched() (*models.WatchedState, error) {
	data, absent, err := readFileOrAbsent(s.watchedPath)
	if err != nil {
		return nil, err
	}
	if absent || len(data) == 0 {
		return models.NewWatchedState(), nil
	}
	var ws models.WatchedState
	if err := json.Unmarshal(data, &ws); err != nil {
		s.logger.Error("watched state corrupt, backing up and starting empty",
			"path", s.watchedPath, "error", err)
		if backupErr := backupCorrupted(s.watchedPath); backupErr != nil {
			s.logger.Error("failed to back up corrupted watched state", "error", backupErr)
		}
		return models.NewWatchedState(), nil
	}
	if ws.Users == nil {
		ws.Users = make(map[string]*models.UserData)
	}
	return &ws, nil
}

// SaveWatched writes ws to disk, replacing the prior contents atomically
// where the platform supports it.
func (s *Store) SaveWatched(ws *models.WatchedState) error {
	return writeJSONAtomic(s.watchedPath, ws)
}

// LoadPlaylists returns the persisted PlaylistState, following the same
// absent/corrupt contract as LoadWatched.
func (s *Store) LoadPlaylists() (*models.PlaylistState, error) {
	data, absent, err := readFileOrAbsent(s.playlistPath)
	if err != nil {
		return nil, err
	}
	if absent || len(data) == 0 {
		return models.NewPlaylistState(), nil
	}
	var ps models.PlaylistState
	if err := json.Unmarshal(data, &ps); err != nil {
		s.logger.Error("playlist state corrupt, backing up and starting empty",
			"path", s.playlistPath, "error", err)
		if backupErr := backupCorrupted(s.playlistPath); backupErr != nil {
			s.logger.Error("failed to back up corrupted playlist state", "error", backupErr)
		}
		return models.NewPlaylistState(), nil
	}
	if ps.Users == nil {
		ps.Users = make(map[string]*models.UserPlaylists)
	}
	if ps.TrashedTitles == nil {
		ps.TrashedTitles = make(map[string]map[string]map[string]bool)
	}
	return &ps, nil
}

// SavePlaylists writes ps to disk, replacing the prior contents atomically
// where the platform supports it.
func (s *Store) SavePlaylists(ps *models.PlaylistState) error {
	return writeJSONAtomic(s.playlistPath, ps)
}

func readFileOrAbsent(path string) (data []byte, absent bool, err error) {
	data, err = os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, false, nil
}

// backupCorrupted copies the file at path to "<path>.corrupted", clobbering
// any previous backup.
func backupCorrupted(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return os.WriteFile(path+".corrupted", data, 0o644)
}

// writeJSONAtomic writes v as indented JSON using renameio's pending-file
// pattern: write to a temp file, fsync, rename into place. Cleanup removes
// the temp file if the write never commits.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	pendingFile, err := renameio.NewPendingFile(path)
	if err != nil {
		return err
	}
	defer pendingFile.Cleanup()

	if _, err := pendingFile.Write(data); err != nil {
		return err
	}
	return pendingFile.CloseAtomicallyReplace()
}
