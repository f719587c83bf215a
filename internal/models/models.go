// Package models defines the data types shared by every stage of the
// reconciliation pipeline: identifiers, watch status, the per-server sync
// ledger, and the two persisted state documents.
package models

import "strings"

// WatchedStatus is a point-in-time view of how far a user has gotten into an
// item.
type WatchedStatus struct {
	Completed    bool  `json:"completed"`
	TimeMs       int64 `json:"time_ms"`
	LastViewedAt int64 `json:"last_viewed_at,omitempty"`
}

// HasLastViewedAt reports whether LastViewedAt was ever set. Absent is
// treated as 0 by the merge stage's timestamp precedence rule, but callers
// that need to distinguish "never viewed" from "viewed at epoch" use this.
func (s WatchedStatus) HasLastViewedAt() bool {
	return s.LastViewedAt != 0
}

// ServerSyncInfo is the ledger entry recorded the last time an item's status
// was confirmed equivalent on a given server, either by observation
// (Mark-Already-Synced) or by a successful push.
type ServerSyncInfo struct {
	SyncedAt     int64         `json:"synced_at"`
	SyncedStatus WatchedStatus `json:"synced_status"`
}

// MediaIdentifiers is the bag of identifiers used for cross-server matching.
// It also carries the sync ledger for identifier-only values such as
// playlist items, which have no independent WatchedStatus of their own.
type MediaIdentifiers struct {
	Title           string                    `json:"title,omitempty"`
	Locations       []string                  `json:"locations,omitempty"`
	ImdbID          string                    `json:"imdb_id,omitempty"`
	TvdbID          string                    `json:"tvdb_id,omitempty"`
	TmdbID          string                    `json:"tmdb_id,omitempty"`
	NativeGUID      string                    `json:"native_guid,omitempty"`
	SyncedToServers map[string]ServerSyncInfo `json:"synced_to_servers,omitempty"`
}

// Unmatchable reports whether the identifiers lack anything usable for
// cross-server matching. Such items are skipped on ingest per spec §3.
func (m MediaIdentifiers) Unmatchable() bool {
	if m.NativeGUID != "" || m.ImdbID != "" || m.TvdbID != "" || m.TmdbID != "" {
		return false
	}
	return len(m.Locations) == 0
}

// Basenames returns the filename (last path segment) of each location,
// treating both '/' and '\' as separators. This is the comparable key for
// location-based matching.
func (m MediaIdentifiers) Basenames() []string {
	if len(m.Locations) == 0 {
		return nil
	}
	out := make([]string, 0, len(m.Locations))
	for _, loc := range m.Locations {
		out = append(out, Basename(loc))
	}
	return out
}

// Basename returns the last path segment of loc, treating both '/' and '\'
// as separators.
func Basename(loc string) string {
	idx := strings.LastIndexAny(loc, `/\`)
	if idx < 0 {
		return loc
	}
	return loc[idx+1:]
}

// GUIDSuffix returns the substring after the last "://" in the native GUID,
// or the whole string if no scheme separator is present.
func GUIDSuffix(guid string) string {
	if idx := strings.LastIndex(guid, "://"); idx >= 0 {
		return guid[idx+3:]
	}
	return guid
}

// MediaItem is a single watchable unit: a movie, or an episode inside a
// Series.
type MediaItem struct {
	Identifiers     MediaIdentifiers          `json:"identifiers"`
	Status          WatchedStatus             `json:"status"`
	SyncedToServers map[string]ServerSyncInfo `json:"synced_to_servers,omitempty"`
}

// Series is an ordered collection of episodes sharing series-level
// identifiers.
type Series struct {
	Identifiers MediaIdentifiers `json:"identifiers"`
	Episodes    []*MediaItem     `json:"episodes"`
}

// LibraryData holds everything fetched for one user within one library.
type LibraryData struct {
	Title  string       `json:"title"`
	Movies []*MediaItem `json:"movies,omitempty"`
	Series []*Series    `json:"series,omitempty"`
}

// UserData is a user's view across all libraries on one or more servers,
// keyed by canonical library name once merged into global state.
type UserData struct {
	Libraries map[string]*LibraryData `json:"libraries"`
}

// WatchedState is the root of the persisted watched-state document.
type WatchedState struct {
	Users map[string]*UserData `json:"users"`
}

// NewWatchedState returns an empty, ready-to-use WatchedState.
func NewWatchedState() *WatchedState {
	return &WatchedState{Users: make(map[string]*UserData)}
}

// UserLibrary returns the LibraryData for (user, library), creating both
// levels if absent.
func (s *WatchedState) UserLibrary(user, library string) *LibraryData {
	u, ok := s.Users[user]
	if !ok {
		u = &UserData{Libraries: make(map[string]*LibraryData)}
		s.Users[user] = u
	}
	lib, ok := u.Libraries[library]
	if !ok {
		lib = &LibraryData{Title: library}
		u.Libraries[library] = lib
	}
	return lib
}

// Playlist is an ordered, named collection of identifier bags.
type Playlist struct {
	Title string              `json:"title"`
	Items []*MediaIdentifiers `json:"items"`
}

// UserPlaylists is one user's playlists, keyed by title.
type UserPlaylists struct {
	Playlists map[string]*Playlist `json:"playlists"`
}

// PlaylistState is the root of the persisted playlist-state document.
type PlaylistState struct {
	Users map[string]*UserPlaylists `json:"users"`
	// TrashedTitles remembers, per user and title, every server that has
	// already had the deletion applied there, so a server that lags behind
	// (or was unreachable the cycle it was deleted) never resurrects it,
	// and a stable later cycle issues no further delete calls. A title
	// with an empty server set is trashed but not yet propagated anywhere.
	TrashedTitles map[string]map[string]map[string]bool `json:"trashed_titles,omitempty"`
}

// NewPlaylistState returns an empty, ready-to-use PlaylistState.
func NewPlaylistState() *PlaylistState {
	return &PlaylistState{
		Users:         make(map[string]*UserPlaylists),
		TrashedTitles: make(map[string]map[string]map[string]bool),
	}
}

// IsTrashed reports whether title was deleted for user and must not be
// resurrected.
func (s *PlaylistState) IsTrashed(user, title string) bool {
	_, ok := s.TrashedTitles[user][title]
	return ok
}

// Trash records title as deleted for user, if not already recorded.
func (s *PlaylistState) Trash(user, title string) {
	if s.TrashedTitles == nil {
		s.TrashedTitles = make(map[string]map[string]map[string]bool)
	}
	if s.TrashedTitles[user] == nil {
		s.TrashedTitles[user] = make(map[string]map[string]bool)
	}
	if s.TrashedTitles[user][title] == nil {
		s.TrashedTitles[user][title] = make(map[string]bool)
	}
}

// IsDeletedOnServer reports whether title's deletion has already been
// applied to serverID for user.
func (s *PlaylistState) IsDeletedOnServer(user, title, serverID string) bool {
	return s.TrashedTitles[user][title][serverID]
}

// MarkDeletedOnServer records that title's deletion has been applied to
// serverID for user.
func (s *PlaylistState) MarkDeletedOnServer(user, title, serverID string) {
	if s.TrashedTitles == nil {
		s.TrashedTitles = make(map[string]map[string]map[string]bool)
	}
	if s.TrashedTitles[user] == nil {
		s.TrashedTitles[user] = make(map[string]map[string]bool)
	}
	if s.TrashedTitles[user][title] == nil {
		s.TrashedTitles[user][title] = make(map[string]bool)
	}
	s.TrashedTitles[user][title][serverID] = true
}

// UserPlaylistsFor returns the UserPlaylists for user, creating it if absent.
func (s *PlaylistState) UserPlaylistsFor(user string) *UserPlaylists {
	u, ok := s.Users[user]
	if !ok {
		u = &UserPlaylists{Playlists: make(map[string]*Playlist)}
		s.Users[user] = u
	}
	return u
}

// Playlist returns the named playlist for this user, creating it if absent.
func (u *UserPlaylists) Playlist(title string) *Playlist {
	p, ok := u.Playlists[title]
	if !ok {
		p = &Playlist{Title: title}
		u.Playlists[title] = p
	}
	return p
}
