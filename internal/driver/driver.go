// Package driver defines the capability set the reconciliation core consumes
// from a media-server integration (spec §4.C, §6). Authentication, library
// enumeration wiring, and the wire protocol of any particular server are
// deliberately out of scope here — this package only fixes the contract.
package driver

import (
	"context"

	"github.com/mediareconciler/reconciler/internal/models"
)

// LibraryType is the coarse category of a library; only movie and show
// libraries participate in reconciliation.
type LibraryType string

const (
	LibraryMovie LibraryType = "movie"
	LibraryShow  LibraryType = "show"
)

// UserInfo is a user account as reported by a server.
type UserInfo struct {
	Name               string
	IsAdmin            bool
	AccessToThisServer bool
}

// EpisodeRef pairs an episode identifier with the identifiers of the series
// it belongs to, which a driver needs to locate it server-side.
type EpisodeRef struct {
	Series  models.MediaIdentifiers
	Episode models.MediaIdentifiers
}

// WatchedAdditions is the minimal set of per-user, per-library items a
// server is missing or has stale progress/completion for.
type WatchedAdditions struct {
	User    string
	Library string
	Movies  []*models.MediaItem
	Series  []SeriesAddition
}

// SeriesAddition carries the episodes of one series that need pushing; the
// series itself is never "completed" directly, only its episodes are.
type SeriesAddition struct {
	Identifiers models.MediaIdentifiers
	Episodes    []*models.MediaItem
}

// WatchedRemovals is the set of per-user, per-library items a server reports
// as watched/in-progress but which no longer exist in global state.
type WatchedRemovals struct {
	User        string
	Library     string
	Movies      []models.MediaIdentifiers
	WholeSeries []models.MediaIdentifiers
	Episodes    []EpisodeRef
}

// PlaylistSyncEntry is the desired end-state for one playlist: create it if
// the server doesn't have it, then ensure every listed item is present.
type PlaylistSyncEntry struct {
	Title           string
	CreateIfMissing bool
	AddItems        []models.MediaIdentifiers
}

// PlaylistSync bundles the playlist work for one user in a single driver
// call.
type PlaylistSync struct {
	User      string
	Playlists []PlaylistSyncEntry
}

// Driver is the fixed capability set the reconciliation engine consumes.
// One Driver instance represents one configured server.
type Driver interface {
	// Info returns a human-readable name for logs.
	Info() string
	// MachineID returns a stable id for this server, used as the server-id
	// key throughout the sync ledger.
	MachineID() string

	// ListUsers returns every account on the server. Accounts without
	// access to this server must already be excluded.
	ListUsers(ctx context.Context) ([]UserInfo, error)
	// ListLibraries returns every library's type, keyed by name. Types
	// other than movie/show are omitted.
	ListLibraries(ctx context.Context) (map[string]LibraryType, error)

	// GetWatched returns watched and in-progress (>=60s) items for the
	// given users in one library. previous maps each requested user to
	// their prior global snapshot for this library, so the driver can
	// reuse identifiers (native_guid in particular) for items it
	// recognizes instead of minting new ones every cycle.
	GetWatched(ctx context.Context, users []string, library string, previous map[string]*models.LibraryData) (map[string]*models.LibraryData, error)

	// GetPlaylists returns non-smart playlists for the given users.
	// previous is the prior global playlist snapshot for this user set.
	GetPlaylists(ctx context.Context, users []string, previous map[string]*models.UserPlaylists) (map[string]*models.UserPlaylists, error)

	// UpdateWatched applies additions/updates and removals (unmarks).
	// userMapping and libraryMapping translate canonical names back to
	// server-local names. dryrun computes but never issues the call.
	UpdateWatched(ctx context.Context, additions []WatchedAdditions, removals []WatchedRemovals, userMapping, libraryMapping map[string]string, dryrun bool) error

	// UpdatePlaylists creates missing playlists and adds missing items.
	UpdatePlaylists(ctx context.Context, syncs []PlaylistSync, userMapping map[string]string, dryrun bool) error

	// DeletePlaylistByTitle removes an entire playlist.
	DeletePlaylistByTitle(ctx context.Context, user, title string, dryrun bool) error
	// RemoveItemFromPlaylist removes a single item from a playlist.
	RemoveItemFromPlaylist(ctx context.Context, user, title string, identifiers models.MediaIdentifiers, dryrun bool) error

	Close() error
}
