// Package fakedriver is an in-memory driver.Driver used by pipeline tests in
// place of a real media-server integration, the same role the teacher's
// tests play against a fake MediaServer rather than a live Plex/Emby/
// Jellyfin instance.
package fakedriver

import (
	"context"
	"sync"

	"github.com/mediareconciler/reconciler/internal/driver"
	"github.com/mediareconciler/reconciler/internal/models"
)

// Driver is a scriptable, in-memory implementation of driver.Driver.
type Driver struct {
	mu sync.Mutex

	info      string
	machineID string

	Users     []driver.UserInfo
	Libraries map[string]driver.LibraryType
	Watched   map[string]map[string]*models.LibraryData // library -> user -> data
	Playlists map[string]*models.UserPlaylists           // user -> playlists

	FetchErr error

	AppliedAdditions []driver.WatchedAdditions
	AppliedRemovals  []driver.WatchedRemovals
	AppliedPlaylists []driver.PlaylistSync
	Deleted          []struct{ User, Title string }
	RemovedItems     []struct {
		User, Title string
		Identifiers models.MediaIdentifiers
	}
	Closed bool
}

// New returns an empty fake driver identified by info/machineID.
func New(info, machineID string) *Driver {
	return &Driver{
		info:      info,
		machineID: machineID,
		Libraries: make(map[string]driver.LibraryType),
		Watched:   make(map[string]map[string]*models.LibraryData),
		Playlists: make(map[string]*models.UserPlaylists),
	}
}

func (d *Driver) Info() string      { return d.info }
func (d *Driver) MachineID() string { return d.machineID }

func (d *Driver) ListUsers(ctx context.Context) ([]driver.UserInfo, error) {
	if d.FetchErr != nil {
		return nil, d.FetchErr
	}
	return d.Users, nil
}

func (d *Driver) ListLibraries(ctx context.Context) (map[string]driver.LibraryType, error) {
	if d.FetchErr != nil {
		return nil, d.FetchErr
	}
	return d.Libraries, nil
}

func (d *Driver) GetWatched(ctx context.Context, users []string, library string, previous map[string]*models.LibraryData) (map[string]*models.LibraryData, error) {
	if d.FetchErr != nil {
		return nil, d.FetchErr
	}
	byUser := d.Watched[library]
	out := make(map[string]*models.LibraryData, len(users))
	for _, u := range users {
		if data, ok := byUser[u]; ok {
			out[u] = data
		}
	}
	return out, nil
}

func (d *Driver) GetPlaylists(ctx context.Context, users []string, previous map[string]*models.UserPlaylists) (map[string]*models.UserPlaylists, error) {
	if d.FetchErr != nil {
		return nil, d.FetchErr
	}
	out := make(map[string]*models.UserPlaylists, len(users))
	for _, u := range users {
		if p, ok := d.Playlists[u]; ok {
			out[u] = p
		}
	}
	return out, nil
}

func (d *Driver) UpdateWatched(ctx context.Context, additions []driver.WatchedAdditions, removals []driver.WatchedRemovals, userMapping, libraryMapping map[string]string, dryrun bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.AppliedAdditions = append(d.AppliedAdditions, additions...)
	d.AppliedRemovals = append(d.AppliedRemovals, removals...)
	return nil
}

func (d *Driver) UpdatePlaylists(ctx context.Context, syncs []driver.PlaylistSync, userMapping map[string]string, dryrun bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.AppliedPlaylists = append(d.AppliedPlaylists, syncs...)
	return nil
}

func (d *Driver) DeletePlaylistByTitle(ctx context.Context, user, title string, dryrun bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Deleted = append(d.Deleted, struct{ User, Title string }{user, title})
	return nil
}

func (d *Driver) RemoveItemFromPlaylist(ctx context.Context, user, title string, identifiers models.MediaIdentifiers, dryrun bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.RemovedItems = append(d.RemovedItems, struct {
		User, Title string
		Identifiers models.MediaIdentifiers
	}{user, title, identifiers})
	return nil
}

func (d *Driver) Close() error {
	d.Closed = true
	return nil
}
