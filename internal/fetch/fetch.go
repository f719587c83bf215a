// Package fetch implements the Fetch stage (spec §4.D): pulling per-user,
// per-library watched data and playlists from every configured server in
// parallel, bounded by a worker cap.
package fetch

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mediareconciler/reconciler/internal/driver"
	"github.com/mediareconciler/reconciler/internal/models"
)

// Filters holds the allow/deny and name-mapping configuration the fetch
// stage applies while enumerating users and libraries (spec §6).
type Filters struct {
	UserAllow []string
	UserDeny  []string

	LibraryAllow     []string
	LibraryDeny      []string
	LibraryTypeAllow []driver.LibraryType
	LibraryTypeDeny  []driver.LibraryType

	UserNameMap    map[string]string
	LibraryNameMap map[string]string
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if strings.EqualFold(x, v) {
			return true
		}
	}
	return false
}

func containsType(list []driver.LibraryType, v driver.LibraryType) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func (f Filters) userAllowed(name string) bool {
	if contains(f.UserDeny, name) {
		return false
	}
	if len(f.UserAllow) > 0 {
		return contains(f.UserAllow, name)
	}
	return true
}

func (f Filters) libraryAllowed(name string, typ driver.LibraryType) bool {
	if typ != driver.LibraryMovie && typ != driver.LibraryShow {
		return false
	}
	if contains(f.LibraryDeny, name) || containsType(f.LibraryTypeDeny, typ) {
		return false
	}
	if len(f.LibraryAllow) > 0 && !contains(f.LibraryAllow, name) {
		return false
	}
	if len(f.LibraryTypeAllow) > 0 && !containsType(f.LibraryTypeAllow, typ) {
		return false
	}
	return true
}

func (f Filters) canonicalUser(name string) string {
	if c, ok := f.UserNameMap[name]; ok {
		return c
	}
	return name
}

func (f Filters) canonicalLibrary(name string) string {
	if c, ok := f.LibraryNameMap[name]; ok {
		return c
	}
	return name
}

// ServerSnapshot is everything fetched from one server this cycle, keyed by
// canonical user then canonical library name.
type ServerSnapshot struct {
	MachineID string
	Info      string
	Users     map[string]map[string]*models.LibraryData
	Playlists map[string]*models.UserPlaylists
}

// Result is the outcome of one Fetch stage run.
type Result struct {
	// Snapshots is keyed by server machine-id. A server that failed this
	// cycle is simply absent, per spec §4.D failure policy.
	Snapshots map[string]*ServerSnapshot
	// Failed maps machine-id to the error that took the server out of
	// this cycle.
	Failed map[string]error
}

// Stage runs the Fetch stage.
type Stage struct {
	MaxThreads int
	Logger     *slog.Logger
}

// New returns a Stage with the given worker cap (default 10 if <= 0).
func New(maxThreads int, logger *slog.Logger) *Stage {
	if maxThreads <= 0 {
		maxThreads = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Stage{MaxThreads: maxThreads, Logger: logger}
}

// Run fetches from every driver in parallel. previous is the prior global
// watched state and previousPlaylists the prior global playlist state, used
// to give drivers identifier-stability hints.
func (s *Stage) Run(ctx context.Context, drivers []driver.Driver, previous *models.WatchedState, previousPlaylists *models.PlaylistState, f Filters) *Result {
	result := &Result{
		Snapshots: make(map[string]*ServerSnapshot, len(drivers)),
		Failed:    make(map[string]error),
	}
	if len(drivers) == 0 {
		return result
	}

	type outcome struct {
		machineID string
		snap      *ServerSnapshot
		err       error
	}
	outcomes := make(chan outcome, len(drivers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.MaxThreads)
	for _, d := range drivers {
		d := d
		g.Go(func() error {
			snap, err := s.fetchServer(gctx, d, previous, previousPlaylists, f)
			outcomes <- outcome{machineID: d.MachineID(), snap: snap, err: err}
			return nil // a single server's failure never aborts the group
		})
	}
	_ = g.Wait()
	close(outcomes)

	for o := range outcomes {
		if o.err != nil {
			s.Logger.Warn("fetch failed for server", "server", o.machineID, "error", o.err)
			result.Failed[o.machineID] = o.err
			continue
		}
		result.Snapshots[o.machineID] = o.snap
	}
	return result
}

func (s *Stage) fetchServer(ctx context.Context, d driver.Driver, previous *models.WatchedState, previousPlaylists *models.PlaylistState, f Filters) (*ServerSnapshot, error) {
	users, err := d.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	libs, err := d.ListLibraries(ctx)
	if err != nil {
		return nil, err
	}

	localUsers := make([]string, 0, len(users))
	userCanon := make(map[string]string, len(users))
	for _, u := range users {
		if !u.AccessToThisServer {
			continue
		}
		if !f.userAllowed(u.Name) {
			continue
		}
		localUsers = append(localUsers, u.Name)
		userCanon[u.Name] = f.canonicalUser(u.Name)
	}

	snap := &ServerSnapshot{
		MachineID: d.MachineID(),
		Info:      d.Info(),
		Users:     make(map[string]map[string]*models.LibraryData),
	}
	if len(localUsers) == 0 {
		return snap, nil
	}

	for libName, libType := range libs {
		if !f.libraryAllowed(libName, libType) {
			continue
		}
		canonLib := f.canonicalLibrary(libName)

		prevByUser := make(map[string]*models.LibraryData, len(localUsers))
		for _, lu := range localUsers {
			canon := userCanon[lu]
			if previous == nil {
				continue
			}
			if ud, ok := previous.Users[canon]; ok {
				if ld, ok := ud.Libraries[canonLib]; ok {
					prevByUser[lu] = ld
				}
			}
		}

		data, err := d.GetWatched(ctx, localUsers, libName, prevByUser)
		if err != nil {
			return nil, err
		}
		for lu, ld := range data {
			if ld == nil {
				continue
			}
			canon := userCanon[lu]
			byLib, ok := snap.Users[canon]
			if !ok {
				byLib = make(map[string]*models.LibraryData)
				snap.Users[canon] = byLib
			}
			ld.Title = canonLib
			byLib[canonLib] = ld
		}
	}

	prevPlaylists := make(map[string]*models.UserPlaylists, len(localUsers))
	for _, lu := range localUsers {
		if previousPlaylists == nil {
			continue
		}
		if up, ok := previousPlaylists.Users[userCanon[lu]]; ok {
			prevPlaylists[lu] = up
		}
	}
	playlists, err := d.GetPlaylists(ctx, localUsers, prevPlaylists)
	if err != nil {
		return nil, err
	}
	snap.Playlists = make(map[string]*models.UserPlaylists, len(playlists))
	for lu, up := range playlists {
		if up == nil {
			continue
		}
		snap.Playlists[userCanon[lu]] = up
	}

	return snap, nil
}
