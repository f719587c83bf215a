// Package engine orchestrates one reconciliation cycle end to end: Fetch →
// Prune → Merge → Mark-Already-Synced → Diff & Push → Persist (spec §2, §5).
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/mediareconciler/reconciler/internal/diffpush"
	"github.com/mediareconciler/reconciler/internal/driver"
	"github.com/mediareconciler/reconciler/internal/errkind"
	"github.com/mediareconciler/reconciler/internal/fetch"
	"github.com/mediareconciler/reconciler/internal/health"
	"github.com/mediareconciler/reconciler/internal/ledger"
	"github.com/mediareconciler/reconciler/internal/mediautil"
	"github.com/mediareconciler/reconciler/internal/merge"
	"github.com/mediareconciler/reconciler/internal/metrics"
	"github.com/mediareconciler/reconciler/internal/playlist"
	"github.com/mediareconciler/reconciler/internal/prune"
	"github.com/mediareconciler/reconciler/internal/state"
)

// Stats summarizes one completed cycle, for logs and metrics.
type Stats struct {
	CycleID         string
	Duration        time.Duration
	ServersFetched  int
	ServersFailed   int
	ItemsPruned     int
	ServersPushedTo int
}

// Engine wires together every pipeline stage and the persisted state store.
type Engine struct {
	Logger *slog.Logger
	Store  *state.Store

	Fetch         *fetch.Stage
	Prune         *prune.Stage
	Merge         *merge.Stage
	Ledger        *ledger.Stage
	DiffPush      *diffpush.Stage
	PlaylistMerge *playlist.MergeStage
	PlaylistPush  *playlist.DiffPushStage

	Filters        fetch.Filters
	SyncPlaylists  bool
	UserMapping    map[string]string
	LibraryMapping map[string]string

	// Health and Metrics are optional; both are nil-safe, so an Engine used
	// outside cmd/reconciler (tests in particular) need not wire them.
	Health  *health.Status
	Metrics *metrics.Metrics
}

// New returns an Engine with only Logger and Store set; the caller assigns
// the stages and the remaining fields before calling RunCycle.
func New(logger *slog.Logger, store *state.Store) *Engine {
	return &Engine{Logger: logger, Store: store}
}

// RunCycle executes exactly one reconciliation cycle against the given
// drivers, persisting the result. Panics inside any stage are recovered and
// reported as a Cycle-classified error so the scheduler can log and
// continue to the next cycle instead of crashing the process.
func (e *Engine) RunCycle(ctx context.Context, drivers []driver.Driver) (stats Stats, err error) {
	cycleID := uuid.NewString()
	logger := e.Logger.With("cycle_id", cycleID)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("cycle panicked", "panic", r, "stack", string(debug.Stack()))
			err = errkind.Wrap(errkind.Cycle, fmt.Errorf("cycle panic: %v", r))
		}
		stats.CycleID = cycleID
		stats.Duration = time.Since(start)
		if e.Metrics != nil {
			e.Metrics.CycleDuration.Observe(stats.Duration.Seconds())
			e.Metrics.ServersUnreachable.Add(float64(stats.ServersFailed))
			e.Metrics.PruneTotal.Add(float64(stats.ItemsPruned))
		}
		if e.Health != nil {
			e.Health.MarkCycleComplete(err)
		}
	}()

	ctx, progressCh := mediautil.ContextWithProgress(ctx)
	defer mediautil.CloseProgress(ctx)
	go drainProgress(progressCh)

	watched, err := e.Store.LoadWatched()
	if err != nil {
		return stats, errkind.Wrap(errkind.StateFile, err)
	}
	playlists, err := e.Store.LoadPlaylists()
	if err != nil {
		return stats, errkind.Wrap(errkind.StateFile, err)
	}

	mediautil.SendProgress(ctx, mediautil.CycleProgress{Phase: mediautil.PhaseFetch})
	fetchResult := e.Fetch.Run(ctx, drivers, watched, playlists, e.Filters)
	stats.ServersFetched = len(fetchResult.Snapshots)
	stats.ServersFailed = len(fetchResult.Failed)
	for machineID, ferr := range fetchResult.Failed {
		logger.Warn("server fetch failed this cycle", "server", machineID, "error", ferr)
	}

	reachableDrivers := reachable(drivers, fetchResult)

	mediautil.SendProgress(ctx, mediautil.CycleProgress{Phase: mediautil.PhasePrune})
	tombstones := e.Prune.Run(watched, fetchResult.Snapshots)
	stats.ItemsPruned = tombstones.Count()

	mediautil.SendProgress(ctx, mediautil.CycleProgress{Phase: mediautil.PhaseMerge})
	e.Merge.Run(watched, fetchResult.Snapshots, tombstones)
	var playlistTombstones []playlist.ItemTombstone
	if e.SyncPlaylists {
		playlistTombstones = e.PlaylistMerge.Run(playlists, fetchResult.Snapshots)
	}

	mediautil.SendProgress(ctx, mediautil.CycleProgress{Phase: mediautil.PhaseLedger})
	e.Ledger.Run(watched, fetchResult.Snapshots)

	mediautil.SendProgress(ctx, mediautil.CycleProgress{Phase: mediautil.PhaseDiffPush})
	if err := e.DiffPush.Run(ctx, watched, reachableDrivers, tombstones, e.UserMapping, e.LibraryMapping); err != nil {
		logger.Error("diff & push failed", "error", err)
	}
	if e.SyncPlaylists {
		if err := e.PlaylistPush.Run(ctx, playlists, reachableDrivers, playlistTombstones, e.UserMapping); err != nil {
			logger.Error("playlist diff & push failed", "error", err)
		}
	}
	stats.ServersPushedTo = len(reachableDrivers)

	if err := e.Store.SaveWatched(watched); err != nil {
		return stats, errkind.Wrap(errkind.StateFile, err)
	}
	if e.SyncPlaylists {
		if err := e.Store.SavePlaylists(playlists); err != nil {
			return stats, errkind.Wrap(errkind.StateFile, err)
		}
	}

	mediautil.SendProgress(ctx, mediautil.CycleProgress{Phase: mediautil.PhaseDone})
	logger.Info("cycle complete",
		"duration", time.Since(start),
		"servers_fetched", stats.ServersFetched,
		"servers_failed", stats.ServersFailed,
		"items_pruned", stats.ItemsPruned,
	)
	return stats, nil
}

// reachable returns only the drivers whose fetch succeeded this cycle. A
// server that failed to fetch must not be pushed to, since its snapshot of
// global state (used to compute the diff) would be nonexistent.
func reachable(drivers []driver.Driver, result *fetch.Result) []driver.Driver {
	out := make([]driver.Driver, 0, len(drivers))
	for _, d := range drivers {
		if _, ok := result.Snapshots[d.MachineID()]; ok {
			out = append(out, d)
		}
	}
	return out
}

func drainProgress(ch <-chan mediautil.CycleProgress) {
	for range ch {
		// Nothing else reads progress events; draining here discards them and
		// keeps SendProgress non-blocking.
	}
}
