// Command reconciler runs the multi-server watched-state and playlist
// reconciliation loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mediareconciler/reconciler/internal/config"
	"github.com/mediareconciler/reconciler/internal/diffpush"
	"github.com/mediareconciler/reconciler/internal/driver"
	"github.com/mediareconciler/reconciler/internal/engine"
	"github.com/mediareconciler/reconciler/internal/fetch"
	"github.com/mediareconciler/reconciler/internal/health"
	"github.com/mediareconciler/reconciler/internal/ledger"
	"github.com/mediareconciler/reconciler/internal/logging"
	"github.com/mediareconciler/reconciler/internal/merge"
	"github.com/mediareconciler/reconciler/internal/metrics"
	"github.com/mediareconciler/reconciler/internal/playlist"
	"github.com/mediareconciler/reconciler/internal/prune"
	"github.com/mediareconciler/reconciler/internal/schedule"
	"github.com/mediareconciler/reconciler/internal/state"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print the version and exit")
	healthAddr := flag.String("health-addr", ":8080", "address to serve /healthz, /readyz, and /metrics on")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	if err := run(*healthAddr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(healthAddr string) error {
	cfg, err := config.Load(config.OSGetenv)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	logger := logging.New(os.Stderr, level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := state.New(cfg.WatchedStatePath, cfg.PlaylistStatePath, state.WithLogger(logger))

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	status := health.NewStatus()

	now := func() int64 { return time.Now().Unix() }

	eng := &engine.Engine{
		Logger:         logger,
		Store:          store,
		Fetch:          fetch.New(cfg.MaxThreads, logger),
		Prune:          prune.New(logger),
		Merge:          merge.New(logger),
		Ledger:         ledger.New(logger, now),
		DiffPush:       diffpush.New(logger, now, cfg.Dryrun),
		PlaylistMerge:  playlist.NewMergeStage(logger),
		PlaylistPush:   playlist.NewDiffPushStage(logger, now, cfg.Dryrun),
		SyncPlaylists:  cfg.SyncPlaylists,
		UserMapping:    invert(cfg.UserNameMap),
		LibraryMapping: invert(cfg.LibraryNameMap),
		Filters: fetch.Filters{
			UserAllow:        cfg.UserAllow,
			UserDeny:         cfg.UserDeny,
			LibraryAllow:     cfg.LibraryAllow,
			LibraryDeny:      cfg.LibraryDeny,
			LibraryTypeAllow: cfg.LibraryTypeAllow,
			LibraryTypeDeny:  cfg.LibraryTypeDeny,
			UserNameMap:      cfg.UserNameMap,
			LibraryNameMap:   cfg.LibraryNameMap,
		},
		Health:  status,
		Metrics: m,
	}
	eng.DiffPush.Metrics = m

	drivers := buildDrivers(cfg, logger)
	defer closeAll(drivers, logger)

	srv := &http.Server{Addr: healthAddr, Handler: buildMux(status, reg)}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server stopped", "error", err)
		}
	}()
	defer srv.Shutdown(context.Background())

	sched, err := schedule.New(logger, cfg.SyncCron, time.Duration(cfg.SleepDurationSecs)*time.Second, cfg.RunOnlyOnce)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	return sched.Run(ctx, func(ctx context.Context) error {
		_, err := eng.RunCycle(ctx, drivers)
		return err
	})
}

func buildMux(status *health.Status, reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", health.Router(status))
	mux.Handle("/metrics", metrics.Handler(reg))
	return mux
}

// buildDrivers is deliberately empty: wiring a concrete Plex/Emby/Jellyfin
// driver per cfg.Servers is outside this module's scope (spec Non-goals on
// transport/auth implementations). A real deployment supplies drivers here.
func buildDrivers(cfg *config.Config, logger *slog.Logger) []driver.Driver {
	if len(cfg.Servers) == 0 {
		logger.Warn("no servers configured; every cycle will be a no-op")
	}
	return nil
}

func closeAll(drivers []driver.Driver, logger *slog.Logger) {
	for _, d := range drivers {
		if err := d.Close(); err != nil {
			logger.Warn("driver close failed", "server", d.MachineID(), "error", err)
		}
	}
}

func invert(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}
