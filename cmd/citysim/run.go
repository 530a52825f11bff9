package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/talgya/citynet/internal/api"
	"github.com/talgya/citynet/internal/config"
	"github.com/talgya/citynet/internal/engine"
	"github.com/talgya/citynet/internal/entropy"
	"github.com/talgya/citynet/internal/persistence"
	"github.com/talgya/citynet/internal/world"
)

func newRunCmd() *cobra.Command {
	var fresh bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the simulation and serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			cfg.SetupLogger()
			return run(cmd.Context(), cfg, fresh)
		},
	}
	cmd.Flags().BoolVar(&fresh, "fresh", false, "ignore any saved state and start an empty network")
	return cmd
}

func run(ctx context.Context, cfg config.Config, fresh bool) error {
	slog.Info("citysim starting", "version", version, "bounds", fmt.Sprintf("%gx%g", cfg.Width, cfg.Height))

	// ── Database ──────────────────────────────────────────────────────
	var db *persistence.DB
	if cfg.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		var err error
		db, err = persistence.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()
		slog.Info("database opened", "path", cfg.DBPath)
		if err := db.SaveMeta("app_version", version); err != nil {
			slog.Warn("could not record app version", "error", err)
		}
	} else {
		slog.Warn("db_path empty, state will not be saved")
	}

	// ── Simulation ────────────────────────────────────────────────────
	opts := engine.Options{
		Bounds: world.Bounds{Width: cfg.Width, Height: cfg.Height},
		Rules:  cfg.Rules,
		Rand:   newSource(cfg),
		Strict: cfg.Strict,
	}
	if cfg.TerrainThreshold > 0 {
		seed := cfg.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		opts.Terrain = world.NewTerrain(seed, cfg.TerrainThreshold)
		slog.Info("terrain mask enabled", "threshold", cfg.TerrainThreshold)
	}

	sim, err := loadOrCreate(db, opts, fresh)
	if err != nil {
		return err
	}

	// ── Engine ────────────────────────────────────────────────────────
	eng := engine.NewEngine()
	eng.Interval = cfg.FrameInterval
	eng.ReportEvery = cfg.ReportEvery
	if err := eng.SetSpeed(cfg.Speed); err != nil {
		return err
	}
	eng.OnFrame = sim.AdvanceByTime
	eng.OnReport = func(uint64) { sim.LogReport() }
	if db != nil {
		eng.SaveEvery = cfg.AutosaveEvery
		eng.OnSave = func(uint64) {
			if err := db.SaveWorldState(sim); err != nil {
				slog.Error("autosave failed", "error", err)
			}
		}
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	var apiServer *api.Server
	if cfg.APIPort > 0 {
		if cfg.AdminKey == "" {
			slog.Warn("admin_key not set, admin POST endpoints will be disabled")
		}
		apiServer = &api.Server{
			Sim:         sim,
			Eng:         eng,
			DB:          db,
			Port:        cfg.APIPort,
			AdminKey:    cfg.AdminKey,
			CORSOrigins: cfg.CORSOrigins,
			StreamRate:  cfg.StreamRate,
		}
		apiServer.Start()
	}

	// ── Start ─────────────────────────────────────────────────────────
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if apiServer != nil {
		fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.APIPort)
	}
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	eng.Run(ctx)

	if apiServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("API shutdown failed", "error", err)
		}
	}

	// Final save on shutdown.
	if db != nil {
		slog.Info("final save...")
		if err := db.SaveWorldState(sim); err != nil {
			return fmt.Errorf("final save: %w", err)
		}
	}

	st := sim.Status()
	fmt.Printf("Simulation stopped at %s with %d cities and %d roads.\n", engine.SimTime(st.Clock), st.Cities, st.Roads)
	return nil
}

// loadOrCreate restores the saved network when there is one.
func loadOrCreate(db *persistence.DB, opts engine.Options, fresh bool) (*engine.Simulation, error) {
	if db == nil || fresh || !db.HasState() {
		sim, err := engine.NewSimulation(opts)
		if err != nil {
			return nil, err
		}
		slog.Info("new network", "run_id", sim.RunID)
		return sim, nil
	}

	snap, err := db.LoadSnapshot()
	if err != nil {
		return nil, fmt.Errorf("load saved state: %w", err)
	}
	sim, err := engine.Restore(snap, opts)
	if err != nil {
		return nil, err
	}
	slog.Info("network restored",
		"run_id", sim.RunID,
		"cities", len(snap.Cities),
		"roads", len(snap.Roads),
		"sim_time", engine.SimTime(snap.Clock),
	)
	return sim, nil
}

// newSource picks random.org when a key is configured, else a seeded PRNG.
func newSource(cfg config.Config) entropy.Source {
	if c := entropy.NewClient(cfg.RandomOrgKey); c != nil {
		slog.Info("random.org entropy enabled")
		return c
	}
	return entropy.NewSeeded(cfg.Seed)
}
