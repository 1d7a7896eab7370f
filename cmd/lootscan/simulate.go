package main

import (
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/lootscan/internal/artifact"
	"github.com/jackzampolin/lootscan/internal/config"
	"github.com/jackzampolin/lootscan/internal/jobs"
	"github.com/jackzampolin/lootscan/internal/rcon"
	"github.com/jackzampolin/lootscan/internal/world"
)

var (
	simListen    string
	simSeed      int64
	simSpacing   int
	simLatency   int
	simTick      time.Duration
	simArtifacts string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a simulated game server",
	Long: `Run an RCON server backed by a seeded simulated world.

The server answers the extraction verbs and the vanilla commands a scan
issues, and writes artifacts to a local directory. Point a static-mode
scan at it with server.artifact_dir set to the same directory.

Examples:
  lootscan simulate
  lootscan simulate --listen 127.0.0.1:25580 --seed 42
  lootscan simulate --latency -1   # regions load immediately`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := cfgManager.Get()

		if err := homePath.EnsureExists(); err != nil {
			return err
		}
		dir := simArtifacts
		if dir == "" {
			dir = filepath.Join(homePath.Path(), "simulate", "artifacts")
		}

		sim := world.New(world.Config{
			Seed:        simSeed,
			Spacing:     simSpacing,
			LoadLatency: simLatency,
			Logger:      logger,
		})
		sched := jobs.NewScheduler(jobs.SchedulerConfig{
			Logger:       logger,
			TickInterval: simTick,
		})
		srv := rcon.NewServer(rcon.ServerConfig{
			Password: cfg.RCONPassword(),
			Handler: jobs.NewCommands(jobs.CommandsConfig{
				Scheduler: sched,
				Worlds:    sim,
				Locator:   sim,
				Store:     artifact.NewStore(dir, logger),
				Namespace: cfg.Namespace,
				Fallback:  sim,
				Logger:    logger,
			}),
			Logger: logger,
		})
		if err := srv.Listen(simListen); err != nil {
			return err
		}
		logger.Info("simulated server ready",
			"addr", srv.Addr().String(),
			"seed", simSeed,
			"artifacts", dir,
			"spaces", sim.Spaces())

		if cfgManager.ConfigFile() != "" {
			cfgManager.OnChange(func(c *config.Config) {
				if logLevel != "" {
					return
				}
				if err := setLevel(c.LogLevel); err == nil {
					logger.Info("config reloaded", "log_level", c.LogLevel)
				}
			})
			cfgManager.WatchConfig()
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			sched.Run(gctx)
			return nil
		})
		g.Go(func() error {
			return srv.Serve(gctx)
		})
		return g.Wait()
	},
}

func init() {
	f := simulateCmd.Flags()
	f.StringVar(&simListen, "listen", "127.0.0.1:25575", "address to serve RCON on")
	f.Int64Var(&simSeed, "seed", 0, "world seed")
	f.IntVar(&simSpacing, "spacing", 0, "structure placement cell in blocks (default: world default)")
	f.IntVar(&simLatency, "latency", 0, "polls a region load takes, negative for immediate")
	f.DurationVar(&simTick, "tick", 0, "scheduler tick interval (default: 50ms)")
	f.StringVar(&simArtifacts, "artifacts", "", "artifact directory (default: ~/.lootscan/simulate/artifacts)")

	rootCmd.AddCommand(simulateCmd)
}
