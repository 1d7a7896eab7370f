package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/lootscan/internal/artifact"
	"github.com/jackzampolin/lootscan/internal/config"
	"github.com/jackzampolin/lootscan/internal/datapack"
	"github.com/jackzampolin/lootscan/internal/output"
	"github.com/jackzampolin/lootscan/internal/progress"
	"github.com/jackzampolin/lootscan/internal/report"
	"github.com/jackzampolin/lootscan/internal/scan"
	"github.com/jackzampolin/lootscan/internal/session"
)

var scanFlags struct {
	mode         string
	worldVersion string
	seed         int64
	centerX      int
	centerZ      int
	radius       int
	structures   []string
	datapacks    []string
	maxTargets   int
	parallelJobs int
	regionRadius int
	reportPath   string
	noLean       bool
	noResume     bool
	noCache      bool
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover structures and extract their containers",
	Long: `Discover structure starts around a center point and extract the
containers of each one.

Flags override the scan section of the configuration file.

Examples:
  lootscan scan --seed 42 --radius 2048
  lootscan scan --structure minecraft:igloo --structure minecraft:the_nether/minecraft:fortress
  lootscan scan --mode docker --mc-version 1.21.4 --datapack ./packs/towers.zip`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := *cfgManager.Get()
		applyScanFlags(cmd, &cfg)
		return runScan(cmd.Context(), cmd, &cfg)
	},
}

func init() {
	f := scanCmd.Flags()
	f.StringVar(&scanFlags.mode, "mode", "", "server mode: static or docker")
	f.StringVar(&scanFlags.worldVersion, "mc-version", "", "world version")
	f.Int64Var(&scanFlags.seed, "seed", 0, "world seed")
	f.IntVar(&scanFlags.centerX, "center-x", 0, "scan center x")
	f.IntVar(&scanFlags.centerZ, "center-z", 0, "scan center z")
	f.IntVar(&scanFlags.radius, "radius", 0, "scan radius in blocks")
	f.StringArrayVar(&scanFlags.structures, "structure", nil, "structure id, optionally dimension/id (repeatable)")
	f.StringArrayVar(&scanFlags.datapacks, "datapack", nil, "datapack directory or zip (repeatable)")
	f.IntVar(&scanFlags.maxTargets, "max-targets", 0, "extract at most this many targets")
	f.IntVar(&scanFlags.parallelJobs, "parallel-jobs", 0, "extraction jobs in flight (1-8)")
	f.IntVar(&scanFlags.regionRadius, "region-radius", 0, "extraction radius in regions")
	f.StringVar(&scanFlags.reportPath, "report", "", "result file (default: ~/.lootscan/reports/scan-<seed>.json)")
	f.BoolVar(&scanFlags.noLean, "no-lean", false, "skip the lean gamerule profile")
	f.BoolVar(&scanFlags.noResume, "no-resume", false, "ignore the previous result")
	f.BoolVar(&scanFlags.noCache, "no-cache", false, "do not use the discovery cache")

	rootCmd.AddCommand(scanCmd)
}

func applyScanFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("mode") {
		cfg.Server.Mode = scanFlags.mode
	}
	if f.Changed("mc-version") {
		cfg.Scan.Version = scanFlags.worldVersion
	}
	if f.Changed("seed") {
		cfg.Scan.Seed = scanFlags.seed
	}
	if f.Changed("radius") {
		cfg.Scan.Radius = scanFlags.radius
	}
	if f.Changed("structure") {
		cfg.Scan.Structures = scanFlags.structures
	}
	if f.Changed("datapack") {
		cfg.Scan.Datapacks = scanFlags.datapacks
	}
	if f.Changed("max-targets") {
		cfg.Scan.MaxTargets = scanFlags.maxTargets
	}
	if f.Changed("parallel-jobs") {
		cfg.Scan.ParallelJobs = scanFlags.parallelJobs
	}
	if f.Changed("region-radius") {
		cfg.Scan.RegionRadius = scanFlags.regionRadius
	}
	if scanFlags.noLean {
		cfg.Scan.Lean = false
	}
	if scanFlags.noResume {
		cfg.Scan.Resume = false
	}
}

// parseStructure splits "dimension/id" into its parts. Ids may contain
// slashes, so a prefix only counts as a dimension when both halves are
// namespaced.
func parseStructure(s string) scan.Structure {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "/"); i > 0 {
		dim, id := s[:i], s[i+1:]
		if strings.Contains(dim, ":") && strings.Contains(id, ":") {
			return scan.Structure{ID: id, Dimension: dim}
		}
	}
	return scan.Structure{ID: s}
}

// scanSummary is printed when a scan finishes.
type scanSummary struct {
	Report          string `json:"report" yaml:"report"`
	Targets         int    `json:"targets" yaml:"targets"`
	Succeeded       int    `json:"succeeded" yaml:"succeeded"`
	Failed          int    `json:"failed" yaml:"failed"`
	Resumed         int    `json:"resumed" yaml:"resumed"`
	DiscoveryCached bool   `json:"discoveryCached" yaml:"discovery_cached"`
	Containers      int    `json:"containers" yaml:"containers"`
	DurationMs      int64  `json:"durationMs" yaml:"duration_ms"`
	Error           string `json:"error,omitempty" yaml:"error,omitempty"`
}

func runScan(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	if err := homePath.EnsureExists(); err != nil {
		return err
	}
	started := time.Now().UTC()

	req := scan.Request{
		Seed:                cfg.Scan.Seed,
		WorldVersion:        cfg.Scan.Version,
		CenterX:             scanFlags.centerX,
		CenterZ:             scanFlags.centerZ,
		Radius:              cfg.Scan.Radius,
		LocateStep:          cfg.Scan.LocateStep,
		RegionRadius:        cfg.Scan.RegionRadius,
		ParallelRegions:     cfg.Scan.ParallelRegions,
		ParallelRegionCount: cfg.Scan.ParallelRegionCount,
		ParallelJobs:        cfg.Scan.ParallelJobs,
		MaxTargets:          cfg.Scan.MaxTargets,
	}
	for _, s := range cfg.Scan.Structures {
		req.Structures = append(req.Structures, parseStructure(s))
	}

	var influence *datapack.Influence
	if len(cfg.Scan.Datapacks) > 0 {
		hashes, err := datapack.HashAll(cfg.Scan.Datapacks)
		if err != nil {
			return err
		}
		req.DatapackHashes = hashes

		if influence, err = datapack.Inspect(cfg.Scan.Datapacks); err != nil {
			return err
		}
		if cfg.Scan.DatapackStructures {
			for _, id := range influence.AddedStructures {
				req.Structures = append(req.Structures, scan.Structure{ID: id})
			}
		}
		if influence.Empty() {
			influence = nil
		}
	}

	launcher, closeLauncher, err := newLauncher(cfg)
	if err != nil {
		return err
	}
	defer closeLauncher()

	pool := session.NewPool(launcher, logger)
	defer func() {
		if err := pool.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to release server", "error", err)
		}
	}()

	sess, err := pool.Acquire(ctx, session.LaunchSpec{
		Version:   cfg.Scan.Version,
		Seed:      cfg.Scan.Seed,
		Image:     cfg.Server.Image,
		Datapacks: cfg.Scan.Datapacks,
		Plugin:    cfg.Server.Plugin,
		Lean:      cfg.Scan.Lean,
	})
	if err != nil {
		return err
	}
	if sess.ArtifactDir == "" {
		return errors.New("server.artifact_dir must be set to the directory the server writes artifacts to")
	}

	if cfg.Scan.Lean {
		if err := scan.ApplyLeanProfile(ctx, sess.Client, spacesOf(req.Structures), logger); err != nil {
			return err
		}
	}

	reportPath := scanFlags.reportPath
	if reportPath == "" {
		reportPath = homePath.ReportPath(cfg.Scan.Seed)
	}
	if cfg.Scan.Resume {
		prior, err := report.Load(reportPath)
		if err != nil {
			logger.Warn("ignoring unreadable previous result", "path", reportPath, "error", err)
		}
		req.Resume = report.Resumable(prior, cfg.Scan.Seed, cfg.Scan.Version)
	}

	var cache *scan.Cache
	if !scanFlags.noCache {
		cache = scan.NewCache(homePath.DiscoveryCacheDir(), logger)
	}

	printer := progress.New(os.Stderr)
	coord := scan.New(scan.Options{
		Client:          sess.Client,
		Store:           artifact.NewStore(sess.ArtifactDir, logger),
		Cache:           cache,
		Namespace:       cfg.Namespace,
		PollInterval:    cfg.Timeouts.Poll,
		StartTimeout:    cfg.Timeouts.Start,
		StatusTimeout:   cfg.Timeouts.Status,
		LegacyTimeout:   cfg.Timeouts.Legacy,
		JobTimeout:      cfg.Timeouts.Job,
		ArtifactTimeout: cfg.Timeouts.Artifact,
		Progress:        printer,
		Logger:          logger,
	})

	rep, runErr := coord.Run(ctx, req)
	printer.Done()
	if rep == nil {
		return runErr
	}

	finished := time.Now().UTC()
	result := &report.Result{
		StartTime:    started,
		FinishTime:   finished,
		DurationMs:   finished.Sub(started).Milliseconds(),
		WorldVersion: cfg.Scan.Version,
		Seed:         cfg.Scan.Seed,
		Influence:    influence,
		Scan:         rep,
	}
	for _, p := range cfg.Scan.Datapacks {
		result.Datapacks = append(result.Datapacks, filepath.Base(p))
	}
	if runErr != nil {
		result.Error = runErr.Error()
	}
	if err := report.Write(reportPath, result); err != nil {
		return errors.Join(runErr, err)
	}

	ok, failed := rep.Counts()
	summary := scanSummary{
		Report:          reportPath,
		Targets:         rep.Targets,
		Succeeded:       ok,
		Failed:          failed,
		Resumed:         rep.Resumed,
		DiscoveryCached: rep.DiscoveryCached,
		DurationMs:      result.DurationMs,
		Error:           result.Error,
	}
	for _, e := range rep.Structures {
		summary.Containers += len(e.Chests)
	}
	if err := output.Write(cmd.OutOrStdout(), outFormat, summary); err != nil {
		return err
	}
	return runErr
}

func newLauncher(cfg *config.Config) (session.Launcher, func(), error) {
	switch cfg.Server.Mode {
	case "docker":
		d, err := session.NewDocker(session.DockerConfig{
			Image:           cfg.Server.Image,
			ContainerPrefix: cfg.Server.ContainerPrefix,
			ServerType:      cfg.Server.ServerType,
			DataRoot:        homePath.ServersDir(),
			HostPort:        cfg.Server.Port,
			Password:        cfg.RCONPassword(),
			ReadyTimeout:    cfg.Server.ReadyTimeout,
			KeepContainer:   cfg.Server.KeepContainer,
			Logger:          logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return d, func() { _ = d.Close() }, nil
	case "static":
		return session.Static{
			Host:        cfg.Server.Host,
			Port:        cfg.Server.Port,
			Password:    cfg.RCONPassword(),
			ArtifactDir: cfg.Server.ArtifactDir,
			Logger:      logger,
		}, func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown server mode %q", cfg.Server.Mode)
}

func spacesOf(structures []scan.Structure) []string {
	var out []string
	seen := make(map[string]bool)
	for _, s := range structures {
		space := s.Dimension
		if space == "" {
			space = scan.DefaultSpace
		}
		if !seen[space] {
			seen[space] = true
			out = append(out, space)
		}
	}
	return out
}

var _ scan.Progress = (*progress.Printer)(nil)
