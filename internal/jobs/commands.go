package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/jackzampolin/lootscan/internal/artifact"
	"github.com/jackzampolin/lootscan/internal/rcon"
)

// Additional failure reasons of the command surface.
const (
	ReasonWorldNotFound = "world_not_found"
	ReasonInvalidPath   = "invalid_path"
)

// CommandsConfig configures the RCON command surface.
type CommandsConfig struct {
	Scheduler *Scheduler
	Worlds    Worlds
	Locator   Locator
	Store     *artifact.Store

	// Namespace prefixes the aliased verbs, e.g. "lootscan:extract_start".
	Namespace string

	// Fallback receives commands that are not ours.
	Fallback rcon.Handler

	MaxTicks int
	Logger   *slog.Logger
}

// Commands serves the extraction verbs over RCON.
type Commands struct {
	cfg    CommandsConfig
	ns     string
	logger *slog.Logger
}

// NewCommands builds the command surface.
func NewCommands(cfg CommandsConfig) *Commands {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	return &Commands{cfg: cfg, ns: ns, logger: logger}
}

var _ rcon.Handler = (*Commands)(nil)

// HandleCommand dispatches one command line.
func (c *Commands) HandleCommand(ctx context.Context, line string) string {
	line = strings.TrimPrefix(strings.TrimSpace(line), "/")
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}

	verb := fields[0]
	if ns, rest, ok := strings.Cut(verb, ":"); ok && ns == c.ns {
		verb = rest
	}
	args := fields[1:]

	switch verb {
	case VerbExtractStart:
		return c.start(ctx, args, false)
	case VerbExtract:
		return c.start(ctx, args, true)
	case VerbExtractStatus:
		return c.status(ctx, args)
	case VerbDiscover:
		return c.discover(ctx, args)
	}

	if c.cfg.Fallback != nil {
		return c.cfg.Fallback.HandleCommand(ctx, line)
	}
	return "Unknown command: " + fields[0]
}

func (c *Commands) start(ctx context.Context, args []string, legacy bool) string {
	spec, err := ParseStartArgs(args)
	if err != nil {
		return usageOrFailure(err)
	}
	world, ok := c.cfg.Worlds.World(spec.Space)
	if !ok {
		return "failed " + ReasonWorldNotFound
	}
	out, err := artifact.Clean(spec.OutPath)
	if err != nil {
		return "failed " + ReasonInvalidPath
	}
	spec.OutPath = out

	if err := c.cfg.Store.Remove(out); err != nil {
		c.logger.Warn("could not clear stale artifact", "path", out, "error", err)
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	job := NewJob(JobConfig{
		ID:        id,
		Spec:      spec,
		Loader:    world,
		Harvester: world,
		Publish: func(d *artifact.ExtractDump) error {
			return c.cfg.Store.WriteJSON(out, d)
		},
		MaxTicks: c.cfg.MaxTicks,
		Logger:   c.logger,
	})
	if err := c.cfg.Scheduler.Submit(ctx, job); err != nil {
		c.logger.Error("submit failed", "error", err)
		return "failed " + err.Error()
	}

	if legacy {
		return "extract started " + JobIDPrefix + id
	}
	return JobIDPrefix + id
}

func (c *Commands) status(ctx context.Context, args []string) string {
	if len(args) < 1 {
		return "Usage: " + VerbExtractStatus + " <jobId>"
	}
	st, err := c.cfg.Scheduler.Status(ctx, args[0])
	if err != nil {
		return "failed " + err.Error()
	}
	return st.Line()
}

func (c *Commands) discover(ctx context.Context, args []string) string {
	req, err := ParseDiscoverArgs(args)
	if err != nil {
		return usageOrFailure(err)
	}
	if _, ok := c.cfg.Worlds.World(req.Space); !ok {
		return "failed " + ReasonWorldNotFound
	}
	if c.cfg.Locator == nil {
		return "Unknown command: " + VerbDiscover
	}

	starts, err := call(ctx, c.cfg.Scheduler, func() []artifact.DiscoveredStart {
		return Discover(c.cfg.Locator, req)
	})
	if err != nil {
		return "failed " + err.Error()
	}

	dump := &artifact.DiscoverDump{
		Dimension: req.Space,
		CenterX:   req.CenterX,
		CenterZ:   req.CenterZ,
		Radius:    req.Radius,
		Starts:    starts,
	}
	if dump.Starts == nil {
		dump.Starts = []artifact.DiscoveredStart{}
	}
	if err := c.cfg.Store.WriteJSON(req.OutPath, dump); err != nil {
		c.logger.Warn("discover write failed", "path", req.OutPath, "error", err)
		return "failed " + ReasonWriteFailed
	}

	c.logger.Info("discover done", "space", req.Space, "ids", len(req.IDs), "starts", len(starts))
	return fmt.Sprintf("discover wrote %s starts=%d", req.OutPath, len(starts))
}

func usageOrFailure(err error) string {
	if errors.Is(err, ErrInvalidNumber) {
		return "failed " + ReasonInvalidInput
	}
	return "Usage: " + strings.TrimPrefix(err.Error(), ErrUsage.Error()+": ")
}
