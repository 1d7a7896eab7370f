// Package scan drives a structure scan over RCON: it discovers targets,
// runs remote extraction jobs with bounded concurrency and retry passes, and
// folds their artifacts into a report.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jackzampolin/lootscan/internal/artifact"
	"github.com/jackzampolin/lootscan/internal/jobs"
	"github.com/jackzampolin/lootscan/internal/report"
)

const (
	// MaxPasses bounds how often a target is attempted.
	MaxPasses = 3

	// MaxParallelJobs caps outstanding remote jobs.
	MaxParallelJobs = 8

	// DefaultSpace is used for structures without a dimension.
	DefaultSpace = "minecraft:overworld"

	DefaultLocateStep = 512

	// Bulk discovery is only attempted for small requests.
	bulkMaxStructures = 3
	bulkMaxWorkUnits  = 1200
)

// Defaults for Options timings.
const (
	DefaultPollInterval    = 200 * time.Millisecond
	DefaultStartTimeout    = 8 * time.Second
	DefaultStatusTimeout   = 12 * time.Second
	DefaultLegacyTimeout   = 20 * time.Second
	DefaultJobTimeout      = 90 * time.Second
	DefaultArtifactTimeout = 30 * time.Second
)

// Executor issues RCON commands.
type Executor interface {
	Execute(ctx context.Context, command string) (string, error)
	ExecuteOnce(ctx context.Context, command string, timeout time.Duration) (string, error)
}

// Progress receives scan progress.
type Progress interface {
	Stage(name string, total int)
	Advance(label string)
	Log(msg string)
}

type nopProgress struct{}

func (nopProgress) Stage(string, int) {}
func (nopProgress) Advance(string)    {}
func (nopProgress) Log(string)        {}

// Structure is a requested structure id in a dimension.
type Structure struct {
	ID        string `validate:"required"`
	Dimension string
}

func (s Structure) space() string {
	if s.Dimension == "" {
		return DefaultSpace
	}
	return s.Dimension
}

// Request describes one scan.
type Request struct {
	Seed         int64
	WorldVersion string

	CenterX    int
	CenterZ    int
	Radius     int         `validate:"gt=0"`
	Structures []Structure `validate:"min=1,dive"`

	// LocateStep is the sample grid step for discovery.
	LocateStep int `validate:"gte=0"`

	// RegionRadius is the requested extraction radius in regions.
	RegionRadius        int `validate:"gte=0"`
	ParallelRegions     bool
	ParallelRegionCount int `validate:"gte=0,lte=12"`

	// ParallelJobs is the outstanding remote job limit.
	ParallelJobs int `validate:"gte=0"`

	// MaxTargets truncates the sorted target list when positive.
	MaxTargets int `validate:"gte=0"`

	// DatapackHashes are content hashes of the world's datapacks.
	DatapackHashes []string

	// Resume holds successful entries of a prior run.
	Resume map[report.Key]report.Entry
}

// Options configures a Coordinator.
type Options struct {
	Client Executor
	Store  *artifact.Store

	// Cache stores discovery results. Nil disables caching.
	Cache *Cache

	Namespace string

	PollInterval    time.Duration
	StartTimeout    time.Duration
	StatusTimeout   time.Duration
	LegacyTimeout   time.Duration
	JobTimeout      time.Duration
	ArtifactTimeout time.Duration

	Progress Progress
	Logger   *slog.Logger
}

// Coordinator runs scans. It is not safe for concurrent Runs.
type Coordinator struct {
	opts     Options
	client   Executor
	store    *artifact.Store
	ns       string
	progress Progress
	logger   *slog.Logger
	validate *validator.Validate

	// aliased records verbs that only answer under the namespace.
	aliased map[string]bool
}

// New creates a coordinator.
func New(opts Options) *Coordinator {
	setDuration(&opts.PollInterval, DefaultPollInterval)
	setDuration(&opts.StartTimeout, DefaultStartTimeout)
	setDuration(&opts.StatusTimeout, DefaultStatusTimeout)
	setDuration(&opts.LegacyTimeout, DefaultLegacyTimeout)
	setDuration(&opts.JobTimeout, DefaultJobTimeout)
	setDuration(&opts.ArtifactTimeout, DefaultArtifactTimeout)

	ns := opts.Namespace
	if ns == "" {
		ns = jobs.DefaultNamespace
	}
	progress := opts.Progress
	if progress == nil {
		progress = nopProgress{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		opts:     opts,
		client:   opts.Client,
		store:    opts.Store,
		ns:       ns,
		progress: progress,
		logger:   logger,
		validate: validator.New(),
		aliased:  make(map[string]bool),
	}
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}

// Run executes a scan. The returned report is always non-nil once the
// request validated: on a fatal error it holds whatever was collected, with
// every unfinished target recorded as a failure.
func (c *Coordinator) Run(ctx context.Context, req Request) (*report.ScanReport, error) {
	if err := c.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid scan request: %w", err)
	}
	if req.LocateStep <= 0 {
		req.LocateStep = DefaultLocateStep
	}
	if req.RegionRadius <= 0 {
		req.RegionRadius = jobs.MinRadius
	}

	rep := &report.ScanReport{
		Seed:         req.Seed,
		WorldVersion: req.WorldVersion,
		CenterX:      req.CenterX,
		CenterZ:      req.CenterZ,
		Radius:       req.Radius,
	}
	b := report.NewBuilder(rep)

	found, err := c.discover(ctx, req)
	if err != nil {
		return rep, fmt.Errorf("discovery: %w", err)
	}
	rep.DiscoveryCached = found.cached
	rep.LocateSampleCount = found.samples

	targets := found.targets
	report.SortTargets(targets, req.CenterX, req.CenterZ)
	if req.MaxTargets > 0 && len(targets) > req.MaxTargets {
		targets = targets[:req.MaxTargets]
	}
	rep.Targets = len(targets)
	c.logger.Info("targets discovered", "count", len(targets), "cached", found.cached)

	var pending []report.Target
	for _, t := range targets {
		if e, ok := req.Resume[t.Key()]; ok && e.Succeeded() {
			b.Upsert(e)
			b.AddStats(e.ChunkStats)
			rep.Resumed++
			continue
		}
		pending = append(pending, t)
	}
	if rep.Resumed > 0 {
		c.logger.Info("resumed prior results", "count", rep.Resumed)
	}

	runErr := c.extractAll(ctx, req, pending, b)

	// unresolved: anything without a successful entry
	index := make(map[report.Key]report.Entry, b.Len())
	for _, e := range rep.Structures {
		index[e.Key()] = e
	}
	for _, t := range pending {
		e, ok := index[t.Key()]
		if ok && e.Succeeded() {
			continue
		}
		if !ok {
			b.Fail(t, "not attempted: "+errString(runErr))
		}
		rep.Unresolved = append(rep.Unresolved, t.Key().String())
	}

	report.SortEntries(rep.Structures, req.CenterX, req.CenterZ)
	if runErr != nil {
		return rep, fmt.Errorf("extraction: %w", runErr)
	}
	return rep, nil
}

func errString(err error) string {
	if err == nil {
		return "unknown"
	}
	return err.Error()
}

// command sends "verb args", retrying under the namespaced alias when the
// server does not know the plain verb. A timeout of zero uses the client's
// default read timeout.
func (c *Coordinator) command(ctx context.Context, verb, args string, timeout time.Duration) (string, error) {
	line := verb
	if args != "" {
		line += " " + args
	}
	alias := c.ns + ":" + line

	if !c.aliased[verb] {
		resp, err := c.exec(ctx, line, timeout)
		if err != nil {
			return "", err
		}
		if !LooksUnknown(resp) {
			return resp, nil
		}
	}

	resp, err := c.exec(ctx, alias, timeout)
	if err != nil {
		return "", err
	}
	if LooksUnknown(resp) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedCommand, verb)
	}
	if !c.aliased[verb] {
		c.logger.Debug("using namespaced command", "verb", verb, "namespace", c.ns)
		c.aliased[verb] = true
	}
	return resp, nil
}

func (c *Coordinator) exec(ctx context.Context, line string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		return c.client.Execute(ctx, line)
	}
	return c.client.ExecuteOnce(ctx, line, timeout)
}

// failedReason returns the reason of a "failed <reason>" response.
func failedReason(resp string) (string, bool) {
	resp = strings.TrimSpace(resp)
	rest, ok := strings.CutPrefix(resp, "failed")
	if !ok {
		return "", false
	}
	if rest = strings.TrimSpace(rest); rest == "" {
		rest = "unknown"
	}
	return rest, true
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
