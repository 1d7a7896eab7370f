// Package jobs runs region extraction jobs on the game server side: a
// tick-driven state machine per job, a scheduler that owns all jobs, and the
// RCON command surface that starts and reports on them.
package jobs

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jackzampolin/lootscan/internal/artifact"
)

// State is the lifecycle state of an extraction job.
type State string

const (
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// Failure reasons reported in status lines.
const (
	ReasonTimeout      = "job_timeout"
	ReasonLoadFailed   = "chunk_load_failed"
	ReasonHarvest      = "harvest_failed"
	ReasonWriteFailed  = "write_failed"
	ReasonInvalidInput = "invalid_number"
)

const (
	// DefaultMaxTicks is the tick budget of a job (60s at 20 ticks/s).
	DefaultMaxTicks = 20 * 60

	DefaultInFlight = 4
	MaxInFlight     = 12

	// SettleTicks is how many idle ticks a job waits after its last load
	// before harvesting.
	SettleTicks = 2

	// MinRadius is the smallest region radius a job accepts.
	MinRadius = 2

	// AttachRadius bounds the block distance from the target center at
	// which a container is attributed to the target.
	AttachRadius = 256
)

// Spec describes what to extract.
type Spec struct {
	Space    string
	TargetID string
	CenterX  int
	CenterZ  int
	Radius   int
	OutPath  string

	Parallel      bool
	ParallelCount int
}

// Concurrency returns the in-flight region cap.
func (s Spec) Concurrency() int {
	if !s.Parallel {
		return 1
	}
	n := s.ParallelCount
	if n <= 0 {
		n = DefaultInFlight
	}
	if n > MaxInFlight {
		n = MaxInFlight
	}
	return n
}

// JobConfig configures a Job.
type JobConfig struct {
	ID        string
	Spec      Spec
	Loader    RegionLoader
	Harvester Harvester

	// Publish receives the finished dump. An error fails the job with
	// ReasonWriteFailed.
	Publish func(*artifact.ExtractDump) error

	MaxTicks int
	Logger   *slog.Logger
}

type inFlightLoad struct {
	coord        RegionCoord
	handle       LoadHandle
	wasLoaded    bool
	wasGenerated bool
}

// Job is one extraction. It is not safe for concurrent use; the scheduler
// goroutine is its only caller.
type Job struct {
	id        string
	spec      Spec
	loader    RegionLoader
	harvester Harvester
	publish   func(*artifact.ExtractDump) error
	logger    *slog.Logger

	maxInFlight int
	maxTicks    int

	pending   []RegionCoord
	requested []RegionCoord
	inFlight  []inFlightLoad
	total     int
	completed int
	settle    int
	ticks     int
	harvested bool

	state      State
	reason     string
	stats      artifact.RegionStats
	result     *artifact.ExtractDump
	startedAt  time.Time
	finishedAt time.Time
}

// NewJob builds a job in the running state with its region queue filled.
func NewJob(cfg JobConfig) *Job {
	spec := cfg.Spec
	if spec.Radius < MinRadius {
		spec.Radius = MinRadius
	}
	maxTicks := cfg.MaxTicks
	if maxTicks <= 0 {
		maxTicks = DefaultMaxTicks
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pending := Square(RegionOf(spec.CenterX, spec.CenterZ), spec.Radius)
	return &Job{
		id:          cfg.ID,
		spec:        spec,
		loader:      cfg.Loader,
		harvester:   cfg.Harvester,
		publish:     cfg.Publish,
		logger:      logger.With("job_id", cfg.ID, "target", spec.TargetID),
		maxInFlight: spec.Concurrency(),
		maxTicks:    maxTicks,
		pending:     pending,
		total:       len(pending),
		settle:      SettleTicks,
		state:       StateRunning,
		startedAt:   time.Now(),
	}
}

func (j *Job) ID() string { return j.id }
func (j *Job) Spec() Spec { return j.spec }
func (j *Job) State() State { return j.state }
func (j *Job) Reason() string { return j.reason }
func (j *Job) Progress() (completed, total int) { return j.completed, j.total }
func (j *Job) InFlight() int { return len(j.inFlight) }
func (j *Job) Pending() int { return len(j.pending) }
func (j *Job) Ticks() int { return j.ticks }
func (j *Job) FinishedAt() time.Time { return j.finishedAt }

// Result returns the published dump of a done job.
func (j *Job) Result() *artifact.ExtractDump { return j.result }

// Terminal reports whether the job reached done or failed.
func (j *Job) Terminal() bool { return j.state != StateRunning }

// Tick advances the job by one scheduler tick. Terminal jobs ignore ticks.
func (j *Job) Tick() {
	if j.state != StateRunning {
		return
	}

	j.ticks++
	if j.ticks > j.maxTicks {
		j.fail(ReasonTimeout)
		return
	}

	if !j.reap() {
		return
	}

	if len(j.pending) == 0 && len(j.inFlight) == 0 {
		if j.settle > 0 {
			j.settle--
			return
		}
		j.finish()
		return
	}

	for len(j.pending) > 0 && len(j.inFlight) < j.maxInFlight {
		c := j.pending[0]
		j.pending = j.pending[1:]
		j.inFlight = append(j.inFlight, inFlightLoad{
			coord:        c,
			wasLoaded:    j.loader.IsLoaded(c),
			wasGenerated: j.loader.IsGenerated(c),
			handle:       j.loader.RequestLoad(c),
		})
		j.requested = append(j.requested, c)
		j.stats.Requested++
	}
}

// reap collects finished loads. It returns false if the job failed.
func (j *Job) reap() bool {
	kept := j.inFlight[:0]
	for _, load := range j.inFlight {
		region, ready := j.loader.TryResolve(load.handle)
		if !ready {
			kept = append(kept, load)
			continue
		}
		if region == nil {
			j.inFlight = nil
			j.fail(ReasonLoadFailed)
			return false
		}
		switch {
		case load.wasLoaded:
			j.stats.AlreadyLoaded++
		case j.loader.IsLoaded(load.coord):
			j.stats.NewlyLoaded++
		}
		switch {
		case load.wasGenerated:
			j.stats.AlreadyGenerated++
		case j.loader.IsGenerated(load.coord):
			j.stats.NewlyGenerated++
		}
		j.completed++
	}
	j.inFlight = kept
	return true
}

func (j *Job) finish() {
	if j.harvested {
		return
	}
	j.harvested = true

	var chests []artifact.Container
	limit := AttachRadius * AttachRadius
	for _, c := range j.requested {
		found, err := j.harvester.Harvest(c)
		if err != nil {
			j.logger.Warn("harvest failed", "region", c.String(), "error", err)
			j.fail(ReasonHarvest)
			return
		}
		for _, box := range found {
			if !artifact.IsContainerBlock(box.BlockID) {
				continue
			}
			dx, dz := box.X-j.spec.CenterX, box.Z-j.spec.CenterZ
			if dx*dx+dz*dz > limit {
				continue
			}
			chests = append(chests, box)
		}
	}
	artifact.SortContainers(chests)
	if chests == nil {
		chests = []artifact.Container{}
	}

	dump := &artifact.ExtractDump{
		Dimension:  j.spec.Space,
		TargetID:   j.spec.TargetID,
		CenterX:    j.spec.CenterX,
		CenterZ:    j.spec.CenterZ,
		Radius:     j.spec.Radius,
		ChunkStats: j.stats,
		Chests:     chests,
	}
	if j.publish != nil {
		if err := j.publish(dump); err != nil {
			j.logger.Warn("publish failed", "path", j.spec.OutPath, "error", err)
			j.fail(ReasonWriteFailed)
			return
		}
	}

	j.result = dump
	j.state = StateDone
	j.finishedAt = time.Now()
	j.logger.Info("extraction done", "regions", j.completed, "chests", len(chests), "ticks", j.ticks)
}

func (j *Job) fail(reason string) {
	j.state = StateFailed
	j.reason = reason
	j.finishedAt = time.Now()
	j.logger.Warn("extraction failed", "reason", reason, "completed", j.completed, "total", j.total)
}

// Status snapshots the job.
func (j *Job) Status() JobStatus {
	return JobStatus{
		ID:        j.id,
		State:     j.state,
		Reason:    j.reason,
		Completed: j.completed,
		Total:     j.total,
		OutPath:   j.spec.OutPath,
		Found:     true,
	}
}

func (j *Job) String() string {
	return fmt.Sprintf("job %s (%s %d/%d)", j.id, j.state, j.completed, j.total)
}
