package scan

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/lootscan/internal/artifact"
	"github.com/jackzampolin/lootscan/internal/jobs"
	"github.com/jackzampolin/lootscan/internal/report"
)

type activeJob struct {
	target   report.Target
	id       string
	out      string
	deadline time.Time
}

// extractAll runs up to MaxPasses passes over targets. Targets that fail a
// pass are recorded as failures and retried in the next one.
func (c *Coordinator) extractAll(ctx context.Context, req Request, targets []report.Target, b *report.Builder) error {
	limit := min(MaxParallelJobs, max(1, req.ParallelJobs))
	pending := targets
	for pass := 1; pass <= MaxPasses && len(pending) > 0; pass++ {
		c.progress.Stage(fmt.Sprintf("extract pass %d/%d", pass, MaxPasses), len(pending))
		c.logger.Info("extraction pass", "pass", pass, "targets", len(pending), "parallel", limit)

		retry, err := c.runPass(ctx, req, pending, pass, limit, b)
		if err != nil {
			return err
		}
		pending = retry
	}
	if len(pending) > 0 {
		c.logger.Warn("targets unresolved after all passes", "count", len(pending))
	}
	return nil
}

func (c *Coordinator) runPass(ctx context.Context, req Request, targets []report.Target, pass, limit int, b *report.Builder) ([]report.Target, error) {
	queue := slices.Clone(targets)
	var (
		active []*activeJob
		retry  []report.Target
	)

	fail := func(t report.Target, err error) {
		reason := failureReason(err, pass)
		c.logger.Warn("target failed", "target", t.Key().String(), "reason", reason, "error", err)
		b.Fail(t, reason)
		retry = append(retry, t)
		c.progress.Advance(t.ID)
	}

	for len(queue) > 0 || len(active) > 0 {
		for len(queue) > 0 && len(active) < limit {
			t := queue[0]
			queue = queue[1:]

			job, err := c.launch(ctx, req, t, b)
			switch {
			case err != nil && !perTarget(err):
				return retry, err
			case err != nil:
				fail(t, err)
			case job != nil:
				active = append(active, job)
			default:
				c.progress.Advance(t.ID)
			}
		}
		if len(active) == 0 {
			continue
		}

		if err := sleep(ctx, c.opts.PollInterval); err != nil {
			return retry, err
		}

		still := active[:0]
		for _, job := range active {
			done, err := c.poll(ctx, job, b)
			switch {
			case err != nil && !perTarget(err):
				return retry, err
			case err != nil:
				fail(job.target, err)
			case done:
				c.progress.Advance(job.target.ID)
			default:
				still = append(still, job)
			}
		}
		active = still
	}
	return retry, nil
}

// launch starts a remote job for t. A nil job with a nil error means the
// legacy synchronous path already folded the result into b.
func (c *Coordinator) launch(ctx context.Context, req Request, t report.Target, b *report.Builder) (*activeJob, error) {
	out := path.Join("out", "scan-"+uuid.NewString()+".json")
	if err := c.store.Remove(out); err != nil {
		return nil, err
	}

	args := jobs.FormatStartArgs(jobs.Spec{
		Space:         t.Dimension,
		TargetID:      t.ID,
		CenterX:       t.X,
		CenterZ:       t.Z,
		Radius:        RegionRadius(t.ID, req.RegionRadius),
		OutPath:       out,
		Parallel:      req.ParallelRegions,
		ParallelCount: req.ParallelRegionCount,
	})

	resp, err := c.command(ctx, jobs.VerbExtractStart, args, c.opts.StartTimeout)
	switch {
	case err == nil:
		if id, ok := jobs.ParseJobID(resp); ok {
			c.logger.Debug("job started", "job_id", id, "target", t.Key().String())
			return &activeJob{target: t, id: id, out: out, deadline: time.Now().Add(c.opts.JobTimeout)}, nil
		}
		if reason, failed := failedReason(resp); failed {
			return nil, &JobFailedError{Reason: reason}
		}
		c.logger.Debug("start response is not a job handle, using legacy extract", "response", summarize(resp, 180))
	case errors.Is(err, ErrUnsupportedCommand):
		c.logger.Debug("start command unsupported, using legacy extract")
	default:
		return nil, asJobTimeout(ctx, err)
	}

	resp, err = c.command(ctx, jobs.VerbExtract, args, c.opts.LegacyTimeout)
	if err != nil {
		return nil, asJobTimeout(ctx, err)
	}
	if reason, failed := failedReason(resp); failed {
		return nil, &JobFailedError{Reason: reason}
	}
	return nil, c.consume(ctx, t, out, b)
}

// poll checks one job. It returns true once the job's result is folded in.
func (c *Coordinator) poll(ctx context.Context, job *activeJob, b *report.Builder) (bool, error) {
	if time.Now().After(job.deadline) {
		return false, fmt.Errorf("%w: job %s after %s", ErrJobTimeout, job.id, c.opts.JobTimeout)
	}

	resp, err := c.command(ctx, jobs.VerbExtractStatus, job.id, c.opts.StatusTimeout)
	if err != nil {
		return false, asJobTimeout(ctx, err)
	}
	st, err := jobs.ParseStatusLine(resp)
	if err != nil {
		c.logger.Debug("unrecognized status, still waiting", "job_id", job.id, "response", summarize(resp, 180))
		return false, nil
	}

	switch {
	case !st.Found:
		return false, &JobFailedError{JobID: job.id, Reason: jobs.StatusNotFound}
	case st.State == jobs.StateFailed:
		return false, &JobFailedError{JobID: job.id, Reason: st.Reason}
	case st.State == jobs.StateDone:
		return true, c.consume(ctx, job.target, job.out, b)
	}
	return false, nil
}

// consume waits for the artifact at out and folds it into b.
func (c *Coordinator) consume(ctx context.Context, t report.Target, out string, b *report.Builder) error {
	if err := c.store.Wait(ctx, out, c.opts.ArtifactTimeout); err != nil {
		return err
	}
	dump, err := c.store.ReadExtract(out)
	if err != nil {
		return err
	}
	if err := c.store.Remove(out); err != nil {
		c.logger.Debug("could not remove artifact", "path", out, "error", err)
	}

	artifact.SortContainers(dump.Chests)
	b.AddStats(dump.ChunkStats)
	b.Upsert(report.Entry{
		ID:         t.ID,
		Dimension:  t.Dimension,
		X:          t.X,
		Y:          t.Y,
		Z:          t.Z,
		ChunkStats: dump.ChunkStats,
		Chests:     dump.Chests,
	})
	c.logger.Debug("target extracted", "target", t.Key().String(), "chests", len(dump.Chests))
	return nil
}
