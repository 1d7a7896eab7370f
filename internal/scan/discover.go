package scan

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"

	"github.com/google/uuid"

	"github.com/jackzampolin/lootscan/internal/jobs"
	"github.com/jackzampolin/lootscan/internal/report"
)

const maxUnparsedLogged = 3

type discovery struct {
	targets []report.Target
	cached  bool
	samples int
}

type spaceGroup struct {
	space string
	ids   []string
}

// groupBySpace groups ids per dimension, deduplicated, dimensions in
// report priority order.
func groupBySpace(structures []Structure) []spaceGroup {
	index := make(map[string]int)
	var groups []spaceGroup
	for _, s := range structures {
		space := s.space()
		i, ok := index[space]
		if !ok {
			i = len(groups)
			index[space] = i
			groups = append(groups, spaceGroup{space: space})
		}
		g := &groups[i]
		dup := false
		for _, id := range g.ids {
			if id == s.ID {
				dup = true
				break
			}
		}
		if !dup {
			g.ids = append(g.ids, s.ID)
		}
	}
	sort.SliceStable(groups, func(i, j int) bool {
		pi, pj := report.SpacePriority(groups[i].space), report.SpacePriority(groups[j].space)
		if pi != pj {
			return pi < pj
		}
		return groups[i].space < groups[j].space
	})
	return groups
}

// useBulk reports whether a group is small enough for bulk discovery and
// has no id that needs the variant fallback.
func useBulk(ids []string, samples int) bool {
	if len(ids) == 0 || len(ids) > bulkMaxStructures || len(ids)*samples > bulkMaxWorkUnits {
		return false
	}
	for _, id := range ids {
		if id == VillageID {
			return false
		}
	}
	return true
}

func (c *Coordinator) discover(ctx context.Context, req Request) (discovery, error) {
	samples := jobs.SamplePoints(req.CenterX, req.CenterZ, req.Radius, req.LocateStep)
	fp := Fingerprint(FingerprintInput{
		WorldVersion: req.WorldVersion,
		Seed:         req.Seed,
		CenterX:      req.CenterX,
		CenterZ:      req.CenterZ,
		Radius:       req.Radius,
		LocateStep:   req.LocateStep,
		Structures:   req.Structures,
		Datapacks:    req.DatapackHashes,
	})

	if c.opts.Cache != nil {
		if targets, ok := c.opts.Cache.Load(fp); ok {
			c.progress.Log(fmt.Sprintf("discovery cache hit (%d targets)", len(targets)))
			return discovery{targets: targets, cached: true, samples: len(samples)}, nil
		}
	}

	var all []report.Target
	for _, g := range groupBySpace(req.Structures) {
		found, err := c.discoverSpace(ctx, req, g, samples)
		if err != nil {
			return discovery{}, fmt.Errorf("%s: %w", g.space, err)
		}
		all = append(all, found...)
	}

	if c.opts.Cache != nil {
		if err := c.opts.Cache.Save(fp, all); err != nil {
			c.logger.Warn("could not save discovery cache", "error", err)
		}
	}
	return discovery{targets: all, samples: len(samples)}, nil
}

func (c *Coordinator) discoverSpace(ctx context.Context, req Request, g spaceGroup, samples []jobs.Point) ([]report.Target, error) {
	if useBulk(g.ids, len(samples)) {
		found, err := c.discoverBulk(ctx, req, g)
		if err == nil {
			return found, nil
		}
		if !errors.Is(err, ErrDiscoveryUnavailable) {
			return nil, err
		}
		c.logger.Info("bulk discovery unavailable, sampling", "space", g.space, "reason", err)
	}
	return c.discoverSampling(ctx, req, g, samples)
}

// discoverBulk asks the server to sweep the area itself and write the
// starts to an artifact.
func (c *Coordinator) discoverBulk(ctx context.Context, req Request, g spaceGroup) ([]report.Target, error) {
	out := path.Join("discover", "discover-"+uuid.NewString()+".json")
	if err := c.store.Remove(out); err != nil {
		return nil, err
	}

	c.progress.Stage("discover "+g.space, 0)
	resp, err := c.command(ctx, jobs.VerbDiscover, jobs.FormatDiscoverArgs(jobs.DiscoverRequest{
		Space:   g.space,
		CenterX: req.CenterX,
		CenterZ: req.CenterZ,
		Radius:  req.Radius,
		Step:    req.LocateStep,
		OutPath: out,
		IDs:     g.ids,
	}), 0)
	if errors.Is(err, ErrUnsupportedCommand) {
		return nil, fmt.Errorf("%w: %v", ErrDiscoveryUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	if reason, failed := failedReason(resp); failed {
		return nil, fmt.Errorf("%w: server reported %s", ErrDiscoveryUnavailable, reason)
	}

	if err := c.store.Wait(ctx, out, c.opts.ArtifactTimeout); err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrDiscoveryUnavailable, err)
	}
	dump, err := c.store.ReadDiscover(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscoveryUnavailable, err)
	}
	if err := c.store.Remove(out); err != nil {
		c.logger.Debug("could not remove discovery artifact", "path", out, "error", err)
	}
	if len(dump.Starts) == 0 {
		return nil, fmt.Errorf("%w: no starts returned", ErrDiscoveryUnavailable)
	}

	targets := make([]report.Target, 0, len(dump.Starts))
	for _, s := range dump.Starts {
		targets = append(targets, report.Target{ID: s.ID, Dimension: g.space, X: s.X, Y: s.Y, Z: s.Z})
	}
	c.logger.Info("bulk discovery done", "space", g.space, "starts", len(targets))
	return targets, nil
}

type sweep struct {
	space    string
	radius   int
	centerX  int
	centerZ  int
	seen     map[string]struct{}
	found    []report.Target
	unparsed int
}

// discoverSampling issues one positioned locate per id and sample point.
func (c *Coordinator) discoverSampling(ctx context.Context, req Request, g spaceGroup, samples []jobs.Point) ([]report.Target, error) {
	sw := &sweep{
		space:   g.space,
		radius:  req.Radius,
		centerX: req.CenterX,
		centerZ: req.CenterZ,
		seen:    make(map[string]struct{}),
	}

	c.progress.Stage("locate "+g.space, len(g.ids)*len(samples))
	for _, id := range g.ids {
		hits, err := c.sweepID(ctx, sw, id, id, samples)
		if err != nil {
			return nil, err
		}
		if hits == 0 && id == VillageID {
			c.logger.Info("no village hits, probing variants", "space", g.space)
			for _, variant := range VillageVariants {
				if _, err := c.sweepID(ctx, sw, variant, VillageID, samples); err != nil {
					return nil, err
				}
			}
		}
	}

	if sw.unparsed > 0 {
		c.logger.Warn("unparsed locate responses", "space", g.space, "count", sw.unparsed)
	}
	c.logger.Info("sampling discovery done", "space", g.space, "starts", len(sw.found), "samples", len(samples))
	return sw.found, nil
}

func (c *Coordinator) sweepID(ctx context.Context, sw *sweep, locateID, recordID string, samples []jobs.Point) (int, error) {
	hits := 0
	r2 := sw.radius * sw.radius
	for _, p := range samples {
		resp, err := c.client.Execute(ctx, LocateCommand(sw.space, p, locateID))
		if err != nil {
			return hits, fmt.Errorf("locate %s: %w", locateID, err)
		}
		c.progress.Advance(recordID)

		pos, ok := ParseLocate(resp)
		if !ok {
			if sw.unparsed < maxUnparsedLogged {
				c.logger.Debug("unparsed locate response", "id", locateID, "response", summarize(resp, 180))
			}
			sw.unparsed++
			continue
		}

		dx, dz := pos.X-sw.centerX, pos.Z-sw.centerZ
		if dx*dx+dz*dz > r2 {
			continue
		}
		key := fmt.Sprintf("%s|%d|%d", recordID, pos.X>>4, pos.Z>>4)
		if _, dup := sw.seen[key]; dup {
			continue
		}
		sw.seen[key] = struct{}{}
		sw.found = append(sw.found, report.Target{ID: recordID, Dimension: sw.space, X: pos.X, Y: pos.Y, Z: pos.Z})
		hits++
	}
	return hits, nil
}
