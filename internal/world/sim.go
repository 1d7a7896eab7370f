// Package world is a deterministic in-process world: seeded structure
// placement, an asynchronous region loader with configurable latency, and
// the handful of vanilla commands the scanner relies on.
package world

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/jackzampolin/lootscan/internal/artifact"
	"github.com/jackzampolin/lootscan/internal/jobs"
)

const (
	DefaultSpacing     = 512
	DefaultLoadLatency = 2
)

var lootItems = []string{
	"minecraft:bone",
	"minecraft:diamond",
	"minecraft:emerald",
	"minecraft:gold_ingot",
	"minecraft:iron_ingot",
	"minecraft:rotten_flesh",
	"minecraft:string",
	"minecraft:enchanted_book",
}

// Config configures a Sim.
type Config struct {
	Seed int64

	// Structures maps each dimension to the ids placed in it.
	Structures map[string][]string

	// Spacing is the edge of a placement cell in blocks.
	Spacing int

	// LoadLatency is how many polls a region load takes to resolve. Zero
	// means DefaultLoadLatency and a negative value resolves immediately.
	LoadLatency int

	// FailRegions always fail to load.
	FailRegions []jobs.RegionCoord

	Logger *slog.Logger
}

type regionKey struct {
	space string
	coord jobs.RegionCoord
}

type pendingLoad struct {
	key       regionKey
	remaining int
}

// Sim is a seeded world shared by every dimension view.
type Sim struct {
	place      placement
	structures map[string][]string
	latency    int
	fail       map[jobs.RegionCoord]bool
	logger     *slog.Logger

	mu        sync.Mutex
	loaded    map[regionKey]bool
	generated map[regionKey]bool
	pending   map[jobs.LoadHandle]*pendingLoad
	next      jobs.LoadHandle
}

// New creates a world.
func New(cfg Config) *Sim {
	structures := cfg.Structures
	if structures == nil {
		structures = DefaultStructures()
	}
	spacing := cfg.Spacing
	if spacing <= 0 {
		spacing = DefaultSpacing
	}
	latency := cfg.LoadLatency
	if latency < 0 {
		latency = 0
	} else if latency == 0 {
		latency = DefaultLoadLatency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fail := make(map[jobs.RegionCoord]bool, len(cfg.FailRegions))
	for _, c := range cfg.FailRegions {
		fail[c] = true
	}

	return &Sim{
		place:      placement{seed: cfg.Seed, spacing: spacing},
		structures: structures,
		latency:    latency,
		fail:       fail,
		logger:     logger,
		loaded:     make(map[regionKey]bool),
		generated:  make(map[regionKey]bool),
		pending:    make(map[jobs.LoadHandle]*pendingLoad),
	}
}

// Spaces returns the dimensions of the world, sorted.
func (s *Sim) Spaces() []string {
	out := make([]string, 0, len(s.structures))
	for space := range s.structures {
		out = append(out, space)
	}
	sort.Strings(out)
	return out
}

// World returns the view of one dimension.
func (s *Sim) World(space string) (jobs.World, bool) {
	if _, ok := s.structures[space]; !ok {
		return nil, false
	}
	return &dimension{sim: s, space: space}, true
}

// Variants implements jobs.Locator.
func (s *Sim) Variants(id string) []string {
	if id == VillageID {
		return slices.Clone(villageVariants)
	}
	for _, ids := range s.structures {
		if slices.Contains(ids, id) {
			return []string{id}
		}
	}
	return nil
}

// LocateNearest implements jobs.Locator.
func (s *Sim) LocateNearest(space, id string, x, z, searchRadius int) (jobs.Position, bool) {
	if !slices.Contains(s.structures[space], id) {
		return jobs.Position{}, false
	}

	reach := searchRadius * jobs.RegionSize
	minX, minZ := s.place.cellOf(x-reach, z-reach)
	maxX, maxZ := s.place.cellOf(x+reach, z+reach)

	var (
		best  jobs.Position
		bestD = -1
	)
	for cx := minX; cx <= maxX; cx++ {
		for cz := minZ; cz <= maxZ; cz++ {
			pos, ok := s.place.start(space, id, cx, cz)
			if !ok {
				continue
			}
			dx, dz := pos.X-x, pos.Z-z
			if dx > reach || dx < -reach || dz > reach || dz < -reach {
				continue
			}
			if d := dx*dx + dz*dz; bestD < 0 || d < bestD {
				best, bestD = pos, d
			}
		}
	}
	return best, bestD >= 0
}

// StartsIn lists the starts of id in space within radius of the center.
func (s *Sim) StartsIn(space, id string, centerX, centerZ, radius int) []jobs.Position {
	minX, minZ := s.place.cellOf(centerX-radius, centerZ-radius)
	maxX, maxZ := s.place.cellOf(centerX+radius, centerZ+radius)

	var out []jobs.Position
	for cx := minX; cx <= maxX; cx++ {
		for cz := minZ; cz <= maxZ; cz++ {
			pos, ok := s.place.start(space, id, cx, cz)
			if !ok {
				continue
			}
			dx, dz := pos.X-centerX, pos.Z-centerZ
			if dx*dx+dz*dz <= radius*radius {
				out = append(out, pos)
			}
		}
	}
	return out
}

// dimension is the jobs.World of one space.
type dimension struct {
	sim   *Sim
	space string
}

func (d *dimension) key(c jobs.RegionCoord) regionKey {
	return regionKey{space: d.space, coord: c}
}

func (d *dimension) IsLoaded(c jobs.RegionCoord) bool {
	d.sim.mu.Lock()
	defer d.sim.mu.Unlock()
	return d.sim.loaded[d.key(c)]
}

func (d *dimension) IsGenerated(c jobs.RegionCoord) bool {
	d.sim.mu.Lock()
	defer d.sim.mu.Unlock()
	return d.sim.generated[d.key(c)]
}

func (d *dimension) RequestLoad(c jobs.RegionCoord) jobs.LoadHandle {
	d.sim.mu.Lock()
	defer d.sim.mu.Unlock()

	d.sim.next++
	remaining := d.sim.latency
	if d.sim.loaded[d.key(c)] {
		remaining = 0
	}
	d.sim.pending[d.sim.next] = &pendingLoad{key: d.key(c), remaining: remaining}
	return d.sim.next
}

func (d *dimension) TryResolve(h jobs.LoadHandle) (*jobs.LoadedRegion, bool) {
	d.sim.mu.Lock()
	defer d.sim.mu.Unlock()

	p, ok := d.sim.pending[h]
	if !ok {
		return nil, true
	}
	if p.remaining > 0 {
		p.remaining--
		return nil, false
	}
	delete(d.sim.pending, h)

	if d.sim.fail[p.key.coord] {
		d.sim.logger.Debug("region load failed", "space", p.key.space, "region", p.key.coord.String())
		return nil, true
	}
	d.sim.loaded[p.key] = true
	d.sim.generated[p.key] = true
	return &jobs.LoadedRegion{Coord: p.key.coord}, true
}

// Harvest returns the containers of every start that lies in region c.
func (d *dimension) Harvest(c jobs.RegionCoord) ([]artifact.Container, error) {
	d.sim.mu.Lock()
	loaded := d.sim.loaded[d.key(c)]
	d.sim.mu.Unlock()
	if !loaded {
		return nil, fmt.Errorf("region %s of %s is not loaded", c, d.space)
	}

	cx, cz := c.Center()
	cellX, cellZ := d.sim.place.cellOf(cx, cz)

	var out []artifact.Container
	for _, id := range d.sim.structures[d.space] {
		pos, ok := d.sim.place.start(d.space, id, cellX, cellZ)
		if !ok || jobs.RegionOf(pos.X, pos.Z) != c {
			continue
		}
		out = append(out, d.sim.containersAt(d.space, id, pos, cellX, cellZ)...)
	}
	return out, nil
}

func (s *Sim) containersAt(space, id string, pos jobs.Position, cellX, cellZ int) []artifact.Container {
	h := s.place.hash(space, id+"#loot", cellX, cellZ)
	n := 1 + int(h%3)

	out := make([]artifact.Container, 0, n)
	for i := 0; i < n; i++ {
		block := "minecraft:chest"
		if i%2 == 1 {
			block = "minecraft:barrel"
		}

		ih := s.place.hash(space, id, cellX*31+i, cellZ*17-i)
		items := make([]artifact.Item, 0, 4)
		for slot := 0; slot < 1+int(ih%4); slot++ {
			items = append(items, artifact.Item{
				Slot:  slot * 3,
				ID:    lootItems[int((ih>>(8*slot+4))%uint64(len(lootItems)))],
				Count: 1 + int((ih>>(8*slot))%16),
			})
		}
		c := artifact.Container{
			X:         pos.X,
			Y:         pos.Y - i,
			Z:         pos.Z,
			BlockID:   block,
			LootTable: lootTableFor(id),
			Items:     items,
		}
		// barrels are filled on generation and keep no seed
		if block == "minecraft:chest" {
			seed := int64(ih >> 1)
			c.LootTableSeed = &seed
		}
		out = append(out, c)
	}
	return out
}
