package jobs

import (
	"fmt"

	"github.com/jackzampolin/lootscan/internal/artifact"
)

// RegionSize is the edge length of a region in blocks.
const RegionSize = 16

// RegionCoord addresses a region on the world grid.
type RegionCoord struct {
	X, Z int
}

func (c RegionCoord) String() string {
	return fmt.Sprintf("%d,%d", c.X, c.Z)
}

// RegionOf returns the region containing the block at (x, z).
func RegionOf(x, z int) RegionCoord {
	return RegionCoord{X: floorDiv(x, RegionSize), Z: floorDiv(z, RegionSize)}
}

// Center returns the block at the middle of the region.
func (c RegionCoord) Center() (x, z int) {
	return c.X*RegionSize + RegionSize/2, c.Z*RegionSize + RegionSize/2
}

// Square returns every region within radius of center on both axes, in
// row-major order starting at the lowest x and z.
func Square(center RegionCoord, radius int) []RegionCoord {
	side := 2*radius + 1
	out := make([]RegionCoord, 0, side*side)
	for dx := -radius; dx <= radius; dx++ {
		for dz := -radius; dz <= radius; dz++ {
			out = append(out, RegionCoord{X: center.X + dx, Z: center.Z + dz})
		}
	}
	return out
}

// LoadHandle identifies an outstanding asynchronous region load.
type LoadHandle uint64

// LoadedRegion is a region the loader finished loading.
type LoadedRegion struct {
	Coord RegionCoord
}

// RegionLoader is the world's asynchronous region service. It is only
// called from the scheduler goroutine.
type RegionLoader interface {
	IsLoaded(c RegionCoord) bool
	IsGenerated(c RegionCoord) bool

	// RequestLoad starts loading (and generating if needed) a region.
	RequestLoad(c RegionCoord) LoadHandle

	// TryResolve polls a load without blocking. ready is false while the
	// load is outstanding. A ready load with a nil region failed.
	TryResolve(h LoadHandle) (region *LoadedRegion, ready bool)
}

// Harvester reads block inventories out of a loaded region.
type Harvester interface {
	Harvest(c RegionCoord) ([]artifact.Container, error)
}

// World is one dimension's region service.
type World interface {
	RegionLoader
	Harvester
}

// Worlds resolves a dimension name to its World.
type Worlds interface {
	World(space string) (World, bool)
}

// Position is a block position.
type Position struct {
	X, Y, Z int
}

// Locator finds structure starts.
type Locator interface {
	// Variants expands an id into the concrete structure ids to search,
	// or nil when the id is unknown.
	Variants(id string) []string

	// LocateNearest returns the start of the nearest id structure to
	// (x, z) within searchRadius regions.
	LocateNearest(space, id string, x, z, searchRadius int) (Position, bool)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
