package jobs

import (
	"fmt"
	"sort"

	"github.com/jackzampolin/lootscan/internal/artifact"
)

// Point is a horizontal block position.
type Point struct {
	X, Z int
}

// SamplePoints lays a grid of the given step over the square bounding the
// circle and keeps the points inside the circle. The step is raised to at
// least MinDiscoverStep. The center is returned when no grid point lands
// inside.
func SamplePoints(centerX, centerZ, radius, step int) []Point {
	step = max(MinDiscoverStep, step)
	r2 := radius * radius

	var out []Point
	for x := centerX - radius; x <= centerX+radius; x += step {
		for z := centerZ - radius; z <= centerZ+radius; z += step {
			dx, dz := x-centerX, z-centerZ
			if dx*dx+dz*dz <= r2 {
				out = append(out, Point{X: x, Z: z})
			}
		}
	}
	if len(out) == 0 {
		out = append(out, Point{X: centerX, Z: centerZ})
	}
	return out
}

// Discover sweeps the request area with loc and returns the distinct
// structure starts inside the circle. Starts found through a variant are
// recorded under the requested id. Two starts of the same id in the same
// region are the same structure.
func Discover(loc Locator, req DiscoverRequest) []artifact.DiscoveredStart {
	points := SamplePoints(req.CenterX, req.CenterZ, req.Radius, req.Step)
	searchRadius := max(8, req.Step/RegionSize+2)
	r2 := req.Radius * req.Radius

	seen := make(map[string]struct{})
	var starts []artifact.DiscoveredStart
	for _, id := range req.IDs {
		for _, variant := range loc.Variants(id) {
			for _, p := range points {
				pos, ok := loc.LocateNearest(req.Space, variant, p.X, p.Z, searchRadius)
				if !ok {
					continue
				}
				dx, dz := pos.X-req.CenterX, pos.Z-req.CenterZ
				if dx*dx+dz*dz > r2 {
					continue
				}
				key := fmt.Sprintf("%s|%d|%d", id, pos.X>>4, pos.Z>>4)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				starts = append(starts, artifact.DiscoveredStart{
					ID: id, Dimension: req.Space, X: pos.X, Y: pos.Y, Z: pos.Z,
				})
			}
		}
	}

	sort.Slice(starts, func(i, j int) bool {
		a, b := starts[i], starts[j]
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Z < b.Z
	})
	return starts
}
