package scan

import (
	"strings"

	"github.com/jackzampolin/lootscan/internal/jobs"
)

// regionRadiusHints are per-structure region radii large enough to cover
// the structure's containers. Matched by substring, first match wins.
var regionRadiusHints = []struct {
	match  string
	radius int
}{
	{"buried_treasure", 2},
	{"ruined_portal", 3},
	{"shipwreck", 3},
	{"ocean_ruin", 3},
	{"mineshaft", 3},
	{"trial_chambers", 4},
	{"ancient_city", 5},
}

// RegionRadius picks the extraction radius for id: the structure's hint
// capped by the requested radius, never below jobs.MinRadius.
func RegionRadius(id string, requested int) int {
	requested = max(jobs.MinRadius, requested)
	id = strings.ToLower(id)
	for _, h := range regionRadiusHints {
		if strings.Contains(id, h.match) {
			return max(jobs.MinRadius, min(requested, h.radius))
		}
	}
	return requested
}
