package scan

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/jackzampolin/lootscan/internal/jobs"
)

// VillageID is recorded for hits of any village variant.
const VillageID = "minecraft:village"

// VillageVariants are probed when a direct village locate finds nothing.
var VillageVariants = []string{
	"minecraft:village_plains",
	"minecraft:village_desert",
	"minecraft:village_savanna",
	"minecraft:village_snowy",
	"minecraft:village_taiga",
}

var (
	locateFull    = regexp.MustCompile(`\[\s*(-?\d+)\s*,\s*(-?\d+)\s*,\s*(-?\d+)\s*\]`)
	locateTildeY  = regexp.MustCompile(`\[\s*(-?\d+)\s*,\s*~\s*,\s*(-?\d+)\s*\]`)
	locateGeneric = regexp.MustCompile(`(-?\d+)\s*,\s*(?:~\s*,\s*)?(-?\d+)`)
)

// ParseLocate extracts a position from a locate response. It accepts
// "[x, y, z]", "[x, ~, z]" and a bare "x, z" pair. Y is 0 when absent.
func ParseLocate(resp string) (jobs.Position, bool) {
	if m := locateFull.FindStringSubmatch(resp); m != nil {
		return jobs.Position{X: atoi(m[1]), Y: atoi(m[2]), Z: atoi(m[3])}, true
	}
	if m := locateTildeY.FindStringSubmatch(resp); m != nil {
		return jobs.Position{X: atoi(m[1]), Z: atoi(m[2])}, true
	}
	if m := locateGeneric.FindStringSubmatch(resp); m != nil {
		return jobs.Position{X: atoi(m[1]), Z: atoi(m[2])}, true
	}
	return jobs.Position{}, false
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// LocateCommand builds a positioned locate for one sample point.
func LocateCommand(space string, p jobs.Point, id string) string {
	return "execute in " + space + " positioned " + strconv.Itoa(p.X) + " 80 " + strconv.Itoa(p.Z) +
		" run locate structure " + id
}

// LooksUnknown reports whether resp is a server's unknown-command reply.
func LooksUnknown(resp string) bool {
	lower := strings.ToLower(strings.TrimSpace(resp))
	return strings.HasPrefix(lower, "unknown") ||
		strings.Contains(lower, "unknown command") ||
		strings.Contains(lower, "incomplete command") ||
		strings.Contains(lower, "not found")
}

// summarize collapses whitespace and truncates s for log output.
func summarize(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
