package world

import (
	"encoding/binary"
	"hash/fnv"
	"strings"

	"github.com/jackzampolin/lootscan/internal/jobs"
)

// Dimension names.
const (
	Overworld = "minecraft:overworld"
	Nether    = "minecraft:the_nether"
	End       = "minecraft:the_end"
)

// VillageID is the umbrella id that expands to every village variant.
const VillageID = "minecraft:village"

var villageVariants = []string{
	"minecraft:village_plains",
	"minecraft:village_desert",
	"minecraft:village_savanna",
	"minecraft:village_snowy",
	"minecraft:village_taiga",
}

// DefaultStructures is the structure layout of each dimension.
func DefaultStructures() map[string][]string {
	overworld := []string{
		"minecraft:ancient_city",
		"minecraft:buried_treasure",
		"minecraft:desert_pyramid",
		"minecraft:igloo",
		"minecraft:jungle_pyramid",
		"minecraft:mineshaft",
		"minecraft:ocean_ruin_cold",
		"minecraft:pillager_outpost",
		"minecraft:ruined_portal",
		"minecraft:shipwreck",
		"minecraft:stronghold",
		"minecraft:trial_chambers",
		"minecraft:woodland_mansion",
	}
	overworld = append(overworld, villageVariants...)
	return map[string][]string{
		Overworld: overworld,
		Nether:    {"minecraft:bastion_remnant", "minecraft:fortress", "minecraft:ruined_portal_nether"},
		End:       {"minecraft:end_city"},
	}
}

// placement hashes (seed, space, id, cell) into a deterministic start. A
// cell holds at most one start per id.
type placement struct {
	seed    int64
	spacing int
}

func (p placement) hash(space, id string, cx, cz int) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(p.seed))
	h.Write(buf[:])
	h.Write([]byte(space))
	h.Write([]byte{0})
	h.Write([]byte(id))
	binary.LittleEndian.PutUint64(buf[:], uint64(int64(cx)))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(int64(cz)))
	h.Write(buf[:])
	return h.Sum64()
}

// start returns the start of id in cell (cx, cz), if the cell has one.
func (p placement) start(space, id string, cx, cz int) (jobs.Position, bool) {
	h := p.hash(space, id, cx, cz)
	if h%3 == 0 {
		return jobs.Position{}, false
	}
	margin := p.spacing / 8
	span := uint64(p.spacing - 2*margin)
	return jobs.Position{
		X: cx*p.spacing + margin + int((h>>8)%span),
		Y: 40 + int((h>>40)%40),
		Z: cz*p.spacing + margin + int((h>>24)%span),
	}, true
}

func (p placement) cellOf(x, z int) (int, int) {
	return floorDiv(x, p.spacing), floorDiv(z, p.spacing)
}

func lootTableFor(id string) string {
	_, path, ok := strings.Cut(id, ":")
	if !ok {
		path = id
	}
	return "minecraft:chests/" + path
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
