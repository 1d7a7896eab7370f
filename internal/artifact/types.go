// Package artifact defines the JSON documents a game server writes for the
// coordinator and the store used to publish and collect them.
package artifact

import (
	"sort"
	"strings"
)

// RegionStats counts region loads performed by one extraction.
type RegionStats struct {
	Requested        int `json:"requested"`
	AlreadyLoaded    int `json:"alreadyLoaded"`
	NewlyLoaded      int `json:"newlyLoaded"`
	AlreadyGenerated int `json:"alreadyGenerated"`
	NewlyGenerated   int `json:"newlyGenerated"`
}

// Add accumulates other into s.
func (s *RegionStats) Add(other RegionStats) {
	s.Requested += other.Requested
	s.AlreadyLoaded += other.AlreadyLoaded
	s.NewlyLoaded += other.NewlyLoaded
	s.AlreadyGenerated += other.AlreadyGenerated
	s.NewlyGenerated += other.NewlyGenerated
}

// Item is one inventory slot.
type Item struct {
	Slot  int    `json:"slot"`
	ID    string `json:"id"`
	Count int    `json:"count"`
	NBT   string `json:"nbt,omitempty"`
}

// Container is a harvested block inventory.
type Container struct {
	X             int    `json:"x"`
	Y             int    `json:"y"`
	Z             int    `json:"z"`
	BlockID       string `json:"blockId"`
	LootTable     string `json:"lootTable,omitempty"`
	LootTableSeed *int64 `json:"lootTableSeed,omitempty"`
	Items         []Item `json:"items"`
}

// ExtractDump is the artifact written when an extraction job finishes.
type ExtractDump struct {
	Dimension  string      `json:"dimension"`
	TargetID   string      `json:"targetId"`
	CenterX    int         `json:"centerX"`
	CenterZ    int         `json:"centerZ"`
	Radius     int         `json:"radius"`
	ChunkStats RegionStats `json:"chunkStats"`
	Chests     []Container `json:"chests"`
}

// DiscoveredStart is one structure start found by bulk discovery.
type DiscoveredStart struct {
	ID        string `json:"id"`
	Dimension string `json:"dimension"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Z         int    `json:"z"`
}

// DiscoverDump is the artifact written by bulk discovery.
type DiscoverDump struct {
	Dimension string            `json:"dimension"`
	CenterX   int               `json:"centerX"`
	CenterZ   int               `json:"centerZ"`
	Radius    int               `json:"radius"`
	Starts    []DiscoveredStart `json:"starts"`
}

var containerSuffixes = []string{"chest", "barrel", "dispenser", "dropper", "hopper", "shulker_box"}

// IsContainerBlock reports whether a block id names an inventory block.
// Suffix matching also covers trapped chests and colored shulker boxes.
func IsContainerBlock(blockID string) bool {
	id := strings.ToLower(blockID)
	for _, suffix := range containerSuffixes {
		if strings.HasSuffix(id, suffix) {
			return true
		}
	}
	return false
}

// SortContainers orders containers by x, then z, then y.
func SortContainers(cs []Container) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		return a.Y < b.Y
	})
}
