// Package report holds the scan report: per-target entries keyed by
// location, deterministic ordering, resume loading and atomic writes.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackzampolin/lootscan/internal/artifact"
	"github.com/jackzampolin/lootscan/internal/datapack"
)

// Target is a located structure start.
type Target struct {
	ID        string `json:"id"`
	Dimension string `json:"dimension,omitempty"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Z         int    `json:"z"`
}

// Key identifies a target in a report.
type Key struct {
	Dimension string
	ID        string
	X, Z      int
}

// String renders "dim|id|x|z" with "-" for an unset dimension.
func (k Key) String() string {
	dim := k.Dimension
	if dim == "" {
		dim = "-"
	}
	return fmt.Sprintf("%s|%s|%d|%d", dim, k.ID, k.X, k.Z)
}

// Key returns the report key of t.
func (t Target) Key() Key {
	return Key{Dimension: t.Dimension, ID: t.ID, X: t.X, Z: t.Z}
}

// Entry is the outcome for one target.
type Entry struct {
	ID         string               `json:"id"`
	Type       string               `json:"type"`
	Dimension  string               `json:"dimension,omitempty"`
	X          int                  `json:"x"`
	Y          int                  `json:"y"`
	Z          int                  `json:"z"`
	Error      string               `json:"error,omitempty"`
	ChunkStats artifact.RegionStats `json:"chunkStats"`
	Chests     []artifact.Container `json:"chests"`
}

// Key returns the report key of e.
func (e Entry) Key() Key {
	return Key{Dimension: e.Dimension, ID: e.ID, X: e.X, Z: e.Z}
}

// Target returns the location e reports on.
func (e Entry) Target() Target {
	return Target{ID: e.ID, Dimension: e.Dimension, X: e.X, Y: e.Y, Z: e.Z}
}

// Succeeded reports whether e holds an extraction rather than a failure.
func (e Entry) Succeeded() bool {
	return e.Error == ""
}

// ShortType strips the namespace from an id.
func ShortType(id string) string {
	if i := strings.LastIndexByte(id, ':'); i >= 0 {
		return id[i+1:]
	}
	return id
}

// ScanReport is the result of a scan.
type ScanReport struct {
	Seed              int64                `json:"seed"`
	WorldVersion      string               `json:"worldVersion,omitempty"`
	CenterX           int                  `json:"centerX"`
	CenterZ           int                  `json:"centerZ"`
	Radius            int                  `json:"radius"`
	DiscoveryCached   bool                 `json:"discoveryCached"`
	LocateSampleCount int                  `json:"locateSampleCount"`
	Targets           int                  `json:"targets"`
	Resumed           int                  `json:"resumed"`
	ChunkStats        artifact.RegionStats `json:"chunkStats"`
	Structures        []Entry              `json:"structures"`
	Unresolved        []string             `json:"unresolved,omitempty"`
}

// Counts returns how many entries succeeded and failed.
func (r *ScanReport) Counts() (ok, failed int) {
	for _, e := range r.Structures {
		if e.Succeeded() {
			ok++
		} else {
			failed++
		}
	}
	return ok, failed
}

// Result is the document written to disk for a run.
type Result struct {
	StartTime    time.Time           `json:"startTimeUtc"`
	FinishTime   time.Time           `json:"finishTimeUtc"`
	DurationMs   int64               `json:"durationMs"`
	WorldVersion string              `json:"mcVersion"`
	Seed         int64               `json:"seed"`
	Datapacks    []string            `json:"datapacks,omitempty"`
	Influence    *datapack.Influence `json:"datapackInfluence,omitempty"`
	Error        string              `json:"error,omitempty"`
	Scan         *ScanReport         `json:"regionScan"`
}

// Builder assembles a ScanReport, keeping one entry per key.
type Builder struct {
	report *ScanReport
	index  map[Key]int
}

// NewBuilder wraps r, indexing any entries it already has.
func NewBuilder(r *ScanReport) *Builder {
	b := &Builder{report: r, index: make(map[Key]int, len(r.Structures))}
	for i, e := range r.Structures {
		b.index[e.Key()] = i
	}
	return b
}

// Upsert adds e or replaces the entry with the same key.
func (b *Builder) Upsert(e Entry) {
	if e.Type == "" {
		e.Type = ShortType(e.ID)
	}
	if e.Chests == nil {
		e.Chests = []artifact.Container{}
	}
	if i, ok := b.index[e.Key()]; ok {
		b.report.Structures[i] = e
		return
	}
	b.index[e.Key()] = len(b.report.Structures)
	b.report.Structures = append(b.report.Structures, e)
}

// Fail records a failure for t, replacing any earlier outcome.
func (b *Builder) Fail(t Target, reason string) {
	b.Upsert(Entry{ID: t.ID, Dimension: t.Dimension, X: t.X, Y: t.Y, Z: t.Z, Error: reason})
}

// AddStats accumulates region stats into the report totals.
func (b *Builder) AddStats(s artifact.RegionStats) {
	b.report.ChunkStats.Add(s)
}

// Len returns the number of entries.
func (b *Builder) Len() int {
	return len(b.report.Structures)
}

// Report returns the report being built.
func (b *Builder) Report() *ScanReport {
	return b.report
}

// SpacePriority orders dimensions: overworld, nether, end, others, unset.
func SpacePriority(dim string) int {
	switch dim {
	case "minecraft:overworld":
		return 0
	case "minecraft:the_nether":
		return 1
	case "minecraft:the_end":
		return 2
	case "":
		return 99
	}
	return 3
}

func dist2(x, z, cx, cz int) int64 {
	dx, dz := int64(x-cx), int64(z-cz)
	return dx*dx + dz*dz
}

func targetLess(a, b Target, cx, cz int) bool {
	if pa, pb := SpacePriority(a.Dimension), SpacePriority(b.Dimension); pa != pb {
		return pa < pb
	}
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	if da, db := dist2(a.X, a.Z, cx, cz), dist2(b.X, b.Z, cx, cz); da != db {
		return da < db
	}
	if a.X != b.X {
		return a.X < b.X
	}
	return a.Z < b.Z
}

// SortTargets orders targets by dimension priority, then id, then squared
// distance to the center, then x and z.
func SortTargets(ts []Target, cx, cz int) {
	sort.SliceStable(ts, func(i, j int) bool {
		return targetLess(ts[i], ts[j], cx, cz)
	})
}

// SortEntries orders entries the same way as SortTargets.
func SortEntries(es []Entry, cx, cz int) {
	sort.SliceStable(es, func(i, j int) bool {
		return targetLess(es[i].Target(), es[j].Target(), cx, cz)
	})
}
