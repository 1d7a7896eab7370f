package jobs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/lootscan/internal/artifact"
)

type fakeLoad struct {
	coord     RegionCoord
	remaining int
}

// fakeLoader resolves each load after a fixed number of polls.
type fakeLoader struct {
	latency   int
	fail      map[RegionCoord]bool
	loaded    map[RegionCoord]bool
	generated map[RegionCoord]bool

	next        LoadHandle
	outstanding map[LoadHandle]*fakeLoad
	maxInFlight int
	requests    []RegionCoord
}

func newFakeLoader(latency int) *fakeLoader {
	return &fakeLoader{
		latency:     latency,
		fail:        map[RegionCoord]bool{},
		loaded:      map[RegionCoord]bool{},
		generated:   map[RegionCoord]bool{},
		outstanding: map[LoadHandle]*fakeLoad{},
	}
}

func (l *fakeLoader) IsLoaded(c RegionCoord) bool    { return l.loaded[c] }
func (l *fakeLoader) IsGenerated(c RegionCoord) bool { return l.generated[c] }

func (l *fakeLoader) RequestLoad(c RegionCoord) LoadHandle {
	l.next++
	l.outstanding[l.next] = &fakeLoad{coord: c, remaining: l.latency}
	l.requests = append(l.requests, c)
	if n := len(l.outstanding); n > l.maxInFlight {
		l.maxInFlight = n
	}
	return l.next
}

func (l *fakeLoader) TryResolve(h LoadHandle) (*LoadedRegion, bool) {
	load, ok := l.outstanding[h]
	if !ok {
		return nil, true
	}
	if load.remaining > 0 {
		load.remaining--
		return nil, false
	}
	delete(l.outstanding, h)
	if l.fail[load.coord] {
		return nil, true
	}
	l.loaded[load.coord] = true
	l.generated[load.coord] = true
	return &LoadedRegion{Coord: load.coord}, true
}

type fakeHarvester struct {
	byRegion map[RegionCoord][]artifact.Container
	calls    int
	err      error
}

func (h *fakeHarvester) Harvest(c RegionCoord) ([]artifact.Container, error) {
	h.calls++
	if h.err != nil {
		return nil, h.err
	}
	return h.byRegion[c], nil
}

func runToEnd(t *testing.T, j *Job, limit int) int {
	t.Helper()
	for i := 1; i <= limit; i++ {
		j.Tick()
		if j.Terminal() {
			return i
		}
	}
	t.Fatalf("job did not finish in %d ticks", limit)
	return 0
}

func testSpec() Spec {
	return Spec{
		Space:    "minecraft:overworld",
		TargetID: "minecraft:desert_pyramid",
		CenterX:  40,
		CenterZ:  -8,
		Radius:   2,
		OutPath:  "out/t.json",
		Parallel: true,
	}
}

func TestJobCompletes(t *testing.T) {
	loader := newFakeLoader(3)
	center := RegionOf(40, -8)
	loader.loaded[center] = true
	for _, c := range Square(center, 2)[3:] {
		loader.generated[c] = true
	}

	harvester := &fakeHarvester{byRegion: map[RegionCoord][]artifact.Container{
		center: {
			{X: 45, Y: 64, Z: -8, BlockID: "minecraft:barrel"},
			{X: 41, Y: 60, Z: -8, BlockID: "minecraft:chest"},
			{X: 41, Y: 60, Z: -9, BlockID: "minecraft:furnace"},
			{X: 400, Y: 60, Z: -8, BlockID: "minecraft:chest"},
		},
	}}

	var published *artifact.ExtractDump
	j := NewJob(JobConfig{
		ID: "abc", Spec: testSpec(), Loader: loader, Harvester: harvester,
		Publish: func(d *artifact.ExtractDump) error { published = d; return nil },
	})

	runToEnd(t, j, 500)

	require.Equal(t, StateDone, j.State())
	require.NotNil(t, published)
	assert.Equal(t, 25, published.ChunkStats.Requested)
	assert.Equal(t, 1, published.ChunkStats.AlreadyLoaded)
	assert.Equal(t, 24, published.ChunkStats.NewlyLoaded)
	assert.Equal(t, 22, published.ChunkStats.AlreadyGenerated)
	assert.Equal(t, 3, published.ChunkStats.NewlyGenerated)
	assert.Equal(t, DefaultInFlight, loader.maxInFlight)
	assert.Len(t, loader.requests, 25)

	require.Len(t, published.Chests, 2)
	assert.Equal(t, "minecraft:chest", published.Chests[0].BlockID)
	assert.Equal(t, "minecraft:barrel", published.Chests[1].BlockID)

	c, total := j.Progress()
	assert.Equal(t, 25, c)
	assert.Equal(t, 25, total)
	assert.Equal(t, "done out/t.json 25/25", j.Status().Line())
}

func TestJobSequentialCap(t *testing.T) {
	loader := newFakeLoader(2)
	spec := testSpec()
	spec.Parallel = false
	spec.ParallelCount = 12

	j := NewJob(JobConfig{ID: "seq", Spec: spec, Loader: loader, Harvester: &fakeHarvester{}})
	runToEnd(t, j, 1000)

	assert.Equal(t, StateDone, j.State())
	assert.Equal(t, 1, loader.maxInFlight)
}

func TestJobProgressInvariant(t *testing.T) {
	loader := newFakeLoader(1)
	j := NewJob(JobConfig{ID: "inv", Spec: testSpec(), Loader: loader, Harvester: &fakeHarvester{}})

	for !j.Terminal() {
		j.Tick()
		completed, total := j.Progress()
		assert.Equal(t, total, j.Pending()+j.InFlight()+completed)
		assert.LessOrEqual(t, j.InFlight(), DefaultInFlight)
	}
}

func TestJobSettlesBeforeHarvest(t *testing.T) {
	loader := newFakeLoader(0)
	harvester := &fakeHarvester{}
	spec := testSpec()
	spec.Parallel = false

	j := NewJob(JobConfig{ID: "settle", Spec: spec, Loader: loader, Harvester: harvester})

	fullAt := 0
	for i := 1; i <= 100 && !j.Terminal(); i++ {
		j.Tick()
		if c, total := j.Progress(); c == total && fullAt == 0 {
			fullAt = i
			assert.Equal(t, StateRunning, j.State())
			assert.Equal(t, 0, harvester.calls)
		}
		if j.Terminal() {
			assert.Equal(t, fullAt+SettleTicks, i)
		}
	}
	assert.Equal(t, StateDone, j.State())
}

func TestJobHarvestsOnce(t *testing.T) {
	loader := newFakeLoader(0)
	harvester := &fakeHarvester{}
	spec := testSpec()
	spec.Radius = 0 // raised to MinRadius

	publishes := 0
	j := NewJob(JobConfig{
		ID: "once", Spec: spec, Loader: loader, Harvester: harvester,
		Publish: func(*artifact.ExtractDump) error { publishes++; return nil },
	})
	runToEnd(t, j, 200)
	calls := harvester.calls

	for i := 0; i < 20; i++ {
		j.Tick()
	}
	assert.Equal(t, MinRadius, j.Spec().Radius)
	assert.Equal(t, 25, calls)
	assert.Equal(t, calls, harvester.calls)
	assert.Equal(t, 1, publishes)
}

func TestJobFailures(t *testing.T) {
	t.Run("load failure", func(t *testing.T) {
		loader := newFakeLoader(1)
		loader.fail[RegionOf(40, -8)] = true
		harvester := &fakeHarvester{}

		j := NewJob(JobConfig{ID: "f1", Spec: testSpec(), Loader: loader, Harvester: harvester})
		runToEnd(t, j, 200)

		assert.Equal(t, StateFailed, j.State())
		assert.Equal(t, ReasonLoadFailed, j.Reason())
		assert.Equal(t, 0, harvester.calls)
		assert.Equal(t, "failed chunk_load_failed", j.Status().Line())
	})

	t.Run("tick budget", func(t *testing.T) {
		loader := newFakeLoader(1 << 20)
		j := NewJob(JobConfig{ID: "f2", Spec: testSpec(), Loader: loader, Harvester: &fakeHarvester{}, MaxTicks: 10})

		assert.Equal(t, 11, runToEnd(t, j, 100))
		assert.Equal(t, ReasonTimeout, j.Reason())
	})

	t.Run("publish failure", func(t *testing.T) {
		j := NewJob(JobConfig{
			ID: "f3", Spec: testSpec(), Loader: newFakeLoader(0), Harvester: &fakeHarvester{},
			Publish: func(*artifact.ExtractDump) error { return errors.New("disk full") },
		})
		runToEnd(t, j, 200)
		assert.Equal(t, ReasonWriteFailed, j.Reason())
	})

	t.Run("harvest failure", func(t *testing.T) {
		j := NewJob(JobConfig{
			ID: "f4", Spec: testSpec(), Loader: newFakeLoader(0),
			Harvester: &fakeHarvester{err: errors.New("region unloaded")},
		})
		runToEnd(t, j, 200)
		assert.Equal(t, ReasonHarvest, j.Reason())
	})
}

func TestSpecConcurrency(t *testing.T) {
	tests := []struct {
		name     string
		parallel bool
		count    int
		want     int
	}{
		{"sequential ignores count", false, 8, 1},
		{"parallel default", true, 0, DefaultInFlight},
		{"parallel explicit", true, 6, 6},
		{"parallel clamped", true, 50, MaxInFlight},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Spec{Parallel: tt.parallel, ParallelCount: tt.count}
			assert.Equal(t, tt.want, s.Concurrency())
		})
	}
}

func TestRegionOf(t *testing.T) {
	assert.Equal(t, RegionCoord{0, 0}, RegionOf(0, 15))
	assert.Equal(t, RegionCoord{-1, -1}, RegionOf(-1, -16))
	assert.Equal(t, RegionCoord{-2, 1}, RegionOf(-17, 16))
}
