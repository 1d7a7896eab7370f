package jobs

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/lootscan/internal/artifact"
	"github.com/jackzampolin/lootscan/internal/rcon"
)

type fakeWorld struct {
	*fakeLoader
	*fakeHarvester
}

type fakeWorlds map[string]World

func (w fakeWorlds) World(space string) (World, bool) {
	world, ok := w[space]
	return world, ok
}

type gridLocator struct {
	starts map[string][]Position
}

func (g *gridLocator) Variants(id string) []string {
	if id == "minecraft:village" {
		return []string{"minecraft:village_plains", "minecraft:village_desert"}
	}
	if _, ok := g.starts[id]; ok {
		return []string{id}
	}
	return nil
}

func (g *gridLocator) LocateNearest(_ string, id string, x, z, _ int) (Position, bool) {
	best, found := Position{}, false
	bestD := 0
	for _, p := range g.starts[id] {
		d := (p.X-x)*(p.X-x) + (p.Z-z)*(p.Z-z)
		if !found || d < bestD {
			best, bestD, found = p, d, true
		}
	}
	return best, found
}

func startCommands(t *testing.T, fallback rcon.Handler) (*Commands, *artifact.Store) {
	t.Helper()
	sched := NewScheduler(SchedulerConfig{TickInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	store := artifact.NewMemStore()
	loc := &gridLocator{starts: map[string][]Position{
		"minecraft:igloo":          {{X: 100, Y: 70, Z: 100}, {X: -300, Y: 70, Z: 20}, {X: 5000, Y: 70, Z: 0}},
		"minecraft:village_plains": {{X: 10, Y: 64, Z: 10}},
		"minecraft:village_desert": {{X: -40, Y: 64, Z: 200}},
	}}
	cmds := NewCommands(CommandsConfig{
		Scheduler: sched,
		Worlds: fakeWorlds{
			"minecraft:overworld": fakeWorld{newFakeLoader(1), &fakeHarvester{}},
		},
		Locator:  loc,
		Store:    store,
		Fallback: fallback,
	})
	return cmds, store
}

func TestCommandsExtractLifecycle(t *testing.T) {
	cmds, store := startCommands(t, nil)
	ctx := context.Background()

	resp := cmds.HandleCommand(ctx, "extract_start minecraft:overworld minecraft:igloo 100 100 2 out/igloo.json true 4")
	id, ok := ParseJobID(resp)
	require.True(t, ok, resp)
	assert.Len(t, id, 32)

	var line string
	require.Eventually(t, func() bool {
		line = cmds.HandleCommand(ctx, "lootscan:extract_status "+id)
		return strings.HasPrefix(line, "done")
	}, 5*time.Second, 5*time.Millisecond)

	st, err := ParseStatusLine(line)
	require.NoError(t, err)
	assert.Equal(t, "out/igloo.json", st.OutPath)
	assert.Equal(t, 25, st.Completed)

	dump, err := store.ReadExtract("out/igloo.json")
	require.NoError(t, err)
	assert.Equal(t, "minecraft:igloo", dump.TargetID)
	assert.Equal(t, 25, dump.ChunkStats.Requested)
}

func TestCommandsErrors(t *testing.T) {
	cmds, _ := startCommands(t, nil)
	ctx := context.Background()

	tests := []struct {
		line string
		want string
	}{
		{"extract_status nope", StatusNotFound},
		{"extract_start minecraft:overworld minecraft:igloo x 0 2 out/a.json", "failed invalid_number"},
		{"extract_start minecraft:the_moon minecraft:igloo 0 0 2 out/a.json", "failed world_not_found"},
		{"extract_start minecraft:overworld minecraft:igloo 0 0 2 ../a.json", "failed invalid_path"},
		{"extract_start minecraft:overworld", "Usage: <space>"},
		{"weather clear", "Unknown command: weather"},
		{"other:extract_start a b", "Unknown command: other:extract_start"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.True(t, strings.HasPrefix(cmds.HandleCommand(ctx, tt.line), tt.want))
		})
	}
}

func TestCommandsFallback(t *testing.T) {
	var got string
	cmds, _ := startCommands(t, rcon.HandlerFunc(func(_ context.Context, line string) string {
		got = line
		return "vanilla"
	}))

	assert.Equal(t, "vanilla", cmds.HandleCommand(context.Background(), "/gamerule doDaylightCycle false"))
	assert.Equal(t, "gamerule doDaylightCycle false", got)
}

func TestCommandsLegacyExtract(t *testing.T) {
	cmds, store := startCommands(t, nil)
	resp := cmds.HandleCommand(context.Background(), "extract minecraft:overworld minecraft:igloo 0 0 2 out/legacy.json")
	assert.True(t, strings.HasPrefix(resp, "extract started job="), resp)
	id, ok := ParseJobID(resp)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		return strings.HasPrefix(cmds.HandleCommand(context.Background(), "extract_status "+id), "done")
	}, 5*time.Second, 5*time.Millisecond)
	assert.True(t, store.Ready("out/legacy.json"))
}

func TestCommandsDiscover(t *testing.T) {
	cmds, store := startCommands(t, nil)

	resp := cmds.HandleCommand(context.Background(),
		"discover minecraft:overworld 0 0 512 128 out/discover.json minecraft:igloo,minecraft:village")
	assert.Equal(t, "discover wrote out/discover.json starts=4", resp)

	dump, err := store.ReadDiscover("out/discover.json")
	require.NoError(t, err)

	var ids []string
	for _, s := range dump.Starts {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"minecraft:igloo", "minecraft:igloo", "minecraft:village", "minecraft:village"}, ids)
	assert.Equal(t, -300, dump.Starts[0].X)
}

func TestSamplePoints(t *testing.T) {
	assert.Equal(t, []Point{{X: 7, Z: 9}}, SamplePoints(7, 9, 10, 64))

	pts := SamplePoints(0, 0, 256, 128)
	for _, p := range pts {
		assert.LessOrEqual(t, p.X*p.X+p.Z*p.Z, 256*256)
	}
	assert.Contains(t, pts, Point{X: 0, Z: 0})
	assert.Len(t, pts, 13)
}

func TestParseStatusLine(t *testing.T) {
	st, err := ParseStatusLine("running 3/25")
	require.NoError(t, err)
	assert.Equal(t, JobStatus{State: StateRunning, Completed: 3, Total: 25, Found: true}, st)

	st, err = ParseStatusLine("failed job_timeout")
	require.NoError(t, err)
	assert.Equal(t, "job_timeout", st.Reason)

	st, err = ParseStatusLine("not_found")
	require.NoError(t, err)
	assert.False(t, st.Found)

	_, err = ParseStatusLine("Unknown command")
	assert.ErrorIs(t, err, ErrBadStatus)
}

func TestStartArgsRoundTrip(t *testing.T) {
	spec := Spec{Space: "minecraft:the_nether", TargetID: "minecraft:fortress", CenterX: -5, CenterZ: 77, Radius: 3, OutPath: "out/x.json", Parallel: true, ParallelCount: 6}
	got, err := ParseStartArgs(strings.Fields(FormatStartArgs(spec)))
	require.NoError(t, err)
	assert.Equal(t, spec, got)
}
