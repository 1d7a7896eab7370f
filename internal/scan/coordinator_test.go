package scan

import (
	"context"
	"errors"
	"net"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/lootscan/internal/artifact"
	"github.com/jackzampolin/lootscan/internal/jobs"
	"github.com/jackzampolin/lootscan/internal/rcon"
	"github.com/jackzampolin/lootscan/internal/report"
	"github.com/jackzampolin/lootscan/internal/world"
)

const igloo = "minecraft:igloo"

// recorder wraps an Executor, records every command and optionally fails
// commands with a given prefix.
type recorder struct {
	exec   Executor
	failOn string

	mu       sync.Mutex
	commands []string
}

func (r *recorder) record(cmd string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, cmd)
	if r.failOn != "" && strings.HasPrefix(cmd, r.failOn) {
		return errors.New("connection reset")
	}
	return nil
}

func (r *recorder) Execute(ctx context.Context, cmd string) (string, error) {
	if err := r.record(cmd); err != nil {
		return "", err
	}
	return r.exec.Execute(ctx, cmd)
}

func (r *recorder) ExecuteOnce(ctx context.Context, cmd string, timeout time.Duration) (string, error) {
	if err := r.record(cmd); err != nil {
		return "", err
	}
	return r.exec.ExecuteOnce(ctx, cmd, timeout)
}

// take returns the recorded commands and clears the log.
func (r *recorder) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.commands
	r.commands = nil
	return out
}

func countPrefix(cmds []string, prefix string) int {
	n := 0
	for _, c := range cmds {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

type harness struct {
	sim   *world.Sim
	store *artifact.Store
	rec   *recorder
	cache *Cache
}

// newHarness serves a simulated world over RCON: extraction verbs go to a
// job scheduler, everything else to the world's vanilla commands.
func newHarness(t *testing.T, cfg world.Config, wrap func(rcon.Handler) rcon.Handler) *harness {
	t.Helper()

	sim := world.New(cfg)
	store := artifact.NewStore(t.TempDir(), nil)
	sched := jobs.NewScheduler(jobs.SchedulerConfig{TickInterval: time.Millisecond})

	var handler rcon.Handler = jobs.NewCommands(jobs.CommandsConfig{
		Scheduler: sched,
		Worlds:    sim,
		Locator:   sim,
		Store:     store,
		Fallback:  sim,
	})
	if wrap != nil {
		handler = wrap(handler)
	}

	srv := rcon.NewServer(rcon.ServerConfig{Password: "hunter2", Handler: handler})
	require.NoError(t, srv.Listen("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		_ = srv.Serve(ctx)
	}()

	client := rcon.NewClient(rcon.Config{
		Host:     "127.0.0.1",
		Port:     srv.Addr().(*net.TCPAddr).Port,
		Password: "hunter2",
	})
	require.NoError(t, client.Connect(ctx))

	t.Cleanup(func() {
		_ = client.Close()
		cancel()
		_ = srv.Close()
		wg.Wait()
	})

	return &harness{
		sim:   sim,
		store: store,
		rec:   &recorder{exec: client},
		cache: NewCache(t.TempDir(), nil),
	}
}

func (h *harness) coordinator(mod func(*Options)) *Coordinator {
	opts := Options{
		Client:          h.rec,
		Store:           h.store,
		Cache:           h.cache,
		PollInterval:    5 * time.Millisecond,
		StartTimeout:    2 * time.Second,
		StatusTimeout:   2 * time.Second,
		LegacyTimeout:   2 * time.Second,
		JobTimeout:      10 * time.Second,
		ArtifactTimeout: 5 * time.Second,
	}
	if mod != nil {
		mod(&opts)
	}
	return New(opts)
}

func iglooRequest() Request {
	return Request{
		Seed:         7,
		WorldVersion: "1.21.4",
		Radius:       1200,
		Structures:   []Structure{{ID: igloo}},
		ParallelJobs: 4,
		MaxTargets:   4,
	}
}

// rejectVerbs answers "Unknown command" for the listed command verbs.
func rejectVerbs(verbs ...string) func(rcon.Handler) rcon.Handler {
	return func(next rcon.Handler) rcon.Handler {
		return rcon.HandlerFunc(func(ctx context.Context, line string) string {
			fields := strings.Fields(line)
			if len(fields) > 0 && slices.Contains(verbs, fields[0]) {
				return "Unknown command. Type \"/help\" for help."
			}
			return next.HandleCommand(ctx, line)
		})
	}
}

// stallFirst holds the first n commands with the given verb for delay and
// never answers them.
func stallFirst(verb string, n int32, delay time.Duration) func(rcon.Handler) rcon.Handler {
	var seen atomic.Int32
	return func(next rcon.Handler) rcon.Handler {
		return rcon.HandlerFunc(func(ctx context.Context, line string) string {
			if strings.HasPrefix(line, verb+" ") && seen.Add(1) <= n {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
				}
				return ""
			}
			return next.HandleCommand(ctx, line)
		})
	}
}

// failFirstStart answers the first extract_start with a job failure.
func failFirstStart(reason string) func(rcon.Handler) rcon.Handler {
	var seen atomic.Int32
	return func(next rcon.Handler) rcon.Handler {
		return rcon.HandlerFunc(func(ctx context.Context, line string) string {
			if strings.HasPrefix(line, jobs.VerbExtractStart+" ") && seen.Add(1) == 1 {
				return "failed " + reason
			}
			return next.HandleCommand(ctx, line)
		})
	}
}

func assertExtracted(t *testing.T, h *harness, rep *report.ScanReport, radius int) {
	t.Helper()
	require.NotEmpty(t, rep.Structures)
	assert.Equal(t, rep.Targets, len(rep.Structures))
	assert.Empty(t, rep.Unresolved)

	total := 0
	for _, e := range rep.Structures {
		assert.True(t, e.Succeeded(), "%s: %s", e.Key(), e.Error)
		assert.NotEmpty(t, e.Chests, e.Key().String())
		assert.Equal(t, 25, e.ChunkStats.Requested)
		total += e.ChunkStats.Requested

		if e.ID != VillageID {
			starts := h.sim.StartsIn(e.Dimension, e.ID, rep.CenterX, rep.CenterZ, radius)
			assert.Contains(t, starts, jobs.Position{X: e.X, Y: e.Y, Z: e.Z})
		}
	}
	assert.Equal(t, total, rep.ChunkStats.Requested)

	sorted := slices.Clone(rep.Structures)
	report.SortEntries(sorted, rep.CenterX, rep.CenterZ)
	assert.Empty(t, cmp.Diff(sorted, rep.Structures))
}

func TestRunBulkDiscovery(t *testing.T) {
	h := newHarness(t, world.Config{Seed: 7}, nil)
	req := iglooRequest()

	rep, err := h.coordinator(nil).Run(context.Background(), req)
	require.NoError(t, err)
	assertExtracted(t, h, rep, req.Radius)
	assert.False(t, rep.DiscoveryCached)
	assert.Positive(t, rep.LocateSampleCount)

	cmds := h.rec.take()
	assert.Equal(t, 1, countPrefix(cmds, jobs.VerbDiscover+" "))
	assert.Zero(t, countPrefix(cmds, "execute in"))
	assert.Equal(t, len(rep.Structures), countPrefix(cmds, jobs.VerbExtractStart+" "))
}

func TestRunUsesDiscoveryCache(t *testing.T) {
	h := newHarness(t, world.Config{Seed: 7}, nil)
	req := iglooRequest()
	coord := h.coordinator(nil)

	first, err := coord.Run(context.Background(), req)
	require.NoError(t, err)
	h.rec.take()

	second, err := coord.Run(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.DiscoveryCached)
	assert.Equal(t, first.Targets, second.Targets)

	cmds := h.rec.take()
	assert.Zero(t, countPrefix(cmds, jobs.VerbDiscover))
	assert.Zero(t, countPrefix(cmds, "execute in"))

	// a different seed misses the cache
	req.Seed = 8
	_, err = coord.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, countPrefix(h.rec.take(), jobs.VerbDiscover+" "))
}

func TestRunVillageVariantFallback(t *testing.T) {
	h := newHarness(t, world.Config{Seed: 11}, nil)
	req := Request{
		Seed:       11,
		Radius:     900,
		Structures: []Structure{{ID: VillageID}},
		MaxTargets: 2,
	}

	rep, err := h.coordinator(nil).Run(context.Background(), req)
	require.NoError(t, err)
	assertExtracted(t, h, rep, req.Radius)
	for _, e := range rep.Structures {
		assert.Equal(t, VillageID, e.ID)
		assert.Equal(t, "village", e.Type)
	}

	cmds := h.rec.take()
	assert.Zero(t, countPrefix(cmds, jobs.VerbDiscover), "villages always sample")
	samples := len(jobs.SamplePoints(0, 0, req.Radius, DefaultLocateStep))
	assert.Equal(t, samples*(1+len(VillageVariants)), countPrefix(cmds, "execute in minecraft:overworld positioned "))
	for _, v := range VillageVariants {
		assert.True(t, slices.ContainsFunc(cmds, func(c string) bool {
			return strings.HasSuffix(c, "run locate structure "+v)
		}), v)
	}
}

func TestRunNamespacedAlias(t *testing.T) {
	h := newHarness(t, world.Config{Seed: 7}, rejectVerbs(
		jobs.VerbDiscover, jobs.VerbExtractStart, jobs.VerbExtractStatus, jobs.VerbExtract,
	))
	req := iglooRequest()

	rep, err := h.coordinator(nil).Run(context.Background(), req)
	require.NoError(t, err)
	assertExtracted(t, h, rep, req.Radius)

	cmds := h.rec.take()
	assert.Equal(t, 1, countPrefix(cmds, jobs.VerbExtractStart+" "), "plain verb is tried once")
	assert.Equal(t, 1, countPrefix(cmds, jobs.VerbExtractStatus+" "))
	assert.Equal(t, len(rep.Structures), countPrefix(cmds, "lootscan:"+jobs.VerbExtractStart+" "))
	assert.Equal(t, 1, countPrefix(cmds, "lootscan:"+jobs.VerbDiscover+" "))
}

func TestRunLegacyExtract(t *testing.T) {
	h := newHarness(t, world.Config{Seed: 7}, rejectVerbs(
		jobs.VerbExtractStart, "lootscan:"+jobs.VerbExtractStart,
	))
	req := iglooRequest()

	rep, err := h.coordinator(nil).Run(context.Background(), req)
	require.NoError(t, err)
	assertExtracted(t, h, rep, req.Radius)

	cmds := h.rec.take()
	assert.Equal(t, len(rep.Structures), countPrefix(cmds, jobs.VerbExtract+" "))
	assert.Zero(t, countPrefix(cmds, jobs.VerbExtractStatus))
}

func TestRunRetriesFailedTargets(t *testing.T) {
	req := iglooRequest()
	req.MaxTargets = 2

	probe := world.New(world.Config{Seed: 7})
	var fail []jobs.RegionCoord
	for _, p := range probe.StartsIn(world.Overworld, igloo, 0, 0, req.Radius+1000) {
		fail = append(fail, jobs.RegionOf(p.X, p.Z))
	}
	h := newHarness(t, world.Config{Seed: 7, FailRegions: fail}, nil)

	rep, err := h.coordinator(nil).Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, rep.Structures, 2)
	for _, e := range rep.Structures {
		assert.Equal(t, "failed pass 3/3: chunk_load_failed", e.Error)
		assert.Empty(t, e.Chests)
	}
	assert.Len(t, rep.Unresolved, 2)

	ok, failed := rep.Counts()
	assert.Zero(t, ok)
	assert.Equal(t, 2, failed)
	assert.Equal(t, 2*MaxPasses, countPrefix(h.rec.take(), jobs.VerbExtractStart+" "))
}

func TestRunJobTimeout(t *testing.T) {
	h := newHarness(t, world.Config{Seed: 7, LoadLatency: 1 << 30}, nil)
	req := iglooRequest()
	req.MaxTargets = 1

	rep, err := h.coordinator(func(o *Options) {
		o.JobTimeout = 100 * time.Millisecond
	}).Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, rep.Structures, 1)
	assert.Equal(t, "timeout pass 3/3", rep.Structures[0].Error)
	assert.Equal(t, []string{rep.Structures[0].Key().String()}, rep.Unresolved)
}

func TestRunResume(t *testing.T) {
	h := newHarness(t, world.Config{Seed: 7}, nil)
	req := iglooRequest()
	coord := h.coordinator(nil)

	first, err := coord.Run(context.Background(), req)
	require.NoError(t, err)
	h.rec.take()

	req.Resume = make(map[report.Key]report.Entry)
	for _, e := range first.Structures {
		req.Resume[e.Key()] = e
	}

	second, err := coord.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.Targets, second.Resumed)
	assert.Empty(t, cmp.Diff(first.Structures, second.Structures))
	assert.Equal(t, first.ChunkStats, second.ChunkStats)
	assert.Zero(t, countPrefix(h.rec.take(), jobs.VerbExtractStart))
}

func TestRunRequeuesTimedOutCommands(t *testing.T) {
	tests := []struct {
		name   string
		verb   string
		stalls int32
	}{
		{"start", jobs.VerbExtractStart, 2},
		{"status", jobs.VerbExtractStatus, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, world.Config{Seed: 7}, stallFirst(tt.verb, tt.stalls, 1500*time.Millisecond))
			req := iglooRequest()

			rep, err := h.coordinator(func(o *Options) {
				o.StartTimeout = time.Second
				o.StatusTimeout = time.Second
			}).Run(context.Background(), req)
			require.NoError(t, err)
			require.Len(t, rep.Structures, req.MaxTargets)
			assertExtracted(t, h, rep, req.Radius)

			starts := countPrefix(h.rec.take(), jobs.VerbExtractStart+" ")
			assert.Equal(t, req.MaxTargets+int(tt.stalls), starts)
		})
	}
}

func TestRunRecoversInLaterPass(t *testing.T) {
	h := newHarness(t, world.Config{Seed: 7}, failFirstStart(jobs.ReasonLoadFailed))
	req := iglooRequest()

	rep, err := h.coordinator(nil).Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, rep.Structures, req.MaxTargets)
	assertExtracted(t, h, rep, req.Radius)
	assert.Equal(t, 25*req.MaxTargets, rep.ChunkStats.Requested)

	ok, failed := rep.Counts()
	assert.Equal(t, req.MaxTargets, ok)
	assert.Zero(t, failed)
	assert.Equal(t, req.MaxTargets+1, countPrefix(h.rec.take(), jobs.VerbExtractStart+" "))
}

func TestRunAbortsOnTransportError(t *testing.T) {
	h := newHarness(t, world.Config{Seed: 7}, nil)
	h.rec.failOn = jobs.VerbExtractStart
	req := iglooRequest()

	rep, err := h.coordinator(nil).Run(context.Background(), req)
	require.Error(t, err)
	require.NotNil(t, rep)
	require.NotEmpty(t, rep.Structures)
	for _, e := range rep.Structures {
		assert.Equal(t, "not attempted: connection reset", e.Error)
	}
	assert.Len(t, rep.Unresolved, len(rep.Structures))
	assert.Equal(t, 1, countPrefix(h.rec.take(), jobs.VerbExtractStart))
}

func TestRunValidatesRequest(t *testing.T) {
	coord := New(Options{})

	rep, err := coord.Run(context.Background(), Request{Radius: 0, Structures: []Structure{{ID: igloo}}})
	assert.Error(t, err)
	assert.Nil(t, rep)

	_, err = coord.Run(context.Background(), Request{Radius: 10})
	assert.Error(t, err)

	_, err = coord.Run(context.Background(), Request{Radius: 10, Structures: []Structure{{}}})
	assert.Error(t, err)
}
