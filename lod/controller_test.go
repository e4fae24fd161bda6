package lod

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/INLOpen/pyramid/core"
	"github.com/INLOpen/pyramid/hooks"
	"github.com/INLOpen/pyramid/internal/testutil"
	"github.com/INLOpen/pyramid/normalize"
	"github.com/INLOpen/pyramid/store"
)

var allLevels = []core.Level{0, 1, 2, 3, 4}

func TestNewController_Validation(t *testing.T) {
	src := newFakeSource(2, 100, testutil.RowIndex, 0)
	mutate := []func(*Options){
		func(o *Options) { o.Source = nil },
		func(o *Options) { o.Normalizer = nil },
		func(o *Options) { o.Mapper = core.IndexMapper{} },
		func(o *Options) { o.Capacity = 0 },
		func(o *Options) { o.MinLevel = 5; o.MaxLevel = 2 },
		func(o *Options) { o.PadFraction = -1 },
		func(o *Options) { o.ReloadThresholdFraction = -0.1 },
	}
	for i, m := range mutate {
		opts := testOptions(t, src)
		m(&opts)
		_, err := NewController(opts)
		assert.Error(t, err, "case %d", i)
	}
}

func TestController_FirstExtentProducesFrame(t *testing.T) {
	src := newFakeSource(2, 2000, testutil.RowIndex, allLevels...)
	sink := &frameCollector{}
	opts := testOptions(t, src)
	opts.Sink = sink
	c, err := NewController(opts)
	require.NoError(t, err)

	assert.Nil(t, c.Frame())
	assert.False(t, c.State().Loaded)

	outcome, err := c.OnExtent(context.Background(), 2, 3)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRefetched, outcome)

	f := c.Frame()
	require.NotNil(t, f)
	assert.Equal(t, core.Level(0), f.Level)
	assert.Equal(t, core.SampleRange{Level: 0, Start: 150, End: 350}, f.Range)
	assert.Equal(t, 200, f.Rows)
	assert.Equal(t, 2, f.Channels)
	assert.Equal(t, 256, f.Capacity)
	assert.InDelta(t, 200.0/256.0, f.FillFraction, 1e-12)
	assert.Equal(t, uint8(38), f.At(0, 0))  // row 150
	assert.Equal(t, uint8(89), f.At(199, 1)) // row 349

	want := State{
		Level:     0,
		Window:    core.TimeWindow{Min: 1.5, Max: 3.5},
		Loaded:    true,
		Requested: 0,
		Extent:    core.TimeWindow{Min: 1.5, Max: 3.5},
	}
	if diff := cmp.Diff(want, c.State()); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, 1, sink.count())
	assert.Same(t, f, sink.frames[0])
	assert.Equal(t, int64(1), c.Metrics().Refetches.Value())
	assert.Equal(t, int64(0), c.Metrics().CurrentLevel.Value())
}

func TestController_Hysteresis(t *testing.T) {
	src := newFakeSource(2, 2000, testutil.RowIndex, allLevels...)
	c, err := NewController(testOptions(t, src))
	require.NoError(t, err)
	ctx := context.Background()

	outcome, err := c.OnExtent(ctx, 2, 3)
	require.NoError(t, err)
	require.Equal(t, OutcomeRefetched, outcome)
	first := c.Frame()

	// padded width is 2s, so up to 0.5s of drift is tolerated
	for _, start := range []float64{2.1, 2.2, 2.3, 2.4, 2.3, 2.05} {
		outcome, err := c.OnExtent(ctx, start, start+1)
		require.NoError(t, err)
		assert.Equal(t, OutcomeUnchanged, outcome, "start %g", start)
	}
	assert.Same(t, first, c.Frame())
	assert.Equal(t, 1, src.openCount(0))
	assert.Equal(t, int64(1), c.Metrics().Refetches.Value())
	assert.Equal(t, int64(6), c.Metrics().Unchanged.Value())

	outcome, err = c.OnExtent(ctx, 2.6, 3.6)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRefetched, outcome)
	assert.InDelta(t, 2.1, c.State().Window.Min, 1e-9)
}

func TestController_LevelChangeRefetches(t *testing.T) {
	src := newFakeSource(2, 2000, testutil.RowIndex, allLevels...)
	c, err := NewController(testOptions(t, src))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.OnExtent(ctx, 2, 3)
	require.NoError(t, err)

	// same start, ten times wider: 2000 padded samples need level 3
	outcome, err := c.OnExtent(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRefetched, outcome)

	f := c.Frame()
	assert.Equal(t, core.Level(3), f.Level)
	assert.Equal(t, core.SampleRange{Level: 3, Start: -63, End: 188}, f.Range)
	// rows before the recording are padding
	assert.Equal(t, uint8(0), f.At(0, 0))
	assert.Equal(t, uint8(0), f.At(62, 1))
}

func TestController_FallsBackToCoarserLevel(t *testing.T) {
	src := newFakeSource(2, 2000, testutil.RowIndex, 0, 1, 2, 4)
	events := hooks.NewHookManager(nil)
	counter := newEventCounter(events, hooks.EventPostRefetch)
	opts := testOptions(t, src)
	opts.HookManager = events
	c, err := NewController(opts)
	require.NoError(t, err)

	outcome, err := c.OnExtent(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRefetched, outcome)
	assert.Equal(t, core.Level(4), c.Frame().Level)
	assert.Equal(t, core.SampleRange{Level: 4, Start: -31, End: 94}, c.Frame().Range)
	assert.Equal(t, 1, src.openCount(3))

	post := counter.payload(hooks.EventPostRefetch).(hooks.PostRefetchPayload)
	assert.Equal(t, core.Level(3), post.Requested)
	assert.Equal(t, core.Level(4), post.Loaded)
	assert.NoError(t, post.Error)
}

func TestController_FallbackKeepsHysteresis(t *testing.T) {
	src := newFakeSource(2, 2000, testutil.RowIndex, 1, 2, 3, 4)
	sink := &frameCollector{}
	opts := testOptions(t, src)
	opts.Sink = sink
	c, err := NewController(opts)
	require.NoError(t, err)
	ctx := context.Background()

	outcome, err := c.OnExtent(ctx, 2, 3)
	require.NoError(t, err)
	require.Equal(t, OutcomeRefetched, outcome)
	st := c.State()
	assert.Equal(t, core.Level(1), st.Level)
	assert.Equal(t, core.Level(0), st.Requested)
	assert.Equal(t, core.TimeWindow{Min: 1.5, Max: 3.5}, st.Extent)

	for i := 0; i < 4; i++ {
		outcome, err := c.OnExtent(ctx, 2, 3)
		require.NoError(t, err)
		assert.Equal(t, OutcomeUnchanged, outcome, "repeat %d", i)
	}
	outcome, err = c.OnExtent(ctx, 2.3, 3.3)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)

	assert.Equal(t, 1, sink.count())
	assert.Equal(t, 1, src.openCount(0))
	assert.Equal(t, int64(1), c.Metrics().Refetches.Value())

	outcome, err = c.OnExtent(ctx, 2.6, 3.6)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRefetched, outcome)
	assert.Equal(t, 2, src.openCount(0))
	assert.Equal(t, core.Level(1), c.Frame().Level)
}

func TestController_RetainsFrameWhenAllLevelsMissing(t *testing.T) {
	src := newFakeSource(2, 2000, testutil.RowIndex, 0)
	events := hooks.NewHookManager(nil)
	counter := newEventCounter(events, hooks.EventOnLoadRetained, hooks.EventOnFrameEmitted)
	opts := testOptions(t, src)
	opts.HookManager = events
	c, err := NewController(opts)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.OnExtent(ctx, 2, 3)
	require.NoError(t, err)
	before, beforeState := c.Frame(), c.State()

	outcome, err := c.OnExtent(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetained, outcome)
	assert.Same(t, before, c.Frame())
	assert.Equal(t, beforeState, c.State())

	retained := counter.payload(hooks.EventOnLoadRetained).(hooks.RetainedPayload)
	assert.Equal(t, []core.Level{3, 4}, retained.Tried)
	assert.Equal(t, 1, counter.count(hooks.EventOnFrameEmitted))
	assert.Equal(t, int64(1), c.Metrics().Retained.Value())
}

func TestController_IdleWhenNothingAvailable(t *testing.T) {
	src := newFakeSource(2, 2000, testutil.RowIndex)
	c, err := NewController(testOptions(t, src))
	require.NoError(t, err)

	outcome, err := c.OnExtent(context.Background(), 2, 3)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetained, outcome)
	assert.Nil(t, c.Frame())
	assert.False(t, c.State().Loaded)
}

func TestController_CorruptLevelIsFatal(t *testing.T) {
	src := newFakeSource(2, 2000, testutil.RowIndex, allLevels...)
	c, err := NewController(testOptions(t, src))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.OnExtent(ctx, 2, 3)
	require.NoError(t, err)
	before := c.State()

	src.corrupt(0)
	outcome, err := c.OnExtent(ctx, 12, 13)
	require.Error(t, err)
	assert.True(t, core.IsCorruptFile(err))
	assert.Equal(t, OutcomeRetained, outcome)
	assert.Equal(t, before, c.State())
	// no fallback past a corrupt file
	assert.Equal(t, 0, src.openCount(1))
	assert.Equal(t, int64(1), c.Metrics().Errors.Value())
}

func TestController_InvalidExtent(t *testing.T) {
	src := newFakeSource(2, 2000, testutil.RowIndex, allLevels...)
	c, err := NewController(testOptions(t, src))
	require.NoError(t, err)

	for _, w := range [][2]float64{{2, 2}, {3, 1}, {math.NaN(), 1}, {0, math.Inf(1)}} {
		outcome, err := c.OnExtent(context.Background(), w[0], w[1])
		assert.ErrorIs(t, err, core.ErrInvalidExtent)
		assert.Equal(t, OutcomeUnchanged, outcome)
	}
	assert.False(t, c.State().Loaded)
	assert.Equal(t, int64(0), c.Metrics().Extents.Value())
}

func TestController_TruncatesAtCoarsestLevel(t *testing.T) {
	src := newFakeSource(1, 2000, testutil.RowIndex, 0, 1)
	opts := testOptions(t, src)
	opts.MaxLevel = 1
	c, err := NewController(opts)
	require.NoError(t, err)

	_, err = c.OnExtent(context.Background(), 0, 20)
	require.NoError(t, err)

	f := c.Frame()
	assert.Equal(t, core.Level(1), f.Level)
	assert.Equal(t, 256, f.Rows)
	assert.Equal(t, 1.0, f.FillFraction)
	assert.Equal(t, core.SampleRange{Level: 1, Start: 372, End: 628}, f.Range)
	assert.InDelta(t, 10, (f.Window.Min+f.Window.Max)/2, 1e-9)
	assert.Equal(t, int64(1), c.Metrics().Truncated.Value())
}

func TestController_TruncationKeepsHysteresis(t *testing.T) {
	src := newFakeSource(1, 2000, testutil.RowIndex, 0, 1)
	sink := &frameCollector{}
	opts := testOptions(t, src)
	opts.MaxLevel = 1
	opts.Sink = sink
	c, err := NewController(opts)
	require.NoError(t, err)
	ctx := context.Background()

	outcome, err := c.OnExtent(ctx, 0, 20)
	require.NoError(t, err)
	require.Equal(t, OutcomeRefetched, outcome)
	// the frame shows the centre, the baseline stays the padded extent
	assert.InDelta(t, 7.44, c.State().Window.Min, 1e-9)
	assert.Equal(t, core.TimeWindow{Min: -10, Max: 30}, c.State().Extent)

	for _, start := range []float64{0, 0, 0, 0.5, -1} {
		outcome, err := c.OnExtent(ctx, start, start+20)
		require.NoError(t, err)
		assert.Equal(t, OutcomeUnchanged, outcome, "start %g", start)
	}
	assert.Equal(t, 1, sink.count())
	assert.Equal(t, int64(1), c.Metrics().Truncated.Value())

	outcome, err = c.OnExtent(ctx, 11, 31)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRefetched, outcome)
	assert.Equal(t, 2, sink.count())
}

func TestController_NarrowWindowShowsOneSample(t *testing.T) {
	src := newFakeSource(2, 2000, testutil.RowIndex, allLevels...)
	c, err := NewController(testOptions(t, src))
	require.NoError(t, err)

	_, err = c.OnExtent(context.Background(), 1, 1.001)
	require.NoError(t, err)
	f := c.Frame()
	assert.Equal(t, 1, f.Rows)
	assert.Greater(t, f.FillFraction, 0.0)
}

func TestController_SinkError(t *testing.T) {
	src := newFakeSource(2, 2000, testutil.RowIndex, allLevels...)
	opts := testOptions(t, src)
	boom := errors.New("upload failed")
	opts.Sink = SinkFunc(func(context.Context, *core.DisplayFrame) error { return boom })
	c, err := NewController(opts)
	require.NoError(t, err)

	outcome, err := c.OnExtent(context.Background(), 2, 3)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, OutcomeRefetched, outcome)
	assert.NotNil(t, c.Frame())
}

type cancelRefetch struct{}

func (cancelRefetch) OnEvent(context.Context, hooks.HookEvent) error { return errors.New("not now") }
func (cancelRefetch) Priority() int                                  { return 1 }
func (cancelRefetch) IsAsync() bool                                  { return false }

func TestController_PreRefetchHookCancels(t *testing.T) {
	src := newFakeSource(2, 2000, testutil.RowIndex, allLevels...)
	events := hooks.NewHookManager(nil)
	events.Register(hooks.EventPreRefetch, cancelRefetch{})
	opts := testOptions(t, src)
	opts.HookManager = events
	c, err := NewController(opts)
	require.NoError(t, err)

	_, err = c.OnExtent(context.Background(), 2, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not now")
	assert.Nil(t, c.Frame())
	assert.Equal(t, 0, src.openCount(0))
}

type widenRefetch struct{}

func (widenRefetch) OnEvent(_ context.Context, ev hooks.HookEvent) error {
	p := ev.Payload().(hooks.PreRefetchPayload)
	p.Window.Min -= 8
	p.Window.Max += 8
	return nil
}
func (widenRefetch) Priority() int { return 1 }
func (widenRefetch) IsAsync() bool { return false }

func TestController_PreRefetchHookAdjustsWindow(t *testing.T) {
	src := newFakeSource(2, 2000, testutil.RowIndex, allLevels...)
	events := hooks.NewHookManager(nil)
	events.Register(hooks.EventPreRefetch, widenRefetch{})
	opts := testOptions(t, src)
	opts.HookManager = events
	c, err := NewController(opts)
	require.NoError(t, err)

	_, err = c.OnExtent(context.Background(), 2, 3)
	require.NoError(t, err)
	// 18s padded window needs level 3
	assert.Equal(t, core.Level(3), c.Frame().Level)
	assert.Equal(t, core.TimeWindow{Min: -6.5, Max: 11.5}, c.State().Window)

	// the adjusted fetch does not move the baseline away from the viewport
	assert.Equal(t, core.Level(0), c.State().Requested)
	outcome, err := c.OnExtent(context.Background(), 2, 3)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)
}

func TestController_RefetchSpan(t *testing.T) {
	src := newFakeSource(2, 2000, testutil.RowIndex, allLevels...)
	sr := tracetest.NewSpanRecorder()
	opts := testOptions(t, src)
	opts.TracerProvider = sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	c, err := NewController(opts)
	require.NoError(t, err)

	_, err = c.OnExtent(context.Background(), 2, 3)
	require.NoError(t, err)
	_, err = c.OnExtent(context.Background(), 2.01, 3.01)
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "Controller.Refetch", spans[0].Name())
}

// Near a level boundary the sample count of a fixed-width window differs by
// one depending on where it starts, so slow panning can alternate between two
// levels. Every alternation is a refetch regardless of the drift threshold.
func TestController_LevelBoundaryOscillation(t *testing.T) {
	src := newFakeSource(1, 1000, testutil.RowIndex, 0, 1)
	n, err := normalize.New(0, 1000)
	require.NoError(t, err)
	c, err := NewController(Options{
		Source:                  src,
		Mapper:                  core.NewIndexMapper(100),
		Normalizer:              n,
		Capacity:                100,
		MaxLevel:                1,
		PadFraction:             0,
		ReloadThresholdFraction: DefaultReloadThresholdFraction,
	})
	require.NoError(t, err)
	ctx := context.Background()

	seen := map[core.Level]bool{}
	changes := 0
	prev := core.Level(-1)
	for k := 0; k < 9; k++ {
		start := float64(k) * 0.0025
		_, err := c.OnExtent(ctx, start, start+1.005)
		require.NoError(t, err)
		l := c.State().Level
		seen[l] = true
		if l != prev {
			changes++
		}
		prev = l
		switch k {
		case 1, 5:
			assert.Equal(t, core.Level(1), l, "k=%d", k)
		case 3, 7:
			assert.Equal(t, core.Level(0), l, "k=%d", k)
		}
	}
	assert.True(t, seen[0] && seen[1])
	assert.GreaterOrEqual(t, changes, 4)
	assert.Equal(t, int64(changes), c.Metrics().Refetches.Value())
}

func TestController_RecordingScenario(t *testing.T) {
	const channels = 384
	dir := t.TempDir()
	base := int64(1500 * 2500)
	for _, l := range []core.Level{10, 11} {
		testutil.WriteLevel(t, dir, store.DefaultFilePattern, l, core.SampleFloat16,
			int(testutil.LevelRows(base, l)), channels, func(core.Level, int, int) float32 { return 0 })
	}
	s, err := store.New(store.Options{Dir: dir, Channels: channels, SampleType: core.SampleFloat16})
	require.NoError(t, err)
	defer s.Close()

	n, err := normalize.New(-5e-4, 5e-4)
	require.NoError(t, err)
	opts := Options{
		Source:                  s,
		Mapper:                  core.NewIndexMapper(2500),
		Normalizer:              n,
		Capacity:                2048,
		MaxLevel:                11,
		ReloadThresholdFraction: DefaultReloadThresholdFraction,
	}

	c, err := NewController(opts)
	require.NoError(t, err)
	_, err = c.OnExtent(context.Background(), 1000, 1500)
	require.NoError(t, err)
	assert.Equal(t, core.Level(10), c.Frame().Level)
	assert.Equal(t, 1221, c.Frame().Rows)
	assert.Equal(t, uint8(128), c.Frame().At(0, 0))

	// without the level-10 file the next coarser level is used
	require.NoError(t, os.Remove(s.Path(10)))
	s2, err := store.New(store.Options{Dir: dir, Channels: channels, SampleType: core.SampleFloat16})
	require.NoError(t, err)
	defer s2.Close()
	opts.Source = s2
	c, err = NewController(opts)
	require.NoError(t, err)
	_, err = c.OnExtent(context.Background(), 1000, 1500)
	require.NoError(t, err)
	assert.Equal(t, core.Level(11), c.Frame().Level)
}
