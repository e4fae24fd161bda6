package lod

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/INLOpen/pyramid/core"
	"github.com/INLOpen/pyramid/hooks"
	"github.com/INLOpen/pyramid/internal/testutil"
	"github.com/INLOpen/pyramid/normalize"
	"github.com/INLOpen/pyramid/store"
)

// fakeSource serves float32 levels from memory.
type fakeSource struct {
	mu       sync.Mutex
	channels int
	levels   map[core.Level][]byte
	opens    map[core.Level]int

	// gate, when set, blocks Open until it is closed.
	gate    chan struct{}
	entered chan core.Level
}

func newFakeSource(channels int, baseRows int64, fn testutil.ValueFunc, levels ...core.Level) *fakeSource {
	f := &fakeSource{
		channels: channels,
		levels:   make(map[core.Level][]byte),
		opens:    make(map[core.Level]int),
	}
	for _, l := range levels {
		rows := int(testutil.LevelRows(baseRows, l))
		f.levels[l] = testutil.Encode(core.SampleFloat32, testutil.LevelValues(l, rows, channels, fn))
	}
	return f
}

// corrupt replaces level with data that is not a whole number of samples.
func (f *fakeSource) corrupt(level core.Level) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.levels[level] = make([]byte, f.channels*4+1)
}

func (f *fakeSource) remove(level core.Level) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.levels, level)
}

func (f *fakeSource) Channels() int { return f.channels }

func (f *fakeSource) Open(ctx context.Context, level core.Level) (*store.DataSet, error) {
	f.mu.Lock()
	f.opens[level]++
	data, ok := f.levels[level]
	gate, entered := f.gate, f.entered
	f.mu.Unlock()

	if entered != nil {
		entered <- level
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return nil, &core.MissingLevelError{Level: level, Path: "memory"}
	}
	return store.NewDataSet(level, f.channels, core.SampleFloat32, data)
}

func (f *fakeSource) openCount(level core.Level) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens[level]
}

// frameCollector is a FrameSink that keeps every uploaded frame.
type frameCollector struct {
	mu     sync.Mutex
	frames []*core.DisplayFrame
}

func (s *frameCollector) Upload(_ context.Context, f *core.DisplayFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

func (s *frameCollector) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// eventCounter counts hook events by type.
type eventCounter struct {
	mu     sync.Mutex
	counts map[hooks.EventType]int
	last   map[hooks.EventType]interface{}
}

func newEventCounter(hm hooks.HookManager, types ...hooks.EventType) *eventCounter {
	c := &eventCounter{counts: make(map[hooks.EventType]int), last: make(map[hooks.EventType]interface{})}
	for _, et := range types {
		hm.Register(et, c)
	}
	return c
}

func (c *eventCounter) OnEvent(_ context.Context, ev hooks.HookEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[ev.Type()]++
	c.last[ev.Type()] = ev.Payload()
	return nil
}
func (c *eventCounter) Priority() int { return 10 }
func (c *eventCounter) IsAsync() bool { return false }

func (c *eventCounter) count(et hooks.EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[et]
}

func (c *eventCounter) payload(et hooks.EventType) interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last[et]
}

// testOptions: 100 Hz, 2 channels, capacity 256, levels 0..4, values equal
// to the row index normalized over [0, 1000].
func testOptions(t *testing.T, src LevelSource) Options {
	t.Helper()
	n, err := normalize.New(0, 1000)
	require.NoError(t, err)
	return Options{
		Source:                  src,
		Mapper:                  core.NewIndexMapper(100),
		Normalizer:              n,
		Capacity:                256,
		MinLevel:                0,
		MaxLevel:                4,
		PadFraction:             DefaultPadFraction,
		ReloadThresholdFraction: DefaultReloadThresholdFraction,
	}
}
