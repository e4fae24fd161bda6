// Package lod chooses the pyramid level for a viewport and keeps the
// displayed frame in step with pan and zoom.
package lod

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/INLOpen/pyramid/core"
	"github.com/INLOpen/pyramid/extract"
	"github.com/INLOpen/pyramid/hooks"
	"github.com/INLOpen/pyramid/normalize"
	"github.com/INLOpen/pyramid/store"
)

const (
	DefaultPadFraction             = 0.5
	DefaultReloadThresholdFraction = 0.25
)

// LevelSource opens pyramid levels. *store.Store implements it.
type LevelSource interface {
	Open(ctx context.Context, level core.Level) (*store.DataSet, error)
	Channels() int
}

// Outcome describes what OnExtent did with a viewport change.
type Outcome int

const (
	// OutcomeUnchanged: the displayed frame still covers the viewport.
	OutcomeUnchanged Outcome = iota
	// OutcomeRefetched: a new frame was produced and emitted.
	OutcomeRefetched
	// OutcomeRetained: no level had data (or loading failed); the previous
	// frame stays on screen.
	OutcomeRetained
	// OutcomePending: a load was handed to the background worker.
	OutcomePending
	// OutcomeStale: a completed load was superseded and dropped.
	OutcomeStale
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeRefetched:
		return "refetched"
	case OutcomeRetained:
		return "retained"
	case OutcomePending:
		return "pending"
	case OutcomeStale:
		return "stale"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// State is what is currently displayed. Loaded is false until the first
// frame has been produced.
//
// Level and Window describe the displayed frame. Requested and Extent are
// the candidate level and padded extent that produced it; they differ from
// Level and Window after a fallback to a coarser level or a truncation, and
// the refetch decision is made against them.
type State struct {
	Level     core.Level
	Window    core.TimeWindow
	Loaded    bool
	Requested core.Level
	Extent    core.TimeWindow
}

// Options configures a Controller.
type Options struct {
	Source     LevelSource
	Mapper     core.IndexMapper
	Normalizer *normalize.Normalizer
	Sink       FrameSink

	// Capacity is the number of rows the display buffer holds.
	Capacity int
	MinLevel core.Level
	MaxLevel core.Level
	// PadFraction of the viewport width is fetched on each side.
	PadFraction float64
	// ReloadThresholdFraction of the cached window width the padded extent
	// may drift before a refetch.
	ReloadThresholdFraction float64
	PadValue                float32

	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
	HookManager    hooks.HookManager
	Metrics        *Metrics
	// Pool recycles extraction buffers. Optional.
	Pool *core.ValuePool
}

// request is a planned refetch.
type request struct {
	seq    uint64
	window core.TimeWindow // padded extent
	levels []core.Level    // candidates, finest first
}

// result is a completed load. frame is nil when every candidate was missing.
type result struct {
	req      request
	frame    *core.DisplayFrame
	tried    []core.Level
	duration time.Duration
	err      error
}

// Controller is the level-of-detail state machine. It starts idle and
// produces a frame for the first extent it sees. OnExtent must not be called
// concurrently; Frame and State may be called from any goroutine.
type Controller struct {
	source     LevelSource
	mapper     core.IndexMapper
	normalizer *normalize.Normalizer
	extractor  *extract.Extractor
	sink       FrameSink

	capacity  int
	minLevel  core.Level
	maxLevel  core.Level
	pad       float64
	threshold float64
	padValue  float32

	logger  *slog.Logger
	tracer  trace.Tracer
	hooks   hooks.HookManager
	metrics *Metrics

	seq atomic.Uint64

	mu    sync.RWMutex
	state State
	frame *core.DisplayFrame
}

// NewController validates opts and returns an idle controller.
func NewController(opts Options) (*Controller, error) {
	if opts.Source == nil {
		return nil, errors.New("lod: level source is required")
	}
	if opts.Normalizer == nil {
		return nil, errors.New("lod: normalizer is required")
	}
	if opts.Mapper.BaseSampleRate <= 0 || math.IsInf(opts.Mapper.BaseSampleRate, 0) {
		return nil, fmt.Errorf("lod: base sample rate must be positive, got %g", opts.Mapper.BaseSampleRate)
	}
	if opts.Capacity <= 0 {
		return nil, fmt.Errorf("lod: capacity must be positive, got %d", opts.Capacity)
	}
	if opts.MinLevel < 0 || opts.MaxLevel < opts.MinLevel {
		return nil, fmt.Errorf("lod: invalid level bounds [%d, %d]", opts.MinLevel, opts.MaxLevel)
	}
	if opts.PadFraction < 0 {
		return nil, fmt.Errorf("lod: pad fraction must not be negative, got %g", opts.PadFraction)
	}
	if opts.ReloadThresholdFraction < 0 {
		return nil, fmt.Errorf("lod: reload threshold must not be negative, got %g", opts.ReloadThresholdFraction)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	hm := opts.HookManager
	if hm == nil {
		hm = hooks.NewHookManager(logger)
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(false, "")
	}
	c := &Controller{
		source:     opts.Source,
		mapper:     opts.Mapper,
		normalizer: opts.Normalizer,
		extractor:  extract.New(opts.Pool),
		sink:       opts.Sink,
		capacity:   opts.Capacity,
		minLevel:   opts.MinLevel,
		maxLevel:   opts.MaxLevel,
		pad:        opts.PadFraction,
		threshold:  opts.ReloadThresholdFraction,
		padValue:   opts.PadValue,
		logger:     logger.With("component", "LODController"),
		hooks:      hm,
		metrics:    metrics,
	}
	if opts.TracerProvider != nil {
		c.tracer = opts.TracerProvider.Tracer("github.com/INLOpen/pyramid/lod")
	} else {
		c.tracer = noop.NewTracerProvider().Tracer("")
	}
	return c, nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Frame returns the last successfully produced frame, or nil while idle.
func (c *Controller) Frame() *core.DisplayFrame {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frame
}

// Metrics returns the controller's metrics.
func (c *Controller) Metrics() *Metrics { return c.metrics }

// OnExtent reacts to a viewport change to [tmin, tmax] seconds, loading a
// new frame inline when needed.
//
// A missing level falls back to coarser ones; when every candidate is
// missing the previous frame is kept and OutcomeRetained is returned without
// an error. A corrupt level file is returned as an error.
func (c *Controller) OnExtent(ctx context.Context, tmin, tmax float64) (Outcome, error) {
	req, ok, err := c.plan(tmin, tmax, c.State())
	if err != nil || !ok {
		return OutcomeUnchanged, err
	}
	res := c.load(ctx, req)
	return c.apply(ctx, res)
}

// plan decides whether [tmin, tmax] needs a refetch relative to baseline.
func (c *Controller) plan(tmin, tmax float64, baseline State) (request, bool, error) {
	w := core.TimeWindow{Min: tmin, Max: tmax}
	if !w.Valid() {
		return request{}, false, fmt.Errorf("%w: %v", core.ErrInvalidExtent, w)
	}
	c.metrics.Extents.Add(1)

	padded := w.Pad(c.pad)
	levels := Candidates(padded, c.capacity, c.minLevel, c.maxLevel, c.mapper)

	if !c.needsRefetch(baseline, levels[0], padded) {
		c.metrics.Unchanged.Add(1)
		return request{}, false, nil
	}
	return request{seq: c.seq.Add(1), window: padded, levels: levels}, true, nil
}

// needsRefetch applies the hysteresis rule: refetch when idle, when the
// candidate level changes, or when the padded extent's start has drifted by
// more than the threshold fraction of the extent last requested.
func (c *Controller) needsRefetch(st State, candidate core.Level, padded core.TimeWindow) bool {
	if !st.Loaded || candidate != st.Requested {
		return true
	}
	drift := math.Abs(padded.Min-st.Extent.Min) / st.Extent.Width()
	return drift > c.threshold
}

// load produces the frame for req. It does not touch controller state and
// may run on any goroutine.
func (c *Controller) load(ctx context.Context, req request) (res result) {
	res.req = req
	ctx, span := c.tracer.Start(ctx, "Controller.Refetch", trace.WithAttributes(
		attribute.Int64("lod.seq", int64(req.seq)),
		attribute.Int("lod.candidate_level", int(req.levels[0])),
		attribute.Float64("lod.window_min", req.window.Min),
		attribute.Float64("lod.window_max", req.window.Max),
	))
	start := time.Now()
	defer func() {
		res.duration = time.Since(start)
		if res.err != nil {
			span.RecordError(res.err)
			span.SetStatus(codes.Error, "refetch failed")
		} else if res.frame != nil {
			span.SetAttributes(
				attribute.Int("lod.level", int(res.frame.Level)),
				attribute.Int("lod.rows", res.frame.Rows),
			)
		}
		span.SetAttributes(attribute.Float64("duration_seconds", res.duration.Seconds()))
		span.End()
	}()

	window := req.window
	if err := c.hooks.Trigger(ctx, hooks.NewPreRefetchEvent(hooks.PreRefetchPayload{
		Level:  req.levels[0],
		Window: &window,
		Seq:    req.seq,
	})); err != nil {
		res.err = fmt.Errorf("refetch cancelled by pre-hook: %w", err)
		return res
	}
	// res.req stays as planned; it is the baseline for later refetch decisions
	fetch := req
	if window != req.window && window.Valid() {
		fetch.window = window
		fetch.levels = Candidates(window, c.capacity, c.minLevel, c.maxLevel, c.mapper)
	}

	for _, level := range fetch.levels {
		if err := ctx.Err(); err != nil {
			res.err = err
			break
		}
		ds, err := c.source.Open(ctx, level)
		if err != nil {
			if core.IsMissingLevel(err) {
				res.tried = append(res.tried, level)
				c.logger.Debug("Level missing, trying coarser", "level", level, "seq", req.seq)
				continue
			}
			res.err = fmt.Errorf("open level %d: %w", level, err)
			break
		}
		res.frame = c.buildFrame(ds, level, fetch)
		ds.Release()
		break
	}

	post := hooks.PostRefetchPayload{
		Requested: fetch.levels[0],
		Window:    fetch.window,
		Seq:       req.seq,
		Duration:  time.Since(start),
		Error:     res.err,
	}
	if res.frame != nil {
		post.Loaded = res.frame.Level
	} else {
		post.Loaded = -1
	}
	c.trigger(ctx, hooks.NewPostRefetchEvent(post))
	return res
}

// buildFrame extracts and normalizes the rows of req.window at level.
func (c *Controller) buildFrame(ds *store.DataSet, level core.Level, req request) *core.DisplayFrame {
	r := c.mapper.Range(level, req.window)
	window := req.window
	if r.Len() > int64(c.capacity) {
		// the coarsest level may still exceed capacity; keep the centre
		excess := r.Len() - int64(c.capacity)
		r.Start += excess / 2
		r.End = r.Start + int64(c.capacity)
		window = core.TimeWindow{Min: c.mapper.IndexToTime(level, r.Start), Max: c.mapper.IndexToTime(level, r.End)}
		c.metrics.Truncated.Add(1)
		c.logger.Debug("Frame exceeds capacity at the coarsest level, truncated", "level", level, "rows", r.Len(), "excess", excess)
	}
	if r.Len() <= 0 {
		// a window narrower than one sample still shows that sample
		r.End = r.Start + 1
	}

	block := c.extractor.Extract(ds, ds.Channels(), r.Start, r.End, c.padValue)
	data := c.normalizer.Block(block)
	c.extractor.Recycle(block)
	return core.NewDisplayFrame(data, ds.Channels(), c.capacity, r, window, req.seq)
}

// apply commits a completed load. Only the goroutine that owns the
// controller calls it.
func (c *Controller) apply(ctx context.Context, res result) (Outcome, error) {
	c.metrics.ObserveRefetch(res.duration)
	if res.err != nil {
		c.metrics.Errors.Add(1)
		c.logger.Error("Refetch failed, keeping previous frame", "seq", res.req.seq, "error", res.err)
		return OutcomeRetained, res.err
	}
	if res.frame == nil {
		c.metrics.Retained.Add(1)
		c.logger.Debug("No level had data, keeping previous frame", "seq", res.req.seq, "tried", res.tried)
		c.trigger(ctx, hooks.NewOnLoadRetainedEvent(hooks.RetainedPayload{Window: res.req.window, Tried: res.tried}))
		return OutcomeRetained, nil
	}

	frame := res.frame
	c.mu.Lock()
	c.state = State{
		Level:     frame.Level,
		Window:    frame.Window,
		Loaded:    true,
		Requested: res.req.levels[0],
		Extent:    res.req.window,
	}
	c.frame = frame
	c.mu.Unlock()

	c.metrics.Refetches.Add(1)
	c.metrics.CurrentLevel.Set(int64(frame.Level))
	c.metrics.FillFraction.Set(frame.FillFraction)
	c.logger.Debug("Refetched", "seq", frame.Seq, "level", frame.Level, "rows", frame.Rows, "window", frame.Window.String())

	if c.sink != nil {
		if err := c.sink.Upload(ctx, frame); err != nil {
			c.metrics.Errors.Add(1)
			return OutcomeRefetched, fmt.Errorf("upload frame %d: %w", frame.Seq, err)
		}
	}
	c.trigger(ctx, hooks.NewOnFrameEmittedEvent(hooks.FramePayload{Frame: frame}))
	return OutcomeRefetched, nil
}

func (c *Controller) trigger(ctx context.Context, ev hooks.HookEvent) {
	if err := c.hooks.Trigger(ctx, ev); err != nil {
		c.logger.Warn("Hook listener failed", "event", ev.Type(), "error", err)
	}
}
