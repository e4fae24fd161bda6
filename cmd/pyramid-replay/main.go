package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/INLOpen/pyramid/compressors"
	"github.com/INLOpen/pyramid/config"
	"github.com/INLOpen/pyramid/core"
	"github.com/INLOpen/pyramid/hooks"
	"github.com/INLOpen/pyramid/hooks/listeners"
	"github.com/INLOpen/pyramid/internal/observability"
	"github.com/INLOpen/pyramid/lod"
	"github.com/INLOpen/pyramid/normalize"
	"github.com/INLOpen/pyramid/recorder"
	"github.com/INLOpen/pyramid/server"
	"github.com/INLOpen/pyramid/store"
)

// viewer is satisfied by both the inline and the background controller.
type viewer interface {
	OnExtent(ctx context.Context, tmin, tmax float64) (lod.Outcome, error)
	Frame() *core.DisplayFrame
	State() lod.State
	Metrics() *lod.Metrics
}

// summary is what a replay produced.
type summary struct {
	Extents    int
	Outcomes   map[lod.Outcome]int
	Final      lod.State
	RecordPath string
	Frames     int64
}

// replay wires the streamer from cfg and feeds it extents in order, pausing
// between extents. It stops early when ctx is cancelled.
func replay(ctx context.Context, cfg *config.Config, extents []core.TimeWindow, pause time.Duration, logger *slog.Logger, tp trace.TracerProvider) (*summary, error) {
	sampleType, err := core.ParseSampleType(cfg.Pyramid.SampleType)
	if err != nil {
		return nil, err
	}

	publish := cfg.Debug.Enabled && cfg.Debug.MetricsEnabled

	hookManager := hooks.NewHookManager(logger)
	defer hookManager.Stop()
	retainAlerter := listeners.NewRetainAlerterListener(logger)
	hookManager.Register(hooks.EventOnLoadRetained, retainAlerter)
	hookManager.Register(hooks.EventOnLevelMissing, retainAlerter)
	hookManager.Register(hooks.EventOnFrameEmitted, listeners.NewFrameLoggerListener(logger))

	st, err := store.New(store.Options{
		Dir:            cfg.Pyramid.Dir,
		FilePattern:    cfg.Pyramid.FilePattern,
		Channels:       cfg.Pyramid.Channels,
		SampleType:     sampleType,
		MaxOpenLevels:  cfg.Store.MaxOpenLevels,
		Logger:         logger,
		TracerProvider: tp,
		HookManager:    hookManager,
		Metrics:        store.NewMetrics(publish, "pyramid_"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resolution store: %w", err)
	}
	defer st.Close()

	minLevel, maxLevel := core.Level(cfg.Pyramid.MinLevel), core.Level(cfg.Pyramid.MaxLevel)
	available, err := st.Available(ctx, maxLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to scan pyramid directory: %w", err)
	}
	logger.Info("Pyramid levels found", "dir", cfg.Pyramid.Dir, "levels", available.String())
	if cfg.Store.Preload {
		levels := make([]core.Level, 0, available.GetCardinality())
		it := available.Iterator()
		for it.HasNext() {
			if l := core.Level(it.Next()); l >= minLevel {
				levels = append(levels, l)
			}
		}
		if err := st.Preload(ctx, levels...); err != nil {
			return nil, err
		}
		logger.Info("Preloaded pyramid levels", "count", len(levels))
	}

	norm, err := normalize.New(cfg.Pyramid.ValueMin, cfg.Pyramid.ValueMax)
	if err != nil {
		return nil, err
	}

	sum := &summary{Outcomes: make(map[lod.Outcome]int)}
	var sink lod.FrameSink
	if cfg.Recorder.Enabled {
		comp, err := compressors.ForName(cfg.Recorder.Compression)
		if err != nil {
			return nil, fmt.Errorf("recorder: %w", err)
		}
		if err := os.MkdirAll(cfg.Recorder.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create recorder directory: %w", err)
		}
		rec, err := recorder.New(recorder.Options{Dir: cfg.Recorder.Dir, Compressor: comp, Logger: logger})
		if err != nil {
			return nil, err
		}
		defer func() {
			sum.Frames, _ = rec.Stats()
			if err := rec.Close(); err != nil {
				logger.Error("Failed to close recorder", "error", err)
			}
		}()
		sum.RecordPath = rec.Path()
		sink = rec
		logger.Info("Recording frames", "path", rec.Path(), "session", rec.SessionID().String(), "compression", comp.Type().String())
	}

	opts := lod.Options{
		Source:                  st,
		Mapper:                  core.NewIndexMapper(cfg.Pyramid.BaseSampleRate),
		Normalizer:              norm,
		Sink:                    sink,
		Capacity:                cfg.Display.Capacity,
		MinLevel:                minLevel,
		MaxLevel:                maxLevel,
		PadFraction:             cfg.Display.PadFraction,
		ReloadThresholdFraction: cfg.Display.ReloadThresholdFraction,
		PadValue:                float32(cfg.Display.PadValue),
		Logger:                  logger,
		TracerProvider:          tp,
		HookManager:             hookManager,
		Metrics:                 lod.NewMetrics(publish, "pyramid_"),
		Pool:                    core.NewValuePool(),
	}

	var v viewer
	var async *lod.AsyncController
	if cfg.Fetch.Async {
		async, err = lod.NewAsyncController(opts, config.ParseDuration(cfg.Fetch.Timeout, 2*time.Second, logger))
		if err != nil {
			return nil, err
		}
		async.Start(ctx)
		defer async.Stop()
		v = async
	} else {
		c, err := lod.NewController(opts)
		if err != nil {
			return nil, err
		}
		v = c
	}

	for _, w := range extents {
		if ctx.Err() != nil {
			break
		}
		outcome, err := v.OnExtent(ctx, w.Min, w.Max)
		sum.Extents++
		sum.Outcomes[outcome]++
		if err != nil {
			if core.IsCorruptFile(err) {
				return sum, err
			}
			logger.Error("Extent change failed", "window", w.String(), "outcome", outcome.String(), "error", err)
		}
		if pause > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(pause):
			}
		}
	}
	if async != nil && ctx.Err() == nil {
		outcome, err := async.Wait(ctx)
		if outcome != lod.OutcomeUnchanged {
			sum.Outcomes[outcome]++
		}
		if err != nil && core.IsCorruptFile(err) {
			return sum, err
		}
	}

	sum.Final = v.State()
	m := v.Metrics()
	logger.Info("Replay finished",
		"extents", sum.Extents,
		"refetches", m.Refetches.Value(),
		"retained", retainAlerter.Retained(),
		"stale", m.Stale.Value(),
		"level", int(sum.Final.Level),
		"refetch_p50_seconds", m.LatencyQuantile(0.5),
		"refetch_p99_seconds", m.LatencyQuantile(0.99),
	)
	return sum, nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

// run executes the command and returns the process exit code. Every
// resource it starts is released before it returns.
func run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("pyramid-replay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "config.yaml", "Path to the configuration file")
	scriptPath := fs.String("script", "", "File with one 'tmin tmax' extent per line; a generated sweep is used when empty")
	start := fs.Float64("start", 0, "Start time of the generated sweep in seconds")
	width := fs.Float64("width", 1, "Initial viewport width of the generated sweep in seconds")
	panSteps := fs.Int("pan-steps", 40, "Number of pan steps in the generated sweep")
	zoomSteps := fs.Int("zoom-steps", 12, "Number of zoom-out steps in the generated sweep")
	pause := fs.Duration("pause", 16*time.Millisecond, "Pause between extent changes")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Invalid configuration: %v\n", err)
		return 1
	}

	logger, logCloser, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	var extents []core.TimeWindow
	if *scriptPath != "" {
		f, err := os.Open(*scriptPath)
		if err != nil {
			logger.Error("Failed to open script", "path", *scriptPath, "error", err)
			return 1
		}
		extents, err = parseScript(f)
		f.Close()
		if err != nil {
			logger.Error("Failed to parse script", "path", *scriptPath, "error", err)
			return 1
		}
	} else {
		extents = sweep(*start, *width, *panSteps, 0.1, *zoomSteps, 1.5)
	}

	tp, tracerCleanup, err := observability.InitTracerProvider(cfg.Tracing, "pyramid-replay", logger)
	if err != nil {
		logger.Error("Failed to initialize tracer provider", "error", err)
		return 1
	}
	defer tracerCleanup()

	if cfg.Debug.Enabled {
		metricSrv := server.NewMetricsServer(cfg.Debug, logger)
		go func() {
			if err := metricSrv.Start(); err != nil {
				logger.Error("Failed to start metrics server", "error", err)
			}
		}()
		defer metricSrv.Stop()

		interval := config.ParseDuration(cfg.Debug.SystemMetricsInterval, 5*time.Second, logger)
		systemCollector := server.NewSystemCollector(cfg.Pyramid.Dir, interval, logger)
		systemCollector.Start()
		defer systemCollector.Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sum, err := replay(ctx, cfg, extents, *pause, logger, tp)
	if errors.Is(ctx.Err(), context.Canceled) {
		logger.Info("Shutdown signal received, replay interrupted.")
	}
	if err != nil {
		logger.Error("Replay failed", "error", err)
		return 1
	}
	if sum.RecordPath != "" {
		logger.Info("Frames recorded", "path", sum.RecordPath, "frames", sum.Frames)
	}
	return 0
}
