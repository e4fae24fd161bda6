// Package store opens and caches the per-level files of a resolution pyramid.
package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/INLOpen/pyramid/cache"
	"github.com/INLOpen/pyramid/core"
	"github.com/INLOpen/pyramid/hooks"
	"github.com/INLOpen/pyramid/sys"
)

// DefaultFilePattern names level files res_00.bin, res_01.bin, ...
const DefaultFilePattern = "res_%02d.bin"

// maxAcquireAttempts bounds how often Open retries a level that was evicted
// between being loaded and being handed to the caller.
const maxAcquireAttempts = 4

// Options configures a Store.
type Options struct {
	Dir         string
	FilePattern string
	Channels    int
	SampleType  core.SampleType
	// MaxOpenLevels bounds the number of mapped levels. Zero keeps every
	// opened level for the lifetime of the store.
	MaxOpenLevels int

	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
	HookManager    hooks.HookManager
	Metrics        *Metrics
}

// Store is the resolution store. It is safe for concurrent use.
type Store struct {
	dir        string
	pattern    string
	channels   int
	sampleType core.SampleType

	logger  *slog.Logger
	tracer  trace.Tracer
	hooks   hooks.HookManager
	metrics *Metrics

	mu      sync.Mutex
	levels  *cache.LRUCache[core.Level, *DataSet]
	missing *roaring.Bitmap
	evicted []*DataSet // pending OnLevelEvicted events, guarded by mu
	closed  bool

	group singleflight.Group
}

// New creates a Store. No file is touched until a level is opened.
func New(opts Options) (*Store, error) {
	if opts.Channels <= 0 {
		return nil, fmt.Errorf("channel count must be positive, got %d", opts.Channels)
	}
	if opts.SampleType.Size() == 0 {
		return nil, &core.UnsupportedTypeError{Message: opts.SampleType.String()}
	}
	if opts.FilePattern == "" {
		opts.FilePattern = DefaultFilePattern
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
	s := &Store{
		dir:        opts.Dir,
		pattern:    opts.FilePattern,
		channels:   opts.Channels,
		sampleType: opts.SampleType,
		logger:     logger.With("component", "ResolutionStore"),
		hooks:      hm,
		metrics:    metrics,
		missing:    roaring.New(),
	}
	if opts.TracerProvider != nil {
		s.tracer = opts.TracerProvider.Tracer("github.com/INLOpen/pyramid/store")
	} else {
		s.tracer = noop.NewTracerProvider().Tracer("")
	}
	s.levels = cache.NewLRUCache[core.Level, *DataSet](opts.MaxOpenLevels, s.onEvicted, nil, nil)
	s.levels.SetMetrics(metrics.CacheHits, metrics.CacheMisses)
	return s, nil
}

// Path returns the file that backs level.
func (s *Store) Path(level core.Level) string {
	return filepath.Join(s.dir, fmt.Sprintf(s.pattern, int(level)))
}

// Channels returns the channel count of every level.
func (s *Store) Channels() int { return s.channels }

// Open returns a referenced handle to level. The caller must Release it.
// A level without a backing file yields *core.MissingLevelError; a file
// whose size is not a whole number of samples yields *core.CorruptFileError.
func (s *Store) Open(ctx context.Context, level core.Level) (ds *DataSet, err error) {
	_, span := s.tracer.Start(ctx, "Store.Open", trace.WithAttributes(attribute.Int("pyramid.level", int(level))))
	defer func() {
		if err != nil && !core.IsMissingLevel(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "open failed")
		}
		span.SetAttributes(attribute.Bool("pyramid.level.missing", core.IsMissingLevel(err)))
		span.End()
	}()

	if level < 0 {
		return nil, fmt.Errorf("invalid level %d", level)
	}

	for attempt := 0; attempt < maxAcquireAttempts; attempt++ {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, core.ErrStoreClosed
		}
		if s.missing.Contains(uint32(level)) {
			s.mu.Unlock()
			return nil, &core.MissingLevelError{Level: level, Path: s.Path(level)}
		}
		cached, ok := s.levels.Get(level)
		s.mu.Unlock()
		if ok && cached.tryAcquire() {
			return cached, nil
		}

		v, err, _ := s.group.Do(strconv.Itoa(int(level)), func() (interface{}, error) {
			return s.load(ctx, level)
		})
		if err != nil {
			return nil, err
		}
		if loaded := v.(*DataSet); loaded.tryAcquire() {
			return loaded, nil
		}
		s.logger.Debug("Level evicted before it could be acquired, retrying", "level", level, "attempt", attempt)
	}
	return nil, fmt.Errorf("level %d kept being evicted while opening; max_open_levels too small for the number of concurrent readers", level)
}

// load maps the level file and inserts it into the cache. It runs at most
// once per level at a time.
func (s *Store) load(ctx context.Context, level core.Level) (*DataSet, error) {
	s.mu.Lock()
	if cached, ok := s.levels.Get(level); ok {
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	path := s.Path(level)
	exists, err := sys.Exists(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat level %d file %s: %w", level, path, err)
	}
	if !exists {
		s.mu.Lock()
		s.missing.Add(uint32(level))
		s.mu.Unlock()
		s.metrics.Missing.Add(1)
		s.logger.Debug("Level file absent", "level", level, "path", path)
		s.trigger(ctx, hooks.NewOnLevelMissingEvent(hooks.LevelPayload{Level: level, Path: path}))
		return nil, &core.MissingLevelError{Level: level, Path: path}
	}

	m, err := sys.MapFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open level %d: %w", level, err)
	}
	ds, err := newDataSet(level, path, s.channels, s.sampleType, m.Bytes(), m)
	if err != nil {
		_ = m.Close()
		if core.IsCorruptFile(err) {
			s.logger.Error("Corrupt level file", "level", level, "path", path, "error", err)
		}
		return nil, err
	}
	size := ds.Bytes()
	ds.onFree = func(*DataSet) { s.metrics.MappedBytes.Add(-size) }

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ds.Release()
		return nil, core.ErrStoreClosed
	}
	s.levels.Put(level, ds)
	evicted := s.takeEvicted()
	s.metrics.OpenLevels.Set(int64(s.levels.Len()))
	s.mu.Unlock()

	s.metrics.Opens.Add(1)
	s.metrics.MappedBytes.Add(size)
	s.logger.Debug("Opened level", "level", level, "path", path, "samples", ds.Samples(), "bytes", size, "mmap", sys.MapSupported)
	s.trigger(ctx, hooks.NewOnLevelOpenEvent(hooks.LevelPayload{Level: level, Path: path, Samples: ds.Samples(), Bytes: size}))
	s.fireEvicted(ctx, evicted)
	return ds, nil
}

// onEvicted is the cache eviction callback; it runs with s.mu held.
func (s *Store) onEvicted(_ core.Level, ds *DataSet) {
	s.evicted = append(s.evicted, ds)
}

// takeEvicted must be called with s.mu held.
func (s *Store) takeEvicted() []*DataSet {
	evicted := s.evicted
	s.evicted = nil
	return evicted
}

func (s *Store) fireEvicted(ctx context.Context, evicted []*DataSet) {
	for _, ds := range evicted {
		s.metrics.Evictions.Add(1)
		payload := hooks.LevelPayload{Level: ds.Level(), Path: ds.Path(), Samples: ds.Samples(), Bytes: ds.Bytes()}
		s.logger.Debug("Evicted level", "level", ds.Level())
		// drop the cache's reference; readers still holding the set keep it mapped
		ds.Release()
		s.trigger(ctx, hooks.NewOnLevelEvictedEvent(payload))
	}
}

func (s *Store) trigger(ctx context.Context, ev hooks.HookEvent) {
	if err := s.hooks.Trigger(ctx, ev); err != nil {
		s.logger.Warn("Hook listener failed", "event", ev.Type(), "error", err)
	}
}

// Refresh forgets which levels were found missing so the next Open checks
// the filesystem again.
func (s *Store) Refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.missing.Clear()
}

// Available returns the levels in [0, maxLevel] whose files exist.
func (s *Store) Available(ctx context.Context, maxLevel core.Level) (*roaring.Bitmap, error) {
	available := roaring.New()
	missing := roaring.New()
	for l := core.Level(0); l <= maxLevel; l++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := sys.Exists(s.Path(l))
		if err != nil {
			return nil, fmt.Errorf("failed to stat level %d: %w", l, err)
		}
		if ok {
			available.Add(uint32(l))
		} else {
			missing.Add(uint32(l))
		}
	}
	s.mu.Lock()
	s.missing.Or(missing)
	s.mu.Unlock()
	return available, nil
}

// Preload opens levels concurrently so the first viewport does not pay for
// mapping them. Missing levels are skipped; any other error is returned.
func (s *Store) Preload(ctx context.Context, levels ...core.Level) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, level := range levels {
		g.Go(func() error {
			ds, err := s.Open(gctx, level)
			if err != nil {
				if core.IsMissingLevel(err) {
					return nil
				}
				return fmt.Errorf("preload level %d: %w", level, err)
			}
			ds.Release()
			return nil
		})
	}
	return g.Wait()
}

// OpenLevels returns the currently mapped levels, most recently used first.
func (s *Store) OpenLevels() []core.Level {
	return s.levels.Keys()
}

// Close drops every cached level. Handles still held by readers stay valid
// until they are released.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.levels.Clear()
	evicted := s.takeEvicted()
	s.metrics.OpenLevels.Set(0)
	s.mu.Unlock()

	for _, ds := range evicted {
		ds.Release()
	}
	s.logger.Debug("Store closed", "released", len(evicted))
	return nil
}

var _ io.Closer = (*Store)(nil)

