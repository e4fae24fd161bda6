package lod

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/INLOpen/pyramid/core"
	"github.com/INLOpen/pyramid/hooks"
)

// resultBuffer bounds completed loads waiting to be applied.
const resultBuffer = 4

// AsyncController moves loading to a background worker for slow or remote
// levels. Every request carries a sequence number; a completed load is
// applied only if no newer request has been issued since, otherwise it is
// dropped as stale.
//
// OnExtent, Poll and Wait must be called from a single goroutine, the one
// that owns the displayed state.
type AsyncController struct {
	*Controller

	fetchTimeout time.Duration
	requests     chan request
	results      chan result
	latest       atomic.Uint64

	// pending is the newest request without an applied result.
	pending *request

	startOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewAsyncController creates an AsyncController. fetchTimeout bounds a
// single load; zero means no limit. Start must be called before use.
func NewAsyncController(opts Options, fetchTimeout time.Duration) (*AsyncController, error) {
	c, err := NewController(opts)
	if err != nil {
		return nil, err
	}
	return &AsyncController{
		Controller:   c,
		fetchTimeout: fetchTimeout,
		requests:     make(chan request, 1),
		results:      make(chan result, resultBuffer),
	}, nil
}

// Start launches the background worker. It stops when ctx is cancelled or
// Stop is called.
func (a *AsyncController) Start(ctx context.Context) {
	a.startOnce.Do(func() {
		ctx, a.cancel = context.WithCancel(ctx)
		a.wg.Add(1)
		go a.worker(ctx)
	})
}

// Stop terminates the worker and waits for it to exit.
func (a *AsyncController) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}

// OnExtent applies any completed loads, then decides whether [tmin, tmax]
// needs a new frame and, if so, queues a request for the worker. While a
// request is in flight the decision is made against it rather than against
// the displayed state, so slow panning does not flood the worker.
func (a *AsyncController) OnExtent(ctx context.Context, tmin, tmax float64) (Outcome, error) {
	outcome, err := a.Poll(ctx)
	if err != nil {
		return outcome, err
	}

	baseline := a.State()
	if a.pending != nil {
		baseline = State{Loaded: true, Requested: a.pending.levels[0], Extent: a.pending.window}
	}
	req, ok, err := a.plan(tmin, tmax, baseline)
	if err != nil {
		return OutcomeUnchanged, err
	}
	if !ok {
		if a.pending != nil {
			return OutcomePending, nil
		}
		return outcome, nil
	}

	a.pending = &req
	a.latest.Store(req.seq)
	a.submit(ctx, req)
	return OutcomePending, nil
}

// submit hands req to the worker, replacing a queued request that has not
// been picked up yet.
func (a *AsyncController) submit(ctx context.Context, req request) {
	for {
		select {
		case a.requests <- req:
			return
		default:
		}
		select {
		case old := <-a.requests:
			a.dropStale(ctx, old.seq, old.levels[0])
		default:
		}
	}
}

// Poll applies every completed load without blocking. It reports the
// outcome of the freshest applied result, OutcomePending while a request is
// still in flight, or OutcomeUnchanged.
func (a *AsyncController) Poll(ctx context.Context) (Outcome, error) {
	outcome := OutcomeUnchanged
	for {
		select {
		case res := <-a.results:
			o, err := a.handle(ctx, res)
			if err != nil {
				return o, err
			}
			if o != OutcomeStale {
				outcome = o
			}
		default:
			if outcome == OutcomeUnchanged && a.pending != nil {
				return OutcomePending, nil
			}
			return outcome, nil
		}
	}
}

// Wait blocks until the newest request has been applied or ctx is done.
func (a *AsyncController) Wait(ctx context.Context) (Outcome, error) {
	for a.pending != nil {
		select {
		case res := <-a.results:
			o, err := a.handle(ctx, res)
			if o != OutcomeStale || err != nil {
				return o, err
			}
		case <-ctx.Done():
			return OutcomePending, ctx.Err()
		}
	}
	return OutcomeUnchanged, nil
}

func (a *AsyncController) handle(ctx context.Context, res result) (Outcome, error) {
	if res.req.seq != a.latest.Load() || errors.Is(res.err, core.ErrStaleResult) {
		a.dropStale(ctx, res.req.seq, res.req.levels[0])
		return OutcomeStale, nil
	}
	a.pending = nil
	return a.apply(ctx, res)
}

func (a *AsyncController) dropStale(ctx context.Context, seq uint64, level core.Level) {
	latest := a.latest.Load()
	a.metrics.Stale.Add(1)
	a.logger.Debug("Dropped stale load", "seq", seq, "latest", latest)
	a.trigger(ctx, hooks.NewOnStaleResultEvent(hooks.StalePayload{Seq: seq, Latest: latest, Level: level}))
}

func (a *AsyncController) worker(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-a.requests:
			var res result
			if req.seq != a.latest.Load() {
				// superseded while queued; skip the load
				res = result{req: req, err: core.ErrStaleResult}
			} else {
				res = a.loadWithTimeout(ctx, req)
			}
			select {
			case a.results <- res:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (a *AsyncController) loadWithTimeout(ctx context.Context, req request) result {
	if a.fetchTimeout <= 0 {
		return a.load(ctx, req)
	}
	ctx, cancel := context.WithTimeout(ctx, a.fetchTimeout)
	defer cancel()
	return a.load(ctx, req)
}
