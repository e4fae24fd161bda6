package listeners

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/INLOpen/pyramid/hooks"
)

// RetainAlerterListener warns when the controller had to keep showing an old
// frame because no level in the fallback chain had a file, and when a level
// file is missing from the pyramid directory.
type RetainAlerterListener struct {
	logger   *slog.Logger
	retained atomic.Int64
	missing  atomic.Int64
}

// NewRetainAlerterListener creates a listener for OnLoadRetained and OnLevelMissing.
func NewRetainAlerterListener(logger *slog.Logger) *RetainAlerterListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &RetainAlerterListener{logger: logger.With("component", "RetainAlerterListener")}
}

// OnEvent handles OnLoadRetained and OnLevelMissing events.
func (l *RetainAlerterListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	switch event.Type() {
	case hooks.EventOnLoadRetained:
		payload, ok := event.Payload().(hooks.RetainedPayload)
		if !ok {
			l.logger.Error("Received OnLoadRetained event with incorrect payload type", "payload_type", fmt.Sprintf("%T", event.Payload()))
			return nil
		}
		n := l.retained.Add(1)
		l.logger.WarnContext(ctx, "No level had data for the viewport, keeping previous frame",
			"window_min", payload.Window.Min,
			"window_max", payload.Window.Max,
			"tried_levels", fmt.Sprint(payload.Tried),
			"retained_total", n,
		)
	case hooks.EventOnLevelMissing:
		payload, ok := event.Payload().(hooks.LevelPayload)
		if !ok {
			l.logger.Error("Received OnLevelMissing event with incorrect payload type", "payload_type", fmt.Sprintf("%T", event.Payload()))
			return nil
		}
		l.missing.Add(1)
		l.logger.InfoContext(ctx, "Pyramid level file missing", "level", int(payload.Level), "path", payload.Path)
	}
	return nil
}

// Retained returns the number of retained loads seen so far.
func (l *RetainAlerterListener) Retained() int64 { return l.retained.Load() }

// Missing returns the number of missing-level notifications seen so far.
func (l *RetainAlerterListener) Missing() int64 { return l.missing.Load() }

// Priority defines the execution order.
func (l *RetainAlerterListener) Priority() int { return 50 }

// IsAsync reports false so counters are up to date when Trigger returns.
func (l *RetainAlerterListener) IsAsync() bool { return false }
