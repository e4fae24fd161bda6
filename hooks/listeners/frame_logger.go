package listeners

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/INLOpen/pyramid/hooks"
)

// FrameLoggerListener logs every frame handed to the renderer at debug level.
type FrameLoggerListener struct {
	logger *slog.Logger
}

// NewFrameLoggerListener creates a listener for OnFrameEmitted events.
func NewFrameLoggerListener(logger *slog.Logger) *FrameLoggerListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &FrameLoggerListener{logger: logger.With("component", "FrameLoggerListener")}
}

// OnEvent handles the OnFrameEmitted event.
func (l *FrameLoggerListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	if event.Type() != hooks.EventOnFrameEmitted {
		return nil
	}
	payload, ok := event.Payload().(hooks.FramePayload)
	if !ok || payload.Frame == nil {
		l.logger.Error("Received OnFrameEmitted event with incorrect payload", "payload_type", fmt.Sprintf("%T", event.Payload()))
		return nil
	}
	f := payload.Frame
	l.logger.DebugContext(ctx, "Frame emitted",
		"seq", f.Seq,
		"level", int(f.Level),
		"rows", f.Rows,
		"fill_fraction", f.FillFraction,
		"window_min", f.Window.Min,
		"window_max", f.Window.Max,
	)
	return nil
}

// Priority defines the execution order.
func (l *FrameLoggerListener) Priority() int { return 100 }

// IsAsync indicates this listener can run in the background.
func (l *FrameLoggerListener) IsAsync() bool { return true }
