package lod

import (
	"context"

	"github.com/INLOpen/pyramid/core"
)

// FrameSink receives every frame the controller produces. Upload is called
// from the goroutine that applied the frame; frames are immutable.
type FrameSink interface {
	Upload(ctx context.Context, frame *core.DisplayFrame) error
}

// SinkFunc adapts a function to FrameSink.
type SinkFunc func(ctx context.Context, frame *core.DisplayFrame) error

func (f SinkFunc) Upload(ctx context.Context, frame *core.DisplayFrame) error { return f(ctx, frame) }

// MultiSink fans a frame out to several sinks, stopping at the first error.
type MultiSink []FrameSink

func (m MultiSink) Upload(ctx context.Context, frame *core.DisplayFrame) error {
	for _, s := range m {
		if err := s.Upload(ctx, frame); err != nil {
			return err
		}
	}
	return nil
}
