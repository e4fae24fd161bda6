package hooks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/INLOpen/pyramid/core"
)

// EventType defines the type of a hook event.
type EventType string

const (
	// Resolution store events
	EventOnLevelOpen    EventType = "OnLevelOpen"
	EventOnLevelMissing EventType = "OnLevelMissing"
	EventOnLevelEvicted EventType = "OnLevelEvicted"

	// Controller events
	EventPreRefetch     EventType = "PreRefetch"
	EventPostRefetch    EventType = "PostRefetch"
	EventOnFrameEmitted EventType = "OnFrameEmitted"
	EventOnLoadRetained EventType = "OnLoadRetained"
	EventOnStaleResult  EventType = "OnStaleResult"
)

// HookManager defines the interface for managing and triggering hooks.
type HookManager interface {
	// Register adds a listener for a specific event type.
	Register(eventType EventType, listener HookListener)
	// Trigger fires all registered listeners for a given event.
	// "Pre" events run synchronously and an error cancels the operation.
	Trigger(ctx context.Context, event HookEvent) error
	// Stop waits for all asynchronous listeners to complete.
	Stop()
}

// HookEvent is the interface that all event objects must implement.
type HookEvent interface {
	Type() EventType
	Payload() interface{}
}

// BaseEvent provides a base implementation for HookEvent.
type BaseEvent struct {
	eventType EventType
	payload   interface{}
}

func (e *BaseEvent) Type() EventType      { return e.eventType }
func (e *BaseEvent) Payload() interface{} { return e.payload }

// HookListener defines the interface for components that want to listen to events.
type HookListener interface {
	// OnEvent is called by the HookManager when a registered event is triggered.
	// Returning an error from a "Pre" hook cancels the operation; errors from
	// other hooks are logged.
	OnEvent(ctx context.Context, event HookEvent) error

	// Priority returns the listener's priority. Lower numbers are executed first.
	Priority() int

	// IsAsync indicates if the listener should be called asynchronously for non-Pre events.
	IsAsync() bool
}

// LevelPayload describes a resolution level file.
type LevelPayload struct {
	Level   core.Level
	Path    string
	Samples int64
	Bytes   int64
}

// NewOnLevelOpenEvent creates an event for a level file that was mapped.
func NewOnLevelOpenEvent(payload LevelPayload) HookEvent {
	return &BaseEvent{eventType: EventOnLevelOpen, payload: payload}
}

// NewOnLevelMissingEvent creates an event for a level whose file does not exist.
func NewOnLevelMissingEvent(payload LevelPayload) HookEvent {
	return &BaseEvent{eventType: EventOnLevelMissing, payload: payload}
}

// NewOnLevelEvictedEvent creates an event for a level dropped by the eviction policy.
func NewOnLevelEvictedEvent(payload LevelPayload) HookEvent {
	return &BaseEvent{eventType: EventOnLevelEvicted, payload: payload}
}

// PreRefetchPayload is passed to listeners before the controller loads a new frame.
// Window is a pointer so listeners may adjust the extent that will be fetched.
type PreRefetchPayload struct {
	Level  core.Level
	Window *core.TimeWindow
	Seq    uint64
}

// NewPreRefetchEvent creates an event for before a refetch.
func NewPreRefetchEvent(payload PreRefetchPayload) HookEvent {
	return &BaseEvent{eventType: EventPreRefetch, payload: payload}
}

// PostRefetchPayload reports the outcome of a refetch.
type PostRefetchPayload struct {
	Requested core.Level
	Loaded    core.Level
	Window    core.TimeWindow
	Seq       uint64
	Duration  time.Duration
	Error     error
}

// NewPostRefetchEvent creates an event for after a refetch completed or failed.
func NewPostRefetchEvent(payload PostRefetchPayload) HookEvent {
	return &BaseEvent{eventType: EventPostRefetch, payload: payload}
}

// FramePayload carries a frame handed to the renderer.
type FramePayload struct {
	Frame *core.DisplayFrame
}

// NewOnFrameEmittedEvent creates an event for a frame that was emitted to the sink.
func NewOnFrameEmittedEvent(payload FramePayload) HookEvent {
	return &BaseEvent{eventType: EventOnFrameEmitted, payload: payload}
}

// RetainedPayload reports a refetch where no candidate level had data, so the
// previous frame stays on screen.
type RetainedPayload struct {
	Window core.TimeWindow
	Tried  []core.Level
}

// NewOnLoadRetainedEvent creates an event for a load that kept the previous frame.
func NewOnLoadRetainedEvent(payload RetainedPayload) HookEvent {
	return &BaseEvent{eventType: EventOnLoadRetained, payload: payload}
}

// StalePayload reports a completed load superseded by a newer request.
type StalePayload struct {
	Seq    uint64
	Latest uint64
	Level  core.Level
}

// NewOnStaleResultEvent creates an event for a discarded stale load.
func NewOnStaleResultEvent(payload StalePayload) HookEvent {
	return &BaseEvent{eventType: EventOnStaleResult, payload: payload}
}

// listenerWithPriority wraps a listener with its cached priority.
type listenerWithPriority struct {
	listener HookListener
	priority int
}

// DefaultHookManager is a concrete implementation of HookManager.
type DefaultHookManager struct {
	// Listener slices are kept sorted by priority.
	listeners map[EventType][]*listenerWithPriority
	mu        sync.RWMutex
	wg        sync.WaitGroup
	logger    *slog.Logger
}

// NewHookManager creates a new DefaultHookManager.
func NewHookManager(logger *slog.Logger) HookManager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DefaultHookManager{
		listeners: make(map[EventType][]*listenerWithPriority),
		logger:    logger.With("component", "HookManager"),
	}
}

// Register adds a listener for a specific event type, maintaining priority order.
// Listeners with equal priority run in registration order.
func (m *DefaultHookManager) Register(eventType EventType, listener HookListener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := &listenerWithPriority{listener: listener, priority: listener.Priority()}
	l := m.listeners[eventType]
	idx := sort.Search(len(l), func(i int) bool {
		return l[i].priority > item.priority
	})
	l = append(l, nil)
	copy(l[idx+1:], l[idx:])
	l[idx] = item
	m.listeners[eventType] = l
}

// Trigger fires all registered listeners for a given event in priority order.
func (m *DefaultHookManager) Trigger(ctx context.Context, event HookEvent) error {
	m.mu.RLock()
	listeners := m.listeners[event.Type()]
	m.mu.RUnlock()

	if len(listeners) == 0 {
		return nil
	}

	isPreHook := strings.HasPrefix(string(event.Type()), "Pre")

	for _, item := range listeners {
		if isPreHook || !item.listener.IsAsync() {
			if isPreHook && item.listener.IsAsync() {
				m.logger.Warn("Listener for Pre-hook requested async execution, running synchronously", "event", event.Type(), "priority", item.priority)
			}
			if err := item.listener.OnEvent(ctx, event); err != nil {
				if isPreHook {
					return fmt.Errorf("pre-hook for event %s (priority %d) failed: %w", event.Type(), item.priority, err)
				}
				m.logger.Error("Error from synchronous hook listener", "event", event.Type(), "priority", item.priority, "error", err)
			}
			continue
		}

		m.wg.Add(1)
		go func(current *listenerWithPriority) {
			defer m.wg.Done()
			if err := current.listener.OnEvent(ctx, event); err != nil {
				m.logger.Error("Error from asynchronous hook listener", "event", event.Type(), "priority", current.priority, "error", err)
			}
		}(item)
	}
	return nil
}

// Stop waits for all asynchronous listeners to complete.
func (m *DefaultHookManager) Stop() {
	m.wg.Wait()
}
