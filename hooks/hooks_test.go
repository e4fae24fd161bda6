package hooks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/INLOpen/pyramid/core"
)

// mockListener is a mock implementation of HookListener for testing.
type mockListener struct {
	priority    int
	callSignal  chan string
	callOrder   *[]string
	name        string
	returnErr   error
	isAsync     bool
	onEventFunc func(event HookEvent)
	workDelay   time.Duration
}

func (m *mockListener) OnEvent(ctx context.Context, event HookEvent) error {
	if m.workDelay > 0 {
		time.Sleep(m.workDelay)
	}
	if m.onEventFunc != nil {
		m.onEventFunc(event)
	}
	if m.callOrder != nil {
		*m.callOrder = append(*m.callOrder, m.name)
	}
	if m.callSignal != nil {
		m.callSignal <- m.name
	}
	return m.returnErr
}

func (m *mockListener) Priority() int { return m.priority }
func (m *mockListener) IsAsync() bool { return m.isAsync }

func TestNewHookManager(t *testing.T) {
	manager := NewHookManager(nil)
	defaultManager, ok := manager.(*DefaultHookManager)
	if !ok {
		t.Fatalf("NewHookManager did not return a *DefaultHookManager")
	}
	if defaultManager.listeners == nil {
		t.Error("Expected listeners map to be initialized, but it was nil")
	}
	if defaultManager.logger == nil {
		t.Error("Expected logger to be initialized, but it was nil")
	}
}

func TestDefaultHookManager_Register(t *testing.T) {
	manager := NewHookManager(nil).(*DefaultHookManager)

	manager.Register(EventPreRefetch, &mockListener{name: "p10", priority: 10})
	manager.Register(EventPreRefetch, &mockListener{name: "p1", priority: 1})
	manager.Register(EventPreRefetch, &mockListener{name: "p5a", priority: 5})
	manager.Register(EventPreRefetch, &mockListener{name: "p5b", priority: 5})

	listeners := manager.listeners[EventPreRefetch]
	want := []string{"p1", "p5a", "p5b", "p10"}
	if len(listeners) != len(want) {
		t.Fatalf("Expected %d listeners, got %d", len(want), len(listeners))
	}
	for i, name := range want {
		if got := listeners[i].listener.(*mockListener).name; got != name {
			t.Errorf("Order mismatch at %d: got %s, want %s", i, got, name)
		}
	}
}

func TestDefaultHookManager_Trigger_PreHook(t *testing.T) {
	t.Run("runs in priority order and stops on error", func(t *testing.T) {
		manager := NewHookManager(nil)
		callOrder := make([]string, 0)
		simulatedErr := errors.New("veto")

		manager.Register(EventPreRefetch, &mockListener{name: "late", priority: 10, callOrder: &callOrder})
		manager.Register(EventPreRefetch, &mockListener{name: "first", priority: 1, callOrder: &callOrder})
		manager.Register(EventPreRefetch, &mockListener{name: "veto", priority: 5, callOrder: &callOrder, returnErr: simulatedErr})

		w := core.TimeWindow{Min: 0, Max: 1}
		err := manager.Trigger(context.Background(), NewPreRefetchEvent(PreRefetchPayload{Level: 2, Window: &w, Seq: 1}))
		if !errors.Is(err, simulatedErr) {
			t.Fatalf("Trigger returned wrong error. Got %v, want %v", err, simulatedErr)
		}
		if len(callOrder) != 2 || callOrder[0] != "first" || callOrder[1] != "veto" {
			t.Errorf("Unexpected call order %v", callOrder)
		}
	})

	t.Run("allows payload modification", func(t *testing.T) {
		manager := NewHookManager(nil)
		manager.Register(EventPreRefetch, &mockListener{
			priority: 1,
			isAsync:  true, // ignored for Pre hooks
			onEventFunc: func(event HookEvent) {
				if p, ok := event.Payload().(PreRefetchPayload); ok {
					p.Window.Max = 42
				}
			},
		})
		w := core.TimeWindow{Min: 0, Max: 1}
		if err := manager.Trigger(context.Background(), NewPreRefetchEvent(PreRefetchPayload{Window: &w})); err != nil {
			t.Fatalf("Trigger returned an unexpected error: %v", err)
		}
		if w.Max != 42 {
			t.Errorf("Expected window to be modified, got %v", w)
		}
	})
}

func TestDefaultHookManager_Trigger_PostHook(t *testing.T) {
	manager := NewHookManager(nil)
	signal := make(chan string, 1)
	callOrder := make([]string, 0)

	manager.Register(EventPostRefetch, &mockListener{name: "async", priority: 10, isAsync: true, callSignal: signal})
	manager.Register(EventPostRefetch, &mockListener{name: "sync_err", priority: 1, callOrder: &callOrder, returnErr: errors.New("ignored")})
	manager.Register(EventPostRefetch, &mockListener{name: "sync", priority: 2, callOrder: &callOrder})

	if err := manager.Trigger(context.Background(), NewPostRefetchEvent(PostRefetchPayload{})); err != nil {
		t.Fatalf("Trigger should not return errors for post hooks, got %v", err)
	}
	if len(callOrder) != 2 {
		t.Errorf("Expected both synchronous listeners to run, got %v", callOrder)
	}
	select {
	case name := <-signal:
		if name != "async" {
			t.Errorf("Received signal from wrong listener %s", name)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for async listener to be called")
	}
	manager.Stop()
}

func TestDefaultHookManager_NoListeners(t *testing.T) {
	manager := NewHookManager(nil)
	if err := manager.Trigger(context.Background(), NewOnStaleResultEvent(StalePayload{Seq: 1, Latest: 2})); err != nil {
		t.Fatalf("Trigger returned an unexpected error with no listeners: %v", err)
	}
}

func TestDefaultHookManager_Stop(t *testing.T) {
	manager := NewHookManager(nil)
	var completed atomic.Bool
	delay := 50 * time.Millisecond

	manager.Register(EventOnFrameEmitted, &mockListener{
		priority:    1,
		isAsync:     true,
		workDelay:   delay,
		onEventFunc: func(HookEvent) { completed.Store(true) },
	})
	_ = manager.Trigger(context.Background(), NewOnFrameEmittedEvent(FramePayload{}))

	start := time.Now()
	manager.Stop()
	if time.Since(start) < delay/2 {
		t.Errorf("Stop() returned before the async listener could finish")
	}
	if !completed.Load() {
		t.Error("Listener did not complete its work before Stop() returned")
	}
}

func BenchmarkTrigger_PostHook_Sync(b *testing.B) {
	manager := NewHookManager(nil)
	for i := 0; i < 4; i++ {
		manager.Register(EventOnFrameEmitted, &mockListener{priority: i})
	}
	event := NewOnFrameEmittedEvent(FramePayload{})
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = manager.Trigger(ctx, event)
	}
}
