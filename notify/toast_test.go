package notify

import (
	"sync"
	"testing"
	"time"
)

// manualTimers captures scheduled callbacks so tests fire them explicitly.
type manualTimers struct {
	mu    sync.Mutex
	funcs []func()
	waits []time.Duration
}

func (m *manualTimers) afterFunc(d time.Duration, fn func()) func() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs = append(m.funcs, fn)
	m.waits = append(m.waits, d)
	return func() bool { return true }
}

func (m *manualTimers) fire(i int) {
	m.mu.Lock()
	fn := m.funcs[i]
	m.mu.Unlock()
	fn()
}

func TestShow_VisibleUntilTimerFires(t *testing.T) {
	timers := &manualTimers{}
	n := New(2*time.Second, WithAfterFunc(timers.afterFunc))

	n.Success("Task saved")
	got := n.Current()
	if !got.Visible || got.Message != "Task saved" || got.Severity != SeveritySuccess {
		t.Fatalf("unexpected toast %+v", got)
	}
	if timers.waits[0] != 2*time.Second {
		t.Fatalf("expected 2s timer, got %v", timers.waits[0])
	}

	timers.fire(0)
	if n.Current().Visible {
		t.Fatal("toast should clear after its timer")
	}
}

func TestShow_OlderTimerDoesNotClearNewerToast(t *testing.T) {
	timers := &manualTimers{}
	n := New(time.Second, WithAfterFunc(timers.afterFunc))

	n.Error("Could not save task.")
	n.Info("Retrying")

	timers.fire(0)
	got := n.Current()
	if !got.Visible || got.Message != "Retrying" {
		t.Fatalf("newer toast was cleared by an older timer: %+v", got)
	}

	timers.fire(1)
	if n.Current().Visible {
		t.Fatal("newest timer should clear the toast")
	}
}

func TestDismiss(t *testing.T) {
	timers := &manualTimers{}
	n := New(0, WithAfterFunc(timers.afterFunc))
	if len(timers.waits) != 0 {
		t.Fatal("no timer before a toast")
	}

	var seen []Toast
	n.Subscribe(func(tt Toast) { seen = append(seen, tt) })

	n.Warning("Budget exceeded")
	n.Dismiss()
	if n.Current().Visible {
		t.Fatal("dismiss should hide the toast")
	}

	timers.fire(0)
	if len(seen) != 2 || !seen[0].Visible || seen[1].Visible {
		t.Fatalf("unexpected notifications %+v", seen)
	}
	if timers.waits[0] != DefaultDuration {
		t.Fatalf("expected default duration, got %v", timers.waits[0])
	}
}

func TestRealTimer(t *testing.T) {
	n := New(10 * time.Millisecond)
	done := make(chan struct{})
	n.Subscribe(func(tt Toast) {
		if !tt.Visible {
			close(done)
		}
	})

	n.Info("hello")
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("toast never cleared")
	}
}
