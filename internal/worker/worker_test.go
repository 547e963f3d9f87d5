package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu      sync.Mutex
	signals []Signal
}

func (r *recorder) emit(s Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, s)
}

func (r *recorder) kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.signals))
	for i, s := range r.signals {
		out[i] = s.Kind
	}
	return out
}

func (r *recorder) last() Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.signals[len(r.signals)-1]
}

// blockUntilCancel is a launcher that signals ready and waits for a stop request.
func blockUntilCancel(ctx context.Context, _ string, ready func()) error {
	ready()
	<-ctx.Done()
	return nil
}

func waitDone(t *testing.T, w *Worker) {
	t.Helper()
	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not finish")
	}
}

func TestRunCleanShutdown(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	w := New("/tmp/conf", LauncherFunc(blockUntilCancel), NewSlot(), rec.emit)

	go w.Run()

	deadline := time.Now().Add(5 * time.Second)
	for !w.Alive() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	w.RequestStop()
	waitDone(t, w)

	kinds := rec.kinds()
	if len(kinds) != 2 || kinds[0] != KindLaunched || kinds[1] != KindTerminated {
		t.Fatalf("expected [launched terminated], got %v", kinds)
	}
	if w.Status() != StatusTerminated {
		t.Errorf("expected terminated, got %v", w.Status())
	}
	if w.Alive() {
		t.Error("expected worker not alive after exit")
	}
}

func TestRunFailureReportsCrash(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	w := New("/tmp/conf", LauncherFunc(func(context.Context, string, func()) error {
		return errors.New("bind: address already in use")
	}), NewSlot(), rec.emit)

	if err := w.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	kinds := rec.kinds()
	if len(kinds) != 1 || kinds[0] != KindCrashed {
		t.Fatalf("expected [crashed], got %v", kinds)
	}
	if got := rec.last().Detail; got != "bind: address already in use" {
		t.Errorf("expected crash detail, got %q", got)
	}
	if w.Status() != StatusCrashed {
		t.Errorf("expected crashed, got %v", w.Status())
	}
	if w.Detail() != "bind: address already in use" {
		t.Errorf("expected Detail to match, got %q", w.Detail())
	}
}

func TestRunRecoversPanic(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	w := New("", LauncherFunc(func(context.Context, string, func()) error {
		panic("boom")
	}), NewSlot(), rec.emit)

	w.Run()

	if got := rec.last(); got.Kind != KindCrashed || got.Detail != "server panicked: boom" {
		t.Fatalf("expected crash from panic, got %v", got)
	}
}

func TestRunOnlyOnce(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	w := New("", LauncherFunc(func(context.Context, string, func()) error { return nil }), NewSlot(), rec.emit)

	if err := w.Run(); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if err := w.Run(); !errors.Is(err, ErrAlreadyRun) {
		t.Fatalf("expected ErrAlreadyRun, got %v", err)
	}
	if n := len(rec.kinds()); n != 1 {
		t.Errorf("expected one signal, got %d", n)
	}
}

func TestReadyAtMostOnce(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	w := New("", LauncherFunc(func(_ context.Context, _ string, ready func()) error {
		ready()
		ready()
		return nil
	}), NewSlot(), rec.emit)

	w.Run()

	kinds := rec.kinds()
	if len(kinds) != 2 || kinds[0] != KindLaunched {
		t.Fatalf("expected one launched then terminal, got %v", kinds)
	}
}

func TestLateReadyIsDropped(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	var saved func()
	w := New("", LauncherFunc(func(_ context.Context, _ string, ready func()) error {
		saved = ready
		return nil
	}), NewSlot(), rec.emit)

	w.Run()
	saved()

	kinds := rec.kinds()
	if len(kinds) != 1 || kinds[0] != KindTerminated {
		t.Fatalf("expected only terminated, got %v", kinds)
	}
}

func TestSlotRejectsSecondWorker(t *testing.T) {
	t.Parallel()
	slot := NewSlot()
	first := New("", LauncherFunc(blockUntilCancel), slot, func(Signal) {})
	go first.Run()

	deadline := time.Now().Add(5 * time.Second)
	for slot.Active() != first && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	called := false
	rec := &recorder{}
	second := New("", LauncherFunc(func(context.Context, string, func()) error {
		called = true
		return nil
	}), slot, rec.emit)
	second.Run()

	if called {
		t.Error("expected launcher not to be called")
	}
	if got := rec.last(); got.Kind != KindCrashed || got.Detail != "another instance is active" {
		t.Fatalf("expected another-instance crash, got %v", got)
	}

	first.RequestStop()
	waitDone(t, first)
	if slot.Active() != nil {
		t.Error("expected slot released after exit")
	}
}

func TestSlotReleasedBeforeTerminalSignal(t *testing.T) {
	t.Parallel()
	slot := NewSlot()
	var activeAtTerminal *Worker
	var w *Worker
	w = New("", LauncherFunc(func(context.Context, string, func()) error { return nil }), slot, func(s Signal) {
		if s.Kind.IsTerminal() {
			activeAtTerminal = slot.Active()
		}
	})
	w.Run()

	if activeAtTerminal != nil {
		t.Error("expected slot to be free when terminal signal is emitted")
	}
}

func TestStopBeforeRunSkipsLaunch(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	called := false
	w := New("", LauncherFunc(func(context.Context, string, func()) error {
		called = true
		return nil
	}), NewSlot(), rec.emit)

	w.RequestStop()
	w.Run()

	if called {
		t.Error("expected launcher to be skipped")
	}
	if got := rec.last(); got.Kind != KindTerminated {
		t.Fatalf("expected terminated, got %v", got)
	}
}

func TestStatusString(t *testing.T) {
	tests := map[Status]string{
		StatusNotStarted: "not-started",
		StatusRunning:    "running",
		StatusTerminated: "terminated",
		StatusCrashed:    "crashed",
		Status(42):       "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", s, got, want)
		}
	}
}
