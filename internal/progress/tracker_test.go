package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/meetscribe/voice-service/internal/model"
)

type eventSink struct {
	mu     sync.Mutex
	events []model.ProgressEvent
}

func (s *eventSink) publish(ev model.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *eventSink) snapshot() []model.ProgressEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ProgressEvent, len(s.events))
	copy(out, s.events)
	return out
}

func fastOptions() Options {
	return Options{
		MinStep:   time.Millisecond,
		MaxStep:   2 * time.Millisecond,
		DrainStep: time.Millisecond,
	}
}

func waitTerminal(t *testing.T, sink *eventSink, timeout time.Duration) []model.ProgressEvent {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		events := sink.snapshot()
		if len(events) > 0 {
			last := events[len(events)-1]
			if last.Status != model.StateProcessing {
				return events
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no terminal event within %s; events: %v", timeout, sink.snapshot())
	return nil
}

func TestMonotoneUnderFlappingTargets(t *testing.T) {
	sink := &eventSink{}
	tr := NewTracker("f1", sink.publish, fastOptions())
	defer tr.Close()

	// 原始进度抖动序列，30 是回退值
	for _, p := range []int{5, 40, 30, 70} {
		tr.SetTarget(p, model.StateProcessing, "working", 0)
		time.Sleep(20 * time.Millisecond)
	}
	tr.SetTarget(100, model.StateCompleted, "done", 0)

	events := waitTerminal(t, sink, 2*time.Second)

	prev := -1
	for _, ev := range events {
		if ev.Progress < prev {
			t.Fatalf("progress regressed: %d after %d", ev.Progress, prev)
		}
		prev = ev.Progress
	}

	last := events[len(events)-1]
	if last.Status != model.StateCompleted || last.Progress != 100 {
		t.Fatalf("last event must be completed@100, got %+v", last)
	}
}

func TestTerminalEventExactlyOnceAndLast(t *testing.T) {
	sink := &eventSink{}
	tr := NewTracker("f1", sink.publish, fastOptions())

	tr.SetTarget(50, model.StateProcessing, "working", 0)
	time.Sleep(30 * time.Millisecond)
	tr.SetTarget(100, model.StateCompleted, "done", 0)

	events := waitTerminal(t, sink, 2*time.Second)
	tr.Close()
	time.Sleep(20 * time.Millisecond)

	terminals := 0
	for i, ev := range events {
		if ev.Status == model.StateCompleted {
			terminals++
			if i != len(events)-1 {
				t.Fatalf("terminal event not last: index %d of %d", i, len(events))
			}
		}
	}
	if terminals != 1 {
		t.Fatalf("expected exactly one terminal event, got %d", terminals)
	}

	// Close 之后不得再有事件
	if after := sink.snapshot(); len(after) != len(events) {
		t.Fatalf("events emitted after terminal: %d -> %d", len(events), len(after))
	}
}

func TestNoDuplicateTicks(t *testing.T) {
	sink := &eventSink{}
	tr := NewTracker("f1", sink.publish, fastOptions())
	defer tr.Close()

	tr.SetTarget(10, model.StateProcessing, "working", 0)
	time.Sleep(100 * time.Millisecond)
	// 重复投递同一目标不得产生重复事件
	tr.SetTarget(10, model.StateProcessing, "working", 0)
	time.Sleep(50 * time.Millisecond)

	seen := make(map[int]int)
	for _, ev := range sink.snapshot() {
		seen[ev.Progress]++
		if seen[ev.Progress] > 1 {
			t.Fatalf("duplicate tick for progress %d", ev.Progress)
		}
	}
}

func TestTerminateSkipsInterpolation(t *testing.T) {
	sink := &eventSink{}
	tr := NewTracker("f1", sink.publish, fastOptions())

	tr.SetTarget(60, model.StateProcessing, "working", 0)
	time.Sleep(20 * time.Millisecond)

	// 取消路径：直接发一条回退到 uploaded 的终态事件
	tr.Terminate(model.StateUploaded, 0, "cancelled")

	events := sink.snapshot()
	if len(events) == 0 {
		t.Fatal("expected events")
	}
	last := events[len(events)-1]
	if last.Status != model.StateUploaded || last.Progress != 0 {
		t.Fatalf("expected uploaded@0 terminal, got %+v", last)
	}

	// 幂等：重复 Terminate 不再发事件
	tr.Terminate(model.StateUploaded, 0, "cancelled")
	if after := sink.snapshot(); len(after) != len(events) {
		t.Fatalf("second Terminate emitted events")
	}
}

func TestCloseWithoutEvents(t *testing.T) {
	sink := &eventSink{}
	tr := NewTracker("f1", sink.publish, fastOptions())
	tr.Close()

	select {
	case <-tr.Done():
	case <-time.After(time.Second):
		t.Fatal("tracker goroutine did not stop")
	}
	if events := sink.snapshot(); len(events) != 0 {
		t.Fatalf("Close must not emit events, got %v", events)
	}
}

func TestStepSleepClamped(t *testing.T) {
	opts := DefaultOptions()
	tr := &Tracker{opts: opts, current: 0, target: 100, etaMillis: 100}
	// eta 很小：钳到下限
	if got := tr.stepSleepLocked(); got != opts.MinStep {
		t.Fatalf("expected MinStep, got %s", got)
	}
	tr.etaMillis = 10 * 60 * 1000
	// eta 很大：钳到上限
	if got := tr.stepSleepLocked(); got != opts.MaxStep {
		t.Fatalf("expected MaxStep, got %s", got)
	}
	tr.draining = true
	if got := tr.stepSleepLocked(); got != opts.DrainStep {
		t.Fatalf("expected DrainStep while draining, got %s", got)
	}
}
