package eventqueue

import (
	"path/filepath"
	"testing"

	"github.com/spaceteam/edu-scheduler/internal/ioline"
	"github.com/spaceteam/edu-scheduler/internal/model"
)

func open(t *testing.T) (*Queue, *ioline.Sim) {
	t.Helper()
	line := ioline.NewSim()
	q, err := Open(filepath.Join(t.TempDir(), "events.db"), line)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q, line
}

func TestPushRaisesLine(t *testing.T) {
	q, line := open(t)

	if line.High() {
		t.Fatalf("line should start low on an empty queue")
	}
	if err := q.Push(model.EnableDosimeterEvent()); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if !line.High() {
		t.Fatalf("line should be high once an event is queued")
	}
}

func TestAppendExecutionOutcomeOrdersStatusBeforeResult(t *testing.T) {
	q, _ := open(t)

	status := model.ProgramStatus{ProgramID: 1, Timestamp: 100, ExitCode: 0}
	result := model.ResultID{ProgramID: 1, Timestamp: 100}
	if err := q.AppendExecutionOutcome(status, result); err != nil {
		t.Fatalf("AppendExecutionOutcome: %v", err)
	}

	items := q.Items()
	if len(items) != 2 {
		t.Fatalf("want 2 items, got %d", len(items))
	}
	if items[0].Event.Kind != model.EventStatus {
		t.Fatalf("first event should be Status, got kind %d", items[0].Event.Kind)
	}
	if items[1].Event.Kind != model.EventResult {
		t.Fatalf("second event should be Result, got kind %d", items[1].Event.Kind)
	}
}

func TestPollPrefersStatusEvents(t *testing.T) {
	q, _ := open(t)

	if err := q.Push(model.ResultEvent(model.ResultID{ProgramID: 1, Timestamp: 1})); err != nil {
		t.Fatal(err)
	}
	if err := q.Push(model.StatusEvent(model.ProgramStatus{ProgramID: 2, Timestamp: 2})); err != nil {
		t.Fatal(err)
	}

	ev, ok, err := q.Poll()
	if err != nil || !ok {
		t.Fatalf("Poll: %v, ok=%v", err, ok)
	}
	if ev.Kind != model.EventStatus {
		t.Fatalf("expected Status to be selected first, got kind %d", ev.Kind)
	}
	if q.Len() != 1 {
		t.Fatalf("want 1 item remaining, got %d", q.Len())
	}
}

func TestPollRetainsResultUntilRetriesExhausted(t *testing.T) {
	q, line := open(t)

	rid := model.ResultID{ProgramID: 3, Timestamp: 9}
	if err := q.Push(model.ResultEvent(rid)); err != nil {
		t.Fatal(err)
	}

	for i := uint32(0); i < model.MaxRetries-1; i++ {
		ev, ok, err := q.Poll()
		if err != nil || !ok {
			t.Fatalf("Poll iteration %d: %v, ok=%v", i, err, ok)
		}
		if ev.Kind != model.EventResult || ev.Result != rid {
			t.Fatalf("Poll iteration %d: unexpected event %+v", i, ev)
		}
		if q.Len() != 1 {
			t.Fatalf("Poll iteration %d: result should remain queued, len=%d", i, q.Len())
		}
	}

	// Final poll exhausts the budget and removes the entry.
	ev, ok, err := q.Poll()
	if err != nil || !ok || ev.Kind != model.EventResult {
		t.Fatalf("final Poll: %v, ok=%v, ev=%+v", err, ok, ev)
	}
	if q.Len() != 0 {
		t.Fatalf("want queue empty after exhausting retries, got %d", q.Len())
	}
	if line.High() {
		t.Fatalf("line should drop once queue empties")
	}
}

func TestPollEmptyQueue(t *testing.T) {
	q, _ := open(t)

	_, ok, err := q.Poll()
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if ok {
		t.Fatalf("Poll on empty queue should report ok=false")
	}
}

func TestRemoveResult(t *testing.T) {
	q, line := open(t)

	rid := model.ResultID{ProgramID: 4, Timestamp: 40}
	if err := q.Push(model.ResultEvent(rid)); err != nil {
		t.Fatal(err)
	}

	found, err := q.RemoveResult(rid)
	if err != nil {
		t.Fatalf("RemoveResult: %v", err)
	}
	if !found {
		t.Fatalf("expected to find the result event")
	}
	if q.Len() != 0 {
		t.Fatalf("want queue empty, got %d", q.Len())
	}
	if line.High() {
		t.Fatalf("line should drop once queue empties")
	}

	found, err = q.RemoveResult(rid)
	if err != nil {
		t.Fatalf("RemoveResult (already gone): %v", err)
	}
	if found {
		t.Fatalf("expected no-op when the result is already gone")
	}
}

func TestReopenPreservesQueue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	line := ioline.NewSim()

	q, err := Open(path, line)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	status := model.ProgramStatus{ProgramID: 7, Timestamp: 70, ExitCode: 0}
	result := model.ResultID{ProgramID: 7, Timestamp: 70}
	if err := q.AppendExecutionOutcome(status, result); err != nil {
		t.Fatal(err)
	}
	if err := q.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path, ioline.NewSim())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if reopened.Len() != 2 {
		t.Fatalf("want 2 items after reopen, got %d", reopened.Len())
	}
}
