// Package eventqueue implements the durable, ordered queue of pending
// RetryEvents and keeps the "data ready" output line consistent with it:
// the line is high if and only if the queue is non-empty.
package eventqueue

import (
	"fmt"
	"sync"

	"github.com/spaceteam/edu-scheduler/internal/ioline"
	"github.com/spaceteam/edu-scheduler/internal/model"
	"github.com/spaceteam/edu-scheduler/internal/pseq"
)

// Queue is the persistent event queue described by the data model. It is
// safe for concurrent use.
type Queue struct {
	mu   sync.Mutex
	seq  *pseq.Sequence[model.RetryEvent]
	line ioline.Line
}

// Open opens (or creates) the queue's backing file at path and brings line
// up to date with its initial contents.
func Open(path string, line ioline.Line) (*Queue, error) {
	seq, err := pseq.Open[model.RetryEvent](path)
	if err != nil {
		return nil, fmt.Errorf("eventqueue: open: %w", err)
	}
	q := &Queue{seq: seq, line: line}
	if err := q.syncLineLocked(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) syncLineLocked() error {
	return q.line.Set(len(q.seq.Items()) > 0)
}

// Close closes the backing store.
func (q *Queue) Close() error {
	return q.seq.Close()
}

// Len returns the number of pending events.
func (q *Queue) Len() int {
	return q.seq.Len()
}

// Items returns a snapshot of the pending events, oldest first.
func (q *Queue) Items() []model.RetryEvent {
	return q.seq.Items()
}

// Push enqueues a single event with a full retry budget, raising the
// "data ready" line. Used for asynchronously generated events such as
// EnableDosimeter/DisableDosimeter arriving over the local event socket.
func (q *Queue) Push(e model.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.seq.Push(model.NewRetryEvent(e)); err != nil {
		return fmt.Errorf("eventqueue: push: %w", err)
	}
	return q.syncLineLocked()
}

// AppendExecutionOutcome enqueues the Status event followed by the Result
// event for one completed execution, atomically with respect to other
// queue operations and to the "data ready" line. This is the ordering
// invariant the supervisor depends on: Status always precedes its matching
// Result.
func (q *Queue) AppendExecutionOutcome(status model.ProgramStatus, result model.ResultID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	events := []model.RetryEvent{
		model.NewRetryEvent(model.StatusEvent(status)),
		model.NewRetryEvent(model.ResultEvent(result)),
	}
	if err := q.seq.Extend(events); err != nil {
		return fmt.Errorf("eventqueue: append execution outcome: %w", err)
	}
	return q.syncLineLocked()
}

// Poll implements the Get Status selection rule: if any Status event is
// queued, the earliest one is returned and removed. Otherwise the earliest
// event is returned; if it is a Result event it remains queued with its
// retry budget decremented (removed once exhausted), and any other kind is
// removed outright. ok is false only when the queue was empty.
func (q *Queue) Poll() (event model.Event, ok bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	g := q.seq.Mutate()
	items := g.Items()

	if len(*items) == 0 {
		g.Close()
		return model.Event{}, false, nil
	}

	if idx := indexOfStatus(*items); idx >= 0 {
		event = (*items)[idx].Event
		*items = append((*items)[:idx:idx], (*items)[idx+1:]...)
		if err := g.Flush(); err != nil {
			return model.Event{}, false, fmt.Errorf("eventqueue: poll: %w", err)
		}
		return event, true, q.syncLineLocked()
	}

	head := (*items)[0]
	event = head.Event
	if head.Event.Kind == model.EventResult {
		head.RetriesRemaining--
		if head.RetriesRemaining == 0 {
			*items = (*items)[1:]
		} else {
			(*items)[0] = head
		}
	} else {
		*items = (*items)[1:]
	}

	if err := g.Flush(); err != nil {
		return model.Event{}, false, fmt.Errorf("eventqueue: poll: %w", err)
	}
	return event, true, q.syncLineLocked()
}

func indexOfStatus(items []model.RetryEvent) int {
	for i, it := range items {
		if it.Event.Kind == model.EventStatus {
			return i
		}
	}
	return -1
}

// RemoveResult removes the first Result event matching rid, if any. found
// is false when no such entry exists (a self-healing no-op: the bundle is
// still deleted by the caller, but there is nothing left to remove from the
// queue, which can legitimately happen if a concurrent Poll already retired
// the entry).
func (q *Queue) RemoveResult(rid model.ResultID) (found bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	g := q.seq.Mutate()
	items := g.Items()

	for i, it := range *items {
		if it.Event.Kind == model.EventResult && it.Event.Result == rid {
			*items = append((*items)[:i:i], (*items)[i+1:]...)
			if err := g.Flush(); err != nil {
				return false, fmt.Errorf("eventqueue: remove result: %w", err)
			}
			return true, q.syncLineLocked()
		}
	}
	g.Close()
	return false, nil
}
