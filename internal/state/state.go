// Package state holds the single mutually exclusive region shared by the
// dispatcher, the supervisor, and the event-socket task: the running
// supervisor's handle, the flag that signals it to stop, the "data ready"
// output line, and the event queue. No lock is ever held across a
// link-layer call or a child-process wait; callers take the lock only for
// short, well-bounded critical sections.
package state

import (
	"sync"

	"github.com/spaceteam/edu-scheduler/internal/eventqueue"
)

// Supervisor is the subset of the supervisor's lifecycle the shared state
// needs to observe: whether it has finished, and how to wait for it.
type Supervisor interface {
	// Finished reports whether the student execution has completed.
	Finished() bool
	// Join blocks until the supervisor task has finished, re-raising any
	// panic it recovered from as an error.
	Join() error
}

// SharedState is the process-global mutually exclusive region.
type SharedState struct {
	mu          sync.Mutex
	supervisor  Supervisor
	keepRunning bool
	Queue       *eventqueue.Queue
}

// New returns a SharedState with no supervisor running.
func New(queue *eventqueue.Queue) *SharedState {
	return &SharedState{Queue: queue}
}

// CurrentSupervisor returns the running supervisor, if any.
func (s *SharedState) CurrentSupervisor() (Supervisor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.supervisor, s.supervisor != nil
}

// SetSupervisor installs sup as the running supervisor and marks the
// program as running. Called by the Execute Program handler once the
// supervisor task has been spawned.
func (s *SharedState) SetSupervisor(sup Supervisor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supervisor = sup
	s.keepRunning = true
}

// ClearSupervisor removes the running supervisor, marking the program as
// no longer running. Called by the dispatcher's termination routine once it
// has joined a finished supervisor. The supervisor does not clear its own
// slot: a supervisor that finishes on its own stays recorded until the next
// Stop Program or Execute Program command.
func (s *SharedState) ClearSupervisor() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supervisor = nil
}

// RequestStop clears the keep-running flag, the signal a running
// supervisor polls for between per-second child waits. The flag is cleared
// whether or not a supervisor is recorded; SetSupervisor sets it again for
// the next execution.
func (s *SharedState) RequestStop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keepRunning = false
}

// ShouldKeepRunning reports whether the supervisor has not yet been asked
// to stop.
func (s *SharedState) ShouldKeepRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keepRunning
}
