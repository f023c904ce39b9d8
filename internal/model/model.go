// Package model defines the entities shared by the event queue, the
// supervisor, and the command handlers: program identity, exit status, and
// the four kinds of durable event the scheduler tracks.
package model

// ProgramID identifies a student program, as assigned by the OBC.
type ProgramID uint16

// Timestamp is seconds since an OBC-chosen epoch.
type Timestamp uint32

// ExitCode is a student program's exit status. ExitKilled is reserved for
// a program that was killed or exited abnormally.
type ExitCode uint8

// ExitKilled marks a program that timed out, was stopped, or otherwise did
// not exit normally.
const ExitKilled ExitCode = 255

// ProgramStatus records the outcome of one execution.
type ProgramStatus struct {
	ProgramID ProgramID
	Timestamp Timestamp
	ExitCode  ExitCode
}

// ResultID identifies an on-disk result bundle.
type ResultID struct {
	ProgramID ProgramID
	Timestamp Timestamp
}

// EventKind tags the four kinds of Event. The numeric values are part of
// the Get Status wire contract (see internal/command) and must not change.
type EventKind uint8

const (
	EventStatus           EventKind = 1
	EventResult           EventKind = 2
	EventEnableDosimeter  EventKind = 3
	EventDisableDosimeter EventKind = 4
)

// Event is a tagged union over the four event kinds the scheduler can
// enqueue. Only the field matching Kind is meaningful.
type Event struct {
	Kind   EventKind
	Status ProgramStatus
	Result ResultID
}

// StatusEvent builds an Event wrapping a ProgramStatus.
func StatusEvent(s ProgramStatus) Event {
	return Event{Kind: EventStatus, Status: s}
}

// ResultEvent builds an Event wrapping a ResultID.
func ResultEvent(r ResultID) Event {
	return Event{Kind: EventResult, Result: r}
}

// EnableDosimeterEvent builds an EnableDosimeter Event.
func EnableDosimeterEvent() Event {
	return Event{Kind: EventEnableDosimeter}
}

// DisableDosimeterEvent builds a DisableDosimeter Event.
func DisableDosimeterEvent() Event {
	return Event{Kind: EventDisableDosimeter}
}

// MaxRetries is the retry budget a freshly queued RetryEvent starts with.
const MaxRetries uint32 = 5

// RetryEvent wraps an Event with its remaining retry budget, in
// [0, MaxRetries].
type RetryEvent struct {
	Event            Event
	RetriesRemaining uint32
}

// NewRetryEvent wraps e with a full retry budget.
func NewRetryEvent(e Event) RetryEvent {
	return RetryEvent{Event: e, RetriesRemaining: MaxRetries}
}
